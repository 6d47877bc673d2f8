// Package rtws is a websocket-backed realtime transport client speaking
// the wsproto JSON envelope.
package rtws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/internal/wsproto"
	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// Options configure a Dial.
type Options struct {
	// URL is the websocket endpoint, e.g. "wss://host/ws".
	URL string
	// ClientID identifies this client on the wire.
	ClientID string
	// Logger for transport diagnostics; nil disables logging.
	Logger *zerolog.Logger
}

// Client is one websocket connection to the realtime service. Requests
// are correlated to acks by id; unsolicited frames are routed to channel
// subscribers on per-channel dispatch goroutines.
type Client struct {
	conn     *websocket.Conn
	clientID string
	log      zerolog.Logger

	mu       sync.Mutex
	channels map[string]*Channel
	pending  map[string]chan *wsproto.Response

	writes    chan *wsproto.Request
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects, introduces the client and starts the read/write loops.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("rtws: URL is required")
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("rtws: ClientID is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	conn, _, err := websocket.Dial(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("rtws: dial %s: %w", opts.URL, err)
	}

	c := &Client{
		conn:     conn,
		clientID: opts.ClientID,
		log:      log.With().Str("component", "rtws").Logger(),
		channels: make(map[string]*Channel),
		pending:  make(map[string]chan *wsproto.Response),
		writes:   make(chan *wsproto.Request, 16),
		closed:   make(chan struct{}),
	}

	hello, err := json.Marshal(wsproto.HelloData{ClientID: opts.ClientID, Protocol: wsproto.ProtocolVersion})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "hello encode")
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, &wsproto.Request{Type: wsproto.TypeHello, Data: hello}); err != nil {
		conn.Close(websocket.StatusInternalError, "hello write")
		return nil, fmt.Errorf("rtws: hello: %w", err)
	}

	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// ClientID implements realtime.Client.
func (c *Client) ClientID() string { return c.clientID }

// Channel implements realtime.Client.
func (c *Client) Channel(name string, opts realtime.ChannelOptions) (realtime.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		for k, v := range opts.Params {
			if have, exists := ch.params[k]; !exists || have != v {
				return nil, fmt.Errorf("rtws: channel %q already requested with different options", name)
			}
		}
		return ch, nil
	}
	ch := newChannel(c, name, opts.Params)
	c.channels[name] = ch
	return ch, nil
}

// Close implements realtime.Client.
func (c *Client) Close(ctx context.Context) error {
	c.teardown(nil)
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (c *Client) teardown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		if c.closeErr == nil {
			c.closeErr = errors.New("rtws: connection closed")
		}
		close(c.closed)

		c.mu.Lock()
		chans := make([]*Channel, 0, len(c.channels))
		for _, ch := range c.channels {
			chans = append(chans, ch)
		}
		c.mu.Unlock()
		for _, ch := range chans {
			ch.stop()
		}
	})
}

// request sends req and waits for the matching ack.
func (c *Client) request(ctx context.Context, req *wsproto.Request) (*wsproto.Response, error) {
	req.ID = uuid.NewString()
	ack := make(chan *wsproto.Response, 1)

	c.mu.Lock()
	c.pending[req.ID] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	select {
	case c.writes <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.closeErr
	}

	select {
	case resp := <-ack:
		if resp.Type == wsproto.TypeError {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, errors.New("rtws: request rejected")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.closeErr
	}
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		var resp wsproto.Response
		if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
			if !errors.Is(err, io.EOF) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.log.Warn().Err(err).Msg("read loop ended")
			}
			c.teardown(err)
			return
		}

		if resp.ID != "" {
			c.mu.Lock()
			ack := c.pending[resp.ID]
			c.mu.Unlock()
			if ack != nil {
				ack <- &resp
			} else {
				c.log.Warn().Str("id", resp.ID).Msg("ack for unknown request")
			}
			continue
		}

		c.mu.Lock()
		ch := c.channels[resp.Channel]
		c.mu.Unlock()
		if ch == nil {
			c.log.Warn().Str("channel", resp.Channel).Str("type", resp.Type).Msg("event for unknown channel")
			continue
		}
		ch.handleFrame(&resp)
	}
}

func (c *Client) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case req := <-c.writes:
			if err := wsjson.Write(ctx, c.conn, req); err != nil {
				c.log.Error().Err(err).Str("type", req.Type).Msg("write failed")
				c.teardown(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}
