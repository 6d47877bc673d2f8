package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-rooms/internal/config"
	"github.com/vovakirdan/wirechat-rooms/internal/logutil"
	"github.com/vovakirdan/wirechat-rooms/realtime"
	"github.com/vovakirdan/wirechat-rooms/realtime/rtmem"
	"github.com/vovakirdan/wirechat-rooms/realtime/rtws"
	"github.com/vovakirdan/wirechat-rooms/rooms"
)

var (
	cfgFile string
	cfg     config.Config
)

// rootCmd joins a room and bridges stdin lines to room messages. With no
// ws_url configured it runs against an in-process loopback hub, which is
// enough to watch the SDK's lifecycle and typing behavior.
var rootCmd = &cobra.Command{
	Use:   "roomchat",
	Short: "join a chat room over a realtime transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.Flags().StringVar(&cfg.WSURL, "ws-url", "", "websocket endpoint (empty: loopback)")
	rootCmd.Flags().StringVar(&cfg.Room, "room", "", "room name")
	rootCmd.Flags().StringVar(&cfg.User, "user", "", "client id")
	rootCmd.Flags().StringVar(&cfg.LogLevel, "level", "", "log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := logutil.New(cfg.LogLevel)

	loaded, path, err := config.Load(logger, cfgFile)
	if err != nil {
		return err
	}
	loaded.UpdateFrom(cfg)
	cfg = loaded
	logger = logutil.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")

	if cfg.User == "" {
		cfg.User = "guest-" + uuid.NewString()[:8]
	}

	client, cleanup, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := rooms.NewRegistry(client, logger)
	room, err := registry.Get(ctx, cfg.Room, rooms.RoomOptions{
		Typing: rooms.TypingOptions{Timeout: cfg.TypingTimeout},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Release(context.Background(), cfg.Room); err != nil {
			logger.Warn().Err(err).Msg("room release failed")
		}
	}()

	room.OnStatusChange(func(sc rooms.StatusChange) {
		logger.Info().Str("from", sc.Previous.String()).Str("to", sc.Current.String()).Msg("room status")
	})
	room.Messages().Subscribe(func(ev *rooms.MessageEvent) {
		msg := ev.Message
		if msg.IsDeleted() {
			fmt.Printf("[%s] (deleted)\n", msg.ClientID)
			return
		}
		fmt.Printf("[%s] %s\n", msg.ClientID, msg.Text)
	})
	room.Typing().Subscribe(func(ev rooms.TypingEvent) {
		if len(ev.Currently) > 0 {
			fmt.Printf("-- typing: %s\n", strings.Join(ev.Currently, ", "))
		}
	})
	room.Presence().Subscribe(func(ev realtime.PresenceEvent) {
		fmt.Printf("-- %s %s\n", ev.ClientID, ev.Action)
	})

	if err := room.Attach(ctx); err != nil {
		return err
	}
	if err := room.Presence().Enter(ctx, nil); err != nil {
		return err
	}

	fmt.Printf("joined %q as %s, type to chat, ctrl-d to quit\n", cfg.Room, cfg.User)
	return readInput(ctx, room)
}

// connect picks the transport: websocket when an endpoint is configured,
// otherwise an in-process loopback hub.
func connect(ctx context.Context, logger *zerolog.Logger) (realtime.Client, func(), error) {
	if cfg.WSURL == "" {
		hub := rtmem.NewHub(logger)
		conn := hub.Connect(cfg.User)
		return conn, func() { _ = conn.Close(context.Background()) }, nil
	}
	client, err := rtws.Dial(ctx, rtws.Options{URL: cfg.WSURL, ClientID: cfg.User, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close(context.Background()) }, nil
}

func readInput(ctx context.Context, room *rooms.Room) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := room.Typing().Stop(ctx); err != nil {
				return err
			}
			if _, err := room.Messages().Send(ctx, rooms.SendParams{Text: line}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
