// Package rooms is a client-side chat abstraction over a realtime
// pub/sub transport. A Registry hands out named Rooms; each Room
// aggregates independently attachable features (messages, presence,
// typing indicators, reactions, occupancy) under one lifecycle and
// multiplexes them over a small set of transport channels.
//
// The transport is pluggable through the realtime package: rtmem provides
// an in-process loopback hub, rtws a websocket client.
package rooms
