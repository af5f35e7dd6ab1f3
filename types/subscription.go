package types

import (
	"context"
	"time"
)

type ConnectionStatus int32

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
	StatusReconnecting
	StatusFallbackPolling
	StatusSuspended
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFallbackPolling:
		return "fallback-polling"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

type PushFrameType string

const (
	FrameInitial   PushFrameType = "initial"
	FrameUpdate    PushFrameType = "update"
	FrameError     PushFrameType = "error"
	FrameHeartbeat PushFrameType = "heartbeat"
)

// PushFrame is one framed message off the push channel.
type PushFrame struct {
	Type      PushFrameType `json:"type"`
	Data      interface{}   `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"`
	MessageID string        `json:"message_id,omitempty"`
}

// PushChannel is a unidirectional server-to-client stream for one resource.
// The concrete transport (websocket, long-lived HTTP stream, simulated
// polling) is an implementation detail behind this contract.
type PushChannel interface {
	Connect(ctx context.Context, resourceID string) error
	Messages() <-chan *PushFrame
	Errors() <-chan error
	Close() error
}

type PushChannelCreator func(config interface{}) (PushChannel, error)

// Snapshot is what a subscription publishes downstream: the current value
// plus connection status. Err is set only after the local retry budget for
// the resource is exhausted.
type Snapshot struct {
	Data      interface{}
	Status    ConnectionStatus
	Stale     bool
	Err       error
	Timestamp time.Time
}

// Subscription is the per-resource reactive facade composing the cache,
// the coordinator and, for live resources, a push channel with polling
// fallback.
type Subscription interface {
	Updates() <-chan Snapshot
	Refresh() error
	SetVisible(visible bool)
	SetOnline(online bool)
	Status() ConnectionStatus
	Close() error
}

// PaginationResult is one page of older commentary history. An empty Items
// slice is the defined "no more history" signal.
type PaginationResult struct {
	Items     []CommentaryItem `json:"items"`
	Timestamp int64            `json:"timestamp"`
}

type PaginationFunc func(ctx context.Context, resourceID string, beforeTimestamp int64, inningsID int) (*PaginationResult, error)
