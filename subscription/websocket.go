package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

type WebSocketChannelConfig struct {
	URL              string        `yaml:"url" json:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	PongWait         time.Duration `yaml:"pong_wait" json:"pong_wait"`
	PingInterval     time.Duration `yaml:"ping_interval" json:"ping_interval"`
}

// WebSocketChannel is the push-channel transport for live resources: one
// connection per resource, server-to-client frames only. Reconnection is
// the orchestrator's job; a channel instance connects exactly once.
type WebSocketChannel struct {
	config   *WebSocketChannelConfig
	logger   types.Logger
	conn     *websocket.Conn
	messages chan *types.PushFrame
	errs     chan error
	cancel   context.CancelFunc
	closed   sync.Once
	clientID string
}

func NewWebSocketChannel(logger types.Logger, config *WebSocketChannelConfig) *WebSocketChannel {
	cfg := &WebSocketChannelConfig{
		HandshakeTimeout: 10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     54 * time.Second,
	}
	if config != nil {
		if config.URL != "" {
			cfg.URL = config.URL
		}
		if config.HandshakeTimeout > 0 {
			cfg.HandshakeTimeout = config.HandshakeTimeout
		}
		if config.PongWait > 0 {
			cfg.PongWait = config.PongWait
		}
		if config.PingInterval > 0 {
			cfg.PingInterval = config.PingInterval
		}
	}

	return &WebSocketChannel{
		config:   cfg,
		logger:   logger,
		messages: make(chan *types.PushFrame, 64),
		errs:     make(chan error, 1),
		clientID: uuid.NewString(),
	}
}

func (w *WebSocketChannel) Connect(ctx context.Context, resourceID string) error {
	dialCtx, cancelDial := context.WithTimeout(ctx, w.config.HandshakeTimeout)
	defer cancelDial()

	url := w.config.URL + "/" + resourceID + "?client=" + w.clientID

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return types.WrapError(err, "failed to dial push channel")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.conn = conn
	w.cancel = cancel

	_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
		return nil
	})

	go w.readPump(runCtx)
	go w.pingLoop(runCtx)

	w.logger.Debug("Push channel connected",
		zap.String("resource", resourceID),
		zap.String("url", w.config.URL))

	return nil
}

func (w *WebSocketChannel) Messages() <-chan *types.PushFrame {
	return w.messages
}

func (w *WebSocketChannel) Errors() <-chan error {
	return w.errs
}

func (w *WebSocketChannel) Close() error {
	var err error
	w.closed.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if w.conn != nil {
			err = w.conn.Close()
		}
	})
	return err
}

func (w *WebSocketChannel) readPump(ctx context.Context) {
	defer close(w.messages)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				w.reportError(types.WrapError(err, "push channel read failed"))
			}
			return
		}

		var frame types.PushFrame
		if err := utils.Unmarshal(data, &frame); err != nil {
			w.logger.Debug("Dropping malformed push frame", zap.Error(err))
			continue
		}

		// Heartbeats only refresh the read deadline, which ReadMessage
		// already did; consumers never see them.
		if frame.Type == types.FrameHeartbeat {
			continue
		}

		if frame.Type == types.FrameError {
			w.reportError(types.NewErrorf("push channel server error: %s", frame.Error))
			return
		}

		select {
		case w.messages <- &frame:
		case <-ctx.Done():
			return
		}
	}
}

func (w *WebSocketChannel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.config.HandshakeTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.reportError(types.WrapError(err, "push channel ping failed"))
				return
			}
		}
	}
}

func (w *WebSocketChannel) reportError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
