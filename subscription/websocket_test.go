package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cricline/cricsync/logger"
	"github.com/cricline/cricsync/types"
)

func pushServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/match-") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("client") == "" {
			t.Errorf("missing client id")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketChannelDeliversFrames(t *testing.T) {
	server := pushServer(t, []string{
		`{"type":"heartbeat","timestamp":1}`,
		`{"type":"initial","data":{"score":"10/0"},"timestamp":2}`,
		`{"type":"update","data":{"score":"14/0"},"timestamp":3}`,
	})
	defer server.Close()

	channel := NewWebSocketChannel(logger.NewNop(), &WebSocketChannelConfig{URL: wsURL(server)})
	defer channel.Close()

	if err := channel.Connect(context.Background(), "match-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Heartbeats never reach the consumer; the first visible frame is the
	// initial snapshot.
	frame := recvFrame(t, channel)
	if frame.Type != types.FrameInitial {
		t.Fatalf("expected initial frame, got %s", frame.Type)
	}

	frame = recvFrame(t, channel)
	if frame.Type != types.FrameUpdate {
		t.Fatalf("expected update frame, got %s", frame.Type)
	}
	data, ok := frame.Data.(map[string]interface{})
	if !ok || data["score"] != "14/0" {
		t.Fatalf("unexpected frame data: %v", frame.Data)
	}
}

func TestWebSocketChannelServerError(t *testing.T) {
	server := pushServer(t, []string{
		`{"type":"error","error":"stream terminated","timestamp":1}`,
	})
	defer server.Close()

	channel := NewWebSocketChannel(logger.NewNop(), &WebSocketChannelConfig{URL: wsURL(server)})
	defer channel.Close()

	if err := channel.Connect(context.Background(), "match-2"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case err := <-channel.Errors():
		if err == nil || !strings.Contains(err.Error(), "stream terminated") {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error reported for server error frame")
	}
}

func TestWebSocketChannelConnectFailure(t *testing.T) {
	channel := NewWebSocketChannel(logger.NewNop(), &WebSocketChannelConfig{
		URL:              "ws://127.0.0.1:1",
		HandshakeTimeout: 200 * time.Millisecond,
	})

	if err := channel.Connect(context.Background(), "match-3"); err == nil {
		t.Fatalf("expected connect failure")
	}
}

func recvFrame(t *testing.T, channel *WebSocketChannel) *types.PushFrame {
	t.Helper()
	select {
	case frame, ok := <-channel.Messages():
		if !ok {
			t.Fatalf("messages channel closed unexpectedly")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}
