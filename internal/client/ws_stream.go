package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendTimeout      = 5 * time.Second
)

// WebSocketDialer opens delivery channel connections to the portal /ws
// endpoint with a bearer token.
type WebSocketDialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

func NewWebSocketDialer(rawURL string, token string) (*WebSocketDialer, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("channel url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid channel url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("invalid channel url scheme %q", parsed.Scheme)
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("access token is required")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

	return &WebSocketDialer{
		url:    trimmed,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}, nil
}

// Dial connects and returns a stream that closes itself when ctx is done.
func (d *WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: channel handshake rejected", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: dial channel: %v", domain.ErrTransport, err)
	}

	s := &wsStream{conn: conn}
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	stop func() bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Receive returns the next well-formed event. Malformed frames are skipped.
func (s *wsStream) Receive(ctx context.Context) (channel.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return channel.Event{}, err
		}

		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			return channel.Event{}, fmt.Errorf("%w: read channel: %v", domain.ErrTransport, err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := channel.DecodeEvent(raw)
		if err != nil {
			continue
		}
		return event, nil
	}
}

func (s *wsStream) Send(ctx context.Context, event channel.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode channel event: %w", err)
	}

	deadline := time.Now().Add(defaultSendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write channel: %v", domain.ErrTransport, err)
	}
	return nil
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if closeErr := s.conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
	})
	return err
}
