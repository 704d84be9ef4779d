package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	"github.com/kursadbilgin/rti-portal/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultSendBuffer   = 32
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
)

// Conn is the subset of a websocket connection the hub needs. Both the
// gorilla and fasthttp websocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Pusher delivers an event to every live connection of a user.
type Pusher interface {
	Publish(ctx context.Context, userID string, event Event) error
}

// InboundHandler receives client-to-server events from bound connections.
// The user id is the one bound at handshake, never one read from the payload.
type InboundHandler interface {
	HandleInbound(ctx context.Context, userID string, event Event) error
}

type InboundHandlerFunc func(ctx context.Context, userID string, event Event) error

func (f InboundHandlerFunc) HandleInbound(ctx context.Context, userID string, event Event) error {
	return f(ctx, userID, event)
}

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	// Limiter throttles inbound events per user. Nil disables limiting.
	Limiter ratelimit.RateLimiter
}

var _ Pusher = (*Hub)(nil)

// Hub routes events to the live connections of each user. It keeps no
// history: an event published while a user has no connection is dropped.
type Hub struct {
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	running bool
	users   map[string]map[*session]struct{}
	conns   map[Conn]*session
	inbound InboundHandler
}

type session struct {
	id     string
	userID string
	conn   Conn
	send   chan []byte
	done   chan struct{}
	// exited is closed when the write goroutine returns. Nothing touches
	// conn after that.
	exited chan struct{}
	once   sync.Once
}

func (s *session) close() bool {
	closed := false
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		closed = true
	})
	return closed
}

func NewHub(opts Options, logger *zap.Logger, metrics *observability.Metrics) (*Hub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}

	return &Hub{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		users:   make(map[string]map[*session]struct{}),
		conns:   make(map[Conn]*session),
	}, nil
}

// SetInboundHandler installs the receiver for client-to-server events.
func (h *Hub) SetInboundHandler(handler InboundHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbound = handler
}

func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.logger.Info("delivery hub started")
}

// Stop closes every connection and rejects further binds.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.running = false
	sessions := make([]*session, 0, len(h.conns))
	for _, s := range h.conns {
		sessions = append(sessions, s)
	}
	h.users = make(map[string]map[*session]struct{})
	h.conns = make(map[Conn]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		if s.close() {
			h.metrics.DecChannelConnections()
		}
	}
	h.logger.Info("delivery hub stopped", zap.Int("closedConnections", len(sessions)))
}

// Bind attaches conn to the routing group of userID. Binding the same
// connection to the same user again is a no-op.
func (h *Hub) Bind(conn Conn, userID string) error {
	_, err := h.bind(conn, userID)
	return err
}

func (h *Hub) bind(conn Conn, userID string) (*session, error) {
	userID = strings.TrimSpace(userID)
	if conn == nil {
		return nil, fmt.Errorf("%w: connection is required", domain.ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: delivery hub is not running", domain.ErrTransport)
	}
	if existing, ok := h.conns[conn]; ok {
		h.mu.Unlock()
		if existing.userID != userID {
			return nil, fmt.Errorf("%w: connection already bound to another user", domain.ErrConflict)
		}
		return existing, nil
	}

	s := &session{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	group, ok := h.users[userID]
	if !ok {
		group = make(map[*session]struct{})
		h.users[userID] = group
	}
	group[s] = struct{}{}
	h.conns[conn] = s
	h.mu.Unlock()

	h.metrics.IncChannelConnections()
	h.logger.Debug("connection bound",
		zap.String("sessionId", s.id),
		zap.String("userId", userID),
	)

	go h.writeLoop(s)
	return s, nil
}

// Unbind detaches and closes conn. Unknown connections are ignored.
func (h *Hub) Unbind(conn Conn) {
	h.mu.RLock()
	s, ok := h.conns[conn]
	h.mu.RUnlock()

	if ok {
		h.detach(s)
	}
}

// detach removes s from the routing tables only while s still owns its
// connection entry. A pooled connection may already be bound to a newer
// session that must stay routed.
func (h *Hub) detach(s *session) {
	h.mu.Lock()
	owned := h.conns[s.conn] == s
	if owned {
		delete(h.conns, s.conn)
		if group := h.users[s.userID]; group != nil {
			delete(group, s)
			if len(group) == 0 {
				delete(h.users, s.userID)
			}
		}
	}
	h.mu.Unlock()

	if s.close() {
		h.metrics.DecChannelConnections()
		h.logger.Debug("connection unbound",
			zap.String("sessionId", s.id),
			zap.String("userId", s.userID),
		)
	}
}

// ConnectionCount reports live connections for userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[strings.TrimSpace(userID)])
}

// Publish enqueues event on every connection bound to userID. A connection
// whose send buffer is full is dropped; the others are unaffected.
func (h *Hub) Publish(ctx context.Context, userID string, event Event) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", domain.ErrTransport, err)
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.users[userID]))
	for s := range h.users[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.metrics.IncPushEvent(event.Name, "no_listeners")
		return nil
	}

	var overflowed []*session
	for _, s := range targets {
		select {
		case <-s.done:
		case s.send <- payload:
			h.metrics.IncPushEvent(event.Name, "delivered")
		default:
			overflowed = append(overflowed, s)
		}
	}

	for _, s := range overflowed {
		h.metrics.IncPushEvent(event.Name, "dropped")
		h.logger.Warn("send buffer full, dropping connection",
			zap.String("sessionId", s.id),
			zap.String("userId", s.userID),
			zap.String("event", event.Name),
		)
		h.detach(s)
	}
	return nil
}

// PublishInbound hands a client event from a bound connection to the
// inbound handler under the connection's bound user.
func (h *Hub) PublishInbound(ctx context.Context, conn Conn, event Event) error {
	h.mu.RLock()
	s, ok := h.conns[conn]
	handler := h.inbound
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: connection is not bound", domain.ErrUnauthorized)
	}
	if handler == nil {
		return fmt.Errorf("%w: no handler for inbound event %q", domain.ErrValidation, event.Name)
	}
	return handler.HandleInbound(ctx, s.userID, event)
}

// Serve binds conn to userID and reads inbound events until the connection
// fails or ctx is cancelled. The connection is always unbound on return, and
// Serve does not return before the session's write goroutine has stopped:
// callers such as the fiber websocket handler recycle conn afterwards.
func (h *Hub) Serve(ctx context.Context, conn Conn, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := h.bind(conn, userID)
	if err != nil {
		return err
	}
	defer func() {
		h.detach(s)
		<-s.exited
	}()

	stop := context.AfterFunc(ctx, func() { h.detach(s) })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	log := observability.WithContextLogger(h.logger, ctx)
	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("connection closed unexpectedly", zap.Error(err))
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		h.handleFrame(ctx, log, conn, userID, raw)
	}
}

func (h *Hub) handleFrame(ctx context.Context, log *zap.Logger, conn Conn, userID string, raw []byte) {
	event, err := DecodeEvent(raw)
	if err != nil {
		h.metrics.IncInboundEvent("unknown", "invalid")
		log.Warn("discarding malformed channel frame", zap.Error(err))
		return
	}

	if h.opts.Limiter != nil {
		allowed, err := h.opts.Limiter.Allow(ctx, userID)
		if err != nil {
			log.Warn("inbound rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			h.metrics.IncInboundEvent(event.Name, "rate_limited")
			log.Warn("inbound event rate limited", zap.String("event", event.Name))
			return
		}
	}

	if err := h.PublishInbound(ctx, conn, event); err != nil {
		outcome := "failed"
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			outcome = "rejected"
		}
		h.metrics.IncInboundEvent(event.Name, outcome)
		log.Warn("inbound event not applied",
			zap.String("event", event.Name),
			zap.Error(err),
		)
		return
	}
	h.metrics.IncInboundEvent(event.Name, "applied")
}

func (h *Hub) writeLoop(s *session) {
	defer close(s.exited)

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if err := h.write(s, websocket.TextMessage, payload); err != nil {
				h.logger.Warn("channel write failed, dropping connection",
					zap.String("sessionId", s.id),
					zap.String("userId", s.userID),
					zap.Error(err),
				)
				h.detach(s)
				return
			}
		case <-ticker.C:
			if err := h.write(s, websocket.PingMessage, nil); err != nil {
				h.detach(s)
				return
			}
		}
	}
}

func (h *Hub) write(s *session, messageType int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", domain.ErrTransport, err)
	}
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}
