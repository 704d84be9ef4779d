package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 2 * time.Second
)

// ConnectionState is the delivery channel state surfaced to the UI layer.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	// StateDegraded means reconnection gave up. Items stay valid.
	StateDegraded ConnectionState = "degraded"
)

func (s ConnectionState) String() string { return string(s) }

// API is the pull side of the reconciler.
type API interface {
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id uint64) error
}

// Stream is one live delivery channel connection. Receive blocks until an
// event arrives or the connection fails.
type Stream interface {
	Receive(ctx context.Context) (channel.Event, error)
	Send(ctx context.Context, event channel.Event) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

type Options struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// OnChange receives a copy of the items and the connection state after
	// every visible change.
	OnChange func(items []domain.Notification, state ConnectionState)
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   *zap.Logger
}

func (o Options) normalized() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.Sleep == nil {
		o.Sleep = sleepWithContext
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Reconciler merges the pulled notification list with the live push stream
// into one deduplicated view ordered by createdAt descending.
type Reconciler struct {
	api    API
	dialer Dialer
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	items   []domain.Notification
	index   map[uint64]int
	state   ConnectionState
	stream  Stream
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewReconciler(api API, dialer Dialer, opts Options) (*Reconciler, error) {
	if api == nil {
		return nil, fmt.Errorf("notification api is required")
	}
	if dialer == nil {
		return nil, fmt.Errorf("channel dialer is required")
	}
	opts = opts.normalized()

	return &Reconciler{
		api:    api,
		dialer: dialer,
		opts:   opts,
		logger: opts.Logger,
		index:  make(map[uint64]int),
		state:  StateDisconnected,
	}, nil
}

// Start seeds the list with a pull and then opens the delivery channel in
// the background. A failed pull is returned and nothing is connected.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already started")
	}
	r.started = true
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.run(runCtx, done)
	return nil
}

// Close tears down the connection and waits for the connection loop. No
// reconnection is attempted afterwards.
func (r *Reconciler) Close() {
	r.mu.Lock()
	cancel, done, stream := r.cancel, r.done, r.stream
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if stream != nil {
		_ = stream.Close()
	}
	<-done
}

// Refresh pulls the durable list and merges it. Pulled records replace local
// copies except that a locally read notification stays read; pushed records
// the pull has not seen yet are kept.
func (r *Reconciler) Refresh(ctx context.Context) error {
	pulled, err := r.api.ListNotifications(ctx)
	if err != nil {
		return fmt.Errorf("pull notifications: %w", err)
	}

	r.mu.Lock()
	for _, n := range pulled {
		if i, ok := r.index[n.ID]; ok {
			n.Read = n.Read || r.items[i].Read
			r.items[i] = n
			continue
		}
		r.items = append(r.items, n)
		r.index[n.ID] = len(r.items) - 1
	}
	r.sortLocked()
	r.mu.Unlock()

	r.notifyChange()
	return nil
}

func (r *Reconciler) Snapshot() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Reconciler) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, n := range r.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkAsRead flips the local read flag before the server answers and does
// not revert it when the server call fails. A markAsRead event also goes out
// on the live connection so the user's other sessions converge.
func (r *Reconciler) MarkAsRead(ctx context.Context, id uint64) error {
	r.mu.Lock()
	changed := false
	if i, ok := r.index[id]; ok && !r.items[i].Read {
		r.items[i].Read = true
		changed = true
	}
	stream := r.stream
	r.mu.Unlock()

	if changed {
		r.notifyChange()
	}

	apiErr := r.api.MarkRead(ctx, id)

	if stream != nil {
		event, err := channel.NewMarkAsReadEvent(id)
		if err == nil {
			err = stream.Send(ctx, event)
		}
		if err != nil {
			r.logger.Warn("markAsRead event not sent", zap.Uint64("notification_id", id), zap.Error(err))
		}
	}

	if apiErr != nil {
		return fmt.Errorf("mark notification %d read: %w", id, apiErr)
	}
	return nil
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempts := 0
	reconnecting := false
	for {
		r.setState(StateConnecting)

		stream, err := r.dialer.Dial(ctx)
		if err == nil {
			attempts = 0
			r.attach(stream)
			if reconnecting {
				// Pushes sent while disconnected are only recoverable by a pull.
				if err := r.Refresh(ctx); err != nil {
					r.logger.Warn("catch-up pull after reconnect failed", zap.Error(err))
				}
			}
			reconnecting = true
			err = r.consume(ctx, stream)
			r.detach(stream)
			_ = stream.Close()
		}

		if ctx.Err() != nil {
			r.setState(StateDisconnected)
			return
		}

		attempts++
		if attempts > r.opts.MaxReconnectAttempts {
			r.logger.Error("delivery channel unavailable, giving up",
				zap.Int("attempts", r.opts.MaxReconnectAttempts),
				zap.Error(err),
			)
			r.setState(StateDegraded)
			return
		}

		r.logger.Warn("delivery channel lost, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("delay", r.opts.ReconnectDelay),
			zap.Error(err),
		)
		r.setState(StateDisconnected)
		if err := r.opts.Sleep(ctx, r.opts.ReconnectDelay); err != nil {
			return
		}
	}
}

func (r *Reconciler) consume(ctx context.Context, stream Stream) error {
	for {
		event, err := stream.Receive(ctx)
		if err != nil {
			return err
		}
		r.apply(event)
	}
}

func (r *Reconciler) apply(event channel.Event) {
	switch event.Name {
	case channel.EventNotification:
		var n domain.Notification
		if err := json.Unmarshal(event.Data, &n); err != nil || n.ID == 0 {
			r.logger.Warn("malformed notification event dropped", zap.Error(err))
			return
		}
		r.mergePushed(n)
	case channel.EventRead:
		id, err := event.NotificationID()
		if err != nil {
			r.logger.Warn("malformed read event dropped", zap.Error(err))
			return
		}
		r.applyRead(id)
	default:
		r.logger.Debug("unknown channel event ignored", zap.String("event", event.Name))
	}
}

// mergePushed is additive only: a notification already present is left as is.
func (r *Reconciler) mergePushed(n domain.Notification) {
	r.mu.Lock()
	if _, ok := r.index[n.ID]; ok {
		r.mu.Unlock()
		return
	}
	r.items = append(r.items, n)
	r.sortLocked()
	r.mu.Unlock()

	r.notifyChange()
}

// applyRead never flips a notification back to unread.
func (r *Reconciler) applyRead(id uint64) {
	r.mu.Lock()
	i, ok := r.index[id]
	if !ok || r.items[i].Read {
		r.mu.Unlock()
		return
	}
	r.items[i].Read = true
	r.mu.Unlock()

	r.notifyChange()
}

func (r *Reconciler) attach(stream Stream) {
	r.mu.Lock()
	r.stream = stream
	r.state = StateConnected
	r.mu.Unlock()

	r.notifyChange()
}

func (r *Reconciler) detach(stream Stream) {
	r.mu.Lock()
	if r.stream == stream {
		r.stream = nil
	}
	r.mu.Unlock()
}

func (r *Reconciler) setState(state ConnectionState) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.mu.Unlock()

	r.notifyChange()
}

func (r *Reconciler) sortLocked() {
	sort.SliceStable(r.items, func(i, j int) bool {
		a, b := r.items[i], r.items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	clear(r.index)
	for i, n := range r.items {
		r.index[n.ID] = i
	}
}

func (r *Reconciler) notifyChange() {
	if r.opts.OnChange == nil {
		return
	}
	r.opts.OnChange(r.Snapshot(), r.State())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
