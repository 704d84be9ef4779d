package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
)

var (
	errStreamClosed = errors.New("stream closed")
	errDialFailed   = errors.New("dial failed")
)

func TestReconcilerStartPullsThenConnects(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			return []domain.Notification{
				testNotification(1, base.Add(-2*time.Hour), true),
				testNotification(3, base, false),
				testNotification(2, base.Add(-time.Hour), false),
			}, nil
		},
	}
	stream := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) { return stream, nil }}

	var mu sync.Mutex
	var states []ConnectionState
	r := newTestReconciler(t, api, dialer, Options{
		OnChange: func(items []domain.Notification, state ConnectionState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, state)
		},
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	assertIDs(t, r.Snapshot(), 3, 2, 1)
	if got := r.UnreadCount(); got != 2 {
		t.Fatalf("UnreadCount() = %d, want 2", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != StateConnected {
		t.Fatalf("OnChange states = %v, want last %q", states, StateConnected)
	}
}

func TestReconcilerStartFailsWhenPullFails(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			return nil, domain.ErrTransport
		},
	}
	dialer := &fakeDialer{}
	r := newTestReconciler(t, api, dialer, Options{})

	err := r.Start(context.Background())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("Start() error = %v, want ErrTransport", err)
	}
	if dialer.count() != 0 {
		t.Fatalf("dials = %d, want 0", dialer.count())
	}
	if r.State() != StateDisconnected {
		t.Fatalf("State() = %q, want disconnected", r.State())
	}
}

func TestReconcilerMergeIsIdempotentAndOrderIndependent(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	pulls := 0
	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			pulls++
			if pulls == 1 {
				return []domain.Notification{testNotification(1, base, false)}, nil
			}
			return []domain.Notification{
				testNotification(2, base.Add(time.Minute), false),
				testNotification(1, base, false),
			}, nil
		},
	}
	stream := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) { return stream, nil }}
	r := newTestReconciler(t, api, dialer, Options{})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	// Push of id 2 arrives before the pull that also returns it.
	stream.push(t, notificationEvent(t, testNotification(2, base.Add(time.Minute), false)))
	stream.push(t, notificationEvent(t, testNotification(2, base.Add(time.Minute), false)))
	stream.push(t, notificationEvent(t, testNotification(1, base, true)))
	waitFor(t, func() bool { return len(r.Snapshot()) == 2 })

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	items := r.Snapshot()
	assertIDs(t, items, 2, 1)
	if items[1].Read {
		t.Fatal("pushed duplicate must not update an existing notification")
	}
}

func TestReconcilerMarkAsReadIsOptimistic(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var markCalls atomic.Int32
	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			return []domain.Notification{testNotification(7, base, false)}, nil
		},
		markReadFn: func(ctx context.Context, id uint64) error {
			markCalls.Add(1)
			return &APIError{StatusCode: 500, Message: "database unavailable"}
		},
	}
	stream := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) { return stream, nil }}
	r := newTestReconciler(t, api, dialer, Options{})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	err := r.MarkAsRead(context.Background(), 7)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("MarkAsRead() error = %v, want ErrPersistence", err)
	}
	if markCalls.Load() != 1 {
		t.Fatalf("server calls = %d, want 1", markCalls.Load())
	}

	items := r.Snapshot()
	if !items[0].Read {
		t.Fatal("read flag must stay set after a failed server call")
	}
	if r.UnreadCount() != 0 {
		t.Fatalf("UnreadCount() = %d, want 0", r.UnreadCount())
	}

	select {
	case sent := <-stream.sent:
		id, err := sent.NotificationID()
		if sent.Name != channel.EventMarkAsRead || err != nil || id != 7 {
			t.Fatalf("sent event = %+v", sent)
		}
	case <-time.After(time.Second):
		t.Fatal("markAsRead event not sent on the live connection")
	}
}

func TestReconcilerAppliesReadEventsMonotonically(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			return []domain.Notification{
				testNotification(1, base, false),
				testNotification(2, base.Add(time.Second), false),
			}, nil
		},
	}
	stream := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) { return stream, nil }}
	r := newTestReconciler(t, api, dialer, Options{})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	readEvent, err := channel.NewReadEvent(1)
	if err != nil {
		t.Fatalf("NewReadEvent() error = %v", err)
	}
	stream.push(t, readEvent)
	stream.push(t, readEvent)
	waitFor(t, func() bool { return r.UnreadCount() == 1 })

	items := r.Snapshot()
	if items[0].ID != 2 || items[0].Read || !items[1].Read {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestReconcilerDegradesAfterReconnectAttemptsExhausted(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			return []domain.Notification{testNotification(1, base, false)}, nil
		},
	}
	first := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) {
		if n == 1 {
			return first, nil
		}
		return nil, errDialFailed
	}}
	sleeper := &recordingSleeper{}
	r := newTestReconciler(t, api, dialer, Options{
		MaxReconnectAttempts: 3,
		ReconnectDelay:       250 * time.Millisecond,
		Sleep:                sleeper.Sleep,
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	_ = first.Close()
	waitFor(t, func() bool { return r.State() == StateDegraded })

	if got := dialer.count(); got != 4 {
		t.Fatalf("dials = %d, want 4", got)
	}
	delays := sleeper.calls()
	if len(delays) != 3 {
		t.Fatalf("sleeps = %d, want 3", len(delays))
	}
	for _, d := range delays {
		if d != 250*time.Millisecond {
			t.Fatalf("sleep delay = %s, want 250ms", d)
		}
	}
	assertIDs(t, r.Snapshot(), 1)
}

func TestReconcilerResetsAttemptsAfterReconnect(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) {
		switch n {
		case 1, 3:
			s := newFakeStream()
			_ = s.Close()
			return s, nil
		default:
			return nil, errDialFailed
		}
	}}
	sleeper := &recordingSleeper{}
	r := newTestReconciler(t, api, dialer, Options{
		MaxReconnectAttempts: 2,
		Sleep:                sleeper.Sleep,
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateDegraded })

	if got := dialer.count(); got != 5 {
		t.Fatalf("dials = %d, want 5", got)
	}
	if got := len(sleeper.calls()); got != 4 {
		t.Fatalf("sleeps = %d, want 4", got)
	}
}

func TestReconcilerCloseStopsReconnecting(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) { return stream, nil }}
	r := newTestReconciler(t, &fakeAPI{}, dialer, Options{})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	r.Close()

	if r.State() != StateDisconnected {
		t.Fatalf("State() = %q, want disconnected", r.State())
	}
	if got := dialer.count(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	select {
	case <-stream.closed:
	default:
		t.Fatal("stream must be closed on teardown")
	}
}

func newTestReconciler(t *testing.T, api API, dialer Dialer, opts Options) *Reconciler {
	t.Helper()

	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	}
	r, err := NewReconciler(api, dialer, opts)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func testNotification(id uint64, createdAt time.Time, read bool) domain.Notification {
	return domain.Notification{
		ID:        id,
		UserID:    "user-1",
		Title:     "Request Status Updated",
		Message:   "Your request status has been updated.",
		Type:      domain.NotificationTypeStatusChange,
		Read:      read,
		CreatedAt: createdAt,
	}
}

func notificationEvent(t *testing.T, n domain.Notification) channel.Event {
	t.Helper()

	event, err := channel.NewNotificationEvent(n)
	if err != nil {
		t.Fatalf("NewNotificationEvent() error = %v", err)
	}
	return event
}

func assertIDs(t *testing.T, items []domain.Notification, want ...uint64) {
	t.Helper()

	if len(items) != len(want) {
		t.Fatalf("items = %d, want %d", len(items), len(want))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("items[%d].ID = %d, want %d", i, items[i].ID, id)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type fakeAPI struct {
	listFn     func(ctx context.Context) ([]domain.Notification, error)
	markReadFn func(ctx context.Context, id uint64) error
}

func (f *fakeAPI) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return []domain.Notification{}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id uint64) error {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, id)
	}
	return nil
}

type fakeDialer struct {
	dials  atomic.Int32
	dialFn func(ctx context.Context, n int) (Stream, error)
}

func (f *fakeDialer) Dial(ctx context.Context) (Stream, error) {
	n := int(f.dials.Add(1))
	if f.dialFn != nil {
		return f.dialFn(ctx, n)
	}
	return nil, errDialFailed
}

func (f *fakeDialer) count() int { return int(f.dials.Load()) }

type fakeStream struct {
	events chan channel.Event
	sent   chan channel.Event
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan channel.Event, 8),
		sent:   make(chan channel.Event, 8),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) push(t *testing.T, event channel.Event) {
	t.Helper()

	select {
	case s.events <- event:
	case <-time.After(time.Second):
		t.Fatal("stream event buffer full")
	}
}

func (s *fakeStream) Receive(ctx context.Context) (channel.Event, error) {
	select {
	case event := <-s.events:
		return event, nil
	case <-s.closed:
		return channel.Event{}, errStreamClosed
	case <-ctx.Done():
		return channel.Event{}, ctx.Err()
	}
}

func (s *fakeStream) Send(ctx context.Context, event channel.Event) error {
	select {
	case <-s.closed:
		return errStreamClosed
	case s.sent <- event:
		return nil
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func TestReconcilerOfflineReadSurvivesReconnect(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var pulls atomic.Int32
	api := &fakeAPI{
		listFn: func(ctx context.Context) ([]domain.Notification, error) {
			pulls.Add(1)
			return []domain.Notification{testNotification(42, base, false)}, nil
		},
		markReadFn: func(ctx context.Context, id uint64) error {
			return domain.ErrTransport
		},
	}

	first := newFakeStream()
	dialer := &fakeDialer{dialFn: func(ctx context.Context, n int) (Stream, error) {
		switch n {
		case 1:
			return first, nil
		case 2:
			return nil, errDialFailed
		default:
			return newFakeStream(), nil
		}
	}}

	gate := make(chan struct{})
	var marked, flicker atomic.Bool
	r := newTestReconciler(t, api, dialer, Options{
		ReconnectDelay: 5 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-gate:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnChange: func(items []domain.Notification, state ConnectionState) {
			if !marked.Load() {
				return
			}
			for _, n := range items {
				if n.ID == 42 && !n.Read {
					flicker.Store(true)
				}
			}
		},
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return r.State() == StateConnected })

	_ = first.Close()
	waitFor(t, func() bool { return r.State() == StateDisconnected })

	marked.Store(true)
	if err := r.MarkAsRead(context.Background(), 42); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("MarkAsRead() error = %v, want ErrTransport", err)
	}

	close(gate)
	waitFor(t, func() bool { return pulls.Load() == 2 && r.State() == StateConnected })

	items := r.Snapshot()
	if len(items) != 1 || !items[0].Read {
		t.Fatalf("items after reconnect = %+v, want #42 read", items)
	}
	if flicker.Load() {
		t.Fatal("notification #42 was shown unread again after being marked")
	}
	if got := dialer.count(); got != 3 {
		t.Fatalf("dials = %d, want 3", got)
	}
}
