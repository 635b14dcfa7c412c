package changefeed

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"roadcrew/internal/middleware"
	"roadcrew/internal/observability"

	"github.com/google/uuid"
)

const defaultMemoryBuffer = 256

// MemoryFeed is an in-process change feed. Each subscription owns a bounded
// queue drained by its own goroutine, so delivery order per subscription
// matches publish order and a slow subscriber never blocks publishers.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]*memorySubscription
	buffer int
	closed bool
	logger *slog.Logger
}

// MemoryOption customizes a MemoryFeed.
type MemoryOption func(*MemoryFeed)

// WithBuffer sets the per-subscription queue length.
func WithBuffer(n int) MemoryOption {
	return func(f *MemoryFeed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed(opts ...MemoryOption) *MemoryFeed {
	f := &MemoryFeed{
		subs:   make(map[string]*memorySubscription),
		buffer: defaultMemoryBuffer,
		logger: middleware.Logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type delivery struct {
	event  Event
	status Status
	err    error
}

type memorySubscription struct {
	id       string
	feed     *MemoryFeed
	table    string
	filter   Filter
	onEvent  EventHandler
	onStatus StatusHandler
	queue    chan delivery
	done     chan struct{}
	lagged   atomic.Bool
	once     sync.Once
}

// Subscribe registers a subscription and reports StatusSubscribed from its delivery goroutine.
func (f *MemoryFeed) Subscribe(_ context.Context, table string, filter Filter, onEvent EventHandler, onStatus StatusHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}

	sub := &memorySubscription{
		id:       uuid.NewString(),
		feed:     f,
		table:    table,
		filter:   filter,
		onEvent:  onEvent,
		onStatus: onStatus,
		queue:    make(chan delivery, f.buffer+1),
		done:     make(chan struct{}),
	}
	sub.queue <- delivery{status: StatusSubscribed}
	f.subs[sub.id] = sub
	go sub.run()

	return sub, nil
}

// Publish fans the event out to every matching subscription without blocking.
func (f *MemoryFeed) Publish(_ context.Context, ev Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}

	observability.ChangefeedEvents.WithLabelValues(ev.Table, string(ev.Type), "published").Inc()
	for _, sub := range f.subs {
		if sub.table != ev.Table || !sub.filter.Matches(ev.Row) {
			continue
		}
		select {
		case sub.queue <- delivery{event: ev}:
		default:
			sub.lagged.Store(true)
			observability.ChangefeedDrops.WithLabelValues("memory", "buffer_full").Inc()
		}
	}
	return nil
}

// Close shuts down every subscription with StatusClosed.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*memorySubscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = make(map[string]*memorySubscription)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(true)
	}
	return nil
}

// Len returns the number of live subscriptions.
func (f *MemoryFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (s *memorySubscription) ID() string { return s.id }

func (s *memorySubscription) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
	s.terminate(false)
	return nil
}

func (s *memorySubscription) terminate(notify bool) {
	s.once.Do(func() {
		close(s.done)
		if notify {
			s.status(StatusClosed, ErrFeedClosed)
		}
	})
}

func (s *memorySubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			if d.status != "" {
				s.status(d.status, d.err)
				continue
			}
			s.deliver(d.event)
			if s.lagged.CompareAndSwap(true, false) {
				s.status(StatusLagged, nil)
			}
		}
	}
}

func (s *memorySubscription) deliver(ev Event) {
	if s.onEvent == nil {
		return
	}
	observability.ChangefeedEvents.WithLabelValues(ev.Table, string(ev.Type), "delivered").Inc()
	if err := safeCall(func() { s.onEvent(ev) }); err != nil {
		s.feed.logger.Error("changefeed subscriber panic",
			slog.String("subscription", s.id),
			slog.String("error", err.Error()),
			slog.String("stack", string(debug.Stack())),
		)
	}
}

func (s *memorySubscription) status(st Status, err error) {
	if s.onStatus == nil {
		return
	}
	if perr := safeCall(func() { s.onStatus(st, err) }); perr != nil {
		s.feed.logger.Error("changefeed status handler panic",
			slog.String("subscription", s.id),
			slog.String("error", perr.Error()),
		)
	}
}
