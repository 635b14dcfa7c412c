package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"roadcrew/internal/middleware"
	"roadcrew/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrRedisUnavailable is returned when the feed has no Redis client.
var ErrRedisUnavailable = errors.New("changefeed: redis unavailable")

// errChannelClosed is reported when Redis closes a subscription channel underneath us.
var errChannelClosed = errors.New("changefeed: redis channel closed")

// redisChannelSize is the go-redis receive buffer per subscription.
const redisChannelSize = 512

// RedisFeed publishes change events to Redis pub/sub channels named
// "changes:<table>" and filters them client-side per subscription. Each
// subscription drains Redis into its own bounded queue; an overflow or a
// reconnect is reported as StatusLagged.
type RedisFeed struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
	queue   int

	mu     sync.Mutex
	subs   map[string]*redisSubscription
	closed bool
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig trips after five consecutive publish failures.
var DefaultBreakerConfig = BreakerConfig{
	MaxRequests:         3,
	Interval:            time.Minute,
	Timeout:             15 * time.Second,
	ConsecutiveFailures: 5,
}

// NewRedisFeed builds a Redis-backed feed. A nil client yields a feed whose
// Publish is a no-op and whose Subscribe fails with ErrRedisUnavailable.
func NewRedisFeed(rdb *redis.Client, cfg BreakerConfig) *RedisFeed {
	f := &RedisFeed{
		rdb:    rdb,
		logger: middleware.Logger,
		queue:  defaultMemoryBuffer,
		subs:   make(map[string]*redisSubscription),
	}
	f.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "changefeed-publish",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.ChangefeedBreakerState.Set(float64(to))
			f.logger.Warn("changefeed circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return f
}

// Channel derives the Redis channel name for a table.
func Channel(table string) string {
	return "changes:" + table
}

// Publish sends the event through the circuit breaker.
func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	if f.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = f.breaker.Execute(func() (any, error) {
		return nil, f.rdb.Publish(ctx, Channel(ev.Table), payload).Err()
	})
	if err != nil {
		reason := "publish_error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = "breaker_open"
		}
		observability.ChangefeedDrops.WithLabelValues("redis", reason).Inc()
		return fmt.Errorf("publish %s event: %w", ev.Table, err)
	}
	observability.ChangefeedEvents.WithLabelValues(ev.Table, string(ev.Type), "published").Inc()
	return nil
}

// Subscribe opens a Redis subscription and waits for the server confirmation
// before returning, so a returned handle is already receiving.
func (f *RedisFeed) Subscribe(ctx context.Context, table string, filter Filter, onEvent EventHandler, onStatus StatusHandler) (Subscription, error) {
	if f.rdb == nil {
		return nil, ErrRedisUnavailable
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	f.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	ps := f.rdb.Subscribe(subCtx, Channel(table))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	sub := &redisSubscription{
		id:       uuid.NewString(),
		feed:     f,
		table:    table,
		filter:   filter,
		onEvent:  onEvent,
		onStatus: onStatus,
		ps:       ps,
		cancel:   cancel,
		done:     make(chan struct{}),
		queue:    make(chan redisDelivery, f.queue),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		_ = ps.Close()
		return nil, ErrFeedClosed
	}
	f.subs[sub.id] = sub
	f.mu.Unlock()

	go sub.deliverLoop(subCtx)
	go sub.run(subCtx)
	return sub, nil
}

// Close terminates every subscription with StatusClosed. The Redis client is owned by the caller.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*redisSubscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.subs = make(map[string]*redisSubscription)
	f.mu.Unlock()

	for _, s := range subs {
		s.shutdown(true)
	}
	return nil
}

type redisSubscription struct {
	id       string
	feed     *RedisFeed
	table    string
	filter   Filter
	onEvent  EventHandler
	onStatus StatusHandler
	ps       *redis.PubSub
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	queue    chan redisDelivery
	lagged   atomic.Bool
}

type redisDelivery struct {
	payload string
	lagged  bool
}

func (s *redisSubscription) ID() string { return s.id }

func (s *redisSubscription) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
	s.shutdown(false)
	return nil
}

func (s *redisSubscription) shutdown(notify bool) {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.ps.Close()
		if notify {
			s.status(StatusClosed, ErrFeedClosed)
		}
	})
}

func (s *redisSubscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// run moves Redis messages into the local queue without blocking. The first
// subscribe confirmation was consumed by Subscribe, so any later one means
// go-redis reconnected and messages published in between are gone.
func (s *redisSubscription) run(ctx context.Context) {
	ch := s.ps.ChannelWithSubscriptions(redis.WithChannelSize(redisChannelSize))

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				if !s.stopped() {
					s.status(StatusChannelError, errChannelClosed)
				}
				return
			}
			switch msg := m.(type) {
			case *redis.Message:
				s.enqueue(redisDelivery{payload: msg.Payload}, "buffer_full")
			case *redis.Subscription:
				if msg.Kind == "subscribe" {
					observability.ChangefeedDrops.WithLabelValues("redis", "reconnect").Inc()
					s.feed.logger.Warn("changefeed: redis subscription re-established",
						slog.String("subscription", s.id),
						slog.String("channel", msg.Channel),
					)
					s.enqueue(redisDelivery{lagged: true}, "")
				}
			}
		}
	}
}

func (s *redisSubscription) enqueue(d redisDelivery, dropReason string) {
	select {
	case s.queue <- d:
	default:
		s.lagged.Store(true)
		if dropReason != "" {
			observability.ChangefeedDrops.WithLabelValues("redis", dropReason).Inc()
		}
	}
}

func (s *redisSubscription) deliverLoop(ctx context.Context) {
	s.status(StatusSubscribed, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			if d.lagged {
				s.lagged.Store(false)
				s.status(StatusLagged, nil)
				continue
			}
			s.handle(d.payload)
			if s.lagged.CompareAndSwap(true, false) {
				s.status(StatusLagged, nil)
			}
		}
	}
}

func (s *redisSubscription) handle(payload string) {
	defer func() {
		if r := recover(); r != nil {
			s.feed.logger.Error("changefeed subscriber panic",
				slog.String("subscription", s.id),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		observability.ChangefeedDrops.WithLabelValues("redis", "decode_error").Inc()
		s.feed.logger.Warn("changefeed: undecodable event",
			slog.String("table", s.table),
			slog.String("error", err.Error()),
		)
		return
	}
	if !s.filter.Matches(ev.Row) || s.onEvent == nil {
		return
	}
	observability.ChangefeedEvents.WithLabelValues(ev.Table, string(ev.Type), "delivered").Inc()
	s.onEvent(ev)
}

func (s *redisSubscription) status(st Status, err error) {
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
