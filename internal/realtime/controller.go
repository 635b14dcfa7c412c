// Package realtime keeps a client's view of its conversations live. A
// Controller holds one change-feed subscription covering every conversation
// the user participates in and turns incoming message events into refresh
// calls on a Listener. A second subscription on the user's participant rows
// rebuilds the first whenever the user is added to a conversation.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roadcrew/internal/changefeed"
	"roadcrew/internal/middleware"
	"roadcrew/internal/observability"
)

// ErrNotStarted is returned by Resubscribe before Start.
var ErrNotStarted = errors.New("realtime: controller not started")

// ErrStopped is returned once Stop has been called.
var ErrStopped = errors.New("realtime: controller stopped")

// ActiveKind discriminates Active.
type ActiveKind int

const (
	ActiveNone ActiveKind = iota
	// ActivePending is a private conversation that will be created on first send.
	ActivePending
	ActiveExisting
)

// Active is the conversation currently open in the client.
type Active struct {
	Kind           ActiveKind `json:"kind"`
	TargetUserID   string     `json:"target_user_id,omitempty"`
	ConversationID uint       `json:"conversation_id,omitempty"`
}

// None means no conversation is open.
func None() Active { return Active{Kind: ActiveNone} }

// Pending targets a private conversation with target that does not exist yet.
func Pending(target string) Active { return Active{Kind: ActivePending, TargetUserID: target} }

// Existing is an open, persisted conversation.
func Existing(id uint) Active { return Active{Kind: ActiveExisting, ConversationID: id} }

// IsExisting reports whether a is Existing{id}.
func (a Active) IsExisting(id uint) bool {
	return a.Kind == ActiveExisting && a.ConversationID == id
}

func (a Active) String() string {
	switch a.Kind {
	case ActivePending:
		return "pending(" + a.TargetUserID + ")"
	case ActiveExisting:
		return fmt.Sprintf("existing(%d)", a.ConversationID)
	default:
		return "none"
	}
}

// Listener receives refresh requests. Calls come from feed goroutines and
// from Resubscribe, never while the controller holds its lock.
type Listener interface {
	RefreshMessages(ctx context.Context, conversationID uint)
	RefreshConversations(ctx context.Context)
}

// StatusListener is optionally implemented by a Listener that wants to know
// when the live connection is lost or restored.
type StatusListener interface {
	SubscriptionStatus(degraded bool, err error)
}

// ConversationLister resolves the watched set.
type ConversationLister interface {
	ParticipantConversationIDs(ctx context.Context, userID string) ([]uint, error)
}

// Options tunes subscription setup.
type Options struct {
	// RetryAttempts bounds setup attempts, including the first.
	RetryAttempts int
	// RetryBaseDelay is doubled after each failed attempt.
	RetryBaseDelay time.Duration
	Logger         *slog.Logger
}

// DefaultOptions are used for zero fields.
var DefaultOptions = Options{
	RetryAttempts:  4,
	RetryBaseDelay: 200 * time.Millisecond,
}

// Controller is the fanout controller for one client session.
type Controller struct {
	feed     changefeed.Subscriber
	convs    ConversationLister
	listener Listener
	opts     Options
	logger   *slog.Logger

	// setupMu serializes Start and Resubscribe so that at most one
	// subscription is ever live.
	setupMu sync.Mutex

	mu         sync.Mutex
	userID     string
	watched    []uint
	active     Active
	sub        changefeed.Subscription
	generation uint64
	member     changefeed.Subscription
	memberGen  uint64
	degraded   bool
	started    bool
	stopped    bool
	stopCh     chan struct{}
}

// NewController wires a controller. It does nothing until Start.
func NewController(feed changefeed.Subscriber, convs ConversationLister, listener Listener, opts Options) *Controller {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultOptions.RetryAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultOptions.RetryBaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = middleware.Logger
	}
	return &Controller{
		feed:     feed,
		convs:    convs,
		listener: listener,
		opts:     opts,
		logger:   logger,
		active:   None(),
		stopCh:   make(chan struct{}),
	}
}

// Start watches the user's participant rows, then computes the watched set
// for userID and subscribes. An empty watched set is a valid, unsubscribed
// state. A final setup failure leaves the controller degraded and is returned.
func (c *Controller) Start(ctx context.Context, userID string) error {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.userID = userID
	c.started = true
	c.mu.Unlock()

	memberErr := c.watchMembership(ctx)
	if errors.Is(memberErr, ErrStopped) {
		return memberErr
	}
	if err := c.subscribe(ctx); err != nil {
		return err
	}
	return memberErr
}

// Resubscribe replaces the subscription with one built from a freshly
// computed watched set, then runs a catch-up refresh for anything published
// while no subscription was live. It returns once the new subscription is
// established. A membership subscription lost earlier is re-established too.
func (c *Controller) Resubscribe(ctx context.Context) error {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.mu.Lock()
	started, stopped := c.started, c.stopped
	c.mu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case !started:
		return ErrNotStarted
	}

	memberErr := c.watchMembership(ctx)
	if err := c.subscribe(ctx); err != nil {
		observability.FanoutResubscribes.WithLabelValues("error").Inc()
		return err
	}
	observability.FanoutResubscribes.WithLabelValues("ok").Inc()
	c.catchUp(ctx)
	return memberErr
}

// Stop releases the subscription. It is safe to call repeatedly and on a
// controller that never subscribed.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	sub, member := c.sub, c.member
	c.sub, c.member = nil, nil
	c.watched = nil
	c.mu.Unlock()

	c.release(sub)
	c.release(member)
}

// SetActive records the open conversation. Events for Existing{id} also
// refresh that conversation's messages.
func (c *Controller) SetActive(a Active) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = a
}

// Active returns the open conversation.
func (c *Controller) Active() Active {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Watched returns a copy of the watched conversation IDs.
func (c *Controller) Watched() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint(nil), c.watched...)
}

// Subscribed reports whether a subscription is live.
func (c *Controller) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// Degraded reports whether the last setup failed or the feed dropped the
// subscription.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// subscribe must be called with setupMu held.
func (c *Controller) subscribe(ctx context.Context) error {
	c.mu.Lock()
	old := c.sub
	c.sub = nil
	c.generation++
	gen := c.generation
	userID := c.userID
	c.mu.Unlock()

	c.release(old)

	err := c.withRetry(ctx, "fanout subscription", func() error {
		ids, sub, err := c.trySubscribe(ctx, userID, gen)
		if err != nil {
			return err
		}
		return c.install(ids, sub, gen)
	})
	if err == nil || errors.Is(err, ErrStopped) {
		return err
	}
	lastErr := err

	c.mu.Lock()
	c.degraded = true
	c.watched = nil
	c.mu.Unlock()
	c.logger.ErrorContext(ctx, "fanout subscription unavailable, live updates disabled",
		slog.String("error", lastErr.Error()))
	c.notifyStatus(true, lastErr)
	return fmt.Errorf("realtime: subscribe: %w", lastErr)
}

// withRetry runs fn up to RetryAttempts times with doubling delays. ErrStopped
// from fn ends the loop at once.
func (c *Controller) withRetry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	delay := c.opts.RetryBaseDelay
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		err := fn()
		if err == nil || errors.Is(err, ErrStopped) {
			return err
		}
		lastErr = err
		observability.FanoutSetupFailures.Inc()
		c.logger.WarnContext(ctx, what+" attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.opts.RetryAttempts),
			slog.String("error", err.Error()),
		)
		if attempt == c.opts.RetryAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.stopCh:
			timer.Stop()
			return ErrStopped
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}

// watchMembership subscribes to the user's participant rows if that
// subscription is not already live. It must be called with setupMu held.
func (c *Controller) watchMembership(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.member != nil {
		c.mu.Unlock()
		return nil
	}
	c.memberGen++
	gen := c.memberGen
	userID := c.userID
	c.mu.Unlock()

	err := c.withRetry(ctx, "membership subscription", func() error {
		sub, err := c.feed.Subscribe(ctx, changefeed.TableParticipants, changefeed.Eq("user_id", userID),
			c.onMembership(gen), c.onMembershipStatus(gen))
		if err != nil {
			return err
		}
		c.mu.Lock()
		if c.stopped || gen != c.memberGen {
			c.mu.Unlock()
			c.closeHandle(sub)
			return ErrStopped
		}
		c.member = sub
		c.mu.Unlock()
		observability.FanoutSubscriptions.Inc()
		return nil
	})
	if err == nil || errors.Is(err, ErrStopped) {
		return err
	}

	c.mu.Lock()
	wasDegraded := c.degraded
	c.degraded = true
	c.mu.Unlock()
	c.logger.ErrorContext(ctx, "membership subscription unavailable, new conversations need a refresh",
		slog.String("error", err.Error()))
	if !wasDegraded {
		c.notifyStatus(true, err)
	}
	return fmt.Errorf("realtime: watch membership: %w", err)
}

func (c *Controller) trySubscribe(ctx context.Context, userID string, gen uint64) ([]uint, changefeed.Subscription, error) {
	ids, err := c.convs.ParticipantConversationIDs(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return ids, nil, nil
	}
	sub, err := c.feed.Subscribe(ctx, changefeed.TableMessages, changefeed.ConversationFilter(ids),
		c.onEvent(gen), c.onStatus(gen))
	if err != nil {
		return nil, nil, err
	}
	return ids, sub, nil
}

func (c *Controller) install(ids []uint, sub changefeed.Subscription, gen uint64) error {
	c.mu.Lock()
	if c.stopped || gen != c.generation {
		c.mu.Unlock()
		c.closeHandle(sub)
		return ErrStopped
	}
	wasDegraded := c.degraded
	c.sub = sub
	c.watched = ids
	c.degraded = c.member == nil
	nowDegraded := c.degraded
	c.mu.Unlock()

	if sub != nil {
		observability.FanoutSubscriptions.Inc()
	}
	if wasDegraded && !nowDegraded {
		c.notifyStatus(false, nil)
	}
	return nil
}

// release closes a handle taken out of c.sub. Each handle reaches release at
// most once.
func (c *Controller) release(sub changefeed.Subscription) {
	if sub == nil {
		return
	}
	observability.FanoutSubscriptions.Dec()
	c.closeHandle(sub)
}

func (c *Controller) closeHandle(sub changefeed.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		c.logger.Warn("fanout unsubscribe failed",
			slog.String("subscription_id", sub.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) current(gen uint64) (Active, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, !c.stopped && gen == c.generation
}

func (c *Controller) onEvent(gen uint64) changefeed.EventHandler {
	return func(ev changefeed.Event) {
		active, live := c.current(gen)
		if !live || ev.Type != changefeed.EventInsert {
			return
		}
		ctx := context.Background()
		if convID, ok := ev.UintField("conversation_id"); ok && active.IsExisting(convID) {
			observability.FanoutRefreshes.WithLabelValues("messages").Inc()
			c.listener.RefreshMessages(ctx, convID)
		}
		observability.FanoutRefreshes.WithLabelValues("conversations").Inc()
		c.listener.RefreshConversations(ctx)
	}
}

func (c *Controller) onStatus(gen uint64) changefeed.StatusHandler {
	return func(st changefeed.Status, err error) {
		if _, live := c.current(gen); !live {
			return
		}
		switch st {
		case changefeed.StatusLagged:
			c.logger.Warn("fanout subscription lagged, catching up")
			c.catchUp(context.Background())
		case changefeed.StatusChannelError, changefeed.StatusClosed:
			c.mu.Lock()
			c.degraded = true
			c.mu.Unlock()
			attrs := []any{slog.String("status", string(st))}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			c.logger.Error("fanout subscription lost", attrs...)
			if err == nil {
				err = fmt.Errorf("realtime: subscription %s", st)
			}
			c.notifyStatus(true, err)
		}
	}
}

// onMembership rebuilds the message subscription when the user joins a
// conversation that is not yet watched.
func (c *Controller) onMembership(gen uint64) changefeed.EventHandler {
	return func(ev changefeed.Event) {
		c.mu.Lock()
		live := !c.stopped && gen == c.memberGen
		c.mu.Unlock()
		if !live || ev.Type == changefeed.EventUpdate {
			return
		}
		if convID, ok := ev.UintField("conversation_id"); ok && ev.Type == changefeed.EventInsert && c.watching(convID) {
			return
		}
		c.rebuild(context.Background())
	}
}

func (c *Controller) onMembershipStatus(gen uint64) changefeed.StatusHandler {
	return func(st changefeed.Status, err error) {
		c.mu.Lock()
		if c.stopped || gen != c.memberGen {
			c.mu.Unlock()
			return
		}
		switch st {
		case changefeed.StatusLagged:
			c.mu.Unlock()
			c.logger.Warn("membership subscription lagged, rebuilding")
			c.rebuild(context.Background())
		case changefeed.StatusChannelError, changefeed.StatusClosed:
			sub := c.member
			c.member = nil
			c.degraded = true
			c.mu.Unlock()
			if sub != nil {
				// The handle may be closing on this goroutine already.
				observability.FanoutSubscriptions.Dec()
				go c.closeHandle(sub)
			}
			if err == nil {
				err = fmt.Errorf("realtime: membership subscription %s", st)
			}
			c.logger.Error("membership subscription lost", slog.String("error", err.Error()))
			c.notifyStatus(true, err)
		default:
			c.mu.Unlock()
		}
	}
}

// rebuild resubscribes and falls back to a list refresh when that fails.
func (c *Controller) rebuild(ctx context.Context) {
	err := c.Resubscribe(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrStopped):
		return
	default:
		c.logger.Warn("resubscribe after membership change failed", slog.String("error", err.Error()))
		observability.FanoutRefreshes.WithLabelValues("conversations").Inc()
		c.listener.RefreshConversations(ctx)
	}
}

func (c *Controller) watching(convID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.watched {
		if id == convID {
			return true
		}
	}
	return false
}

func (c *Controller) catchUp(ctx context.Context) {
	active := c.Active()
	if active.Kind == ActiveExisting {
		observability.FanoutRefreshes.WithLabelValues("messages").Inc()
		c.listener.RefreshMessages(ctx, active.ConversationID)
	}
	observability.FanoutRefreshes.WithLabelValues("conversations").Inc()
	c.listener.RefreshConversations(ctx)
}

func (c *Controller) notifyStatus(degraded bool, err error) {
	if sl, ok := c.listener.(StatusListener); ok {
		sl.SubscriptionStatus(degraded, err)
	}
}
