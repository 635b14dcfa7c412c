// Package community hosts the per-client session behind the community page:
// the friend list, the conversation list and the open conversation, kept
// live by a realtime.Controller.
package community

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"roadcrew/internal/changefeed"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/realtime"
)

// FriendOps is the friendship graph as the session uses it.
type FriendOps interface {
	SendRequest(ctx context.Context, requester, target string) (*models.Friendship, error)
	Respond(ctx context.Context, actor string, id uint, decision models.FriendshipDecision) (*models.Friendship, error)
	Cancel(ctx context.Context, actor string, id uint) error
	Unfriend(ctx context.Context, actor string, id uint) error
	Overview(ctx context.Context, userID string) (*models.FriendOverview, error)
	SearchUsers(ctx context.Context, userID, query string) ([]models.UserProfile, error)
}

// ConversationOps is the conversation directory as the session uses it.
type ConversationOps interface {
	CreatePrivate(ctx context.Context, a, b string) (*models.Conversation, bool, error)
	CreateGroup(ctx context.Context, name, creator string, participantIDs []string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	GetForParticipant(ctx context.Context, id uint, userID string) (*models.ConversationSummary, error)
	FindPrivateWith(ctx context.Context, a, b string) (*models.Conversation, error)
	ParticipantConversationIDs(ctx context.Context, userID string) ([]uint, error)
}

// MessageOps is the message log as the session uses it.
type MessageOps interface {
	Append(ctx context.Context, convID uint, sender, content string) (*models.Message, error)
	ListForParticipant(ctx context.Context, convID uint, viewer string) ([]models.MessageView, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Friends       FriendOps
	Conversations ConversationOps
	Messages      MessageOps
	Feed          changefeed.Subscriber
	Realtime      realtime.Options
	Logger        *slog.Logger
}

// UpdateKind names the part of the state that changed.
type UpdateKind string

const (
	UpdateMessages      UpdateKind = "messages"
	UpdateConversations UpdateKind = "conversations"
	UpdateActive        UpdateKind = "active"
	UpdateStatus        UpdateKind = "status"
)

// State is a point-in-time copy of the session.
type State struct {
	UserID        string                       `json:"user_id"`
	Active        realtime.Active              `json:"active"`
	Messages      []models.MessageView         `json:"messages"`
	Conversations []models.ConversationSummary `json:"conversations"`
	Watched       []uint                       `json:"watched"`
	Draft         string                       `json:"draft"`
	Degraded      bool                         `json:"degraded"`
}

// Update is pushed to the OnUpdate hook after each state change.
type Update struct {
	Kind  UpdateKind
	State State
}

// Session is one connected client. It is safe for concurrent use; feed
// callbacks and user operations may interleave.
type Session struct {
	userID string
	deps   Deps
	ctrl   *realtime.Controller
	logger *slog.Logger

	// sendMu keeps two sends from both creating the pending conversation.
	sendMu sync.Mutex

	mu            sync.Mutex
	active        realtime.Active
	messages      []models.MessageView
	conversations []models.ConversationSummary
	draft         string
	degraded      bool
	onUpdate      func(Update)

	// Fetches are numbered when issued; a result older than the last one
	// applied for its kind is dropped.
	messagesIssued  uint64
	messagesApplied uint64
	convsIssued     uint64
	convsApplied    uint64
}

// NewSession creates a session for userID. An empty userID yields an
// anonymous session whose operations all fail with FORBIDDEN.
func NewSession(userID string, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = middleware.Logger
	}
	s := &Session{
		userID: strings.TrimSpace(userID),
		deps:   deps,
		logger: logger,
		active: realtime.None(),
	}
	if s.userID != "" {
		opts := deps.Realtime
		if opts.Logger == nil {
			opts.Logger = logger
		}
		s.ctrl = realtime.NewController(deps.Feed, deps.Conversations, s, opts)
	}
	return s
}

// UserID returns the session owner.
func (s *Session) UserID() string { return s.userID }

// OnUpdate installs the push hook. It is called outside the session lock.
func (s *Session) OnUpdate(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Open subscribes to the user's conversations and loads the list. A
// subscription failure leaves the session degraded but usable; it is
// returned after the list has loaded.
func (s *Session) Open(ctx context.Context) error {
	if err := s.requireUser(ctx, "open"); err != nil {
		return err
	}

	subErr := s.ctrl.Start(ctx, s.userID)
	if subErr != nil && errors.Is(subErr, realtime.ErrStopped) {
		return subErr
	}
	if err := s.loadConversations(ctx); err != nil {
		return err
	}
	return subErr
}

// Close stops the live subscription. It is idempotent.
func (s *Session) Close() {
	if s.ctrl != nil {
		s.ctrl.Stop()
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		UserID:        s.userID,
		Active:        s.active,
		Messages:      append([]models.MessageView(nil), s.messages...),
		Conversations: append([]models.ConversationSummary(nil), s.conversations...),
		Draft:         s.draft,
		Degraded:      s.degraded,
	}
	if s.ctrl != nil {
		st.Watched = s.ctrl.Watched()
	}
	return st
}

// SetDraft records the composer text.
func (s *Session) SetDraft(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = content
}

// OpenConversation makes an existing conversation active and loads its
// messages.
func (s *Session) OpenConversation(ctx context.Context, id uint) error {
	if err := s.requireUser(ctx, "open_conversation"); err != nil {
		return err
	}
	if _, err := s.deps.Conversations.GetForParticipant(ctx, id, s.userID); err != nil {
		return err
	}
	s.setActive(realtime.Existing(id), nil)
	return s.loadMessages(ctx, id)
}

// MessageFriend opens the private conversation with friendID, or a pending
// one that is created on first send.
func (s *Session) MessageFriend(ctx context.Context, friendID string) error {
	if err := s.requireUser(ctx, "message_friend"); err != nil {
		return err
	}
	friendID = strings.TrimSpace(friendID)
	if friendID == "" || friendID == s.userID {
		return models.NewValidationError("Cannot message this user").WithKey(models.KeyInvalidParticipantCount)
	}

	conv, err := s.deps.Conversations.FindPrivateWith(ctx, s.userID, friendID)
	if err != nil {
		return err
	}
	if conv == nil {
		s.setActive(realtime.Pending(friendID), []models.MessageView{})
		return nil
	}
	s.setActive(realtime.Existing(conv.ID), nil)
	return s.loadMessages(ctx, conv.ID)
}

// SendMessage sends content to the active conversation. A pending
// conversation is created first and the subscription is replaced before the
// message is appended, so the sender sees its own insert. The draft survives
// any failure.
func (s *Session) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	if err := s.requireUser(ctx, "send_message"); err != nil {
		return nil, err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.SetDraft(content)
	if strings.TrimSpace(content) == "" {
		return nil, models.NewValidationError("Message content is required").WithKey(models.KeyEmptyContent)
	}

	active := s.currentActive()
	var convID uint
	switch active.Kind {
	case realtime.ActiveExisting:
		convID = active.ConversationID
	case realtime.ActivePending:
		conv, _, err := s.deps.Conversations.CreatePrivate(ctx, s.userID, active.TargetUserID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to create pending conversation",
				slog.String("target_user_id", active.TargetUserID),
				slog.String("error", err.Error()))
			return nil, sendFailure(err)
		}
		convID = conv.ID
		s.setActive(realtime.Existing(convID), nil)
		if err := s.ctrl.Resubscribe(ctx); err != nil {
			s.logger.WarnContext(ctx, "resubscribe after create failed",
				slog.Uint64("conversation_id", uint64(convID)),
				slog.String("error", err.Error()))
		}
	default:
		return nil, models.NewValidationError("No conversation is open").WithKey(models.KeyErrorSendMessage)
	}

	msg, err := s.deps.Messages.Append(ctx, convID, s.userID, content)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send message",
			slog.Uint64("conversation_id", uint64(convID)),
			slog.String("error", err.Error()))
		return nil, sendFailure(err)
	}

	s.mu.Lock()
	if s.draft == content {
		s.draft = ""
	}
	s.mu.Unlock()

	s.RefreshMessages(ctx, convID)
	s.RefreshConversations(ctx)
	return msg, nil
}

// CreateConversation creates a private conversation for one invitee or a
// named group for several, makes it active and widens the subscription to
// cover it.
func (s *Session) CreateConversation(ctx context.Context, name string, participantIDs []string) (*models.Conversation, error) {
	if err := s.requireUser(ctx, "create_conversation"); err != nil {
		return nil, err
	}

	invitees := Invitees(s.userID, participantIDs)
	var (
		conv *models.Conversation
		err  error
	)
	switch len(invitees) {
	case 0:
		return nil, models.NewValidationError("Select at least one participant").WithKey(models.KeyInvalidParticipantCount)
	case 1:
		conv, _, err = s.deps.Conversations.CreatePrivate(ctx, s.userID, invitees[0])
	default:
		conv, err = s.deps.Conversations.CreateGroup(ctx, name, s.userID, invitees)
	}
	if err != nil {
		return nil, err
	}

	s.setActive(realtime.Existing(conv.ID), nil)
	if err := s.ctrl.Resubscribe(ctx); err != nil {
		s.logger.WarnContext(ctx, "resubscribe after create failed",
			slog.Uint64("conversation_id", uint64(conv.ID)),
			slog.String("error", err.Error()))
		s.RefreshMessages(ctx, conv.ID)
		s.RefreshConversations(ctx)
	}
	return conv, nil
}

// Invitees trims and de-duplicates participantIDs and drops self.
func Invitees(self string, participantIDs []string) []string {
	out := make([]string, 0, len(participantIDs))
	seen := map[string]bool{self: true}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// RefreshMessages re-fetches the messages of convID. The result is applied
// only if convID is still the active conversation when the fetch returns and
// no fetch issued later has been applied already.
func (s *Session) RefreshMessages(ctx context.Context, convID uint) {
	if err := s.loadMessages(ctx, convID); err != nil {
		s.logger.WarnContext(ctx, "message refresh failed",
			slog.Uint64("conversation_id", uint64(convID)),
			slog.String("error", err.Error()))
	}
}

// RefreshConversations re-fetches the conversation list. Like
// RefreshMessages, a result overtaken by a later fetch is dropped.
func (s *Session) RefreshConversations(ctx context.Context) {
	if err := s.loadConversations(ctx); err != nil {
		s.logger.WarnContext(ctx, "conversation refresh failed", slog.String("error", err.Error()))
	}
}

// SubscriptionStatus records whether live updates are available.
func (s *Session) SubscriptionStatus(degraded bool, err error) {
	s.mu.Lock()
	s.degraded = degraded
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("live updates status changed",
			slog.Bool("degraded", degraded),
			slog.String("error", err.Error()))
	}
	s.emit(UpdateStatus)
}

// Friends returns the user's accepted, sent and received edges.
func (s *Session) Friends(ctx context.Context) (*models.FriendOverview, error) {
	if err := s.requireUser(ctx, "friends"); err != nil {
		return nil, err
	}
	return s.deps.Friends.Overview(ctx, s.userID)
}

// SearchUsers finds riders the user can send a request to.
func (s *Session) SearchUsers(ctx context.Context, query string) ([]models.UserProfile, error) {
	if err := s.requireUser(ctx, "search_users"); err != nil {
		return nil, err
	}
	return s.deps.Friends.SearchUsers(ctx, s.userID, query)
}

// SendFriendRequest sends a pending request to target.
func (s *Session) SendFriendRequest(ctx context.Context, target string) (*models.Friendship, error) {
	if err := s.requireUser(ctx, "send_friend_request"); err != nil {
		return nil, err
	}
	return s.deps.Friends.SendRequest(ctx, s.userID, target)
}

// Accept accepts a received request.
func (s *Session) Accept(ctx context.Context, id uint) (*models.Friendship, error) {
	return s.respond(ctx, id, models.DecisionAccept)
}

// Decline rejects a received request.
func (s *Session) Decline(ctx context.Context, id uint) (*models.Friendship, error) {
	return s.respond(ctx, id, models.DecisionReject)
}

// Block blocks the sender of a received request.
func (s *Session) Block(ctx context.Context, id uint) (*models.Friendship, error) {
	return s.respond(ctx, id, models.DecisionBlock)
}

// Cancel withdraws a sent request.
func (s *Session) Cancel(ctx context.Context, id uint) error {
	if err := s.requireUser(ctx, "cancel_friend_request"); err != nil {
		return err
	}
	return s.deps.Friends.Cancel(ctx, s.userID, id)
}

// Unfriend removes an accepted friendship.
func (s *Session) Unfriend(ctx context.Context, id uint) error {
	if err := s.requireUser(ctx, "unfriend"); err != nil {
		return err
	}
	return s.deps.Friends.Unfriend(ctx, s.userID, id)
}

func (s *Session) respond(ctx context.Context, id uint, decision models.FriendshipDecision) (*models.Friendship, error) {
	if err := s.requireUser(ctx, "respond_friend_request"); err != nil {
		return nil, err
	}
	return s.deps.Friends.Respond(ctx, s.userID, id, decision)
}

func (s *Session) requireUser(ctx context.Context, op string) error {
	if s.userID != "" {
		return nil
	}
	s.logger.WarnContext(ctx, "anonymous session operation rejected", slog.String("operation", op))
	return models.NewForbiddenError()
}

func (s *Session) currentActive() realtime.Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// setActive switches the open conversation. A non-nil messages replaces the
// list; nil clears it until the next load.
func (s *Session) setActive(a realtime.Active, messages []models.MessageView) {
	s.mu.Lock()
	changed := s.active != a
	s.active = a
	if changed || messages != nil {
		s.messages = messages
	}
	s.mu.Unlock()

	s.ctrl.SetActive(a)
	if changed {
		s.emit(UpdateActive)
	}
}

func (s *Session) loadMessages(ctx context.Context, convID uint) error {
	s.mu.Lock()
	s.messagesIssued++
	seq := s.messagesIssued
	s.mu.Unlock()

	views, err := s.deps.Messages.ListForParticipant(ctx, convID, s.userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.active.IsExisting(convID) || seq < s.messagesApplied {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "discarding stale message refresh",
			slog.Uint64("conversation_id", uint64(convID)),
			slog.Uint64("fetch", seq))
		return nil
	}
	s.messagesApplied = seq
	s.messages = views
	s.mu.Unlock()

	s.emit(UpdateMessages)
	return nil
}

func (s *Session) loadConversations(ctx context.Context) error {
	s.mu.Lock()
	s.convsIssued++
	seq := s.convsIssued
	s.mu.Unlock()

	summaries, err := s.deps.Conversations.ListForUser(ctx, s.userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if seq < s.convsApplied {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "discarding stale conversation refresh", slog.Uint64("fetch", seq))
		return nil
	}
	s.convsApplied = seq
	s.conversations = summaries
	s.mu.Unlock()

	s.emit(UpdateConversations)
	return nil
}

func (s *Session) emit(kind UpdateKind) {
	s.mu.Lock()
	fn := s.onUpdate
	var st State
	if fn != nil {
		st = s.snapshotLocked()
	}
	s.mu.Unlock()

	if fn != nil {
		fn(Update{Kind: kind, State: st})
	}
}

// sendFailure tags err with the send-failure key unless it already carries
// a more specific one.
func sendFailure(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		if appErr.Key != "" {
			return appErr
		}
		return appErr.WithKey(models.KeyErrorSendMessage)
	}
	return models.NewInternalError(err).WithKey(models.KeyErrorSendMessage)
}
