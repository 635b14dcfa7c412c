package community

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roadcrew/internal/changefeed"
	"roadcrew/internal/models"
	"roadcrew/internal/realtime"
	"roadcrew/internal/repository"
	"roadcrew/internal/service"
	"roadcrew/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db            *gorm.DB
	feed          *changefeed.MemoryFeed
	friends       *service.FriendService
	conversations *service.ConversationService
	messages      *service.MessageService
}

func newTestEnv(t *testing.T, riders ...string) *testEnv {
	t.Helper()
	feed := changefeed.NewMemoryFeed()
	t.Cleanup(func() { _ = feed.Close() })
	db := testutil.NewSQLiteDB(t, changefeed.NewPlugin(feed))

	profiles := repository.NewProfileRepository(db)
	for _, r := range riders {
		require.NoError(t, profiles.Create(context.Background(), &models.UserProfile{UserID: r, Username: r + "_moto"}))
	}
	chat := repository.NewChatRepository(db)
	friends := service.NewFriendService(repository.NewFriendRepository(db), profiles)
	return &testEnv{
		db:            db,
		feed:          feed,
		friends:       friends,
		conversations: service.NewConversationService(chat, profiles, friends, nil),
		messages:      service.NewMessageService(chat, profiles),
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Friends:       e.friends,
		Conversations: e.conversations,
		Messages:      e.messages,
		Feed:          e.feed,
		Realtime:      realtime.Options{RetryAttempts: 2, RetryBaseDelay: time.Millisecond},
	}
}

func (e *testEnv) open(t *testing.T, userID string, deps Deps) *Session {
	t.Helper()
	s := NewSession(userID, deps)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func appCode(t *testing.T, err error) (string, string) {
	t.Helper()
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code, appErr.Key
}

func TestSession_PendingConversationCreatedOnFirstSend(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	s := env.open(t, "alice", env.deps())

	assert.Empty(t, s.Snapshot().Watched)

	require.NoError(t, s.MessageFriend(ctx, "bob"))
	st := s.Snapshot()
	assert.Equal(t, realtime.Pending("bob"), st.Active)
	assert.Empty(t, st.Messages)
	var convCount int64
	require.NoError(t, env.db.Model(&models.Conversation{}).Count(&convCount).Error)
	assert.Zero(t, convCount)

	msg, err := s.SendMessage(ctx, "hello")
	require.NoError(t, err)

	st = s.Snapshot()
	assert.Equal(t, realtime.Existing(msg.ConversationID), st.Active)
	assert.Equal(t, []uint{msg.ConversationID}, st.Watched)
	assert.Empty(t, st.Draft)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "hello", st.Messages[0].Content)
	assert.Equal(t, "alice", st.Messages[0].SenderID)
	require.Len(t, st.Conversations, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, st.Conversations[0].ParticipantIDs())
	assert.Equal(t, models.ConversationTypePrivate, st.Conversations[0].Type)

	// The widened subscription delivers the other side's reply.
	_, err = env.messages.Append(ctx, msg.ConversationID, "bob", "see you at the pass")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(s.Snapshot().Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "see you at the pass", s.Snapshot().Messages[1].Content)
}

func TestSession_MessageFriendReusesExistingConversation(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	conv, _, err := env.conversations.CreatePrivate(ctx, "bob", "alice")
	require.NoError(t, err)
	_, err = env.messages.Append(ctx, conv.ID, "bob", "ride sunday?")
	require.NoError(t, err)

	s := env.open(t, "alice", env.deps())
	require.NoError(t, s.MessageFriend(ctx, "bob"))

	st := s.Snapshot()
	assert.Equal(t, realtime.Existing(conv.ID), st.Active)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "bob_moto", st.Messages[0].SenderName("unknown"))

	_, err = s.SendMessage(ctx, "yes")
	require.NoError(t, err)
	var n int64
	require.NoError(t, env.db.Model(&models.Conversation{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestSession_MessageFriendValidation(t *testing.T) {
	env := newTestEnv(t, "alice")
	s := env.open(t, "alice", env.deps())

	for _, target := range []string{"", "  ", "alice"} {
		code, _ := appCode(t, s.MessageFriend(context.Background(), target))
		assert.Equal(t, models.CodeValidation, code, target)
	}
}

type failingMessages struct {
	MessageOps
	err error
}

func (f *failingMessages) Append(context.Context, uint, string, string) (*models.Message, error) {
	return nil, f.err
}

type failingPrivate struct {
	ConversationOps
}

func (failingPrivate) CreatePrivate(context.Context, string, string) (*models.Conversation, bool, error) {
	return nil, false, models.NewInternalError(errors.New("connection refused"))
}

func TestSession_DraftKeptOnFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("append fails", func(t *testing.T) {
		env := newTestEnv(t, "alice", "bob")
		conv, _, err := env.conversations.CreatePrivate(ctx, "alice", "bob")
		require.NoError(t, err)

		deps := env.deps()
		deps.Messages = &failingMessages{MessageOps: env.messages, err: errors.New("timeout")}
		s := env.open(t, "alice", deps)
		require.NoError(t, s.OpenConversation(ctx, conv.ID))

		_, err = s.SendMessage(ctx, "on my way")
		code, key := appCode(t, err)
		assert.Equal(t, models.CodeInternal, code)
		assert.Equal(t, models.KeyErrorSendMessage, key)
		assert.Equal(t, "on my way", s.Snapshot().Draft)
	})

	t.Run("pending create fails", func(t *testing.T) {
		env := newTestEnv(t, "alice", "bob")
		deps := env.deps()
		deps.Conversations = failingPrivate{ConversationOps: env.conversations}
		s := env.open(t, "alice", deps)
		require.NoError(t, s.MessageFriend(ctx, "bob"))

		_, err := s.SendMessage(ctx, "hello")
		_, key := appCode(t, err)
		assert.Equal(t, models.KeyErrorSendMessage, key)

		st := s.Snapshot()
		assert.Equal(t, realtime.Pending("bob"), st.Active)
		assert.Equal(t, "hello", st.Draft)
		var n int64
		require.NoError(t, env.db.Model(&models.Message{}).Count(&n).Error)
		assert.Zero(t, n)
	})
}

func TestSession_WhitespaceMessageRejected(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	s := env.open(t, "alice", env.deps())
	require.NoError(t, s.MessageFriend(ctx, "bob"))

	_, err := s.SendMessage(ctx, "   ")
	code, key := appCode(t, err)
	assert.Equal(t, models.CodeValidation, code)
	assert.Equal(t, models.KeyEmptyContent, key)

	var convs, msgs int64
	require.NoError(t, env.db.Model(&models.Conversation{}).Count(&convs).Error)
	require.NoError(t, env.db.Model(&models.Message{}).Count(&msgs).Error)
	assert.Zero(t, convs)
	assert.Zero(t, msgs)
	assert.Equal(t, realtime.Pending("bob"), s.Snapshot().Active)
}

func TestSession_SendWithoutActiveConversation(t *testing.T) {
	env := newTestEnv(t, "alice")
	s := env.open(t, "alice", env.deps())

	_, err := s.SendMessage(context.Background(), "hello")
	code, _ := appCode(t, err)
	assert.Equal(t, models.CodeValidation, code)
	assert.Equal(t, "hello", s.Snapshot().Draft)
}

type gatedMessages struct {
	MessageOps
	gate    uint
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMessages) ListForParticipant(ctx context.Context, id uint, viewer string) ([]models.MessageView, error) {
	views, err := g.MessageOps.ListForParticipant(ctx, id, viewer)
	if id == g.gate && g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return views, err
}

func TestSession_StaleMessageRefreshDiscarded(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	first, _, err := env.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	second, _, err := env.conversations.CreatePrivate(ctx, "alice", "carol")
	require.NoError(t, err)
	_, err = env.messages.Append(ctx, first.ID, "bob", "from bob")
	require.NoError(t, err)
	_, err = env.messages.Append(ctx, second.ID, "carol", "from carol")
	require.NoError(t, err)

	gated := &gatedMessages{
		MessageOps: env.messages,
		gate:       first.ID,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	deps := env.deps()
	deps.Messages = gated
	s := env.open(t, "alice", deps)
	require.NoError(t, s.OpenConversation(ctx, first.ID))

	gated.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RefreshMessages(ctx, first.ID)
	}()
	<-gated.entered

	require.NoError(t, s.OpenConversation(ctx, second.ID))
	close(gated.release)
	<-done

	st := s.Snapshot()
	assert.Equal(t, realtime.Existing(second.ID), st.Active)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "from carol", st.Messages[0].Content)
}

func TestSession_OpenConversationRequiresMembership(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "dave")
	ctx := context.Background()
	conv, _, err := env.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	s := env.open(t, "dave", env.deps())
	code, _ := appCode(t, s.OpenConversation(ctx, conv.ID))
	assert.Equal(t, models.CodeForbidden, code)
	assert.Equal(t, realtime.None(), s.Snapshot().Active)
}

func TestSession_CreateConversation(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	s := env.open(t, "alice", env.deps())

	t.Run("one invitee is private", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, "ignored", []string{"bob", "alice", "bob"})
		require.NoError(t, err)
		assert.Equal(t, models.ConversationTypePrivate, conv.Type)
		assert.Equal(t, realtime.Existing(conv.ID), s.Snapshot().Active)
		assert.Contains(t, s.Snapshot().Watched, conv.ID)
	})

	t.Run("several invitees is a group", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, "Trip", []string{"bob", "carol"})
		require.NoError(t, err)
		assert.Equal(t, models.ConversationTypeGroup, conv.Type)

		st := s.Snapshot()
		assert.Contains(t, st.Watched, conv.ID)
		require.NotEmpty(t, st.Conversations)
		assert.Equal(t, conv.ID, st.Conversations[0].ID)
	})

	t.Run("group needs a name", func(t *testing.T) {
		_, err := s.CreateConversation(ctx, "  ", []string{"bob", "carol"})
		code, key := appCode(t, err)
		assert.Equal(t, models.CodeValidation, code)
		assert.Equal(t, models.KeyMissingName, key)
	})

	t.Run("needs an invitee", func(t *testing.T) {
		_, err := s.CreateConversation(ctx, "Solo", []string{"alice", ""})
		_, key := appCode(t, err)
		assert.Equal(t, models.KeyInvalidParticipantCount, key)
	})
}

func TestSession_FriendOperations(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	alice := env.open(t, "alice", env.deps())
	bob := env.open(t, "bob", env.deps())
	carol := env.open(t, "carol", env.deps())

	req, err := alice.SendFriendRequest(ctx, "bob")
	require.NoError(t, err)
	accepted, err := bob.Accept(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusAccepted, accepted.Status)

	overview, err := alice.Friends(ctx)
	require.NoError(t, err)
	require.Len(t, overview.Accepted, 1)
	assert.Equal(t, "bob", overview.Accepted[0].CounterpartID)

	declined, err := carol.SendFriendRequest(ctx, "alice")
	require.NoError(t, err)
	got, err := alice.Decline(ctx, declined.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusRejected, got.Status)

	blocked, err := carol.SendFriendRequest(ctx, "bob")
	require.NoError(t, err)
	got, err = bob.Block(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusBlocked, got.Status)

	pending, err := alice.SendFriendRequest(ctx, "dave")
	require.NoError(t, err)
	code, _ := appCode(t, carol.Cancel(ctx, pending.ID))
	assert.Equal(t, models.CodeForbidden, code)
	require.NoError(t, alice.Cancel(ctx, pending.ID))

	found, err := alice.SearchUsers(ctx, "_moto")
	require.NoError(t, err)
	ids := make([]string, 0, len(found))
	for _, p := range found {
		ids = append(ids, p.UserID)
	}
	assert.NotContains(t, ids, "alice")
	assert.NotContains(t, ids, "bob")
	assert.Contains(t, ids, "dave")

	require.NoError(t, bob.Unfriend(ctx, req.ID))
	overview, err = alice.Friends(ctx)
	require.NoError(t, err)
	assert.Empty(t, overview.Accepted)
}

func TestSession_AnonymousIsForbidden(t *testing.T) {
	env := newTestEnv(t, "bob")
	ctx := context.Background()
	s := NewSession("  ", env.deps())

	forbidden := func(err error) {
		t.Helper()
		code, _ := appCode(t, err)
		assert.Equal(t, models.CodeForbidden, code)
	}

	forbidden(s.Open(ctx))
	forbidden(s.OpenConversation(ctx, 1))
	forbidden(s.MessageFriend(ctx, "bob"))
	_, err := s.SendMessage(ctx, "hi")
	forbidden(err)
	_, err = s.CreateConversation(ctx, "x", []string{"bob"})
	forbidden(err)
	_, err = s.SendFriendRequest(ctx, "bob")
	forbidden(err)
	_, err = s.Accept(ctx, 1)
	forbidden(err)
	_, err = s.Decline(ctx, 1)
	forbidden(err)
	_, err = s.Block(ctx, 1)
	forbidden(err)
	forbidden(s.Cancel(ctx, 1))
	forbidden(s.Unfriend(ctx, 1))
	_, err = s.Friends(ctx)
	forbidden(err)
	_, err = s.SearchUsers(ctx, "bob")
	forbidden(err)

	assert.NotPanics(t, s.Close)
	assert.Equal(t, realtime.None(), s.Snapshot().Active)
	assert.Zero(t, env.feed.Len())
}

func TestSession_OnUpdateHook(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	s := env.open(t, "alice", env.deps())

	var mu sync.Mutex
	var kinds []UpdateKind
	s.OnUpdate(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, u.Kind)
	})

	require.NoError(t, s.MessageFriend(ctx, "bob"))
	_, err := s.SendMessage(ctx, "hello")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, UpdateActive, kinds[0])
	assert.Contains(t, kinds, UpdateMessages)
	assert.Contains(t, kinds, UpdateConversations)
}

func TestSession_DegradedWhenFeedUnavailable(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	_, _, err := env.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	closed := changefeed.NewMemoryFeed()
	require.NoError(t, closed.Close())
	deps := env.deps()
	deps.Feed = closed

	s := NewSession("alice", deps)
	defer s.Close()
	err = s.Open(ctx)
	assert.ErrorIs(t, err, changefeed.ErrFeedClosed)

	st := s.Snapshot()
	assert.True(t, st.Degraded)
	assert.Len(t, st.Conversations, 1)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	_, _, err := env.conversations.CreatePrivate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	s := NewSession("alice", env.deps())
	require.NoError(t, s.Open(context.Background()))
	// Messages of the one conversation, plus alice's participant rows.
	assert.Equal(t, 2, env.feed.Len())

	s.Close()
	s.Close()
	assert.Zero(t, env.feed.Len())
}

func TestSession_InviteeWatchesNewConversation(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	alice := env.open(t, "alice", env.deps())
	bob := env.open(t, "bob", env.deps())
	assert.Empty(t, bob.Snapshot().Watched)

	require.NoError(t, alice.MessageFriend(ctx, "bob"))
	msg, err := alice.SendMessage(ctx, "hello")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := bob.Snapshot()
		return len(st.Watched) == 1 && st.Watched[0] == msg.ConversationID && len(st.Conversations) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.OpenConversation(ctx, msg.ConversationID))
	_, err = alice.SendMessage(ctx, "leaving now")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(bob.Snapshot().Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ConversationCreatedElsewhereIsWatched(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	s := env.open(t, "alice", env.deps())

	// Same path as a REST create while the socket is open.
	conv, err := env.conversations.CreateGroup(ctx, "Dawn patrol", "alice", []string{"bob", "carol"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := s.Snapshot()
		return len(st.Watched) == 1 && st.Watched[0] == conv.ID && len(st.Conversations) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_OvertakenMessageRefreshDiscarded(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	conv, _, err := env.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.messages.Append(ctx, conv.ID, "bob", "one")
	require.NoError(t, err)

	gated := &gatedMessages{
		MessageOps: env.messages,
		gate:       conv.ID,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	deps := env.deps()
	deps.Messages = gated
	s := env.open(t, "alice", deps)
	require.NoError(t, s.OpenConversation(ctx, conv.ID))

	gated.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RefreshMessages(ctx, conv.ID)
	}()
	<-gated.entered

	_, err = s.SendMessage(ctx, "two")
	require.NoError(t, err)
	require.Len(t, s.Snapshot().Messages, 2)

	close(gated.release)
	<-done
	assert.Len(t, s.Snapshot().Messages, 2)
}

type gatedConversations struct {
	ConversationOps
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedConversations) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	list, err := g.ConversationOps.ListForUser(ctx, userID)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return list, err
}

func TestSession_OvertakenConversationRefreshDiscarded(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	_, _, err := env.conversations.CreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	gated := &gatedConversations{
		ConversationOps: env.conversations,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	deps := env.deps()
	deps.Conversations = gated
	s := env.open(t, "alice", deps)
	require.Len(t, s.Snapshot().Conversations, 1)

	gated.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RefreshConversations(ctx)
	}()
	<-gated.entered

	_, _, err = env.conversations.CreatePrivate(ctx, "alice", "carol")
	require.NoError(t, err)
	s.RefreshConversations(ctx)
	require.Len(t, s.Snapshot().Conversations, 2)

	close(gated.release)
	<-done
	assert.Len(t, s.Snapshot().Conversations, 2)
}
