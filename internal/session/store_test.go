package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/repository"
	"github.com/guiIerme/JobFinder-sub003/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFinalizer struct {
	repo  repository.Store
	calls atomic.Int32
	seals atomic.Int32
}

func (f *countingFinalizer) Finalize(ctx context.Context, sessionID string, reason domain.CloseReason) error {
	f.calls.Add(1)
	ok, err := f.repo.FinalizeAnalytics(ctx, sessionID, reason, time.Now())
	if ok {
		f.seals.Add(1)
	}
	return err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (n *recordingNotifier) Notify(ev domain.SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []domain.SessionEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.SessionEventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSessionStore(t *testing.T) (*Store, *countingFinalizer, *recordingNotifier, *fakeClock) {
	t.Helper()
	repo := testutil.NewTestSQLiteStore(t)
	fin := &countingFinalizer{repo: repo}
	notes := &recordingNotifier{}
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := New(repo, WithFinalizer(fin), WithNotifier(notes), WithClock(clock.Now))
	return store, fin, notes, clock
}

func userMsg(text string) *domain.Message {
	return &domain.Message{Sender: domain.SenderUser, Content: text}
}

func TestConcurrentAppendsStayOrdered(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestSessionStore(t)

	sess, err := store.Create(ctx, domain.Owner{UserID: "u1"}, domain.RoleClient, nil)
	require.NoError(t, err)

	const writers, perWriter = 8, 6
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := store.AppendMessages(ctx, sess.SessionID,
					userMsg(fmt.Sprintf("w%d-%d", w, i)),
					&domain.Message{Sender: domain.SenderAssistant, Content: fmt.Sprintf("r%d-%d", w, i)})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	history, err := store.History(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, writers*perWriter*2)

	lastPerWriter := map[int]int{}
	for i, m := range history {
		assert.Equal(t, int64(i+1), m.Seq)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(history[i-1].CreatedAt))
		}
		// Each pair stays adjacent.
		if i%2 == 1 {
			assert.Equal(t, domain.SenderAssistant, m.Sender)
			assert.Equal(t, "r"+history[i-1].Content[1:], m.Content)
			continue
		}
		var w, n int
		_, err := fmt.Sscanf(m.Content, "w%d-%d", &w, &n)
		require.NoError(t, err)
		if prev, ok := lastPerWriter[w]; ok {
			assert.Greater(t, n, prev)
		}
		lastPerWriter[w] = n
	}
	assert.Zero(t, store.sessions.Len())
}

func TestResolveResumesWithinRetention(t *testing.T) {
	ctx := context.Background()
	store, _, notes, clock := newTestSessionStore(t)
	owner := domain.Owner{UserID: "u1"}

	first, resumed, err := store.Resolve(ctx, owner, domain.RoleClient, map[string]any{"page": "/"})
	require.NoError(t, err)
	assert.False(t, resumed)
	require.NoError(t, store.AppendMessages(ctx, first.SessionID, userMsg("oi"), userMsg("tudo bem?")))

	clock.Advance(23 * time.Hour)

	second, resumed, err := store.Resolve(ctx, owner, domain.RoleClient, map[string]any{"page": "/servicos"})
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "/servicos", second.Page())

	history, err := store.History(ctx, second.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "oi", history[0].Content)
	assert.Equal(t, []domain.SessionEventType{domain.SessionCreated, domain.SessionResumed}, notes.types())
}

func TestResolveAfterRetentionStartsNewSession(t *testing.T) {
	ctx := context.Background()
	store, fin, _, clock := newTestSessionStore(t)
	owner := domain.Owner{AnonymousID: "anon-1"}

	first, _, err := store.Resolve(ctx, owner, domain.RoleAnonymous, nil)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, first.SessionID, userMsg("oi")))

	clock.Advance(25 * time.Hour)

	second, resumed, err := store.Resolve(ctx, owner, domain.RoleAnonymous, nil)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	old, err := store.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, int32(1), fin.seals.Load())

	history, err := store.History(ctx, second.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConcurrentResolveSharesSession(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestSessionStore(t)
	owner := domain.Owner{UserID: "u-multi"}

	ids := make([]string, 6)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, _, err := store.Resolve(ctx, owner, domain.RoleClient, nil)
			if assert.NoError(t, err) {
				ids[i] = sess.SessionID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestDoubleCloseFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	store, fin, notes, _ := newTestSessionStore(t)

	sess, err := store.Create(ctx, domain.Owner{UserID: "u1"}, domain.RoleClient, nil)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, sess.SessionID, userMsg("oi")))

	first, err := store.Close(ctx, sess.SessionID, domain.CloseReasonClient)
	require.NoError(t, err)
	second, err := store.Close(ctx, sess.SessionID, domain.CloseReasonAdmin)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, int32(1), fin.calls.Load())
	assert.Equal(t, int32(1), fin.seals.Load())
	assert.Equal(t, []domain.SessionEventType{domain.SessionCreated, domain.SessionClosed}, notes.types())
}

func TestAppendToClosedSession(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestSessionStore(t)

	sess, err := store.Create(ctx, domain.Owner{UserID: "u1"}, domain.RoleClient, nil)
	require.NoError(t, err)
	_, err = store.Close(ctx, sess.SessionID, domain.CloseReasonClient)
	require.NoError(t, err)

	err = store.AppendMessages(ctx, sess.SessionID, userMsg("late"))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	// A reply generated before the close still lands, tagged terminal.
	reply := &domain.Message{Sender: domain.SenderAssistant, Content: "resposta"}
	terminal, err := store.AppendReply(ctx, sess.SessionID, userMsg("pergunta"), reply)
	require.NoError(t, err)
	assert.True(t, terminal)

	history, err := store.History(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, true, history[1].Metadata[domain.MetaTerminal])
}

func TestGetUnknownSession(t *testing.T) {
	store, _, _, _ := newTestSessionStore(t)
	_, err := store.Get(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.AppendReply(context.Background(), "sess_missing", userMsg("x"), nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestUpdateContextLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestSessionStore(t)

	sess, err := store.Create(ctx, domain.Owner{UserID: "u1"}, domain.RoleClient,
		map[string]any{"page": "/", "topic": "plumbing"})
	require.NoError(t, err)

	_, err = store.UpdateContext(ctx, sess.SessionID, map[string]any{"page": "/servicos"})
	require.NoError(t, err)
	updated, err := store.UpdateContext(ctx, sess.SessionID, map[string]any{"page": "/perfil", "topic": nil})
	require.NoError(t, err)

	assert.Equal(t, "/perfil", updated.Page())
	assert.Empty(t, updated.Topic())

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"page": "/perfil"}, got.Context)
}

func TestCleanupExpiredClosesIdleSessions(t *testing.T) {
	ctx := context.Background()
	store, fin, _, clock := newTestSessionStore(t)

	idle, err := store.Create(ctx, domain.Owner{UserID: "idle"}, domain.RoleClient, nil)
	require.NoError(t, err)
	clock.Advance(20 * time.Hour)
	busy, err := store.Create(ctx, domain.Owner{UserID: "busy"}, domain.RoleClient, nil)
	require.NoError(t, err)
	clock.Advance(5 * time.Hour)

	closed, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	got, err := store.Get(ctx, idle.SessionID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	got, err = store.Get(ctx, busy.SessionID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, int32(1), fin.seals.Load())
}

func TestSatisfactionAndEscalation(t *testing.T) {
	ctx := context.Background()
	store, _, notes, _ := newTestSessionStore(t)

	sess, err := store.Create(ctx, domain.Owner{UserID: "u1"}, domain.RoleClient, nil)
	require.NoError(t, err)

	var verr *domain.ValidationError
	assert.ErrorAs(t, store.SetSatisfaction(ctx, sess.SessionID, 9), &verr)
	require.NoError(t, store.SetSatisfaction(ctx, sess.SessionID, 2))

	first, err := store.MarkEscalated(ctx, sess.SessionID)
	require.NoError(t, err)
	again, err := store.MarkEscalated(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got.Satisfaction)
	assert.Equal(t, 2, *got.Satisfaction)
	assert.True(t, got.Escalated)
	assert.True(t, got.HandoffPending)

	require.NoError(t, store.ClearHandoff(ctx, sess.SessionID))
	got, err = store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.False(t, got.HandoffPending)
	assert.Contains(t, notes.types(), domain.SessionEscalated)
}
