package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"uni.edu.pe/chatbot-uni/internal/answerer"
	"uni.edu.pe/chatbot-uni/internal/format"
	"uni.edu.pe/chatbot-uni/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)}
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

type fakeAnswerer struct {
	healthErr error
	answer    func(ctx context.Context, question string) (string, error)
	asks      atomic.Int32
}

func (f *fakeAnswerer) Health(context.Context) error { return f.healthErr }

func (f *fakeAnswerer) Ask(ctx context.Context, question string) (string, error) {
	f.asks.Add(1)
	if f.answer == nil {
		return "Respuesta para " + question, nil
	}
	return f.answer(ctx, question)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, st store.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateUser(context.Background(), &store.User{
		ID:        id,
		Email:     id + "@uni.edu.pe",
		GivenName: "Test",
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

type sessionFixture struct {
	store    *store.SQLiteStore
	answerer *fakeAnswerer
	clock    *fakeClock
	session  *ChatSession
}

func newSessionFixture(t *testing.T, userID string) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		store:    newTestStore(t),
		answerer: &fakeAnswerer{},
		clock:    newFakeClock(),
	}
	seedUser(t, f.store, userID)
	f.session = NewChatSession("s1", userID, SessionDeps{
		Store:    f.store,
		Answerer: f.answerer,
		Now:      f.clock.Now,
	})
	return f
}

func TestChatSession_FirstExchangeCreatesTranscript(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	answer := "**Matrícula:** 1. Fecha: 10 de marzo"
	f.answerer.answer = func(context.Context, string) (string, error) { return answer, nil }

	view, err := f.session.Mount(ctx, "")
	require.NoError(t, err)
	require.Equal(t, ConnectivityOnline, view.Connectivity)
	require.Equal(t, StateNewUnsaved, view.State)
	require.True(t, view.ShowSuggestions)
	require.Len(t, view.Suggestions, 6)
	require.Len(t, view.Messages, 1)
	require.True(t, view.Messages[0].IsWelcome())

	view, err = f.session.Submit(ctx, "  fechas de matrícula 2024  ")
	require.NoError(t, err)
	require.Equal(t, StateBound, view.State)
	require.NotEmpty(t, view.TranscriptID)
	require.Equal(t, "/chat/"+view.TranscriptID, view.Location)
	require.False(t, view.ShowSuggestions)
	require.False(t, view.Typing)
	require.Len(t, view.Messages, 3)

	bot := view.Messages[2]
	require.Equal(t, store.SenderBot, bot.Sender)
	require.True(t, bot.FromAPI)
	require.NotNil(t, bot.Document)
	wantHTML, err := format.HTML(answer)
	require.NoError(t, err)
	require.Equal(t, wantHTML, bot.HTML)
	require.Nil(t, view.Messages[1].Document)

	stored, err := f.store.GetTranscript(ctx, view.TranscriptID)
	require.NoError(t, err)
	require.Equal(t, "alice", stored.UserID)
	require.Equal(t, "fechas de matrícula 2024", stored.Title)
	require.Equal(t, answer, stored.LastMessage)
	require.Len(t, stored.Messages, 3)
	require.True(t, stored.Messages[0].IsWelcome())
	require.Equal(t, store.SenderUser, stored.Messages[1].Sender)
	require.Equal(t, "fechas de matrícula 2024", stored.Messages[1].Text)
	require.Equal(t, answer, stored.Messages[2].Text)

	user, err := f.store.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, user.Stats.TotalConversations)
	require.Equal(t, 3, user.Stats.TotalMessages)

	f.clock.Advance(time.Minute)
	view, err = f.session.Submit(ctx, "¿y los horarios?")
	require.NoError(t, err)
	require.Len(t, view.Messages, 5)

	stored, err = f.store.GetTranscript(ctx, view.TranscriptID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 5)
	require.Equal(t, "fechas de matrícula 2024", stored.Title)

	user, err = f.store.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, user.Stats.TotalConversations)
	require.Equal(t, 5, user.Stats.TotalMessages)
}

func TestChatSession_TitleAndPreviewTruncated(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	long := ""
	for i := 0; i < 30; i++ {
		long += "ñandú "
	}
	f.answerer.answer = func(context.Context, string) (string, error) { return long, nil }

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)
	view, err := f.session.Submit(ctx, long)
	require.NoError(t, err)

	stored, err := f.store.GetTranscript(ctx, view.TranscriptID)
	require.NoError(t, err)
	require.Equal(t, []rune(long)[:50], []rune(stored.Title)[:50])
	require.Len(t, []rune(stored.Title), 53)
	require.Len(t, []rune(stored.LastMessage), 103)
}

func TestChatSession_OfflineSubmitNeverAsks(t *testing.T) {
	f := newSessionFixture(t, "alice")
	f.answerer.healthErr = errors.New("connection refused")
	ctx := context.Background()

	view, err := f.session.Mount(ctx, "")
	require.NoError(t, err)
	require.Equal(t, ConnectivityOffline, view.Connectivity)
	require.False(t, view.InputEnabled)
	require.False(t, view.SuggestionsEnabled)

	view, err = f.session.Submit(ctx, "hola")
	require.ErrorIs(t, err, ErrOffline)
	require.Zero(t, f.answerer.asks.Load())
	require.Len(t, view.Messages, 1)
	require.NotNil(t, view.Banner)
	require.Equal(t, OfflineSubmitText, view.Banner.Message)

	f.answerer.healthErr = nil
	view = f.session.Retry(ctx)
	require.Equal(t, ConnectivityOnline, view.Connectivity)
	require.Nil(t, view.Banner)
}

func TestChatSession_FailedAnswerNotPersisted(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	f.answerer.answer = func(context.Context, string) (string, error) {
		return "", &answerer.Error{Kind: answerer.KindRateLimit, Status: 429, Message: "Too Many Requests"}
	}

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)

	view, err := f.session.Submit(ctx, "hola")
	require.NoError(t, err)
	require.Equal(t, StateNewUnsaved, view.State)
	require.Equal(t, ConnectivityOnline, view.Connectivity)
	require.Len(t, view.Messages, 3)
	require.True(t, view.Messages[2].IsError)
	require.Contains(t, view.Messages[2].Text, "Demasiadas solicitudes")
	require.NotNil(t, view.Banner)
	require.Contains(t, view.Banner.Message, "Demasiadas solicitudes")

	list, err := f.store.ListTranscripts(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, list)

	f.answerer.answer = func(context.Context, string) (string, error) {
		return "", &answerer.Error{Kind: answerer.KindConnectivity, Message: "dial tcp: connection refused"}
	}
	view, err = f.session.Submit(ctx, "hola otra vez")
	require.NoError(t, err)
	require.Equal(t, ConnectivityOffline, view.Connectivity)
	require.Contains(t, view.Banner.Message, "Verifica que el servidor")
}

func TestChatSession_RejectsEmptyAndBusy(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	release := make(chan struct{})
	f.answerer.answer = func(context.Context, string) (string, error) {
		<-release
		return "ok", nil
	}

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)

	_, err = f.session.Submit(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Submit(ctx, "primera")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.session.View().Typing }, 2*time.Second, 5*time.Millisecond)
	require.False(t, f.session.View().InputEnabled)

	_, err = f.session.Submit(ctx, "segunda")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, f.answerer.asks.Load())
}

func TestChatSession_StaleAnswerDropped(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	release := make(chan struct{})
	f.answerer.answer = func(context.Context, string) (string, error) {
		<-release
		return "respuesta tardía", nil
	}

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Submit(ctx, "pregunta")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.session.View().Typing }, 2*time.Second, 5*time.Millisecond)

	view := f.session.Reset("nuevo-1")
	require.Equal(t, StateNewUnsaved, view.State)
	require.False(t, view.Typing)

	close(release)
	require.NoError(t, <-done)

	view = f.session.View()
	require.Len(t, view.Messages, 1)
	require.True(t, view.Messages[0].IsWelcome())
	require.Equal(t, StateNewUnsaved, view.State)

	list, err := f.store.ListTranscripts(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestChatSession_ResetIsIdempotentPerToken(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)
	view, err := f.session.Submit(ctx, "hola")
	require.NoError(t, err)
	require.Equal(t, StateBound, view.State)

	view = f.session.Reset("tok-1")
	require.Equal(t, StateNewUnsaved, view.State)
	require.Empty(t, view.TranscriptID)
	require.Equal(t, "/chat", view.Location)
	require.True(t, view.ShowSuggestions)
	require.Len(t, view.Messages, 1)

	f.session.SetDraft("borrador")
	view = f.session.Reset("tok-1")
	require.Equal(t, "borrador", view.Draft)

	view = f.session.Reset("tok-2")
	require.Empty(t, view.Draft)
}

func TestChatSession_OpenOwnTranscript(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	created := f.clock.Now().Add(-time.Hour)
	tr := &store.Transcript{
		ID:          store.TranscriptID("alice", created),
		UserID:      "alice",
		Title:       "becas",
		LastMessage: "Hay becas.",
		Messages: []store.Message{
			welcomeMessage(created),
			{ID: created.UnixMilli() + 1, Sender: store.SenderUser, Text: "becas", Timestamp: created},
			{ID: created.UnixMilli() + 2, Sender: store.SenderBot, Text: "Hay becas.", Timestamp: created, FromAPI: true},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, f.store.CreateTranscript(ctx, tr))

	view, err := f.session.Mount(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StateBound, view.State)
	require.Equal(t, tr.ID, view.TranscriptID)
	require.Equal(t, "/chat/"+tr.ID, view.Location)
	require.False(t, view.ShowSuggestions)
	require.Len(t, view.Messages, 3)

	view, err = f.session.Open(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 3)

	view, err = f.session.Submit(ctx, "¿cuándo?")
	require.NoError(t, err)
	require.Len(t, view.Messages, 5)
	require.Greater(t, view.Messages[3].ID, view.Messages[2].ID)
	require.Greater(t, view.Messages[4].ID, view.Messages[3].ID)

	stored, err := f.store.GetTranscript(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 5)
	require.Equal(t, "Respuesta para ¿cuándo?", stored.LastMessage)
	require.Equal(t, "becas", stored.Title)
}

func TestChatSession_OpenRejectsForeignAndMissing(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	now := f.clock.Now()
	foreign := &store.Transcript{
		ID:        store.TranscriptID("bob", now),
		UserID:    "bob",
		Title:     "privado",
		Messages:  []store.Message{welcomeMessage(now)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateTranscript(ctx, foreign))

	view, err := f.session.Mount(ctx, foreign.ID)
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, StateNewUnsaved, view.State)
	require.Equal(t, "/chat", view.Location)
	require.Empty(t, view.TranscriptID)
	require.Len(t, view.Messages, 1)
	require.NotNil(t, view.Banner)
	require.Equal(t, ForbiddenText, view.Banner.Message)

	view, err = f.session.Open(ctx, "alice_404")
	require.ErrorIs(t, err, ErrTranscriptUnavailable)
	require.Equal(t, UnavailableText, view.Banner.Message)
	require.Equal(t, StateNewUnsaved, view.State)
}

func TestChatSession_BannerExpires(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()

	view, err := f.session.Open(ctx, "alice_404")
	require.ErrorIs(t, err, ErrTranscriptUnavailable)
	require.NotNil(t, view.Banner)

	f.clock.Advance(5 * time.Second)
	require.NotNil(t, f.session.View().Banner)

	f.clock.Advance(time.Second)
	require.Nil(t, f.session.View().Banner)
}

func TestChatSession_SubmitSuggestion(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()
	var got string
	f.answerer.answer = func(_ context.Context, q string) (string, error) {
		got = q
		return "ok", nil
	}

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)

	_, err = f.session.SubmitSuggestion(ctx, len(Suggestions))
	require.ErrorIs(t, err, ErrUnknownSuggestion)

	view, err := f.session.SubmitSuggestion(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "horarios de atención", got)
	require.Equal(t, "horarios de atención", view.Messages[1].Text)
}

type failingCreateStore struct {
	store.Store
}

func (failingCreateStore) CreateTranscript(context.Context, *store.Transcript) error {
	return errors.New("disk full")
}

func TestChatSession_SaveFailureKeepsMessages(t *testing.T) {
	st := newTestStore(t)
	s := NewChatSession("s1", "alice", SessionDeps{
		Store:    failingCreateStore{Store: st},
		Answerer: &fakeAnswerer{},
		Now:      newFakeClock().Now,
	})
	ctx := context.Background()

	_, err := s.Mount(ctx, "")
	require.NoError(t, err)
	view, err := s.Submit(ctx, "hola")
	require.NoError(t, err)
	require.Equal(t, StateNewUnsaved, view.State)
	require.Len(t, view.Messages, 3)
	require.NotNil(t, view.Banner)
	require.Equal(t, SaveFailedText, view.Banner.Message)
}

func TestChatSession_MessageIDsIncrease(t *testing.T) {
	f := newSessionFixture(t, "alice")
	ctx := context.Background()

	_, err := f.session.Mount(ctx, "")
	require.NoError(t, err)
	for _, q := range []string{"uno", "dos", "tres"} {
		_, err := f.session.Submit(ctx, q)
		require.NoError(t, err)
	}

	view := f.session.View()
	require.Len(t, view.Messages, 7)
	for i := 1; i < len(view.Messages); i++ {
		require.Greater(t, view.Messages[i].ID, view.Messages[i-1].ID)
	}
}

type flakyCreateStore struct {
	store.Store
	failures atomic.Int32
}

func (s *flakyCreateStore) CreateTranscript(ctx context.Context, t *store.Transcript) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return s.Store.CreateTranscript(ctx, t)
}

func TestChatSession_SaveAfterFailedCreateKeepsEarlierExchanges(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "alice")
	flaky := &flakyCreateStore{Store: st}
	flaky.failures.Store(1)
	ans := &fakeAnswerer{}
	ans.answer = func(_ context.Context, q string) (string, error) {
		if q == "rota" {
			return "", &answerer.Error{Kind: answerer.KindRateLimit, Status: 429}
		}
		return "Respuesta para " + q, nil
	}
	clock := newFakeClock()
	s := NewChatSession("s1", "alice", SessionDeps{Store: flaky, Answerer: ans, Now: clock.Now})
	ctx := context.Background()

	_, err := s.Mount(ctx, "")
	require.NoError(t, err)

	view, err := s.Submit(ctx, "primera")
	require.NoError(t, err)
	require.Equal(t, StateNewUnsaved, view.State)
	require.Equal(t, SaveFailedText, view.Banner.Message)

	clock.Advance(time.Second)
	_, err = s.Submit(ctx, "rota")
	require.NoError(t, err)

	clock.Advance(time.Second)
	view, err = s.Submit(ctx, "segunda")
	require.NoError(t, err)
	require.Equal(t, StateBound, view.State)
	require.Len(t, view.Messages, 7)

	stored, err := st.GetTranscript(ctx, view.TranscriptID)
	require.NoError(t, err)
	require.Equal(t, "primera", stored.Title)
	texts := make([]string, len(stored.Messages))
	for i, m := range stored.Messages {
		texts[i] = m.Text
	}
	require.Equal(t, []string{WelcomeText, "primera", "Respuesta para primera", "segunda", "Respuesta para segunda"}, texts)

	user, err := st.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, user.Stats.TotalConversations)
	require.Equal(t, 5, user.Stats.TotalMessages)
}

func TestChatSession_SameMillisecondTranscripts(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "alice")
	clock := newFakeClock()
	deps := SessionDeps{Store: st, Answerer: &fakeAnswerer{}, Now: clock.Now}
	ctx := context.Background()

	var ids []string
	for _, id := range []string{"tab-1", "tab-2"} {
		s := NewChatSession(id, "alice", deps)
		_, err := s.Mount(ctx, "")
		require.NoError(t, err)
		view, err := s.Submit(ctx, "hola")
		require.NoError(t, err)
		require.Equal(t, StateBound, view.State)
		require.Nil(t, view.Banner)
		ids = append(ids, view.TranscriptID)
	}

	require.Equal(t, store.TranscriptID("alice", clock.Now()), ids[0])
	require.Equal(t, store.TranscriptID("alice", clock.Now().Add(time.Millisecond)), ids[1])

	list, err := st.ListTranscripts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
}
