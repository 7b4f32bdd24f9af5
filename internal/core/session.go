package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"uni.edu.pe/chatbot-uni/internal/answerer"
	"uni.edu.pe/chatbot-uni/internal/format"
	"uni.edu.pe/chatbot-uni/internal/store"
)

const (
	DefaultBannerTTL = 6 * time.Second

	chatRoute = "/chat"
)

// State is the persistence state of a chat session.
type State string

const (
	StateNewUnsaved              State = "NEW_UNSAVED"
	StatePersistingFirstExchange State = "PERSISTING_FIRST_EXCHANGE"
	StateBound                   State = "BOUND"
	StateLoadingExisting         State = "LOADING_EXISTING"
)

// SessionDeps are the collaborators of a chat session.
type SessionDeps struct {
	Store     store.Store
	Answerer  answerer.Answerer
	Now       func() time.Time
	BannerTTL time.Duration
}

func (d SessionDeps) withDefaults() SessionDeps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BannerTTL <= 0 {
		d.BannerTTL = DefaultBannerTTL
	}
	return d
}

// Banner is a transient notice that disappears after its expiry.
type Banner struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MessageView is a transcript message prepared for display. Only bot
// messages carry a formatted document; user text is always shown verbatim.
type MessageView struct {
	store.Message
	Document *format.Document `json:"document,omitempty"`
	HTML     string           `json:"html,omitempty"`
}

// SessionView is a snapshot of everything the chat screen shows.
type SessionView struct {
	SessionID          string        `json:"sessionId"`
	State              State         `json:"state"`
	TranscriptID       string        `json:"transcriptId,omitempty"`
	Location           string        `json:"location"`
	Messages           []MessageView `json:"messages"`
	Draft              string        `json:"draft"`
	Typing             bool          `json:"typing"`
	ShowSuggestions    bool          `json:"showSuggestions"`
	Suggestions        []Suggestion  `json:"suggestions,omitempty"`
	Connectivity       Connectivity  `json:"connectivity"`
	StatusText         string        `json:"statusText"`
	InputEnabled       bool          `json:"inputEnabled"`
	SuggestionsEnabled bool          `json:"suggestionsEnabled"`
	Banner             *Banner       `json:"banner,omitempty"`
}

type renderedMessage struct {
	doc  format.Document
	html string
}

// ChatSession owns one conversation from first render through persistence.
// All methods are safe for concurrent use. An answer request runs without
// holding the session lock; its result is applied only if no reset or
// navigation happened meanwhile.
type ChatSession struct {
	id     string
	userID string
	deps   SessionDeps

	mu              sync.Mutex
	state           State
	transcriptID    string
	lastLoadedID    string
	lastResetToken  string
	messages        []store.Message
	draft           string
	typing          bool
	showSuggestions bool
	connectivity    Connectivity
	banner          *Banner
	location        string
	generation      uint64
	lastActive      time.Time
	rendered        map[string]renderedMessage
}

// NewChatSession returns a session in NEW_UNSAVED seeded with the welcome
// message. Connectivity stays "checking" until Mount or Retry probes it.
func NewChatSession(id, userID string, deps SessionDeps) *ChatSession {
	deps = deps.withDefaults()
	s := &ChatSession{
		id:           id,
		userID:       userID,
		deps:         deps,
		connectivity: ConnectivityChecking,
		rendered:     make(map[string]renderedMessage),
	}
	s.resetLocked()
	s.lastActive = deps.Now()
	return s
}

func (s *ChatSession) ID() string     { return s.id }
func (s *ChatSession) UserID() string { return s.userID }

// LastActive is the time of the last command sent to the session.
func (s *ChatSession) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *ChatSession) touchLocked() {
	s.lastActive = s.deps.Now()
}

// resetLocked puts the session back to a blank conversation. It starts a new
// generation so in-flight answers are dropped.
func (s *ChatSession) resetLocked() {
	s.generation++
	s.state = StateNewUnsaved
	s.transcriptID = ""
	s.lastLoadedID = ""
	s.draft = ""
	s.typing = false
	s.banner = nil
	s.showSuggestions = true
	s.location = chatRoute
	s.messages = []store.Message{welcomeMessage(s.deps.Now())}
	clear(s.rendered)
}

// Mount probes connectivity and, when transcriptID is set, loads that
// transcript.
func (s *ChatSession) Mount(ctx context.Context, transcriptID string) (SessionView, error) {
	s.probe(ctx)
	if transcriptID == "" {
		return s.View(), nil
	}
	return s.Open(ctx, transcriptID)
}

// Retry re-probes connectivity and clears any banner.
func (s *ChatSession) Retry(ctx context.Context) SessionView {
	s.mu.Lock()
	s.banner = nil
	s.touchLocked()
	s.mu.Unlock()

	s.probe(ctx)
	return s.View()
}

func (s *ChatSession) probe(ctx context.Context) {
	s.mu.Lock()
	s.connectivity = ConnectivityChecking
	s.mu.Unlock()

	err := s.deps.Answerer.Health(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Warn("answering service health check failed", "sessionId", s.id, "error", err)
		s.connectivity = ConnectivityOffline
		return
	}
	s.connectivity = ConnectivityOnline
}

// Reset starts a fresh conversation. Each token is honored once; repeating
// a token is a no-op.
func (s *ChatSession) Reset(token string) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if token != "" && token == s.lastResetToken {
		return s.viewLocked()
	}
	s.lastResetToken = token
	s.resetLocked()
	slog.Debug("chat session reset", "sessionId", s.id)
	return s.viewLocked()
}

// Open binds the session to an existing transcript owned by the current user.
// Opening the transcript that is already loaded is a no-op. On failure the
// session falls back to a blank conversation at the base route and the
// returned error is ErrForbidden or ErrTranscriptUnavailable.
func (s *ChatSession) Open(ctx context.Context, transcriptID string) (SessionView, error) {
	s.mu.Lock()
	s.touchLocked()
	if transcriptID == s.lastLoadedID && s.state == StateBound {
		v := s.viewLocked()
		s.mu.Unlock()
		return v, nil
	}
	s.generation++
	gen := s.generation
	s.state = StateLoadingExisting
	s.typing = false
	s.mu.Unlock()

	t, err := s.deps.Store.GetTranscript(ctx, transcriptID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		slog.Debug("transcript load superseded", "sessionId", s.id, "transcriptId", transcriptID)
		return s.viewLocked(), nil
	}

	if err != nil || t.UserID != s.userID {
		notice, result := UnavailableText, ErrTranscriptUnavailable
		if err == nil {
			notice, result = ForbiddenText, ErrForbidden
			slog.Warn("rejected access to foreign transcript", "sessionId", s.id, "userId", s.userID, "transcriptId", transcriptID)
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to load transcript", "transcriptId", transcriptID, "error", err)
		}
		s.resetLocked()
		s.setBannerLocked(notice)
		return s.viewLocked(), result
	}

	s.state = StateBound
	s.transcriptID = t.ID
	s.lastLoadedID = t.ID
	s.messages = append([]store.Message(nil), t.Messages...)
	clear(s.rendered)
	s.showSuggestions = false
	s.banner = nil
	s.draft = ""
	s.location = chatRoute + "/" + t.ID
	return s.viewLocked(), nil
}

// SetDraft records the current input text.
func (s *ChatSession) SetDraft(text string) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.draft = text
	return s.viewLocked()
}

// SubmitSuggestion submits the preset query of the suggestion at index.
func (s *ChatSession) SubmitSuggestion(ctx context.Context, index int) (SessionView, error) {
	if index < 0 || index >= len(Suggestions) {
		return s.View(), ErrUnknownSuggestion
	}
	return s.Submit(ctx, Suggestions[index].Query)
}

// Submit sends text to the answering service. The user message is shown
// immediately; the answer (or an error explanation) follows when the call
// returns. Only successful exchanges are persisted.
func (s *ChatSession) Submit(ctx context.Context, text string) (SessionView, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	s.touchLocked()
	if text == "" {
		v := s.viewLocked()
		s.mu.Unlock()
		return v, ErrEmptyMessage
	}
	if s.typing || s.state == StateLoadingExisting {
		v := s.viewLocked()
		s.mu.Unlock()
		return v, ErrBusy
	}
	if s.connectivity == ConnectivityOffline {
		s.setBannerLocked(OfflineSubmitText)
		v := s.viewLocked()
		s.mu.Unlock()
		return v, ErrOffline
	}

	userMsg := store.Message{
		ID:        s.nextMessageIDLocked(),
		Sender:    store.SenderUser,
		Text:      text,
		Timestamp: s.deps.Now(),
	}
	s.messages = append(s.messages, userMsg)
	s.draft = ""
	s.typing = true
	s.showSuggestions = false
	s.banner = nil
	if s.state == StateNewUnsaved {
		s.state = StatePersistingFirstExchange
	}
	gen := s.generation
	s.mu.Unlock()

	answer, askErr := s.deps.Answerer.Ask(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		slog.Info("dropping answer for superseded session state", "sessionId", s.id)
		return s.viewLocked(), nil
	}
	s.typing = false

	if askErr != nil {
		explanation, unreachable := describeFailure(askErr)
		if unreachable {
			s.connectivity = ConnectivityOffline
		}
		slog.Warn("answer request failed", "sessionId", s.id, "kind", answerer.Classify(askErr).String(), "error", askErr)

		s.messages = append(s.messages, store.Message{
			ID:        s.nextMessageIDLocked(),
			Sender:    store.SenderBot,
			Text:      errorBotText(explanation),
			Timestamp: s.deps.Now(),
			IsError:   true,
		})
		s.setBannerLocked(explanation)
		if s.state == StatePersistingFirstExchange {
			s.state = StateNewUnsaved
		}
		return s.viewLocked(), nil
	}

	botMsg := store.Message{
		ID:        s.nextMessageIDLocked(),
		Sender:    store.SenderBot,
		Text:      answer,
		Timestamp: s.deps.Now(),
		FromAPI:   true,
	}
	s.messages = append(s.messages, botMsg)
	s.connectivity = ConnectivityOnline

	s.persistLocked(ctx, userMsg, botMsg)
	return s.viewLocked(), nil
}

// persistLocked creates the transcript on the first successful exchange and
// appends to it afterwards. Write failures keep the conversation in memory
// and raise a banner.
func (s *ChatSession) persistLocked(ctx context.Context, userMsg, botMsg store.Message) {
	now := s.deps.Now()

	if s.transcriptID == "" {
		msgs := s.savedMessagesLocked(now)
		t := &store.Transcript{
			ID:          store.TranscriptID(s.userID, now),
			UserID:      s.userID,
			Title:       transcriptTitle(firstUserText(msgs)),
			LastMessage: lastMessagePreview(botMsg.Text),
			Messages:    msgs,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := s.deps.Store.CreateTranscript(ctx, t)
		if errors.Is(err, store.ErrDuplicateKey) {
			t.ID = store.TranscriptID(s.userID, now.Add(time.Millisecond))
			err = s.deps.Store.CreateTranscript(ctx, t)
		}
		if err != nil {
			slog.Error("failed to create transcript", "sessionId", s.id, "error", err)
			s.state = StateNewUnsaved
			s.setBannerLocked(SaveFailedText)
			return
		}
		s.state = StateBound
		s.transcriptID = t.ID
		s.lastLoadedID = t.ID
		s.location = chatRoute + "/" + t.ID
		s.recordActivity(ctx, 1, len(t.Messages), now)
		return
	}

	err := s.deps.Store.AppendMessages(ctx, s.transcriptID, []store.Message{userMsg, botMsg}, lastMessagePreview(botMsg.Text), now)
	if err != nil {
		slog.Error("failed to append to transcript", "sessionId", s.id, "transcriptId", s.transcriptID, "error", err)
		s.setBannerLocked(SaveFailedText)
		return
	}
	s.recordActivity(ctx, 0, 2, now)
}

// savedMessagesLocked returns the welcome message followed by every answered
// exchange in the session. A question whose answer failed is left out along
// with its error reply.
func (s *ChatSession) savedMessagesLocked(now time.Time) []store.Message {
	msgs := []store.Message{welcomeMessage(now)}
	if len(s.messages) > 0 && s.messages[0].IsWelcome() {
		msgs[0] = s.messages[0]
	}
	for i, m := range s.messages {
		if m.IsWelcome() || m.IsError {
			continue
		}
		if m.Sender == store.SenderUser && i+1 < len(s.messages) && s.messages[i+1].IsError {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func firstUserText(msgs []store.Message) string {
	for _, m := range msgs {
		if m.Sender == store.SenderUser {
			return m.Text
		}
	}
	return ""
}

func (s *ChatSession) recordActivity(ctx context.Context, conversations, messages int, at time.Time) {
	if err := s.deps.Store.RecordActivity(ctx, s.userID, conversations, messages, at); err != nil {
		slog.Warn("failed to record user activity", "userId", s.userID, "error", err)
	}
}

// nextMessageIDLocked returns an id greater than every id in the session,
// derived from the clock when possible.
func (s *ChatSession) nextMessageIDLocked() int64 {
	id := s.deps.Now().UnixMilli()
	if n := len(s.messages); n > 0 && s.messages[n-1].ID >= id {
		id = s.messages[n-1].ID + 1
	}
	return id
}

// invalidate starts a new generation so answers and loads still in flight
// are dropped when they return.
func (s *ChatSession) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.typing = false
}

func (s *ChatSession) setBannerLocked(msg string) {
	s.banner = &Banner{Message: msg, ExpiresAt: s.deps.Now().Add(s.deps.BannerTTL)}
}

// View returns a snapshot of the session.
func (s *ChatSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *ChatSession) viewLocked() SessionView {
	now := s.deps.Now()
	if s.banner != nil && !now.Before(s.banner.ExpiresAt) {
		s.banner = nil
	}

	v := SessionView{
		SessionID:          s.id,
		State:              s.state,
		TranscriptID:       s.transcriptID,
		Location:           s.location,
		Messages:           make([]MessageView, 0, len(s.messages)),
		Draft:              s.draft,
		Typing:             s.typing,
		ShowSuggestions:    s.showSuggestions,
		Connectivity:       s.connectivity,
		StatusText:         s.connectivity.StatusText(),
		InputEnabled:       s.connectivity != ConnectivityOffline && !s.typing,
		SuggestionsEnabled: s.connectivity != ConnectivityOffline && !s.typing,
	}
	if s.showSuggestions {
		v.Suggestions = Suggestions
	}
	if s.banner != nil {
		b := *s.banner
		v.Banner = &b
	}
	for _, m := range s.messages {
		v.Messages = append(v.Messages, s.messageViewLocked(m))
	}
	return v
}

func (s *ChatSession) messageViewLocked(m store.Message) MessageView {
	mv := MessageView{Message: m}
	if m.Sender != store.SenderBot {
		return mv
	}
	r, ok := s.rendered[m.Text]
	if !ok {
		doc := format.Format(m.Text)
		html, err := format.Render(doc)
		if err != nil {
			slog.Error("failed to render message", "messageId", m.ID, "error", err)
		}
		r = renderedMessage{doc: doc, html: html}
		s.rendered[m.Text] = r
	}
	doc := r.doc
	mv.Document = &doc
	mv.HTML = r.html
	return mv
}
