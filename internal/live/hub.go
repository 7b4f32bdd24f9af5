// Package live fans transcript change events out to per-user subscribers.
package live

import (
	"context"
	"log/slog"
	"sync"

	"uni.edu.pe/chatbot-uni/internal/store"
)

const (
	eventBuffer        = 64
	subscriptionBuffer = 8
)

// Hub receives change events from the store and delivers each one to every
// subscription registered for the event's user. Delivery is best effort: a
// subscriber whose buffer is full misses the event, which is harmless since
// subscribers re-read the whole list on any event they do receive.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]*Subscription
	nextID int64

	eventCh chan store.ChangeEvent
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subs:    make(map[string]map[int64]*Subscription),
		eventCh: make(chan store.ChangeEvent, eventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *Hub) Start() {
	go h.eventLoop()
	slog.Info("live hub started")
}

func (h *Hub) Stop() {
	h.cancel()
	slog.Info("live hub stopped")
}

func (h *Hub) eventLoop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case event := <-h.eventCh:
			h.Publish(event)
		}
	}
}

// OnTranscriptChange implements store.OnChangeListener. It is called inside
// store writes, so it only queues the event.
func (h *Hub) OnTranscriptChange(event store.ChangeEvent) {
	select {
	case h.eventCh <- event:
	default:
		slog.Warn("live hub event buffer full, dropping event", "userId", event.UserID, "op", event.Op)
	}
}

// Publish delivers event to the subscribers of event.UserID.
func (h *Hub) Publish(event store.ChangeEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs[event.UserID] {
		select {
		case sub.ch <- event:
			delivered++
		default:
			slog.Debug("subscriber busy, event coalesced", "userId", event.UserID, "subscription", sub.id)
		}
	}
	return delivered
}

// Subscribe registers interest in userID's transcripts. The caller must Close
// the subscription when done.
func (h *Hub) Subscribe(userID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[int64]*Subscription)
	}
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		userID: userID,
		hub:    h,
		ch:     make(chan store.ChangeEvent, subscriptionBuffer),
	}
	h.subs[userID][sub.id] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.subs[sub.userID]; ok {
		delete(conns, sub.id)
		if len(conns) == 0 {
			delete(h.subs, sub.userID)
		}
	}
}

// SubscriberCount reports how many subscriptions userID holds.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

type Subscription struct {
	id     int64
	userID string
	hub    *Hub
	ch     chan store.ChangeEvent
	once   sync.Once
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan store.ChangeEvent {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
		close(s.ch)
	})
}
