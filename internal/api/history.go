package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"uni.edu.pe/chatbot-uni/internal/core"
)

const historyWriteTimeout = 10 * time.Second

func (h *APIHandler) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.history.View(r.Context(), claimsFrom(r).UserID, q.Get("q"), core.ParseSortMode(q.Get("sort")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) DeleteHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.Context(), claimsFrom(r).UserID, chi.URLParam(r, "transcriptID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// historyQuery is what a websocket client sends to change its view.
type historyQuery struct {
	Search string `json:"search"`
	Sort   string `json:"sort"`
}

// HistoryWSHandler streams the caller's history view. A fresh view is pushed
// on connect, on every change to the user's transcripts and on every query
// the client sends. Closing the socket releases the subscription.
func (h *APIHandler) HistoryWSHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing token")
		return
	}
	claims, err := h.identity.Authenticate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		requestLog(r).Error("failed to accept websocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	log := requestLog(r).With("userId", claims.UserID)
	log.Info("history subscriber connected")
	defer log.Info("history subscriber disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the first listing so no change is missed in between.
	sub := h.history.Subscribe(claims.UserID)
	defer sub.Close()

	queries := make(chan historyQuery)
	go func() {
		defer close(queries)
		for {
			var q historyQuery
			if err := wsjson.Read(ctx, conn, &q); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					log.Debug("history websocket read failed", "error", err)
				}
				return
			}
			select {
			case queries <- q:
			case <-ctx.Done():
				return
			}
		}
	}()

	current := historyQuery{Search: r.URL.Query().Get("q"), Sort: r.URL.Query().Get("sort")}
	push := func() error {
		view, err := h.history.View(ctx, claims.UserID, current.Search, core.ParseSortMode(current.Sort))
		if err != nil {
			return err
		}
		wctx, wcancel := context.WithTimeout(ctx, historyWriteTimeout)
		defer wcancel()
		return wsjson.Write(wctx, conn, view)
	}

	if err := push(); err != nil {
		log.Warn("failed to push history view", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case q, ok := <-queries:
			if !ok {
				return
			}
			current = q
		}
		if err := push(); err != nil {
			log.Warn("failed to push history view", "error", err)
			return
		}
	}
}
