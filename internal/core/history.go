package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"uni.edu.pe/chatbot-uni/internal/live"
	"uni.edu.pe/chatbot-uni/internal/store"
)

type SortMode string

const (
	SortRecent       SortMode = "recent"
	SortOldest       SortMode = "oldest"
	SortAlphabetical SortMode = "alphabetical"
)

// ParseSortMode maps a query value to a SortMode, defaulting to recent.
func ParseSortMode(s string) SortMode {
	switch SortMode(strings.ToLower(strings.TrimSpace(s))) {
	case SortOldest:
		return SortOldest
	case SortAlphabetical:
		return SortAlphabetical
	default:
		return SortRecent
	}
}

type HistoryItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"lastMessage"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	DateLabel    string    `json:"dateLabel"`
}

type HistoryStats struct {
	TotalChats    int `json:"totalChats"`
	TotalMessages int `json:"totalMessages"`
	ChatsToday    int `json:"chatsToday"`
}

type HistoryView struct {
	Items  []HistoryItem `json:"items"`
	Stats  HistoryStats  `json:"stats"`
	Search string        `json:"search"`
	Sort   SortMode      `json:"sort"`
}

// HistoryService lists, filters and deletes a user's transcripts and exposes
// live change subscriptions.
type HistoryService struct {
	store store.Store
	hub   *live.Hub
	now   func() time.Time
	loc   *time.Location
}

// NewHistoryService uses loc for "today" and date labels; nil means
// time.Local.
func NewHistoryService(st store.Store, hub *live.Hub, loc *time.Location) *HistoryService {
	if loc == nil {
		loc = time.Local
	}
	return &HistoryService{store: st, hub: hub, now: time.Now, loc: loc}
}

// View lists userID's transcripts and applies search and sort.
func (h *HistoryService) View(ctx context.Context, userID, search string, mode SortMode) (HistoryView, error) {
	transcripts, err := h.store.ListTranscripts(ctx, userID)
	if err != nil {
		return HistoryView{}, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return BuildHistoryView(transcripts, search, mode, h.now(), h.loc), nil
}

// Subscribe registers for change events on userID's transcripts. The caller
// must close the subscription. Subscribe before listing so no change between
// the two is missed.
func (h *HistoryService) Subscribe(userID string) *live.Subscription {
	return h.hub.Subscribe(userID)
}

// Delete removes a transcript owned by userID.
func (h *HistoryService) Delete(ctx context.Context, userID, transcriptID string) error {
	t, err := h.store.GetTranscript(ctx, transcriptID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTranscriptUnavailable
		}
		return fmt.Errorf("failed to load transcript: %w", err)
	}
	if t.UserID != userID {
		return ErrForbidden
	}

	if err := h.store.DeleteTranscript(ctx, transcriptID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTranscriptUnavailable
		}
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

// BuildHistoryView derives the displayed list. Stats always cover the whole
// unfiltered set.
func BuildHistoryView(transcripts []store.Transcript, search string, mode SortMode, now time.Time, loc *time.Location) HistoryView {
	items := make([]HistoryItem, 0, len(transcripts))
	needle := foldText(strings.TrimSpace(search))
	for _, t := range transcripts {
		if needle != "" && !strings.Contains(foldText(t.Title), needle) && !strings.Contains(foldText(t.LastMessage), needle) {
			continue
		}
		items = append(items, HistoryItem{
			ID:           t.ID,
			Title:        t.Title,
			LastMessage:  t.LastMessage,
			MessageCount: len(t.Messages),
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
			DateLabel:    RelativeDateLabel(t.UpdatedAt, now, loc),
		})
	}

	sortHistoryItems(items, mode)

	return HistoryView{
		Items:  items,
		Stats:  computeStats(transcripts, now, loc),
		Search: search,
		Sort:   mode,
	}
}

func sortHistoryItems(items []HistoryItem, mode SortMode) {
	switch mode {
	case SortOldest:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
	case SortAlphabetical:
		c := collate.New(language.Spanish, collate.IgnoreCase)
		sort.SliceStable(items, func(i, j int) bool {
			return c.CompareString(items[i].Title, items[j].Title) < 0
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		})
	}
}

func computeStats(transcripts []store.Transcript, now time.Time, loc *time.Location) HistoryStats {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	stats := HistoryStats{TotalChats: len(transcripts)}
	for _, t := range transcripts {
		stats.TotalMessages += len(t.Messages)
		if !t.UpdatedAt.Before(midnight) {
			stats.ChatsToday++
		}
	}
	return stats
}

// foldText lowercases s and strips diacritics so "Matrícula" matches
// "matricula".
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

var spanishMonths = [...]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sept", "oct", "nov", "dic"}

// RelativeDateLabel describes t relative to now the way the history list
// shows it.
func RelativeDateLabel(t, now time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "Sin fecha"
	}

	diff := now.Sub(t)
	hours := int(diff.Hours())
	days := int(diff.Hours() / 24)
	switch {
	case diff < time.Hour:
		return "Hace menos de 1 hora"
	case diff < 24*time.Hour:
		return fmt.Sprintf("Hace %d %s", hours, plural(hours, "hora", "horas"))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("Hace %d %s", days, plural(days, "día", "días"))
	}

	local := t.In(loc)
	return fmt.Sprintf("%d %s %d", local.Day(), spanishMonths[local.Month()-1], local.Year())
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
