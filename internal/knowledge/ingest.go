package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"uni.edu.pe/chatbot-uni/internal/store"
)

// ParseChunks splits a knowledge file into chunks. A single-column Markdown
// table yields one chunk per row (header and separator rows skipped);
// anything else yields one chunk per blank-line separated paragraph.
func ParseChunks(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if isTable(content) {
		return parseTableRows(content)
	}

	var chunks []string
	for _, para := range strings.Split(content, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

func isTable(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return strings.HasPrefix(t, "|")
		}
	}
	return false
}

func parseTableRows(content string) []string {
	var chunks []string
	row := 0
	for _, line := range strings.Split(content, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		row++
		if !strings.HasPrefix(t, "|") || !strings.HasSuffix(t, "|") {
			slog.Debug("skipping line not matching table row format", "line", t)
			continue
		}
		if row == 2 && strings.Contains(t, "---") {
			continue
		}
		parts := strings.Split(t, "|")
		if len(parts) < 3 {
			continue
		}
		cell := strings.TrimSpace(parts[1])
		if row == 1 {
			lower := strings.ToLower(cell)
			if lower == "text" || lower == "content" || lower == "texto" || lower == "contenido" {
				continue
			}
		}
		if cell != "" {
			chunks = append(chunks, cell)
		}
	}
	return chunks
}

// IngestFile reads path, embeds every chunk and replaces the stored
// knowledge base. Chunks that fail to embed are skipped.
func IngestFile(ctx context.Context, path string, embedder Embedder, db ChunkStore) (int, error) {
	contentBytes, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read data file %s: %w", path, err)
	}

	raw := ParseChunks(string(contentBytes))
	if len(raw) == 0 {
		slog.Warn("no chunks generated from data file", "path", path)
		return 0, nil
	}
	slog.Info("embedding knowledge chunks", "count", len(raw))

	chunks := make([]store.DataChunk, 0, len(raw))
	for i, content := range raw {
		embedding, err := embedder.Embed(ctx, content)
		if err != nil {
			slog.Warn("failed to embed chunk, skipping", "index", i, "error", err)
			continue
		}
		chunks = append(chunks, store.DataChunk{Content: content, Embedding: embedding})
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunk could be embedded")
	}
	return db.ReplaceDataChunks(ctx, chunks)
}
