// Package knowledge holds the university knowledge base used to ground
// in-process answers: ingestion of a source file into embedded chunks and
// similarity retrieval over them.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"uni.edu.pe/chatbot-uni/internal/store"
)

const (
	NumRelevantChunks   = 3   // chunks included in a prompt
	SimilarityThreshold = 0.7 // minimum score for a chunk to count as relevant
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore persists knowledge chunks. Implemented by store.SQLiteStore.
type ChunkStore interface {
	ReplaceDataChunks(ctx context.Context, chunks []store.DataChunk) (int, error)
	GetAllDataChunks(ctx context.Context) ([]store.DataChunk, error)
}

// Retriever keeps the chunks in memory and scores them against a query.
type Retriever struct {
	embedder Embedder
	chunks   []store.DataChunk
}

func NewRetriever(ctx context.Context, db ChunkStore, embedder Embedder) (*Retriever, error) {
	chunks, err := db.GetAllDataChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load data chunks: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("knowledge retriever initialized with no data chunks, run with -ingest first")
	} else {
		slog.Info("knowledge retriever initialized", "chunks", len(chunks))
	}
	return &Retriever{embedder: embedder, chunks: chunks}, nil
}

type scoredChunk struct {
	chunk      store.DataChunk
	similarity float32
}

// RelevantContext returns up to NumRelevantChunks chunk contents scoring at
// least SimilarityThreshold against query, best first, separated by blank
// lines. An empty string means nothing relevant was found.
func (r *Retriever) RelevantContext(ctx context.Context, query string) (string, error) {
	if len(r.chunks) == 0 {
		return "", nil
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to get query embedding: %w", err)
	}

	scored := make([]scoredChunk, 0, len(r.chunks))
	for _, chunk := range r.chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			slog.Debug("skipping chunk", "chunkId", chunk.ID, "error", err)
			continue
		}
		if similarity >= SimilarityThreshold {
			scored = append(scored, scoredChunk{chunk: chunk, similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})
	if len(scored) > NumRelevantChunks {
		scored = scored[:NumRelevantChunks]
	}
	if len(scored) == 0 {
		slog.Debug("no relevant chunks found", "threshold", SimilarityThreshold)
		return "", nil
	}

	parts := make([]string, len(scored))
	for i, s := range scored {
		parts[i] = s.chunk.Content
	}
	return strings.Join(parts, "\n\n"), nil
}
