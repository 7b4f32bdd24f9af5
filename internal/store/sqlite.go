package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	changeNotifier
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// Single writer keeps the read-modify-write of message arrays serialised.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL DEFAULT '',
        given_name TEXT NOT NULL DEFAULT '',
        family_name TEXT NOT NULL DEFAULT '',
        full_name TEXT NOT NULL DEFAULT '',
        program TEXT NOT NULL DEFAULT '',
        photo_url TEXT NOT NULL DEFAULT '',
        is_federated BOOLEAN NOT NULL DEFAULT FALSE,
        federated_subject TEXT NOT NULL DEFAULT '',
        needs_additional_info BOOLEAN NOT NULL DEFAULT FALSE,
        total_conversations INTEGER NOT NULL DEFAULT 0,
        total_messages INTEGER NOT NULL DEFAULT 0,
        last_activity DATETIME,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- {userId}_{epoch-millis}
        user_id TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        last_message TEXT NOT NULL DEFAULT '',
        messages_json TEXT NOT NULL DEFAULT '[]',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats (user_id, updated_at DESC);

    CREATE TABLE IF NOT EXISTS data_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        content TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

const userColumns = `id, email, password_hash, given_name, family_name, full_name, program, photo_url,
    is_federated, federated_subject, needs_additional_info, total_conversations, total_messages,
    last_activity, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var lastActivity sql.NullTime
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.GivenName, &user.FamilyName,
		&user.FullName, &user.Program, &user.PhotoURL, &user.IsFederated, &user.FederatedSubject,
		&user.NeedsAdditionalInfo, &user.Stats.TotalConversations, &user.Stats.TotalMessages,
		&lastActivity, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if lastActivity.Valid {
		user.Stats.LastActivity = lastActivity.Time
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Email, user.PasswordHash, user.GivenName, user.FamilyName, user.FullName,
		user.Program, user.PhotoURL, user.IsFederated, user.FederatedSubject, user.NeedsAdditionalInfo,
		user.Stats.TotalConversations, user.Stats.TotalMessages, user.Stats.LastActivity.UTC(),
		user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, user *User) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET given_name = ?, family_name = ?, full_name = ?,
        program = ?, photo_url = ?, needs_additional_info = ?, federated_subject = ?, updated_at = ?
        WHERE id = ?`,
		user.GivenName, user.FamilyName, user.FullName, user.Program, user.PhotoURL,
		user.NeedsAdditionalInfo, user.FederatedSubject, user.UpdatedAt.UTC(), user.ID)
	if err != nil {
		return fmt.Errorf("failed to execute user update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordActivity(ctx context.Context, userID string, conversations, messages int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET total_conversations = total_conversations + ?,
        total_messages = total_messages + ?, last_activity = ?, updated_at = ? WHERE id = ?`,
		conversations, messages, at.UTC(), at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Chat methods

// sqliteMessage mirrors Message but keeps the timestamp loosely typed so
// rows written by older clients (epoch numbers, native timestamp maps)
// still load.
type sqliteMessage struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp any    `json:"timestamp"`
	Type      string `json:"type,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
	FromAPI   bool   `json:"fromAPI,omitempty"`
}

func decodeMessagesJSON(data string, fallback time.Time) ([]Message, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw []sqliteMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, m := range raw {
		ts, ok := normalizeOr(m.Timestamp, fallback)
		if !ok {
			slog.Warn("stored message has unrecognized timestamp, using transcript time", "messageId", m.ID, "value", m.Timestamp)
		}
		messages = append(messages, Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: ts,
			Type:      m.Type,
			IsError:   m.IsError,
			FromAPI:   m.FromAPI,
		})
	}
	return messages, nil
}

func encodeMessagesJSON(msgs []Message) (string, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	return string(data), nil
}

func (s *SQLiteStore) CreateTranscript(ctx context.Context, t *Transcript) error {
	messagesJSON, err := encodeMessagesJSON(t.Messages)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chats (id, user_id, title, last_message, messages_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.LastMessage, messagesJSON, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to execute chat insert: %w", err)
	}

	s.notify(ChangeEvent{Op: OperationCreate, UserID: t.UserID, TranscriptID: t.ID})
	return nil
}

func scanTranscript(row rowScanner) (*Transcript, error) {
	var t Transcript
	var messagesJSON string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.LastMessage, &messagesJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	t.Messages, err = decodeMessagesJSON(messagesJSON, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", t.ID, err)
	}
	return &t, nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	return scanTranscript(s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, last_message, messages_json, created_at, updated_at FROM chats WHERE id = ?", id))
}

// AppendMessages adds msgs to the end of the transcript's message array and
// refreshes its preview and update time in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, id string, msgs []Message, lastMessage string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var userID, messagesJSON string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT user_id, messages_json, created_at FROM chats WHERE id = ?", id).
		Scan(&userID, &messagesJSON, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load chat for append: %w", err)
	}

	existing, err := decodeMessagesJSON(messagesJSON, createdAt)
	if err != nil {
		return err
	}
	updatedJSON, err := encodeMessagesJSON(append(existing, msgs...))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE chats SET messages_json = ?, last_message = ?, updated_at = ? WHERE id = ?",
		updatedJSON, lastMessage, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to execute chat append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat append: %w", err)
	}

	s.notify(ChangeEvent{Op: OperationUpdate, UserID: userID, TranscriptID: id})
	return nil
}

func (s *SQLiteStore) ListTranscripts(ctx context.Context, userID string) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, title, last_message, messages_json, created_at, updated_at
        FROM chats WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Transcript{}
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *t)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) DeleteTranscript(ctx context.Context, id string) error {
	var userID string
	err := s.db.QueryRowContext(ctx, "SELECT user_id FROM chats WHERE id = ?", id).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up chat: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	s.notify(ChangeEvent{Op: OperationDelete, UserID: userID, TranscriptID: id})
	return nil
}

// DataChunk methods (knowledge base for the in-process answerer)

func (s *SQLiteStore) ReplaceDataChunks(ctx context.Context, chunks []DataChunk) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin chunk replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM data_chunks"); err != nil {
		return 0, fmt.Errorf("failed to delete data_chunks: %w", err)
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name='data_chunks'")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		slog.Warn("could not reset sequence for data_chunks", "error", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO data_chunks (content, embedding_json) VALUES (?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare data_chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingBytes, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.Content, string(embeddingBytes)); err != nil {
			return 0, fmt.Errorf("failed to execute data_chunk insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return len(chunks), nil
}

func (s *SQLiteStore) GetAllDataChunks(ctx context.Context) ([]DataChunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, content, embedding_json FROM data_chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query data_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []DataChunk
	for rows.Next() {
		var chunk DataChunk
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan data_chunk row: %w", err)
		}
		if embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				slog.Warn("failed to unmarshal chunk embedding", "chunkId", chunk.ID, "error", err)
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}
