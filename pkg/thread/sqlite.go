package thread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
)

// SQLiteConfig holds store configuration.
type SQLiteConfig struct {
	Path   string
	Logger zerolog.Logger
}

// SQLiteStore persists threads and messages in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database and prepares the schema.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers proceed while a run appends messages.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: cfg.Logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Thread store initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			is_llm_message INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateThread mints a new thread row.
func (s *SQLiteStore) CreateThread(ctx context.Context) (*Thread, error) {
	now := time.Now().UTC()
	th := &Thread{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)",
		th.ID, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	s.logger.Debug().Str("thread_id", th.ID).Msg("Thread created")
	return th, nil
}

// GetThread loads one thread record.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var th Thread
	var created, updated int64

	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, updated_at FROM threads WHERE id = ?", threadID,
	).Scan(&th.ID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	th.CreatedAt = time.Unix(0, created).UTC()
	th.UpdatedAt = time.Unix(0, updated).UTC()
	return &th, nil
}

// AddMessage appends one message to its thread.
func (s *SQLiteStore) AddMessage(ctx context.Context, params AddMessageParams) (*Message, error) {
	ctx, span := tracing.StartSpan(ctx, "thread.add_message",
		attribute.String("thread_id", params.ThreadID),
		attribute.String("message_type", string(params.Type)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if params.ThreadID == "" {
		return nil, errors.New("thread id is required")
	}
	if params.Type == "" {
		return nil, errors.New("message type is required")
	}

	content, err := encodeJSON(params.Content)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metadata, err := encodeJSON(params.Metadata)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	msg := &Message{
		ID:           uuid.NewString(),
		ThreadID:     params.ThreadID,
		Type:         params.Type,
		Content:      content,
		IsLLMMessage: params.IsLLMMessage,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, thread_id, type, content, is_llm_message, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ThreadID, string(msg.Type), string(content), boolToInt(msg.IsLLMMessage), string(metadata), msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE threads SET updated_at = ? WHERE id = ?",
		msg.CreatedAt.UnixNano(), msg.ThreadID,
	); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to touch thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	logger.Debug().
		Str("thread_id", msg.ThreadID).
		Str("message_id", msg.ID).
		Str("type", string(msg.Type)).
		Msg("Message saved")

	return msg, nil
}

// Messages returns every message of a thread in insertion order.
func (s *SQLiteStore) Messages(ctx context.Context, threadID string) ([]Message, error) {
	return s.queryMessages(ctx, threadID, false)
}

// LLMMessages returns the model-visible subset in insertion order.
func (s *SQLiteStore) LLMMessages(ctx context.Context, threadID string) ([]Message, error) {
	return s.queryMessages(ctx, threadID, true)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, threadID string, llmOnly bool) ([]Message, error) {
	query := "SELECT id, thread_id, type, content, is_llm_message, metadata, created_at FROM messages WHERE thread_id = ?"
	if llmOnly {
		query += " AND is_llm_message = 1"
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var content, metadata string
		var isLLM int
		var created int64

		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Type, &content, &isLLM, &metadata, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.Content = []byte(content)
		m.Metadata = []byte(metadata)
		m.IsLLMMessage = isLLM != 0
		m.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
