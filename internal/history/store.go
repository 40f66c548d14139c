// Package history is the optional SQLite archive of processed messages and
// delivery outcomes. The in-memory queue is authoritative for the pipeline;
// this archive only serves audits and reporting across restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"infobot/internal/domain"

	_ "modernc.org/sqlite"
)

// Store archives messages into SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		sender       TEXT NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT,
		detected_at  DATETIME NOT NULL,
		processed_at DATETIME,
		forwarded    INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_detected ON messages(detected_at);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, detected_at);

	CREATE TABLE IF NOT EXISTS deliveries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id  TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		target      TEXT NOT NULL,
		ok          INTEGER NOT NULL,
		sent_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_msg ON deliveries(message_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordMessage upserts one processed message. Re-recording the same ID
// keeps the first row's detected_at and updates the processing outcome.
func (s *Store) RecordMessage(ctx context.Context, msg *domain.Message, forwarded bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, role, content, detected_at, processed_at, forwarded)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET processed_at=excluded.processed_at, forwarded=excluded.forwarded`,
		msg.ID, msg.Sender, msg.Role.String(), msg.Content,
		msg.DetectedAt, nullTime(msg.ProcessedAt), boolInt(forwarded),
	)
	return err
}

// RecordDelivery appends one per-recipient broadcast outcome.
func (s *Store) RecordDelivery(ctx context.Context, messageID, target string, ok bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (message_id, target, ok, sent_at) VALUES (?, ?, ?, ?)`,
		messageID, target, boolInt(ok), at,
	)
	return err
}

// ArchivedMessage is one row of the messages table.
type ArchivedMessage struct {
	ID          string
	Sender      string
	Role        string
	Content     string
	DetectedAt  time.Time
	ProcessedAt time.Time
	Forwarded   bool
}

// RecentMessages returns the newest archived messages, most recent first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, role, content, detected_at, processed_at, forwarded
		 FROM messages ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		var processed sql.NullTime
		var forwarded int
		if err := rows.Scan(&m.ID, &m.Sender, &m.Role, &m.Content, &m.DetectedAt, &processed, &forwarded); err != nil {
			return nil, err
		}
		if processed.Valid {
			m.ProcessedAt = processed.Time
		}
		m.Forwarded = forwarded != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeliveryStats sums successful and failed deliveries for one message.
func (s *Store) DeliveryStats(ctx context.Context, messageID string) (ok, failed int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(ok), 0), COALESCE(SUM(1-ok), 0) FROM deliveries WHERE message_id = ?`,
		messageID,
	).Scan(&ok, &failed)
	return ok, failed, err
}

// Prune evicts archived messages older than the cutoff, deliveries included.
// Deliveries are removed explicitly; foreign keys are not enabled on the
// connection.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE message_id IN (SELECT id FROM messages WHERE detected_at < ?)`,
		cutoff); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE detected_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
