package conversation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a conversation is not stored.
var ErrNotFound = errors.New("conversation not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// record is the persisted form of a Context. Pending actions are runtime
// state and are never stored.
type record struct {
	Key          string
	UserID       string
	ChannelID    string
	ThreadID     string
	History      []Turn
	Metadata     map[string]any
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store persists conversations in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the conversations table in db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			thread_id TEXT,
			history TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conv_user ON conversations(user_id);
		CREATE INDEX IF NOT EXISTS idx_conv_activity ON conversations(last_activity);
	`)
	return err
}

func (s *Store) save(r record) error {
	hist, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (key, user_id, channel_id, thread_id, history, metadata, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			history = excluded.history,
			metadata = excluded.metadata,
			last_activity = excluded.last_activity
	`, r.Key, r.UserID, r.ChannelID, r.ThreadID, string(hist), string(meta),
		r.CreatedAt.UTC().Format(timeLayout), r.LastActivity.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", r.Key, err)
	}
	return nil
}

const recordColumns = `key, user_id, channel_id, thread_id, history, metadata, created_at, last_activity`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record, error) {
	var (
		r                     record
		thread, meta          sql.NullString
		hist, created, active string
	)
	if err := row.Scan(&r.Key, &r.UserID, &r.ChannelID, &thread, &hist, &meta, &created, &active); err != nil {
		return r, err
	}
	r.ThreadID = thread.String
	if err := json.Unmarshal([]byte(hist), &r.History); err != nil {
		return r, fmt.Errorf("decode history: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
			return r, fmt.Errorf("decode metadata: %w", err)
		}
	}
	var err error
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return r, fmt.Errorf("parse created_at: %w", err)
	}
	if r.LastActivity, err = time.Parse(timeLayout, active); err != nil {
		return r, fmt.Errorf("parse last_activity: %w", err)
	}
	return r, nil
}

func (s *Store) load(key string) (record, error) {
	r, err := scanRecord(s.db.QueryRow(`SELECT `+recordColumns+` FROM conversations WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

func (s *Store) query(q string, args ...any) ([]record, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadActive returns conversations active since cutoff.
func (s *Store) loadActive(cutoff time.Time) ([]record, error) {
	return s.query(`SELECT `+recordColumns+` FROM conversations WHERE last_activity >= ? ORDER BY last_activity DESC`,
		cutoff.UTC().Format(timeLayout))
}

func (s *Store) loadForUser(userID string, limit int) ([]record, error) {
	return s.query(`SELECT `+recordColumns+` FROM conversations WHERE user_id = ? ORDER BY last_activity DESC LIMIT ?`,
		userID, limit)
}

func (s *Store) delete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// cleanup deletes conversations idle since before cutoff.
func (s *Store) cleanup(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE last_activity < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports stored totals.
func (s *Store) Stats() (total, users int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT user_id) FROM conversations`).Scan(&total, &users)
	return total, users, err
}
