// Package usermemory keeps what the assistant has learned about each
// user: preferences, facts, corrections and short contact aliases
// ("ada" -> ada@example.com). A compact summary of it is injected into
// agent system prompts.
package usermemory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a memory.
type Type string

// Memory types.
const (
	TypePreference Type = "preference"
	TypeContact    Type = "contact"
	TypeFact       Type = "fact"
	TypeCorrection Type = "correction"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypePreference, TypeContact, TypeFact, TypeCorrection:
		return true
	}
	return false
}

// ErrNotFound is returned when a memory or alias does not exist.
var ErrNotFound = errors.New("not found")

// Memory is one remembered item, unique per user and key.
type Memory struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Type        Type      `json:"type"`
	Source      string    `json:"source,omitempty"`
	Confidence  float64   `json:"confidence"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Contact is a resolved alias.
type Contact struct {
	Alias    string `json:"alias"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	UseCount int    `json:"use_count"`
}

// Stats summarizes stored memory.
type Stats struct {
	TotalMemories  int            `json:"total_memories"`
	ByType         map[string]int `json:"by_type"`
	ContactAliases int            `json:"contact_aliases"`
}

// Store manages memory persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the memory tables in db if needed.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate memory schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			type TEXT NOT NULL,
			source TEXT,
			confidence REAL DEFAULT 1.0,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
		CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(user_id, type);

		CREATE TABLE IF NOT EXISTS contact_aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			alias TEXT NOT NULL,
			email TEXT NOT NULL,
			name TEXT,
			source TEXT,
			use_count INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			UNIQUE(user_id, alias)
		);
	`)
	return err
}

func (s *Store) stamp() string { return s.now().UTC().Format(time.RFC3339) }

const memoryColumns = `id, user_id, key, value, type, source, confidence, access_count, created_at, updated_at`

// Remember creates or replaces the memory stored under key.
func (s *Store) Remember(ctx context.Context, userID, key, value string, typ Type, source string, confidence float64) (*Memory, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown memory type %q", typ)
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(value) == "" {
		return nil, errors.New("memory key and value are required")
	}

	id, _ := uuid.NewV7()
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, key, value, type, source, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			type = excluded.type,
			source = excluded.source,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`, id.String(), userID, key, value, string(typ), source, confidence, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}

	s.logger.Debug("memory stored", "user_id", userID, "key", key, "type", typ)
	return s.get(ctx, userID, key)
}

func (s *Store) get(ctx context.Context, userID, key string) (*Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND key = ?`, userID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Recall returns the memory stored under key and counts the access.
func (s *Store) Recall(ctx context.Context, userID, key string) (*Memory, error) {
	m, err := s.get(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1 WHERE user_id = ? AND key = ?`, userID, key); err != nil {
		s.logger.Debug("count memory access failed", "user_id", userID, "key", key, "error", err)
		return m, nil
	}
	m.AccessCount++
	return m, nil
}

// RecallAll returns a user's memories, most used first. An empty typ
// returns every type.
func (s *Store) RecallAll(ctx context.Context, userID string, typ Type, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{userID}
	if typ != "" {
		q += ` AND type = ?`
		args = append(args, string(typ))
	}
	q += ` ORDER BY access_count DESC, updated_at DESC LIMIT ?`
	args = append(args, limit)
	return s.query(ctx, q, args...)
}

// Search finds memories whose key or value contains query.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + query + "%"
	return s.query(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND (key LIKE ? OR value LIKE ?)
		ORDER BY access_count DESC, updated_at DESC
		LIMIT ?
	`, userID, pattern, pattern, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Forget deletes one memory.
func (s *Store) Forget(ctx context.Context, userID, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %q: %w", key, ErrNotFound)
	}
	return nil
}

// ForgetAll deletes every memory and alias for a user and returns how
// many memories were removed.
func (s *Store) ForgetAll(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contact_aliases WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("delete aliases: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("user memory cleared", "user_id", userID, "memories", n)
	return n, nil
}

// AddContactAlias maps a short name to an address. Re-adding an alias
// updates it and bumps its use count.
func (s *Store) AddContactAlias(ctx context.Context, userID, alias, email, name, source string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" || email == "" {
		return errors.New("alias and email are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_aliases (user_id, alias, email, name, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, alias) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			use_count = use_count + 1
	`, userID, alias, email, nullable(name), source, s.stamp())
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

// ResolveContact looks up an alias, case-insensitively, and counts the
// use.
func (s *Store) ResolveContact(ctx context.Context, userID, alias string) (*Contact, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	c := Contact{Alias: alias}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT email, name, use_count FROM contact_aliases WHERE user_id = ? AND alias = ?`,
		userID, alias).Scan(&c.Email, &name, &c.UseCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve alias: %w", err)
	}
	c.Name = name.String

	if _, err := s.db.ExecContext(ctx,
		`UPDATE contact_aliases SET use_count = use_count + 1 WHERE user_id = ? AND alias = ?`, userID, alias); err != nil {
		s.logger.Debug("count alias use failed", "user_id", userID, "alias", alias, "error", err)
		return &c, nil
	}
	c.UseCount++
	return &c, nil
}

// FrequentContacts returns a user's aliases, most used first.
func (s *Store) FrequentContacts(ctx context.Context, userID string, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT alias, email, name, use_count FROM contact_aliases
		WHERE user_id = ?
		ORDER BY use_count DESC, alias
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var name sql.NullString
		if err := rows.Scan(&c.Alias, &c.Email, &name, &c.UseCount); err != nil {
			return nil, err
		}
		c.Name = name.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContextSummary renders what is known about a user for a system
// prompt. It returns "" when nothing is known.
func (s *Store) ContextSummary(ctx context.Context, userID string, max int) (string, error) {
	mems, err := s.RecallAll(ctx, userID, "", max)
	if err != nil {
		return "", err
	}
	contacts, err := s.FrequentContacts(ctx, userID, 5)
	if err != nil {
		return "", err
	}

	var lines []string
	if len(mems) > 0 {
		lines = append(lines, "What I know about this user:")
		for _, m := range mems {
			lines = append(lines, fmt.Sprintf("- %s: %s", m.Key, m.Value))
		}
	}
	if len(contacts) > 0 {
		lines = append(lines, "\nKnown contacts:")
		for _, c := range contacts {
			var name string
			if c.Name != "" {
				name = " (" + c.Name + ")"
			}
			lines = append(lines, fmt.Sprintf("- %q refers to %s%s", c.Alias, c.Email, name))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Stats counts memories and aliases. An empty userID counts everyone.
func (s *Store) Stats(ctx context.Context, userID string) (Stats, error) {
	st := Stats{ByType: make(map[string]int)}

	where, args := "", []any{}
	if userID != "" {
		where, args = " WHERE user_id = ?", []any{userID}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM memories`+where+` GROUP BY type`, args...)
	if err != nil {
		return st, fmt.Errorf("count memories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return st, err
		}
		st.ByType[typ] = n
		st.TotalMemories += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_aliases`+where, args...).Scan(&st.ContactAliases); err != nil {
		return st, fmt.Errorf("count aliases: %w", err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*Memory, error) {
	var m Memory
	var idStr, typ, createdStr, updatedStr string
	var source sql.NullString

	err := row.Scan(&idStr, &m.UserID, &m.Key, &m.Value, &typ, &source, &m.Confidence, &m.AccessCount, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	m.ID, _ = uuid.Parse(idStr)
	m.Type = Type(typ)
	m.Source = source.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &m, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
