// Package contacts is the assistant's people directory: who the user
// knows, how to reach them, and whether an address is familiar. It is
// filled by CardDAV sync and by hand.
package contacts

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no active contact matches.
var ErrNotFound = errors.New("contact not found")

// Fact keys with special meaning.
const (
	FactEmail = "email"
	FactPhone = "phone"
	FactOrg   = "org"
	FactTitle = "title"
)

const (
	contactColumns          = "id, name, kind, relationship, summary, details, source, source_uid, last_interaction, created_at, updated_at"
	qualifiedContactColumns = "contacts.id, contacts.name, contacts.kind, contacts.relationship, contacts.summary, contacts.details, contacts.source, contacts.source_uid, contacts.last_interaction, contacts.created_at, contacts.updated_at"
	activeFilter            = "deleted_at IS NULL"
)

// Contact is a person or organization in the directory.
type Contact struct {
	ID              uuid.UUID           `json:"id"`
	Name            string              `json:"name"`
	Kind            string              `json:"kind"`                   // person, organization
	Relationship    string              `json:"relationship,omitempty"` // colleague, family, vendor
	Summary         string              `json:"summary,omitempty"`
	Details         string              `json:"details,omitempty"`
	Source          string              `json:"source,omitempty"` // manual, carddav
	SourceUID       string              `json:"-"`
	LastInteraction time.Time           `json:"last_interaction,omitzero"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Facts           map[string][]string `json:"facts,omitempty"`
}

// Emails returns the contact's addresses, if facts are loaded.
func (c *Contact) Emails() []string { return c.Facts[FactEmail] }

// Store persists contacts and their facts in SQLite.
type Store struct {
	db         *sql.DB
	ftsEnabled bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewStore creates the contact tables in db if needed.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, now: time.Now, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate contacts: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'person',
			relationship TEXT,
			summary TEXT,
			details TEXT,
			source TEXT NOT NULL DEFAULT 'manual',
			source_uid TEXT,
			last_interaction TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name);
		CREATE INDEX IF NOT EXISTS idx_contacts_deleted ON contacts(deleted_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_source_uid ON contacts(source, source_uid) WHERE source_uid IS NOT NULL;

		CREATE TABLE IF NOT EXISTS contact_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id TEXT NOT NULL REFERENCES contacts(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_contact_facts_contact_id ON contact_facts(contact_id);
		CREATE INDEX IF NOT EXISTS idx_contact_facts_value ON contact_facts(key, value);
	`)
	if err != nil {
		return err
	}
	s.tryEnableFTS()
	return nil
}

// tryEnableFTS creates the FTS5 index. Search falls back to LIKE when
// the driver lacks FTS5.
func (s *Store) tryEnableFTS() {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS contacts_fts USING fts5(
			name, relationship, summary, details,
			content=contacts, content_rowid=rowid
		)
	`)
	if err != nil {
		s.logger.Warn("FTS5 not available for contacts, using LIKE fallback", "error", err)
		return
	}
	s.ftsEnabled = true
	s.rebuildFTS()
}

// Upsert creates or updates a contact. A contact without an ID gets a
// new UUIDv7; a soft-deleted contact with the same ID is resurrected.
func (s *Store) Upsert(c *Contact) (*Contact, error) {
	now := s.now().UTC()
	if c.Kind == "" {
		c.Kind = "person"
	}
	if c.Source == "" {
		c.Source = "manual"
	}

	if c.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		c.ID = id
		c.CreatedAt = now
		c.UpdatedAt = now

		_, err = s.db.Exec(`
			INSERT INTO contacts (id, name, kind, relationship, summary, details, source, source_uid, last_interaction, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID.String(), c.Name, c.Kind, nullStr(c.Relationship), nullStr(c.Summary),
			nullStr(c.Details), c.Source, nullStr(c.SourceUID), nullTime(c.LastInteraction),
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("insert contact: %w", err)
		}
		s.rebuildFTS()
		return c, nil
	}

	c.UpdatedAt = now
	_, err := s.db.Exec(`
		UPDATE contacts SET name = ?, kind = ?, relationship = ?, summary = ?, details = ?,
			source = ?, source_uid = ?, last_interaction = ?, updated_at = ?, deleted_at = NULL
		WHERE id = ?
	`, c.Name, c.Kind, nullStr(c.Relationship), nullStr(c.Summary), nullStr(c.Details),
		c.Source, nullStr(c.SourceUID), nullTime(c.LastInteraction),
		now.Format(time.RFC3339), c.ID.String())
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	s.rebuildFTS()
	return c, nil
}

// Get retrieves an active contact with its facts.
func (s *Store) Get(id uuid.UUID) (*Contact, error) {
	c, err := s.scanOne(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE `+activeFilter+` AND id = ?`, id.String()))
	if err != nil {
		return nil, err
	}
	if c.Facts, err = s.Facts(id); err != nil {
		return nil, err
	}
	return c, nil
}

// FindByName returns the active contact whose name matches
// case-insensitively.
func (s *Store) FindByName(name string) (*Contact, error) {
	return s.scanOne(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE `+activeFilter+` AND LOWER(name) = LOWER(?) LIMIT 1`, name))
}

// FindBySource returns the contact imported from source with uid.
func (s *Store) FindBySource(source, uid string) (*Contact, error) {
	return s.scanOne(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE source = ? AND source_uid = ?`, source, uid))
}

// FindByEmail returns the active contact owning addr.
func (s *Store) FindByEmail(addr string) (*Contact, error) {
	addr = normalizeEmail(addr)
	if addr == "" {
		return nil, ErrNotFound
	}
	return s.scanOne(s.db.QueryRow(`
		SELECT `+qualifiedContactColumns+`
		FROM contacts JOIN contact_facts ON contacts.id = contact_facts.contact_id
		WHERE contacts.`+activeFilter+` AND contact_facts.key = ? AND LOWER(contact_facts.value) = ?
		LIMIT 1
	`, FactEmail, addr))
}

// IsKnownEmail reports whether addr belongs to an active contact.
func (s *Store) IsKnownEmail(addr string) bool {
	_, err := s.FindByEmail(addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("contact email lookup failed", "error", err)
	}
	return err == nil
}

// Find searches by name, details, email or phone, loading facts for
// each match. Email-shaped queries match addresses exactly first.
func (s *Store) Find(query string, limit int) ([]*Contact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	seen := make(map[uuid.UUID]bool)
	var out []*Contact
	add := func(cs []*Contact) {
		for _, c := range cs {
			if len(out) >= limit || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}

	if strings.Contains(query, "@") {
		if c, err := s.FindByEmail(query); err == nil {
			add([]*Contact{c})
		}
	}
	byText, err := s.Search(query)
	if err != nil {
		return nil, err
	}
	add(byText)
	byFact, err := s.findByFactLike(query)
	if err != nil {
		return nil, err
	}
	add(byFact)

	for _, c := range out {
		if c.Facts, err = s.Facts(c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Search finds contacts by text using FTS5 or the LIKE fallback.
func (s *Store) Search(query string) ([]*Contact, error) {
	if s.ftsEnabled {
		if q := sanitizeFTS5Query(query); q != "" {
			rows, err := s.db.Query(`
				SELECT `+qualifiedContactColumns+`
				FROM contacts_fts JOIN contacts ON contacts_fts.rowid = contacts.rowid
				WHERE contacts_fts MATCH ? AND contacts.`+activeFilter+`
				ORDER BY rank LIMIT 50
			`, q)
			if err == nil {
				defer rows.Close()
				return scanAll(rows)
			}
			s.logger.Warn("FTS5 search failed, falling back to LIKE", "error", err, "query", query)
		}
	}

	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT `+contactColumns+` FROM contacts WHERE `+activeFilter+
			` AND (name LIKE ? OR relationship LIKE ? OR summary LIKE ? OR details LIKE ?) ORDER BY updated_at DESC LIMIT 50`,
		pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *Store) findByFactLike(value string) ([]*Contact, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT `+qualifiedContactColumns+`
		FROM contacts JOIN contact_facts ON contacts.id = contact_facts.contact_id
		WHERE contacts.`+activeFilter+` AND contact_facts.key IN (?, ?, ?) AND contact_facts.value LIKE ?
		ORDER BY contacts.name LIMIT 50
	`, FactEmail, FactPhone, FactOrg, "%"+value+"%")
	if err != nil {
		return nil, fmt.Errorf("search contact facts: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListAll returns all active contacts ordered by name.
func (s *Store) ListAll() ([]*Contact, error) {
	rows, err := s.db.Query(`SELECT ` + contactColumns + ` FROM contacts WHERE ` + activeFilter + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Delete soft-deletes a contact.
func (s *Store) Delete(id uuid.UUID) error {
	res, err := s.db.Exec(`UPDATE contacts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		s.now().UTC().Format(time.RFC3339), id.String())
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.rebuildFTS()
	return nil
}

// Touch records an interaction with the contact owning addr. Unknown
// addresses are ignored.
func (s *Store) Touch(addr string, at time.Time) error {
	c, err := s.FindByEmail(addr)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !at.After(c.LastInteraction) {
		return nil
	}
	_, err = s.db.Exec(`UPDATE contacts SET last_interaction = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), c.ID.String())
	return err
}

// AddFact adds a value under key. Existing identical values are kept
// as-is; email addresses are stored lowercase.
func (s *Store) AddFact(contactID uuid.UUID, key, value string) error {
	if key == FactEmail {
		value = normalizeEmail(value)
	}
	if value == "" {
		return nil
	}

	var exists int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM contact_facts WHERE contact_id = ? AND key = ? AND value = ?`,
		contactID.String(), key, value).Scan(&exists); err != nil {
		return fmt.Errorf("check fact: %w", err)
	}
	if exists > 0 {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO contact_facts (contact_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		contactID.String(), key, value, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add fact: %w", err)
	}
	return nil
}

// ReplaceFacts sets the values for key to exactly values.
func (s *Store) ReplaceFacts(contactID uuid.UUID, key string, values []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contact_facts WHERE contact_id = ? AND key = ?`, contactID.String(), key); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if key == FactEmail {
			v = normalizeEmail(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		if _, err := tx.Exec(
			`INSERT INTO contact_facts (contact_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
			contactID.String(), key, v, now); err != nil {
			return fmt.Errorf("insert fact: %w", err)
		}
	}
	return tx.Commit()
}

// Facts returns every fact for a contact grouped by key.
func (s *Store) Facts(contactID uuid.UUID) (map[string][]string, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM contact_facts WHERE contact_id = ? ORDER BY key, id`, contactID.String())
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := make(map[string][]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts[key] = append(facts[key], value)
	}
	return facts, rows.Err()
}

// Stats returns directory counts.
func (s *Store) Stats() map[string]any {
	var total, withEmail int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE ` + activeFilter).Scan(&total)
	_ = s.db.QueryRow(`SELECT COUNT(DISTINCT contact_id) FROM contact_facts WHERE key = ?`, FactEmail).Scan(&withEmail)

	sources := make(map[string]int)
	rows, err := s.db.Query(`SELECT source, COUNT(*) FROM contacts WHERE ` + activeFilter + ` GROUP BY source`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var src string
			var n int
			if rows.Scan(&src, &n) == nil {
				sources[src] = n
			}
		}
	}
	return map[string]any{"total": total, "with_email": withEmail, "sources": sources}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (*Contact, error) {
	var (
		c                                                     Contact
		idStr, createdStr, updatedStr                         string
		relationship, summary, details, sourceUID, lastSeenAt sql.NullString
	)
	if err := row.Scan(&idStr, &c.Name, &c.Kind, &relationship, &summary, &details,
		&c.Source, &sourceUID, &lastSeenAt, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	var err error
	if c.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse contact id: %w", err)
	}
	c.Relationship = relationship.String
	c.Summary = summary.String
	c.Details = details.String
	c.SourceUID = sourceUID.String
	if lastSeenAt.Valid {
		c.LastInteraction, _ = time.Parse(time.RFC3339, lastSeenAt.String)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}

func (s *Store) scanOne(row *sql.Row) (*Contact, error) {
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func scanAll(rows *sql.Rows) ([]*Contact, error) {
	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) rebuildFTS() {
	if !s.ftsEnabled {
		return
	}
	if _, err := s.db.Exec(`INSERT INTO contacts_fts(contacts_fts) VALUES('rebuild')`); err != nil {
		s.logger.Warn("failed to rebuild contacts FTS index", "error", err)
	}
}

func sanitizeFTS5Query(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func normalizeEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndexByte(addr, '<'); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	return strings.ToLower(strings.TrimPrefix(addr, "mailto:"))
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
