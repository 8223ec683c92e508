// Package feedback learns from how a user interacts with results: which
// sources they engage with, what they correct, and which phrasings they
// repeat. Scores feed back into result ordering for federated search.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Type is a kind of feedback signal.
type Type string

// Feedback types.
const (
	ResultClick      Type = "result_click"
	ResultSkip       Type = "result_skip"
	ExplicitPositive Type = "explicit_positive"
	ExplicitNegative Type = "explicit_negative"
	Correction       Type = "correction"
	Refinement       Type = "refinement"
)

func (t Type) positive() bool { return t == ResultClick || t == ExplicitPositive }

// Event is one feedback signal.
type Event struct {
	UserID       string
	Query        string
	Type         Type
	ResultID     string
	ResultSource string
	Metadata     map[string]any
	Timestamp    time.Time
}

// Pattern is a normalized query the user has issued.
type Pattern struct {
	Pattern     string  `json:"pattern"`
	Intent      string  `json:"intent"`
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`
}

// CorrectionRecord is a stored user correction.
type CorrectionRecord struct {
	OriginalQuery  string    `json:"original_query"`
	OriginalResult string    `json:"original_result,omitempty"`
	CorrectedValue string    `json:"corrected_value"`
	CorrectionType string    `json:"correction_type"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stats summarizes stored feedback.
type Stats struct {
	TotalEvents      int            `json:"total_feedback_events"`
	ByType           map[string]int `json:"by_type"`
	TotalCorrections int            `json:"total_corrections"`
	TotalPatterns    int            `json:"total_patterns"`
}

// neutralScore is the relevance of a source with no feedback.
const neutralScore = 0.5

// Store persists feedback in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the feedback tables in db if needed.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate feedback schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS feedback_events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       TEXT NOT NULL,
		query         TEXT NOT NULL,
		feedback_type TEXT NOT NULL,
		result_id     TEXT,
		result_source TEXT,
		metadata      TEXT,
		timestamp     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fb_user ON feedback_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_fb_time ON feedback_events(timestamp);

	CREATE TABLE IF NOT EXISTS relevance_scores (
		user_id        TEXT NOT NULL,
		source         TEXT NOT NULL,
		positive_count INTEGER NOT NULL DEFAULT 0,
		negative_count INTEGER NOT NULL DEFAULT 0,
		score          REAL NOT NULL DEFAULT 0.5,
		last_updated   TEXT NOT NULL,
		PRIMARY KEY (user_id, source)
	);

	CREATE TABLE IF NOT EXISTS query_patterns (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT NOT NULL,
		pattern      TEXT NOT NULL,
		intent       TEXT,
		count        INTEGER NOT NULL DEFAULT 1,
		last_used    TEXT NOT NULL,
		success_rate REAL NOT NULL DEFAULT 0.5,
		UNIQUE(user_id, pattern)
	);

	CREATE TABLE IF NOT EXISTS corrections (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT NOT NULL,
		original_query  TEXT NOT NULL,
		original_result TEXT,
		corrected_value TEXT NOT NULL,
		correction_type TEXT NOT NULL,
		timestamp       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_corr_user ON corrections(user_id);
	`)
	return err
}

func (s *Store) stamp(t time.Time) string {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Format(time.RFC3339)
}

// Record stores e and, when it names a result source, updates that
// source's relevance score.
func (s *Store) Record(ctx context.Context, e Event) error {
	var meta sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal feedback metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	ts := s.stamp(e.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO feedback_events (user_id, query, feedback_type, result_id, result_source, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Query, string(e.Type), nullable(e.ResultID), nullable(e.ResultSource), meta, ts); err != nil {
		return fmt.Errorf("insert feedback event: %w", err)
	}

	if e.ResultSource != "" {
		if err := updateRelevance(ctx, tx, e.UserID, e.ResultSource, e.Type.positive(), ts); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit feedback: %w", err)
	}
	s.logger.Debug("feedback recorded", "user_id", e.UserID, "type", e.Type)
	return nil
}

// updateRelevance applies a Laplace-smoothed positive ratio.
func updateRelevance(ctx context.Context, tx *sql.Tx, userID, source string, positive bool, ts string) error {
	var pos, neg int
	err := tx.QueryRowContext(ctx,
		`SELECT positive_count, negative_count FROM relevance_scores WHERE user_id = ? AND source = ?`,
		userID, source).Scan(&pos, &neg)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read relevance score: %w", err)
	}
	if positive {
		pos++
	} else {
		neg++
	}
	score := float64(pos+1) / float64(pos+neg+2)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO relevance_scores (user_id, source, positive_count, negative_count, score, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source) DO UPDATE SET
			positive_count = excluded.positive_count,
			negative_count = excluded.negative_count,
			score = excluded.score,
			last_updated = excluded.last_updated`,
		userID, source, pos, neg, score, ts)
	if err != nil {
		return fmt.Errorf("update relevance score: %w", err)
	}
	return nil
}

// RecordResultClick records engagement with a result.
func (s *Store) RecordResultClick(ctx context.Context, userID, query, resultID, source string, meta map[string]any) error {
	return s.Record(ctx, Event{
		UserID:       userID,
		Query:        query,
		Type:         ResultClick,
		ResultID:     resultID,
		ResultSource: source,
		Metadata:     meta,
	})
}

// RecordCorrection stores a correction and logs it as a feedback event.
func (s *Store) RecordCorrection(ctx context.Context, userID, originalQuery, correctedValue, correctionType, originalResult string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (user_id, original_query, original_result, corrected_value, correction_type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, originalQuery, nullable(originalResult), correctedValue, correctionType, s.stamp(time.Time{})); err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	s.logger.Info("correction recorded", "user_id", userID, "correction_type", correctionType)
	return s.Record(ctx, Event{
		UserID: userID,
		Query:  originalQuery,
		Type:   Correction,
		Metadata: map[string]any{
			"correction_type": correctionType,
			"corrected_value": correctedValue,
		},
	})
}

// NormalizePattern lowercases q and collapses whitespace.
func NormalizePattern(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// RecordQueryPattern counts a use of pattern. The success rate is an
// exponential moving average weighting the newest outcome at 0.2.
func (s *Store) RecordQueryPattern(ctx context.Context, userID, pattern, intent string, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	ts := s.stamp(time.Time{})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pattern tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	var rate float64
	err = tx.QueryRowContext(ctx,
		`SELECT count, success_rate FROM query_patterns WHERE user_id = ? AND pattern = ?`,
		userID, pattern).Scan(&count, &rate)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO query_patterns (user_id, pattern, intent, count, last_used, success_rate)
			VALUES (?, ?, ?, 1, ?, ?)`, userID, pattern, intent, ts, outcome)
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE query_patterns SET count = ?, success_rate = ?, last_used = ?, intent = ?
			WHERE user_id = ? AND pattern = ?`,
			count+1, rate*0.8+outcome*0.2, ts, intent, userID, pattern)
	}
	if err != nil {
		return fmt.Errorf("record query pattern: %w", err)
	}
	return tx.Commit()
}

// RelevanceScores maps each source the user has given feedback on to
// its score in (0, 1).
func (s *Store) RelevanceScores(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, score FROM relevance_scores WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query relevance scores: %w", err)
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var src string
		var score float64
		if err := rows.Scan(&src, &score); err != nil {
			return nil, err
		}
		out[src] = score
	}
	return out, rows.Err()
}

// SourceRanking lists the user's sources, most relevant first.
func (s *Store) SourceRanking(ctx context.Context, userID string) ([]string, error) {
	scores, err := s.RelevanceScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(scores))
	for src := range scores {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i] < out[j]
	})
	return out, nil
}

// Corrections returns the user's recent corrections, newest first,
// optionally of one type.
func (s *Store) Corrections(ctx context.Context, userID, correctionType string, limit int) ([]CorrectionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT original_query, original_result, corrected_value, correction_type, timestamp
		FROM corrections WHERE user_id = ?`
	args := []any{userID}
	if correctionType != "" {
		q += ` AND correction_type = ?`
		args = append(args, correctionType)
	}
	q += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()
	var out []CorrectionRecord
	for rows.Next() {
		var c CorrectionRecord
		var orig sql.NullString
		var ts string
		if err := rows.Scan(&c.OriginalQuery, &orig, &c.CorrectedValue, &c.CorrectionType, &ts); err != nil {
			return nil, err
		}
		c.OriginalResult = orig.String
		c.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommonPatterns returns the user's most used query patterns.
func (s *Store) CommonPatterns(ctx context.Context, userID string, limit int) ([]Pattern, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, COALESCE(intent, ''), count, success_rate
		FROM query_patterns WHERE user_id = ?
		ORDER BY count DESC, last_used DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()
	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.Pattern, &p.Intent, &p.Count, &p.SuccessRate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Boost reorders results by source relevance with a small penalty per
// original position. Sources without a score count as neutral.
func Boost[T any](scores map[string]float64, results []T, source func(T) string) []T {
	type ranked struct {
		score float64
		idx   int
	}
	rs := make([]ranked, len(results))
	for i, r := range results {
		sc, ok := scores[source(r)]
		if !ok {
			sc = neutralScore
		}
		rs[i] = ranked{score: sc - float64(i)*0.01, idx: i}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].score > rs[j].score })
	out := make([]T, len(results))
	for i, r := range rs {
		out[i] = results[r.idx]
	}
	return out
}

// Stats summarizes feedback for userID, or for everyone when empty.
func (s *Store) Stats(ctx context.Context, userID string) (Stats, error) {
	where, args := "", []any(nil)
	if userID != "" {
		where, args = " WHERE user_id = ?", []any{userID}
	}
	st := Stats{ByType: map[string]int{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_events`+where, args...).Scan(&st.TotalEvents); err != nil {
		return st, fmt.Errorf("count feedback events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections`+where, args...).Scan(&st.TotalCorrections); err != nil {
		return st, fmt.Errorf("count corrections: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_patterns`+where, args...).Scan(&st.TotalPatterns); err != nil {
		return st, fmt.Errorf("count patterns: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT feedback_type, COUNT(*) FROM feedback_events`+where+` GROUP BY feedback_type`, args...)
	if err != nil {
		return st, fmt.Errorf("count feedback by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return st, err
		}
		st.ByType[t] = n
	}
	return st, rows.Err()
}

// CleanupOldEvents deletes feedback events older than maxAge.
func (s *Store) CleanupOldEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM feedback_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup feedback events: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
