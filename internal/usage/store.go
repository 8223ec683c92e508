// Package usage records model token usage and cost. Every model call
// made through a Meter lands in an append-only table that the stats
// endpoint and the MQTT sensors aggregate.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Record is one model call.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id,omitempty"`
	Model        string    `json:"model"`
	Tier         string    `json:"tier"` // "intent" or "agent"
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Streamed     bool      `json:"streamed,omitempty"`
}

// Summary aggregates records.
type Summary struct {
	Requests     int     `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Price is the per-million-token rate for a model.
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// DefaultPricing covers the models the default configuration uses.
func DefaultPricing() map[string]Price {
	return map[string]Price{
		"claude-sonnet-4-20250514": {InputPerMillion: 3, OutputPerMillion: 15},
		"claude-opus-4-20250514":   {InputPerMillion: 15, OutputPerMillion: 75},
		"claude-3-5-haiku-latest":  {InputPerMillion: 0.8, OutputPerMillion: 4},
	}
}

// Cost prices a call. Unknown models cost nothing.
func Cost(model string, inputTokens, outputTokens int, pricing map[string]Price) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// Store is the usage table. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the schema if needed.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS token_usage (
			id            TEXT PRIMARY KEY,
			timestamp     TEXT NOT NULL,
			user_id       TEXT,
			model         TEXT NOT NULL,
			tier          TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd      REAL NOT NULL,
			streamed      INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_token_usage_timestamp ON token_usage(timestamp);
		CREATE INDEX IF NOT EXISTS idx_token_usage_user ON token_usage(user_id);
	`)
	return err
}

// Record stores rec, assigning an ID and timestamp when unset.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage
			(id, timestamp, user_id, model, tier, input_tokens, output_tokens, cost_usd, streamed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339), rec.UserID, rec.Model, rec.Tier,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.Streamed)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary totals records in [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM token_usage WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	).Scan(&sum.Requests, &sum.InputTokens, &sum.OutputTokens, &sum.CostUSD)
	if err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// SummaryByModel totals records in [start, end) per model.
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.groupedBy(ctx, "model", start, end)
}

// SummaryByTier totals records in [start, end) per model tier.
func (s *Store) SummaryByTier(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.groupedBy(ctx, "tier", start, end)
}

// SummaryByUser totals records in [start, end) per user. Calls made
// outside a user request group under "".
func (s *Store) SummaryByUser(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.groupedBy(ctx, "user_id", start, end)
}

// column is always one of the constants above.
func (s *Store) groupedBy(ctx context.Context, column string, start, end time.Time) (map[string]Summary, error) {
	q := fmt.Sprintf(`
		SELECT COALESCE(%[1]s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM token_usage WHERE timestamp >= ? AND timestamp < ?
		GROUP BY %[1]s`, column)
	rows, err := s.db.QueryContext(ctx, q, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Requests, &sum.InputTokens, &sum.OutputTokens, &sum.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		out[key] = sum
	}
	return out, rows.Err()
}

// Today totals the current local day.
func (s *Store) Today(ctx context.Context, loc *time.Location) (Summary, error) {
	if loc == nil {
		loc = time.Local
	}
	now := s.now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return s.Summary(ctx, start, start.AddDate(0, 0, 1))
}
