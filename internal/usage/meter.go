package usage

import (
	"context"
	"log/slog"

	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/tools"
)

// TokenObserver is told about every metered call.
type TokenObserver interface {
	OnTokens(inputTokens, outputTokens int)
}

// Meter wraps a model client and records the usage of each successful
// call. Recording failures are logged and never fail the call.
type Meter struct {
	next      llm.Client
	store     *Store
	tier      string
	pricing   map[string]Price
	observers []TokenObserver
	logger    *slog.Logger
}

// NewMeter wraps next. A nil store only notifies observers.
func NewMeter(next llm.Client, store *Store, tier string, pricing map[string]Price, logger *slog.Logger, observers ...TokenObserver) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{next: next, store: store, tier: tier, pricing: pricing, observers: observers, logger: logger}
}

// Chat implements llm.Client.
func (m *Meter) Chat(ctx context.Context, req llm.Request) (*llm.ChatResponse, error) {
	resp, err := m.next.Chat(ctx, req)
	if err == nil {
		m.record(ctx, req.Model, resp, false)
	}
	return resp, err
}

// ChatStream implements llm.Client.
func (m *Meter) ChatStream(ctx context.Context, req llm.Request, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	resp, err := m.next.ChatStream(ctx, req, cb)
	if err == nil {
		m.record(ctx, req.Model, resp, true)
	}
	return resp, err
}

// Ping implements llm.Client.
func (m *Meter) Ping(ctx context.Context) error { return m.next.Ping(ctx) }

func (m *Meter) record(ctx context.Context, model string, resp *llm.ChatResponse, streamed bool) {
	if resp == nil {
		return
	}
	if resp.Model != "" {
		model = resp.Model
	}
	for _, o := range m.observers {
		o.OnTokens(resp.InputTokens, resp.OutputTokens)
	}
	if m.store == nil {
		return
	}
	rec := Record{
		UserID:       tools.UserIDFromContext(ctx),
		Model:        model,
		Tier:         m.tier,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      Cost(model, resp.InputTokens, resp.OutputTokens, m.pricing),
		Streamed:     streamed,
	}
	// The request context may already be cancelled once the reply is in.
	if err := m.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("usage record failed", "model", model, "error", err)
	}
}
