package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config controls retention.
type Config struct {
	// MaxHistory caps turns kept per context. Default 20.
	MaxHistory int `yaml:"max_history"`
	// TTL is the in-memory inactivity timeout. Pending actions expire
	// with it. Default 30m.
	TTL time.Duration `yaml:"ttl"`
	// PersistedTTL bounds how long stored conversations are reloaded
	// and kept. Default 7 days.
	PersistedTTL time.Duration `yaml:"persisted_ttl"`
	// PersistInterval is how often dirty contexts are flushed. Default 1m.
	PersistInterval time.Duration `yaml:"persist_interval"`
	// CleanupInterval is how often expired contexts are evicted.
	// Default 5m.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.PersistedTTL <= 0 {
		c.PersistedTTL = 7 * 24 * time.Hour
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

// Manager owns the live contexts. A nil store disables persistence.
type Manager struct {
	cfg    Config
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	convs map[string]*Context
	dirty map[string]bool
}

// NewManager returns a manager and reloads conversations active within
// the persisted TTL.
func NewManager(cfg Config, store *Store, logger *slog.Logger) *Manager {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		convs:  make(map[string]*Context),
		dirty:  make(map[string]bool),
	}
	m.loadRecent()
	return m
}

func (m *Manager) loadRecent() {
	if m.store == nil {
		return
	}
	recs, err := m.store.loadActive(m.now().Add(-m.cfg.PersistedTTL))
	if err != nil {
		m.logger.Error("failed to load conversations", "error", err)
		return
	}
	for _, r := range recs {
		m.convs[r.Key] = m.fromRecord(r)
	}
	if len(recs) > 0 {
		m.logger.Info("conversations restored", "count", len(recs))
	}
}

func (m *Manager) fromRecord(r record) *Context {
	c := newContext(r.UserID, r.ChannelID, r.ThreadID, m.cfg.MaxHistory, m.now)
	c.CreatedAt = r.CreatedAt
	c.lastActivity = r.LastActivity
	c.history = r.History
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	if r.Metadata != nil {
		c.metadata = r.Metadata
	}
	return c
}

// Get returns the live context for the key, reloading it from the store
// when it is not in memory. It returns nil when neither has it. A context
// idle past the TTL is evicted first, dropping its pending action.
func (m *Manager) Get(userID, channelID, threadID string) *Context {
	key := Key(userID, channelID, threadID)
	now := m.now()

	m.mu.Lock()
	c, ok := m.convs[key]
	if ok && !c.expired(now, m.cfg.TTL) {
		m.mu.Unlock()
		c.touch()
		return c
	}
	if ok {
		m.evictLocked(key, c)
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	r, err := m.store.load(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("failed to load conversation", "key", key, "error", err)
		}
		return nil
	}
	if now.Sub(r.LastActivity) > m.cfg.PersistedTTL {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.convs[key]; ok {
		return existing
	}
	c = m.fromRecord(r)
	c.lastActivity = now
	m.convs[key] = c
	return c
}

// GetOrCreate returns the context for the key, creating it if needed.
func (m *Manager) GetOrCreate(userID, channelID, threadID string) *Context {
	if c := m.Get(userID, channelID, threadID); c != nil {
		return c
	}
	m.mu.Lock()
	key := Key(userID, channelID, threadID)
	c, ok := m.convs[key]
	if !ok {
		c = newContext(userID, channelID, threadID, m.cfg.MaxHistory, m.now)
		m.convs[key] = c
		m.logger.Debug("conversation created", "key", key)
	}
	m.mu.Unlock()
	if !ok {
		m.persist(c)
	}
	return c
}

// Update registers c as live and marks it for the next flush.
func (m *Manager) Update(c *Context) {
	m.mu.Lock()
	m.convs[c.Key()] = c
	m.dirty[c.Key()] = true
	m.mu.Unlock()
}

// Delete removes a conversation from memory and the store.
func (m *Manager) Delete(userID, channelID, threadID string) bool {
	key := Key(userID, channelID, threadID)
	m.mu.Lock()
	_, deleted := m.convs[key]
	delete(m.convs, key)
	delete(m.dirty, key)
	m.mu.Unlock()

	if m.store != nil {
		ok, err := m.store.delete(key)
		if err != nil {
			m.logger.Warn("failed to delete conversation", "key", key, "error", err)
		}
		deleted = deleted || ok
	}
	return deleted
}

// UserHistory returns up to limit of the user's conversations, most
// recently active first, from memory and the store.
func (m *Manager) UserHistory(userID string, limit int) []*Context {
	if limit <= 0 {
		limit = 5
	}
	m.mu.Lock()
	var out []*Context
	seen := make(map[string]bool)
	for key, c := range m.convs {
		if c.UserID == userID {
			out = append(out, c)
			seen[key] = true
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		recs, err := m.store.loadForUser(userID, limit)
		if err != nil {
			m.logger.Warn("failed to load user conversations", "user_id", userID, "error", err)
		}
		for _, r := range recs {
			if !seen[r.Key] {
				out = append(out, m.fromRecord(r))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity().After(out[j].LastActivity()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FindPendingContext returns the user's live context in channelID that
// holds a pending action, preferring the one whose action ID matches.
func (m *Manager) FindPendingContext(userID, channelID, actionID string) *Context {
	m.mu.Lock()
	var matches []*Context
	for _, c := range m.convs {
		if c.UserID == userID && c.ChannelID == channelID && c.Pending() != nil {
			matches = append(matches, c)
		}
	}
	m.mu.Unlock()
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].LastActivity().After(matches[j].LastActivity()) })
	if actionID != "" {
		for _, c := range matches {
			if p := c.Pending(); p != nil && p.ID == actionID {
				return c
			}
		}
	}
	return matches[0]
}

func (m *Manager) persist(c *Context) {
	if m.store == nil {
		return
	}
	if err := m.store.save(c.snapshot()); err != nil {
		m.logger.Error("failed to persist conversation", "key", c.Key(), "error", err)
	}
}

// evictLocked persists and drops c. Its pending action expires.
func (m *Manager) evictLocked(key string, c *Context) {
	if a := c.ClearPending(); a != nil {
		m.logger.Info("pending action expired", "key", key, "action_id", a.ID, "action_type", a.Kind)
	}
	m.persist(c)
	delete(m.convs, key)
	delete(m.dirty, key)
}

// Flush persists contexts changed since the last flush.
func (m *Manager) Flush() int {
	m.mu.Lock()
	var batch []*Context
	for key := range m.dirty {
		if c, ok := m.convs[key]; ok {
			batch = append(batch, c)
		}
	}
	m.dirty = make(map[string]bool)
	m.mu.Unlock()

	for _, c := range batch {
		m.persist(c)
	}
	if len(batch) > 0 {
		m.logger.Debug("conversations persisted", "count", len(batch))
	}
	return len(batch)
}

// PersistAll writes every live context. Call on shutdown.
func (m *Manager) PersistAll() {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	all := make([]*Context, 0, len(m.convs))
	for _, c := range m.convs {
		all = append(all, c)
	}
	m.dirty = make(map[string]bool)
	m.mu.Unlock()

	for _, c := range all {
		m.persist(c)
	}
	m.logger.Info("conversations persisted on shutdown", "count", len(all))
}

// Cleanup evicts contexts idle past the TTL and deletes stored
// conversations older than the persisted TTL.
func (m *Manager) Cleanup() int {
	now := m.now()
	m.mu.Lock()
	evicted := 0
	for key, c := range m.convs {
		if c.expired(now, m.cfg.TTL) {
			m.evictLocked(key, c)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("expired conversations evicted", "count", evicted)
	}
	if m.store != nil {
		if _, err := m.store.cleanup(now.Add(-m.cfg.PersistedTTL)); err != nil {
			m.logger.Warn("stored conversation cleanup failed", "error", err)
		}
	}
	return evicted
}

// Run flushes and cleans up on the configured intervals until ctx is
// done, then persists everything.
func (m *Manager) Run(ctx context.Context) {
	persist := time.NewTicker(m.cfg.PersistInterval)
	defer persist.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			m.PersistAll()
			return
		case <-persist.C:
			m.Flush()
		case <-cleanup.C:
			m.Cleanup()
		}
	}
}

// Stats reports live and stored conversation counts.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	active := len(m.convs)
	pending := 0
	for _, c := range m.convs {
		if c.Pending() != nil {
			pending++
		}
	}
	m.mu.Unlock()

	stats := map[string]any{
		"active_conversations": active,
		"pending_actions":      pending,
		"ttl_seconds":          int(m.cfg.TTL.Seconds()),
		"persistence_enabled":  m.store != nil,
	}
	if m.store != nil {
		if total, users, err := m.store.Stats(); err == nil {
			stats["total_conversations"] = total
			stats["unique_users"] = users
		}
	}
	return stats
}
