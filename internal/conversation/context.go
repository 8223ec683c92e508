// Package conversation tracks per-thread conversation state: bounded
// message history, free-form metadata and the single pending action a
// thread may have outstanding. Contexts live in memory while active and
// are persisted to SQLite so they survive restarts.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/hanig/hani-replica/internal/action"
)

// Roles used in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxHistory is the history cap per context.
const DefaultMaxHistory = 20

// Turn is one message in a conversation's history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Key identifies a conversation. An empty thread is the channel's main
// conversation.
func Key(userID, channelID, threadID string) string {
	if threadID == "" {
		threadID = "main"
	}
	return strings.Join([]string{userID, channelID, threadID}, ":")
}

// Context is the state of one conversation. All methods are safe for
// concurrent use; the pending slot and history share the context's lock.
type Context struct {
	UserID    string
	ChannelID string
	ThreadID  string
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	history      []Turn
	metadata     map[string]any
	pending      *action.Action
	maxHistory   int
	now          func() time.Time
}

func newContext(userID, channelID, threadID string, maxHistory int, now func() time.Time) *Context {
	t := now()
	return &Context{
		UserID:       userID,
		ChannelID:    channelID,
		ThreadID:     threadID,
		CreatedAt:    t,
		lastActivity: t,
		metadata:     make(map[string]any),
		maxHistory:   maxHistory,
		now:          now,
	}
}

// Key returns the context's key.
func (c *Context) Key() string { return Key(c.UserID, c.ChannelID, c.ThreadID) }

// AddTurn appends a message, dropping the oldest past the cap.
func (c *Context) AddTurn(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.history = append(c.history, Turn{Role: role, Content: content, Timestamp: now})
	if over := len(c.history) - c.maxHistory; over > 0 {
		c.history = append([]Turn(nil), c.history[over:]...)
	}
	c.lastActivity = now
}

// History returns a copy of the full history.
func (c *Context) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.history...)
}

// RecentHistory returns a copy of the last n turns.
func (c *Context) RecentHistory(n int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	return append([]Turn(nil), c.history[len(c.history)-n:]...)
}

// LastActivity returns when the context was last used.
func (c *Context) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Context) touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

func (c *Context) expired(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity) > ttl
}

// SetMetadata stores a metadata value.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
	c.lastActivity = c.now()
}

// Metadata returns a metadata value.
func (c *Context) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Pending returns the pending action, or nil.
func (c *Context) Pending() *action.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// SetPending replaces the pending action. At most one is outstanding.
func (c *Context) SetPending(a *action.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = a
	c.lastActivity = c.now()
}

// UpdatePending feeds text to the pending action while it is still
// collecting fields. The follow-up prompt, or the confirmation once the
// action is ready, is built under the lock so a concurrent claim never
// observes a half-updated action. ok is false when nothing is waiting
// for input.
func (c *Context) UpdatePending(text string) (prompt string, conf *action.Confirmation, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.pending
	if a == nil || a.IsReady() {
		return "", nil, false
	}
	a.UpdateFromInput(text)
	c.lastActivity = c.now()
	if !a.IsReady() {
		return a.NextPrompt(), nil, true
	}
	cf := a.Confirmation()
	return cf.Text, &cf, true
}

// ClearPending removes and returns the pending action.
func (c *Context) ClearPending() *action.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.pending
	c.pending = nil
	return a
}

// ClaimPending implements action.Holder.
func (c *Context) ClaimPending(actionID string) (*action.Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.pending
	if a == nil {
		return nil, action.ErrExpired
	}
	c.pending = nil
	if a.ID != actionID {
		return nil, action.ErrMismatch
	}
	return a, nil
}

// snapshot copies the persisted fields under the lock.
func (c *Context) snapshot() record {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	return record{
		Key:          Key(c.UserID, c.ChannelID, c.ThreadID),
		UserID:       c.UserID,
		ChannelID:    c.ChannelID,
		ThreadID:     c.ThreadID,
		History:      append([]Turn(nil), c.history...),
		Metadata:     meta,
		CreatedAt:    c.CreatedAt,
		LastActivity: c.lastActivity,
	}
}
