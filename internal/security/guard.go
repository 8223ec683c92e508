// Package security screens inbound text for prompt injection and
// sensitive data, enforces per-user rate limits, and validates
// side-effecting actions before they run.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Level controls what happens when an injection pattern matches.
type Level string

const (
	// LevelStrict blocks the whole message.
	LevelStrict Level = "strict"
	// LevelModerate replaces the matched span and continues.
	LevelModerate Level = "moderate"
	// LevelPermissive only records the event.
	LevelPermissive Level = "permissive"
)

// ThreatType classifies a security event.
type ThreatType string

const (
	ThreatPromptInjection    ThreatType = "prompt_injection"
	ThreatRateLimitExceeded  ThreatType = "rate_limit_exceeded"
	ThreatUnauthorizedAction ThreatType = "unauthorized_action"
	ThreatSensitiveData      ThreatType = "sensitive_data"
	ThreatSuspiciousPattern  ThreatType = "suspicious_pattern"
)

// ThreatTypes lists all threat types in a stable order.
var ThreatTypes = []ThreatType{
	ThreatPromptInjection,
	ThreatRateLimitExceeded,
	ThreatUnauthorizedAction,
	ThreatSensitiveData,
	ThreatSuspiciousPattern,
}

// MaxInputLength is the longest sanitized input kept before truncation.
const MaxInputLength = 10000

const (
	filterMarker   = "[FILTERED]"
	truncateMarker = "... [truncated]"
	maxEvents      = 1000
)

// Event records something notable the guard saw. Events are never
// mutated after creation. The raw input is kept only as a short hash.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	UserID      string         `json:"user_id"`
	ThreatType  ThreatType     `json:"threat_type"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	InputHash   string         `json:"original_input_hash,omitempty"`
	Blocked     bool           `json:"blocked"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

var injectionPatterns = compile(
	// system prompt manipulation
	`(?i)ignore\s+(all\s+)?(previous|all|above|prior)\s+(instructions?|prompts?|rules?)`,
	`(?i)disregard\s+(all\s+)?(previous|all|above|prior)\s+(instructions?|prompts?)`,
	`(?i)forget\s+(everything|all|previous)`,
	`(?i)new\s+instructions?:`,
	`(?i)system\s*prompt:`,
	`(?i)you\s+are\s+now\s+a`,
	`(?i)pretend\s+(to\s+be|you\s+are)`,
	`(?i)act\s+as\s+(if|though)`,
	`(?i)roleplay\s+as`,

	// delimiter injection
	"```\\s*system",
	`<\s*system\s*>`,
	`\[\s*SYSTEM\s*\]`,
	`###\s*SYSTEM`,

	// jailbreaks
	`(?i)dan\s*mode`,
	`(?i)developer\s*mode`,
	`(?i)jailbreak`,
	`(?i)bypass\s+(safety|security|filter)`,

	// output manipulation
	`(?i)print\s+(everything|all|secret)`,
	`(?i)reveal\s+(your|the)\s+(prompt|instructions?|system)`,
	`(?i)show\s+me\s+(your|the)\s+(prompt|instructions?)`,
	`(?i)what\s+(is|are)\s+your\s+(instructions?|rules?|prompt)`,
	`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)`,
)

var sensitivePatterns = compile(
	`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token)\s*[:=]\s*['"]?[\w\-]+`,
	`sk-[a-zA-Z0-9]{20,}`,
	`xox[baprs]-[a-zA-Z0-9\-]+`,
	`(?i)password\s*[:=]\s*['"]?[^\s'"]+`,
	`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`,
	`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`,
	`\b\d{3}[\s\-]?\d{2}[\s\-]?\d{4}\b`,
)

// invisibleRunes are stripped from every input regardless of level.
var invisibleRunes = []rune{'\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad'}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// sensitiveActions are re-scanned by ValidateAction.
var sensitiveActions = map[string]string{
	"create_draft":  "creates an email draft",
	"send_email":    "sends an email",
	"create_issue":  "creates a GitHub issue",
	"comment_issue": "comments on a GitHub issue",
	"create_event":  "creates a calendar event",
	"send_message":  "sends a message",
}

// Config configures a Guard.
type Config struct {
	Level Level `yaml:"level"`

	// RateLimitRequests is the number of requests allowed per window.
	RateLimitRequests int `yaml:"rate_limit_requests"`
	// RateLimitWindow is the window length in seconds.
	RateLimitWindow int `yaml:"rate_limit_window"`
	// BlockDuration is how long, in seconds, a user stays blocked after
	// exceeding the limit.
	BlockDuration int `yaml:"block_duration"`
}

// ApplyDefaults fills zero values: moderate, 30 requests per 60s, 300s
// block.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelModerate
	}
	if c.RateLimitRequests <= 0 {
		c.RateLimitRequests = 30
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 60
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = 300
	}
}

// Validate checks the level.
func (c Config) Validate() error {
	switch c.Level {
	case LevelStrict, LevelModerate, LevelPermissive:
		return nil
	}
	return fmt.Errorf("security.level %q must be strict, moderate or permissive", c.Level)
}

type rateEntry struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// Guard is safe for concurrent use. The rate-limit table and the event
// ring share one mutex, so a single check is one critical section.
type Guard struct {
	level         Level
	limit         int
	window        time.Duration
	blockDuration time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	rates  map[string]*rateEntry
	events []Event
	notify func(Event)
}

// NewGuard returns a guard. Zero config values take their defaults.
func NewGuard(cfg Config, logger *slog.Logger) *Guard {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		level:         cfg.Level,
		limit:         cfg.RateLimitRequests,
		window:        time.Duration(cfg.RateLimitWindow) * time.Second,
		blockDuration: time.Duration(cfg.BlockDuration) * time.Second,
		logger:        logger,
		now:           time.Now,
		rates:         make(map[string]*rateEntry),
	}
	g.logger.Info("security guard initialized", "level", g.level, "rate_limit", g.limit, "window", g.window)
	return g
}

// Level returns the enforcement level.
func (g *Guard) Level() Level { return g.level }

// BlockDuration returns how long a rate-limited user stays blocked.
func (g *Guard) BlockDuration() time.Duration { return g.blockDuration }

// OnEvent registers fn to be called for every recorded event. fn runs
// outside the guard's lock.
func (g *Guard) OnEvent(fn func(Event)) {
	g.mu.Lock()
	g.notify = fn
	g.mu.Unlock()
}

func (g *Guard) newEvent(user string, tt ThreatType, severity, desc string) Event {
	return Event{
		Timestamp:   g.now(),
		UserID:      user,
		ThreatType:  tt,
		Severity:    severity,
		Description: desc,
	}
}

// record appends e to the ring. Callers must not hold g.mu.
func (g *Guard) record(e Event) {
	g.mu.Lock()
	g.recordLocked(e)
	fn := g.notify
	g.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (g *Guard) recordLocked(e Event) {
	g.events = append(g.events, e)
	if over := len(g.events) - maxEvents; over > 0 {
		g.events = append(g.events[:0:0], g.events[over:]...)
	}
}

func hashInput(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// SanitizeInput strips invisible characters, screens for injection and
// sensitive data, normalizes whitespace and truncates. Under the strict
// level an injection match returns "" with a blocked event. Sensitive
// data is reported but never altered.
func (g *Guard) SanitizeInput(text, userID string) (string, []Event) {
	var events []Event
	sanitized := text

	for _, r := range invisibleRunes {
		if strings.ContainsRune(sanitized, r) {
			sanitized = strings.ReplaceAll(sanitized, string(r), "")
			e := g.newEvent(userID, ThreatSuspiciousPattern, "low", fmt.Sprintf("Removed suspicious unicode character: U+%04X", r))
			e.InputHash = hashInput(text)
			events = append(events, e)
		}
	}

	for _, re := range injectionPatterns {
		match := re.FindString(sanitized)
		if match == "" {
			continue
		}
		e := g.newEvent(userID, ThreatPromptInjection, "high", "Potential prompt injection detected: "+clip(match, 50))
		e.InputHash = hashInput(text)
		e.Blocked = g.level == LevelStrict
		e.Metadata = map[string]any{"pattern": clip(re.String(), 100)}
		events = append(events, e)
		g.record(e)

		switch g.level {
		case LevelStrict:
			g.logger.Warn("blocked prompt injection", "user_id", userID, "match", clip(match, 50))
			return "", events
		case LevelModerate:
			g.logger.Warn("filtered prompt injection", "user_id", userID, "match", clip(match, 50))
			sanitized = re.ReplaceAllString(sanitized, filterMarker)
		default:
			g.logger.Info("prompt injection pattern seen", "user_id", userID)
		}
	}

	for _, re := range sensitivePatterns {
		if !re.MatchString(sanitized) {
			continue
		}
		e := g.newEvent(userID, ThreatSensitiveData, "medium", "Input may contain sensitive data")
		events = append(events, e)
		g.record(e)
		g.logger.Warn("sensitive data pattern in input", "user_id", userID)
	}

	sanitized = strings.Join(strings.Fields(sanitized), " ")

	if n := utf8.RuneCountInString(sanitized); n > MaxInputLength {
		sanitized = string([]rune(sanitized)[:MaxInputLength]) + truncateMarker
		events = append(events, g.newEvent(userID, ThreatSuspiciousPattern, "low",
			fmt.Sprintf("Input truncated from %d to %d characters", n, MaxInputLength)))
	}

	return sanitized, events
}

// CheckRateLimit counts one request for userID. It returns false with a
// rate_limit_exceeded event while the user is blocked and when this
// request exceeds the per-window cap, which starts a block. The event's
// remaining_seconds metadata tells the caller how long to wait.
func (g *Guard) CheckRateLimit(userID string) (bool, *Event) {
	g.mu.Lock()
	now := g.now()
	entry, ok := g.rates[userID]
	if !ok {
		entry = &rateEntry{windowStart: now}
		g.rates[userID] = entry
	}

	if now.Before(entry.blockedUntil) {
		remaining := int(entry.blockedUntil.Sub(now).Seconds())
		if remaining < 1 {
			remaining = 1
		}
		e := g.newEvent(userID, ThreatRateLimitExceeded, "medium", fmt.Sprintf("User blocked for %d more seconds", remaining))
		e.Blocked = true
		e.Metadata = map[string]any{"remaining_seconds": remaining}
		g.recordLocked(e)
		fn := g.notify
		g.mu.Unlock()
		if fn != nil {
			fn(e)
		}
		return false, &e
	}

	if now.Sub(entry.windowStart) > g.window {
		entry.count = 0
		entry.windowStart = now
		entry.blockedUntil = time.Time{}
	}

	entry.count++
	if entry.count <= g.limit {
		g.mu.Unlock()
		return true, nil
	}

	entry.blockedUntil = now.Add(g.blockDuration)
	secs := int(g.blockDuration.Seconds())
	e := g.newEvent(userID, ThreatRateLimitExceeded, "high",
		fmt.Sprintf("Rate limit exceeded: %d requests in %s", entry.count, g.window))
	e.Blocked = true
	e.Metadata = map[string]any{
		"request_count":     entry.count,
		"block_duration":    secs,
		"remaining_seconds": secs,
	}
	g.recordLocked(e)
	fn := g.notify
	g.mu.Unlock()

	g.logger.Warn("rate limit exceeded", "user_id", userID, "requests", e.Metadata["request_count"], "blocked_for", g.blockDuration)
	if fn != nil {
		fn(e)
	}
	return false, &e
}

// ValidateAction re-screens the textual body of a sensitive action
// ("body" or "content" in details). An injection match there blocks the
// action under the strict and moderate levels; permissive only records.
func (g *Guard) ValidateAction(actionType, userID string, details map[string]any) (bool, *Event) {
	if _, ok := sensitiveActions[actionType]; !ok {
		return true, nil
	}
	g.logger.Info("sensitive action requested", "action_type", actionType, "user_id", userID)

	text, _ := details["body"].(string)
	if text == "" {
		text, _ = details["content"].(string)
	}
	if text == "" {
		return true, nil
	}

	injected := false
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			injected = true
			break
		}
	}
	if !injected {
		return true, nil
	}

	e := g.newEvent(userID, ThreatUnauthorizedAction, "high", fmt.Sprintf("Suspicious content in %s", actionType))
	e.Metadata = map[string]any{"action_type": actionType}
	if g.level == LevelPermissive {
		g.record(e)
		return true, nil
	}
	e.Blocked = true
	e.Description = fmt.Sprintf("Blocked %s: suspicious content detected", actionType)
	g.record(e)
	g.logger.Warn("action blocked", "action_type", actionType, "user_id", userID)
	return false, &e
}

// Stats summarizes the guard's view of one user.
type Stats struct {
	UserID       string             `json:"user_id"`
	RequestCount int                `json:"current_request_count"`
	Blocked      bool               `json:"is_blocked"`
	BlockedUntil *time.Time         `json:"blocked_until"`
	TotalEvents  int                `json:"total_security_events"`
	ByType       map[ThreatType]int `json:"events_by_type"`
}

// Stats returns rate-limit state and event counts for userID.
func (g *Guard) Stats(userID string) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{UserID: userID, ByType: make(map[ThreatType]int, len(ThreatTypes))}
	for _, tt := range ThreatTypes {
		s.ByType[tt] = 0
	}
	if e, ok := g.rates[userID]; ok {
		s.RequestCount = e.count
		if !e.blockedUntil.IsZero() {
			until := e.blockedUntil
			s.BlockedUntil = &until
			s.Blocked = g.now().Before(until)
		}
	}
	for _, e := range g.events {
		if e.UserID == userID {
			s.TotalEvents++
			s.ByType[e.ThreatType]++
		}
	}
	return s
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by user and threat type.
func (g *Guard) RecentEvents(limit int, userID string, threat ThreatType) []Event {
	if limit <= 0 {
		limit = 100
	}
	g.mu.Lock()
	var out []Event
	for _, e := range g.events {
		if userID != "" && e.UserID != userID {
			continue
		}
		if threat != "" && e.ThreatType != threat {
			continue
		}
		out = append(out, e)
	}
	g.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ClearRateLimit forgets the rate-limit state for userID.
func (g *Guard) ClearRateLimit(userID string) {
	g.mu.Lock()
	_, ok := g.rates[userID]
	delete(g.rates, userID)
	g.mu.Unlock()
	if ok {
		g.logger.Info("rate limit cleared", "user_id", userID)
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
