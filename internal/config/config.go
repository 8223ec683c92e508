// Package config handles hani-replica configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/contacts"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/forge"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/notion"
	"github.com/hanig/hani-replica/internal/search"
	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/todoist"
	"github.com/hanig/hani-replica/internal/usage"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/hani-replica/config.yaml,
// /etc/hani-replica/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hani-replica", "config.yaml"))
	}

	paths = append(paths, "/etc/hani-replica/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Bot modes.
const (
	ModeMultiAgent = "multi_agent"
	ModeAgent      = "agent"
	ModeIntent     = "intent"
)

// Config holds all hani-replica configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text or json
	Timezone  string       `yaml:"timezone"`

	Anthropic llm.AnthropicConfig `yaml:"anthropic"`
	Models    ModelsConfig        `yaml:"models"`
	Bot       BotConfig           `yaml:"bot"`
	Agents    AgentsConfig        `yaml:"agents"`
	Routing   RoutingConfig       `yaml:"routing"`
	// Pricing maps model names to token prices for usage tracking.
	Pricing map[string]usage.Price `yaml:"pricing"`

	Security     security.Config     `yaml:"security"`
	Audit        AuditConfig         `yaml:"audit"`
	Conversation conversation.Config `yaml:"conversation"`

	Forge    forge.Config           `yaml:"forge"`
	Email    email.Config           `yaml:"email"`
	Calendar calendar.Config        `yaml:"calendar"`
	CardDAV  contacts.CardDAVConfig `yaml:"carddav"`
	Notion   notion.Config          `yaml:"notion"`
	Todoist  todoist.Config         `yaml:"todoist"`
	Search   search.Config          `yaml:"search"`

	MQTT      MQTTConfig      `yaml:"mqtt"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`

	// Username and PasswordHash protect the API with basic auth. The
	// hash is bcrypt. Both empty disables auth.
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// ModelsConfig names the two model tiers.
type ModelsConfig struct {
	// Intent is the small, fast model used for classification and
	// memory extraction.
	Intent string `yaml:"intent"`
	// Agent drives the tool-using loops.
	Agent string `yaml:"agent"`
}

// BotConfig controls the message pipeline.
type BotConfig struct {
	// Mode is multi_agent, agent or intent.
	Mode      string `yaml:"mode"`
	Streaming bool   `yaml:"streaming"`

	// AuthorizedUsers, when non-empty, is the allow-list of user IDs.
	AuthorizedUsers []string `yaml:"authorized_users"`
}

// AgentsConfig bounds the agent loops.
type AgentsConfig struct {
	// MaxIterations caps the single-agent mode loop. Specialists have
	// their own caps.
	MaxIterations int `yaml:"max_iterations"`
	// HistoryTurns is how many prior turns a loop sees.
	HistoryTurns int `yaml:"history_turns"`
	MaxTokens    int `yaml:"max_tokens"`
}

// RoutingConfig holds the specialist scoring tables.
type RoutingConfig struct {
	// Threshold is the score a specialist needs to be planned.
	Threshold float64 `yaml:"threshold"`
	// SelectThreshold is the minimum for SelectSpecialist.
	SelectThreshold float64 `yaml:"select_threshold"`
	// Connectives mark a request as spanning several domains.
	Connectives []string `yaml:"connectives"`

	CalendarKeywords []string `yaml:"calendar_keywords"`
	EmailKeywords    []string `yaml:"email_keywords"`
	GitHubKeywords   []string `yaml:"github_keywords"`
	ResearchKeywords []string `yaml:"research_keywords"`

	// DateIndicators give the calendar specialist a fallback score.
	DateIndicators []string `yaml:"date_indicators"`
	// TaskWords send a request to the research specialist with high
	// confidence.
	TaskWords []string `yaml:"task_words"`
	// QuestionWords earn QuestionBonus when they start a message.
	QuestionWords []string `yaml:"question_words"`
	QuestionBonus float64  `yaml:"question_bonus"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// LogMessages stores message text; otherwise it is redacted.
	LogMessages   bool `yaml:"log_messages"`
	RetentionDays int  `yaml:"retention_days"`
}

// MQTTConfig defines the broker connection for notifications and
// runtime sensors.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. mqtts://broker.local:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// BaseTopic prefixes every topic. Default "hani-replica".
	BaseTopic string `yaml:"base_topic"`
	// DeviceName identifies this instance in Home Assistant.
	DeviceName string `yaml:"device_name"`
	// DiscoveryPrefix is the Home Assistant discovery prefix. Default
	// "homeassistant".
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// HeartbeatConfig controls proactive notifications.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Users receive proactive notifications.
	Users []string `yaml:"users"`
}

// Load reads configuration from a YAML file. A .env file beside it (or
// in the working directory) is loaded first so ${VAR} references can
// name secrets kept out of the YAML. Existing environment variables win.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			_ = godotenv.Load(abs)
		}
	}
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Bot:    BotConfig{Mode: ModeMultiAgent, Streaming: true},
		Audit:  AuditConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values across all sections.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
	}
	if c.Models.Intent == "" {
		c.Models.Intent = "claude-3-5-haiku-latest"
	}
	if c.Models.Agent == "" {
		c.Models.Agent = "claude-sonnet-4-20250514"
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = ModeMultiAgent
	}
	if c.Agents.MaxIterations <= 0 {
		c.Agents.MaxIterations = 10
	}
	if c.Agents.HistoryTurns <= 0 {
		c.Agents.HistoryTurns = 4
	}
	if c.Agents.MaxTokens <= 0 {
		c.Agents.MaxTokens = 4096
	}
	c.Routing.ApplyDefaults()
	if len(c.Pricing) == 0 {
		c.Pricing = usage.DefaultPricing()
	}
	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = 90
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "hani-replica"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "hani-replica"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = time.Minute
	}

	c.Security.ApplyDefaults()
	c.Conversation.ApplyDefaults()
	c.Forge.ApplyDefaults()
	c.Email.ApplyDefaults()
	c.Calendar.ApplyDefaults()
}

// ApplyDefaults fills empty tables with the built-in keyword sets.
func (r *RoutingConfig) ApplyDefaults() {
	if r.Threshold <= 0 {
		r.Threshold = 0.3
	}
	if r.SelectThreshold <= 0 {
		r.SelectThreshold = 0.2
	}
	if r.QuestionBonus <= 0 {
		r.QuestionBonus = 0.25
	}
	fill := func(dst *[]string, def ...string) {
		if len(*dst) == 0 {
			*dst = def
		}
	}
	fill(&r.Connectives, "and", "also", "both", "plus", "as well")
	fill(&r.CalendarKeywords,
		"calendar", "schedule", "meeting", "meetings", "event", "events", "appointment",
		"availability", "available", "free", "busy", "slot", "when", "tomorrow",
		"today", "morning", "afternoon", "evening", "book", "scheduled", "upcoming", "agenda")
	fill(&r.EmailKeywords,
		"email", "emails", "mail", "inbox", "unread", "message", "send",
		"reply", "draft", "from", "to", "subject", "attachment",
		"sent", "received", "forward", "cc", "bcc")
	fill(&r.GitHubKeywords,
		"github", "git", "repo", "repository", "pr", "prs", "pull", "request",
		"issue", "issues", "commit", "branch", "merge", "code", "review",
		"fork", "clone", "push", "bug", "feature")
	fill(&r.ResearchKeywords,
		"search", "find", "look", "what", "where", "who",
		"information", "about", "related", "document", "file",
		"note", "notes", "summary", "briefing", "overview",
		"task", "tasks", "todoist", "todo", "to-do",
		"notion", "page", "database", "web")
	fill(&r.DateIndicators,
		"today", "tomorrow", "monday", "tuesday", "wednesday",
		"thursday", "friday", "saturday", "sunday", "next",
		"this week", "next week")
	fill(&r.TaskWords, "task", "tasks", "todoist", "todo", "to-do", "to do")
	fill(&r.QuestionWords, "what", "where", "who", "how", "why", "when")
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	switch c.Bot.Mode {
	case ModeMultiAgent, ModeAgent, ModeIntent:
	default:
		errs = append(errs, fmt.Errorf("bot.mode %q must be multi_agent, agent or intent", c.Bot.Mode))
	}
	if c.Listen.PasswordHash != "" && c.Listen.Username == "" {
		errs = append(errs, errors.New("listen.password_hash requires listen.username"))
	}

	for _, v := range []interface{ Validate() error }{c.Security, c.Forge, c.Email, c.Calendar, c.CardDAV} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path resolves name inside the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}
