package forge

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/httpkit"
)

// Config holds all forge account configurations.
type Config struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig describes a single forge account.
type AccountConfig struct {
	// Name is a short identifier (e.g., "work").
	Name string `yaml:"name"`

	// Provider selects the forge backend. Only "github" is supported.
	Provider string `yaml:"provider"`

	Token string `yaml:"token"`

	// Owner is the default owner (user or organization) for unqualified
	// repo references and org-wide code search.
	Owner string `yaml:"owner"`

	// Username is the account's login, used for "my PRs" and "my
	// issues" queries.
	Username string `yaml:"username"`

	// URL is the API base URL. Defaults to https://api.github.com.
	URL string `yaml:"url"`
}

// Configured reports whether at least one forge account has a token.
func (c Config) Configured() bool {
	for _, acct := range c.Accounts {
		if acct.Token != "" {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.Name == "" {
			return fmt.Errorf("forge account %d: name is required", i)
		}
		if seen[acct.Name] {
			return fmt.Errorf("forge account %q: duplicate name", acct.Name)
		}
		seen[acct.Name] = true

		if acct.Provider != "" && acct.Provider != "github" {
			return fmt.Errorf("forge account %q: unsupported provider %q", acct.Name, acct.Provider)
		}
		if acct.Token == "" {
			return fmt.Errorf("forge account %q: token is required", acct.Name)
		}
	}
	return nil
}

// ApplyDefaults fills in missing optional fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Accounts {
		if c.Accounts[i].Provider == "" {
			c.Accounts[i].Provider = "github"
		}
		if c.Accounts[i].URL == "" {
			c.Accounts[i].URL = defaultGitHubAPI
		}
	}
}

// Manager holds configured forge providers and routes operations to
// the appropriate account. The first account is the primary.
type Manager struct {
	providers map[string]Provider
	configs   map[string]AccountConfig
	order     []string
	logger    *slog.Logger
}

// NewManager creates a forge manager from the given configuration.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		providers: make(map[string]Provider, len(cfg.Accounts)),
		configs:   make(map[string]AccountConfig, len(cfg.Accounts)),
		logger:    logger,
	}

	for _, acct := range cfg.Accounts {
		httpClient := httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		)
		gh, err := NewGitHub(httpClient, acct.Token, acct.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("forge account %q: %w", acct.Name, err)
		}
		m.add(acct, gh)

		logger.Info("forge account configured",
			"name", acct.Name,
			"owner", acct.Owner,
			"username", acct.Username,
		)
	}

	return m, nil
}

func (m *Manager) add(acct AccountConfig, p Provider) {
	m.providers[acct.Name] = p
	m.configs[acct.Name] = acct
	m.order = append(m.order, acct.Name)
}

// Account returns the provider for the named account. An empty name
// selects the primary account.
func (m *Manager) Account(name string) (Provider, error) {
	name, err := m.resolveName(name)
	if err != nil {
		return nil, err
	}
	return m.providers[name], nil
}

// AccountConfig returns the configuration for the named account.
func (m *Manager) AccountConfig(name string) (AccountConfig, error) {
	name, err := m.resolveName(name)
	if err != nil {
		return AccountConfig{}, err
	}
	return m.configs[name], nil
}

// Accounts returns account names in configuration order.
func (m *Manager) Accounts() []string {
	return append([]string(nil), m.order...)
}

func (m *Manager) resolveName(name string) (string, error) {
	if name == "" {
		if len(m.order) == 0 {
			return "", fmt.Errorf("no forge accounts configured")
		}
		return m.order[0], nil
	}
	if _, ok := m.configs[name]; !ok {
		return "", fmt.Errorf("forge account %q not found", name)
	}
	return name, nil
}

// ResolveRepo converts a repo parameter into "owner/repo" format. A
// repo that already contains a slash is returned as-is; otherwise the
// account's default owner is prepended.
func (m *Manager) ResolveRepo(accountName, repo string) (string, error) {
	if strings.Contains(repo, "/") {
		return repo, nil
	}

	cfg, err := m.AccountConfig(accountName)
	if err != nil {
		return "", err
	}
	if cfg.Owner == "" {
		return "", fmt.Errorf("repo %q requires an owner but account %q has no default owner configured", repo, cfg.Name)
	}
	return cfg.Owner + "/" + repo, nil
}
