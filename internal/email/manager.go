package email

import (
	"fmt"
	"log/slog"
)

type managed struct {
	cfg    AccountConfig
	client *Client
}

// Manager owns one lazily dialed IMAP client per configured account.
// The first account in the config is the primary.
type Manager struct {
	accounts []managed
	bccOwner string
	logger   *slog.Logger
}

// NewManager creates a client for every account without connecting.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{bccOwner: cfg.BccOwner, logger: logger}
	for _, acct := range cfg.Accounts {
		m.accounts = append(m.accounts, managed{
			cfg:    acct,
			client: NewClient(acct.IMAP, logger.With("email_account", acct.Name)),
		})
	}
	return m
}

// find resolves name to an account; empty means the primary.
func (m *Manager) find(name string) (managed, error) {
	if len(m.accounts) == 0 {
		return managed{}, fmt.Errorf("no email accounts configured")
	}
	if name == "" {
		return m.accounts[0], nil
	}
	for _, a := range m.accounts {
		if a.cfg.Name == name {
			return a, nil
		}
	}
	return managed{}, fmt.Errorf("email account %q not found", name)
}

// Account returns the named client, or the primary's for "".
func (m *Manager) Account(name string) (*Client, error) {
	a, err := m.find(name)
	return a.client, err
}

// AccountConfig returns the named account's settings, or the primary's
// for "".
func (m *Manager) AccountConfig(name string) (AccountConfig, error) {
	a, err := m.find(name)
	return a.cfg, err
}

// Primary returns the primary account name, or "" with no accounts.
func (m *Manager) Primary() string {
	if len(m.accounts) == 0 {
		return ""
	}
	return m.accounts[0].cfg.Name
}

// AccountNames lists account names in config order.
func (m *Manager) AccountNames() []string {
	names := make([]string, len(m.accounts))
	for i, a := range m.accounts {
		names[i] = a.cfg.Name
	}
	return names
}

func (m *Manager) BccOwner() string { return m.bccOwner }

// Close logs every account out.
func (m *Manager) Close() {
	for _, a := range m.accounts {
		if err := a.client.Close(); err != nil {
			m.logger.Warn("imap logout failed", "account", a.cfg.Name, "error", err)
		}
	}
}
