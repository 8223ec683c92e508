package email

import "fmt"

// Config holds all email account configurations under the "email"
// YAML key.
type Config struct {
	// BccOwner receives a blind copy of every message sent directly
	// (unless already a recipient).
	BccOwner string `yaml:"bcc_owner"`

	// AllowDirectSend registers the send tool. When false the assistant
	// can only create drafts.
	AllowDirectSend bool `yaml:"allow_direct_send"`

	Accounts []AccountConfig `yaml:"accounts"`
}

// Configured reports whether at least one account has the minimum
// required IMAP configuration (host and username).
func (c Config) Configured() bool {
	for _, a := range c.Accounts {
		if a.IMAP.Host != "" && a.IMAP.Username != "" {
			return true
		}
	}
	return false
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.IMAP.Port == 0 {
			a.IMAP.Port = 993
		}
		// TLS unless the port is the plaintext convention.
		if !a.IMAP.TLS && a.IMAP.Port != 143 {
			a.IMAP.TLS = true
		}
		if a.DraftsFolder == "" {
			a.DraftsFolder = "Drafts"
		}

		if a.SMTP.Host != "" {
			if a.SMTP.Port == 0 {
				a.SMTP.Port = 587
			}
			if !a.SMTP.StartTLS && a.SMTP.Port != 465 {
				a.SMTP.StartTLS = true
			}
		}
	}
}

// Validate returns an error describing the first problem found.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("email.accounts[%d].name must not be empty", i)
		}
		if names[a.Name] {
			return fmt.Errorf("email.accounts[%d].name %q is a duplicate", i, a.Name)
		}
		names[a.Name] = true

		if a.IMAP.Host == "" {
			return fmt.Errorf("email.accounts[%d] (%s): imap.host is required", i, a.Name)
		}
		if a.IMAP.Username == "" {
			return fmt.Errorf("email.accounts[%d] (%s): imap.username is required", i, a.Name)
		}
		if a.IMAP.Port < 1 || a.IMAP.Port > 65535 {
			return fmt.Errorf("email.accounts[%d] (%s): imap.port %d out of range (1-65535)", i, a.Name, a.IMAP.Port)
		}
		if a.DefaultFrom == "" {
			return fmt.Errorf("email.accounts[%d] (%s): default_from is required", i, a.Name)
		}

		if a.SMTP.Host != "" {
			if a.SMTP.Username == "" {
				return fmt.Errorf("email.accounts[%d] (%s): smtp.username is required when smtp.host is set", i, a.Name)
			}
			if a.SMTP.Port < 1 || a.SMTP.Port > 65535 {
				return fmt.Errorf("email.accounts[%d] (%s): smtp.port %d out of range (1-65535)", i, a.Name, a.SMTP.Port)
			}
		}
	}
	if c.AllowDirectSend {
		for _, a := range c.Accounts {
			if a.SMTPConfigured() {
				return nil
			}
		}
		return fmt.Errorf("email.allow_direct_send requires at least one account with smtp")
	}
	return nil
}

// AccountConfig describes a single email account.
type AccountConfig struct {
	// Name identifies the account in tool parameters and logs
	// (e.g., "personal", "work").
	Name string `yaml:"name"`

	IMAP IMAPConfig `yaml:"imap"`

	// SMTP is optional; omit to disable sending from this account.
	SMTP SMTPConfig `yaml:"smtp"`

	// DefaultFrom is the From address for drafts and outbound mail,
	// e.g. "Hani <hani@example.com>".
	DefaultFrom string `yaml:"default_from"`

	// DraftsFolder receives drafts via IMAP APPEND. Default: "Drafts".
	DraftsFolder string `yaml:"drafts_folder"`

	// SentFolder, when set, receives a copy of directly sent mail.
	SentFolder string `yaml:"sent_folder"`
}

// SMTPConfigured reports whether this account can send.
func (a AccountConfig) SMTPConfigured() bool {
	return a.SMTP.Host != "" && a.SMTP.Username != ""
}

// IMAPConfig holds IMAP server connection parameters.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// SMTPConfig holds SMTP server connection parameters.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// StartTLS upgrades a plain connection. False means implicit TLS
	// (port 465).
	StartTLS bool `yaml:"starttls"`
}
