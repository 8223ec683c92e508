package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const smtpDialTimeout = 30 * time.Second

// SendMail delivers msg to recipients over a new SMTP connection. The
// context deadline, when sooner than the default, bounds the dial.
func SendMail(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("send mail: no recipients")
	}
	c, err := dialSMTP(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return deliver(c, cfg, from, recipients, msg)
}

// dialSMTP connects and secures the session: implicit TLS unless
// StartTLS is set, in which case the plain connection is upgraded.
func dialSMTP(ctx context.Context, cfg SMTPConfig) (*smtp.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	timeout := smtpDialTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	tlsCfg := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if cfg.StartTLS {
		d := &net.Dialer{Timeout: timeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting from %s: %w", addr, err)
	}
	if cfg.StartTLS {
		if err := c.StartTLS(tlsCfg); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp starttls %s: %w", addr, err)
		}
	}
	return c, nil
}

// deliver runs one mail transaction on an established session.
func deliver(c *smtp.Client, cfg SMTPConfig, from string, recipients []string, msg []byte) error {
	if cfg.Username != "" && cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM %s: %w", from, err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	return c.Quit()
}

// extractAddress returns the bare address of "Name <addr>" or "addr".
// Input that does not parse is returned trimmed.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return s
}

// collectRecipients flattens the address lists into the envelope
// recipients, dropping case-insensitive duplicates.
func collectRecipients(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, raw := range list {
			addr := extractAddress(raw)
			key := strings.ToLower(addr)
			if addr == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
