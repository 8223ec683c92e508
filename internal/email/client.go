package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const defaultFolder = "INBOX"

// Client holds one account's IMAP session. It dials on first use and
// redials when the server has dropped the session. Methods serialize on
// mu, since an IMAP session runs one selected mailbox at a time.
type Client struct {
	cfg    IMAPConfig
	logger *slog.Logger

	mu   sync.Mutex
	sess *imapclient.Client
}

// NewClient returns a client for cfg without connecting.
func NewClient(cfg IMAPConfig, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Connect dials now instead of on first use.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, func(*imapclient.Client) error { return nil })
}

// Ping confirms the session is usable, redialing if needed.
func (c *Client) Ping(ctx context.Context) error {
	return c.Connect(ctx)
}

// Close logs out. A later call redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

// do runs fn on a live session. A command failing with a transport
// error drops the session so the next call redials.
func (c *Client) do(ctx context.Context, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.sess != nil && c.sess.Noop().Wait() != nil {
		c.logger.Debug("imap session stale, redialing", "host", c.cfg.Host)
		_ = c.dropLocked()
	}
	if c.sess == nil {
		sess, err := c.dial()
		if err != nil {
			return err
		}
		c.sess = sess
	}

	err := fn(c.sess)
	var imapErr *imap.Error
	if err != nil && !errors.As(err, &imapErr) {
		// Not a tagged NO/BAD reply: the connection itself is suspect.
		_ = c.dropLocked()
	}
	return err
}

func (c *Client) dial() (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	c.logger.Debug("dialing imap", "addr", addr, "tls", c.cfg.TLS)

	var (
		sess *imapclient.Client
		err  error
	)
	if c.cfg.TLS {
		sess, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12},
		})
	} else {
		sess, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	if err := sess.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("imap login %s@%s: %w", c.cfg.Username, c.cfg.Host, err)
	}
	c.logger.Info("imap connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return sess, nil
}

func (c *Client) dropLocked() error {
	if c.sess == nil {
		return nil
	}
	err := c.sess.Close()
	c.sess = nil
	return err
}

// examine selects folder read-only so fetches never change flags.
func examine(sess *imapclient.Client, folder string) error {
	if folder == "" {
		folder = defaultFolder
	}
	if _, err := sess.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return fmt.Errorf("examine %s: %w", folder, err)
	}
	return nil
}
