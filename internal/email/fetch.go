package email

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// maxRawMessageSize caps how much of a message literal is buffered for
// snippet extraction. The rest of the literal is drained.
const maxRawMessageSize = 1 << 20

// fetchEnvelopes fetches envelope data for uidSet from the selected
// folder and returns it newest-first. With withBody the full message is
// fetched with PEEK so the \Seen flag is not set.
func (c *Client) fetchEnvelopes(sess *imapclient.Client, uidSet imap.UIDSet, withBody bool) ([]Envelope, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		Flags:    true,
	}
	if withBody {
		fetchOpts.BodySection = []*imap.FetchItemBodySection{{Peek: true}}
	}

	fetchCmd := sess.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := c.parseMessageData(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	slices.SortFunc(envelopes, func(a, b Envelope) int {
		switch {
		case a.UID > b.UID:
			return -1
		case a.UID < b.UID:
			return 1
		}
		return 0
	})
	return envelopes, nil
}

// parseMessageData extracts an Envelope from IMAP fetch response items.
// Body literals are consumed immediately; go-imap streams them and
// skipping ahead would lose the data.
func (c *Client) parseMessageData(msg *imapclient.FetchMessageData) (Envelope, error) {
	env := Envelope{Unread: true}

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataFlags:
			for _, f := range data.Flags {
				env.Flags = append(env.Flags, string(f))
				if f == imap.FlagSeen {
					env.Unread = false
				}
			}
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				env.Date = data.Envelope.Date
				env.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					env.From = formatAddress(data.Envelope.From[0])
				}
				for _, addr := range data.Envelope.To {
					env.To = append(env.To, formatAddress(addr))
				}
			}
		case imapclient.FetchItemDataBodySection:
			if data.Literal == nil {
				continue
			}
			raw, err := io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			drainLiteral(data.Literal)
			if err != nil {
				c.logger.Debug("error reading body literal", "error", err)
				continue
			}
			text, err := extractText(bytes.NewReader(raw))
			if err != nil {
				c.logger.Debug("body parse error", "error", err)
			}
			env.Snippet = snippet(text, snippetLength)
		}
	}

	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}
	return env, nil
}

// formatAddress formats an IMAP address as "Name <user@host>", or just
// the address when no name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
