package email

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const defaultSearchLimit = 20

// SearchMessages returns up to opts.Limit matches in opts.Folder,
// newest first.
func (c *Client) SearchMessages(ctx context.Context, opts SearchOptions) ([]Envelope, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var out []Envelope
	err := c.do(ctx, func(sess *imapclient.Client) error {
		if err := examine(sess, opts.Folder); err != nil {
			return err
		}
		res, err := sess.UIDSearch(criteria(opts), nil).Wait()
		if err != nil {
			return fmt.Errorf("search %s: %w", folderName(opts.Folder), err)
		}
		uids := res.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		// UIDs ascend with arrival, so the tail is the newest.
		uids = uids[max(0, len(uids)-limit):]
		var set imap.UIDSet
		set.AddNum(uids...)
		out, err = c.fetchEnvelopes(sess, set, opts.Snippets)
		return err
	})
	return out, err
}

func folderName(f string) string {
	if f == "" {
		return defaultFolder
	}
	return f
}

// criteria maps SearchOptions onto IMAP SEARCH keys.
func criteria(opts SearchOptions) *imap.SearchCriteria {
	sc := &imap.SearchCriteria{}
	if !opts.Since.IsZero() {
		sc.Since = opts.Since
	}
	if !opts.Before.IsZero() {
		sc.Before = opts.Before
	}
	if opts.Query != "" {
		sc.Text = []string{opts.Query}
	}
	if opts.From != "" {
		sc.Header = []imap.SearchCriteriaHeaderField{{Key: "From", Value: opts.From}}
	}
	if opts.Unseen {
		sc.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	return sc
}
