package email

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Unseen counts messages without \Seen in folder. STATUS leaves the
// selected mailbox alone.
func (c *Client) Unseen(ctx context.Context, folder string) (int, error) {
	folder = folderName(folder)
	var n int
	err := c.do(ctx, func(sess *imapclient.Client) error {
		data, err := sess.Status(folder, &imap.StatusOptions{NumUnseen: true}).Wait()
		if err != nil {
			return fmt.Errorf("status %s: %w", folder, err)
		}
		if data.NumUnseen != nil {
			n = int(*data.NumUnseen)
		}
		return nil
	})
	return n, err
}

// Append stores msg in folder with flags, used to file drafts. The UID
// is zero when the server lacks UIDPLUS.
func (c *Client) Append(ctx context.Context, folder string, flags []imap.Flag, msg []byte) (uint32, error) {
	var uid uint32
	err := c.do(ctx, func(sess *imapclient.Client) error {
		cmd := sess.Append(folder, int64(len(msg)), &imap.AppendOptions{Flags: flags, Time: time.Now()})
		_, werr := cmd.Write(msg)
		cerr := cmd.Close()
		if werr != nil {
			return fmt.Errorf("append to %s: %w", folder, werr)
		}
		if cerr != nil {
			return fmt.Errorf("append to %s: %w", folder, cerr)
		}
		data, err := cmd.Wait()
		if err != nil {
			return fmt.Errorf("append to %s: %w", folder, err)
		}
		uid = uint32(data.UID)
		return nil
	})
	return uid, err
}
