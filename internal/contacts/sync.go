package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SyncResult counts what a sync changed.
type SyncResult struct {
	Source  string `json:"source"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
}

// Syncer imports remote address books into the Store. Remote cards
// own their name, emails, phones and org; relationship and summary
// edited locally survive a sync.
type Syncer struct {
	store  *Store
	logger *slog.Logger
}

// NewSyncer creates a Syncer writing to store.
func NewSyncer(store *Store, logger *slog.Logger) *Syncer {
	return &Syncer{store: store, logger: logger}
}

// Sync imports every card from src.
func (s *Syncer) Sync(ctx context.Context, src Source) (SyncResult, error) {
	res := SyncResult{Source: src.Name()}
	cards, err := src.Cards(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch cards from %s: %w", src.Name(), err)
	}

	sourceKey := "carddav:" + src.Name()
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		added, err := s.apply(sourceKey, card)
		if err != nil {
			s.logger.Warn("contact sync skipped card", "source", src.Name(), "uid", card.UID, "error", err)
			res.Skipped++
			continue
		}
		if added {
			res.Added++
		} else {
			res.Updated++
		}
	}

	s.logger.Info("contacts synced",
		"source", src.Name(),
		"added", res.Added,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (s *Syncer) apply(sourceKey string, card Card) (bool, error) {
	c, err := s.store.FindBySource(sourceKey, card.UID)
	added := errors.Is(err, ErrNotFound)
	if err != nil && !added {
		return false, err
	}
	if added {
		c = &Contact{Source: sourceKey, SourceUID: card.UID}
	}

	c.Name = card.Name
	c.Kind = card.Kind
	if c.Details == "" {
		c.Details = card.Note
	}
	if _, err := s.store.Upsert(c); err != nil {
		return false, err
	}

	for key, values := range map[string][]string{
		FactEmail: card.Emails,
		FactPhone: card.Phones,
		FactOrg:   nonEmpty(card.Org),
		FactTitle: nonEmpty(card.Title),
	} {
		if err := s.store.ReplaceFacts(c.ID, key, values); err != nil {
			return false, err
		}
	}
	return added, nil
}
