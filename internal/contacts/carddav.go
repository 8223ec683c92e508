package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
)

// CardDAVConfig holds address book accounts under the "carddav" key.
type CardDAVConfig struct {
	Accounts []CardDAVAccount `yaml:"accounts"`
}

// CardDAVAccount is one CardDAV server login.
type CardDAVAccount struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// AddressBooks limits sync to these collection paths. Empty
	// discovers every address book of the current user.
	AddressBooks []string `yaml:"address_books"`
}

// Configured reports whether any account has a URL.
func (c CardDAVConfig) Configured() bool {
	for _, a := range c.Accounts {
		if a.URL != "" {
			return true
		}
	}
	return false
}

// Validate returns an error describing the first problem found.
func (c CardDAVConfig) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("carddav.accounts[%d].name must not be empty", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("carddav.accounts[%d].name %q is a duplicate", i, a.Name)
		}
		seen[a.Name] = true
		if a.URL == "" {
			return fmt.Errorf("carddav.accounts[%d] (%s): url is required", i, a.Name)
		}
	}
	return nil
}

// Card is the subset of a vCard the directory keeps.
type Card struct {
	UID    string
	Name   string
	Kind   string
	Emails []string
	Phones []string
	Org    string
	Title  string
	Note   string
}

// Source lists every card from a remote address book.
type Source interface {
	Name() string
	Cards(ctx context.Context) ([]Card, error)
}

// CardDAV is a Source over one CardDAV account.
type CardDAV struct {
	cfg    CardDAVAccount
	client *carddav.Client
	logger *slog.Logger
}

// NewCardDAV creates a CardDAV source using httpClient for transport.
func NewCardDAV(cfg CardDAVAccount, httpClient *http.Client, logger *slog.Logger) (*CardDAV, error) {
	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}
	client, err := carddav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("carddav client %s: %w", cfg.Name, err)
	}
	return &CardDAV{cfg: cfg, client: client, logger: logger}, nil
}

// Name implements Source.
func (c *CardDAV) Name() string { return c.cfg.Name }

// Cards implements Source.
func (c *CardDAV) Cards(ctx context.Context) ([]Card, error) {
	books := c.cfg.AddressBooks
	if len(books) == 0 {
		var err error
		if books, err = c.discover(ctx); err != nil {
			return nil, err
		}
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	}

	var out []Card
	for _, book := range books {
		objs, err := c.client.QueryAddressBook(ctx, book, query)
		if err != nil {
			return nil, fmt.Errorf("query address book %s: %w", book, err)
		}
		for _, obj := range objs {
			card, ok := fromVCard(obj.Card)
			if !ok {
				continue
			}
			if card.UID == "" {
				card.UID = obj.Path
			}
			out = append(out, card)
		}
		c.logger.Debug("address book fetched", "account", c.cfg.Name, "path", book, "cards", len(objs))
	}
	return out, nil
}

func (c *CardDAV) discover(ctx context.Context) ([]string, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find address book home: %w", err)
	}
	books, err := c.client.FindAddressBooks(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("find address books: %w", err)
	}
	paths := make([]string, 0, len(books))
	for _, b := range books {
		paths = append(paths, b.Path)
	}
	return paths, nil
}

// fromVCard extracts the directory fields. Cards without any usable
// name are skipped.
func fromVCard(vc vcard.Card) (Card, bool) {
	card := Card{
		UID:   vc.Value(vcard.FieldUID),
		Name:  strings.TrimSpace(vc.PreferredValue(vcard.FieldFormattedName)),
		Title: vc.Value(vcard.FieldTitle),
		Note:  vc.Value(vcard.FieldNote),
		Kind:  "person",
	}
	if org := vc.Value(vcard.FieldOrganization); org != "" {
		card.Org = strings.TrimRight(strings.ReplaceAll(org, ";", ", "), ", ")
	}
	if k := vc.Kind(); k == vcard.KindOrganization {
		card.Kind = "organization"
	}

	if card.Name == "" {
		if n := vc.Name(); n != nil {
			card.Name = strings.TrimSpace(strings.Join(nonEmpty(n.GivenName, n.FamilyName), " "))
		}
	}
	if card.Name == "" && card.Org != "" {
		card.Name = card.Org
		card.Kind = "organization"
	}

	for _, e := range vc.Values(vcard.FieldEmail) {
		if e = strings.TrimSpace(e); e != "" {
			card.Emails = append(card.Emails, e)
		}
	}
	for _, p := range vc.Values(vcard.FieldTelephone) {
		if p = strings.TrimSpace(strings.TrimPrefix(p, "tel:")); p != "" {
			card.Phones = append(card.Phones, p)
		}
	}

	if card.Name == "" {
		if len(card.Emails) == 0 {
			return Card{}, false
		}
		card.Name = card.Emails[0]
	}
	return card, true
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
