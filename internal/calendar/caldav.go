package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

type collection struct {
	path string
	name string
}

// CalDAV is a Backend over one CalDAV account. Calendar collections
// are discovered on first use unless configured as paths.
type CalDAV struct {
	cfg    AccountConfig
	client *caldav.Client
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cols  []collection
	write string
}

// NewCalDAV creates a CalDAV backend using httpClient for transport.
func NewCalDAV(cfg AccountConfig, httpClient *http.Client, loc *time.Location, logger *slog.Logger) (*CalDAV, error) {
	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}
	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client %s: %w", cfg.Name, err)
	}
	return &CalDAV{
		cfg:    cfg,
		client: client,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Events implements Backend.
func (c *CalDAV) Events(ctx context.Context, start, end time.Time) ([]Event, error) {
	cols, _, err := c.collections(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{Name: "VEVENT", AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT", Start: start.UTC(), End: end.UTC()}},
		},
	}

	var out []Event
	for _, col := range cols {
		objs, err := c.client.QueryCalendar(ctx, col.path, query)
		if err != nil {
			return nil, fmt.Errorf("query calendar %s: %w", col.path, err)
		}
		for _, obj := range objs {
			if obj.Data == nil {
				continue
			}
			out = append(out, expandCalendar(obj.Data, col.name, start, end, c.loc)...)
		}
	}
	sortEvents(out)
	return out, nil
}

// Create implements Backend.
func (c *CalDAV) Create(ctx context.Context, ne NewEvent) (*Event, error) {
	_, write, err := c.collections(ctx)
	if err != nil {
		return nil, err
	}
	if write.path == "" {
		return nil, fmt.Errorf("calendar account %s has no writable calendar", c.cfg.Name)
	}

	cal, uid := newCalendarObject(ne, c.now())
	path := strings.TrimSuffix(write.path, "/") + "/" + uid + ".ics"
	if _, err := c.client.PutCalendarObject(ctx, path, cal); err != nil {
		return nil, fmt.Errorf("put event %s: %w", path, err)
	}

	c.logger.Info("calendar event created",
		"account", c.cfg.Name,
		"calendar", write.name,
		"uid", uid,
	)
	return &Event{
		ID:          uid,
		Calendar:    write.name,
		Title:       ne.Title,
		Location:    ne.Location,
		Description: ne.Description,
		Start:       ne.Start.In(c.loc),
		End:         ne.End.In(c.loc),
		Attendees:   ne.Attendees,
	}, nil
}

func (c *CalDAV) collections(ctx context.Context) ([]collection, collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cols != nil {
		return c.cols, c.writeCollection(), nil
	}

	var (
		paths []collection
		names = make(map[string]bool)
	)
	for _, entry := range c.cfg.Calendars {
		if strings.HasPrefix(entry, "/") {
			paths = append(paths, collection{path: entry, name: lastSegment(entry)})
		} else {
			names[strings.ToLower(entry)] = true
		}
	}

	if len(paths) > 0 && len(names) == 0 {
		c.cols = paths
		return c.cols, c.writeCollection(), nil
	}

	discovered, err := c.discover(ctx)
	if err != nil {
		return nil, collection{}, err
	}
	cols := paths
	for _, d := range discovered {
		if len(names) == 0 || names[strings.ToLower(d.name)] {
			cols = append(cols, d)
		}
	}
	c.cols = cols
	c.logger.Debug("calendars discovered", "account", c.cfg.Name, "count", len(cols))
	return c.cols, c.writeCollection(), nil
}

func (c *CalDAV) discover(ctx context.Context) ([]collection, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := c.client.FindCalendars(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var out []collection
	for _, cal := range cals {
		if !supportsEvents(cal.SupportedComponentSet) {
			continue
		}
		name := cal.Name
		if name == "" {
			name = lastSegment(cal.Path)
		}
		out = append(out, collection{path: cal.Path, name: name})
	}
	return out, nil
}

// writeCollection must be called with mu held.
func (c *CalDAV) writeCollection() collection {
	want := c.cfg.WriteCalendar
	if want == "" {
		if len(c.cols) == 0 {
			return collection{}
		}
		return c.cols[0]
	}
	if strings.HasPrefix(want, "/") {
		return collection{path: want, name: lastSegment(want)}
	}
	for _, col := range c.cols {
		if strings.EqualFold(col.name, want) {
			return col
		}
	}
	return collection{}
}

func supportsEvents(comps []string) bool {
	if len(comps) == 0 {
		return true
	}
	for _, comp := range comps {
		if strings.EqualFold(comp, "VEVENT") {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
