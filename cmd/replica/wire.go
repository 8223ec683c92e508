package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/audit"
	"github.com/hanig/hani-replica/internal/bot"
	"github.com/hanig/hani-replica/internal/briefing"
	"github.com/hanig/hani-replica/internal/buildinfo"
	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/config"
	"github.com/hanig/hani-replica/internal/contacts"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/database"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/events"
	"github.com/hanig/hani-replica/internal/feedback"
	"github.com/hanig/hani-replica/internal/fetch"
	"github.com/hanig/hani-replica/internal/forge"
	"github.com/hanig/hani-replica/internal/health"
	"github.com/hanig/hani-replica/internal/httpkit"
	"github.com/hanig/hani-replica/internal/intent"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/mqtt"
	"github.com/hanig/hani-replica/internal/notion"
	"github.com/hanig/hani-replica/internal/orchestrator"
	"github.com/hanig/hani-replica/internal/search"
	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/specialist"
	"github.com/hanig/hani-replica/internal/todoist"
	"github.com/hanig/hani-replica/internal/tools"
	"github.com/hanig/hani-replica/internal/usage"
	"github.com/hanig/hani-replica/internal/usermemory"
)

// app is everything the subcommands share. Service fields are nil when
// the matching config section is empty.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location
	db     *sql.DB

	bus           *events.Bus
	guard         *security.Guard
	audit         *audit.Logger
	usage         *usage.Store
	counters      *mqtt.DailyCounters
	feedback      *feedback.Store
	conversations *conversation.Manager
	people        *contacts.Store
	model         *llm.AnthropicClient

	calendar *calendar.Service
	mailMgr  *email.Manager
	mail     *email.Service
	forge    *forge.Service
	todoist  *todoist.Client
	notion   *notion.Client
	web      *search.Manager

	briefing *briefing.Builder
	bot      *bot.Handler
}

// newApp opens the database and builds the message pipeline from cfg.
// Close releases what it opened.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if !cfg.Anthropic.Configured() {
		return nil, errors.New("anthropic.api_key is required")
	}

	db, err := database.Open(cfg.Path(database.FileName))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		loc:      cfg.Location(),
		db:       db,
		bus:      events.New(),
		counters: mqtt.NewDailyCounters(cfg.Location()),
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	cfg, logger := a.cfg, a.logger
	var err error

	// --- Stores ---
	auditDB := a.db
	if !cfg.Audit.Enabled {
		auditDB = nil
	}
	if a.audit, err = audit.New(auditDB, audit.Config{
		LogMessages:   cfg.Audit.LogMessages,
		RetentionDays: cfg.Audit.RetentionDays,
	}, logger.With("component", "audit")); err != nil {
		return err
	}
	if a.usage, err = usage.NewStore(a.db, logger); err != nil {
		return err
	}
	if a.feedback, err = feedback.NewStore(a.db, logger); err != nil {
		return err
	}
	if a.people, err = contacts.NewStore(a.db, logger); err != nil {
		return err
	}
	memories, err := usermemory.NewStore(a.db, logger)
	if err != nil {
		return err
	}
	convStore, err := conversation.NewStore(a.db)
	if err != nil {
		return err
	}
	a.conversations = conversation.NewManager(cfg.Conversation, convStore, logger.With("component", "conversation"))

	// --- Security ---
	a.guard = security.NewGuard(cfg.Security, logger.With("component", "security"))
	record := a.audit.SecurityObserver()
	a.guard.OnEvent(func(e security.Event) {
		record(e)
		a.bus.Emit(events.SourceSecurity, events.KindThreat, map[string]any{
			"user_id":     e.UserID,
			"threat_type": string(e.ThreatType),
			"severity":    e.Severity,
			"blocked":     e.Blocked,
		})
	})

	// --- Models ---
	base := llm.NewAnthropicClient(cfg.Anthropic, logger)
	a.model = base
	agentClient := usage.NewMeter(base, a.usage, "agent", cfg.Pricing, logger, a.counters)
	intentClient := usage.NewMeter(base, a.usage, "intent", cfg.Pricing, logger, a.counters)

	// --- Services ---
	if err := a.buildServices(); err != nil {
		return err
	}

	svc := tools.Services{
		People:     a.people,
		Relevance:  a.feedback,
		DirectSend: cfg.Email.AllowDirectSend,
		Location:   a.loc,
	}
	acts := action.Services{Location: a.loc}
	a.briefing = &briefing.Builder{Logger: logger.With("component", "briefing")}
	if a.calendar != nil {
		svc.Calendar = a.calendar
		acts.Calendar = a.calendar
		a.briefing.Calendar = a.calendar
	}
	if a.mail != nil {
		svc.Mail = a.mail
		acts.Drafts = a.mail
		acts.Mailer = a.mail
		a.briefing.Mail = a.mail
	}
	if a.forge != nil {
		svc.Forge = a.forge
		acts.Issues = a.forge
		acts.Comments = a.forge
		a.briefing.Forge = a.forge
	}
	if a.todoist != nil {
		svc.Todoist = a.todoist
		a.briefing.Tasks = a.todoist
	}
	if a.notion != nil {
		svc.Notion = a.notion
	}
	if a.web != nil {
		svc.Web = a.web
		svc.Pages = fetch.New(logger.With("component", "fetch"))
	}
	svc.Briefing = a.briefing

	exec := tools.NewExecutor(tools.NewRegistry(svc), logger.With("component", "tools"))
	exec.OnExecute(a.audit.ToolObserver())

	// --- Runners ---
	deps := specialist.Deps{
		Client:       agentClient,
		Executor:     exec,
		Logger:       logger.With("component", "agent"),
		Model:        cfg.Models.Agent,
		MaxTokens:    cfg.Agents.MaxTokens,
		HistoryTurns: cfg.Agents.HistoryTurns,
		Location:     a.loc,
		Routing:      cfg.Routing,
		Summarizer:   memories,
		Extractor:    usermemory.NewLLMExtractor(memories, intentClient, cfg.Models.Intent, logger),
		People:       a.people,
	}
	orch := orchestrator.New(specialist.NewAll(deps), agentClient, orchestrator.Config{
		Model:        cfg.Models.Agent,
		Routing:      cfg.Routing,
		Location:     a.loc,
		HistoryTurns: cfg.Agents.HistoryTurns,
		Events:       a.bus,
	}, logger.With("component", "orchestrator"))

	var runner bot.Runner
	switch cfg.Bot.Mode {
	case config.ModeAgent:
		runner = specialist.NewGeneral(deps, cfg.Agents.MaxIterations)
	case config.ModeIntent:
		classifier := intent.NewClassifier(intentClient, cfg.Models.Intent, logger)
		runner = intent.NewHandler(classifier, exec, orch, logger.With("component", "intent"))
	default:
		runner = orch
	}

	a.bot = bot.New(bot.Config{
		Runner:          runner,
		Conversations:   a.conversations,
		Guard:           a.guard,
		Confirmer:       action.NewConfirmer(acts, a.guard, logger.With("component", "action")),
		Audit:           a.audit,
		Feedback:        a.feedback,
		Events:          a.bus,
		Mode:            cfg.Bot.Mode,
		AuthorizedUsers: cfg.Bot.AuthorizedUsers,
		Logger:          logger.With("component", "bot"),
	})

	logger.Info("pipeline ready",
		"mode", cfg.Bot.Mode,
		"agent_model", cfg.Models.Agent,
		"intent_model", cfg.Models.Intent,
		"tools", len(exec.Registry().AllToolNames()),
	)
	return nil
}

// Each model ping spends a token, so the model check runs rarely.
const modelCheckInterval = 15 * time.Minute

// newHealthMonitor probes the model API and every IMAP account. Run it
// with Monitor.Run.
func (a *app) newHealthMonitor() *health.Monitor {
	mon := health.NewMonitor(health.Config{
		Events: a.bus,
		Logger: a.logger,
	})
	mon.AddEvery("anthropic", modelCheckInterval, a.model.Ping)
	if a.mailMgr != nil {
		for _, name := range a.mailMgr.AccountNames() {
			mon.Add("imap:"+name, func(ctx context.Context) error {
				c, err := a.mailMgr.Account(name)
				if err != nil {
					return err
				}
				return c.Ping(ctx)
			})
		}
	}
	return mon
}

// buildServices creates a client for every configured integration.
func (a *app) buildServices() error {
	cfg, logger := a.cfg, a.logger
	var err error

	if cfg.Calendar.Configured() {
		if a.calendar, err = calendar.NewService(cfg.Calendar, a.loc, logger.With("component", "calendar")); err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
	}
	if cfg.Email.Configured() {
		a.mailMgr = email.NewManager(cfg.Email, logger.With("component", "email"))
		a.mail = email.NewService(a.mailMgr, cfg.Email, logger.With("component", "email"))
	}
	if cfg.Forge.Configured() {
		mgr, err := forge.NewManager(cfg.Forge, logger.With("component", "forge"))
		if err != nil {
			return fmt.Errorf("forge: %w", err)
		}
		a.forge = forge.NewService(mgr)
	}
	if cfg.Todoist.Configured() {
		a.todoist = todoist.New(cfg.Todoist, logger.With("component", "todoist"))
	}
	if cfg.Notion.Configured() {
		a.notion = notion.New(cfg.Notion, logger.With("component", "notion"))
	}
	if cfg.Search.Configured() {
		a.web = search.NewManager(cfg.Search, logger.With("component", "search"))
	}

	logger.Info("integrations",
		"calendar", a.calendar != nil,
		"email", a.mail != nil,
		"forge", a.forge != nil,
		"todoist", a.todoist != nil,
		"notion", a.notion != nil,
		"search", a.web != nil,
		"carddav", cfg.CardDAV.Configured(),
	)
	return nil
}

// syncContacts imports every configured CardDAV account into the
// contact store.
func (a *app) syncContacts(ctx context.Context) ([]contacts.SyncResult, error) {
	syncer := contacts.NewSyncer(a.people, a.logger.With("component", "contacts"))
	var (
		results []contacts.SyncResult
		errs    []error
	)
	for _, acct := range a.cfg.CardDAV.Accounts {
		hc := httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(a.logger),
		)
		src, err := contacts.NewCardDAV(acct, hc, a.logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("carddav %s: %w", acct.Name, err))
			continue
		}
		res, err := syncer.Sync(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// maintain prunes the audit trail and stale feedback once a day.
func (a *app) maintain(ctx context.Context) {
	prune := func() {
		if n, err := a.audit.Cleanup(ctx); err != nil {
			a.logger.Warn("audit cleanup failed", "error", err)
		} else if n > 0 {
			a.logger.Info("audit entries pruned", "count", n)
		}
		if n, err := a.feedback.CleanupOldEvents(ctx, feedbackRetention); err != nil {
			a.logger.Warn("feedback cleanup failed", "error", err)
		} else if n > 0 {
			a.logger.Info("feedback events pruned", "count", n)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

const feedbackRetention = 90 * 24 * time.Hour

// Close flushes conversations and releases connections.
func (a *app) Close() {
	if a.conversations != nil {
		a.conversations.PersistAll()
	}
	if a.mailMgr != nil {
		a.mailMgr.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
}

// statsAdapter bridges the pipeline and build info to the MQTT
// publisher's [mqtt.StatsSource].
type statsAdapter struct {
	model         string
	bot           *bot.Handler
	conversations *conversation.Manager
}

func (s *statsAdapter) Uptime() time.Duration      { return buildinfo.Uptime() }
func (s *statsAdapter) Version() string            { return buildinfo.Version }
func (s *statsAdapter) DefaultModel() string       { return s.model }
func (s *statsAdapter) LastRequestTime() time.Time { return s.bot.LastRequestTime() }

func (s *statsAdapter) ActiveConversations() int {
	n, _ := s.conversations.Stats()["active_conversations"].(int)
	return n
}

// askHandler answers MQTT questions through the same pipeline as the
// API. The reply text carries any confirmation preview; confirming
// still requires the API.
func askHandler(b *bot.Handler) mqtt.AskHandler {
	return func(ctx context.Context, userID, text string) (string, error) {
		reply := b.Handle(ctx, bot.Inbound{UserID: userID, ChannelID: "mqtt", Text: text})
		if reply.Confirmation != nil {
			return reply.Confirmation.Preview, nil
		}
		return reply.Text, nil
	}
}
