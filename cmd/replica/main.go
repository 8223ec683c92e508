// Replica is a personal assistant that answers over an HTTP and
// WebSocket API, routing each message to calendar, email, code forge and
// research specialists and asking before it changes anything.
//
// Usage:
//
//	replica serve              Start the API server
//	replica init [dir]         Write an example config into dir
//	replica ask <question>     Ask a single question (for testing)
//	replica briefing           Print today's briefing
//	replica sync-contacts      Import contacts from CardDAV
//	replica usage              Print today's model usage
//	replica version            Print version and build information
//	replica -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hanig/hani-replica/internal/api"
	"github.com/hanig/hani-replica/internal/bot"
	"github.com/hanig/hani-replica/internal/briefing"
	"github.com/hanig/hani-replica/internal/buildinfo"
	"github.com/hanig/hani-replica/internal/config"
	"github.com/hanig/hani-replica/internal/heartbeat"
	"github.com/hanig/hani-replica/internal/mqtt"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Logs go to stdout; the caller prints the
// returned error. Arguments are parsed by hand so run can be called
// concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: replica ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "briefing":
		return runBriefing(ctx, stdout, stderr, configPath, outputFmt)
	case "sync-contacts":
		return runSyncContacts(ctx, stdout, stderr, configPath, outputFmt)
	case "usage":
		return runUsage(ctx, stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Replica - personal assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: replica [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the API server")
	fmt.Fprintln(w, "  init [dir]      Write an example config (default: .)")
	fmt.Fprintln(w, "  ask             Ask a single question (for testing)")
	fmt.Fprintln(w, "  briefing        Print today's briefing")
	fmt.Fprintln(w, "  sync-contacts   Import contacts from CardDAV")
	fmt.Fprintln(w, "  usage           Print today's model usage")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe starts the API server and the background loops, and blocks
// until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting replica", "build", buildinfo.String())

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logger, err = config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"mode", cfg.Bot.Mode,
		"timezone", cfg.Timezone,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.conversations.Run(ctx)
	go a.counters.Follow(ctx, a.bus)
	go a.maintain(ctx)

	monitor := a.newHealthMonitor()
	go monitor.Run(ctx)

	if cfg.CardDAV.Configured() {
		go func() {
			if _, err := a.syncContacts(ctx); err != nil {
				logger.Warn("initial contact sync incomplete", "error", err)
			}
		}()
	}

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, a.counters, &statsAdapter{
			model:         cfg.Models.Agent,
			bot:           a.bot,
			conversations: a.conversations,
		}, logger.With("component", "mqtt"))
		mqttPub.SetAskHandler(askHandler(a.bot))
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Heartbeat ---
	if cfg.Heartbeat.Enabled {
		hb, err := newHeartbeat(a, mqttPub)
		if err != nil {
			return err
		}
		go hb.Run(ctx)
	}

	server := api.NewServer(api.Config{
		Address:       cfg.Listen.Address,
		Port:          cfg.Listen.Port,
		Username:      cfg.Listen.Username,
		PasswordHash:  cfg.Listen.PasswordHash,
		Streaming:     cfg.Bot.Streaming,
		Pipeline:      a.bot,
		Guard:         a.guard,
		Audit:         a.audit,
		Usage:         a.usage,
		Conversations: a.conversations,
		Events:        a.bus,
		Health:        monitor,
		Location:      a.loc,
		Logger:        logger.With("component", "api"),
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
	}()

	// Start blocks until ctx is cancelled and the server has drained.
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("replica stopped")
	return nil
}

// newHeartbeat wires the proactive loop to whatever sources and
// notifiers are configured.
func newHeartbeat(a *app, mqttPub *mqtt.Publisher) (*heartbeat.Heartbeat, error) {
	settings, err := heartbeat.NewSettingsStore(a.db, a.logger)
	if err != nil {
		return nil, err
	}
	hc := heartbeat.Config{
		Interval:  a.cfg.Heartbeat.Interval,
		Users:     a.cfg.Heartbeat.Users,
		Settings:  settings,
		Briefing:  a.briefing,
		Notifiers: []heartbeat.Notifier{heartbeat.BusNotifier{Bus: a.bus}},
		Bus:       a.bus,
		Logger:    a.logger.With("component", "heartbeat"),
	}
	if a.calendar != nil {
		hc.Calendar = a.calendar
	}
	if a.mail != nil {
		hc.Mail = a.mail
	}
	if mqttPub != nil {
		hc.Notifiers = append(hc.Notifiers, mqttPub)
	}
	return heartbeat.New(hc), nil
}

// runAsk boots the pipeline without servers and handles one message.
// The user is the first authorized user, or "cli".
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	a, err := openApp(stderr, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	user := "cli"
	if len(a.cfg.Bot.AuthorizedUsers) > 0 {
		user = a.cfg.Bot.AuthorizedUsers[0]
	}
	reply := a.bot.Handle(ctx, bot.Inbound{UserID: user, ChannelID: "cli", Text: strings.Join(args, " ")})

	if outputFmt == "json" {
		return writeJSON(stdout, reply)
	}
	if reply.Confirmation != nil {
		fmt.Fprintln(stdout, reply.Confirmation.Text)
		fmt.Fprintf(stdout, "\n(action %s awaits confirmation via the API)\n", reply.Confirmation.ActionID)
		return nil
	}
	fmt.Fprintln(stdout, reply.Text)
	return nil
}

// runBriefing prints today's briefing.
func runBriefing(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	a, err := openApp(stderr, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	br := a.briefing.Build(ctx, time.Now().In(a.loc))
	if outputFmt == "json" {
		return writeJSON(stdout, br)
	}
	fmt.Fprintln(stdout, briefing.Format(br))
	return nil
}

func runSyncContacts(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	a, err := openApp(stderr, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.CardDAV.Configured() {
		return fmt.Errorf("no carddav accounts configured")
	}
	results, syncErr := a.syncContacts(ctx)
	if outputFmt == "json" {
		if err := writeJSON(stdout, results); err != nil {
			return err
		}
		return syncErr
	}
	for _, r := range results {
		fmt.Fprintf(stdout, "%s: %d added, %d updated, %d skipped\n", r.Source, r.Added, r.Updated, r.Skipped)
	}
	return syncErr
}

// runUsage prints today's token usage and cost per model tier.
func runUsage(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	a, err := openApp(stderr, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().In(a.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	byTier, err := a.usage.SummaryByTier(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("usage summary: %w", err)
	}
	if outputFmt == "json" {
		return writeJSON(stdout, byTier)
	}
	if len(byTier) == 0 {
		fmt.Fprintln(stdout, "No model calls today.")
		return nil
	}
	for _, tier := range []string{"agent", "intent"} {
		s, ok := byTier[tier]
		if !ok {
			continue
		}
		fmt.Fprintf(stdout, "%-7s %5d calls  %8d in  %8d out  $%.4f\n",
			tier, s.Requests, s.InputTokens, s.OutputTokens, s.CostUSD)
	}
	return nil
}

// openApp loads config and builds the pipeline for one-shot commands.
// Logs go to w at the configured level so stdout stays clean.
func openApp(w io.Writer, configPath string) (*app, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(w, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger)
}

// newLogger is the bootstrap logger used before config is loaded.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
