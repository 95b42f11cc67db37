package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/api"
	"github.com/copperwatch/copperwatch/server/internal/auth"
	"github.com/copperwatch/copperwatch/server/internal/config"
	"github.com/copperwatch/copperwatch/server/internal/history"
	"github.com/copperwatch/copperwatch/server/internal/logging"
	"github.com/copperwatch/copperwatch/server/internal/monitor"
	"github.com/copperwatch/copperwatch/server/internal/notify"
	"github.com/copperwatch/copperwatch/server/internal/provider"
	"github.com/copperwatch/copperwatch/server/internal/rules"
	"github.com/copperwatch/copperwatch/server/internal/ws"
)

const (
	heartbeatInterval = 15 * time.Second
	wsBacklog         = 50
)

type options struct {
	configPath string
	envFile    string
	exportPath string
	importPath string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	flag.StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file with secrets")
	flag.StringVar(&opts.exportPath, "export-rules", "", "write the loaded rules to this file (.json or .yaml) and exit")
	flag.StringVar(&opts.importPath, "import-rules", "", "register the rules in this file (.json or .yaml) at startup")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "copperwatch: %v\n", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so deferred cleanup also happens when
// startup fails part way.
func run(opts options) error {
	// A missing .env is normal in production, where secrets come from the
	// environment directly.
	if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger, logOut := logging.New(cfg.Log)
	defer logOut.Close()
	slog.SetDefault(logger)

	slog.Info("copperwatch starting",
		"config", opts.configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"provider", cfg.Provider.Type,
		"interval", cfg.Monitor.Interval,
		"history", cfg.History.Backend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Alert history, pruned on a cron schedule when a retention is set.
	hist, closeHistory, err := openHistory(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("open alert history: %w", err)
	}
	defer closeHistory()

	if cfg.History.Retention > 0 {
		pruner, err := history.NewPruner(hist, cfg.History.Retention, cfg.History.PruneSchedule)
		if err != nil {
			return err
		}
		pruner.Start()
		defer pruner.Stop()
	}

	engine := alerts.New(
		alerts.WithHistory(hist),
		alerts.WithNotifyTimeout(cfg.Monitor.NotifyTimeout),
	)

	// Rules: stock templates, the rules file, then any one-off import.
	if err := loadRules(engine, cfg.Rules, opts.importPath); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if opts.exportPath != "" {
		if err := exportRules(engine, opts.exportPath); err != nil {
			return fmt.Errorf("export rules to %s: %w", opts.exportPath, err)
		}
		slog.Info("rules exported", "path", opts.exportPath, "count", len(engine.Rules()))
		return nil
	}
	if cfg.Rules.File != "" && cfg.Rules.Watch {
		go func() {
			err := rules.Watch(ctx, cfg.Rules.File, func(res rules.ImportResult) {
				reloadRules(engine, res)
			})
			if err != nil {
				slog.Error("rules watcher stopped", "file", cfg.Rules.File, "err", err)
			}
		}()
	}

	// Notification channels. The WebSocket hub doubles as the UI stream.
	var hub *ws.Hub
	if cfg.Notifiers.WebSocket.Enabled {
		hub = ws.New(heartbeatInterval, wsBacklog)
		go hub.Run(ctx)
	}
	closers, err := registerNotifiers(engine, cfg.Notifiers, hub)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if err != nil {
		return fmt.Errorf("configure notifiers: %w", err)
	}
	slog.Info("notifiers registered", "channels", engine.Notifiers())

	// Monitoring loop. Without a provider, snapshots arrive via the API only.
	loop := monitor.New(engine)
	defer loop.Stop()
	if cfg.Provider.Type != "none" {
		p, err := provider.New(cfg.Provider)
		if err != nil {
			return fmt.Errorf("configure provider: %w", err)
		}
		if err := loop.Start(p, cfg.Monitor.Interval); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
	}

	// HTTP server: REST API, Prometheus metrics and the WebSocket stream.
	withAuth := auth.APIKeyMiddleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health",
	)
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", withAuth(api.New(engine, hist, loop)))
	httpMux.Handle("/metrics", promhttp.Handler())
	if hub != nil {
		httpMux.Handle(cfg.Notifiers.WebSocket.Path, withAuth(hub))
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("HTTP server: %w", err)
	}
	slog.Info("copperwatch shutting down")
	loop.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return httpSrv.Shutdown(shutdownCtx)
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pg, err := history.OpenPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		return history.NewMemory(cfg.MaxEntries), func() {}, nil
	}
}

func loadRules(engine *alerts.Engine, cfg config.RulesConfig, importPath string) error {
	if cfg.Templates {
		for _, r := range rules.Templates() {
			if _, err := engine.AddRule(r); err != nil {
				return fmt.Errorf("template %s: %w", r.ID, err)
			}
		}
	}
	if cfg.File != "" {
		res, err := rules.ImportFile(cfg.File)
		if err != nil {
			return err
		}
		reloadRules(engine, res)
	}
	if importPath != "" {
		f, err := os.Open(importPath)
		if err != nil {
			return fmt.Errorf("open rules import: %w", err)
		}
		defer f.Close()
		n, errs := engine.ImportRules(f, rules.FormatForPath(importPath))
		for _, err := range errs {
			slog.Warn("rule import skipped a record", "path", importPath, "err", err)
		}
		slog.Info("rules imported", "path", importPath, "count", n)
	}
	return nil
}

func reloadRules(engine *alerts.Engine, res rules.ImportResult) {
	for _, err := range res.Errors {
		slog.Warn("rules file: invalid record", "err", err)
	}
	r := engine.ReloadRules(res.Rules)
	for _, err := range r.Errors {
		slog.Warn("rules file: rule rejected", "err", err)
	}
	slog.Info("rules file applied", "added", r.Added, "updated", r.Updated, "removed", r.Removed)
}

func exportRules(engine *alerts.Engine, path string) error {
	out := make([]rules.Rule, 0)
	for _, s := range engine.Rules() {
		out = append(out, s.Rule)
	}
	return rules.ExportFile(path, out)
}

func registerNotifiers(engine *alerts.Engine, cfg config.NotifiersConfig, hub *ws.Hub) ([]io.Closer, error) {
	var closers []io.Closer

	if cfg.Console.Enabled {
		var w io.Writer = os.Stderr
		if cfg.Console.Output == "stdout" {
			w = os.Stdout
		}
		engine.AddNotifier(notify.NewConsole(w))
	}
	if cfg.Email.Enabled {
		engine.AddNotifier(notify.NewEmail(cfg.Email))
	}
	for _, wh := range cfg.Webhooks {
		engine.AddNotifier(notify.NewWebhook(wh))
	}
	if cfg.Kafka.Enabled {
		k, err := notify.NewKafka(cfg.Kafka)
		if err != nil {
			return closers, err
		}
		engine.AddNotifier(k)
		closers = append(closers, k)
	}
	if cfg.Redis.Enabled {
		r, err := notify.NewRedis(cfg.Redis)
		if err != nil {
			return closers, err
		}
		engine.AddNotifier(r)
		closers = append(closers, r)
	}
	if hub != nil {
		engine.AddNotifier(hub)
	}
	return closers, nil
}
