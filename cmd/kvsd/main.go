// Command kvsd is the server binary described in spec.md §6:
//
//	kvsd <jobs_directory> <max_threads> <max_backups> <register_pipe_path>
//
// Exit 0 on clean termination, 1 on startup failure (bad directory, pipe
// creation failure, or KVS init failure — spec.md §7 "Fatal").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "go.uber.org/automaxprocs"

	"kvsd/internal/admin"
	"kvsd/internal/config"
	"kvsd/internal/jobrunner"
	"kvsd/internal/logging"
	"kvsd/internal/metrics"
	"kvsd/internal/natsbus"
	"kvsd/internal/pubsub"
	"kvsd/internal/ratelimit"
	"kvsd/internal/registrar"
	"kvsd/internal/session"
	"kvsd/internal/store"
	"kvsd/internal/sysmonitor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	if err := applyCLIArgs(&cfg, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "usage: %s <jobs_directory> <max_threads> <max_backups> <register_pipe_path>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()

	table := session.NewTable(cfg.Session.MaxSessions)
	notifier := pubsub.NewNotifier(table, metricsRegistry)
	kvStore := store.New(cfg.Store.ShardCount, notifier)

	registry := pubsub.NewRegistry(table, kvStore, cfg.Session.MaxSubsPerSession)
	sessionLimitCfg := ratelimit.Config{
		Burst: cfg.RateLimit.SessionBurst,
		Rate:  cfg.RateLimit.SessionRate,
	}

	registrationLimiter := ratelimit.NewRegistrationLimiter(ratelimit.Config{
		Burst: cfg.RateLimit.RegistrationBurst,
		Rate:  cfg.RateLimit.RegistrationRate,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reaper := admin.NewReaper(table, metricsRegistry, logger)
	if cfg.Admin.EnableSignalHandler {
		stopSignals := reaper.InstallSignalHandler()
		defer stopSignals()
	}
	go reaper.Run(ctx)

	var natsClient *natsbus.Client
	if cfg.Admin.EnableNATSBridge {
		natsClient, err = natsbus.Connect(natsbus.Config{URL: cfg.Secrets.NATSURL}, logger)
		if err != nil {
			logger.Warn("nats bridge disabled: connect failed", zap.Error(err))
		} else {
			if _, err := natsClient.SubscribeReset(reaper.Trigger); err != nil {
				logger.Warn("nats bridge disabled: subscribe failed", zap.Error(err))
			} else {
				logger.Info("admin reset bridged over nats", zap.String("subject", natsbus.ResetSubject))
			}
			defer natsClient.Close()
		}
	}

	spawn := func(s *session.Session) {
		go func() {
			_, _, err := registrar.OpenSessionPipes(table, s)
			if err != nil {
				logger.Warn("failed to open session pipes", zap.Int("session", s.ID), zap.Error(err))
				table.Release(s)
				return
			}
			sessionLimiter := ratelimit.NewSessionLimiter(sessionLimitCfg, logger)
			session.NewDriver(table, registry, sessionLimiter, metricsRegistry, logger).Run(s)
		}()
	}

	reg := registrar.New(cfg.Session.RegisterPipePath, table, spawn, registrationLimiter, metricsRegistry, logger)
	if err := reg.Prepare(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create registration pipe: %v\n", err)
		return 1
	}
	go reg.Run(ctx)

	jobRunner, err := jobrunner.New(jobrunner.Config{
		Dir:        cfg.Jobs.Directory,
		MaxThreads: cfg.Jobs.MaxThreads,
		MaxBackups: cfg.Jobs.MaxBackups,
	}, kvStore, metricsRegistry, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open jobs directory: %v\n", err)
		return 1
	}

	jobsDone := make(chan error, 1)
	go func() {
		jobsDone <- jobRunner.Run(ctx, cfg.Jobs.MaxThreads)
	}()

	sysMon := sysmonitor.New()
	monitorStop := make(chan struct{})
	go sysMon.Run(monitorStop, 5*time.Second)
	defer close(monitorStop)

	httpErrCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		go func() {
			httpErrCh <- runHTTPServer(ctx, cfg, table, sysMon, metricsRegistry, logger)
		}()
	}

	logger.Info("kvsd started",
		zap.String("register_pipe", cfg.Session.RegisterPipePath),
		zap.String("jobs_directory", cfg.Jobs.Directory),
		zap.Int("max_threads", cfg.Jobs.MaxThreads),
		zap.Int("max_backups", cfg.Jobs.MaxBackups),
	)

	// The server itself never terminates on its own — spec.md's model has
	// it block on the client listener forever, the way the original
	// blocks forever in pthread_join(client_listener_thread, ...). A drained
	// jobs directory returning jobRunner.Run's initial pass (often
	// near-instant for a small or empty directory) is not a shutdown
	// signal; only an external SIGINT/SIGTERM, or a genuine job-runner
	// error, ends the process.
runLoop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			break runLoop
		case err := <-jobsDone:
			jobsDone = nil
			if err != nil {
				logger.Error("job runner error", zap.Error(err))
				stop()
			} else {
				logger.Info("job runner drained initial backlog")
			}
		case err := <-httpErrCh:
			if err != nil {
				logger.Error("metrics http server error", zap.Error(err))
			}
			stop()
		}
	}

	os.Remove(cfg.Session.RegisterPipePath)
	return 0
}

// applyCLIArgs overlays spec.md §6's positional CLI arguments onto the
// config loaded from the environment/file, when present. The CLI is
// authoritative over config defaults, matching the original source's
// argv-only interface.
func applyCLIArgs(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) < 4 {
		return fmt.Errorf("expected 4 arguments, got %d", len(args))
	}

	maxThreads, err := strconv.Atoi(args[1])
	if err != nil || maxThreads <= 0 {
		return fmt.Errorf("invalid max_threads %q", args[1])
	}
	maxBackups, err := strconv.Atoi(args[2])
	if err != nil || maxBackups <= 0 {
		return fmt.Errorf("invalid max_backups %q", args[2])
	}

	cfg.Jobs.Directory = args[0]
	cfg.Jobs.MaxThreads = maxThreads
	cfg.Jobs.MaxBackups = maxBackups
	cfg.Session.RegisterPipePath = args[3]
	return nil
}

func runHTTPServer(ctx context.Context, cfg config.Config, table *session.Table, sysMon *sysmonitor.Monitor, metricsRegistry *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := sysMon.Snapshot()
		writeJSON(w, map[string]any{
			"status":            "healthy",
			"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
			"active_sessions":   table.ActiveCount(),
			"heap_alloc_mb":     snap.HeapAllocMB,
			"sys_mb":            snap.SysMB,
			"goroutines":        snap.Goroutines,
			"cpu_percent":       snap.CPUPercent,
			"host_mem_used_pct": snap.HostMemUsedPc,
		})
	})

	mux.Handle(cfg.Metrics.Endpoint, metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
