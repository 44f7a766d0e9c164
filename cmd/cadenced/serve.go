package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/cadence/internal/catalog"
	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/decision"
	"github.com/fyrsmithlabs/cadence/internal/events"
	"github.com/fyrsmithlabs/cadence/internal/executor"
	cadencehttp "github.com/fyrsmithlabs/cadence/internal/http"
	"github.com/fyrsmithlabs/cadence/internal/kvstore"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/maintenance"
	"github.com/fyrsmithlabs/cadence/internal/oracle"
	"github.com/fyrsmithlabs/cadence/internal/phasequeue"
	"github.com/fyrsmithlabs/cadence/internal/scheduler"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/telemetry"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	meterName      = "github.com/fyrsmithlabs/cadence"
	recorderSize   = 200
	fallbackAction = "noop"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Startup order:
//  1. Configuration, logging, telemetry
//  2. Storage (SQLite), summaries, budget, event bus
//  3. Template catalog and decision engine (oracle when an API key is set)
//  4. Executor, action and runner registries, phase queue
//  5. Tracker and scheduler, catalog watcher, HTTP server
func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting cadenced",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	templates, err := loadTemplates(cfg)
	if err != nil {
		return err
	}

	engine, err := newDecisionEngine(cfg, templates, deps, tel, zl)
	if err != nil {
		return fmt.Errorf("failed to create decision engine: %w", err)
	}

	exec := executor.NewLocal(zl,
		executor.WithQueueSize(cfg.Scheduler.QueueSize),
		executor.WithLogSize(cfg.Scheduler.WorkHistory),
	)
	if err := exec.Start(ctx); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}
	defer exec.Stop()

	actions := phasequeue.NewFuncRegistry()
	aliasMissingActions(actions, templates, zl)

	runners, err := newRunners(ctx, cfg, deps.kv, zl)
	if err != nil {
		return err
	}

	queue := phasequeue.NewManager(zl,
		phasequeue.WithMaxPerPhase(cfg.Scheduler.MaxPerPhase),
		phasequeue.WithDispatchHistory(cfg.Scheduler.DispatchHistory),
		phasequeue.WithEngine(exec),
		phasequeue.WithActions(actions),
		phasequeue.WithRunner(runners),
		phasequeue.WithEventBus(deps.bus),
	)

	tracker, err := dayphase.NewTracker(zl,
		dayphase.WithWindows(cfg.Phases.Windows()),
		dayphase.WithPollInterval(cfg.Scheduler.PollInterval.Duration()),
		dayphase.WithBackoff(cfg.Scheduler.Backoff.Duration()),
		dayphase.WithEventBus(deps.bus),
	)
	if err != nil {
		return fmt.Errorf("failed to create phase tracker: %w", err)
	}

	// The scheduler is the queue's lifecycle hook and persists summaries
	// for everything the queue runs.
	sched, err := scheduler.New(engine, tracker, queue, zl,
		scheduler.WithSummaries(deps.summaries),
		scheduler.WithEventBus(deps.bus),
		scheduler.WithMinPlanBudget(cfg.Scheduler.MinPlanBudget),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval.Duration()),
		scheduler.WithHistorySize(cfg.Scheduler.WorkHistory),
		scheduler.WithEngineBusy(exec.Busy),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			zl.Warn("scheduler stop failed", zap.Error(err))
		}
	}()

	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		watcher, err := catalog.NewWatcher(cfg.Catalog.Path, func(ts []*workunit.Template) {
			if err := engine.SetTemplates(ts); err != nil {
				zl.Error("rejected reloaded catalog", zap.Error(err))
				return
			}
			aliasMissingActions(actions, ts, zl)
		}, zl)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			zl.Warn("catalog hot reload disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := cadencehttp.NewServer(sched, deps.summaries, zl, &cadencehttp.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		zl.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}

// dependencies holds the storage and messaging infrastructure.
type dependencies struct {
	kv        kvstore.Store
	summaries *summary.Store
	budget    *summary.DailyBudget
	bus       events.Bus
	nats      *events.NATSBus
	logger    *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.nats != nil {
		if err := d.nats.Close(); err != nil {
			d.logger.Warn("nats close failed", zap.Error(err))
		}
	}
	if d.kv != nil {
		if err := d.kv.Close(); err != nil {
			d.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	path, err := config.ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	kv, err := kvstore.OpenSQLite(path, logger)
	if err != nil {
		return nil, err
	}
	deps := &dependencies{kv: kv, logger: logger}

	deps.summaries, err = summary.NewStore(kv, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	limits, err := cfg.BudgetLimits()
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.budget, err = summary.NewDailyBudget(deps.summaries, limits, time.Now)
	if err != nil {
		deps.Close()
		return nil, err
	}

	recorder := events.NewRecorder(recorderSize)
	deps.bus = recorder
	if cfg.NATS.Enabled {
		nb, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			// Events are informational; the scheduler runs without them.
			logger.Warn("nats unavailable, events stay in-process",
				zap.String("url", cfg.NATS.URL),
				zap.Error(err),
			)
		} else {
			deps.nats = nb
			deps.bus = events.Tee{recorder, nb}
			logger.Info("publishing events to nats",
				zap.String("url", cfg.NATS.URL),
				zap.String("prefix", cfg.NATS.SubjectPrefix),
			)
		}
	}

	logger.Info("dependencies initialized",
		zap.String("storage", path),
		zap.Bool("nats_connected", deps.nats != nil),
	)
	return deps, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.Output.OTEL = cfg.Logging.OTEL
	lcfg.Sampling.Enabled = level > zapcore.DebugLevel
	return logging.NewLogger(lcfg, global.GetLoggerProvider())
}

func loadTemplates(cfg *config.Config) ([]*workunit.Template, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	templates, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return templates, nil
}

func newDecisionEngine(cfg *config.Config, templates []*workunit.Template, deps *dependencies, tel *telemetry.Telemetry, logger *zap.Logger) (*decision.Engine, error) {
	kvctx := decision.NewKVContext(deps.kv)
	opts := []decision.EngineOption{
		decision.WithBudgetReader(deps.budget),
		decision.WithStateReader(kvctx),
		decision.WithGrowthReader(kvctx),
		decision.WithCuriosityReader(kvctx),
		decision.WithIdentityReader(kvctx),
		decision.WithTopK(cfg.Scheduler.TopK),
		decision.WithHistorySize(cfg.Scheduler.DecisionHistory),
	}

	m, err := decision.NewMetrics(tel.Meter(meterName))
	if err != nil {
		logger.Warn("decision metrics unavailable", zap.Error(err))
	} else {
		opts = append(opts, decision.WithMetrics(m))
	}

	orc, err := newOracle(cfg.Oracle, logger)
	if err != nil {
		return nil, err
	}
	if orc != nil {
		opts = append(opts, decision.WithOracle(orc))
	}
	return decision.NewEngine(templates, logger, opts...)
}

// newOracle returns nil when no API key is configured; the engine then
// always picks its top-scored candidate.
func newOracle(cfg config.OracleConfig, logger *zap.Logger) (decision.Oracle, error) {
	if !cfg.APIKey.IsSet() {
		logger.Info("no oracle api key configured, using scored fallback")
		return nil, nil
	}
	completer, err := oracle.NewCompleter(oracle.Config{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey.Value(),
		Timeout:    cfg.Timeout.Duration(),
		MaxTokens:  cfg.MaxTokens,
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle completer: %w", err)
	}
	logger.Info("oracle enabled",
		zap.String("provider", cfg.Provider),
		logging.Secret("api_key", cfg.APIKey),
	)
	o, err := oracle.New(completer, logger)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newRunners(ctx context.Context, cfg *config.Config, kv kvstore.Store, logger *zap.Logger) (*phasequeue.RunnerRegistry, error) {
	task, err := maintenance.NewContradictionTask(
		maintenance.NewKVSource(kv, cfg.Maintenance.ContradictionPrefix),
		kv,
		logger,
		maintenance.WithInterval(cfg.Maintenance.ContradictionInterval.Duration()),
		maintenance.WithLimit(cfg.Maintenance.ContradictionLimit),
	)
	if err != nil {
		return nil, err
	}
	if err := task.Load(ctx); err != nil {
		logger.Warn("contradiction task state unavailable", zap.Error(err))
	}
	runners := phasequeue.NewRunnerRegistry()
	runners.Register(maintenance.ContradictionRunnerKey, task.Run)
	return runners, nil
}

// aliasMissingActions maps catalog actions with no registered
// implementation onto the noop action, so their units complete instead of
// failing every step.
func aliasMissingActions(actions *phasequeue.FuncRegistry, templates []*workunit.Template, logger *zap.Logger) {
	for _, id := range catalog.ActionIDs(templates) {
		if actions.Has(id) {
			continue
		}
		if err := actions.Alias(id, fallbackAction); err != nil {
			logger.Error("failed to alias action", zap.String("action", id), zap.Error(err))
			continue
		}
		logger.Debug("action has no implementation, using noop", zap.String("action", id))
	}
}
