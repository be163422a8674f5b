package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/adwd/internal/admission"
	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/api"
	"github.com/zjrosen/adwd/internal/config"
	"github.com/zjrosen/adwd/internal/dispatch"
	"github.com/zjrosen/adwd/internal/flags"
	"github.com/zjrosen/adwd/internal/github"
	"github.com/zjrosen/adwd/internal/history"
	"github.com/zjrosen/adwd/internal/hub"
	"github.com/zjrosen/adwd/internal/infrastructure/sqlite"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/paths"
	"github.com/zjrosen/adwd/internal/pubsub"
	"github.com/zjrosen/adwd/internal/tracing"
	"github.com/zjrosen/adwd/internal/watcher"
	"github.com/zjrosen/adwd/internal/webhook"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the orchestrator daemon",
	Long: `Run the orchestrator as a long-lived daemon exposing the HTTP API.

The daemon ingests webhook deliveries, dispatches admitted workflow commands,
indexes workflow state into the history database, supervises the configured
sidecar services, and streams live updates over WebSocket topics.

Example:
  adwd daemon              # Listen on the configured address (default 127.0.0.1:8001)
  adwd daemon --port 9000  # Override the listen port
  adwd daemon --port 0     # Let the OS pick an ephemeral port`,
	RunE: runDaemon,
}

var daemonPort int

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().IntVar(&daemonPort, "port", 0, "Listen port (overrides config)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	// Resolve every path up front so validation and wiring see final
	// values. The environment overrides arrive through viper bindings;
	// ResolveStateRoot handles the no-config case.
	cfg.State.Root = paths.ResolveStateRoot(cfg.State.Root)
	cfg.State.WorktreeRoot = paths.ExpandHome(cfg.WorktreeRootFor())
	cfg.History.DBPath = paths.ResolveDBPath(cfg.History.DBPath, cfg.State.Root)
	if cfg.Runner.BinDir != "" {
		cfg.Runner.BinDir = paths.ExpandHome(cfg.Runner.BinDir)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.State.Root, 0o750); err != nil {
		return fmt.Errorf("creating state root: %w", err)
	}

	logPath := os.Getenv("ADWD_LOG")
	if logPath == "" {
		logPath = filepath.Join(cfg.State.Root, "adwd.log")
	}
	level := log.LevelInfo
	if debugFlag || os.Getenv("ADWD_DEBUG") != "" {
		level = log.LevelDebug
	}
	if name := os.Getenv("ADWD_LOG_LEVEL"); name != "" {
		level = log.ParseLevel(name)
	}
	cleanup, err := log.InitWithLevel(logPath, level)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()

	// In debug mode mirror log entries to stderr so a foreground run is
	// observable without tailing the log file.
	if level == log.LevelDebug {
		echoCtx, stopEcho := context.WithCancel(context.Background())
		defer stopEcho()
		entries := log.Subscribe(echoCtx)
		log.SafeGo("stderr-log-echo", func() {
			for {
				event, ok := pubsub.Next(echoCtx, entries)
				if !ok {
					return
				}
				fmt.Fprint(os.Stderr, event.Payload)
			}
		})
	}

	log.Info(log.CatConfig, "adwd daemon starting",
		"version", version, "state_root", cfg.State.Root, "db_path", cfg.History.DBPath)

	// First run: leave a commented config template for the operator. The
	// current run already carries the same values as defaults.
	if viper.ConfigFileUsed() == "" && cfgFile == "" {
		if err := config.WriteDefaultConfig(userConfigPath()); err != nil {
			log.Warn(log.CatConfig, "could not write default config", "error", err)
		}
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = daemonPort
	}

	d, err := buildDaemon(&cfg)
	if err != nil {
		return err
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Start()
	}()

	fmt.Printf("adwd daemon started on port %d\n", d.server.Port())
	fmt.Println("Press Ctrl+C to stop")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil {
			d.shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.shutdown(shutdownCtx)

	fmt.Println("Daemon stopped")
	return nil
}

// daemon holds the running components so shutdown can walk them in order.
type daemon struct {
	server   *api.Server
	hub      *hub.Hub
	watchers *hub.WatcherSet
	fsw      *watcher.Watcher
	syncer   *history.Syncer
	services *dispatch.ServiceSupervisor
	db       *sqlite.DB
	tracing  *tracing.Provider
	cancel   context.CancelFunc
}

// buildDaemon wires every component from the resolved configuration and
// starts the background machinery. The HTTP listener is bound but not yet
// serving when it returns.
func buildDaemon(cfg *config.Config) (*daemon, error) {
	stateRoot := cfg.State.Root

	tracingCfg := cfg.Tracing
	if tracingCfg.FilePath == "" {
		tracingCfg.FilePath = config.DefaultTracesFilePath()
	}
	provider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	log.Debug(log.CatConfig, "tracing initialized",
		"enabled", provider.Enabled(), "exporter", tracingCfg.Exporter)

	catalog, err := adw.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading workflow catalog: %w", err)
	}

	db, err := sqlite.NewDB(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	repo := db.HistoryRepository()

	featureFlags := flags.New(cfg.Flags)

	var oracle admission.QuotaOracle
	if cfg.Quota.Command != "" {
		oracle = admission.NewExecOracle(cfg.Quota.Command,
			time.Duration(cfg.Quota.TimeoutSeconds)*time.Second)
	}
	controller := admission.NewController(admission.Config{
		Catalog:              catalog,
		Oracle:               oracle,
		StateRoot:            stateRoot,
		WorktreeRoot:         cfg.State.WorktreeRoot,
		MaxWorktrees:         cfg.State.MaxWorktrees,
		DiskThresholdPercent: cfg.State.DiskThresholdPercent,
	})

	grace := time.Duration(cfg.Runner.StopGraceSeconds) * time.Second
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		StateRoot:   stateRoot,
		BinDir:      cfg.Runner.BinDir,
		GracePeriod: grace,
	})
	services := dispatch.NewServiceSupervisor(serviceSpecs(cfg.Services), grace)

	var classifier adw.Classifier
	if classifierActive(cfg.Classifier, featureFlags) {
		classifier = webhook.NewCachingClassifier(
			webhook.NewExecClassifier(cfg.Classifier.Command,
				time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second),
			webhook.DefaultClassifyCacheTTL)
	}

	stats := webhook.NewStats(cfg.Webhook.StatsRingSize)
	ingestor := webhook.NewIngestor(webhook.Config{
		Admission:  controller,
		Dispatcher: dispatcher,
		Commenter:  github.NewCLIClient("", ""),
		Classifier: classifier,
		Catalog:    catalog,
		Stats:      stats,
		Tracer:     provider.Tracer(),
	})

	// One fsnotify watcher feeds every filesystem-backed consumer through
	// the nudge broker: the hub's live topics, the dynamic adw-state
	// watchers, and the history syncer.
	stateNudge := pubsub.NewBroker[struct{}]()
	fsw, err := watcher.New(watcher.DefaultConfig(stateRoot))
	if err != nil {
		return nil, fmt.Errorf("creating state watcher: %w", err)
	}
	changes, err := fsw.Start()
	if err != nil {
		return nil, fmt.Errorf("watching state root: %w", err)
	}
	log.SafeGo("state-nudge-fan", func() {
		for range changes {
			stateNudge.Publish(pubsub.UpdatedEvent, struct{}{})
		}
	})

	nudgeCtx, cancel := context.WithCancel(context.Background())

	syncEvents := pubsub.NewBroker[history.SyncSummary]()
	syncer := history.NewSyncer(history.Config{
		StateRoot: stateRoot,
		Interval:  time.Duration(cfg.History.SyncIntervalSeconds) * time.Second,
		Repo:      repo,
		Events:    syncEvents,
		Nudge:     hub.NudgeChan(nudgeCtx, stateNudge),
		Tracer:    provider.Tracer(),
	})

	registry := dispatcher.Registry()
	live := hub.NewWorkflowsSource(stateRoot, registry)
	sources := hub.NewSources()
	sources.Register(hub.TopicWorkflows, live)
	sources.Register(hub.TopicQueue, hub.NewQueueSource(stateRoot, registry))
	sources.Register(hub.TopicADWMonitor, hub.NewMonitorSource(stateRoot, registry))
	sources.Register(hub.TopicWorkflowHistory, hub.NewHistorySource(repo, 0))
	sources.Register(hub.TopicSystemStatus, hub.NewSystemStatusSource(controller, services, registry))
	sources.Register(hub.TopicWebhookStatus, hub.NewWebhookStatusSource(stats))
	sources.Register(hub.TopicPlannedFeatures, hub.NewPlannedFeaturesSource(stateRoot))
	sources.Register(hub.TopicRoutes, hub.StaticSource(api.RouteTable()))
	sources.RegisterADWState(hub.NewADWStateSource(stateRoot))

	h := hub.New(hub.Config{
		Sources:         sources,
		QueueSize:       cfg.Hub.SendQueueSize,
		MaxSendFailures: cfg.Hub.MaxSendFailures,
		StateNudge:      stateNudge,
	})

	watchers := hub.NewWatcherSet(h, map[hub.Topic]<-chan struct{}{
		hub.TopicWorkflows:       hub.NudgeChan(nudgeCtx, stateNudge),
		hub.TopicQueue:           hub.NudgeChan(nudgeCtx, stateNudge),
		hub.TopicADWMonitor:      hub.NudgeChan(nudgeCtx, stateNudge),
		hub.TopicWorkflowHistory: syncNudge(nudgeCtx, syncEvents),
	})

	handler := api.NewHandler(api.Config{
		Ingestor:   ingestor,
		Stats:      stats,
		Admission:  controller,
		Dispatcher: dispatcher,
		Services:   services,
		Catalog:    catalog,
		Classifier: classifier,
		Repo:       repo,
		Syncer:     syncer,
		Hub:        h,
		Live:       live,
		DB:         db.Connection(),
		StateRoot:  stateRoot,
	})

	server, err := api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Handler: handler,
		Tracer:  provider.Tracer(),
	})
	if err != nil {
		cancel()
		_ = fsw.Stop()
		_ = db.Close()
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	// Warm the index before the background loop takes over, so the first
	// history query after boot already sees every state file.
	if cfg.History.SyncOnStart {
		if _, err := syncer.Sync(context.Background()); err != nil {
			log.ErrorErr(log.CatHistory, "startup sync failed", err)
		}
		if featureFlags.Enabled(flags.FlagCostResync) {
			if _, err := syncer.Resync(context.Background()); err != nil {
				log.ErrorErr(log.CatHistory, "startup cost resync failed", err)
			}
		}
	}
	if cfg.History.SyncIntervalSeconds > 0 {
		syncer.Start()
	}

	watchers.Start()

	if featureFlags.Enabled(flags.FlagSidecarServices) {
		startSidecars(services, cfg.Services)
	}

	return &daemon{
		server:   server,
		hub:      h,
		watchers: watchers,
		fsw:      fsw,
		syncer:   syncer,
		services: services,
		db:       db,
		tracing:  provider,
		cancel:   cancel,
	}, nil
}

// shutdown walks the components in dependency order: stop accepting HTTP,
// drop subscribers, halt the pollers and the sync loop, then release the
// child processes, database, and trace exporter.
func (d *daemon) shutdown(ctx context.Context) {
	if err := d.server.Stop(ctx); err != nil {
		log.ErrorErr(log.CatServer, "error stopping API server", err)
	}
	d.hub.Close()
	d.watchers.Stop()
	d.cancel()
	if err := d.fsw.Stop(); err != nil {
		log.ErrorErr(log.CatWatcher, "error stopping state watcher", err)
	}
	d.syncer.Stop()
	d.services.StopAll()
	if err := d.db.Close(); err != nil {
		log.ErrorErr(log.CatDB, "error closing history database", err)
	}
	if err := d.tracing.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatConfig, "error shutting down tracing", err)
	}
}

// serviceSpecs maps the config's sidecar definitions onto supervisor specs.
// Disabled services keep their spec so a manual start through the API works;
// only auto-start honors Enabled.
func serviceSpecs(services config.ServicesConfig) map[dispatch.ServiceName]dispatch.ServiceSpec {
	specs := make(map[dispatch.ServiceName]dispatch.ServiceSpec)
	if services.Webhook.Command != "" {
		args := append([]string{}, services.Webhook.Args...)
		if services.Webhook.Port > 0 {
			args = append(args, "--port", strconv.Itoa(services.Webhook.Port))
		}
		specs[dispatch.ServiceWebhook] = dispatch.ServiceSpec{
			Command:  services.Webhook.Command,
			Args:     args,
			TokenEnv: services.Webhook.TokenEnv,
		}
	}
	if services.Tunnel.Command != "" {
		specs[dispatch.ServiceTunnel] = dispatch.ServiceSpec{
			Command:  services.Tunnel.Command,
			Args:     append([]string{}, services.Tunnel.Args...),
			TokenEnv: services.Tunnel.TokenEnv,
		}
	}
	return specs
}

// classifierActive decides whether the slow-path classifier is wired. The
// config section turns it on directly; the rollout flag can force it on for
// a config that predates the section. Either way a command is required.
func classifierActive(cc config.ClassifierConfig, reg *flags.Registry) bool {
	if cc.Command == "" {
		return false
	}
	return cc.Enabled || reg.Enabled(flags.FlagClassifierFallback)
}

// startSidecars boots every enabled sidecar. A failed start is logged and
// skipped; the service API can retry it later.
func startSidecars(sup *dispatch.ServiceSupervisor, services config.ServicesConfig) {
	enabled := map[dispatch.ServiceName]bool{
		dispatch.ServiceWebhook: services.Webhook.Enabled,
		dispatch.ServiceTunnel:  services.Tunnel.Enabled,
	}
	for name, on := range enabled {
		if !on {
			continue
		}
		if err := sup.Start(name); err != nil {
			log.ErrorErr(log.CatService, "failed to start sidecar", err, "service", string(name))
		}
	}
}

// syncNudge adapts sync-pass events into a watcher nudge so the
// workflow-history topic refreshes right after rows change.
func syncNudge(ctx context.Context, broker *pubsub.Broker[history.SyncSummary]) <-chan struct{} {
	out := make(chan struct{}, 1)
	events := broker.Subscribe(ctx)
	log.SafeGo("history-nudge-fan", func() {
		for range events {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	})
	return out
}
