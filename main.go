package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/gpuenc/cmd"
	"github.com/smazurov/gpuenc/internal/api"
	"github.com/smazurov/gpuenc/internal/capture"
	"github.com/smazurov/gpuenc/internal/config"
	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/metrics/collectors"
	"github.com/smazurov/gpuenc/internal/metrics/exporters"
	"github.com/smazurov/gpuenc/internal/nats"
	"github.com/smazurov/gpuenc/internal/systemd"
	"github.com/smazurov/gpuenc/internal/version"
)

func main() {
	// Subcommands are created before options are parsed, so they share this copy.
	shared := &config.Options{}

	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		*shared = *opts

		// Initialize logging system
		logging.Initialize(opts.LoggingConfig())
		logger := logging.GetLogger("main")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			logger.Info("Starting", "version", version.Get().Summary())
			if err := serve(ctx, opts, logger); err != nil {
				logger.Error("Server failed", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				logger.Warn("Timed out waiting for shutdown")
			}
		})
	})

	cli.Root().Use = "gpuenc"
	cli.Root().Short = "Hardware video encoder service"
	cli.Root().Version = version.Get().Summary()

	cli.Root().AddCommand(cmd.CreateCapsCmd(shared))
	cli.Root().AddCommand(cmd.CreateRunCmd(shared))
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}

// serve runs the status API until ctx is cancelled.
func serve(ctx context.Context, opts *config.Options, logger *slog.Logger) error {
	loader, err := opts.DriverLoader()
	if err != nil {
		return err
	}
	registry := driver.NewRegistry(loader, logging.GetLogger("driver"))

	// Create event bus for in-process event handling
	eventBus := events.New()

	factoryOpts, err := opts.FactoryOptions(registry)
	if err != nil {
		return err
	}
	factoryOpts.OnStateChange = capture.StatePublisher(eventBus)
	factoryOpts.OnFrameDropped = capture.DropPublisher(eventBus)
	factory := encoder.NewFactory(factoryOpts)

	// Buffered log entries are streamed to SSE clients through the bus.
	logging.SetLogCallback(func(entry logging.LogEntry) {
		eventBus.Publish(api.LogEvent(entry))
	})
	defer logging.SetLogCallback(nil)

	encCollector := collectors.NewEncoderCollector(eventBus)
	if err := encCollector.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = encCollector.Stop() }()

	driverCollector := collectors.NewDriverCollector(registry, 0)
	if err := driverCollector.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = driverCollector.Stop() }()

	apiOpts := &api.Options{
		AuthUsername:      opts.AuthUsername,
		AuthPassword:      opts.AuthPassword,
		Factory:           factory,
		EventBus:          eventBus,
		PrometheusHandler: exporters.HTTPHandler(),
	}

	natsURL, stopNATS, err := cmd.StartNATS(opts)
	if err != nil {
		return err
	}
	defer stopNATS()

	if natsURL != "" {
		bridge := nats.NewBridge(natsURL, eventBus, logging.GetLogger("nats"))
		if startErr := bridge.Start(); startErr != nil {
			logger.Warn("NATS bridge unavailable, remote sessions will not be reported", "error", startErr)
		} else {
			defer bridge.Stop()
		}

		publisher, pubErr := nats.NewControlPublisher(natsURL, logging.GetLogger("nats"))
		if pubErr != nil {
			logger.Warn("NATS control publisher unavailable, session control disabled", "error", pubErr)
		} else {
			defer publisher.Close()
			apiOpts.Controller = publisher
		}
	}

	if opts.MetricsAddr != "" {
		go func() {
			if err := exporters.Serve(ctx, opts.MetricsAddr); err != nil {
				logger.Error("Metrics listener failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
	}

	notifier := systemd.NewNotifier(nil)
	go notifier.Watchdog(ctx)

	// Log levels follow edits to the config file without a restart.
	if watcher, watchErr := config.WatchLogging(opts.Config); watchErr != nil {
		logger.Warn("Failed to start config watcher, log level reload disabled", "error", watchErr)
	} else {
		defer func() { _ = watcher.Stop() }()
		watcher.OnReload(func(cfg logging.Config) {
			notifier.Status("log level " + cfg.Level)
		})
	}

	server := api.NewServer(apiOpts)

	go func() {
		<-ctx.Done()
		notifier.Stopping()
		logger.Info("Shutting down server")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if stopErr := server.Stop(stopCtx); stopErr != nil {
			logger.Error("Error stopping HTTP server", "error", stopErr)
		}
	}()

	logger.Info("Starting HTTP server", "addr", opts.Addr)
	notifier.Ready()
	if startErr := server.Start(opts.Addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
		return startErr
	}
	return nil
}
