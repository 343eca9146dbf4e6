package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/fluentops/internal/adapters/http/api"
	"github.com/okian/fluentops/internal/adapters/http/swagger"
	"github.com/okian/fluentops/internal/adapters/repository"
	service "github.com/okian/fluentops/internal/app"
	"github.com/okian/fluentops/internal/config"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// HTTP server timeout constants. WriteTimeout is left unset on the server
// because event streams outlive any fixed deadline; the stream handler clears
// its own deadline and every other handler is short.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitWith(os.Stdout, logger.Format(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()
	applyLogLevel(ctx, log, cfg.LogLevel)

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(svc),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, svc)
		return nil
	})

	// Only the log level is reloaded at runtime; everything else needs a restart.
	err = config.Watch(gctx, func(next *config.Config) {
		log.Info(gctx, "configuration reloaded", logger.String("log_level", next.LogLevel))
		applyLogLevel(gctx, log, next.LogLevel)
	}, func(werr error) {
		log.Warn(gctx, "configuration reload rejected", logger.Error(werr))
	})
	if err != nil {
		log.Warn(ctx, "config watch disabled", logger.Error(err))
	}

	err = g.Wait()
	log.Info(context.WithoutCancel(ctx), "server stopped")
	return err
}

// applyLogLevel sets the level, falling back to info on invalid input.
func applyLogLevel(ctx context.Context, log logger.Logger, level string) {
	if err := logger.SetLevelString(level); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
}

// buildService opens the configured store and backend and creates the
// service. The service owns the store from here on.
func buildService(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	var store repository.Store
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := repository.OpenSQLite(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		store = s
	default:
		store = repository.NewMemoryStore()
	}

	backend, name, err := service.NewBackend(ctx, service.BackendConfig{
		Provider:      cfg.AIProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		Model:         cfg.ModelName,
		Temperature:   float32(cfg.AITemperature),
		MockMinDelay:  ms(cfg.MockLatencyMinMS),
		MockMaxDelay:  ms(cfg.MockLatencyMaxMS),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	return service.New(
		service.WithLogger(logger.Get()),
		service.WithStore(store),
		service.WithCapability(backend, name),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithRunTimeout(ms(cfg.RunTimeoutMS)),
		service.WithPollBounds(ms(cfg.StreamMinPollMS), ms(cfg.StreamMaxPollMS)),
		service.WithStreamBatchSize(cfg.StreamBatchSize),
		service.WithPageSizes(cfg.ListPageSize, cfg.MaxListPageSize),
		service.WithDedupeSize(cfg.CreditDedupeSize),
		service.WithSeedCredits(cfg.SeedCredits),
	), nil
}

// newHandler registers the API and its documentation on a fresh mux.
func newHandler(svc *service.Service) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc).Register(mux)
	return mux
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// startSystemMetricsUpdater updates system metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater mirrors the service's stats into gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	stats := svc.GetStats(ctx)
	metrics.UpdateQueueSize(stats.QueueLength)
	metrics.UpdateQueueCapacity(stats.QueueCapacity)
	metrics.UpdateWorkerCount(stats.Workers)
}
