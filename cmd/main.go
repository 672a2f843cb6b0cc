package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/api"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/config"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/feedback"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/trust"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/voter"
)

const (
	loadTimeout     = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Parse command-line flags
	var (
		configPath  = flag.String("config", "config/config.yaml", "Path to the configuration file")
		apiPort     = flag.Int("port", 0, "Port for the fusion API (overrides config)")
		metricsPort = flag.Int("metrics-port", 0, "Port for Prometheus metrics (overrides config)")
	)
	flag.Parse()

	// Initialize logging (zap) from environment.
	if _, err := logging.InitLoggerFromEnv(); err != nil {
		// Fallback to stderr since logger initialization failed
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}

	cfg := loadConfig(*configPath)
	if *apiPort != 0 {
		cfg.API.Port = *apiPort
	}
	if *metricsPort != 0 {
		cfg.Metrics.Port = *metricsPort
	}

	// Storage: both stores share the backend; metric records go through
	// the async writer so no hot path ever blocks on persistence.
	metricsStore, err := store.NewMetricsStore(cfg.Store)
	if err != nil {
		logging.Fatalf("Failed to create performance store: %v", err)
	}
	trainingStore, err := store.NewTrainingStore(cfg.Store)
	if err != nil {
		logging.Fatalf("Failed to create training store: %v", err)
	}

	writer := store.NewAsyncWriter(metricsStore, cfg.Store.Backend, cfg.Store.Writer)
	writer.Start()

	// Fusion core.
	perfTracker := tracker.New(cfg.Tracker, writer)
	if metricsStore.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		if err := perfTracker.Load(ctx, metricsStore); err != nil {
			logging.Warnf("Could not restore tracker state, starting fresh: %v", err)
		}
		cancel()
	}

	trustManager := trust.NewManager(cfg.Trust)
	ensembleVoter := voter.New(cfg.Voter, perfTracker, trustManager, writer)

	// The incremental trainer is an external collaborator; without one
	// attached the learning queue stays empty and corrections still feed
	// trust updates, patterns, and the training store.
	feedbackProcessor := feedback.New(cfg.Feedback, perfTracker, trainingStore, nil, writer)

	// Start metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		logging.Infof("Starting metrics server on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logging.Errorf("Metrics server error: %v", err)
		}
	}()

	// Periodic trust-weight snapshots give the store an audit trail of
	// trust evolution even between outcomes.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Snapshot.Schedule, perfTracker.SnapshotTrustWeights); err != nil {
		logging.Errorf("Invalid snapshot schedule %q, snapshots disabled: %v", cfg.Snapshot.Schedule, err)
	} else {
		scheduler.Start()
		logging.Infof("Trust weight snapshots scheduled (%s)", cfg.Snapshot.Schedule)
	}

	apiServer := api.New(cfg.API, perfTracker, trustManager, ensembleVoter, feedbackProcessor, metricsStore)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Infof("Received %s, shutting down", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logging.Errorf("API shutdown error: %v", err)
		}
	}()

	if err := apiServer.Start(); err != nil {
		logging.Fatalf("API server error: %v", err)
	}

	// Drain in dependency order: producers first, then the writer, then
	// the stores underneath it.
	scheduler.Stop()
	feedbackProcessor.Close()
	writer.Stop()
	if err := trainingStore.Close(); err != nil {
		logging.Errorf("Training store close error: %v", err)
	}
	if err := metricsStore.Close(); err != nil {
		logging.Errorf("Performance store close error: %v", err)
	}
	logging.Infof("Shutdown complete")
	_ = logging.Sync()
}

// loadConfig reads the config file, falling back to defaults when the
// file does not exist. A file that exists but fails to parse is fatal.
func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Warnf("Config file %s not found, using defaults", path)
		return config.Default()
	}

	cfg, err := config.Load(path)
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}
	logging.Infof("Loaded configuration from %s", path)
	return cfg
}
