// cmd/trendspy/main.go

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"trendspy/internal/adapter/platform"
	"trendspy/internal/adapter/storage"
	"trendspy/internal/config"
	"trendspy/internal/domain/snapshot"
	"trendspy/internal/domain/trend"
	"trendspy/internal/pkg/logger"
	"trendspy/internal/service/discovery"
	"trendspy/internal/service/watcher"
)

func main() {
	// .env is optional; environment variables win either way
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		logg.Fatalw("database init failed", "err", err)
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS, logg)
	if err != nil {
		logg.Fatalw("NATS connect failed", "err", err)
	}
	defer natsConn.Close()

	// Storage adapters share one retry policy
	retry := storage.RetryPolicy{
		MaxAttempts:     uint64(cfg.Retry.MaxAttempts),
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	snapshotStore := storage.NewSnapshotStore(db, retry)
	trendStore := storage.NewTrendStore(db, retry)
	sourceStore := storage.NewSourceStore(db, retry)

	if err := ensureSchemas(ctx, snapshotStore, trendStore, sourceStore); err != nil {
		logg.Fatalw("schema init failed", "err", err)
	}

	adapters := []discovery.SourceAdapter{
		platform.NewYouTubeFeedAdapter(nil),
	}

	clusterer := trend.NewClusterer(trend.ClusterConfig{
		RelevanceFloor:       cfg.Clustering.RelevanceFloor,
		MinMembers:           cfg.Clustering.MinMembers,
		MaxSampleMembers:     trend.DefaultClusterConfig().MaxSampleMembers,
		RisingVelocityFactor: cfg.Clustering.RisingVelocityFactor,
		RisingAccelFloor:     cfg.Clustering.RisingAccelFloor,
		GemAccelFloor:        cfg.Clustering.GemAccelFloor,
		GemMaxViews:          cfg.Clustering.GemMaxViews,
		TopicMinCount:        trend.DefaultClusterConfig().TopicMinCount,
		TopVelocityN:         trend.DefaultClusterConfig().TopVelocityN,
	})

	discoveryCfg := discovery.DefaultConfig()
	discoveryCfg.MaxAge = cfg.Discovery.MaxAge
	discoveryCfg.HistoryDepth = cfg.Discovery.HistoryDepth
	discoveryCfg.CandidateLimit = cfg.Discovery.CandidateLimit
	discoveryCfg.VelocityFloorHours = cfg.Discovery.VelocityFloorHours
	if len(cfg.Discovery.Channels) > 0 {
		discoveryCfg.Stages = discovery.ChannelStages(
			snapshot.PlatformYouTube, cfg.Discovery.Channels, cfg.Discovery.MaxPerSource)
	}

	orchestrator := discovery.NewOrchestrator(
		adapters, snapshotStore, trendStore, clusterer, discoveryCfg, logg)

	w := watcher.New(
		orchestrator,
		adapters,
		sourceStore,
		snapshotStore,
		trendStore,
		clusterer,
		natsConn,
		watcher.Config{
			DiscoveryInterval:   cfg.Watcher.DiscoveryInterval,
			MonitorInterval:     cfg.Watcher.MonitorInterval,
			AnalyzeInterval:     cfg.Watcher.AnalyzeInterval,
			EventsTopic:         cfg.Watcher.EventsTopic,
			RetentionHorizon:    cfg.Retention.Horizon,
			RateLimitCoolDown:   cfg.Watcher.RateLimitCoolDown,
			MonitorMaxPerSource: cfg.Watcher.MonitorMaxPerSource,
		},
		logg,
	)

	if err := w.Start(); err != nil {
		logg.Fatalw("watcher start failed", "err", err)
	}

	// Wait for shutdown signal
	<-shutdown
	logg.Infow("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Watcher.ShutdownTimeout)
	defer shutdownCancel()

	if err := w.Stop(shutdownCtx); err != nil {
		logg.Errorw("watcher shutdown error", "err", err)
	}

	logg.Infow("shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logg *zap.SugaredLogger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logg.Warnw("NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logg.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logg.Infow("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func ensureSchemas(ctx context.Context, stores ...schemaEnsurer) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, s := range stores {
		if err := s.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}
