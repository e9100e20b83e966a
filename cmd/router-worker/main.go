package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/config"
	"github.com/kiscz/mcrouter/internal/configbuilder"
	"github.com/kiscz/mcrouter/internal/configsnapshot"
	"github.com/kiscz/mcrouter/internal/pipeline"
	"github.com/kiscz/mcrouter/internal/routehandle"
	"github.com/kiscz/mcrouter/internal/runtimevars"
	"github.com/kiscz/mcrouter/internal/shadowing"
	"github.com/kiscz/mcrouter/internal/stats"
	"github.com/kiscz/mcrouter/internal/worker"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting router worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("worker_id", cfg.WorkerID),
	)
	logger.Info("configuration loaded", zap.String("config", cfg.String()))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	sink := stats.NewSink()

	table := backend.NewTable()
	rvStore := runtimevars.NewStore()

	cell := configsnapshot.NewCell(&configsnapshot.Snapshot{
		Routes:         map[string]*routehandle.ProxyRoute{},
		DefaultPrefix:  "",
		Pools:          map[string]*backend.Pool{},
		ShadowPolicies: map[string]*shadowing.Policy{},
		Table:          table,
	})
	serviceInfo := configsnapshot.NewServiceInfo(cell, sink)

	builder := configbuilder.NewBuilder(table, sink, rvStore, cfg.DefaultRoute, logger)

	pipe := pipeline.NewPipeline(cell, sink, serviceInfo, cfg.ProxyMaxInflightRequests)

	w := worker.NewWorker(worker.Config{
		ID:                    cfg.WorkerID,
		QueueSize:             cfg.RequestQueueSize,
		Pipeline:              pipe,
		Cell:                  cell,
		Stats:                 sink,
		Table:                 table,
		Logger:                logger,
		RTTFlushInterval:      cfg.RTTFlushInterval,
		BackendSweepInterval:  cfg.BackendSweepInterval,
		ResetInactiveInterval: cfg.ResetInactiveConnectionInterval,
	})

	reloader := configbuilder.NewReloader(sink)
	reloader.Register(builder, w)

	initialRaw, err := loadInitialConfig(cfg)
	if err != nil {
		logger.Fatal("failed to load initial config", zap.Error(err))
	}
	if err := reloader.Reload(initialRaw); err != nil {
		logger.Fatal("failed to build initial config snapshot", zap.Error(err))
	}
	logger.Info("initial config snapshot loaded")

	rvSubscriber := runtimevars.NewRedisSubscriber(redisClient, cfg.RuntimeVarsChannel, rvStore, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	go w.Run()
	go func() {
		if err := rvSubscriber.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("runtime-vars subscriber stopped", zap.Error(err))
		}
	}()
	go runConfigReloadSubscriber(workerCtx, redisClient, cfg.ConfigChannel, reloader, logger)

	healthServer := worker.NewHealthServer(cfg.HealthPort, redisClient, sink, logger)
	if err := healthServer.Start(); err != nil {
		logger.Fatal("failed to start health server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("router worker running, press Ctrl+C to stop")
	<-sigChan
	logger.Info("shutdown signal received, stopping worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	workerCancel()

	if err := healthServer.Stop(); err != nil {
		logger.Error("failed to stop health server", zap.Error(err))
	}

	w.Stop()

	if err := redisClient.Close(); err != nil {
		logger.Error("failed to close redis connection", zap.Error(err))
	}

	select {
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	default:
		logger.Info("worker stopped gracefully")
	}
}

// runConfigReloadSubscriber pumps the control-plane's config-reload
// channel into reloader.Reload, using Redis pub/sub in place of a
// zookeeper or file watch as the config-push transport.
func runConfigReloadSubscriber(ctx context.Context, client *redis.Client, channel string, reloader *configbuilder.Reloader, logger *zap.Logger) {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := reloader.Reload([]byte(msg.Payload)); err != nil {
				logger.Warn("config reload failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			logger.Info("config reloaded")
		}
	}
}

// loadInitialConfig reads the config blob from cfg.ConfigFilePath, or
// falls back to a minimal single-pool bootstrap config covering
// cfg.DefaultRoute so the worker comes up serving something even
// before the control plane pushes its first real config.
func loadInitialConfig(cfg *config.Config) ([]byte, error) {
	if cfg.ConfigFilePath != "" {
		data, err := os.ReadFile(cfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", cfg.ConfigFilePath, err)
		}
		return data, nil
	}

	bootstrap := map[string]interface{}{
		"default_route": cfg.DefaultRoute,
		"pools": map[string]interface{}{
			"bootstrap": map[string]interface{}{
				"kind":    "regular",
				"servers": []string{"127.0.0.1:11211"},
			},
		},
		"routes": map[string]interface{}{
			cfg.DefaultRoute: map[string]interface{}{"pool": "bootstrap"},
		},
	}
	return json.Marshal(bootstrap)
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zcfg.Build()
}
