package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/lookout/internal/archive"
	"github.com/triage-ai/lookout/internal/collector"
	"github.com/triage-ai/lookout/internal/gateway"
	"github.com/triage-ai/lookout/internal/livefeed"
	"github.com/triage-ai/lookout/internal/metrics"
	"github.com/triage-ai/lookout/internal/notify"
	"github.com/triage-ai/lookout/internal/risk"
	"github.com/triage-ai/lookout/internal/telemetry"
)

const version = "0.3.0"

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("LOOKOUT_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	gatewayURL := envOrDefault("LOOKOUT_GATEWAY_URL", "ws://127.0.0.1:18789/ws")
	clientID := envOrDefault("LOOKOUT_CLIENT_ID", "lookout-"+uuid.NewString()[:8])
	metricsPort := envOrDefault("LOOKOUT_METRICS_PORT", "9464")
	retentionDays := envOrDefaultInt("LOOKOUT_RETENTION_DAYS", metrics.DefaultRetentionDays)
	alertSeverity := risk.ParseSeverity(envOrDefault("LOOKOUT_ALERT_SEVERITY", "high"))
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")

	logger.Info("starting lookout server",
		zap.String("gateway_url", gatewayURL),
		zap.String("client_id", clientID),
		zap.String("metrics_port", metricsPort),
		zap.Int("retention_days", retentionDays),
		zap.String("alert_severity", alertSeverity.String()),
	)

	// Postgres (required)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	store := metrics.NewStore(db, logger)
	if err := store.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}
	logger.Info("postgres connected")

	// Archive — ClickHouse or LogWriter fallback
	var writer archive.AlertWriter
	if clickhouseDSN != "" {
		chWriter, err := archive.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = archive.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = archive.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Feed and collector
	feed := livefeed.New(logger, livefeed.WithAlertSeverity(alertSeverity))
	coll := collector.New(store, feed, writer, retentionDays, logger)

	// Webhook notifications, enabled when a destination URL is configured
	notifier := notify.NewManager(notify.Config{
		WebhookURL:      os.Getenv("LOOKOUT_WEBHOOK_URL"),
		SlackWebhookURL: os.Getenv("LOOKOUT_SLACK_WEBHOOK_URL"),
		MinSeverity:     risk.ParseSeverity(envOrDefault("LOOKOUT_NOTIFY_SEVERITY", "medium")),
		RateLimit:       time.Duration(envOrDefaultInt("LOOKOUT_NOTIFY_RATE_LIMIT_SECONDS", 60)) * time.Second,
	}, logger)
	defer notifier.Close()
	if notifier.Enabled() {
		feed.Notifier().OnRiskAlert(notifier.HandleAlert)
		logger.Info("webhook notifications enabled")
	}

	collCtx, stopColl := context.WithCancel(context.Background())
	defer stopColl()
	go coll.Run(collCtx)

	// Gateway client
	client := gateway.NewClient(gateway.Config{
		URL:        gatewayURL,
		ClientID:   clientID,
		ClientName: "lookout",
		Version:    version,
		Role:       "observer",
		Scopes:     []string{"events:read"},
		Token:      gateway.LoadToken(),
	}, logger)

	client.OnAnyEvent(func(evt gateway.Event) {
		feed.ProcessEvent(evt.Name, evt.Payload)
	})
	client.OnConnected(func(map[string]any) {
		telemetry.GatewayConnected.Set(1)
	})
	client.OnDisconnected(func(error) {
		telemetry.GatewayConnected.Set(0)
	})
	client.OnReconnecting(func(time.Duration) {
		telemetry.GatewayReconnectsTotal.Inc()
	})

	if err := client.Connect(); err != nil {
		// Reconnect loop is already running; first dial failing is not fatal.
		logger.Warn("initial gateway dial failed, retrying", zap.Error(err))
	}
	defer client.Disconnect()

	// Prometheus listener
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         ":" + metricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	stopColl()

	logger.Info("lookout server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
