// Command server runs the security telemetry service: token authority,
// audit trail, anomaly detection, alert governance, export, and retention.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"vigil/internal/alert"
	alerthandler "vigil/internal/alert/handler"
	alertmetrics "vigil/internal/alert/metrics"
	"vigil/internal/audit"
	auditmetrics "vigil/internal/audit/metrics"
	"vigil/internal/auth"
	authhandler "vigil/internal/auth/handler"
	authmetrics "vigil/internal/auth/metrics"
	"vigil/internal/export"
	exporthandler "vigil/internal/export/handler"
	exportmetrics "vigil/internal/export/metrics"
	vigilhttp "vigil/internal/http"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	platformredis "vigil/internal/platform/redis"
	"vigil/internal/registry"
	"vigil/internal/retention"
	retentionhandler "vigil/internal/retention/handler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event store: Postgres when configured, in-process otherwise.
	var (
		store audit.Store
		db    *sql.DB
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		store = audit.NewPostgres(db)
		log.Info("event store: postgres")
	} else {
		store = audit.NewInMemoryStore()
		log.Warn("event store: in-memory, events are lost on restart")
	}

	// Registry: Redis when configured, in-process otherwise.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var reg registry.Store
	if redisClient != nil {
		defer redisClient.Close()
		reg = registry.NewRedis(redisClient.Client, "vigil:registry:")
		log.Info("registry store: redis")
	} else {
		reg = registry.NewInMemory()
		log.Warn("registry store: in-memory, revocations are lost on restart")
	}

	am := auditmetrics.New()
	recorder, err := audit.NewRecorder(store, audit.WithLogger(log), audit.WithMetrics(am))
	if err != nil {
		return err
	}
	detector, err := audit.NewDetector(store, cfg.Anomaly.Thresholds, audit.WithDetectorMetrics(am))
	if err != nil {
		return err
	}

	directory := auth.NewInMemoryDirectory()
	if err := seedAdmin(directory, log); err != nil {
		return err
	}
	authority, err := auth.New(cfg.Token, directory, reg, recorder,
		auth.WithLogger(log), auth.WithMetrics(authmetrics.New()))
	if err != nil {
		return err
	}

	governorOpts := []alert.Option{
		alert.WithLogger(log),
		alert.WithMetrics(alertmetrics.New()),
	}
	var sink *alert.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err = alert.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer sink.Close()
		governorOpts = append(governorOpts, alert.WithSink(sink))
		log.Info("alert feed: kafka", "topic", cfg.Kafka.AlertTopic)
	}
	governor, err := alert.NewGovernor(alert.NewInMemoryStore(), reg, recorder, cfg.Alert, governorOpts...)
	if err != nil {
		return err
	}

	// Cursor tokens are always signed; fall back to the token secret when no
	// dedicated export key is set.
	cursorKey := cfg.Export.SigningKey
	if cursorKey == "" {
		cursorKey = cfg.Token.SigningSecret
	}
	cursors, err := export.NewCursorCodec(cursorKey)
	if err != nil {
		return err
	}
	checkpoints, err := export.NewCheckpointStore(store, recorder)
	if err != nil {
		return err
	}
	pipeline, err := export.NewPipeline(store,
		export.NewIntegrityCodec(cfg.Export.SigningKey, cfg.Export.KeyID),
		cursors, checkpoints, cfg.Export,
		export.WithLogger(log), export.WithMetrics(exportmetrics.New()))
	if err != nil {
		return err
	}

	manager, err := retention.NewManager(store, recorder, cfg.Retention, retention.WithLogger(log))
	if err != nil {
		return err
	}

	authH, err := authhandler.New(authority, authhandler.WithLogger(log))
	if err != nil {
		return err
	}
	alertH, err := alerthandler.New(detector, governor, cfg.Anomaly, alerthandler.WithLogger(log))
	if err != nil {
		return err
	}
	exportH, err := exporthandler.New(pipeline, exporthandler.WithLogger(log))
	if err != nil {
		return err
	}
	retentionH, err := retentionhandler.New(manager, retentionhandler.WithLogger(log))
	if err != nil {
		return err
	}

	router := vigilhttp.New(vigilhttp.Deps{
		Logger:           log,
		Authority:        authority,
		Recorder:         recorder,
		AuthHandler:      authH,
		AlertHandler:     alertH,
		ExportHandler:    exportH,
		RetentionHandler: retentionH,
		HealthCheck: func(ctx context.Context) error {
			if db != nil {
				if err := db.PingContext(ctx); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Health(ctx)
			}
			return nil
		},
	})

	server := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// In-memory registry entries expire lazily on read; the sweep keeps
		// memory bounded when keys stop being read.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := reg.Sweep(ctx); err != nil {
					log.Warn("registry sweep failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// seedAdmin bootstraps the administrative account. Production deployments
// replace the in-memory directory with the platform user store; until then
// the admin password must come from the environment.
func seedAdmin(directory *auth.InMemoryDirectory, log *slog.Logger) error {
	password := os.Getenv("VIGIL_ADMIN_PASSWORD")
	if password == "" {
		password = "admin-dev-password"
		log.Warn("VIGIL_ADMIN_PASSWORD not set, using development default")
	}
	return directory.Add("admin", password, "admin", []string{"audit:read", "audit:purge", "alerts:manage"})
}
