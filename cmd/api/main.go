//	@title			Lesson File Service API
//	@version		1.0
//	@description	Object storage gateway for lesson materials: upload, download and delete files on MinIO or any S3-compatible backend.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Optional JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/lessonhub/fileservice/internal/config"
	"github.com/lessonhub/fileservice/internal/db"
	"github.com/lessonhub/fileservice/internal/files"
	"github.com/lessonhub/fileservice/internal/metrics"
	appMiddleware "github.com/lessonhub/fileservice/internal/middleware"
	"github.com/lessonhub/fileservice/internal/storage"

	_ "github.com/lessonhub/fileservice/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// newLogger emits JSON in production and human-readable text elsewhere.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("object storage init failed: %w", err)
	}

	// Metadata recording is enabled only when a database is configured.
	var recorder *files.Recorder
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		recorder = files.NewRecorder(files.NewRepository(pool), backend, cfg.StorageBucket)
	} else {
		logger.Warn("DATABASE_URL not set, file metadata will not be recorded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Wire dependencies: backend → gateway → handler
	gw := files.NewGateway(files.GatewayConfig{
		Bucket:     cfg.StorageBucket,
		Mode:       files.UploadMode(cfg.UploadMode),
		PresignTTL: cfg.PresignTTL,
	}, backend, recorder, logger, collector)
	filesHandler := files.NewHandler(gw, cfg.MaxUploadBytes, logger)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	// Swagger UI at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(appMiddleware.Identify(cfg.JWTSecret))
		}
		r.Route("/files", filesHandler.Routes)
	})

	// Uploads and downloads stream large bodies, so only headers are bounded.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"port", cfg.Port, "env", cfg.AppEnv, "driver", cfg.StorageDriver,
			"bucket", cfg.StorageBucket, "upload_mode", cfg.UploadMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, objects are lost on restart")
		return storage.NewMemoryBackend(cfg.StoragePublicBase), nil

	case config.DriverS3:
		return storage.NewS3Backend(ctx, storage.S3Config{
			Endpoint:     endpointURL(cfg.StorageEndpoint, cfg.StorageUseSSL),
			Region:       cfg.StorageRegion,
			AccessKey:    cfg.StorageAccessKey,
			SecretKey:    cfg.StorageSecretKey,
			UsePathStyle: true,
			PublicBase:   cfg.StoragePublicBase,
			URLTTL:       cfg.PresignTTL,
		})

	default:
		b, err := storage.NewMinioBackend(storage.MinioConfig{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Region:     cfg.StorageRegion,
			UseSSL:     cfg.StorageUseSSL,
			PublicBase: cfg.StoragePublicBase,
			URLTTL:     cfg.PresignTTL,
		})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx, cfg.StorageBucket, logger); err != nil {
			return nil, err
		}
		return b, nil
	}
}

// endpointURL adds a scheme to a host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
