package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/segment-viewer/backend/internal/api"
	"github.com/segment-viewer/backend/internal/config"
	"github.com/segment-viewer/backend/internal/inference"
	"github.com/segment-viewer/backend/internal/session"
	"github.com/segment-viewer/backend/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 30 * time.Second

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func newLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == "release" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

func main() {
	configPath := config.Path()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Mode)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	api.SetDevelopment(cfg.Logging.Mode != "release")

	// Handles for previews, masks and endpoint originals
	store := storage.NewMemoryStore()

	client := inference.NewHTTPClient(cfg.Inference.BaseURL, store, inference.Options{
		Overlay:        cfg.Inference.Overlay,
		ReturnOriginal: cfg.Inference.ReturnOriginal,
	}, logger.Named("inference"))

	sessionMgr := session.NewManager(client, store, logger.Named("session"), session.Options{
		MaxSessions: cfg.Sessions.MaxSessions,
		KeepAlive:   cfg.KeepAlive(),
	})

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for range ticker.C {
			if n := sessionMgr.CleanupOldSessions(cfg.SessionTimeout()); n > 0 {
				sugar.Infow("sessions_expired", "count", n, "remaining", sessionMgr.Len())
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	e.Use(api.NewRecoverMiddleware(sugar))
	e.Use(api.NewTrackMiddleware(sugar, func(c echo.Context) bool {
		if !cfg.Logging.RequestLogging {
			return true
		}
		path := c.Request().URL.Path
		return path == "/api/health" || path == "/metrics"
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			// Streams and held submissions outlive the request timeout. A held
			// submission also clears the server write deadline itself.
			return strings.HasSuffix(path, "/ws") ||
				strings.HasSuffix(path, "/submit")
		},
		ErrorMessage: "Request timeout",
	}))

	if cfg.Server.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Server.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/ws") || strings.HasSuffix(path, "/submit")
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  cfg.Origins(),
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			ExposeHeaders: []string{api.HeaderRequestID, echo.HeaderContentDisposition},
		}))
	}

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:      store,
		SessionMgr: sessionMgr,
		Version:    Version,
	}))
	api.RegisterMetricsRoute(e)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Segmentation Viewer Server                      ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", cfg.Logging.Mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Endpoint:  %-46s║\n", cfg.Inference.BaseURL)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal(err)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	sugar.Infow("shutting_down", "sessions", sessionMgr.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("shutdown_failed", "error", err.Error())
	}
	// Aborts in-flight submissions and releases every handle
	sessionMgr.CloseAll()
}
