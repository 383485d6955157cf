package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moodjournal/dmsync/internal/config"
	"github.com/moodjournal/dmsync/internal/database"
	"github.com/moodjournal/dmsync/internal/logger"
	"github.com/moodjournal/dmsync/internal/metrics"
	"github.com/moodjournal/dmsync/internal/repository"
	memoryrepo "github.com/moodjournal/dmsync/internal/repository/memory"
	postgresrepo "github.com/moodjournal/dmsync/internal/repository/postgres"
	"github.com/moodjournal/dmsync/internal/service"
	"github.com/moodjournal/dmsync/internal/transport/http/handlers"
	"github.com/moodjournal/dmsync/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repositories
	var (
		userRepo repository.UserRepository
		dmRepo   repository.DMRepository
	)
	switch cfg.Storage {
	case "memory":
		users := memoryrepo.NewUserRepo()
		userRepo, dmRepo = users, memoryrepo.NewDMRepo(users)
		log.Info("using in-memory storage")
	case "postgres":
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info("connected to database", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
		userRepo, dmRepo = postgresrepo.NewUserRepo(pool), postgresrepo.NewDMRepo(pool)
	default:
		return fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTTTL, cfg.BcryptCost)
	dmService := service.NewDMService(dmRepo, userRepo)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	dmHandler := handlers.NewDMHandler(dmService, log)

	reg := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTP(reg)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	authHandler.Routes(mux, "/api/v1")

	// Protected - Conversations
	dmHandler.Routes(mux, "/api/v1", middleware.Auth(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           middleware.CORS(cfg.CORSOrigins)(httpMetrics.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
