package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_service/internal/auth"
	"chat_service/internal/chat"
	"chat_service/internal/config"
	"chat_service/internal/http_server/router"
	"chat_service/internal/lib/jwt"
	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/pairing"
	"chat_service/internal/rabbitmq"
	"chat_service/internal/storage"
	"chat_service/internal/storage/memory"
	"chat_service/internal/storage/mongo"
	"chat_service/internal/storage/postgres"
	"chat_service/internal/storage/redis"
	"chat_service/internal/telemetry"
	"chat_service/internal/ws"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting chat service",
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	shutdownTracer, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Warn("tracing disabled", sl.Err(err))
	}

	store := setupStorage(ctx, log, cfg)
	defer store.Close()

	var reserver pairing.CodeReserver = store
	if cfg.Redis.Addr != "" {
		connCtx, connCancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := redis.New(connCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		connCancel()

		if err != nil {
			log.Warn("redis unavailable, reserving invite codes in storage", sl.Err(err))
		} else {
			defer rdb.Close()
			reserver = rdb
		}
	}

	// interfaces stay nil when the broker is off
	var (
		mail   pairing.MailPublisher
		events pairing.EventPublisher
	)
	if cfg.RabbitMQ.URL != "" {
		msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Warn("rabbitmq unavailable, events and invite e-mails disabled", sl.Err(err))
		} else {
			defer msgBroker.Close()
			mail, events = msgBroker, msgBroker
		}
	}

	tokens := jwt.NewIssuer(cfg.Tokens.Secret, cfg.Tokens.TTL)
	hub := ws.NewHub(log)
	defer hub.Close()

	authService := auth.New(log, store, store, tokens)
	pairingService := pairing.New(log, store, reserver, mail, events, pairing.Options{
		InviteTTL:   cfg.Invites.InviteTTL(),
		LinkBaseURL: cfg.Invites.LinkBaseURL,
	})
	chatService := chat.New(log, store, store, hub, events)

	handler := router.New(log, router.Deps{
		Auth:           authService,
		Tokens:         tokens,
		Pairing:        pairingService,
		Chat:           chatService,
		Hub:            hub,
		DB:             store,
		StorageDriver:  cfg.Storage.Driver,
		APIPrefix:      cfg.HTTPServer.APIPrefix,
		AllowedOrigins: cfg.HTTPServer.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("failed to flush traces", sl.Err(err))
	}

	log.Info("Main service stopped")
}

// setupStorage falls back to a stand-in that answers ErrUnavailable when the
// configured backend cannot be reached, so health checks keep working.
func setupStorage(ctx context.Context, log *slog.Logger, cfg *config.Config) storage.Storage {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		return memory.New()

	case config.DriverMongo:
		repo, err := mongo.New(connCtx, cfg.Mongo)
		if err != nil {
			log.Error("failed to connect mongo, running degraded", sl.Err(err))
			return storage.Unavailable{Cause: err}
		}
		return repo

	case config.DriverPostgres:
		repo, err := postgres.New(connCtx, cfg.Postgres)
		if err != nil {
			log.Error("failed to connect postgres, running degraded", sl.Err(err))
			return storage.Unavailable{Cause: err}
		}

		if !cfg.Postgres.SkipMigrations {
			if err := repo.Migrate(connCtx); err != nil {
				log.Error("failed to migrate postgres, running degraded", sl.Err(err))
				repo.Close()
				return storage.Unavailable{Cause: err}
			}
		}
		return repo

	default:
		log.Error("unknown storage driver", slog.String("driver", cfg.Storage.Driver))
		os.Exit(1)
	}

	return nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
