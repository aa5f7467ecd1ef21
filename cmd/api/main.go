package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"offer-ranking-api/internal/cache"
	"offer-ranking-api/internal/config"
	"offer-ranking-api/internal/database"
	"offer-ranking-api/internal/events"
	"offer-ranking-api/internal/features"
	"offer-ranking-api/internal/handler"
	"offer-ranking-api/internal/logger"
	"offer-ranking-api/internal/middleware"
	"offer-ranking-api/internal/ranking"
	"offer-ranking-api/internal/service"
	"offer-ranking-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var resultCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
				Addr:      cfg.Cache.RedisAddr,
				Password:  cfg.Cache.RedisPassword,
				DB:        cfg.Cache.RedisDB,
				Namespace: cfg.Cache.Namespace,
			})
			if err != nil {
				return err
			}
			defer rc.Close()
			resultCache = rc
			log.WithField("addr", cfg.Cache.RedisAddr).Info("using redis ranking cache")
		} else {
			resultCache = cache.NewInMemoryCache(cfg.Cache.MaxEntries)
			log.Info("using in-memory ranking cache")
		}
	}

	flags := features.NewDefaultManager(cfg.Cache.Enabled, cfg.Features.EventHooks, cfg.Features.ParallelScoring)

	eventManager := events.NewManager(cfg.Features.EventHooks, log)

	var publisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		publisher, err = events.NewKafkaPublisher(cfg.KafkaBrokers(), cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		eventManager.SubscribeAll(publisher.Handle)
		log.WithField("topic", cfg.Kafka.Topic).Info("publishing events to kafka")
	}
	defer func() {
		// Drain in-flight handlers before closing the producer they use.
		eventManager.Shutdown()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				log.WithError(err).Warn("failed to close kafka producer")
			}
		}
	}()

	engine := ranking.NewEngine(ranking.Options{
		MinSpendForPerkConsideration: cfg.Ranking.MinSpendForPerkConsideration,
	})

	svc := service.NewService(db, engine, service.Options{
		Cache:    resultCache,
		CacheTTL: cfg.CacheTTL(),
		Events:   eventManager,
		Features: flags,
		Tracer:   tracer,
		Logger:   log,
		Workers:  cfg.Ranking.Workers,
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      log,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Register(r)

	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     server.Addr,
			"tls":      cfg.Server.EnableTLS,
			"database": cfg.Database.Path,
		}).Info("starting server")

		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
