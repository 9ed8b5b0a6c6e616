// Package server wires the stores, services, and handlers into the HTTP
// process.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/walletgate/apiserver/config"
	"github.com/walletgate/apiserver/internal/db"
	"github.com/walletgate/apiserver/internal/events"
	"github.com/walletgate/apiserver/internal/handlers"
	"github.com/walletgate/apiserver/internal/mailer"
	"github.com/walletgate/apiserver/internal/metrics"
	mw "github.com/walletgate/apiserver/internal/middleware"
	"github.com/walletgate/apiserver/internal/services"
	"github.com/walletgate/apiserver/internal/storage"
	"github.com/walletgate/apiserver/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
)

// handlerTimeout is the per-request deadline. Handlers that outlive it get
// their context cancelled and the client receives a 504.
const handlerTimeout = 10 * time.Second

// Server wraps the HTTP server, the router, and the store handles.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	pg    *sql.DB
	mongo *mongo.Client
	redis *redis.Client
	bus   *events.Bus
}

// New opens the backing stores and constructs a fully wired Server.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.MongoURL == "" {
		return nil, errors.New("MONGODB_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	pg, err := db.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}

	mongoClient, err := db.OpenMongo(ctx, cfg.MongoURL)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	redisClient, err := db.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		_ = pg.Close()
		_ = mongoClient.Disconnect(context.Background())
		return nil, err
	}

	userRepo := store.NewUserRepository(pg)
	challengeStore := store.NewChallengeStore(redisClient, cfg.ChallengeTTL)
	activityLog := store.NewActivityLog(mongoClient, cfg.MongoDB)
	if err := activityLog.EnsureIndexes(ctx); err != nil {
		logger.Warn("activity index creation failed", slog.Any("error", err))
	}

	bus, err := newEventsBus(ctx, cfg.Events)
	if err != nil {
		logger.Warn("event fan-out disabled", slog.Any("error", err))
	}

	avatars, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Warn("avatar storage disabled", slog.Any("error", err))
	}
	if avatars != nil {
		if err := avatars.EnsureBucket(ctx); err != nil {
			logger.Warn("avatar bucket check failed", slog.Any("error", err))
		}
	}

	collector := metrics.NewCollector()
	activity := services.NewActivityService(activityLog, bus, logger, collector)

	authService, err := services.NewAuthService(
		userRepo, challengeStore, activity,
		mailer.New(cfg.Mail),
		collector, logger,
		[]byte(cfg.JWTSecret), cfg.TokenTTL,
	)
	if err != nil {
		_ = pg.Close()
		_ = mongoClient.Disconnect(context.Background())
		_ = redisClient.Close()
		return nil, err
	}

	healthHandler := handlers.NewHealthHandler(pg, mongoClient, redisClient)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logging(logger),
		mw.Metrics(collector),
		middleware.Timeout(handlerTimeout),
	)
	router.Get("/health", healthHandler.Health)
	router.Get("/db-info", healthHandler.DBInfo)
	router.Handle("/metrics", collector.Handler())
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, avatars, logger)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		logger:     logger,
		pg:         pg,
		mongo:      mongoClient,
		redis:      redisClient,
		bus:        bus,
	}, nil
}

func newEventsBus(ctx context.Context, cfg config.EventsConfig) (*events.Bus, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		emitter, err := events.NewRabbitMQEmitter(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		return events.NewBus(emitter), nil
	case "pubsub":
		emitter, err := events.NewPubSubEmitter(ctx, cfg.PubSubProjectID, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return events.NewBus(emitter), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes every store handle.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.mongo != nil {
		_ = s.mongo.Disconnect(ctx)
	}
	if s.pg != nil {
		_ = s.pg.Close()
	}
	return err
}
