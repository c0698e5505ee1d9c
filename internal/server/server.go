package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/taliaapp/apiserver/config"
	"github.com/taliaapp/apiserver/internal/db"
	"github.com/taliaapp/apiserver/internal/handlers"
	"github.com/taliaapp/apiserver/internal/hash"
	"github.com/taliaapp/apiserver/internal/identity"
	"github.com/taliaapp/apiserver/internal/mailer"
	"github.com/taliaapp/apiserver/internal/mq"
	"github.com/taliaapp/apiserver/internal/services"
	"github.com/taliaapp/apiserver/internal/storage"
	"github.com/taliaapp/apiserver/internal/store"
	"github.com/taliaapp/apiserver/internal/token"
)

const tokenPruneInterval = time.Hour

// Server wraps the HTTP server, router, and owned resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
	mail       *mailer.Mailer
	stopPrune  context.CancelFunc
}

// New constructs a Server: it opens the database, selects the object storage
// and broker backends from config, and wires the services behind the routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objectStorage, err := newObjectStorage(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", objectStorage.Bucket(), err)
	}

	brokerBackend, err := newBroker(ctx, cfg.Broker)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	broker := mq.New(brokerBackend)
	mail := mailer.New(broker, cfg.Mail, logger)

	userRepo := store.NewUserRepository(dbConn)
	tokenRepo := store.NewRefreshTokenRepository(dbConn)
	recoveryRepo := store.NewRecoveryRepository(dbConn)
	fileRepo := store.NewFileRepository(dbConn)
	atomic := store.NewAtomic(dbConn)

	minter := token.NewMinter(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	hasher := hash.NewBcrypt()
	provider := identity.NewGoogleProvider(cfg.Auth.GoogleAudience)

	tokenService := services.NewTokenService(userRepo, tokenRepo, minter, hasher, cfg.Auth.RefreshTTL)
	authService := services.NewAuthService(
		userRepo, recoveryRepo, atomic, tokenService, hasher, mail, provider, cfg.Auth.RecoveryCodeTTL,
	)
	fileService := services.NewFileService(
		fileRepo, objectStorage, logger, cfg.Upload.MaxBytes, cfg.Upload.Extnames,
	)

	authHandler := handlers.NewAuthHandler(authService, tokenService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, tokenService)
	})
	router.Route("/file", func(r chi.Router) {
		handlers.FileRouter(r, fileService, cfg.Upload.MaxBytes, authHandler.RequireAuth)
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

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	go pruneExpiredTokens(pruneCtx, tokenRepo, logger)

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
		mail:       mail,
		stopPrune:  stopPrune,
	}, nil
}

// pruneExpiredTokens periodically deletes refresh tokens past their expiry.
// Rotation already replaces rows in place, so this only reaps tokens from
// sessions that were abandoned without a refresh or revoke.
func pruneExpiredTokens(ctx context.Context, tokens *store.RefreshTokenRepository, logger *slog.Logger) {
	ticker := time.NewTicker(tokenPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := tokens.DeleteExpired(ctx, time.Now())
			if err != nil {
				logger.Error("prune expired refresh tokens", "err", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned expired refresh tokens", "count", pruned)
			}
		}
	}
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "minio":
		return storage.NewMinioClient(cfg.Minio)
	case "gcs":
		return storage.NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newBroker(ctx context.Context, cfg config.BrokerConfig) (mq.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "rabbitmq":
		return mq.NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		return mq.NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown and closes owned resources.
func (s *Server) Shutdown() error {
	if s.stopPrune != nil {
		s.stopPrune()
	}
	if s.mail != nil {
		s.mail.Close()
	}
	if s.broker != nil {
		_ = s.broker.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
