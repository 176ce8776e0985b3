// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It builds every backend the config asks
// for, hands them to the services, and mounts the handlers:
//
//	config.Config
//	  → changefeed (in-process broker, relayed over Redis when configured)
//	  → document store (SQLite, or Firestore for questions and profiles)
//	  → object store (local directory, MinIO or FTP)
//	  → search (Meilisearch when configured, substring filter otherwise)
//	  → services → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/changefeed"
	"github.com/sakif/qanda/internal/config"
	"github.com/sakif/qanda/internal/email"
	"github.com/sakif/qanda/internal/feed"
	"github.com/sakif/qanda/internal/handler"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/middleware"
	"github.com/sakif/qanda/internal/objectstore"
	"github.com/sakif/qanda/internal/repository"
	firestoreRepo "github.com/sakif/qanda/internal/repository/firestore"
	sqliteRepo "github.com/sakif/qanda/internal/repository/sqlite"
	"github.com/sakif/qanda/internal/search"
	"github.com/sakif/qanda/internal/service"
	"github.com/sakif/qanda/internal/session"
)

const appName = "Q&A"

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns every connection it opened (SQLite, Firestore, Redis, the
// Meilisearch health loop) and the server-wide question feed. Close releases
// them in reverse order of creation.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db       *sqliteRepo.DB
	registry *prometheus.Registry
	metrics  *metrics.Collector

	questions repository.QuestionRepository
	profiles  repository.ProfileRepository
	store     objectstore.Store
	local     *objectstore.Local // nil unless STORAGE_BACKEND=local
	meili     *search.Meili      // nil unless MEILI_URL is set
	search    *search.Service
	mailer    email.Sender

	revocations session.Store
	watchers    *session.Watchers
	notifier    changefeed.Notifier

	feed    *feed.Controller
	limiter *middleware.RateLimiter

	closers []func()
}

// New creates a Server from cfg. Backends that fail to connect abort
// startup; optional integrations that are not configured are skipped.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		watchers: session.NewWatchers(),
	}

	if err := s.setup(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// setup builds the backends in dependency order. Anything that must be
// released is pushed onto s.closers as soon as it exists.
func (s *Server) setup(ctx context.Context) error {
	// === METRICS ===
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewCollector(s.registry)

	// === CHANGE FEED & SESSIONS ===
	if err := s.setupChangefeed(ctx); err != nil {
		return err
	}

	// === DOCUMENT STORE ===
	if err := s.setupDatabase(ctx); err != nil {
		return err
	}

	// === OBJECT STORE ===
	if err := s.setupObjectStore(ctx); err != nil {
		return err
	}

	// === SEARCH ===
	if s.config.MeiliURL != "" {
		s.meili = search.NewMeili(s.config.MeiliURL, s.config.MeiliMasterKey, s.logger)
		s.closers = append(s.closers, s.meili.Close)
	}
	s.search = search.NewService(s.meili, s.logger)

	// === EMAIL ===
	if s.config.SMTP.IsConfigured() {
		s.mailer = email.NewSMTPSender(s.config.SMTP, appName)
	} else {
		s.logger.Warn("SMTP not configured, verification emails will only be logged")
		s.mailer = email.NewLogSender(s.logger)
	}

	// === SERVER-WIDE QUESTION FEED ===
	// GET /api/questions reads from this mirror; streams open their own.
	s.feed = feed.New(s.questions)
	if err := s.feed.Activate(ctx); err != nil {
		return fmt.Errorf("activating question feed: %w", err)
	}
	s.closers = append(s.closers, s.feed.Deactivate)
	s.search.ReindexAll(s.feed.Questions())

	// === RATE LIMITING ===
	s.limiter = middleware.NewRateLimiter(middleware.PerMinute(s.config.RateLimitWritesPerMin), s.logger)
	s.closers = append(s.closers, s.limiter.Stop)

	return s.setupRoutes()
}

// setupChangefeed picks the change notifier and the revocation store. With
// Redis both are shared across instances; without it both are in-process.
func (s *Server) setupChangefeed(ctx context.Context) error {
	broker := changefeed.NewBroker()
	s.notifier = broker
	s.revocations = session.NewMemoryStore()

	if s.config.RedisURL == "" {
		return nil
	}

	client, err := session.NewRedisClient(ctx, s.config.RedisURL)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() { closeRedis(client, s.logger) })

	relay := changefeed.NewRedisRelay(client, changefeed.DefaultChannel, broker, s.logger)
	ps, err := relay.Subscribe(ctx)
	if err != nil {
		return err
	}
	// The relay lives as long as the server, not the startup context.
	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(relayCtx, ps)
	}()
	s.closers = append(s.closers, func() {
		cancel()
		<-done
	})

	s.notifier = relay
	s.revocations = session.NewRedisStore(client)
	s.logger.Info("redis connected", slog.String("channel", changefeed.DefaultChannel))
	return nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("closing redis", slog.String("error", err.Error()))
	}
}

// setupDatabase opens SQLite, which always holds accounts and verification
// tokens, and optionally Firestore for the question and profile documents.
func (s *Server) setupDatabase(ctx context.Context) error {
	if s.config.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.config.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(s.config.DBPath, s.notifier, s.logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	s.db = db
	s.closers = append(s.closers, func() { db.Close() })
	s.questions = db
	s.profiles = db

	if s.config.DBBackend == config.DBFirestore {
		fs, err := firestoreRepo.New(ctx, s.config.FirestoreProjectID, s.logger)
		if err != nil {
			return fmt.Errorf("opening firestore: %w", err)
		}
		s.closers = append(s.closers, func() { fs.Close() })
		s.questions = fs
		s.profiles = fs
	}

	s.logger.Info("document store ready", slog.String("backend", s.config.DBBackend))
	return nil
}

func (s *Server) setupObjectStore(ctx context.Context) error {
	switch s.config.StorageBackend {
	case config.StorageMinIO:
		m, err := objectstore.NewMinIO(ctx, s.config.MinIO)
		if err != nil {
			return fmt.Errorf("connecting to minio: %w", err)
		}
		s.store = m
	case config.StorageFTP:
		s.store = objectstore.NewFTP(s.config.FTP)
	default:
		local, err := objectstore.NewLocal(s.config.StorageDir, s.config.BaseURL+"/files")
		if err != nil {
			return err
		}
		s.local = local
		s.store = local
	}
	s.logger.Info("object store ready", slog.String("backend", s.config.StorageBackend))
	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                                  → Liveness + dependency status
// GET    /metrics                                  → Prometheus scrape
// GET    /files/*                                  → Uploaded images (local store only)
// POST   /auth/register | /auth/login | /auth/logout
// GET    /auth/google/login | /auth/google/callback | /auth/verify
// GET    /api/questions?q=                         → Filtered question list
// GET    /api/questions/stream?q=                  → Live updates (SSE)
// GET    /api/questions/{id}                       → Single question
// GET    /api/search?q=                            → Ranked search
// POST   /api/questions                            → Ask (multipart)
// POST   /api/questions/{id}/answers               → Answer
// DELETE /api/questions/{id}/answers/{answerID}    → Delete own answer
// GET    /api/me | PUT /api/me                     → Profile
// PUT    /api/me/password | POST /api/me/verification
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. Metrics: counts requests per route pattern
//
// Question and answer routes use OptionalAuth: the services themselves
// answer an anonymous caller with "please log in ...". Profile routes need a
// session outright.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Metrics(s.metrics))

	// === Services ===
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	var google *auth.GoogleProvider
	if s.config.GoogleEnabled() {
		google = auth.NewGoogleProvider(s.config.GoogleClientID, s.config.GoogleClientSecret, s.config.GoogleRedirectURL)
	}

	authService := service.NewAuthService(service.AuthDeps{
		Users:         s.db,
		Verifications: s.db,
		Tokens:        tokens,
		Passwords:     auth.NewPasswordService(0),
		Google:        google,
		Revocations:   s.revocations,
		Watchers:      s.watchers,
		Mailer:        s.mailer,
		Metrics:       s.metrics,
		Logger:        s.logger,
		BaseURL:       s.config.BaseURL,
	})
	questionService := service.NewQuestionService(s.questions, s.store, s.search, s.metrics, s.logger)
	answerService := service.NewAnswerService(s.questions, s.metrics, s.logger)
	profileService := service.NewProfileService(authService, s.profiles, s.store, s.metrics, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(authService, s.config.CookieSecure, s.logger)
	questionHandler := handler.NewQuestionHandler(questionService, s.feed, s.search, s.config.MaxUploadBytes, s.logger)
	answerHandler := handler.NewAnswerHandler(answerService)
	profileHandler := handler.NewProfileHandler(profileService, s.config.MaxUploadBytes)
	streamHandler := handler.NewStreamHandler(s.questions, authService, s.metrics, s.logger)

	// === Operational Routes ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.registry))
	if s.local != nil {
		s.router.Handle("/files/*", http.StripPrefix("/files", s.local.Handler()))
	}

	// === Auth Routes ===
	s.router.Route("/auth", func(r chi.Router) {
		r.With(s.limiter.Middleware).Post("/register", authHandler.HandleRegister)
		r.With(s.limiter.Middleware).Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)
		r.Get("/verify", authHandler.HandleVerify)
	})

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.OptionalAuth(authService))

		r.Get("/questions", questionHandler.HandleList)
		r.Get("/questions/stream", streamHandler.HandleStream)
		r.Get("/questions/{id}", questionHandler.HandleGet)
		r.Get("/search", questionHandler.HandleSearch)

		// Writes are rate limited per user (or per IP when anonymous).
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/questions", questionHandler.HandleCreate)
			r.Post("/questions/{id}/answers", answerHandler.HandleCreate)
			r.Delete("/questions/{id}/answers/{answerID}", answerHandler.HandleDelete)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(auth.RequireAuth(authService))
			r.Get("/", profileHandler.HandleGet)
			r.With(s.limiter.Middleware).Put("/", profileHandler.HandleUpdate)
			r.With(s.limiter.Middleware).Put("/password", profileHandler.HandlePassword)
			r.With(s.limiter.Middleware).Post("/verification", profileHandler.HandleVerification)
		})
	})

	return nil
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Search   string `json:"search"`
	Feed     string `json:"feed"`
}

// handleHealth reports 503 only when the database is unreachable; search
// degrades to the substring filter and is reported but not fatal.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Search: "disabled", Feed: "active"}
	status := http.StatusOK

	if err := s.db.Ping(); err != nil {
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if s.meili != nil {
		resp.Search = "ok"
		if !s.meili.Healthy() {
			resp.Search = "degraded"
		}
	}
	if !s.feed.Active() {
		resp.Feed = "inactive"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode health response", slog.String("error", err.Error()))
	}
}

// Handler returns the router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases everything New opened, newest first. It is safe to call
// on a partially built server.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the feed, the relay and the databases (Close)
//
// Open event streams end as soon as shutdown begins.
func (s *Server) Start() error {
	defer s.Close()

	// WriteTimeout applies to every route; the stream handler lifts it for
	// its own connection.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown does not cancel in-flight requests on its own; long-lived
	// streams watch this context instead.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.RegisterOnShutdown(cancelBase)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("db_backend", s.config.DBBackend),
			slog.String("storage_backend", s.config.StorageBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
