// Package server is the composition root: it opens the store, builds the
// services and mounts every HTTP surface on one chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/codeshelf/internal/auth"
	"github.com/sakif/codeshelf/internal/config"
	"github.com/sakif/codeshelf/internal/explain"
	"github.com/sakif/codeshelf/internal/handler"
	"github.com/sakif/codeshelf/internal/live"
	"github.com/sakif/codeshelf/internal/middleware"
	sqliteRepo "github.com/sakif/codeshelf/internal/repository/sqlite"
	"github.com/sakif/codeshelf/internal/service"
	"github.com/sakif/codeshelf/internal/socket"
)

const (
	shutdownTimeout = 30 * time.Second
	writeTimeout    = 15 * time.Second
)

// Server owns the store and the change broker; both are closed when Serve
// returns.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	db     *sqliteRepo.DB
	broker *live.Broker
	router *chi.Mux

	// writeTimeout applies to ordinary responses; streams and the explain
	// endpoint extend their own deadline.
	writeTimeout time.Duration

	// baseCtx parents every request context. It is cancelled when shutdown
	// starts so SSE streams and hijacked WebSocket connections end.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New opens the database and wires every handler. explainer may be nil, in
// which case one is built from the EXPLAIN_* settings.
func New(cfg config.Config, logger *slog.Logger, version string, explainer explain.Explainer) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}

	broker := live.NewBroker()
	db, err := sqliteRepo.New(cfg.DBPath,
		sqliteRepo.WithPublisher(broker),
		sqliteRepo.WithLogger(logger),
	)
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if explainer == nil {
		explainer = explain.New(explain.Config{
			APIKey:  cfg.ExplainAPIKey,
			BaseURL: cfg.ExplainBaseURL,
			Model:   cfg.ExplainModel,
			Timeout: cfg.ExplainTimeout,
		})
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		db:           db,
		broker:       broker,
		router:       chi.NewRouter(),
		writeTimeout: writeTimeout,
		baseCtx:      baseCtx,
		cancelBase:   cancel,
	}
	s.setupRoutes(tokens, explainer)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(tokens *auth.TokenService, explainer explain.Explainer) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(s.cors())

	snippetService := service.NewSnippetService(s.db, s.broker, s.logger)
	authService := service.NewAuthService(s.db, tokens, auth.NewPasswordService(), s.logger)

	var github *auth.GitHubProvider
	if s.cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.cfg.GitHubClientID, s.cfg.GitHubClientSecret, s.cfg.GitHubCallbackURL)
	}

	snippets := handler.NewSnippetHandler(snippetService, s.logger)
	authHandler := handler.NewAuthHandler(github, authService, tokens.TTL(), s.cfg.CookieSecure, s.logger)
	explainHandler := handler.NewExplainHandler(explainer, s.cfg.ExplainTimeout, s.logger)
	health := handler.NewHealthHandler(s.db, s.version, s.logger)
	ws := socket.NewHandler(snippetService, s.cfg.CORSOrigins, s.logger)

	s.router.Get("/health", health.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.With(auth.OptionalAuth(tokens)).Get("/ws/snippets", ws.ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/explain", explainHandler.HandleExplain)
		r.Get("/languages", snippets.HandleLanguages)
		r.Get("/frameworks", snippets.HandleFrameworks)
		r.Get("/tags", snippets.HandleTags)

		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/snippets", snippets.HandleList)
			r.Get("/snippets/stream", snippets.HandleStream)
			r.Get("/snippets/{id}", snippets.HandleGetByID)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/snippets", snippets.HandleCreate)
			r.Patch("/snippets/{id}", snippets.HandleUpdate)
			r.Delete("/snippets/{id}", snippets.HandleDelete)
		})
	})
}

// cors lets a browser UI on another origin call the API with the session
// cookie. With no configured origins any origin is reflected.
func (s *Server) cors() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	}
	return cors.Handler(opts)
}

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.close()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down: the
// HTTP server first, then the broker, then the database.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.close()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	srv.RegisterOnShutdown(s.cancelBase)

	attrs := append([]slog.Attr{
		slog.String("version", s.version),
		slog.String("address", ln.Addr().String()),
	}, s.cfg.LogAttrs()...)
	s.logger.LogAttrs(ctx, slog.LevelInfo, "server starting", attrs...)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) close() {
	s.cancelBase()
	s.broker.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Error("closing database", slog.String("error", err.Error()))
	}
}
