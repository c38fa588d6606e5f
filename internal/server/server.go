// Package server exposes the research pipeline and chat over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/chat"
	"github.com/afsalb/deep-researcher/internal/fetch"
	"github.com/afsalb/deep-researcher/internal/guard"
	"github.com/afsalb/deep-researcher/internal/llm"
	"github.com/afsalb/deep-researcher/internal/render"
	"github.com/afsalb/deep-researcher/internal/research"
	"github.com/afsalb/deep-researcher/internal/search"
	"github.com/afsalb/deep-researcher/internal/session"
	"github.com/afsalb/deep-researcher/internal/store"
	"github.com/afsalb/deep-researcher/internal/telemetry"
)

// Archive is the postgres-backed persistence the HTTP layer uses for users,
// completed runs and chat transcripts. *store.Store satisfies it.
type Archive interface {
	CreateUser(ctx context.Context, email, hash string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (string, string, error)
	ArchiveResult(ctx context.Context, userID string, result research.Result) error
	GetResult(ctx context.Context, id, userID string) (research.Result, bool, error)
	ListRuns(ctx context.Context, userID string) ([]store.RunSummary, error)
	DeleteRun(ctx context.Context, id, userID string) error
	ArchiveTurn(ctx context.Context, sessionID, runID string, turn research.Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]research.Turn, error)
}

// Server wires every component behind the HTTP API.
type Server struct {
	cfg       *config.Config
	logger    *log.Logger
	orch      *research.Orchestrator
	chat      *chat.Router
	guard     *guard.Guard
	sessions  session.Store
	archive   Archive // nil when postgres is not configured
	renderer  research.ReportRenderer
	telemetry *telemetry.Telemetry
}

// New builds the full dependency graph from config.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	tel := telemetry.New(cfg.Telemetry)

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	providers := search.NewProviders(cfg.Search)
	var fetcher research.PageFetcher
	if cfg.Search.FetchFullContent {
		fetcher = fetch.New(cfg.Search.Timeout, cfg.Search.FetchMaxChars)
	}
	orch := research.NewOrchestrator(cfg, provider, providers, fetcher, tel)

	sessions, err := session.NewStore(cfg.Storage, cfg.Chat.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	var archive Archive
	if _, dsnErr := cfg.Storage.Postgres.DSN(); dsnErr == nil {
		pg, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		archive = pg
	}

	g := guard.New(cfg.Guard)
	router := chat.NewRouter(cfg.Chat, g, provider, orch, sessions, tel)

	return &Server{
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		orch:      orch,
		chat:      router,
		guard:     g,
		sessions:  sessions,
		archive:   archive,
		renderer:  render.New(),
		telemetry: tel,
	}, nil
}

// Echo assembles the routing table.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	if s.archive != nil {
		auth := &AuthHandler{Archive: s.archive, Secret: []byte(s.cfg.Server.JWTSecret), TokenTTL: s.cfg.Server.TokenTTL}
		auth.Register(api.Group("/auth"))
	}

	protected := api.Group("")
	if s.cfg.Server.JWTSecret != "" && s.archive != nil {
		protected.Use(AuthMiddleware([]byte(s.cfg.Server.JWTSecret)))
	}
	s.registerResearch(protected.Group("/research"))
	s.registerChat(protected.Group("/sessions"))

	return e
}

// Run starts the server and the session sweeper, blocking until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	sweeper, err := session.NewSweeper(s.sessions, s.telemetry, s.cfg.Server.SweepCron)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	go sweeper.Run(ctx)

	e := s.Echo()
	go func() {
		<-ctx.Done()
		_ = e.Shutdown(context.Background())
	}()
	s.logger.Printf("listening on %s", s.cfg.Server.Address)
	if err := e.Start(s.cfg.Server.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
