package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/ratelimit"
	"github.com/digkill/imagestudio/internal/service"
)

type AccountService interface {
	Ensure(ctx context.Context, userID int64) (*models.Account, bool, error)
	Get(ctx context.Context, userID int64) (*models.Account, error)
}

type AccessChecker interface {
	Evaluate(ctx context.Context, userID int64, kind models.OperationKind, environment string) (*models.Decision, error)
}

type Generator interface {
	Generate(ctx context.Context, req service.GenerationRequest) (*models.GenerationRecord, *models.Decision, error)
	Retrieve(ctx context.Context, id string) (*service.Retrieval, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.GenerationRecord, error)
}

type IPNHandler interface {
	HandleIPN(ctx context.Context, body []byte, signature string) (*service.PaymentResult, error)
}

type PackageLister interface {
	List(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error)
}

type Deps struct {
	Accounts    AccountService
	Access      AccessChecker
	Generations Generator
	Payments    IPNHandler
	Packages    PackageLister
	// Limiter may be nil, which disables throttling.
	Limiter ratelimit.Limiter
	// Admin is mounted under /admin when set.
	Admin http.Handler
}

type Server struct {
	cfg    config.Config
	log    *slog.Logger
	deps   Deps
	router *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{cfg: cfg, log: log, deps: deps, router: r}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/accounts", s.handleEnsureAccount)
		api.Get("/accounts/{userID}", s.handleGetAccount)
		api.Post("/access/check", s.handleAccessCheck)
		api.Get("/packages", s.handleListPackages)
		api.Post("/generations", s.handleCreateGeneration)
		api.Get("/generations/{id}", s.handleGetGeneration)
		api.Get("/users/{userID}/generations", s.handleListGenerations)
	})
	r.Post("/webhooks/payments", s.handlePaymentWebhook)

	if deps.Admin != nil {
		r.Mount("/admin", deps.Admin)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Generation requests hold the connection for the whole provider poll.
		WriteTimeout: s.cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
