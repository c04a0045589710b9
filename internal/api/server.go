// Package api exposes the referral service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"telegram-referral-bot/internal/config"
	"telegram-referral-bot/internal/model"
	"telegram-referral-bot/internal/service"
)

// Registrar registers referrals.
type Registrar interface {
	Register(ctx context.Context, req service.RegisterRequest) (*service.RegisterResult, error)
}

// AccountReader serves user lookups.
type AccountReader interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserDetail(ctx context.Context, id string) (*service.UserDetail, error)
	ListUsers(ctx context.Context, limit int) ([]*model.User, error)
}

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	cfg       config.ServerConfig
	apiKey    string
	referrals Registrar
	accounts  AccountReader
	health    HealthChecker
	router    *chi.Mux
}

// NewServer builds the router. An empty apiKey leaves the write and
// admin routes open.
func NewServer(cfg config.ServerConfig, apiKey string, referrals Registrar, accounts AccountReader, health HealthChecker) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		apiKey:    apiKey,
		referrals: referrals,
		accounts:  accounts,
		health:    health,
		router:    r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/user/{id}", s.handleGetUser)
	r.Group(func(protected chi.Router) {
		protected.Use(APIKey(apiKey))
		protected.Post("/api/referral/register", s.handleRegister)
		protected.Route("/api/admin", func(r chi.Router) {
			r.Get("/users", s.handleListUsers)
			r.Get("/user/{id}", s.handleUserDetail)
		})
	})
	return s
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	shutdownTimeout := s.cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	log.Info().
		Str("addr", s.cfg.Addr).
		Bool("api_key_required", s.apiKey != "").
		Msg("HTTP API listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
