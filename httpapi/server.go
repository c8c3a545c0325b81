// Package httpapi exposes the webhook ingestion and administrative surface.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Rahuldrabit/support-agent/analytics"
	"github.com/Rahuldrabit/support-agent/dispatch"
	"github.com/Rahuldrabit/support-agent/gate"
	"github.com/Rahuldrabit/support-agent/store"
)

type Config struct {
	Listen string
	// Webhook HMAC secrets per platform. Empty disables verification for
	// that platform.
	TikTokWebhookSecret   string
	LinkedInWebhookSecret string
	// AdminToken guards /admin routes when set.
	AdminToken string
}

type Server struct {
	cfg        Config
	store      *store.Store
	pipeline   *gate.Pipeline
	dispatcher *dispatch.Dispatcher
	sink       *analytics.Sink
	log        *slog.Logger

	http *http.Server
}

type Options struct {
	Config     Config
	Store      *store.Store
	Pipeline   *gate.Pipeline
	Dispatcher *dispatch.Dispatcher
	Sink       *analytics.Sink
	Logger     *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Config.Listen == "" {
		opts.Config.Listen = ":8080"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		pipeline:   opts.Pipeline,
		dispatcher: opts.Dispatcher,
		sink:       opts.Sink,
		log:        log,
	}
	s.http = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/tiktok", s.handleTikTokWebhook)
		r.Post("/linkedin", s.handleLinkedInWebhook)
		r.Get("/verify", s.handleWebhookVerify)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/conversations/{id}/escalate", s.handleEscalate)
		r.Post("/conversations/{id}/close", s.handleClose)
		r.Post("/conversations/{id}/assign", s.handleAssign)
		r.Post("/messages/{id}/override", s.handleOverride)
		r.Get("/config/{key}", s.handleGetConfig)
		r.Put("/config/{key}", s.handleSetConfig)
		r.Get("/analytics/summary", s.handleAnalyticsSummary)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info("http_server_start", "listen", s.cfg.Listen)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
