// Package server exposes the extraction and contract API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nurisoft/contractdesk/internal/contract"
	"github.com/nurisoft/contractdesk/internal/extract"
	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/internal/store"
)

// DefaultMaxUploadBytes caps uploads at 10MB before any extractor runs.
const DefaultMaxUploadBytes = 10 << 20

// Analyzer runs document extraction. Implemented by extract.Orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, doc extract.Document, preferred model.Engine) (*model.ExtractionResult, error)
}

// Options tunes server limits.
type Options struct {
	MaxUploadBytes int64
	UploadDir      string // temp-file location; empty means the OS default
}

// Server wires the HTTP routes to the extraction and contract services.
type Server struct {
	analyzer  Analyzer
	contracts *contract.Service
	store     store.Store
	opts      Options
	router    chi.Router
}

// New builds the server and its route table.
func New(analyzer Analyzer, contracts *contract.Service, st store.Store, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{
		analyzer:  analyzer,
		contracts: contracts,
		store:     st,
		opts:      opts,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)

		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", s.handleCreateContract)
			r.Get("/", s.handleListContracts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetContract)
				r.Put("/", s.handleUpdateContract)
				r.Delete("/", s.handleDeleteContract)
				r.Get("/schedule", s.handleGetSchedule)
				r.Post("/schedule", s.handleRegenerateSchedule)
			})
		})

		r.Patch("/payments/{id}", s.handleUpdatePayment)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
