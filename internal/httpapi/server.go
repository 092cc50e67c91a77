// Package httpapi provides the operational HTTP surface of the daemon.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai_feed/internal/model"
	"ai_feed/internal/storage"
)

// Store is the subset of storage read by the handlers.
type Store interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
	Stats(ctx context.Context) (model.ProcessingStats, error)
}

// SourceProcessor runs ingestion and categorization for one source.
type SourceProcessor interface {
	ProcessSource(ctx context.Context, src model.Source) error
}

// ProviderTester sends a probe prompt to one provider.
type ProviderTester interface {
	TestProvider(ctx context.Context, id string) (string, error)
}

// Server routes operational requests.
type Server struct {
	store     Store
	processor SourceProcessor
	tester    ProviderTester
	log       *slog.Logger
	router    chi.Router
}

// New creates a Server with its routes registered.
func New(store Store, processor SourceProcessor, tester ProviderTester, log *slog.Logger) *Server {
	s := &Server{
		store:     store,
		processor: processor,
		tester:    tester,
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/sources/{sourceID}/fetch", s.handleFetchSource)
		r.Post("/providers/{providerID}/test", s.handleTestProvider)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	TotalSources    int     `json:"total_sources"`
	ActiveSources   int     `json:"active_sources"`
	TotalItems      int     `json:"total_items"`
	CompletedItems  int     `json:"completed_items"`
	PendingItems    int     `json:"pending_items"`
	ProcessingItems int     `json:"processing_items"`
	FailedItems     int     `json:"failed_items"`
	ProcessingRate  float64 `json:"processing_rate"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("load stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalSources:    st.TotalSources,
		ActiveSources:   st.ActiveSources,
		TotalItems:      st.TotalItems,
		CompletedItems:  st.CompletedItems,
		PendingItems:    st.PendingItems,
		ProcessingItems: st.ProcessingItems,
		FailedItems:     st.FailedItems,
		ProcessingRate:  st.ProcessingRate(),
	})
}

func (s *Server) handleFetchSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sourceID")
	src, err := s.store.GetSource(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		s.log.Error("load source", "source_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}

	if err := s.processor.ProcessSource(r.Context(), *src); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "source_id": src.ID})
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerID")
	text, err := s.tester.TestProvider(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "provider not found")
	case err != nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": text})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
