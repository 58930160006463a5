package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/config"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/embedding"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/engine"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/mining"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/retrieval"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

type server struct {
	cfg      *config.Config
	pipeline *engine.Pipeline
	embedder embedding.Embedder
	logger   *observability.Logger
}

func newServer(cfg *config.Config, pipeline *engine.Pipeline, embedder embedding.Embedder,
	logger *observability.Logger) *server {
	return &server{cfg: cfg, pipeline: pipeline, embedder: embedder, logger: logger}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/stats", s.handleStats)
		r.Get("/patterns", s.handlePatternsList)
		r.Post("/patterns/mine", s.handlePatternsMine)
		r.Post("/patterns/{id}/approve", s.handlePatternApprove)
		r.Post("/patterns/{id}/reject", s.handlePatternReject)
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// healthProber is implemented by embedders backed by a live service; the
// mock embedder is always healthy.
type healthProber interface {
	Health(ctx context.Context) error
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	embeddingStatus := "ok"
	if prober, ok := s.embedder.(healthProber); ok {
		if err := prober.Health(r.Context()); err != nil {
			embeddingStatus = "unreachable"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"embedding": embeddingStatus,
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Metrics())
}

type queryRequest struct {
	Query   string `json:"query"`
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	answer, err := s.pipeline.HandleQuery(r.Context(), req.Query, req.UserID, req.Subject)
	if err != nil {
		switch {
		case errors.Is(err, normalize.ErrEmptyInput):
			writeError(w, http.StatusBadRequest, "query must not be empty")
		case errors.Is(err, retrieval.ErrRetrievalUnavailable):
			writeError(w, http.StatusServiceUnavailable, "retrieval temporarily unavailable")
		default:
			s.logger.Error().Err(err).Msg("query failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *server) handlePatternsList(w http.ResponseWriter, r *http.Request) {
	pending, err := s.pipeline.PendingPatterns(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("pattern list failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if pending == nil {
		pending = []storage.LearnedPattern{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *server) handlePatternsMine(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.pipeline.MinePatterns(r.Context())
	if err != nil {
		if errors.Is(err, mining.ErrPatternStoreConflict) {
			writeError(w, http.StatusConflict, "a mining run is already in progress")
			return
		}
		s.logger.Error().Err(err).Msg("mining failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if candidates == nil {
		candidates = []storage.LearnedPattern{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *server) handlePatternApprove(w http.ResponseWriter, r *http.Request) {
	s.reviewPattern(w, r, true)
}

func (s *server) handlePatternReject(w http.ResponseWriter, r *http.Request) {
	s.reviewPattern(w, r, false)
}

func (s *server) reviewPattern(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern ID")
		return
	}

	if approve {
		err = s.pipeline.ApprovePattern(r.Context(), id)
	} else {
		err = s.pipeline.RejectPattern(r.Context(), id)
	}
	if err != nil {
		switch {
		case errors.Is(err, mining.ErrPatternStoreConflict):
			writeError(w, http.StatusConflict, "pattern is not pending review")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "pattern not found")
		default:
			s.logger.Error().Err(err).Msg("pattern review failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
