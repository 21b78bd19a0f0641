package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MikeSquared-Agency/floatctl/internal/processor"
	"github.com/MikeSquared-Agency/floatctl/internal/records"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

const (
	ndjsonContentType = "application/x-ndjson"
	trailerAccepted   = "X-Floatctl-Accepted"
	trailerFailed     = "X-Floatctl-Failed"
)

type Server struct {
	router       *chi.Mux
	port         int
	proc         *processor.Processor
	maxLineBytes int
	logger       *slog.Logger
	http         *http.Server
}

// NewServer wires the capture routes. Capture routes require apiToken as a
// bearer token unless it is empty.
func NewServer(port int, apiToken string, proc *processor.Processor, maxLineBytes int, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{trailerAccepted, trailerFailed},
		MaxAge:         300,
	}))

	if maxLineBytes <= 0 {
		maxLineBytes = stream.DefaultMaxLineBytes
	}

	s := &Server{
		router:       router,
		port:         port,
		proc:         proc,
		maxLineBytes: maxLineBytes,
		logger:       logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/floatctl/status", s.status)

	router.Route("/api/v1/capture", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.capture)
		r.Post("/records", s.captureRecords)
		r.Get("/ws", s.captureSocket)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called, then returns http.ErrServerClosed.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"agent":  "floatctl",
		"status": "capturing",
	})
}

// capture handles POST /api/v1/capture. The body is a JSON array or NDJSON
// export; the response is the capture report.
func (s *Server) capture(w http.ResponseWriter, r *http.Request) {
	report, err := s.proc.CaptureReader(r.Context(), r.Body, captureSource(r))
	if err != nil {
		s.writeCaptureError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// captureRecords handles POST /api/v1/capture/records. Accepted conversations
// are streamed back as NDJSON records while the body is still being read.
// Counts are sent as trailers once the export is exhausted.
func (s *Server) captureRecords(w http.ResponseWriter, r *http.Request) {
	// HTTP/1 bodies are otherwise closed once the first record is flushed.
	_ = http.NewResponseController(w).EnableFullDuplex()
	w.Header().Set("Content-Type", ndjsonContentType)
	w.Header().Set("Trailer", trailerAccepted+", "+trailerFailed)

	rw := records.NewWriter(w)
	report, err := s.proc.CaptureRecords(r.Context(), r.Body, rw, captureSource(r))
	if err != nil {
		if rw.Lines() == 0 {
			s.writeCaptureError(w, err)
			return
		}
		s.logger.Error("record stream aborted", "lines", rw.Lines(), "error", err)
		return
	}

	w.Header().Set(trailerAccepted, strconv.Itoa(len(report.Accepted)))
	w.Header().Set(trailerFailed, strconv.Itoa(len(report.Failed)))
}

func (s *Server) writeCaptureError(w http.ResponseWriter, err error) {
	w.Header().Del("Trailer")
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, stream.ErrEmptyFile), errors.Is(err, stream.ErrInvalidFormat):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		return
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("capture failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func captureSource(r *http.Request) string {
	if src := r.URL.Query().Get("source"); src != "" {
		return src
	}
	return "http"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
