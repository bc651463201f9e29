// Package web exposes the batch dispatcher over HTTP.
package web

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/log"
	"github.com/google/uuid"
)

// batchHeader carries the batch id of an upload, generated or client supplied.
const batchHeader = "X-Batch-ID"

//go:embed static/index.html
var indexHTML []byte

// Dispatcher runs one batch of jobs to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobs []domain.Job) (domain.BatchResult, error)
}

// Spool stores uploads on disk and reclaims them once the batch is answered.
type Spool interface {
	Save(batchID, name string, r io.Reader) (domain.Job, error)
	Remove(jobs ...domain.Job)
}

// Config holds the HTTP layer settings.
type Config struct {
	// MaxUploadBytes bounds the request body of an upload.
	MaxUploadBytes int64
	// States is reported by /health.
	States int
}

// Server wires the HTTP routes to the dispatcher.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	spool      Spool
	// bus is optional; nil disables queued events.
	bus     domain.EventBus
	hub     *Hub
	limiter *RateLimiter
}

func NewServer(cfg Config, dispatcher Dispatcher, spool Spool, bus domain.EventBus, hub *Hub, limiter *RateLimiter) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		spool:      spool,
		bus:        bus,
		hub:        hub,
		limiter:    limiter,
	}
}

// Handler returns the routes wrapped in the logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	// POST /api/transcribe -> runs the batch (wrapped with RateLimit)
	mux.HandleFunc("POST /api/transcribe", s.limiter.Middleware(s.handleTranscribe))
	mux.HandleFunc("POST /upload", s.limiter.Middleware(s.handleTranscribe))
	// GET /api/ws -> WebSocket upgrade
	mux.HandleFunc("GET /api/ws", s.hub.ServeWS)

	return Logging(CORS(mux))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "states": s.cfg.States})
}

type transcribeResponse struct {
	BatchID string            `json:"batch_id"`
	Results map[string]string `json:"results"`
}

type failureResponse struct {
	BatchID string `json:"batch_id"`
	File    string `json:"file,omitempty"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

// handleTranscribe spools every file part of the multipart body, dispatches them as one batch
// and answers with either every transcript or the first failure.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		batchID = uuid.NewString()
	}
	w.Header().Set(batchHeader, batchID)
	ctx := log.ContextAttrs(r.Context(), slog.String("batch", batchID))

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	// 1. Decode and spool the upload
	jobs, status, err := s.receive(batchID, r)
	defer s.spool.Remove(jobs...)
	if err != nil {
		slog.WarnContext(ctx, "Rejected upload", "status", status, "error", err)
		respondJSON(w, status, failureResponse{BatchID: batchID, Error: err.Error()})
		return
	}
	slog.InfoContext(ctx, "Received batch", "files", len(jobs))
	for _, job := range jobs {
		s.publish(ctx, job)
	}

	// 2. Run the batch
	res, err := s.dispatcher.Dispatch(ctx, jobs)
	if err != nil {
		slog.ErrorContext(ctx, "Batch aborted", "error", err)
		respondJSON(w, http.StatusInternalServerError,
			failureResponse{BatchID: batchID, Error: err.Error(), Kind: domain.Kind(err)})
		return
	}

	// 3. Respond
	if res.Failed() {
		respondJSON(w, http.StatusUnprocessableEntity, failureResponse{
			BatchID: batchID,
			File:    res.Failure.Name,
			Error:   res.Failure.Err.Error(),
			Kind:    domain.Kind(res.Failure.Err),
		})
		return
	}
	respondJSON(w, http.StatusOK, transcribeResponse{BatchID: batchID, Results: res.Results})
}

// receive returns the spooled jobs along with the status code to answer with on error.
// Jobs spooled before an error are returned so the caller can remove them.
func (s *Server) receive(batchID string, r *http.Request) ([]domain.Job, int, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	var jobs []domain.Job
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return jobs, uploadStatus(err, http.StatusBadRequest), err
		}

		// Fields without a file name are not files
		name := part.FileName()
		if name == "" {
			_ = part.Close()
			continue
		}

		job, err := s.spool.Save(batchID, name, part)
		_ = part.Close()
		if err != nil {
			return jobs, uploadStatus(err, http.StatusInternalServerError), err
		}
		jobs = append(jobs, job)
	}

	if len(jobs) == 0 {
		return nil, http.StatusBadRequest, errors.New("no files in request")
	}
	return jobs, http.StatusOK, nil
}

// uploadStatus maps a body read error to 413 when the size limit was hit
// and to 400 when the body ended early.
func uploadStatus(err error, fallback int) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, io.ErrUnexpectedEOF):
		return http.StatusBadRequest
	}
	return fallback
}

func (s *Server) publish(ctx context.Context, job domain.Job) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(ctx, domain.Event{
		BatchID: job.BatchID,
		File:    job.Name,
		Stage:   domain.StageQueued,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to publish event", "error", err)
	}
}
