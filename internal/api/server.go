package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"genomevault/internal/config"
	"genomevault/internal/models"
	"genomevault/internal/objectstore"
	"genomevault/internal/pipeline"
	"genomevault/internal/ratelimit"
	"genomevault/internal/registry"
	"genomevault/internal/telemetry"
)

// Server wires the HTTP intake and query surface.
type Server struct {
	cfg     config.Config
	pool    *pipeline.Pool
	reg     *registry.Registry
	store   *objectstore.Store
	limiter *ratelimit.UploadLimiter
	log     *zap.SugaredLogger
}

// New constructs the API server. limiter may be nil (no Redis).
func New(cfg config.Config, pool *pipeline.Pool, reg *registry.Registry, store *objectstore.Store, limiter *ratelimit.UploadLimiter, log *zap.SugaredLogger) *Server {
	return &Server{cfg: cfg, pool: pool, reg: reg, store: store, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/upload", s.handleUpload)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/watch/{id}", s.handleWatch)
	r.Get("/result/{id}", s.handleResult)
	r.Get("/proof/{id}", s.handleProof)
	r.Post("/cancel/{id}", s.handleCancel)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   s.reg.Len(),
	})
}

// handleUpload accepts either a multipart form with a "file" part or a
// raw body with an X-Filename header.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		decision, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			s.log.Warnw("rate limiter unavailable", "err", err)
		} else if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			if decision.RetryAfter > 0 {
				secs := int(decision.RetryAfter/time.Second) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			errorJSON(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}

	// One past the limit so an exactly-at-limit body is admitted and
	// one byte more is distinguishable from a transport error.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxInputBytes+1)

	filename, data, err := readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			telemetry.JobsRejected.WithLabelValues("oversize").Inc()
			errorJSON(w, http.StatusRequestEntityTooLarge, "oversize")
			return
		}
		errorJSON(w, http.StatusBadRequest, "bad_request")
		return
	}

	id, err := s.pool.Submit(filename, data)
	switch {
	case errors.Is(err, pipeline.ErrEmpty):
		errorJSON(w, http.StatusBadRequest, "empty")
		return
	case errors.Is(err, pipeline.ErrOversize):
		errorJSON(w, http.StatusRequestEntityTooLarge, "oversize")
		return
	case errors.Is(err, pipeline.ErrQueueFull):
		errorJSON(w, http.StatusServiceUnavailable, "queue_full")
		return
	case err != nil:
		s.log.Errorw("submit failed", "err", err)
		errorJSON(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func readUpload(r *http.Request) (string, []byte, error) {
	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("read multipart file: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return header.Filename, data, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	filename := r.Header.Get("X-Filename")
	if filename == "" {
		filename = "upload"
	}
	return filename, data, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.reg.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleWatch streams job views as server-sent events until the job
// reaches a terminal state or the client goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, unsubscribe, err := s.reg.Subscribe(id)
	if err != nil {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		errorJSON(w, http.StatusInternalServerError, "internal")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case view, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(view)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if models.Terminal(view.State) {
				return
			}
		}
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	view, err := s.reg.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	if !models.Terminal(view.State) || view.Verdict == nil {
		errorJSON(w, http.StatusConflict, "not_ready")
		return
	}
	writeJSON(w, http.StatusOK, view.Verdict)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	proof, err := s.store.Proof(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, objectstore.ErrNotFound) {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		s.log.Errorw("proof lookup failed", "err", err)
		errorJSON(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

// handleCancel is idempotent; cancelling an already-terminal job is
// reported as ok.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.reg.State(id)
	if err != nil {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	if models.Terminal(state) {
		writeJSON(w, http.StatusOK, map[string]string{"status": state})
		return
	}
	if err := s.reg.Cancel(id); err != nil {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorJSON(w http.ResponseWriter, code int, kind string) {
	writeJSON(w, code, map[string]string{"error": kind})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
