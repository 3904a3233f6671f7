package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mochi_backend/db"
	"mochi_backend/generation"
	"mochi_backend/imagerepo"
	"mochi_backend/shutdown"
)

// List limits for /api/history and /api/metrics.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status  string  `json:"status"`
	Version string  `json:"version,omitempty"`
	Uptime  float64 `json:"uptime_secs"`
	State   string  `json:"state"`
	Queue   int     `json:"queue"`
}

// ModelInfo is one entry of /api/models.
type ModelInfo struct {
	Name         string                  `json:"name"`
	Kind         generation.PipelineKind `json:"kind"`
	Path         string                  `json:"path"`
	Type         string                  `json:"type,omitempty"`
	ControlNets  []string                `json:"control_nets,omitempty"`
	Capabilities generation.Capabilities `json:"capabilities"`
}

// ImagesResponse is the body of /api/images.
type ImagesResponse struct {
	Images []imagerepo.Record `json:"images"`
	Count  int                `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Service.Snapshot()
	queued := len(snap.Queue)
	if snap.Current != nil {
		queued++
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Uptime:  time.Since(s.startedAt).Seconds(),
		State:   s.deps.Service.State().Status().Kind.String(),
		Queue:   queued,
	})
}

// handleGenerate decodes a GenerateRequest and enqueues it as one request
// producing NumberOfImages images.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var body GenerateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var resp GenerateResponse
	enqueue := func(ctx context.Context) error {
		models, err := s.deps.Models.Load(ctx, s.config.Defaults.ModelDir, s.config.Defaults.ControlNetDir)
		if err != nil {
			return err
		}
		req, err := body.ToRequest(models, s.config.Defaults)
		if err != nil {
			return err
		}
		if err := s.deps.Service.Enqueue(req); err != nil {
			return err
		}
		resp = GenerateResponse{
			ID:             req.ID,
			Seed:           req.Seed,
			NumberOfImages: req.NumberOfImages,
			QueueLength:    len(s.deps.Service.Snapshot().Queue),
		}
		s.logger.Info("Generation request accepted",
			zap.String("request_id", req.ID),
			zap.Stringer("pipeline", req.Pipeline.Kind),
			zap.String("model", req.Pipeline.DisplayName()),
			zap.Int("images", req.NumberOfImages),
		)
		return nil
	}

	var err error
	if s.deps.Tracker != nil {
		err = s.deps.Tracker.Track(r.Context(), "generate", enqueue)
	} else {
		err = enqueue(r.Context())
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, resp)
	case errors.Is(err, ErrUnknownModel):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, generation.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, generation.ErrServiceClosed), errors.Is(err, shutdown.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		s.logger.Error("Failed to enqueue generation request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.Snapshot())
}

// handleRemoveQueued drops a pending request. The running request cannot be
// removed; clients stop it with POST /api/stop.
func (s *Server) handleRemoveQueued(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap := s.deps.Service.Snapshot()
	if snap.Current != nil && snap.Current.ID == id {
		writeError(w, http.StatusConflict, "request is running; use /api/stop")
		return
	}
	if !snap.Contains(id) {
		writeError(w, http.StatusNotFound, "request not queued")
		return
	}
	s.deps.Service.RemoveQueued(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Service.StopCurrentGeneration()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Service.State()
	ev := generation.StateEvent{Status: state.Status()}
	if d, ok := state.LastStepElapsed(); ok {
		ev.LastStepElapsed = d
	}
	writeJSON(w, http.StatusOK, NewStateData(ev))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Models.Load(r.Context(), s.config.Defaults.ModelDir, s.config.Defaults.ControlNetDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		info := ModelInfo{Name: m.Name(), Kind: m.Kind, Path: m.Path()}
		switch {
		case m.SD != nil:
			info.Type = m.SD.Type.String()
			info.ControlNets = m.SD.ControlNets
			info.Capabilities = generation.NewSDPipeline(*m.SD, "", nil, false).Capabilities()
		case m.Flux != nil:
			info.Type = "flux"
			info.Capabilities = generation.NewFluxPipeline(m.Flux.Path).Capabilities()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out, "count": len(out)})
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gallery == nil {
		writeJSON(w, http.StatusOK, ImagesResponse{Images: []imagerepo.Record{}})
		return
	}
	images := s.deps.Gallery.Images()
	if images == nil {
		images = []imagerepo.Record{}
	}
	writeJSON(w, http.StatusOK, ImagesResponse{Images: images, Count: len(images)})
}

func (s *Server) findImage(name string) (imagerepo.Record, bool) {
	if s.deps.Gallery == nil {
		return imagerepo.Record{}, false
	}
	for _, rec := range s.deps.Gallery.Images() {
		if rec.Name == name {
			return rec, true
		}
	}
	return imagerepo.Record{}, false
}

// handleImageFile serves an image from the gallery by file name; paths
// outside the gallery are never served.
func (s *Server) handleImageFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.findImage(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, rec.Path)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.findImage(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if s.deps.Images != nil {
		if err := s.deps.Images.Delete(rec.Path); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.deps.Gallery.Remove(rec.Path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	records, err := s.deps.History.RecentRequests(r.Context(), parseLimit(r, DefaultListLimit, MaxListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []db.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": records, "count": len(records)})
}

func (s *Server) handleHistoryRequest(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	rec, err := s.deps.History.Request(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Metrics.Summary(parseLimit(r, DefaultListLimit, MaxListLimit)))
}

// parseLimit reads ?limit=, clamped to [1, maxLimit].
func parseLimit(r *http.Request, def, maxLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return min(n, maxLimit)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
