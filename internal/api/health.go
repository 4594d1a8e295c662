package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/wordreel/internal/jobs"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Queue         *jobs.QueueStats  `json:"queue,omitempty"`
	TTSBackend    string            `json:"tts_backend,omitempty"`
	Storage       string            `json:"storage,omitempty"`
}

// Pinger reports whether a dependency is reachable. *database.DB satisfies it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db         Pinger // nil when job history is not configured
	queue      JobQueue
	encoderErr error // result of the startup binary check
	ttsBackend string
	storage    string
	version    string
	startTime  time.Time
}

func NewHealthHandler(db Pinger, queue JobQueue, encoderErr error, ttsBackend, storage, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:         db,
		queue:      queue,
		encoderErr: encoderErr,
		ttsBackend: ttsBackend,
		storage:    storage,
		version:    version,
		startTime:  startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.encoderErr != nil {
		checks["ffmpeg"] = "missing"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ffmpeg"] = "ok"
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		TTSBackend:    h.ttsBackend,
		Storage:       h.storage,
	}
	if h.queue != nil {
		qs := h.queue.Stats()
		resp.Queue = &qs
	}

	WriteJSON(w, httpStatus, resp)
}
