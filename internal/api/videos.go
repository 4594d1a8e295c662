package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/wordreel/internal/database"
	"github.com/snarg/wordreel/internal/jobs"
	"github.com/snarg/wordreel/internal/reel"
)

// JobQueue is the part of the job pool the handlers use. *jobs.Pool satisfies it.
type JobQueue interface {
	Submit(text string) (*jobs.Ticket, error)
	Get(id string) (*jobs.Ticket, bool)
	Stats() jobs.QueueStats
}

// JobHistory looks up recorded jobs. *database.DB satisfies it.
type JobHistory interface {
	GetVideoJob(ctx context.Context, id string) (*database.VideoJob, error)
	ListVideoJobs(ctx context.Context, status string, limit, offset int) ([]database.VideoJob, int, error)
}

// VideoSource reads stored videos. storage.VideoStore satisfies it.
type VideoSource interface {
	LocalPath(key string) string
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type VideosHandler struct {
	queue   JobQueue
	store   VideoSource
	history JobHistory // nil without a database
}

func NewVideosHandler(queue JobQueue, store VideoSource, history JobHistory) *VideosHandler {
	return &VideosHandler{queue: queue, store: store, history: history}
}

// Routes registers the job API on the given router.
func (h *VideosHandler) Routes(r chi.Router) {
	r.Post("/videos", h.CreateVideo)
	r.Get("/videos", h.ListVideos)
	r.Get("/videos/queue", h.GetQueueStats)
	r.Get("/videos/{id}", h.GetVideo)
	r.Get("/videos/{id}/file", h.DownloadVideo)
}

// GenerateVideo renders ?text= and responds with the MP4 as output.mp4. The
// request holds until the job finishes; a client that disconnects leaves the
// job running and its result stays available through the job API.
func (h *VideosHandler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		WriteError(w, http.StatusBadRequest, "Text parameter is required")
		return
	}

	t, err := h.queue.Submit(text)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	w.Header().Set("X-Job-ID", t.ID)

	res, err := t.Wait(r.Context())
	if err != nil {
		log := hlog.FromRequest(r)
		if r.Context().Err() != nil {
			log.Info().Str("job_id", t.ID).Msg("client went away before video was ready")
			return
		}
		log.Warn().Err(err).Str("job_id", t.ID).Msg("video generation failed")
		WriteError(w, http.StatusInternalServerError, "Failed to generate video")
		return
	}
	h.serveVideo(w, r, res.Key, "output.mp4")
}

// CreateVideo queues a job and returns its id immediately.
func (h *VideosHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if body.Text == "" {
		WriteError(w, http.StatusBadRequest, "text is required")
		return
	}

	t, err := h.queue.Submit(body.Text)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	statusURL := "/api/v1/videos/" + t.ID
	w.Header().Set("Location", statusURL)
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":         t.ID,
		"status":     database.StatusQueued,
		"word_count": t.WordCount,
		"status_url": statusURL,
	})
}

type videoResponse struct {
	database.VideoJob
	URL     string `json:"url,omitempty"`      // presigned, S3-backed stores only
	FileURL string `json:"file_url,omitempty"` // served by this API
}

// GetVideo returns the state of a job, live or recorded.
func (h *VideosHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}

	resp := videoResponse{VideoJob: *job}
	if job.Status == database.StatusDone && job.VideoKey != "" {
		resp.FileURL = "/api/v1/videos/" + job.ID + "/file"
		if u, err := h.store.URL(r.Context(), job.VideoKey); err == nil {
			resp.URL = u
		} else {
			hlog.FromRequest(r).Warn().Err(err).Str("job_id", job.ID).Msg("presign failed")
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// DownloadVideo streams a finished video, or redirects to a presigned URL when
// the video is only held remotely.
func (h *VideosHandler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != database.StatusDone || job.VideoKey == "" {
		WriteErrorDetail(w, http.StatusConflict, "video is not ready", "status: "+job.Status)
		return
	}

	if h.store.LocalPath(job.VideoKey) == "" {
		if u, err := h.store.URL(r.Context(), job.VideoKey); err == nil && u != "" {
			http.Redirect(w, r, u, http.StatusFound)
			return
		}
	}
	h.serveVideo(w, r, job.VideoKey, job.ID+".mp4")
}

// ListVideos pages through recorded jobs, newest first.
func (h *VideosHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteError(w, http.StatusServiceUnavailable, "job history not configured")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", database.StatusQueued, database.StatusRunning, database.StatusDone, database.StatusFailed:
	default:
		WriteError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	videos, total, err := h.history.ListVideoJobs(r.Context(), status, p.Limit, p.Offset)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list video jobs failed")
		WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	if videos == nil {
		videos = []database.VideoJob{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"videos": videos,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// GetQueueStats returns the job pool's counters.
func (h *VideosHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}

// lookup resolves {id} to a job, preferring the live ticket. It writes the
// error response itself and reports false when there is nothing to return.
func (h *VideosHandler) lookup(w http.ResponseWriter, r *http.Request) (*database.VideoJob, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid video ID")
		return nil, false
	}
	if t, ok := h.queue.Get(id); ok {
		j := t.Info()
		return &j, true
	}
	if h.history == nil {
		WriteError(w, http.StatusNotFound, "video not found")
		return nil, false
	}
	j, err := h.history.GetVideoJob(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "video not found")
		return nil, false
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("job_id", id).Msg("video job lookup failed")
		WriteError(w, http.StatusInternalServerError, "failed to look up video")
		return nil, false
	}
	return j, true
}

func (h *VideosHandler) serveVideo(w http.ResponseWriter, r *http.Request, key, filename string) {
	if p := h.store.LocalPath(key); p != "" {
		if f, err := os.Open(p); err == nil {
			defer f.Close()
			if st, err := f.Stat(); err == nil {
				w.Header().Set("Content-Type", "video/mp4")
				w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
				http.ServeContent(w, r, filename, st.ModTime(), f)
				return
			}
		}
	}

	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("open stored video failed")
		WriteError(w, http.StatusNotFound, "video file not found")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Str("key", key).Msg("video stream interrupted")
	}
}

// writeSubmitError maps a rejected submission to a response.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reel.ErrInput):
		WriteErrorDetail(w, http.StatusBadRequest, "text has no words", err.Error())
	case errors.Is(err, jobs.ErrTooLong):
		WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "text too long", err.Error())
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		WriteError(w, http.StatusServiceUnavailable, "video queue is full")
	case errors.Is(err, jobs.ErrStopped):
		WriteError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		WriteError(w, http.StatusInternalServerError, "Failed to generate video")
	}
}
