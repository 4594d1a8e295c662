package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/config"
	"github.com/snarg/wordreel/internal/database"
	"github.com/snarg/wordreel/internal/jobs"
	"github.com/snarg/wordreel/internal/reel"
)

type fakeAssembler struct {
	err error
}

func (f *fakeAssembler) Assemble(ctx context.Context, text, outputPath string) (*reel.VideoOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(outputPath, []byte("MP4:"+text), 0o644); err != nil {
		return nil, err
	}
	return &reel.VideoOutput{Path: outputPath, Width: 64, Height: 48, FrameRate: 24, Duration: 1}, nil
}

// memVideos is an in-memory video store. presign, when set, is returned as
// the URL of every key.
type memVideos struct {
	mu      sync.Mutex
	objects map[string][]byte
	presign string
}

func (m *memVideos) Save(ctx context.Context, key string, data []byte, ct string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memVideos) LocalPath(key string) string { return "" }

func (m *memVideos) URL(ctx context.Context, key string) (string, error) {
	if m.presign == "" {
		return "", nil
	}
	return m.presign + key, nil
}

func (m *memVideos) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeHistory struct {
	jobs map[string]database.VideoJob
	err  error
}

func (f *fakeHistory) GetVideoJob(ctx context.Context, id string) (*database.VideoJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &j, nil
}

func (f *fakeHistory) ListVideoJobs(ctx context.Context, status string, limit, offset int) ([]database.VideoJob, int, error) {
	var out []database.VideoJob
	for _, j := range f.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out, len(out), f.err
}

type testEnv struct {
	router  http.Handler
	pool    *jobs.Pool
	store   *memVideos
	history *fakeHistory
}

func newTestEnv(t *testing.T, asm jobs.Assembler, token string) *testEnv {
	t.Helper()
	store := &memVideos{}
	pool := jobs.NewPool(jobs.PoolOptions{
		Assembler: asm,
		Store:     store,
		TempDir:   t.TempDir(),
		Workers:   1,
		QueueSize: 4,
		Log:       zerolog.Nop(),
	})
	pool.Start()
	t.Cleanup(func() { pool.Stop(context.Background()) })

	history := &fakeHistory{jobs: map[string]database.VideoJob{}}
	router := NewRouter(ServerOptions{
		Config:    &config.Config{AuthToken: token},
		Jobs:      pool,
		Store:     store,
		History:   history,
		Version:   "test",
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	})
	return &testEnv{router: router, pool: pool, store: store, history: history}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestGenerateVideo(t *testing.T) {
	t.Run("missing_text", func(t *testing.T) {
		env := newTestEnv(t, &fakeAssembler{}, "")
		rec := env.do(httptest.NewRequest("GET", "/generate-video", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if got := decodeError(t, rec).Error; got != "Text parameter is required" {
			t.Errorf("error = %q", got)
		}
	})

	t.Run("success_streams_attachment", func(t *testing.T) {
		env := newTestEnv(t, &fakeAssembler{}, "")
		rec := env.do(httptest.NewRequest("GET", "/generate-video?text=hello+world", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="output.mp4"`) {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if rec.Body.String() != "MP4:hello world" {
			t.Errorf("body = %q", rec.Body.String())
		}
		if rec.Header().Get("X-Job-ID") == "" {
			t.Error("missing X-Job-ID")
		}
	})

	t.Run("pipeline_failure", func(t *testing.T) {
		env := newTestEnv(t, &fakeAssembler{err: reel.Errorf(reel.KindEncoding, "ffmpeg exited")}, "")
		rec := env.do(httptest.NewRequest("GET", "/generate-video?text=hi", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if got := decodeError(t, rec).Error; got != "Failed to generate video" {
			t.Errorf("error = %q", got)
		}
	})

	t.Run("whitespace_only", func(t *testing.T) {
		env := newTestEnv(t, &fakeAssembler{}, "")
		rec := env.do(httptest.NewRequest("GET", "/generate-video?text=%20%20", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("requires_auth_when_configured", func(t *testing.T) {
		env := newTestEnv(t, &fakeAssembler{}, "s3cret")
		rec := env.do(httptest.NewRequest("GET", "/generate-video?text=hi", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestCreateAndFetchVideo(t *testing.T) {
	env := newTestEnv(t, &fakeAssembler{}, "")
	env.store.presign = "https://bucket.example/"

	rec := env.do(httptest.NewRequest("POST", "/api/v1/videos", strings.NewReader(`{"text":"one two three"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		WordCount int    `json:"word_count"`
		StatusURL string `json:"status_url"`
	}
	json.NewDecoder(rec.Body).Decode(&created)
	if created.WordCount != 3 || created.Status != "queued" {
		t.Errorf("created = %+v", created)
	}
	if rec.Header().Get("Location") != created.StatusURL {
		t.Errorf("Location = %q, want %q", rec.Header().Get("Location"), created.StatusURL)
	}

	tk, ok := env.pool.Get(created.ID)
	if !ok {
		t.Fatal("ticket not registered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := tk.Wait(ctx); err != nil {
		t.Fatalf("job failed: %v", err)
	}

	rec = env.do(httptest.NewRequest("GET", created.StatusURL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var status struct {
		Status   string `json:"status"`
		VideoKey string `json:"video_key"`
		URL      string `json:"url"`
		FileURL  string `json:"file_url"`
	}
	json.NewDecoder(rec.Body).Decode(&status)
	if status.Status != "done" || status.VideoKey == "" {
		t.Errorf("status = %+v", status)
	}
	if status.URL != "https://bucket.example/"+status.VideoKey {
		t.Errorf("URL = %q", status.URL)
	}

	// remote-only store redirects to the presigned URL
	rec = env.do(httptest.NewRequest("GET", status.FileURL, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("file: expected 302, got %d", rec.Code)
	}

	env.store.presign = ""
	rec = env.do(httptest.NewRequest("GET", status.FileURL, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "MP4:one two three" {
		t.Errorf("file: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateVideo_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"text":`, http.StatusBadRequest},
		{"missing_text", `{}`, http.StatusBadRequest},
		{"no_words", `{"text":"\n\t"}`, http.StatusBadRequest},
		{"too_large", `{"text":"` + strings.Repeat("a", 2<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeAssembler{}, "")
			rec := env.do(httptest.NewRequest("POST", "/api/v1/videos", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetVideo_Lookup(t *testing.T) {
	env := newTestEnv(t, &fakeAssembler{}, "")
	const recorded = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	env.history.jobs[recorded] = database.VideoJob{ID: recorded, Status: database.StatusFailed, ErrorKind: "encoding"}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"invalid_id", "/api/v1/videos/not-a-uuid", http.StatusBadRequest},
		{"unknown", "/api/v1/videos/0b9b3a52-1111-4f4e-8a4c-2d6b5e8f7a90", http.StatusNotFound},
		{"from_history", "/api/v1/videos/" + recorded, http.StatusOK},
		{"file_not_ready", "/api/v1/videos/" + recorded + "/file", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetVideo_HistoryError(t *testing.T) {
	env := newTestEnv(t, &fakeAssembler{}, "")
	env.history.err = errors.New("connection refused")
	rec := env.do(httptest.NewRequest("GET", "/api/v1/videos/0b9b3a52-1111-4f4e-8a4c-2d6b5e8f7a90", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestListVideos(t *testing.T) {
	env := newTestEnv(t, &fakeAssembler{}, "")
	env.history.jobs["a"] = database.VideoJob{ID: "a", Status: database.StatusDone}
	env.history.jobs["b"] = database.VideoJob{ID: "b", Status: database.StatusFailed}

	rec := env.do(httptest.NewRequest("GET", "/api/v1/videos?status=done", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Videos []database.VideoJob `json:"videos"`
		Total  int                 `json:"total"`
		Limit  int                 `json:"limit"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Total != 1 || len(body.Videos) != 1 || body.Videos[0].ID != "a" || body.Limit != 50 {
		t.Errorf("body = %+v", body)
	}

	for _, q := range []string{"status=bogus", "limit=0"} {
		rec := env.do(httptest.NewRequest("GET", "/api/v1/videos?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestListVideos_NoHistory(t *testing.T) {
	h := NewVideosHandler(nil, &memVideos{}, nil)
	rec := httptest.NewRecorder()
	h.ListVideos(rec, httptest.NewRequest("GET", "/api/v1/videos", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestQueueStatsAndHealth(t *testing.T) {
	env := newTestEnv(t, &fakeAssembler{}, "tok")

	rec := env.do(httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200 without auth, got %d", rec.Code)
	}
	var health HealthResponse
	json.NewDecoder(rec.Body).Decode(&health)
	if health.Status != "healthy" || health.Checks["database"] != "not_configured" || health.Queue == nil {
		t.Errorf("health = %+v", health)
	}

	req := httptest.NewRequest("GET", "/api/v1/videos/queue", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue: expected 200, got %d", rec.Code)
	}
	var qs jobs.QueueStats
	json.NewDecoder(rec.Body).Decode(&qs)
	if qs.Workers != 1 {
		t.Errorf("Workers = %d, want 1", qs.Workers)
	}
}

type badPinger struct{}

func (badPinger) HealthCheck(ctx context.Context) error { return errors.New("down") }

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		encoderErr error
		wantStatus string
		wantCode   int
	}{
		{"db_down", badPinger{}, nil, "degraded", http.StatusOK},
		{"no_ffmpeg", nil, errors.New("not found"), "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, nil, tt.encoderErr, "google", "local", "test", time.Now())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body HealthResponse
			json.NewDecoder(rec.Body).Decode(&body)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeAssembler{}, "tok")
	rec := env.do(httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wordreel_") {
		t.Error("metrics output missing wordreel_ series")
	}
}
