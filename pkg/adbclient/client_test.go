package adbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) {
	return s.token, s.err
}

type recorder struct {
	mu      sync.Mutex
	headers []http.Header
}

func (r *recorder) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	if rec != nil {
		r.Use(rec.middleware)
	}
	r.Get("/api/jobs/{jobID}", func(w http.ResponseWriter, req *http.Request) {
		switch id := chi.URLParam(req, "jobID"); id {
		case "done":
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "SUCCESS",
				"task_id": "done",
				"result":  map[string]any{"indexed": 3},
				"extra":   true,
			})
		case "gone":
			writeJSON(w, http.StatusOK, map[string]any{"status": "PENDING", "task_id": nil, "result": nil, "traceback": nil})
		case "boom":
			writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "backend exploded"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"detail": "no such job " + id})
		}
	})
	r.Get("/api/search", func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Query().Get("page") {
		case "":
			assert.Equal(t, `_extra.project_id:"P1"`, req.URL.Query().Get("q"))
			assert.Equal(t, "true", req.URL.Query().Get("latest"))
			writeJSON(w, http.StatusOK, map[string]any{
				"results": []map[string]any{{"path": "a.txt"}, {"path": "b.txt"}},
				"total":   3,
				"next":    "/search?page=2",
			})
		case "2":
			writeJSON(w, http.StatusOK, map[string]any{
				"results": []map[string]any{{"path": "c.txt"}},
				"total":   3,
			})
		}
	})
	r.Get("/api/files/{aid}/download", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("payload for " + chi.URLParam(req, "aid")))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_JobStatus(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)

	st, err := c.JobStatus(context.Background(), "/jobs/done")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, "done", st.TaskID)
	assert.False(t, st.Purged())
	assert.Equal(t, true, st.Document["extra"])

	abs, err := c.JobStatus(context.Background(), srv.URL+"/api/jobs/gone")
	require.NoError(t, err)
	assert.True(t, abs.Purged())
	assert.Equal(t, StatusPending, abs.Status)
}

func TestClient_ErrorClassification(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)

	_, err = c.JobStatus(context.Background(), "/jobs/boom")
	require.ErrorIs(t, err, ErrServiceUnavailable)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "backend exploded", apiErr.Detail)

	_, err = c.JobStatus(context.Background(), "/jobs/unknown")
	assert.True(t, IsNotFound(err))
}

func TestClient_AuthAndRequestID(t *testing.T) {
	rec := &recorder{}
	srv := newTestServer(t, rec)

	c, err := New(Config{BaseURL: srv.URL + "/api", Tokens: staticTokens{token: "tok-123"}, UserAgent: "adb/test"})
	require.NoError(t, err)
	_, err = c.JobStatus(context.Background(), "/jobs/done")
	require.NoError(t, err)

	anon, err := New(Config{BaseURL: srv.URL + "/api", Tokens: staticTokens{token: "tok-123"}, Anonymous: true})
	require.NoError(t, err)
	_, err = anon.JobStatus(context.Background(), "/jobs/done")
	require.NoError(t, err)

	require.Len(t, rec.headers, 2)
	assert.Equal(t, "Bearer tok-123", rec.headers[0].Get("Authorization"))
	assert.Equal(t, "adb/test", rec.headers[0].Get("User-Agent"))
	assert.NotEmpty(t, rec.headers[0].Get(RequestIDHeader))
	assert.NotEqual(t, rec.headers[0].Get(RequestIDHeader), rec.headers[1].Get(RequestIDHeader))
	assert.Empty(t, rec.headers[1].Get("Authorization"))
}

func TestClient_TokenFailureIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := New(Config{BaseURL: srv.URL + "/api", Tokens: staticTokens{err: errors.New("expired")}})
	require.NoError(t, err)

	_, err = c.JobStatus(context.Background(), "/jobs/done")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestClient_SearchPaginates(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)

	it := c.Search(SearchOptions{Query: `_extra.project_id:"P1"`, Latest: true})
	var paths []string
	for {
		doc, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		paths = append(paths, doc["path"].(string))
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, paths)
	assert.Equal(t, 3, it.Total())
}

func TestClient_Download(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "P1:a.txt@1", &buf)
	require.NoError(t, err)
	assert.Equal(t, "payload for P1:a.txt@1", buf.String())
	assert.Equal(t, int64(buf.Len()), n)
}

func TestClient_Resolve(t *testing.T) {
	c, err := New(Config{BaseURL: "https://adb.example.org/api/"})
	require.NoError(t, err)

	got, err := c.Resolve("/jobs/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://adb.example.org/api/jobs/abc", got)

	got, err = c.Resolve("search?q=x")
	require.NoError(t, err)
	assert.Equal(t, "https://adb.example.org/api/search?q=x", got)

	got, err = c.Resolve("https://other.example.org/jobs/1")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.org/jobs/1", got)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://example.org"})
	assert.Error(t, err)
}

func TestDecodeJobStatus_WeakTypes(t *testing.T) {
	st, err := DecodeJobStatus(map[string]any{"status": "FAILURE", "task_id": 42, "traceback": "Traceback..."})
	require.NoError(t, err)
	assert.Equal(t, "42", st.TaskID)
	assert.Equal(t, "Traceback...", st.Traceback)

	empty, err := DecodeJobStatus(nil)
	require.NoError(t, err)
	assert.True(t, empty.Purged())
}

func TestUploadPath(t *testing.T) {
	assert.Equal(t, "/projects/upload", UploadPath("", ""))
	assert.Equal(t, "/projects/P1/version/upload", UploadPath("P1", ""))
	assert.Equal(t, "/projects/P1/version/2/upload", UploadPath("P1", "2"))
	assert.Equal(t, "/projects/P1/permissions", PermissionsPath("P1", ""))
	assert.Equal(t, "/projects/P1/version/2/permissions", PermissionsPath("P1", "2"))
}
