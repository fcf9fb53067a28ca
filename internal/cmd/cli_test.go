package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adbcli/pkg/ctxstore"
)

// cliHarness runs the root command against an isolated config directory.
type cliHarness struct {
	t    *testing.T
	dir  string
	path string
}

type cliResult struct {
	stdout string
	stderr string
	code   int
}

func newCLI(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("ADB_TOKEN", "")
	t.Setenv("ADB_HTTP_RATE_LIMIT", "0")
	t.Setenv("ADB_JOB_FORMAT", "")
	t.Setenv("ADB_JOB_PRUNE", "")
	return &cliHarness{t: t, dir: dir, path: filepath.Join(dir, ctxstore.AppDirName, ctxstore.ConfigFileName)}
}

func (h *cliHarness) registry() *ctxstore.Registry {
	return ctxstore.NewRegistry(ctxstore.NewFileBackend(h.path))
}

// addContext stores an anonymous context and makes it current.
func (h *cliHarness) addContext(name, url string, jobs ...ctxstore.JobRecord) {
	h.t.Helper()
	reg := h.registry()
	c := ctxstore.Context{Name: name, URL: url, Auth: ctxstore.Auth{Anonymous: true}, Jobs: jobs}
	require.NoError(h.t, reg.SaveContext(name, c, ctxstore.SaveOptions{Overwrite: true, Quiet: true}))
	require.NoError(h.t, reg.SetCurrent(name))
}

func (h *cliHarness) context(name string) *ctxstore.Context {
	h.t.Helper()
	c, err := h.registry().FindContext(name)
	require.NoError(h.t, err)
	return c
}

func (h *cliHarness) run(stdin string, args ...string) cliResult {
	h.t.Helper()
	resetCommands(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(append([]string{"--config", h.path}, args...))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	code := run(context.Background(), &stderr)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

// resetCommands restores flag defaults and drops contexts left by a
// previous execution.
func resetCommands(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	c.SetContext(nil)
	for _, sub := range c.Commands() {
		resetCommands(sub)
	}
}

// jobDoc is a job descriptor as returned by job-producing endpoints.
func jobDoc(baseURL, id string) map[string]any {
	return map[string]any{
		"job_id":  id,
		"job_url": baseURL + "/jobs/" + id,
		"path":    "/jobs/" + id,
		"status":  "accepted",
	}
}

func jobRecord(baseURL, id, status string, projectID string) ctxstore.JobRecord {
	return ctxstore.JobRecord{
		Job: &ctxstore.JobDescriptor{
			JobID:  id,
			JobURL: baseURL + "/jobs/" + id,
			Path:   "/jobs/" + id,
			Status: status,
		},
		ProjectID: ctxstore.StringPtr(projectID),
		Version:   ctxstore.StringPtr("1"),
	}
}

// fakeADB is an in-memory ArtifactDB API.
type fakeADB struct {
	srv *httptest.Server

	mu          sync.Mutex
	info        map[string]any
	jobs        map[string]map[string]any
	tasks       []map[string]any
	taskLogs    map[string]any
	logsReset   bool
	taskRuns    []map[string]any
	permissions map[string]map[string]any
	permPuts    []map[string]any
	searchDocs  []map[string]any
	queries     []string
	files       map[string]string
	uploaded    map[string]string
	uploadReqs  []map[string]any
	completed   map[string]any
	aborted     bool
	failPut     bool
	schemaReqs  []string
	validated   []any
}

func newFakeADB(t *testing.T) *fakeADB {
	t.Helper()
	f := &fakeADB{
		jobs:        map[string]map[string]any{},
		permissions: map[string]map[string]any{},
		files:       map[string]string{},
		uploaded:    map[string]string{},
		taskLogs:    map[string]any{},
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.info == nil {
			http.Error(w, `{"detail": "no info"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, f.info)
	})
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		doc, ok := f.jobs[chi.URLParam(r, "id")]
		if !ok {
			// Unknown jobs come back without a task reference.
			doc = map[string]any{"status": "PENDING", "result": nil}
		}
		writeJSON(w, doc)
	})
	r.Get("/tasks", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]any{"tasks": f.tasks})
	})
	r.Get("/tasks/logs", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.taskLogs)
	})
	r.Put("/task/logs/reset", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logsReset = true
		writeJSON(w, map[string]any{"status": "ok"})
	})
	r.Put("/task/run", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.taskRuns = append(f.taskRuns, body)
		writeJSON(w, jobDoc(f.srv.URL, fmt.Sprintf("task-job-%d", len(f.taskRuns))))
	})

	perms := func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "pid")
		if v := chi.URLParam(r, "ver"); v != "" {
			key += "@" + v
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			doc, ok := f.permissions[key]
			if !ok {
				http.Error(w, `{"detail": "no permissions"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, doc)
		case http.MethodPut:
			body := decodeBody(r)
			f.permPuts = append(f.permPuts, body)
			f.permissions[key] = body
			writeJSON(w, jobDoc(f.srv.URL, "perm-job-"+key))
		case http.MethodDelete:
			delete(f.permissions, key)
			writeJSON(w, jobDoc(f.srv.URL, "perm-del-"+key))
		}
	}
	r.MethodFunc(http.MethodGet, "/projects/{pid}/permissions", perms)
	r.MethodFunc(http.MethodPut, "/projects/{pid}/permissions", perms)
	r.MethodFunc(http.MethodDelete, "/projects/{pid}/permissions", perms)
	r.MethodFunc(http.MethodGet, "/projects/{pid}/version/{ver}/permissions", perms)
	r.MethodFunc(http.MethodPut, "/projects/{pid}/version/{ver}/permissions", perms)
	r.MethodFunc(http.MethodDelete, "/projects/{pid}/version/{ver}/permissions", perms)

	r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		size, _ := strconv.Atoi(q.Get("size"))
		if size <= 0 {
			size = 50
		}
		page, _ := strconv.Atoi(q.Get("page"))
		f.mu.Lock()
		defer f.mu.Unlock()
		if page == 0 {
			f.queries = append(f.queries, q.Get("q"))
		}
		start := min(page*size, len(f.searchDocs))
		end := min(start+size, len(f.searchDocs))
		body := map[string]any{
			"results": f.searchDocs[start:end],
			"count":   end - start,
			"total":   len(f.searchDocs),
		}
		if end < len(f.searchDocs) {
			q.Set("page", strconv.Itoa(page+1))
			body["next"] = "/search?" + q.Encode()
		}
		writeJSON(w, body)
	})
	r.Get("/files/*", func(w http.ResponseWriter, r *http.Request) {
		aid := strings.TrimSuffix(chi.URLParam(r, "*"), "/download")
		f.mu.Lock()
		content, ok := f.files[aid]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"detail": "no such artifact"}`, http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, content)
	})

	upload := func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		pid := chi.URLParam(r, "pid")
		if pid == "" {
			pid = "PRJ000042"
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.uploadReqs = append(f.uploadReqs, body)
		urls := map[string]string{}
		names, _ := body["filenames"].([]any)
		for _, n := range names {
			name, _ := n.(string)
			urls[name] = f.srv.URL + "/s3/" + pid + "/1/" + name
		}
		writeJSON(w, map[string]any{
			"project_id":     pid,
			"version":        "1",
			"presigned_urls": urls,
			"links": map[string]string{
				"completer": "/projects/" + pid + "/version/1/complete",
				"abort":     "/projects/" + pid + "/version/1/abort",
			},
		})
	}
	r.Post("/projects/upload", upload)
	r.Post("/projects/{pid}/version/upload", upload)
	r.Post("/projects/{pid}/version/{ver}/upload", upload)
	r.Get("/schemas", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.schemaReqs = append(f.schemaReqs, r.URL.RequestURI())
		if r.URL.Query().Get("checksum") == "true" {
			writeJSON(w, map[string]any{"report": "c0ffee", "sample": "deadbeef"})
			return
		}
		writeJSON(w, map[string]any{"document_types": []any{
			map[string]any{"name": "report", "versions": []any{"v1", "v2"}},
			map[string]any{"name": "sample"},
		}})
	})
	r.Get("/schemas/{type}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.schemaReqs = append(f.schemaReqs, r.URL.RequestURI())
		if chi.URLParam(r, "type") != "report" {
			http.Error(w, `{"detail": "unknown document type"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, []any{"v1", "v2"})
	})
	r.Get("/schemas/{type}/{version}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.schemaReqs = append(f.schemaReqs, r.URL.RequestURI())
		writeJSON(w, map[string]any{
			"$id":  chi.URLParam(r, "type") + "/" + chi.URLParam(r, "version") + ".json",
			"type": "object",
		})
	})
	r.Delete("/schema/cache", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.schemaReqs = append(f.schemaReqs, r.Method+" "+r.URL.RequestURI())
		writeJSON(w, map[string]any{"status": "ok"})
	})
	r.Get("/schema/clients", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []any{"default", "extra"})
	})
	r.Post("/schema/validate", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		docs, _ := body["docs"].([]any)
		f.validated = append(f.validated, docs...)
		writeJSON(w, map[string]any{"status": "ok", "count": len(docs)})
	})
	r.Put("/s3/*", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPut {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.uploaded[chi.URLParam(r, "*")] = string(b)
		w.WriteHeader(http.StatusOK)
	})
	r.Put("/projects/{pid}/version/{ver}/complete", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.completed = body
		writeJSON(w, jobDoc(f.srv.URL, "upload-job"))
	})
	r.Put("/projects/{pid}/version/{ver}/abort", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.aborted = true
		writeJSON(w, map[string]any{"status": "aborted"})
	})

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeADB) URL() string {
	return f.srv.URL
}

func (f *fakeADB) setJob(id, status string, result any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id] = map[string]any{"status": status, "task_id": id, "result": result}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}
