package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adbcli/pkg/ctxstore"
)

func stagingDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
		".hidden":   "secret",
		"skip.tmp":  "scratch",
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

func TestUpload_NewProject(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())
	require.Equal(t, 0, h.run("", "login", "--token", userToken(t, "jdoe", time.Hour)).code)
	staging := stagingDir(t)

	res := h.run("", "upload", staging, "--exclude", "*.tmp", "--viewers", "alice")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Job created for project PRJ000042@1:")
	assert.Contains(t, res.stdout, "job_id: upload-job")

	assert.Equal(t, map[string]string{
		"PRJ000042/1/a.txt":     "alpha",
		"PRJ000042/1/sub/b.txt": "beta",
	}, srv.uploaded)

	require.Len(t, srv.uploadReqs, 1)
	assert.ElementsMatch(t, []any{"a.txt", "sub/b.txt"}, srv.uploadReqs[0]["filenames"])
	assert.Equal(t, "s3-presigned-url", srv.uploadReqs[0]["mode"])

	assert.Equal(t, map[string]any{
		"owners":       []any{"jdoe"},
		"viewers":      []any{"alice"},
		"read_access":  "viewers",
		"write_access": "owners",
	}, srv.completed)
	assert.False(t, srv.aborted)

	jobs := h.context("dev").Jobs
	require.Len(t, jobs, 1)
	assert.Equal(t, "upload-job", jobs[0].JobID())
	assert.Equal(t, "PRJ000042", ctxstore.Deref(jobs[0].ProjectID))
	assert.Equal(t, "1", ctxstore.Deref(jobs[0].Version))
}

func TestUpload_NewVersionWithHiddenFiles(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())
	staging := stagingDir(t)

	res := h.run("", "upload", staging, "--project-id", "PRJ000001", "--include-hidden", "--include", "**/*.txt", "--include", ".hidden", "--owners", "bob", "--verbose")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Uploading 3 files")
	assert.Contains(t, res.stdout, "As a new version within project PRJ000001")

	assert.Contains(t, srv.uploaded, "PRJ000001/1/.hidden")
	assert.NotContains(t, srv.uploaded, "PRJ000001/1/skip.tmp")
	assert.Equal(t, []any{"bob"}, srv.completed["owners"])
}

func TestUpload_AnonymousWithoutOwner(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())

	res := h.run("", "upload", stagingDir(t))
	require.Equal(t, 0, res.code, res.stderr)
	_, hasOwners := srv.completed["owners"]
	assert.False(t, hasOwners)
}

func TestUpload_TransferFailureAbortsSession(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	srv.failPut = true
	h.addContext("dev", srv.URL())

	res := h.run("", "upload", stagingDir(t), "--owners", "bob")
	assert.NotEqual(t, 0, res.code)
	assert.Contains(t, res.stderr, "Upload failed")
	assert.True(t, srv.aborted)
	assert.Nil(t, srv.completed)
	assert.Empty(t, h.context("dev").Jobs)
}

func TestUpload_ExpiresSoon(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())

	res := h.run("", "upload", stagingDir(t), "--owners", "bob", "--expires-in", "in 2 hours")
	require.Equal(t, 0, res.code, res.stderr)
	require.Len(t, srv.uploadReqs, 1)
	expires, ok := srv.uploadReqs[0]["expires_in"].(string)
	require.True(t, ok)
	assert.Equal(t, expires, srv.uploadReqs[0]["completed_by"])
}

func TestUpload_Declined(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())

	res := h.run("n\n", "upload", stagingDir(t), "--owners", "bob", "--confirm")
	assert.Equal(t, exitAbort, res.code)
	assert.Empty(t, srv.uploadReqs)
}

func TestUpload_InvalidUsage(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())
	staging := stagingDir(t)

	for name, args := range map[string][]string{
		"version without project": {"--version", "2"},
		"invalid read access":     {"--read-access", "everyone"},
		"invalid mode":            {"--upload-mode", "ftp"},
		"invalid expiry":          {"--expires-in", "someday"},
		"invalid completion":      {"--completed-by", "tomorrow-ish"},
	} {
		t.Run(name, func(t *testing.T) {
			res := h.run("", append([]string{"upload", staging}, args...)...)
			assert.Equal(t, exitUsage, res.code)
		})
	}
	assert.Empty(t, srv.uploadReqs)
}

func TestUpload_NoFiles(t *testing.T) {
	h := newCLI(t)
	srv := newFakeADB(t)
	h.addContext("dev", srv.URL())

	res := h.run("", "upload", stagingDir(t), "--exclude", "**")
	assert.Equal(t, exitAbort, res.code)
	assert.Contains(t, res.stderr, "No files to upload")
	assert.Empty(t, srv.uploadReqs)
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"in 3 days", now.Add(72 * time.Hour)},
		{"in 1 hour", now.Add(time.Hour)},
		{"In 2 Weeks", now.Add(14 * 24 * time.Hour)},
		{"in 30 minutes", now.Add(30 * time.Minute)},
		{"2026-12-25", time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)},
		{"2026-12-25T08:30:00", time.Date(2026, 12, 25, 8, 30, 0, 0, time.UTC)},
		{"2026-12-25 08:30:00", time.Date(2026, 12, 25, 8, 30, 0, 0, time.UTC)},
		{"2026-12-25T08:30:00+02:00", time.Date(2026, 12, 25, 6, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWhen(tt.in, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := parseWhen("next tuesday", now)
	assert.Error(t, err)
}
