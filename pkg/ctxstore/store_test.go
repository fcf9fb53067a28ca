package ctxstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
}

func TestFileBackend_LoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), AppDirName, ConfigFileName)
	b := NewFileBackend(path, WithClock(fixedClock))

	doc, err := b.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Contexts)
	assert.Nil(t, doc.CurrentContext)
	assert.Equal(t, fixedClock(), doc.LastModification.Time)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "contexts: []")
	assert.Contains(t, string(data), "current-context: null")

	again, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestFileBackend_CorruptFileIsNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	corrupt := []byte("contexts: [\n  - name: broken\n")
	require.NoError(t, os.WriteFile(path, corrupt, 0600))

	_, err := NewFileBackend(path).Load()
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))

	var sce *StorageCorruptError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, path, sce.Path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, corrupt, data)
}

func TestFileBackend_WrongShapeIsCorrupt(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"scalar":    "just a string\n",
		"list root": "- a\n- b\n",
		"bad field": "contexts: 42\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFileName)
			require.NoError(t, os.WriteFile(path, []byte(content), 0600))
			_, err := NewFileBackend(path).Load()
			require.ErrorIs(t, err, ErrStorageCorrupt)
		})
	}
}

func TestFileBackend_ReadsLegacyDocument(t *testing.T) {
	legacy := `contexts:
- auth:
    client_id: olympus-client1
    service_account_id: null
    url: https://auth.example.org/realms/olympus
    username: testuser
  name: olympus-api-1-uat
  project_prefix: test-OLA
  url: https://api.example.org/olympus
  jobs:
  - job:
      job_id: 8d1c
      job_url: https://api.example.org/olympus/jobs/8d1c
      path: /jobs/8d1c
      status: PENDING
    project_id: test-OLA000001
    version: '1'
    created_at: 2023-01-31 13:10:02.259398
  - job_id: old
    job_url: https://api.example.org/olympus/jobs/old
    path: /jobs/old
    status: SUCCESS
current-context: olympus-api-1-uat
last-modification: '2023-01-31T13:06:02.259398'
`
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	doc, err := NewFileBackend(path).Load()
	require.NoError(t, err)
	require.Len(t, doc.Contexts, 1)
	require.NotNil(t, doc.CurrentContext)
	assert.Equal(t, "olympus-api-1-uat", *doc.CurrentContext)
	assert.Equal(t, 2023, doc.LastModification.Year())

	ctx := doc.Contexts[0]
	assert.Equal(t, "olympus-client1", ctx.Auth.ClientID)
	assert.Equal(t, "test-OLA", Deref(ctx.ProjectPrefix))
	require.Len(t, ctx.Jobs, 2)

	first := ctx.Jobs[0]
	require.NotNil(t, first.Job)
	assert.Equal(t, "8d1c", first.Job.JobID)
	assert.Equal(t, "test-OLA000001", Deref(first.ProjectID))
	assert.Equal(t, "1", Deref(first.Version))
	require.NotNil(t, first.CreatedAt)
	assert.Equal(t, 13, first.CreatedAt.Hour())

	legacyJob := ctx.Jobs[1]
	require.NotNil(t, legacyJob.Job)
	assert.Equal(t, "old", legacyJob.JobID())
	assert.Equal(t, "SUCCESS", legacyJob.Job.Status)
	assert.Nil(t, legacyJob.ProjectID)
	assert.Nil(t, legacyJob.Version)
}

func TestFileBackend_DegenerateJobEntries(t *testing.T) {
	content := `contexts:
- name: dev
  url: http://localhost:8000
  auth:
    anonymous: true
  project_prefix: null
  jobs:
  - {}
  - job: null
    project_id: p1
  - job: oops
    version: "2"
  - job: [a, b]
  - job:
      job_id: j1
      job_url: http://localhost:8000/jobs/j1
      path: /jobs/j1
      status: RUNNING
      submitted_by: alice
current-context: dev
last-modification: 2026-01-01T00:00:00Z
`
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	doc, err := NewFileBackend(path).Load()
	require.NoError(t, err)
	jobs := doc.Contexts[0].Jobs
	require.Len(t, jobs, 5)
	assert.Nil(t, jobs[0].Job)
	assert.Nil(t, jobs[1].Job)
	assert.Equal(t, "p1", Deref(jobs[1].ProjectID))
	assert.Nil(t, jobs[2].Job)
	assert.Equal(t, "2", Deref(jobs[2].Version))
	assert.Nil(t, jobs[3].Job)
	require.NotNil(t, jobs[4].Job)
	assert.Equal(t, "alice", jobs[4].Job.Extra["submitted_by"])
}

func TestFileBackend_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	b := NewFileBackend(path)

	created := NewTimestamp(fixedClock())
	current := "dev"
	doc := &Document{
		Contexts: []Context{{
			Name:          "dev",
			URL:           "http://localhost:8000",
			Auth:          Auth{URL: "https://auth.example.org", ClientID: "cli", Username: "alice"},
			ProjectPrefix: StringPtr("DS"),
			Jobs: []JobRecord{{
				Job:       &JobDescriptor{JobID: "j1", JobURL: "http://localhost:8000/jobs/j1", Path: "/jobs/j1", Status: "PENDING"},
				ProjectID: StringPtr("DS000001"),
				Version:   StringPtr("1"),
				CreatedAt: &created,
			}},
		}},
		CurrentContext:   &current,
		LastModification: created,
	}
	require.NoError(t, b.Save(doc))

	got, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	m := NewMemoryBackend(nil)

	doc, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Saves())

	doc.Contexts = append(doc.Contexts, Context{Name: "scratch"})
	again, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, again.Contexts, "mutating a loaded document must not leak into the store")
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-19T12:00:00Z", time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)},
		{"2023-01-31T13:06:02.259398", time.Date(2023, 1, 31, 13, 6, 2, 259398000, time.UTC)},
		{"2023-01-31 13:06:02.259398", time.Date(2023, 1, 31, 13, 6, 2, 259398000, time.UTC)},
		{"2023-01-31", time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Time), "got %s", got)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}
