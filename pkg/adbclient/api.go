package adbclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// InstanceInfo is the subset of GET / the CLI uses to prefill contexts.
type InstanceInfo struct {
	Name      string         `json:"name"`
	Env       string         `json:"env"`
	Version   string         `json:"version"`
	Auth      InstanceAuth   `json:"auth"`
	Sequences []SequenceInfo `json:"sequences"`
}

// InstanceAuth lists the client ids exposed by the instance.
type InstanceAuth struct {
	URL     string   `json:"url"`
	Main    string   `json:"main_client"`
	Others  []string `json:"other_clients"`
	Enabled bool     `json:"enabled"`
}

// SequenceInfo describes a project id prefix.
type SequenceInfo struct {
	Prefix  string `json:"prefix"`
	Default bool   `json:"default"`
}

// DefaultContextName returns "<name>-<env>" when the instance exposes them.
func (i *InstanceInfo) DefaultContextName() string {
	if i == nil || i.Name == "" {
		return ""
	}
	if i.Env == "" {
		return i.Name
	}
	return i.Name + "-" + i.Env
}

// Info fetches instance information.
func (c *Client) Info(ctx context.Context) (*InstanceInfo, error) {
	var info InstanceInfo
	if err := c.DoJSON(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Tasks lists backend tasks.
func (c *Client) Tasks(ctx context.Context) ([]map[string]any, error) {
	var body struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/tasks", nil, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// TaskLogs returns recent task execution logs keyed by task name.
func (c *Client) TaskLogs(ctx context.Context) (map[string]any, error) {
	var logs map[string]any
	if err := c.DoJSON(ctx, http.MethodGet, "/tasks/logs", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// ResetTaskLogs clears the server-side task log cache.
func (c *Client) ResetTaskLogs(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.DoJSON(ctx, http.MethodPut, "/task/logs/reset", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunTask triggers a task and returns the job descriptor document.
func (c *Client) RunTask(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload := map[string]any{"name": name, "params": params}
	var job map[string]any
	if err := c.DoJSON(ctx, http.MethodPut, "/task/run", payload, &job); err != nil {
		return nil, err
	}
	return job, nil
}

// PermissionsPath returns the permissions endpoint for a project or,
// when version is set, a project version.
func PermissionsPath(projectID, version string) string {
	if version == "" {
		return fmt.Sprintf("/projects/%s/permissions", url.PathEscape(projectID))
	}
	return fmt.Sprintf("/projects/%s/version/%s/permissions", url.PathEscape(projectID), url.PathEscape(version))
}

// Permissions fetches permissions. A missing profile returns (nil, nil).
func (c *Client) Permissions(ctx context.Context, projectID, version string) (map[string]any, error) {
	var perms map[string]any
	err := c.DoJSON(ctx, http.MethodGet, PermissionsPath(projectID, version), nil, &perms)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return perms, nil
}

// SetPermissions replaces permissions and returns the indexing job document.
func (c *Client) SetPermissions(ctx context.Context, projectID, version string, perms map[string]any) (map[string]any, error) {
	var job map[string]any
	if err := c.DoJSON(ctx, http.MethodPut, PermissionsPath(projectID, version), perms, &job); err != nil {
		return nil, err
	}
	return job, nil
}

// DeletePermissions removes permissions and returns the indexing job document.
func (c *Client) DeletePermissions(ctx context.Context, projectID, version string) (map[string]any, error) {
	var job map[string]any
	if err := c.DoJSON(ctx, http.MethodDelete, PermissionsPath(projectID, version), nil, &job); err != nil {
		return nil, err
	}
	return job, nil
}

// Download streams the artifact identified by aid into w and returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, aid string, w io.Writer) (int64, error) {
	if strings.TrimSpace(aid) == "" {
		return 0, errors.New("artifact id is required")
	}
	resp, err := c.Do(ctx, http.MethodGet, "/files/"+url.PathEscape(aid)+"/download", nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", aid, err)
	}
	return n, nil
}
