package adbclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// UploadMode selects how files reach the storage backend.
type UploadMode string

const (
	// UploadPresigned uses one S3 presigned URL per file.
	UploadPresigned UploadMode = "presigned"

	// UploadSTS uses temporary STS credentials and an S3 client.
	UploadSTS UploadMode = "sts:boto3"
)

// uploadModeWire maps CLI modes to the API's "mode" value.
var uploadModeWire = map[UploadMode]string{
	UploadPresigned: "s3-presigned-url",
	UploadSTS:       "sts:boto3",
}

// ParseUploadMode validates a CLI upload mode.
func ParseUploadMode(s string) (UploadMode, error) {
	m := UploadMode(strings.TrimSpace(s))
	if _, ok := uploadModeWire[m]; !ok {
		return "", fmt.Errorf("unsupported upload mode %q (expected presigned or sts:boto3)", s)
	}
	return m, nil
}

// RoleAccess is a permission access rule.
type RoleAccess string

const (
	AccessOwners        RoleAccess = "owners"
	AccessViewers       RoleAccess = "viewers"
	AccessAuthenticated RoleAccess = "authenticated"
	AccessPublic        RoleAccess = "public"
	AccessNone          RoleAccess = "none"
)

// RoleAccessValues lists accepted access rules in display order.
var RoleAccessValues = []RoleAccess{AccessOwners, AccessViewers, AccessAuthenticated, AccessPublic, AccessNone}

// ParseRoleAccess validates an access rule.
func ParseRoleAccess(s string) (RoleAccess, error) {
	r := RoleAccess(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range RoleAccessValues {
		if r == v {
			return r, nil
		}
	}
	return "", fmt.Errorf("unsupported access rule %q", s)
}

// PermissionsInfo is the permissions payload attached to an upload.
type PermissionsInfo struct {
	Owners      []string   `json:"owners,omitempty" yaml:"owners,omitempty"`
	Viewers     []string   `json:"viewers,omitempty" yaml:"viewers,omitempty"`
	ReadAccess  RoleAccess `json:"read_access" yaml:"read_access"`
	WriteAccess RoleAccess `json:"write_access" yaml:"write_access"`
}

// UploadRequest opens an upload session.
type UploadRequest struct {
	ProjectID   string
	Version     string
	Filenames   []string
	Mode        UploadMode
	ExpiresIn   string
	CompletedBy string
}

// STSCredentials are temporary credentials for sts:* uploads.
type STSCredentials struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
}

// UploadSession is the server response to an upload request.
type UploadSession struct {
	ProjectID     string            `json:"project_id"`
	Version       string            `json:"version"`
	PresignedURLs map[string]string `json:"presigned_urls"`
	Links         map[string]string `json:"links"`

	Credentials *STSCredentials `json:"credentials,omitempty"`
	Bucket      string          `json:"bucket,omitempty"`
	Prefix      string          `json:"prefix,omitempty"`
	Region      string          `json:"region,omitempty"`
	Endpoint    string          `json:"endpoint,omitempty"`
}

// UploadPath returns the upload endpoint for a new project, a new version
// of a project, or a specific version.
func UploadPath(projectID, version string) string {
	switch {
	case projectID == "":
		return "/projects/upload"
	case version == "":
		return fmt.Sprintf("/projects/%s/version/upload", url.PathEscape(projectID))
	default:
		return fmt.Sprintf("/projects/%s/version/%s/upload", url.PathEscape(projectID), url.PathEscape(version))
	}
}

// StartUpload opens an upload session.
func (c *Client) StartUpload(ctx context.Context, req UploadRequest) (*UploadSession, error) {
	if req.Version != "" && req.ProjectID == "" {
		return nil, fmt.Errorf("version requires a project id")
	}
	mode := req.Mode
	if mode == "" {
		mode = UploadPresigned
	}
	wire, ok := uploadModeWire[mode]
	if !ok {
		return nil, fmt.Errorf("unsupported upload mode %q", mode)
	}

	payload := map[string]any{
		"filenames": req.Filenames,
		"mode":      wire,
	}
	if req.ExpiresIn != "" {
		payload["expires_in"] = req.ExpiresIn
	}
	if req.CompletedBy != "" {
		payload["completed_by"] = req.CompletedBy
	}

	var sess UploadSession
	if err := c.DoJSON(ctx, http.MethodPost, UploadPath(req.ProjectID, req.Version), payload, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CompleteUpload finalises a session and returns the indexing job document.
func (c *Client) CompleteUpload(ctx context.Context, sess *UploadSession, perms PermissionsInfo) (map[string]any, error) {
	link := ""
	if sess != nil {
		link = sess.Links["completer"]
	}
	if link == "" {
		return nil, fmt.Errorf("%w: upload session has no completer link", ErrMalformedResponse)
	}
	var job map[string]any
	if err := c.DoJSON(ctx, http.MethodPut, link, perms, &job); err != nil {
		return nil, err
	}
	return job, nil
}

// AbortUpload cancels a session. Sessions without an abort link are ignored.
func (c *Client) AbortUpload(ctx context.Context, sess *UploadSession) error {
	if sess == nil || sess.Links["abort"] == "" {
		return nil
	}
	return c.DoJSON(ctx, http.MethodPut, sess.Links["abort"], nil, nil)
}
