// Package ctxstore persists ArtifactDB CLI contexts.
//
// A single YAML document holds every context, the name of the active one
// and a last-modification stamp. The document is always read and written
// whole; there is no locking and the last writer wins.
package ctxstore

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk configuration document.
//
// NOTE: key names are part of the stable on-disk contract shared with
// earlier releases of the CLI.
type Document struct {
	Contexts         []Context `yaml:"contexts" json:"contexts"`
	CurrentContext   *string   `yaml:"current-context" json:"current-context"`
	LastModification Timestamp `yaml:"last-modification" json:"last-modification"`
}

// Context is a named bundle of endpoint, authentication and tracked jobs.
type Context struct {
	Name          string      `yaml:"name" json:"name"`
	URL           string      `yaml:"url" json:"url"`
	Auth          Auth        `yaml:"auth" json:"auth"`
	ProjectPrefix *string     `yaml:"project_prefix" json:"project_prefix"`
	Jobs          []JobRecord `yaml:"jobs,omitempty" json:"jobs,omitempty"`
}

// Auth describes how a context authenticates.
//
// Either Anonymous is set, or URL plus one of ClientID/ServiceAccountID.
type Auth struct {
	URL              string `yaml:"url,omitempty" json:"url,omitempty"`
	ClientID         string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ServiceAccountID string `yaml:"service_account_id,omitempty" json:"service_account_id,omitempty"`
	Username         string `yaml:"username,omitempty" json:"username,omitempty"`
	Anonymous        bool   `yaml:"anonymous,omitempty" json:"anonymous,omitempty"`
}

// JobDescriptor is the remote job reference returned by the API when
// server-side work is triggered. Status caches the last observed state.
type JobDescriptor struct {
	JobID  string `yaml:"job_id" json:"job_id"`
	JobURL string `yaml:"job_url" json:"job_url"`
	Path   string `yaml:"path" json:"path"`
	Status string `yaml:"status" json:"status"`

	// Extra keeps any additional keys sent by the server.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// JobRecord is one entry of a context's job ledger.
//
// Job is nil for degenerate entries (a null or empty job payload).
type JobRecord struct {
	Job       *JobDescriptor `yaml:"job" json:"job"`
	ProjectID *string        `yaml:"project_id" json:"project_id"`
	Version   *string        `yaml:"version" json:"version"`
	CreatedAt *Timestamp     `yaml:"created_at,omitempty" json:"created_at,omitempty"`
}

// JobID returns the record's job id, or "" for degenerate records.
func (r JobRecord) JobID() string {
	if r.Job == nil {
		return ""
	}
	return r.Job.JobID
}

// UnmarshalYAML decodes a ledger entry, coercing the legacy shape (a bare
// status document without the "job" wrapper) into a full record.
func (r *JobRecord) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		// null or scalar entries are degenerate
		*r = JobRecord{}
		return nil
	}

	hasJobKey := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "job" {
			hasJobKey = true
			if node.Content[i+1].Kind != yaml.MappingNode {
				node = withoutKey(node, "job")
			}
			break
		}
	}

	if !hasJobKey {
		*r = JobRecord{}
		if len(node.Content) == 0 {
			return nil
		}
		var desc JobDescriptor
		if err := node.Decode(&desc); err != nil {
			return err
		}
		r.Job = &desc
		return nil
	}

	type plain JobRecord
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = JobRecord(p)
	if r.Job != nil && r.Job.isEmpty() {
		r.Job = nil
	}
	return nil
}

// withoutKey returns a shallow copy of a mapping node minus key. A job
// value that is not a mapping leaves the record degenerate.
func withoutKey(node *yaml.Node, key string) *yaml.Node {
	out := *node
	out.Content = make([]*yaml.Node, 0, len(node.Content))
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			continue
		}
		out.Content = append(out.Content, node.Content[i], node.Content[i+1])
	}
	return &out
}

func (d *JobDescriptor) isEmpty() bool {
	return d.JobID == "" && d.JobURL == "" && d.Path == "" && d.Status == "" && len(d.Extra) == 0
}

// Clone returns a deep copy of the record.
func (r JobRecord) Clone() JobRecord {
	out := JobRecord{
		ProjectID: cloneString(r.ProjectID),
		Version:   cloneString(r.Version),
	}
	if r.CreatedAt != nil {
		ts := *r.CreatedAt
		out.CreatedAt = &ts
	}
	if r.Job != nil {
		d := *r.Job
		if r.Job.Extra != nil {
			d.Extra = make(map[string]any, len(r.Job.Extra))
			for k, v := range r.Job.Extra {
				d.Extra[k] = v
			}
		}
		out.Job = &d
	}
	return out
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	out := c
	out.ProjectPrefix = cloneString(c.ProjectPrefix)
	if c.Jobs != nil {
		out.Jobs = make([]JobRecord, len(c.Jobs))
		for i, j := range c.Jobs {
			out.Jobs[i] = j.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		CurrentContext:   cloneString(d.CurrentContext),
		LastModification: d.LastModification,
		Contexts:         make([]Context, len(d.Contexts)),
	}
	for i, c := range d.Contexts {
		out.Contexts[i] = c.Clone()
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Timestamp is a point in time tolerant of the formats previously written
// to the configuration file (RFC 3339, ISO-8601 without zone, and the
// "2006-01-02 15:04:05.999999" form).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// NewTimestamp returns t as a UTC Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp parses any of the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// String formats the timestamp as RFC 3339 with nanoseconds.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// MarshalYAML implements yaml.Marshaler.
func (t Timestamp) MarshalYAML() (any, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode || node.Tag == "!!null" || node.Value == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(node.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
