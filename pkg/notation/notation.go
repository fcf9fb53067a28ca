// Package notation parses ArtifactDB identifier notations.
//
// Accepted forms:
//
//	project                 all files of the latest version
//	project@version         all files of a version
//	project:path@version    one artifact (a full ArtifactDB id)
//
// Commands may also receive the parts as separate options (project id,
// version, full id); Parse reconciles both styles.
package notation

import (
	"errors"
	"fmt"
	"strings"
)

// LatestVersion is the floating version marker resolved by the server.
const LatestVersion = "latest"

// Sentinel errors returned by Parse and UnpackID.
var (
	ErrConflictingArguments = errors.New("conflicting arguments")
	ErrMalformedID          = errors.New("malformed ArtifactDB identifier")
	ErrReservedSeparator    = errors.New("project id cannot contain ':'")
	ErrEmptyVersion         = errors.New("version cannot be empty")
	ErrMissingArgument      = errors.New("unable to determine project ID and version")
)

// Args are the raw command inputs.
type Args struct {
	// What is the positional notation argument.
	What string

	ProjectID string
	Version   string

	// ID is a full ArtifactDB id given as an option.
	ID string
}

// Identifier is a resolved project, version and optional path.
type Identifier struct {
	ProjectID string
	Version   string
	Path      string

	// Floating is set when Version is the latest marker.
	Floating bool

	// Defaulted is set when no version was given and LatestVersion was
	// filled in.
	Defaulted bool
}

// ExplicitVersion returns the version as given by the user, or "" when
// it was defaulted.
func (id Identifier) ExplicitVersion() string {
	if id.Defaulted {
		return ""
	}
	return id.Version
}

// IsArtifact reports whether the identifier names a single artifact.
func (id Identifier) IsArtifact() bool {
	return id.Path != ""
}

// String returns the shortest notation for id.
func (id Identifier) String() string {
	switch {
	case id.Path != "":
		return PackID(id)
	case id.Defaulted:
		return id.ProjectID
	default:
		return id.ProjectID + "@" + id.Version
	}
}

// Parse resolves args into an Identifier.
func Parse(args Args) (Identifier, error) {
	what := strings.TrimSpace(args.What)
	pid := strings.TrimSpace(args.ProjectID)
	ver := args.Version
	aid := strings.TrimSpace(args.ID)

	switch {
	case what != "" && (pid != "" || ver != "" || aid != ""):
		return Identifier{}, fmt.Errorf("%w: use either the notation argument or options, not both", ErrConflictingArguments)
	case aid != "" && (pid != "" || ver != ""):
		return Identifier{}, fmt.Errorf("%w: --id cannot be combined with --project-id or --version", ErrConflictingArguments)
	case ver != "" && pid == "":
		return Identifier{}, fmt.Errorf("%w: --version requires --project-id", ErrConflictingArguments)
	}

	switch {
	case aid != "":
		return UnpackID(aid)
	case what != "" && strings.Contains(what, ":"):
		return UnpackID(what)
	case what != "" && strings.Contains(what, "@"):
		parts := strings.Split(what, "@")
		if len(parts) != 2 {
			return Identifier{}, fmt.Errorf("%w: %q", ErrMalformedID, what)
		}
		return build(parts[0], parts[1], "", true)
	case what != "":
		return build(what, "", "", false)
	case pid != "":
		return build(pid, ver, "", ver != "")
	}
	return Identifier{}, ErrMissingArgument
}

// UnpackID splits a full ArtifactDB id "project:path@version".
func UnpackID(aid string) (Identifier, error) {
	aid = strings.TrimSpace(aid)
	colon := strings.Index(aid, ":")
	at := strings.LastIndex(aid, "@")
	if colon <= 0 || at < colon+2 {
		return Identifier{}, fmt.Errorf("%w: %q (expected project:path@version)", ErrMalformedID, aid)
	}
	return build(aid[:colon], aid[at+1:], aid[colon+1:at], true)
}

// PackID formats a full ArtifactDB id.
func PackID(id Identifier) string {
	return fmt.Sprintf("%s:%s@%s", id.ProjectID, id.Path, id.Version)
}

func build(pid, ver, path string, versionGiven bool) (Identifier, error) {
	pid = strings.TrimSpace(pid)
	if pid == "" {
		return Identifier{}, ErrMissingArgument
	}
	if strings.Contains(pid, ":") {
		return Identifier{}, fmt.Errorf("%w: %q", ErrReservedSeparator, pid)
	}

	id := Identifier{ProjectID: pid, Path: path}
	if versionGiven {
		v := strings.TrimSpace(ver)
		if v == "" || v == `""` || v == "''" {
			return Identifier{}, ErrEmptyVersion
		}
		id.Version = v
	} else {
		id.Version = LatestVersion
		id.Defaulted = true
	}
	id.Floating = id.Version == LatestVersion
	return id, nil
}
