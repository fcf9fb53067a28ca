// Package jobledger tracks remote jobs per context and reconciles their
// cached status with the server.
package jobledger

import (
	"fmt"
	"strings"

	"github.com/3leaps/adbcli/pkg/adbclient"
)

// StatusPurged is the effective status of a job the server no longer knows.
const StatusPurged = "purged"

// PruneMode selects which checked jobs are removed from the ledger.
type PruneMode string

const (
	PruneNone       PruneMode = "none"
	PruneAll        PruneMode = "all"
	PruneTerminated PruneMode = "terminated"
	PruneSuccess    PruneMode = "success"
	PruneFailure    PruneMode = "failure"
	PrunePending    PruneMode = "pending"
	PruneRunning    PruneMode = "running"
	PrunePurged     PruneMode = "purged"
	PruneUnknown    PruneMode = "unknown"
)

// DefaultPruneMode removes successful jobs once reported.
const DefaultPruneMode = PruneSuccess

// pruneModes is the wire table, in help-text order.
var pruneModes = []PruneMode{
	PruneSuccess, PruneFailure, PrunePending, PruneRunning, PrunePurged,
	PruneUnknown, PruneTerminated, PruneAll, PruneNone,
}

// PruneModes returns every accepted mode.
func PruneModes() []PruneMode {
	out := make([]PruneMode, len(pruneModes))
	copy(out, pruneModes)
	return out
}

// ParsePruneMode validates a mode, case-insensitively. Empty selects the
// default.
func ParsePruneMode(s string) (PruneMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultPruneMode, nil
	}
	for _, m := range pruneModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid prune mode %q (expected one of %s)", s, joinModes())
}

func joinModes() string {
	names := make([]string, len(pruneModes))
	for i, m := range pruneModes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// ShouldPrune reports whether a job with the given effective status is
// removed under mode. Comparisons ignore case.
func ShouldPrune(status string, mode PruneMode) bool {
	status = strings.ToLower(strings.TrimSpace(status))
	switch PruneMode(strings.ToLower(string(mode))) {
	case PruneNone:
		return false
	case PruneAll:
		return true
	case PruneTerminated:
		return status == strings.ToLower(adbclient.StatusSuccess) ||
			status == strings.ToLower(adbclient.StatusFailure)
	default:
		return status == strings.ToLower(string(mode))
	}
}
