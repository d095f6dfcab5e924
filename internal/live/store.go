// Package live reads the submission ledger: per-school completion reports,
// validation states, and infrastructure projects. Two drivers implement the
// same interface, Postgres for the shared backend and SQLite for offline and
// field use. All jurisdiction filters compare trimmed, lowercased segment
// names; the ledger's free-text region and division columns are not trusted
// to match the roster byte for byte.
package live

import (
	"context"

	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// Store is the read interface over the submission ledger.
type Store interface {
	// ListSubmissions returns every submission inside the path's subtree.
	ListSubmissions(ctx context.Context, path model.JurisdictionPath) ([]model.LiveSubmissionEntry, error)

	// NodeCounts returns the backend's pre-aggregated summary for the node,
	// or nil when the backend cannot pre-aggregate for this path.
	NodeCounts(ctx context.Context, path model.JurisdictionPath) (*model.NodeCounts, error)

	// ChildCounts returns pre-aggregated summaries keyed by child segment
	// display name, one entry per child jurisdiction under the path.
	ChildCounts(ctx context.Context, path model.JurisdictionPath) (map[string]model.NodeCounts, error)

	// ProjectStats returns infrastructure project rollups for the path's
	// subtree.
	ProjectStats(ctx context.Context, path model.JurisdictionPath) (model.ProjectStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// submissionRow is shared scan plumbing for one submission row. The flags
// arrive as individual boolean columns; validation status arrives as the
// backend's raw string and is parsed on the way out.
type submissionRow struct {
	SchoolID             string
	SchoolName           string
	District             string
	Flags                model.CompletionFlags
	CompletionPercentage *float64
	ValidationStatus     string
	DataHealthScore      float64
}

func (r submissionRow) entry() (model.LiveSubmissionEntry, bool) {
	status, known := model.ParseValidationStatus(r.ValidationStatus)
	return model.LiveSubmissionEntry{
		SchoolID:             r.SchoolID,
		SchoolName:           r.SchoolName,
		District:             r.District,
		Flags:                r.Flags,
		CompletionPercentage: r.CompletionPercentage,
		ValidationStatus:     status,
		DataHealthScore:      r.DataHealthScore,
	}, known
}

// childColumn returns the ledger column holding the path's child segment.
// District-level paths have no children.
func childColumn(path model.JurisdictionPath) (string, bool) {
	switch path.Level() {
	case model.LevelNational:
		return "region", true
	case model.LevelRegional:
		return "division", true
	case model.LevelDivisional:
		return "district", true
	default:
		return "", false
	}
}
