// Package rollup is the single place jurisdiction totals, denominators, and
// percentages are computed. The overflow-safe denominator rule and the
// clamp-to-100 rule live here and nowhere else, so every tree level applies
// them identically.
package rollup

import (
	"fmt"
	"math"

	"github.com/sebtcheng/insighted-monitor/internal/merge"
	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// Violation records a data-integrity invariant that failed after the
// denominator rule was applied. The stats are still rendered with clamped
// values; the violation is surfaced so roster/live drift stays visible.
type Violation struct {
	Node   model.JurisdictionPath
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (region=%q division=%q district=%q)",
		v.Detail, v.Node.Region, v.Node.Division, v.Node.District)
}

// Aggregate computes JurisdictionStats for one node from its reconciled
// record set. The node's level does not matter: higher levels pass the
// union of their children's records, never sums of child aggregates.
//
// counts, when non-nil, carries the backend's pre-aggregated numbers for
// the node; its explicit for-validation count is authoritative and the
// completed-minus-validated subtraction is only the fallback.
func Aggregate(node model.JurisdictionPath, m merge.Result, counts *model.NodeCounts, projects model.ProjectStats) (model.JurisdictionStats, []Violation) {
	stats := model.JurisdictionStats{
		Node:     node,
		Projects: projects,
	}

	// Denominator: the sources are fetched independently and can disagree
	// (roster stale low, live ahead). Neither alone may gate the other.
	stats.TotalSchools = max(m.RosterCount, m.LiveCount)

	for _, r := range m.Records {
		if r.Completed() {
			stats.CompletedSchools++
		}
		if r.ValidationStatus == model.ValidationValidated {
			stats.ValidatedSchools++
		}
		stats.Modules.Add(r.Flags)
	}

	var violations []Violation
	for _, key := range m.DuplicateIdentities {
		violations = append(violations, Violation{
			Node:   node,
			Detail: "duplicate school identity survived merge: " + key,
		})
	}

	if stats.CompletedSchools > stats.TotalSchools {
		violations = append(violations, Violation{
			Node: node,
			Detail: fmt.Sprintf("completed count %d exceeds total %d after denominator rule",
				stats.CompletedSchools, stats.TotalSchools),
		})
		stats.CompletedSchools = stats.TotalSchools
	}
	if stats.ValidatedSchools > stats.CompletedSchools {
		violations = append(violations, Violation{
			Node: node,
			Detail: fmt.Sprintf("validated count %d exceeds completed %d",
				stats.ValidatedSchools, stats.CompletedSchools),
		})
		stats.ValidatedSchools = stats.CompletedSchools
	}

	if counts != nil && counts.ForValidationSchools >= 0 {
		stats.ForValidationSchools = counts.ForValidationSchools
	} else {
		stats.ForValidationSchools = max(0, stats.CompletedSchools-stats.ValidatedSchools)
	}

	stats.CompletionRate = Percentage(stats.CompletedSchools, stats.TotalSchools)
	stats.ValidationRate = Percentage(stats.ValidatedSchools, stats.CompletedSchools)
	return stats, violations
}

// FromCounts builds stats for a child card from pre-aggregated backend
// counts plus the roster's own count for the node, applying the same
// denominator and clamp rules as the full aggregation.
func FromCounts(node model.JurisdictionPath, rosterCount int, counts model.NodeCounts, projects model.ProjectStats) (model.JurisdictionStats, []Violation) {
	stats := model.JurisdictionStats{
		Node:             node,
		TotalSchools:     max(rosterCount, counts.TotalSchools),
		CompletedSchools: counts.CompletedSchools,
		ValidatedSchools: counts.ValidatedSchools,
		Projects:         projects,
	}

	var violations []Violation
	if stats.CompletedSchools > stats.TotalSchools {
		violations = append(violations, Violation{
			Node: node,
			Detail: fmt.Sprintf("completed count %d exceeds total %d after denominator rule",
				stats.CompletedSchools, stats.TotalSchools),
		})
		stats.CompletedSchools = stats.TotalSchools
	}
	if stats.ValidatedSchools > stats.CompletedSchools {
		violations = append(violations, Violation{
			Node: node,
			Detail: fmt.Sprintf("validated count %d exceeds completed %d",
				stats.ValidatedSchools, stats.CompletedSchools),
		})
		stats.ValidatedSchools = stats.CompletedSchools
	}

	if counts.ForValidationSchools >= 0 {
		stats.ForValidationSchools = counts.ForValidationSchools
	} else {
		stats.ForValidationSchools = stats.CompletedSchools - stats.ValidatedSchools
	}

	stats.CompletionRate = Percentage(stats.CompletedSchools, stats.TotalSchools)
	stats.ValidationRate = Percentage(stats.ValidatedSchools, stats.CompletedSchools)
	return stats, violations
}

// Percentage returns 100*numerator/denominator clamped to [0, 100] and
// rounded to one decimal. A zero denominator yields 0, never a division
// error; clamping absorbs source-disagreement noise.
func Percentage(numerator, denominator int) float64 {
	pct := 100 * float64(numerator) / float64(max(1, denominator))
	pct = math.Min(100, pct)
	return math.Round(pct*10) / 10
}
