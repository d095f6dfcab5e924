// Package merge reconciles roster entries with live submission entries into
// the unified per-school record set. Matching runs in two passes, exact
// school ID first and normalized name second, so that ID matches always win
// and same-named schools with distinct IDs stay distinct.
package merge

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/normalize"
)

// Result is the reconciled record set for one jurisdiction path, together
// with the pre-merge source cardinalities the aggregator's denominator rule
// needs and any identity collisions that survived merging.
type Result struct {
	Records []model.MergedSchoolRecord

	// RosterCount and LiveCount are the source cardinalities before
	// merging. The denominator rule uses these, never len(Records).
	RosterCount int
	LiveCount   int

	// DuplicateIdentities lists identity keys that appeared more than once
	// after merging. A non-empty list is a data-integrity defect in the
	// sources; the first occurrence is kept and the rest dropped.
	DuplicateIdentities []string
}

// Reconcile merges a roster subset and a live submission subset fetched for
// the same jurisdiction path. Every distinct school identity across both
// sources yields exactly one record: matched pairs carry the live fields,
// unmatched roster entries become zero-flag placeholders, and unmatched
// live entries are kept as roster drift. The output ordering is
// deterministic: display name, then school ID.
func Reconcile(roster []model.RosterEntry, live []model.LiveSubmissionEntry, path model.JurisdictionPath) Result {
	res := Result{
		RosterCount: len(roster),
		LiveCount:   len(live),
		Records:     make([]model.MergedSchoolRecord, 0, len(roster)),
	}

	rosterIDs := make(map[string]struct{}, len(roster))
	for _, e := range roster {
		if e.SchoolID != "" {
			rosterIDs[e.SchoolID] = struct{}{}
		}
	}

	liveByID := make(map[string]int, len(live))
	liveByName := make(map[string][]int)
	for i, e := range live {
		if e.SchoolID != "" {
			if _, dup := liveByID[e.SchoolID]; !dup {
				liveByID[e.SchoolID] = i
			}
		}
		key := normalize.Name(e.SchoolName)
		if key != "" {
			liveByName[key] = append(liveByName[key], i)
		}
	}

	consumed := make([]bool, len(live))

	for _, e := range roster {
		idx := -1
		if e.SchoolID != "" {
			if i, ok := liveByID[e.SchoolID]; ok && !consumed[i] {
				idx = i
			}
		}
		if idx < 0 {
			// Name matching may not steal a live entry whose ID is reserved
			// for a different roster entry's exact-ID match.
			for _, i := range liveByName[normalize.Name(e.SchoolName)] {
				if consumed[i] {
					continue
				}
				if id := live[i].SchoolID; id != "" && id != e.SchoolID {
					if _, reserved := rosterIDs[id]; reserved {
						continue
					}
				}
				idx = i
				break
			}
		}

		if idx >= 0 {
			consumed[idx] = true
			l := live[idx]
			res.Records = append(res.Records, model.MergedSchoolRecord{
				SchoolID:             e.SchoolID,
				SchoolName:           e.SchoolName, // roster name wins for display
				District:             firstNonEmpty(e.District, l.District, path.District),
				Flags:                l.Flags,
				CompletionPercentage: l.CompletionPercentage,
				ValidationStatus:     l.ValidationStatus,
				DataHealthScore:      l.DataHealthScore,
				Origin:               model.OriginBoth,
			})
			continue
		}

		// On the roster but never engaged with the system.
		zero := 0.0
		res.Records = append(res.Records, model.MergedSchoolRecord{
			SchoolID:             e.SchoolID,
			SchoolName:           e.SchoolName,
			District:             firstNonEmpty(e.District, path.District),
			CompletionPercentage: &zero,
			ValidationStatus:     model.ValidationUnvalidated,
			Origin:               model.OriginRoster,
		})
	}

	// Roster drift: submissions with no roster identity.
	for i, l := range live {
		if consumed[i] {
			continue
		}
		res.Records = append(res.Records, model.MergedSchoolRecord{
			SchoolID:             l.SchoolID,
			SchoolName:           l.SchoolName,
			District:             firstNonEmpty(l.District, path.District),
			Flags:                l.Flags,
			CompletionPercentage: l.CompletionPercentage,
			ValidationStatus:     l.ValidationStatus,
			DataHealthScore:      l.DataHealthScore,
			Origin:               model.OriginLive,
		})
	}

	res.Records, res.DuplicateIdentities = dedupe(res.Records)
	sortRecords(res.Records)
	return res
}

// identityKey is SchoolID when present, otherwise the normalized name.
func identityKey(r model.MergedSchoolRecord) string {
	if r.SchoolID != "" {
		return r.SchoolID
	}
	return "~" + normalize.Name(r.SchoolName)
}

func dedupe(records []model.MergedSchoolRecord) ([]model.MergedSchoolRecord, []string) {
	seen := make(map[string]struct{}, len(records))
	var dups []string
	out := records[:0]
	for _, r := range records {
		key := identityKey(r)
		if _, ok := seen[key]; ok {
			dups = append(dups, key)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, dups
}

func sortRecords(records []model.MergedSchoolRecord) {
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(records, func(i, j int) bool {
		if cmp := c.CompareString(records[i].SchoolName, records[j].SchoolName); cmp != 0 {
			return cmp < 0
		}
		return records[i].SchoolID < records[j].SchoolID
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
