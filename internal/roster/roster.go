// Package roster loads and indexes the static school master list. The roster
// is read once per session, quarantines rows that cannot identify a school,
// and serves as the source of truth for jurisdiction catalogs and school
// counts. It is never written back.
package roster

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/normalize"
)

// Roster is an immutable, indexed view of the loaded master list.
type Roster struct {
	entries     []model.RosterEntry
	quarantined int

	// catalogs keyed by normalized parent path, holding child display names
	// (first spelling seen wins).
	regions   map[string]string            // normalized region -> display
	divisions map[string]map[string]string // region key -> normalized division -> display
	districts map[string]map[string]string // region|division key -> normalized district -> display
}

// New indexes loaded entries. quarantined is the count of source rows dropped
// by the loader for lacking a school name or jurisdiction.
func New(entries []model.RosterEntry, quarantined int) *Roster {
	r := &Roster{
		entries:     entries,
		quarantined: quarantined,
		regions:     make(map[string]string),
		divisions:   make(map[string]map[string]string),
		districts:   make(map[string]map[string]string),
	}
	for _, e := range entries {
		regionKey := normalize.Name(e.Region)
		if _, ok := r.regions[regionKey]; !ok {
			r.regions[regionKey] = e.Region
		}

		divisionKey := normalize.Name(e.Division)
		if r.divisions[regionKey] == nil {
			r.divisions[regionKey] = make(map[string]string)
		}
		if _, ok := r.divisions[regionKey][divisionKey]; !ok {
			r.divisions[regionKey][divisionKey] = e.Division
		}

		if e.District != "" {
			pathKey := regionKey + "|" + divisionKey
			districtKey := normalize.Name(e.District)
			if r.districts[pathKey] == nil {
				r.districts[pathKey] = make(map[string]string)
			}
			if _, ok := r.districts[pathKey][districtKey]; !ok {
				r.districts[pathKey][districtKey] = e.District
			}
		}
	}
	return r
}

// Len returns the number of usable entries.
func (r *Roster) Len() int { return len(r.entries) }

// Quarantined returns how many source rows the loader dropped.
func (r *Roster) Quarantined() int { return r.quarantined }

// Filter returns the entries inside the path's subtree. Segment comparison
// is normalized; a district-level path also matches entries whose district
// field is blank but whose division matches, so division-run schools stay
// visible when drilling into their division's lone district.
func (r *Roster) Filter(path model.JurisdictionPath) []model.RosterEntry {
	var out []model.RosterEntry
	for _, e := range r.entries {
		if path.Contains(model.JurisdictionPath{Region: e.Region, Division: e.Division, District: e.District}) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many roster entries fall inside the path's subtree.
func (r *Roster) Count(path model.JurisdictionPath) int {
	n := 0
	for _, e := range r.entries {
		if path.Contains(model.JurisdictionPath{Region: e.Region, Division: e.Division, District: e.District}) {
			n++
		}
	}
	return n
}

// Regions returns the region display names, collated.
func (r *Roster) Regions() []string {
	return sortedValues(r.regions)
}

// Divisions returns the division display names under the region, collated.
func (r *Roster) Divisions(region string) []string {
	return sortedValues(r.divisions[normalize.Name(region)])
}

// Districts returns the district display names under the division, collated.
// Schools with no district recorded do not contribute a catalog entry.
func (r *Roster) Districts(region, division string) []string {
	return sortedValues(r.districts[normalize.Name(region)+"|"+normalize.Name(division)])
}

// ChildSegments returns the catalog of child display names under the path:
// regions at the root, divisions under a region, districts under a division.
// A district-level path has no children.
func (r *Roster) ChildSegments(path model.JurisdictionPath) []string {
	switch path.Level() {
	case model.LevelNational:
		return r.Regions()
	case model.LevelRegional:
		return r.Divisions(path.Region)
	case model.LevelDivisional:
		return r.Districts(path.Region, path.Division)
	default:
		return nil
	}
}

func sortedValues(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for _, display := range m {
		out = append(out, display)
	}
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.Slice(out, func(i, j int) bool { return c.CompareString(out[i], out[j]) < 0 })
	return out
}
