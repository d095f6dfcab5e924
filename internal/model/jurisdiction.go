// Package model defines the core types shared across the reconciliation
// and rollup engine: jurisdiction paths, roster and live submission
// records, merged school records, and per-node statistics.
package model

import "github.com/sebtcheng/insighted-monitor/internal/normalize"

// Level identifies one rung of the drill-down ladder.
type Level string

const (
	LevelNational   Level = "national"
	LevelRegional   Level = "regional"
	LevelDivisional Level = "divisional"
	LevelDistrict   Level = "district"
)

// JurisdictionPath identifies a node in the four-level tree. The root
// (nation) is the zero value. Region must be set before Division, and
// Division before District. Comparison of segments always goes through
// normalize.Name; the fields hold display names.
type JurisdictionPath struct {
	Region   string `json:"region,omitempty"`
	Division string `json:"division,omitempty"`
	District string `json:"district,omitempty"`
}

// Level returns the drill-down level this path points at.
func (p JurisdictionPath) Level() Level {
	switch {
	case p.District != "":
		return LevelDistrict
	case p.Division != "":
		return LevelDivisional
	case p.Region != "":
		return LevelRegional
	default:
		return LevelNational
	}
}

// IsRoot reports whether the path is the national root.
func (p JurisdictionPath) IsRoot() bool {
	return p.Region == "" && p.Division == "" && p.District == ""
}

// Parent returns the path one level up. The parent of the root is the root.
func (p JurisdictionPath) Parent() JurisdictionPath {
	switch p.Level() {
	case LevelDistrict:
		p.District = ""
	case LevelDivisional:
		p.Division = ""
	case LevelRegional:
		p.Region = ""
	}
	return p
}

// Child returns the path extended by one segment at the next level down.
// Extending a district-level path returns the path unchanged.
func (p JurisdictionPath) Child(segment string) JurisdictionPath {
	switch p.Level() {
	case LevelNational:
		p.Region = segment
	case LevelRegional:
		p.Division = segment
	case LevelDivisional:
		p.District = segment
	}
	return p
}

// Key returns a normalized identity key for the path, suitable for map
// lookups and cache keys. Display names never feed equality directly.
func (p JurisdictionPath) Key() string {
	return normalize.Name(p.Region) + "|" + normalize.Name(p.Division) + "|" + normalize.Name(p.District)
}

// Contains reports whether other falls inside this path's subtree.
// Segment comparison is normalized.
func (p JurisdictionPath) Contains(other JurisdictionPath) bool {
	if p.Region != "" && !normalize.Equal(p.Region, other.Region) {
		return false
	}
	if p.Division != "" && !normalize.Equal(p.Division, other.Division) {
		return false
	}
	if p.District != "" && !normalize.Equal(p.District, other.District) {
		return false
	}
	return true
}

// Role is a caller's administrative role, resolved upstream of this engine.
type Role string

const (
	RoleNational Role = "national_office"
	RoleRegional Role = "regional_office"
	RoleDivision Role = "division_office"
)

// ParseRole maps the role labels stored by the identity service onto the
// engine's role set. Unrecognized labels return false; callers fall back
// to national (unpinned) behavior per the scope rules.
func ParseRole(label string) (Role, bool) {
	switch normalize.Name(label) {
	case "national_office", "national office", "central office", "admin", "super admin":
		return RoleNational, true
	case "regional_office", "regional office":
		return RoleRegional, true
	case "division_office", "school division office", "division office", "sdo":
		return RoleDivision, true
	default:
		return "", false
	}
}

// RoleScope is the resolved scoping decision for one request: which role is
// in effect (after any impersonation) and which jurisdiction the headline
// statistics stay pinned to.
type RoleScope struct {
	Role              Role   `json:"role"`
	EffectiveRegion   string `json:"effective_region,omitempty"`
	EffectiveDivision string `json:"effective_division,omitempty"`
	EffectiveDistrict string `json:"effective_district,omitempty"`
	Impersonating     bool   `json:"impersonating,omitempty"`
}

// PinnedPath returns the jurisdiction the headline stats are pinned to and
// whether pinning applies. National scope is never pinned.
func (s RoleScope) PinnedPath() (JurisdictionPath, bool) {
	switch s.Role {
	case RoleRegional:
		return JurisdictionPath{Region: s.EffectiveRegion}, true
	case RoleDivision:
		return JurisdictionPath{Region: s.EffectiveRegion, Division: s.EffectiveDivision}, true
	default:
		return JurisdictionPath{}, false
	}
}

// ImpersonationContext carries an assumed role and jurisdiction for a
// national-role actor viewing as a field office.
type ImpersonationContext struct {
	AssumedRole Role   `json:"assumed_role"`
	Region      string `json:"region,omitempty"`
	Division    string `json:"division,omitempty"`
}
