package model

// RosterEntry is one school on the static master roster. The roster is the
// source of truth for how many schools exist in a jurisdiction; it is loaded
// once per session and never mutated.
type RosterEntry struct {
	SchoolID   string `json:"school_id"`
	SchoolName string `json:"school_name"`
	Region     string `json:"region"`
	Division   string `json:"division"`
	District   string `json:"district,omitempty"`
}

// ValidationStatus is the submission review state reported by the live source.
type ValidationStatus string

const (
	ValidationUnvalidated   ValidationStatus = "unvalidated"
	ValidationForValidation ValidationStatus = "for_validation"
	ValidationValidated     ValidationStatus = "validated"
)

// ParseValidationStatus maps the status strings stored by the submission
// backend onto the engine's enum. Unknown strings map to unvalidated; the
// second return reports whether the input was recognized.
func ParseValidationStatus(s string) (ValidationStatus, bool) {
	switch ValidationStatus(s) {
	case ValidationUnvalidated, ValidationForValidation, ValidationValidated:
		return ValidationStatus(s), true
	}
	switch s {
	case "For Validation", "for validation":
		return ValidationForValidation, true
	case "Validated":
		return ValidationValidated, true
	case "", "Unvalidated":
		return ValidationUnvalidated, true
	}
	return ValidationUnvalidated, false
}

// CompletionFlags holds the ten per-module submission flags for one school.
type CompletionFlags struct {
	Profile        bool `json:"profile"`
	Head           bool `json:"head"`
	Enrollment     bool `json:"enrollment"`
	Classes        bool `json:"classes"`
	Personnel      bool `json:"personnel"`
	Specialization bool `json:"specialization"`
	Resources      bool `json:"resources"`
	Shifting       bool `json:"shifting"`
	LearnerStats   bool `json:"learner_stats"`
	Facilities     bool `json:"facilities"`
}

// Count returns how many of the ten flags are set.
func (f CompletionFlags) Count() int {
	n := 0
	for _, b := range [...]bool{
		f.Profile, f.Head, f.Enrollment, f.Classes, f.Personnel,
		f.Specialization, f.Resources, f.Shifting, f.LearnerStats, f.Facilities,
	} {
		if b {
			n++
		}
	}
	return n
}

// All reports whether every module flag is set.
func (f CompletionFlags) All() bool { return f.Count() == flagCount }

const flagCount = 10

// LiveSubmissionEntry is one school's reported completion state from the
// submission backend. CompletionPercentage is authoritative when present;
// older backend versions omit it, in which case completion is derived from
// the flags. District may be absent when the submitting school never filled
// in its district field.
type LiveSubmissionEntry struct {
	SchoolID             string           `json:"school_id"`
	SchoolName           string           `json:"school_name"`
	District             string           `json:"district,omitempty"`
	Flags                CompletionFlags  `json:"flags"`
	CompletionPercentage *float64         `json:"completion_percentage,omitempty"`
	ValidationStatus     ValidationStatus `json:"validation_status"`
	DataHealthScore      float64          `json:"data_health_score"`
}

// Origin records which sources contributed to a merged record.
type Origin string

const (
	OriginRoster Origin = "roster" // on the roster, never submitted
	OriginLive   Origin = "live"   // submitted but absent from the roster
	OriginBoth   Origin = "both"   // matched across both sources
)

// MergedSchoolRecord is the reconciled per-school view. Exactly one exists
// per distinct school identity within a queried jurisdiction: identity is
// SchoolID when both sources carry it, otherwise normalized-name equality.
type MergedSchoolRecord struct {
	SchoolID             string           `json:"school_id"`
	SchoolName           string           `json:"school_name"`
	District             string           `json:"district,omitempty"`
	Flags                CompletionFlags  `json:"flags"`
	CompletionPercentage *float64         `json:"completion_percentage,omitempty"`
	ValidationStatus     ValidationStatus `json:"validation_status"`
	DataHealthScore      float64          `json:"data_health_score"`
	Origin               Origin           `json:"origin"`
}

// Completed reports whether the school has finished all modules. The
// reported percentage is authoritative when present; the flags are the
// fallback for backends that do not yet compute one.
func (r MergedSchoolRecord) Completed() bool {
	if r.CompletionPercentage != nil {
		return *r.CompletionPercentage >= 100
	}
	return r.Flags.All()
}

// EffectivePercentage returns the completion percentage to display and sort
// by: the reported value when present, otherwise the flag-derived fraction.
func (r MergedSchoolRecord) EffectivePercentage() float64 {
	if r.CompletionPercentage != nil {
		return *r.CompletionPercentage
	}
	return float64(r.Flags.Count()) / flagCount * 100
}
