// Package diag tracks the engine's non-fatal anomaly counters. Nothing in
// the reconciliation path is fatal: merge defects, stale fetches, failed
// source reads, and unknown roles all degrade to last-good state, but each
// occurrence must stay observable so operators can chase upstream drift.
package diag

import (
	"sync/atomic"
	"time"
)

// Counters accumulates anomaly counts for the life of the process.
// All methods are safe for concurrent use.
type Counters struct {
	mergeIntegrityViolations atomic.Int64
	staleFetchesDiscarded    atomic.Int64
	sourceFailures           atomic.Int64
	unknownRoles             atomic.Int64
	quarantinedRosterRows    atomic.Int64
	unknownValidationStatus  atomic.Int64
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters { return &Counters{} }

// Snapshot is a point-in-time view of the counters, served on the
// diagnostics endpoint.
type Snapshot struct {
	MergeIntegrityViolations int64     `json:"merge_integrity_violations"`
	StaleFetchesDiscarded    int64     `json:"stale_fetches_discarded"`
	SourceFailures           int64     `json:"source_failures"`
	UnknownRoles             int64     `json:"unknown_roles"`
	QuarantinedRosterRows    int64     `json:"quarantined_roster_rows"`
	UnknownValidationStatus  int64     `json:"unknown_validation_status"`
	CollectedAt              time.Time `json:"collected_at"`
}

func (c *Counters) MergeIntegrityViolation()      { c.mergeIntegrityViolations.Add(1) }
func (c *Counters) StaleFetchDiscarded()          { c.staleFetchesDiscarded.Add(1) }
func (c *Counters) SourceFailure()                { c.sourceFailures.Add(1) }
func (c *Counters) UnknownRole()                  { c.unknownRoles.Add(1) }
func (c *Counters) QuarantinedRosterRows(n int64) { c.quarantinedRosterRows.Add(n) }
func (c *Counters) UnknownValidationStatus()      { c.unknownValidationStatus.Add(1) }

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MergeIntegrityViolations: c.mergeIntegrityViolations.Load(),
		StaleFetchesDiscarded:    c.staleFetchesDiscarded.Load(),
		SourceFailures:           c.sourceFailures.Load(),
		UnknownRoles:             c.unknownRoles.Load(),
		QuarantinedRosterRows:    c.quarantinedRosterRows.Load(),
		UnknownValidationStatus:  c.unknownValidationStatus.Load(),
		CollectedAt:              time.Now().UTC(),
	}
}
