package model

// ModuleCounts holds per-module submission counts for one jurisdiction node,
// one counter per completion flag.
type ModuleCounts struct {
	Profile        int `json:"profile"`
	Head           int `json:"head"`
	Enrollment     int `json:"enrollment"`
	Classes        int `json:"classes"`
	Personnel      int `json:"personnel"`
	Specialization int `json:"specialization"`
	Resources      int `json:"resources"`
	Shifting       int `json:"shifting"`
	LearnerStats   int `json:"learner_stats"`
	Facilities     int `json:"facilities"`
}

// Add increments each counter set in the given flags.
func (m *ModuleCounts) Add(f CompletionFlags) {
	if f.Profile {
		m.Profile++
	}
	if f.Head {
		m.Head++
	}
	if f.Enrollment {
		m.Enrollment++
	}
	if f.Classes {
		m.Classes++
	}
	if f.Personnel {
		m.Personnel++
	}
	if f.Specialization {
		m.Specialization++
	}
	if f.Resources {
		m.Resources++
	}
	if f.Shifting {
		m.Shifting++
	}
	if f.LearnerStats {
		m.LearnerStats++
	}
	if f.Facilities {
		m.Facilities++
	}
}

// ProjectStats holds infrastructure project counters for one jurisdiction
// node, rolled up with the same arithmetic as school completion.
type ProjectStats struct {
	TotalProjects     int     `json:"total_projects"`
	OngoingProjects   int     `json:"ongoing_projects"`
	CompletedProjects int     `json:"completed_projects"`
	DelayedProjects   int     `json:"delayed_projects"`
	AvgProgress       float64 `json:"avg_progress"`
}

// NodeCounts is the pre-aggregated per-node summary some backends expose
// for region, division, and district levels. ForValidationSchools is -1
// when the backend does not report an explicit count, in which case the
// aggregator derives it from completed minus validated.
type NodeCounts struct {
	TotalSchools         int `json:"total_schools"`
	CompletedSchools     int `json:"completed_schools"`
	ValidatedSchools     int `json:"validated_schools"`
	ForValidationSchools int `json:"for_validation_schools"`
}

// JurisdictionStats is the derived per-node rollup. It is recomputed from
// the finest available record set whenever the merged set or level changes
// and has no independent persistence.
type JurisdictionStats struct {
	Node                 JurisdictionPath `json:"node"`
	TotalSchools         int              `json:"total_schools"`
	CompletedSchools     int              `json:"completed_schools"`
	ValidatedSchools     int              `json:"validated_schools"`
	ForValidationSchools int              `json:"for_validation_schools"`
	CompletionRate       float64          `json:"completion_rate"`
	ValidationRate       float64          `json:"validation_rate"`
	Modules              ModuleCounts     `json:"modules"`
	Projects             ProjectStats     `json:"projects"`
}
