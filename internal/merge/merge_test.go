package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebtcheng/insighted-monitor/internal/model"
)

func pct(v float64) *float64 { return &v }

func rosterEntry(id, name string) model.RosterEntry {
	return model.RosterEntry{
		SchoolID:   id,
		SchoolName: name,
		Region:     "Region I",
		Division:   "Division X",
	}
}

func liveEntry(id, name string, completion float64) model.LiveSubmissionEntry {
	return model.LiveSubmissionEntry{
		SchoolID:             id,
		SchoolName:           name,
		CompletionPercentage: pct(completion),
		ValidationStatus:     model.ValidationUnvalidated,
	}
}

func TestReconcile_LiveFieldsWinOnMatch(t *testing.T) {
	roster := []model.RosterEntry{rosterEntry("100001", "Mabini Elementary School")}
	live := []model.LiveSubmissionEntry{
		{
			SchoolID:             "100001",
			SchoolName:           "MABINI ES", // live name differs; roster name must display
			Flags:                model.CompletionFlags{Profile: true, Enrollment: true},
			CompletionPercentage: pct(20),
			ValidationStatus:     model.ValidationForValidation,
			DataHealthScore:      88,
		},
	}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I", Division: "Division X"})
	require.Len(t, res.Records, 1)

	r := res.Records[0]
	assert.Equal(t, model.OriginBoth, r.Origin)
	assert.Equal(t, "Mabini Elementary School", r.SchoolName)
	assert.True(t, r.Flags.Profile)
	assert.True(t, r.Flags.Enrollment)
	assert.Equal(t, 20.0, *r.CompletionPercentage)
	assert.Equal(t, model.ValidationForValidation, r.ValidationStatus)
	assert.Equal(t, 88.0, r.DataHealthScore)
}

func TestReconcile_PlaceholderForUnsubmitted(t *testing.T) {
	roster := []model.RosterEntry{
		rosterEntry("100001", "Aguinaldo ES"),
		rosterEntry("100002", "Bonifacio ES"),
	}
	live := []model.LiveSubmissionEntry{liveEntry("100001", "Aguinaldo ES", 100)}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I"})
	require.Len(t, res.Records, 2)

	var placeholder model.MergedSchoolRecord
	for _, r := range res.Records {
		if r.SchoolID == "100002" {
			placeholder = r
		}
	}
	assert.Equal(t, model.OriginRoster, placeholder.Origin)
	assert.Equal(t, 0, placeholder.Flags.Count())
	assert.Equal(t, 0.0, *placeholder.CompletionPercentage)
	assert.Equal(t, model.ValidationUnvalidated, placeholder.ValidationStatus)
	assert.False(t, placeholder.Completed())
}

func TestReconcile_NameMatchAbsorbsTypos(t *testing.T) {
	// Scenario: live entries lack IDs but match roster names after
	// normalization; the extras must not inflate the list.
	roster := []model.RosterEntry{
		rosterEntry("200001", "Rizal Elementary School"),
		rosterEntry("200002", "Del Pilar ES"),
	}
	live := []model.LiveSubmissionEntry{
		liveEntry("", "  RIZAL ELEMENTARY SCHOOL ", 100),
		liveEntry("", "Del Pilar ES", 50),
	}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I", Division: "Division X", District: "Y"})
	require.Len(t, res.Records, 2)
	for _, r := range res.Records {
		assert.Equal(t, model.OriginBoth, r.Origin, "record %s", r.SchoolName)
	}
}

func TestReconcile_IDMismatchForcesLiveOrigin(t *testing.T) {
	// A live entry whose ID differs from every roster ID stays a distinct
	// record even when its name collides with a roster school: ID identity
	// beats name identity.
	roster := []model.RosterEntry{rosterEntry("300001", "Rizal Elementary School")}
	live := []model.LiveSubmissionEntry{
		liveEntry("300001", "Rizal Elementary School", 100),
		liveEntry("300009", "Rizal Elementary School", 40), // same name, other barangay
	}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I"})
	require.Len(t, res.Records, 2)

	byID := map[string]model.MergedSchoolRecord{}
	for _, r := range res.Records {
		byID[r.SchoolID] = r
	}
	assert.Equal(t, model.OriginBoth, byID["300001"].Origin)
	assert.Equal(t, model.OriginLive, byID["300009"].Origin)
}

func TestReconcile_NameMatchDoesNotStealReservedID(t *testing.T) {
	// Roster lists two schools; the live entry for the second carries its
	// exact ID but the first roster school shares its normalized name. The
	// ID match must win even though the name-sharing roster entry comes
	// first in input order.
	roster := []model.RosterEntry{
		rosterEntry("400001", "San Jose ES"),
		rosterEntry("400002", "San Jose ES"),
	}
	live := []model.LiveSubmissionEntry{liveEntry("400002", "San Jose ES", 100)}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I"})
	require.Len(t, res.Records, 2)

	byID := map[string]model.MergedSchoolRecord{}
	for _, r := range res.Records {
		byID[r.SchoolID] = r
	}
	assert.Equal(t, model.OriginRoster, byID["400001"].Origin)
	assert.Equal(t, model.OriginBoth, byID["400002"].Origin)
	assert.True(t, byID["400002"].Completed())
}

func TestReconcile_ScenarioA(t *testing.T) {
	// 500 roster schools, 480 submissions, 300 complete: the merged list
	// carries 20 zero-flag placeholders and the source counts survive for
	// the denominator rule.
	var roster []model.RosterEntry
	var live []model.LiveSubmissionEntry
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("5%05d", i)
		name := fmt.Sprintf("School %03d", i)
		roster = append(roster, rosterEntry(id, name))
		if i < 480 {
			completion := 50.0
			if i < 300 {
				completion = 100.0
			}
			live = append(live, liveEntry(id, name, completion))
		}
	}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I", Division: "Division X"})
	assert.Equal(t, 500, res.RosterCount)
	assert.Equal(t, 480, res.LiveCount)
	require.Len(t, res.Records, 500)

	placeholders, completed := 0, 0
	for _, r := range res.Records {
		if r.Origin == model.OriginRoster {
			placeholders++
			assert.Equal(t, 0, r.Flags.Count())
		}
		if r.Completed() {
			completed++
		}
	}
	assert.Equal(t, 20, placeholders)
	assert.Equal(t, 300, completed)
}

func TestReconcile_Deterministic(t *testing.T) {
	roster := []model.RosterEntry{
		rosterEntry("100003", "Zamora ES"),
		rosterEntry("100001", "Aguinaldo ES"),
		rosterEntry("100002", "aguinaldo es"), // same name, different ID
	}
	live := []model.LiveSubmissionEntry{
		liveEntry("100002", "Aguinaldo ES", 60),
		liveEntry("", "Luna Integrated School", 30),
	}

	first := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I"})
	second := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I"})
	assert.Equal(t, first, second)

	// Sorted by display name with ID tiebreak.
	var names []string
	for _, r := range first.Records {
		names = append(names, r.SchoolID+":"+r.SchoolName)
	}
	assert.Equal(t, []string{
		"100001:Aguinaldo ES",
		"100002:aguinaldo es",
		":Luna Integrated School",
		"100003:Zamora ES",
	}, names)
}

func TestReconcile_DuplicateIdentitiesSurfaced(t *testing.T) {
	roster := []model.RosterEntry{
		rosterEntry("100001", "Mabini ES"),
		rosterEntry("100001", "Mabini ES Annex"), // duplicated roster ID
	}

	res := Reconcile(roster, nil, model.JurisdictionPath{Region: "Region I"})
	require.Len(t, res.Records, 1)
	assert.Equal(t, []string{"100001"}, res.DuplicateIdentities)
}

func TestReconcile_FlagFallbackWhenNoPercentage(t *testing.T) {
	roster := []model.RosterEntry{rosterEntry("100001", "Mabini ES")}
	live := []model.LiveSubmissionEntry{
		{
			SchoolID:   "100001",
			SchoolName: "Mabini ES",
			Flags: model.CompletionFlags{
				Profile: true, Head: true, Enrollment: true, Classes: true,
				Personnel: true, Specialization: true, Resources: true,
				Shifting: true, LearnerStats: true, Facilities: true,
			},
			ValidationStatus: model.ValidationValidated,
		},
	}

	res := Reconcile(roster, live, model.JurisdictionPath{Region: "Region I"})
	require.Len(t, res.Records, 1)
	assert.Nil(t, res.Records[0].CompletionPercentage)
	assert.True(t, res.Records[0].Completed())
	assert.Equal(t, 100.0, res.Records[0].EffectivePercentage())
}
