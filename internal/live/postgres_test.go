package live

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface, *diag.Counters) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	d := diag.NewCounters()
	return NewPostgresWithPool(mock, d), mock, d
}

func submissionMockRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"school_id", "school_name", "district",
		"profile_done", "head_done", "enrollment_done", "classes_done", "personnel_done",
		"specialization_done", "resources_done", "shifting_done", "learner_stats_done", "facilities_done",
		"completion_percentage", "validation_status", "data_health_score",
	})
}

func TestPostgresStore_ListSubmissions(t *testing.T) {
	s, mock, _ := newMockPostgresStore(t)

	pct := 70.0
	rows := submissionMockRows().
		AddRow("100001", "Mabini ES", "District 1",
			true, true, true, true, true, false, false, true, false, true,
			&pct, "for_validation", 82.5).
		AddRow("100002", "Aguinaldo ES", "",
			false, false, false, false, false, false, false, false, false, false,
			(*float64)(nil), "", 0.0)

	mock.ExpectQuery(`SELECT .+ FROM school_submissions WHERE true AND LOWER\(TRIM\(region\)\) = LOWER\(TRIM\(\$1\)\) AND LOWER\(TRIM\(division\)\) = LOWER\(TRIM\(\$2\)\)`).
		WithArgs("Region I", "Ilocos Norte").
		WillReturnRows(rows)

	entries, err := s.ListSubmissions(context.Background(), model.JurisdictionPath{Region: "Region I", Division: "Ilocos Norte"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "100001", entries[0].SchoolID)
	assert.Equal(t, "District 1", entries[0].District)
	assert.Equal(t, model.ValidationForValidation, entries[0].ValidationStatus)
	require.NotNil(t, entries[0].CompletionPercentage)
	assert.Equal(t, 70.0, *entries[0].CompletionPercentage)
	assert.Equal(t, 7, entries[0].Flags.Count())

	assert.Nil(t, entries[1].CompletionPercentage)
	assert.Equal(t, model.ValidationUnvalidated, entries[1].ValidationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSubmissions_UnknownStatusCounted(t *testing.T) {
	s, mock, d := newMockPostgresStore(t)

	rows := submissionMockRows().
		AddRow("100003", "Luna IS", "",
			false, false, false, false, false, false, false, false, false, false,
			(*float64)(nil), "pending review??", 0.0)

	mock.ExpectQuery(`SELECT .+ FROM school_submissions`).
		WillReturnRows(rows)

	entries, err := s.ListSubmissions(context.Background(), model.JurisdictionPath{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ValidationUnvalidated, entries[0].ValidationStatus)
	assert.Equal(t, int64(1), d.Snapshot().UnknownValidationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NodeCounts(t *testing.T) {
	s, mock, _ := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\),.+FROM school_submissions WHERE true AND LOWER\(TRIM\(region\)\) = LOWER\(TRIM\(\$1\)\)`).
		WithArgs("Region I").
		WillReturnRows(pgxmock.NewRows([]string{"total", "completed", "validated", "for_validation"}).
			AddRow(480, 300, 120, 45))

	counts, err := s.NodeCounts(context.Background(), model.JurisdictionPath{Region: "Region I"})
	require.NoError(t, err)
	require.NotNil(t, counts)
	assert.Equal(t, 480, counts.TotalSchools)
	assert.Equal(t, 300, counts.CompletedSchools)
	assert.Equal(t, 120, counts.ValidatedSchools)
	assert.Equal(t, 45, counts.ForValidationSchools)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ChildCounts(t *testing.T) {
	s, mock, _ := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(TRIM\(division\), ''\), COUNT\(\*\),.+GROUP BY`).
		WithArgs("Region I").
		WillReturnRows(pgxmock.NewRows([]string{"segment", "total", "completed", "validated", "for_validation"}).
			AddRow("Ilocos Norte", 200, 150, 80, 30).
			AddRow("Ilocos Sur", 180, 90, 40, 12).
			AddRow("", 3, 0, 0, 0)) // rows with no division recorded

	counts, err := s.ChildCounts(context.Background(), model.JurisdictionPath{Region: "Region I"})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 200, counts["Ilocos Norte"].TotalSchools)
	assert.Equal(t, 90, counts["Ilocos Sur"].CompletedSchools)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ChildCounts_DistrictHasNoChildren(t *testing.T) {
	s, _, _ := newMockPostgresStore(t)

	counts, err := s.ChildCounts(context.Background(), model.JurisdictionPath{
		Region: "Region I", Division: "Ilocos Norte", District: "Laoag North",
	})
	require.NoError(t, err)
	assert.Nil(t, counts)
}

func TestPostgresStore_ProjectStats(t *testing.T) {
	s, mock, _ := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\),.+FROM infrastructure_projects WHERE true AND LOWER\(TRIM\(region\)\) = LOWER\(TRIM\(\$1\)\) AND LOWER\(TRIM\(division\)\) = LOWER\(TRIM\(\$2\)\)`).
		WithArgs("Region I", "Ilocos Norte").
		WillReturnRows(pgxmock.NewRows([]string{"total", "ongoing", "completed", "delayed", "avg_progress"}).
			AddRow(12, 7, 5, 2, 61.5))

	p, err := s.ProjectStats(context.Background(), model.JurisdictionPath{Region: "Region I", Division: "Ilocos Norte"})
	require.NoError(t, err)
	assert.Equal(t, 12, p.TotalProjects)
	assert.Equal(t, 7, p.OngoingProjects)
	assert.Equal(t, 5, p.CompletedProjects)
	assert.Equal(t, 2, p.DelayedProjects)
	assert.Equal(t, 61.5, p.AvgProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock, _ := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS school_submissions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
