package live

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for offline and
// field deployments carrying a ledger snapshot.
type SQLiteStore struct {
	db   *sql.DB
	diag *diag.Counters
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, d *diag.Counters) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, diag: d}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS school_submissions (
	id                    TEXT PRIMARY KEY,
	school_id             TEXT,
	school_name           TEXT NOT NULL,
	region                TEXT NOT NULL,
	division              TEXT NOT NULL,
	district              TEXT,
	profile_done          INTEGER NOT NULL DEFAULT 0,
	head_done             INTEGER NOT NULL DEFAULT 0,
	enrollment_done       INTEGER NOT NULL DEFAULT 0,
	classes_done          INTEGER NOT NULL DEFAULT 0,
	personnel_done        INTEGER NOT NULL DEFAULT 0,
	specialization_done   INTEGER NOT NULL DEFAULT 0,
	resources_done        INTEGER NOT NULL DEFAULT 0,
	shifting_done         INTEGER NOT NULL DEFAULT 0,
	learner_stats_done    INTEGER NOT NULL DEFAULT 0,
	facilities_done       INTEGER NOT NULL DEFAULT 0,
	completion_percentage REAL,
	validation_status     TEXT NOT NULL DEFAULT '',
	data_health_score     REAL NOT NULL DEFAULT 0,
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_region ON school_submissions(region);
CREATE INDEX IF NOT EXISTS idx_submissions_division ON school_submissions(division);
CREATE INDEX IF NOT EXISTS idx_submissions_school_id ON school_submissions(school_id);

CREATE TABLE IF NOT EXISTS infrastructure_projects (
	id                     TEXT PRIMARY KEY,
	project_name           TEXT NOT NULL,
	region                 TEXT NOT NULL,
	division               TEXT NOT NULL,
	district               TEXT,
	status                 TEXT NOT NULL DEFAULT 'Pending',
	progress               REAL NOT NULL DEFAULT 0,
	target_completion_date DATETIME,
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_projects_region ON infrastructure_projects(region);
CREATE INDEX IF NOT EXISTS idx_projects_status ON infrastructure_projects(status);
`

// sqlitePathFilter mirrors pathFilter with ? placeholders.
func sqlitePathFilter(path model.JurisdictionPath) (string, []any) {
	var sb strings.Builder
	var args []any
	for _, seg := range []struct {
		column, value string
	}{
		{"region", path.Region},
		{"division", path.Division},
		{"district", path.District},
	} {
		if seg.value == "" {
			continue
		}
		sb.WriteString(" AND LOWER(TRIM(" + seg.column + ")) = LOWER(TRIM(?))")
		args = append(args, seg.value)
	}
	return sb.String(), args
}

// sqliteCompletedExpr is completedExpr for a backend without BOOLEAN columns.
const sqliteCompletedExpr = `(CASE WHEN completion_percentage IS NOT NULL
	THEN completion_percentage >= 100
	ELSE profile_done + head_done + enrollment_done + classes_done + personnel_done
		+ specialization_done + resources_done + shifting_done + learner_stats_done + facilities_done = 10
	END)`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, path model.JurisdictionPath) ([]model.LiveSubmissionEntry, error) {
	filter, args := sqlitePathFilter(path)
	query := `SELECT ` + submissionColumns + ` FROM school_submissions WHERE 1=1` + filter + ` ORDER BY school_name, school_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var entries []model.LiveSubmissionEntry
	for rows.Next() {
		var r submissionRow
		if err := rows.Scan(
			&r.SchoolID, &r.SchoolName, &r.District,
			&r.Flags.Profile, &r.Flags.Head, &r.Flags.Enrollment, &r.Flags.Classes, &r.Flags.Personnel,
			&r.Flags.Specialization, &r.Flags.Resources, &r.Flags.Shifting, &r.Flags.LearnerStats, &r.Flags.Facilities,
			&r.CompletionPercentage, &r.ValidationStatus, &r.DataHealthScore,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission")
		}
		entry, known := r.entry()
		if !known && s.diag != nil {
			s.diag.UnknownValidationStatus()
		}
		entries = append(entries, entry)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) NodeCounts(ctx context.Context, path model.JurisdictionPath) (*model.NodeCounts, error) {
	filter, args := sqlitePathFilter(path)
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN ` + sqliteCompletedExpr + ` THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(validation_status)) = 'validated' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(validation_status)) IN ('for_validation', 'for validation') THEN 1 ELSE 0 END), 0)
	FROM school_submissions WHERE 1=1` + filter

	var c model.NodeCounts
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&c.TotalSchools, &c.CompletedSchools, &c.ValidatedSchools, &c.ForValidationSchools,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: node counts")
	}
	return &c, nil
}

func (s *SQLiteStore) ChildCounts(ctx context.Context, path model.JurisdictionPath) (map[string]model.NodeCounts, error) {
	column, ok := childColumn(path)
	if !ok {
		return nil, nil
	}

	filter, args := sqlitePathFilter(path)
	query := `SELECT COALESCE(TRIM(` + column + `), ''), COUNT(*),
		COALESCE(SUM(CASE WHEN ` + sqliteCompletedExpr + ` THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(validation_status)) = 'validated' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(validation_status)) IN ('for_validation', 'for validation') THEN 1 ELSE 0 END), 0)
	FROM school_submissions WHERE 1=1` + filter + `
	GROUP BY COALESCE(TRIM(` + column + `), '')`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: child counts")
	}
	defer rows.Close()

	counts := make(map[string]model.NodeCounts)
	for rows.Next() {
		var segment string
		var c model.NodeCounts
		if err := rows.Scan(&segment, &c.TotalSchools, &c.CompletedSchools, &c.ValidatedSchools, &c.ForValidationSchools); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan child counts")
		}
		if segment == "" {
			continue
		}
		counts[segment] = c
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: child counts iterate")
}

func (s *SQLiteStore) ProjectStats(ctx context.Context, path model.JurisdictionPath) (model.ProjectStats, error) {
	filter, args := sqlitePathFilter(path)
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(status)) <> 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(status)) = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN LOWER(TRIM(status)) <> 'completed' AND target_completion_date < datetime('now') THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(progress), 0)
	FROM infrastructure_projects WHERE 1=1` + filter

	var p model.ProjectStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.TotalProjects, &p.OngoingProjects, &p.CompletedProjects, &p.DelayedProjects, &p.AvgProgress,
	)
	if err != nil {
		return model.ProjectStats{}, eris.Wrap(err, "sqlite: project stats")
	}
	return p, nil
}
