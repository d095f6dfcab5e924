package live

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// PostgresStore implements Store against the shared submission backend.
type PostgresStore struct {
	pool    Pool
	diag    *diag.Counters
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, d *diag.Counters) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, diag: d, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool, d *diag.Counters) *PostgresStore {
	return &PostgresStore{pool: pool, diag: d, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS school_submissions (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	school_id             TEXT,
	school_name           TEXT NOT NULL,
	region                TEXT NOT NULL,
	division              TEXT NOT NULL,
	district              TEXT,
	profile_done          BOOLEAN NOT NULL DEFAULT FALSE,
	head_done             BOOLEAN NOT NULL DEFAULT FALSE,
	enrollment_done       BOOLEAN NOT NULL DEFAULT FALSE,
	classes_done          BOOLEAN NOT NULL DEFAULT FALSE,
	personnel_done        BOOLEAN NOT NULL DEFAULT FALSE,
	specialization_done   BOOLEAN NOT NULL DEFAULT FALSE,
	resources_done        BOOLEAN NOT NULL DEFAULT FALSE,
	shifting_done         BOOLEAN NOT NULL DEFAULT FALSE,
	learner_stats_done    BOOLEAN NOT NULL DEFAULT FALSE,
	facilities_done       BOOLEAN NOT NULL DEFAULT FALSE,
	completion_percentage DOUBLE PRECISION,
	validation_status     TEXT NOT NULL DEFAULT '',
	data_health_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_region ON school_submissions(LOWER(TRIM(region)));
CREATE INDEX IF NOT EXISTS idx_submissions_division ON school_submissions(LOWER(TRIM(division)));
CREATE INDEX IF NOT EXISTS idx_submissions_school_id ON school_submissions(school_id);

CREATE TABLE IF NOT EXISTS infrastructure_projects (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_name           TEXT NOT NULL,
	region                 TEXT NOT NULL,
	division               TEXT NOT NULL,
	district               TEXT,
	status                 TEXT NOT NULL DEFAULT 'Pending',
	progress               DOUBLE PRECISION NOT NULL DEFAULT 0,
	target_completion_date TIMESTAMPTZ,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_projects_region ON infrastructure_projects(LOWER(TRIM(region)));
CREATE INDEX IF NOT EXISTS idx_projects_status ON infrastructure_projects(status);
`

const submissionColumns = `COALESCE(school_id, ''), school_name, COALESCE(district, ''),
	profile_done, head_done, enrollment_done, classes_done, personnel_done,
	specialization_done, resources_done, shifting_done, learner_stats_done, facilities_done,
	completion_percentage, validation_status, data_health_score`

// completedExpr mirrors the merged-record rule: the reported percentage is
// authoritative when present, the ten flags are the fallback.
const completedExpr = `(CASE WHEN completion_percentage IS NOT NULL
	THEN completion_percentage >= 100
	ELSE profile_done AND head_done AND enrollment_done AND classes_done AND personnel_done
		AND specialization_done AND resources_done AND shifting_done AND learner_stats_done AND facilities_done
	END)`

// pathFilter appends one equality predicate per set path segment, numbering
// placeholders from startIdx.
func pathFilter(path model.JurisdictionPath, startIdx int) (string, []any) {
	var sb strings.Builder
	var args []any
	idx := startIdx
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
		fmt.Fprintf(&sb, " AND LOWER(TRIM(%s)) = LOWER(TRIM($%d))", seg.column, idx)
		args = append(args, seg.value)
		idx++
	}
	return sb.String(), args
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, path model.JurisdictionPath) ([]model.LiveSubmissionEntry, error) {
	filter, args := pathFilter(path, 1)
	query := `SELECT ` + submissionColumns + ` FROM school_submissions WHERE true` + filter + ` ORDER BY school_name, school_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
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
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		entry, known := r.entry()
		if !known && s.diag != nil {
			s.diag.UnknownValidationStatus()
		}
		entries = append(entries, entry)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) NodeCounts(ctx context.Context, path model.JurisdictionPath) (*model.NodeCounts, error) {
	filter, args := pathFilter(path, 1)
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE ` + completedExpr + `),
		COUNT(*) FILTER (WHERE LOWER(TRIM(validation_status)) = 'validated'),
		COUNT(*) FILTER (WHERE LOWER(TRIM(validation_status)) IN ('for_validation', 'for validation'))
	FROM school_submissions WHERE true` + filter

	var c model.NodeCounts
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&c.TotalSchools, &c.CompletedSchools, &c.ValidatedSchools, &c.ForValidationSchools,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: node counts")
	}
	return &c, nil
}

func (s *PostgresStore) ChildCounts(ctx context.Context, path model.JurisdictionPath) (map[string]model.NodeCounts, error) {
	column, ok := childColumn(path)
	if !ok {
		return nil, nil
	}

	filter, args := pathFilter(path, 1)
	query := `SELECT COALESCE(TRIM(` + column + `), ''), COUNT(*),
		COUNT(*) FILTER (WHERE ` + completedExpr + `),
		COUNT(*) FILTER (WHERE LOWER(TRIM(validation_status)) = 'validated'),
		COUNT(*) FILTER (WHERE LOWER(TRIM(validation_status)) IN ('for_validation', 'for validation'))
	FROM school_submissions WHERE true` + filter + `
	GROUP BY COALESCE(TRIM(` + column + `), '')`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: child counts")
	}
	defer rows.Close()

	counts := make(map[string]model.NodeCounts)
	for rows.Next() {
		var segment string
		var c model.NodeCounts
		if err := rows.Scan(&segment, &c.TotalSchools, &c.CompletedSchools, &c.ValidatedSchools, &c.ForValidationSchools); err != nil {
			return nil, eris.Wrap(err, "postgres: scan child counts")
		}
		if segment == "" {
			continue
		}
		counts[segment] = c
	}
	return counts, eris.Wrap(rows.Err(), "postgres: child counts iterate")
}

func (s *PostgresStore) ProjectStats(ctx context.Context, path model.JurisdictionPath) (model.ProjectStats, error) {
	filter, args := pathFilter(path, 1)
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE LOWER(TRIM(status)) <> 'completed'),
		COUNT(*) FILTER (WHERE LOWER(TRIM(status)) = 'completed'),
		COUNT(*) FILTER (WHERE LOWER(TRIM(status)) <> 'completed' AND target_completion_date < now()),
		COALESCE(AVG(progress), 0)
	FROM infrastructure_projects WHERE true` + filter

	var p model.ProjectStats
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&p.TotalProjects, &p.OngoingProjects, &p.CompletedProjects, &p.DelayedProjects, &p.AvgProgress,
	)
	if err != nil {
		return model.ProjectStats{}, eris.Wrap(err, "postgres: project stats")
	}
	return p, nil
}
