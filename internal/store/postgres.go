package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jswmusik/jobbeli/internal/model"
	"github.com/jswmusik/jobbeli/internal/store/migrations"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool. Call Migrate before use
// against a fresh database.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`,
	); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, file,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		body, err := migrations.Files.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, NOW())`, file)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

// ─── Snapshot ────────────────────────────────────────────────────────────────

// LoadSnapshot reads the group, its jobs and its pending applications in one
// REPEATABLE READ transaction, so every read sees the same committed state.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, groupID string) (*Snapshot, error) {
	var snap *Snapshot
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		snap, err = loadSnapshot(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return snap, nil
}

func loadSnapshot(ctx context.Context, tx pgx.Tx, groupID string) (*Snapshot, error) {
	snap := &Snapshot{Youth: make(map[string]model.Youth)}

	g, p := &snap.Group, &snap.Period
	err := tx.QueryRow(ctx,
		`SELECT g.id::text, g.municipality_id::text, g.period_id::text, g.name, g.description, g.min_age, g.max_age,
		        p.id::text, p.municipality_id::text, p.name, p.start_date, p.end_date,
		        p.application_open, p.application_close
		 FROM job_groups g JOIN periods p ON p.id = g.period_id
		 WHERE g.id = $1`,
		groupID,
	).Scan(&g.ID, &g.MunicipalityID, &g.PeriodID, &g.Name, &g.Description, &g.MinAge, &g.MaxAge,
		&p.ID, &p.MunicipalityID, &p.Name, &p.StartDate, &p.EndDate,
		&p.ApplicationOpen, &p.ApplicationClose)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}

	jobs, err := loadJobs(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	snap.Jobs = jobs

	statuses := make([]string, 0, 2)
	for _, st := range model.PreLotteryStatuses() {
		statuses = append(statuses, string(st))
	}

	rows, err := tx.Query(ctx,
		`SELECT a.id::text, a.youth_id::text, a.job_id::text, a.status, a.priority_rank, a.created_at,
		        y.email, y.date_of_birth, COALESCE(y.grade, ''), y.attributes
		 FROM applications a
		 JOIN jobs j ON j.id = a.job_id
		 JOIN youth_profiles y ON y.id = a.youth_id
		 WHERE j.lottery_group_id = $1 AND a.status = ANY($2)
		 ORDER BY a.youth_id, a.priority_rank NULLS LAST, a.created_at, a.id`,
		groupID, statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a      model.Application
			y      model.Youth
			status string
			grade  string
			attrs  []byte
		)
		if err := rows.Scan(
			&a.ID, &a.YouthID, &a.JobID, &status, &a.PriorityRank, &a.CreatedAt,
			&y.Email, &y.DateOfBirth, &grade, &attrs,
		); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		if a.Status, err = model.ParseApplicationStatus(status); err != nil {
			return nil, err
		}
		y.ID = a.YouthID
		y.Grade = model.Grade(grade)
		if y.Attributes, err = decodeAttributes(attrs); err != nil {
			return nil, fmt.Errorf("youth %s attributes: %w", y.ID, err)
		}
		snap.Applications = append(snap.Applications, a)
		snap.Youth[y.ID] = y
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	return snap, nil
}

func loadJobs(ctx context.Context, tx pgx.Tx, groupID string) ([]model.Job, error) {
	rows, err := tx.Query(ctx,
		`SELECT id::text, title, total_spots, status, job_type,
		        COALESCE(min_grade, ''), COALESCE(max_grade, ''), custom_attributes
		 FROM jobs
		 WHERE lottery_group_id = $1
		 ORDER BY created_at, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j := model.Job{GroupID: groupID}
		var status, jobType, minGrade, maxGrade string
		var attrs []byte
		if err := rows.Scan(&j.ID, &j.Title, &j.TotalSpots, &status, &jobType, &minGrade, &maxGrade, &attrs); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = model.JobStatus(status)
		j.Type = model.JobType(jobType)
		j.MinGrade = model.Grade(minGrade)
		j.MaxGrade = model.Grade(maxGrade)
		if j.RequiredAttributes, err = decodeAttributes(attrs); err != nil {
			return nil, fmt.Errorf("job %s attributes: %w", j.ID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// decodeAttributes flattens a JSONB object into string values; non-string
// scalars keep their JSON text.
func decodeAttributes(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

// ─── Run lifecycle ───────────────────────────────────────────────────────────

func (s *PostgresStore) StartRun(ctx context.Context, run *model.LotteryRun) error {
	if err := claimable(run); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id::text FROM job_groups WHERE id = $1 FOR UPDATE NOWAIT`, run.GroupID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("group %s: %w", run.GroupID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO lottery_runs (id, group_id, status, seed, engine_version, executed_at, executed_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, run.GroupID, string(model.RunRunning), run.Seed, run.EngineVersion, run.ExecutedAt, run.ExecutedBy,
		)
		return err
	})
	if err != nil {
		return classifyStart(err)
	}
	run.Status = model.RunRunning
	return nil
}

func (s *PostgresStore) CommitRun(ctx context.Context, run *model.LotteryRun, writes []model.StatusWrite) error {
	if !run.Status.CanTransition(model.RunCompleted) {
		return ErrRunNotRunning
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Hold the group for the duration of the write.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM job_groups WHERE id = $1 FOR UPDATE`, run.GroupID); err != nil {
			return err
		}

		if len(writes) > 0 {
			batch := &pgx.Batch{}
			for _, w := range writes {
				batch.Queue(
					`UPDATE applications SET status = $1 WHERE id = $2 AND status = $3`,
					string(w.To), w.ApplicationID, string(w.From),
				)
			}
			br := tx.SendBatch(ctx, batch)
			for _, w := range writes {
				tag, err := br.Exec()
				if err != nil {
					br.Close()
					return err
				}
				if tag.RowsAffected() != 1 {
					br.Close()
					return fmt.Errorf("application %s: %w", w.ApplicationID, ErrConflict)
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx,
			`UPDATE lottery_runs
			 SET status = $1, completed_at = $2, candidates_count = $3, matched_count = $4,
			     unmatched_count = $5, audit_report = $6::jsonb, report_digest = $7
			 WHERE id = $8 AND status = $9`,
			string(model.RunCompleted), run.CompletedAt, run.CandidatesCount, run.MatchedCount,
			run.UnmatchedCount, string(run.AuditReport), run.ReportDigest,
			run.ID, string(model.RunRunning),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrRunNotRunning
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	run.Status = model.RunCompleted
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lottery_runs SET status = $1, completed_at = $2, error = $3
		 WHERE id = $4 AND status = $5`,
		string(model.RunFailed), at, reason, runID, string(model.RunRunning),
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() != 1 {
		return ErrRunNotRunning
	}
	return nil
}

func (s *PostgresStore) FailStaleRuns(ctx context.Context, startedBefore time.Time, reason string, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE lottery_runs SET status = $1, completed_at = $2, error = $3
		 WHERE status = $4 AND executed_at < $5
		 RETURNING id::text`,
		string(model.RunFailed), at, reason, string(model.RunRunning), startedBefore,
	)
	if err != nil {
		return nil, classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("fail stale runs: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ─── Run history ─────────────────────────────────────────────────────────────

const runColumns = `r.id::text, r.group_id::text, g.name, r.status, r.seed, r.engine_version,
	r.executed_at, r.completed_at, r.executed_by, r.candidates_count, r.matched_count,
	r.unmatched_count, r.audit_report, r.report_digest, r.error`

func scanRun(row pgx.Row) (*model.LotteryRun, error) {
	var (
		r      model.LotteryRun
		status string
		report []byte
	)
	if err := row.Scan(
		&r.ID, &r.GroupID, &r.GroupName, &status, &r.Seed, &r.EngineVersion,
		&r.ExecutedAt, &r.CompletedAt, &r.ExecutedBy, &r.CandidatesCount, &r.MatchedCount,
		&r.UnmatchedCount, &report, &r.ReportDigest, &r.Error,
	); err != nil {
		return nil, err
	}
	st, err := model.ParseRunStatus(status)
	if err != nil {
		return nil, err
	}
	r.Status = st
	if len(report) > 0 {
		r.AuditReport = report
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.LotteryRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+`
		 FROM lottery_runs r JOIN job_groups g ON g.id = r.group_id
		 WHERE r.id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", classify(err))
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, groupID string) ([]model.LotteryRun, error) {
	const base = `SELECT ` + runColumns + `
		FROM lottery_runs r JOIN job_groups g ON g.id = r.group_id`

	var (
		rows pgx.Rows
		err  error
	)
	if groupID != "" {
		rows, err = s.pool.Query(ctx, base+` WHERE r.group_id = $1 ORDER BY r.executed_at DESC, r.id DESC`, groupID)
	} else {
		rows, err = s.pool.Query(ctx, base+` ORDER BY r.executed_at DESC, r.id DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", classify(err))
	}
	defer rows.Close()

	runs := make([]model.LotteryRun, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// classifyStart maps the errors of claiming a group. Only there does a held
// group lock mean another run is in progress; elsewhere a lock timeout is a
// plain storage failure.
func classifyStart(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
		return fmt.Errorf("%w: %s", ErrRunInProgress, pgErr.Message)
	}
	return classify(err)
}

// classify maps Postgres errors onto the store's sentinel errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if pgErr.ConstraintName == "lottery_runs_one_running" {
			return fmt.Errorf("%w: %s", ErrRunInProgress, pgErr.Message)
		}
	case pgerrcode.InvalidTextRepresentation:
		// A malformed uuid can never match a row.
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Message)
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
