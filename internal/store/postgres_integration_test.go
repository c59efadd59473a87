package store_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jswmusik/jobbeli/internal/model"
	"github.com/jswmusik/jobbeli/internal/store"
)

func postgresStore(t *testing.T) (*store.PostgresStore, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("LOTTERY_POSTGRES_DSN_INTEGRATION")
	if dsn == "" {
		t.Skip("set LOTTERY_POSTGRES_DSN_INTEGRATION to run Postgres integration tests")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := store.NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations are idempotent")
	return s, pool
}

type fixture struct {
	group, job, youth, app string
}

func seedGroup(t *testing.T, pool *pgxpool.Pool) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		group: uuid.NewString(),
		job:   uuid.NewString(),
		youth: uuid.NewString(),
		app:   uuid.NewString(),
	}
	period := uuid.NewString()
	muni := uuid.NewString()

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO periods (id, municipality_id, name, start_date, end_date, application_open, application_close)
		  VALUES ($1, $2, 'P1', '2026-06-15', '2026-07-05', NOW(), NOW())`, []any{period, muni}},
		{`INSERT INTO job_groups (id, municipality_id, period_id, name) VALUES ($1, $2, $3, 'Outdoor')`, []any{f.group, muni, period}},
		{`INSERT INTO jobs (id, lottery_group_id, title, total_spots, status, job_type, custom_attributes)
		  VALUES ($1, $2, 'Park', 1, 'PUBLISHED', 'LOTTERY', '{"school":"Centralskolan"}')`, []any{f.job, f.group}},
		{`INSERT INTO youth_profiles (id, email, date_of_birth, grade, attributes)
		  VALUES ($1, 'y@example.se', '2010-03-01', 'YEAR_9', '{"school":"Centralskolan"}')`, []any{f.youth}},
		{`INSERT INTO applications (id, job_id, youth_id, status, priority_rank) VALUES ($1, $2, $3, 'PENDING', 1)`, []any{f.app, f.job, f.youth}},
	}
	for _, s := range stmts {
		_, err := pool.Exec(ctx, s.sql, s.args...)
		require.NoError(t, err)
	}
	return f
}

func TestPostgresStoreIntegration_RunLifecycle(t *testing.T) {
	s, pool := postgresStore(t)
	ctx := context.Background()
	f := seedGroup(t, pool)

	snap, err := s.LoadSnapshot(ctx, f.group)
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "Centralskolan", snap.Jobs[0].RequiredAttributes["school"])
	require.Len(t, snap.Applications, 1)
	assert.Equal(t, 1, *snap.Applications[0].PriorityRank)
	assert.Equal(t, "P1", snap.Period.Name)
	assert.Equal(t, model.GradeYear9, snap.Youth[f.youth].Grade)
	require.NotNil(t, snap.Youth[f.youth].DateOfBirth)

	run := &model.LotteryRun{
		ID: uuid.NewString(), GroupID: f.group, Seed: 42, EngineVersion: "1.0.0",
		ExecutedAt: time.Now().UTC(), ExecutedBy: "admin",
	}
	require.NoError(t, s.StartRun(ctx, run))

	second := &model.LotteryRun{ID: uuid.NewString(), GroupID: f.group, Seed: 1, EngineVersion: "1.0.0", ExecutedAt: time.Now().UTC()}
	require.ErrorIs(t, s.StartRun(ctx, second), store.ErrRunInProgress)

	report, _ := json.Marshal(map[string]any{"schema": "lottery.audit/v1"})
	done := time.Now().UTC()
	run.CompletedAt = &done
	run.AuditReport = report
	run.ReportDigest = "sha256:test"
	run.CandidatesCount, run.MatchedCount = 1, 1

	stale := []model.StatusWrite{{ApplicationID: f.app, From: model.AppLottery, To: model.AppOffered}}
	require.ErrorIs(t, s.CommitRun(ctx, run, stale), store.ErrConflict)

	writes := []model.StatusWrite{{ApplicationID: f.app, From: model.AppPending, To: model.AppOffered}}
	require.NoError(t, s.CommitRun(ctx, run, writes))

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM applications WHERE id = $1`, f.app).Scan(&status))
	assert.Equal(t, "OFFERED", status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, got.Status)
	assert.Equal(t, "Outdoor", got.GroupName)
	assert.JSONEq(t, string(report), string(got.AuditReport))

	// Completed runs are frozen by the database itself.
	_, err = pool.Exec(ctx, `UPDATE lottery_runs SET matched_count = 99 WHERE id = $1`, run.ID)
	require.Error(t, err)

	runs, err := s.ListRuns(ctx, f.group)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = s.GetRun(ctx, "not-a-uuid")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresStoreIntegration_FailStaleRuns(t *testing.T) {
	s, pool := postgresStore(t)
	ctx := context.Background()
	f := seedGroup(t, pool)

	run := &model.LotteryRun{
		ID: uuid.NewString(), GroupID: f.group, Seed: 7, EngineVersion: "1.0.0",
		ExecutedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.StartRun(ctx, run))

	ids, err := s.FailStaleRuns(ctx, time.Now().UTC().Add(-time.Minute), "timed out", time.Now().UTC())
	require.NoError(t, err)
	assert.Contains(t, ids, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Equal(t, "timed out", got.Error)
}

func TestPostgresStoreIntegration_SnapshotIsConsistent(t *testing.T) {
	s, pool := postgresStore(t)
	ctx := context.Background()
	f := seedGroup(t, pool)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	before, err := store.LoadSnapshotTx(ctx, tx, f.group)
	require.NoError(t, err)
	require.Len(t, before.Applications, 1)

	// An admin edits the group while the run is reading it.
	youth, app := uuid.NewString(), uuid.NewString()
	_, err = pool.Exec(ctx, `UPDATE jobs SET total_spots = 0 WHERE id = $1`, f.job)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO youth_profiles (id) VALUES ($1)`, youth)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO applications (id, job_id, youth_id) VALUES ($1, $2, $3)`, app, f.job, youth)
	require.NoError(t, err)

	during, err := store.LoadSnapshotTx(ctx, tx, f.group)
	require.NoError(t, err)
	assert.Equal(t, before, during)
	assert.Equal(t, 1, during.Jobs[0].TotalSpots)

	after, err := s.LoadSnapshot(ctx, f.group)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Jobs[0].TotalSpots)
	assert.Len(t, after.Applications, 2)
}
