// Package store persists groups, applications and lottery runs.
//
// Two implementations exist: PostgresStore for production and MemoryStore
// for tests and local tooling. Both honour the same locking contract: at most
// one RUNNING run per group, enforced when the run is started.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jswmusik/jobbeli/internal/model"
)

var (
	// ErrNotFound is returned when a group or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunInProgress is returned by StartRun while another run of the same
	// group is RUNNING.
	ErrRunInProgress = errors.New("a lottery run is already in progress for this group")
	// ErrConflict is returned by CommitRun when an application changed status
	// after the snapshot was taken. Nothing is written.
	ErrConflict = errors.New("application status changed during the run")
	// ErrRunNotRunning is returned when finishing a run that is not RUNNING.
	ErrRunNotRunning = errors.New("lottery run is not running")
)

// Snapshot is the consistent view of a group a run works from.
type Snapshot struct {
	Group model.JobGroup
	// Period is the group's period; zero when the group has none on record.
	Period model.Period
	// Jobs holds every job of the group regardless of status.
	Jobs []model.Job
	// Applications holds the group's applications still in a pre-lottery
	// status, ordered by youth, rank (unranked last), creation time and id.
	Applications []model.Application
	Youth        map[string]model.Youth
}

// Store is the persistence contract of the lottery service. Run status
// changes follow model.RunStatus.CanTransition; finishing a run that cannot
// make the move yields ErrRunNotRunning.
type Store interface {
	LoadSnapshot(ctx context.Context, groupID string) (*Snapshot, error)

	// StartRun records run as RUNNING. It fails with ErrRunInProgress when
	// the group already has a RUNNING run, and ErrNotFound for an unknown group.
	StartRun(ctx context.Context, run *model.LotteryRun) error
	// CommitRun applies every status write and marks run COMPLETED in one
	// transaction. Each write only lands if the application is still in its
	// From status; otherwise nothing is written and ErrConflict is returned.
	CommitRun(ctx context.Context, run *model.LotteryRun, writes []model.StatusWrite) error
	// FailRun marks a RUNNING run FAILED.
	FailRun(ctx context.Context, runID, reason string, at time.Time) error
	// FailStaleRuns marks every run RUNNING since before startedBefore as
	// FAILED and returns their ids.
	FailStaleRuns(ctx context.Context, startedBefore time.Time, reason string, at time.Time) ([]string, error)

	GetRun(ctx context.Context, runID string) (*model.LotteryRun, error)
	// ListRuns returns runs newest first; an empty groupID lists all groups.
	ListRuns(ctx context.Context, groupID string) ([]model.LotteryRun, error)
}
