// Package lottery runs the summer-job lottery for a job group and serves its
// history. It is transport-agnostic: the HTTP handler and the gRPC server
// both delegate here.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jswmusik/jobbeli/internal/audit"
	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/events"
	"github.com/jswmusik/jobbeli/internal/model"
	"github.com/jswmusik/jobbeli/internal/store"
)

const instrumentation = "github.com/jswmusik/jobbeli/internal/lottery"

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Archiver keeps an off-database copy of completed runs.
type Archiver interface {
	Archive(ctx context.Context, run *model.LotteryRun) error
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates the lottery pipeline and run history.
type Service struct {
	store      store.Store
	publisher  Publisher
	archiver   Archiver
	now        func() time.Time
	runTimeout time.Duration

	tracer  trace.Tracer
	runs    metric.Int64Counter
	matches metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes a run event after every run. Publish failures are
// logged and never fail the run.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithArchiver archives every completed run. Archive failures are logged and
// never fail the run.
func WithArchiver(a Archiver) Option { return func(s *Service) { s.archiver = a } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRunTimeout sets the age after which a RUNNING run is reaped.
func WithRunTimeout(d time.Duration) Option { return func(s *Service) { s.runTimeout = d } }

// NewService returns a configured Service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		now:        time.Now,
		runTimeout: 2 * time.Minute,
		tracer:     otel.Tracer(instrumentation),
	}
	for _, o := range opts {
		o(s)
	}

	meter := otel.Meter(instrumentation)
	var err error
	if s.runs, err = meter.Int64Counter("lottery.runs",
		metric.WithDescription("Lottery runs by final status")); err != nil {
		slog.Warn("create lottery.runs counter failed", "err", err)
	}
	if s.matches, err = meter.Int64Counter("lottery.matches",
		metric.WithDescription("Applicants matched to a job")); err != nil {
		slog.Warn("create lottery.matches counter failed", "err", err)
	}
	return s
}

// RunRequest asks for one lottery run.
type RunRequest struct {
	GroupID    string
	ExecutedBy string
	// Seed pins the draw; nil draws a fresh seed.
	Seed *int64
}

// ─── Business logic ───────────────────────────────────────────────────────────

// RunLottery executes the full pipeline for a group and returns the finished
// run.
//
// The run is started first: that claims the group, so a concurrent call gets
// ErrRunInProgress and creates nothing. From then on any error marks the run
// FAILED before returning a *RunFailedError, and no application status
// changes unless the final commit succeeds.
func (s *Service) RunLottery(ctx context.Context, req RunRequest) (run *model.LotteryRun, err error) {
	if req.GroupID == "" {
		return nil, &ValidationError{Msg: "group id is required"}
	}

	var seed int64
	if req.Seed != nil {
		if *req.Seed < 0 {
			return nil, &ValidationError{Msg: "seed must not be negative"}
		}
		seed = *req.Seed
	} else if seed, err = engine.NewSeed(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "lottery.run", trace.WithAttributes(
		attribute.String("lottery.group_id", req.GroupID),
		attribute.Int64("lottery.seed", seed),
	))
	defer span.End()

	run = &model.LotteryRun{
		ID:            uuid.NewString(),
		GroupID:       req.GroupID,
		Status:        model.RunPending,
		Seed:          seed,
		EngineVersion: engine.Version,
		ExecutedAt:    s.now().UTC(),
		ExecutedBy:    req.ExecutedBy,
	}
	if err := s.store.StartRun(ctx, run); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("lottery.run_id", run.ID))

	// Release the group on every exit path. Once started, a run always ends
	// COMPLETED or FAILED even if the caller has gone away.
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(context.WithoutCancel(ctx), run, err)
		err = &RunFailedError{RunID: run.ID, Err: err}
	}()

	snap, err := s.store.LoadSnapshot(ctx, req.GroupID)
	if err != nil {
		return run, err
	}
	run.GroupName = snap.Group.Name

	out, err := compute(ctx, s.tracer, snap, seed, run.ExecutedAt)
	if err != nil {
		if errors.Is(err, audit.ErrInvariantViolation) {
			slog.Error("lottery invariant violated",
				"runId", run.ID, "groupId", run.GroupID, "seed", seed,
				"applications", len(snap.Applications), "jobs", len(snap.Jobs), "err", err)
		}
		return run, err
	}

	done := s.now().UTC()
	run.CompletedAt = &done
	run.CandidatesCount, run.MatchedCount, run.UnmatchedCount = out.Report.Counts()
	run.AuditReport = out.Raw
	run.ReportDigest = out.Digest

	cctx, commitSpan := s.tracer.Start(ctx, "lottery.commit",
		trace.WithAttributes(attribute.Int("lottery.writes", len(out.Writes))))
	err = s.store.CommitRun(cctx, run, out.Writes)
	commitSpan.End()
	if err != nil {
		return run, fmt.Errorf("commit: %w", err)
	}
	run.Status = model.RunCompleted

	slog.Info("lottery run completed",
		"runId", run.ID, "groupId", run.GroupID, "seed", seed,
		"candidates", run.CandidatesCount, "matched", run.MatchedCount, "reserves", run.UnmatchedCount)
	s.count(ctx, run)
	s.announce(ctx, run)
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, run); err != nil {
			slog.Warn("archive lottery run failed", "runId", run.ID, "err", err)
		}
	}
	return run, nil
}

// fail marks run FAILED with cause and clears everything a failed run must
// not carry.
func (s *Service) fail(ctx context.Context, run *model.LotteryRun, cause error) {
	at := s.now().UTC()
	run.Status = model.RunFailed
	run.Error = cause.Error()
	run.CompletedAt = &at
	run.AuditReport = nil
	run.ReportDigest = ""
	run.CandidatesCount, run.MatchedCount, run.UnmatchedCount = 0, 0, 0

	if err := s.store.FailRun(ctx, run.ID, run.Error, at); err != nil {
		// The reaper retries once the run exceeds the timeout.
		slog.Error("mark lottery run failed", "runId", run.ID, "cause", cause, "err", err)
	}
	slog.Warn("lottery run failed", "runId", run.ID, "groupId", run.GroupID, "seed", run.Seed, "err", cause)
	s.count(ctx, run)
	s.announce(ctx, run)
}

func (s *Service) count(ctx context.Context, run *model.LotteryRun) {
	if s.runs != nil {
		s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(run.Status))))
	}
	if s.matches != nil && run.MatchedCount > 0 {
		s.matches.Add(ctx, int64(run.MatchedCount))
	}
}

func (s *Service) announce(ctx context.Context, run *model.LotteryRun) {
	if s.publisher == nil {
		return
	}
	ev := events.FromRun(run)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("publish "+ev.Type+" failed", "runId", run.ID, "err", err)
	}
}

// GetRun returns one run. The audit report of a completed run is checked
// against its stored digest; a mismatch is returned as an error wrapping
// audit.ErrDigestMismatch.
func (s *Service) GetRun(ctx context.Context, runID string) (*model.LotteryRun, error) {
	if runID == "" {
		return nil, &ValidationError{Msg: "run id is required"}
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == model.RunCompleted && run.ReportDigest != "" {
		if _, err := audit.Verify(run.AuditReport, run.ReportDigest); err != nil {
			slog.Error("stored audit report does not verify", "runId", run.ID, "err", err)
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally for one group.
func (s *Service) ListRuns(ctx context.Context, groupID string) ([]model.LotteryRun, error) {
	return s.store.ListRuns(ctx, groupID)
}

// Preview summarises what a run of the group would draw from, without
// running or writing anything.
type Preview struct {
	GroupID           string `json:"group_id"`
	GroupName         string `json:"group_name"`
	PeriodName        string `json:"period_name,omitempty"`
	TotalJobs         int    `json:"total_jobs"`
	TotalSpots        int    `json:"total_spots"`
	UniqueApplicants  int    `json:"unique_applicants"`
	TotalApplications int    `json:"total_applications"`
	CanRun            bool   `json:"can_run"`
}

// Preview counts the published jobs of a group and the pending applications
// to them.
func (s *Service) Preview(ctx context.Context, groupID string) (*Preview, error) {
	if groupID == "" {
		return nil, &ValidationError{Msg: "group id is required"}
	}
	snap, err := s.store.LoadSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}

	p := &Preview{GroupID: snap.Group.ID, GroupName: snap.Group.Name, PeriodName: snap.Period.Name}
	published := make(map[string]bool)
	for _, j := range publishedJobs(snap.Jobs) {
		published[j.ID] = true
		p.TotalJobs++
		p.TotalSpots += max(j.TotalSpots, 0)
	}
	applicants := make(map[string]bool)
	for _, a := range snap.Applications {
		if !published[a.JobID] {
			continue
		}
		p.TotalApplications++
		applicants[a.YouthID] = true
	}
	p.UniqueApplicants = len(applicants)
	p.CanRun = p.TotalJobs > 0 && p.UniqueApplicants > 0
	return p, nil
}

// ReapStaleRuns fails every run RUNNING for longer than the run timeout.
func (s *Service) ReapStaleRuns(ctx context.Context) (int, error) {
	now := s.now().UTC()
	reason := fmt.Sprintf("run exceeded timeout of %s", s.runTimeout)
	ids, err := s.store.FailStaleRuns(ctx, now.Add(-s.runTimeout), reason, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	for _, id := range ids {
		run, err := s.store.GetRun(ctx, id)
		if err != nil {
			slog.Warn("load reaped run failed", "runId", id, "err", err)
			continue
		}
		slog.Warn("lottery run reaped", "runId", id, "groupId", run.GroupID, "executedAt", run.ExecutedAt)
		s.count(ctx, run)
		s.announce(ctx, run)
	}
	return len(ids), nil
}
