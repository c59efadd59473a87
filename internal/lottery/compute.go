package lottery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jswmusik/jobbeli/internal/audit"
	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/model"
	"github.com/jswmusik/jobbeli/internal/store"
)

// Outcome is everything one pass of the pipeline produces. It has no side
// effects until the writes are committed.
type Outcome struct {
	Eligibility *engine.Eligibility
	Allocation  *engine.Allocation
	Report      *audit.ReportV1
	// Raw is the encoded report exactly as it is persisted.
	Raw    []byte
	Digest string
	Writes []model.StatusWrite
}

// Compute runs filter → rank → allocate → audit over snap and plans the
// resulting status writes. Only published jobs take part; age is evaluated
// as of now.
func Compute(snap *store.Snapshot, seed int64, now time.Time) (*Outcome, error) {
	return compute(context.Background(), noop.NewTracerProvider().Tracer(""), snap, seed, now)
}

func compute(ctx context.Context, tracer trace.Tracer, snap *store.Snapshot, seed int64, now time.Time) (*Outcome, error) {
	_, span := tracer.Start(ctx, "lottery.filter")
	el, err := engine.Filter(snap.Group, snap.Jobs, snap.Applications, snap.Youth, now)
	if err != nil {
		span.End()
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("lottery.candidates", len(el.Candidates)),
		attribute.Int("lottery.ineligible", len(el.Ineligible)),
	)
	span.End()

	jobs := publishedJobs(snap.Jobs)

	_, span = tracer.Start(ctx, "lottery.rank", trace.WithAttributes(attribute.Int64("lottery.seed", seed)))
	ranked := engine.Rank(el.Candidates, seed)
	span.End()

	_, span = tracer.Start(ctx, "lottery.allocate")
	alloc := engine.Allocate(ranked, jobs)
	span.SetAttributes(
		attribute.Int("lottery.matched", len(alloc.Matches)),
		attribute.Int("lottery.reserves", len(alloc.Reserves)),
	)
	span.End()

	_, span = tracer.Start(ctx, "lottery.audit")
	defer span.End()

	report, err := audit.Build(audit.BuildInput{Jobs: jobs, Eligibility: el, Allocation: alloc, Seed: seed})
	if err != nil {
		return nil, err
	}
	raw, err := audit.Encode(report)
	if err != nil {
		return nil, err
	}
	digest, err := audit.Digest(raw)
	if err != nil {
		return nil, err
	}
	writes, err := PlanWrites(snap.Applications, el, alloc)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Eligibility: el,
		Allocation:  alloc,
		Report:      report,
		Raw:         raw,
		Digest:      digest,
		Writes:      writes,
	}, nil
}

func publishedJobs(jobs []model.Job) []model.Job {
	out := make([]model.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == model.JobPublished {
			out = append(out, j)
		}
	}
	return out
}
