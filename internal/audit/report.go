// Package audit builds, encodes and verifies the frozen report embedded in
// every completed lottery run.
//
// Reports are tagged with a schema id. Stored documents are decoded by
// dispatching on that tag, so a later schema never reinterprets an older row.
package audit

import (
	"errors"
	"fmt"

	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/model"
)

// SchemaV1 tags documents produced by ReportV1.
const SchemaV1 = "lottery.audit/v1"

// ErrInvariantViolation is returned when the allocation does not reconcile
// with its input. It always indicates a defect, never bad user input.
var ErrInvariantViolation = errors.New("audit invariant violated")

// Report is implemented by every persisted report version.
type Report interface {
	SchemaID() string
	// Counts returns the run counters derived from the report.
	Counts() (candidates, matched, unmatched int)
}

type InputSummary struct {
	TotalApplicants int `json:"total_applicants"`
	TotalJobs       int `json:"total_jobs"`
	TotalSpots      int `json:"total_spots"`
}

type OutputSummary struct {
	MatchedCount   int `json:"matched_count"`
	ReserveCount   int `json:"reserve_count"`
	RemainingSpots int `json:"remaining_spots"`
}

type EligibilitySummary struct {
	TotalApplicationsChecked int                 `json:"total_applications_checked"`
	EligibleApplicants       int                 `json:"eligible_applicants"`
	IneligibleCount          int                 `json:"ineligible_count"`
	IneligibleDetails        []engine.Ineligible `json:"ineligible_details"`
}

// ReportV1 is the first report schema.
type ReportV1 struct {
	Schema          string             `json:"schema"`
	EngineVersion   string             `json:"engine_version"`
	Seed            int64              `json:"seed"`
	InputSummary    InputSummary       `json:"input_summary"`
	OutputSummary   OutputSummary      `json:"output_summary"`
	Matches         map[string]string  `json:"matches"`
	Reserves        []string           `json:"reserves"`
	JobStatus       map[string]int     `json:"job_status"`
	JobCapacity     map[string]int     `json:"job_capacity"`
	ProcessingOrder []string           `json:"processing_order"`
	Eligibility     EligibilitySummary `json:"eligibility"`
}

func (r *ReportV1) SchemaID() string { return SchemaV1 }

func (r *ReportV1) Counts() (candidates, matched, unmatched int) {
	return r.InputSummary.TotalApplicants, r.OutputSummary.MatchedCount, r.OutputSummary.ReserveCount
}

// BuildInput carries everything a report is derived from.
type BuildInput struct {
	Jobs        []model.Job
	Eligibility *engine.Eligibility
	Allocation  *engine.Allocation
	Seed        int64
}

// Build derives a ReportV1 from a finished allocation and checks that it
// reconciles. Any mismatch is returned wrapped in ErrInvariantViolation.
func Build(in BuildInput) (*ReportV1, error) {
	el, alloc := in.Eligibility, in.Allocation
	if el == nil || alloc == nil {
		return nil, fmt.Errorf("%w: missing eligibility or allocation", ErrInvariantViolation)
	}

	totalSpots, remaining := 0, 0
	for _, j := range in.Jobs {
		totalSpots += alloc.Capacity[j.ID]
		remaining += alloc.Remaining[j.ID]
	}

	details := el.Ineligible
	if details == nil {
		details = []engine.Ineligible{}
	}

	r := &ReportV1{
		Schema:        SchemaV1,
		EngineVersion: engine.Version,
		Seed:          in.Seed,
		InputSummary: InputSummary{
			TotalApplicants: len(el.Candidates),
			TotalJobs:       len(in.Jobs),
			TotalSpots:      totalSpots,
		},
		OutputSummary: OutputSummary{
			MatchedCount:   len(alloc.Matches),
			ReserveCount:   len(alloc.Reserves),
			RemainingSpots: remaining,
		},
		Matches:         alloc.Matched(),
		Reserves:        append([]string{}, alloc.Reserves...),
		JobStatus:       alloc.Filled(),
		JobCapacity:     copyCounts(alloc.Capacity),
		ProcessingOrder: append([]string{}, alloc.Order...),
		Eligibility: EligibilitySummary{
			TotalApplicationsChecked: el.Checked,
			EligibleApplicants:       len(el.Candidates),
			IneligibleCount:          len(el.Ineligible),
			IneligibleDetails:        details,
		},
	}

	if err := r.Reconcile(len(el.Candidates)); err != nil {
		return nil, err
	}
	return r, nil
}

// Reconcile asserts the partition and capacity invariants of the report
// against the number of eligible candidates.
func (r *ReportV1) Reconcile(eligible int) error {
	out := r.OutputSummary
	if out.MatchedCount+out.ReserveCount != eligible {
		return fmt.Errorf("%w: matched %d + reserved %d != eligible %d",
			ErrInvariantViolation, out.MatchedCount, out.ReserveCount, eligible)
	}
	if len(r.Matches) != out.MatchedCount {
		return fmt.Errorf("%w: %d match entries for %d matches (duplicate applicant)",
			ErrInvariantViolation, len(r.Matches), out.MatchedCount)
	}
	for _, id := range r.Reserves {
		if _, ok := r.Matches[id]; ok {
			return fmt.Errorf("%w: applicant %s both matched and reserved", ErrInvariantViolation, id)
		}
	}
	if len(r.ProcessingOrder) != eligible {
		return fmt.Errorf("%w: processing order has %d entries for %d candidates",
			ErrInvariantViolation, len(r.ProcessingOrder), eligible)
	}

	filled := 0
	for id, f := range r.JobStatus {
		if f < 0 || f > r.JobCapacity[id] {
			return fmt.Errorf("%w: job %s filled %d of %d", ErrInvariantViolation, id, f, r.JobCapacity[id])
		}
		filled += f
	}
	if filled != out.MatchedCount || filled > r.InputSummary.TotalSpots {
		return fmt.Errorf("%w: %d spots filled for %d matches with %d total spots",
			ErrInvariantViolation, filled, out.MatchedCount, r.InputSummary.TotalSpots)
	}
	if r.InputSummary.TotalSpots-filled != out.RemainingSpots {
		return fmt.Errorf("%w: remaining spots %d, expected %d",
			ErrInvariantViolation, out.RemainingSpots, r.InputSummary.TotalSpots-filled)
	}
	return nil
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
