// Package engine implements the pure part of the lottery: eligibility
// filtering, seeded ranking and the Random Serial Dictatorship allocation.
// Nothing in this package touches storage or the clock.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/jswmusik/jobbeli/internal/model"
)

// Choice is one entry of a candidate's want-list.
type Choice struct {
	JobID         string
	ApplicationID string
	// Rank is 1-based; 0 means no stated preference.
	Rank int
}

// Ranked reports whether the applicant stated a preference for the choice.
func (c Choice) Ranked() bool { return c.Rank > 0 }

// preferred orders ranked choices by rank, then every unranked choice.
func preferred(a, b Choice) bool {
	if a.Ranked() != b.Ranked() {
		return a.Ranked()
	}
	return a.Rank < b.Rank
}

// Candidate is an eligible youth together with their ordered want-list.
type Candidate struct {
	YouthID string
	Choices []Choice
}

// WantList returns the job ids the candidate asked for, most preferred first.
func (c Candidate) WantList() []string {
	ids := make([]string, len(c.Choices))
	for i, ch := range c.Choices {
		ids[i] = ch.JobID
	}
	return ids
}

// Ineligible records an application filtered out before the draw.
type Ineligible struct {
	ApplicationID string `json:"-"`
	YouthID       string `json:"youth_id"`
	YouthEmail    string `json:"youth_email"`
	JobID         string `json:"job_id"`
	JobTitle      string `json:"job_title"`
	Reason        string `json:"reason"`
}

// Eligibility is the output of Filter.
type Eligibility struct {
	// Candidates preserves the order in which each youth first appears in
	// the application list.
	Candidates []Candidate
	Ineligible []Ineligible
	// Checked counts the pre-lottery applications targeting published jobs.
	Checked int
}

// ApplicationIDs returns every application id that belongs to a candidate.
func (e *Eligibility) ApplicationIDs() []string {
	var ids []string
	for _, c := range e.Candidates {
		for _, ch := range c.Choices {
			ids = append(ids, ch.ApplicationID)
		}
	}
	return ids
}

// InputError reports applications that violate the filter's input contract.
type InputError struct{ Msg string }

func (e *InputError) Error() string { return e.Msg }

// Filter decides which applications take part in the draw for group.
//
// jobs must be the jobs of the group; only PUBLISHED ones are targets and
// applications to any other job of the group are ignored. Applications that
// are no longer in a pre-lottery status are skipped as well. Every remaining
// application is checked against the group's age window, the job's grade
// window and the job's required attributes, with age computed as of now.
func Filter(group model.JobGroup, jobs []model.Job, apps []model.Application, youth map[string]model.Youth, now time.Time) (*Eligibility, error) {
	jobsByID := make(map[string]model.Job, len(jobs))
	for _, j := range jobs {
		if j.GroupID != "" && j.GroupID != group.ID {
			return nil, &InputError{Msg: fmt.Sprintf("job %s does not belong to group %s", j.ID, group.ID)}
		}
		jobsByID[j.ID] = j
	}

	out := &Eligibility{}
	index := make(map[string]int)
	seen := make(map[[2]string]bool)

	for _, app := range apps {
		job, ok := jobsByID[app.JobID]
		if !ok {
			return nil, &InputError{Msg: fmt.Sprintf("application %s references job %s outside group %s", app.ID, app.JobID, group.ID)}
		}
		key := [2]string{app.YouthID, app.JobID}
		if seen[key] {
			return nil, &InputError{Msg: fmt.Sprintf("youth %s has more than one application for job %s", app.YouthID, app.JobID)}
		}
		seen[key] = true

		if job.Status != model.JobPublished || !app.Status.IsPreLottery() {
			continue
		}
		out.Checked++

		y, ok := youth[app.YouthID]
		if !ok {
			return nil, &InputError{Msg: fmt.Sprintf("application %s references unknown youth %s", app.ID, app.YouthID)}
		}

		if ok, reason := CheckEligibility(y, job, group, now); !ok {
			out.Ineligible = append(out.Ineligible, Ineligible{
				ApplicationID: app.ID,
				YouthID:       y.ID,
				YouthEmail:    y.Email,
				JobID:         job.ID,
				JobTitle:      job.Title,
				Reason:        reason,
			})
			continue
		}

		rank := 0
		if app.PriorityRank != nil {
			if *app.PriorityRank < 1 {
				return nil, &InputError{Msg: fmt.Sprintf("application %s has priority rank %d, must be at least 1", app.ID, *app.PriorityRank)}
			}
			rank = *app.PriorityRank
		}
		i, ok := index[app.YouthID]
		if !ok {
			i = len(out.Candidates)
			index[app.YouthID] = i
			out.Candidates = append(out.Candidates, Candidate{YouthID: app.YouthID})
		}
		out.Candidates[i].Choices = append(out.Candidates[i].Choices, Choice{
			JobID:         job.ID,
			ApplicationID: app.ID,
			Rank:          rank,
		})
	}

	// Equal ranks keep the order the applications were supplied in.
	for i := range out.Candidates {
		ch := out.Candidates[i].Choices
		sort.SliceStable(ch, func(a, b int) bool { return preferred(ch[a], ch[b]) })
	}
	return out, nil
}

// CheckEligibility reports whether youth may be drawn for job, and why not.
func CheckEligibility(youth model.Youth, job model.Job, group model.JobGroup, now time.Time) (bool, string) {
	if youth.DateOfBirth != nil {
		age := Age(*youth.DateOfBirth, now)
		if age < group.MinAge {
			return false, fmt.Sprintf("Too young (age %d, min %d)", age, group.MinAge)
		}
		if age > group.MaxAge {
			return false, fmt.Sprintf("Too old (age %d, max %d)", age, group.MaxAge)
		}
	}

	if job.MinGrade != "" || job.MaxGrade != "" {
		if !GradeInRange(youth.Grade, job.MinGrade, job.MaxGrade) {
			return false, fmt.Sprintf("Grade %s not in range %s-%s", youth.Grade, job.MinGrade, job.MaxGrade)
		}
	}

	if key, ok := MissingAttribute(youth.Attributes, job.RequiredAttributes); !ok {
		return false, fmt.Sprintf("Attribute %q does not match", key)
	}

	return true, "Eligible"
}

// Age returns the age in whole years on the date of ref.
func Age(birth, ref time.Time) int {
	age := ref.Year() - birth.Year()
	if ref.Month() < birth.Month() || (ref.Month() == birth.Month() && ref.Day() < birth.Day()) {
		age--
	}
	return age
}

// GradeInRange checks grade against an inclusive ordinal window. An empty or
// unknown youth grade is allowed, and unknown bounds are ignored.
func GradeInRange(grade, min, max model.Grade) bool {
	idx := grade.Ordinal()
	if idx < 0 {
		return true
	}
	if lo := min.Ordinal(); lo >= 0 && idx < lo {
		return false
	}
	if hi := max.Ordinal(); hi >= 0 && idx > hi {
		return false
	}
	return true
}
