package engine

import "github.com/jswmusik/jobbeli/internal/model"

// Version is recorded with every run so a report can be tied to the
// algorithm that produced it.
const Version = "1.0.0"

// Match is one candidate assigned to one job.
type Match struct {
	YouthID       string
	JobID         string
	ApplicationID string
}

// Allocation is the single output every downstream step reads from.
type Allocation struct {
	// Matches are in processing order.
	Matches []Match
	// Reserves are in processing order, which is also reserve priority.
	Reserves []string
	// Order is the full processing order of candidate ids.
	Order []string
	// Capacity and Remaining are keyed by job id.
	Capacity  map[string]int
	Remaining map[string]int
}

// Matched returns the youth → job map of the allocation.
func (a *Allocation) Matched() map[string]string {
	m := make(map[string]string, len(a.Matches))
	for _, mt := range a.Matches {
		m[mt.YouthID] = mt.JobID
	}
	return m
}

// Filled returns the number of spots taken per job.
func (a *Allocation) Filled() map[string]int {
	f := make(map[string]int, len(a.Capacity))
	for id, total := range a.Capacity {
		f[id] = total - a.Remaining[id]
	}
	return f
}

// Allocate runs Random Serial Dictatorship over ranked candidates: each
// candidate, in order, takes the first job on their want-list that still has
// a free spot. Candidates who get nothing are reserved in the same order.
//
// This is a single greedy pass with no backtracking. Jobs missing from jobs,
// or with a non-positive spot count, never receive a match.
func Allocate(ranked []Candidate, jobs []model.Job) *Allocation {
	a := &Allocation{
		Matches:   make([]Match, 0, len(ranked)),
		Reserves:  make([]string, 0),
		Order:     make([]string, 0, len(ranked)),
		Capacity:  make(map[string]int, len(jobs)),
		Remaining: make(map[string]int, len(jobs)),
	}
	for _, j := range jobs {
		spots := j.TotalSpots
		if spots < 0 {
			spots = 0
		}
		a.Capacity[j.ID] = spots
		a.Remaining[j.ID] = spots
	}

	for _, c := range ranked {
		a.Order = append(a.Order, c.YouthID)
		assigned := false
		for _, ch := range c.Choices {
			if a.Remaining[ch.JobID] > 0 {
				a.Remaining[ch.JobID]--
				a.Matches = append(a.Matches, Match{
					YouthID:       c.YouthID,
					JobID:         ch.JobID,
					ApplicationID: ch.ApplicationID,
				})
				assigned = true
				break
			}
		}
		if !assigned {
			a.Reserves = append(a.Reserves, c.YouthID)
		}
	}
	return a
}
