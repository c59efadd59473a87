package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jswmusik/jobbeli/internal/model"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	groups  map[string]model.JobGroup
	periods map[string]model.Period
	jobs   map[string]model.Job
	youth  map[string]model.Youth
	apps   map[string]model.Application
	runs   map[string]model.LotteryRun

	// commitErr, when set, makes the next CommitRun fail without writing.
	commitErr error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:  make(map[string]model.JobGroup),
		periods: make(map[string]model.Period),
		jobs:   make(map[string]model.Job),
		youth:  make(map[string]model.Youth),
		apps:   make(map[string]model.Application),
		runs:   make(map[string]model.LotteryRun),
	}
}

func (m *MemoryStore) PutPeriod(p model.Period) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[p.ID] = p
}

func (m *MemoryStore) PutGroup(g model.JobGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
}

func (m *MemoryStore) PutJob(j model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
}

func (m *MemoryStore) PutYouth(y model.Youth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.youth[y.ID] = y
}

func (m *MemoryStore) PutApplication(a model.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[a.ID] = a
}

// Application returns the stored copy of an application.
func (m *MemoryStore) Application(id string) (model.Application, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	return a, ok
}

// FailNextCommit makes the next CommitRun return err without writing.
func (m *MemoryStore) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, groupID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	snap := &Snapshot{Group: g, Period: m.periods[g.PeriodID], Youth: make(map[string]model.Youth)}

	for _, j := range m.jobs {
		if j.GroupID == groupID {
			snap.Jobs = append(snap.Jobs, j)
		}
	}
	sort.Slice(snap.Jobs, func(a, b int) bool { return snap.Jobs[a].ID < snap.Jobs[b].ID })

	for _, a := range m.apps {
		j, ok := m.jobs[a.JobID]
		if !ok || j.GroupID != groupID || !a.Status.IsPreLottery() {
			continue
		}
		snap.Applications = append(snap.Applications, a)
		if y, ok := m.youth[a.YouthID]; ok {
			snap.Youth[y.ID] = y
		}
	}
	SortApplications(snap.Applications)
	return snap, nil
}

func (m *MemoryStore) StartRun(_ context.Context, run *model.LotteryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[run.GroupID]; !ok {
		return fmt.Errorf("group %s: %w", run.GroupID, ErrNotFound)
	}
	for _, r := range m.runs {
		if r.GroupID == run.GroupID && r.Status == model.RunRunning {
			return ErrRunInProgress
		}
	}
	if _, dup := m.runs[run.ID]; dup {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := claimable(run); err != nil {
		return err
	}
	run.Status = model.RunRunning
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) CommitRun(_ context.Context, run *model.LotteryRun, writes []model.StatusWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commitErr; err != nil {
		m.commitErr = nil
		return err
	}
	cur, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	if !cur.Status.CanTransition(model.RunCompleted) {
		return ErrRunNotRunning
	}

	// Validate everything before touching anything.
	for _, w := range writes {
		a, ok := m.apps[w.ApplicationID]
		if !ok || a.Status != w.From {
			return fmt.Errorf("application %s: %w", w.ApplicationID, ErrConflict)
		}
	}
	for _, w := range writes {
		a := m.apps[w.ApplicationID]
		a.Status = w.To
		m.apps[w.ApplicationID] = a
	}

	run.Status = model.RunCompleted
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) FailRun(_ context.Context, runID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if !r.Status.CanTransition(model.RunFailed) {
		return ErrRunNotRunning
	}
	r.Status = model.RunFailed
	r.Error = reason
	r.CompletedAt = &at
	m.runs[runID] = r
	return nil
}

func (m *MemoryStore) FailStaleRuns(_ context.Context, startedBefore time.Time, reason string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, r := range m.runs {
		if r.Status.CanTransition(model.RunFailed) && r.ExecutedAt.Before(startedBefore) {
			r.Status = model.RunFailed
			r.Error = reason
			r.CompletedAt = &at
			m.runs[id] = r
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*model.LotteryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	r.GroupName = m.groups[r.GroupID].Name
	return &r, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, groupID string) ([]model.LotteryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]model.LotteryRun, 0)
	for _, r := range m.runs {
		if groupID != "" && r.GroupID != groupID {
			continue
		}
		r.GroupName = m.groups[r.GroupID].Name
		runs = append(runs, r)
	}
	sort.Slice(runs, func(a, b int) bool {
		if !runs[a].ExecutedAt.Equal(runs[b].ExecutedAt) {
			return runs[a].ExecutedAt.After(runs[b].ExecutedAt)
		}
		return runs[a].ID > runs[b].ID
	})
	return runs, nil
}

// claimable checks that a new run may start. An unset status counts as
// PENDING.
func claimable(run *model.LotteryRun) error {
	if run.Status == "" {
		run.Status = model.RunPending
	}
	if !run.Status.CanTransition(model.RunRunning) {
		return fmt.Errorf("run %s is %s and cannot start", run.ID, run.Status)
	}
	return nil
}

// SortApplications orders applications the way a snapshot returns them:
// youth id, priority rank with unranked last, creation time, then id.
func SortApplications(apps []model.Application) {
	sort.SliceStable(apps, func(i, j int) bool {
		a, b := apps[i], apps[j]
		if a.YouthID != b.YouthID {
			return a.YouthID < b.YouthID
		}
		if (a.PriorityRank == nil) != (b.PriorityRank == nil) {
			return a.PriorityRank != nil
		}
		if a.PriorityRank != nil && *a.PriorityRank != *b.PriorityRank {
			return *a.PriorityRank < *b.PriorityRank
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

var _ Store = (*MemoryStore)(nil)
