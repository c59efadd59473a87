// Package scheduler wires up the cron job that reaps lottery runs left
// RUNNING by a crashed process, so their group can run again.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Reaper fails every run that has been RUNNING for too long and returns the
// number of runs it failed.
type Reaper interface {
	ReapStaleRuns(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron and manages the reap loop.
type Scheduler struct {
	cron   *cron.Cron
	reaper Reaper
	spec   string // cron spec, e.g. "@every 1m"
}

// New creates a Scheduler that reaps on spec.
func New(reaper Reaper, spec string) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		reaper: reaper,
		spec:   spec,
	}
}

// Start registers the job and starts the scheduler. It also reaps once
// immediately so runs orphaned by the previous process are released at boot.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.reap(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)

	go s.reap(ctx)

	return nil
}

// Stop stops the scheduler and waits for a running reap to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] Cron stopped")
}

func (s *Scheduler) reap(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.reaper.ReapStaleRuns(ctx)
	if err != nil {
		log.Printf("[scheduler] Reap error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] Marked %d stale run(s) FAILED", n)
	}
}
