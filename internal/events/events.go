// Package events publishes lottery run lifecycle events on Redis pub/sub so
// the gateway can fan them out to connected admin clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jswmusik/jobbeli/internal/model"
)

// Channel names, one per event type.
const (
	RunCompleted = "EVENT_LOTTERY_RUN_COMPLETED"
	RunFailed    = "EVENT_LOTTERY_RUN_FAILED"
)

// Event is the payload published for a finished run.
type Event struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	GroupID    string `json:"groupId"`
	Status     string `json:"status"`
	Seed       int64  `json:"seed"`
	Candidates int    `json:"candidates"`
	Matched    int    `json:"matched"`
	Reserves   int    `json:"reserves"`
	Digest     string `json:"digest,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FromRun builds the event for a run in a terminal status.
func FromRun(run *model.LotteryRun) Event {
	typ := RunCompleted
	if run.Status == model.RunFailed {
		typ = RunFailed
	}
	return Event{
		Type:       typ,
		RunID:      run.ID,
		GroupID:    run.GroupID,
		Status:     string(run.Status),
		Seed:       run.Seed,
		Candidates: run.CandidatesCount,
		Matched:    run.MatchedCount,
		Reserves:   run.UnmatchedCount,
		Digest:     run.ReportDigest,
		Error:      run.Error,
	}
}

// RedisPublisher publishes events with PUBLISH on the channel named by the
// event type.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a publisher on rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, ev.Type, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}
