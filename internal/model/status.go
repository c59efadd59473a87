// Application status graph:
//
//	PENDING ──► LOTTERY ──► OFFERED ──► ACCEPTED
//	   │           │  │        │
//	   │           │  └──► RESERVE ──► OFFERED
//	   └───────────┴──────────┴──────────┴──► REJECTED
//
// ACCEPTED and REJECTED are terminal states. PENDING may also move directly
// to OFFERED or RESERVE when the lottery picks it up without an explicit
// LOTTERY step.
//
// Lottery run graph:
//
//	PENDING ──► RUNNING ──► COMPLETED
//	               └──────► FAILED
package model

import "fmt"

// ApplicationStatus values mirror the application_status enum in PostgreSQL.
type ApplicationStatus string

const (
	AppPending  ApplicationStatus = "PENDING"
	AppLottery  ApplicationStatus = "LOTTERY"
	AppOffered  ApplicationStatus = "OFFERED"
	AppAccepted ApplicationStatus = "ACCEPTED"
	AppRejected ApplicationStatus = "REJECTED"
	AppReserve  ApplicationStatus = "RESERVE"
)

var appTransitions = map[ApplicationStatus][]ApplicationStatus{
	AppPending: {AppLottery, AppOffered, AppReserve, AppRejected},
	AppLottery: {AppOffered, AppReserve, AppRejected},
	AppOffered: {AppAccepted, AppRejected},
	AppReserve: {AppOffered, AppRejected},
	// ACCEPTED and REJECTED are terminal
}

// ParseApplicationStatus converts a raw string to an ApplicationStatus,
// returning an error for unknown values.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	st := ApplicationStatus(s)
	switch st {
	case AppPending, AppLottery, AppOffered, AppAccepted, AppRejected, AppReserve:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsPreLottery reports whether an application in status s may still be
// considered by a lottery run.
func (s ApplicationStatus) IsPreLottery() bool {
	return s == AppPending || s == AppLottery
}

// PreLotteryStatuses lists the statuses a run reads.
func PreLotteryStatuses() []ApplicationStatus {
	return []ApplicationStatus{AppPending, AppLottery}
}

// CanTransition returns true when moving from → to is permitted.
func (s ApplicationStatus) CanTransition(to ApplicationStatus) bool {
	for _, allowed := range appTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RunStatus values mirror the lottery_run_status enum.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning},
	RunRunning: {RunCompleted, RunFailed},
}

// ParseRunStatus converts a raw string to a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	st := RunStatus(s)
	switch st {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown lottery run status %q", s)
}

// CanTransition returns true when moving from → to is permitted.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool { return s == RunCompleted || s == RunFailed }
