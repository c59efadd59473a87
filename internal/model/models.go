// Package model defines the data structures shared by the lottery engine,
// the store and the transports.
package model

import (
	"encoding/json"
	"time"
)

// Period is a named working window a job group belongs to.
type Period struct {
	ID               string
	MunicipalityID   string
	Name             string
	StartDate        time.Time
	EndDate          time.Time
	ApplicationOpen  time.Time
	ApplicationClose time.Time
}

// JobGroup is a bucket of jobs run through one lottery together.
type JobGroup struct {
	ID             string
	MunicipalityID string
	PeriodID       string
	Name           string
	Description    string
	MinAge         int
	MaxAge         int
}

// Default age bounds applied when a group is created without explicit ones.
const (
	DefaultMinAge = 15
	DefaultMaxAge = 19
)

// JobStatus mirrors the job_status enum.
type JobStatus string

const (
	JobDraft     JobStatus = "DRAFT"
	JobPublished JobStatus = "PUBLISHED"
	JobArchived  JobStatus = "ARCHIVED"
)

// JobType separates lottery jobs from directly-applied ones.
type JobType string

const (
	JobTypeNormal  JobType = "NORMAL"
	JobTypeLottery JobType = "LOTTERY"
)

// Job is the subset of a job listing the engine needs.
type Job struct {
	ID         string
	GroupID    string
	Title      string
	TotalSpots int
	Status     JobStatus
	Type       JobType
	MinGrade   Grade
	MaxGrade   Grade
	// RequiredAttributes must all be present on the youth with equal values,
	// e.g. {"school": "Centralskolan"}.
	RequiredAttributes map[string]string
}

// Youth is an applicant profile.
type Youth struct {
	ID          string
	Email       string
	DateOfBirth *time.Time
	Grade       Grade
	Attributes  map[string]string
}

// Application links one youth to one job.
type Application struct {
	ID        string
	YouthID   string
	JobID     string
	Status    ApplicationStatus
	// PriorityRank is 1-based; nil means no stated preference.
	PriorityRank *int
	CreatedAt    time.Time
}

// LotteryRun is the append-only record of one lottery execution.
type LotteryRun struct {
	ID              string          `json:"id"`
	GroupID         string          `json:"group"`
	GroupName       string          `json:"group_name,omitempty"`
	Status          RunStatus       `json:"status"`
	Seed            int64           `json:"seed"`
	EngineVersion   string          `json:"engine_version"`
	ExecutedAt      time.Time       `json:"executed_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
	ExecutedBy      string          `json:"executed_by,omitempty"`
	CandidatesCount int             `json:"candidates_count"`
	MatchedCount    int             `json:"matched_count"`
	UnmatchedCount  int             `json:"unmatched_count"`
	AuditReport     json.RawMessage `json:"audit_report,omitempty"`
	ReportDigest    string          `json:"report_digest,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// StatusWrite is one application status transition produced by a run.
type StatusWrite struct {
	ApplicationID string
	From          ApplicationStatus
	To            ApplicationStatus
}
