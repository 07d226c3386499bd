package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one execution
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimedOut  ExecutionStatus = "timed_out"
	StatusSkipped   ExecutionStatus = "skipped"
	StatusRejected  ExecutionStatus = "rejected"
)

// Terminal reports whether no further transition is possible
func (s ExecutionStatus) Terminal() bool {
	return s != "" && s != StatusRunning
}

// Phase names where a step ran
type Phase string

const (
	PhasePreHook  Phase = "pre_hook"
	PhaseAction   Phase = "action"
	PhasePostHook Phase = "post_hook"
	PhaseShutdown Phase = "shutdown"
)

// Operation is what an execution did to a deployment
type Operation string

const (
	OperationDeploy   Operation = "deploy"
	OperationShutdown Operation = "shutdown"
)

// Trigger describes who asked for an execution
type Trigger struct {
	Source       string `json:"source" dynamodbav:"Source"` // "github", "gitlab", "gitea", "bitbucket", "manual"
	Event        string `json:"event,omitempty" dynamodbav:"Event,omitempty"`
	Ref          string `json:"ref,omitempty" dynamodbav:"Ref,omitempty"`
	PeerIP       string `json:"peer_ip" dynamodbav:"PeerIP"`
	ForwardedFor string `json:"forwarded_for,omitempty" dynamodbav:"ForwardedFor,omitempty"`
	Subject      string `json:"subject,omitempty" dynamodbav:"Subject,omitempty"`
}

// StepResult is the captured outcome of one subprocess
type StepResult struct {
	Phase      Phase     `json:"phase" dynamodbav:"Phase"`
	Index      int       `json:"index" dynamodbav:"Index"`
	Name       string    `json:"name" dynamodbav:"Name"`
	Command    string    `json:"command" dynamodbav:"Command"`
	ExitCode   int       `json:"exit_code" dynamodbav:"ExitCode"`
	Output     string    `json:"output,omitempty" dynamodbav:"Output,omitempty"`
	Truncated  bool      `json:"truncated,omitempty" dynamodbav:"Truncated,omitempty"`
	StartedAt  time.Time `json:"started_at" dynamodbav:"StartedAt"`
	DurationMs int64     `json:"duration_ms" dynamodbav:"DurationMs"`
	Error      string    `json:"error,omitempty" dynamodbav:"Error,omitempty"`
}

// Succeeded reports whether the step exited cleanly
func (s StepResult) Succeeded() bool {
	return s.ExitCode == 0 && s.Error == ""
}

// Failure locates the step that ended an execution
type Failure struct {
	Phase           Phase  `json:"phase" dynamodbav:"Phase"`
	Index           int    `json:"index" dynamodbav:"Index"`
	ExitCode        int    `json:"exit_code" dynamodbav:"ExitCode"`
	ActionSucceeded bool   `json:"action_succeeded" dynamodbav:"ActionSucceeded"`
	Message         string `json:"message" dynamodbav:"Message"`
}

// ExecutionRecord is the observable history of one trigger
type ExecutionRecord struct {
	ID         string          `json:"id" dynamodbav:"ExecutionId"`
	Deployment string          `json:"deployment" dynamodbav:"Deployment"`
	Operation  Operation       `json:"operation" dynamodbav:"Operation"`
	Kind       Kind            `json:"kind,omitempty" dynamodbav:"Kind,omitempty"`
	Status     ExecutionStatus `json:"status" dynamodbav:"Status"`
	Reason     string          `json:"reason,omitempty" dynamodbav:"Reason,omitempty"`
	Trigger    Trigger         `json:"trigger" dynamodbav:"Trigger"`
	Steps      []StepResult    `json:"steps" dynamodbav:"Steps"`
	Failure    *Failure        `json:"failure,omitempty" dynamodbav:"Failure,omitempty"`
	CommitFrom string          `json:"commit_from,omitempty" dynamodbav:"CommitFrom,omitempty"`
	CommitTo   string          `json:"commit_to,omitempty" dynamodbav:"CommitTo,omitempty"`
	Changed    *bool           `json:"changed,omitempty" dynamodbav:"Changed,omitempty"`
	CreatedAt  time.Time       `json:"created_at" dynamodbav:"CreatedAt"`
	StartedAt  *time.Time      `json:"started_at,omitempty" dynamodbav:"StartedAt,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" dynamodbav:"FinishedAt,omitempty"`
	DurationMs int64           `json:"duration_ms" dynamodbav:"DurationMs"`
}

// NewExecutionRecord creates a record with no status yet
func NewExecutionRecord(deployment string, trigger Trigger, now time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:         uuid.NewString(),
		Deployment: deployment,
		Operation:  OperationDeploy,
		Trigger:    trigger,
		Steps:      make([]StepResult, 0),
		CreatedAt:  now,
	}
}

// Start moves a fresh record to Running
func (r *ExecutionRecord) Start(now time.Time) bool {
	if r.Status != "" {
		return false
	}
	r.Status = StatusRunning
	r.StartedAt = &now
	return true
}

// Finish moves a record to a terminal status. Running may only end in
// Succeeded, Failed or TimedOut; a fresh record may only end in Skipped or
// Rejected. Terminal records never change again.
func (r *ExecutionRecord) Finish(status ExecutionStatus, reason string, now time.Time) bool {
	switch r.Status {
	case "":
		if status != StatusSkipped && status != StatusRejected {
			return false
		}
	case StatusRunning:
		if status != StatusSucceeded && status != StatusFailed && status != StatusTimedOut {
			return false
		}
	default:
		return false
	}

	r.Status = status
	r.Reason = reason
	r.FinishedAt = &now
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
	return true
}

// AddStep appends a step result
func (r *ExecutionRecord) AddStep(step StepResult) {
	r.Steps = append(r.Steps, step)
}

// ExecutionListResponse represents the response for listing executions
type ExecutionListResponse struct {
	Executions []*ExecutionRecord `json:"executions"`
	Total      int                `json:"total"`
}

// DeployResponse is returned by the webhook trigger route
type DeployResponse struct {
	Success    bool             `json:"success"`
	Deployment string           `json:"deployment"`
	Status     ExecutionStatus  `json:"status"`
	Skipped    bool             `json:"skipped,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
	Execution  *ExecutionRecord `json:"execution,omitempty"`
}
