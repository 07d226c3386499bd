package services

import (
	"errors"
	"fmt"

	"github.com/imyashkale/fleetd/internal/models"
)

var (
	ErrExecutionTimedOut  = errors.New("execution timed out")
	ErrExecutionCancelled = errors.New("execution cancelled")
)

// StepError reports the step that ended an execution
type StepError struct {
	Phase           models.Phase
	Index           int
	ExitCode        int
	ActionSucceeded bool
	Err             error
}

func (e *StepError) Error() string {
	switch e.Phase {
	case models.PhaseAction:
		return fmt.Sprintf("action failed (exit %d): %v", e.ExitCode, e.Err)
	case models.PhaseShutdown:
		return fmt.Sprintf("shutdown command %d failed (exit %d): %v", e.Index, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("%s %d failed (exit %d): %v", e.Phase, e.Index, e.ExitCode, e.Err)
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Code returns the gateway error code for the failure
func (e *StepError) Code() string {
	switch e.Phase {
	case models.PhaseAction:
		return models.CodeActionFailed
	case models.PhaseShutdown:
		return models.CodeShutdownFailed
	}
	return models.CodeHookFailed
}

// Failure converts the error into the record form
func (e *StepError) Failure() *models.Failure {
	return &models.Failure{
		Phase:           e.Phase,
		Index:           e.Index,
		ExitCode:        e.ExitCode,
		ActionSucceeded: e.ActionSucceeded,
		Message:         e.Error(),
	}
}
