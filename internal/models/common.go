package models

// Error codes returned by the gateway
const (
	CodeIsolationRejected  = "isolation_rejected"
	CodeAuthInvalid        = "auth_invalid"
	CodeSignatureInvalid   = "signature_invalid"
	CodeConstraintViolated = "constraint_violated"
	CodeDeploymentNotFound = "deployment_not_found"
	CodeDeploymentBusy     = "deployment_busy"
	CodeHookFailed         = "hook_failed"
	CodeActionFailed       = "action_failed"
	CodeShutdownFailed     = "shutdown_failed"
	CodeExecutionTimedOut  = "execution_timed_out"
	CodeExecutionCancelled = "execution_cancelled"
	CodeShuttingDown       = "shutting_down"
	CodePayloadTooLarge    = "payload_too_large"
	CodeBadRequest         = "bad_request"
	CodeReloadFailed       = "reload_failed"
	CodeInternal           = "internal_error"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Mode is the role a node runs in
type Mode string

const (
	ModeHome  Mode = "home"
	ModeAgent Mode = "agent"
)
