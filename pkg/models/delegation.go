package models

import "time"

// Priority indicates how urgent a delegation request is.
type Priority string

const (
	// PriorityLow is for background or best-effort work.
	PriorityLow Priority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh is for work that should preempt routine delegations.
	PriorityHigh Priority = "high"
	// PriorityCritical is for work that must run as soon as possible.
	PriorityCritical Priority = "critical"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// DelegationState represents where a delegation is in its lifecycle.
type DelegationState string

const (
	// StatePending indicates the request is registered but not yet dispatched.
	StatePending DelegationState = "pending"
	// StateDispatched indicates a mode was chosen and the agent resolved.
	StateDispatched DelegationState = "dispatched"
	// StateRunning indicates the work is executing.
	StateRunning DelegationState = "running"
	// StateCompleted indicates the work finished successfully.
	StateCompleted DelegationState = "completed"
	// StateFailed indicates the work finished with an error.
	StateFailed DelegationState = "failed"
	// StateAborted indicates the work was terminated before completion.
	StateAborted DelegationState = "aborted"
)

// Valid returns true if the state is a known value.
func (s DelegationState) Valid() bool {
	switch s {
	case StatePending, StateDispatched, StateRunning, StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state is a terminal state.
func (s DelegationState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// ResultStatus is the terminal outcome recorded on a DelegationResult.
type ResultStatus string

const (
	// StatusCompleted indicates the delegation succeeded.
	StatusCompleted ResultStatus = "completed"
	// StatusFailed indicates the delegation failed.
	StatusFailed ResultStatus = "failed"
	// StatusAborted indicates the delegation was terminated.
	StatusAborted ResultStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s ResultStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// State returns the delegation state corresponding to this terminal status.
func (s ResultStatus) State() DelegationState {
	switch s {
	case StatusCompleted:
		return StateCompleted
	case StatusAborted:
		return StateAborted
	default:
		return StateFailed
	}
}

// ErrorKind classifies a delegation failure for callers.
type ErrorKind string

const (
	// ErrKindAgentNotFound indicates the requested agent type is absent from the registry.
	ErrKindAgentNotFound ErrorKind = "agent_not_found"
	// ErrKindRenderFailed indicates the instruction template could not be rendered.
	ErrKindRenderFailed ErrorKind = "render_failed"
	// ErrKindAdmissionDenied indicates the pre-flight memory check failed.
	ErrKindAdmissionDenied ErrorKind = "admission_denied"
	// ErrKindMemoryExceeded indicates the subprocess breached its max memory threshold.
	ErrKindMemoryExceeded ErrorKind = "memory_exceeded"
	// ErrKindTimeout indicates the subprocess exceeded its wall-clock deadline.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindLocalFailed indicates the in-process invocation returned an error.
	ErrKindLocalFailed ErrorKind = "local_failed"
	// ErrKindCanceled indicates the caller canceled the delegation before dispatch.
	ErrKindCanceled ErrorKind = "canceled"
	// ErrKindDependencyWait indicates declared dependencies are not yet terminal.
	ErrKindDependencyWait ErrorKind = "dependency_wait"
	// ErrKindInternal indicates an unclassified orchestrator failure.
	ErrKindInternal ErrorKind = "internal"
)

// DelegationRequest is a single unit of work routed through the orchestrator.
// Requests are immutable after submission.
type DelegationRequest struct {
	// ID is the correlation id tying the request to its result.
	ID string `json:"id"`
	// AgentType names the agent definition to resolve.
	AgentType string `json:"agent_type"`
	// TaskDescription is the work to be done.
	TaskDescription string `json:"task_description"`
	// Requirements is an ordered list of constraints on the work.
	Requirements []string `json:"requirements,omitempty"`
	// Priority indicates urgency.
	Priority Priority `json:"priority"`
	// ContextBundle is the opaque key-value context handed to the filter.
	ContextBundle map[string]string `json:"context_bundle,omitempty"`
	// ParentWorkflowID groups requests belonging to one multi-agent workflow.
	ParentWorkflowID string `json:"parent_workflow_id,omitempty"`
	// DependsOn lists request ids that must be terminal before dispatch.
	DependsOn []string `json:"depends_on,omitempty"`
	// SubmittedAt is when the request entered the tracker.
	SubmittedAt time.Time `json:"submitted_at"`
}

// DelegationResult is the terminal outcome of a delegation.
// Exactly one result is created per request.
type DelegationResult struct {
	// RequestID is the correlation id of the originating request.
	RequestID string `json:"request_id"`
	// Status is the terminal outcome.
	Status ResultStatus `json:"status"`
	// Output is the worker's stdout or the local invoker's return value.
	Output string `json:"output,omitempty"`
	// ErrorKind classifies the failure, empty on success.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// Error is the failure detail, empty on success.
	Error string `json:"error,omitempty"`
	// AgentUsed is the resolved definition the work ran under, if resolution succeeded.
	AgentUsed *AgentDefinition `json:"agent_used,omitempty"`
	// DurationMS is the wall-clock time spent on the delegation.
	DurationMS int64 `json:"duration_ms"`
}
