// Package orchestrator composes the registry, prompt cache, context
// filter, mode detector, tracker, and executor into the delegation
// pipeline.
package orchestrator

import (
	"time"

	"github.com/stewardhq/steward/internal/mode"
	"github.com/stewardhq/steward/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventDelegationQueued indicates a request was registered with the tracker.
	EventDelegationQueued EventType = "delegation_queued"
	// EventDelegationDispatched indicates a mode was chosen and the agent resolved.
	EventDelegationDispatched EventType = "delegation_dispatched"
	// EventDelegationStarted indicates the work began executing.
	EventDelegationStarted EventType = "delegation_started"
	// EventDelegationCompleted indicates the work finished successfully.
	EventDelegationCompleted EventType = "delegation_completed"
	// EventDelegationFailed indicates the work finished with an error.
	EventDelegationFailed EventType = "delegation_failed"
	// EventDelegationAborted indicates the work was terminated before completion.
	EventDelegationAborted EventType = "delegation_aborted"
	// EventModeFallback indicates local execution degraded to subprocess.
	EventModeFallback EventType = "mode_fallback"
)

// Event represents an event emitted by the orchestrator. Events are
// advisory; dropping one never affects the delegation's outcome.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RequestID is the id of the related delegation.
	RequestID string
	// AgentType is the agent named by the request, if applicable.
	AgentType string
	// Mode is the execution mode chosen, if applicable.
	Mode mode.Mode
	// ErrorKind classifies the failure for failure events.
	ErrorKind models.ErrorKind
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
