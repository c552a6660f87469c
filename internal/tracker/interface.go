// Package tracker provides SQLite-based lifecycle tracking for delegations.
package tracker

import (
	"io"
	"time"

	"github.com/stewardhq/steward/pkg/models"
)

// Record is one tracked delegation with its current state and, once
// terminal, its result.
type Record struct {
	// Request is the submitted delegation request.
	Request *models.DelegationRequest
	// State is the current lifecycle state.
	State models.DelegationState
	// Result is the terminal outcome, nil while non-terminal.
	Result *models.DelegationResult
	// UpdatedAt is the last state change time.
	UpdatedAt time.Time
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the single source of truth for in-flight delegations.
// The orchestrator must not report a result to its caller without first
// recording it here.
type Store interface {
	io.Closer
	Migrator

	// Register records a new request in the pending state.
	// A duplicate id is an error.
	Register(req *models.DelegationRequest) error

	// MarkDispatched moves a pending request to dispatched.
	MarkDispatched(id string) error

	// MarkRunning moves a dispatched request to running.
	MarkRunning(id string) error

	// Complete records the terminal result exactly once.
	// A second completion for the same id is an error.
	Complete(id string, result *models.DelegationResult) error

	// Cancel aborts a request that has not been dispatched yet.
	Cancel(id string) error

	// Status returns the current state for a registered request.
	Status(id string) (models.DelegationState, error)

	// Result returns the terminal result, or ErrNotTerminal while in flight.
	Result(id string) (*models.DelegationResult, error)

	// DependenciesTerminal reports whether every DependsOn id of the
	// request has reached a terminal state.
	DependenciesTerminal(req *models.DelegationRequest) (bool, error)

	// ListByWorkflow returns all records sharing a parent workflow id.
	ListByWorkflow(workflowID string) ([]*Record, error)
}

// Compile-time verification that DB implements the store interfaces.
var (
	_ Store    = (*DB)(nil)
	_ Migrator = (*DB)(nil)
)
