package tracker

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stewardhq/steward/pkg/models"
)

// ErrNotFound indicates the request id was never registered.
var ErrNotFound = errors.New("delegation not found")

// ErrDuplicate indicates the request id is already registered.
var ErrDuplicate = errors.New("delegation already registered")

// ErrAlreadyTerminal indicates a second completion was attempted.
var ErrAlreadyTerminal = errors.New("delegation already terminal")

// ErrNotTerminal indicates the result was requested before completion.
var ErrNotTerminal = errors.New("delegation not terminal")

// ErrNotPending indicates a cancel was attempted after dispatch.
var ErrNotPending = errors.New("delegation already dispatched")

// DB wraps an SQLite database with delegation-tracking operations.
// An in-memory state index keeps Status checks off the database;
// the index and the database are updated together under one lock.
type DB struct {
	conn *sql.DB
	path string

	mu     sync.RWMutex
	states map[string]models.DelegationState
}

// ProjectDBPath returns the path to the project-local tracking database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".steward", "delegations.db")
}

// Open opens an SQLite database at the given path.
// It creates parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{
		conn:   conn,
		path:   path,
		states: make(map[string]models.DelegationState),
	}
	return db, nil
}

// OpenProject opens the project-local tracking database and applies
// migrations.
func OpenProject(projectRoot string) (*DB, error) {
	db, err := Open(ProjectDBPath(projectRoot))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations and loads the state index.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Delegations},
		{2, migrationV2Results},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return db.loadStateIndexLocked()
}

// loadStateIndexLocked rebuilds the in-memory state index from the
// database. Caller must hold mu.
func (db *DB) loadStateIndexLocked() error {
	rows, err := db.conn.Query("SELECT id, state FROM delegations")
	if err != nil {
		return fmt.Errorf("load state index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return fmt.Errorf("scan state index row: %w", err)
		}
		db.states[id] = models.DelegationState(state)
	}
	return rows.Err()
}

// Migration SQL statements
const migrationV1Delegations = `
CREATE TABLE IF NOT EXISTS delegations (
	id TEXT PRIMARY KEY,
	agent_type TEXT NOT NULL,
	task_description TEXT NOT NULL,
	requirements TEXT,
	priority TEXT NOT NULL DEFAULT 'medium',
	context_bundle TEXT,
	parent_workflow_id TEXT,
	depends_on TEXT,
	state TEXT NOT NULL DEFAULT 'pending',
	submitted_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_delegations_state ON delegations(state);
CREATE INDEX IF NOT EXISTS idx_delegations_workflow ON delegations(parent_workflow_id);
`

const migrationV2Results = `
CREATE TABLE IF NOT EXISTS results (
	request_id TEXT PRIMARY KEY REFERENCES delegations(id),
	status TEXT NOT NULL,
	output TEXT,
	error_kind TEXT,
	error TEXT,
	agent_name TEXT,
	agent_tier TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

// Register records a new request in the pending state.
func (db *DB) Register(req *models.DelegationRequest) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.states[req.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, req.ID)
	}

	requirements, err := json.Marshal(req.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	contextBundle, err := json.Marshal(req.ContextBundle)
	if err != nil {
		return fmt.Errorf("marshal context bundle: %w", err)
	}
	dependsOn, err := json.Marshal(req.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}

	now := time.Now().UTC()
	submitted := req.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}

	_, err = db.conn.Exec(`
		INSERT INTO delegations
			(id, agent_type, task_description, requirements, priority,
			 context_bundle, parent_workflow_id, depends_on, state,
			 submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.AgentType, req.TaskDescription, string(requirements),
		string(req.Priority), string(contextBundle), req.ParentWorkflowID,
		string(dependsOn), string(models.StatePending), submitted, now,
	)
	if err != nil {
		return fmt.Errorf("insert delegation: %w", err)
	}

	db.states[req.ID] = models.StatePending
	return nil
}

// MarkDispatched moves a pending request to dispatched.
func (db *DB) MarkDispatched(id string) error {
	return db.transition(id, models.StatePending, models.StateDispatched)
}

// MarkRunning moves a dispatched request to running.
func (db *DB) MarkRunning(id string) error {
	return db.transition(id, models.StateDispatched, models.StateRunning)
}

// transition moves a request from one expected state to the next.
func (db *DB) transition(id string, from, to models.DelegationState) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	current, exists := db.states[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, current)
	}
	if current != from {
		return fmt.Errorf("delegation %s is %s, cannot move to %s", id, current, to)
	}

	return db.setStateLocked(id, to)
}

// setStateLocked updates a delegation's state in both the database and
// the index. Caller must hold mu.
func (db *DB) setStateLocked(id string, state models.DelegationState) error {
	_, err := db.conn.Exec(
		"UPDATE delegations SET state = ?, updated_at = ? WHERE id = ?",
		string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update delegation state: %w", err)
	}
	db.states[id] = state
	return nil
}

// Complete records the terminal result exactly once.
func (db *DB) Complete(id string, result *models.DelegationResult) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	current, exists := db.states[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, current)
	}

	agentName, agentTier := "", ""
	if result.AgentUsed != nil {
		agentName = result.AgentUsed.Name
		agentTier = string(result.AgentUsed.Tier)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO results
			(request_id, status, output, error_kind, error,
			 agent_name, agent_tier, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(result.Status), result.Output, string(result.ErrorKind),
		result.Error, agentName, agentTier, result.DurationMS, time.Now().UTC(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert result: %w", err)
	}

	state := result.Status.State()
	_, err = tx.Exec(
		"UPDATE delegations SET state = ?, updated_at = ? WHERE id = ?",
		string(state), time.Now().UTC(), id,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update delegation state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}

	db.states[id] = state
	return nil
}

// Cancel aborts a request that is still pending. Requests past dispatch
// belong to the executor's deadline and threshold paths.
func (db *DB) Cancel(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	current, exists := db.states[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current != models.StatePending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, current)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO results
			(request_id, status, error_kind, created_at)
		VALUES (?, ?, ?, ?)`,
		id, string(models.StatusAborted), string(models.ErrKindCanceled), time.Now().UTC(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert cancel result: %w", err)
	}

	_, err = tx.Exec(
		"UPDATE delegations SET state = ?, updated_at = ? WHERE id = ?",
		string(models.StateAborted), time.Now().UTC(), id,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update delegation state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}

	db.states[id] = models.StateAborted
	return nil
}

// Status returns the current state for a registered request.
func (db *DB) Status(id string) (models.DelegationState, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	state, exists := db.states[id]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return state, nil
}

// Result returns the terminal result for a completed request.
func (db *DB) Result(id string) (*models.DelegationResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	state, exists := db.states[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !state.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, state)
	}

	return db.scanResultLocked(id)
}

// scanResultLocked reads one result row. Caller must hold mu.
func (db *DB) scanResultLocked(id string) (*models.DelegationResult, error) {
	row := db.conn.QueryRow(`
		SELECT status, output, error_kind, error, agent_name, agent_tier, duration_ms
		FROM results WHERE request_id = ?`, id)

	var status, output, errorKind, errMsg, agentName, agentTier sql.NullString
	var durationMS int64
	if err := row.Scan(&status, &output, &errorKind, &errMsg, &agentName, &agentTier, &durationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: result row for %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}

	result := &models.DelegationResult{
		RequestID:  id,
		Status:     models.ResultStatus(status.String),
		Output:     output.String,
		ErrorKind:  models.ErrorKind(errorKind.String),
		Error:      errMsg.String,
		DurationMS: durationMS,
	}
	if agentName.String != "" {
		result.AgentUsed = &models.AgentDefinition{
			Name: agentName.String,
			Tier: models.Tier(agentTier.String),
		}
	}
	return result, nil
}

// DependenciesTerminal reports whether every declared dependency of the
// request has reached a terminal state. Unknown dependency ids count as
// not terminal.
func (db *DB) DependenciesTerminal(req *models.DelegationRequest) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, depID := range req.DependsOn {
		state, exists := db.states[depID]
		if !exists {
			return false, fmt.Errorf("%w: dependency %s", ErrNotFound, depID)
		}
		if !state.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// ListByWorkflow returns all records sharing a parent workflow id,
// ordered by submission time.
func (db *DB) ListByWorkflow(workflowID string) ([]*Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, agent_type, task_description, requirements, priority,
		       parent_workflow_id, depends_on, state, submitted_at, updated_at
		FROM delegations
		WHERE parent_workflow_id = ?
		ORDER BY submitted_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			req                     models.DelegationRequest
			requirements, dependsOn sql.NullString
			priority, state         string
			updatedAt               time.Time
		)
		err := rows.Scan(&req.ID, &req.AgentType, &req.TaskDescription,
			&requirements, &priority, &req.ParentWorkflowID, &dependsOn,
			&state, &req.SubmittedAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}

		req.Priority = models.Priority(priority)
		if requirements.String != "" {
			if err := json.Unmarshal([]byte(requirements.String), &req.Requirements); err != nil {
				return nil, fmt.Errorf("unmarshal requirements: %w", err)
			}
		}
		if dependsOn.String != "" {
			if err := json.Unmarshal([]byte(dependsOn.String), &req.DependsOn); err != nil {
				return nil, fmt.Errorf("unmarshal depends_on: %w", err)
			}
		}

		rec := &Record{
			Request:   &req,
			State:     models.DelegationState(state),
			UpdatedAt: updatedAt,
		}
		if rec.State.Terminal() {
			result, err := db.scanResultLocked(req.ID)
			if err == nil {
				rec.Result = result
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
