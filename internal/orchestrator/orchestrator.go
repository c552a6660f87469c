package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/contextfilter"
	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/mode"
	"github.com/stewardhq/steward/internal/promptcache"
	"github.com/stewardhq/steward/internal/registry"
	"github.com/stewardhq/steward/internal/tracker"
	"github.com/stewardhq/steward/pkg/models"
)

// ErrDependenciesPending indicates a request's declared dependencies are
// not all terminal yet; resubmission policy belongs to the caller.
var ErrDependenciesPending = errors.New("dependencies not terminal")

// Orchestrator routes delegation requests through mode detection, agent
// resolution, context filtering, prompt rendering, and execution, and
// records every outcome with the tracker before reporting it.
//
// Every dependency failure maps to a terminal DelegationResult with a
// classified ErrorKind; Delegate never panics through.
type Orchestrator struct {
	registry *registry.Registry
	tracker  tracker.Store
	runner   SubprocessRunner

	filter   *contextfilter.Filter
	cache    *promptcache.Cache
	detector *mode.Detector
	local    LocalInvoker

	localEnabled bool
	thresholds   models.MemoryThresholds

	// slots bounds delegations in flight; nil means unbounded.
	slots chan struct{}

	emitter *EventEmitter

	newID   func() string
	warnLog func(format string, args ...interface{})
}

// New creates an Orchestrator from the required components plus options.
func New(req Required, opts ...Option) (*Orchestrator, error) {
	if req.Registry == nil {
		return nil, errors.New("orchestrator requires a registry")
	}
	if req.Tracker == nil {
		return nil, errors.New("orchestrator requires a tracker")
	}
	if req.Runner == nil {
		return nil, errors.New("orchestrator requires a subprocess runner")
	}

	o := &options{
		eventBuffer: 64,
		newID:       uuid.NewString,
		warnLog: func(format string, args ...interface{}) {
			log.Printf("[orchestrator] "+format, args...)
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.filter == nil {
		o.filter = contextfilter.New()
	}
	if o.detector == nil {
		o.detector = mode.New()
	}
	o.detector.SetWarnLog(o.warnLog)

	orch := &Orchestrator{
		registry:     req.Registry,
		tracker:      req.Tracker,
		runner:       req.Runner,
		filter:       o.filter,
		cache:        o.cache,
		detector:     o.detector,
		local:        o.local,
		localEnabled: o.localEnabled,
		thresholds:   o.thresholds,
		emitter:      NewEventEmitter(o.eventBuffer),
		newID:        o.newID,
		warnLog:      o.warnLog,
	}
	if o.maxConcurrent > 0 {
		orch.slots = make(chan struct{}, o.maxConcurrent)
	}

	// Subprocess memory pressure propagates to the prompt cache.
	if ex, ok := req.Runner.(*executor.Executor); ok && orch.cache != nil {
		ex.SetPressureFunc(orch.cache.ReportPressure)
	}

	return orch, nil
}

// Events returns the orchestrator's event channel for subscribers.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEvents returns how many events were dropped on a full channel.
func (o *Orchestrator) DroppedEvents() uint64 {
	return o.emitter.DroppedCount()
}

// Delegate routes one request through the full pipeline and returns its
// terminal result.
//
// Setup failures that precede registration (an unregisterable request)
// return an error. After registration, every failure is recorded as a
// terminal result with a classified ErrorKind and returned without an
// error; the tracker is the source of truth for what happened.
func (o *Orchestrator) Delegate(ctx context.Context, req *models.DelegationRequest) (*models.DelegationResult, error) {
	if req.AgentType == "" {
		return nil, errors.New("delegation request missing agent type")
	}
	if req.TaskDescription == "" {
		return nil, errors.New("delegation request missing task description")
	}
	if req.ID == "" {
		req.ID = o.newID()
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}

	if err := o.tracker.Register(req); err != nil {
		return nil, fmt.Errorf("register delegation %s: %w", req.ID, err)
	}
	o.emit(Event{Type: EventDelegationQueued, RequestID: req.ID, AgentType: req.AgentType})

	if o.slots != nil {
		select {
		case o.slots <- struct{}{}:
			defer func() { <-o.slots }()
		case <-ctx.Done():
			return o.finish(req, failure(req, models.ErrKindCanceled, ctx.Err()))
		}
	}

	// Dependency gate: requests with unfinished dependencies fail fast;
	// the caller decides when to resubmit.
	if len(req.DependsOn) > 0 {
		ready, err := o.tracker.DependenciesTerminal(req)
		if err != nil {
			return o.finish(req, failure(req, models.ErrKindInternal, err))
		}
		if !ready {
			return o.finish(req, failure(req, models.ErrKindDependencyWait, ErrDependenciesPending))
		}
	}

	agent, err := o.registry.Resolve(req.AgentType)
	if err != nil {
		// Only an actual unknown name is agent_not_found; a failed tier
		// scan is an orchestrator-side fault.
		kind := models.ErrKindInternal
		if errors.Is(err, registry.ErrAgentNotFound) {
			kind = models.ErrKindAgentNotFound
		}
		return o.finish(req, failure(req, kind, err))
	}

	decision := o.decide()
	if decision.Fallback {
		o.emit(Event{
			Type:      EventModeFallback,
			RequestID: req.ID,
			AgentType: req.AgentType,
			Mode:      decision.Mode,
			Message:   decision.Reason,
		})
	}

	if err := o.tracker.MarkDispatched(req.ID); err != nil {
		// The request was canceled between registration and dispatch.
		if state, serr := o.tracker.Status(req.ID); serr == nil && state == models.StateAborted {
			result, rerr := o.tracker.Result(req.ID)
			if rerr != nil {
				return nil, fmt.Errorf("canceled delegation %s has no result: %w", req.ID, rerr)
			}
			return result, nil
		}
		return nil, fmt.Errorf("dispatch delegation %s: %w", req.ID, err)
	}
	o.emit(Event{Type: EventDelegationDispatched, RequestID: req.ID, AgentType: req.AgentType, Mode: decision.Mode})

	payload, err := o.render(agent, req)
	if err != nil {
		result := failure(req, models.ErrKindRenderFailed, err)
		result.AgentUsed = agent
		return o.finish(req, result)
	}

	if err := o.tracker.MarkRunning(req.ID); err != nil {
		return nil, fmt.Errorf("start delegation %s: %w", req.ID, err)
	}
	o.emit(Event{Type: EventDelegationStarted, RequestID: req.ID, AgentType: req.AgentType, Mode: decision.Mode})

	var result *models.DelegationResult
	switch decision.Mode {
	case mode.ModeLocal:
		result = o.runLocal(ctx, agent, req, payload)
	default:
		result = o.runSubprocess(ctx, req, payload)
	}
	result.AgentUsed = agent

	return o.finish(req, result)
}

// decide returns the execution mode for the next delegation.
func (o *Orchestrator) decide() mode.Decision {
	var components []mode.HealthChecker
	if o.local != nil {
		components = append(components, o.local)
	}
	return o.detector.Decide(o.localEnabled && o.local != nil, components)
}

// render produces the instruction payload for the agent over the
// request's filtered context bundle.
func (o *Orchestrator) render(agent *models.AgentDefinition, req *models.DelegationRequest) (string, error) {
	bundle := make(map[string]string, len(req.ContextBundle)+1)
	for k, v := range req.ContextBundle {
		bundle[k] = v
	}
	bundle[contextfilter.KeyTaskDescription] = req.TaskDescription

	filtered := o.filter.Narrow(bundle, req.AgentType)

	if o.cache != nil {
		return o.cache.GetOrRender(agent, filtered)
	}
	return promptcache.Render(agent, filtered)
}

// runLocal executes the delegation in-process.
func (o *Orchestrator) runLocal(ctx context.Context, agent *models.AgentDefinition, req *models.DelegationRequest, payload string) *models.DelegationResult {
	start := time.Now()
	output, err := o.local.Invoke(ctx, agent, payload)
	result := &models.DelegationResult{
		RequestID:  req.ID,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Status = models.StatusFailed
		result.ErrorKind = models.ErrKindLocalFailed
		result.Error = err.Error()
		return result
	}
	result.Status = models.StatusCompleted
	result.Output = output
	return result
}

// runSubprocess executes the delegation via the external worker.
func (o *Orchestrator) runSubprocess(ctx context.Context, req *models.DelegationRequest, payload string) *models.DelegationResult {
	result, err := o.runner.Run(ctx, req, payload, o.thresholds)
	if err != nil {
		kind := models.ErrKindInternal
		if errors.Is(err, executor.ErrAdmissionDenied) {
			kind = models.ErrKindAdmissionDenied
		}
		return failure(req, kind, err)
	}
	return result
}

// finish records the terminal result with the tracker and emits the
// matching lifecycle event. The tracker write happens before the result
// is returned to the caller.
func (o *Orchestrator) finish(req *models.DelegationRequest, result *models.DelegationResult) (*models.DelegationResult, error) {
	if err := o.tracker.Complete(req.ID, result); err != nil {
		return nil, fmt.Errorf("record result for %s: %w", req.ID, err)
	}

	ev := Event{
		RequestID: req.ID,
		AgentType: req.AgentType,
		ErrorKind: result.ErrorKind,
		Message:   result.Error,
	}
	switch result.Status {
	case models.StatusCompleted:
		ev.Type = EventDelegationCompleted
	case models.StatusAborted:
		ev.Type = EventDelegationAborted
	default:
		ev.Type = EventDelegationFailed
	}
	o.emit(ev)

	return result, nil
}

// failure builds a terminal failed result for the request.
func failure(req *models.DelegationRequest, kind models.ErrorKind, err error) *models.DelegationResult {
	status := models.StatusFailed
	if kind == models.ErrKindCanceled {
		status = models.StatusAborted
	}
	return &models.DelegationResult{
		RequestID: req.ID,
		Status:    status,
		ErrorKind: kind,
		Error:     err.Error(),
	}
}

// Status returns the current lifecycle state of a delegation.
func (o *Orchestrator) Status(id string) (models.DelegationState, error) {
	return o.tracker.Status(id)
}

// Result returns the terminal result of a delegation.
func (o *Orchestrator) Result(id string) (*models.DelegationResult, error) {
	return o.tracker.Result(id)
}

// Cancel aborts a delegation that has not been dispatched yet.
func (o *Orchestrator) Cancel(id string) error {
	if err := o.tracker.Cancel(id); err != nil {
		return err
	}
	o.emit(Event{Type: EventDelegationAborted, RequestID: id, ErrorKind: models.ErrKindCanceled})
	return nil
}

// ListWorkflow returns all delegations sharing a parent workflow id.
func (o *Orchestrator) ListWorkflow(workflowID string) ([]*tracker.Record, error) {
	return o.tracker.ListByWorkflow(workflowID)
}

// CacheStats returns prompt cache counters, zero-valued when no cache
// is configured.
func (o *Orchestrator) CacheStats() promptcache.Stats {
	if o.cache == nil {
		return promptcache.Stats{}
	}
	return o.cache.Stats()
}

// emit stamps and sends an event without blocking the pipeline.
func (o *Orchestrator) emit(ev Event) {
	ev.Timestamp = time.Now()
	o.emitter.Emit(ev)
}

// Close releases the orchestrator's resources: the registry watcher,
// the tracker, and the event channel.
func (o *Orchestrator) Close() error {
	var firstErr error
	if err := o.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := o.tracker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	o.emitter.Close()
	return firstErr
}
