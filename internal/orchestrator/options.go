package orchestrator

import (
	"context"

	"github.com/stewardhq/steward/internal/contextfilter"
	"github.com/stewardhq/steward/internal/mode"
	"github.com/stewardhq/steward/internal/promptcache"
	"github.com/stewardhq/steward/internal/registry"
	"github.com/stewardhq/steward/internal/tracker"
	"github.com/stewardhq/steward/pkg/models"
)

// LocalInvoker executes a delegation in the current process.
// It doubles as the health check consulted by mode detection.
type LocalInvoker interface {
	mode.HealthChecker

	// Invoke runs the rendered payload and returns the agent's output.
	Invoke(ctx context.Context, agent *models.AgentDefinition, payload string) (string, error)
}

// SubprocessRunner executes a delegation via an external worker process.
// Satisfied by *executor.Executor; injectable for testing.
type SubprocessRunner interface {
	Run(ctx context.Context, req *models.DelegationRequest, payload string, thresholds models.MemoryThresholds) (*models.DelegationResult, error)
}

// Required contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type Required struct {
	// Registry resolves agent definitions across tiers.
	Registry *registry.Registry
	// Tracker is the delegation lifecycle store.
	Tracker tracker.Store
	// Runner executes subprocess delegations.
	Runner SubprocessRunner
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*options)

// options holds all optional configuration, only used during construction.
type options struct {
	filter        *contextfilter.Filter
	cache         *promptcache.Cache
	detector      *mode.Detector
	local         LocalInvoker
	localEnabled  bool
	thresholds    models.MemoryThresholds
	maxConcurrent int
	eventBuffer   int
	newID         func() string
	warnLog       func(format string, args ...interface{})
}

// WithFilter sets the context filter.
func WithFilter(f *contextfilter.Filter) Option {
	return func(o *options) { o.filter = f }
}

// WithCache sets the prompt cache.
func WithCache(c *promptcache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithDetector sets the mode detector.
func WithDetector(d *mode.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithLocalInvoker sets the in-process invoker and enables local execution.
func WithLocalInvoker(l LocalInvoker) Option {
	return func(o *options) {
		o.local = l
		o.localEnabled = l != nil
	}
}

// WithThresholds sets the memory thresholds applied to subprocess runs.
func WithThresholds(t models.MemoryThresholds) Option {
	return func(o *options) { o.thresholds = t }
}

// WithMaxConcurrent limits delegations in flight at once.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithIDFunc sets the request id generator (mainly for testing).
func WithIDFunc(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithWarnLog sets the warning log function.
func WithWarnLog(fn func(format string, args ...interface{})) Option {
	return func(o *options) { o.warnLog = fn }
}
