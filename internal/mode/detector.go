// Package mode decides whether a delegation executes in-process or via
// an external worker subprocess.
package mode

import "log"

// Mode is the execution mode chosen for one delegation.
type Mode string

const (
	// ModeLocal executes the delegation in the current process.
	ModeLocal Mode = "local"
	// ModeSubprocess hands the delegation to an external worker process.
	ModeSubprocess Mode = "subprocess"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	return m == ModeLocal || m == ModeSubprocess
}

// HealthChecker reports whether a local execution component is usable.
type HealthChecker interface {
	// Name identifies the component in fallback warnings.
	Name() string
	// Healthy returns nil when the component can serve local execution.
	Healthy() error
}

// Decision is the outcome of one mode detection.
type Decision struct {
	// Mode is the chosen execution mode.
	Mode Mode
	// Fallback is true when LOCAL was requested but unavailable.
	Fallback bool
	// Reason explains the decision.
	Reason string
}

// Detector chooses LOCAL or SUBPROCESS per delegation. The decision is
// deterministic for a given (config, health snapshot) and is re-evaluated
// on every call, never cached, so health changes take effect immediately.
type Detector struct {
	warnLog func(format string, args ...interface{})
}

// New creates a Detector.
func New() *Detector {
	return &Detector{
		warnLog: func(format string, args ...interface{}) {
			log.Printf("[mode] "+format, args...)
		},
	}
}

// SetWarnLog overrides the fallback warning log function.
func (d *Detector) SetWarnLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		d.warnLog = fn
	}
}

// Decide returns the execution mode for one delegation.
//
// LOCAL requires local execution to be enabled and every component to
// report healthy. A component failure degrades that one call to
// SUBPROCESS with a single warning; it never surfaces as an error that
// would block the delegation.
func (d *Detector) Decide(localEnabled bool, components []HealthChecker) Decision {
	if !localEnabled {
		return Decision{Mode: ModeSubprocess, Reason: "local execution disabled"}
	}

	for _, c := range components {
		if err := c.Healthy(); err != nil {
			d.warnLog("local component %s unavailable, falling back to subprocess: %v", c.Name(), err)
			return Decision{
				Mode:     ModeSubprocess,
				Fallback: true,
				Reason:   "local component " + c.Name() + " unavailable",
			}
		}
	}

	return Decision{Mode: ModeLocal, Reason: "local execution enabled and healthy"}
}
