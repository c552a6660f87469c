package models

import "time"

// Tier represents the precedence level at which an agent definition was found.
type Tier string

const (
	// TierProject is the project-local tier with the highest precedence.
	TierProject Tier = "project"
	// TierUser is the per-user tier.
	TierUser Tier = "user"
	// TierSystem is the system-install tier with the lowest precedence.
	TierSystem Tier = "system"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierProject, TierUser, TierSystem:
		return true
	default:
		return false
	}
}

// TierOrder lists tiers from highest to lowest precedence.
// The registry processes tiers in this order and keeps the first-seen
// definition per name.
var TierOrder = []Tier{TierProject, TierUser, TierSystem}

// AgentDefinition describes a named agent loaded from a tier directory.
// Definitions are immutable once loaded; the registry replaces the whole
// value when the source file's modification time changes.
type AgentDefinition struct {
	// Name is the unique identifier within a tier.
	Name string `json:"name"`
	// Tier is the precedence level this definition was loaded from.
	Tier Tier `json:"tier"`
	// SourcePath is the file the definition was parsed from.
	SourcePath string `json:"source_path"`
	// Capabilities lists what this agent is allowed to do.
	Capabilities []string `json:"capabilities,omitempty"`
	// InstructionTemplate is the template body rendered into the prompt payload.
	InstructionTemplate string `json:"-"`
	// ModifiedAt is the source file's modification time at load.
	ModifiedAt time.Time `json:"modified_at"`
	// SchemaVersion is the definition format version declared in the header.
	SchemaVersion int `json:"schema_version"`
}

// HasCapability returns true if the definition declares the given capability.
func (d *AgentDefinition) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
