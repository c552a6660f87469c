package registry

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stewardhq/steward/pkg/models"
)

// frontmatter is the YAML header of an agent definition file.
type frontmatter struct {
	Name          string   `yaml:"name"`
	Capabilities  []string `yaml:"capabilities"`
	SchemaVersion int      `yaml:"schema_version"`
}

// delimiter separates the YAML header from the template body.
const delimiter = "---"

// ParseFile reads and parses an agent definition file.
// The file format is a YAML frontmatter block between "---" delimiters
// followed by the instruction template body:
//
//	---
//	name: engineer
//	capabilities: [code, review]
//	schema_version: 1
//	---
//	You are the engineer agent. Task: {{.task_description}}
//
// A definition missing a name or an empty template body is malformed.
func ParseFile(path string, tier models.Tier, modifiedAt time.Time) (*models.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}

	header, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}

	if fm.Name == "" {
		return nil, fmt.Errorf("%s: missing required field: name", path)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%s: empty instruction template", path)
	}
	if fm.SchemaVersion == 0 {
		fm.SchemaVersion = 1
	}

	return &models.AgentDefinition{
		Name:                fm.Name,
		Tier:                tier,
		SourcePath:          path,
		Capabilities:        fm.Capabilities,
		InstructionTemplate: strings.TrimSpace(body),
		ModifiedAt:          modifiedAt,
		SchemaVersion:       fm.SchemaVersion,
	}, nil
}

// splitFrontmatter separates the YAML header from the template body.
func splitFrontmatter(content string) (header, body string, err error) {
	lines := strings.SplitAfter(content, "\n")

	if len(lines) == 0 || strings.TrimSpace(strings.TrimSuffix(lines[0], "\n")) != delimiter {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(strings.TrimSuffix(lines[i], "\n")) == delimiter {
			header = strings.Join(lines[1:i], "")
			body = strings.Join(lines[i+1:], "")
			return header, body, nil
		}
	}

	return "", "", fmt.Errorf("unterminated frontmatter block")
}
