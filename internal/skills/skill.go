package skills

import "time"

// ParamType is the declared scalar type of a skill parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// Parameter is one declared front-matter parameter (spec §4.6).
type Parameter struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Type        ParamType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty"`
	Enum        []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// frontMatter is the raw YAML block at the top of a SKILL.md file.
type frontMatter struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Category    string      `yaml:"category"`
	Version     string      `yaml:"version"`
	Author      string      `yaml:"author"`
	Command     string      `yaml:"command"`
	Parameters  []Parameter `yaml:"parameters"`
}

// Skill is one parsed SKILL.md: front-matter plus the Markdown body used as
// injected knowledge for agent: skills.
type Skill struct {
	Name        string
	Description string
	Category    string
	Version     string
	Author      string
	Command     string // "shell:<cmd>" or "agent:<goal template>"
	Parameters  []Parameter
	Body        string // Markdown body, used as knowledge for agent: skills
	Path        string // source file path found by Load's directory walk; persisted to the store's path column

	UseCount   int
	LastUsedAt time.Time
}

// ToolName derives the snake_case tool identifier exposed to the model from
// the skill's display name (spec §4.6: "derived tool spec has snake_case
// name").
func (s *Skill) ToolName() string {
	return toSnakeCase(s.Name)
}

// IsShell reports whether the skill's command is a shell: prefix.
func (s *Skill) IsShell() bool {
	return hasPrefix(s.Command, "shell:")
}

// IsAgent reports whether the skill's command is an agent: prefix.
func (s *Skill) IsAgent() bool {
	return hasPrefix(s.Command, "agent:")
}

// CommandBody strips the shell:/agent: prefix, returning the raw template.
func (s *Skill) CommandBody() string {
	if i := indexByte(s.Command, ':'); i >= 0 {
		return s.Command[i+1:]
	}
	return s.Command
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// ToolSpec is the JSON-schema tool specification the executor hands to
// ModelGateway.chatWithTools, derived from a Skill's front-matter.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// toSpec converts a Skill's declared parameters into a JSON-schema object
// compatible with the provider function-calling formats (spec §4.6).
func (s *Skill) toSpec() ToolSpec {
	properties := make(map[string]any, len(s.Parameters))
	var required []string
	for _, p := range s.Parameters {
		prop := map[string]any{
			"type":        jsonSchemaType(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return ToolSpec{
		Name:        s.ToolName(),
		Description: s.Description,
		Parameters:  schema,
	}
}

func jsonSchemaType(t ParamType) string {
	switch t {
	case ParamNumber:
		return "number"
	case ParamBoolean:
		return "boolean"
	default:
		return "string"
	}
}

func toSnakeCase(name string) string {
	var b []byte
	prevLower := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == ' ' || c == '-':
			b = append(b, '_')
			prevLower = false
		case c >= 'A' && c <= 'Z':
			if prevLower {
				b = append(b, '_')
			}
			b = append(b, c-'A'+'a')
			prevLower = false
		default:
			b = append(b, c)
			prevLower = c >= 'a' && c <= 'z'
		}
	}
	return string(b)
}
