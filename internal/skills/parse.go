package skills

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// parseFile parses one SKILL.md's raw content into a Skill. The file must
// open with a `---` delimited YAML front-matter block followed by a
// Markdown body (spec §4.6).
func parseFile(path string, raw []byte) (*Skill, error) {
	content := string(raw)
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return nil, fmt.Errorf("skills: %s: missing front-matter delimiter", path)
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelim {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("skills: %s: unterminated front-matter block", path)
	}

	yamlBlock := strings.Join(lines[1:end], "\n")
	body := strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("skills: %s: invalid front-matter: %w", path, err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("skills: %s: front-matter missing required field 'name'", path)
	}
	if fm.Command == "" {
		return nil, fmt.Errorf("skills: %s: front-matter missing required field 'command'", path)
	}

	for i := range fm.Parameters {
		if fm.Parameters[i].Type == "" {
			fm.Parameters[i].Type = ParamString
		}
	}

	return &Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Category:    fm.Category,
		Version:     fm.Version,
		Author:      fm.Author,
		Command:     fm.Command,
		Parameters:  fm.Parameters,
		Body:        body,
		Path:        path,
	}, nil
}
