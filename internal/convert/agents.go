package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dropTool marks Claude tools with no equivalent.
const dropTool = "None"

// claudeToolMap maps Claude built-in tool names to their equivalents.
// Tools not listed pass through unchanged.
var claudeToolMap = map[string][]string{
	"Bash":         {"Shell"},
	"BashOutput":   {dropTool},
	"KillShell":    {dropTool},
	"Read":         {"ReadFile", "ReadManyFiles"},
	"Write":        {"WriteFile"},
	"Edit":         {"Edit"},
	"MultiEdit":    {"Edit"},
	"Glob":         {"Glob"},
	"Grep":         {"Grep"},
	"LS":           {"ListFiles"},
	"WebFetch":     {"WebFetch"},
	"WebSearch":    {"WebSearch"},
	"TodoWrite":    {"TodoWrite"},
	"Task":         {"Task"},
	"Skill":        {"Skill"},
	"NotebookEdit": {dropTool},
	"NotebookRead": {dropTool},
	"ExitPlanMode": {"ExitPlanMode"},
	"SlashCommand": {dropTool},
}

// claudeAgent is the frontmatter of a Claude subagent definition.
type claudeAgent struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	Tools           any    `yaml:"tools"`
	Model           any    `yaml:"model"`
	PermissionMode  any    `yaml:"permissionMode"`
	Hooks           any    `yaml:"hooks"`
	Skills          any    `yaml:"skills"`
	DisallowedTools any    `yaml:"disallowedTools"`
	Color           any    `yaml:"color"`
}

// subagent is the canonical subagent frontmatter.
type subagent struct {
	Name            string    `yaml:"name"`
	Description     string    `yaml:"description"`
	Tools           *[]string `yaml:"tools,omitempty"`
	Model           any       `yaml:"model,omitempty"`
	PermissionMode  any       `yaml:"permissionMode,omitempty"`
	Hooks           any       `yaml:"hooks,omitempty"`
	Skills          any       `yaml:"skills,omitempty"`
	DisallowedTools any       `yaml:"disallowedTools,omitempty"`
	Color           any       `yaml:"color,omitempty"`
}

// convertAgents rewrites every agents/*.md file in place.
func convertAgents(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(path), ".md")
		out, err := ConvertAgent(string(data), name)
		if err != nil {
			return fmt.Errorf("converting agent %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ConvertAgent converts a Claude subagent markdown file. fallbackName is
// used when the frontmatter has no name.
func ConvertAgent(content, fallbackName string) (string, error) {
	meta, body, err := ParseFrontmatter[claudeAgent](content)
	if err != nil {
		return "", err
	}

	out := subagent{
		Name:            meta.Name,
		Description:     meta.Description,
		Model:           meta.Model,
		PermissionMode:  meta.PermissionMode,
		Hooks:           meta.Hooks,
		Skills:          meta.Skills,
		DisallowedTools: meta.DisallowedTools,
		Color:           meta.Color,
	}
	if out.Name == "" {
		out.Name = fallbackName
	}
	// A tool allowlist whose entries all drop stays an empty allowlist.
	if listed := toolList(meta.Tools); len(listed) > 0 {
		tools := MapTools(listed)
		if tools == nil {
			tools = []string{}
		}
		out.Tools = &tools
	}
	return RenderFrontmatter(out, body)
}

// MapTools translates Claude tool names. Dropped tools are removed and
// duplicates collapsed.
func MapTools(tools []string) []string {
	seen := make(map[string]bool, len(tools))
	var out []string
	for _, tool := range tools {
		mapped, ok := claudeToolMap[tool]
		if !ok {
			mapped = []string{tool}
		}
		for _, m := range mapped {
			if m == dropTool || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// toolList accepts a comma separated string or a YAML list.
func toolList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var tools []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			tools = append(tools, s)
		}
	}
	return tools
}
