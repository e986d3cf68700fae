package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrMissingName is returned when a manifest has no name field.
	ErrMissingName = errors.New("manifest is missing required field \"name\"")
	// ErrInvalidName is returned for names outside [a-zA-Z0-9-_.].
	ErrInvalidName = errors.New("invalid extension name")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateName checks an extension name against the allowed character set.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (only letters, digits, '-', '_' and '.' are allowed)", ErrInvalidName, name)
	}
	return nil
}

// Variables are the placeholders hydrated into a manifest at load time.
type Variables struct {
	ExtensionPath string
	WorkspacePath string
}

func (v Variables) lookup() map[string]string {
	sep := string(os.PathSeparator)
	return map[string]string{
		"extensionPath": v.ExtensionPath,
		"workspacePath": v.WorkspacePath,
		"/":             sep,
		"pathSeparator": sep,
	}
}

// Load reads <dir>/qwen-extension.json, hydrates path variables, resolves
// environment variables, decodes the result and validates it against the
// extension schema.
func Load(dir string, vars Variables) (*ExtensionConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	cfg, err := Parse(data, vars)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	result, err := Validate(data)
	if err != nil {
		return nil, fmt.Errorf("validating manifest %s: %w", path, err)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes manifest bytes. The name field is required; an invalid name
// is rejected.
func Parse(data []byte, vars Variables) (*ExtensionConfig, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest must be a JSON object")
	}
	if name, _ := obj["name"].(string); name == "" {
		return nil, ErrMissingName
	}

	resolved := ResolveEnvVars(Hydrate(obj, vars))

	normalized, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("re-encoding manifest: %w", err)
	}
	var cfg ExtensionConfig
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Hydrate substitutes ${extensionPath}, ${workspacePath}, ${/} and
// ${pathSeparator} in every string of a decoded JSON tree. Unknown
// placeholders are left untouched.
func Hydrate(v any, vars Variables) any {
	values := vars.lookup()
	return mapStrings(v, func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
			key := placeholderPattern.FindStringSubmatch(match)[1]
			if val, ok := values[key]; ok {
				return val
			}
			return match
		})
	})
}

var envVarPattern = regexp.MustCompile(`\$(?:(\w+)|\{([^}]+)\})`)

// ResolveEnvVars replaces $VAR and ${VAR} in every string of a decoded JSON
// tree with the process environment. Unset variables are left as literal text.
func ResolveEnvVars(v any) any {
	return mapStrings(v, expandEnv)
}

func expandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// mapStrings walks a decoded JSON value and applies fn to every string leaf.
func mapStrings(v any, fn func(string) string) any {
	switch val := v.(type) {
	case string:
		return fn(val)
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = mapStrings(item, fn)
		}
		return m
	case []any:
		a := make([]any, len(val))
		for i, item := range val {
			a[i] = mapStrings(item, fn)
		}
		return a
	default:
		return val
	}
}
