package userdata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/platform"
	"github.com/subosito/gotenv"
)

// ReadEnvFile parses a dotenv file into a flat map. A missing file yields an
// empty map and no error.
func ReadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("opening env file %s: %w", path, err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing env file %s: %w", path, err)
	}
	return map[string]string(env), nil
}

// WriteEnvFile replaces the dotenv file at path with the given entries.
// The file is written with owner-only permissions. An empty map writes an
// empty file rather than deleting it.
func WriteEnvFile(path string, env map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), DirPermNormal); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	content := ""
	if len(env) > 0 {
		out, err := gotenv.Marshal(gotenv.Env(env))
		if err != nil {
			return fmt.Errorf("encoding env file %s: %w", path, err)
		}
		content = out + "\n"
	}

	if err := platform.WriteFileAtomic(path, []byte(content), FilePermSecure); err != nil {
		return fmt.Errorf("writing env file: %w", err)
	}
	return nil
}

// sensitivePatterns are substrings that indicate a value should be redacted.
var sensitivePatterns = []string{"TOKEN", "SECRET", "PASSWORD", "KEY", "CREDENTIAL"}

// RedactValue returns a redacted version of value if the key name contains
// a sensitive pattern (case-insensitive substring match).
// Values with 4+ chars show the first 4 chars + "***".
// Values with fewer than 4 chars are fully redacted as "***".
func RedactValue(key, value string) string {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(upper, pattern) {
			return Redact(value)
		}
	}
	return value
}

// Redact unconditionally masks value, keeping at most a 4 character prefix.
func Redact(value string) string {
	if len(value) >= 4 {
		return value[:4] + "***"
	}
	return "***"
}
