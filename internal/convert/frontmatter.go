package convert

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

const frontmatterDelimiter = "---"

// ParseFrontmatter splits markdown content into decoded YAML frontmatter and
// the remaining body. Content without frontmatter yields the zero value and
// the original content.
func ParseFrontmatter[T any](content string) (T, string, error) {
	var zero T

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontmatterDelimiter+"\n") {
		return zero, content, nil
	}

	rest := normalized[len(frontmatterDelimiter)+1:]
	var yamlContent, afterClosing string
	if strings.HasPrefix(rest, frontmatterDelimiter+"\n") || rest == frontmatterDelimiter {
		afterClosing = rest[len(frontmatterDelimiter):]
	} else {
		before, after, ok := strings.Cut(rest, "\n"+frontmatterDelimiter)
		if !ok {
			return zero, "", errors.New("unterminated frontmatter: missing closing ---")
		}
		yamlContent = before
		afterClosing = after
	}

	var result T
	if err := yaml.Unmarshal([]byte(yamlContent), &result); err != nil {
		return zero, "", fmt.Errorf("parse frontmatter YAML: %w", err)
	}
	return result, strings.TrimLeft(afterClosing, "\n"), nil
}

// RenderFrontmatter encodes meta as YAML frontmatter followed by body.
func RenderFrontmatter(meta any, body string) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}

	var out strings.Builder
	out.WriteString(frontmatterDelimiter + "\n")
	out.Write(buf.Bytes())
	out.WriteString(frontmatterDelimiter + "\n\n")
	out.WriteString(strings.TrimLeft(body, "\n"))
	if !strings.HasSuffix(body, "\n") {
		out.WriteString("\n")
	}
	return out.String(), nil
}
