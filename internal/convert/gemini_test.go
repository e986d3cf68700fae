package convert

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestTOMLToMarkdown(t *testing.T) {
	md, err := TOMLToMarkdown([]byte(`description = "Review code: carefully"
prompt = """
Review the following:
{{args}}
"""
`))
	if err != nil {
		t.Fatalf("TOMLToMarkdown() error = %v", err)
	}
	meta, body, err := ParseFrontmatter[map[string]string](md)
	if err != nil {
		t.Fatalf("generated markdown has bad frontmatter: %v\n%s", err, md)
	}
	if meta["description"] != "Review code: carefully" {
		t.Errorf("description = %q", meta["description"])
	}
	if !strings.HasPrefix(body, "Review the following:\n{{args}}") {
		t.Errorf("body = %q", body)
	}
}

func TestTOMLToMarkdown_Errors(t *testing.T) {
	if _, err := TOMLToMarkdown([]byte(`prompt = `)); err == nil {
		t.Error("expected parse error")
	}
	if _, err := TOMLToMarkdown([]byte(`description = "x"`)); err == nil {
		t.Error("expected error for missing prompt")
	}
}

func TestConvertGemini(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"gemini-extension.json": `{
  "name": "gem",
  "version": "0.3.0",
  "mcpServers": {"s": {"command": "node", "args": ["${extensionPath}${/}index.js"]}},
  "excludeTools": ["x"]
}`,
		"GEMINI.md":              "context",
		"commands/deploy.toml":   "prompt = \"deploy it\"\n",
		"commands/git/sync.toml": "description = \"sync\"\nprompt = \"sync now\"\n",
		"node_modules/dep/x.js":  "ignored",
	})

	res, err := Convert(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	cleanup(t, res)

	if res.Format != FormatGemini || res.Dir == src {
		t.Fatalf("result = %+v", res)
	}
	if res.Config.Name != "gem" || res.Config.Version != "0.3.0" {
		t.Errorf("config = %+v", res.Config)
	}
	if got := res.Config.ContextFileName; len(got) != 1 || got[0] != "GEMINI.md" {
		t.Errorf("contextFileName = %v", got)
	}
	wantArg := filepath.Join(res.Dir, "index.js")
	if got := res.Config.MCPServers["s"].Args; len(got) != 1 || got[0] != wantArg {
		t.Errorf("args = %v, want %s", got, wantArg)
	}

	assertExists(t, filepath.Join(res.Dir, "commands", "deploy.md"))
	assertExists(t, filepath.Join(res.Dir, "commands", "git", "sync.md"))
	assertMissing(t, filepath.Join(res.Dir, "commands", "deploy.toml"))
	assertMissing(t, filepath.Join(res.Dir, "node_modules"))
	assertExists(t, filepath.Join(res.Dir, "qwen-extension.json"))

	// source untouched
	assertExists(t, filepath.Join(src, "commands", "deploy.toml"))
	assertMissing(t, filepath.Join(src, "qwen-extension.json"))
	if manifest := readFile(t, filepath.Join(res.Dir, "qwen-extension.json")); strings.Contains(manifest, "excludeTools") {
		t.Errorf("unsupported field carried over:\n%s", manifest)
	}
}

func TestConvertGemini_BadCommandCleansUp(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"gemini-extension.json": `{"name":"gem","version":"1.0.0"}`,
		"commands/bad.toml":     "prompt = ",
	})
	if _, err := ConvertGemini(src, Options{}); err == nil {
		t.Fatal("expected conversion error")
	}
	assertExists(t, filepath.Join(src, "commands", "bad.toml"))
}
