//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/enablement"
	"github.com/qwenlm/qwen-ext/internal/extension"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/settings"
	"github.com/qwenlm/qwen-ext/internal/source"
	"github.com/qwenlm/qwen-ext/internal/telemetry"
)

// testEnv holds an isolated extension root, home and workspace.
type testEnv struct {
	Root      string
	HomeDir   string
	Workspace string
	Events    *telemetry.Recorder
	Manager   *extension.Manager
}

// autoRequester accepts consent and answers settings from a fixed map.
type autoRequester struct {
	values map[string]string
}

func (autoRequester) RequestConsent(context.Context, extension.ConsentRequest) (bool, error) {
	return true, nil
}

func (r autoRequester) RequestSetting(_ context.Context, s manifest.ExtensionSetting) (string, error) {
	return r.values[s.EnvVar], nil
}

func (autoRequester) RequestChoicePlugin(_ context.Context, m *convert.Marketplace) (string, error) {
	return m.PluginNames()[0], nil
}

// setupTestEnv wires a Manager with the real fetcher and git runner and an
// in-memory keychain.
func setupTestEnv(t *testing.T, values map[string]string) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		Root:    filepath.Join(base, ".qwen", "extensions"),
		HomeDir: base,
		Events:  &telemetry.Recorder{},
	}
	env.Workspace = filepath.Join(base, "project")
	keyring.MockInit()
	if err := os.MkdirAll(env.Workspace, 0755); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := enablement.NewStore(
		enablement.NewFileRepository(filepath.Join(base, ".qwen", "extension-enablement.json")),
		enablement.WithStoreLogger(logger),
	)
	resolver := settings.NewResolver(env.Root, env.Workspace,
		settings.WithSecretStore(settings.NewKeyringStore()),
		settings.WithLogger(logger),
	)
	env.Manager = extension.NewManager(env.Root,
		extension.WithWorkspaceDir(env.Workspace),
		extension.WithHomeDir(env.HomeDir),
		extension.WithEnablementStore(store),
		extension.WithSettingsResolver(resolver),
		extension.WithFetcher(source.NewFetcher(nil, nil, logger)),
		extension.WithRequester(autoRequester{values: values}),
		extension.WithTelemetry(env.Events),
		extension.WithTrustCheck(func(string) bool { return true }),
		extension.WithLogger(logger),
	)
	return env
}

// requireGit skips the test when no git binary is available and isolates
// git from the user's configuration.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// commitAll stages every file in dir and commits it.
func commitAll(t *testing.T, dir, message string) {
	t.Helper()
	git(t, dir, "add", "-A")
	git(t, dir, "commit", "-q", "-m", message)
}

// initRepo creates a git repository containing files.
func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init", "-q", "-b", "main")
	writeFiles(t, dir, files)
	commitAll(t, dir, "initial")
	return dir
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(rel)), content)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s", path)
	}
}

func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to not exist: %s", path)
	}
}
