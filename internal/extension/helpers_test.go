package extension

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/enablement"
	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/settings"
	"github.com/qwenlm/qwen-ext/internal/source"
	"github.com/qwenlm/qwen-ext/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// writeSource creates an extension source directory with the given
// manifest and extra files.
func writeSource(t *testing.T, manifestJSON string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	all := map[string]string{manifest.FileName: manifestJSON}
	for k, v := range files {
		all[k] = v
	}
	writeTree(t, dir, all)
	return dir
}

type fakeRequester struct {
	mu      sync.Mutex
	decline bool
	values  map[string]string
	// settingErr fails every setting request.
	settingErr error
	plugin     string
	consents   []ConsentRequest
	asked      []string
}

func (r *fakeRequester) RequestConsent(_ context.Context, req ConsentRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consents = append(r.consents, req)
	return !r.decline, nil
}

func (r *fakeRequester) RequestSetting(_ context.Context, s manifest.ExtensionSetting) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked = append(r.asked, s.EnvVar)
	if r.settingErr != nil {
		return "", r.settingErr
	}
	return r.values[s.EnvVar], nil
}

func (r *fakeRequester) RequestChoicePlugin(_ context.Context, m *convert.Marketplace) (string, error) {
	if r.plugin == "" {
		return "", errors.New("no plugin chosen")
	}
	return r.plugin, nil
}

func (r *fakeRequester) askedFor() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.asked...)
}

func (r *fakeRequester) consentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consents)
}

// fakeFetcher copies registered local directories instead of touching the
// network.
type fakeFetcher struct {
	mu         sync.Mutex
	dirs       map[string]string
	tag        string
	latestTag  string
	remoteHead string
	localHead  string
	err        error
}

func (f *fakeFetcher) Fetch(_ context.Context, spec source.Spec, destDir string) (*source.Fetched, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	src, ok := f.dirs[spec.Source]
	if !ok {
		return nil, errors.New("unknown source " + spec.Source)
	}
	if err := fsutil.CopyDir(src, destDir); err != nil {
		return nil, err
	}
	if f.tag != "" {
		return &source.Fetched{Type: source.TypeGitHubRelease, TagName: f.tag}, nil
	}
	return &source.Fetched{Type: source.TypeGit}, nil
}

func (f *fakeFetcher) FetchPlugin(ctx context.Context, url, destDir string) error {
	_, err := f.Fetch(ctx, source.Spec{Source: url}, destDir)
	return err
}

func (f *fakeFetcher) LatestReleaseTag(context.Context, string) (string, error) {
	return f.latestTag, nil
}

func (f *fakeFetcher) RemoteHead(context.Context, string, string) (string, error) {
	return f.remoteHead, nil
}

func (f *fakeFetcher) LocalHead(context.Context, string) (string, error) {
	return f.localHead, nil
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRefresher) RefreshTools(context.Context, []*Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *recordingRefresher) RefreshMemory(context.Context, []string) error { return nil }

type testEnv struct {
	manager   *Manager
	requester *fakeRequester
	fetcher   *fakeFetcher
	events    *telemetry.Recorder
	store     *enablement.Store
	refresher *recordingRefresher
	root      string
	home      string
	workspace string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		requester: &fakeRequester{values: map[string]string{}},
		fetcher:   &fakeFetcher{dirs: map[string]string{}},
		events:    &telemetry.Recorder{},
		refresher: &recordingRefresher{},
		root:      filepath.Join(base, "extensions"),
		home:      filepath.Join(base, "home"),
	}
	env.workspace = filepath.Join(env.home, "project")
	keyring.MockInit()
	if err := os.MkdirAll(env.workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	env.store = enablement.NewStore(
		enablement.NewFileRepository(filepath.Join(base, "extension-enablement.json")),
		enablement.WithStoreLogger(testLogger()),
	)
	resolver := settings.NewResolver(env.root, env.workspace,
		settings.WithSecretStore(settings.NewKeyringStore()),
		settings.WithLogger(testLogger()),
	)
	env.manager = NewManager(env.root,
		WithWorkspaceDir(env.workspace),
		WithHomeDir(env.home),
		WithEnablementStore(env.store),
		WithSettingsResolver(resolver),
		WithFetcher(env.fetcher),
		WithRequester(env.requester),
		WithToolRefresher(env.refresher),
		WithTelemetry(env.events),
		WithTrustCheck(func(string) bool { return true }),
		WithLogger(testLogger()),
	)
	return env
}

func (e *testEnv) installLocal(t *testing.T, src string) *Extension {
	t.Helper()
	ext, err := e.manager.Install(context.Background(), InstallMetadata{Type: TypeLocal, Source: src}, InstallOptions{})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	return ext
}
