package extension

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/telemetry"
)

type stateLog struct {
	mu     sync.Mutex
	states map[string][]UpdateState
}

func newStateLog() *stateLog {
	return &stateLog{states: map[string][]UpdateState{}}
}

func (l *stateLog) record(name string, state UpdateState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[name] = append(l.states[name], state)
}

func (l *stateLog) get(name string) []UpdateState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]UpdateState(nil), l.states[name]...)
}

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckForAllExtensionUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	localSrc := writeSource(t, `{"name":"local-ext","version":"1.0.0"}`, nil)
	env.installLocal(t, localSrc)
	writeManifest(t, localSrc, `{"name":"local-ext","version":"1.1.0"}`)

	sameSrc := writeSource(t, `{"name":"same","version":"1.0.0"}`, nil)
	env.installLocal(t, sameSrc)

	linkSrc := writeSource(t, `{"name":"linked","version":"1.0.0"}`, nil)
	if _, err := env.manager.Install(ctx, InstallMetadata{Type: TypeLink, Source: linkSrc}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	writeTree(t, filepath.Join(env.root, "manual"), map[string]string{manifest.FileName: `{"name":"manual","version":"1.0.0"}`})

	gone := writeSource(t, `{"name":"gone","version":"1.0.0"}`, nil)
	env.installLocal(t, gone)
	if err := os.RemoveAll(gone); err != nil {
		t.Fatal(err)
	}

	if err := env.manager.RefreshCache(ctx); err != nil {
		t.Fatal(err)
	}

	log := newStateLog()
	got := env.manager.CheckForAllExtensionUpdates(ctx, log.record)

	want := map[string]UpdateState{
		"local-ext": StateUpdateAvailable,
		"same":      StateUpToDate,
		"linked":    StateUpToDate,
		"manual":    StateNotUpdatable,
		"gone":      StateError,
	}
	for name, state := range want {
		if got[name] != state {
			t.Errorf("%s: state = %q, want %q", name, got[name], state)
		}
		seq := log.get(name)
		if len(seq) != 2 || seq[0] != StateCheckingForUpdates || seq[1] != state {
			t.Errorf("%s: callback sequence = %v", name, seq)
		}
	}
}

func TestCheckForUpdate_Remote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("git commit differs", func(t *testing.T) {
		ext := &Extension{Name: "g", InstallMetadata: &InstallMetadata{Type: TypeGit, Source: "https://github.com/o/g", Commit: "aaa"}}
		env.fetcher.remoteHead = "bbb"
		if got := env.manager.CheckForUpdate(ctx, ext); got != StateUpdateAvailable {
			t.Errorf("state = %q", got)
		}
		env.fetcher.remoteHead = "aaa"
		if got := env.manager.CheckForUpdate(ctx, ext); got != StateUpToDate {
			t.Errorf("state = %q", got)
		}
	})

	t.Run("release tag differs", func(t *testing.T) {
		ext := &Extension{Name: "r", InstallMetadata: &InstallMetadata{Type: TypeGitHubRelease, Source: "https://github.com/o/r", ReleaseTag: "v1.0.0"}}
		env.fetcher.latestTag = "v1.1.0"
		if got := env.manager.CheckForUpdate(ctx, ext); got != StateUpdateAvailable {
			t.Errorf("state = %q", got)
		}
		env.fetcher.latestTag = "v1.0.0"
		if got := env.manager.CheckForUpdate(ctx, ext); got != StateUpToDate {
			t.Errorf("state = %q", got)
		}
	})

	t.Run("release pinned to a tag", func(t *testing.T) {
		ext := &Extension{Name: "p", InstallMetadata: &InstallMetadata{
			Type: TypeGitHubRelease, Source: "https://github.com/o/pinned", Ref: "v1.0.0", ReleaseTag: "v1.0.0",
		}}
		env.fetcher.latestTag = "v2.0.0"
		if got := env.manager.CheckForUpdate(ctx, ext); got != StateUpToDate {
			t.Errorf("state = %q, want up to date", got)
		}
	})
}

func TestUpdateExtension_CarriesSettingsForward(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.requester.values = map[string]string{"TOKEN": "t0k3n", "REGION": "eu"}

	src := writeSource(t, `{"name":"svc","version":"1.0.0","settings":[
		{"name":"token","envVar":"TOKEN","sensitive":true},
		{"name":"region","envVar":"REGION"}]}`, nil)
	env.installLocal(t, src)
	writeManifest(t, src, `{"name":"svc","version":"2.0.0","settings":[
		{"name":"token","envVar":"TOKEN","sensitive":true},
		{"name":"region","envVar":"REGION"}]}`)
	asked := len(env.requester.askedFor())

	log := newStateLog()
	info, err := env.manager.UpdateExtension(ctx, "svc", log.record)
	if err != nil {
		t.Fatalf("UpdateExtension() error = %v", err)
	}
	if info.OriginalVersion != "1.0.0" || info.UpdatedVersion != "2.0.0" {
		t.Errorf("info = %+v", info)
	}
	if n := len(env.requester.askedFor()); n != asked {
		t.Errorf("unchanged settings were prompted again (%d prompts)", n-asked)
	}
	resolved, err := env.manager.ResolvedSettings("svc")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range resolved {
		if !r.Set {
			t.Errorf("setting %s lost during update", r.EnvVar)
		}
	}
	if got := env.manager.Get("svc").Version; got != "2.0.0" {
		t.Errorf("cached version = %s", got)
	}
	seq := log.get("svc")
	if len(seq) != 2 || seq[0] != StateUpdating || seq[1] != StateUpdatedNeedsRestart {
		t.Errorf("states = %v", seq)
	}
	if got := env.events.Count(telemetry.KindUpdate, telemetry.StatusSuccess); got != 1 {
		t.Errorf("update events = %d", got)
	}
}

func TestUpdateExtension_RollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	src := writeSource(t, `{"name":"fragile","version":"1.0.0"}`, map[string]string{"QWEN.md": "v1"})
	env.installLocal(t, src)
	writeManifest(t, src, `{"name":"fragile","version":"2.0.0","settings":[{"name":"new","envVar":"NEW"}]}`)
	env.requester.settingErr = errors.New("prompt aborted")

	_, err := env.manager.UpdateExtension(ctx, "fragile", nil)
	if err == nil {
		t.Fatal("expected update to fail")
	}

	ext := env.manager.Get("fragile")
	if ext == nil || ext.Version != "1.0.0" {
		t.Fatalf("cache not restored: %+v", ext)
	}
	data, err := os.ReadFile(filepath.Join(env.root, "fragile", "QWEN.md"))
	if err != nil || string(data) != "v1" {
		t.Errorf("directory not restored: %q, %v", data, err)
	}
	if env.manager.State("fragile") != StateError {
		t.Errorf("state = %q", env.manager.State("fragile"))
	}
	if got := env.events.Count(telemetry.KindUpdate, telemetry.StatusError); got != 1 {
		t.Errorf("update error events = %d", got)
	}
}

func TestUpdateExtension_AlreadyUpdating(t *testing.T) {
	env := newTestEnv(t)
	env.installLocal(t, writeSource(t, `{"name":"busy","version":"1.0.0"}`, nil))
	env.manager.setState("busy", StateUpdating, nil)

	info, err := env.manager.UpdateExtension(context.Background(), "busy", nil)
	if info != nil || err != nil {
		t.Errorf("UpdateExtension() = %v, %v; want nil, nil", info, err)
	}
}

func TestUpdateExtension_NoMetadata(t *testing.T) {
	env := newTestEnv(t)
	writeTree(t, filepath.Join(env.root, "manual"), map[string]string{manifest.FileName: `{"name":"manual","version":"1.0.0"}`})
	if err := env.manager.RefreshCache(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := env.manager.UpdateExtension(context.Background(), "manual", nil); err == nil {
		t.Error("expected error for extension without install metadata")
	}
}

func TestUpdateAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	srcA := writeSource(t, `{"name":"a","version":"1.0.0"}`, nil)
	srcB := writeSource(t, `{"name":"b","version":"1.0.0"}`, nil)
	srcC := writeSource(t, `{"name":"c","version":"1.0.0"}`, nil)
	for _, src := range []string{srcA, srcB, srcC} {
		env.installLocal(t, src)
	}
	writeManifest(t, srcA, `{"name":"a","version":"1.1.0"}`)
	writeManifest(t, srcB, `{"name":"b","version":"2.0.0"}`)

	env.manager.CheckForAllExtensionUpdates(ctx, nil)
	infos, err := env.manager.UpdateAll(ctx, nil)
	if err != nil {
		t.Fatalf("UpdateAll() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("updated %d extensions, want 2", len(infos))
	}
	versions := map[string]string{}
	for _, ext := range env.manager.LoadedExtensions() {
		versions[ext.Name] = ext.Version
	}
	if versions["a"] != "1.1.0" || versions["b"] != "2.0.0" || versions["c"] != "1.0.0" {
		t.Errorf("versions = %v", versions)
	}
}

func TestUpdateAll_FailureRejectsBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	src := writeSource(t, `{"name":"bad","version":"1.0.0"}`, nil)
	env.installLocal(t, src)
	writeManifest(t, src, `{"name":"bad","version":"2.0.0","settings":[{"name":"x","envVar":"X"}]}`)
	env.requester.settingErr = errors.New("no")

	env.manager.CheckForAllExtensionUpdates(ctx, nil)
	infos, err := env.manager.UpdateAll(ctx, nil)
	if err == nil {
		t.Fatal("expected batch error")
	}
	if len(infos) != 0 {
		t.Errorf("infos = %v", infos)
	}
}

func TestCheckForUpdate_PinnedReleaseInstall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const url = "https://github.com/o/pinned"
	env.fetcher.dirs[url] = writeSource(t, `{"name":"pinned","version":"1.0.0"}`, nil)
	env.fetcher.tag = "v1.0.0"
	if _, err := env.manager.Install(ctx, InstallMetadata{Type: TypeGitHubRelease, Source: url, Ref: "v1.0.0"}, InstallOptions{}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	env.fetcher.latestTag = "v2.0.0"
	if got := env.manager.CheckForAllExtensionUpdates(ctx, nil)["pinned"]; got != StateUpToDate {
		t.Errorf("pinned release state = %q, want up to date", got)
	}
	infos, err := env.manager.UpdateAll(ctx, nil)
	if err != nil || len(infos) != 0 {
		t.Errorf("UpdateAll() = %v, %v; want nothing to update", infos, err)
	}
}

func TestUpdateExtension_RollbackKeepsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need developer mode on Windows")
	}
	env := newTestEnv(t)

	src := writeSource(t, `{"name":"linked-files","version":"1.0.0"}`, map[string]string{"docs/guide.md": "guide"})
	if err := os.Symlink(filepath.Join("docs", "guide.md"), filepath.Join(src, "QWEN.md")); err != nil {
		t.Fatal(err)
	}
	env.installLocal(t, src)
	writeManifest(t, src, `{"name":"linked-files","version":"2.0.0","settings":[{"name":"n","envVar":"N"}]}`)
	env.requester.settingErr = errors.New("prompt aborted")

	if _, err := env.manager.UpdateExtension(context.Background(), "linked-files", nil); err == nil {
		t.Fatal("expected update to fail")
	}
	link := filepath.Join(env.root, "linked-files", "QWEN.md")
	if target, err := os.Readlink(link); err != nil || target != filepath.Join("docs", "guide.md") {
		t.Errorf("symlink not restored: %q, %v", target, err)
	}
	if data, err := os.ReadFile(link); err != nil || string(data) != "guide" {
		t.Errorf("restored link does not resolve: %q, %v", data, err)
	}
}
