package settings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/userdata"
)

type fixture struct {
	resolver  *Resolver
	secrets   *MemoryStore
	root      string
	workspace string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		secrets:   NewMemoryStore(),
		root:      t.TempDir(),
		workspace: t.TempDir(),
	}
	f.resolver = NewResolver(f.root, f.workspace,
		WithSecretStore(f.secrets),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

// answers returns a Requester that replies from a map keyed by envVar and
// records which settings were requested.
func answers(values map[string]string, asked *[]string) Requester {
	return RequesterFunc(func(_ context.Context, s manifest.ExtensionSetting) (string, error) {
		if asked != nil {
			*asked = append(*asked, s.EnvVar)
		}
		return values[s.EnvVar], nil
	})
}

func apiConfig(settings ...manifest.ExtensionSetting) *manifest.ExtensionConfig {
	return &manifest.ExtensionConfig{Name: "api-ext", Version: "1.0.0", Settings: settings}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"user": ScopeUser, "Workspace": ScopeWorkspace, " user ": ScopeUser} {
		got, err := ParseScope(in)
		if err != nil || got != want {
			t.Errorf("ParseScope(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseScope("system"); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("ParseScope(system) error = %v", err)
	}
}

func TestGetEnvContents_WorkspaceOverridesUser(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(manifest.ExtensionSetting{Name: "key", EnvVar: "API_KEY"})

	if err := userdata.WriteEnvFile(f.resolver.EnvFilePath(cfg.Name, ScopeUser), map[string]string{"API_KEY": "u", "ONLY_USER": "1"}); err != nil {
		t.Fatal(err)
	}
	if err := userdata.WriteEnvFile(filepath.Join(f.workspace, ".env"), map[string]string{"API_KEY": "w"}); err != nil {
		t.Fatal(err)
	}

	env, err := f.resolver.GetEnvContents(cfg, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if env["API_KEY"] != "w" {
		t.Errorf("API_KEY = %q, want w", env["API_KEY"])
	}
	if env["ONLY_USER"] != "1" {
		t.Errorf("user-only key lost: %v", env)
	}
}

func TestGetScopedEnvContents_OverlaysSecrets(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(
		manifest.ExtensionSetting{Name: "token", EnvVar: "TOKEN", Sensitive: true},
		manifest.ExtensionSetting{Name: "region", EnvVar: "REGION"},
	)
	if err := userdata.WriteEnvFile(f.resolver.EnvFilePath(cfg.Name, ScopeUser), map[string]string{"REGION": "eu"}); err != nil {
		t.Fatal(err)
	}
	if err := f.secrets.Set(f.resolver.KeychainService(cfg.Name, "id1", ScopeUser), "TOKEN", "s3cret"); err != nil {
		t.Fatal(err)
	}

	env, err := f.resolver.GetScopedEnvContents(cfg, "id1", ScopeUser)
	if err != nil {
		t.Fatal(err)
	}
	if env["TOKEN"] != "s3cret" || env["REGION"] != "eu" {
		t.Errorf("env = %v", env)
	}

	f.secrets.SetAvailable(false)
	env, err = f.resolver.GetScopedEnvContents(cfg, "id1", ScopeUser)
	if err != nil {
		t.Fatalf("unavailable keychain must not fail: %v", err)
	}
	if _, ok := env["TOKEN"]; ok {
		t.Error("secret returned while keychain unavailable")
	}
}

func TestKeychainService_WorkspaceSuffix(t *testing.T) {
	f := newFixture(t)
	user := f.resolver.KeychainService("ext", "abc", ScopeUser)
	ws := f.resolver.KeychainService("ext", "abc", ScopeWorkspace)
	if user != "Qwen Code Extensions ext abc" {
		t.Errorf("user service = %q", user)
	}
	if ws != user+" "+f.workspace {
		t.Errorf("workspace service = %q", ws)
	}
}

func TestUpdateSetting(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(
		manifest.ExtensionSetting{Name: "Token", EnvVar: "TOKEN", Sensitive: true},
		manifest.ExtensionSetting{Name: "Region", EnvVar: "REGION"},
		manifest.ExtensionSetting{Name: "Mode", EnvVar: "MODE"},
	)
	path := f.resolver.EnvFilePath(cfg.Name, ScopeUser)
	// TOKEN left over in plaintext from before it became sensitive.
	if err := userdata.WriteEnvFile(path, map[string]string{"MODE": "fast", "TOKEN": "leaked"}); err != nil {
		t.Fatal(err)
	}

	req := answers(map[string]string{"REGION": "us", "TOKEN": "new-token"}, nil)
	if err := f.resolver.UpdateSetting(context.Background(), cfg, "id1", "Region", req, ScopeUser); err != nil {
		t.Fatal(err)
	}
	env, err := userdata.ReadEnvFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if env["REGION"] != "us" || env["MODE"] != "fast" {
		t.Errorf("env = %v", env)
	}
	if _, ok := env["TOKEN"]; ok {
		t.Error("stale plaintext for sensitive setting should be dropped")
	}

	if err := f.resolver.UpdateSetting(context.Background(), cfg, "id1", "TOKEN", req, ScopeUser); err != nil {
		t.Fatal(err)
	}
	if v, _ := f.secrets.Get(f.resolver.KeychainService(cfg.Name, "id1", ScopeUser), "TOKEN"); v != "new-token" {
		t.Errorf("secret = %q", v)
	}

	if err := f.resolver.UpdateSetting(context.Background(), cfg, "id1", "nope", req, ScopeUser); err == nil {
		t.Error("expected error for unknown setting")
	}
}

func TestUpdateSetting_WorkspaceScope(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(manifest.ExtensionSetting{Name: "Region", EnvVar: "REGION"})
	if err := userdata.WriteEnvFile(filepath.Join(f.workspace, ".env"), map[string]string{"OTHER_TOOL": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.UpdateSetting(context.Background(), cfg, "id1", "REGION", answers(map[string]string{"REGION": "ap"}, nil), ScopeWorkspace); err != nil {
		t.Fatal(err)
	}
	env, err := userdata.ReadEnvFile(filepath.Join(f.workspace, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if env["REGION"] != "ap" || env["OTHER_TOOL"] != "x" {
		t.Errorf("workspace env = %v", env)
	}
}

func TestMaybePromptForSettings_FreshInstall(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(
		manifest.ExtensionSetting{Name: "Token", EnvVar: "TOKEN", Sensitive: true},
		manifest.ExtensionSetting{Name: "Region", EnvVar: "REGION"},
	)
	var asked []string
	req := answers(map[string]string{"TOKEN": "t", "REGION": "eu"}, &asked)

	if err := f.resolver.MaybePromptForSettings(context.Background(), cfg, "id1", req, nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(asked) != 2 {
		t.Errorf("asked = %v", asked)
	}
	env, err := f.resolver.GetEnvContents(cfg, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if env["TOKEN"] != "t" || env["REGION"] != "eu" {
		t.Errorf("env = %v", env)
	}
	plain, _ := userdata.ReadEnvFile(f.resolver.EnvFilePath(cfg.Name, ScopeUser))
	if _, ok := plain["TOKEN"]; ok {
		t.Error("sensitive value written to plaintext file")
	}
}

func TestMaybePromptForSettings_NoSettingsIsNoop(t *testing.T) {
	f := newFixture(t)
	var asked []string
	if err := f.resolver.MaybePromptForSettings(context.Background(), apiConfig(), "id1", answers(nil, &asked), apiConfig(), nil); err != nil {
		t.Fatal(err)
	}
	if len(asked) != 0 {
		t.Errorf("asked = %v", asked)
	}
}

func TestMaybePromptForSettings_UpdateCarriesForward(t *testing.T) {
	f := newFixture(t)
	prev := apiConfig(
		manifest.ExtensionSetting{Name: "A", EnvVar: "A"},
		manifest.ExtensionSetting{Name: "Old", EnvVar: "OLD", Sensitive: true},
	)
	next := apiConfig(
		manifest.ExtensionSetting{Name: "A", EnvVar: "A"},
		manifest.ExtensionSetting{Name: "B", EnvVar: "B"},
	)
	service := f.resolver.KeychainService(prev.Name, "id1", ScopeUser)
	if err := f.secrets.Set(service, "OLD", "gone"); err != nil {
		t.Fatal(err)
	}

	var asked []string
	req := answers(map[string]string{"B": "b"}, &asked)
	previousValues := map[string]string{"A": "kept", "OLD": "gone"}
	if err := f.resolver.MaybePromptForSettings(context.Background(), next, "id1", req, prev, previousValues); err != nil {
		t.Fatal(err)
	}

	if len(asked) != 1 || asked[0] != "B" {
		t.Errorf("asked = %v, want [B]", asked)
	}
	env, err := f.resolver.GetEnvContents(next, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if env["A"] != "kept" || env["B"] != "b" {
		t.Errorf("env = %v", env)
	}
	if _, err := f.secrets.Get(service, "OLD"); !errors.Is(err, ErrSecretNotFound) {
		t.Error("removed sensitive setting still in keychain")
	}
}

func TestMaybePromptForSettings_AllRemovedClears(t *testing.T) {
	f := newFixture(t)
	prev := apiConfig(
		manifest.ExtensionSetting{Name: "A", EnvVar: "A"},
		manifest.ExtensionSetting{Name: "S", EnvVar: "S", Sensitive: true},
	)
	if err := f.resolver.MaybePromptForSettings(context.Background(), prev, "id1", answers(map[string]string{"A": "a", "S": "s"}, nil), nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.MaybePromptForSettings(context.Background(), apiConfig(), "id1", answers(nil, nil), prev, map[string]string{"A": "a", "S": "s"}); err != nil {
		t.Fatal(err)
	}
	env, err := f.resolver.GetEnvContents(prev, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if len(env) != 0 {
		t.Errorf("env = %v, want empty", env)
	}
}

func TestClearSettings_KeychainUnavailable(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(manifest.ExtensionSetting{Name: "S", EnvVar: "S", Sensitive: true})
	service := f.resolver.KeychainService(cfg.Name, "id1", ScopeUser)
	if err := f.secrets.Set(service, "S", "v"); err != nil {
		t.Fatal(err)
	}
	f.secrets.SetAvailable(false)
	if err := f.resolver.ClearSettings(cfg, "id1", ScopeUser); err != nil {
		t.Fatalf("ClearSettings() should skip an unavailable keychain: %v", err)
	}
	if len(f.secrets.Keys(service)) != 1 {
		t.Error("secret removed despite unavailable keychain")
	}
}

func TestResolvedSettings(t *testing.T) {
	f := newFixture(t)
	cfg := apiConfig(
		manifest.ExtensionSetting{Name: "Region", EnvVar: "REGION"},
		manifest.ExtensionSetting{Name: "Unset", EnvVar: "UNSET"},
	)
	if err := userdata.WriteEnvFile(f.resolver.EnvFilePath(cfg.Name, ScopeUser), map[string]string{"REGION": "eu"}); err != nil {
		t.Fatal(err)
	}
	resolved, err := f.resolver.ResolvedSettings(cfg, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 2 || resolved[0].Value != "eu" || !resolved[0].Set || resolved[1].Set {
		t.Errorf("resolved = %+v", resolved)
	}
}
