package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/qwenlm/qwen-ext/internal/branding"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/userdata"
)

// Requester asks the user for the value of a setting.
type Requester interface {
	RequestSetting(ctx context.Context, setting manifest.ExtensionSetting) (string, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, setting manifest.ExtensionSetting) (string, error)

func (f RequesterFunc) RequestSetting(ctx context.Context, setting manifest.ExtensionSetting) (string, error) {
	return f(ctx, setting)
}

// ResolvedSetting is a declared setting together with its effective value.
type ResolvedSetting struct {
	Name      string
	EnvVar    string
	Value     string
	Sensitive bool
	// Set is false when no scope holds a value.
	Set bool
}

// Resolver reads and writes setting values for installed extensions.
type Resolver struct {
	extensionsRoot string
	workspaceDir   string
	secrets        SecretStore
	logger         *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSecretStore replaces the keychain backend.
func WithSecretStore(s SecretStore) Option {
	return func(r *Resolver) {
		r.secrets = s
	}
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver returns a Resolver storing user-scope files under
// extensionsRoot/<name> and workspace-scope files in workspaceDir.
func NewResolver(extensionsRoot, workspaceDir string, opts ...Option) *Resolver {
	r := &Resolver{
		extensionsRoot: extensionsRoot,
		workspaceDir:   workspaceDir,
		secrets:        NewKeyringStore(),
		logger:         slog.Default().With("component", "settings"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnvFilePath returns the dotenv file holding non-sensitive values of the
// named extension at scope.
func (r *Resolver) EnvFilePath(name string, scope Scope) string {
	if scope == ScopeWorkspace {
		return userdata.WorkspaceSettingsPath(r.workspaceDir)
	}
	return userdata.UserSettingsPath(filepath.Join(r.extensionsRoot, name))
}

// KeychainService returns the keychain service label for scope.
func (r *Resolver) KeychainService(name, id string, scope Scope) string {
	service := branding.KeychainService(name, id)
	if scope == ScopeWorkspace {
		service += " " + r.workspaceDir
	}
	return service
}

// GetScopedEnvContents returns the values stored at one scope: the dotenv
// file overlaid with keychain values of sensitive settings.
func (r *Resolver) GetScopedEnvContents(cfg *manifest.ExtensionConfig, id string, scope Scope) (map[string]string, error) {
	env, err := userdata.ReadEnvFile(r.EnvFilePath(cfg.Name, scope))
	if err != nil {
		return nil, err
	}
	if !r.secrets.Available() {
		return env, nil
	}
	service := r.KeychainService(cfg.Name, id, scope)
	for _, s := range cfg.Settings {
		if !s.Sensitive {
			continue
		}
		v, err := r.secrets.Get(service, s.EnvVar)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("failed to read secret", "extension", cfg.Name, "setting", s.EnvVar, "error", err)
			continue
		}
		env[s.EnvVar] = v
	}
	return env, nil
}

// GetEnvContents merges user then workspace values; workspace wins.
func (r *Resolver) GetEnvContents(cfg *manifest.ExtensionConfig, id string) (map[string]string, error) {
	user, err := r.GetScopedEnvContents(cfg, id, ScopeUser)
	if err != nil {
		return nil, err
	}
	workspace, err := r.GetScopedEnvContents(cfg, id, ScopeWorkspace)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(user)+len(workspace))
	for k, v := range user {
		merged[k] = v
	}
	for k, v := range workspace {
		merged[k] = v
	}
	return merged, nil
}

// ResolvedSettings returns every declared setting with its effective value.
func (r *Resolver) ResolvedSettings(cfg *manifest.ExtensionConfig, id string) ([]ResolvedSetting, error) {
	env, err := r.GetEnvContents(cfg, id)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedSetting, 0, len(cfg.Settings))
	for _, s := range cfg.Settings {
		v, ok := env[s.EnvVar]
		out = append(out, ResolvedSetting{
			Name:      s.Name,
			EnvVar:    s.EnvVar,
			Value:     v,
			Sensitive: s.Sensitive,
			Set:       ok,
		})
	}
	return out, nil
}

// UpdateSetting prompts for one setting, found by name or envVar, and
// stores it at scope.
func (r *Resolver) UpdateSetting(ctx context.Context, cfg *manifest.ExtensionConfig, id, key string, req Requester, scope Scope) error {
	setting, ok := cfg.FindSetting(key)
	if !ok {
		return fmt.Errorf("extension %q has no setting %q", cfg.Name, key)
	}
	value, err := req.RequestSetting(ctx, setting)
	if err != nil {
		return err
	}

	if setting.Sensitive {
		if !r.secrets.Available() {
			return fmt.Errorf("cannot store sensitive setting %q: keychain unavailable", setting.EnvVar)
		}
		return r.secrets.Set(r.KeychainService(cfg.Name, id, scope), setting.EnvVar, value)
	}

	path := r.EnvFilePath(cfg.Name, scope)
	env, err := userdata.ReadEnvFile(path)
	if err != nil {
		return err
	}
	env[setting.EnvVar] = value
	for _, s := range cfg.Settings {
		if s.Sensitive {
			delete(env, s.EnvVar)
		}
	}
	return userdata.WriteEnvFile(path, env)
}

// MaybePromptForSettings brings the user-scope values of an extension in
// line with cfg. Values in previousValues for settings whose declaration did
// not change are kept; new declarations are prompted for and removed ones
// are deleted. previous is nil for a fresh install.
func (r *Resolver) MaybePromptForSettings(ctx context.Context, cfg *manifest.ExtensionConfig, id string, req Requester, previous *manifest.ExtensionConfig, previousValues map[string]string) error {
	var prevSettings []manifest.ExtensionSetting
	if previous != nil {
		prevSettings = previous.Settings
	}
	if len(cfg.Settings) == 0 && len(prevSettings) == 0 {
		return nil
	}
	if len(cfg.Settings) == 0 {
		return r.clear(previous, id, ScopeUser)
	}

	changes := GetSettingsChanges(prevSettings, cfg.Settings)

	values := make(map[string]string, len(previousValues))
	for k, v := range previousValues {
		values[k] = v
	}
	for _, s := range changes.RemoveNonSensitive {
		delete(values, s.EnvVar)
	}
	for _, s := range changes.RemoveSensitive {
		delete(values, s.EnvVar)
	}
	if len(changes.RemoveSensitive) > 0 && previous != nil && r.secrets.Available() {
		service := r.KeychainService(previous.Name, id, ScopeUser)
		for _, s := range changes.RemoveSensitive {
			if err := r.secrets.Delete(service, s.EnvVar); err != nil {
				r.logger.Warn("failed to delete secret", "extension", previous.Name, "setting", s.EnvVar, "error", err)
			}
		}
	}

	prompts := append(append([]manifest.ExtensionSetting{}, changes.PromptSensitive...), changes.PromptNonSensitive...)
	for _, s := range prompts {
		v, err := req.RequestSetting(ctx, s)
		if err != nil {
			return fmt.Errorf("requesting setting %q: %w", s.Name, err)
		}
		values[s.EnvVar] = v
	}

	return r.store(cfg, id, values)
}

// store writes values for the declared settings at user scope.
func (r *Resolver) store(cfg *manifest.ExtensionConfig, id string, values map[string]string) error {
	plain := make(map[string]string)
	service := r.KeychainService(cfg.Name, id, ScopeUser)
	for _, s := range cfg.Settings {
		v, ok := values[s.EnvVar]
		if !ok {
			continue
		}
		if !s.Sensitive {
			plain[s.EnvVar] = v
			continue
		}
		if !r.secrets.Available() {
			r.logger.Warn("keychain unavailable, sensitive setting not stored", "extension", cfg.Name, "setting", s.EnvVar)
			continue
		}
		if err := r.secrets.Set(service, s.EnvVar, v); err != nil {
			return err
		}
	}
	return userdata.WriteEnvFile(r.EnvFilePath(cfg.Name, ScopeUser), plain)
}

// ClearSettings removes every stored value of cfg's declared settings at
// scope. Keychain cleanup is skipped when the keychain is unavailable.
func (r *Resolver) ClearSettings(cfg *manifest.ExtensionConfig, id string, scope Scope) error {
	return r.clear(cfg, id, scope)
}

func (r *Resolver) clear(cfg *manifest.ExtensionConfig, id string, scope Scope) error {
	if cfg == nil {
		return nil
	}
	path := r.EnvFilePath(cfg.Name, scope)
	env, err := userdata.ReadEnvFile(path)
	if err != nil {
		return err
	}
	if len(env) > 0 {
		for _, s := range cfg.Settings {
			delete(env, s.EnvVar)
		}
		if scope == ScopeUser {
			env = map[string]string{}
		}
		if err := userdata.WriteEnvFile(path, env); err != nil {
			return err
		}
	}

	if !hasSensitive(cfg.Settings) {
		return nil
	}
	if !r.secrets.Available() {
		r.logger.Debug("keychain unavailable, skipping secret cleanup", "extension", cfg.Name)
		return nil
	}
	service := r.KeychainService(cfg.Name, id, scope)
	for _, s := range cfg.Settings {
		if !s.Sensitive {
			continue
		}
		if err := r.secrets.Delete(service, s.EnvVar); err != nil {
			r.logger.Warn("failed to delete secret", "extension", cfg.Name, "setting", s.EnvVar, "error", err)
		}
	}
	return nil
}

func hasSensitive(settings []manifest.ExtensionSetting) bool {
	for _, s := range settings {
		if s.Sensitive {
			return true
		}
	}
	return false
}
