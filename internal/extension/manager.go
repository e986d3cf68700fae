package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qwenlm/qwen-ext/internal/config"
	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/enablement"
	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/settings"
	"github.com/qwenlm/qwen-ext/internal/source"
	"github.com/qwenlm/qwen-ext/internal/telemetry"
	"github.com/qwenlm/qwen-ext/internal/userdata"
)

// Fetcher materializes remote sources. *source.Fetcher satisfies it.
type Fetcher interface {
	convert.Fetcher
	Fetch(ctx context.Context, spec source.Spec, destDir string) (*source.Fetched, error)
	LatestReleaseTag(ctx context.Context, src string) (string, error)
	RemoteHead(ctx context.Context, src, ref string) (string, error)
	LocalHead(ctx context.Context, dir string) (string, error)
}

// ToolRefresher reloads whatever consumes extension tools and context
// after the set of active extensions changes.
type ToolRefresher interface {
	RefreshTools(ctx context.Context, active []*Extension) error
	RefreshMemory(ctx context.Context, contextFiles []string) error
}

type nopRefresher struct{}

func (nopRefresher) RefreshTools(context.Context, []*Extension) error { return nil }
func (nopRefresher) RefreshMemory(context.Context, []string) error    { return nil }

// Manager owns the extension cache and the lifecycle pipelines.
type Manager struct {
	mu     sync.RWMutex
	cache  map[string]*Extension
	states map[string]UpdateState

	extensionsRoot string
	workspaceDir   string
	homeDir        string

	enablement *enablement.Store
	settings   *settings.Resolver
	loader     *Loader
	fetcher    Fetcher
	requester  Requester
	refresher  ToolRefresher
	telemetry  telemetry.Sink
	trusted    func(dir string) bool
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkspaceDir sets the directory enablement and workspace settings are
// evaluated against. Defaults to the process working directory.
func WithWorkspaceDir(dir string) Option {
	return func(m *Manager) { m.workspaceDir = dir }
}

// WithHomeDir sets the directory user-scope enablement rules apply to.
func WithHomeDir(dir string) Option {
	return func(m *Manager) { m.homeDir = dir }
}

// WithEnablementStore replaces the enablement store.
func WithEnablementStore(s *enablement.Store) Option {
	return func(m *Manager) { m.enablement = s }
}

// WithSettingsResolver replaces the settings resolver.
func WithSettingsResolver(r *settings.Resolver) Option {
	return func(m *Manager) { m.settings = r }
}

// WithFetcher replaces the remote source fetcher.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) { m.fetcher = f }
}

// WithRequester sets the default consent and setting requester.
func WithRequester(r Requester) Option {
	return func(m *Manager) { m.requester = r }
}

// WithToolRefresher sets the hook run after the active set changes.
func WithToolRefresher(r ToolRefresher) Option {
	return func(m *Manager) { m.refresher = r }
}

// WithTelemetry sets the lifecycle event sink.
func WithTelemetry(s telemetry.Sink) Option {
	return func(m *Manager) { m.telemetry = s }
}

// WithTrustCheck replaces the folder trust check used by Install.
func WithTrustCheck(fn func(dir string) bool) Option {
	return func(m *Manager) { m.trusted = fn }
}

// WithLogger sets the logger for the manager and its loader.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager returns a Manager for the extensions stored under
// extensionsRoot. The cache starts empty; call RefreshCache to load it.
func NewManager(extensionsRoot string, opts ...Option) *Manager {
	m := &Manager{
		cache:          make(map[string]*Extension),
		states:         make(map[string]UpdateState),
		extensionsRoot: extensionsRoot,
		refresher:      nopRefresher{},
		trusted:        config.IsFolderTrusted,
		logger:         slog.Default().With("component", "extension.manager"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.workspaceDir == "" {
		if wd, err := os.Getwd(); err == nil {
			m.workspaceDir = wd
		}
	}
	if m.homeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			m.homeDir = home
		}
	}
	if m.enablement == nil {
		path := filepath.Join(filepath.Dir(extensionsRoot), userdata.EnablementConfigFile)
		m.enablement = enablement.NewStore(enablement.NewFileRepository(path), enablement.WithStoreLogger(m.logger))
	}
	if m.settings == nil {
		m.settings = settings.NewResolver(extensionsRoot, m.workspaceDir, settings.WithLogger(m.logger))
	}
	if m.fetcher == nil {
		m.fetcher = source.NewFetcher(nil, nil, m.logger)
	}
	if m.telemetry == nil {
		m.telemetry = telemetry.NewLogSink(m.logger)
	}
	m.loader = NewLoader(m.enablement, m.workspaceDir, m.logger)
	return m
}

// ExtensionsRoot returns the directory extensions are installed into.
func (m *Manager) ExtensionsRoot() string { return m.extensionsRoot }

// WorkspaceDir returns the directory enablement is evaluated against.
func (m *Manager) WorkspaceDir() string { return m.workspaceDir }

// RefreshCache discards the cache and reloads every extension from disk.
func (m *Manager) RefreshCache(ctx context.Context) error {
	exts, err := m.loader.LoadAll(m.extensionsRoot)
	if err != nil {
		return err
	}
	cache := make(map[string]*Extension, len(exts))
	for _, ext := range exts {
		if prev, ok := cache[ext.Name]; ok {
			m.logger.Warn("duplicate extension name, keeping first", "name", ext.Name, "kept", prev.StorageDir, "skipped", ext.StorageDir)
			continue
		}
		cache[ext.Name] = ext
	}

	m.mu.Lock()
	m.cache = cache
	m.mu.Unlock()
	m.logger.Debug("loaded extensions", "count", len(cache))
	return nil
}

// LoadedExtensions returns the cached extensions sorted by name.
func (m *Manager) LoadedExtensions() []*Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Extension, 0, len(m.cache))
	for _, ext := range m.cache {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the cached extension with the given name, ignoring case.
func (m *Manager) Get(name string) *Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ext, ok := m.cache[name]; ok {
		return ext
	}
	for _, ext := range m.cache {
		if strings.EqualFold(ext.Name, name) {
			return ext
		}
	}
	return nil
}

// find matches identifier against names and install sources, ignoring case.
func (m *Manager) find(identifier string) *Extension {
	if ext := m.Get(identifier); ext != nil {
		return ext
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ext := range m.cache {
		if ext.InstallMetadata != nil && strings.EqualFold(ext.InstallMetadata.Source, identifier) {
			return ext
		}
	}
	return nil
}

func (m *Manager) put(ext *Extension) {
	m.mu.Lock()
	m.cache[ext.Name] = ext
	m.mu.Unlock()
}

// InstallOptions tune one Install call.
type InstallOptions struct {
	// Cwd resolves relative local and link sources. Defaults to the
	// workspace directory.
	Cwd string
	// Previous is the config of the version being replaced. It marks the
	// install as an update.
	Previous *manifest.ExtensionConfig
	// Requester overrides the manager's default requester.
	Requester Requester
}

// Install materializes, converts and installs the extension described by
// meta. Temp directories are always removed.
func (m *Manager) Install(ctx context.Context, meta InstallMetadata, opts InstallOptions) (*Extension, error) {
	kind := telemetry.KindInstall
	if opts.Previous != nil {
		kind = telemetry.KindUpdate
	}

	ext, name, err := m.install(ctx, &meta, opts)
	if err != nil {
		if name != "" && !IsConsentDeclined(err) {
			m.record(ctx, m.event(kind, name, &meta).WithError(err))
		}
		return nil, err
	}

	e := m.event(kind, ext.Name, &meta)
	e.ExtID = ext.ID
	e.Version = ext.Version
	m.record(ctx, e)
	return ext, nil
}

// install returns the extension name as soon as it is known so that
// failures can be attributed.
func (m *Manager) install(ctx context.Context, meta *InstallMetadata, opts InstallOptions) (*Extension, string, error) {
	req := opts.Requester
	if req == nil {
		req = m.requester
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = m.workspaceDir
	}
	isUpdate := opts.Previous != nil

	if !m.trusted(cwd) {
		return nil, "", ErrUntrustedWorkspace
	}
	if meta.Type == TypeLocal || meta.Type == TypeLink {
		if !filepath.IsAbs(meta.Source) {
			meta.Source = filepath.Join(cwd, meta.Source)
		}
	}

	srcDir, release, err := m.materialize(ctx, meta)
	if err != nil {
		return nil, "", err
	}
	defer release()

	if meta.PluginName == "" && convert.IsMarketplace(srcDir) &&
		(meta.Type == TypeMarketplace || convert.Detect(srcDir, "") == convert.FormatUnknown) {
		name, err := m.choosePlugin(ctx, srcDir, req)
		if err != nil {
			return nil, "", err
		}
		meta.PluginName = name
	}

	result, err := convert.Convert(ctx, srcDir, convert.Options{
		PluginName: meta.PluginName,
		Fetcher:    m.fetcher,
		Variables:  manifest.Variables{WorkspacePath: m.workspaceDir},
		Logger:     m.logger,
	})
	if err != nil {
		return nil, "", fmt.Errorf("loading extension from %s: %w", meta.Source, err)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			m.logger.Warn("failed to remove conversion directory", "error", err)
		}
	}()
	cfg := result.Config
	name := cfg.Name

	if isUpdate && meta.AutoUpdate && !sameNames(opts.Previous.SettingNames(), cfg.SettingNames()) {
		return nil, name, fmt.Errorf("%s: %w", name, ErrSettingsChangedOnAutoUpdate)
	}

	existing := m.Get(name)
	if isUpdate && existing == nil {
		return nil, name, fmt.Errorf("cannot update %s: %w", name, ErrNotInstalled)
	}
	if !isUpdate && existing != nil {
		return nil, name, fmt.Errorf("%s: %w; uninstall it first", name, ErrAlreadyInstalled)
	}

	current, err := DiscoverResources(result.Dir, cfg, m.logger)
	if err != nil {
		return nil, name, err
	}
	consent := ConsentRequest{Config: cfg, Current: current, IsUpdate: isUpdate}
	if existing != nil {
		consent.Previous = Resources{Commands: existing.Commands, Skills: existing.Skills, Agents: existing.Agents}
	}
	if req == nil {
		return nil, name, fmt.Errorf("installing %s: no requester configured for consent", name)
	}
	ok, err := req.RequestConsent(ctx, consent)
	if err != nil {
		return nil, name, fmt.Errorf("requesting consent for %s: %w", name, err)
	}
	if !ok {
		return nil, name, &ConsentDeclinedError{Name: name}
	}

	id := GetExtensionID(cfg, meta)
	var previousValues map[string]string
	if existing != nil {
		previousValues, err = m.settings.GetScopedEnvContents(existing.Config, existing.ID, settings.ScopeUser)
		if err != nil {
			return nil, name, fmt.Errorf("reading settings of %s: %w", name, err)
		}
		if err := m.Uninstall(ctx, existing.Name, true); err != nil {
			return nil, name, err
		}
	}

	dest := filepath.Join(m.extensionsRoot, name)
	if err := os.MkdirAll(dest, userdata.DirPermNormal); err != nil {
		return nil, name, fmt.Errorf("creating extension directory: %w", err)
	}
	if err := m.settings.MaybePromptForSettings(ctx, cfg, id, req, opts.Previous, previousValues); err != nil {
		return nil, name, fmt.Errorf("configuring settings of %s: %w", name, err)
	}
	if meta.Type != TypeLink {
		excludes := append([]string{userdata.SettingsEnvFile, userdata.InstallMetadataFile}, fsutil.DefaultExcludes...)
		if err := fsutil.CopyDir(result.Dir, dest, excludes...); err != nil {
			return nil, name, fmt.Errorf("copying extension into %s: %w", dest, err)
		}
	}
	if err := WriteInstallMetadata(dest, meta); err != nil {
		return nil, name, err
	}

	ext, err := m.loader.Load(dest)
	if err != nil {
		return nil, name, fmt.Errorf("loading installed extension: %w", err)
	}
	m.put(ext)

	if isUpdate {
		m.refresh(ctx)
	} else {
		if err := m.enablement.Enable(name, true, m.homeDir); err != nil {
			return nil, name, err
		}
		ext = m.markActive(name)
		m.refresh(ctx)
	}
	m.logger.Info("installed extension", "name", name, "version", ext.Version, "source", meta.Source)
	return ext, name, nil
}

// materialize returns a local directory holding the source. release removes
// any temp directory it created.
func (m *Manager) materialize(ctx context.Context, meta *InstallMetadata) (string, func(), error) {
	noop := func() {}
	switch meta.Type {
	case TypeLocal, TypeLink:
		if !fsutil.IsDir(meta.Source) {
			return "", noop, fmt.Errorf("source %s not found", meta.Source)
		}
		return meta.Source, noop, nil
	case TypeMarketplace, TypeGit, TypeGitHubRelease:
		if meta.Type == TypeMarketplace && fsutil.IsDir(meta.Source) {
			return meta.Source, noop, nil
		}
	default:
		return "", noop, fmt.Errorf("unsupported install type %q", meta.Type)
	}

	tmp, err := fsutil.MkdirTemp("install")
	if err != nil {
		return "", noop, err
	}
	release := func() {
		if err := os.RemoveAll(tmp); err != nil {
			m.logger.Warn("failed to remove temp directory", "dir", tmp, "error", err)
		}
	}
	fetched, err := m.fetcher.Fetch(ctx, source.Spec{Source: meta.Source, Ref: meta.Ref}, tmp)
	if err != nil {
		release()
		return "", noop, fmt.Errorf("fetching %s: %w", meta.Source, err)
	}
	if meta.Type != TypeMarketplace {
		meta.Type = InstallType(fetched.Type)
	}
	meta.ReleaseTag = fetched.TagName
	meta.Commit = ""
	if fetched.Type == source.TypeGit {
		if head, err := m.fetcher.LocalHead(ctx, tmp); err == nil {
			meta.Commit = head
		}
	}
	return tmp, release, nil
}

func (m *Manager) choosePlugin(ctx context.Context, dir string, req Requester) (string, error) {
	mkt, err := convert.ReadMarketplace(dir)
	if err != nil {
		return "", err
	}
	names := mkt.PluginNames()
	if len(names) == 0 {
		return "", fmt.Errorf("marketplace %q lists no plugins", mkt.Name)
	}
	if len(names) == 1 {
		return names[0], nil
	}
	if req == nil {
		return "", fmt.Errorf("marketplace %q lists several plugins; choose one with --plugin", mkt.Name)
	}
	name, err := req.RequestChoicePlugin(ctx, mkt)
	if err != nil {
		return "", fmt.Errorf("choosing plugin: %w", err)
	}
	if mkt.Plugin(name) == nil {
		return "", fmt.Errorf("plugin %q not found in marketplace %q", name, mkt.Name)
	}
	return name, nil
}

// Uninstall removes the extension matching identifier by name or install
// source. When isUpdate is set the enablement rules and stored secrets are
// kept for the following install step.
func (m *Manager) Uninstall(ctx context.Context, identifier string, isUpdate bool) error {
	ext := m.find(identifier)
	if ext == nil {
		return fmt.Errorf("%s: %w", identifier, ErrNotInstalled)
	}

	if !isUpdate {
		if err := m.settings.ClearSettings(ext.Config, ext.ID, settings.ScopeUser); err != nil {
			m.logger.Warn("failed to clear settings", "name", ext.Name, "error", err)
		}
	}
	if err := os.RemoveAll(ext.StorageDir); err != nil {
		err = fmt.Errorf("removing %s: %w", ext.StorageDir, err)
		if !isUpdate {
			m.record(ctx, m.event(telemetry.KindUninstall, ext.Name, ext.InstallMetadata).WithError(err))
		}
		return err
	}

	m.mu.Lock()
	delete(m.cache, ext.Name)
	if !isUpdate {
		delete(m.states, ext.Name)
	}
	m.mu.Unlock()

	if isUpdate {
		return nil
	}
	if err := m.enablement.Remove(ext.Name); err != nil {
		return err
	}
	m.refresh(ctx)
	m.record(ctx, m.event(telemetry.KindUninstall, ext.Name, ext.InstallMetadata))
	m.logger.Info("uninstalled extension", "name", ext.Name)
	return nil
}

// Enable activates name for the scope: the home directory for user scope
// or cwd for workspace scope, including subdirectories.
func (m *Manager) Enable(ctx context.Context, name string, scope settings.Scope, cwd string) error {
	return m.setEnablement(ctx, name, scope, cwd, false)
}

// Disable deactivates name for the scope.
func (m *Manager) Disable(ctx context.Context, name string, scope settings.Scope, cwd string) error {
	return m.setEnablement(ctx, name, scope, cwd, true)
}

func (m *Manager) setEnablement(ctx context.Context, name string, scope settings.Scope, cwd string, disable bool) error {
	if scope != settings.ScopeUser && scope != settings.ScopeWorkspace {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	ext := m.Get(name)
	if ext == nil {
		return fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}

	scopePath := m.homeDir
	if scope == settings.ScopeWorkspace {
		scopePath = cwd
		if scopePath == "" {
			scopePath = m.workspaceDir
		}
	}

	kind := telemetry.KindEnable
	var err error
	if disable {
		kind = telemetry.KindDisable
		err = m.enablement.Disable(ext.Name, true, scopePath)
	} else {
		err = m.enablement.Enable(ext.Name, true, scopePath)
	}
	e := m.event(kind, ext.Name, ext.InstallMetadata)
	e.Scope = scope.String()
	if err != nil {
		m.record(ctx, e.WithError(err))
		return err
	}
	m.record(ctx, e)

	m.markActive(ext.Name)
	m.refresh(ctx)
	return nil
}

// IsEnabled reports whether name is active at path.
func (m *Manager) IsEnabled(name, path string) bool {
	return m.enablement.IsEnabled(name, path)
}

// markActive recomputes IsActive of a cached extension. Cached records are
// replaced rather than mutated.
func (m *Manager) markActive(name string) *Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.cache[name]
	if !ok {
		return nil
	}
	updated := *ext
	updated.IsActive = m.enablement.IsEnabled(name, m.workspaceDir)
	m.cache[name] = &updated
	return &updated
}

// ActiveExtensions returns the cached extensions active in the workspace.
func (m *Manager) ActiveExtensions() []*Extension {
	var out []*Extension
	for _, ext := range m.LoadedExtensions() {
		if ext.IsActive {
			out = append(out, ext)
		}
	}
	return out
}

// MCPServers merges the trust-filtered MCP servers of active extensions.
// The first extension in name order wins a server name collision.
func (m *Manager) MCPServers() map[string]manifest.MCPServerConfig {
	out := make(map[string]manifest.MCPServerConfig)
	for _, ext := range m.ActiveExtensions() {
		for name, server := range ext.MCPServers {
			if _, ok := out[name]; ok {
				m.logger.Warn("skipping duplicate MCP server", "server", name, "extension", ext.Name)
				continue
			}
			out[name] = server
		}
	}
	return out
}

// ContextFiles returns the context files of active extensions.
func (m *Manager) ContextFiles() []string {
	var files []string
	for _, ext := range m.ActiveExtensions() {
		files = append(files, ext.ContextFiles...)
	}
	return files
}

// RefreshTools hands the active extensions to the tool refresher.
func (m *Manager) RefreshTools(ctx context.Context) error {
	return m.refresher.RefreshTools(ctx, m.ActiveExtensions())
}

// RefreshMemory hands the active context files to the tool refresher.
func (m *Manager) RefreshMemory(ctx context.Context) error {
	return m.refresher.RefreshMemory(ctx, m.ContextFiles())
}

func (m *Manager) refresh(ctx context.Context) {
	if err := m.RefreshTools(ctx); err != nil {
		m.logger.Warn("failed to refresh tools", "error", err)
	}
	if err := m.RefreshMemory(ctx); err != nil {
		m.logger.Warn("failed to refresh memory", "error", err)
	}
}

// ResolvedSettings returns the effective setting values of name.
func (m *Manager) ResolvedSettings(name string) ([]settings.ResolvedSetting, error) {
	ext := m.Get(name)
	if ext == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	return m.settings.ResolvedSettings(ext.Config, ext.ID)
}

// UpdateSetting prompts for one setting of name and stores it at scope.
func (m *Manager) UpdateSetting(ctx context.Context, name, key string, scope settings.Scope, req settings.Requester) error {
	ext := m.Get(name)
	if ext == nil {
		return fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	if req == nil {
		req = m.requester
	}
	if req == nil {
		return fmt.Errorf("updating %s: no requester configured", key)
	}
	return m.settings.UpdateSetting(ctx, ext.Config, ext.ID, key, req, scope)
}

// SweepTempDirs removes pipeline temp directories left behind by crashed
// runs.
func (m *Manager) SweepTempDirs(maxAge time.Duration) (int, error) {
	n, err := fsutil.SweepTemp(os.TempDir(), maxAge)
	if n > 0 {
		m.logger.Debug("removed stale temp directories", "count", n)
	}
	return n, err
}

func (m *Manager) event(kind telemetry.Kind, name string, meta *InstallMetadata) telemetry.Event {
	e := telemetry.NewEvent(kind, name, telemetry.StatusSuccess)
	if meta != nil {
		e.Source = meta.Source
	}
	return e
}

func (m *Manager) record(ctx context.Context, e telemetry.Event) {
	m.telemetry.Record(ctx, e)
}

func sameNames(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
