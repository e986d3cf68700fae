package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/source"
)

// UpdateState is the transient update status of one extension.
type UpdateState string

const (
	StateUnknown             UpdateState = ""
	StateCheckingForUpdates  UpdateState = "checking for updates"
	StateUpToDate            UpdateState = "up to date"
	StateUpdateAvailable     UpdateState = "update available"
	StateNotUpdatable        UpdateState = "not updatable"
	StateUpdating            UpdateState = "updating"
	StateUpdated             UpdateState = "updated"
	StateUpdatedNeedsRestart UpdateState = "updated, needs restart"
	StateError               UpdateState = "error"
)

// StateCallback observes state transitions. It may be called from several
// goroutines at once.
type StateCallback func(name string, state UpdateState)

// UpdateInfo summarizes a completed update.
type UpdateInfo struct {
	Name            string
	OriginalVersion string
	UpdatedVersion  string
}

// State returns the last recorded update state of name.
func (m *Manager) State(name string) UpdateState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[name]
}

func (m *Manager) setState(name string, state UpdateState, cb StateCallback) {
	m.mu.Lock()
	m.states[name] = state
	m.mu.Unlock()
	if cb != nil {
		cb(name, state)
	}
}

// CheckForAllExtensionUpdates checks every loaded extension concurrently.
// Each extension is first reported as checking, then with its result. A
// failing check only marks its own extension as errored.
func (m *Manager) CheckForAllExtensionUpdates(ctx context.Context, cb StateCallback) map[string]UpdateState {
	exts := m.LoadedExtensions()
	for _, ext := range exts {
		m.setState(ext.Name, StateCheckingForUpdates, cb)
	}

	var wg sync.WaitGroup
	for _, ext := range exts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.setState(ext.Name, m.CheckForUpdate(ctx, ext), cb)
		}()
	}
	wg.Wait()

	out := make(map[string]UpdateState, len(exts))
	for _, ext := range exts {
		out[ext.Name] = m.State(ext.Name)
	}
	return out
}

// CheckForUpdate determines whether ext has a newer version at its source.
func (m *Manager) CheckForUpdate(ctx context.Context, ext *Extension) UpdateState {
	state, err := m.checkForUpdate(ctx, ext)
	if err != nil {
		m.logger.Warn("update check failed", "name", ext.Name, "error", err)
		return StateError
	}
	return state
}

func (m *Manager) checkForUpdate(ctx context.Context, ext *Extension) (UpdateState, error) {
	meta := ext.InstallMetadata
	if meta == nil {
		return StateNotUpdatable, nil
	}
	switch meta.Type {
	case TypeLink:
		return StateUpToDate, nil
	case TypeLocal:
		return m.checkLocal(ctx, ext)
	case TypeMarketplace:
		if fsutil.IsDir(meta.Source) {
			return m.checkLocal(ctx, ext)
		}
	case TypeGit, TypeGitHubRelease:
	default:
		return StateNotUpdatable, nil
	}

	if meta.ReleaseTag != "" {
		// A release pinned with a ref is reinstalled from the same tag.
		if meta.Ref != "" {
			return StateUpToDate, nil
		}
		latest, err := m.fetcher.LatestReleaseTag(ctx, meta.Source)
		if err != nil {
			return StateError, err
		}
		if latest != meta.ReleaseTag {
			return StateUpdateAvailable, nil
		}
		return StateUpToDate, nil
	}

	remote, err := m.fetcher.RemoteHead(ctx, meta.Source, meta.Ref)
	if err != nil {
		return StateError, err
	}
	local := meta.Commit
	if local == "" {
		local, err = m.fetcher.LocalHead(ctx, ext.StorageDir)
		if err != nil {
			return StateError, err
		}
	}
	if remote != local {
		return StateUpdateAvailable, nil
	}
	return StateUpToDate, nil
}

// checkLocal compares the installed version with the version at a local
// source directory.
func (m *Manager) checkLocal(ctx context.Context, ext *Extension) (UpdateState, error) {
	meta := ext.InstallMetadata
	result, err := convert.Convert(ctx, meta.Source, convert.Options{
		PluginName: meta.PluginName,
		Fetcher:    m.fetcher,
		Variables:  manifest.Variables{WorkspacePath: m.workspaceDir},
		Logger:     m.logger,
	})
	if err != nil {
		return StateError, err
	}
	defer result.Cleanup()

	if source.IsNewer(ext.Version, result.Config.Version) {
		return StateUpdateAvailable, nil
	}
	return StateUpToDate, nil
}

// UpdateExtension reinstalls name from its recorded source. The installed
// directory is snapshotted first and restored if the install fails. It
// returns nil, nil when an update of name is already running.
func (m *Manager) UpdateExtension(ctx context.Context, name string, cb StateCallback) (*UpdateInfo, error) {
	ext := m.find(name)
	if ext == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	if ext.InstallMetadata == nil {
		return nil, fmt.Errorf("extension %s has no install metadata and cannot be updated", ext.Name)
	}

	m.mu.Lock()
	if m.states[ext.Name] == StateUpdating {
		m.mu.Unlock()
		return nil, nil
	}
	m.states[ext.Name] = StateUpdating
	m.mu.Unlock()
	if cb != nil {
		cb(ext.Name, StateUpdating)
	}

	backupRoot, err := fsutil.MkdirTemp("backup")
	if err != nil {
		m.setState(ext.Name, StateError, cb)
		return nil, err
	}
	defer os.RemoveAll(backupRoot)
	backup := filepath.Join(backupRoot, filepath.Base(ext.StorageDir))
	if err := fsutil.CopyDir(ext.StorageDir, backup); err != nil {
		m.setState(ext.Name, StateError, cb)
		return nil, fmt.Errorf("backing up %s: %w", ext.Name, err)
	}

	updated, err := m.Install(ctx, *ext.InstallMetadata, InstallOptions{
		Cwd:      m.workspaceDir,
		Previous: ext.Config,
	})
	if err != nil {
		if IsConsentDeclined(err) {
			m.setState(ext.Name, StateUpdateAvailable, cb)
		} else {
			m.setState(ext.Name, StateError, cb)
		}
		if rerr := m.restore(backup, ext); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("restoring %s: %w", ext.Name, rerr))
		}
		return nil, err
	}

	state := StateUpdated
	if updated.IsActive {
		state = StateUpdatedNeedsRestart
	}
	m.setState(updated.Name, state, cb)
	return &UpdateInfo{
		Name:            updated.Name,
		OriginalVersion: ext.Version,
		UpdatedVersion:  updated.Version,
	}, nil
}

// restore puts the backup back in place and reloads it into the cache.
func (m *Manager) restore(backup string, ext *Extension) error {
	if err := fsutil.ReplaceDir(backup, ext.StorageDir); err != nil {
		return err
	}
	restored, err := m.loader.Load(ext.StorageDir)
	if err != nil {
		return err
	}
	m.put(restored)
	m.logger.Warn("update failed, previous version restored", "name", ext.Name, "version", restored.Version)
	return nil
}

// UpdateAll updates every extension whose last check reported an update.
// Updates run concurrently and the first failure cancels the rest.
func (m *Manager) UpdateAll(ctx context.Context, cb StateCallback) ([]*UpdateInfo, error) {
	var names []string
	for _, ext := range m.LoadedExtensions() {
		if m.State(ext.Name) == StateUpdateAvailable {
			names = append(names, ext.Name)
		}
	}

	results := make([]*UpdateInfo, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			info, err := m.UpdateExtension(gctx, name, cb)
			if err != nil {
				return fmt.Errorf("updating %s: %w", name, err)
			}
			results[i] = info
			return nil
		})
	}
	err := g.Wait()

	var infos []*UpdateInfo
	for _, info := range results {
		if info != nil {
			infos = append(infos, info)
		}
	}
	return infos, err
}
