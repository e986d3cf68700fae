package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Source types recorded in install metadata.
const (
	TypeGit           = "git"
	TypeGitHubRelease = "github-release"
)

// Spec describes a remote source to materialize.
type Spec struct {
	Source string
	// Ref is a git ref or release tag. Empty selects the default branch or
	// the latest release.
	Ref string
}

// Fetched reports how a source was materialized.
type Fetched struct {
	Type    string
	TagName string
}

// Fetcher materializes remote sources, preferring GitHub release archives
// and falling back to git clone.
type Fetcher struct {
	github *Client
	git    *Git
	logger *slog.Logger
}

// NewFetcher combines a GitHub client and a git runner.
func NewFetcher(client *Client, git *Git, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = NewClient()
	}
	if git == nil {
		git = &Git{}
	}
	if logger == nil {
		logger = slog.Default().With("component", "source")
	}
	return &Fetcher{github: client, git: git, logger: logger}
}

// Fetch materializes spec into destDir, which must be empty or absent.
func (f *Fetcher) Fetch(ctx context.Context, spec Spec, destDir string) (*Fetched, error) {
	if _, ok := ParseGitHubRepo(spec.Source); ok {
		fetched, err := f.DownloadRelease(ctx, spec, destDir)
		if err == nil {
			return fetched, nil
		}
		f.logger.Debug("release download failed, falling back to git clone", "source", spec.Source, "error", err)
		if rmErr := resetDir(destDir); rmErr != nil {
			return nil, rmErr
		}
	}
	if err := f.Clone(ctx, spec, destDir); err != nil {
		return nil, err
	}
	return &Fetched{Type: TypeGit}, nil
}

// DownloadRelease downloads the GitHub release selected by spec.
func (f *Fetcher) DownloadRelease(ctx context.Context, spec Spec, destDir string) (*Fetched, error) {
	repo, ok := ParseGitHubRepo(spec.Source)
	if !ok {
		return nil, fmt.Errorf("%s is not a GitHub repository", spec.Source)
	}
	var (
		release *Release
		err     error
	)
	if spec.Ref != "" {
		release, err = f.github.ReleaseByTag(ctx, repo, spec.Ref)
	} else {
		release, err = f.github.LatestRelease(ctx, repo)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up release for %s: %w", repo.URL(), err)
	}
	if err := f.github.DownloadRelease(ctx, release, destDir); err != nil {
		return nil, err
	}
	return &Fetched{Type: TypeGitHubRelease, TagName: release.TagName}, nil
}

// Clone clones spec into destDir.
func (f *Fetcher) Clone(ctx context.Context, spec Spec, destDir string) error {
	if err := f.git.Clone(ctx, spec.Source, spec.Ref, destDir); err != nil {
		return fmt.Errorf("cloning %s: %w", spec.Source, err)
	}
	return nil
}

// FetchPlugin retrieves a remote marketplace plugin into destDir.
func (f *Fetcher) FetchPlugin(ctx context.Context, url, destDir string) error {
	_, err := f.Fetch(ctx, Spec{Source: url}, destDir)
	return err
}

// LatestReleaseTag returns the tag of the latest release of source.
func (f *Fetcher) LatestReleaseTag(ctx context.Context, source string) (string, error) {
	repo, ok := ParseGitHubRepo(source)
	if !ok {
		return "", fmt.Errorf("%s is not a GitHub repository", source)
	}
	release, err := f.github.LatestRelease(ctx, repo)
	if err != nil {
		return "", err
	}
	return release.TagName, nil
}

// RemoteHead returns the remote commit for ref.
func (f *Fetcher) RemoteHead(ctx context.Context, source, ref string) (string, error) {
	return f.git.RemoteHead(ctx, source, ref)
}

// LocalHead returns the checked-out commit of dir.
func (f *Fetcher) LocalHead(ctx context.Context, dir string) (string, error) {
	return f.git.LocalHead(ctx, dir)
}

// resetDir empties dir so that a fallback can start clean. git clone
// refuses a non-empty destination.
func resetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing %s: %w", dir, err)
	}
	return nil
}
