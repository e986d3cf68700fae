package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qwenlm/qwen-ext/internal/branding"
)

const githubAPIBase = "https://api.github.com"

// Release represents a GitHub release.
type Release struct {
	TagName    string    `json:"tag_name"`
	Prerelease bool      `json:"prerelease"`
	Assets     []Asset   `json:"assets"`
	TarballURL string    `json:"tarball_url"`
	ZipballURL string    `json:"zipball_url"`
	Published  time.Time `json:"published_at"`
	HTMLURL    string    `json:"html_url"`
}

// Asset represents a downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

// URL returns the canonical https://github.com/<owner>/<repo> form.
func (r Repo) URL() string {
	return "https://github.com/" + r.Owner + "/" + r.Name
}

// ParseGitHubRepo recognizes the usual spellings of a GitHub repository:
// https and http URLs with or without .git, git@github.com:owner/repo and
// ssh://git@github.com/owner/repo.
func ParseGitHubRepo(source string) (Repo, bool) {
	s := strings.TrimSpace(source)
	if rest, ok := strings.CutPrefix(s, "git@github.com:"); ok {
		return splitOwnerRepo(rest)
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return Repo{}, false
	}
	if !strings.EqualFold(u.Hostname(), "github.com") && !strings.EqualFold(u.Hostname(), "www.github.com") {
		return Repo{}, false
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
	default:
		return Repo{}, false
	}
	return splitOwnerRepo(u.Path)
}

func splitOwnerRepo(path string) (Repo, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, false
	}
	name := strings.TrimSuffix(parts[1], ".git")
	if name == "" {
		return Repo{}, false
	}
	return Repo{Owner: parts[0], Name: name}, true
}

// CanonicalGitHubURL returns the canonical URL of source when it names a
// GitHub repository.
func CanonicalGitHubURL(source string) (string, bool) {
	repo, ok := ParseGitHubRepo(source)
	if !ok {
		return "", false
	}
	return repo.URL(), true
}

// Client talks to the GitHub releases API.
type Client struct {
	httpClient *http.Client
	apiBase    string
	token      string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIBase points the client at a different API root.
func WithAPIBase(base string) Option {
	return func(cl *Client) {
		cl.apiBase = strings.TrimRight(base, "/")
	}
}

// WithToken sets a GitHub token for higher rate limits.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates a GitHub client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		apiBase:    githubAPIBase,
		logger:     slog.Default().With("component", "source.github"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestRelease fetches the latest published release of repo.
func (c *Client) LatestRelease(ctx context.Context, repo Repo) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBase, repo.Owner, repo.Name)
	return c.fetchRelease(ctx, endpoint)
}

// ReleaseByTag fetches the release tagged tag.
func (c *Client) ReleaseByTag(ctx context.Context, repo Repo, tag string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.apiBase, repo.Owner, repo.Name, url.PathEscape(tag))
	return c.fetchRelease(ctx, endpoint)
}

func (c *Client) fetchRelease(ctx context.Context, endpoint string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrReleaseNotFound
	case http.StatusForbidden:
		return nil, fmt.Errorf("GitHub API rate limit exceeded. Set GITHUB_TOKEN for higher limits")
	default:
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	var release Release
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, fmt.Errorf("parsing release JSON: %w", err)
	}
	c.logger.Debug("fetched release", "url", endpoint, "tag", release.TagName)
	return &release, nil
}

func userAgent() string {
	return branding.CLIName() + "-installer"
}
