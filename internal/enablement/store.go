package enablement

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/qwenlm/qwen-ext/internal/platform"
	"github.com/qwenlm/qwen-ext/internal/userdata"
)

// DisableAllToken in the CLI override list disables every extension.
const DisableAllToken = "none"

// ExtensionEnablement is the persisted rule list of one extension.
type ExtensionEnablement struct {
	Overrides []string `json:"overrides"`
}

// Config maps extension names to their rule lists.
type Config map[string]ExtensionEnablement

// ErrCorrupt is returned by a Repository whose backing data cannot be
// decoded.
var ErrCorrupt = errors.New("corrupt enablement config")

// Repository persists the enablement Config. Read returns an error wrapping
// fs.ErrNotExist when nothing has been written yet, and ErrCorrupt when the
// stored data cannot be decoded.
type Repository interface {
	Read() (Config, error)
	Write(Config) error
}

// FileRepository stores the Config as a JSON file.
type FileRepository struct {
	path string
}

// NewFileRepository returns a repository backed by path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Path returns the backing file path.
func (r *FileRepository) Path() string { return r.path }

// Read loads the config from disk.
func (r *FileRepository) Read() (Config, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, r.path, err)
	}
	if cfg == nil {
		cfg = Config{}
	}
	return cfg, nil
}

// Write overwrites the file through a rename so readers never observe a
// partial write.
func (r *FileRepository) Write(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling enablement config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), userdata.DirPermNormal); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(r.path), err)
	}
	return platform.WriteFileAtomic(r.path, append(data, '\n'), userdata.FilePermNormal)
}

// Store evaluates and mutates extension enablement. Mutations are
// serialized within the process; across processes the last writer wins.
type Store struct {
	mu        sync.Mutex
	repo      Repository
	overrides []string
	logger    *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithOverrides sets the CLI override list. When non-empty, membership in
// the list alone decides enablement.
func WithOverrides(names []string) StoreOption {
	return func(s *Store) {
		s.overrides = names
	}
}

// WithStoreLogger sets the logger for the store.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store over repo.
func NewStore(repo Repository, opts ...StoreOption) *Store {
	s := &Store{
		repo:   repo,
		logger: slog.Default().With("component", "enablement.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsEnabled reports whether the named extension is active at path.
func (s *Store) IsEnabled(name, path string) bool {
	if len(s.overrides) > 0 {
		for _, o := range s.overrides {
			if strings.EqualFold(o, DisableAllToken) {
				return false
			}
		}
		for _, o := range s.overrides {
			if strings.EqualFold(o, name) {
				return true
			}
		}
		return false
	}

	s.mu.Lock()
	cfg := s.read()
	s.mu.Unlock()

	return Evaluate(parseRules(cfg[name].Overrides), NormalizePath(path))
}

// Rules returns the stored rules for name in evaluation order.
func (s *Store) Rules(name string) []Override {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parseRules(s.read()[name].Overrides)
}

// Enable adds an enabling rule for scopePath.
func (s *Store) Enable(name string, includeSubdirs bool, scopePath string) error {
	return s.add(name, FromInput(scopePath, includeSubdirs))
}

// Disable adds a disabling rule for scopePath.
func (s *Store) Disable(name string, includeSubdirs bool, scopePath string) error {
	return s.add(name, FromInput("!"+scopePath, includeSubdirs))
}

// Remove drops every rule stored for name.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.read()
	if _, ok := cfg[name]; !ok {
		return nil
	}
	delete(cfg, name)
	if err := s.repo.Write(cfg); err != nil {
		return fmt.Errorf("removing enablement for %s: %w", name, err)
	}
	return nil
}

func (s *Store) add(name string, rule Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.read()
	rules := Reconcile(parseRules(cfg[name].Overrides), rule)
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Output()
	}
	cfg[name] = ExtensionEnablement{Overrides: out}

	if err := s.repo.Write(cfg); err != nil {
		return fmt.Errorf("saving enablement for %s: %w", name, err)
	}
	s.logger.Debug("updated enablement", "extension", name, "rule", rule.Output())
	return nil
}

// read must be called with s.mu held. A missing config is empty; a corrupt
// or unreadable one is logged and treated as empty.
func (s *Store) read() Config {
	cfg, err := s.repo.Read()
	switch {
	case err == nil:
		return cfg
	case errors.Is(err, fs.ErrNotExist):
		return Config{}
	default:
		s.logger.Warn("failed to read enablement config, using defaults", "error", err)
		return Config{}
	}
}

func parseRules(raw []string) []Override {
	rules := make([]Override, len(raw))
	for i, r := range raw {
		rules[i] = FromFileRule(r)
	}
	return rules
}
