package extension

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/enablement"
	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/userdata"
)

const (
	commandsDir = "commands"
	skillsDir   = "skills"
	agentsDir   = "agents"
	skillFile   = "SKILL.md"
)

// Extension is one loaded extension. It is rebuilt on every cache refresh.
type Extension struct {
	ID      string
	Name    string
	Version string
	// Path is where resources are read from. For link installs it is the
	// linked directory rather than StorageDir.
	Path string
	// StorageDir is the managed directory under the extensions root.
	StorageDir      string
	IsActive        bool
	Config          *manifest.ExtensionConfig
	InstallMetadata *InstallMetadata
	// MCPServers is the execution view of Config.MCPServers with trust
	// removed.
	MCPServers   map[string]manifest.MCPServerConfig
	ContextFiles []string
	Commands     []string
	Skills       []Skill
	Agents       []Agent
}

// Skill is a skill shipped in skills/<name>/SKILL.md.
type Skill struct {
	Name        string
	Description string
	Path        string
}

// Agent is a subagent definition shipped in agents/<name>.md.
type Agent struct {
	Name        string
	Description string
	Tools       []string
	Path        string
}

// Resources are the discoverable parts of an extension directory.
type Resources struct {
	Commands []string
	Skills   []Skill
	Agents   []Agent
}

// Loader reads extension directories into Extension records.
type Loader struct {
	enablement   *enablement.Store
	workspaceDir string
	logger       *slog.Logger
}

// NewLoader returns a Loader that evaluates enablement against
// workspaceDir. A nil store treats every extension as active.
func NewLoader(store *enablement.Store, workspaceDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default().With("component", "extension.loader")
	}
	return &Loader{enablement: store, workspaceDir: workspaceDir, logger: logger}
}

// LoadAll loads every extension directory under root. Extensions that fail
// to load are skipped with a warning. A missing root yields no extensions.
func (l *Loader) LoadAll(root string) ([]*Extension, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading extensions directory: %w", err)
	}

	var out []*Extension
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ext, err := l.Load(filepath.Join(root, entry.Name()))
		if err != nil {
			l.logger.Warn("skipping extension", "dir", entry.Name(), "error", err)
			continue
		}
		out = append(out, ext)
	}
	return out, nil
}

// Load reads one extension directory. Link installs are read from the
// linked directory recorded in the install metadata.
func (l *Loader) Load(dir string) (*Extension, error) {
	if !fsutil.IsDir(dir) {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	meta, err := ReadInstallMetadata(dir)
	if err != nil {
		return nil, err
	}
	effective := dir
	if meta != nil && meta.Type == TypeLink {
		effective = meta.Source
	}

	cfg, err := manifest.Load(effective, manifest.Variables{
		ExtensionPath: effective,
		WorkspacePath: l.workspaceDir,
	})
	if err != nil {
		return nil, err
	}
	res, err := DiscoverResources(effective, cfg, l.logger)
	if err != nil {
		return nil, err
	}

	active := true
	if l.enablement != nil {
		active = l.enablement.IsEnabled(cfg.Name, l.workspaceDir)
	}

	return &Extension{
		ID:              GetExtensionID(cfg, meta),
		Name:            cfg.Name,
		Version:         cfg.Version,
		Path:            effective,
		StorageDir:      dir,
		IsActive:        active,
		Config:          cfg,
		InstallMetadata: meta,
		MCPServers:      filterTrust(cfg.MCPServers),
		ContextFiles:    contextFiles(effective, cfg),
		Commands:        res.Commands,
		Skills:          res.Skills,
		Agents:          res.Agents,
	}, nil
}

// DiscoverResources scans dir for commands, skills and agents.
func DiscoverResources(dir string, cfg *manifest.ExtensionConfig, logger *slog.Logger) (Resources, error) {
	commands, err := discoverCommands(dir, orDefault(cfg.Commands, commandsDir))
	if err != nil {
		return Resources{}, err
	}
	return Resources{
		Commands: commands,
		Skills:   discoverSkills(dir, orDefault(cfg.Skills, skillsDir), logger),
		Agents:   discoverAgents(dir, orDefault(cfg.Agents, agentsDir), logger),
	}, nil
}

func orDefault(list manifest.StringList, def string) []string {
	if len(list) == 0 {
		return []string{def}
	}
	return list
}

func resolveIn(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// discoverCommands maps every *.md file below the command roots to a
// colon-joined command name. Literal colons in file names become
// underscores.
func discoverCommands(dir string, roots []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, r := range roots {
		root := resolveIn(dir, r)
		if !fsutil.IsDir(root) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(path) != ".md" {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			segments := strings.Split(strings.TrimSuffix(rel, ".md"), string(filepath.Separator))
			for i, s := range segments {
				segments[i] = strings.ReplaceAll(s, ":", "_")
			}
			seen[strings.Join(segments, ":")] = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning commands in %s: %w", root, err)
		}
	}
	commands := make([]string, 0, len(seen))
	for name := range seen {
		commands = append(commands, name)
	}
	sort.Strings(commands)
	return commands, nil
}

type skillMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func discoverSkills(dir string, roots []string, logger *slog.Logger) []Skill {
	var skills []Skill
	for _, r := range roots {
		root := resolveIn(dir, r)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(root, entry.Name(), skillFile)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			meta, _, err := convert.ParseFrontmatter[skillMeta](string(data))
			if err != nil {
				logger.Warn("skipping skill", "path", path, "error", err)
				continue
			}
			if meta.Name == "" {
				meta.Name = entry.Name()
			}
			skills = append(skills, Skill{Name: meta.Name, Description: meta.Description, Path: path})
		}
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

type agentMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tools       any    `yaml:"tools"`
}

func discoverAgents(dir string, roots []string, logger *slog.Logger) []Agent {
	var agents []Agent
	for _, r := range roots {
		root := resolveIn(dir, r)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
				continue
			}
			path := filepath.Join(root, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			meta, _, err := convert.ParseFrontmatter[agentMeta](string(data))
			if err != nil {
				logger.Warn("skipping agent", "path", path, "error", err)
				continue
			}
			if meta.Name == "" {
				meta.Name = strings.TrimSuffix(entry.Name(), ".md")
			}
			agents = append(agents, Agent{
				Name:        meta.Name,
				Description: meta.Description,
				Tools:       stringList(meta.Tools),
				Path:        path,
			})
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

func stringList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// contextFiles returns the configured context files that exist on disk,
// defaulting to QWEN.md.
func contextFiles(dir string, cfg *manifest.ExtensionConfig) []string {
	names := []string(cfg.ContextFileName)
	if len(names) == 0 {
		names = []string{userdata.DefaultContextFileName}
	}
	var files []string
	for _, name := range names {
		path := resolveIn(dir, name)
		if fsutil.Exists(path) {
			files = append(files, path)
		}
	}
	return files
}

func filterTrust(servers map[string]manifest.MCPServerConfig) map[string]manifest.MCPServerConfig {
	if len(servers) == 0 {
		return nil
	}
	out := make(map[string]manifest.MCPServerConfig, len(servers))
	for name, s := range servers {
		out[name] = s.WithoutTrust()
	}
	return out
}
