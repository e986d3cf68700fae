package cli

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/qwenlm/qwen-ext/internal/config"
	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/enablement"
	"github.com/qwenlm/qwen-ext/internal/extension"
	"github.com/qwenlm/qwen-ext/internal/fsutil"
	"github.com/qwenlm/qwen-ext/internal/manifest"
	"github.com/qwenlm/qwen-ext/internal/prompt"
	"github.com/qwenlm/qwen-ext/internal/settings"
	"github.com/qwenlm/qwen-ext/internal/source"
	"github.com/qwenlm/qwen-ext/internal/telemetry"
	"github.com/qwenlm/qwen-ext/internal/userdata"
	"github.com/spf13/cobra"
)

// tempMaxAge is the age after which leftover install and backup directories
// are swept at startup.
const tempMaxAge = 24 * time.Hour

var assumeYes bool

func init() {
	extensionsCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Accept consent prompts without asking")
	rootCmd.AddCommand(extensionsCmd)
}

var extensionsCmd = &cobra.Command{
	Use:     "extensions",
	Aliases: []string{"ext"},
	Short:   "Manage installed extensions",
	Long: `Install, update, remove, enable and disable extensions.

Extensions live in ~/.qwen/extensions/<name>/. Sources may be local directories,
git repositories, GitHub releases or Claude plugin marketplaces. Gemini
extensions and Claude plugins are converted on install.`,
}

// newManager wires an extension manager for the current process and loads
// the installed extensions.
func newManager(cmd *cobra.Command) (*extension.Manager, error) {
	root, err := userdata.GetExtensionsRoot()
	if err != nil {
		return nil, fmt.Errorf("resolving extensions root: %w", err)
	}
	enablementPath, err := userdata.GetEnablementConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolving enablement config: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	logger := slog.Default()

	store := enablement.NewStore(
		enablement.NewFileRepository(enablementPath),
		enablement.WithOverrides(config.ExtensionOverrides()),
		enablement.WithStoreLogger(logger.With("component", "enablement")),
	)
	resolver := settings.NewResolver(root, cwd,
		settings.WithSecretStore(settings.NewKeyringStore()),
		settings.WithLogger(logger.With("component", "settings")),
	)
	client := source.NewClient(
		source.WithToken(config.GitHubToken()),
		source.WithLogger(logger.With("component", "source.github")),
	)

	m := extension.NewManager(root,
		extension.WithWorkspaceDir(cwd),
		extension.WithEnablementStore(store),
		extension.WithSettingsResolver(resolver),
		extension.WithFetcher(source.NewFetcher(client, nil, logger.With("component", "source"))),
		extension.WithRequester(newRequester(cmd)),
		extension.WithTelemetry(telemetry.NewLogSink(logger.With("component", "telemetry"))),
		extension.WithLogger(logger.With("component", "extension.manager")),
	)

	if n, err := m.SweepTempDirs(tempMaxAge); err != nil {
		logger.Debug("temp sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug("removed stale temp directories", "count", n)
	}
	if err := m.RefreshCache(cmd.Context()); err != nil {
		return nil, fmt.Errorf("loading extensions: %w", err)
	}
	return m, nil
}

func newRequester(cmd *cobra.Command) *prompt.Terminal {
	return prompt.New(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt.WithAssumeYes(assumeYes))
}

// resolveInstallType picks the install type for src when none was given.
// Local directories install as local unless they are a marketplace and not
// an extension themselves; remote sources with a plugin name are marketplaces.
func resolveInstallType(src, plugin, explicit string) (extension.InstallType, error) {
	if explicit != "" {
		return extension.ParseInstallType(explicit)
	}
	abs, err := filepath.Abs(src)
	if err == nil && fsutil.IsDir(abs) {
		if convert.IsMarketplace(abs) && (plugin != "" || !fsutil.Exists(filepath.Join(abs, manifest.FileName))) {
			return extension.TypeMarketplace, nil
		}
		return extension.TypeLocal, nil
	}
	if plugin != "" {
		return extension.TypeMarketplace, nil
	}
	return extension.TypeGit, nil
}

func printExtension(w io.Writer, ext *extension.Extension) {
	status := "disabled"
	if ext.IsActive {
		status = "enabled"
	}
	fmt.Fprintf(w, "%s (%s) [%s]\n", ext.Name, ext.Version, status)
	fmt.Fprintf(w, "  Path: %s\n", ext.Path)
	if meta := ext.InstallMetadata; meta != nil {
		fmt.Fprintf(w, "  Source: %s (type: %s)\n", meta.Source, meta.Type)
		if meta.PluginName != "" {
			fmt.Fprintf(w, "  Plugin: %s\n", meta.PluginName)
		}
		if meta.ReleaseTag != "" {
			fmt.Fprintf(w, "  Release: %s\n", meta.ReleaseTag)
		}
		if meta.Ref != "" {
			fmt.Fprintf(w, "  Ref: %s\n", meta.Ref)
		}
		if meta.AutoUpdate {
			fmt.Fprintln(w, "  Auto-update: on")
		}
	}
	printList(w, "Context files", ext.ContextFiles)
	printList(w, "Commands", ext.Commands)
	var names []string
	for _, s := range ext.Skills {
		names = append(names, s.Name)
	}
	printList(w, "Skills", names)
	names = nil
	for _, a := range ext.Agents {
		names = append(names, a.Name)
	}
	printList(w, "Subagents", names)
	printList(w, "MCP servers", slices.Sorted(maps.Keys(ext.MCPServers)))
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", label)
	for _, item := range items {
		fmt.Fprintf(w, "    %s\n", item)
	}
}
