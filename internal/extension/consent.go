package extension

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/convert"
	"github.com/qwenlm/qwen-ext/internal/manifest"
)

// Requester is the interactive side of an install. Implementations live in
// the presentation layer.
type Requester interface {
	// RequestConsent returns false when the user declines.
	RequestConsent(ctx context.Context, req ConsentRequest) (bool, error)
	RequestSetting(ctx context.Context, setting manifest.ExtensionSetting) (string, error)
	// RequestChoicePlugin picks one plugin of a marketplace.
	RequestChoicePlugin(ctx context.Context, m *convert.Marketplace) (string, error)
}

// ConsentRequest describes what an install or update is about to add.
type ConsentRequest struct {
	Config   *manifest.ExtensionConfig
	Current  Resources
	Previous Resources
	// IsUpdate is true when an installed extension is being replaced.
	IsUpdate bool
}

// ConsentString builds the human-readable summary shown before install.
func ConsentString(r ConsentRequest) string {
	var b strings.Builder
	verb := "Installing"
	if r.IsUpdate {
		verb = "Updating"
	}
	fmt.Fprintf(&b, "%s extension %q", verb, r.Config.Name)
	if r.Config.Version != "" {
		fmt.Fprintf(&b, " (version %s)", r.Config.Version)
	}
	b.WriteString("\n")
	b.WriteString("Extensions may introduce unexpected behavior. Make sure you trust the source.\n")

	names := make([]string, 0, len(r.Config.MCPServers))
	for name := range r.Config.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		b.WriteString("\nMCP servers:\n")
	}
	for _, name := range names {
		s := r.Config.MCPServers[name]
		switch {
		case s.Command != "":
			fmt.Fprintf(&b, "  * %s (local): %s\n", name, strings.TrimSpace(s.Command+" "+strings.Join(s.Args, " ")))
		case s.HTTPURL != "":
			fmt.Fprintf(&b, "  * %s (remote): %s\n", name, s.HTTPURL)
		case s.URL != "":
			fmt.Fprintf(&b, "  * %s (remote): %s\n", name, s.URL)
		default:
			fmt.Fprintf(&b, "  * %s\n", name)
		}
	}

	if len(r.Config.ContextFileName) > 0 {
		fmt.Fprintf(&b, "\nContext files: %s\n", strings.Join(r.Config.ContextFileName, ", "))
	}

	writeDiff(&b, "Commands", r.Current.Commands, r.Previous.Commands)
	writeDiff(&b, "Skills", skillNames(r.Current.Skills), skillNames(r.Previous.Skills))
	writeDiff(&b, "Subagents", agentNames(r.Current.Agents), agentNames(r.Previous.Agents))
	return strings.TrimRight(b.String(), "\n")
}

func writeDiff(b *strings.Builder, label string, current, previous []string) {
	added, removed := diff(current, previous)
	if len(added) > 0 {
		fmt.Fprintf(b, "\n%s added: %s\n", label, strings.Join(added, ", "))
	}
	if len(removed) > 0 {
		fmt.Fprintf(b, "%s removed: %s\n", label, strings.Join(removed, ", "))
	}
}

func diff(current, previous []string) (added, removed []string) {
	prev := make(map[string]bool, len(previous))
	for _, p := range previous {
		prev[p] = true
	}
	cur := make(map[string]bool, len(current))
	for _, c := range current {
		cur[c] = true
		if !prev[c] {
			added = append(added, c)
		}
	}
	for _, p := range previous {
		if !cur[p] {
			removed = append(removed, p)
		}
	}
	return added, removed
}

func skillNames(skills []Skill) []string {
	out := make([]string, len(skills))
	for i, s := range skills {
		out[i] = s.Name
	}
	return out
}

func agentNames(agents []Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name
	}
	return out
}
