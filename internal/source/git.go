package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs the git binary.
type Git struct {
	// Binary defaults to "git".
	Binary string
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return strings.TrimSpace(string(out)), nil
}

// Clone clones url into dest. ref, when set, selects a branch or tag.
func (g *Git) Clone(ctx context.Context, url, ref, dest string) error {
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dest)
	_, err := g.run(ctx, args...)
	return err
}

// RemoteHead returns the commit ref points to on the remote. An empty ref
// means HEAD. Branches win over tags of the same name, as in git clone, and
// annotated tags resolve to the commit they point to.
func (g *Git) RemoteHead(ctx context.Context, url, ref string) (string, error) {
	if ref == "" || ref == "HEAD" {
		refs, err := g.lsRemote(ctx, url, "HEAD")
		if err != nil {
			return "", err
		}
		if sha, ok := refs["HEAD"]; ok {
			return sha, nil
		}
		return "", fmt.Errorf("git ls-remote %s: HEAD not found", url)
	}

	branch, tag := "refs/heads/"+ref, "refs/tags/"+ref
	refs, err := g.lsRemote(ctx, url, branch, tag, tag+"^{}")
	if err != nil {
		return "", err
	}
	for _, name := range []string{branch, tag + "^{}", tag} {
		if sha, ok := refs[name]; ok {
			return sha, nil
		}
	}
	return "", fmt.Errorf("git ls-remote %s: ref %s not found", url, ref)
}

// lsRemote maps each ref name the remote reports for patterns to its object.
func (g *Git) lsRemote(ctx context.Context, url string, patterns ...string) (map[string]string, error) {
	out, err := g.run(ctx, append([]string{"ls-remote", url}, patterns...)...)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if fields := strings.Fields(line); len(fields) >= 2 {
			refs[fields[1]] = fields[0]
		}
	}
	return refs, nil
}

// LocalHead returns the HEAD commit of the repository at dir.
func (g *Git) LocalHead(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, "-C", dir, "rev-parse", "HEAD")
}
