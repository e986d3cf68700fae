// Package source materializes remote extension sources on disk: GitHub
// release archives, git clones, and the lookups used by update checks.
package source
