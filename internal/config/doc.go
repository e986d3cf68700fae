// Package config manages user-level settings stored at ~/.qwen/config.yaml,
// overridable with QWEN_* environment variables. It exposes the global
// extension override list, workspace folder trust and the GitHub token used
// for release lookups.
package config
