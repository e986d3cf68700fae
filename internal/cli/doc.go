// Package cli defines the Cobra command tree for the qwen-ext CLI. Commands
// only parse flags, format output and talk to the user; extension lifecycle
// logic lives in internal/extension.
package cli
