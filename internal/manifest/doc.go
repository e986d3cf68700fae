// Package manifest handles the canonical qwen-extension.json manifest: its
// types, loading with path-variable hydration and environment-variable
// resolution, extension name validation, and JSON Schema validation against
// the embedded extension schema.
package manifest
