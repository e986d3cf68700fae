// Package convert turns foreign extension packages into the canonical
// qwen-extension.json layout.
//
// Detect classifies a directory once; Convert dispatches on the result.
// Gemini and Claude packages are converted inside a fresh temp directory so
// that the original source is never modified. The caller owns the returned
// Result and must call Cleanup after copying it into place.
package convert
