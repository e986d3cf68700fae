// Package extension installs, updates, removes and loads Qwen extensions.
//
// Extensions live under the user extensions root, one directory per
// extension, each holding a qwen-extension.json manifest and an optional
// .qwen-extension-install.json recording where it came from. The Manager
// owns the in-memory cache of loaded extensions and drives the install,
// update, uninstall and enable/disable pipelines. Foreign formats are
// converted by package convert before anything is copied into place.
package extension
