// Package userdata defines the on-disk layout of user-scoped state
// (installed extensions, the enablement file) and reads and writes the dotenv
// files that hold non-sensitive extension settings.
package userdata
