// Package platform wraps the filesystem calls whose behavior differs between
// Unix and Windows: permission bits and file replacement.
package platform
