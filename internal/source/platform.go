package source

import (
	"runtime"
	"strings"
)

// osAliases and archAliases list the spellings release assets use for a Go
// platform.
var (
	osAliases = map[string][]string{
		"windows": {"windows", "win32", "win"},
		"darwin":  {"darwin", "macos"},
		"linux":   {"linux"},
	}
	archAliases = map[string][]string{
		"amd64": {"amd64", "x64", "x86_64"},
		"arm64": {"arm64", "aarch64"},
	}
	platformMarkers = []string{"darwin", "macos", "linux", "win32", "windows"}
)

// SelectAssetForPlatform picks the release asset for the running platform.
func SelectAssetForPlatform(assets []Asset) *Asset {
	return SelectAsset(assets, runtime.GOOS, runtime.GOARCH)
}

// SelectAsset prefers an os+arch specific archive, then an os specific one.
// A lone archive without any platform marker is treated as generic. Nil
// means the caller should fall back to the source tarball.
func SelectAsset(assets []Asset, goos, goarch string) *Asset {
	oses := aliases(osAliases, goos)
	arches := aliases(archAliases, goarch)

	for i := range assets {
		name := strings.ToLower(assets[i].Name)
		if !isArchive(name) {
			continue
		}
		for _, o := range oses {
			for _, a := range arches {
				for _, sep := range []string{".", "_", "-"} {
					if strings.Contains(name, o+sep+a) {
						return &assets[i]
					}
				}
			}
		}
	}
	for i := range assets {
		name := strings.ToLower(assets[i].Name)
		if !isArchive(name) {
			continue
		}
		for _, o := range oses {
			if strings.HasPrefix(name, o+".") || strings.HasPrefix(name, o+"_") || strings.Contains(name, "_"+o+".") {
				return &assets[i]
			}
		}
	}

	var archives []int
	for i := range assets {
		if isArchive(strings.ToLower(assets[i].Name)) {
			archives = append(archives, i)
		}
	}
	if len(archives) == 1 && !hasPlatformMarker(assets[archives[0]].Name) {
		return &assets[archives[0]]
	}
	return nil
}

func aliases(table map[string][]string, key string) []string {
	if a, ok := table[key]; ok {
		return a
	}
	return []string{key}
}

func hasPlatformMarker(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range platformMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isArchive(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".zip")
}
