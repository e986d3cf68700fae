package source

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/qwenlm/qwen-ext/internal/fsutil"
)

// ErrReleaseNotFound is returned when the repository has no matching
// release.
var ErrReleaseNotFound = errors.New("release not found")

const checksumsAsset = "checksums.txt"

// DownloadRelease downloads the platform asset of release, or its source
// tarball when no asset fits, and extracts it into destDir. A single
// top-level directory in the archive is flattened away.
func (c *Client) DownloadRelease(ctx context.Context, release *Release, destDir string) error {
	archiveURL, archiveName := release.TarballURL, "source.tar.gz"
	asset := SelectAssetForPlatform(release.Assets)
	if asset != nil {
		archiveURL, archiveName = asset.DownloadURL, asset.Name
	}
	if archiveURL == "" {
		return fmt.Errorf("release %s has no downloadable archive", release.TagName)
	}

	tmp, err := fsutil.MkdirTemp("download")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	archivePath := filepath.Join(tmp, filepath.Base(archiveName))
	if err := c.download(ctx, archiveURL, archivePath); err != nil {
		return err
	}
	if asset != nil && hasAsset(release, checksumsAsset) {
		if err := c.VerifyChecksum(ctx, release, archivePath); err != nil {
			return err
		}
	}

	staging := filepath.Join(tmp, "extracted")
	if err := ExtractArchive(archivePath, staging); err != nil {
		return err
	}
	return moveContents(flattenRoot(staging), destDir)
}

func (c *Client) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("writing download: %w", err)
	}
	c.logger.Debug("downloaded archive", "url", url, "bytes", n)
	return nil
}

// VerifyChecksum downloads checksums.txt from the release and verifies the archive.
func (c *Client) VerifyChecksum(ctx context.Context, release *Release, archivePath string) error {
	var checksumURL string
	for _, a := range release.Assets {
		if a.Name == checksumsAsset {
			checksumURL = a.DownloadURL
			break
		}
	}
	if checksumURL == "" {
		return fmt.Errorf("%s not found in release assets", checksumsAsset)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return fmt.Errorf("creating checksum request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading checksums: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("checksums download returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading checksums: %w", err)
	}

	// Each line is "sha256  filename".
	archiveName := filepath.Base(archivePath)
	expectedHash := ""
	for _, line := range strings.Split(string(body), "\n") {
		parts := strings.Fields(line)
		if len(parts) == 2 && parts[1] == archiveName {
			expectedHash = parts[0]
			break
		}
	}
	if expectedHash == "" {
		return fmt.Errorf("no checksum found for %s in %s", archiveName, checksumsAsset)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("computing checksum: %w", err)
	}
	if actual := hex.EncodeToString(h.Sum(nil)); actual != expectedHash {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedHash, actual)
	}
	return nil
}

func hasAsset(release *Release, name string) bool {
	for _, a := range release.Assets {
		if a.Name == name {
			return true
		}
	}
	return false
}

// ExtractArchive unpacks a .zip, .tar.gz or .tgz archive into destDir.
// Entries escaping destDir are rejected.
func ExtractArchive(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}
	if strings.HasSuffix(strings.ToLower(archivePath), ".zip") {
		return extractZip(archivePath, destDir)
	}
	return extractTarGz(archivePath, destDir)
}

func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !fsutil.IsWithin(target, destDir) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry: %w", err)
		}
		err = writeEntry(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", target, err)
	}
	return out.Close()
}

// flattenRoot returns the only subdirectory of dir when dir holds nothing
// else, as GitHub source tarballs do.
func flattenRoot(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}

func moveContents(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if err := os.Rename(from, to); err == nil {
			continue
		}
		// Rename fails across filesystems; fall back to a copy.
		if e.IsDir() {
			err = fsutil.CopyDir(from, to)
		} else {
			err = fsutil.CopyFile(from, to)
		}
		if err != nil {
			return fmt.Errorf("moving %s: %w", e.Name(), err)
		}
	}
	return nil
}
