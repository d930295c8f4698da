// Package spc downloads and unpacks the Storm Prediction Center tornado
// track archive.
package spc

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsafeEntry is returned for archive entries that would land outside
// the extraction directory.
var ErrUnsafeEntry = errors.New("archive entry escapes target directory")

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Fetcher downloads a zipped shapefile into a data directory.
type Fetcher struct {
	url        string
	dataDir    string
	force      bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. With force unset an archive already on
// disk is reused.
func NewFetcher(archiveURL, dataDir string, force bool, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url:     archiveURL,
		dataDir: dataDir,
		force:   force,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ArchiveName is the base name of the archive without extension.
func (f *Fetcher) ArchiveName() string {
	name := "archive"
	if u, err := url.Parse(f.url); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

// Fetch downloads the archive when needed and extracts it. It returns the
// extraction directory.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	name := f.ArchiveName()
	zipPath := filepath.Join(f.dataDir, name+".zip")
	dest := filepath.Join(f.dataDir, name)

	if _, err := os.Stat(zipPath); err == nil && !f.force {
		f.logger.Info("archive present, skipping download", "path", zipPath)
	} else {
		start := time.Now()
		n, err := f.download(ctx, zipPath)
		if err != nil {
			return "", err
		}
		f.logger.Info("archive downloaded",
			"url", f.url,
			"bytes", n,
			"duration", time.Since(start).String(),
		)
	}

	files, err := Extract(zipPath, dest)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", zipPath, err)
	}
	f.logger.Info("archive extracted", "dir", dest, "files", files)
	return dest, nil
}

// download streams the archive to a temp file next to dst and renames it
// into place, so an interrupted transfer never leaves a partial archive.
func (f *Fetcher) download(ctx context.Context, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("archive server error: status %d: %s", resp.StatusCode, body)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("move archive into place: %w", err)
	}
	return n, nil
}

// Extract unpacks every file of the zip at src into dest and returns the
// number of files written.
func Extract(src, dest string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, err
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("%w: %s", ErrUnsafeEntry, zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return files, fmt.Errorf("%s: %w", zf.Name, err)
		}
		files++
	}
	return files, nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
