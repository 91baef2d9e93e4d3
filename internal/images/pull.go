package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// HTTPClient is used for image downloads.
var HTTPClient = http.DefaultClient

// URL returns the download URL. When the image names a get-url-prog, the
// program is run with the image name and its non-empty output wins.
func (i *Image) URL(ctx context.Context) string {
	if i.getURLProg == "" {
		return i.url
	}

	prog := i.getURLProg
	if !filepath.IsAbs(prog) {
		prog = filepath.Join(i.opts.GetURLProgsDir, prog)
	}

	out, err := exec.CommandContext(ctx, prog, i.Name).Output()
	if err != nil {
		i.opts.Logger.Debug("url resolver failed, using catalog url",
			"image", i.Name, "prog", prog, "error", err)
		return i.url
	}
	if url := strings.TrimSpace(string(out)); url != "" {
		return url
	}
	return i.url
}

// Pull downloads the image into the image directory and returns its path.
// The previous file, if any, is only replaced once the download completed.
func (i *Image) Pull(ctx context.Context) (string, error) {
	dest := i.Path()
	if dest == "" {
		return "", fmt.Errorf("%w: invalid image name %q", ErrFileSystem, i.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("%w: create image directory: %w", ErrFileSystem, err)
	}

	url := i.URL(ctx)
	i.opts.Logger.Info("downloading image", "image", i.Name, "url", url)

	written, err := download(ctx, url, dest)
	if err != nil {
		return "", err
	}

	i.opts.Logger.Info("downloaded image", "image", i.Name, "bytes", written)
	return dest, nil
}

// download fetches url into a hidden temp file next to destPath and renames
// it into place. The temp file never outlives the call.
func download(ctx context.Context, url, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s: HTTP %d", ErrDownload, url, resp.StatusCode)
	}

	// Create temp file for atomic write
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: create temp file: %w", ErrFileSystem, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		_ = tmp.Close()
		return 0, fmt.Errorf("%w: %s: short body (%d of %d bytes)", ErrDownload, url, written, resp.ContentLength)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("%w: close temp file: %w", ErrFileSystem, err)
	}

	// Rename to final path (atomic)
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("%w: finalize %s: %w", ErrFileSystem, destPath, err)
	}

	return written, nil
}
