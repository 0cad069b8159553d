package downloader

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/util"
)

// ErrDestinationUnwritable marks a failure to create or write the output
// file. Not retryable; the filesystem will not get better on its own.
var ErrDestinationUnwritable = errors.New("destination not writable")

// transfer downloads every resolved page and assembles them into a CBZ in
// the request's destination directory. Pages stream into a .partial file
// that is renamed into place only on success, so a crash or cancellation
// never leaves a half-written archive behind under the final name.
func (o *Orchestrator) transfer(ctx context.Context, h *handle) error {
	o.mu.Lock()
	req := *h.req
	urls := h.urls
	o.mu.Unlock()

	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		return fmt.Errorf("cannot create %s: %v: %w", req.Dir, err, ErrDestinationUnwritable)
	}

	finalPath := filepath.Join(req.Dir, util.SanitizeFilename(req.Unit.Title)+".cbz")
	partialPath := finalPath + ".partial"
	out, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("cannot create %s: %v: %w", partialPath, err, ErrDestinationUnwritable)
	}

	cleanup := func(cancelled bool) {
		out.Close()
		if cancelled && !o.cfg.Download.DeleteOnCancel {
			return
		}
		os.Remove(partialPath)
	}

	zw := zip.NewWriter(out)
	total := len(urls.Primary)
	for i, pageURL := range urls.Primary {
		if i > 0 && o.cfg.Download.PageDelay > 0 {
			select {
			case <-ctx.Done():
				cleanup(true)
				return ctx.Err()
			case <-time.After(o.cfg.Download.PageDelay):
			}
		}

		data, err := o.fetchPage(ctx, pageURL)
		if err != nil && ctx.Err() == nil && i < len(urls.Fallback) {
			data, err = o.fetchPage(ctx, urls.Fallback[i])
		}
		if err != nil {
			zw.Close()
			cleanup(ctx.Err() != nil)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("page %d of %d: %w", i+1, total, err)
		}

		entry, err := zw.Create(fmt.Sprintf("%03d%s", i+1, pageExt(pageURL)))
		if err == nil {
			_, err = entry.Write(data)
		}
		if err != nil {
			zw.Close()
			cleanup(false)
			return fmt.Errorf("cannot write page %d to archive: %v: %w", i+1, err, ErrDestinationUnwritable)
		}

		o.progress(h, (i+1)*100/total, fmt.Sprintf("Downloaded page %d of %d", i+1, total))
	}

	if err := zw.Close(); err != nil {
		cleanup(false)
		return fmt.Errorf("cannot finalize archive: %v: %w", err, ErrDestinationUnwritable)
	}
	if err := out.Close(); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("cannot finalize archive: %v: %w", err, ErrDestinationUnwritable)
	}
	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("cannot move archive into place: %v: %w", err, ErrDestinationUnwritable)
	}
	return nil
}

// fetchPage retrieves one page image.
func (o *Orchestrator) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)
	}
	return io.ReadAll(resp.Body)
}

// pageExt extracts the image extension from a page URL, defaulting to .jpg
// when the URL carries none.
func pageExt(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(filepath.Ext(u.Path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif":
		return ext
	}
	return ".jpg"
}
