// Package image downloads specimen images and encodes them as data URIs
// for vision model requests.
package image

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/askelva/herbarium-batch/internal/common"
)

// MaxImageBytes caps the download size. Herbarium sheet scans run large
// but anything past this is almost certainly not a label photo.
const MaxImageBytes = 25 << 20 // 25 MiB

// Fetcher downloads images over HTTP.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger
}

// NewFetcher builds a fetcher. client may be nil.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, log: logger}
}

// FetchDataURI downloads the image at url and returns it as a
// base64-encoded data URI. Inputs that are already data URIs pass
// through unchanged. Non-image content is rejected.
func (f *Fetcher) FetchDataURI(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, "data:") {
		return url, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", common.WrapError(err, "build image request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", common.WrapError(err, "fetch image")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", common.NewAppError("IMAGE_FETCH_FAILED",
			fmt.Sprintf("image fetch returned status %d for %s", resp.StatusCode, url), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return "", common.WrapError(err, "read image body")
	}
	if len(data) > MaxImageBytes {
		return "", common.NewAppError("IMAGE_TOO_LARGE",
			fmt.Sprintf("image at %s exceeds %d bytes", url, MaxImageBytes), nil)
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", common.NewAppError("IMAGE_NOT_IMAGE",
			fmt.Sprintf("content at %s is %s, not an image", url, mime), common.ErrInvalidInput)
	}

	f.log.Debug("image.fetched", "url", url, "bytes", len(data), "mime", mime)
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
