package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultDownloadTimeout is the default timeout for image downloads
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxImageSize is the default maximum image size (10MB)
	DefaultMaxImageSize = 10 * 1024 * 1024
)

// Downloader fetches images over HTTP with a timeout and size limit.
type Downloader struct {
	client  *resty.Client
	timeout time.Duration
	maxSize int64
}

// NewDownloader creates a Downloader with default settings.
func NewDownloader() *Downloader {
	return &Downloader{
		client:  resty.New().SetDebug(false).SetTimeout(DefaultDownloadTimeout),
		timeout: DefaultDownloadTimeout,
		maxSize: DefaultMaxImageSize,
	}
}

// WithTimeout sets a custom timeout for downloads.
func (d *Downloader) WithTimeout(timeout time.Duration) *Downloader {
	d.timeout = timeout
	d.client.SetTimeout(timeout)
	return d
}

// WithMaxSize sets a custom maximum file size.
func (d *Downloader) WithMaxSize(maxSize int64) *Downloader {
	d.maxSize = maxSize
	return d
}

// MaxSize returns the size limit in bytes.
func (d *Downloader) MaxSize() int64 {
	return d.maxSize
}

// Download fetches image data and its MIME type from a URL. It respects
// context cancellation and enforces the size limit.
func (d *Downloader) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.client.R().
		SetContext(reqCtx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: status %d", res.StatusCode())
	}

	// Validate Content-Type is an image
	contentType := res.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("invalid content type: expected image/*, got %s", contentType)
	}

	if res.RawResponse.ContentLength > d.maxSize {
		return nil, "", fmt.Errorf("image too large: %d bytes exceeds limit of %d bytes", res.RawResponse.ContentLength, d.maxSize)
	}

	// Use LimitReader to enforce size limit even if Content-Length is missing or wrong
	data, err := io.ReadAll(io.LimitReader(body, d.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, "", fmt.Errorf("image too large: exceeds limit of %d bytes", d.maxSize)
	}

	mimeType := contentType
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}
	return data, mimeType, nil
}
