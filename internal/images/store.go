// Package images stores uploaded product photos and fetches them back for
// inference calls.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Store persists image bytes and returns an opaque reference URL.
type Store interface {
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// DetectMIME sniffs the MIME type of image bytes.
func DetectMIME(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
}

// objectName is content addressed so re-uploading the same photo is a no-op.
func objectName(data []byte, mimeType string) string {
	sum := sha256.Sum256(data)
	ext, ok := extensions[mimeType]
	if !ok {
		ext = ".bin"
	}
	return hex.EncodeToString(sum[:]) + ext
}

// LocalStore keeps images in a directory and returns file:// references.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

func (s *LocalStore) Put(_ context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}

	path := filepath.Join(s.dir, objectName(data, mimeType))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, data, 0600); err != nil {
			return "", fmt.Errorf("failed to write image: %w", err)
		}
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

func (s *LocalStore) Fetch(_ context.Context, ref string) ([]byte, string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "file" {
		return nil, "", fmt.Errorf("not a local image reference: %s", ref)
	}

	path := filepath.Clean(filepath.FromSlash(u.Path))
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return nil, "", fmt.Errorf("image reference outside store: %s", ref)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return data, DetectMIME(data), nil
}

// HTTPStore uploads images with PUT to an object storage base URL.
type HTTPStore struct {
	client     *resty.Client
	baseURL    string
	downloader *Downloader
}

// NewHTTPStore creates an HTTP object store. token, if set, is sent as a
// bearer token on uploads.
func NewHTTPStore(baseURL, token string, downloader *Downloader) *HTTPStore {
	client := resty.New().SetDebug(false).SetTimeout(DefaultDownloadTimeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	if downloader == nil {
		downloader = NewDownloader()
	}
	return &HTTPStore{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		downloader: downloader,
	}
}

func (s *HTTPStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}

	objectURL := s.baseURL + "/" + objectName(data, mimeType)
	res, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", mimeType).
		SetBody(data).
		Put(objectURL)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("upload failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}

	if loc := res.Header().Get("Location"); loc != "" {
		objectURL = loc
	}
	log.Debug().Str("url", objectURL).Int("bytes", len(data)).Msg("uploaded image")
	return objectURL, nil
}

func (s *HTTPStore) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	return s.downloader.Download(ctx, ref)
}
