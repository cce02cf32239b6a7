package images

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngData = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestDownloader_Download(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer ts.Close()

	data, mimeType, err := NewDownloader().Download(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, pngData, data)
	assert.Equal(t, "image/png", mimeType)
}

func TestDownloader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		maxSize int64
		wantErr string
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr: "status 404",
		},
		{
			name: "not an image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html>"))
			},
			wantErr: "invalid content type",
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/jpeg")
				w.Write(make([]byte, 100))
			},
			maxSize: 10,
			wantErr: "image too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			d := NewDownloader()
			if tt.maxSize > 0 {
				d.WithMaxSize(tt.maxSize)
			}
			_, _, err := d.Download(context.Background(), ts.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, pngData, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "file://"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	again, err := store.Put(ctx, pngData, "image/png")
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	data, mimeType, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, pngData, data)
	assert.Equal(t, "image/png", mimeType)

	_, _, err = store.Fetch(ctx, "file:///etc/passwd")
	assert.Error(t, err)
	_, _, err = store.Fetch(ctx, "https://example.com/a.png")
	assert.Error(t, err)
	_, err = store.Put(ctx, nil, "")
	assert.Error(t, err)
}

func TestHTTPStore(t *testing.T) {
	objects := map[string][]byte{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			assert.Equal(t, "Bearer upload-token", r.Header.Get("Authorization"))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
		}
	}))
	defer ts.Close()

	store := NewHTTPStore(ts.URL+"/images/", "upload-token", nil)
	ref, err := store.Put(context.Background(), pngData, "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, ts.URL+"/images/"))

	data, mimeType, err := store.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, pngData, data)
	assert.Equal(t, "image/png", mimeType)
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/png", DetectMIME(pngData))
	assert.Equal(t, "image/jpeg", DetectMIME([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	assert.Equal(t, "text/plain", DetectMIME([]byte("hello")))
}
