package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/raine/item-appraiser/internal/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdits(t *testing.T) {
	edits, err := parseEdits([]string{
		"model=iPhone 13 Pro",
		"confidence_score=90",
		"color_variants=[\"black\",\"blue\"]",
		"serial_visible=true",
		"note=",
		"size=null",
	})
	require.NoError(t, err)

	assert.Equal(t, "iPhone 13 Pro", edits["model"])
	assert.Equal(t, float64(90), edits["confidence_score"])
	assert.Equal(t, []any{"black", "blue"}, edits["color_variants"])
	assert.Equal(t, true, edits["serial_visible"])
	assert.Equal(t, "", edits["note"])
	assert.Equal(t, "null", edits["size"])
}

func TestParseEdits_Invalid(t *testing.T) {
	for _, s := range []string{"model", "=value", " =x"} {
		_, err := parseEdits([]string{s})
		assert.Error(t, err, s)
	}
}

func TestLoadImage_File(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	path := filepath.Join(t.TempDir(), "item.png")
	require.NoError(t, os.WriteFile(path, png, 0600))

	img, err := loadImage(context.Background(), images.NewDownloader(), path)
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)

	_, err = loadImage(context.Background(), images.NewDownloader().WithMaxSize(4), path)
	assert.Error(t, err)

	_, err = loadImage(context.Background(), images.NewDownloader(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
