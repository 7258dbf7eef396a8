// Package storage persists receipt photos and returns the URLs they are
// served from.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrEmptyBlob is returned for blobs without content.
	ErrEmptyBlob = errors.New("empty blob")

	// ErrNotImage is returned when the content does not sniff as a raster
	// image. Uploads are served publicly from the API origin, so markup such
	// as HTML or SVG is never stored.
	ErrNotImage = errors.New("content is not an image")
)

// imageExtensions maps the image types http.DetectContentType recognizes to
// the extension stored files get.
var imageExtensions = map[string]string{
	"image/jpeg":   ".jpg",
	"image/png":    ".png",
	"image/gif":    ".gif",
	"image/webp":   ".webp",
	"image/bmp":    ".bmp",
	"image/x-icon": ".ico",
}

// SniffImage detects the content type of data from its bytes alone. The
// client's file name and declared type are never trusted.
func SniffImage(data []byte) (contentType, ext string, err error) {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ext, ok := imageExtensions[ct]
	if !ok {
		return ct, "", ErrNotImage
	}
	return ct, ext, nil
}

// Blob is one file to upload.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader stores blobs and returns one URL per blob, in order. A failure is
// recoverable for callers: nothing is returned for a partially failed batch.
//
//go:generate mockgen -destination=mocks/mock_uploader.go -package=mocks -source=uploader.go Uploader
type Uploader interface {
	Upload(ctx context.Context, blobs []Blob) ([]string, error)
}

// DiskUploader writes blobs under Dir with random names and maps them to
// BaseURL.
type DiskUploader struct {
	Dir     string
	BaseURL string
}

// NewDiskUploader creates dir when missing.
func NewDiskUploader(dir, baseURL string) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskUploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload implements Uploader. Files written before a failure are removed.
func (u *DiskUploader) Upload(ctx context.Context, blobs []Blob) ([]string, error) {
	urls := make([]string, 0, len(blobs))
	written := make([]string, 0, len(blobs))
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}
		if len(b.Data) == 0 {
			cleanup()
			return nil, ErrEmptyBlob
		}
		_, ext, err := SniffImage(b.Data)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%s: %w", b.Name, err)
		}
		name := uuid.NewString() + ext
		path := filepath.Join(u.Dir, name)
		if err := os.WriteFile(path, b.Data, 0o644); err != nil {
			cleanup()
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		urls = append(urls, u.BaseURL+"/"+name)
	}
	return urls, nil
}

// DataURL renders b inline with its sniffed content type. It is the locally
// renderable fallback used when an upload fails.
func DataURL(b Blob) string {
	ct, _, _ := SniffImage(b.Data)
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}
