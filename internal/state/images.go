package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/mapic/internal/types"
)

// ImageStore caches downloaded generations on disk. Each image is stored at
// images/<userID>/gen-<id>.<ext>, the extension following its MIME type, with
// a gen-<id>.json metadata sidecar naming the image file.
type ImageStore struct {
	root string
}

// NewImageStore creates a file-backed ImageStore rooted at the given directory.
func NewImageStore(root string) *ImageStore {
	return &ImageStore{root: root}
}

func (s *ImageStore) imagesDir(userID types.UserID) string {
	return filepath.Join(s.root, "images", sanitizeSegment(string(userID)))
}

func (s *ImageStore) metaPath(userID types.UserID, id types.GenerationID) string {
	return filepath.Join(s.imagesDir(userID), types.ImageMetaFileName(id))
}

// Lookup returns the path of a cached image when both it and its sidecar
// exist.
func (s *ImageStore) Lookup(userID types.UserID, id types.GenerationID) (string, bool) {
	meta, err := s.Meta(context.Background(), userID, id)
	if err != nil || meta.FileName == "" {
		return "", false
	}
	p := filepath.Join(s.imagesDir(userID), filepath.Base(meta.FileName))
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Put streams r into the cache and writes the sidecar. Bytes and SavedAt are
// filled in on meta. It returns the image path.
func (s *ImageStore) Put(ctx context.Context, meta *types.ImageMeta, r io.Reader) (string, error) {
	if meta.GenerationID == "" {
		return "", fmt.Errorf("put image: empty generation id")
	}

	dir := s.imagesDir(meta.UserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}

	if meta.MimeType == "" {
		meta.MimeType = "image/png"
	}
	previous, _ := s.Meta(ctx, meta.UserID, meta.GenerationID)

	// Atomic write via temp file + rename
	meta.FileName = types.ImageFileName(meta.GenerationID, meta.MimeType)
	target := filepath.Join(dir, meta.FileName)
	tmp, err := os.CreateTemp(dir, ".gen-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename temp image: %w", err)
	}

	meta.Bytes = n
	meta.SavedAt = time.Now()

	content, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal image meta: %w", err)
	}
	metaTarget := s.metaPath(meta.UserID, meta.GenerationID)
	metaTmp := metaTarget + ".tmp"
	if err := os.WriteFile(metaTmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write temp image meta: %w", err)
	}
	if err := os.Rename(metaTmp, metaTarget); err != nil {
		os.Remove(metaTmp)
		return "", fmt.Errorf("rename temp image meta: %w", err)
	}

	// Drop an earlier download saved under another extension.
	if previous != nil && previous.FileName != "" && previous.FileName != meta.FileName {
		os.Remove(filepath.Join(dir, filepath.Base(previous.FileName)))
	}
	return target, nil
}

// Meta returns the sidecar for a cached image.
func (s *ImageStore) Meta(_ context.Context, userID types.UserID, id types.GenerationID) (*types.ImageMeta, error) {
	data, err := os.ReadFile(s.metaPath(userID, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image not cached: %s", id)
		}
		return nil, fmt.Errorf("read image meta: %w", err)
	}

	var meta types.ImageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal image meta: %w", err)
	}
	return &meta, nil
}

// sanitizeSegment makes a user id safe to use as a single path element.
func sanitizeSegment(s string) string {
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}
