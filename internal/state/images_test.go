package state

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/mapic/internal/types"
)

func TestImageStore(t *testing.T) {
	dir := t.TempDir()
	store := NewImageStore(dir)
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\nimage")
	meta := &types.ImageMeta{
		GenerationID: "g1",
		UserID:       "u1",
		Prompt:       "a red fox",
		SourceURL:    "https://cdn.example.com/g1.png",
	}

	if _, ok := store.Lookup("u1", "g1"); ok {
		t.Fatal("expected empty cache")
	}

	path, err := store.Put(ctx, meta, bytes.NewReader(png))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "gen-g1.png" {
		t.Errorf("expected gen-g1.png, got %s", filepath.Base(path))
	}
	if cached, ok := store.Lookup("u1", "g1"); !ok || cached != path {
		t.Errorf("expected Lookup to return %s, got %s (%v)", path, cached, ok)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, png) {
		t.Error("stored image does not match input")
	}


	got, err := store.Meta(ctx, "u1", "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Bytes != int64(len(png)) {
		t.Errorf("expected %d bytes, got %d", len(png), got.Bytes)
	}
	if got.Prompt != "a red fox" {
		t.Errorf("expected prompt to round-trip, got %q", got.Prompt)
	}
	if got.MimeType != "image/png" {
		t.Errorf("expected default mime type, got %q", got.MimeType)
	}
}

func TestImageStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewImageStore(dir)

	_, err := store.Put(context.Background(), &types.ImageMeta{GenerationID: "g1", UserID: "u1"}, strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "images", "u1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("unexpected temp file %s", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("expected image and sidecar, got %d files", len(entries))
	}
}

func TestImageStoreMetaMissing(t *testing.T) {
	store := NewImageStore(t.TempDir())
	if _, err := store.Meta(context.Background(), "u1", "missing"); err == nil {
		t.Error("expected error for uncached image")
	}
}

func TestImageStoreSanitizesUser(t *testing.T) {
	dir := t.TempDir()
	store := NewImageStore(dir)
	path, err := store.Put(context.Background(), &types.ImageMeta{GenerationID: "g1", UserID: "../escape"}, strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, "images")) {
		t.Errorf("expected path under images dir, got %s", path)
	}
}

func TestImageStoreExtensionFollowsMimeType(t *testing.T) {
	dir := t.TempDir()
	store := NewImageStore(dir)
	ctx := context.Background()

	path, err := store.Put(ctx, &types.ImageMeta{GenerationID: "g1", UserID: "u1", MimeType: "image/jpeg"}, strings.NewReader("jpeg"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "gen-g1.jpg" {
		t.Errorf("expected gen-g1.jpg, got %s", filepath.Base(path))
	}

	// Re-saving as png replaces the jpeg rather than leaving both.
	path, err = store.Put(ctx, &types.ImageMeta{GenerationID: "g1", UserID: "u1", MimeType: "image/png"}, strings.NewReader("png"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "gen-g1.png" {
		t.Errorf("expected gen-g1.png, got %s", filepath.Base(path))
	}
	entries, err := os.ReadDir(filepath.Join(dir, "images", "u1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected image and sidecar, got %d files", len(entries))
	}
	if cached, ok := store.Lookup("u1", "g1"); !ok || cached != path {
		t.Errorf("expected Lookup to return %s, got %s", path, cached)
	}
}
