// Package gallery saves generated images into the local image cache.
package gallery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"

	"github.com/user/mapic/internal/types"
	"github.com/user/mapic/pkg/imagegen"
)

// Downloader streams a remote image into w.
type Downloader interface {
	Download(ctx context.Context, imageURL string, w io.Writer) (int64, error)
}

// Gallery downloads generation images into an ImageStore.
type Gallery struct {
	source Downloader
	store  types.ImageStore
	logger *slog.Logger
}

func New(source Downloader, store types.ImageStore) *Gallery {
	return &Gallery{source: source, store: store, logger: slog.Default()}
}

// Save caches the image of gen for userID and returns its local path. An
// image already cached is not downloaded again. A pending generation has no
// image and is rejected with imagegen.ErrInvalidInput.
func (g *Gallery) Save(ctx context.Context, userID string, gen imagegen.Generation) (string, error) {
	if gen.Pending() {
		return "", fmt.Errorf("%w: generation %s has no image yet", imagegen.ErrInvalidInput, gen.ID)
	}
	uid, gid := types.UserID(userID), types.GenerationID(gen.ID)
	if p, ok := g.store.Lookup(uid, gid); ok {
		return p, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := g.source.Download(ctx, gen.PublicURL, pw)
		pw.CloseWithError(err)
	}()

	meta := &types.ImageMeta{
		GenerationID: gid,
		UserID:       uid,
		Prompt:       gen.Prompt,
		Model:        gen.Model,
		SourceURL:    gen.PublicURL,
		MimeType:     mimeFor(gen.PublicURL),
	}
	p, err := g.store.Put(ctx, meta, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("download image: %w", err)
	}

	g.logger.Info("image saved", "generation_id", gen.ID, "path", p, "bytes", meta.Bytes)
	return p, nil
}

func mimeFor(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return mime.TypeByExtension(path.Ext(u.Path))
}
