package types

import (
	"context"
	"io"
)

type ActivityLog interface {
	Append(ctx context.Context, entry *ActivityEntry) error
	Tail(ctx context.Context, userID UserID, limit int) ([]*ActivityEntry, error)
	Count(ctx context.Context, userID UserID) (int64, error)
}

type ImageStore interface {
	Put(ctx context.Context, meta *ImageMeta, r io.Reader) (string, error)
	Meta(ctx context.Context, userID UserID, id GenerationID) (*ImageMeta, error)
	Lookup(userID UserID, id GenerationID) (string, bool)
}
