package types

import (
	"strings"

	"github.com/google/uuid"
)

type UserID string
type GenerationID string
type EntryID string

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

var imageExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ImageExt returns the file extension for an image MIME type. Unknown and
// empty types map to ".png".
func ImageExt(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	if ext, ok := imageExts[strings.TrimSpace(base)]; ok {
		return ext
	}
	return ".png"
}

// ImageFileName returns the file name used when saving a generation locally.
func ImageFileName(id GenerationID, mimeType string) string {
	return "gen-" + sanitize(string(id)) + ImageExt(mimeType)
}

// ImageMetaFileName returns the name of the metadata sidecar for id.
func ImageMetaFileName(id GenerationID) string {
	return "gen-" + sanitize(string(id)) + ".json"
}

// sanitize keeps path separators out of ids used as file names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}
