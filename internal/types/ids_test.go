package types

import (
	"testing"
)

func TestNewEntryID(t *testing.T) {
	id := NewEntryID()
	if id == "" {
		t.Error("expected non-empty EntryID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestImageFileName(t *testing.T) {
	tests := []struct {
		id       GenerationID
		mimeType string
		expected string
	}{
		{"g1", "image/png", "gen-g1.png"},
		{"g1", "image/jpeg", "gen-g1.jpg"},
		{"g1", "image/webp", "gen-g1.webp"},
		{"g1", "image/jpeg; charset=binary", "gen-g1.jpg"},
		{"g1", "", "gen-g1.png"},
		{"g1", "application/octet-stream", "gen-g1.png"},
		{"../etc/passwd", "image/png", "gen-.._etc_passwd.png"},
	}
	for _, tt := range tests {
		if got := ImageFileName(tt.id, tt.mimeType); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}

func TestImageMetaFileName(t *testing.T) {
	if got := ImageMetaFileName("a/b"); got != "gen-a_b.json" {
		t.Errorf("expected gen-a_b.json, got %s", got)
	}
}
