package types

import (
	"time"
)

// Activity entry types.
const (
	ActivityGenerated        = "generated"
	ActivityGenerateFailed   = "generate_failed"
	ActivityDeleted          = "deleted"
	ActivityDeleteRolledBack = "delete_rolled_back"
	ActivitySignedIn         = "signed_in"
	ActivitySignedOut        = "signed_out"
)

type ActivityEntry struct {
	ID           EntryID      `json:"id"`
	UserID       UserID       `json:"user_id"`
	Seq          int64        `json:"seq"`
	Type         string       `json:"type"`
	GenerationID GenerationID `json:"generation_id,omitempty"`
	Prompt       string       `json:"prompt,omitempty"`
	Model        string       `json:"model,omitempty"`
	Error        string       `json:"error,omitempty"`
	At           time.Time    `json:"at"`
}

type ImageMeta struct {
	GenerationID GenerationID `json:"generation_id"`
	UserID       UserID       `json:"user_id"`
	Prompt       string       `json:"prompt"`
	Model        string       `json:"model,omitempty"`
	SourceURL    string       `json:"source_url"`
	Bytes        int64        `json:"bytes"`
	SavedAt      time.Time    `json:"saved_at"`
	MimeType     string       `json:"mime_type,omitempty"`
	FileName     string       `json:"file_name,omitempty"`
}
