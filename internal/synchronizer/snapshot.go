package synchronizer

import (
	"github.com/user/mapic/pkg/imagegen"
)

// Snapshot is an immutable view of the synchronizer's state after one
// transition. History and PendingDeletes are shared between subscribers and
// must not be modified.
type Snapshot struct {
	Seq            uint64                `json:"seq"`
	UserID         string                `json:"user_id,omitempty"`
	SignedIn       bool                  `json:"signed_in"`
	History        []imagegen.Generation `json:"history"`
	Selected       string                `json:"selected,omitempty"`
	Generating     bool                  `json:"generating"`
	Loading        bool                  `json:"loading"`
	PendingDeletes []string              `json:"pending_deletes"`
}

// SelectedGeneration returns the selected record, if it is in History.
func (s Snapshot) SelectedGeneration() (imagegen.Generation, bool) {
	if s.Selected == "" {
		return imagegen.Generation{}, false
	}
	return s.Find(s.Selected)
}

// Find returns the record with id.
func (s Snapshot) Find(id string) (imagegen.Generation, bool) {
	for _, g := range s.History {
		if g.ID == id {
			return g, true
		}
	}
	return imagegen.Generation{}, false
}

// IDs returns the history ids in order.
func (s Snapshot) IDs() []string {
	out := make([]string, len(s.History))
	for i, g := range s.History {
		out[i] = g.ID
	}
	return out
}
