package state

import (
	"errors"
	"fmt"

	"github.com/user/mapic/pkg/imagegen"
)

// ErrDuplicateID is returned when a record's id is already cached.
var ErrDuplicateID = errors.New("duplicate generation id")

// HistoryStore is the ordered, id-unique cache of one user's generations,
// newest first. Order is insertion order and is never re-derived from
// CreatedAt.
//
// HistoryStore is not safe for concurrent use; it is owned by a single
// goroutine.
type HistoryStore struct {
	records []imagegen.Generation
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Load replaces the cache with records in the order supplied. Later
// duplicates of an id are dropped.
func (h *HistoryStore) Load(records []imagegen.Generation) {
	seen := make(map[string]struct{}, len(records))
	out := make([]imagegen.Generation, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	h.records = out
}

// Clear empties the cache.
func (h *HistoryStore) Clear() {
	h.records = nil
}

// Prepend inserts record at the front.
func (h *HistoryStore) Prepend(record imagegen.Generation) error {
	if h.indexOf(record.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}
	h.records = append([]imagegen.Generation{record}, h.records...)
	return nil
}

// Remove deletes the record with id and returns it with the index it
// occupied. Removing an absent id is a no-op that returns ok == false.
func (h *HistoryStore) Remove(id string) (record imagegen.Generation, index int, ok bool) {
	i := h.indexOf(id)
	if i < 0 {
		return imagegen.Generation{}, -1, false
	}
	record = h.records[i]
	h.records = append(h.records[:i:i], h.records[i+1:]...)
	return record, i, true
}

// Restore re-inserts a previously removed record. A non-negative index is
// clamped to the current length; a negative index inserts at the front.
// Restoring an id that is already present leaves the cache unchanged and
// returns false.
func (h *HistoryStore) Restore(record imagegen.Generation, index int) bool {
	if h.indexOf(record.ID) >= 0 {
		return false
	}
	if index < 0 {
		index = 0
	}
	if index > len(h.records) {
		index = len(h.records)
	}
	h.records = append(h.records, imagegen.Generation{})
	copy(h.records[index+1:], h.records[index:])
	h.records[index] = record
	return true
}

// Contains reports whether id is cached.
func (h *HistoryStore) Contains(id string) bool {
	return h.indexOf(id) >= 0
}

// Get returns the record with id.
func (h *HistoryStore) Get(id string) (imagegen.Generation, bool) {
	i := h.indexOf(id)
	if i < 0 {
		return imagegen.Generation{}, false
	}
	return h.records[i], true
}

// Len returns the number of cached records.
func (h *HistoryStore) Len() int {
	return len(h.records)
}

// Snapshot returns a copy of the cache in order.
func (h *HistoryStore) Snapshot() []imagegen.Generation {
	out := make([]imagegen.Generation, len(h.records))
	copy(out, h.records)
	return out
}

func (h *HistoryStore) indexOf(id string) int {
	for i := range h.records {
		if h.records[i].ID == id {
			return i
		}
	}
	return -1
}
