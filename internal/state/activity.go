package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/mapic/internal/types"
)

// ActivityStore is a JSONL-backed append-only journal of synchronizer outcomes.
// Entries are stored per user in activity/<userID>/activity.jsonl.
type ActivityStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.UserID]*sync.Mutex
	now   func() time.Time
}

// NewActivityStore creates a file-backed ActivityStore rooted at the given directory.
func NewActivityStore(root string) *ActivityStore {
	return &ActivityStore{
		root:  root,
		locks: make(map[types.UserID]*sync.Mutex),
		now:   time.Now,
	}
}

func (a *ActivityStore) getLock(userID types.UserID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lock, ok := a.locks[userID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	a.locks[userID] = lock
	return lock
}

func (a *ActivityStore) activityPath(userID types.UserID) string {
	return filepath.Join(a.root, "activity", sanitizeSegment(string(userID)), "activity.jsonl")
}

// count reads the journal and counts lines. Caller must hold the user lock.
func (a *ActivityStore) count(userID types.UserID) (int64, error) {
	f, err := os.Open(a.activityPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open activity file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan activity file: %w", err)
	}
	return count, nil
}

// Append adds an entry to the user's journal. ID, Seq and At are assigned
// when unset.
func (a *ActivityStore) Append(_ context.Context, entry *types.ActivityEntry) error {
	if entry.UserID == "" {
		return fmt.Errorf("append activity: empty user id")
	}
	lock := a.getLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(a.activityPath(entry.UserID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create activity dir: %w", err)
	}

	existing, err := a.count(entry.UserID)
	if err != nil {
		return err
	}
	entry.Seq = existing + 1
	if entry.ID == "" {
		entry.ID = types.NewEntryID()
	}
	if entry.At.IsZero() {
		entry.At = a.now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	f, err := os.OpenFile(a.activityPath(entry.UserID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write activity: %w", err)
	}

	return nil
}

// Tail returns the last N entries for the given user, oldest first.
func (a *ActivityStore) Tail(_ context.Context, userID types.UserID, limit int) ([]*types.ActivityEntry, error) {
	lock := a.getLock(userID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(a.activityPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open activity file: %w", err)
	}
	defer f.Close()

	var entries []*types.ActivityEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry types.ActivityEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal activity: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan activity file: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return entries, nil
}

// Count returns the number of entries for the given user.
func (a *ActivityStore) Count(_ context.Context, userID types.UserID) (int64, error) {
	lock := a.getLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return a.count(userID)
}
