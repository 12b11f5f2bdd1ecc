package synchronizer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/mapic/pkg/imagegen"
)

// fakeService is an in-memory imagegen.Service. Hooks, when set, replace
// the default behavior and may block to hold a call in flight.
type fakeService struct {
	mu       sync.Mutex
	history  map[string][]imagegen.Generation
	requests []imagegen.GenerateRequest
	deleted  []string

	generateFn func(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error)
	deleteFn   func(ctx context.Context, id string) error
	fetchFn    func(ctx context.Context, userID string) ([]imagegen.Generation, error)

	fetchCalls  atomic.Int32
	deleteCalls atomic.Int32
}

func newFakeService() *fakeService {
	return &fakeService{history: make(map[string][]imagegen.Generation)}
}

func (f *fakeService) Generate(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.generateFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return imagegen.Generation{ID: "g1", UserID: req.UserID, Prompt: req.Prompt, Model: req.Model}, nil
}

func (f *fakeService) FetchHistory(ctx context.Context, userID string) ([]imagegen.Generation, error) {
	f.fetchCalls.Add(1)
	if f.fetchFn != nil {
		return f.fetchFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]imagegen.Generation, len(f.history[userID]))
	copy(out, f.history[userID])
	return out, nil
}

func (f *fakeService) DeleteHistory(ctx context.Context, id string) error {
	f.deleteCalls.Add(1)
	if f.deleteFn != nil {
		if err := f.deleteFn(ctx, id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) setHistory(userID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[userID] = gens(userID, ids...)
}

func (f *fakeService) lastRequest() imagegen.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func gens(userID string, ids ...string) []imagegen.Generation {
	out := make([]imagegen.Generation, len(ids))
	for i, id := range ids {
		out[i] = genFor(userID, id)
	}
	return out
}

func genFor(userID, id string) imagegen.Generation {
	return imagegen.Generation{
		ID:        id,
		UserID:    userID,
		Prompt:    "prompt " + id,
		PublicURL: "https://cdn.example.com/" + id + ".png",
	}
}

func remoteErr(status int, msg string) error {
	return &imagegen.RemoteError{Op: "test", Status: status, Message: msg}
}

var errUnavailable = remoteErr(http.StatusServiceUnavailable, "unavailable")

// newTestSynchronizer starts a synchronizer signed in as userID with its
// history loaded.
func newTestSynchronizer(t *testing.T, svc *fakeService, userID string, opts ...Option) *Synchronizer {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(&RetryPolicy{MaxAttempts: 1})}, opts...)
	s := New(svc, opts...)
	t.Cleanup(func() { s.Close() })

	if userID != "" {
		require.NoError(t, s.SignIn(context.Background(), userID))
		waitFor(t, s, func(snap Snapshot) bool { return !snap.Loading })
	}
	return s
}

func waitFor(t *testing.T, s *Synchronizer, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Snapshot()) }, 2*time.Second, 2*time.Millisecond)
}

func pendingContains(snap Snapshot, id string) bool {
	for _, p := range snap.PendingDeletes {
		if p == id {
			return true
		}
	}
	return false
}
