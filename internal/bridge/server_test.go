package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/mapic/internal/identity"
	"github.com/user/mapic/internal/state"
	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/pkg/imagegen"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubService is an in-memory imagegen.Service.
type stubService struct {
	mu         sync.Mutex
	next       int
	history    map[string][]imagegen.Generation
	generateFn func(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error)
	deleteErr  error
}

func newStubService() *stubService {
	return &stubService{history: make(map[string][]imagegen.Generation)}
}

func (f *stubService) Generate(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error) {
	f.mu.Lock()
	fn := f.generateFn
	f.next++
	id := "g" + string(rune('0'+f.next))
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return imagegen.Generation{
		ID:        id,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Model:     req.Model,
		PublicURL: "https://cdn.example.com/" + id + ".png",
	}, nil
}

func (f *stubService) FetchHistory(_ context.Context, userID string) ([]imagegen.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]imagegen.Generation(nil), f.history[userID]...), nil
}

func (f *stubService) DeleteHistory(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

type fixture struct {
	svc  *stubService
	sync *synchronizer.Synchronizer
	srv  *Server
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	svc := newStubService()
	s := synchronizer.New(svc,
		synchronizer.WithRetryPolicy(&synchronizer.RetryPolicy{MaxAttempts: 1}),
		synchronizer.WithJournal(deps.Journal),
	)
	t.Cleanup(func() { s.Close() })
	deps.Core = s
	return &fixture{svc: svc, sync: s, srv: NewServer(deps)}
}

func (f *fixture) signIn(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.sync.SignIn(context.Background(), userID))
	require.Eventually(t, func() bool { return !f.sync.Snapshot().Loading }, 2*time.Second, 2*time.Millisecond)
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Deps{})
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, Deps{})
	f.signIn(t, "u1")

	w := f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "a red fox"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	gen := decode[imagegen.Generation](t, w)
	assert.Equal(t, "a red fox", gen.Prompt)
	assert.Equal(t, imagegen.DefaultModel, gen.Model)

	snap := decode[synchronizer.Snapshot](t, f.do(http.MethodGet, "/api/snapshot", nil))
	assert.Equal(t, []string{gen.ID}, snap.IDs())
	assert.Equal(t, gen.ID, snap.Selected)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("invalid JSON", func(t *testing.T) {
		f := newFixture(t, Deps{})
		req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{"))
		w := httptest.NewRecorder()
		f.srv.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("blank prompt", func(t *testing.T) {
		f := newFixture(t, Deps{})
		f.signIn(t, "u1")
		w := f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "   "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("signed out", func(t *testing.T) {
		f := newFixture(t, Deps{})
		w := f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "a cat"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("remote failure", func(t *testing.T) {
		f := newFixture(t, Deps{})
		f.svc.generateFn = func(context.Context, imagegen.GenerateRequest) (imagegen.Generation, error) {
			return imagegen.Generation{}, &imagegen.RemoteError{Op: "generate", Status: 500, Message: "model unavailable"}
		}
		f.signIn(t, "u1")

		w := f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "a cat"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.JSONEq(t, `{"error":"model unavailable"}`, w.Body.String())
	})

	t.Run("busy", func(t *testing.T) {
		f := newFixture(t, Deps{})
		release := make(chan struct{})
		f.svc.generateFn = func(_ context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error) {
			<-release
			return imagegen.Generation{ID: "slow", UserID: req.UserID, Prompt: req.Prompt}, nil
		}
		f.signIn(t, "u1")

		first := make(chan int, 1)
		go func() {
			first <- f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "first"}).Code
		}()
		require.Eventually(t, func() bool { return f.sync.Snapshot().Generating }, 2*time.Second, 2*time.Millisecond)

		w := f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "second"})
		assert.Equal(t, http.StatusConflict, w.Code)

		close(release)
		assert.Equal(t, http.StatusOK, <-first)
	})
}

func TestSelectAndNewSession(t *testing.T) {
	f := newFixture(t, Deps{})
	f.svc.history["u1"] = []imagegen.Generation{{ID: "g2"}, {ID: "g1"}}
	f.signIn(t, "u1")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/select/missing", nil).Code)

	w := f.do(http.MethodPost, "/api/select/g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "g1", f.sync.Snapshot().Selected)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/api/new", nil).Code)
	assert.Empty(t, f.sync.Snapshot().Selected)
	assert.Equal(t, []string{"g2", "g1"}, f.sync.Snapshot().IDs())
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Deps{})
	f.svc.history["u1"] = []imagegen.Generation{{ID: "g3"}, {ID: "g2"}, {ID: "g1"}}
	f.signIn(t, "u1")

	w := f.do(http.MethodDelete, "/api/history/g2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, []string{"g3", "g1"}, f.sync.Snapshot().IDs())
}

func TestDeleteRollsBack(t *testing.T) {
	f := newFixture(t, Deps{})
	f.svc.history["u1"] = []imagegen.Generation{{ID: "g3"}, {ID: "g2"}, {ID: "g1"}}
	f.svc.deleteErr = &imagegen.RemoteError{Op: "delete", Status: 500, Message: "failed to delete item"}
	f.signIn(t, "u1")

	w := f.do(http.MethodDelete, "/api/history/g2", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, []string{"g3", "g2", "g1"}, f.sync.Snapshot().IDs())
}

func TestSession(t *testing.T) {
	const secret = "bridge-secret"

	t.Run("user id", func(t *testing.T) {
		f := newFixture(t, Deps{})
		w := f.do(http.MethodPost, "/api/session", sessionRequest{UserID: "u1"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", f.sync.Snapshot().UserID)

		assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/session", nil).Code)
		assert.False(t, f.sync.Snapshot().SignedIn)
	})

	t.Run("access token", func(t *testing.T) {
		f := newFixture(t, Deps{Verifier: identity.NewVerifier(secret)})
		token, err := identity.IssueToken("u-token", secret, time.Hour)
		require.NoError(t, err)

		w := f.do(http.MethodPost, "/api/session", sessionRequest{AccessToken: token})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "u-token", decode[map[string]string](t, w)["user_id"])
		assert.Equal(t, "u-token", f.sync.Snapshot().UserID)
	})

	t.Run("bad token", func(t *testing.T) {
		f := newFixture(t, Deps{Verifier: identity.NewVerifier(secret)})
		token, err := identity.IssueToken("u-token", "other-secret", time.Hour)
		require.NoError(t, err)

		w := f.do(http.MethodPost, "/api/session", sessionRequest{AccessToken: token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, f.sync.Snapshot().SignedIn)
	})

	t.Run("token without verifier", func(t *testing.T) {
		f := newFixture(t, Deps{})
		w := f.do(http.MethodPost, "/api/session", sessionRequest{AccessToken: "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty user", func(t *testing.T) {
		f := newFixture(t, Deps{})
		w := f.do(http.MethodPost, "/api/session", sessionRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, Deps{})
	f.signIn(t, "u1")
	assert.Empty(t, f.sync.Snapshot().History)

	f.svc.mu.Lock()
	f.svc.history["u1"] = []imagegen.Generation{{ID: "g9"}}
	f.svc.mu.Unlock()

	w := f.do(http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"g9"}, decode[synchronizer.Snapshot](t, w).IDs())
}

func TestActivity(t *testing.T) {
	journal := state.NewActivityStore(t.TempDir())
	f := newFixture(t, Deps{Journal: journal})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/activity", nil).Code)

	f.signIn(t, "u1")
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/generate", generateRequest{Prompt: "a cat"}).Code)

	w := f.do(http.MethodGet, "/api/activity?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]map[string]any](t, w)
	require.NotEmpty(t, entries)
	assert.Equal(t, "generated", entries[len(entries)-1]["type"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/activity?limit=x", nil).Code)
}

func TestActivityWithoutJournal(t *testing.T) {
	f := newFixture(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/activity", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Deps{})
	f.do(http.MethodGet, "/health", nil)

	w := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mapic_bridge_requests_total")
}

func TestStream(t *testing.T) {
	f := newFixture(t, Deps{})
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first synchronizer.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.False(t, first.SignedIn)

	require.NoError(t, f.sync.SignIn(context.Background(), "u1"))

	for {
		var snap synchronizer.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		if snap.SignedIn && snap.UserID == "u1" {
			break
		}
	}
}
