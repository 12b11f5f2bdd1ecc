// Package synchronizer keeps a user's generation history and current
// selection consistent with the remote image service.
//
// A single actor goroutine owns the HistoryStore and SelectionState and runs
// every transition to completion. Remote calls run in their own goroutines
// and post their outcome back to the actor, so reconciliations never
// overlap and no locks guard the state holders.
package synchronizer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/user/mapic/internal/delivery"
	"github.com/user/mapic/internal/metrics"
	"github.com/user/mapic/internal/state"
	"github.com/user/mapic/internal/types"
	"github.com/user/mapic/pkg/imagegen"
)

const (
	// DefaultMaxConcurrentDeletes bounds remote deletes in flight.
	DefaultMaxConcurrentDeletes = 4

	cmdBuffer = 64
)

// pendingDelete is an optimistically removed record awaiting the remote
// delete. index is the gap in live history it would be restored into, kept
// current as history changes; -1 means the position is unknown and rollback
// inserts at the front. Records sharing a gap are ordered by slot.
type pendingDelete struct {
	record imagegen.Generation
	index  int
	slot   int
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = logger }
}

// WithJournal records reconciliation outcomes to an activity log.
func WithJournal(journal types.ActivityLog) Option {
	return func(s *Synchronizer) { s.journal = journal }
}

// WithMaxConcurrentDeletes bounds the number of remote deletes in flight.
func WithMaxConcurrentDeletes(n int64) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxDeletes = n
		}
	}
}

// WithRetryPolicy sets the retry policy for history fetches.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(s *Synchronizer) { s.retry = p }
}

// WithClock sets the clock used for backoff and timing.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Synchronizer) { s.clock = clock }
}

// Synchronizer is the single writer of a user's history cache and selection.
type Synchronizer struct {
	service    imagegen.Service
	logger     *slog.Logger
	journal    types.ActivityLog
	clock      clockwork.Clock
	retry      *RetryPolicy
	maxDeletes int64

	fetches   singleflight.Group
	dispatch  *dispatcher
	observers *delivery.Registry[Snapshot]
	current   atomic.Pointer[Snapshot]

	cmdCh     chan command
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run goroutine.
	history    *state.HistoryStore
	selection  state.SelectionState
	userID     string
	epoch      uint64
	generating bool
	loading    bool
	pending    map[string]*pendingDelete
	inflight   int
	closing    bool
	seq        uint64
}

// New creates a Synchronizer for service and starts its actor goroutine.
// No user is signed in until SignIn is called.
func New(service imagegen.Service, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		service:    service,
		logger:     slog.Default(),
		clock:      clockwork.NewRealClock(),
		retry:      DefaultRetryPolicy(),
		maxDeletes: DefaultMaxConcurrentDeletes,
		cmdCh:      make(chan command, cmdBuffer),
		done:       make(chan struct{}),
		history:    state.NewHistoryStore(),
		pending:    make(map[string]*pendingDelete),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.retry = s.retry.WithClock(s.clock)
	s.retry.OnRetry = func(attempt int, err error) {
		metrics.HistoryFetchRetries.Inc()
		s.logger.Warn("retrying history fetch", "attempt", attempt, "error", err)
	}
	s.dispatch = newDispatcher(s.maxDeletes, s.clock)
	s.observers = delivery.NewRegistry[Snapshot](func(n int) {
		metrics.Observers.Set(float64(n))
	})

	s.publish()
	go s.run()
	return s
}

// SubmitGeneration validates prompt and model, then asks the service for a
// new image. On success the record is prepended to history and selected.
// An empty model selects imagegen.DefaultModel.
//
// If ctx is done before the service answers, SubmitGeneration returns
// ctx.Err() but the dispatched call still reconciles when it completes.
func (s *Synchronizer) SubmitGeneration(ctx context.Context, prompt, model string) (imagegen.Generation, error) {
	if err := imagegen.ValidatePrompt(prompt); err != nil {
		metrics.GenerationsTotal.WithLabelValues("invalid").Inc()
		return imagegen.Generation{}, err
	}
	if model == "" {
		model = imagegen.DefaultModel
	}
	if err := imagegen.ValidateModel(model); err != nil {
		metrics.GenerationsTotal.WithLabelValues("invalid").Inc()
		return imagegen.Generation{}, err
	}

	reply := make(chan generateResult, 1)
	if err := s.send(ctx, submitCmd{ctx: ctx, prompt: prompt, model: model, reply: reply}); err != nil {
		return imagegen.Generation{}, err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return imagegen.Generation{}, err
	}
	return res.gen, res.err
}

// DeleteGeneration removes id from history immediately and deletes it
// remotely. If the remote delete fails the record is restored and the
// failure returned. Deleting an id that is not in history succeeds without
// contacting the service.
func (s *Synchronizer) DeleteGeneration(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, deleteCmd{ctx: ctx, id: id, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, s, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// SelectFromHistory selects a record already in history.
func (s *Synchronizer) SelectFromHistory(id string) error {
	return s.call(context.Background(), func(reply chan error) command {
		return selectCmd{id: id, reply: reply}
	})
}

// StartNewSession clears the selection. History and any pending generation
// are unaffected.
func (s *Synchronizer) StartNewSession() error {
	return s.call(context.Background(), func(reply chan error) command {
		return newSessionCmd{reply: reply}
	})
}

// SignIn binds the synchronizer to userID. A different user clears history
// and selection, then loads the new user's history in the background.
// Signing in as the current user is a no-op.
func (s *Synchronizer) SignIn(ctx context.Context, userID string) error {
	return s.call(ctx, func(reply chan error) command {
		return signInCmd{ctx: ctx, userID: userID, reply: reply}
	})
}

// SignOut clears history, selection and the current user.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	return s.call(ctx, func(reply chan error) command {
		return signOutCmd{reply: reply}
	})
}

// Refresh re-fetches the current user's history and waits for it to load.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	return s.call(ctx, func(reply chan error) command {
		return refreshCmd{ctx: ctx, reply: reply}
	})
}

// Snapshot returns the state after the most recent transition.
func (s *Synchronizer) Snapshot() Snapshot {
	return *s.current.Load()
}

// Subscribe returns a channel that receives a snapshot after every
// transition, starting with the current one. A slow subscriber only sees
// the latest snapshot. cancel unregisters it.
func (s *Synchronizer) Subscribe() (<-chan Snapshot, func()) {
	return s.observers.Subscribe()
}

// Close stops accepting operations, waits for dispatched calls to reconcile,
// then stops the actor and closes every subscription.
func (s *Synchronizer) Close() error {
	s.closeOnce.Do(func() {
		select {
		case s.cmdCh <- closeCmd{}:
		case <-s.done:
		}
	})
	<-s.done
	s.dispatch.Wait()
	s.observers.Close()
	return nil
}

// WaitIdle blocks until no remote call is in flight, or timeout expires.
func (s *Synchronizer) WaitIdle(timeout time.Duration) bool {
	return s.dispatch.WaitIdle(timeout)
}

func (s *Synchronizer) send(ctx context.Context, cmd command) error {
	select {
	case s.cmdCh <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands a completion from a dispatched call back to the actor. It is
// dropped if the actor has already exited.
func (s *Synchronizer) post(cmd command) {
	select {
	case s.cmdCh <- cmd:
	case <-s.done:
	}
}

func (s *Synchronizer) call(ctx context.Context, build func(chan error) command) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, build(reply)); err != nil {
		return err
	}
	err, waitErr := await(ctx, s, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// await waits for the actor's reply. A reply sent just before the actor
// exited still wins over ErrClosed.
func await[T any](ctx context.Context, s *Synchronizer, reply <-chan T) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, ErrClosed
		}
	}
}

func (s *Synchronizer) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("synchronizer panic recovered", "panic", r)
		}
	}()

	for {
		cmd := <-s.cmdCh
		switch c := cmd.(type) {
		case submitCmd:
			s.handleSubmit(c)
		case generateDoneCmd:
			s.handleGenerateDone(c)
		case deleteCmd:
			s.handleDelete(c)
		case deleteDoneCmd:
			s.handleDeleteDone(c)
		case selectCmd:
			s.handleSelect(c)
		case newSessionCmd:
			s.selection.Clear()
			s.publish()
			c.reply <- nil
		case signInCmd:
			s.handleSignIn(c)
		case signOutCmd:
			s.handleSignOut(c)
		case refreshCmd:
			s.handleRefresh(c)
		case fetchDoneCmd:
			s.handleFetchDone(c)
		case closeCmd:
			s.closing = true
			s.logger.Debug("synchronizer closing", "in_flight", s.inflight)
		default:
			s.logger.Warn("synchronizer received unknown command", "command_type", fmt.Sprintf("%T", cmd))
		}

		if s.closing && s.inflight == 0 {
			return
		}
	}
}

func (s *Synchronizer) handleSubmit(c submitCmd) {
	var err error
	switch {
	case s.closing:
		err = ErrClosed
	case s.userID == "":
		err = ErrSignedOut
	case s.generating:
		err = ErrBusy
		metrics.GenerationsTotal.WithLabelValues("busy").Inc()
	}
	if err != nil {
		c.reply <- generateResult{err: err}
		return
	}

	s.generating = true
	s.selection.Clear()
	s.publish()

	req := imagegen.GenerateRequest{Prompt: c.prompt, UserID: s.userID, Model: c.model}
	epoch := s.epoch
	ctx := context.WithoutCancel(c.ctx)
	started := s.clock.Now()
	s.inflight++

	s.logger.Info("generation dispatched", "user_id", req.UserID, "model", req.Model)
	s.dispatch.Go(func() {
		gen, err := s.service.Generate(ctx, req)
		s.post(generateDoneCmd{epoch: epoch, req: req, gen: gen, err: err, started: started, reply: c.reply})
	})
}

func (s *Synchronizer) handleGenerateDone(c generateDoneCmd) {
	s.inflight--
	s.generating = false
	metrics.GenerationDuration.Observe(s.clock.Since(c.started).Seconds())

	res := s.reconcileGeneration(c)
	s.publish()
	c.reply <- res
}

func (s *Synchronizer) reconcileGeneration(c generateDoneCmd) generateResult {
	entry := types.ActivityEntry{
		UserID: types.UserID(c.req.UserID),
		Prompt: c.req.Prompt,
		Model:  c.req.Model,
	}

	if c.err != nil {
		s.logger.Warn("generation failed", "user_id", c.req.UserID, "model", c.req.Model, "error", c.err)
		metrics.GenerationsTotal.WithLabelValues("failed").Inc()
		entry.Type = types.ActivityGenerateFailed
		entry.Error = imagegen.UserMessage(c.err)
		s.record(entry)
		return generateResult{err: fmt.Errorf("generate: %w", c.err)}
	}

	entry.Type = types.ActivityGenerated
	entry.GenerationID = types.GenerationID(c.gen.ID)

	if c.epoch != s.epoch {
		s.logger.Info("generation completed for a previous session, not applied", "id", c.gen.ID, "user_id", c.req.UserID)
		metrics.GenerationsTotal.WithLabelValues("stale").Inc()
		s.record(entry)
		return generateResult{gen: c.gen}
	}

	if err := s.history.Prepend(c.gen); err != nil {
		s.logger.Error("service returned a duplicate generation id", "id", c.gen.ID, "error", err)
		metrics.GenerationsTotal.WithLabelValues("duplicate").Inc()
		return generateResult{err: fmt.Errorf("generate: %w", err)}
	}
	s.pendingInserted(0)
	s.selection.Select(c.gen.ID)

	s.logger.Info("generation completed", "id", c.gen.ID, "user_id", c.req.UserID, "duration", s.clock.Since(c.started))
	metrics.GenerationsTotal.WithLabelValues("ok").Inc()
	s.record(entry)
	return generateResult{gen: c.gen}
}

func (s *Synchronizer) handleDelete(c deleteCmd) {
	if s.closing {
		c.reply <- ErrClosed
		return
	}

	record, index, ok := s.history.Remove(c.id)
	if !ok {
		metrics.DeletesTotal.WithLabelValues("noop").Inc()
		c.reply <- nil
		return
	}
	slot := s.pendingRemoved(index)
	s.selection.ClearIfMatches(c.id)
	s.pending[c.id] = &pendingDelete{record: record, index: index, slot: slot}
	s.publish()

	epoch, userID, id := s.epoch, s.userID, c.id
	ctx := context.WithoutCancel(c.ctx)
	s.inflight++

	s.logger.Debug("delete dispatched", "id", id, "user_id", userID)
	s.dispatch.GoDelete(func() {
		err := s.service.DeleteHistory(ctx, id)
		s.post(deleteDoneCmd{epoch: epoch, userID: userID, id: id, err: err, reply: c.reply})
	})
}

func (s *Synchronizer) handleDeleteDone(c deleteDoneCmd) {
	s.inflight--

	entry := types.ActivityEntry{
		UserID:       types.UserID(c.userID),
		GenerationID: types.GenerationID(c.id),
	}

	if c.epoch != s.epoch {
		if c.err != nil {
			s.logger.Warn("delete failed for a previous session", "id", c.id, "user_id", c.userID, "error", c.err)
			entry.Type = types.ActivityDeleteRolledBack
			entry.Error = imagegen.UserMessage(c.err)
			c.err = fmt.Errorf("delete: %w", c.err)
		} else {
			entry.Type = types.ActivityDeleted
		}
		s.record(entry)
		c.reply <- c.err
		return
	}

	p := s.pending[c.id]
	delete(s.pending, c.id)

	if c.err == nil {
		s.logger.Info("generation deleted", "id", c.id, "user_id", c.userID)
		metrics.DeletesTotal.WithLabelValues("ok").Inc()
		entry.Type = types.ActivityDeleted
		s.record(entry)
		s.publish()
		c.reply <- nil
		return
	}

	if p != nil {
		s.restorePending(p)
	}

	s.logger.Warn("delete failed, restored", "id", c.id, "user_id", c.userID, "error", c.err)
	metrics.DeletesTotal.WithLabelValues("rolled_back").Inc()
	entry.Type = types.ActivityDeleteRolledBack
	entry.Error = imagegen.UserMessage(c.err)
	s.record(entry)
	s.publish()
	c.reply <- fmt.Errorf("delete: %w", c.err)
}

func (s *Synchronizer) handleSelect(c selectCmd) {
	if !s.history.Contains(c.id) {
		c.reply <- fmt.Errorf("%w: %s", ErrNotFound, c.id)
		return
	}
	s.selection.Select(c.id)
	s.publish()
	c.reply <- nil
}

func (s *Synchronizer) handleSignIn(c signInCmd) {
	switch {
	case s.closing:
		c.reply <- ErrClosed
		return
	case c.userID == "":
		c.reply <- fmt.Errorf("%w: empty user id", ErrInvalidInput)
		return
	case c.userID == s.userID:
		c.reply <- nil
		return
	}

	if s.userID != "" {
		s.record(types.ActivityEntry{UserID: types.UserID(s.userID), Type: types.ActivitySignedOut})
	}
	s.resetSession()
	s.userID = c.userID
	s.logger.Info("signed in", "user_id", s.userID)
	s.record(types.ActivityEntry{UserID: types.UserID(s.userID), Type: types.ActivitySignedIn})

	s.startFetch(c.ctx, nil)
	s.publish()
	c.reply <- nil
}

func (s *Synchronizer) handleSignOut(c signOutCmd) {
	if s.userID == "" {
		c.reply <- nil
		return
	}
	prev := s.userID
	s.resetSession()
	s.logger.Info("signed out", "user_id", prev)
	s.record(types.ActivityEntry{UserID: types.UserID(prev), Type: types.ActivitySignedOut})
	s.publish()
	c.reply <- nil
}

func (s *Synchronizer) handleRefresh(c refreshCmd) {
	switch {
	case s.closing:
		c.reply <- ErrClosed
		return
	case s.userID == "":
		c.reply <- ErrSignedOut
		return
	}
	s.startFetch(c.ctx, c.reply)
	s.publish()
}

// resetSession forgets everything tied to the current user. Outcomes of
// calls dispatched before the reset are not applied afterwards.
func (s *Synchronizer) resetSession() {
	s.history.Clear()
	s.selection.Clear()
	s.userID = ""
	s.loading = false
	s.pending = make(map[string]*pendingDelete)
	s.epoch++
}

func (s *Synchronizer) startFetch(ctx context.Context, reply chan error) {
	s.loading = true
	epoch, userID := s.epoch, s.userID
	ctx = context.WithoutCancel(ctx)
	s.inflight++

	s.dispatch.Go(func() {
		records, err := s.fetch(ctx, userID)
		s.post(fetchDoneCmd{epoch: epoch, userID: userID, records: records, err: err, reply: reply})
	})
}

// fetch loads history with retries. Concurrent fetches for the same user
// share one request.
func (s *Synchronizer) fetch(ctx context.Context, userID string) ([]imagegen.Generation, error) {
	v, err, _ := s.fetches.Do(userID, func() (any, error) {
		var records []imagegen.Generation
		err := s.retry.Execute(ctx, func() error {
			var err error
			records, err = s.service.FetchHistory(ctx, userID)
			return err
		})
		return records, err
	})
	records, _ := v.([]imagegen.Generation)
	return records, err
}

func (s *Synchronizer) handleFetchDone(c fetchDoneCmd) {
	s.inflight--

	if c.epoch != s.epoch {
		metrics.HistoryFetchesTotal.WithLabelValues("stale").Inc()
		s.logger.Debug("discarding history for a previous session", "user_id", c.userID)
		if c.reply != nil {
			c.reply <- c.err
		}
		return
	}

	s.loading = false
	if c.err != nil {
		s.logger.Warn("history fetch failed", "user_id", c.userID, "error", c.err)
		metrics.HistoryFetchesTotal.WithLabelValues("error").Inc()
		s.publish()
		if c.reply != nil {
			c.reply <- fmt.Errorf("fetch history: %w", c.err)
		}
		return
	}

	// Records with a delete in flight stay hidden until it resolves.
	records := make([]imagegen.Generation, 0, len(c.records))
	for _, r := range c.records {
		if _, ok := s.pending[r.ID]; !ok {
			records = append(records, r)
		}
	}
	s.history.Load(records)
	for _, p := range s.pending {
		p.index = -1
	}
	if cur := s.selection.Current(); cur != "" && !s.history.Contains(cur) {
		s.selection.Clear()
	}

	s.logger.Debug("history loaded", "user_id", c.userID, "count", s.history.Len())
	metrics.HistoryFetchesTotal.WithLabelValues("ok").Inc()
	s.publish()
	if c.reply != nil {
		c.reply <- nil
	}
}

// pendingInserted moves pending gaps at or after at past a record inserted
// ahead of them.
func (s *Synchronizer) pendingInserted(at int) {
	for _, p := range s.pending {
		if p.index >= at {
			p.index++
		}
	}
}

// pendingRemoved merges the gaps around a record removed from index at and
// returns the slot the removed record takes in the merged gap. Records
// already in gap at preceded it; those in gap at+1 followed it.
func (s *Synchronizer) pendingRemoved(at int) int {
	slot := 0
	for _, p := range s.pending {
		if p.index == at && p.slot >= slot {
			slot = p.slot + 1
		}
	}
	for _, p := range s.pending {
		switch {
		case p.index == at+1:
			p.index = at
			p.slot += slot + 1
		case p.index > at+1:
			p.index--
		}
	}
	return slot
}

// restorePending reinserts p into history and splits its gap: pending
// records that followed p move to the gap after it.
func (s *Synchronizer) restorePending(p *pendingDelete) {
	at := p.index
	if at < 0 || at > s.history.Len() {
		if at > s.history.Len() {
			at = s.history.Len()
		} else {
			at = 0
		}
		if s.history.Restore(p.record, at) {
			s.pendingInserted(at)
		}
		return
	}
	if !s.history.Restore(p.record, at) {
		return
	}
	for _, q := range s.pending {
		switch {
		case q.index == at && q.slot > p.slot:
			q.index++
		case q.index > at:
			q.index++
		}
	}
}

func (s *Synchronizer) publish() {
	s.seq++

	pending := make([]string, 0, len(s.pending))
	for id := range s.pending {
		pending = append(pending, id)
	}
	sort.Strings(pending)

	snap := Snapshot{
		Seq:            s.seq,
		UserID:         s.userID,
		SignedIn:       s.userID != "",
		History:        s.history.Snapshot(),
		Selected:       s.selection.Current(),
		Generating:     s.generating,
		Loading:        s.loading,
		PendingDeletes: pending,
	}
	s.current.Store(&snap)
	s.observers.Publish(snap)
	metrics.PendingDeletes.Set(float64(len(pending)))
}

func (s *Synchronizer) record(entry types.ActivityEntry) {
	if s.journal == nil || entry.UserID == "" {
		return
	}
	if err := s.journal.Append(context.Background(), &entry); err != nil {
		s.logger.Warn("failed to record activity", "type", entry.Type, "error", err)
	}
}
