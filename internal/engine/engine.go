package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventstore"
	"github.com/roach88/grove/internal/remote"
)

// Status is the engine's sync state, suitable for a status indicator.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusSyncing       Status = "syncing"
	StatusSynced        Status = "synced"
	StatusOffline       Status = "offline"
	StatusPendingUpload Status = "pending_upload"
)

// SyncMode says how much of the remote log a sync requested.
type SyncMode string

const (
	// ModeIncremental pulls only events after the cached watermark.
	ModeIncremental SyncMode = "incremental"
	// ModeFull pulls the whole remote log and replaces the local one.
	ModeFull SyncMode = "full"
)

// SyncResult reports one SmartSync round.
type SyncResult struct {
	// Pulled is the number of events the remote returned.
	Pulled int
	Mode   SyncMode
	Err    error
}

// Config wires an Engine to its collaborators.
type Config struct {
	// Store is the in-memory event log. Required.
	Store *eventstore.Store

	// Cache persists the log between runs. Optional; without it every
	// start performs a full pull.
	Cache *cache.Cache

	// Remote is the authoritative store. Required.
	Remote remote.Remote

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine keeps the local event log in step with the remote store.
//
// Writes are two-phase: PushEvent and Submit append to the local Store and
// the durable retry queue before any network call, so the derived state
// reflects the write immediately. Delivery happens afterwards and a failure
// leaves the event queued for the next sync.
//
// Thread-safety model:
//   - SmartSync, PushEvent, Submit, RequestSync and the accessors are safe
//     from any goroutine.
//   - Run drains realtime deliveries, visibility syncs and background
//     deliveries. It must be called from exactly one goroutine.
//   - Store change listeners must not call PushEvent or Submit.
//
// Lock order is netMu, then logMu, then mu. mu is never held while calling
// into the Store, so listeners may read engine status.
type Engine struct {
	store  *eventstore.Store
	cache  *cache.Cache
	remote remote.Remote
	logger *slog.Logger
	queue  *jobQueue

	// netMu serializes remote rounds so pending and watermark updates apply
	// in the order the remote answered.
	netMu sync.Mutex

	// logMu serializes local log mutations with the cache writes that
	// follow them.
	logMu sync.Mutex

	mu        sync.Mutex
	status    Status
	watermark *time.Time
	pending   []string // client ids awaiting the remote, in creation order
	fullPull  bool     // cache was unusable; next sync must be full
	authErr   error

	syncQueued atomic.Bool
}

// New returns an Engine in StatusUninitialized. Call Start before syncing.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("engine: remote is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  cfg.Store,
		cache:  cfg.Cache,
		remote: cfg.Remote,
		logger: logger,
		queue:  newJobQueue(),
		status: StatusUninitialized,
	}, nil
}

// Start restores the local log, watermark and retry queue from the cache.
// An unreadable or corrupt cache is discarded and the next SmartSync pulls
// the full remote log. Start fails only if ctx is already done.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cache == nil {
		e.logger.Info("engine starting without local cache")
		return nil
	}

	snap, err := e.cache.Load(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrCorrupt) {
			e.logger.Warn("local cache corrupt, discarding", "error", err)
			if cerr := e.cache.Clear(ctx); cerr != nil {
				e.logger.Warn("clear local cache failed", "error", cerr)
			}
		} else {
			e.logger.Warn("local cache unreadable", "error", err)
		}
		e.mu.Lock()
		e.fullPull = true
		e.mu.Unlock()
		return nil
	}

	e.logMu.Lock()
	e.store.Merge(snap.Events)
	var pending []string
	for _, id := range snap.Pending {
		if e.store.Has(id) {
			pending = append(pending, id)
		}
	}
	e.mu.Lock()
	e.watermark = copyTime(snap.Watermark)
	e.pending = pending
	e.mu.Unlock()
	e.logMu.Unlock()

	e.logger.Info("engine started from local cache",
		"events", len(snap.Events),
		"pending", len(pending),
		"watermark", formatWatermark(snap.Watermark),
	)
	return nil
}

// SmartSync re-attempts the retry queue, then pulls. The pull is incremental
// after the cached watermark, or full when there is no watermark or the
// cache was discarded. Pulled events merge by client id; a full pull replaces
// the local log but keeps events still awaiting delivery.
//
// Network failure is reported in SyncResult.Err and leaves the cached state
// in place.
func (e *Engine) SmartSync(ctx context.Context) SyncResult {
	e.netMu.Lock()
	defer e.netMu.Unlock()

	e.setStatus(StatusSyncing)
	mode, since := e.plan()

	if err := e.flush(ctx); err != nil {
		e.logger.Warn("retry queue not flushed", "error", err)
		if IsUnauthorized(err) {
			e.settle(err)
			return SyncResult{Mode: mode, Err: err}
		}
	}

	pulled, err := e.remote.Pull(ctx, since)
	if err != nil {
		err = newSyncError("pull", err)
		e.settle(err)
		e.logger.Warn("pull failed", "mode", mode, "error", err)
		return SyncResult{Mode: mode, Err: err}
	}

	e.logMu.Lock()
	if mode == ModeFull {
		e.replaceFromRemote(pulled)
	} else {
		e.mergeFromRemote(pulled)
	}
	e.persistLocked(ctx)
	e.logMu.Unlock()

	e.settle(nil)
	e.logger.Info("sync complete",
		"mode", mode,
		"pulled", len(pulled),
		"pending", len(e.Pending()),
		"watermark", formatWatermark(e.Watermark()),
	)
	return SyncResult{Pulled: len(pulled), Mode: mode}
}

// PushEvent records ev locally and delivers it along with anything else in
// the retry queue. When delivery fails the event stays applied and queued,
// and the returned error matches ErrQueued. An event rejected by the remote
// is dropped from the queue and its error does not match ErrQueued.
func (e *Engine) PushEvent(ctx context.Context, ev event.Event) error {
	if err := e.record(ctx, ev); err != nil {
		return err
	}

	e.netMu.Lock()
	defer e.netMu.Unlock()

	err := e.flush(ctx)
	e.settlePush(err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, remote.ErrRejected):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrQueued, err)
	}
}

// Submit records ev locally and hands delivery to the Run loop.
func (e *Engine) Submit(ctx context.Context, ev event.Event) error {
	if err := e.record(ctx, ev); err != nil {
		return err
	}
	if !e.queue.Enqueue(job{kind: jobDeliver}) {
		return fmt.Errorf("%w: engine stopped", ErrQueued)
	}
	return nil
}

// SubscribeToRealtime opens the remote push channel. Each received event is
// merged on the Run loop; onEvent, if non-nil, is called there for events
// that were not already known.
func (e *Engine) SubscribeToRealtime(ctx context.Context, onEvent func(event.Event)) (remote.Subscription, error) {
	sub, err := e.remote.Subscribe(ctx, func(ev event.Event) {
		e.queue.Enqueue(job{kind: jobRealtime, event: ev, onEvent: onEvent})
	})
	if err != nil {
		err = newSyncError("subscribe", err)
		if IsUnauthorized(err) {
			e.settle(err)
		}
		return nil, err
	}
	e.logger.Info("realtime channel open")
	return sub, nil
}

// StartVisibilitySync requests a sync each time visible fires, until ctx is
// done or visible is closed.
func (e *Engine) StartVisibilitySync(ctx context.Context, visible <-chan struct{}) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-visible:
				if !ok {
					return
				}
				e.logger.Debug("visibility regained, requesting sync")
				e.RequestSync()
			}
		}
	}()
}

// RequestSync asks the Run loop for a SmartSync. Requests made while one is
// already queued coalesce. Returns false if the engine has been stopped.
func (e *Engine) RequestSync() bool {
	if !e.syncQueued.CompareAndSwap(false, true) {
		return true
	}
	if !e.queue.Enqueue(job{kind: jobSync}) {
		e.syncQueued.Store(false)
		return false
	}
	return true
}

// Run drains queued work until ctx is canceled or Stop is called.
//
// A failed job is logged and the loop continues: queued events stay in the
// retry queue and the next sync recovers.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine loop starting")

	for {
		j, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, j); err != nil {
				e.logger.Warn("job failed", "job", j.kind.String(), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue.
			if e.queue.Len() == 0 && e.stopped() {
				e.logger.Info("engine loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the work queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Store returns the event log the engine maintains.
func (e *Engine) Store() *eventstore.Store {
	return e.store
}

// Status returns the current sync state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Pending returns the client ids awaiting delivery, oldest first.
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pending)
}

// Watermark returns the newest confirmed server timestamp, or nil before
// the first successful pull.
func (e *Engine) Watermark() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyTime(e.watermark)
}

// Err returns the permanent failure that needs user action, currently only
// an authentication failure. It clears after the next successful sync.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authErr
}

func (e *Engine) process(ctx context.Context, j job) error {
	switch j.kind {
	case jobSync:
		e.syncQueued.Store(false)
		return e.SmartSync(ctx).Err

	case jobRealtime:
		e.mergeRealtime(ctx, j)
		return nil

	case jobDeliver:
		e.netMu.Lock()
		defer e.netMu.Unlock()
		err := e.flush(ctx)
		e.settlePush(err)
		return err

	default:
		return fmt.Errorf("unknown job kind: %d", j.kind)
	}
}

// record is phase one of a write: validate, append, enqueue, persist.
// Recording an event that is already in the log is a no-op.
func (e *Engine) record(ctx context.Context, ev event.Event) error {
	if err := event.Validate(ev); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	ev.ServerTimestamp = nil

	e.logMu.Lock()
	defer e.logMu.Unlock()

	if !e.store.Append(ev) {
		e.logger.Debug("event already recorded", "client_id", ev.ClientID)
		return nil
	}
	e.mu.Lock()
	e.pending = append(e.pending, ev.ClientID)
	e.mu.Unlock()

	e.persistLocked(ctx)
	e.logger.Debug("event recorded", "kind", ev.Kind, "client_id", ev.ClientID)
	return nil
}

// flush pushes the retry queue. A batch the remote rejects is retried one
// event at a time so a single bad event cannot block the rest. Caller holds
// netMu.
func (e *Engine) flush(ctx context.Context) error {
	batch := e.pendingEvents()
	if len(batch) == 0 {
		return nil
	}

	err := e.pushBatch(ctx, batch)
	if len(batch) == 1 || !errors.Is(err, remote.ErrRejected) {
		return err
	}

	for _, ev := range batch {
		if err := e.pushBatch(ctx, []event.Event{ev}); err != nil && !errors.Is(err, remote.ErrRejected) {
			return err
		}
	}
	return nil
}

func (e *Engine) pushBatch(ctx context.Context, batch []event.Event) error {
	res, err := e.remote.Push(ctx, batch)
	switch {
	case err == nil:
		e.logMu.Lock()
		e.store.Confirm(res.Confirmed)
		e.dropPending(batch)
		e.persistLocked(ctx)
		e.logMu.Unlock()
		e.logger.Debug("pushed events",
			"accepted", res.Accepted,
			"duplicates", res.Duplicates,
		)
		return nil

	case errors.Is(err, remote.ErrRejected) && len(batch) == 1:
		e.logger.Warn("remote rejected event, dropping it",
			"client_id", batch[0].ClientID,
			"kind", batch[0].Kind,
			"error", err,
		)
		e.logMu.Lock()
		e.store.Remove(batch[0].ClientID)
		e.dropPending(batch)
		e.persistLocked(ctx)
		e.logMu.Unlock()
		return newSyncError("push", err)

	default:
		return newSyncError("push", err)
	}
}

// mergeRealtime applies one event from the push channel. Realtime events do
// not move the watermark: delivery order across devices is not guaranteed,
// so the next incremental pull re-reads them and merge drops the repeats.
func (e *Engine) mergeRealtime(ctx context.Context, j job) {
	e.logMu.Lock()
	added := e.store.Merge([]event.Event{j.event})
	e.dropPending([]event.Event{j.event})
	if len(added) > 0 {
		e.persistLocked(ctx)
	}
	e.logMu.Unlock()

	if len(added) == 0 {
		e.logger.Debug("realtime event already known", "client_id", j.event.ClientID)
		return
	}
	e.logger.Debug("realtime event merged", "kind", j.event.Kind, "client_id", j.event.ClientID)
	if j.onEvent != nil {
		j.onEvent(j.event)
	}
}

// mergeFromRemote applies an incremental pull. Caller holds logMu.
func (e *Engine) mergeFromRemote(pulled []event.Event) {
	e.store.Merge(pulled)
	e.dropPending(pulled)

	e.mu.Lock()
	defer e.mu.Unlock()
	if latest := event.MaxServerTimestamp(pulled); latest != nil {
		if e.watermark == nil || latest.After(*e.watermark) {
			e.watermark = latest
		}
	}
}

// replaceFromRemote applies a full pull: the remote log plus any local event
// the remote has not seen yet. Caller holds logMu.
func (e *Engine) replaceFromRemote(pulled []event.Event) {
	e.dropPending(pulled)

	log := slices.Clone(pulled)
	var kept []string
	for _, id := range e.Pending() {
		if ev, ok := e.store.Get(id); ok {
			log = append(log, ev)
			kept = append(kept, id)
		}
	}
	e.store.Replace(log)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = kept
	e.watermark = event.MaxServerTimestamp(pulled)
	e.fullPull = false
}

// dropPending removes the client ids of events from the retry queue.
func (e *Engine) dropPending(events []event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return
	}
	done := make(map[string]struct{}, len(events))
	for _, ev := range events {
		done[ev.ClientID] = struct{}{}
	}
	e.pending = slices.DeleteFunc(e.pending, func(id string) bool {
		_, ok := done[id]
		return ok
	})
}

func (e *Engine) pendingEvents() []event.Event {
	ids := e.Pending()
	out := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := e.store.Get(id); ok {
			out = append(out, ev)
		}
	}
	return out
}

// persistLocked writes the current log to the cache. A write failure is
// logged and otherwise ignored: the remote stays authoritative. Caller holds
// logMu.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	snap := cache.Snapshot{
		Watermark: copyTime(e.watermark),
		Pending:   slices.Clone(e.pending),
	}
	e.mu.Unlock()
	snap.Events = e.store.Events()

	if err := e.cache.Save(ctx, snap); err != nil {
		e.logger.Warn("persist local cache failed", "error", err)
	}
}

func (e *Engine) plan() (SyncMode, *time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watermark == nil || e.fullPull {
		return ModeFull, nil
	}
	return ModeIncremental, copyTime(e.watermark)
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
}

// settle sets the status after a sync round.
func (e *Engine) settle(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case IsUnauthorized(err):
		e.authErr = err
		e.status = StatusOffline
	case err != nil:
		e.status = StatusOffline
	case len(e.pending) > 0:
		e.authErr = nil
		e.status = StatusPendingUpload
	default:
		e.authErr = nil
		e.status = StatusSynced
	}
}

// settlePush sets the status after a delivery attempt. A delivery never
// moves the engine out of uninitialized or offline; only a sync does.
func (e *Engine) settlePush(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case IsUnauthorized(err):
		e.authErr = err
		e.status = StatusOffline
	case e.status == StatusUninitialized || e.status == StatusOffline:
	case len(e.pending) > 0:
		e.status = StatusPendingUpload
	default:
		e.status = StatusSynced
	}
}

func (e *Engine) stopped() bool {
	q := e.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func formatWatermark(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return event.FormatTimestamp(*t)
}
