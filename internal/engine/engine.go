// Package engine implements the synchronization core: folder discovery,
// object-store inventory, timestamp-based change detection, and resilient
// per-document sync with partial-failure isolation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parchmint/quipmirror/internal/quip"
	"github.com/parchmint/quipmirror/internal/telemetry"
)

// State names the stage a run is in. Each run starts from StateIdle with
// empty internal maps; no state survives across runs.
type State string

// Run states, in order.
const (
	StateIdle         State = "idle"
	StateDiscovering  State = "discovering"
	StateInventorying State = "inventorying"
	StateDiffing      State = "diffing_changes"
	StateSyncing      State = "syncing"
	StateDone         State = "done"
)

// SourceClient is the document-source capability the engine consumes.
// Implemented by *quip.Client; tests substitute fakes.
type SourceClient interface {
	DiscoverAllThreads(ctx context.Context, rootFolderIDs []string) (*quip.ThreadSet, error)
	GetThreadContent(ctx context.Context, threadID string) (string, error)
}

// ObjectStore is the destination-store capability the engine consumes.
// Implemented by *store.Client; tests substitute fakes.
type ObjectStore interface {
	ListObjects(ctx context.Context) (map[string]time.Time, error)
	UploadDocument(ctx context.Context, key, content string, metadata map[string]string) error
	GenerateObjectKey(link string) string
}

// Config holds the inputs for creating an Engine.
type Config struct {
	Source        SourceClient
	Store         ObjectStore
	CorrelationID string
	// Workers bounds sync-stage parallelism. Values below 1 mean
	// sequential. Results are merged in input order regardless.
	Workers int
	Logger  *slog.Logger
	Metrics telemetry.Recorder
}

// Engine orchestrates one sync run: discover -> inventory -> diff -> sync.
// It owns the run's working state (discovered threads and store inventory)
// and discards it during end-of-run teardown. An Engine is not safe for
// concurrent runs; the invoking scheduler must serialize them.
type Engine struct {
	source        SourceClient
	store         ObjectStore
	correlationID string
	workers       int
	logger        *slog.Logger
	metrics       telemetry.Recorder

	state      State
	discovered *quip.ThreadSet
	inventory  map[string]time.Time
}

// New creates an Engine in StateIdle.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.Noop()
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		source:        cfg.Source,
		store:         cfg.Store,
		correlationID: cfg.CorrelationID,
		workers:       workers,
		logger:        logger.With(slog.String("correlation_id", cfg.CorrelationID)),
		metrics:       metrics,
		state:         StateIdle,
		discovered:    quip.NewThreadSet(),
		inventory:     make(map[string]time.Time),
	}
}

// State returns the engine's current run state.
func (e *Engine) State() State {
	return e.state
}

// DiscoverThreads delegates recursive discovery to the source client and
// stores the result as the run's discovery state. Per-folder failures are
// absorbed inside discovery; an error here is fatal for the run.
func (e *Engine) DiscoverThreads(ctx context.Context, folderIDs []string) (*quip.ThreadSet, error) {
	e.state = StateDiscovering
	start := time.Now()

	e.logger.Info("starting thread discovery", slog.Int("folders", len(folderIDs)))

	discovered, err := e.source.DiscoverAllThreads(ctx, folderIDs)
	if err != nil {
		e.logger.Error("thread discovery failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		e.metrics.Count("ThreadDiscoveryErrors", 1)

		return nil, fmt.Errorf("discovering threads: %w", err)
	}

	e.discovered = discovered

	e.logger.Info("thread discovery completed",
		slog.Int("threads", discovered.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return discovered, nil
}

// BuildInventory enumerates the destination store and keeps the key to
// last-modified mapping as the run's inventory. An error here is fatal
// for the run.
func (e *Engine) BuildInventory(ctx context.Context) (map[string]time.Time, error) {
	e.state = StateInventorying

	inventory, err := e.store.ListObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("building inventory: %w", err)
	}

	e.inventory = inventory

	return inventory, nil
}

// DetectChanges compares every discovered thread against the inventory
// and returns the IDs that need syncing, in discovery order. A thread
// needs sync when its derived key is absent from the inventory, or when
// its modification timestamp is strictly newer than the stored object's.
// Equal timestamps do not trigger a re-sync. Non-syncable kinds are
// counted as skipped and never compared.
func (e *Engine) DetectChanges(threads *quip.ThreadSet, inventory map[string]time.Time) ChangeSet {
	e.state = StateDiffing
	start := time.Now()

	e.logger.Info("starting change detection",
		slog.Int("threads", threads.Len()),
		slog.Int("inventory_objects", len(inventory)),
	)

	e.inventory = inventory

	var cs ChangeSet

	for _, id := range threads.IDs() {
		meta, _ := threads.Get(id)

		if !meta.Kind.Syncable() {
			cs.SpreadsheetsSkipped++

			continue
		}

		cs.DocumentsProcessed++

		key := e.store.GenerateObjectKey(meta.Link)

		stored, exists := inventory[key]
		if !exists {
			cs.NeedsSync = append(cs.NeedsSync, id)
			cs.NewDocuments++
			e.logger.Debug("new document detected",
				slog.String("thread_id", id),
				slog.String("key", key),
			)

			continue
		}

		// Strictly newer source timestamp means changed; equal means
		// unchanged. Both sides are compared as naive UTC.
		if meta.UpdatedAt().After(stored.UTC()) {
			cs.NeedsSync = append(cs.NeedsSync, id)
			cs.UpdatedDocuments++
			e.logger.Debug("updated document detected",
				slog.String("thread_id", id),
				slog.String("key", key),
			)
		} else {
			cs.UnchangedDocuments++
		}
	}

	e.logger.Info("change detection completed",
		slog.Int("needs_sync", len(cs.NeedsSync)),
		slog.Int("new", cs.NewDocuments),
		slog.Int("updated", cs.UpdatedDocuments),
		slog.Int("unchanged", cs.UnchangedDocuments),
		slog.Int("spreadsheets_skipped", cs.SpreadsheetsSkipped),
		slog.Duration("elapsed", time.Since(start)),
	)

	e.metrics.Duration("ChangeDetectionDuration", time.Since(start))
	e.metrics.Count("DocumentsNeedingSync", float64(len(cs.NeedsSync)))
	e.metrics.Count("NewDocuments", float64(cs.NewDocuments))
	e.metrics.Count("UpdatedDocuments", float64(cs.UpdatedDocuments))
	e.metrics.Count("UnchangedDocuments", float64(cs.UnchangedDocuments))
	e.metrics.Count("SpreadsheetsSkipped", float64(cs.SpreadsheetsSkipped))

	return cs
}

// docOutcome is the per-document result slot for the sync loop. Slots are
// merged in input order so counters and the error list stay deterministic
// even with parallel workers.
type docOutcome struct {
	processed  bool
	uploaded   bool
	skippedDoc bool // non-syncable kind hit the defensive double filter
	errMsg     string
}

// SyncDocuments fetches and uploads each listed thread. One document's
// failure never aborts the batch: every failure mode (missing metadata,
// empty content, source error, store error) is recorded in the result's
// error list and the loop continues. Working state is explicitly cleared
// before returning.
func (e *Engine) SyncDocuments(ctx context.Context, threadIDs []string) *SyncResult {
	e.state = StateSyncing
	start := time.Now()

	e.logger.Info("starting document synchronization", slog.Int("to_sync", len(threadIDs)))

	result := &SyncResult{ThreadsDiscovered: e.discovered.Len()}

	// Spreadsheets skipped is recomputed over the whole discovered set so
	// the result is self-contained even if DetectChanges was bypassed.
	for _, id := range e.discovered.IDs() {
		if meta, ok := e.discovered.Get(id); ok && !meta.Kind.Syncable() {
			result.SpreadsheetsSkipped++
		}
	}

	outcomes := make([]docOutcome, len(threadIDs))

	if e.workers <= 1 {
		for i, id := range threadIDs {
			outcomes[i] = e.syncOne(ctx, id, i+1, len(threadIDs))
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)

		for i, id := range threadIDs {
			g.Go(func() error {
				outcomes[i] = e.syncOne(gctx, id, i+1, len(threadIDs))

				return nil
			})
		}

		// Workers never return errors; failures live in their outcome slots.
		_ = g.Wait()
	}

	var failed int

	for _, oc := range outcomes {
		if oc.skippedDoc {
			result.SpreadsheetsSkipped++
		}

		if oc.processed {
			result.DocumentsProcessed++
		}

		if oc.uploaded {
			result.DocumentsUploaded++
		}

		if oc.errMsg != "" {
			result.AddError(oc.errMsg)
			failed++
		}
	}

	result.DocumentsUnchanged = result.DocumentsProcessed - result.DocumentsUploaded
	result.ExecutionSeconds = time.Since(start).Seconds()

	e.logger.Info("document synchronization completed",
		slog.Int("uploaded", result.DocumentsUploaded),
		slog.Int("failed", failed),
		slog.Int("errors", len(result.Errors)),
		slog.Float64("success_rate_percent", result.SuccessRate()),
		slog.Duration("elapsed", time.Since(start)),
	)

	e.metrics.Duration("DocumentSyncDuration", time.Since(start))
	e.metrics.Count("DocumentsUploaded", float64(result.DocumentsUploaded))
	e.metrics.Count("FailedUploads", float64(failed))
	e.metrics.Count("SyncSuccessRate", result.SuccessRate())

	e.teardown()

	return result
}

// syncOne fetches one thread's content and uploads it. All failures are
// reported through the outcome, never as an abort.
func (e *Engine) syncOne(ctx context.Context, threadID string, seq, total int) docOutcome {
	var oc docOutcome

	e.logger.Debug("processing thread",
		slog.String("thread_id", threadID),
		slog.String("progress", fmt.Sprintf("%d/%d", seq, total)),
	)

	meta, ok := e.discovered.Get(threadID)
	if !ok {
		// Engine invariant violation: sync ids must come from discovery.
		oc.errMsg = fmt.Sprintf("thread %s not found in discovered threads", threadID)

		return oc
	}

	// Defensive double filter; DetectChanges already excluded these.
	if !meta.Kind.Syncable() {
		oc.skippedDoc = true

		return oc
	}

	oc.processed = true

	if err := ctx.Err(); err != nil {
		oc.errMsg = fmt.Sprintf("sync canceled before thread %s: %v", threadID, err)

		return oc
	}

	if meta.Link == "" {
		oc.errMsg = fmt.Sprintf("thread %s has no canonical link", threadID)

		return oc
	}

	content, err := e.source.GetThreadContent(ctx, threadID)
	if err != nil {
		oc.errMsg = fmt.Sprintf("failed to retrieve content for thread %s: %v", threadID, err)

		return oc
	}

	if content == "" {
		oc.errMsg = fmt.Sprintf("no content retrieved for thread %s", threadID)

		return oc
	}

	key := e.store.GenerateObjectKey(meta.Link)

	metadata := map[string]string{
		"quip_thread_id":        meta.ID,
		"quip_title":            meta.Title,
		"quip_link":             meta.Link,
		"quip_updated_usec":     strconv.FormatInt(meta.UpdatedUsec, 10),
		"quip_updated_datetime": meta.UpdatedAt().Format(time.RFC3339),
		"quip_author_id":        meta.AuthorID,
		"sync_timestamp":        time.Now().UTC().Format(time.RFC3339),
		"correlation_id":        e.correlationID,
	}

	if err := e.store.UploadDocument(ctx, key, content, metadata); err != nil {
		oc.errMsg = fmt.Sprintf("failed to upload thread %s: %v", threadID, err)

		return oc
	}

	oc.uploaded = true

	e.logger.Debug("document synchronized",
		slog.String("thread_id", threadID),
		slog.String("key", key),
		slog.Int("content_bytes", len(content)),
	)

	return oc
}

// teardown discards the run's working state. Explicit, so a finished
// engine never leaks a stale discovery or inventory snapshot into a
// subsequent (misuse) call.
func (e *Engine) teardown() {
	e.logger.Debug("clearing run state",
		slog.Int("threads", e.discovered.Len()),
		slog.Int("inventory_objects", len(e.inventory)),
	)

	e.discovered.Clear()
	clear(e.inventory)
	e.state = StateDone
}
