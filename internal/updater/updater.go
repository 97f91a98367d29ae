// Package updater implements the per-book processing engine: it decides for
// every candidate book whether to skip it, fetch richer metadata for it, or
// embed what is already there, and records the outcome in the state store.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lepinkainen/seshat/internal/calibre"
	"github.com/lepinkainen/seshat/internal/config"
	seshaterrors "github.com/lepinkainen/seshat/internal/errors"
	"github.com/lepinkainen/seshat/internal/metadata"
	"github.com/lepinkainen/seshat/internal/state"
)

// Enumerator lists the candidate books of the library. A failure here is
// fatal to the run.
type Enumerator interface {
	ListBooks(ctx context.Context) ([]calibre.Book, error)
}

// Fetcher looks up richer metadata for a book. The cached return reports
// whether the result came from the local cache instead of the external
// service, which decides whether the fetch throttle applies.
type Fetcher interface {
	Fetch(ctx context.Context, book *calibre.Book) (fetched *metadata.Fetched, cached bool, err error)
}

// Catalog applies merged metadata back to the library database.
type Catalog interface {
	ApplyMetadata(ctx context.Context, id int64, snap metadata.Snapshot) error
	ApplyCover(ctx context.Context, id int64, coverPath string) error
}

// Embedder writes the catalog metadata into the book files themselves.
type Embedder interface {
	Embed(ctx context.Context, id int64, formats []string) error
}

// Throttle spaces out calls to the external fetch service.
// ratelimit.Limiter satisfies this.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Summary holds the end-of-run counters.
type Summary struct {
	Total        int // books enumerated
	OutOfScope   int // failed the language gate, left untouched
	Skipped      int // already processed, nothing to do
	EmbeddedOnly int // metadata good enough, embedded without fetching
	Processed    int // fetched, applied and embedded
	Failed       int // some step failed, recorded and moved on
}

// Options configure an Engine. Enumerator, Fetcher, Catalog, Embedder and
// Store are required; the rest have defaults.
type Options struct {
	Enumerator Enumerator
	Fetcher    Fetcher
	Catalog    Catalog
	Embedder   Embedder
	Store      *state.Store
	Throttle   Throttle

	Policy  config.PolicyConfig
	Weights metadata.Weights
	// Formats are the lowercase target formats to embed into.
	Formats []string
	// CheckpointEvery flushes the state store after this many record writes.
	CheckpointEvery int

	// Now is the clock used for record timestamps. Defaults to time.Now.
	Now func() time.Time
	// RunID identifies this run in logs and the state file.
	// Defaults to a fresh UUID.
	RunID string
}

// Engine runs the update sequentially, one book at a time. The two external
// tools it drives are not safe to invoke concurrently against the same
// library, and the fetch throttle is an ordering requirement.
type Engine struct {
	enum     Enumerator
	fetcher  Fetcher
	catalog  Catalog
	embedder Embedder
	store    *state.Store
	throttle Throttle

	policy          config.PolicyConfig
	weights         metadata.Weights
	formats         []string
	checkpointEvery int

	now   func() time.Time
	runID string

	writesSinceFlush int
}

// New creates an engine from the given options.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	checkpoint := opts.CheckpointEvery
	if checkpoint < 1 {
		checkpoint = 1
	}

	return &Engine{
		enum:            opts.Enumerator,
		fetcher:         opts.Fetcher,
		catalog:         opts.Catalog,
		embedder:        opts.Embedder,
		store:           opts.Store,
		throttle:        opts.Throttle,
		policy:          opts.Policy,
		weights:         opts.Weights,
		formats:         opts.Formats,
		checkpointEvery: checkpoint,
		now:             now,
		runID:           runID,
	}
}

// RunID returns the identifier of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Run processes every enumerated book and returns the run summary.
// A single book's failure is recorded and never aborts the run; only
// enumeration failure, context cancellation and a failed final state flush
// are fatal.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	books, err := e.enum.ListBooks(ctx)
	if err != nil {
		return sum, err
	}
	sum.Total = len(books)

	e.store.SetRunID(e.runID)

	slog.Info("Starting update run",
		"run_id", e.runID,
		"books", len(books),
		"dry_run", e.policy.DryRun,
		"reprocess_on_change", e.policy.ReprocessOnChange,
		"min_score", e.policy.MinScoreToSkipFetch)

	for i := range books {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		e.processBook(ctx, &books[i], &sum)
	}

	if !e.policy.DryRun {
		if err := e.store.Flush(); err != nil {
			return sum, seshaterrors.NewFatalError("flush state", err)
		}
	}

	slog.Info("Run complete",
		"run_id", e.runID,
		"processed", sum.Processed,
		"embedded_only", sum.EmbeddedOnly,
		"skipped", sum.Skipped,
		"out_of_scope", sum.OutOfScope,
		"failed", sum.Failed)

	return sum, nil
}

func (e *Engine) processBook(ctx context.Context, book *calibre.Book, sum *Summary) {
	log := slog.With("book_id", book.ID, "title", book.Title)

	// Language gate. Books outside the allowed set are not part of this run
	// at all: no record is written for them, ever.
	if !metadata.LanguageAllowed(book.Languages, e.policy.Languages, e.policy.IncludeMissingLanguage) {
		log.Debug("Language not in allowed set, leaving untouched", "languages", book.Languages)
		sum.OutOfScope++
		return
	}

	snap := book.Snapshot()
	fingerprint, err := snap.Fingerprint()
	if err != nil {
		log.Warn("Cannot fingerprint metadata", "error", err)
		e.recordFailure(book.ID, "", fmt.Sprintf("fingerprint: %v", err))
		sum.Failed++
		return
	}

	// Idempotency gate: a previous success stands unless reprocessing is
	// enabled and the tracked metadata has changed since.
	if prev, ok := e.store.Get(book.ID); ok && prev.Status == state.StatusSuccess {
		if !e.policy.ReprocessOnChange || prev.Fingerprint == fingerprint {
			log.Debug("Already processed, skipping")
			sum.Skipped++
			return
		}
		log.Info("Metadata changed since last run, reprocessing")
	}

	score := metadata.Score(snap, e.weights)
	goodEnough := metadata.Complete(snap, e.weights, e.policy.MinScoreToSkipFetch)
	formats := book.AvailableFormats(e.formats)

	if e.policy.DryRun {
		if goodEnough {
			log.Info("Dry run: would embed existing metadata", "score", score, "formats", formats)
			sum.EmbeddedOnly++
		} else {
			log.Info("Dry run: would fetch, apply and embed",
				"score", score, "missing", metadata.Missing(snap))
			sum.Processed++
		}
		return
	}

	var fetched *metadata.Fetched
	if !goodEnough {
		log.Info("Metadata below threshold, fetching",
			"score", score, "missing", metadata.Missing(snap))

		var cachedResult bool
		fetched, cachedResult, err = e.fetcher.Fetch(ctx, book)
		if err != nil {
			log.Warn("Fetch failed", "error", err)
			e.recordFailure(book.ID, fingerprint, fmt.Sprintf("fetch: %v", err))
			sum.Failed++
			return
		}
		if fetched.CoverPath != "" {
			defer os.Remove(fetched.CoverPath)
		}

		filled := metadata.Merge(&snap, fetched)
		log.Debug("Merged fetched metadata", "fields_filled", filled)

		// Space out real fetches against the external service. Cache hits
		// never consume throttle budget.
		if !cachedResult && e.throttle != nil {
			if err := e.throttle.Wait(ctx); err != nil {
				e.recordFailure(book.ID, fingerprint, fmt.Sprintf("throttle: %v", err))
				sum.Failed++
				return
			}
		}
	} else {
		log.Info("Metadata good enough, embedding only", "score", score)
	}

	if err := e.catalog.ApplyMetadata(ctx, book.ID, snap); err != nil {
		log.Warn("Applying metadata failed", "error", err)
		e.recordFailure(book.ID, fingerprint, fmt.Sprintf("apply metadata: %v", err))
		sum.Failed++
		return
	}

	// A cover that will not stick is not worth failing the book over.
	if fetched != nil && fetched.CoverPath != "" {
		if err := e.catalog.ApplyCover(ctx, book.ID, fetched.CoverPath); err != nil {
			log.Warn("Setting cover failed", "error", err)
		}
	}

	if err := e.embedder.Embed(ctx, book.ID, formats); err != nil {
		log.Warn("Embedding failed", "formats", formats, "error", err)
		e.recordFailure(book.ID, fingerprint, fmt.Sprintf("embed: %v", err))
		sum.Failed++
		return
	}

	finalFingerprint, err := snap.Fingerprint()
	if err != nil {
		finalFingerprint = fingerprint
	}
	e.recordSuccess(book.ID, finalFingerprint, fetched != nil)

	if fetched != nil {
		log.Info("Updated and embedded")
		sum.Processed++
	} else {
		log.Info("Embedded existing metadata")
		sum.EmbeddedOnly++
	}
}

func (e *Engine) recordSuccess(bookID int64, fingerprint string, fetchedMeta bool) {
	now := e.now().UTC()
	message := "good enough; embedded"
	if fetchedMeta {
		message = "fetched, applied and embedded"
	}

	e.store.Put(bookID, state.Record{
		Status:          state.StatusSuccess,
		Fingerprint:     fingerprint,
		LastProcessedAt: now,
		LastSuccessAt:   &now,
		Message:         message,
		FailCount:       0,
	})
	e.checkpoint()
}

func (e *Engine) recordFailure(bookID int64, fingerprint, message string) {
	rec := state.Record{
		Status:          state.StatusFailed,
		Fingerprint:     fingerprint,
		LastProcessedAt: e.now().UTC(),
		Message:         message,
		FailCount:       1,
	}
	if prev, ok := e.store.Get(bookID); ok {
		rec.LastSuccessAt = prev.LastSuccessAt
		rec.FailCount = prev.FailCount + 1
	}

	e.store.Put(bookID, rec)
	e.checkpoint()
}

// checkpoint flushes the store every CheckpointEvery record writes so an
// interrupted run loses at most that much progress. Flush problems are
// logged here and surface as a hard error on the final flush.
func (e *Engine) checkpoint() {
	e.writesSinceFlush++
	if e.writesSinceFlush < e.checkpointEvery {
		return
	}
	e.writesSinceFlush = 0
	if err := e.store.Flush(); err != nil {
		slog.Warn("Checkpoint flush failed", "error", err)
	}
}
