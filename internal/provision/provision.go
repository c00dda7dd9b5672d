// Package provision bulk-provisions external objects (memory agents,
// folders, boards) for many projects at once. Work runs in fixed-size
// batches with durable progress records, so an interrupted run can resume
// without repeating side effects.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/concord/internal/db"
)

// Item statuses as a run progresses. Pending items have not entered a batch
// yet; InFlight items are executing.
const (
	StatusPending   = "pending"
	StatusInFlight  = "in_flight"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Item is one unit of provisioning work.
type Item struct {
	// Identifier keys the item in the activity-result log.
	Identifier string
	// Name is the human-readable name passed to the provision function.
	Name string
}

// Func performs the provisioning side effect for one item and returns the
// external ID of the created object.
type Func func(ctx context.Context, item Item) (externalID string, err error)

// CleanupFunc undoes the partial side effects of a failed item. It is
// best-effort: errors are logged, never retried, and never fail the run.
type CleanupFunc func(ctx context.Context, item Item) error

// Failure is one failed item, in the order items were submitted.
type Failure struct {
	Identifier string
	Err        string
}

// Result aggregates a run.
type Result struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []Failure
}

// Options tune a run.
type Options struct {
	// MaxConcurrency is the batch size. Items within a batch run
	// concurrently; batches run strictly one after another.
	MaxConcurrency int
	// ItemTimeout bounds each item's execution. Zero means no limit.
	ItemTimeout time.Duration
	// Cleanup, when set, runs after an item fails to remove whatever the
	// failed attempt left behind.
	Cleanup CleanupFunc
}

// Orchestrator runs provisioning passes against the store's checkpoint and
// activity-result tables.
type Orchestrator struct {
	store     *db.Store
	provision Func
	logger    *slog.Logger
	opts      Options
}

// New creates an orchestrator.
func New(store *db.Store, fn Func, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Orchestrator{store: store, provision: fn, logger: logger, opts: opts}
}

// itemOutcome is the in-memory record of one item's run.
type itemOutcome struct {
	status  string
	errMsg  string
	skipped bool
}

// Run executes all items. An empty runID starts a fresh run; passing the
// runID of an interrupted run resumes it, and items whose logged outcome is
// already "succeeded" are skipped without re-executing their side effects.
//
// Cancellation is honored at batch boundaries: the in-flight batch drains,
// its checkpoint is written, and then the run stops.
func (o *Orchestrator) Run(ctx context.Context, runID string, items []Item) (*Result, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	res := &Result{RunID: runID, Total: len(items)}
	outcomes := make([]itemOutcome, len(items))

	processed := 0
	for batchIndex := 0; processed < len(items); batchIndex++ {
		if err := ctx.Err(); err != nil {
			o.collectFailures(items, outcomes, res)
			return res, err
		}

		end := processed + o.opts.MaxConcurrency
		if end > len(items) {
			end = len(items)
		}
		batch := items[processed:end]

		g := new(errgroup.Group)
		for i, item := range batch {
			idx := processed + i
			g.Go(func() error {
				outcomes[idx] = o.runItem(ctx, runID, item)
				return nil
			})
		}
		_ = g.Wait()

		var succeeded, failed int
		for _, oc := range outcomes[processed:end] {
			switch oc.status {
			case StatusSucceeded:
				succeeded++
			case StatusFailed:
				failed++
			}
		}
		processed = end

		if err := o.store.RecordProvisionCheckpoint(&db.ProvisionCheckpoint{
			RunID:      runID,
			BatchIndex: batchIndex,
			Processed:  processed,
			Succeeded:  succeeded,
			Failed:     failed,
		}); err != nil {
			o.collectFailures(items, outcomes, res)
			return res, err
		}
	}

	o.collectFailures(items, outcomes, res)
	return res, nil
}

// runItem executes one item, consulting and updating the activity-result
// log. It never returns an error; failures are outcomes, not run aborts.
func (o *Orchestrator) runItem(ctx context.Context, runID string, item Item) itemOutcome {
	prior, err := o.store.GetProvisionResult(runID, item.Identifier)
	if err != nil {
		return itemOutcome{status: StatusFailed, errMsg: err.Error()}
	}
	if prior != nil && prior.Outcome == db.OutcomeSucceeded {
		o.logger.Debug("item already provisioned, skipping",
			"run_id", runID,
			"identifier", item.Identifier)
		return itemOutcome{status: StatusSucceeded, skipped: true}
	}

	// The batch boundary is the only cancellation point: an item already
	// dispatched runs to completion even when the run context is canceled,
	// so only the per-item timeout is carried over.
	itemCtx := context.WithoutCancel(ctx)
	if o.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, o.opts.ItemTimeout)
		defer cancel()
	}

	externalID, err := o.provision(itemCtx, item)
	if err != nil {
		o.logger.Warn("provisioning item failed",
			"run_id", runID,
			"identifier", item.Identifier,
			"error", err)
		if o.opts.Cleanup != nil {
			// A fresh context: the item's deadline may already be spent.
			if cerr := o.opts.Cleanup(context.WithoutCancel(ctx), item); cerr != nil {
				o.logger.Warn("compensating cleanup failed",
					"run_id", runID,
					"identifier", item.Identifier,
					"error", cerr)
			}
		}
		if recordErr := o.store.RecordProvisionResult(&db.ProvisionResult{
			RunID:      runID,
			Identifier: item.Identifier,
			Outcome:    db.OutcomeFailed,
			Error:      err.Error(),
		}); recordErr != nil {
			o.logger.Error("recording item failure failed", "error", recordErr)
		}
		return itemOutcome{status: StatusFailed, errMsg: err.Error()}
	}

	if recordErr := o.store.RecordProvisionResult(&db.ProvisionResult{
		RunID:      runID,
		Identifier: item.Identifier,
		Outcome:    db.OutcomeSucceeded,
		ExternalID: externalID,
	}); recordErr != nil {
		// The side effect happened but the log write didn't. Report the
		// item failed so a resume re-checks it rather than losing the ID.
		return itemOutcome{status: StatusFailed, errMsg: recordErr.Error()}
	}
	return itemOutcome{status: StatusSucceeded}
}

// collectFailures folds per-item outcomes into the aggregate result,
// preserving submission order for the failure list.
func (o *Orchestrator) collectFailures(items []Item, outcomes []itemOutcome, res *Result) {
	res.Succeeded, res.Failed, res.Skipped = 0, 0, 0
	res.Failures = nil
	for i, oc := range outcomes {
		switch {
		case oc.status == StatusSucceeded && oc.skipped:
			res.Skipped++
		case oc.status == StatusSucceeded:
			res.Succeeded++
		case oc.status == StatusFailed:
			res.Failed++
			res.Failures = append(res.Failures, Failure{
				Identifier: items[i].Identifier,
				Err:        oc.errMsg,
			})
		}
	}
}

// CleanupEntry names one provisioned object a compensating cleanup would
// remove.
type CleanupEntry struct {
	Identifier string
	ExternalID string
}

// CleanupReport lists what a compensating cleanup of the run would delete.
// Cleanup is report-only: the external objects are left in place and the
// operator decides what to remove.
func (o *Orchestrator) CleanupReport(runID string) ([]CleanupEntry, error) {
	results, err := o.store.GetProvisionResults(runID)
	if err != nil {
		return nil, fmt.Errorf("cleanup report for run %s: %w", runID, err)
	}

	var entries []CleanupEntry
	for _, r := range results {
		if r.Outcome == db.OutcomeSucceeded && r.ExternalID != "" {
			entries = append(entries, CleanupEntry{
				Identifier: r.Identifier,
				ExternalID: r.ExternalID,
			})
		}
	}
	return entries, nil
}
