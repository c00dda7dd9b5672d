package provision

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/concord/internal/db"
)

func items(ids ...string) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{Identifier: id, Name: id}
	}
	return out
}

func TestRunCheckpointsEveryBatch(t *testing.T) {
	store := db.MustOpenTestStore(t)
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		return "ext-" + item.Identifier, nil
	}, nil, Options{MaxConcurrency: 1})

	res, err := o.Run(context.Background(), "run-1", items("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 0, res.Failed)

	// Three items at batch size one means three durable checkpoints.
	cps, err := store.GetProvisionCheckpoints("run-1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	for i, cp := range cps {
		assert.Equal(t, i, cp.BatchIndex)
		assert.Equal(t, i+1, cp.Processed)
	}
}

func TestRunBatchesAreSequential(t *testing.T) {
	store := db.MustOpenTestStore(t)

	var mu sync.Mutex
	var inFlight, maxInFlight int
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ext", nil
	}, nil, Options{MaxConcurrency: 2})

	res, err := o.Run(context.Background(), "", items("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Succeeded)
	assert.NotEmpty(t, res.RunID)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 2, "no more than one batch in flight")

	cps, err := store.GetProvisionCheckpoints(res.RunID)
	require.NoError(t, err)
	assert.Len(t, cps, 3)
}

func TestRunRecordsOrderedFailures(t *testing.T) {
	store := db.MustOpenTestStore(t)
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		if item.Identifier == "b" || item.Identifier == "d" {
			return "", fmt.Errorf("boom %s", item.Identifier)
		}
		return "ext-" + item.Identifier, nil
	}, nil, Options{MaxConcurrency: 2})

	res, err := o.Run(context.Background(), "run-2", items("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, "b", res.Failures[0].Identifier)
	assert.Equal(t, "d", res.Failures[1].Identifier)
	assert.Contains(t, res.Failures[0].Err, "boom b")

	// Failures land in the activity log too.
	r, err := store.GetProvisionResult("run-2", "b")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, db.OutcomeFailed, r.Outcome)
}

func TestResumeSkipsCompletedItems(t *testing.T) {
	store := db.MustOpenTestStore(t)
	require.NoError(t, store.RecordProvisionResult(&db.ProvisionResult{
		RunID:      "run-3",
		Identifier: "a",
		Outcome:    db.OutcomeSucceeded,
		ExternalID: "ext-a",
	}))

	var calls atomic.Int32
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		calls.Add(1)
		return "ext-" + item.Identifier, nil
	}, nil, Options{MaxConcurrency: 1})

	res, err := o.Run(context.Background(), "run-3", items("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, int32(1), calls.Load(), "completed item must not re-run")
}

func TestItemTimeout(t *testing.T) {
	store := db.MustOpenTestStore(t)
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, nil, Options{MaxConcurrency: 1, ItemTimeout: 20 * time.Millisecond})

	res, err := o.Run(context.Background(), "run-4", items("slow"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err, "deadline exceeded")
}

func TestCancellationStopsAtBatchBoundary(t *testing.T) {
	store := db.MustOpenTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	o := New(store, func(ctx context.Context, item Item) (string, error) {
		// Cancel mid-run; the current batch still drains.
		cancel()
		return "ext-" + item.Identifier, nil
	}, nil, Options{MaxConcurrency: 1})

	res, err := o.Run(ctx, "run-5", items("a", "b", "c"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Succeeded, "first batch completed before cancellation took effect")

	cps, cpErr := store.GetProvisionCheckpoints("run-5")
	require.NoError(t, cpErr)
	assert.Len(t, cps, 1, "checkpoint for the drained batch is still written")
}

func TestCancellationDoesNotPreemptInFlightItems(t *testing.T) {
	store := db.MustOpenTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	o := New(store, func(ctx context.Context, item Item) (string, error) {
		// Cancel while this item is running; its own context must stay
		// live so the side effect can finish.
		cancel()
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "ext-" + item.Identifier, nil
	}, nil, Options{MaxConcurrency: 1})

	res, err := o.Run(ctx, "run-8", items("a", "b"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Succeeded, "in-flight item runs to completion")
	assert.Equal(t, 0, res.Failed)

	r, err := store.GetProvisionResult("run-8", "a")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, db.OutcomeSucceeded, r.Outcome)
}

func TestCleanupRunsOnFailedItems(t *testing.T) {
	store := db.MustOpenTestStore(t)

	var mu sync.Mutex
	var cleaned []string
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		if item.Identifier == "bad" {
			return "", fmt.Errorf("boom")
		}
		return "ext-" + item.Identifier, nil
	}, nil, Options{
		MaxConcurrency: 2,
		Cleanup: func(ctx context.Context, item Item) error {
			mu.Lock()
			cleaned = append(cleaned, item.Identifier)
			mu.Unlock()
			return nil
		},
	})

	res, err := o.Run(context.Background(), "run-9", items("a", "bad", "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad"}, cleaned, "only failed items are cleaned up")
}

func TestCleanupFailureDoesNotChangeOutcome(t *testing.T) {
	store := db.MustOpenTestStore(t)
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		return "", fmt.Errorf("boom")
	}, nil, Options{
		MaxConcurrency: 1,
		Cleanup: func(ctx context.Context, item Item) error {
			return fmt.Errorf("cleanup also broke")
		},
	})

	res, err := o.Run(context.Background(), "run-10", items("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err, "boom", "the original error is reported, not the cleanup's")
}

func TestCleanupReport(t *testing.T) {
	store := db.MustOpenTestStore(t)
	o := New(store, func(ctx context.Context, item Item) (string, error) {
		if item.Identifier == "bad" {
			return "", fmt.Errorf("boom")
		}
		return "ext-" + item.Identifier, nil
	}, nil, Options{MaxConcurrency: 2})

	_, err := o.Run(context.Background(), "run-6", items("a", "bad", "b"))
	require.NoError(t, err)

	entries, err := o.CleanupReport("run-6")
	require.NoError(t, err)
	require.Len(t, entries, 2, "only succeeded items appear in the report")
	assert.Equal(t, "a", entries[0].Identifier)
	assert.Equal(t, "ext-a", entries[0].ExternalID)
	assert.Equal(t, "b", entries[1].Identifier)
}
