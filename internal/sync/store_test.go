package sync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewStore(":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestGetSyncRecordMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	record, err := store.GetSyncRecord(context.Background(), "Item", "ITEM-001")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestGetOrCreateSyncRecord(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)
	assert.Equal(t, "Item", record.Doctype)
	assert.Equal(t, "ITEM-001", record.Docname)
	assert.Equal(t, StatusPending, record.Status)
	assert.False(t, record.IsSyncing)
	assert.Empty(t, record.CloudHash)

	// A second call returns the same row, not a duplicate.
	again, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)
}

func TestClaimAndRelease(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)

	claimed, err := store.ClaimSyncRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A held claim cannot be taken again.
	claimed, err = store.ClaimSyncRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, store.ReleaseSyncRecord(ctx, record.ID))

	claimed, err = store.ClaimSyncRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSaveSyncSuccessResetsErrorState(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)

	require.NoError(t, store.SaveSyncError(ctx, record.ID, "boom", 3))

	require.NoError(t, store.SaveSyncSuccess(ctx, record.ID, "abc123",
		DirectionCloudToLocal, "2025-01-01 10:00:00", "2025-01-01 10:00:01"))

	record, err = store.GetSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, record.Status)
	assert.Equal(t, "abc123", record.CloudHash)
	assert.Equal(t, "abc123", record.LocalHash)
	assert.Equal(t, "2025-01-01 10:00:00", record.CloudModified)
	assert.Equal(t, "2025-01-01 10:00:01", record.LocalModified)
	assert.Equal(t, DirectionCloudToLocal, record.LastDirection)
	assert.NotZero(t, record.LastSynced)
	assert.Zero(t, record.RetryCount)
	assert.Empty(t, record.ErrorMessage)
}

func TestSaveSyncErrorEscalatesToFailed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)

	const maxRetries = 2

	for i := 1; i <= maxRetries; i++ {
		require.NoError(t, store.SaveSyncError(ctx, record.ID, "boom", maxRetries))

		record, err = store.GetSyncRecord(ctx, "Item", "ITEM-001")
		require.NoError(t, err)
		assert.Equal(t, StatusError, record.Status)
		assert.Equal(t, i, record.RetryCount)
	}

	// The attempt past the ceiling is terminal.
	require.NoError(t, store.SaveSyncError(ctx, record.ID, "boom", maxRetries))

	record, err = store.GetSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, "boom", record.ErrorMessage)
}

func TestSaveSyncErrorZeroRetriesIsTerminal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)

	require.NoError(t, store.SaveSyncError(ctx, record.ID, "invalid api key", 0))

	record, err = store.GetSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
}

func TestClearSyncingFlags(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"ITEM-001", "ITEM-002"} {
		record, err := store.GetOrCreateSyncRecord(ctx, "Item", name)
		require.NoError(t, err)

		claimed, err := store.ClaimSyncRecord(ctx, record.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	cleared, err := store.ClearSyncingFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleared)

	record, err := store.GetSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)
	assert.False(t, record.IsSyncing)

	cleared, err = store.ClearSyncingFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestStatusCounts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-001")
	require.NoError(t, err)

	_, err = store.GetOrCreateSyncRecord(ctx, "Item", "ITEM-002")
	require.NoError(t, err)

	require.NoError(t, store.SaveSyncSuccess(ctx, a.ID, "abc", DirectionCloudToLocal, "", ""))

	counts, err := store.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusSynced])
	assert.Equal(t, 1, counts[StatusPending])
}

func TestAppendLog(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendLog(ctx, &LogEntry{
		Doctype:   "Item",
		Docname:   "ITEM-001",
		Action:    ActionCreate,
		Direction: DirectionCloudToLocal,
		Status:    LogSuccess,
		Message:   "created on local from cloud",
	}))

	var count int

	var ts int64

	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(timestamp) FROM sync_logs`).Scan(&count, &ts))
	assert.Equal(t, 1, count)
	assert.NotZero(t, ts, "timestamp defaults to now when unset")
}

func TestConflictLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordConflict(ctx, &ConflictRecord{
		ID:        "c-manual",
		Doctype:   "Item",
		Docname:   "ITEM-001",
		CloudData: `{"name":"ITEM-001"}`,
		LocalData: `{"name":"ITEM-001"}`,
	}))

	// Auto-resolved conflicts are recorded but never surface as pending work.
	require.NoError(t, store.RecordConflict(ctx, &ConflictRecord{
		ID:         "c-auto",
		Doctype:    "Item",
		Docname:    "ITEM-002",
		CloudData:  `{}`,
		LocalData:  `{}`,
		Resolved:   true,
		Resolution: ResolutionCloudWinsByTimestamp,
		ResolvedAt: NowNano(),
	}))

	unresolved, err := store.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "c-manual", unresolved[0].ID)
	assert.Equal(t, `{"name":"ITEM-001"}`, unresolved[0].CloudData)

	require.NoError(t, store.ResolveConflict(ctx, "c-manual", ResolutionLocalWins))

	unresolved, err = store.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestQueueClaimFIFO(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := NowNano()
	for i, name := range []string{"ITEM-001", "ITEM-002", "ITEM-003"} {
		_, err := store.Enqueue(ctx, &QueueItem{
			Source:    SourceCloud,
			Doctype:   "Item",
			Docname:   name,
			Action:    "on_update",
			Payload:   "{}",
			CreatedAt: base + int64(i),
		})
		require.NoError(t, err)
	}

	items, err := store.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ITEM-001", items[0].Docname)
	assert.Equal(t, "ITEM-002", items[1].Docname)
	assert.True(t, items[0].Processing)

	// Claimed items are invisible to the next batch.
	items, err = store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ITEM-003", items[0].Docname)
}

func TestQueueMarkFailedRequeues(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, &QueueItem{
		Source: SourceLocal, Doctype: "Item", Docname: "ITEM-001",
		Action: "on_update", Payload: "{}",
	})
	require.NoError(t, err)

	items, err := store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, store.MarkFailed(ctx, id, "transient"))

	items, err = store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, "transient", items[0].ErrorMessage)
}

func TestQueueMarkDead(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, &QueueItem{
		Source: SourceCloud, Doctype: "Item", Docname: "ITEM-001",
		Action: "on_update", Payload: "{}",
	})
	require.NoError(t, err)

	items, err := store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, store.MarkDead(ctx, id, "gave up"))

	items, err = store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)

	pending, processing, err := store.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, processing)
}

func TestReclaimStale(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, &QueueItem{
		Source: SourceCloud, Doctype: "Item", Docname: "ITEM-001",
		Action: "on_update", Payload: "{}",
	})
	require.NoError(t, err)

	items, err := store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A fresh claim is not touched.
	reclaimed, err := store.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	// Backdate the claim past the timeout, as if the claimer died.
	stale := time.Now().Add(-10 * time.Minute).UnixNano()
	_, err = store.db.ExecContext(ctx,
		`UPDATE webhook_queue SET claimed_at = ? WHERE id = ?`, stale, id)
	require.NoError(t, err)

	reclaimed, err = store.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	items, err = store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPurgeProcessed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	oldID, err := store.Enqueue(ctx, &QueueItem{
		Source: SourceCloud, Doctype: "Item", Docname: "ITEM-001",
		Action: "on_update", Payload: "{}",
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour).UnixNano(),
	})
	require.NoError(t, err)

	freshID, err := store.Enqueue(ctx, &QueueItem{
		Source: SourceCloud, Doctype: "Item", Docname: "ITEM-002",
		Action: "on_update", Payload: "{}",
	})
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessed(ctx, oldID))
	require.NoError(t, store.MarkProcessed(ctx, freshID))

	purged, err := store.PurgeProcessed(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	var remaining int

	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_queue`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestQueueCounts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	pending, processing, err := store.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, processing)

	for _, name := range []string{"ITEM-001", "ITEM-002", "ITEM-003"} {
		_, err := store.Enqueue(ctx, &QueueItem{
			Source: SourceCloud, Doctype: "Item", Docname: name,
			Action: "on_update", Payload: "{}",
		})
		require.NoError(t, err)
	}

	items, err := store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	pending, processing, err = store.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, processing)
}
