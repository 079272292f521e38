package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Store is the persistence contract for the sync core. The SQLiteStore is
// the production implementation; tests may substitute their own.
type Store interface {
	// Sync records.
	GetSyncRecord(ctx context.Context, doctype, docname string) (*SyncRecord, error)
	GetOrCreateSyncRecord(ctx context.Context, doctype, docname string) (*SyncRecord, error)
	ClaimSyncRecord(ctx context.Context, id int64) (bool, error)
	ReleaseSyncRecord(ctx context.Context, id int64) error
	SaveSyncSuccess(ctx context.Context, id int64, hash string, direction Direction, cloudModified, localModified string) error
	SaveSyncError(ctx context.Context, id int64, message string, maxRetries int) error
	MarkConflict(ctx context.Context, id int64) error
	TouchSyncRecord(ctx context.Context, id int64) error
	ClearSyncingFlags(ctx context.Context) (int64, error)
	StatusCounts(ctx context.Context) (map[Status]int, error)

	// Audit log.
	AppendLog(ctx context.Context, entry *LogEntry) error

	// Conflict records.
	RecordConflict(ctx context.Context, record *ConflictRecord) error
	ListUnresolvedConflicts(ctx context.Context) ([]*ConflictRecord, error)
	ResolveConflict(ctx context.Context, id, resolution string) error

	// Webhook queue.
	Enqueue(ctx context.Context, item *QueueItem) (int64, error)
	ClaimBatch(ctx context.Context, limit int) ([]*QueueItem, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
	MarkDead(ctx context.Context, id int64, message string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
	QueueCounts(ctx context.Context) (pending, processing int, err error)

	Close() error
}

// SQLiteStore implements Store using an embedded SQLite database in WAL
// mode. All four tables (sync_records, sync_logs, conflict_records,
// webhook_queue) live in a single database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	recordStmts   recordStatements
	logStmts      logStatements
	conflictStmts conflictStatements
	queueStmts    queueStatements
}

type recordStatements struct {
	get, insert, claim, release, saveSuccess, touch, markConflict, clearSyncing, statusCounts *sql.Stmt
}

type logStatements struct {
	append *sql.Stmt
}

type conflictStatements struct {
	record, listUnresolved, resolve *sql.Stmt
}

type queueStatements struct {
	insert, selectPending, markProcessing, markProcessed, markFailed, markDead, counts *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// all repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening sync state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single writer connection sidesteps SQLITE_BUSY between the intake,
	// worker, and executor goroutines sharing this store.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	logger.Info("sync state database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

const sqlRecordColumns = `id, doctype, docname, cloud_hash, local_hash,
	cloud_modified, local_modified, last_synced, last_direction,
	is_syncing, status, error_message, retry_count, created_at, updated_at`

const (
	sqlGetRecord = `SELECT ` + sqlRecordColumns +
		` FROM sync_records WHERE doctype = ? AND docname = ?`

	sqlInsertRecord = `INSERT OR IGNORE INTO sync_records
		(doctype, docname, created_at, updated_at) VALUES (?, ?, ?, ?)`

	// The is_syncing guard makes the claim conditional: zero rows affected
	// means another operation already holds the record.
	sqlClaimRecord = `UPDATE sync_records
		SET is_syncing = 1, updated_at = ?
		WHERE id = ? AND is_syncing = 0`

	sqlReleaseRecord = `UPDATE sync_records
		SET is_syncing = 0, updated_at = ? WHERE id = ?`

	sqlSaveSuccess = `UPDATE sync_records
		SET cloud_hash = ?, local_hash = ?, cloud_modified = ?, local_modified = ?,
			last_synced = ?, last_direction = ?, status = 'synced',
			retry_count = 0, error_message = '', updated_at = ?
		WHERE id = ?`

	sqlTouchRecord = `UPDATE sync_records SET updated_at = ? WHERE id = ?`

	sqlMarkConflict = `UPDATE sync_records
		SET status = 'conflict', updated_at = ? WHERE id = ?`

	sqlClearSyncing = `UPDATE sync_records
		SET is_syncing = 0, updated_at = ? WHERE is_syncing = 1`

	sqlStatusCounts = `SELECT status, COUNT(*) FROM sync_records GROUP BY status`
)

const sqlAppendLog = `INSERT INTO sync_logs
	(timestamp, doctype, docname, action, direction, status, message)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

const (
	sqlRecordConflict = `INSERT INTO conflict_records
		(id, doctype, docname, cloud_data, local_data,
		 cloud_modified, local_modified, resolved, resolution, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListUnresolved = `SELECT id, doctype, docname, cloud_data, local_data,
		cloud_modified, local_modified, resolved, resolution, resolved_at, created_at
		FROM conflict_records WHERE resolved = 0 ORDER BY created_at`

	sqlResolveConflict = `UPDATE conflict_records
		SET resolved = 1, resolution = ?, resolved_at = ? WHERE id = ?`
)

const (
	sqlEnqueue = `INSERT INTO webhook_queue
		(source, doctype, docname, action, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlSelectPending = `SELECT id, source, doctype, docname, action, payload,
		processed, processing, created_at, processed_at, retry_count, error_message
		FROM webhook_queue
		WHERE processed = 0 AND processing = 0
		ORDER BY created_at, id LIMIT ?`

	sqlMarkProcessing = `UPDATE webhook_queue
		SET processing = 1, claimed_at = ?
		WHERE id = ? AND processed = 0 AND processing = 0`

	sqlMarkProcessed = `UPDATE webhook_queue
		SET processed = 1, processing = 0, processed_at = ? WHERE id = ?`

	sqlMarkFailed = `UPDATE webhook_queue
		SET processed = 0, processing = 0, retry_count = retry_count + 1,
			error_message = ?
		WHERE id = ?`

	// Dead items are marked processed so they stop blocking the queue; the
	// error message keeps the failure visible.
	sqlMarkDead = `UPDATE webhook_queue
		SET processed = 1, processing = 0, processed_at = ?, error_message = ?
		WHERE id = ?`

	sqlQueueCounts = `SELECT
		SUM(CASE WHEN processed = 0 AND processing = 0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN processing = 1 THEN 1 ELSE 0 END)
		FROM webhook_queue`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.recordStmts.get, sqlGetRecord, "getRecord"},
		{&s.recordStmts.insert, sqlInsertRecord, "insertRecord"},
		{&s.recordStmts.claim, sqlClaimRecord, "claimRecord"},
		{&s.recordStmts.release, sqlReleaseRecord, "releaseRecord"},
		{&s.recordStmts.saveSuccess, sqlSaveSuccess, "saveSuccess"},
		{&s.recordStmts.touch, sqlTouchRecord, "touchRecord"},
		{&s.recordStmts.markConflict, sqlMarkConflict, "markConflict"},
		{&s.recordStmts.clearSyncing, sqlClearSyncing, "clearSyncing"},
		{&s.recordStmts.statusCounts, sqlStatusCounts, "statusCounts"},
	}); err != nil {
		return err
	}

	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.logStmts.append, sqlAppendLog, "appendLog"},
	}); err != nil {
		return err
	}

	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.conflictStmts.record, sqlRecordConflict, "recordConflict"},
		{&s.conflictStmts.listUnresolved, sqlListUnresolved, "listUnresolved"},
		{&s.conflictStmts.resolve, sqlResolveConflict, "resolveConflict"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.queueStmts.insert, sqlEnqueue, "enqueue"},
		{&s.queueStmts.selectPending, sqlSelectPending, "selectPending"},
		{&s.queueStmts.markProcessing, sqlMarkProcessing, "markProcessing"},
		{&s.queueStmts.markProcessed, sqlMarkProcessed, "markProcessed"},
		{&s.queueStmts.markFailed, sqlMarkFailed, "markFailed"},
		{&s.queueStmts.markDead, sqlMarkDead, "markDead"},
		{&s.queueStmts.counts, sqlQueueCounts, "queueCounts"},
	})
}

// --- Scan helpers ---

// scanRecord scans a full sync_records row.
func scanRecord(row interface{ Scan(...any) error }) (*SyncRecord, error) {
	r := &SyncRecord{}

	var direction, status string

	err := row.Scan(
		&r.ID, &r.Doctype, &r.Docname, &r.CloudHash, &r.LocalHash,
		&r.CloudModified, &r.LocalModified, &r.LastSynced, &direction,
		&r.IsSyncing, &status, &r.ErrorMessage, &r.RetryCount,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.LastDirection = Direction(direction)
	r.Status = Status(status)

	return r, nil
}

// scanQueueItem scans a full webhook_queue row.
func scanQueueItem(row interface{ Scan(...any) error }) (*QueueItem, error) {
	q := &QueueItem{}

	var source string

	err := row.Scan(
		&q.ID, &source, &q.Doctype, &q.Docname, &q.Action, &q.Payload,
		&q.Processed, &q.Processing, &q.CreatedAt, &q.ProcessedAt,
		&q.RetryCount, &q.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	q.Source = Source(source)

	return q, nil
}

// --- Sync record methods ---

// GetSyncRecord retrieves the record for one key. Returns (nil, nil) if no
// record exists; callers use the nil record to distinguish "never observed"
// from "known key".
func (s *SQLiteStore) GetSyncRecord(ctx context.Context, doctype, docname string) (*SyncRecord, error) {
	record, err := scanRecord(s.recordStmts.get.QueryRowContext(ctx, doctype, docname))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get sync record %s/%s: %w", doctype, docname, err)
	}

	return record, nil
}

// GetOrCreateSyncRecord returns the record for a key, creating it lazily on
// first observation. INSERT OR IGNORE against the unique (doctype, docname)
// index makes the create atomic under concurrent callers.
func (s *SQLiteStore) GetOrCreateSyncRecord(ctx context.Context, doctype, docname string) (*SyncRecord, error) {
	now := NowNano()

	if _, err := s.recordStmts.insert.ExecContext(ctx, doctype, docname, now, now); err != nil {
		return nil, fmt.Errorf("create sync record %s/%s: %w", doctype, docname, err)
	}

	record, err := s.GetSyncRecord(ctx, doctype, docname)
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, fmt.Errorf("sync record %s/%s missing after insert", doctype, docname)
	}

	return record, nil
}

// ClaimSyncRecord conditionally sets is_syncing on a record. Returns false
// when another operation already holds the claim.
func (s *SQLiteStore) ClaimSyncRecord(ctx context.Context, id int64) (bool, error) {
	result, err := s.recordStmts.claim.ExecContext(ctx, NowNano(), id)
	if err != nil {
		return false, fmt.Errorf("claim sync record %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim sync record %d: rows affected: %w", id, err)
	}

	return affected == 1, nil
}

// ReleaseSyncRecord clears the is_syncing flag.
func (s *SQLiteStore) ReleaseSyncRecord(ctx context.Context, id int64) error {
	if _, err := s.recordStmts.release.ExecContext(ctx, NowNano(), id); err != nil {
		return fmt.Errorf("release sync record %d: %w", id, err)
	}

	return nil
}

// SaveSyncSuccess records a completed sync: both hashes equal the new source
// hash by construction, status becomes synced, and error telemetry resets.
func (s *SQLiteStore) SaveSyncSuccess(
	ctx context.Context,
	id int64,
	hash string,
	direction Direction,
	cloudModified, localModified string,
) error {
	now := NowNano()

	_, err := s.recordStmts.saveSuccess.ExecContext(ctx,
		hash, hash, cloudModified, localModified, now, string(direction), now, id)
	if err != nil {
		return fmt.Errorf("save sync success %d: %w", id, err)
	}

	return nil
}

// SaveSyncError increments retry_count and records the message. When the
// count exceeds maxRetries the record transitions to the terminal failed
// status; otherwise it stays in error and remains retryable.
func (s *SQLiteStore) SaveSyncError(ctx context.Context, id int64, message string, maxRetries int) error {
	query := `UPDATE sync_records
		SET retry_count = retry_count + 1, error_message = ?,
			status = CASE WHEN retry_count + 1 > ? THEN 'failed' ELSE 'error' END,
			updated_at = ?
		WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, message, maxRetries, NowNano(), id); err != nil {
		return fmt.Errorf("save sync error %d: %w", id, err)
	}

	return nil
}

// MarkConflict sets the conflict status on a record.
func (s *SQLiteStore) MarkConflict(ctx context.Context, id int64) error {
	if _, err := s.recordStmts.markConflict.ExecContext(ctx, NowNano(), id); err != nil {
		return fmt.Errorf("mark conflict %d: %w", id, err)
	}

	return nil
}

// TouchSyncRecord bumps updated_at without changing any state.
func (s *SQLiteStore) TouchSyncRecord(ctx context.Context, id int64) error {
	if _, err := s.recordStmts.touch.ExecContext(ctx, NowNano(), id); err != nil {
		return fmt.Errorf("touch sync record %d: %w", id, err)
	}

	return nil
}

// ClearSyncingFlags resets every stranded is_syncing flag. Called once at
// startup: any flag set at that point belongs to a dead process.
func (s *SQLiteStore) ClearSyncingFlags(ctx context.Context) (int64, error) {
	result, err := s.recordStmts.clearSyncing.ExecContext(ctx, NowNano())
	if err != nil {
		return 0, fmt.Errorf("clear syncing flags: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear syncing flags: rows affected: %w", err)
	}

	if affected > 0 {
		s.logger.Warn("cleared stranded syncing flags", "count", affected)
	}

	return affected, nil
}

// StatusCounts tallies sync records by status.
func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.recordStmts.statusCounts.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)

	for rows.Next() {
		var status string

		var n int

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}

		counts[Status(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return counts, nil
}

// --- Audit log methods ---

// AppendLog writes one audit row. Timestamp defaults to now when unset.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	ts := entry.Timestamp
	if ts == 0 {
		ts = NowNano()
	}

	_, err := s.logStmts.append.ExecContext(ctx,
		ts, entry.Doctype, entry.Docname, entry.Action,
		string(entry.Direction), entry.Status, entry.Message)
	if err != nil {
		return fmt.Errorf("append log %s/%s: %w", entry.Doctype, entry.Docname, err)
	}

	return nil
}

// --- Conflict record methods ---

// RecordConflict inserts a new conflict record.
func (s *SQLiteStore) RecordConflict(ctx context.Context, record *ConflictRecord) error {
	s.logger.Info("recording conflict",
		"id", record.ID, "doctype", record.Doctype, "docname", record.Docname,
		"resolved", record.Resolved)

	createdAt := record.CreatedAt
	if createdAt == 0 {
		createdAt = NowNano()
	}

	_, err := s.conflictStmts.record.ExecContext(ctx,
		record.ID, record.Doctype, record.Docname,
		record.CloudData, record.LocalData,
		record.CloudModified, record.LocalModified,
		record.Resolved, record.Resolution, record.ResolvedAt, createdAt)
	if err != nil {
		return fmt.Errorf("record conflict %s: %w", record.ID, err)
	}

	return nil
}

// ListUnresolvedConflicts returns conflicts awaiting external resolution,
// oldest first.
func (s *SQLiteStore) ListUnresolvedConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	rows, err := s.conflictStmts.listUnresolved.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var records []*ConflictRecord

	for rows.Next() {
		r := &ConflictRecord{}

		err := rows.Scan(
			&r.ID, &r.Doctype, &r.Docname, &r.CloudData, &r.LocalData,
			&r.CloudModified, &r.LocalModified, &r.Resolved, &r.Resolution,
			&r.ResolvedAt, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflict rows: %w", err)
	}

	return records, nil
}

// ResolveConflict marks a conflict resolved with the given resolution tag.
// This is the external-admin operation; the engine never deletes conflicts.
func (s *SQLiteStore) ResolveConflict(ctx context.Context, id, resolution string) error {
	s.logger.Info("resolving conflict", "id", id, "resolution", resolution)

	if _, err := s.conflictStmts.resolve.ExecContext(ctx, resolution, NowNano(), id); err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}

	return nil
}

// --- Webhook queue methods ---

// Enqueue inserts a webhook event and returns its queue ID.
func (s *SQLiteStore) Enqueue(ctx context.Context, item *QueueItem) (int64, error) {
	createdAt := item.CreatedAt
	if createdAt == 0 {
		createdAt = NowNano()
	}

	result, err := s.queueStmts.insert.ExecContext(ctx,
		string(item.Source), item.Doctype, item.Docname, item.Action,
		item.Payload, createdAt)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s/%s: %w", item.Doctype, item.Docname, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s/%s: last insert id: %w", item.Doctype, item.Docname, err)
	}

	return id, nil
}

// ClaimBatch atomically claims up to limit pending items in FIFO order,
// transitioning processed=0,processing=0 → processing=1 inside one
// transaction so no two workers claim the same row.
func (s *SQLiteStore) ClaimBatch(ctx context.Context, limit int) ([]*QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}

	rows, err := tx.StmtContext(ctx, s.queueStmts.selectPending).QueryContext(ctx, limit)
	if err != nil {
		rollbackErr := tx.Rollback()
		return nil, fmt.Errorf("select pending: %w (rollback: %v)", err, rollbackErr)
	}

	var items []*QueueItem

	for rows.Next() {
		item, scanErr := scanQueueItem(rows)
		if scanErr != nil {
			rows.Close()
			rollbackErr := tx.Rollback()

			return nil, fmt.Errorf("scan queue row: %w (rollback: %v)", scanErr, rollbackErr)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		rollbackErr := tx.Rollback()

		return nil, fmt.Errorf("iterate queue rows: %w (rollback: %v)", err, rollbackErr)
	}

	rows.Close()

	claimStmt := tx.StmtContext(ctx, s.queueStmts.markProcessing)
	now := NowNano()

	for _, item := range items {
		if _, execErr := claimStmt.ExecContext(ctx, now, item.ID); execErr != nil {
			rollbackErr := tx.Rollback()
			return nil, fmt.Errorf("mark processing %d: %w (rollback: %v)", item.ID, execErr, rollbackErr)
		}

		item.Processing = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	return items, nil
}

// MarkProcessed records successful processing of a queue item.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id int64) error {
	if _, err := s.queueStmts.markProcessed.ExecContext(ctx, NowNano(), id); err != nil {
		return fmt.Errorf("mark processed %d: %w", id, err)
	}

	return nil
}

// MarkFailed returns a queue item to the pending state with telemetry, so a
// later poll retries it.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, message string) error {
	if _, err := s.queueStmts.markFailed.ExecContext(ctx, message, id); err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}

	return nil
}

// MarkDead retires a queue item that exhausted its retries. The item is
// marked processed so it stops blocking the queue; the error message keeps
// the failure visible alongside the sync record status.
func (s *SQLiteStore) MarkDead(ctx context.Context, id int64, message string) error {
	s.logger.Warn("retiring queue item after repeated failures", "id", id, "error", message)

	if _, err := s.queueStmts.markDead.ExecContext(ctx, NowNano(), message, id); err != nil {
		return fmt.Errorf("mark dead %d: %w", id, err)
	}

	return nil
}

// ReclaimStale returns processing=1 rows older than the timeout to the
// pending state. Covers claims orphaned by a crash or shutdown mid-item.
func (s *SQLiteStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()

	result, err := s.db.ExecContext(ctx,
		`UPDATE webhook_queue SET processing = 0
		 WHERE processing = 1 AND processed = 0 AND claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: rows affected: %w", err)
	}

	if affected > 0 {
		s.logger.Warn("reclaimed stale queue claims", "count", affected)
	}

	return affected, nil
}

// PurgeProcessed deletes processed queue rows older than the retention
// window. Returns the number of rows deleted.
func (s *SQLiteStore) PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_queue WHERE processed = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge processed queue rows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge processed: rows affected: %w", err)
	}

	if affected > 0 {
		s.logger.Info("purged processed queue rows", "count", affected)
	}

	return affected, nil
}

// QueueCounts returns the pending and in-flight queue depths.
func (s *SQLiteStore) QueueCounts(ctx context.Context) (pending, processing int, err error) {
	var p, pr sql.NullInt64

	if err := s.queueStmts.counts.QueryRowContext(ctx).Scan(&p, &pr); err != nil {
		return 0, 0, fmt.Errorf("queue counts: %w", err)
	}

	return int(p.Int64), int(pr.Int64), nil
}

// --- Maintenance ---

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sync state database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.recordStmts.get, s.recordStmts.insert, s.recordStmts.claim,
		s.recordStmts.release, s.recordStmts.saveSuccess, s.recordStmts.touch,
		s.recordStmts.markConflict, s.recordStmts.clearSyncing, s.recordStmts.statusCounts,
		s.logStmts.append,
		s.conflictStmts.record, s.conflictStmts.listUnresolved, s.conflictStmts.resolve,
		s.queueStmts.insert, s.queueStmts.selectPending, s.queueStmts.markProcessing,
		s.queueStmts.markProcessed, s.queueStmts.markFailed, s.queueStmts.markDead,
		s.queueStmts.counts,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
