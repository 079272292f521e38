package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tonimelisma/erpsync-go/internal/frappe"
)

// Remote is the executor's view of one endpoint. *frappe.Client satisfies
// it; tests substitute fakes.
type Remote interface {
	Name() string
	Get(ctx context.Context, doctype, name string) (frappe.Document, error)
	List(ctx context.Context, doctype string, filters map[string]any, limit, offset int) ([]frappe.Document, error)
	Create(ctx context.Context, doctype string, fields frappe.Document) (frappe.Document, error)
	Update(ctx context.Context, doctype, name string, fields frappe.Document) (frappe.Document, int, error)
	Delete(ctx context.Context, doctype, name string) error
}

var _ Remote = (*frappe.Client)(nil)

// writeStripFields are removed from every outbound payload in addition to
// the hash-excluded set: destination-owned metadata plus Frappe's internal
// bookkeeping fields, which the destination rejects or mangles.
var writeStripFields = []string{
	"doctype",
	"_user_tags",
	"_comments",
	"_assign",
	"_liked_by",
}

// ExecutorConfig carries the sync-rule portion of the configuration.
type ExecutorConfig struct {
	// Policy decides the winner when both sides have drifted.
	Policy Policy
	// ExtraExcludedFields extends the default hash/write strip set.
	ExtraExcludedFields []string
	// MaxRetries bounds retry_count before a record goes terminally failed.
	MaxRetries int
	// Doctypes is the inclusion list for bulk operations.
	Doctypes []string
	// BatchSize is the bulk-sync page size.
	BatchSize int
}

// Executor orchestrates one-directional copies: fetch both sides, resolve
// the direction, write through the destination client, persist the outcome.
// At most one operation runs per (doctype, docname) at a time, enforced by
// an in-process keyed mutex plus the persisted is_syncing claim.
type Executor struct {
	cloud  Remote
	local  Remote
	store  Store
	cfg    ExecutorConfig
	hashEx map[string]bool
	locks  *keyedMutex
	logger *slog.Logger
}

// NewExecutor wires an executor from its dependencies.
func NewExecutor(cloud, local Remote, store Store, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		cloud:  cloud,
		local:  local,
		store:  store,
		cfg:    cfg,
		hashEx: frappe.ExcludedSet(cfg.ExtraExcludedFields),
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

// Skip reasons returned in Outcome.Reason.
const (
	ReasonAlreadySyncing = "already syncing"
	ReasonNoChanges      = "no changes"
	ReasonAbsentBothEnds = "absent on both sides"
)

// SyncOne synchronizes a single key. hint is the webhook-derived direction
// (DirectionNone for on-demand syncs); it is honored only when consistent
// with the resolver's decision. Idempotent: repeated calls on an unchanged
// key return Skipped(no changes).
func (e *Executor) SyncOne(ctx context.Context, doctype, docname string, hint Direction) Outcome {
	key := doctype + "/" + docname

	if !e.locks.TryLock(key) {
		return Outcome{Kind: OutcomeSkipped, Reason: ReasonAlreadySyncing}
	}
	defer e.locks.Unlock(key)

	record, err := e.store.GetOrCreateSyncRecord(ctx, doctype, docname)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	claimed, err := e.store.ClaimSyncRecord(ctx, record.ID)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	if !claimed {
		return Outcome{Kind: OutcomeSkipped, Reason: ReasonAlreadySyncing}
	}

	// The claim must be released on every exit path, including panic and
	// caller cancellation, so the release uses a detached context.
	defer func() {
		if releaseErr := e.store.ReleaseSyncRecord(context.WithoutCancel(ctx), record.ID); releaseErr != nil {
			e.logger.Error("releasing sync claim",
				slog.String("doctype", doctype),
				slog.String("docname", docname),
				slog.String("error", releaseErr.Error()),
			)
		}
	}()

	return e.syncClaimed(ctx, doctype, docname, record, hint)
}

// syncClaimed runs the resolve/apply sequence while holding the claim.
// A TimestampMismatch that survived the client-level retry triggers exactly
// one refetch-and-re-resolve round before surfacing as a failure, which
// bounds the work under a hot destination without risking livelock.
func (e *Executor) syncClaimed(
	ctx context.Context, doctype, docname string, record *SyncRecord, hint Direction,
) Outcome {
	const maxResolutions = 2

	conflictRecorded := false

	for attempt := 1; ; attempt++ {
		cloudDoc, err := e.cloud.Get(ctx, doctype, docname)
		if err != nil {
			return e.fail(ctx, doctype, docname, record, DirectionNone, fmt.Errorf("fetch cloud: %w", err))
		}

		localDoc, err := e.local.Get(ctx, doctype, docname)
		if err != nil {
			return e.fail(ctx, doctype, docname, record, DirectionNone, fmt.Errorf("fetch local: %w", err))
		}

		cloudHash, err := frappe.Hash(cloudDoc, e.hashEx)
		if err != nil {
			return e.fail(ctx, doctype, docname, record, DirectionNone, err)
		}

		localHash, err := frappe.Hash(localDoc, e.hashEx)
		if err != nil {
			return e.fail(ctx, doctype, docname, record, DirectionNone, err)
		}

		direction := ApplyHint(Resolve(cloudHash, localHash, record), hint)
		resolution := ""

		switch direction {
		case DirectionSkip:
			return e.skip(ctx, doctype, docname, record, ReasonAbsentBothEnds)
		case DirectionNone:
			return e.skip(ctx, doctype, docname, record, ReasonNoChanges)
		case DirectionConflict:
			decision := Decide(e.cfg.Policy, cloudDoc, localDoc)

			if !conflictRecorded {
				if err := e.recordConflict(ctx, doctype, docname, cloudDoc, localDoc, decision); err != nil {
					return Outcome{Kind: OutcomeFailed, Err: err}
				}

				conflictRecorded = true
			}

			if decision.Manual {
				return e.haltOnConflict(ctx, doctype, docname, record)
			}

			direction = decision.Direction
			resolution = decision.Resolution
		}

		outcome, applyErr := e.apply(ctx, doctype, docname, record, direction, cloudDoc, localDoc, resolution)
		if applyErr == nil {
			return outcome
		}

		if errors.Is(applyErr, frappe.ErrTimestampMismatch) && attempt < maxResolutions {
			e.logger.Warn("timestamp mismatch survived client retry, re-resolving",
				slog.String("doctype", doctype),
				slog.String("docname", docname),
			)

			continue
		}

		return e.fail(ctx, doctype, docname, record, direction, applyErr)
	}
}

// apply performs the chosen one-directional copy and persists success state.
func (e *Executor) apply(
	ctx context.Context,
	doctype, docname string,
	record *SyncRecord,
	direction Direction,
	cloudDoc, localDoc frappe.Document,
	resolution string,
) (Outcome, error) {
	var dst Remote

	var srcDoc, dstDoc frappe.Document

	switch direction {
	case DirectionCloudToLocal:
		dst, srcDoc, dstDoc = e.local, cloudDoc, localDoc
	case DirectionLocalToCloud:
		dst, srcDoc, dstDoc = e.cloud, localDoc, cloudDoc
	default:
		return Outcome{}, fmt.Errorf("sync: unexpected direction %q for %s/%s", direction, doctype, docname)
	}

	if srcDoc == nil {
		// The resolver never routes an absent source here.
		return Outcome{}, fmt.Errorf("sync: nil source document for %s/%s direction %s", doctype, docname, direction)
	}

	payload := e.cleanForWrite(srcDoc)

	var (
		written frappe.Document
		action  string
		retries int
		err     error
	)

	if dstDoc != nil {
		action = ActionUpdate
		payload["modified"] = dstDoc.Modified()
		written, retries, err = dst.Update(ctx, doctype, docname, payload)
	} else {
		action = ActionCreate

		delete(payload, "name")
		written, err = dst.Create(ctx, doctype, payload)
	}

	if err != nil {
		return Outcome{}, err
	}

	// Both hashes converge on the source content hash: the destination now
	// carries the same excluded-field-stripped fields by construction.
	newHash, err := frappe.Hash(srcDoc, e.hashEx)
	if err != nil {
		return Outcome{}, err
	}

	cloudModified, localModified := srcDoc.Modified(), written.Modified()
	if direction == DirectionLocalToCloud {
		cloudModified, localModified = written.Modified(), srcDoc.Modified()
	}

	if err := e.store.SaveSyncSuccess(ctx, record.ID, newHash, direction, cloudModified, localModified); err != nil {
		return Outcome{}, err
	}

	message := e.successMessage(action, direction, resolution, retries)

	if err := e.store.AppendLog(ctx, &LogEntry{
		Doctype:   doctype,
		Docname:   docname,
		Action:    action,
		Direction: direction,
		Status:    LogSuccess,
		Message:   message,
	}); err != nil {
		return Outcome{}, err
	}

	e.logger.Info("synced",
		slog.String("doctype", doctype),
		slog.String("docname", docname),
		slog.String("direction", string(direction)),
		slog.String("action", action),
	)

	return Outcome{Kind: OutcomeSynced, Direction: direction}, nil
}

// successMessage composes the audit message for a successful copy.
func (e *Executor) successMessage(action string, direction Direction, resolution string, retries int) string {
	to, from := "local", "cloud"
	if direction == DirectionLocalToCloud {
		to, from = "cloud", "local"
	}

	message := fmt.Sprintf("%sd on %s from %s", action, to, from)

	if resolution != "" {
		message += fmt.Sprintf(" (conflict resolved: %s)", resolution)
	}

	if retries > 0 {
		message += " (retried after timestamp mismatch)"
	}

	return message
}

// cleanForWrite strips the hash-excluded set plus destination-owned and
// bookkeeping fields from an outbound payload.
func (e *Executor) cleanForWrite(doc frappe.Document) frappe.Document {
	payload := make(frappe.Document, len(doc))

	for k, v := range doc {
		if e.hashEx[k] {
			continue
		}

		payload[k] = v
	}

	for _, f := range writeStripFields {
		delete(payload, f)
	}

	return payload
}

// marshalSnapshot serializes a document for the conflict audit trail.
func marshalSnapshot(doc frappe.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("sync: marshaling conflict snapshot: %w", err)
	}

	return string(data), nil
}

// recordConflict persists the divergence audit: full snapshots of both
// sides, pre-marked resolved when an automatic policy picked a winner.
func (e *Executor) recordConflict(
	ctx context.Context,
	doctype, docname string,
	cloudDoc, localDoc frappe.Document,
	decision Decision,
) error {
	cloudData, err := marshalSnapshot(cloudDoc)
	if err != nil {
		return err
	}

	localData, err := marshalSnapshot(localDoc)
	if err != nil {
		return err
	}

	record := &ConflictRecord{
		ID:            uuid.New().String(),
		Doctype:       doctype,
		Docname:       docname,
		CloudData:     cloudData,
		LocalData:     localData,
		CloudModified: cloudDoc.Modified(),
		LocalModified: localDoc.Modified(),
	}

	if !decision.Manual {
		record.Resolved = true
		record.Resolution = decision.Resolution
		record.ResolvedAt = NowNano()
	}

	return e.store.RecordConflict(ctx, record)
}

// haltOnConflict records the conflict status and audit row for a key under
// the manual policy. The key stays halted until external resolution changes
// the underlying documents or hashes.
func (e *Executor) haltOnConflict(ctx context.Context, doctype, docname string, record *SyncRecord) Outcome {
	if err := e.store.MarkConflict(ctx, record.ID); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	if err := e.store.AppendLog(ctx, &LogEntry{
		Doctype:   doctype,
		Docname:   docname,
		Action:    ActionSkip,
		Direction: DirectionConflict,
		Status:    LogConflict,
		Message:   "both sides diverged, manual resolution required",
	}); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	e.logger.Warn("conflict requires manual resolution",
		slog.String("doctype", doctype),
		slog.String("docname", docname),
	)

	return Outcome{Kind: OutcomeConflict}
}

// skip records a no-op pass over a key.
func (e *Executor) skip(ctx context.Context, doctype, docname string, record *SyncRecord, reason string) Outcome {
	if err := e.store.TouchSyncRecord(ctx, record.ID); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	if err := e.store.AppendLog(ctx, &LogEntry{
		Doctype:   doctype,
		Docname:   docname,
		Action:    ActionSkip,
		Direction: DirectionNone,
		Status:    LogSkipped,
		Message:   reason,
	}); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// fail records error telemetry and the audit row for a failed operation.
// Authentication and validation errors are terminal: retrying cannot fix a
// bad credential or a document the destination rejects, so the record goes
// straight to failed.
func (e *Executor) fail(
	ctx context.Context, doctype, docname string, record *SyncRecord, direction Direction, err error,
) Outcome {
	maxRetries := e.cfg.MaxRetries
	if errors.Is(err, frappe.ErrUnauthorized) || errors.Is(err, frappe.ErrValidation) {
		maxRetries = 0
	}

	// Telemetry writes use a detached context so a canceled sync still
	// leaves an accurate record behind.
	storeCtx := context.WithoutCancel(ctx)

	if saveErr := e.store.SaveSyncError(storeCtx, record.ID, err.Error(), maxRetries); saveErr != nil {
		e.logger.Error("saving sync error state", slog.String("error", saveErr.Error()))
	}

	if logErr := e.store.AppendLog(storeCtx, &LogEntry{
		Doctype:   doctype,
		Docname:   docname,
		Action:    ActionUpdate,
		Direction: direction,
		Status:    LogFailed,
		Message:   err.Error(),
	}); logErr != nil {
		e.logger.Error("appending failure audit row", slog.String("error", logErr.Error()))
	}

	e.logger.Error("sync failed",
		slog.String("doctype", doctype),
		slog.String("docname", docname),
		slog.String("error", err.Error()),
	)

	return Outcome{Kind: OutcomeFailed, Err: err}
}

// SyncDoctype synchronizes every document of one doctype present on either
// side, up to limit names (0 = config batch size). A non-empty since
// restricts the listing to documents modified strictly after that
// Frappe-format timestamp, for cheap incremental runs.
func (e *Executor) SyncDoctype(ctx context.Context, doctype, since string, limit int) (Summary, error) {
	if limit <= 0 {
		limit = e.cfg.BatchSize
	}

	var summary Summary

	names, err := e.collectNames(ctx, doctype, since, limit)
	if err != nil {
		return summary, err
	}

	e.logger.Info("bulk syncing doctype",
		slog.String("doctype", doctype),
		slog.Int("documents", len(names)),
	)

	for _, name := range names {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		summary.Add(e.SyncOne(ctx, doctype, name, DirectionNone))
	}

	return summary, nil
}

// SyncAll runs SyncDoctype over the configured doctype list.
func (e *Executor) SyncAll(ctx context.Context, since string) (Summary, error) {
	var total Summary

	for _, doctype := range e.cfg.Doctypes {
		summary, err := e.SyncDoctype(ctx, doctype, since, 0)

		total.Merge(summary)

		if err != nil {
			return total, fmt.Errorf("sync doctype %s: %w", doctype, err)
		}
	}

	return total, nil
}

// collectNames returns the union of document names on both sides, in a
// stable first-seen order (cloud listing first).
func (e *Executor) collectNames(ctx context.Context, doctype, since string, limit int) ([]string, error) {
	var filters map[string]any
	if since != "" {
		filters = map[string]any{"modified": []any{">", since}}
	}

	cloudDocs, err := e.cloud.List(ctx, doctype, filters, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("list cloud %s: %w", doctype, err)
	}

	localDocs, err := e.local.List(ctx, doctype, filters, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("list local %s: %w", doctype, err)
	}

	seen := make(map[string]bool, len(cloudDocs)+len(localDocs))

	var names []string

	for _, doc := range cloudDocs {
		if name := doc.Name(); name != "" && !seen[name] {
			seen[name] = true

			names = append(names, name)
		}
	}

	for _, doc := range localDocs {
		if name := doc.Name(); name != "" && !seen[name] {
			seen[name] = true

			names = append(names, name)
		}
	}

	return names, nil
}
