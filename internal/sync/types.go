// Package sync implements the core of the bidirectional replication engine:
// the persistent state store, the direction resolver, the conflict policy,
// the sync executor, and the webhook queue worker.
package sync

import (
	"time"
)

// Direction indicates who writes to whom for one sync operation.
type Direction string

const (
	DirectionNone         Direction = "none"
	DirectionCloudToLocal Direction = "cloud_to_local"
	DirectionLocalToCloud Direction = "local_to_cloud"
	DirectionConflict     Direction = "conflict"
	DirectionSkip         Direction = "skip"
)

// Status is the persisted state of a sync record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSynced   Status = "synced"
	StatusError    Status = "error"
	StatusFailed   Status = "failed"
	StatusConflict Status = "conflict"
)

// Source labels which endpoint a webhook event came from.
type Source string

const (
	SourceCloud Source = "cloud"
	SourceLocal Source = "local"
)

// Policy is the configured conflict resolution rule.
type Policy string

const (
	PolicyLatestTimestamp Policy = "latest_timestamp"
	PolicyCloudWins       Policy = "cloud_wins"
	PolicyLocalWins       Policy = "local_wins"
	PolicyManual          Policy = "manual"
)

// ValidPolicy reports whether p is one of the four known policies.
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyLatestTimestamp, PolicyCloudWins, PolicyLocalWins, PolicyManual:
		return true
	default:
		return false
	}
}

// SyncRecord tracks the last known synced state of one (doctype, docname)
// pair. CloudHash/LocalHash are empty until the side is first observed.
type SyncRecord struct {
	ID            int64
	Doctype       string
	Docname       string
	CloudHash     string
	LocalHash     string
	CloudModified string // raw remote timestamp, informational
	LocalModified string
	LastSynced    int64 // unix nanos, 0 = never
	LastDirection Direction
	IsSyncing     bool
	Status        Status
	ErrorMessage  string
	RetryCount    int
	CreatedAt     int64
	UpdatedAt     int64
}

// LogEntry is one append-only audit row.
type LogEntry struct {
	ID        int64
	Timestamp int64
	Doctype   string
	Docname   string
	Action    string // create, update, delete, skip
	Direction Direction
	Status    string // success, failed, conflict, skipped
	Message   string
}

// Audit log action and status values.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionSkip   = "skip"

	LogSuccess  = "success"
	LogFailed   = "failed"
	LogConflict = "conflict"
	LogSkipped  = "skipped"
)

// ConflictRecord is the persistent audit of one divergence event: full JSON
// snapshots of both sides at detection time. Auto-resolved conflicts carry
// Resolved=true and a Resolution tag; manual-policy conflicts stay unresolved
// until an external admin operation clears them.
type ConflictRecord struct {
	ID            string
	Doctype       string
	Docname       string
	CloudData     string // JSON snapshot
	LocalData     string
	CloudModified string
	LocalModified string
	Resolved      bool
	Resolution    string
	ResolvedAt    int64 // unix nanos, 0 = unresolved
	CreatedAt     int64
}

// Resolution tags recorded on auto-resolved conflicts.
const (
	ResolutionCloudWinsByTimestamp = "cloud_wins_by_timestamp"
	ResolutionLocalWinsByTimestamp = "local_wins_by_timestamp"
	ResolutionCloudWins            = "cloud_wins"
	ResolutionLocalWins            = "local_wins"
)

// QueueItem is one durable webhook event awaiting processing.
type QueueItem struct {
	ID           int64
	Source       Source
	Doctype      string
	Docname      string
	Action       string // create, update, delete
	Payload      string // raw JSON
	Processed    bool
	Processing   bool
	CreatedAt    int64
	ProcessedAt  int64 // unix nanos, 0 = not yet
	RetryCount   int
	ErrorMessage string
}

// OutcomeKind classifies the result of a single executor operation.
type OutcomeKind string

const (
	OutcomeSynced   OutcomeKind = "synced"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeConflict OutcomeKind = "conflict"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the result of one SyncOne invocation.
type Outcome struct {
	Kind      OutcomeKind
	Direction Direction // set when Kind == OutcomeSynced
	Reason    string    // set when Kind == OutcomeSkipped
	Err       error     // set when Kind == OutcomeFailed
}

// Summary aggregates Outcome counts across a bulk sync.
type Summary struct {
	Total     int
	Synced    int
	Skipped   int
	Conflicts int
	Failed    int
}

// Add folds one outcome into the summary.
func (s *Summary) Add(o Outcome) {
	s.Total++

	switch o.Kind {
	case OutcomeSynced:
		s.Synced++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeConflict:
		s.Conflicts++
	case OutcomeFailed:
		s.Failed++
	}
}

// Merge folds another summary into the receiver.
func (s *Summary) Merge(other Summary) {
	s.Total += other.Total
	s.Synced += other.Synced
	s.Skipped += other.Skipped
	s.Conflicts += other.Conflicts
	s.Failed += other.Failed
}

// NowNano returns the current time as unix nanoseconds, the timestamp
// representation used throughout the state database.
func NowNano() int64 {
	return time.Now().UnixNano()
}
