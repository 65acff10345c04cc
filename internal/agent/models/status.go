package models

import "fmt"

// QueueStatus is the upload queue state of a record. The numeric values are
// persisted in the record store, so they must stay stable.
type QueueStatus int

const (
	StatusNotQueued              QueueStatus = 0
	StatusQueued                 QueueStatus = 1
	StatusSuccess                QueueStatus = 2
	StatusInProgress             QueueStatus = 3
	StatusWaitingForConnectivity QueueStatus = 4
	StatusFailed                 QueueStatus = 5
	StatusStalledBadCredentials  QueueStatus = 6
)

func (s QueueStatus) String() string {
	switch s {
	case StatusNotQueued:
		return "NOT_QUEUED"
	case StatusQueued:
		return "QUEUED"
	case StatusSuccess:
		return "SUCCESS"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusWaitingForConnectivity:
		return "WAITING_FOR_CONNECTIVITY"
	case StatusFailed:
		return "FAILED"
	case StatusStalledBadCredentials:
		return "STALLED_BAD_CREDENTIALS"
	default:
		return fmt.Sprintf("QueueStatus(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined states.
func (s QueueStatus) Valid() bool {
	return s >= StatusNotQueued && s <= StatusStalledBadCredentials
}

// CanEnqueue reports whether a record in state s may be enqueued.
// SUCCESS is terminal; QUEUED/IN_PROGRESS/WAITING are already scheduled.
func (s QueueStatus) CanEnqueue() bool {
	switch s {
	case StatusNotQueued, StatusFailed, StatusStalledBadCredentials:
		return true
	default:
		return false
	}
}

// Queued reports whether the record is actively scheduled for transfer.
func (s QueueStatus) Queued() bool {
	return s == StatusQueued || s == StatusInProgress
}

// HoldsPosition reports whether a record in state s retains its queue
// position. FAILED and WAITING_FOR_CONNECTIVITY records keep their slot so
// processing can resume in the original order; SUCCESS and NOT_QUEUED
// records never hold one.
func (s QueueStatus) HoldsPosition() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusWaitingForConnectivity, StatusFailed:
		return true
	default:
		return false
	}
}
