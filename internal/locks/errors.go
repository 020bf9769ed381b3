package locks

import (
	"errors"
	"fmt"

	"mercato/api/internal/store"
)

var (
	// ErrResourceNotGoverned means the resource kind is not configured for
	// locking; the caller's mutation proceeds ungoverned.
	ErrResourceNotGoverned = errors.New("resource not governed")

	// ErrLockNotFound covers unknown tokens and locks that are no longer active.
	ErrLockNotFound = errors.New("lock not found")

	ErrNotPermitted    = errors.New("not permitted")
	ErrAlreadyActioned = errors.New("conflict already actioned")
	ErrNotActionable   = errors.New("notification has no executable actions")

	// ErrRecordDeleted marks the terminal case: the record was deleted by
	// another actor, which is not a mergeable conflict.
	ErrRecordDeleted = errors.New("record deleted")

	ErrInvalidSettings = errors.New("invalid settings")
	ErrInvalidBase     = errors.New("base log id ahead of current head")
)

// AlreadyLockedError blocks a pessimistic operation. Lock is the current
// holder when one exists; the zero value means no active lock was presented.
type AlreadyLockedError struct {
	Lock store.Lock
}

func (e *AlreadyLockedError) Error() string {
	if e.Lock.OwnerID == "" {
		return "record locked: no active lock token presented"
	}
	return fmt.Sprintf("record locked by %s until %s", e.Lock.OwnerID, e.Lock.ExpiresAt.Format("15:04:05"))
}

// ConflictError carries the durable conflict record created for a stale
// optimistic write.
type ConflictError struct {
	Conflict store.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record lock conflict %s: base %d behind head %d",
		e.Conflict.ID, e.Conflict.BaseActionLogID, e.Conflict.IncomingActionLogID)
}
