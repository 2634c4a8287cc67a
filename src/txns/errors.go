package txns

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// ErrUpgradeOnReadUncommitted rejects a lock upgrade under
// READ_UNCOMMITTED without aborting the transaction: there is no
// shared lock to upgrade at that level.
var ErrUpgradeOnReadUncommitted = errors.New(
	"lock upgrade is not supported under READ_UNCOMMITTED",
)

type AbortReason uint8

const (
	Deadlock AbortReason = iota
	LockSharedOnReadUncommitted
	LockOnShrinking
	UpgradeConflict
)

func (r AbortReason) String() string {
	switch r {
	case Deadlock:
		return "DEADLOCK"
	case LockSharedOnReadUncommitted:
		return "LOCKSHARED_ON_READ_UNCOMMITTED"
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	}
	panic("invalid abort reason")
}

// TxnAbortError unwinds a lock call whose transaction has been (or
// must be) aborted. The transaction's state is set to ABORTED before
// the error is returned.
type TxnAbortError struct {
	TxnID  common.TxnID
	Reason AbortReason
}

func (e *TxnAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}
