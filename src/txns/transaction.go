package txns

import (
	"sync/atomic"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

type TxnState int32

const (
	Growing TxnState = iota
	Shrinking
	Committed
	Aborted
)

func (s TxnState) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	}
	panic("invalid transaction state")
}

type IsolationLevel int32

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	}
	panic("invalid isolation level")
}

// Transaction carries the lock-manager-visible state of one
// transaction. The state field is read and written across goroutines
// (wound-wait aborts a transaction from its rival's goroutine), hence
// the atomic. The lock sets belong to the owning goroutine: a
// transaction does not span goroutines.
type Transaction struct {
	id        common.TxnID
	isolation IsolationLevel
	state     atomic.Int32

	shared    map[common.RID]struct{}
	exclusive map[common.RID]struct{}
}

func NewTransaction(id common.TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:        id,
		isolation: isolation,
		shared:    map[common.RID]struct{}{},
		exclusive: map[common.RID]struct{}{},
	}
}

func (t *Transaction) ID() common.TxnID { return t.id }

func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

func (t *Transaction) State() TxnState { return TxnState(t.state.Load()) }

// SetState is also how a transaction is cancelled externally: a
// waiter observes the ABORTED state and unwinds.
func (t *Transaction) SetState(s TxnState) { t.state.Store(int32(s)) }

func (t *Transaction) IsSharedLocked(rid common.RID) bool {
	_, ok := t.shared[rid]
	return ok
}

func (t *Transaction) IsExclusiveLocked(rid common.RID) bool {
	_, ok := t.exclusive[rid]
	return ok
}

func (t *Transaction) SharedLockSet() map[common.RID]struct{} { return t.shared }

func (t *Transaction) ExclusiveLockSet() map[common.RID]struct{} { return t.exclusive }
