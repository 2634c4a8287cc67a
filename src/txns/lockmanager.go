package txns

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

type LockMode uint8

const (
	ModeShared LockMode = iota
	ModeExclusive
)

func (m LockMode) String() string {
	if m == ModeShared {
		return "S"
	}
	return "X"
}

type lockRequest struct {
	txn     *Transaction
	mode    LockMode
	granted bool
}

// lockRow is the per-RID lock state: a FIFO request queue, the mutex
// and condition variable waiters sleep on, and the single in-flight
// upgrade slot.
type lockRow struct {
	mtx       sync.Mutex
	cv        *sync.Cond
	queue     []*lockRequest
	upgrading common.TxnID
}

func newLockRow() *lockRow {
	row := &lockRow{upgrading: common.NilTxnID}
	row.cv = sync.NewCond(&row.mtx)
	return row
}

// LockManager implements strict two-phase row locking with
// shared/exclusive modes, S→X upgrades and wound-wait deadlock
// prevention: an older transaction aborts ("wounds") every younger
// conflicting request ahead of it instead of waiting, while a younger
// transaction waits behind older conflicts. Waits carry no timeout; a
// waiter is cancelled by its transaction being set to ABORTED, which
// the wait predicate observes.
//
// Latching: the global latch only guards the row map. Each row's
// mutex guards that row's queue and upgrade slot, and is the only
// lock held across cv waits.
type LockManager struct {
	latch sync.Mutex
	rows  map[common.RID]*lockRow

	log *zap.Logger
}

func NewLockManager(log *zap.Logger) *LockManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &LockManager{
		rows: map[common.RID]*lockRow{},
		log:  log,
	}
}

func (m *LockManager) row(rid common.RID) *lockRow {
	m.latch.Lock()
	defer m.latch.Unlock()

	row, ok := m.rows[rid]
	if !ok {
		row = newLockRow()
		m.rows[rid] = row
	}
	return row
}

func (m *LockManager) abort(txn *Transaction, reason AbortReason) *TxnAbortError {
	txn.SetState(Aborted)
	return &TxnAbortError{TxnID: txn.ID(), Reason: reason}
}

// LockShared takes a shared lock on rid. Allowed in any phase under
// READ_COMMITTED, only while GROWING under REPEATABLE_READ, never
// under READ_UNCOMMITTED.
func (m *LockManager) LockShared(txn *Transaction, rid common.RID) error {
	if txn.IsSharedLocked(rid) || txn.IsExclusiveLocked(rid) {
		return nil
	}

	if txn.State() == Aborted {
		return &TxnAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}
	if txn.IsolationLevel() == ReadUncommitted {
		return m.abort(txn, LockSharedOnReadUncommitted)
	}
	if txn.IsolationLevel() == RepeatableRead && txn.State() == Shrinking {
		return m.abort(txn, LockOnShrinking)
	}

	row := m.row(rid)
	row.mtx.Lock()

	req := &lockRequest{txn: txn, mode: ModeShared}
	row.queue = append(row.queue, req)

	m.wound(row, req)
	row.cv.Broadcast()

	for txn.State() != Aborted && !sharedGrantable(row, req) {
		row.cv.Wait()
	}

	if txn.State() == Aborted {
		row.mtx.Unlock()
		return &TxnAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}

	req.granted = true
	row.mtx.Unlock()

	txn.SharedLockSet()[rid] = struct{}{}
	m.log.Debug("granted S lock",
		zap.Uint64("txn", uint64(txn.ID())),
		zap.String("rid", rid.String()))
	return nil
}

// LockExclusive takes an exclusive lock on rid. Allowed only while
// GROWING at every isolation level.
func (m *LockManager) LockExclusive(txn *Transaction, rid common.RID) error {
	if txn.IsExclusiveLocked(rid) {
		return nil
	}

	if txn.State() == Aborted {
		return &TxnAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}
	if txn.State() == Shrinking {
		return m.abort(txn, LockOnShrinking)
	}

	row := m.row(rid)
	row.mtx.Lock()

	req := &lockRequest{txn: txn, mode: ModeExclusive}
	row.queue = append(row.queue, req)

	m.wound(row, req)
	row.cv.Broadcast()

	for txn.State() != Aborted && !exclusiveGrantable(row, req) {
		row.cv.Wait()
	}

	if txn.State() == Aborted {
		row.mtx.Unlock()
		return &TxnAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}

	req.granted = true
	row.mtx.Unlock()

	txn.ExclusiveLockSet()[rid] = struct{}{}
	m.log.Debug("granted X lock",
		zap.Uint64("txn", uint64(txn.ID())),
		zap.String("rid", rid.String()))
	return nil
}

// LockUpgrade converts a held shared lock into an exclusive one. The
// replacement X request is placed before the first waiting X request
// so the upgrader cannot starve behind later writers. At most one
// upgrade may be in flight per row.
func (m *LockManager) LockUpgrade(txn *Transaction, rid common.RID) error {
	if txn.IsExclusiveLocked(rid) {
		return nil
	}

	if txn.State() == Aborted {
		return &TxnAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}
	if txn.IsolationLevel() == ReadUncommitted {
		return ErrUpgradeOnReadUncommitted
	}
	if txn.State() == Shrinking {
		return m.abort(txn, LockOnShrinking)
	}

	row := m.row(rid)
	row.mtx.Lock()

	if row.upgrading != common.NilTxnID {
		row.mtx.Unlock()
		return m.abort(txn, UpgradeConflict)
	}
	row.upgrading = txn.ID()

	// Drop the shared request and re-enqueue as exclusive, ahead of
	// any waiting writers.
	for i, r := range row.queue {
		if r.txn.ID() == txn.ID() {
			row.queue = append(row.queue[:i], row.queue[i+1:]...)
			break
		}
	}

	req := &lockRequest{txn: txn, mode: ModeExclusive}
	inserted := false
	for i, r := range row.queue {
		if r.mode == ModeExclusive {
			row.queue = append(row.queue[:i],
				append([]*lockRequest{req}, row.queue[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		row.queue = append(row.queue, req)
	}

	m.wound(row, req)
	row.cv.Broadcast()

	for txn.State() != Aborted && !exclusiveGrantable(row, req) {
		row.cv.Wait()
	}

	row.upgrading = common.NilTxnID

	if txn.State() == Aborted {
		row.mtx.Unlock()
		return &TxnAbortError{TxnID: txn.ID(), Reason: Deadlock}
	}

	req.granted = true
	row.mtx.Unlock()

	delete(txn.SharedLockSet(), rid)
	txn.ExclusiveLockSet()[rid] = struct{}{}
	m.log.Debug("upgraded lock to X",
		zap.Uint64("txn", uint64(txn.ID())),
		zap.String("rid", rid.String()))
	return nil
}

// Unlock releases the transaction's lock on rid. Always succeeds;
// drives the GROWING → SHRINKING transition of strict 2PL. Under
// READ_COMMITTED only an exclusive release shrinks (shared locks are
// short locks at that level).
func (m *LockManager) Unlock(txn *Transaction, rid common.RID) bool {
	m.latch.Lock()
	row, ok := m.rows[rid]
	m.latch.Unlock()
	if !ok {
		return true
	}

	row.mtx.Lock()

	var released *lockRequest
	for i, r := range row.queue {
		if r.txn.ID() == txn.ID() {
			released = r
			row.queue = append(row.queue[:i], row.queue[i+1:]...)
			break
		}
	}

	if released != nil {
		shrinks := true
		if txn.IsolationLevel() == ReadCommitted {
			shrinks = released.mode == ModeExclusive
		}
		if shrinks && txn.State() == Growing {
			txn.SetState(Shrinking)
		}

		if released.mode == ModeShared {
			delete(txn.SharedLockSet(), rid)
		} else {
			delete(txn.ExclusiveLockSet(), rid)
		}
	}

	row.cv.Broadcast()
	row.mtx.Unlock()
	return true
}

// wound walks the queue in front of req and aborts every younger
// conflicting transaction: the wounded request is dequeued and its
// transaction's state set to ABORTED for its waiter (if any) to
// observe. Older conflicts stay — req will wait behind them.
//
// Caller holds row.mtx.
func (m *LockManager) wound(row *lockRow, req *lockRequest) {
	i := 0
	for i < len(row.queue) {
		r := row.queue[i]
		if r == req {
			return
		}

		conflicts := req.mode == ModeExclusive || r.mode == ModeExclusive
		if conflicts && r.txn.ID() > req.txn.ID() {
			r.txn.SetState(Aborted)
			row.queue = append(row.queue[:i], row.queue[i+1:]...)
			row.cv.Broadcast()

			m.log.Debug("wounded transaction",
				zap.Uint64("wounded", uint64(r.txn.ID())),
				zap.Uint64("by", uint64(req.txn.ID())))
			continue
		}
		i++
	}

	assert.Assert(false, "request of txn %d vanished from its queue", req.txn.ID())
}

// sharedGrantable: no exclusive request precedes ours in the queue.
// Caller holds row.mtx.
func sharedGrantable(row *lockRow, req *lockRequest) bool {
	for _, r := range row.queue {
		if r == req {
			return true
		}
		if r.mode == ModeExclusive {
			return false
		}
	}
	return false
}

// exclusiveGrantable: our request heads the queue.
// Caller holds row.mtx.
func exclusiveGrantable(row *lockRow, req *lockRequest) bool {
	return len(row.queue) > 0 && row.queue[0] == req
}
