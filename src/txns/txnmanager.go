package txns

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Manager owns the transaction lifecycle: it hands out monotonically
// increasing ids (a smaller id means an older transaction, which is
// what wound-wait arbitrates on) and releases every held lock on
// commit or abort.
type Manager struct {
	mu        sync.Mutex
	nextTxnID common.TxnID
	txns      map[common.TxnID]*Transaction

	lockMgr *LockManager
	log     *zap.Logger
}

func NewManager(lockMgr *LockManager, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		txns:    map[common.TxnID]*Transaction{},
		lockMgr: lockMgr,
		log:     log,
	}
}

func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn := NewTransaction(m.nextTxnID, isolation)
	m.txns[m.nextTxnID] = txn
	m.nextTxnID++

	m.log.Debug("began transaction",
		zap.Uint64("txn", uint64(txn.ID())),
		zap.Stringer("isolation", isolation))
	return txn
}

func (m *Manager) Get(id common.TxnID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	return txn, ok
}

func (m *Manager) Commit(txn *Transaction) {
	txn.SetState(Committed)
	m.releaseAllLocks(txn)

	m.log.Debug("committed transaction", zap.Uint64("txn", uint64(txn.ID())))
}

func (m *Manager) Abort(txn *Transaction) {
	txn.SetState(Aborted)
	m.releaseAllLocks(txn)

	m.log.Debug("aborted transaction", zap.Uint64("txn", uint64(txn.ID())))
}

func (m *Manager) releaseAllLocks(txn *Transaction) {
	shared := make([]common.RID, 0, len(txn.SharedLockSet()))
	for rid := range txn.SharedLockSet() {
		shared = append(shared, rid)
	}
	exclusive := make([]common.RID, 0, len(txn.ExclusiveLockSet()))
	for rid := range txn.ExclusiveLockSet() {
		exclusive = append(exclusive, rid)
	}

	for _, rid := range shared {
		m.lockMgr.Unlock(txn, rid)
		delete(txn.SharedLockSet(), rid)
	}
	for _, rid := range exclusive {
		m.lockMgr.Unlock(txn, rid)
		delete(txn.ExclusiveLockSet(), rid)
	}
}
