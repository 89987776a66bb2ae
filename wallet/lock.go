package wallet

import (
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// LockManager tracks coins a caller has provisionally committed to an
// in-flight spend but that have not yet been confirmed spent in the
// ledger. SpendableBalance subtracts locked coins from the confirmed
// balance so two concurrent send calls can't both select the same coin.
type LockManager struct {
	mu     sync.Mutex
	locked map[chainhash.Hash]struct{}
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locked: make(map[chainhash.Hash]struct{})}
}

// Lock marks names as locked, all of them or none: if any name is already
// held it returns ErrOutputLocked and leaves the rest untouched, so a
// caller assembling a spend either gets its whole input set or backs off.
func (m *LockManager) Lock(names ...chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		if _, held := m.locked[n]; held {
			return ErrOutputLocked
		}
	}
	for _, n := range names {
		m.locked[n] = struct{}{}
	}
	return nil
}

// Unlock releases names, called once a spend either confirms (the ledger
// now reflects it directly) or is abandoned.
func (m *LockManager) Unlock(names ...chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.locked, n)
	}
}

// IsLocked reports whether name is currently locked.
func (m *LockManager) IsLocked(name chainhash.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locked[name]
	return ok
}

// LockedAmount sums the Amount of every record in recs whose Coin.Name()
// is currently locked, used by SpendableBalance to discount the confirmed
// total.
func (m *LockManager) LockedAmount(recs []WalletCoinRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, r := range recs {
		if _, ok := m.locked[r.Coin.Name()]; ok {
			total += int64(r.Coin.Amount)
		}
	}
	return total
}
