package wallet

import (
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/projwallet/storage"
)

var txLedgerBucket = []byte("wallet-tx-ledger")

// TxLedger is the table of confirmed and pending TransactionRecord, keyed
// by transaction name.
type TxLedger struct {
	db walletdb.DB
}

// NewTxLedger returns a TxLedger backed by db.
func NewTxLedger(db walletdb.DB) *TxLedger {
	return &TxLedger{db: db}
}

// Add inserts or overwrites a transaction record.
func (l *TxLedger) Add(tx TransactionRecord) error {
	return l.db.Update(func(dbtx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(dbtx, txLedgerBucket)
		if err != nil {
			return err
		}
		enc, err := storage.Encode(tx)
		if err != nil {
			return err
		}
		return bucket.Put(tx.Name[:], enc)
	}, func() {})
}

// SetConfirmed marks a transaction confirmed at height, idempotently.
func (l *TxLedger) SetConfirmed(name chainhash.Hash, height uint32) error {
	return l.mutate(name, func(tx *TransactionRecord) {
		tx.Confirmed = true
		tx.ConfirmedAtHeight = height
	})
}

// IncrementSent records one more send attempt against a transaction, along
// with the peer, status, and error observed. The transaction is never
// removed by this call so the retry loop can resend it.
func (l *TxLedger) IncrementSent(name chainhash.Hash, status SendStatus) error {
	return l.mutate(name, func(tx *TransactionRecord) {
		tx.Sent++
		tx.SentTo = append(tx.SentTo, status)
	})
}

func (l *TxLedger) mutate(name chainhash.Hash, fn func(*TransactionRecord)) error {
	return l.db.Update(func(dbtx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(dbtx, txLedgerBucket)
		if err != nil {
			return err
		}
		raw := bucket.Get(name[:])
		if raw == nil {
			return nil
		}
		var tx TransactionRecord
		if err := storage.Decode(raw, &tx); err != nil {
			return err
		}
		fn(&tx)
		enc, err := storage.Encode(tx)
		if err != nil {
			return err
		}
		return bucket.Put(name[:], enc)
	}, func() {})
}

// GetByName returns a transaction record by name.
func (l *TxLedger) GetByName(name chainhash.Hash) (TransactionRecord, bool, error) {
	var tx TransactionRecord
	var found bool
	err := l.db.View(func(dbtx walletdb.ReadTx) error {
		bucket := dbtx.ReadBucket(txLedgerBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(name[:])
		if raw == nil {
			return nil
		}
		found = true
		return storage.Decode(raw, &tx)
	}, func() {})
	return tx, found, err
}

// GetUnconfirmedForWallet returns every unconfirmed transaction attributed
// to walletID.
func (l *TxLedger) GetUnconfirmedForWallet(walletID uint32) ([]TransactionRecord, error) {
	return l.filter(func(tx TransactionRecord) bool {
		return tx.WalletID == walletID && !tx.Confirmed
	})
}

// GetAllUnconfirmed returns every unconfirmed transaction, across all
// wallets, used by NewCoinState to reconcile pending sends.
func (l *TxLedger) GetAllUnconfirmed() ([]TransactionRecord, error) {
	return l.filter(func(tx TransactionRecord) bool { return !tx.Confirmed })
}

// GetAllTransactionsForWallet returns every transaction for walletID,
// optionally restricted to a single TransactionType.
func (l *TxLedger) GetAllTransactionsForWallet(walletID uint32, typ *TransactionType) ([]TransactionRecord, error) {
	return l.filter(func(tx TransactionRecord) bool {
		if tx.WalletID != walletID {
			return false
		}
		return typ == nil || tx.Type == *typ
	})
}

// GetTransactionAbove returns every confirmed transaction with
// ConfirmedAtHeight > h.
func (l *TxLedger) GetTransactionAbove(h uint32) ([]TransactionRecord, error) {
	return l.filter(func(tx TransactionRecord) bool {
		return tx.Confirmed && tx.ConfirmedAtHeight > h
	})
}

// CountUnconfirmed returns the number of unconfirmed transactions across
// every wallet, for the metrics package's pending-send gauge.
func (l *TxLedger) CountUnconfirmed() (int, error) {
	all, err := l.GetAllUnconfirmed()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (l *TxLedger) filter(pred func(TransactionRecord) bool) ([]TransactionRecord, error) {
	var out []TransactionRecord
	err := l.db.View(func(dbtx walletdb.ReadTx) error {
		bucket := dbtx.ReadBucket(txLedgerBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(_, v []byte) error {
			var tx TransactionRecord
			if err := storage.Decode(v, &tx); err != nil {
				return err
			}
			if pred(tx) {
				out = append(out, tx)
			}
			return nil
		})
	}, func() {})
	return out, err
}

// FindUnconfirmedByAddition returns the unconfirmed transaction for
// walletID whose Additions contains a coin named name, used during coin
// classification to recognize a confirming addition that closes out a
// pending outgoing transaction rather than starting a new incoming one.
func (l *TxLedger) FindUnconfirmedByAddition(walletID uint32, name chainhash.Hash) (TransactionRecord, bool, error) {
	txs, err := l.GetUnconfirmedForWallet(walletID)
	if err != nil {
		return TransactionRecord{}, false, err
	}
	for _, tx := range txs {
		for _, c := range tx.Additions {
			if c.Name() == name {
				return tx, true, nil
			}
		}
	}
	return TransactionRecord{}, false, nil
}

// ConfirmByRemoval marks confirmed, at height, every unconfirmed
// transaction whose Removals include a coin named name.
func (l *TxLedger) ConfirmByRemoval(name chainhash.Hash, height uint32) error {
	all, err := l.GetAllUnconfirmed()
	if err != nil {
		return err
	}
	for _, tx := range all {
		if _, ok := tx.removalNames()[name]; ok {
			if err := l.SetConfirmed(tx.Name, height); err != nil {
				return err
			}
		}
	}
	return nil
}

// RollbackToBlock deletes confirmed transactions with ConfirmedAtHeight > h
// and returns them; it re-queues none of them itself, leaving the caller
// to pass those it wants pending again to TxReorged. Unconfirmed
// transactions are left unchanged.
func (l *TxLedger) RollbackToBlock(h uint32) ([]TransactionRecord, error) {
	reorged, err := l.GetTransactionAbove(h)
	if err != nil {
		return nil, err
	}

	err = l.db.Update(func(dbtx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(dbtx, txLedgerBucket)
		if err != nil {
			return err
		}
		for _, tx := range reorged {
			if err := bucket.Delete(tx.Name[:]); err != nil {
				return err
			}
		}
		return nil
	}, func() {})
	if err != nil {
		return nil, err
	}
	return reorged, nil
}

// TxReorged re-queues a previously confirmed transaction as unconfirmed so
// it may resubmit after a reorg.
func (l *TxLedger) TxReorged(tx TransactionRecord) error {
	tx.Confirmed = false
	tx.ConfirmedAtHeight = 0
	return l.Add(tx)
}
