package wallet

import (
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/projwallet/storage"
)

var coinLedgerBucket = []byte("wallet-coin-ledger")

// CoinLedger is the append-only table of WalletCoinRecord keyed by coin
// name. Records are added once, mutated only to set SpentHeight,
// and removed only by RollbackToBlock or, for a reorged-out coin, Remove.
type CoinLedger struct {
	db walletdb.DB
}

// NewCoinLedger returns a CoinLedger backed by db. db is treated as an
// opaque ACID store; this module never opens or configures the driver.
func NewCoinLedger(db walletdb.DB) *CoinLedger {
	return &CoinLedger{db: db}
}

// Add inserts a new coin record. Idempotent on the coin's name: re-adding
// the same coin overwrites the prior record, matching the "set_spent is
// idempotent" guarantee callers rely on during replay.
func (l *CoinLedger) Add(rec WalletCoinRecord) error {
	return l.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, coinLedgerBucket)
		if err != nil {
			return err
		}
		enc, err := storage.Encode(rec)
		if err != nil {
			return err
		}
		name := rec.Coin.Name()
		return bucket.Put(name[:], enc)
	}, func() {})
}

// SetSpent marks the coin as spent at height. No-op if the coin is unknown.
func (l *CoinLedger) SetSpent(name chainhash.Hash, height uint32) error {
	return l.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, coinLedgerBucket)
		if err != nil {
			return err
		}
		raw := bucket.Get(name[:])
		if raw == nil {
			return nil
		}
		var rec WalletCoinRecord
		if err := storage.Decode(raw, &rec); err != nil {
			return err
		}
		rec.SpentHeight = height
		enc, err := storage.Encode(rec)
		if err != nil {
			return err
		}
		return bucket.Put(name[:], enc)
	}, func() {})
}

// Remove deletes the record named name, if any. No-op if it doesn't exist.
// Used for the reorged-out case: a coin update carrying neither a created
// nor a spent height retracts a previously-reported coin.
func (l *CoinLedger) Remove(name chainhash.Hash) error {
	return l.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, coinLedgerBucket)
		if err != nil {
			return err
		}
		return bucket.Delete(name[:])
	}, func() {})
}

// GetByName looks up a coin record by its name. The second return value is
// false if no record exists.
func (l *CoinLedger) GetByName(name chainhash.Hash) (WalletCoinRecord, bool, error) {
	var rec WalletCoinRecord
	var found bool
	err := l.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(coinLedgerBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(name[:])
		if raw == nil {
			return nil
		}
		found = true
		return storage.Decode(raw, &rec)
	}, func() {})
	return rec, found, err
}

// GetUnspentForWallet returns every unspent coin record attributed to
// walletID. The union of these across all wallets is the confirmed UTXO
// set at the current peak height.
func (l *CoinLedger) GetUnspentForWallet(walletID uint32) ([]WalletCoinRecord, error) {
	var out []WalletCoinRecord
	err := l.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(coinLedgerBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(_, v []byte) error {
			var rec WalletCoinRecord
			if err := storage.Decode(v, &rec); err != nil {
				return err
			}
			if rec.WalletID == walletID && !rec.IsSpent() {
				out = append(out, rec)
			}
			return nil
		})
	}, func() {})
	return out, err
}

// Count returns the total number of coin records in the ledger, spent or
// not, for the metrics package's ledger-size gauge.
func (l *CoinLedger) Count() (int, error) {
	var n int
	err := l.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(coinLedgerBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(_, _ []byte) error {
			n++
			return nil
		})
	}, func() {})
	return n, err
}

// RollbackToBlock deletes every record with ConfirmedHeight > h and clears
// SpentHeight on every record with SpentHeight > h.
func (l *CoinLedger) RollbackToBlock(h uint32) error {
	return l.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, coinLedgerBucket)
		if err != nil {
			return err
		}

		var toDelete [][]byte
		var toUpdate []struct {
			key []byte
			rec WalletCoinRecord
		}

		err = storage.ForEach(bucket, func(k, v []byte) error {
			var rec WalletCoinRecord
			if err := storage.Decode(v, &rec); err != nil {
				return err
			}
			if rec.ConfirmedHeight > h {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
				return nil
			}
			if rec.SpentHeight > h {
				rec.SpentHeight = 0
				key := make([]byte, len(k))
				copy(key, k)
				toUpdate = append(toUpdate, struct {
					key []byte
					rec WalletCoinRecord
				}{key, rec})
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		for _, u := range toUpdate {
			enc, err := storage.Encode(u.rec)
			if err != nil {
				return err
			}
			if err := bucket.Put(u.key, enc); err != nil {
				return err
			}
		}
		return nil
	}, func() {})
}
