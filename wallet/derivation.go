package wallet

import (
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/decred/projwallet/storage"
)

var (
	derivationBucket     = []byte("wallet-derivation")
	derivationByPHBucket = []byte("wallet-derivation-by-ph")
	derivationMetaBucket = []byte("wallet-derivation-meta")
)

var usedUpToKey = []byte("used-up-to")

// DerivationRecord is one entry in the Derivation Index: the materialized
// (wallet, index) -> (pubkey, puzzle hash) mapping.
type DerivationRecord struct {
	Index      uint32
	WalletID   uint32
	WalletType WalletType
	PubKey     []byte
	PuzzleHash chainhash.Hash
}

// DerivationIndex is the deterministic index -> (pubkey, puzzle_hash)
// mapping. It owns a single monotone last_used pointer
// shared by every live wallet, plus a per-wallet last_generated high-water
// mark, persisted across restarts.
//
// Indices are dense: if a record exists at index i for some wallet, one
// also exists at every j < i for that same wallet (RateLimited wallets are
// the one exception, covered separately in wallets.go).
type DerivationIndex struct {
	mu        sync.Mutex
	db        walletdb.DB
	accountXP *hdkeychain.ExtendedKey
}

// NewDerivationIndex returns a DerivationIndex that derives public keys as
// children of accountXP (an account-level extended public or private key;
// only its public half is ever used) and persists materialized records and
// pointers in db.
func NewDerivationIndex(db walletdb.DB, accountXP *hdkeychain.ExtendedKey) *DerivationIndex {
	return &DerivationIndex{db: db, accountXP: accountXP}
}

// PublicKey derives the secp256k1 public key at index.
func (d *DerivationIndex) PublicKey(index uint32) (*secp256k1.PublicKey, error) {
	child, err := d.accountXP.Child(index)
	if err != nil {
		return nil, err
	}
	return secp256k1.ParsePubKey(child.SerializedPubKey())
}

func derivationKey(walletID, index uint32) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint32(key[0:4], walletID)
	binary.BigEndian.PutUint32(key[4:8], index)
	return key
}

// AddDerivationRecords persists recs in a single transaction, indexing each
// one both by (wallet, index) and by puzzle hash, and advances walletID's
// last_generated pointer in lock-step, keeping the index dense.
func (d *DerivationIndex) AddDerivationRecords(recs []DerivationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.Update(func(tx walletdb.ReadWriteTx) error {
		main, err := storage.TopLevelBucket(tx, derivationBucket)
		if err != nil {
			return err
		}
		byPH, err := storage.TopLevelBucket(tx, derivationByPHBucket)
		if err != nil {
			return err
		}
		meta, err := storage.TopLevelBucket(tx, derivationMetaBucket)
		if err != nil {
			return err
		}

		highest := make(map[uint32]uint32)
		for _, rec := range recs {
			enc, err := storage.Encode(rec)
			if err != nil {
				return err
			}
			if err := main.Put(derivationKey(rec.WalletID, rec.Index), enc); err != nil {
				return err
			}
			if err := byPH.Put(rec.PuzzleHash[:], enc); err != nil {
				return err
			}
			if cur, ok := highest[rec.WalletID]; !ok || rec.Index > cur {
				highest[rec.WalletID] = rec.Index
			}
		}

		for walletID, index := range highest {
			key := make([]byte, 4)
			binary.BigEndian.PutUint32(key, walletID)
			raw := meta.Get(key)
			if raw == nil || index > binary.BigEndian.Uint32(raw) {
				val := make([]byte, 4)
				binary.BigEndian.PutUint32(val, index)
				if err := meta.Put(key, val); err != nil {
					return err
				}
			}
		}
		return nil
	}, func() {})
}

// LastGeneratedForWallet returns walletID's high-water derivation index and
// whether any record has been generated for it at all.
func (d *DerivationIndex) LastGeneratedForWallet(walletID uint32) (uint32, bool, error) {
	var (
		index uint32
		found bool
	)
	err := d.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(derivationMetaBucket)
		if bucket == nil {
			return nil
		}
		key := make([]byte, 4)
		binary.BigEndian.PutUint32(key, walletID)
		raw := bucket.Get(key)
		if raw == nil {
			return nil
		}
		found = true
		index = binary.BigEndian.Uint32(raw)
		return nil
	}, func() {})
	return index, found, err
}

// LastUsed returns the global monotone last_used pointer. A wallet with no
// coins yet reports 0 with ok == false.
func (d *DerivationIndex) LastUsed() (uint32, bool, error) {
	var (
		index uint32
		found bool
	)
	err := d.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(derivationMetaBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(usedUpToKey)
		if raw == nil {
			return nil
		}
		found = true
		index = binary.BigEndian.Uint32(raw)
		return nil
	}, func() {})
	return index, found, err
}

// SetUsedUpTo advances the global last_used pointer to index. It is a
// monotone ratchet: calling it with an index at or below the current
// pointer is a no-op; the pointer never decreases.
func (d *DerivationIndex) SetUsedUpTo(index uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, derivationMetaBucket)
		if err != nil {
			return err
		}
		existing := uint32(0)
		if raw := bucket.Get(usedUpToKey); raw != nil {
			existing = binary.BigEndian.Uint32(raw)
		}
		if index <= existing {
			return nil
		}
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, index)
		return bucket.Put(usedUpToKey, val)
	}, func() {})
}

// GetUnusedDerivationPath returns the lowest index above the global
// last_used pointer that has at least one materialized record, or ok ==
// false if generation hasn't caught up yet and the caller must top up.
func (d *DerivationIndex) GetUnusedDerivationPath() (index uint32, ok bool, err error) {
	lastUsed, hasUsed, err := d.LastUsed()
	if err != nil {
		return 0, false, err
	}
	candidate := uint32(0)
	if hasUsed {
		candidate = lastUsed + 1
	}

	err = d.db.View(func(tx walletdb.ReadTx) error {
		meta := tx.ReadBucket(derivationMetaBucket)
		if meta == nil {
			return nil
		}
		return storage.ForEach(meta, func(k, v []byte) error {
			if len(k) != 4 {
				return nil
			}
			if binary.BigEndian.Uint32(v) >= candidate {
				ok = true
			}
			return nil
		})
	}, func() {})
	if err != nil {
		return 0, false, err
	}
	return candidate, ok, nil
}

// GetDerivationRecord looks up the materialized record for (walletID, index).
func (d *DerivationIndex) GetDerivationRecord(walletID, index uint32) (DerivationRecord, bool, error) {
	var (
		rec   DerivationRecord
		found bool
	)
	err := d.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(derivationBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(derivationKey(walletID, index))
		if raw == nil {
			return nil
		}
		found = true
		return storage.Decode(raw, &rec)
	}, func() {})
	return rec, found, err
}

// AllPuzzleHashes returns every puzzle hash any wallet has ever had
// materialized, used to rebuild the in-memory interest set at startup.
func (d *DerivationIndex) AllPuzzleHashes() ([]chainhash.Hash, error) {
	var out []chainhash.Hash
	err := d.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(derivationByPHBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(k, _ []byte) error {
			var ph chainhash.Hash
			copy(ph[:], k)
			out = append(out, ph)
			return nil
		})
	}, func() {})
	return out, err
}

// IndexForPuzzleHash returns the derivation record that produced ph, if any.
func (d *DerivationIndex) IndexForPuzzleHash(ph chainhash.Hash) (DerivationRecord, bool, error) {
	var (
		rec   DerivationRecord
		found bool
	)
	err := d.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(derivationByPHBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(ph[:])
		if raw == nil {
			return nil
		}
		found = true
		return storage.Decode(raw, &rec)
	}, func() {})
	return rec, found, err
}

// WalletInfoForPuzzleHash returns the wallet id and type that own ph,
// wrapping ErrNoKeyForPuzzleHash when nothing matches.
func (d *DerivationIndex) WalletInfoForPuzzleHash(ph chainhash.Hash) (uint32, WalletType, error) {
	rec, found, err := d.IndexForPuzzleHash(ph)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, ErrNoKeyForPuzzleHash
	}
	return rec.WalletID, rec.WalletType, nil
}
