package wallet

import (
	"encoding/binary"
	"sort"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/projwallet/storage"
)

var (
	userWalletsBucket  = []byte("user-wallets")
	userSettingsBucket = []byte("user-settings")
	userMetaBucket     = []byte("user-meta")
	interestedPHBucket = []byte("user-interested-ph")
	interestedIDBucket = []byte("user-interested-coin")
)

var peakHeightKey = []byte("peak-height")

// WalletInfo is the persisted description of one registered wallet: enough
// to reconstruct the right Wallet variant at startup. Fields beyond ID and
// Type are variant-specific and zero for variants that don't use them.
type WalletInfo struct {
	ID   uint32
	Type WalletType
	Name string

	// Colour is the asset id of a ColouredCoin wallet.
	Colour chainhash.Hash

	// RLIndex is the fixed derivation index of a RateLimited wallet.
	RLIndex uint32

	// Genesis is the launcher coin name of a Pooling wallet.
	Genesis chainhash.Hash
}

// UserStore persists the wallet list, user settings, the interested
// puzzle-hash and coin-id sets, and the last seen peak height. The
// projection engine consults it at startup to rebuild its registry and
// interest set, and keeps it current as both change.
type UserStore struct {
	db walletdb.DB
}

// NewUserStore returns a UserStore backed by db.
func NewUserStore(db walletdb.DB) *UserStore {
	return &UserStore{db: db}
}

func walletKey(id uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, id)
	return key
}

// AddWallet persists info, overwriting any prior entry with the same id.
func (s *UserStore) AddWallet(info WalletInfo) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, userWalletsBucket)
		if err != nil {
			return err
		}
		enc, err := storage.Encode(info)
		if err != nil {
			return err
		}
		return bucket.Put(walletKey(info.ID), enc)
	}, func() {})
}

// RemoveWallet deletes the persisted entry for id, if any.
func (s *UserStore) RemoveWallet(id uint32) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, userWalletsBucket)
		if err != nil {
			return err
		}
		return bucket.Delete(walletKey(id))
	}, func() {})
}

// Wallets returns every persisted wallet, ordered by id ascending so that
// registry insertion order is stable across restarts.
func (s *UserStore) Wallets() ([]WalletInfo, error) {
	var out []WalletInfo
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(userWalletsBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(_, v []byte) error {
			var info WalletInfo
			if err := storage.Decode(v, &info); err != nil {
				return err
			}
			out = append(out, info)
			return nil
		})
	}, func() {})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutSetting persists one named user setting.
func (s *UserStore) PutSetting(key string, value interface{}) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, userSettingsBucket)
		if err != nil {
			return err
		}
		enc, err := storage.Encode(value)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), enc)
	}, func() {})
}

// GetSetting loads the setting named key into out, reporting whether it was
// present.
func (s *UserStore) GetSetting(key string, out interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(userSettingsBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return storage.Decode(raw, out)
	}, func() {})
	return found, err
}

// SetPeakHeight persists the last seen chain tip height.
func (s *UserStore) SetPeakHeight(height uint32) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, userMetaBucket)
		if err != nil {
			return err
		}
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, height)
		return bucket.Put(peakHeightKey, val)
	}, func() {})
}

// PeakHeight returns the last persisted peak height, ok == false if none
// has ever been recorded.
func (s *UserStore) PeakHeight() (uint32, bool, error) {
	var (
		height uint32
		found  bool
	)
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(userMetaBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(peakHeightKey)
		if raw == nil {
			return nil
		}
		found = true
		height = binary.BigEndian.Uint32(raw)
		return nil
	}, func() {})
	return height, found, err
}

// AddInterestedPuzzleHash persists ph as watched, attributed to walletID.
func (s *UserStore) AddInterestedPuzzleHash(ph chainhash.Hash, walletID uint32) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, interestedPHBucket)
		if err != nil {
			return err
		}
		return bucket.Put(ph[:], walletKey(walletID))
	}, func() {})
}

// InterestedPuzzleHashes returns every persisted watched puzzle hash and
// its owning wallet id.
func (s *UserStore) InterestedPuzzleHashes() (map[chainhash.Hash]uint32, error) {
	out := make(map[chainhash.Hash]uint32)
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(interestedPHBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(k, v []byte) error {
			var ph chainhash.Hash
			copy(ph[:], k)
			out[ph] = binary.BigEndian.Uint32(v)
			return nil
		})
	}, func() {})
	return out, err
}

// AddInterestedCoinID persists a watched coin id.
func (s *UserStore) AddInterestedCoinID(id chainhash.Hash) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, interestedIDBucket)
		if err != nil {
			return err
		}
		return bucket.Put(id[:], []byte{})
	}, func() {})
}

// InterestedCoinIDs returns every persisted watched coin id.
func (s *UserStore) InterestedCoinIDs() ([]chainhash.Hash, error) {
	var out []chainhash.Hash
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(interestedIDBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(k, _ []byte) error {
			var id chainhash.Hash
			copy(id[:], k)
			out = append(out, id)
			return nil
		})
	}, func() {})
	return out, err
}
