// Package singleton implements the Singleton History Engine: a bounded
// sliding-window history of state-transition coin records for long-lived,
// uniquely-identified on-chain objects, split into a last-non-recent-state
// snapshot and a bounded recent-history window.
package singleton

import (
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/projwallet/storage"
	"github.com/decred/projwallet/wallet"
)

var historyBucket = []byte("singleton-history")

// DefaultMaxReorgSize is the default recency window (MAX_REORG_SIZE).
const DefaultMaxReorgSize = 100

// LauncherPuzzleHash is the fixed, well-known puzzle hash a launcher coin
// always pays to, identifying it as the genesis of a singleton chain.
var LauncherPuzzleHash = chainhash.HashH([]byte("projwallet-singleton-launcher-v1"))

// HeightName is one entry in a singleton's recent-history window or its
// last-non-recent-state pointer: a coin's height and name.
type HeightName struct {
	Height uint32
	Name   chainhash.Hash
}

// SingletonInfo is one singleton's full tracked state: the latest coin
// record, the youngest state older than the recency window, and the
// ordered window of recent prior states.
type SingletonInfo struct {
	LatestState        wallet.WalletCoinRecord
	LastNonRecentState *HeightName
	RecentHistory      []HeightName
}

// CoinRecordLookup is the external coin store Rollback consults to walk a
// singleton's parent chain past its current, now-reorged-out tip.
// wallet.CoinLedger satisfies this directly.
type CoinRecordLookup interface {
	GetByName(name chainhash.Hash) (wallet.WalletCoinRecord, bool, error)
}

// Store is the Singleton History Engine: a map from launcher id to
// SingletonInfo, persisted in db, guarded by a single mutex.
type Store struct {
	mu         sync.Mutex
	db         walletdb.DB
	coinStore  CoinRecordLookup
	r          uint32
	peakHeight uint32
}

// NewStore returns a Store backed by db, consulting coinStore during deep
// rollbacks, with a recency window of r blocks.
func NewStore(db walletdb.DB, coinStore CoinRecordLookup, r uint32) *Store {
	if r == 0 {
		r = DefaultMaxReorgSize
	}
	return &Store{db: db, coinStore: coinStore, r: r}
}

func (s *Store) recentThreshold(peak uint32) uint32 {
	if peak < s.r {
		return 0
	}
	return peak - s.r
}

func (s *Store) isRecent(height uint32) bool {
	return height >= s.recentThreshold(s.peakHeight)
}

func (s *Store) load(launcherID chainhash.Hash) (SingletonInfo, bool, error) {
	var (
		info  SingletonInfo
		found bool
	)
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(historyBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get(launcherID[:])
		if raw == nil {
			return nil
		}
		found = true
		return storage.Decode(raw, &info)
	}, func() {})
	return info, found, err
}

func (s *Store) save(launcherID chainhash.Hash, info SingletonInfo) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, historyBucket)
		if err != nil {
			return err
		}
		enc, err := storage.Encode(info)
		if err != nil {
			return err
		}
		return bucket.Put(launcherID[:], enc)
	}, func() {})
}

func (s *Store) forEach(fn func(launcherID chainhash.Hash, info *SingletonInfo) (bool, error)) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, historyBucket)
		if err != nil {
			return err
		}

		var keys [][]byte
		err = storage.ForEach(bucket, func(k, _ []byte) error {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			raw := bucket.Get(k)
			if raw == nil {
				continue
			}
			var info SingletonInfo
			if err := storage.Decode(raw, &info); err != nil {
				return err
			}
			var launcherID chainhash.Hash
			copy(launcherID[:], k)

			changed, err := fn(launcherID, &info)
			if err != nil {
				return err
			}
			if changed {
				enc, err := storage.Encode(info)
				if err != nil {
					return err
				}
				if err := bucket.Put(k, enc); err != nil {
					return err
				}
			}
		}
		return nil
	}, func() {})
}

// AddState appends a new state to the singleton's chain. The new record
// must be a child of the current latest state; the displaced latest state
// is shelved into the recent-history window or, when it has already aged
// out of the window, into the last-non-recent-state slot.
func (s *Store) AddState(launcherID chainhash.Hash, newCR wallet.WalletCoinRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, found, err := s.load(launcherID)
	if err != nil {
		return err
	}
	if !found {
		return s.save(launcherID, SingletonInfo{LatestState: newCR})
	}

	if newCR.Coin.ParentCoinInfo != info.LatestState.Coin.Name() {
		return ErrNotChildOfLatest
	}

	newName := newCR.Coin.Name()
	if newName == info.LatestState.Coin.Name() {
		return ErrAlreadyExists
	}
	for _, h := range info.RecentHistory {
		if h.Name == newName {
			return ErrAlreadyExists
		}
	}
	if info.LastNonRecentState != nil && info.LastNonRecentState.Name == newName {
		return ErrAlreadyExists
	}

	prev := info.LatestState
	if s.isRecent(prev.ConfirmedHeight) {
		info.RecentHistory = append(info.RecentHistory, HeightName{
			Height: prev.ConfirmedHeight,
			Name:   prev.Coin.Name(),
		})
	} else {
		info.LastNonRecentState = &HeightName{
			Height: prev.ConfirmedHeight,
			Name:   prev.Coin.Name(),
		}
	}
	info.LatestState = newCR
	return s.save(launcherID, info)
}

// SetPeakHeight advances the observed chain tip and, if doPrune, moves
// every recent-history entry below the new recency threshold into the
// last-non-recent-state slot (only the most recent such entry survives;
// older ones are strictly superseded).
func (s *Store) SetPeakHeight(newPeak uint32, doPrune bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peakHeight = newPeak
	if !doPrune {
		return nil
	}

	threshold := s.recentThreshold(newPeak)
	return s.forEach(func(_ chainhash.Hash, info *SingletonInfo) (bool, error) {
		changed := false

		// A reorg can lower the peak far enough that the shelved anchor is
		// young again; it then rejoins the front of the window (it is the
		// parent of the first windowed entry, so ordering is preserved).
		if lnrs := info.LastNonRecentState; lnrs != nil && lnrs.Height >= threshold {
			info.RecentHistory = append([]HeightName{*lnrs}, info.RecentHistory...)
			info.LastNonRecentState = nil
			changed = true
		}

		i := 0
		var lastMoved *HeightName
		for i < len(info.RecentHistory) && info.RecentHistory[i].Height < threshold {
			h := info.RecentHistory[i]
			lastMoved = &h
			i++
		}
		if i > 0 {
			info.RecentHistory = append([]HeightName(nil), info.RecentHistory[i:]...)
			info.LastNonRecentState = lastMoved
			changed = true
		}
		return changed, nil
	})
}

func (s *Store) findSurvivingAncestor(coin wallet.Coin, targetHeight uint32) (wallet.WalletCoinRecord, bool, error) {
	parentName := coin.ParentCoinInfo
	for {
		rec, found, err := s.coinStore.GetByName(parentName)
		if err != nil {
			return wallet.WalletCoinRecord{}, false, err
		}
		if !found {
			return wallet.WalletCoinRecord{}, false, nil
		}
		if rec.ConfirmedHeight <= targetHeight {
			return rec, true, nil
		}
		parentName = rec.Coin.ParentCoinInfo
	}
}

// rebuildWindows reconstructs RecentHistory and LastNonRecentState from
// the external coin store by walking LatestState's parent chain: every
// ancestor at or above threshold joins the window (ascending by height),
// and the first ancestor below it becomes the anchor. The walk stops when
// the store has no record for a parent, which happens one step past the
// launcher.
func (s *Store) rebuildWindows(info *SingletonInfo, threshold uint32) error {
	var recent []HeightName
	info.LastNonRecentState = nil

	parentName := info.LatestState.Coin.ParentCoinInfo
	for {
		rec, found, err := s.coinStore.GetByName(parentName)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		hn := HeightName{Height: rec.ConfirmedHeight, Name: rec.Coin.Name()}
		if rec.ConfirmedHeight < threshold {
			info.LastNonRecentState = &hn
			break
		}
		recent = append(recent, hn)
		parentName = rec.Coin.ParentCoinInfo
	}

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	info.RecentHistory = recent
	return nil
}

// Rollback truncates every singleton's history to targetHeight: a
// reorged-out latest state re-anchors to its highest surviving ancestor
// via the coin store, both windows are re-derived from the store against
// the rolled-back tip, and singletons whose entire chain is gone are
// removed.
func (s *Store) Rollback(targetHeight uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debugf("rolling singleton histories back to height %d", targetHeight)

	if targetHeight < s.peakHeight {
		s.peakHeight = targetHeight
	}
	threshold := s.recentThreshold(targetHeight)

	var toDelete []chainhash.Hash
	err := s.forEach(func(launcherID chainhash.Hash, info *SingletonInfo) (bool, error) {
		if info.LatestState.ConfirmedHeight > targetHeight {
			anchor, found, err := s.findSurvivingAncestor(info.LatestState.Coin, targetHeight)
			if err != nil {
				return false, err
			}
			if !found {
				toDelete = append(toDelete, launcherID)
				return false, nil
			}
			info.LatestState = anchor
		}

		if err := s.rebuildWindows(info, threshold); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, id := range toDelete {
		log.Infof("singleton %v rolled back below its launcher, removing", id)
		if err := s.removeSingletonLocked(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) removeSingletonLocked(launcherID chainhash.Hash) error {
	return s.db.Update(func(tx walletdb.ReadWriteTx) error {
		bucket, err := storage.TopLevelBucket(tx, historyBucket)
		if err != nil {
			return err
		}
		return bucket.Delete(launcherID[:])
	}, func() {})
}

// RemoveSingleton deletes the singleton's entry wholesale.
func (s *Store) RemoveSingleton(launcherID chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeSingletonLocked(launcherID)
}

// Count returns the number of tracked singletons, for the metrics
// package's singleton-count gauge.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(historyBucket)
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

// RecentHistoryDepth sums recent-history lengths across every tracked
// singleton, for the metrics package's bounded-memory gauge.
func (s *Store) RecentHistoryDepth() (int, error) {
	var n int
	err := s.db.View(func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(historyBucket)
		if bucket == nil {
			return nil
		}
		return storage.ForEach(bucket, func(_, v []byte) error {
			var info SingletonInfo
			if err := storage.Decode(v, &info); err != nil {
				return err
			}
			n += len(info.RecentHistory)
			return nil
		})
	}, func() {})
	return n, err
}

// GetLatestCoinRecordByLauncherID returns the singleton's latest state,
// a single keyed lookup.
func (s *Store) GetLatestCoinRecordByLauncherID(launcherID chainhash.Hash) (wallet.WalletCoinRecord, bool, error) {
	info, found, err := s.load(launcherID)
	if err != nil || !found {
		return wallet.WalletCoinRecord{}, found, err
	}
	return info.LatestState, true, nil
}
