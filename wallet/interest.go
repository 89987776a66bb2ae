package wallet

import (
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/gcs/v3"
	"github.com/decred/dcrd/gcs/v3/blockcf2"
)

// InterestSet is the set of puzzle hashes and coin ids this wallet cares
// about: every puzzle hash the Manager has generated or been asked to
// watch, plus every coin id registered through Manager.WatchCoinID. The
// projection engine tests each batch of incoming coin states against it
// before doing any ledger work.
//
// Membership is authoritative via the in-memory maps; Filter snapshots the
// puzzle-hash half into a compact GCS filter so a batch of candidates can
// be tested against the whole set in one pass instead of one lookup per
// candidate, the same structure dcrd's own block filters use for output
// scripts.
type InterestSet struct {
	mu           sync.RWMutex
	puzzleHashes map[chainhash.Hash]struct{}
	coinIDs      map[chainhash.Hash]struct{}
	watchWallet  map[chainhash.Hash]uint32
	filterKey    [gcs.KeySize]byte
}

// NewInterestSet returns an empty InterestSet. filterKey seeds the GCS
// filter's SipHash; callers should derive it once from a stable value
// (e.g. the wallet's genesis hash) so filters built at different times
// stay comparable.
func NewInterestSet(filterKey [gcs.KeySize]byte) *InterestSet {
	return &InterestSet{
		puzzleHashes: make(map[chainhash.Hash]struct{}),
		coinIDs:      make(map[chainhash.Hash]struct{}),
		watchWallet:  make(map[chainhash.Hash]uint32),
		filterKey:    filterKey,
	}
}

// WatchPuzzleHash registers ph as interesting and attributes it to
// walletID, this module's analogue of interested_store's secondary
// puzzle-hash-to-wallet mapping used when a puzzle hash is watched without
// having come from the Derivation Index (e.g. a coloured-coin contract
// address).
func (s *InterestSet) WatchPuzzleHash(ph chainhash.Hash, walletID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puzzleHashes[ph] = struct{}{}
	s.watchWallet[ph] = walletID
}

// WalletForPuzzleHash returns the wallet id ph was registered under via
// WatchPuzzleHash, if any.
func (s *InterestSet) WalletForPuzzleHash(ph chainhash.Hash) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.watchWallet[ph]
	return id, ok
}

// AddPuzzleHash registers ph as interesting.
func (s *InterestSet) AddPuzzleHash(ph chainhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puzzleHashes[ph] = struct{}{}
}

// AddCoinID registers a coin id (a coin's Name()) as interesting, so
// updates for that coin pass the projection engine's batch pre-screen.
func (s *InterestSet) AddCoinID(id chainhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coinIDs[id] = struct{}{}
}

// Key returns the SipHash key the set's filters are built with. A peer
// holding a published filter needs the same key to query it.
func (s *InterestSet) Key() [gcs.KeySize]byte {
	return s.filterKey
}

// HasPuzzleHash reports authoritative membership.
func (s *InterestSet) HasPuzzleHash(ph chainhash.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.puzzleHashes[ph]
	return ok
}

// HasCoinID reports authoritative membership.
func (s *InterestSet) HasCoinID(id chainhash.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.coinIDs[id]
	return ok
}

// PuzzleHashCount returns the number of watched puzzle hashes, for metrics.
func (s *InterestSet) PuzzleHashCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.puzzleHashes)
}

// Filter builds a GCS compact filter over the current puzzle-hash set. It
// returns a nil filter (and no error) when the set is empty, since an
// empty filter matches nothing anyway.
func (s *InterestSet) Filter() (*gcs.FilterV2, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.puzzleHashes) == 0 {
		return nil, nil
	}
	data := make([][]byte, 0, len(s.puzzleHashes))
	for ph := range s.puzzleHashes {
		cp := ph
		data = append(data, cp[:])
	}
	return gcs.NewFilterV2(blockcf2.B, blockcf2.M, s.filterKey, data)
}

// MatchAny reports whether any of candidates might be in the puzzle-hash
// set. A true result can be a false positive by construction; callers must
// confirm any hit against HasPuzzleHash before acting on it. A false
// result is exact: none of candidates is in the set.
func (s *InterestSet) MatchAny(candidates [][]byte) (bool, error) {
	f, err := s.Filter()
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil
	}
	return f.MatchAny(s.filterKey, candidates), nil
}
