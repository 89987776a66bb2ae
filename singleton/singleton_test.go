package singleton

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/projwallet/wallet"
	"github.com/stretchr/testify/require"
)

// openTestDB returns a fresh, empty bdb-backed walletdb.DB rooted in a
// t.TempDir(), closed automatically via t.Cleanup.
func openTestDB(t *testing.T) walletdb.DB {
	t.Helper()
	path := t.TempDir() + "/test.db"
	db, err := walletdb.Create("bdb", path, true, time.Minute)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeCoinStore is a hand-rolled wallet.CoinLedger stand-in: Rollback's
// findSurvivingAncestor only needs GetByName, so tests don't need a real
// database-backed ledger.
type fakeCoinStore struct {
	byName map[chainhash.Hash]wallet.WalletCoinRecord
}

func newFakeCoinStore() *fakeCoinStore {
	return &fakeCoinStore{byName: make(map[chainhash.Hash]wallet.WalletCoinRecord)}
}

func (f *fakeCoinStore) GetByName(name chainhash.Hash) (wallet.WalletCoinRecord, bool, error) {
	rec, found := f.byName[name]
	return rec, found, nil
}

func (f *fakeCoinStore) add(rec wallet.WalletCoinRecord) {
	f.byName[rec.Coin.Name()] = rec
}

func singletonCoin(seed byte, parent chainhash.Hash, height uint32) wallet.WalletCoinRecord {
	var ph chainhash.Hash
	ph[0] = seed
	return wallet.WalletCoinRecord{
		Coin:            wallet.Coin{ParentCoinInfo: parent, PuzzleHash: ph, Amount: dcrutil.Amount(1)},
		ConfirmedHeight: height,
	}
}

func TestAddStateBootstrapAndLineage(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	store := NewStore(db, coins, 100)

	var launcherID chainhash.Hash
	launcherID[0] = 0xF1

	gen := singletonCoin(1, chainhash.Hash{}, 10)
	require.NoError(t, store.AddState(launcherID, gen))

	unrelated := singletonCoin(2, chainhash.Hash{}, 20)
	err := store.AddState(launcherID, unrelated)
	require.ErrorIs(t, err, ErrNotChildOfLatest)

	child := singletonCoin(3, gen.Coin.Name(), 20)
	require.NoError(t, store.AddState(launcherID, child))

	err = store.AddState(launcherID, child)
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, found, err := store.GetLatestCoinRecordByLauncherID(launcherID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, child.Coin.Name(), got.Coin.Name())
}

// buildChain adds n successive states to store for launcherID, at heights
// start, start+step, ..., returning every state in order (index 0 is the
// bootstrap state).
func buildChain(t *testing.T, store *Store, launcherID chainhash.Hash, n int, start, step uint32) []wallet.WalletCoinRecord {
	t.Helper()
	states := make([]wallet.WalletCoinRecord, 0, n)
	var parent chainhash.Hash
	for i := 0; i < n; i++ {
		height := start + uint32(i)*step
		rec := singletonCoin(byte(10+i), parent, height)
		require.NoError(t, store.AddState(launcherID, rec))
		states = append(states, rec)
		parent = rec.Coin.Name()
	}
	return states
}

// TestSetPeakHeightPrunesRecentHistory checks the pruning pass: after
// advancing the peak far enough that older recent-history entries fall
// outside the recency window, they collapse into a single
// last-non-recent-state, keeping only the most recent such entry.
func TestSetPeakHeightPrunesRecentHistory(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	const r = 100
	store := NewStore(db, coins, r)

	var launcherID chainhash.Hash
	launcherID[0] = 0xF2

	// 19 states at heights 10, 20, ..., 190. peakHeight stays 0 throughout
	// (isRecent is vacuously true), so every prior state lands in
	// RecentHistory.
	states := buildChain(t, store, launcherID, 19, 10, 10)
	latest := states[len(states)-1]
	require.Equal(t, uint32(190), latest.ConfirmedHeight)

	require.NoError(t, store.SetPeakHeight(200, true))

	info, found, err := store.load(launcherID)
	require.NoError(t, err)
	require.True(t, found)

	require.NotNil(t, info.LastNonRecentState)
	require.Equal(t, uint32(90), info.LastNonRecentState.Height,
		"the highest pruned entry below the threshold becomes LastNonRecentState")

	require.NotEmpty(t, info.RecentHistory)
	for _, h := range info.RecentHistory {
		require.GreaterOrEqual(t, h.Height, uint32(100), "every surviving entry is inside the recency window: "+spew.Sdump(info.RecentHistory))
	}
	require.Equal(t, uint32(100), info.RecentHistory[0].Height)
	require.Equal(t, uint32(180), info.RecentHistory[len(info.RecentHistory)-1].Height)
}

// TestRollbackReanchorsOnSurvivingAncestor: when the current LatestState
// was confirmed above the rollback target, Rollback walks the parent chain
// (via coinStore) until it finds a surviving ancestor and re-anchors
// LatestState there.
func TestRollbackReanchorsOnSurvivingAncestor(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	const r = 100
	store := NewStore(db, coins, r)

	var launcherID chainhash.Hash
	launcherID[0] = 0xF3

	states := buildChain(t, store, launcherID, 19, 10, 10)
	for _, s := range states {
		coins.add(s)
	}
	require.NoError(t, store.SetPeakHeight(200, true))

	require.NoError(t, store.Rollback(150))

	got, found, err := store.GetLatestCoinRecordByLauncherID(launcherID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(150), got.ConfirmedHeight, "LatestState re-anchors to the highest surviving ancestor")

	// Both windows are re-derived against the rolled-back tip: the recency
	// threshold is now 150-r = 50, so ancestors 50..140 rebuild the window
	// and the ancestor at 40 becomes the anchor.
	info, found, err := store.load(launcherID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, info.RecentHistory, 10)
	require.Equal(t, uint32(50), info.RecentHistory[0].Height)
	require.Equal(t, uint32(140), info.RecentHistory[len(info.RecentHistory)-1].Height)
	for _, h := range info.RecentHistory {
		require.Less(t, h.Height, uint32(150), "surviving RecentHistory entries stay below the new LatestState height")
	}
	require.NotNil(t, info.LastNonRecentState)
	require.Equal(t, uint32(40), info.LastNonRecentState.Height,
		"the youngest ancestor below the rebuilt window becomes the anchor")
}

// TestRollbackRebuildsWindowsFromCoinStore mirrors the deep-history case:
// the peak advances until RecentHistory is pruned to empty, then a
// rollback reconstructs both windows by walking the coin store, rather
// than waiting for a later prune with nothing to promote.
func TestRollbackRebuildsWindowsFromCoinStore(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	const r = 100
	store := NewStore(db, coins, r)

	var launcherID chainhash.Hash
	launcherID[0] = 0xF6

	// One state per height, 1..198.
	states := buildChain(t, store, launcherID, 198, 1, 1)
	for _, s := range states {
		coins.add(s)
	}

	for peak := uint32(199); peak <= 349; peak++ {
		require.NoError(t, store.SetPeakHeight(peak, true))
	}
	info, found, err := store.load(launcherID)
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, info.RecentHistory, "everything has aged out of the window")
	require.NotNil(t, info.LastNonRecentState)

	// LatestState (height 198) survives the rollback to 200; the window
	// [100, 198) is rebuilt from the store and the ancestor at 99 becomes
	// the anchor.
	require.NoError(t, store.Rollback(200))
	info, _, err = store.load(launcherID)
	require.NoError(t, err)
	require.Len(t, info.RecentHistory, 98)
	require.Equal(t, uint32(100), info.RecentHistory[0].Height)
	require.Equal(t, uint32(197), info.RecentHistory[len(info.RecentHistory)-1].Height)
	require.NotNil(t, info.LastNonRecentState)
	require.Equal(t, uint32(99), info.LastNonRecentState.Height)

	lastRecent, ok, err := coins.GetByName(info.RecentHistory[len(info.RecentHistory)-1].Name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lastRecent.Coin.Name(), info.LatestState.Coin.ParentCoinInfo,
		"the window's newest entry is the latest state's parent")
	firstRecent, ok, err := coins.GetByName(info.RecentHistory[0].Name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, info.LastNonRecentState.Name, firstRecent.Coin.ParentCoinInfo,
		"the anchor is the window's oldest entry's parent")

	// A deeper rollback re-anchors LatestState and, with the whole chain
	// inside the (clamped) window, rebuilds it all the way down with no
	// anchor left beneath it.
	require.NoError(t, store.Rollback(30))
	info, _, err = store.load(launcherID)
	require.NoError(t, err)
	require.Equal(t, uint32(30), info.LatestState.ConfirmedHeight)
	require.Len(t, info.RecentHistory, 29)
	require.Nil(t, info.LastNonRecentState)

	// Below the launcher, the singleton is gone.
	require.NoError(t, store.Rollback(0))
	_, found, err = store.GetLatestCoinRecordByLauncherID(launcherID)
	require.NoError(t, err)
	require.False(t, found)
}

// TestRollbackDeletesSingletonWithNoSurvivingAncestor covers the case
// where no ancestor of the latest state survives the rollback target: the
// singleton itself is removed.
func TestRollbackDeletesSingletonWithNoSurvivingAncestor(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	store := NewStore(db, coins, 100)

	var launcherID chainhash.Hash
	launcherID[0] = 0xF4

	gen := singletonCoin(1, chainhash.Hash{}, 500)
	require.NoError(t, store.AddState(launcherID, gen))
	// gen's parent is never added to coins, so no ancestor can be found.

	require.NoError(t, store.Rollback(10))

	_, found, err := store.GetLatestCoinRecordByLauncherID(launcherID)
	require.NoError(t, err)
	require.False(t, found)
}

// checkInvariants asserts the window invariants from the data model: the
// recency bound on RecentHistory, the staleness bound on
// LastNonRecentState, ascending height order, and LatestState holding the
// highest height.
func checkInvariants(t *testing.T, store *Store, launcherID chainhash.Hash, peak uint32) {
	t.Helper()
	info, found, err := store.load(launcherID)
	require.NoError(t, err)
	if !found {
		return
	}

	threshold := store.recentThreshold(peak)
	prev := uint32(0)
	for _, h := range info.RecentHistory {
		require.GreaterOrEqual(t, h.Height, threshold, "recent entry outside the recency window")
		require.GreaterOrEqual(t, h.Height, prev, "RecentHistory must ascend by height")
		require.Less(t, h.Height, info.LatestState.ConfirmedHeight, "latest_state has the highest height")
		prev = h.Height
	}
	if info.LastNonRecentState != nil && peak > store.r {
		require.Less(t, info.LastNonRecentState.Height, threshold,
			"LastNonRecentState must be older than the recency window")
	}
}

// TestRandomTraceInvariants drives a long deterministic pseudo-random
// sequence of add/peak/rollback operations and checks the window
// invariants after every step.
func TestRandomTraceInvariants(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	const r = 20
	store := NewStore(db, coins, r)

	var launcherID chainhash.Hash
	launcherID[0] = 0xF5

	// xorshift keeps the trace reproducible without seeding globals.
	rng := uint32(0x9E3779B9)
	next := func(n uint32) uint32 {
		rng ^= rng << 13
		rng ^= rng >> 17
		rng ^= rng << 5
		return rng % n
	}

	var (
		parent chainhash.Hash
		height uint32 = 1
		peak   uint32 = 1
		seq    uint32
	)
	addState := func() {
		seq++
		height += 1 + next(5)
		var ph chainhash.Hash
		binary.BigEndian.PutUint32(ph[:4], seq)
		rec := wallet.WalletCoinRecord{
			Coin:            wallet.Coin{ParentCoinInfo: parent, PuzzleHash: ph, Amount: dcrutil.Amount(1)},
			ConfirmedHeight: height,
		}
		require.NoError(t, store.AddState(launcherID, rec))
		coins.add(rec)
		parent = rec.Coin.Name()
	}
	addState()

	for i := 0; i < 300; i++ {
		switch next(10) {
		case 0, 1, 2, 3, 4:
			addState()
		case 5, 6, 7, 8:
			if height > peak {
				peak = height
			}
			peak += next(3)
			require.NoError(t, store.SetPeakHeight(peak, true))
		default:
			if peak <= 2 {
				continue
			}
			target := peak - 1 - next(peak/2)
			require.NoError(t, store.Rollback(target))
			// A reorg moves the tip too; the peak update is what restores
			// the recency invariant after a deep rollback.
			peak = target
			require.NoError(t, store.SetPeakHeight(peak, true))
			if info, found, err := store.load(launcherID); err == nil && found {
				height = info.LatestState.ConfirmedHeight
				parent = info.LatestState.Coin.Name()
			} else {
				// Rolled back below the launcher; restart the chain.
				parent = chainhash.Hash{}
				height = target + 1
				addState()
			}
		}
		checkInvariants(t, store, launcherID, peak)
	}
}

func TestStoreCountAndRecentHistoryDepth(t *testing.T) {
	db := openTestDB(t)
	coins := newFakeCoinStore()
	store := NewStore(db, coins, 100)

	var l1, l2 chainhash.Hash
	l1[0], l2[0] = 0x01, 0x02

	buildChain(t, store, l1, 3, 10, 10)
	buildChain(t, store, l2, 2, 10, 10)

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	depth, err := store.RecentHistoryDepth()
	require.NoError(t, err)
	require.Equal(t, 3, depth, "2 prior states for l1 plus 1 for l2")
}
