package wallet

import (
	"context"
	"testing"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/gcs/v3"
	"github.com/decred/projwallet/rewards"
	"github.com/stretchr/testify/require"
)

// fakeNetwork is a hand-rolled wallet.Network fake supplying canned
// responses instead of dialing a real peer.
type fakeNetwork struct {
	children       map[chainhash.Hash][]CoinState
	solution       *CoinSpend
	timestamp      uint64
	subscribeCall  [][]chainhash.Hash
	publishedSizes []uint32
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{children: make(map[chainhash.Hash][]CoinState)}
}

func (f *fakeNetwork) SubscribeToNewPuzzleHash(_ context.Context, hashes []chainhash.Hash) error {
	f.subscribeCall = append(f.subscribeCall, hashes)
	return nil
}
func (f *fakeNetwork) SubscribeToCoinIDsUpdate(context.Context, []chainhash.Hash) error { return nil }
func (f *fakeNetwork) PublishInterestFilter(_ context.Context, _ [gcs.KeySize]byte, filter *gcs.FilterV2) error {
	f.publishedSizes = append(f.publishedSizes, filter.N())
	return nil
}
func (f *fakeNetwork) GetCoinState(context.Context, []chainhash.Hash) ([]CoinState, error) {
	return nil, nil
}
func (f *fakeNetwork) FetchChildren(_ context.Context, parent chainhash.Hash) ([]CoinState, error) {
	return f.children[parent], nil
}
func (f *fakeNetwork) FetchPuzzleSolution(context.Context, uint32, Coin) (*CoinSpend, error) {
	return f.solution, nil
}
func (f *fakeNetwork) GetTimestampForHeight(context.Context, uint32) (uint64, error) {
	return f.timestamp, nil
}

func newTestManager(t *testing.T, net Network) (*Manager, *DerivationIndex, *InterestSet) {
	t.Helper()
	return newTestManagerWithUsers(t, openTestDB(t), nil, net)
}

func newTestManagerWithUsers(t *testing.T, db walletdb.DB, users *UserStore, net ...Network) (*Manager, *DerivationIndex, *InterestSet) {
	t.Helper()
	var network Network
	if len(net) > 0 {
		network = net[0]
	}
	var filterKey [gcs.KeySize]byte
	m := NewManager(ManagerConfig{
		Coins:      NewCoinLedger(db),
		Txs:        NewTxLedger(db),
		Derivation: NewDerivationIndex(db, testAccountXP(t)),
		Interest:   NewInterestSet(filterKey),
		Network:    network,
		Genesis:    chainhash.Hash{},
		Params:     chaincfg.MainNetParams(),
		Users:      users,
	})
	return m, m.derivation, m.interest
}

// TestBootstrapDerivation checks first-run derivation expansion and the
// single subscription batch it publishes.
func TestBootstrapDerivation(t *testing.T) {
	net := newFakeNetwork()
	m, derivation, _ := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	require.NoError(t, m.CreateMorePuzzleHashes(context.Background(), true, 8, 8, false))

	last, found, err := derivation.LastGeneratedForWallet(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(7), last)

	unused, ok, err := derivation.GetUnusedDerivationPath()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), unused, "unused stays at index 0; nothing has been consumed")

	require.Len(t, net.subscribeCall, 1)
	require.Len(t, net.subscribeCall[0], 8)

	require.Len(t, net.publishedSizes, 1, "the peer gets one filter snapshot per expansion batch")
	require.Equal(t, uint32(8), net.publishedSizes[0])
}

// TestIncomingConfirmedReward: a coin whose
// parent matches the stakebase sentinel at height 100 produces a
// FEE_REWARD transaction and an IsFarmReward coin record.
func TestIncomingConfirmedReward(t *testing.T) {
	net := newFakeNetwork()
	m, _, interest := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})
	m.NewPeak(NewPeakWallet{Height: 100})

	var ph chainhash.Hash
	ph[0] = 0xAA
	interest.WatchPuzzleHash(ph, 1)

	parent := rewards.ExpectedStakebaseParentID(100, chainhash.Hash{})
	coin := Coin{ParentCoinInfo: parent, PuzzleHash: ph, Amount: dcrutil.Amount(1)}
	created := uint32(100)

	added, _, err := m.NewCoinState(context.Background(), []CoinState{{Coin: coin, CreatedHeight: &created}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, added, 1)
	require.True(t, added[0].IsFarmReward)

	txs, err := m.txs.GetAllTransactionsForWallet(1, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, TxFeeReward, txs[0].Type)
	require.True(t, txs[0].Confirmed)
	require.Equal(t, coin.Amount, txs[0].Amount)
	require.Equal(t, created, txs[0].ConfirmedAtHeight)
}

// TestOutgoingSynthesis: a coin observed
// created-and-spent with no prior ledger entry synthesizes an OUTGOING_TX
// record from its fetched children and reveal.
func TestOutgoingSynthesis(t *testing.T) {
	net := newFakeNetwork()
	m, _, interest := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	var ourPH chainhash.Hash
	ourPH[0] = 0x01
	interest.WatchPuzzleHash(ourPH, 1)

	spentCoin := testCoin(t, 9, 1000)
	spentCoin.PuzzleHash[0] = 0x99 // not directly relevant to ownership here

	childOurs := Coin{ParentCoinInfo: spentCoin.Name(), PuzzleHash: ourPH, Amount: 10}
	var theirPH chainhash.Hash
	theirPH[0] = 0x02
	childTheirs := Coin{ParentCoinInfo: spentCoin.Name(), PuzzleHash: theirPH, Amount: 2000}

	net.children[spentCoin.Name()] = []CoinState{
		{Coin: childOurs},
		{Coin: childTheirs},
	}
	net.solution = &CoinSpend{Coin: spentCoin, ReservedFee: 1}

	created := uint32(90)
	spent := uint32(100)
	interest.WatchPuzzleHash(spentCoin.PuzzleHash, 1)

	// The original receipt of spentCoin is already on the ledger as an
	// unconfirmed INCOMING_TX; seeing it spent must confirm that record
	// rather than mint a second one (classifyLocked's FindUnconfirmedByAddition
	// path), leaving the OUTGOING_TX as the only newly-synthesized record.
	priorIncoming := TransactionRecord{
		Name: testCoin(t, 50, 1).Name(), WalletID: 1, Type: TxIncoming,
		Additions: []Coin{spentCoin},
	}
	require.NoError(t, m.txs.Add(priorIncoming))

	_, _, err := m.NewCoinState(context.Background(), []CoinState{
		{Coin: spentCoin, CreatedHeight: &created, SpentHeight: &spent},
	}, nil, nil)
	require.NoError(t, err)

	gotPrior, found, err := m.txs.GetByName(priorIncoming.Name)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, gotPrior.Confirmed)

	outgoing, err := m.txs.GetAllTransactionsForWallet(1, txTypePtr(TxOutgoing))
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	require.Equal(t, theirPH, outgoing[0].ToPuzzleHash)
	require.Equal(t, dcrutil.Amount(2000), outgoing[0].Amount)
	require.Equal(t, dcrutil.Amount(1), outgoing[0].FeeAmount)
}

func txTypePtr(t TransactionType) *TransactionType { return &t }

// TestReorgRollback checks that a fork notice triggers a rollback before
// new state applies: confirmed transactions above the fork demote and
// coins above it are deleted.
func TestReorgRollback(t *testing.T) {
	net := newFakeNetwork()
	m, _, _ := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	confirmedTx := TransactionRecord{
		Name: testCoin(t, 1, 1).Name(), WalletID: 1, Type: TxOutgoing,
		Confirmed: true, ConfirmedAtHeight: 105,
	}
	require.NoError(t, m.txs.Add(confirmedTx))

	unspentRec := WalletCoinRecord{Coin: testCoin(t, 2, 500), ConfirmedHeight: 108, WalletID: 1}
	require.NoError(t, m.coins.Add(unspentRec))

	current := uint32(106)
	_, _, err := m.NewCoinState(context.Background(), nil, uintPtr(104), &current)
	require.NoError(t, err)

	gotTx, found, err := m.txs.GetByName(confirmedTx.Name)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, gotTx.Confirmed, "confirmed OUTGOING tx above the fork height is demoted")

	_, found, err = m.coins.GetByName(unspentRec.Coin.Name())
	require.NoError(t, err)
	require.False(t, found, "coin confirmed above the fork height is deleted")
}

// TestChangeDetectionConfirmsExistingOutgoing:
// a new addition matching a pending outgoing transaction's own additions
// (change) confirms that transaction instead of minting an INCOMING_TX.
func TestChangeDetectionConfirmsExistingOutgoing(t *testing.T) {
	net := newFakeNetwork()
	m, _, interest := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	var changePH chainhash.Hash
	changePH[0] = 0x55
	interest.WatchPuzzleHash(changePH, 1)

	changeCoin := Coin{ParentCoinInfo: testCoin(t, 3, 1).Name(), PuzzleHash: changePH, Amount: 42}
	pending := TransactionRecord{
		Name: testCoin(t, 4, 1).Name(), WalletID: 1, Type: TxOutgoing,
		Additions: []Coin{changeCoin},
	}
	require.NoError(t, m.txs.Add(pending))

	created := uint32(200)
	added, _, err := m.NewCoinState(context.Background(), []CoinState{
		{Coin: changeCoin, CreatedHeight: &created},
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, added, 1)

	got, found, err := m.txs.GetByName(pending.Name)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Confirmed)
	require.Equal(t, created, got.ConfirmedAtHeight)

	all, err := m.txs.GetAllTransactionsForWallet(1, nil)
	require.NoError(t, err)
	require.Len(t, all, 1, "no separate INCOMING_TX is created for the recognized change output")
}

func uintPtr(v uint32) *uint32 { return &v }

// TestNewCoinStateRoundTrip: applying
// a batch of coin states and then rolling back to just before it restores
// the prior ledger.
func TestNewCoinStateRoundTrip(t *testing.T) {
	net := newFakeNetwork()
	m, _, interest := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	var basePH chainhash.Hash
	basePH[0] = 0x10
	interest.WatchPuzzleHash(basePH, 1)

	baseCoin := Coin{ParentCoinInfo: testCoin(t, 1, 1).Name(), PuzzleHash: basePH, Amount: 700}
	baseHeight := uint32(50)
	_, _, err := m.NewCoinState(context.Background(), []CoinState{
		{Coin: baseCoin, CreatedHeight: &baseHeight},
	}, nil, nil)
	require.NoError(t, err)

	before, err := m.ConfirmedBalance(1)
	require.NoError(t, err)
	require.Equal(t, dcrutil.Amount(700), before)

	// Apply a later batch: a new coin at 60 and a spend of the base coin
	// at 61.
	laterCoin := Coin{ParentCoinInfo: baseCoin.Name(), PuzzleHash: basePH, Amount: 300}
	created := uint32(60)
	spent := uint32(61)
	_, _, err = m.NewCoinState(context.Background(), []CoinState{
		{Coin: laterCoin, CreatedHeight: &created},
		{Coin: baseCoin, CreatedHeight: &baseHeight, SpentHeight: &spent},
	}, nil, nil)
	require.NoError(t, err)

	after, err := m.ConfirmedBalance(1)
	require.NoError(t, err)
	require.Equal(t, dcrutil.Amount(300), after)

	// Roll back to before the batch: the ledger must equal its pre-batch
	// state.
	require.NoError(t, m.ReorgRollback(55))

	restored, err := m.ConfirmedBalance(1)
	require.NoError(t, err)
	require.Equal(t, before, restored)

	rec, found, err := m.coins.GetByName(baseCoin.Name())
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, rec.IsSpent(), "the spend above the rollback height is undone")

	_, found, err = m.coins.GetByName(laterCoin.Name())
	require.NoError(t, err)
	require.False(t, found, "the coin created above the rollback height is gone")
}

// TestNewCoinStateReorgedOutRemovesRecord covers the "neither created nor
// spent" case: the coin update retracts a previously-reported coin and the
// matching record is removed best-effort.
func TestNewCoinStateReorgedOutRemovesRecord(t *testing.T) {
	net := newFakeNetwork()
	m, _, interest := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	var ph chainhash.Hash
	ph[0] = 0x77
	interest.WatchPuzzleHash(ph, 1)

	coin := Coin{ParentCoinInfo: testCoin(t, 6, 1).Name(), PuzzleHash: ph, Amount: 5}
	created := uint32(30)
	_, _, err := m.NewCoinState(context.Background(), []CoinState{
		{Coin: coin, CreatedHeight: &created},
	}, nil, nil)
	require.NoError(t, err)

	_, removed, err := m.NewCoinState(context.Background(), []CoinState{
		{Coin: coin},
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	_, found, err := m.coins.GetByName(coin.Name())
	require.NoError(t, err)
	require.False(t, found)

	// A retraction for a coin that was never recorded is silently ignored.
	_, _, err = m.NewCoinState(context.Background(), []CoinState{
		{Coin: testCoinState(t, 0x33)},
	}, nil, nil)
	require.NoError(t, err)
}

func testCoinState(t *testing.T, seed byte) Coin {
	t.Helper()
	var parent, ph chainhash.Hash
	parent[0] = seed
	ph[0] = seed + 1
	return Coin{ParentCoinInfo: parent, PuzzleHash: ph, Amount: 1}
}

// TestNewPeakInvokesEveryCallback checks that every registered peak
// notifiee receives the new height and that the Manager records it.
func TestNewPeakInvokesEveryCallback(t *testing.T) {
	net := newFakeNetwork()
	m, _, _ := newTestManager(t, net)

	first := NewPoolingWallet(3, testCoin(t, 1, 1).Name(), nil)
	second := NewPoolingWallet(1, testCoin(t, 2, 1).Name(), nil)
	m.RegisterWallet(first)
	m.RegisterWallet(second)

	require.NoError(t, m.NewPeak(NewPeakWallet{Height: 500}))
	require.Equal(t, uint32(500), first.LastPeak())
	require.Equal(t, uint32(500), second.LastPeak())
	require.Equal(t, uint32(500), m.PeakHeight())
}

// TestHandleRespondPuzzleSolution checks the inbound message path: the
// typed pending request resolves on a matching (coin name, height) tuple.
func TestHandleRespondPuzzleSolution(t *testing.T) {
	net := newFakeNetwork()
	m, _, interest := newTestManager(t, net)
	m.RegisterWallet(&StandardWallet{WalletID: 1})

	var ph chainhash.Hash
	ph[0] = 0x21
	interest.WatchPuzzleHash(ph, 1)

	coin := Coin{ParentCoinInfo: testCoin(t, 8, 1).Name(), PuzzleHash: ph, Amount: 9}
	created := uint32(40)
	_, _, err := m.NewCoinState(context.Background(), []CoinState{
		{Coin: coin, CreatedHeight: &created},
	}, nil, nil)
	require.NoError(t, err)

	key := PuzzleSolutionKey{CoinName: coin.Name(), Height: 40}
	ch := m.Requests().ExpectPuzzleSolution(key)

	resp := PuzzleSolutionResponse{CoinName: coin.Name(), Height: 40, Solution: []byte{0x01}}
	require.NoError(t, m.HandleRespondPuzzleSolution(resp))

	got := <-ch
	require.Equal(t, resp.Solution, got.Solution)
}
