package wallet

import (
	"context"
	"sort"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/projwallet/rewards"
)

// Manager is the Wallet Projection Engine: it consumes CoinState streams,
// classifies additions and removals, synthesizes transaction records,
// drives reorg rollback, and answers balance queries. One Manager per
// wallet database; mu is the single writer lock serializing every
// chain-state mutation.
type Manager struct {
	mu sync.Mutex

	coins      *CoinLedger
	txs        *TxLedger
	derivation *DerivationIndex
	interest   *InterestSet
	locks      *LockManager
	network    Network
	events     EventSink

	classifier *rewards.Classifier
	requests   *RequestRegistry
	users      *UserStore
	peakHeight uint32

	registry      map[uint32]Wallet
	registryOrder []uint32
}

// ManagerConfig collects the dependencies a Manager is built from.
type ManagerConfig struct {
	Coins      *CoinLedger
	Txs        *TxLedger
	Derivation *DerivationIndex
	Interest   *InterestSet
	Locks      *LockManager
	Network    Network
	Events     EventSink
	Genesis    chainhash.Hash
	Params     *chaincfg.Params

	// Users optionally persists the wallet list, last seen peak height,
	// and watched puzzle hashes across restarts.
	Users *UserStore
}

// NewManager constructs a Manager with an empty wallet registry. Callers
// populate it with RegisterWallet before ingesting any coin state.
func NewManager(cfg ManagerConfig) *Manager {
	events := cfg.Events
	if events == nil {
		events = noopSink{}
	}
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockManager()
	}
	return &Manager{
		coins:      cfg.Coins,
		txs:        cfg.Txs,
		derivation: cfg.Derivation,
		interest:   cfg.Interest,
		locks:      locks,
		network:    cfg.Network,
		events:     events,
		classifier: rewards.NewClassifier(cfg.Genesis, cfg.Params),
		requests:   NewRequestRegistry(),
		users:      cfg.Users,
		registry:   make(map[uint32]Wallet),
	}
}

// RegisterWallet adds w to the registry, at the end of the insertion-order
// list new-peak callbacks are invoked in.
func (m *Manager) RegisterWallet(w Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[w.ID()]; !exists {
		m.registryOrder = append(m.registryOrder, w.ID())
	}
	m.registry[w.ID()] = w
}

func (m *Manager) removeFromOrder(id uint32) {
	for i, cur := range m.registryOrder {
		if cur == id {
			m.registryOrder = append(m.registryOrder[:i], m.registryOrder[i+1:]...)
			return
		}
	}
}

func (m *Manager) publish(ev Event) {
	m.events.Publish(ev)
}

// NewPeak advances the observed chain tip, persists it, and invokes every
// peak-subscribed wallet's callback in registry insertion order before the
// sync_changed event goes out.
func (m *Manager) NewPeak(peak NewPeakWallet) error {
	m.mu.Lock()
	m.peakHeight = peak.Height
	if m.users != nil {
		if err := m.users.SetPeakHeight(peak.Height); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	order := append([]uint32(nil), m.registryOrder...)
	m.mu.Unlock()

	for _, id := range order {
		m.mu.Lock()
		w, ok := m.registry[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if notifiee, ok := w.(PeakNotifiee); ok {
			if err := notifiee.NewPeakCallback(peak.Height); err != nil {
				return err
			}
		}
	}

	m.publish(Event{Kind: EventSyncChanged, Data: peak})
	return nil
}

// NewCoinState is the Projection Engine's entry point. It sorts
// updates ascending by created height (parents before children), performs
// a reorg rollback first if forkHeight indicates one happened, then
// classifies each update in turn.
func (m *Manager) NewCoinState(ctx context.Context, updates []CoinState, forkHeight, currentHeight *uint32) (added []WalletCoinRecord, removed []CoinState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]CoinState, len(updates))
	copy(sorted, updates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].CreatedHeight, sorted[j].CreatedHeight
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})

	if forkHeight != nil {
		if currentHeight == nil || *forkHeight != *currentHeight-1 {
			if err := m.reorgRollbackLocked(*forkHeight); err != nil {
				return nil, nil, err
			}
		}
	}

	// Batch pre-screen: the interest filter's negative answer is exact, so
	// a batch whose puzzle hashes can't be in the set and whose coin names
	// aren't watched needs no per-coin ledger work at all.
	if len(sorted) > 0 {
		candidates := make([][]byte, len(sorted))
		watchedName := false
		for i := range sorted {
			ph := sorted[i].Coin.PuzzleHash
			candidates[i] = ph[:]
			if m.interest.HasCoinID(sorted[i].Coin.Name()) {
				watchedName = true
			}
		}
		hit, err := m.interest.MatchAny(candidates)
		if err != nil {
			return nil, nil, err
		}
		if !hit && !watchedName {
			return nil, nil, nil
		}
	}

	for _, cs := range sorted {
		name := cs.Coin.Name()

		switch {
		case cs.CreatedHeight == nil && cs.SpentHeight == nil:
			if err := m.coins.Remove(name); err != nil {
				return nil, nil, err
			}
			removed = append(removed, cs)

		case cs.SpentHeight != nil:
			existing, found, err := m.coins.GetByName(name)
			if err != nil {
				return nil, nil, err
			}
			if !found {
				height := *cs.SpentHeight
				if cs.CreatedHeight != nil {
					height = *cs.CreatedHeight
				}
				rec, walletID, ok, err := m.classifyLocked(cs, height)
				if err != nil {
					return nil, nil, err
				}
				if ok {
					rec.SpentHeight = *cs.SpentHeight
					if err := m.coins.Add(rec); err != nil {
						return nil, nil, err
					}
					added = append(added, rec)

					outTx, err := m.synthesizeOutgoingLocked(ctx, cs, walletID)
					if err == ErrPeerUnavailable {
						// Drop this update's derived transaction only; the
						// coin record itself still stands.
					} else if err != nil {
						return nil, nil, err
					} else {
						if err := m.txs.Add(outTx); err != nil {
							return nil, nil, err
						}
					}
				}
			} else {
				existing.SpentHeight = *cs.SpentHeight
				if err := m.coins.SetSpent(name, *cs.SpentHeight); err != nil {
					return nil, nil, err
				}
			}

			if err := m.txs.ConfirmByRemoval(name, *cs.SpentHeight); err != nil {
				return nil, nil, err
			}
			removed = append(removed, cs)

		case cs.CreatedHeight != nil:
			rec, _, ok, err := m.classifyLocked(cs, *cs.CreatedHeight)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				added = append(added, rec)
			}
		}
	}

	return added, removed, nil
}

// classifyLocked resolves ownership, classifies reward/change/incoming,
// writes the WalletCoinRecord, and publishes the coin_added event. Returns
// ok == false when the coin is silently dropped for lacking any owning
// wallet.
func (m *Manager) classifyLocked(cs CoinState, height uint32) (WalletCoinRecord, uint32, bool, error) {
	ph := cs.Coin.PuzzleHash

	var (
		walletID   uint32
		walletType WalletType
		derivIndex uint32
		haveIndex  bool
	)

	if drec, found, err := m.derivation.IndexForPuzzleHash(ph); err != nil {
		return WalletCoinRecord{}, 0, false, err
	} else if found {
		walletID, walletType = drec.WalletID, drec.WalletType
		derivIndex, haveIndex = drec.Index, true
	} else if id, ok := m.interest.WalletForPuzzleHash(ph); ok {
		walletID = id
		if w, ok := m.registry[walletID]; ok {
			walletType = w.Type()
		}
	} else {
		return WalletCoinRecord{}, 0, false, nil
	}

	coinbase, stakebase := m.classifier.Classify(cs.Coin.ParentCoinInfo, height, cs.Coin.Amount)

	rec := WalletCoinRecord{
		Coin:            cs.Coin,
		ConfirmedHeight: height,
		Coinbase:        coinbase,
		IsFarmReward:    coinbase || stakebase,
		WalletType:      walletType,
		WalletID:        walletID,
	}

	isChange := false
	if parentRec, found, err := m.coins.GetByName(cs.Coin.ParentCoinInfo); err != nil {
		return WalletCoinRecord{}, 0, false, err
	} else if found && parentRec.WalletID == walletID && parentRec.WalletType == walletType {
		isChange = true
	}

	if !isChange {
		switch {
		case coinbase:
			if err := m.addRewardTx(TxCoinbaseReward, cs.Coin, walletID, height); err != nil {
				return WalletCoinRecord{}, 0, false, err
			}
		case stakebase:
			if err := m.addRewardTx(TxFeeReward, cs.Coin, walletID, height); err != nil {
				return WalletCoinRecord{}, 0, false, err
			}
		default:
			confirmedExisting, found, err := m.txs.FindUnconfirmedByAddition(walletID, cs.Coin.Name())
			if err != nil {
				return WalletCoinRecord{}, 0, false, err
			}
			if found {
				if err := m.txs.SetConfirmed(confirmedExisting.Name, height); err != nil {
					return WalletCoinRecord{}, 0, false, err
				}
			} else if cs.Coin.Amount > 0 {
				if err := m.addIncomingTx(cs.Coin, walletID, height); err != nil {
					return WalletCoinRecord{}, 0, false, err
				}
			}
		}
	}

	if err := m.coins.Add(rec); err != nil {
		return WalletCoinRecord{}, 0, false, err
	}

	if adder, ok := m.registry[walletID].(CoinAdder); ok {
		if err := adder.CoinAdded(cs.Coin, height); err != nil {
			return WalletCoinRecord{}, 0, false, err
		}
	}

	if haveIndex {
		if err := m.derivation.SetUsedUpTo(derivIndex); err != nil {
			return WalletCoinRecord{}, 0, false, err
		}
	}

	m.publish(Event{Kind: EventCoinAdded, WalletID: walletID, Data: rec})
	return rec, walletID, true, nil
}

func (m *Manager) addRewardTx(typ TransactionType, coin Coin, walletID uint32, height uint32) error {
	tx := TransactionRecord{
		Name:              coin.Name(),
		ConfirmedAtHeight: height,
		ToPuzzleHash:      coin.PuzzleHash,
		Amount:            coin.Amount,
		Confirmed:         true,
		Additions:         []Coin{coin},
		WalletID:          walletID,
		Type:              typ,
	}
	return m.txs.Add(tx)
}

func (m *Manager) addIncomingTx(coin Coin, walletID uint32, height uint32) error {
	tx := TransactionRecord{
		Name:              coin.Name(),
		ConfirmedAtHeight: height,
		ToPuzzleHash:      coin.PuzzleHash,
		Amount:            coin.Amount,
		Confirmed:         true,
		Additions:         []Coin{coin},
		WalletID:          walletID,
		Type:              TxIncoming,
	}
	return m.txs.Add(tx)
}

// synthesizeOutgoingLocked builds the OUTGOING transaction record for a
// coin observed created-and-spent with no prior ledger entry: the spend's
// children and reveal are fetched from the network, the destination is the
// first child not owned by this wallet, and the amount is the sum of the
// not-ours children.
func (m *Manager) synthesizeOutgoingLocked(ctx context.Context, cs CoinState, walletID uint32) (TransactionRecord, error) {
	children, err := m.network.FetchChildren(ctx, cs.Coin.Name())
	if err != nil {
		return TransactionRecord{}, err
	}
	reveal, err := m.network.FetchPuzzleSolution(ctx, *cs.SpentHeight, cs.Coin)
	if err != nil {
		return TransactionRecord{}, err
	}

	var (
		toPuzzleHash chainhash.Hash
		amount       dcrutil.Amount
		chosen       bool
	)
	for _, child := range children {
		_, owned, err := m.puzzleHashWalletIDLocked(child.Coin.PuzzleHash)
		if err != nil {
			return TransactionRecord{}, err
		}
		if !owned {
			if !chosen {
				toPuzzleHash = child.Coin.PuzzleHash
				chosen = true
			}
			amount += child.Coin.Amount
		}
	}
	if !chosen && len(children) > 0 {
		toPuzzleHash = children[0].Coin.PuzzleHash
	}

	var timestamp uint64
	if ts, err := m.network.GetTimestampForHeight(ctx, *cs.SpentHeight); err == nil {
		timestamp = ts
	}

	return TransactionRecord{
		Name:              cs.Coin.Name(),
		ConfirmedAtHeight: *cs.SpentHeight,
		CreatedAtTime:     timestamp,
		ToPuzzleHash:      toPuzzleHash,
		Amount:            amount,
		FeeAmount:         reveal.ReservedFee,
		Confirmed:         true,
		Removals:          []Coin{cs.Coin},
		WalletID:          walletID,
		Type:              TxOutgoing,
	}, nil
}

func (m *Manager) puzzleHashWalletIDLocked(ph chainhash.Hash) (uint32, bool, error) {
	if drec, found, err := m.derivation.IndexForPuzzleHash(ph); err != nil {
		return 0, false, err
	} else if found {
		return drec.WalletID, true, nil
	}
	if id, ok := m.interest.WalletForPuzzleHash(ph); ok {
		return id, true, nil
	}
	return 0, false, nil
}

func (m *Manager) ownsPuzzleHashLocked(ph chainhash.Hash, walletID uint32) bool {
	id, ok, _ := m.puzzleHashWalletIDLocked(ph)
	return ok && id == walletID
}

// reorgRollbackLocked rolls both ledgers back to h, re-queues confirmed
// outgoing/trade transactions above h as unconfirmed, and asks every
// Rewinder wallet to rewind, deleting those that report their genesis no
// longer survives.
func (m *Manager) reorgRollbackLocked(h uint32) error {
	if err := m.coins.RollbackToBlock(h); err != nil {
		return err
	}
	reorged, err := m.txs.RollbackToBlock(h)
	if err != nil {
		return err
	}
	for _, tx := range reorged {
		if tx.Type == TxOutgoing || tx.Type == TxOutgoingTrade {
			if err := m.txs.TxReorged(tx); err != nil {
				return err
			}
		}
	}

	for _, id := range append([]uint32(nil), m.registryOrder...) {
		w, ok := m.registry[id]
		if !ok {
			continue
		}
		rewinder, ok := w.(Rewinder)
		if !ok {
			continue
		}
		destroy, err := rewinder.Rewind(h)
		if err != nil {
			return err
		}
		if destroy {
			delete(m.registry, id)
			m.removeFromOrder(id)
			if m.users != nil {
				if err := m.users.RemoveWallet(id); err != nil {
					return err
				}
			}
		}
	}

	m.publish(Event{Kind: EventSyncChanged, Data: h})
	return nil
}

// ReorgRollback exposes reorgRollbackLocked for direct callers (e.g. a
// NewPeakWallet handler that detects a fork outside of NewCoinState).
func (m *Manager) ReorgRollback(h uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reorgRollbackLocked(h)
}

// PeakHeight returns the last chain tip height observed via NewPeak, for
// the metrics package's sync-height gauge.
func (m *Manager) PeakHeight() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakHeight
}

// ConfirmedBalance returns the sum of unspent amounts for walletID.
func (m *Manager) ConfirmedBalance(walletID uint32) (dcrutil.Amount, error) {
	unspent, err := m.coins.GetUnspentForWallet(walletID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range unspent {
		total += int64(r.Coin.Amount)
	}
	return dcrutil.Amount(total), nil
}

// UnconfirmedBalance computes confirmed minus the removal amounts of every
// unconfirmed transaction for walletID, minus the addition amounts of
// those same transactions that belong to walletID. The two subtractions
// (rather than a subtract-then-add) are deliberate, kept for compatibility
// with existing balance reporting: unconfirmed removals are summed
// unconditionally while unconfirmed additions are filtered by ownership.
func (m *Manager) UnconfirmedBalance(walletID uint32) (dcrutil.Amount, error) {
	confirmed, err := m.ConfirmedBalance(walletID)
	if err != nil {
		return 0, err
	}
	unconfirmed, err := m.txs.GetUnconfirmedForWallet(walletID)
	if err != nil {
		return 0, err
	}

	total := int64(confirmed)
	for _, tx := range unconfirmed {
		for _, c := range tx.Removals {
			total -= int64(c.Amount)
		}
		for _, c := range tx.Additions {
			if m.ownsPuzzleHashLocked(c.PuzzleHash, walletID) {
				total -= int64(c.Amount)
			}
		}
	}
	return dcrutil.Amount(total), nil
}

// SpendableBalance sums unspent amounts for walletID excluding coins named
// in any unconfirmed transaction's removals or locked via the
// LockManager (coin-selection locks standing in for "open trade offers").
func (m *Manager) SpendableBalance(walletID uint32) (dcrutil.Amount, error) {
	unspent, err := m.coins.GetUnspentForWallet(walletID)
	if err != nil {
		return 0, err
	}
	unconfirmed, err := m.txs.GetUnconfirmedForWallet(walletID)
	if err != nil {
		return 0, err
	}

	lockedByTx := make(map[chainhash.Hash]struct{})
	for _, tx := range unconfirmed {
		for _, c := range tx.Removals {
			lockedByTx[c.Name()] = struct{}{}
		}
	}

	var total int64
	for _, r := range unspent {
		name := r.Coin.Name()
		if _, ok := lockedByTx[name]; ok {
			continue
		}
		if m.locks.IsLocked(name) {
			continue
		}
		total += int64(r.Coin.Amount)
	}
	return dcrutil.Amount(total), nil
}

// createMorePuzzleHashesLocked tops up every live wallet's derivation
// records so generation stays ahead of the next unused index, publishing
// the new puzzle hashes to the subscription sink in one batch. Pooling
// wallets are skipped and RateLimited wallets get exactly one record at
// their fixed index. mu must already be held.
func (m *Manager) createMorePuzzleHashesLocked(ctx context.Context, fromZero bool, initialNumKeys, initialNumKeysNewWallet uint32, newWallet bool) error {
	n := initialNumKeys
	if newWallet {
		n = initialNumKeysNewWallet
	}

	var newHashes []chainhash.Hash
	for _, id := range m.registryOrder {
		w, ok := m.registry[id]
		if !ok || w.Type() == WalletTypePooling {
			continue
		}

		if w.Type() == WalletTypeRateLimited {
			rl, ok := w.(*RateLimitedWallet)
			if !ok {
				continue
			}
			if _, found, err := m.derivation.GetDerivationRecord(id, rl.RLIndex); err != nil {
				return err
			} else if found {
				continue
			}
			pub, err := m.derivation.PublicKey(rl.RLIndex)
			if err != nil {
				return err
			}
			ph, err := w.PuzzleHashForPubKey(pub)
			if err != nil {
				return err
			}
			rec := DerivationRecord{
				Index: rl.RLIndex, WalletID: id, WalletType: w.Type(),
				PubKey: pub.SerializeCompressed(), PuzzleHash: ph,
			}
			if err := m.derivation.AddDerivationRecords([]DerivationRecord{rec}); err != nil {
				return err
			}
			m.interest.AddPuzzleHash(ph)
			newHashes = append(newHashes, ph)
			continue
		}

		last, found, err := m.derivation.LastGeneratedForWallet(id)
		if err != nil {
			return err
		}
		start := uint32(0)
		if found && !fromZero {
			start = last + 1
		}
		unused, ok2, err := m.derivation.GetUnusedDerivationPath()
		if err != nil {
			return err
		}
		if !ok2 {
			unused = 0
		}
		target := unused + n
		if target <= start {
			continue
		}

		recs := make([]DerivationRecord, 0, target-start)
		for idx := start; idx < target; idx++ {
			pub, err := m.derivation.PublicKey(idx)
			if err != nil {
				return err
			}
			ph, err := w.PuzzleHashForPubKey(pub)
			if err != nil {
				return err
			}
			recs = append(recs, DerivationRecord{
				Index: idx, WalletID: id, WalletType: w.Type(),
				PubKey: pub.SerializeCompressed(), PuzzleHash: ph,
			})
			newHashes = append(newHashes, ph)
		}
		if err := m.derivation.AddDerivationRecords(recs); err != nil {
			return err
		}
		for _, r := range recs {
			m.interest.AddPuzzleHash(r.PuzzleHash)
		}
	}

	if len(newHashes) > 0 && m.network != nil {
		if err := m.network.SubscribeToNewPuzzleHash(ctx, newHashes); err != nil {
			return err
		}
		if err := m.publishInterestFilterLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// publishInterestFilterLocked snapshots the interest set into a compact
// filter and hands it to the peer, so the subscription surface and the
// peer's pre-push screen stay in step.
func (m *Manager) publishInterestFilterLocked(ctx context.Context) error {
	if m.network == nil {
		return nil
	}
	f, err := m.interest.Filter()
	if err != nil || f == nil {
		return err
	}
	return m.network.PublishInterestFilter(ctx, m.interest.Key(), f)
}

// CreateMorePuzzleHashes locks and runs createMorePuzzleHashesLocked.
func (m *Manager) CreateMorePuzzleHashes(ctx context.Context, fromZero bool, initialNumKeys, initialNumKeysNewWallet uint32, newWallet bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createMorePuzzleHashesLocked(ctx, fromZero, initialNumKeys, initialNumKeysNewWallet, newWallet)
}

// walletFromInfo reconstructs the right Wallet variant from its persisted
// description.
func (m *Manager) walletFromInfo(info WalletInfo) Wallet {
	switch info.Type {
	case WalletTypeColouredCoin:
		return &ColouredCoinWallet{WalletID: info.ID, Colour: info.Colour}
	case WalletTypeRateLimited:
		return &RateLimitedWallet{WalletID: info.ID, RLIndex: info.RLIndex}
	case WalletTypeDistributedID:
		return &DistributedIDWallet{WalletID: info.ID}
	case WalletTypePooling:
		return NewPoolingWallet(info.ID, info.Genesis, m.coinSurvives)
	default:
		return &StandardWallet{WalletID: info.ID}
	}
}

// coinSurvives reports whether the coin named name still exists in the
// ledger with a confirmation height at or below height, the question a
// Pooling wallet's Rewind asks about its launcher.
func (m *Manager) coinSurvives(name chainhash.Hash, height uint32) (bool, error) {
	rec, found, err := m.coins.GetByName(name)
	if err != nil {
		return false, err
	}
	return found && rec.ConfirmedHeight <= height, nil
}

// LoadRegistry rebuilds the wallet registry, interest set, and peak height
// from the user store, called once at startup before any coin state is
// ingested. A Manager built without a UserStore starts empty.
func (m *Manager) LoadRegistry() error {
	if m.users == nil {
		return nil
	}

	infos, err := m.users.Wallets()
	if err != nil {
		return err
	}
	for _, info := range infos {
		m.RegisterWallet(m.walletFromInfo(info))
	}

	watched, err := m.users.InterestedPuzzleHashes()
	if err != nil {
		return err
	}
	ids, err := m.users.InterestedCoinIDs()
	if err != nil {
		return err
	}
	derived, err := m.derivation.AllPuzzleHashes()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ph, walletID := range watched {
		m.interest.WatchPuzzleHash(ph, walletID)
	}
	// The interest set must cover every hash the derivation index can
	// resolve, or the coin-state pre-screen would drop coins paying to
	// addresses generated in an earlier run.
	for _, ph := range derived {
		m.interest.AddPuzzleHash(ph)
	}
	for _, id := range ids {
		m.interest.AddCoinID(id)
	}
	if peak, found, err := m.users.PeakHeight(); err != nil {
		return err
	} else if found {
		m.peakHeight = peak
	}
	return nil
}

// AddNewWallet persists info, registers the reconstructed wallet, and
// returns it.
func (m *Manager) AddNewWallet(info WalletInfo) (Wallet, error) {
	if _, exists := m.WalletByID(info.ID); exists {
		return nil, ErrWalletExists
	}
	if m.users != nil {
		if err := m.users.AddWallet(info); err != nil {
			return nil, err
		}
	}
	w := m.walletFromInfo(info)
	m.RegisterWallet(w)
	return w, nil
}

// RemoveWallet destroys a wallet: it is dropped from the registry (which
// also deregisters its peak callback) and from the persisted wallet list.
// Its ledger records are left in place for history.
func (m *Manager) RemoveWallet(id uint32) error {
	m.mu.Lock()
	if _, ok := m.registry[id]; !ok {
		m.mu.Unlock()
		return ErrUnknownWallet
	}
	delete(m.registry, id)
	m.removeFromOrder(id)
	m.mu.Unlock()

	if m.users != nil {
		return m.users.RemoveWallet(id)
	}
	return nil
}

// WalletByID returns the registered wallet with the given id.
func (m *Manager) WalletByID(id uint32) (Wallet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.registry[id]
	return w, ok
}

// WatchPuzzleHash registers ph as interesting on behalf of walletID,
// persists the registration, and asks the network layer to push coin
// states for it.
func (m *Manager) WatchPuzzleHash(ctx context.Context, ph chainhash.Hash, walletID uint32) error {
	m.mu.Lock()
	m.interest.WatchPuzzleHash(ph, walletID)
	m.mu.Unlock()

	if m.users != nil {
		if err := m.users.AddInterestedPuzzleHash(ph, walletID); err != nil {
			return err
		}
	}
	if m.network != nil {
		if err := m.network.SubscribeToNewPuzzleHash(ctx, []chainhash.Hash{ph}); err != nil {
			return err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.publishInterestFilterLocked(ctx)
	}
	return nil
}

// WatchCoinID registers a coin id as interesting, persists it, and
// subscribes to its updates.
func (m *Manager) WatchCoinID(ctx context.Context, id chainhash.Hash) error {
	m.mu.Lock()
	m.interest.AddCoinID(id)
	m.mu.Unlock()

	if m.users != nil {
		if err := m.users.AddInterestedCoinID(id); err != nil {
			return err
		}
	}
	if m.network != nil {
		return m.network.SubscribeToCoinIDsUpdate(ctx, []chainhash.Hash{id})
	}
	return nil
}

// Requests exposes the typed pending-request registry inbound message
// handlers resolve against.
func (m *Manager) Requests() *RequestRegistry {
	return m.requests
}

// HandleRespondPuzzleSolution resolves any pending puzzle-solution request
// matching resp's (coin name, height) tuple, then delivers the response to
// the owning wallet if that wallet handles solutions.
func (m *Manager) HandleRespondPuzzleSolution(resp PuzzleSolutionResponse) error {
	resolved := m.requests.ResolvePuzzleSolution(resp)
	if !resolved {
		log.Debugf("unsolicited puzzle solution for coin %v at height %d",
			resp.CoinName, resp.Height)
	}

	rec, found, err := m.coins.GetByName(resp.CoinName)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	w, ok := m.WalletByID(rec.WalletID)
	if !ok {
		return nil
	}
	if handler, ok := w.(SolutionHandler); ok {
		return handler.PuzzleSolutionReceived(resp)
	}
	return nil
}

// GetUnusedDerivationRecord atomically reads the next unused derivation
// index, tops up generation if none is available, marks it used, and
// returns its record, as one atomic sequence under the manager lock.
func (m *Manager) GetUnusedDerivationRecord(ctx context.Context, walletID uint32, initialNumKeys uint32) (DerivationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index, ok, err := m.derivation.GetUnusedDerivationPath()
	if err != nil {
		return DerivationRecord{}, err
	}
	if !ok {
		if err := m.createMorePuzzleHashesLocked(ctx, false, initialNumKeys, initialNumKeys, false); err != nil {
			return DerivationRecord{}, err
		}
		index, ok, err = m.derivation.GetUnusedDerivationPath()
		if err != nil {
			return DerivationRecord{}, err
		}
		if !ok {
			return DerivationRecord{}, ErrNoKeyForPuzzleHash
		}
	}

	rec, found, err := m.derivation.GetDerivationRecord(walletID, index)
	if err != nil {
		return DerivationRecord{}, err
	}
	if !found {
		return DerivationRecord{}, ErrNoKeyForPuzzleHash
	}

	if err := m.derivation.SetUsedUpTo(index); err != nil {
		return DerivationRecord{}, err
	}
	return rec, nil
}
