package wallet

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v4"
)

// Wallet is the small capability interface every registered wallet
// implements: a tagged variant (Type()) plus narrow optional capabilities
// instead of dynamic dispatch on a wallet_type integer.
type Wallet interface {
	// Type identifies which capability variant this wallet is.
	Type() WalletType

	// ID returns the wallet's identifier in the registry.
	ID() uint32

	// PuzzleHashForPubKey returns the locking puzzle hash for pubKey: the
	// hash of the serialized locking script this wallet variant produces.
	PuzzleHashForPubKey(pubKey *secp256k1.PublicKey) (chainhash.Hash, error)
}

// CoinAdder is implemented by wallet variants that must react to a newly
// confirmed coin beyond the ledger write: ColouredCoin and DistributedID.
type CoinAdder interface {
	CoinAdded(coin Coin, height uint32) error
}

// Rewinder is implemented by wallet variants that may be destroyed by a
// deep reorg: Pooling wallets, which return true once their genesis
// coin no longer exists at the rollback target.
type Rewinder interface {
	Rewind(height uint32) (bool, error)
}

// PeakNotifiee is implemented by wallet variants that track the chain tip
// themselves, currently the Pooling variant. The Manager invokes
// callbacks in registry insertion order on every new peak; removing a
// wallet from the registry deregisters its callback.
type PeakNotifiee interface {
	NewPeakCallback(height uint32) error
}

// SolutionHandler is implemented by wallet variants that asked for a spent
// coin's reveal and want the response delivered once the peer answers.
type SolutionHandler interface {
	PuzzleSolutionReceived(resp PuzzleSolutionResponse) error
}

// StandardWallet is a plain pay-to-pubkey-hash wallet: the common case,
// whose puzzle hash is a pure function of the pubkey with no extra
// wallet-specific state.
type StandardWallet struct {
	WalletID uint32
}

// Type implements Wallet.
func (w *StandardWallet) Type() WalletType { return WalletTypeStandard }

// ID implements Wallet.
func (w *StandardWallet) ID() uint32 { return w.WalletID }

// PuzzleHashForPubKey implements Wallet using the classic P2PKH locking
// script, hashed the same way every puzzle hash in this module is: the
// hash of the serialized locking script, not just the pubkey hash.
func (w *StandardWallet) PuzzleHashForPubKey(pubKey *secp256k1.PublicKey) (chainhash.Hash, error) {
	return P2PKHPuzzleHash(pubKey)
}

// P2PKHPuzzleHash computes the puzzle hash for a classic P2PKH locking
// script over pubKey. Every Wallet variant that doesn't need a custom
// locking script (Standard, RateLimited, DistributedID, Pooling) derives
// its puzzle hash this way.
func P2PKHPuzzleHash(pubKey *secp256k1.PublicKey) (chainhash.Hash, error) {
	pkHash := dcrutil.Hash160(pubKey.SerializeCompressed())
	script, err := p2pkhScript(pkHash)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.HashH(script), nil
}

// ColouredCoinWallet tracks the coins of a single asset (colour) id.
type ColouredCoinWallet struct {
	WalletID uint32
	Colour   chainhash.Hash
}

// Type implements Wallet.
func (w *ColouredCoinWallet) Type() WalletType { return WalletTypeColouredCoin }

// ID implements Wallet.
func (w *ColouredCoinWallet) ID() uint32 { return w.WalletID }

// PuzzleHashForPubKey implements Wallet: the coloured-coin locking puzzle
// additionally commits to the colour, so two wallets holding the same
// pubkey under different colours never collide.
func (w *ColouredCoinWallet) PuzzleHashForPubKey(pubKey *secp256k1.PublicKey) (chainhash.Hash, error) {
	pkHash := dcrutil.Hash160(pubKey.SerializeCompressed())
	script, err := p2pkhScript(pkHash)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.HashH(append(script, w.Colour[:]...)), nil
}

// CoinAdded implements CoinAdder; coloured-coin bookkeeping beyond the
// ledger write (e.g. tracking the running supply) is out of this
// module's core scope and is a no-op here.
func (w *ColouredCoinWallet) CoinAdded(coin Coin, height uint32) error { return nil }

// RateLimitedWallet enforces a spend-rate schedule and generates exactly
// one derivation path at the RL pubkey's index rather than a dense range.
type RateLimitedWallet struct {
	WalletID uint32
	RLIndex  uint32
}

// Type implements Wallet.
func (w *RateLimitedWallet) Type() WalletType { return WalletTypeRateLimited }

// ID implements Wallet.
func (w *RateLimitedWallet) ID() uint32 { return w.WalletID }

// PuzzleHashForPubKey implements Wallet.
func (w *RateLimitedWallet) PuzzleHashForPubKey(pubKey *secp256k1.PublicKey) (chainhash.Hash, error) {
	return P2PKHPuzzleHash(pubKey)
}

// DistributedIDWallet backs a DID-style identity singleton.
type DistributedIDWallet struct {
	WalletID uint32
}

// Type implements Wallet.
func (w *DistributedIDWallet) Type() WalletType { return WalletTypeDistributedID }

// ID implements Wallet.
func (w *DistributedIDWallet) ID() uint32 { return w.WalletID }

// PuzzleHashForPubKey implements Wallet.
func (w *DistributedIDWallet) PuzzleHashForPubKey(pubKey *secp256k1.PublicKey) (chainhash.Hash, error) {
	return P2PKHPuzzleHash(pubKey)
}

// CoinAdded implements CoinAdder.
func (w *DistributedIDWallet) CoinAdded(coin Coin, height uint32) error { return nil }

// PoolingWallet is skipped during derivation expansion and asked to
// rewind() on reorg; it is removed from the registry once rewind reports
// its genesis coin no longer exists at the target height.
type PoolingWallet struct {
	WalletID    uint32
	GenesisName chainhash.Hash
	stillExists func(name chainhash.Hash, height uint32) (bool, error)
	lastPeak    uint32
}

// NewPoolingWallet constructs a PoolingWallet. stillExists is consulted by
// Rewind to decide whether the pool's launcher coin survives a rollback
// to height.
func NewPoolingWallet(walletID uint32, genesis chainhash.Hash,
	stillExists func(chainhash.Hash, uint32) (bool, error)) *PoolingWallet {

	return &PoolingWallet{
		WalletID:    walletID,
		GenesisName: genesis,
		stillExists: stillExists,
	}
}

// Type implements Wallet.
func (w *PoolingWallet) Type() WalletType { return WalletTypePooling }

// ID implements Wallet.
func (w *PoolingWallet) ID() uint32 { return w.WalletID }

// PuzzleHashForPubKey implements Wallet; pooling wallets never derive new
// puzzle hashes from the master key, so this is unreachable in practice.
func (w *PoolingWallet) PuzzleHashForPubKey(pubKey *secp256k1.PublicKey) (chainhash.Hash, error) {
	return P2PKHPuzzleHash(pubKey)
}

// Rewind implements Rewinder: returns true (meaning "delete this wallet")
// once the pool's genesis coin no longer survives at height.
func (w *PoolingWallet) Rewind(height uint32) (bool, error) {
	if w.stillExists == nil {
		return false, nil
	}
	exists, err := w.stillExists(w.GenesisName, height)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// NewPeakCallback implements PeakNotifiee. The pool sub-protocol itself is
// out of scope here; the callback just remembers the tip so Rewind
// decisions and pool-state queries see a consistent height.
func (w *PoolingWallet) NewPeakCallback(height uint32) error {
	w.lastPeak = height
	return nil
}

// LastPeak returns the height most recently delivered via NewPeakCallback.
func (w *PoolingWallet) LastPeak() uint32 { return w.lastPeak }
