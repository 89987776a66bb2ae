package wallet

import (
	"encoding/binary"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
)

// Coin is the immutable (parent_coin_info, puzzle_hash, amount) tuple this
// module projects across reorgs. Its Name is the hash of its serialization,
// and coins chain into a DAG where a coin's parent is itself a prior coin.
type Coin struct {
	ParentCoinInfo chainhash.Hash
	PuzzleHash     chainhash.Hash
	Amount         dcrutil.Amount
}

// Name returns the 32-byte identity of the coin: the hash of its
// serialization. Two coins with the same (parent, puzzle hash, amount)
// are the same coin.
func (c Coin) Name() chainhash.Hash {
	var buf [72]byte
	copy(buf[0:32], c.ParentCoinInfo[:])
	copy(buf[32:64], c.PuzzleHash[:])
	binary.BigEndian.PutUint64(buf[64:72], uint64(c.Amount))
	return chainhash.HashH(buf[:])
}

// CoinState is the wire-level input this module's projection engine
// consumes. A nil CreatedHeight and nil SpentHeight together mean the coin
// has been reorged out.
type CoinState struct {
	Coin          Coin
	CreatedHeight *uint32
	SpentHeight   *uint32
}

// CoinRecord is the full node's view of a coin, external to this module's
// ledger (owned by the backing chain store, see storage's "opaque table"
// framing).
type CoinRecord struct {
	Coin            Coin
	ConfirmedHeight uint32
	SpentHeight     uint32 // 0 == unspent
	Coinbase        bool
	Timestamp       uint64
}

// WalletType tags which capability variant a registered Wallet is.
type WalletType uint8

const (
	// WalletTypeStandard is a plain pay-to-pubkey-hash wallet.
	WalletTypeStandard WalletType = iota
	// WalletTypeColouredCoin tracks a single asset id's coins.
	WalletTypeColouredCoin
	// WalletTypeRateLimited enforces a spend-rate schedule.
	WalletTypeRateLimited
	// WalletTypeDistributedID backs a DID-style identity singleton.
	WalletTypeDistributedID
	// WalletTypePooling is a pool-wallet, skipped during derivation
	// expansion and asked to rewind() on reorg.
	WalletTypePooling
)

// WalletCoinRecord is this module's ledger entry: a Coin plus the
// confirm/spend heights and wallet attribution the projection engine
// derived for it. Invariant: SpentHeight == 0 or SpentHeight >=
// ConfirmedHeight; WalletID must name a live wallet.
type WalletCoinRecord struct {
	Coin            Coin
	ConfirmedHeight uint32
	SpentHeight     uint32 // 0 == unspent
	Coinbase        bool
	IsFarmReward    bool
	WalletType      WalletType
	WalletID        uint32
}

// IsSpent reports whether the record has been marked spent.
func (r WalletCoinRecord) IsSpent() bool {
	return r.SpentHeight != 0
}
