package wallet

import (
	"context"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/gcs/v3"
)

// NewPeakWallet is the inbound notification that a new chain tip has been
// observed, triggering new-peak processing.
type NewPeakWallet struct {
	Height     uint32
	HeaderHash chainhash.Hash
	Weight     uint64
}

// PuzzleSolutionResponse resolves a pending fetch_puzzle_solution request
// matched on (CoinName, Height).
type PuzzleSolutionResponse struct {
	CoinName chainhash.Hash
	Height   uint32
	Puzzle   []byte
	Solution []byte
}

// CoinSpend is the reveal of a spent coin: the puzzle and solution that
// unlocked it, from which the reserved fee is read.
type CoinSpend struct {
	Coin         Coin
	PuzzleReveal []byte
	Solution     []byte
	ReservedFee  dcrutil.Amount
}

// Network is this module's external network collaborator contract. A
// concrete implementation lives in the netclient package; tests use a
// hand-rolled fake.
type Network interface {
	// SubscribeToNewPuzzleHash asks the peer to push coin states for hashes.
	SubscribeToNewPuzzleHash(ctx context.Context, hashes []chainhash.Hash) error

	// SubscribeToCoinIDsUpdate asks the peer to push coin states for ids.
	SubscribeToCoinIDsUpdate(ctx context.Context, ids []chainhash.Hash) error

	// PublishInterestFilter hands the peer a compact filter over every
	// watched puzzle hash, keyed by key, so it can cheaply test candidate
	// coins before assembling a push batch.
	PublishInterestFilter(ctx context.Context, key [gcs.KeySize]byte, filter *gcs.FilterV2) error

	// GetCoinState is an explicit pull for the current state of ids.
	GetCoinState(ctx context.Context, ids []chainhash.Hash) ([]CoinState, error)

	// FetchChildren returns the children of the coin named parent.
	FetchChildren(ctx context.Context, parent chainhash.Hash) ([]CoinState, error)

	// FetchPuzzleSolution returns the reveal of coin, spent at height.
	FetchPuzzleSolution(ctx context.Context, height uint32, coin Coin) (*CoinSpend, error)

	// GetTimestampForHeight returns the block timestamp at height.
	GetTimestampForHeight(ctx context.Context, height uint32) (uint64, error)
}
