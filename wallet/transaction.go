package wallet

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
)

// TransactionType classifies a TransactionRecord.
type TransactionType uint32

const (
	// TxCoinbaseReward is a PoW block reward.
	TxCoinbaseReward TransactionType = iota
	// TxFeeReward is a PoS/fee-style reward.
	TxFeeReward
	// TxIncoming is an incoming payment from outside the wallet.
	TxIncoming
	// TxOutgoing is an outgoing payment synthesized from a spend.
	TxOutgoing
	// TxIncomingTrade is an incoming trade settlement.
	TxIncomingTrade
	// TxOutgoingTrade is an outgoing trade settlement.
	TxOutgoingTrade
)

// SendStatus records one attempt to broadcast a transaction to one peer.
type SendStatus struct {
	Peer   string
	Status string
	Err    string
}

// TransactionRecord is this module's transaction ledger entry. Invariant:
// Confirmed == true implies ConfirmedAtHeight is set (non-zero height is
// meaningless at height 0, so callers must not confirm a tx at height 0).
type TransactionRecord struct {
	Name              chainhash.Hash
	ConfirmedAtHeight uint32
	CreatedAtTime     uint64
	ToPuzzleHash      chainhash.Hash
	Amount            dcrutil.Amount
	FeeAmount         dcrutil.Amount
	Confirmed         bool
	Sent              uint32
	SentTo            []SendStatus
	Additions         []Coin
	Removals          []Coin
	WalletID          uint32
	TradeID           *chainhash.Hash
	Type              TransactionType
}

// removalNames returns the Name() of every coin this transaction removes,
// used by ConfirmByRemoval to match an observed spend to its transaction.
func (t *TransactionRecord) removalNames() map[chainhash.Hash]struct{} {
	out := make(map[chainhash.Hash]struct{}, len(t.Removals))
	for _, c := range t.Removals {
		out[c.Name()] = struct{}{}
	}
	return out
}
