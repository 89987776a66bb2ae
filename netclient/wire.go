package netclient

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/projwallet/wallet"
)

// coinStateWire is the JSON shape a projwallet-extended node returns for a
// coin state: hex-encoded hashes, an amount in atoms, and optional
// created/spent heights (0 meaning absent, since genesis coins at height 0
// don't exist on this chain).
type coinStateWire struct {
	ParentCoinInfo string `json:"parent_coin_info"`
	PuzzleHash     string `json:"puzzle_hash"`
	Amount         int64  `json:"amount"`
	CreatedHeight  uint32 `json:"created_height"`
	SpentHeight    uint32 `json:"spent_height"`
}

func encodeCoinWire(c wallet.Coin) coinStateWire {
	return coinStateWire{
		ParentCoinInfo: c.ParentCoinInfo.String(),
		PuzzleHash:     c.PuzzleHash.String(),
		Amount:         int64(c.Amount),
	}
}

func decodeCoinStates(in []coinStateWire) ([]wallet.CoinState, error) {
	out := make([]wallet.CoinState, 0, len(in))
	for _, w := range in {
		parent, err := chainhash.NewHashFromStr(w.ParentCoinInfo)
		if err != nil {
			return nil, err
		}
		ph, err := chainhash.NewHashFromStr(w.PuzzleHash)
		if err != nil {
			return nil, err
		}

		cs := wallet.CoinState{
			Coin: wallet.Coin{
				ParentCoinInfo: *parent,
				PuzzleHash:     *ph,
				Amount:         dcrutil.Amount(w.Amount),
			},
		}
		if w.CreatedHeight != 0 {
			h := w.CreatedHeight
			cs.CreatedHeight = &h
		}
		if w.SpentHeight != 0 {
			h := w.SpentHeight
			cs.SpentHeight = &h
		}
		out = append(out, cs)
	}
	return out, nil
}
