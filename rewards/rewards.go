// Package rewards classifies a newly created coin as a block-subsidy
// (coinbase) or vote-subsidy (stakebase) reward by matching its parent
// against per-height deterministic sentinel ids.
package rewards

import (
	"encoding/binary"

	"github.com/decred/dcrd/blockchain/standalone/v2"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
)

const (
	coinbaseDomainTag  byte = 0x01
	stakebaseDomainTag byte = 0x02

	// lookbackHeights is the inclusive sentinel search window:
	// [created-29, created]. Reward coins can surface up to 29 blocks
	// after the block that minted them.
	lookbackHeights = 30
)

// ExpectedCoinbaseParentID returns the deterministic sentinel parent id a
// PoW block-subsidy coin created at height carries on this chain.
func ExpectedCoinbaseParentID(height uint32, genesis chainhash.Hash) chainhash.Hash {
	return deterministicParentID(coinbaseDomainTag, height, genesis)
}

// ExpectedStakebaseParentID returns the deterministic sentinel parent id a
// PoS vote-subsidy coin created at height carries.
func ExpectedStakebaseParentID(height uint32, genesis chainhash.Hash) chainhash.Hash {
	return deterministicParentID(stakebaseDomainTag, height, genesis)
}

func deterministicParentID(tag byte, height uint32, genesis chainhash.Hash) chainhash.Hash {
	var buf [37]byte
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:5], height)
	copy(buf[5:37], genesis[:])
	return chainhash.HashH(buf[:])
}

// Classifier decides whether a coin is a reward payout. It caches the
// consensus subsidy schedule so repeated classifications during a large
// coin-state batch don't recompute reduction intervals from scratch.
type Classifier struct {
	genesis chainhash.Hash
	subsidy *standalone.SubsidyCache
}

// NewClassifier returns a Classifier for the chain identified by genesis,
// using params' subsidy schedule for amount corroboration.
func NewClassifier(genesis chainhash.Hash, params *chaincfg.Params) *Classifier {
	return &Classifier{
		genesis: genesis,
		subsidy: standalone.NewSubsidyCache(params),
	}
}

// Classify searches the inclusive 30-height window [createdHeight-29,
// createdHeight] for a height whose expected coinbase or stakebase
// sentinel parent id matches parentCoinInfo, returning at most one of
// coinbase/stakebase true.
// amount additionally corroborates the match against the consensus subsidy
// schedule; a sentinel match with a wildly wrong amount is treated as a
// coincidental hash collision and rejected.
func (c *Classifier) Classify(parentCoinInfo chainhash.Hash, createdHeight uint32,
	amount dcrutil.Amount) (coinbase, stakebase bool) {

	lo := uint32(0)
	if createdHeight >= lookbackHeights-1 {
		lo = createdHeight - (lookbackHeights - 1)
	}

	for h := createdHeight; h >= lo; h-- {
		if ExpectedCoinbaseParentID(h, c.genesis) == parentCoinInfo {
			subsidy := dcrutil.Amount(c.subsidy.CalcBlockSubsidy(int64(h)))
			if subsidy == 0 || amount <= subsidy {
				return true, false
			}
		}
		if ExpectedStakebaseParentID(h, c.genesis) == parentCoinInfo {
			// Each vote earns its own slice of the stake subsidy; allow a
			// little slack for the original ticket contribution riding
			// along in the same coin. The schedule reports zero before
			// stake validation begins, in which case there is nothing to
			// corroborate against and the sentinel match stands alone.
			subsidy := dcrutil.Amount(c.subsidy.CalcStakeVoteSubsidy(int64(h)))
			if subsidy == 0 || amount <= subsidy*2 {
				return false, true
			}
		}
		if h == 0 {
			break
		}
	}
	return false, false
}
