package rewards

import (
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/stretchr/testify/require"
)

// TestRewardWindowInclusive checks the lookback boundary: a sentinel minted
// for height h is still recognized by a coin created at h+29 and no longer
// recognized at h+30.
func TestRewardWindowInclusive(t *testing.T) {
	var genesis chainhash.Hash
	c := NewClassifier(genesis, chaincfg.MainNetParams())

	const mintHeight = 1000
	parent := ExpectedCoinbaseParentID(mintHeight, genesis)

	coinbase, stakebase := c.Classify(parent, mintHeight+29, 1)
	require.True(t, coinbase)
	require.False(t, stakebase)

	coinbase, stakebase = c.Classify(parent, mintHeight+30, 1)
	require.False(t, coinbase)
	require.False(t, stakebase)
}

// TestRewardAtMostOne checks that a coin never classifies as both reward
// kinds, even when probing the same window.
func TestRewardAtMostOne(t *testing.T) {
	var genesis chainhash.Hash
	c := NewClassifier(genesis, chaincfg.MainNetParams())

	coinbaseParent := ExpectedCoinbaseParentID(500, genesis)
	stakebaseParent := ExpectedStakebaseParentID(500, genesis)
	require.NotEqual(t, coinbaseParent, stakebaseParent,
		"the two sentinel domains must never collide for the same height")

	cb, sb := c.Classify(coinbaseParent, 500, 1)
	require.True(t, cb != sb)

	cb, sb = c.Classify(stakebaseParent, 500, 1)
	require.True(t, cb != sb)
	require.True(t, sb)
}

// TestRewardAmountCorroboration rejects a sentinel match whose amount is
// far beyond what the subsidy schedule could have paid at that height.
func TestRewardAmountCorroboration(t *testing.T) {
	var genesis chainhash.Hash
	c := NewClassifier(genesis, chaincfg.MainNetParams())

	parent := ExpectedCoinbaseParentID(1000, genesis)
	cb, _ := c.Classify(parent, 1000, dcrutil.Amount(21e14))
	require.False(t, cb, "an impossible amount means the sentinel match was a collision")
}

// TestRewardGenesisLowHeights exercises the window clamp near height 0.
func TestRewardGenesisLowHeights(t *testing.T) {
	var genesis chainhash.Hash
	c := NewClassifier(genesis, chaincfg.MainNetParams())

	parent := ExpectedCoinbaseParentID(0, genesis)
	cb, sb := c.Classify(parent, 5, 1)
	require.True(t, cb)
	require.False(t, sb)

	unrelated := chainhash.HashH([]byte("unrelated"))
	cb, sb = c.Classify(unrelated, 3, 1)
	require.False(t, cb)
	require.False(t, sb)
}
