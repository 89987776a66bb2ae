package wallet

import (
	"testing"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/stretchr/testify/require"
)

func testAccountXP(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	for i := range seed {
		seed[i] = byte(i)
	}
	xp, err := hdkeychain.NewMaster(seed, chaincfg.MainNetParams())
	require.NoError(t, err)
	return xp
}

func buildDerivationRecords(t *testing.T, d *DerivationIndex, walletID uint32, from, to uint32) []DerivationRecord {
	t.Helper()
	recs := make([]DerivationRecord, 0, to-from)
	for idx := from; idx < to; idx++ {
		pub, err := d.PublicKey(idx)
		require.NoError(t, err)
		recs = append(recs, DerivationRecord{
			Index: idx, WalletID: walletID, WalletType: WalletTypeStandard,
			PubKey: pub.SerializeCompressed(),
		})
	}
	return recs
}

// TestDerivationBootstrap checks a fresh index: after generating a
// dense range [0, 8) with nothing yet consumed, GetUnusedDerivationPath
// reports index 0 and last_used has not advanced.
func TestDerivationBootstrap(t *testing.T) {
	d := NewDerivationIndex(openTestDB(t), testAccountXP(t))

	recs := buildDerivationRecords(t, d, 1, 0, 8)
	require.NoError(t, d.AddDerivationRecords(recs))

	last, found, err := d.LastGeneratedForWallet(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(7), last)

	unused, ok, err := d.GetUnusedDerivationPath()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), unused)

	_, hasUsed, err := d.LastUsed()
	require.NoError(t, err)
	require.False(t, hasUsed, "nothing has been consumed yet")
}

// TestDerivationSetUsedUpToMonotone checks the ratchet:
// set_used_up_to(i) followed by set_used_up_to(j <= i) has no effect.
func TestDerivationSetUsedUpToMonotone(t *testing.T) {
	d := NewDerivationIndex(openTestDB(t), testAccountXP(t))

	require.NoError(t, d.SetUsedUpTo(5))
	used, ok, err := d.LastUsed()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(5), used)

	require.NoError(t, d.SetUsedUpTo(2))
	used, _, err = d.LastUsed()
	require.NoError(t, err)
	require.Equal(t, uint32(5), used, "last_used must never decrease")

	require.NoError(t, d.SetUsedUpTo(9))
	used, _, err = d.LastUsed()
	require.NoError(t, err)
	require.Equal(t, uint32(9), used)
}

func TestDerivationIndexForPuzzleHash(t *testing.T) {
	d := NewDerivationIndex(openTestDB(t), testAccountXP(t))
	recs := buildDerivationRecords(t, d, 1, 0, 3)
	for i := range recs {
		pub, err := d.PublicKey(recs[i].Index)
		require.NoError(t, err)
		ph, err := P2PKHPuzzleHash(pub)
		require.NoError(t, err)
		recs[i].PuzzleHash = ph
	}
	require.NoError(t, d.AddDerivationRecords(recs))

	got, found, err := d.IndexForPuzzleHash(recs[1].PuzzleHash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, recs[1].Index, got.Index)

	walletID, _, err := d.WalletInfoForPuzzleHash(recs[1].PuzzleHash)
	require.NoError(t, err)
	require.Equal(t, uint32(1), walletID)

	_, _, err = d.WalletInfoForPuzzleHash(testCoin(t, 99, 1).PuzzleHash)
	require.ErrorIs(t, err, ErrNoKeyForPuzzleHash)
}
