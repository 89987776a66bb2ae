package eventbus

import (
	"testing"

	"github.com/decred/projwallet/wallet"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := New()

	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()
	require.Equal(t, 2, b.Count())

	ev := wallet.Event{Kind: wallet.EventCoinAdded, WalletID: 1}
	b.Publish(ev)

	require.Equal(t, ev, <-ch1)
	require.Equal(t, ev, <-ch2)

	unsub1()
	require.Equal(t, 1, b.Count())
	_, open := <-ch1
	require.False(t, open, "unsubscribe closes the channel")

	b.Publish(ev)
	require.Equal(t, ev, <-ch2)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(wallet.Event{Kind: wallet.EventTxUpdate, WalletID: uint32(i)})
	}

	// The buffer holds exactly subscriberBuffer events; the overflow was
	// dropped rather than blocking the publisher.
	require.Len(t, ch, subscriberBuffer)
}

func TestMacaroonRoundTrip(t *testing.T) {
	rootKey, err := DeriveRootKey([]byte("master-secret"), []byte("wallet-1"))
	require.NoError(t, err)
	require.Len(t, rootKey, 32)

	m, err := NewBearerMacaroon(rootKey, "subscriber-a")
	require.NoError(t, err)
	require.NoError(t, VerifyBearerMacaroon(rootKey, m))

	otherKey, err := DeriveRootKey([]byte("master-secret"), []byte("wallet-2"))
	require.NoError(t, err)
	require.Error(t, VerifyBearerMacaroon(otherKey, m))
}
