package wallet

import (
	"context"
	"sync"
)

// MempoolInclusionStatus is a peer's verdict on one broadcast attempt.
type MempoolInclusionStatus string

const (
	// MempoolSuccess means the peer accepted the transaction.
	MempoolSuccess MempoolInclusionStatus = "SUCCESS"

	// MempoolPending means the peer is holding the transaction but has not
	// yet admitted it (e.g. an unknown unspent or a fee too low for now).
	MempoolPending MempoolInclusionStatus = "PENDING"

	// MempoolFailed means the peer rejected the transaction outright.
	MempoolFailed MempoolInclusionStatus = "FAILED"
)

// Broadcaster pushes a pending transaction to a peer. netclient implements
// it against the backing node; tests use a fake.
type Broadcaster interface {
	PushTransaction(ctx context.Context, tx TransactionRecord) (MempoolInclusionStatus, error)
}

// SendQueue owns the hand-off of pending transactions to the network. All
// queue operations serialize through its own mutex,
// separate from the Manager's state lock, so a slow broadcast never stalls
// coin-state ingestion.
//
// A failed or rejected attempt is recorded in the transaction's
// sent_to log and the sent counter is incremented, but the transaction is
// never removed: the retry loop calls ResendPending again later.
type SendQueue struct {
	mu     sync.Mutex
	txs    *TxLedger
	send   Broadcaster
	events EventSink
}

// NewSendQueue returns a SendQueue draining into send.
func NewSendQueue(txs *TxLedger, send Broadcaster, events EventSink) *SendQueue {
	if events == nil {
		events = noopSink{}
	}
	return &SendQueue{txs: txs, send: send, events: events}
}

// Enqueue records tx as pending and announces it. The transaction enters
// the ledger unconfirmed; the next ResendPending pass will broadcast it.
func (q *SendQueue) Enqueue(tx TransactionRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx.Confirmed = false
	tx.ConfirmedAtHeight = 0
	if err := q.txs.Add(tx); err != nil {
		return err
	}
	q.events.Publish(Event{Kind: EventPendingTransaction, WalletID: tx.WalletID, Data: tx})
	return nil
}

// ResendPending broadcasts every unconfirmed outgoing transaction to peer,
// recording the outcome of each attempt. Individual rejections don't abort
// the pass; the first store failure does.
func (q *SendQueue) ResendPending(ctx context.Context, peer string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.txs.GetAllUnconfirmed()
	if err != nil {
		return err
	}

	for _, tx := range pending {
		if tx.Type != TxOutgoing && tx.Type != TxOutgoingTrade {
			continue
		}

		status, sendErr := q.send.PushTransaction(ctx, tx)
		attempt := SendStatus{Peer: peer, Status: string(status)}
		if sendErr != nil {
			attempt.Err = sendErr.Error()
			if attempt.Status == "" {
				attempt.Status = string(MempoolFailed)
			}
		}
		if err := q.txs.IncrementSent(tx.Name, attempt); err != nil {
			return err
		}

		if sendErr != nil || status != MempoolSuccess {
			log.Debugf("broadcast of tx %v to %s not accepted: status=%s err=%v",
				tx.Name, peer, attempt.Status, sendErr)
			continue
		}
		q.events.Publish(Event{Kind: EventTxUpdate, WalletID: tx.WalletID, Data: tx.Name})
	}
	return nil
}
