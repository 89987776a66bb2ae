// Package netclient implements the network collaborator contract
// (wallet.Network) against a dcrd-family JSON-RPC node over a websocket,
// relying on rpcclient's built-in reconnect with backoff and re-arming the
// node's notification subscriptions whenever the connection comes back.
package netclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrjson/v3"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/gcs/v3"
	types "github.com/decred/dcrd/rpc/jsonrpc/types/v3"
	"github.com/decred/dcrd/rpcclient/v7"
	"github.com/decred/dcrd/wire"
	"github.com/decred/projwallet/wallet"
	"golang.org/x/time/rate"
)

// Custom, non-standard RPC method names this module's node extension must
// expose; a stock dcrd has no notion of puzzle-hash subscriptions.
const (
	methodSubscribeNewPuzzleHash = "projwallet_subscribetonewpuzzlehash"
	methodSubscribeCoinIDsUpdate = "projwallet_subscribetocoinidsupdate"
	methodSetInterestFilter      = "projwallet_setinterestfilter"
	methodGetCoinState           = "projwallet_getcoinstate"
	methodFetchChildren          = "projwallet_fetchchildren"
	methodFetchPuzzleSolution    = "projwallet_fetchpuzzlesolution"
	methodPushTransaction        = "projwallet_pushtransaction"
)

// Config collects the dial parameters for one RPC endpoint.
type Config struct {
	Endpoints []string
	User      string
	Pass      string
	Certs     []byte
	RateLimit rate.Limit
	RateBurst int

	// OnNewPeak, if set, is invoked for every block the node announces.
	OnNewPeak func(peak wallet.NewPeakWallet)
}

// Client implements wallet.Network and wallet.Broadcaster against a
// dcrd-style JSON-RPC node. The first configured endpoint is dialed;
// rpcclient owns the websocket lifecycle, including automatic reconnect,
// and notification registrations are replayed on every reconnect.
type Client struct {
	mu           sync.Mutex
	rpc          *rpcclient.Client
	limiter      *rate.Limiter
	notifyBlocks bool
}

var _ wallet.Network = (*Client)(nil)
var _ wallet.Broadcaster = (*Client)(nil)

// New dials the first endpoint in cfg and returns a Client ready to serve
// wallet.Network calls.
func New(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("netclient: no endpoints configured")
	}

	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Limit(20)
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = 20
	}

	c := &Client{
		limiter: rate.NewLimiter(limit, burst),
	}

	handlers := &rpcclient.NotificationHandlers{
		OnClientConnected: func() {
			log.Infof("rpc connection to %s established", cfg.Endpoints[0])
			go c.rearmNotifications()
		},
	}
	if cfg.OnNewPeak != nil {
		onPeak := cfg.OnNewPeak
		handlers.OnBlockConnected = func(blockHeader []byte, _ [][]byte) {
			var header wire.BlockHeader
			if err := header.Deserialize(bytes.NewReader(blockHeader)); err != nil {
				log.Errorf("undecodable block header in notification: %v", err)
				return
			}
			onPeak(wallet.NewPeakWallet{
				Height:     header.Height,
				HeaderHash: header.BlockHash(),
			})
		}
	}

	rpcCfg := &rpcclient.ConnConfig{
		Host:         cfg.Endpoints[0],
		Endpoint:     "ws",
		User:         cfg.User,
		Pass:         cfg.Pass,
		Certificates: cfg.Certs,
		DisableTLS:   len(cfg.Certs) == 0,
	}
	rpc, err := rpcclient.New(rpcCfg, handlers)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.rpc = rpc
	c.mu.Unlock()

	return c, nil
}

// rearmNotifications replays the node-side notification registrations
// after rpcclient reconnects; a fresh websocket session starts with none.
// The connected callback can fire during the initial dial, before New has
// assigned the client, in which case nothing has been registered yet.
func (c *Client) rearmNotifications() {
	c.mu.Lock()
	rpc, wanted := c.rpc, c.notifyBlocks
	c.mu.Unlock()
	if rpc == nil || !wanted {
		return
	}
	if err := rpc.NotifyBlocks(context.Background()); err != nil {
		log.Warnf("re-registering block notifications failed: %v", err)
	}
}

// Handshake verifies the node speaks a compatible JSON-RPC dialect and
// logs its version, returning ErrPeerUnavailable if the node can't be
// reached.
func (c *Client) Handshake(ctx context.Context) error {
	versions, err := c.rpc.Version(ctx)
	if err != nil {
		return wallet.ErrPeerUnavailable
	}
	for service, v := range versions {
		logVersion(service, v)
	}
	return nil
}

func logVersion(service string, v types.VersionResult) {
	log.Infof("remote %s version %s (protocol %d.%d.%d)",
		service, v.VersionString, v.Major, v.Minor, v.Patch)
}

// NotifyBlocks asks the node to start streaming block-connected
// notifications, which surface through Config.OnNewPeak. The registration
// is remembered and replayed after every reconnect.
func (c *Client) NotifyBlocks(ctx context.Context) error {
	c.mu.Lock()
	c.notifyBlocks = true
	c.mu.Unlock()

	if err := c.rpc.NotifyBlocks(ctx); err != nil {
		return wallet.ErrPeerUnavailable
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	resp, err := c.rpc.RawRequest(ctx, method, []json.RawMessage{raw})
	if err != nil {
		if rpcErr, ok := err.(*dcrjson.RPCError); ok {
			log.Debugf("rpc %s returned error %d: %s", method, rpcErr.Code, rpcErr.Message)
		}
		return wallet.ErrPeerUnavailable
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(resp, result)
}

// SubscribeToNewPuzzleHash implements wallet.Network.
func (c *Client) SubscribeToNewPuzzleHash(ctx context.Context, hashes []chainhash.Hash) error {
	return c.call(ctx, methodSubscribeNewPuzzleHash, hexHashes(hashes), nil)
}

// SubscribeToCoinIDsUpdate implements wallet.Network.
func (c *Client) SubscribeToCoinIDsUpdate(ctx context.Context, ids []chainhash.Hash) error {
	return c.call(ctx, methodSubscribeCoinIDsUpdate, hexHashes(ids), nil)
}

// PublishInterestFilter implements wallet.Network: the node keeps the
// compact filter and its key beside the subscription set, testing
// candidate coins against it before assembling a push batch.
func (c *Client) PublishInterestFilter(ctx context.Context, key [gcs.KeySize]byte, filter *gcs.FilterV2) error {
	req := struct {
		Key    string `json:"key"`
		Filter string `json:"filter"`
		N      uint32 `json:"n"`
	}{
		Key:    hex.EncodeToString(key[:]),
		Filter: hex.EncodeToString(filter.Bytes()),
		N:      filter.N(),
	}
	return c.call(ctx, methodSetInterestFilter, req, nil)
}

// GetCoinState implements wallet.Network.
func (c *Client) GetCoinState(ctx context.Context, ids []chainhash.Hash) ([]wallet.CoinState, error) {
	var out []coinStateWire
	if err := c.call(ctx, methodGetCoinState, hexHashes(ids), &out); err != nil {
		return nil, err
	}
	return decodeCoinStates(out)
}

// FetchChildren implements wallet.Network.
func (c *Client) FetchChildren(ctx context.Context, parent chainhash.Hash) ([]wallet.CoinState, error) {
	var out []coinStateWire
	if err := c.call(ctx, methodFetchChildren, []string{parent.String()}, &out); err != nil {
		return nil, err
	}
	return decodeCoinStates(out)
}

// FetchPuzzleSolution implements wallet.Network.
func (c *Client) FetchPuzzleSolution(ctx context.Context, height uint32, coin wallet.Coin) (*wallet.CoinSpend, error) {
	req := struct {
		Height uint32 `json:"height"`
		Name   string `json:"name"`
	}{Height: height, Name: coin.Name().String()}

	var out struct {
		Puzzle      string `json:"puzzle"`
		Solution    string `json:"solution"`
		ReservedFee int64  `json:"reserved_fee"`
	}
	if err := c.call(ctx, methodFetchPuzzleSolution, req, &out); err != nil {
		return nil, err
	}
	return &wallet.CoinSpend{
		Coin:         coin,
		PuzzleReveal: []byte(out.Puzzle),
		Solution:     []byte(out.Solution),
		ReservedFee:  dcrutil.Amount(out.ReservedFee),
	}, nil
}

// GetTimestampForHeight implements wallet.Network via the node's standard
// block index rather than a custom method: the hash at height, then its
// header's timestamp.
func (c *Client) GetTimestampForHeight(ctx context.Context, height uint32) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	blockHash, err := c.rpc.GetBlockHash(ctx, int64(height))
	if err != nil {
		return 0, wallet.ErrPeerUnavailable
	}
	header, err := c.rpc.GetBlockHeader(ctx, blockHash)
	if err != nil {
		return 0, wallet.ErrPeerUnavailable
	}
	return uint64(header.Timestamp.Unix()), nil
}

// PushTransaction implements wallet.Broadcaster: it hands a pending
// transaction to the node for mempool admission and relay.
func (c *Client) PushTransaction(ctx context.Context, tx wallet.TransactionRecord) (wallet.MempoolInclusionStatus, error) {
	req := struct {
		Name      string          `json:"name"`
		Additions []coinStateWire `json:"additions"`
		Removals  []coinStateWire `json:"removals"`
	}{Name: tx.Name.String()}
	for _, coin := range tx.Additions {
		req.Additions = append(req.Additions, encodeCoinWire(coin))
	}
	for _, coin := range tx.Removals {
		req.Removals = append(req.Removals, encodeCoinWire(coin))
	}

	var out struct {
		Status string `json:"status"`
		Err    string `json:"error"`
	}
	if err := c.call(ctx, methodPushTransaction, req, &out); err != nil {
		return wallet.MempoolFailed, err
	}
	status := wallet.MempoolInclusionStatus(out.Status)
	if out.Err != "" {
		return status, fmt.Errorf("netclient: push rejected: %s", out.Err)
	}
	return status, nil
}

// Close shuts the websocket down and waits for rpcclient's handler
// goroutines to drain.
func (c *Client) Close() error {
	if c.rpc != nil {
		c.rpc.Shutdown()
		c.rpc.WaitForShutdown()
	}
	return nil
}

func hexHashes(hashes []chainhash.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
