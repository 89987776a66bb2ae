// Command projwalletd wires the projection engine's components into a
// standalone daemon: it opens the backing walletdb store, dials the
// configured network collaborator, and serves the event bus and Prometheus
// metrics over HTTP. It deliberately stops short of a CLI: no subcommands,
// no RPC client, just the long-running process and its flags.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/gcs/v3"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/decred/projwallet/build"
	"github.com/decred/projwallet/eventbus"
	"github.com/decred/projwallet/metrics"
	"github.com/decred/projwallet/netclient"
	"github.com/decred/projwallet/singleton"
	"github.com/decred/projwallet/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "projwalletd:", err)
		os.Exit(1)
	}
}

func openDB(path string) (walletdb.DB, error) {
	db, err := walletdb.Open("bdb", path, true, time.Minute)
	if err == nil {
		return db, nil
	}
	return walletdb.Create("bdb", path, true, time.Minute)
}

func run() error {
	dataDir := flag.String("datadir", "./projwallet-data", "data directory for the wallet database")
	rpcEndpoint := flag.String("rpcconnect", "127.0.0.1:19556", "dcrd-style JSON-RPC endpoint")
	rpcUser := flag.String("rpcuser", "", "RPC username")
	rpcPass := flag.String("rpcpass", "", "RPC password")
	metricsAddr := flag.String("metricsaddr", "127.0.0.1:9332", "Prometheus metrics listen address")
	maxReorgSize := flag.Uint("maxreorgsize", singleton.DefaultMaxReorgSize, "singleton recency window, in blocks")
	resendInterval := flag.Duration("resendinterval", time.Minute, "how often pending transactions are rebroadcast")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	root, err := build.NewRotatingLogWriter(fmt.Sprintf("%s/projwalletd.log", *dataDir), 10, 3)
	if err != nil {
		return fmt.Errorf("init log rotator: %w", err)
	}
	defer root.Close()
	build.AddSubLogger(root, "WALT", wallet.UseLogger)
	build.AddSubLogger(root, "SNGL", singleton.UseLogger)
	build.AddSubLogger(root, "EVTB", eventbus.UseLogger)
	build.AddSubLogger(root, "NTCL", netclient.UseLogger)
	build.AddSubLogger(root, "METR", metrics.UseLogger)

	db, err := openDB(*dataDir + "/wallet.db")
	if err != nil {
		return fmt.Errorf("open wallet database: %w", err)
	}
	defer db.Close()

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return fmt.Errorf("generate seed: %w", err)
	}
	params := chaincfg.MainNetParams()
	accountXP, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}

	coins := wallet.NewCoinLedger(db)
	txs := wallet.NewTxLedger(db)
	derivation := wallet.NewDerivationIndex(db, accountXP)
	users := wallet.NewUserStore(db)

	var filterKey [gcs.KeySize]byte
	if _, err := rand.Read(filterKey[:]); err != nil {
		return fmt.Errorf("generate interest filter key: %w", err)
	}
	interest := wallet.NewInterestSet(filterKey)

	bus := eventbus.New()
	eventsRootKey, err := eventbus.DeriveRootKey(seed, []byte("wallet-1"))
	if err != nil {
		return fmt.Errorf("derive events root key: %w", err)
	}

	var manager *wallet.Manager
	singletons := singleton.NewStore(db, coins, uint32(*maxReorgSize))

	net, err := netclient.New(netclient.Config{
		Endpoints: []string{*rpcEndpoint},
		User:      *rpcUser,
		Pass:      *rpcPass,
		OnNewPeak: func(peak wallet.NewPeakWallet) {
			if err := manager.NewPeak(peak); err != nil {
				fmt.Fprintln(os.Stderr, "projwalletd: new peak:", err)
				return
			}
			if err := singletons.SetPeakHeight(peak.Height, true); err != nil {
				fmt.Fprintln(os.Stderr, "projwalletd: singleton prune:", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("connect to rpc endpoint: %w", err)
	}
	defer net.Close()

	manager = wallet.NewManager(wallet.ManagerConfig{
		Coins:      coins,
		Txs:        txs,
		Derivation: derivation,
		Interest:   interest,
		Network:    net,
		Events:     bus,
		Genesis:    params.GenesisHash,
		Params:     params,
		Users:      users,
	})
	if err := manager.LoadRegistry(); err != nil {
		return fmt.Errorf("load wallet registry: %w", err)
	}
	if _, ok := manager.WalletByID(1); !ok {
		if _, err := manager.AddNewWallet(wallet.WalletInfo{
			ID: 1, Type: wallet.WalletTypeStandard, Name: "default",
		}); err != nil {
			return fmt.Errorf("create default wallet: %w", err)
		}
	}

	ctx := context.Background()
	if err := net.Handshake(ctx); err != nil {
		return fmt.Errorf("rpc handshake: %w", err)
	}
	if err := net.NotifyBlocks(ctx); err != nil {
		return fmt.Errorf("subscribe to block notifications: %w", err)
	}

	sendQueue := wallet.NewSendQueue(txs, net, bus)
	go func() {
		for {
			time.Sleep(*resendInterval)
			if err := sendQueue.ResendPending(ctx, *rpcEndpoint); err != nil {
				fmt.Fprintln(os.Stderr, "projwalletd: resend pending:", err)
			}
		}
	}()

	collector := metrics.NewCollector(metrics.Sources{
		Coins:      coins,
		Txs:        txs,
		Interest:   interest,
		Manager:    manager,
		Singletons: singletons,
		WalletIDs:  []uint32{1},
	})
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/events", eventbus.NewWebsocketHandler(bus, eventsRootKey))

	return http.ListenAndServe(*metricsAddr, mux)
}
