// Package metrics exposes the projection engine's internal counters as
// Prometheus gauges: ledger size, unconfirmed transaction count, watched
// puzzle-hash count, per-wallet confirmed balance, singleton count and
// recent-history depth, and the observed peak height. Every
// gauge is a GaugeFunc pulling live state at scrape time, so this package
// never duplicates state of its own and never needs updating on the write
// path.
package metrics

import (
	"strconv"

	"github.com/decred/projwallet/singleton"
	"github.com/decred/projwallet/wallet"
	"github.com/prometheus/client_golang/prometheus"
)

// Sources collects the stores a Collector reads from.
type Sources struct {
	Coins      *wallet.CoinLedger
	Txs        *wallet.TxLedger
	Interest   *wallet.InterestSet
	Manager    *wallet.Manager
	Singletons *singleton.Store
	WalletIDs  []uint32
}

// Collector is a prometheus.Collector over a running Manager/Store pair.
// Register it with a prometheus.Registerer once, at daemon startup.
type Collector struct {
	gauges []prometheus.Collector
}

// NewCollector builds the fixed set of gauges, reading from src on every
// scrape.
func NewCollector(src Sources) *Collector {
	c := &Collector{}

	c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "projwallet",
		Name:      "coin_ledger_size",
		Help:      "Total number of coin records held in the coin ledger.",
	}, func() float64 {
		n, err := src.Coins.Count()
		if err != nil {
			log.Errorf("metrics: coin ledger count: %v", err)
			return 0
		}
		return float64(n)
	}))

	c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "projwallet",
		Name:      "unconfirmed_tx_count",
		Help:      "Number of unconfirmed transactions across all wallets.",
	}, func() float64 {
		n, err := src.Txs.CountUnconfirmed()
		if err != nil {
			log.Errorf("metrics: unconfirmed tx count: %v", err)
			return 0
		}
		return float64(n)
	}))

	c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "projwallet",
		Name:      "interested_puzzle_hash_count",
		Help:      "Number of puzzle hashes the interest set is watching.",
	}, func() float64 {
		return float64(src.Interest.PuzzleHashCount())
	}))

	c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "projwallet",
		Name:      "peak_height",
		Help:      "Last chain tip height observed by the projection engine.",
	}, func() float64 {
		return float64(src.Manager.PeakHeight())
	}))

	if src.Singletons != nil {
		c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "projwallet",
			Name:      "singleton_count",
			Help:      "Number of singletons tracked by the history engine.",
		}, func() float64 {
			n, err := src.Singletons.Count()
			if err != nil {
				log.Errorf("metrics: singleton count: %v", err)
				return 0
			}
			return float64(n)
		}))

		c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "projwallet",
			Name:      "singleton_recent_history_depth",
			Help:      "Total recent-history entries held across all tracked singletons.",
		}, func() float64 {
			n, err := src.Singletons.RecentHistoryDepth()
			if err != nil {
				log.Errorf("metrics: singleton recent history depth: %v", err)
				return 0
			}
			return float64(n)
		}))
	}

	for _, id := range src.WalletIDs {
		id := id
		c.gauges = append(c.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "projwallet",
			Name:        "confirmed_balance_atoms",
			Help:        "Confirmed balance for one wallet, in atoms.",
			ConstLabels: prometheus.Labels{"wallet_id": strconv.FormatUint(uint64(id), 10)},
		}, func() float64 {
			bal, err := src.Manager.ConfirmedBalance(id)
			if err != nil {
				log.Errorf("metrics: confirmed balance for wallet %d: %v", id, err)
				return 0
			}
			return float64(bal)
		}))
	}

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		g.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.gauges {
		g.Collect(ch)
	}
}
