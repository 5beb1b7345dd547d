package book

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lendbook",
		Name:      "actions_total",
		Help:      "Completed public actions by type.",
	}, []string{"action"})

	totalAssetsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lendbook",
		Name:      "total_assets",
		Help:      "Aggregate deposited assets per side (whole units, approximate).",
	}, []string{"side"})

	totalBorrowGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lendbook",
		Name:      "total_borrow",
		Help:      "Aggregate borrowed assets per side (whole units, approximate).",
	}, []string{"side"})
)

func init() {
	prometheus.MustRegister(actionsTotal, totalAssetsGauge, totalBorrowGauge)
}

func observeAction(action string) {
	actionsTotal.WithLabelValues(action).Inc()
}

// PublishMetrics refreshes the aggregate gauges. The node calls it
// periodically; it is not part of any action's critical path.
func (b *Book) PublishMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, side := range [2]Side{Buy, Sell} {
		totalAssetsGauge.WithLabelValues(side.String()).Set(wadFloat(b.totalAssets[side]))
		totalBorrowGauge.WithLabelValues(side.String()).Set(wadFloat(b.totalBorrow[side]))
	}
}

func wadFloat(x *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f / 1e18
}
