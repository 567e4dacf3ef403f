// Package metrics registers the process-wide prometheus collectors and
// serves them on a dedicated listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_rounds_started_total",
		Help: "Rounds opened for betting.",
	})
	RoundsCrashed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_rounds_crashed_total",
		Help: "Rounds that completed with a crash.",
	})
	RoundsVoided = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_rounds_voided_total",
		Help: "Rounds aborted and refunded.",
	})

	BetsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_bets_placed_total",
		Help: "Bets accepted into a round.",
	})
	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crash_bets_settled_total",
		Help: "Bets settled, by outcome.",
	}, []string{"outcome"})

	StakedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_staked_amount_total",
		Help: "Sum of accepted stakes.",
	})
	PaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crash_paid_amount_total",
		Help: "Sum of cashout payouts.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crash_connected_clients",
		Help: "Live websocket subscribers.",
	})

	DiceRolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dice_rolls_total",
		Help: "Dice bets resolved.",
	})
)

// Serve exposes /metrics on addr. Runs until the listener fails; callers
// start it in a goroutine and treat an error as fatal misconfiguration.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
