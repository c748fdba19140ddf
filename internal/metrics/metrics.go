// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of decimals used when amounts are exported as gauges.
const TokenDecimals = 18

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bonanza",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonanza",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bonanza",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	engineOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonanza",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of engine operations by outcome.",
		},
		[]string{"op", "status"},
	)

	engineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bonanza",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	ticketsSold = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bonanza",
			Subsystem: "tickets",
			Name:      "sold_total",
			Help:      "Total number of tickets sold.",
		},
	)

	ticketRevenue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bonanza",
			Subsystem: "tickets",
			Name:      "revenue_tokens_total",
			Help:      "Total amount charged for tickets, in whole tokens.",
		},
	)

	prizesPaid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bonanza",
			Subsystem: "claims",
			Name:      "paid_tokens_total",
			Help:      "Total prizes paid, in whole tokens.",
		},
	)

	jackpotCarry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bonanza",
			Subsystem: "rounds",
			Name:      "jackpot_carry_tokens",
			Help:      "Jackpot carried out of the last settled round, in whole tokens.",
		},
	)

	keeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonanza",
			Subsystem: "keeper",
			Name:      "runs_total",
			Help:      "Total number of keeper ticks by action and outcome.",
		},
		[]string{"action", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		engineOperations,
		engineDuration,
		ticketsSold,
		ticketRevenue,
		prizesPaid,
		jackpotCarry,
		keeperRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection. Paths are
// labelled with the matched chi route pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation records the outcome of one engine operation.
func RecordOperation(op, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	engineOperations.WithLabelValues(op, status).Inc()
	engineDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTicketsSold records an accepted purchase of n tickets for charged.
func RecordTicketsSold(n int, charged *big.Int) {
	ticketsSold.Add(float64(n))
	ticketRevenue.Add(Tokens(charged))
}

// RecordPrizesPaid records a claim payout.
func RecordPrizesPaid(amount *big.Int) {
	prizesPaid.Add(Tokens(amount))
}

// SetJackpotCarry publishes the jackpot carried to the next round.
func SetJackpotCarry(amount *big.Int) {
	jackpotCarry.Set(Tokens(amount))
}

// RecordKeeperRun records a keeper action.
func RecordKeeperRun(action string, success bool) {
	keeperRuns.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

// Tokens converts an amount in the smallest unit into whole tokens.
func Tokens(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, -TokenDecimals).InexactFloat64()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
