package ledger

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
)

// Metrics collects ledger call counts and latencies
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics registers the ledger collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrilend",
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger gateway calls by operation, mode and outcome.",
		}, []string{"operation", "mode", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrilend",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Ledger gateway call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "mode"}),
	}
	reg.MustRegister(m.calls, m.latency)
	return m
}

type instrumentedGateway struct {
	Gateway
	metrics *Metrics
}

// Instrument wraps gw so every call is counted and timed
func Instrument(gw Gateway, metrics *Metrics) Gateway {
	return &instrumentedGateway{Gateway: gw, metrics: metrics}
}

func (g *instrumentedGateway) observe(op string, start time.Time, err error) {
	mode := string(g.Gateway.Mode())
	outcome := "success"
	if err != nil {
		outcome = apperrors.KindOf(err).String()
	}
	g.metrics.calls.WithLabelValues(op, mode, outcome).Inc()
	g.metrics.latency.WithLabelValues(op, mode).Observe(time.Since(start).Seconds())
}

func (g *instrumentedGateway) CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountHandle, error) {
	start := time.Now()
	handle, err := g.Gateway.CreateAccount(ctx, req)
	g.observe("create_account", start, err)
	return handle, err
}

func (g *instrumentedGateway) CreateFungibleToken(ctx context.Context, req CreateTokenRequest) (*TxResult, error) {
	start := time.Now()
	res, err := g.Gateway.CreateFungibleToken(ctx, req)
	g.observe("create_token", start, err)
	return res, err
}

func (g *instrumentedGateway) ScheduleMint(ctx context.Context, req ScheduleMintRequest) (*TxResult, error) {
	start := time.Now()
	res, err := g.Gateway.ScheduleMint(ctx, req)
	g.observe("schedule_mint", start, err)
	return res, err
}

func (g *instrumentedGateway) SignSchedule(ctx context.Context, req SignScheduleRequest) (*TxResult, error) {
	start := time.Now()
	res, err := g.Gateway.SignSchedule(ctx, req)
	g.observe("sign_schedule", start, err)
	return res, err
}

func (g *instrumentedGateway) TransferFungible(ctx context.Context, req FungibleTransfer) (*TxResult, error) {
	start := time.Now()
	res, err := g.Gateway.TransferFungible(ctx, req)
	g.observe("transfer_token", start, err)
	return res, err
}

func (g *instrumentedGateway) TransferNative(ctx context.Context, req NativeTransfer) (*TxResult, error) {
	start := time.Now()
	res, err := g.Gateway.TransferNative(ctx, req)
	g.observe("transfer_native", start, err)
	return res, err
}

func (g *instrumentedGateway) ReleaseEscrow(ctx context.Context, req EscrowRelease) (*TxResult, error) {
	start := time.Now()
	res, err := g.Gateway.ReleaseEscrow(ctx, req)
	g.observe("release_escrow", start, err)
	return res, err
}

func (g *instrumentedGateway) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	start := time.Now()
	balance, err := g.Gateway.BalanceOf(ctx, accountID)
	g.observe("balance", start, err)
	return balance, err
}
