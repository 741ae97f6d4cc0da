package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type boundedGateway struct {
	Gateway
	timeout time.Duration
}

// WithTimeout bounds every call on gw to d. A call cut off by the bound
// returns an unknown outcome, since it may still land.
func WithTimeout(gw Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return gw
	}
	return &boundedGateway{Gateway: gw, timeout: d}
}

func bounded[T any](g *boundedGateway, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	value, err := run(ctx, func() (T, error) { return fn(ctx) })
	if err != nil {
		return value, Classify(op, err)
	}
	return value, nil
}

func (g *boundedGateway) CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountHandle, error) {
	return bounded(g, ctx, "create account", func(ctx context.Context) (*AccountHandle, error) {
		return g.Gateway.CreateAccount(ctx, req)
	})
}

func (g *boundedGateway) CreateFungibleToken(ctx context.Context, req CreateTokenRequest) (*TxResult, error) {
	return bounded(g, ctx, "create token", func(ctx context.Context) (*TxResult, error) {
		return g.Gateway.CreateFungibleToken(ctx, req)
	})
}

func (g *boundedGateway) ScheduleMint(ctx context.Context, req ScheduleMintRequest) (*TxResult, error) {
	return bounded(g, ctx, "schedule mint", func(ctx context.Context) (*TxResult, error) {
		return g.Gateway.ScheduleMint(ctx, req)
	})
}

func (g *boundedGateway) SignSchedule(ctx context.Context, req SignScheduleRequest) (*TxResult, error) {
	return bounded(g, ctx, "sign schedule", func(ctx context.Context) (*TxResult, error) {
		return g.Gateway.SignSchedule(ctx, req)
	})
}

func (g *boundedGateway) TransferFungible(ctx context.Context, req FungibleTransfer) (*TxResult, error) {
	return bounded(g, ctx, "transfer fungible", func(ctx context.Context) (*TxResult, error) {
		return g.Gateway.TransferFungible(ctx, req)
	})
}

func (g *boundedGateway) TransferNative(ctx context.Context, req NativeTransfer) (*TxResult, error) {
	return bounded(g, ctx, "transfer native", func(ctx context.Context) (*TxResult, error) {
		return g.Gateway.TransferNative(ctx, req)
	})
}

func (g *boundedGateway) ReleaseEscrow(ctx context.Context, req EscrowRelease) (*TxResult, error) {
	return bounded(g, ctx, "release escrow", func(ctx context.Context) (*TxResult, error) {
		return g.Gateway.ReleaseEscrow(ctx, req)
	})
}

func (g *boundedGateway) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return bounded(g, ctx, "balance", func(ctx context.Context) (decimal.Decimal, error) {
		return g.Gateway.BalanceOf(ctx, accountID)
	})
}

func (g *boundedGateway) TransactionOutcome(ctx context.Context, transactionID string) (*Outcome, error) {
	return bounded(g, ctx, "transaction outcome", func(ctx context.Context) (*Outcome, error) {
		return g.Gateway.TransactionOutcome(ctx, transactionID)
	})
}

func (g *boundedGateway) ScheduleOutcome(ctx context.Context, scheduleID string) (*Outcome, error) {
	return bounded(g, ctx, "schedule outcome", func(ctx context.Context) (*Outcome, error) {
		return g.Gateway.ScheduleOutcome(ctx, scheduleID)
	})
}
