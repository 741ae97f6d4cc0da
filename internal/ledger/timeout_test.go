package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledGateway never answers native transfers and ignores cancellation
type stalledGateway struct {
	*SimulatedGateway
	release chan struct{}
}

func (g *stalledGateway) TransferNative(ctx context.Context, req NativeTransfer) (*TxResult, error) {
	<-g.release
	return &TxResult{TransactionID: req.TransactionID}, nil
}

func TestWithTimeoutReportsUnknownOutcome(t *testing.T) {
	inner := &stalledGateway{SimulatedGateway: newTestGateway(t), release: make(chan struct{})}
	defer close(inner.release)
	gw := WithTimeout(inner, 20*time.Millisecond)

	started := time.Now()
	_, err := gw.TransferNative(context.Background(), NativeTransfer{
		TransactionID: inner.NewTransactionID(),
		From:          gw.Accounts().Operator,
		To:            gw.Accounts().Escrow,
		Amount:        decimal.NewFromInt(5),
	})
	require.Error(t, err)
	assert.True(t, IsUnknownOutcome(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestWithTimeoutPassesResultsThrough(t *testing.T) {
	gw := WithTimeout(newTestGateway(t), time.Second)

	balance, err := gw.BalanceOf(context.Background(), gw.Accounts().Operator)
	require.NoError(t, err)
	assert.True(t, balance.IsPositive())

	_, err = gw.BalanceOf(context.Background(), "0.0.9999999")
	require.Error(t, err)
	assert.False(t, IsUnknownOutcome(err))
}

func TestWithTimeoutDisabled(t *testing.T) {
	inner := newTestGateway(t)
	assert.Same(t, Gateway(inner), WithTimeout(inner, 0))
}
