package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

// failingGateway delegates to the simulated ledger except for native transfers
type failingGateway struct {
	*ledger.SimulatedGateway
	mock.Mock
}

func (g *failingGateway) TransferNative(ctx context.Context, req ledger.NativeTransfer) (*ledger.TxResult, error) {
	args := g.Called(ctx, req)
	if res, ok := args.Get(0).(*ledger.TxResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

// hangingGateway holds native transfers until the caller gives up
type hangingGateway struct {
	*ledger.SimulatedGateway
}

func (g *hangingGateway) TransferNative(ctx context.Context, req ledger.NativeTransfer) (*ledger.TxResult, error) {
	<-ctx.Done()
	return nil, ledger.Classify("transfer native", ctx.Err())
}

// landedDepositGateway executes escrow deposits but loses their confirmation
type landedDepositGateway struct {
	*ledger.SimulatedGateway
}

func (g *landedDepositGateway) TransferNative(ctx context.Context, req ledger.NativeTransfer) (*ledger.TxResult, error) {
	res, err := g.SimulatedGateway.TransferNative(ctx, req)
	if err != nil || req.To != g.Accounts().Escrow {
		return res, err
	}
	return nil, apperrors.UnknownOutcome("transfer native", context.DeadlineExceeded)
}

func withFailingGateway(t *testing.T, f *fixture) *failingGateway {
	t.Helper()
	gw := &failingGateway{SimulatedGateway: f.gw}
	useGateway(f, gw, withoutFaucet())
	fundBuyer(t, f, decimal.NewFromInt(500))
	return gw
}

func withoutFaucet() Policy {
	policy := testPolicy()
	policy.FaucetEnabled = false
	return policy
}

func useGateway(f *fixture, gw ledger.Gateway, policy Policy) {
	f.service = NewService(Dependencies{
		Repo:     f.repo,
		Offers:   f.catalog,
		Accounts: f.accounts,
		Gateway:  gw,
		Journal:  f.journal,
		Tx:       f.tx,
		Policy:   policy,
		Notifier: f.notifier,
		Logger:   zap.NewNop(),
	})
}

func fundBuyer(t *testing.T, f *fixture, amount decimal.Decimal) {
	t.Helper()
	buyer, err := f.accounts.EnsureLedgerAccount(context.Background(), f.buyer)
	require.NoError(t, err)
	_, err = f.gw.TransferNative(context.Background(), ledger.NativeTransfer{
		TransactionID: f.gw.NewTransactionID(),
		From:          f.gw.Accounts().Operator,
		To:            buyer.AccountID,
		Amount:        amount,
	})
	require.NoError(t, err)
}

func toEscrow(escrow string) any {
	return mock.MatchedBy(func(req ledger.NativeTransfer) bool { return req.To == escrow })
}

func TestFundEscrowLedgerRejectionFailsRecord(t *testing.T) {
	f := newFixture(t, testPolicy())
	gw := withFailingGateway(t, f)
	gw.On("TransferNative", mock.Anything, toEscrow(f.gw.Accounts().Escrow)).
		Return(nil, apperrors.LedgerFailure("transfer native", errors.New("INSUFFICIENT_PAYER_BALANCE"))).Once()

	order := f.place(t, f.offer(t, "100", "2.00"), "30")
	_, err := f.service.FundEscrow(context.Background(), order.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindLedger, apperrors.KindOf(err))

	stored, err := f.service.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.False(t, stored.Funded())

	deposits := f.records.ByType(settlement.TypeEscrowDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, settlement.StatusFailed, deposits[0].Status)
	require.NotNil(t, deposits[0].FailureReason)
	assert.Contains(t, *deposits[0].FailureReason, "INSUFFICIENT_PAYER_BALANCE")
	gw.AssertExpectations(t)

	// a rejected deposit does not block a retry
	gw.On("TransferNative", mock.Anything, toEscrow(f.gw.Accounts().Escrow)).
		Return(&ledger.TxResult{TransactionID: "0.0.9@1.2"}, nil).Once()
	funded, err := f.service.FundEscrow(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInEscrow, funded.Status)
	assert.Len(t, f.records.ByType(settlement.TypeEscrowDeposit), 2)
}

func TestFundEscrowUnknownOutcomeKeepsRecordPending(t *testing.T) {
	f := newFixture(t, testPolicy())
	gw := withFailingGateway(t, f)
	gw.On("TransferNative", mock.Anything, toEscrow(f.gw.Accounts().Escrow)).
		Return(nil, apperrors.UnknownOutcome("transfer native", context.DeadlineExceeded)).Once()

	order := f.place(t, f.offer(t, "100", "2.00"), "30")
	_, err := f.service.FundEscrow(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, ledger.IsUnknownOutcome(err))

	deposits := f.records.ByType(settlement.TypeEscrowDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, settlement.StatusPending, deposits[0].Status)

	_, err = f.service.FundEscrow(context.Background(), order.ID)
	assert.ErrorIs(t, err, ErrOperationInProgress)
	gw.AssertNumberOfCalls(t, "TransferNative", 1)
}

func TestFundEscrowBoundsHungLedgerCall(t *testing.T) {
	f := newFixture(t, testPolicy())
	useGateway(f, ledger.WithTimeout(&hangingGateway{SimulatedGateway: f.gw}, 50*time.Millisecond), withoutFaucet())
	fundBuyer(t, f, decimal.NewFromInt(500))

	order := f.place(t, f.offer(t, "100", "2.00"), "30")

	done := make(chan error, 1)
	go func() {
		_, err := f.service.FundEscrow(context.Background(), order.ID)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("FundEscrow did not return after the ledger timeout")
	}
	require.Error(t, err)
	assert.True(t, ledger.IsUnknownOutcome(err))

	deposits := f.records.ByType(settlement.TypeEscrowDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, settlement.StatusPending, deposits[0].Status)

	stored, err := f.service.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, stored.Funded())
}

func TestFundEscrowRetryDoesNotTopUpWhileDepositInFlight(t *testing.T) {
	f := newFixture(t, testPolicy())
	useGateway(f, &landedDepositGateway{SimulatedGateway: f.gw}, testPolicy())

	order := f.place(t, f.offer(t, "100", "2.00"), "30")
	_, err := f.service.FundEscrow(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, ledger.IsUnknownOutcome(err))
	require.Len(t, f.records.ByType(settlement.TypeFaucetTopUp), 1)

	buyer, err := f.accounts.LedgerAccount(context.Background(), f.buyer)
	require.NoError(t, err)
	before := f.balance(t, buyer.AccountID)

	_, err = f.service.FundEscrow(context.Background(), order.ID)
	assert.ErrorIs(t, err, ErrOperationInProgress)

	assert.Len(t, f.records.ByType(settlement.TypeFaucetTopUp), 1)
	assert.True(t, f.balance(t, buyer.AccountID).Equal(before))
	deposits := f.records.ByType(settlement.TypeEscrowDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, settlement.StatusPending, deposits[0].Status)
}
