package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/config"
)

func newTestGateway(t *testing.T) *SimulatedGateway {
	t.Helper()
	return NewSimulatedGateway(config.LedgerConfig{SimulatedFloat: "10000", InitialBalance: "0"}, zap.NewNop())
}

func TestNewSelectsSimulationWithoutCredentials(t *testing.T) {
	gw, err := New(config.LedgerConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ModeSimulated, gw.Mode())
}

func TestSimulatedTransactionIDsAreUnique(t *testing.T) {
	gw := newTestGateway(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gw.NewTransactionID()
		assert.False(t, seen[id], "duplicate id %s", id)
		assert.Contains(t, id, gw.Accounts().Operator+"@")
		seen[id] = true
	}
}

func TestSimulatedNativeTransferRequiresSenderKey(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	buyer, err := gw.CreateAccount(ctx, CreateAccountRequest{OwnerRef: "buyer-1"})
	require.NoError(t, err)

	_, err = gw.TransferNative(ctx, NativeTransfer{
		From:   gw.Accounts().Operator,
		To:     buyer.AccountID,
		Amount: decimal.RequireFromString("150"),
	})
	require.NoError(t, err)

	_, err = gw.TransferNative(ctx, NativeTransfer{
		From:    buyer.AccountID,
		FromKey: "not-the-key",
		To:      gw.Accounts().Escrow,
		Amount:  decimal.RequireFromString("100"),
	})
	assert.Equal(t, apperrors.KindLedger, apperrors.KindOf(err))

	res, err := gw.TransferNative(ctx, NativeTransfer{
		From:    buyer.AccountID,
		FromKey: buyer.PrivateKey,
		To:      gw.Accounts().Escrow,
		Amount:  decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TransactionID)

	balance, err := gw.BalanceOf(ctx, buyer.AccountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("50")), balance.String())
}

func TestSimulatedAccountWithCallerKey(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	keys, err := gw.NewKeyPair()
	require.NoError(t, err)

	handle, err := gw.CreateAccount(ctx, CreateAccountRequest{OwnerRef: "farmer-2", PublicKey: keys.PublicKey, InitialBalance: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKey, handle.PublicKey)
	assert.Empty(t, handle.PrivateKey)

	_, err = gw.TransferNative(ctx, NativeTransfer{From: handle.AccountID, FromKey: keys.PrivateKey, To: gw.Accounts().Escrow, Amount: decimal.NewFromInt(4)})
	require.NoError(t, err)

	_, err = gw.CreateAccount(ctx, CreateAccountRequest{OwnerRef: "farmer-3", PublicKey: "zz"})
	assert.Equal(t, apperrors.KindLedger, apperrors.KindOf(err))
}

func TestSimulatedInsufficientBalanceIsLedgerFailure(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	buyer, err := gw.CreateAccount(ctx, CreateAccountRequest{OwnerRef: "buyer-2"})
	require.NoError(t, err)

	txID := gw.NewTransactionID()
	_, err = gw.TransferNative(ctx, NativeTransfer{
		TransactionID: txID,
		From:          buyer.AccountID,
		FromKey:       buyer.PrivateKey,
		To:            gw.Accounts().Escrow,
		Amount:        decimal.NewFromInt(1),
	})
	assert.Equal(t, apperrors.KindLedger, apperrors.KindOf(err))

	outcome, err := gw.TransactionOutcome(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "INSUFFICIENT_PAYER_BALANCE", outcome.Reason)
}

func TestSimulatedEscrowReleaseMovesAllLegs(t *testing.T) {
	ctx := context.Background()
	gw := NewSimulatedGateway(config.LedgerConfig{SimulatedFloat: "1000", PlatformAccountID: "0.0.1003"}, zap.NewNop())
	accounts := gw.Accounts()

	seller, err := gw.CreateAccount(ctx, CreateAccountRequest{OwnerRef: "farmer"})
	require.NoError(t, err)

	_, err = gw.TransferNative(ctx, NativeTransfer{From: accounts.Operator, To: accounts.Escrow, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = gw.ReleaseEscrow(ctx, EscrowRelease{
		EscrowAccountID:   accounts.Escrow,
		SellerAccountID:   seller.AccountID,
		SellerAmount:      decimal.RequireFromString("98.00"),
		PlatformAccountID: accounts.Platform,
		PlatformFee:       decimal.RequireFromString("2.00"),
	})
	require.NoError(t, err)

	escrow, _ := gw.BalanceOf(ctx, accounts.Escrow)
	sellerBalance, _ := gw.BalanceOf(ctx, seller.AccountID)
	platform, _ := gw.BalanceOf(ctx, accounts.Platform)

	assert.True(t, escrow.IsZero())
	assert.True(t, sellerBalance.Equal(decimal.NewFromInt(98)))
	assert.True(t, platform.Equal(decimal.NewFromInt(2)))
}

func TestSimulatedScheduledMintExecutesOnSign(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	token, err := gw.CreateFungibleToken(ctx, CreateTokenRequest{Name: "Maize_B1", Symbol: "MAI-B1", MaxSupply: 500})
	require.NoError(t, err)

	schedule, err := gw.ScheduleMint(ctx, ScheduleMintRequest{TokenID: token.TokenID, Amount: 500, Memo: "Mint for batch: B1"})
	require.NoError(t, err)

	pending, err := gw.ScheduleOutcome(ctx, schedule.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, pending.Status)

	signed, err := gw.SignSchedule(ctx, SignScheduleRequest{ScheduleID: schedule.ScheduleID, SignerRef: "auditor"})
	require.NoError(t, err)
	assert.NotEmpty(t, signed.ScheduledTransactionID)
	assert.Equal(t, int64(500), gw.TokenBalance(token.TokenID, gw.Accounts().Treasury))

	executed, err := gw.ScheduleOutcome(ctx, schedule.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, executed.Status)
	assert.Equal(t, signed.ScheduledTransactionID, executed.ScheduledTransactionID)

	_, err = gw.SignSchedule(ctx, SignScheduleRequest{ScheduleID: schedule.ScheduleID})
	assert.Error(t, err, "a schedule executes once")
}

func TestSimulatedMintCannotExceedMaxSupply(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	token, err := gw.CreateFungibleToken(ctx, CreateTokenRequest{Name: "Rice_B2", Symbol: "RIC-B2", MaxSupply: 100})
	require.NoError(t, err)

	first, err := gw.ScheduleMint(ctx, ScheduleMintRequest{TokenID: token.TokenID, Amount: 80})
	require.NoError(t, err)
	second, err := gw.ScheduleMint(ctx, ScheduleMintRequest{TokenID: token.TokenID, Amount: 30})
	require.NoError(t, err)

	_, err = gw.SignSchedule(ctx, SignScheduleRequest{ScheduleID: first.ScheduleID})
	require.NoError(t, err)
	_, err = gw.SignSchedule(ctx, SignScheduleRequest{ScheduleID: second.ScheduleID})
	assert.Equal(t, apperrors.KindLedger, apperrors.KindOf(err))
}

func TestSimulatedUnknownTransactionIsNotFound(t *testing.T) {
	gw := newTestGateway(t)

	outcome, err := gw.TransactionOutcome(context.Background(), "0.0.1001@1.000000001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome.Status)
}

func TestClassify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	assert.Nil(t, Classify("op", nil))
	assert.True(t, IsUnknownOutcome(Classify("op", ctx.Err())))
	assert.Equal(t, apperrors.KindLedger, apperrors.KindOf(Classify("op", errors.New("BUSY"))))

	unknown := apperrors.UnknownOutcome("op", nil)
	assert.Same(t, unknown, Classify("other", unknown))
}

func TestTinybarConversion(t *testing.T) {
	assert.Equal(t, int64(10_000_000_000), ToTinybar(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), ToTinybar(decimal.RequireFromString("0.00000001")))
	assert.True(t, FromTinybar(250_000_000).Equal(decimal.RequireFromString("2.5")))
}

func TestValidateTokenSymbol(t *testing.T) {
	assert.NoError(t, ValidateTokenSymbol("MAI-B2024001"))
	assert.Error(t, ValidateTokenSymbol(""))
	assert.Error(t, ValidateTokenSymbol("mai"))
	assert.Equal(t, "MASBLANC", SymbolPart("Maïs blanc"))
}
