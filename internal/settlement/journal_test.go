package settlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
	"github.com/Artifique/Agrilend-Backend/internal/settlement/settlementtest"
)

func newJournal() (*settlement.Journal, *settlementtest.MemoryRepository) {
	repo := settlementtest.NewMemoryRepository()
	return settlement.NewJournal(repo, ledger.ModeSimulated, zap.NewNop()), repo
}

func TestJournalOpenWritesPendingRecord(t *testing.T) {
	journal, repo := newJournal()
	orderID := uuid.New()

	rec, err := journal.Open(context.Background(), settlement.Entry{
		Type:          settlement.TypeEscrowDeposit,
		TransactionID: "0.0.1001@1700000000.000000001",
		Amount:        decimal.RequireFromString("60.00"),
		From:          "0.0.5001",
		To:            "0.0.1002",
		OrderID:       &orderID,
		Metadata:      map[string]any{"order_number": "ORD-20250101-ABCDEF12"},
	})
	require.NoError(t, err)

	stored, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, stored.Status)
	assert.Equal(t, "simulated", stored.LedgerMode)
	assert.Equal(t, settlement.NativeAsset, stored.AssetID)
	assert.Equal(t, "0.0.1001@1700000000.000000001", *stored.TransactionID)

	var meta map[string]string
	require.NoError(t, stored.DecodeMetadata(&meta))
	assert.Equal(t, "ORD-20250101-ABCDEF12", meta["order_number"])
}

func TestJournalTerminalRecordsDoNotChange(t *testing.T) {
	journal, repo := newJournal()
	ctx := context.Background()

	rec, err := journal.Open(ctx, settlement.Entry{Type: settlement.TypeRefund, TransactionID: "tx-1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.NoError(t, journal.Settle(ctx, rec, "tx-1"))

	err = journal.Fail(ctx, rec, "late failure")
	assert.ErrorIs(t, err, settlement.ErrRecordClosed)

	stored, _ := repo.Get(ctx, rec.ID)
	assert.Equal(t, settlement.StatusSuccess, stored.Status)
	assert.Equal(t, "tx-1", *stored.FinalTransactionID)
	assert.Nil(t, stored.FailureReason)
}

func TestJournalConclude(t *testing.T) {
	ctx := context.Background()

	t.Run("success settles", func(t *testing.T) {
		journal, repo := newJournal()
		rec, _ := journal.Open(ctx, settlement.Entry{Type: settlement.TypeFarmerPayment, TransactionID: "tx-a"})
		require.NoError(t, journal.Conclude(ctx, rec, "tx-a", nil))
		stored, _ := repo.Get(ctx, rec.ID)
		assert.Equal(t, settlement.StatusSuccess, stored.Status)
	})

	t.Run("ledger failure fails the record", func(t *testing.T) {
		journal, repo := newJournal()
		rec, _ := journal.Open(ctx, settlement.Entry{Type: settlement.TypeFarmerPayment, TransactionID: "tx-b"})
		callErr := apperrors.LedgerFailure("transfer token", errors.New("INSUFFICIENT_TOKEN_BALANCE"))

		err := journal.Conclude(ctx, rec, "", callErr)
		assert.Same(t, callErr, err)

		stored, _ := repo.Get(ctx, rec.ID)
		assert.Equal(t, settlement.StatusFailed, stored.Status)
		assert.Contains(t, *stored.FailureReason, "INSUFFICIENT_TOKEN_BALANCE")
	})

	t.Run("unknown outcome stays pending", func(t *testing.T) {
		journal, repo := newJournal()
		rec, _ := journal.Open(ctx, settlement.Entry{Type: settlement.TypeFarmerPayment, TransactionID: "tx-c"})
		callErr := ledger.Classify("transfer token", context.DeadlineExceeded)

		err := journal.Conclude(ctx, rec, "", callErr)
		assert.True(t, ledger.IsUnknownOutcome(err))

		stored, _ := repo.Get(ctx, rec.ID)
		assert.Equal(t, settlement.StatusPending, stored.Status)
	})
}

func TestJournalInFlightAndSchedule(t *testing.T) {
	journal, _ := newJournal()
	ctx := context.Background()
	receiptID := uuid.New()

	rec, err := journal.Open(ctx, settlement.Entry{Type: settlement.TypeScheduledTransaction, TransactionID: "tx-s", ReceiptID: &receiptID})
	require.NoError(t, err)
	require.NoError(t, journal.AttachSchedule(ctx, rec, "0.0.5003"))

	inflight, err := journal.InFlight(ctx, settlement.Filter{ReceiptID: &receiptID})
	require.NoError(t, err)
	require.Len(t, inflight, 1)

	found, err := journal.FindBySchedule(ctx, "0.0.5003", settlement.TypeScheduledTransaction)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	_, err = journal.FindBySchedule(ctx, "0.0.9999", settlement.TypeScheduledTransaction)
	assert.ErrorIs(t, err, settlement.ErrRecordNotFound)
}

func TestJournalCheckMode(t *testing.T) {
	journal, _ := newJournal()
	assert.NoError(t, journal.CheckMode(&settlement.Record{LedgerMode: "simulated"}))
	assert.ErrorIs(t, journal.CheckMode(&settlement.Record{LedgerMode: "live"}), settlement.ErrLedgerModeMismatch)
}
