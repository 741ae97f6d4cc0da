package tokenization

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/accounts"
	"github.com/Artifique/Agrilend-Backend/internal/accounts/accountstest"
	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/catalog"
	"github.com/Artifique/Agrilend-Backend/internal/catalog/catalogtest"
	"github.com/Artifique/Agrilend-Backend/internal/config"
	"github.com/Artifique/Agrilend-Backend/internal/database/databasetest"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/notifications"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
	"github.com/Artifique/Agrilend-Backend/internal/settlement/settlementtest"
	"github.com/Artifique/Agrilend-Backend/pkg/pdf"
	"github.com/Artifique/Agrilend-Backend/pkg/security"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (p *recordingPublisher) Publish(e notifications.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []notifications.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notifications.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	service   *Service
	repo      *memoryRepository
	records   *settlementtest.MemoryRepository
	journal   *settlement.Journal
	users     *accountstest.MemoryRepository
	accounts  *accounts.Service
	gw        *ledger.SimulatedGateway
	tx        *databasetest.SerialTransactor
	notifier  *recordingPublisher
	productID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := ledger.NewSimulatedGateway(config.LedgerConfig{}, zap.NewNop())
	records := settlementtest.NewMemoryRepository()
	journal := settlement.NewJournal(records, gw.Mode(), zap.NewNop())
	tx := &databasetest.SerialTransactor{}

	vault, err := accounts.NewKeyVault("test-kek")
	require.NoError(t, err)
	users := accountstest.NewMemoryRepository()
	accountService := accounts.NewService(users, gw, journal, tx, vault, decimal.NewFromInt(1), zap.NewNop())

	products := catalogtest.NewMemoryRepository()
	productID := products.AddProduct(catalog.Product{Name: "Maize", Unit: "KG"})

	signer, err := security.NewSigner("test-signature-secret")
	require.NoError(t, err)

	repo := newMemoryRepository()
	notifier := &recordingPublisher{}
	service := NewService(Dependencies{
		Repo:         repo,
		Products:     products,
		Accounts:     accountService,
		Gateway:      gw,
		Journal:      journal,
		Tx:           tx,
		Signer:       signer,
		Certificates: pdf.NewGenerator(),
		Notifier:     notifier,
		Logger:       zap.NewNop(),
	})

	return &fixture{
		service:   service,
		repo:      repo,
		records:   records,
		journal:   journal,
		users:     users,
		accounts:  accountService,
		gw:        gw,
		tx:        tx,
		notifier:  notifier,
		productID: productID,
	}
}

func (f *fixture) receipt(t *testing.T, batch string, netWeight int64) *WarehouseReceipt {
	t.Helper()
	receipt, err := f.service.CreateReceipt(context.Background(), ReceiptInput{
		BatchNumber:     batch,
		ProducerID:      uuid.New(),
		ProductID:       f.productID,
		GrossWeight:     decimal.NewFromInt(netWeight + 20),
		NetWeight:       decimal.NewFromInt(netWeight),
		StorageLocation: "Warehouse A",
		QualityGrade:    "A",
		DeliveredAt:     time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return receipt
}

func (f *fixture) validated(t *testing.T, batch string, netWeight int64) *WarehouseReceipt {
	t.Helper()
	receipt := f.receipt(t, batch, netWeight)
	validated, err := f.service.Validate(context.Background(), receipt.ID, uuid.New(), "moisture 12%")
	require.NoError(t, err)
	return validated
}

func (f *fixture) minted(t *testing.T, batch string, netWeight int64) (*WarehouseReceipt, *HarvestToken) {
	t.Helper()
	ctx := context.Background()
	receipt := f.validated(t, batch, netWeight)
	prepared, err := f.service.PrepareMint(ctx, receipt.ID)
	require.NoError(t, err)
	minted, err := f.service.SignMint(ctx, prepared.ScheduleID, uuid.New())
	require.NoError(t, err)
	token, err := f.service.Token(ctx, receipt.ID)
	require.NoError(t, err)
	return minted, token
}

func (f *fixture) user(t *testing.T) uuid.UUID {
	t.Helper()
	return f.users.Add(accounts.User{Email: uuid.NewString() + "@example.com", Role: accounts.RoleFarmer})
}

func TestContentHashIsStable(t *testing.T) {
	producer := uuid.MustParse("6f1c2d9e-8b1a-4c55-9f0e-2a3b4c5d6e7f")
	delivered := time.Date(2025, 6, 1, 9, 30, 0, 0, time.FixedZone("WAT", 3600))

	a := ContentHash("MAIZE-2025-001", decimal.RequireFromString("500"), delivered, producer)
	b := ContentHash("MAIZE-2025-001", decimal.RequireFromString("500.000"), delivered.UTC(), producer)
	c := ContentHash("MAIZE-2025-001", decimal.RequireFromString("499.5"), delivered, producer)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTokenSymbol(t *testing.T) {
	assert.Equal(t, "MAI-MAIZE2025001", TokenSymbol("Maize", "MAIZE-2025-001"))
	assert.Equal(t, "CA-B7", TokenSymbol("ca", "b-7"))
	assert.Equal(t, "B7", TokenSymbol("", "b-7"))
	assert.Len(t, TokenSymbol("Cocoa", "A-VERY-LONG-BATCH-NUMBER-THAT-KEEPS-GOING"), ledger.MaxSymbolLength)
}

func TestCreateReceiptRejectsBadWeights(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateReceipt(context.Background(), ReceiptInput{
		BatchNumber: "B-1",
		ProducerID:  uuid.New(),
		ProductID:   f.productID,
		GrossWeight: decimal.NewFromInt(100),
		NetWeight:   decimal.NewFromInt(120),
		DeliveredAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestCreateReceiptRejectsDuplicateBatch(t *testing.T) {
	f := newFixture(t)
	f.receipt(t, "B-1", 100)

	_, err := f.service.CreateReceipt(context.Background(), ReceiptInput{
		BatchNumber: "B-1",
		ProducerID:  uuid.New(),
		ProductID:   f.productID,
		GrossWeight: decimal.NewFromInt(100),
		NetWeight:   decimal.NewFromInt(90),
		DeliveredAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateBatch)
}

func TestAmendReceiptBeforeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.receipt(t, "B-2", 100)

	net := decimal.NewFromInt(95)
	amended, err := f.service.AmendReceipt(ctx, receipt.ID, ReceiptAmendment{NetWeight: &net})
	require.NoError(t, err)
	assert.True(t, amended.NetWeight.Equal(net))
	assert.NotEqual(t, receipt.ContentHash, amended.ContentHash)

	_, err = f.service.Validate(ctx, receipt.ID, uuid.New(), "")
	require.NoError(t, err)

	_, err = f.service.AmendReceipt(ctx, receipt.ID, ReceiptAmendment{NetWeight: &net})
	assert.ErrorIs(t, err, ErrReceiptLocked)
}

func TestValidateIsOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.receipt(t, "B-3", 100)
	validator := uuid.New()

	validated, err := f.service.Validate(ctx, receipt.ID, validator, "grade A")
	require.NoError(t, err)
	assert.True(t, validated.Validated)
	assert.Equal(t, validator, *validated.ValidatedBy)

	info, err := f.service.signer.Verify(validated.AuditorSignature, validated.ContentHash)
	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.Equal(t, validator.String(), info.SignerID)

	_, err = f.service.Validate(ctx, receipt.ID, validator, "again")
	assert.ErrorIs(t, err, ErrAlreadyValidated)
	assert.Contains(t, f.notifier.types(), notifications.EventReceiptValidated)
}

func TestPrepareMintRequiresValidation(t *testing.T) {
	f := newFixture(t)
	receipt := f.receipt(t, "B-4", 100)

	_, err := f.service.PrepareMint(context.Background(), receipt.ID)
	assert.ErrorIs(t, err, ErrNotValidated)
	assert.Empty(t, f.records.All(), "no ledger call may be journaled")
}

func TestPrepareMintConcurrentCallsYieldOneTokenAndSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.validated(t, "MAIZE-2025-001", 500)

	const callers = 8
	results := make([]*MintPreparation, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.PrepareMint(ctx, receipt.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ScheduleID, results[i].ScheduleID)
	}

	assert.Equal(t, 1, f.repo.tokenCount())
	token, err := f.service.Token(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), token.MaxSupply)
	assert.True(t, token.Issued())

	assert.Len(t, f.records.ByType(settlement.TypeTokenization), 1)
	scheduled := f.records.ByType(settlement.TypeScheduledTransaction)
	require.Len(t, scheduled, 1)
	assert.Equal(t, settlement.StatusPending, scheduled[0].Status)
	assert.Equal(t, results[0].ScheduleID, *scheduled[0].ScheduleID)

	stored, _ := f.service.GetReceipt(ctx, receipt.ID)
	assert.Equal(t, results[0].ScheduleID, *stored.ScheduleID)
}

func TestPrepareMintRejectsDuplicateSymbolBeforeLedgerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.validated(t, "B-10", 50)
	second := f.validated(t, "B10", 50)

	_, err := f.service.PrepareMint(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.service.PrepareMint(ctx, second.ID)
	assert.ErrorIs(t, err, ErrDuplicateSymbol)
	assert.Len(t, f.records.ByType(settlement.TypeTokenization), 1)
}

func TestPrepareMintRejectsWeightsThatAreNotWholeKilograms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		batch string
		net   string
		unit  string
	}{
		{batch: "B-FRAC", net: "500.5", unit: "KG"},
		{batch: "B-TONNE", net: "2", unit: "T"},
	} {
		receipt, err := f.service.CreateReceipt(ctx, ReceiptInput{
			BatchNumber: tc.batch,
			ProducerID:  uuid.New(),
			ProductID:   f.productID,
			GrossWeight: decimal.RequireFromString("600"),
			NetWeight:   decimal.RequireFromString(tc.net),
			WeightUnit:  tc.unit,
			DeliveredAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		require.NoError(t, err, tc.batch)
		_, err = f.service.Validate(ctx, receipt.ID, uuid.New(), "ok")
		require.NoError(t, err, tc.batch)

		_, err = f.service.PrepareMint(ctx, receipt.ID)
		assert.ErrorIs(t, err, ErrFractionalSupply, tc.batch)
		assert.Equal(t, apperrors.KindIntegrity, apperrors.KindOf(err), tc.batch)
	}
	assert.Empty(t, f.records.ByType(settlement.TypeTokenization))
}

func TestSignMintUnknownSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.SignMint(context.Background(), "0.0.424242", uuid.New())
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestSignMintCompletesReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.validated(t, "B-5", 120)

	prepared, err := f.service.PrepareMint(ctx, receipt.ID)
	require.NoError(t, err)

	minted, err := f.service.SignMint(ctx, prepared.ScheduleID, uuid.New())
	require.NoError(t, err)
	assert.True(t, minted.Minted)
	require.NotNil(t, minted.MintTransactionID)

	token, _ := f.service.Token(ctx, receipt.ID)
	assert.Equal(t, int64(120), token.MintedAmount)
	assert.Equal(t, int64(120), f.gw.TokenBalance(*token.LedgerTokenID, token.TreasuryAccountID))

	scheduled := f.records.ByType(settlement.TypeScheduledTransaction)
	require.Len(t, scheduled, 1)
	assert.Equal(t, settlement.StatusSuccess, scheduled[0].Status)
	assert.Equal(t, *minted.MintTransactionID, *scheduled[0].FinalTransactionID)

	mints := f.records.ByType(settlement.TypeTokenMint)
	require.Len(t, mints, 1)
	assert.Equal(t, settlement.StatusSuccess, mints[0].Status)

	_, err = f.service.SignMint(ctx, prepared.ScheduleID, uuid.New())
	assert.ErrorIs(t, err, ErrAlreadyMinted)
	_, err = f.service.PrepareMint(ctx, receipt.ID)
	assert.ErrorIs(t, err, ErrAlreadyMinted)

	assert.Contains(t, f.notifier.types(), notifications.EventTokensMinted)
}

func TestMintAndDistributeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt, token := f.minted(t, "B-6", 500)

	farmer := f.user(t)
	cooperative := f.user(t)
	result, err := f.service.Distribute(ctx, receipt.ID, []DistributionLine{
		{UserID: &farmer, Amount: 300},
		{UserID: &cooperative, Amount: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(500), result.Distributed)

	token, err = f.service.Token(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, token.MaxSupply, token.MintedAmount)
	assert.Equal(t, int64(500), token.DistributedAmount)
	assert.Equal(t, int64(0), token.InTreasury())

	farmerAccount, err := f.accounts.LedgerAccount(ctx, farmer)
	require.NoError(t, err)
	assert.Equal(t, int64(300), f.gw.TokenBalance(*token.LedgerTokenID, farmerAccount.AccountID))

	payments := f.records.ByType(settlement.TypeFarmerPayment)
	require.Len(t, payments, 2)
	for _, p := range payments {
		assert.Equal(t, settlement.StatusSuccess, p.Status)
	}
}

func TestDistributeRejectsOverdraftBeforeLedgerCall(t *testing.T) {
	f := newFixture(t)
	receipt, _ := f.minted(t, "B-7", 100)
	farmer := f.user(t)

	_, err := f.service.Distribute(context.Background(), receipt.ID, []DistributionLine{{UserID: &farmer, Amount: 101}})
	assert.ErrorIs(t, err, ErrInsufficientTokens)
	assert.Empty(t, f.records.ByType(settlement.TypeFarmerPayment))
}

func TestDistributeRequiresMint(t *testing.T) {
	f := newFixture(t)
	receipt := f.validated(t, "B-8", 100)

	_, err := f.service.Distribute(context.Background(), receipt.ID, []DistributionLine{{AccountID: "0.0.5001", Amount: 1}})
	assert.ErrorIs(t, err, ErrNotMinted)
}

func TestDistributePartialFailureKeepsSuccessfulLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt, _ := f.minted(t, "B-9", 100)

	recipient, err := f.gw.CreateAccount(ctx, ledger.CreateAccountRequest{OwnerRef: "coop"})
	require.NoError(t, err)

	result, err := f.service.Distribute(ctx, receipt.ID, []DistributionLine{
		{AccountID: recipient.AccountID, Amount: 40},
		{AccountID: "0.0.999999", Amount: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int64(40), result.Distributed)
	assert.Empty(t, result.Transfers[0].Error)
	assert.Contains(t, result.Transfers[1].Error, "INVALID_ACCOUNT_ID")

	token, _ := f.service.Token(ctx, receipt.ID)
	assert.Equal(t, int64(60), token.InTreasury())

	var statuses []settlement.RecordStatus
	for _, p := range f.records.ByType(settlement.TypeFarmerPayment) {
		statuses = append(statuses, p.Status)
	}
	assert.ElementsMatch(t, []settlement.RecordStatus{settlement.StatusSuccess, settlement.StatusFailed}, statuses)
}

func TestRedeemReturnsUnitsToTreasury(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt, _ := f.minted(t, "B-11", 100)
	holder := f.user(t)

	_, err := f.service.Distribute(ctx, receipt.ID, []DistributionLine{{UserID: &holder, Amount: 80}})
	require.NoError(t, err)

	token, err := f.service.Redeem(ctx, receipt.ID, holder, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), token.RedeemedAmount)
	assert.Equal(t, int64(50), token.InTreasury())

	burns := f.records.ByType(settlement.TypeTokenBurn)
	require.Len(t, burns, 1)
	assert.Equal(t, settlement.StatusSuccess, burns[0].Status)

	_, err = f.service.Redeem(ctx, receipt.ID, holder, 60)
	assert.Error(t, err)
	burns = f.records.ByType(settlement.TypeTokenBurn)
	assert.Equal(t, settlement.StatusFailed, burns[len(burns)-1].Status)
}

func TestCertificateForValidatedReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.receipt(t, "B-12", 40)
	_, _, err := f.service.Certificate(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrNotValidated)

	receipt, _ := f.minted(t, "B-13", 40)
	doc, got, err := f.service.Certificate(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, got.ID)

	data, err := io.ReadAll(doc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data[:5]))
}

func TestReconcilerCompletesMintSignedBeforeCrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.validated(t, "B-14", 75)

	prepared, err := f.service.PrepareMint(ctx, receipt.ID)
	require.NoError(t, err)

	// Signed on the ledger, but the process died before recording it
	_, err = f.gw.SignSchedule(ctx, ledger.SignScheduleRequest{ScheduleID: prepared.ScheduleID})
	require.NoError(t, err)
	scheduled := f.records.ByType(settlement.TypeScheduledTransaction)
	require.Len(t, scheduled, 1)
	f.records.Backdate(scheduled[0].ID, 10*time.Minute)

	reconciler := settlement.NewReconciler(f.records, f.journal, f.gw, f.tx, config.ReconciliationConfig{
		PendingThreshold: time.Minute,
		ValidityWindow:   3 * time.Minute,
		BatchSize:        10,
	}, prometheus.NewRegistry(), zap.NewNop())
	f.service.RegisterFinalizers(reconciler)

	summary, err := reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)

	stored, _ := f.service.GetReceipt(ctx, receipt.ID)
	assert.True(t, stored.Minted)
	token, _ := f.service.Token(ctx, receipt.ID)
	assert.Equal(t, int64(75), token.MintedAmount)
}
