package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/config"
)

const (
	simulatedOperator = "0.0.1001"
	simulatedEscrow   = "0.0.1002"
	simulatedFirstID  = 5000
)

// SimulatedGateway keeps ledger state in memory and applies the same acceptance rules as the
// live network, so pipelines can run end to end without credentials.
type SimulatedGateway struct {
	mu       sync.Mutex
	logger   *zap.Logger
	accounts SystemAccounts
	initial  decimal.Decimal

	nextID    int64
	lastStamp time.Time

	balances  map[string]decimal.Decimal
	keys      map[string]string
	tokens    map[string]*simulatedToken
	schedules map[string]*simulatedSchedule
	outcomes  map[string]*Outcome
}

type simulatedToken struct {
	symbol    string
	maxSupply int64
	supply    int64
	treasury  string
	holdings  map[string]int64
}

type simulatedSchedule struct {
	tokenID      string
	amount       int64
	executedTxID string
	signTxID     string
	createdTxID  string
	executedAt   *time.Time
}

// NewSimulatedGateway creates an in-memory gateway seeded with a funded operator account
func NewSimulatedGateway(cfg config.LedgerConfig, logger *zap.Logger) *SimulatedGateway {
	operator := simulatedOperator
	if cfg.OperatorAccountID != "" {
		operator = cfg.OperatorAccountID
	}
	escrow := cfg.EscrowAccountID
	if escrow == "" {
		escrow = simulatedEscrow
	}
	platform := cfg.PlatformAccountID
	if platform == "" {
		platform = operator
	}

	float, err := decimal.NewFromString(cfg.SimulatedFloat)
	if err != nil || float.IsZero() {
		float = decimal.NewFromInt(1_000_000)
	}
	initial, err := decimal.NewFromString(cfg.InitialBalance)
	if err != nil {
		initial = decimal.Zero
	}

	g := &SimulatedGateway{
		logger: logger.With(zap.String("ledger_mode", string(ModeSimulated))),
		accounts: SystemAccounts{
			Operator: operator,
			Treasury: operator,
			Escrow:   escrow,
			Platform: platform,
		},
		initial:   initial,
		nextID:    simulatedFirstID,
		balances:  make(map[string]decimal.Decimal),
		keys:      make(map[string]string),
		tokens:    make(map[string]*simulatedToken),
		schedules: make(map[string]*simulatedSchedule),
		outcomes:  make(map[string]*Outcome),
	}
	g.balances[escrow] = decimal.Zero
	g.balances[platform] = decimal.Zero
	g.balances[operator] = float

	g.logger.Warn("Ledger gateway running in SIMULATION mode, no transaction reaches the network",
		zap.String("operator", operator),
		zap.String("escrow", escrow))

	return g
}

// Mode reports ModeSimulated
func (g *SimulatedGateway) Mode() Mode {
	return ModeSimulated
}

// Accounts returns the simulated platform accounts
func (g *SimulatedGateway) Accounts() SystemAccounts {
	return g.accounts
}

// NewTransactionID returns a unique id in the ledger's account@seconds.nanos format
func (g *SimulatedGateway) NewTransactionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transactionIDLocked()
}

func (g *SimulatedGateway) transactionIDLocked() string {
	stamp := time.Now().UTC()
	if !stamp.After(g.lastStamp) {
		stamp = g.lastStamp.Add(time.Nanosecond)
	}
	g.lastStamp = stamp
	return fmt.Sprintf("%s@%d.%09d", g.accounts.Operator, stamp.Unix(), stamp.Nanosecond())
}

func (g *SimulatedGateway) entityIDLocked() string {
	g.nextID++
	return fmt.Sprintf("0.0.%d", g.nextID)
}

func (g *SimulatedGateway) ensureTxID(id string) string {
	if id != "" {
		return id
	}
	return g.transactionIDLocked()
}

// CreateAccount creates a funded account keyed by req.PublicKey, or by a fresh ed25519 key
func (g *SimulatedGateway) CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("create account", err)
	}

	keys := &KeyPair{PublicKey: req.PublicKey}
	if keys.PublicKey == "" {
		generated, err := g.NewKeyPair()
		if err != nil {
			return nil, apperrors.LedgerFailure("create account", err)
		}
		keys = generated
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	if !validPublicKey(keys.PublicKey) {
		err := errors.New("INVALID_PUBLIC_KEY")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("create account", err)
	}

	funding := req.InitialBalance
	if funding.IsZero() {
		funding = g.initial
	}
	if err := g.debitLocked(g.accounts.Operator, funding); err != nil {
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("create account", err)
	}

	accountID := g.entityIDLocked()
	g.balances[accountID] = funding
	g.keys[accountID] = keys.PublicKey
	g.outcomes[txID] = &Outcome{Status: OutcomeSucceeded, TransactionID: txID, AccountID: accountID, ResolvedAt: time.Now()}

	g.logger.Info("Simulated account created",
		zap.String("account_id", accountID),
		zap.String("owner_ref", req.OwnerRef),
		zap.String("transaction_id", txID))

	return &AccountHandle{
		AccountID:     accountID,
		PublicKey:     keys.PublicKey,
		PrivateKey:    keys.PrivateKey,
		TransactionID: txID,
	}, nil
}

// NewKeyPair generates an ed25519 key. The private half is the hex seed.
func (g *SimulatedGateway) NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &KeyPair{PublicKey: hex.EncodeToString(pub), PrivateKey: hex.EncodeToString(priv.Seed())}, nil
}

// CreateFungibleToken registers a finite-supply token with the treasury as holder of all mints
func (g *SimulatedGateway) CreateFungibleToken(ctx context.Context, req CreateTokenRequest) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("create token", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	if req.MaxSupply <= 0 {
		err := errors.New("INVALID_TOKEN_MAX_SUPPLY")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("create token", err)
	}

	treasury := req.TreasuryAccountID
	if treasury == "" {
		treasury = g.accounts.Treasury
	}

	tokenID := g.entityIDLocked()
	g.tokens[tokenID] = &simulatedToken{
		symbol:    req.Symbol,
		maxSupply: req.MaxSupply,
		treasury:  treasury,
		holdings:  make(map[string]int64),
	}
	g.outcomes[txID] = &Outcome{Status: OutcomeSucceeded, TransactionID: txID, TokenID: tokenID, ResolvedAt: time.Now()}

	g.logger.Info("Simulated token created",
		zap.String("token_id", tokenID),
		zap.String("symbol", req.Symbol),
		zap.Int64("max_supply", req.MaxSupply))

	return &TxResult{TransactionID: txID, TokenID: tokenID}, nil
}

// ScheduleMint records a pending mint that executes on SignSchedule
func (g *SimulatedGateway) ScheduleMint(ctx context.Context, req ScheduleMintRequest) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("schedule mint", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	if _, ok := g.tokens[req.TokenID]; !ok {
		err := errors.New("INVALID_TOKEN_ID")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("schedule mint", err)
	}
	if req.Amount <= 0 {
		err := errors.New("INVALID_TOKEN_MINT_AMOUNT")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("schedule mint", err)
	}

	scheduleID := g.entityIDLocked()
	g.schedules[scheduleID] = &simulatedSchedule{tokenID: req.TokenID, amount: req.Amount, createdTxID: txID}
	g.outcomes[txID] = &Outcome{Status: OutcomeSucceeded, TransactionID: txID, ScheduleID: scheduleID, ResolvedAt: time.Now()}

	g.logger.Info("Simulated mint scheduled",
		zap.String("schedule_id", scheduleID),
		zap.String("token_id", req.TokenID),
		zap.Int64("amount", req.Amount),
		zap.String("memo", req.Memo))

	return &TxResult{TransactionID: txID, ScheduleID: scheduleID}, nil
}

// SignSchedule executes the scheduled mint
func (g *SimulatedGateway) SignSchedule(ctx context.Context, req SignScheduleRequest) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("sign schedule", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	schedule, ok := g.schedules[req.ScheduleID]
	if !ok {
		err := errors.New("INVALID_SCHEDULE_ID")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("sign schedule", err)
	}
	if schedule.executedAt != nil {
		err := errors.New("SCHEDULE_ALREADY_EXECUTED")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("sign schedule", err)
	}

	token := g.tokens[schedule.tokenID]
	if token.supply+schedule.amount > token.maxSupply {
		err := errors.New("TOKEN_MAX_SUPPLY_REACHED")
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("sign schedule", err)
	}

	token.supply += schedule.amount
	token.holdings[token.treasury] += schedule.amount

	now := time.Now()
	executedTxID := g.transactionIDLocked()
	schedule.executedAt = &now
	schedule.signTxID = txID
	schedule.executedTxID = executedTxID

	g.outcomes[txID] = &Outcome{
		Status:                 OutcomeSucceeded,
		TransactionID:          txID,
		ScheduleID:             req.ScheduleID,
		ScheduledTransactionID: executedTxID,
		ResolvedAt:             now,
	}
	g.outcomes[executedTxID] = &Outcome{Status: OutcomeSucceeded, TransactionID: executedTxID, TokenID: schedule.tokenID, ResolvedAt: now}

	g.logger.Info("Simulated schedule signed",
		zap.String("schedule_id", req.ScheduleID),
		zap.String("signer_ref", req.SignerRef),
		zap.String("scheduled_transaction_id", executedTxID))

	return &TxResult{TransactionID: txID, ScheduleID: req.ScheduleID, ScheduledTransactionID: executedTxID}, nil
}

// TransferFungible moves token units between holders
func (g *SimulatedGateway) TransferFungible(ctx context.Context, req FungibleTransfer) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("transfer token", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	fail := func(code string) (*TxResult, error) {
		err := errors.New(code)
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("transfer token", err)
	}

	token, ok := g.tokens[req.TokenID]
	if !ok {
		return fail("INVALID_TOKEN_ID")
	}
	if req.Amount <= 0 {
		return fail("INVALID_ACCOUNT_AMOUNTS")
	}
	if !g.authorizedLocked(req.From, req.FromKey) {
		return fail("INVALID_SIGNATURE")
	}
	if _, ok := g.balances[req.To]; !ok {
		return fail("INVALID_ACCOUNT_ID")
	}
	if token.holdings[req.From] < req.Amount {
		return fail("INSUFFICIENT_TOKEN_BALANCE")
	}

	token.holdings[req.From] -= req.Amount
	token.holdings[req.To] += req.Amount
	g.outcomes[txID] = &Outcome{Status: OutcomeSucceeded, TransactionID: txID, TokenID: req.TokenID, ResolvedAt: time.Now()}

	g.logger.Info("Simulated token transfer",
		zap.String("token_id", req.TokenID),
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.Int64("amount", req.Amount))

	return &TxResult{TransactionID: txID, TokenID: req.TokenID}, nil
}

// TransferNative moves native currency between accounts
func (g *SimulatedGateway) TransferNative(ctx context.Context, req NativeTransfer) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("transfer native", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	fail := func(err error) (*TxResult, error) {
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("transfer native", err)
	}

	if !req.Amount.IsPositive() {
		return fail(errors.New("INVALID_ACCOUNT_AMOUNTS"))
	}
	if !g.authorizedLocked(req.From, req.FromKey) {
		return fail(errors.New("INVALID_SIGNATURE"))
	}
	if _, ok := g.balances[req.To]; !ok {
		return fail(errors.New("INVALID_ACCOUNT_ID"))
	}
	if err := g.debitLocked(req.From, req.Amount); err != nil {
		return fail(err)
	}

	g.balances[req.To] = g.balances[req.To].Add(req.Amount)
	g.outcomes[txID] = &Outcome{Status: OutcomeSucceeded, TransactionID: txID, ResolvedAt: time.Now()}

	g.logger.Info("Simulated native transfer",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("amount", req.Amount.String()),
		zap.String("transaction_id", txID))

	return &TxResult{TransactionID: txID}, nil
}

// ReleaseEscrow debits escrow once and credits seller and platform in the same step
func (g *SimulatedGateway) ReleaseEscrow(ctx context.Context, req EscrowRelease) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify("release escrow", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID := g.ensureTxID(req.TransactionID)
	fail := func(err error) (*TxResult, error) {
		g.recordFailureLocked(txID, err)
		return nil, apperrors.LedgerFailure("release escrow", err)
	}

	if req.SellerAmount.IsNegative() || req.PlatformFee.IsNegative() {
		return fail(errors.New("INVALID_ACCOUNT_AMOUNTS"))
	}
	for _, account := range []string{req.SellerAccountID, req.PlatformAccountID} {
		if _, ok := g.balances[account]; !ok {
			return fail(errors.New("INVALID_ACCOUNT_ID"))
		}
	}

	total := req.SellerAmount.Add(req.PlatformFee)
	if err := g.debitLocked(req.EscrowAccountID, total); err != nil {
		return fail(err)
	}
	g.balances[req.SellerAccountID] = g.balances[req.SellerAccountID].Add(req.SellerAmount)
	g.balances[req.PlatformAccountID] = g.balances[req.PlatformAccountID].Add(req.PlatformFee)
	g.outcomes[txID] = &Outcome{Status: OutcomeSucceeded, TransactionID: txID, ResolvedAt: time.Now()}

	g.logger.Info("Simulated escrow release",
		zap.String("escrow", req.EscrowAccountID),
		zap.String("seller", req.SellerAccountID),
		zap.String("seller_amount", req.SellerAmount.String()),
		zap.String("platform_fee", req.PlatformFee.String()),
		zap.String("transaction_id", txID))

	return &TxResult{TransactionID: txID}, nil
}

// BalanceOf returns the native balance of an account
func (g *SimulatedGateway) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, Classify("balance", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	balance, ok := g.balances[accountID]
	if !ok {
		return decimal.Zero, apperrors.LedgerFailure("balance", errors.New("INVALID_ACCOUNT_ID"))
	}
	return balance, nil
}

// TokenBalance returns the token units an account holds
func (g *SimulatedGateway) TokenBalance(tokenID, accountID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	token, ok := g.tokens[tokenID]
	if !ok {
		return 0
	}
	return token.holdings[accountID]
}

// TransactionOutcome looks up a previously submitted transaction
func (g *SimulatedGateway) TransactionOutcome(ctx context.Context, transactionID string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	outcome, ok := g.outcomes[transactionID]
	if !ok {
		return &Outcome{Status: OutcomeNotFound, TransactionID: transactionID, ResolvedAt: time.Now()}, nil
	}
	copied := *outcome
	return &copied, nil
}

// ScheduleOutcome reports whether a schedule has executed
func (g *SimulatedGateway) ScheduleOutcome(ctx context.Context, scheduleID string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	schedule, ok := g.schedules[scheduleID]
	if !ok {
		return &Outcome{Status: OutcomeNotFound, ScheduleID: scheduleID, ResolvedAt: time.Now()}, nil
	}
	if schedule.executedAt == nil {
		return &Outcome{Status: OutcomePending, ScheduleID: scheduleID, TransactionID: schedule.createdTxID, ResolvedAt: time.Now()}, nil
	}
	return &Outcome{
		Status:                 OutcomeSucceeded,
		ScheduleID:             scheduleID,
		TransactionID:          schedule.signTxID,
		ScheduledTransactionID: schedule.executedTxID,
		TokenID:                schedule.tokenID,
		ResolvedAt:             *schedule.executedAt,
	}, nil
}

// Close is a no-op for the simulation
func (g *SimulatedGateway) Close() error {
	return nil
}

func (g *SimulatedGateway) authorizedLocked(account, key string) bool {
	if key == "" {
		return account == g.accounts.Operator || account == g.accounts.Escrow || account == g.accounts.Treasury
	}
	seed, err := hex.DecodeString(key)
	if err != nil || len(seed) != ed25519.SeedSize {
		return false
	}
	public := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return g.keys[account] == hex.EncodeToString(public)
}

func validPublicKey(key string) bool {
	raw, err := hex.DecodeString(key)
	return err == nil && len(raw) == ed25519.PublicKeySize
}

func (g *SimulatedGateway) debitLocked(account string, amount decimal.Decimal) error {
	balance, ok := g.balances[account]
	if !ok {
		return errors.New("INVALID_ACCOUNT_ID")
	}
	if balance.LessThan(amount) {
		return errors.New("INSUFFICIENT_PAYER_BALANCE")
	}
	g.balances[account] = balance.Sub(amount)
	return nil
}

func (g *SimulatedGateway) recordFailureLocked(txID string, err error) {
	g.outcomes[txID] = &Outcome{Status: OutcomeFailed, TransactionID: txID, Reason: err.Error(), ResolvedAt: time.Now()}
	g.logger.Warn("Simulated transaction rejected", zap.String("transaction_id", txID), zap.Error(err))
}
