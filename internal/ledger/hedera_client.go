package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/config"
)

// HederaClient talks to a live Hedera network with the configured operator
type HederaClient struct {
	client      *hedera.Client
	operatorID  hedera.AccountID
	operatorKey hedera.PrivateKey
	escrowID    hedera.AccountID
	escrowKey   *hedera.PrivateKey
	platformID  hedera.AccountID
	supplyKey   hedera.PrivateKey
	initial     decimal.Decimal
	config      config.LedgerConfig
	logger      *zap.Logger
}

// NewHederaClient creates a client for the configured network and operator
func NewHederaClient(cfg config.LedgerConfig, logger *zap.Logger) (*HederaClient, error) {
	network := cfg.Network
	if network == "" {
		network = "testnet"
	}

	client, err := hedera.ClientForName(network)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client for %s: %w", network, err)
	}

	operatorID, err := hedera.AccountIDFromString(cfg.OperatorAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator account: %w", err)
	}
	operatorKey, err := hedera.PrivateKeyFromString(cfg.OperatorPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key: %w", err)
	}
	client.SetOperator(operatorID, operatorKey)
	if cfg.RequestTimeout > 0 {
		timeout := cfg.RequestTimeout
		client.SetRequestTimeout(&timeout)
	}

	c := &HederaClient{
		client:      client,
		operatorID:  operatorID,
		operatorKey: operatorKey,
		escrowID:    operatorID,
		platformID:  operatorID,
		supplyKey:   operatorKey,
		config:      cfg,
		logger:      logger.With(zap.String("ledger_mode", string(ModeLive)), zap.String("network", network)),
	}

	if cfg.EscrowAccountID != "" {
		if c.escrowID, err = hedera.AccountIDFromString(cfg.EscrowAccountID); err != nil {
			return nil, fmt.Errorf("failed to parse escrow account: %w", err)
		}
		escrowKey, err := hedera.PrivateKeyFromString(cfg.EscrowPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse escrow key: %w", err)
		}
		c.escrowKey = &escrowKey
	}
	if cfg.PlatformAccountID != "" {
		if c.platformID, err = hedera.AccountIDFromString(cfg.PlatformAccountID); err != nil {
			return nil, fmt.Errorf("failed to parse platform account: %w", err)
		}
	}
	if cfg.AuditorPrivateKey != "" {
		if c.supplyKey, err = hedera.PrivateKeyFromString(cfg.AuditorPrivateKey); err != nil {
			return nil, fmt.Errorf("failed to parse auditor key: %w", err)
		}
	}
	if c.initial, err = decimal.NewFromString(cfg.InitialBalance); err != nil {
		c.initial = decimal.Zero
	}

	c.logger.Info("Ledger gateway connected", zap.String("operator", operatorID.String()))

	return c, nil
}

// Mode reports ModeLive
func (c *HederaClient) Mode() Mode {
	return ModeLive
}

// Accounts returns the configured platform accounts
func (c *HederaClient) Accounts() SystemAccounts {
	return SystemAccounts{
		Operator: c.operatorID.String(),
		Treasury: c.operatorID.String(),
		Escrow:   c.escrowID.String(),
		Platform: c.platformID.String(),
	}
}

// NewTransactionID generates a transaction id paid by the operator
func (c *HederaClient) NewTransactionID() string {
	return hedera.TransactionIDGenerate(c.operatorID).String()
}

// NewKeyPair generates an ed25519 account key
func (c *HederaClient) NewKeyPair() (*KeyPair, error) {
	key, err := hedera.PrivateKeyGenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &KeyPair{PublicKey: key.PublicKey().String(), PrivateKey: key.String()}, nil
}

// CreateAccount creates an operator-funded account keyed by req.PublicKey, generating a key pair when absent
func (c *HederaClient) CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountHandle, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("create account", err)
	}

	keys := &KeyPair{PublicKey: req.PublicKey}
	if keys.PublicKey == "" {
		if keys, err = c.NewKeyPair(); err != nil {
			return nil, apperrors.LedgerFailure("create account", err)
		}
	}
	publicKey, err := hedera.PublicKeyFromString(keys.PublicKey)
	if err != nil {
		return nil, apperrors.LedgerFailure("create account", fmt.Errorf("invalid public key: %w", err))
	}

	funding := req.InitialBalance
	if funding.IsZero() {
		funding = c.initial
	}

	receipt, err := c.submit(ctx, "create account", func() (hedera.TransactionResponse, error) {
		return hedera.NewAccountCreateTransaction().
			SetTransactionID(txID).
			SetKey(publicKey).
			SetInitialBalance(hedera.HbarFromTinybar(ToTinybar(funding))).
			SetAccountMemo(req.OwnerRef).
			Execute(c.client)
	})
	if err != nil {
		return nil, err
	}
	if receipt.AccountID == nil {
		return nil, apperrors.LedgerFailure("create account", errors.New("receipt carries no account id"))
	}

	c.logger.Info("Ledger account created",
		zap.String("account_id", receipt.AccountID.String()),
		zap.String("owner_ref", req.OwnerRef))

	return &AccountHandle{
		AccountID:     receipt.AccountID.String(),
		PublicKey:     publicKey.String(),
		PrivateKey:    keys.PrivateKey,
		TransactionID: txID.String(),
	}, nil
}

// CreateFungibleToken creates a zero-decimal finite token whose supply key is the auditor key
func (c *HederaClient) CreateFungibleToken(ctx context.Context, req CreateTokenRequest) (*TxResult, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("create token", err)
	}

	treasury := c.operatorID
	if req.TreasuryAccountID != "" {
		if treasury, err = hedera.AccountIDFromString(req.TreasuryAccountID); err != nil {
			return nil, apperrors.LedgerFailure("create token", err)
		}
	}

	receipt, err := c.submit(ctx, "create token", func() (hedera.TransactionResponse, error) {
		return hedera.NewTokenCreateTransaction().
			SetTransactionID(txID).
			SetTokenName(req.Name).
			SetTokenSymbol(req.Symbol).
			SetDecimals(0).
			SetInitialSupply(0).
			SetSupplyType(hedera.TokenSupplyTypeFinite).
			SetMaxSupply(req.MaxSupply).
			SetTreasuryAccountID(treasury).
			SetAdminKey(c.operatorKey.PublicKey()).
			SetSupplyKey(c.supplyKey.PublicKey()).
			SetTokenMemo(req.Memo).
			Execute(c.client)
	})
	if err != nil {
		return nil, err
	}
	if receipt.TokenID == nil {
		return nil, apperrors.LedgerFailure("create token", errors.New("receipt carries no token id"))
	}

	return &TxResult{TransactionID: txID.String(), TokenID: receipt.TokenID.String()}, nil
}

// ScheduleMint wraps a mint in a schedule so it executes only once the supply key signs
func (c *HederaClient) ScheduleMint(ctx context.Context, req ScheduleMintRequest) (*TxResult, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("schedule mint", err)
	}
	tokenID, err := hedera.TokenIDFromString(req.TokenID)
	if err != nil {
		return nil, apperrors.LedgerFailure("schedule mint", err)
	}

	scheduled, err := hedera.NewTokenMintTransaction().
		SetTokenID(tokenID).
		SetAmount(uint64(req.Amount)).
		Schedule()
	if err != nil {
		return nil, apperrors.LedgerFailure("schedule mint", fmt.Errorf("failed to build schedule: %w", err))
	}

	receipt, err := c.submit(ctx, "schedule mint", func() (hedera.TransactionResponse, error) {
		return scheduled.
			SetTransactionID(txID).
			SetScheduleMemo(req.Memo).
			SetAdminKey(c.operatorKey.PublicKey()).
			Execute(c.client)
	})
	if err != nil {
		return nil, err
	}
	if receipt.ScheduleID == nil {
		return nil, apperrors.LedgerFailure("schedule mint", errors.New("receipt carries no schedule id"))
	}

	return &TxResult{TransactionID: txID.String(), ScheduleID: receipt.ScheduleID.String()}, nil
}

// SignSchedule adds the supply key signature, which executes the scheduled mint
func (c *HederaClient) SignSchedule(ctx context.Context, req SignScheduleRequest) (*TxResult, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("sign schedule", err)
	}
	scheduleID, err := hedera.ScheduleIDFromString(req.ScheduleID)
	if err != nil {
		return nil, apperrors.LedgerFailure("sign schedule", err)
	}

	frozen, err := hedera.NewScheduleSignTransaction().
		SetTransactionID(txID).
		SetScheduleID(scheduleID).
		FreezeWith(c.client)
	if err != nil {
		return nil, apperrors.LedgerFailure("sign schedule", err)
	}

	receipt, err := c.submit(ctx, "sign schedule", func() (hedera.TransactionResponse, error) {
		return frozen.Sign(c.supplyKey).Execute(c.client)
	})
	if err != nil {
		return nil, err
	}

	result := &TxResult{TransactionID: txID.String(), ScheduleID: req.ScheduleID}
	if receipt.ScheduledTransactionID != nil {
		result.ScheduledTransactionID = receipt.ScheduledTransactionID.String()
	}

	c.logger.Info("Schedule signed",
		zap.String("schedule_id", req.ScheduleID),
		zap.String("signer_ref", req.SignerRef))

	return result, nil
}

// TransferFungible moves token units, signing with the holder key when it is not the operator
func (c *HederaClient) TransferFungible(ctx context.Context, req FungibleTransfer) (*TxResult, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer token", err)
	}
	tokenID, err := hedera.TokenIDFromString(req.TokenID)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer token", err)
	}
	from, to, err := parseAccountPair(req.From, req.To)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer token", err)
	}

	tx := hedera.NewTransferTransaction().
		SetTransactionID(txID).
		SetTransactionMemo(req.Memo).
		AddTokenTransfer(tokenID, from, -req.Amount).
		AddTokenTransfer(tokenID, to, req.Amount)

	frozen, err := tx.FreezeWith(c.client)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer token", err)
	}
	if req.FromKey != "" {
		key, err := hedera.PrivateKeyFromString(req.FromKey)
		if err != nil {
			return nil, apperrors.LedgerFailure("transfer token", errors.New("invalid holder key"))
		}
		frozen = frozen.Sign(key)
	}

	if _, err := c.submit(ctx, "transfer token", func() (hedera.TransactionResponse, error) {
		return frozen.Execute(c.client)
	}); err != nil {
		return nil, err
	}

	return &TxResult{TransactionID: txID.String(), TokenID: req.TokenID}, nil
}

// TransferNative moves native currency, converting to tinybar
func (c *HederaClient) TransferNative(ctx context.Context, req NativeTransfer) (*TxResult, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer native", err)
	}
	from, to, err := parseAccountPair(req.From, req.To)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer native", err)
	}

	tinybar := ToTinybar(req.Amount)
	frozen, err := hedera.NewTransferTransaction().
		SetTransactionID(txID).
		SetTransactionMemo(req.Memo).
		AddHbarTransfer(from, hedera.HbarFromTinybar(-tinybar)).
		AddHbarTransfer(to, hedera.HbarFromTinybar(tinybar)).
		FreezeWith(c.client)
	if err != nil {
		return nil, apperrors.LedgerFailure("transfer native", err)
	}

	switch {
	case req.FromKey != "":
		key, err := hedera.PrivateKeyFromString(req.FromKey)
		if err != nil {
			return nil, apperrors.LedgerFailure("transfer native", errors.New("invalid sender key"))
		}
		frozen = frozen.Sign(key)
	case from.String() == c.escrowID.String() && c.escrowKey != nil:
		frozen = frozen.Sign(*c.escrowKey)
	}

	if _, err := c.submit(ctx, "transfer native", func() (hedera.TransactionResponse, error) {
		return frozen.Execute(c.client)
	}); err != nil {
		return nil, err
	}

	return &TxResult{TransactionID: txID.String()}, nil
}

// ReleaseEscrow submits one three-leg transfer: escrow pays seller and platform
func (c *HederaClient) ReleaseEscrow(ctx context.Context, req EscrowRelease) (*TxResult, error) {
	txID, err := c.transactionID(req.TransactionID)
	if err != nil {
		return nil, apperrors.LedgerFailure("release escrow", err)
	}
	escrow, seller, err := parseAccountPair(req.EscrowAccountID, req.SellerAccountID)
	if err != nil {
		return nil, apperrors.LedgerFailure("release escrow", err)
	}
	platform, err := hedera.AccountIDFromString(req.PlatformAccountID)
	if err != nil {
		return nil, apperrors.LedgerFailure("release escrow", err)
	}

	sellerTinybar := ToTinybar(req.SellerAmount)
	feeTinybar := ToTinybar(req.PlatformFee)

	frozen, err := hedera.NewTransferTransaction().
		SetTransactionID(txID).
		SetTransactionMemo(req.Memo).
		AddHbarTransfer(escrow, hedera.HbarFromTinybar(-(sellerTinybar+feeTinybar))).
		AddHbarTransfer(seller, hedera.HbarFromTinybar(sellerTinybar)).
		AddHbarTransfer(platform, hedera.HbarFromTinybar(feeTinybar)).
		FreezeWith(c.client)
	if err != nil {
		return nil, apperrors.LedgerFailure("release escrow", err)
	}
	if c.escrowKey != nil {
		frozen = frozen.Sign(*c.escrowKey)
	}

	if _, err := c.submit(ctx, "release escrow", func() (hedera.TransactionResponse, error) {
		return frozen.Execute(c.client)
	}); err != nil {
		return nil, err
	}

	return &TxResult{TransactionID: txID.String()}, nil
}

// BalanceOf returns the native balance with tinybar precision
func (c *HederaClient) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	id, err := hedera.AccountIDFromString(accountID)
	if err != nil {
		return decimal.Zero, apperrors.LedgerFailure("balance", err)
	}

	balance, err := run(ctx, func() (hedera.AccountBalance, error) {
		return hedera.NewAccountBalanceQuery().SetAccountID(id).Execute(c.client)
	})
	if err != nil {
		return decimal.Zero, Classify("balance", err)
	}

	return FromTinybar(balance.Hbars.AsTinybar()), nil
}

// TransactionOutcome queries the receipt of a previously generated transaction id
func (c *HederaClient) TransactionOutcome(ctx context.Context, transactionID string) (*Outcome, error) {
	txID, err := hedera.TransactionIdFromString(transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction id: %w", err)
	}

	receipt, err := run(ctx, func() (hedera.TransactionReceipt, error) {
		return hedera.NewTransactionReceiptQuery().SetTransactionID(txID).Execute(c.client)
	})

	outcome := &Outcome{TransactionID: transactionID, ResolvedAt: time.Now()}

	var precheck hedera.ErrHederaPreCheckStatus
	var receiptErr hedera.ErrHederaReceiptStatus
	switch {
	case errors.As(err, &precheck) && precheck.Status == hedera.StatusReceiptNotFound:
		outcome.Status = OutcomeNotFound
		return outcome, nil
	case errors.As(err, &receiptErr):
		outcome.Status = OutcomeFailed
		outcome.Reason = receiptErr.Status.String()
		return outcome, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	switch receipt.Status {
	case hedera.StatusSuccess:
		outcome.Status = OutcomeSucceeded
	case hedera.StatusUnknown:
		outcome.Status = OutcomePending
	default:
		outcome.Status = OutcomeFailed
		outcome.Reason = receipt.Status.String()
	}
	if receipt.AccountID != nil {
		outcome.AccountID = receipt.AccountID.String()
	}
	if receipt.TokenID != nil {
		outcome.TokenID = receipt.TokenID.String()
	}
	if receipt.ScheduleID != nil {
		outcome.ScheduleID = receipt.ScheduleID.String()
	}
	if receipt.ScheduledTransactionID != nil {
		outcome.ScheduledTransactionID = receipt.ScheduledTransactionID.String()
	}

	return outcome, nil
}

// ScheduleOutcome reports whether a schedule executed, is waiting for signatures or is gone
func (c *HederaClient) ScheduleOutcome(ctx context.Context, scheduleID string) (*Outcome, error) {
	id, err := hedera.ScheduleIDFromString(scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule id: %w", err)
	}

	info, err := run(ctx, func() (hedera.ScheduleInfo, error) {
		return hedera.NewScheduleInfoQuery().SetScheduleID(id).Execute(c.client)
	})

	outcome := &Outcome{ScheduleID: scheduleID, ResolvedAt: time.Now()}

	var precheck hedera.ErrHederaPreCheckStatus
	if errors.As(err, &precheck) && precheck.Status == hedera.StatusInvalidScheduleID {
		outcome.Status = OutcomeNotFound
		return outcome, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule info: %w", err)
	}

	switch {
	case info.ExecutedAt != nil:
		outcome.Status = OutcomeSucceeded
		outcome.ResolvedAt = *info.ExecutedAt
		if info.ScheduledTransactionID != nil {
			outcome.ScheduledTransactionID = info.ScheduledTransactionID.String()
		}
	case info.DeletedAt != nil:
		outcome.Status = OutcomeFailed
		outcome.Reason = "schedule deleted"
	default:
		outcome.Status = OutcomePending
	}

	return outcome, nil
}

// Close closes the network client
func (c *HederaClient) Close() error {
	return c.client.Close()
}

func (c *HederaClient) transactionID(raw string) (hedera.TransactionID, error) {
	if raw == "" {
		return hedera.TransactionIDGenerate(c.operatorID), nil
	}
	txID, err := hedera.TransactionIdFromString(raw)
	if err != nil {
		return hedera.TransactionID{}, fmt.Errorf("failed to parse transaction id: %w", err)
	}
	return txID, nil
}

// submit executes a transaction and waits for its receipt, bounded by ctx.
// A precheck rejection or a failed receipt is a definite failure; anything after submission
// that leaves the receipt unobserved is an unknown outcome.
func (c *HederaClient) submit(ctx context.Context, op string, execute func() (hedera.TransactionResponse, error)) (hedera.TransactionReceipt, error) {
	receipt, err := run(ctx, func() (hedera.TransactionReceipt, error) {
		resp, err := execute()
		if err != nil {
			var precheck hedera.ErrHederaPreCheckStatus
			if errors.As(err, &precheck) {
				return hedera.TransactionReceipt{}, apperrors.LedgerFailure(op, err)
			}
			return hedera.TransactionReceipt{}, apperrors.UnknownOutcome(op, err)
		}

		receipt, err := resp.GetReceipt(c.client)
		if err != nil {
			var receiptErr hedera.ErrHederaReceiptStatus
			if errors.As(err, &receiptErr) {
				return receipt, apperrors.LedgerFailure(op, err)
			}
			return receipt, apperrors.UnknownOutcome(op, err)
		}
		return receipt, nil
	})
	if err != nil {
		c.logger.Warn("Ledger transaction not confirmed", zap.String("operation", op), zap.Error(err))
		return receipt, Classify(op, err)
	}
	return receipt, nil
}

// run bounds a blocking SDK call by ctx. The call itself keeps running after ctx ends.
func run[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

func parseAccountPair(from, to string) (hedera.AccountID, hedera.AccountID, error) {
	fromID, err := hedera.AccountIDFromString(from)
	if err != nil {
		return hedera.AccountID{}, hedera.AccountID{}, fmt.Errorf("invalid source account %q: %w", from, err)
	}
	toID, err := hedera.AccountIDFromString(to)
	if err != nil {
		return hedera.AccountID{}, hedera.AccountID{}, fmt.Errorf("invalid destination account %q: %w", to, err)
	}
	return fromID, toID, nil
}
