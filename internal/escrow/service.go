package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Artifique/Agrilend-Backend/internal/accounts"
	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/catalog"
	"github.com/Artifique/Agrilend-Backend/internal/config"
	"github.com/Artifique/Agrilend-Backend/internal/database"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/notifications"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
	"github.com/Artifique/Agrilend-Backend/pkg/workflows"
)

// OfferReserver takes and returns offer quantity inside the caller's transaction
type OfferReserver interface {
	Reserve(ctx context.Context, offerID uuid.UUID, quantity decimal.Decimal) (*catalog.Offer, error)
	Restore(ctx context.Context, offerID uuid.UUID, quantity decimal.Decimal) error
}

// LedgerAccounts resolves users to their ledger accounts
type LedgerAccounts interface {
	EnsureLedgerAccount(ctx context.Context, userID uuid.UUID) (*accounts.LedgerAccount, error)
	LedgerAccount(ctx context.Context, userID uuid.UUID) (*accounts.LedgerAccount, error)
}

// Policy holds the pricing and funding rules applied to every order
type Policy struct {
	FeeRate       decimal.Decimal
	HoldingMonths int
	FaucetEnabled bool
	FaucetBuffer  decimal.Decimal
}

// PolicyFromConfig parses the settlement section of the configuration
func PolicyFromConfig(cfg config.SettlementConfig) (Policy, error) {
	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid fee rate %q: %w", cfg.FeeRate, err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Policy{}, fmt.Errorf("fee rate %s must be in [0, 1)", feeRate.String())
	}
	buffer := decimal.Zero
	if cfg.FaucetBuffer != "" {
		if buffer, err = decimal.NewFromString(cfg.FaucetBuffer); err != nil {
			return Policy{}, fmt.Errorf("invalid faucet buffer %q: %w", cfg.FaucetBuffer, err)
		}
	}
	if cfg.EscrowHoldingMonths <= 0 {
		return Policy{}, fmt.Errorf("escrow holding months must be positive")
	}
	return Policy{
		FeeRate:       feeRate,
		HoldingMonths: cfg.EscrowHoldingMonths,
		FaucetEnabled: cfg.FaucetEnabled,
		FaucetBuffer:  buffer,
	}, nil
}

// OrderTotal prices quantity at unitPrice in currency units
func OrderTotal(unitPrice, quantity decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(quantity).Round(2)
}

// SplitRelease divides a released total into the farmer's share and the platform fee.
// The fee is rounded half-up to cents and the farmer receives the exact remainder.
func SplitRelease(total, feeRate decimal.Decimal) Split {
	fee := total.Mul(feeRate).Round(2)
	return Split{FarmerAmount: total.Sub(fee), PlatformFee: fee}
}

var orderFlow = workflows.NewStateMachine(map[string][]string{
	string(StatusPending):    {string(StatusInEscrow), string(StatusCancelled)},
	string(StatusInEscrow):   {string(StatusReleased), string(StatusDisputed), string(StatusCancelled)},
	string(StatusReleased):   {string(StatusInDelivery)},
	string(StatusInDelivery): {string(StatusDelivered)},
})

// AllowedTransitions lists the statuses an order may move to from status
func AllowedTransitions(status OrderStatus) []OrderStatus {
	next := orderFlow.GetAllowedTransitions(string(status))
	out := make([]OrderStatus, len(next))
	for i, s := range next {
		out[i] = OrderStatus(s)
	}
	return out
}

// Dependencies wires the pipeline's collaborators
type Dependencies struct {
	Repo     Repository
	Offers   OfferReserver
	Accounts LedgerAccounts
	Gateway  ledger.Gateway
	Journal  *settlement.Journal
	Tx       database.Transactor
	Policy   Policy
	Notifier notifications.Publisher
	Logger   *zap.Logger
}

// Service drives orders from placement through escrow to release or refund
type Service struct {
	repo     Repository
	offers   OfferReserver
	accounts LedgerAccounts
	gateway  ledger.Gateway
	journal  *settlement.Journal
	tx       database.Transactor
	policy   Policy
	notifier notifications.Publisher
	logger   *zap.Logger

	flights singleflight.Group
	now     func() time.Time
}

// NewService creates the escrow service
func NewService(deps Dependencies) *Service {
	return &Service{
		repo:     deps.Repo,
		offers:   deps.Offers,
		accounts: deps.Accounts,
		gateway:  deps.Gateway,
		journal:  deps.Journal,
		tx:       deps.Tx,
		policy:   deps.Policy,
		notifier: deps.Notifier,
		logger:   deps.Logger.With(zap.String("ledger_mode", string(deps.Gateway.Mode()))),
		now:      time.Now,
	}
}

// CreateOrder reserves offer quantity and records a PENDING order in one local transaction.
// No ledger call is made; funding follows with FundEscrow.
func (s *Service) CreateOrder(ctx context.Context, buyerID uuid.UUID, in PlaceOrder) (*Order, error) {
	if !in.Quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	var order *Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		offer, err := s.offers.Reserve(ctx, in.OfferID, in.Quantity)
		if err != nil {
			return err
		}
		if !offer.FinalPriceBuyer.IsPositive() {
			return apperrors.Wrap(ErrOfferNotPriced, "offer %s", offer.ID)
		}

		order = &Order{
			OrderNumber:          s.orderNumber(),
			BuyerID:              buyerID,
			OfferID:              offer.ID,
			FarmerID:             offer.FarmerID,
			ProductID:            offer.ProductID,
			OrderedQuantity:      in.Quantity,
			UnitPrice:            offer.FinalPriceBuyer,
			TotalAmount:          OrderTotal(offer.FinalPriceBuyer, in.Quantity),
			Status:               StatusPending,
			DeliveryAddress:      in.DeliveryAddress,
			Notes:                in.Notes,
			ExpectedDeliveryDate: in.ExpectedDeliveryDate,
		}
		return s.repo.Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("quantity", order.OrderedQuantity.String()),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)))

	s.notifier.Publish(notifications.NewEvent(notifications.EventOrderCreated, order.FarmerID,
		"New order",
		fmt.Sprintf("Order %s for %s units was placed on your offer.", order.OrderNumber, order.OrderedQuantity.String()),
		map[string]string{"order_id": order.ID.String(), "order_number": order.OrderNumber}))

	return order, nil
}

// FundEscrow moves the order total from the buyer's account into escrow.
// Funded orders are returned unchanged; a failed transfer leaves the order PENDING and retryable.
func (s *Service) FundEscrow(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	v, err, _ := s.flights.Do("fund:"+orderID.String(), func() (any, error) {
		return s.fund(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Order), nil
}

func (s *Service) fund(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Funded() {
		return order, nil
	}
	if order.Status != StatusPending {
		return nil, apperrors.Wrap(ErrNotPending, "order %s is %s", orderID, order.Status)
	}
	// checked again under the order lock below
	if err := s.ensureIdle(ctx, orderID, settlement.TypeEscrowDeposit); err != nil {
		return nil, err
	}

	buyer, err := s.accounts.EnsureLedgerAccount(ctx, order.BuyerID)
	if err != nil {
		return nil, err
	}
	if s.policy.FaucetEnabled {
		if err := s.topUp(ctx, order, buyer.AccountID); err != nil {
			return nil, err
		}
	}

	balance, err := s.gateway.BalanceOf(ctx, buyer.AccountID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(order.TotalAmount) {
		return nil, apperrors.Wrap(ErrInsufficientFunds, "balance %s, order total %s",
			balance.String(), order.TotalAmount.StringFixed(2))
	}

	var rec *settlement.Record
	escrowAccount := s.gateway.Accounts().Escrow
	txID := s.gateway.NewTransactionID()

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Funded() {
			return nil
		}
		if order.Status != StatusPending {
			return apperrors.Wrap(ErrNotPending, "order %s is %s", orderID, order.Status)
		}
		if err := s.ensureIdle(ctx, orderID, settlement.TypeEscrowDeposit); err != nil {
			return err
		}

		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeEscrowDeposit,
			TransactionID: txID,
			Amount:        order.TotalAmount,
			From:          buyer.AccountID,
			To:            escrowAccount,
			OrderID:       &orderID,
			UserID:        &order.BuyerID,
			Memo:          "Escrow for order " + order.OrderNumber,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return order, nil
	}

	res, callErr := s.gateway.TransferNative(ctx, ledger.NativeTransfer{
		TransactionID: txID,
		From:          buyer.AccountID,
		FromKey:       buyer.PrivateKey,
		To:            escrowAccount,
		Amount:        order.TotalAmount,
		Memo:          rec.Memo,
	})
	if callErr != nil {
		s.logger.Error("Failed to fund escrow",
			zap.String("order_id", orderID.String()),
			zap.String("amount", order.TotalAmount.StringFixed(2)),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.markFunded(ctx, orderID, buyer.AccountID, res.TransactionID)
		if err != nil {
			return err
		}
		return s.journal.Settle(ctx, rec, res.TransactionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Escrow funded",
		zap.String("order_id", orderID.String()),
		zap.String("transaction_id", res.TransactionID),
		zap.String("amount", order.TotalAmount.StringFixed(2)))

	data := map[string]string{"order_id": orderID.String(), "transaction_id": res.TransactionID}
	s.notifier.Publish(notifications.NewEvent(notifications.EventEscrowConfirmed, order.BuyerID,
		"Payment held in escrow",
		fmt.Sprintf("%s for order %s is held in escrow until delivery.", order.TotalAmount.StringFixed(2), order.OrderNumber),
		data))
	s.notifier.Publish(notifications.NewEvent(notifications.EventEscrowConfirmed, order.FarmerID,
		"Order paid",
		fmt.Sprintf("Payment for order %s is secured in escrow.", order.OrderNumber),
		data))

	return order, nil
}

// topUp funds the buyer from the operator account up to the order total plus the configured buffer
func (s *Service) topUp(ctx context.Context, order *Order, accountID string) error {
	balance, err := s.gateway.BalanceOf(ctx, accountID)
	if err != nil {
		return err
	}
	needed := order.TotalAmount.Add(s.policy.FaucetBuffer)
	if balance.GreaterThanOrEqual(needed) {
		return nil
	}
	amount := needed.Sub(balance)
	operator := s.gateway.Accounts().Operator
	txID := s.gateway.NewTransactionID()

	var rec *settlement.Record
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.ensureIdle(ctx, order.ID, settlement.TypeFaucetTopUp); err != nil {
			return err
		}
		var err error
		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeFaucetTopUp,
			TransactionID: txID,
			Amount:        amount,
			From:          operator,
			To:            accountID,
			OrderID:       &order.ID,
			UserID:        &order.BuyerID,
			Memo:          "Top-up for order " + order.OrderNumber,
		})
		return err
	})
	if err != nil {
		return err
	}

	res, callErr := s.gateway.TransferNative(ctx, ledger.NativeTransfer{
		TransactionID: txID,
		From:          operator,
		To:            accountID,
		Amount:        amount,
		Memo:          rec.Memo,
	})
	if callErr != nil {
		s.logger.Error("Failed to top up buyer account",
			zap.String("order_id", order.ID.String()),
			zap.String("account_id", accountID),
			zap.Error(callErr))
		return s.journal.Conclude(ctx, rec, "", callErr)
	}

	s.logger.Info("Buyer account topped up",
		zap.String("order_id", order.ID.String()),
		zap.String("account_id", accountID),
		zap.String("amount", amount.String()))

	return s.journal.Settle(ctx, rec, res.TransactionID)
}

// ReleaseEscrow pays the farmer and the platform fee out of escrow in one ledger transaction
func (s *Service) ReleaseEscrow(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	v, err, _ := s.flights.Do("release:"+orderID.String(), func() (any, error) {
		return s.release(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Order), nil
}

func (s *Service) release(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusInEscrow {
		return nil, apperrors.Wrap(ErrNotInEscrow, "order %s is %s", orderID, order.Status)
	}
	if err := s.checkMode(order); err != nil {
		return nil, err
	}

	farmer, err := s.accounts.EnsureLedgerAccount(ctx, order.FarmerID)
	if err != nil {
		return nil, err
	}

	var rec *settlement.Record
	system := s.gateway.Accounts()
	split := SplitRelease(order.TotalAmount, s.policy.FeeRate)
	txID := s.gateway.NewTransactionID()

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusInEscrow {
			return apperrors.Wrap(ErrNotInEscrow, "order %s is %s", orderID, order.Status)
		}
		if err := s.ensureIdle(ctx, orderID, settlement.TypeEscrowRelease, settlement.TypeRefund); err != nil {
			return err
		}

		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeEscrowRelease,
			TransactionID: txID,
			Amount:        order.TotalAmount,
			From:          system.Escrow,
			To:            farmer.AccountID,
			OrderID:       &orderID,
			UserID:        &order.FarmerID,
			Memo:          "Release for order " + order.OrderNumber,
			Metadata: map[string]any{
				"farmer_amount":    split.FarmerAmount.StringFixed(2),
				"platform_fee":     split.PlatformFee.StringFixed(2),
				"platform_account": system.Platform,
				"fee_rate":         s.policy.FeeRate.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	res, callErr := s.gateway.ReleaseEscrow(ctx, ledger.EscrowRelease{
		TransactionID:     txID,
		EscrowAccountID:   system.Escrow,
		SellerAccountID:   farmer.AccountID,
		SellerAmount:      split.FarmerAmount,
		PlatformAccountID: system.Platform,
		PlatformFee:       split.PlatformFee,
		Memo:              rec.Memo,
	})
	if callErr != nil {
		s.logger.Error("Failed to release escrow",
			zap.String("order_id", orderID.String()),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.markReleased(ctx, orderID, split, res.TransactionID)
		if err != nil {
			return err
		}
		return s.journal.Settle(ctx, rec, res.TransactionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Escrow released",
		zap.String("order_id", orderID.String()),
		zap.String("transaction_id", res.TransactionID),
		zap.String("farmer_amount", split.FarmerAmount.StringFixed(2)),
		zap.String("platform_fee", split.PlatformFee.StringFixed(2)))

	data := map[string]string{"order_id": orderID.String(), "transaction_id": res.TransactionID}
	s.notifier.Publish(notifications.NewEvent(notifications.EventEscrowReleased, order.FarmerID,
		"Payment released",
		fmt.Sprintf("%s was paid out for order %s.", split.FarmerAmount.StringFixed(2), order.OrderNumber),
		data))
	s.notifier.Publish(notifications.NewEvent(notifications.EventEscrowReleased, order.BuyerID,
		"Escrow released",
		fmt.Sprintf("Your payment for order %s was released to the farmer.", order.OrderNumber),
		data))

	return order, nil
}

// Cancel ends an order before release. Escrowed funds are refunded to the buyer first;
// the reserved quantity returns to the offer.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case StatusPending:
		order, err = s.cancelPending(ctx, orderID, reason)
	case StatusInEscrow:
		v, ferr, _ := s.flights.Do("refund:"+orderID.String(), func() (any, error) {
			return s.refund(ctx, order, reason)
		})
		if ferr != nil {
			return nil, ferr
		}
		order = v.(*Order)
	default:
		return nil, apperrors.Wrap(ErrInvalidTransition, "%s -> %s", order.Status, StatusCancelled)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("reason", reason))
	s.publishStatus(order)

	return order, nil
}

func (s *Service) cancelPending(ctx context.Context, orderID uuid.UUID, reason string) (*Order, error) {
	var order *Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return apperrors.Wrap(ErrInvalidTransition, "%s -> %s", order.Status, StatusCancelled)
		}
		// Funds may be on their way to escrow
		if err := s.ensureIdle(ctx, orderID, settlement.TypeEscrowDeposit); err != nil {
			return err
		}

		order.Status = StatusCancelled
		order.CancellationReason = reason
		if err := s.repo.Update(ctx, order); err != nil {
			return err
		}
		return s.offers.Restore(ctx, order.OfferID, order.OrderedQuantity)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) refund(ctx context.Context, order *Order, reason string) (*Order, error) {
	if err := s.checkMode(order); err != nil {
		return nil, err
	}
	buyerAccount := order.BuyerAccountID
	if buyerAccount == "" {
		account, err := s.accounts.LedgerAccount(ctx, order.BuyerID)
		if err != nil {
			return nil, err
		}
		buyerAccount = account.AccountID
	}

	orderID := order.ID
	var rec *settlement.Record
	escrowAccount := s.gateway.Accounts().Escrow
	txID := s.gateway.NewTransactionID()

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusInEscrow {
			return apperrors.Wrap(ErrInvalidTransition, "%s -> %s", order.Status, StatusCancelled)
		}
		if err := s.ensureIdle(ctx, orderID, settlement.TypeRefund, settlement.TypeEscrowRelease); err != nil {
			return err
		}

		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeRefund,
			TransactionID: txID,
			Amount:        order.TotalAmount,
			From:          escrowAccount,
			To:            buyerAccount,
			OrderID:       &orderID,
			UserID:        &order.BuyerID,
			Memo:          "Refund for order " + order.OrderNumber,
			Metadata:      map[string]any{"reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	res, callErr := s.gateway.TransferNative(ctx, ledger.NativeTransfer{
		TransactionID: txID,
		From:          escrowAccount,
		To:            buyerAccount,
		Amount:        order.TotalAmount,
		Memo:          rec.Memo,
	})
	if callErr != nil {
		s.logger.Error("Failed to refund escrow",
			zap.String("order_id", orderID.String()),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.markRefunded(ctx, orderID, reason, res.TransactionID)
		if err != nil {
			return err
		}
		return s.journal.Settle(ctx, rec, res.TransactionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Escrow refunded",
		zap.String("order_id", orderID.String()),
		zap.String("transaction_id", res.TransactionID))

	return order, nil
}

// UpdateStatus applies an administrative transition. Funding and release only happen
// through FundEscrow and ReleaseEscrow; cancellation goes through Cancel.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, target OrderStatus, reason string) (*Order, error) {
	switch target {
	case StatusCancelled:
		return s.Cancel(ctx, orderID, reason)
	case StatusInEscrow, StatusReleased:
		return nil, apperrors.Wrap(ErrInvalidTransition, "%s requires a ledger settlement", target)
	case StatusPending:
		return nil, apperrors.Wrap(ErrInvalidTransition, "orders cannot return to %s", target)
	case StatusInDelivery, StatusDelivered, StatusDisputed:
	default:
		return nil, apperrors.Wrap(ErrInvalidTransition, "unknown status %q", target)
	}
	return s.transition(ctx, orderID, target, nil)
}

// ConfirmDelivery lets the buyer mark an order in delivery as delivered
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, buyerID uuid.UUID) (*Order, error) {
	return s.transition(ctx, orderID, StatusDelivered, &buyerID)
}

func (s *Service) transition(ctx context.Context, orderID uuid.UUID, target OrderStatus, buyerID *uuid.UUID) (*Order, error) {
	var (
		order *Order
		from  OrderStatus
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if buyerID != nil && order.BuyerID != *buyerID {
			return ErrOrderNotFound
		}

		from = order.Status
		if !orderFlow.CanTransition(string(from), string(target)) {
			s.logger.Warn("Order status policy violation",
				zap.String("order_id", orderID.String()),
				zap.String("from", string(from)),
				zap.String("to", string(target)))
			return apperrors.Wrap(ErrInvalidTransition, "%s -> %s", from, target)
		}

		order.Status = target
		if target == StatusDelivered {
			now := s.now()
			order.ActualDeliveryDate = &now
		}
		return s.repo.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)))
	s.publishStatus(order)

	return order, nil
}

// GetOrder returns one order
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, orderID)
}

// ListOrders returns orders matching filter
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	return s.repo.List(ctx, filter)
}

// markFunded records the escrow deposit. Idempotent; must run inside a transaction.
func (s *Service) markFunded(ctx context.Context, orderID uuid.UUID, buyerAccount, txID string) (*Order, error) {
	order, err := s.repo.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Funded() {
		return order, nil
	}

	now := s.now()
	end := now.AddDate(0, s.policy.HoldingMonths, 0)
	order.EscrowTransactionID = &txID
	order.BuyerAccountID = buyerAccount
	order.LedgerMode = string(s.gateway.Mode())
	order.EscrowStartDate = &now
	order.EscrowEndDate = &end
	if order.Status == StatusPending {
		order.Status = StatusInEscrow
	} else {
		s.logger.Warn("Escrow deposit settled for an order that left PENDING",
			zap.String("order_id", orderID.String()),
			zap.String("status", string(order.Status)))
	}

	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// markReleased records the payout. Idempotent; must run inside a transaction.
func (s *Service) markReleased(ctx context.Context, orderID uuid.UUID, split Split, txID string) (*Order, error) {
	order, err := s.repo.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ReleaseTransactionID != nil {
		return order, nil
	}

	order.ReleaseTransactionID = &txID
	order.PlatformFee = split.PlatformFee
	order.FarmerAmount = split.FarmerAmount
	if order.Status == StatusInEscrow {
		order.Status = StatusReleased
	}
	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// markRefunded cancels the order and returns its quantity. Idempotent; must run inside a transaction.
func (s *Service) markRefunded(ctx context.Context, orderID uuid.UUID, reason, txID string) (*Order, error) {
	order, err := s.repo.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RefundTransactionID != nil {
		return order, nil
	}

	order.RefundTransactionID = &txID
	restore := order.Status == StatusInEscrow
	if restore {
		order.Status = StatusCancelled
		order.CancellationReason = reason
	}
	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}
	if restore {
		if err := s.offers.Restore(ctx, order.OfferID, order.OrderedQuantity); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (s *Service) ensureIdle(ctx context.Context, orderID uuid.UUID, recTypes ...settlement.RecordType) error {
	inflight, err := s.journal.InFlight(ctx, settlement.Filter{
		Types:   recTypes,
		OrderID: &orderID,
	})
	if err != nil {
		return err
	}
	if len(inflight) > 0 {
		return apperrors.Wrap(ErrOperationInProgress, "%s record %s", inflight[0].Type, inflight[0].ID)
	}
	return nil
}

func (s *Service) checkMode(order *Order) error {
	if order.LedgerMode != "" && order.LedgerMode != string(s.gateway.Mode()) {
		return apperrors.Wrap(ErrLedgerModeMismatch, "order %s funded under %q, gateway is %q", order.OrderNumber, order.LedgerMode, s.gateway.Mode())
	}
	return nil
}

func (s *Service) publishStatus(order *Order) {
	data := map[string]string{"order_id": order.ID.String(), "status": string(order.Status)}
	message := fmt.Sprintf("Order %s is now %s.", order.OrderNumber, order.Status)
	for _, userID := range []uuid.UUID{order.BuyerID, order.FarmerID} {
		s.notifier.Publish(notifications.NewEvent(notifications.EventOrderStatusChanged, userID,
			"Order status changed", message, data))
	}
}

func (s *Service) orderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + s.now().UTC().Format("20060102") + "-" + suffix
}
