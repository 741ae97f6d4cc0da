package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/database"
	"github.com/Artifique/Agrilend-Backend/internal/notifications"
)

// Service reviews offers and owns their available quantity
type Service struct {
	repo        Repository
	tx          database.Transactor
	notifier    notifications.Publisher
	buyerMargin decimal.Decimal
	logger      *zap.Logger
}

// NewService creates the catalog service
func NewService(repo Repository, tx database.Transactor, notifier notifications.Publisher, buyerMargin decimal.Decimal, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		tx:          tx,
		notifier:    notifier,
		buyerMargin: buyerMargin,
		logger:      logger,
	}
}

// BuyerPrice applies the platform margin to a farmer price, rounded half-up to cents
func BuyerPrice(farmerPrice, margin decimal.Decimal) decimal.Decimal {
	return farmerPrice.Mul(decimal.NewFromInt(1).Add(margin)).Round(2)
}

// ApproveOffer prices the offer for buyers and opens it for ordering
func (s *Service) ApproveOffer(ctx context.Context, offerID, reviewer uuid.UUID) (*Offer, error) {
	var offer *Offer
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		offer, err = s.repo.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if !reviewable(offer.Status) {
			return apperrors.Wrap(ErrOfferNotPending, "offer %s is %s", offerID, offer.Status)
		}

		now := time.Now()
		offer.FinalPriceFarmer = offer.SuggestedUnitPrice
		offer.FinalPriceBuyer = BuyerPrice(offer.SuggestedUnitPrice, s.buyerMargin)
		offer.Status = OfferActive
		offer.AdminValidated = true
		offer.ValidatedAt = &now
		offer.ReviewedBy = &reviewer
		offer.RejectionReason = ""
		return s.repo.UpdateOffer(ctx, offer)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Offer approved",
		zap.String("offer_id", offerID.String()),
		zap.String("final_price_buyer", offer.FinalPriceBuyer.StringFixed(2)))

	s.notifier.Publish(notifications.NewEvent(notifications.EventOfferApproved, offer.FarmerID,
		"Offer approved",
		"Your offer is now listed at "+offer.FinalPriceFarmer.StringFixed(2)+" per unit.",
		map[string]string{"offer_id": offerID.String()}))

	return offer, nil
}

// RejectOffer closes the offer with a reason for the farmer
func (s *Service) RejectOffer(ctx context.Context, offerID, reviewer uuid.UUID, reason string) (*Offer, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var offer *Offer
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		offer, err = s.repo.GetOfferForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if !reviewable(offer.Status) {
			return apperrors.Wrap(ErrOfferNotPending, "offer %s is %s", offerID, offer.Status)
		}

		offer.Status = OfferRejected
		offer.RejectionReason = reason
		offer.ReviewedBy = &reviewer
		return s.repo.UpdateOffer(ctx, offer)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Offer rejected", zap.String("offer_id", offerID.String()))

	s.notifier.Publish(notifications.NewEvent(notifications.EventOfferRejected, offer.FarmerID,
		"Offer rejected", "Your offer was rejected: "+reason,
		map[string]string{"offer_id": offerID.String()}))

	return offer, nil
}

// Reserve takes quantity from an active offer. Must run inside the caller's transaction.
func (s *Service) Reserve(ctx context.Context, offerID uuid.UUID, quantity decimal.Decimal) (*Offer, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	offer, err := s.repo.GetOfferForUpdate(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != OfferActive {
		return nil, apperrors.Wrap(ErrOfferNotActive, "offer %s is %s", offerID, offer.Status)
	}
	if quantity.GreaterThan(offer.AvailableQuantity) {
		return nil, apperrors.Wrap(ErrQuantityExceedsAvailability, "requested %s, available %s",
			quantity.String(), offer.AvailableQuantity.String())
	}

	offer.AvailableQuantity = offer.AvailableQuantity.Sub(quantity)
	if offer.AvailableQuantity.IsZero() {
		offer.Status = OfferSoldOut
	}
	if err := s.repo.UpdateOffer(ctx, offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// Restore returns quantity to an offer, reopening it if it had sold out. Must run inside the caller's transaction.
func (s *Service) Restore(ctx context.Context, offerID uuid.UUID, quantity decimal.Decimal) error {
	offer, err := s.repo.GetOfferForUpdate(ctx, offerID)
	if err != nil {
		return err
	}

	offer.AvailableQuantity = offer.AvailableQuantity.Add(quantity)
	if offer.Status == OfferSoldOut && offer.AvailableQuantity.IsPositive() {
		offer.Status = OfferActive
	}
	return s.repo.UpdateOffer(ctx, offer)
}

// GetOffer returns one offer
func (s *Service) GetOffer(ctx context.Context, offerID uuid.UUID) (*Offer, error) {
	return s.repo.GetOffer(ctx, offerID)
}

// GetProduct returns one product
func (s *Service) GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	return s.repo.GetProduct(ctx, productID)
}

// ListOffers returns offers, optionally filtered
func (s *Service) ListOffers(ctx context.Context, status *OfferStatus, farmerID *uuid.UUID) ([]Offer, error) {
	return s.repo.ListOffers(ctx, status, farmerID)
}

func reviewable(status OfferStatus) bool {
	return status == OfferPendingValidation || status == OfferDraft
}
