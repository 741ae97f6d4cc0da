package catalog

import "github.com/Artifique/Agrilend-Backend/internal/apperrors"

var (
	ErrOfferNotFound   = apperrors.NotFound("offer_not_found", "offer not found")
	ErrProductNotFound = apperrors.NotFound("product_not_found", "product not found")
	ErrOfferNotPending = apperrors.Validation("offer_not_pending", "offer is not awaiting review")
	ErrReasonRequired  = apperrors.Validation("rejection_reason_required", "a rejection reason is required")
	ErrOfferNotActive  = apperrors.Validation("offer_not_active", "offer is not active")
	ErrInvalidQuantity = apperrors.Validation("invalid_quantity", "quantity must be positive")
)

// ErrQuantityExceedsAvailability is returned when an order asks for more than the offer holds
var ErrQuantityExceedsAvailability = apperrors.Validation("quantity_exceeds_availability", "requested quantity exceeds available quantity")
