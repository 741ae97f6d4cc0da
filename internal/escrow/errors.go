package escrow

import (
	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/catalog"
)

var (
	ErrOrderNotFound       = apperrors.NotFound("order_not_found", "order not found")
	ErrNotPending          = apperrors.Validation("order_not_pending", "order is not awaiting funding")
	ErrNotInEscrow         = apperrors.Validation("not_in_escrow", "order funds are not in escrow")
	ErrInsufficientFunds   = apperrors.Validation("insufficient_funds", "buyer balance does not cover the order total")
	ErrInvalidTransition   = apperrors.Validation("invalid_transition", "order status transition is not allowed")
	ErrOfferNotPriced      = apperrors.Validation("offer_not_priced", "offer has no buyer price")
	ErrOperationInProgress = apperrors.Conflict("operation_in_progress", "a ledger operation for this order is still pending")
	ErrDuplicateOrder      = apperrors.Integrity("duplicate_order_number", "order number already exists")
	ErrLedgerModeMismatch  = apperrors.Integrity("ledger_mode_mismatch", "order was funded under a different ledger mode")
)

// Offer reservation errors surface unchanged from the catalog
var (
	ErrQuantityExceedsAvailability = catalog.ErrQuantityExceedsAvailability
	ErrOfferNotActive              = catalog.ErrOfferNotActive
	ErrInvalidQuantity             = catalog.ErrInvalidQuantity
)
