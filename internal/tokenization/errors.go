package tokenization

import "github.com/Artifique/Agrilend-Backend/internal/apperrors"

var (
	ErrReceiptNotFound     = apperrors.NotFound("receipt_not_found", "warehouse receipt not found")
	ErrTokenNotFound       = apperrors.NotFound("token_not_found", "harvest token not found")
	ErrScheduleNotFound    = apperrors.NotFound("schedule_not_found", "no scheduled mint matches the schedule id")
	ErrAlreadyValidated    = apperrors.Validation("already_validated", "receipt is already validated")
	ErrNotValidated        = apperrors.Validation("not_validated", "receipt is not validated")
	ErrAlreadyMinted       = apperrors.Validation("already_minted", "receipt is already minted")
	ErrNotMinted           = apperrors.Validation("not_minted", "receipt is not minted")
	ErrReceiptLocked       = apperrors.Validation("receipt_locked", "receipt can no longer be amended")
	ErrInvalidWeight       = apperrors.Validation("invalid_weight", "net weight must be positive and not exceed gross weight")
	ErrInvalidBatch        = apperrors.Validation("invalid_batch", "batch number is required")
	ErrInvalidDistribution = apperrors.Validation("invalid_distribution", "distribution line is invalid")
	ErrInsufficientTokens  = apperrors.Validation("insufficient_tokens", "not enough token units available")
	ErrOperationInProgress = apperrors.Conflict("operation_in_progress", "a ledger operation for this receipt is still pending")
	ErrDuplicateBatch      = apperrors.Integrity("duplicate_batch", "batch number already exists")
	ErrDuplicateSymbol     = apperrors.Integrity("duplicate_symbol", "token symbol already exists")
	ErrSupplyExceeded      = apperrors.Integrity("supply_exceeded", "minted amount would exceed max supply")
	ErrFractionalSupply    = apperrors.Integrity("fractional_supply", "net weight must be a whole number of kilograms")
	ErrLedgerModeMismatch  = apperrors.Integrity("ledger_mode_mismatch", "token belongs to a different ledger mode")
)
