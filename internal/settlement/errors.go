package settlement

import "github.com/Artifique/Agrilend-Backend/internal/apperrors"

var (
	ErrRecordNotFound     = apperrors.NotFound("record_not_found", "settlement record not found")
	ErrRecordClosed       = apperrors.Conflict("record_closed", "settlement record is no longer pending")
	ErrLedgerModeMismatch = apperrors.Integrity("ledger_mode_mismatch", "record belongs to a different ledger mode")
)
