package accounts

import "github.com/Artifique/Agrilend-Backend/internal/apperrors"

var (
	ErrUserNotFound              = apperrors.NotFound("user_not_found", "user not found")
	ErrAccountCreationInProgress = apperrors.Conflict("account_creation_in_progress", "ledger account creation is already in progress")
	ErrLedgerModeMismatch        = apperrors.Integrity("ledger_mode_mismatch", "ledger account was created under a different ledger mode")
	ErrLedgerKeyUnavailable      = apperrors.Integrity("ledger_key_unavailable", "ledger account key cannot be opened")
	ErrLedgerAccountConflict     = apperrors.Integrity("ledger_account_conflict", "user is bound to a different ledger account")
	ErrNoLedgerAccount           = apperrors.NotFound("no_ledger_account", "user has no ledger account")
)
