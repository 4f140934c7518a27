package ledger

import "errors"

var (
	ErrEmptyUserID         = errors.New("ledger: empty user id")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrTransactionRejected = errors.New("ledger: transaction rejected")
	ErrTransactionOwner    = errors.New("ledger: transaction belongs to another account")
)
