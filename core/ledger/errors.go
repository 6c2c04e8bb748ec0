package ledger

import (
	"context"
	"errors"

	"escrowchain/native/escrow"
)

var (
	errClosed = errors.New("ledger: closed")

	// ErrChainIDMismatch is returned for transactions signed for another chain.
	ErrChainIDMismatch = errors.New("ledger: chain id mismatch")
	// ErrNonceMismatch is returned when a transaction nonce is not the signer's
	// next expected nonce.
	ErrNonceMismatch = errors.New("ledger: nonce mismatch")
	// ErrUnknownTxType is returned for transaction types with no handler.
	ErrUnknownTxType = errors.New("ledger: unknown transaction type")
	// ErrInvalidPayload is returned when a transaction payload cannot be decoded.
	ErrInvalidPayload = errors.New("ledger: invalid payload")
	// ErrProgramOwner is returned when a user transaction would credit or open a
	// holding account owned by a program account.
	ErrProgramOwner = errors.New("ledger: owner is a program account")
)

// Classify extends escrow.Classify with the errors raised by the ledger
// itself.
func Classify(err error) escrow.Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChainIDMismatch),
		errors.Is(err, ErrNonceMismatch),
		errors.Is(err, ErrUnknownTxType),
		errors.Is(err, ErrInvalidPayload):
		return escrow.ClassInvalid
	case errors.Is(err, ErrProgramOwner):
		return escrow.ClassAuthorization
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return escrow.ClassInternal
	default:
		return escrow.Classify(err)
	}
}
