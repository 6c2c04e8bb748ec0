package escrow

import (
	"errors"

	"escrowchain/core/types"
	"escrowchain/native/system"
	"escrowchain/native/token"
)

var (
	errNilState = errors.New("escrow engine: state not configured")
	errNilToken = errors.New("escrow engine: token program not configured")

	// ErrUnauthorized is returned when the signer is not permitted to act on a record.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrAddressMismatch is returned when a presented account is not the one derived
	// from the record.
	ErrAddressMismatch = errors.New("escrow: address mismatch")
	// ErrMintMismatch is returned when a presented asset differs from the recorded one.
	ErrMintMismatch = errors.New("escrow: mint mismatch")
	// ErrEscrowNotFound is returned when no live record exists at an address.
	ErrEscrowNotFound = errors.New("escrow: not found")
	// ErrEmptyVault is returned when a vault holds nothing to release.
	ErrEmptyVault = errors.New("escrow: vault empty")
	// ErrVaultNotEmpty is returned when Make finds tokens already sitting in the
	// derived vault.
	ErrVaultNotEmpty = errors.New("escrow: vault already funded")
	// ErrInvalidAmount is returned when Make is called with a zero deposit.
	ErrInvalidAmount = errors.New("escrow: deposit must be positive")
)

// Class groups errors by the reason an operation was rejected.
type Class string

const (
	ClassAuthorization Class = "authorization"
	ClassBalance       Class = "balance"
	ClassAsset         Class = "asset"
	ClassState         Class = "state"
	ClassAllocation    Class = "allocation"
	ClassInvalid       Class = "invalid"
	ClassInternal      Class = "internal"
)

// Classify maps an error returned by the escrow, token or system programs to
// its rejection class. Unrecognised errors classify as internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrAddressMismatch),
		errors.Is(err, token.ErrOwnerMismatch),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrInvalidSignature):
		return ClassAuthorization
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, system.ErrInsufficientNative):
		return ClassBalance
	case errors.Is(err, ErrMintMismatch),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrDecimalsMismatch):
		return ClassAsset
	case errors.Is(err, ErrEscrowNotFound),
		errors.Is(err, ErrEmptyVault),
		errors.Is(err, ErrVaultNotEmpty),
		errors.Is(err, token.ErrAccountNotFound),
		errors.Is(err, token.ErrMintNotFound),
		errors.Is(err, token.ErrNonZeroBalance),
		errors.Is(err, system.ErrAccountNotAllocated):
		return ClassState
	case errors.Is(err, system.ErrAccountInUse):
		return ClassAllocation
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidSymbol),
		errors.Is(err, system.ErrSelfTransfer),
		errors.Is(err, token.ErrOverflow),
		errors.Is(err, system.ErrBalanceOverflow):
		return ClassInvalid
	default:
		return ClassInternal
	}
}
