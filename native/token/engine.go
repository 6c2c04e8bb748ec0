package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	errNilState     = errors.New("token engine: state not configured")
	errNilAllocator = errors.New("token engine: allocator not configured")

	// ErrMintNotFound is returned when a mint address is not registered.
	ErrMintNotFound = errors.New("token: mint not found")
	// ErrAccountNotFound is returned when a holding account does not exist.
	ErrAccountNotFound = errors.New("token: account not found")
	// ErrInsufficientFunds is returned when a source account cannot cover a debit.
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	// ErrMintMismatch is returned when an account holds a different mint than expected.
	ErrMintMismatch = errors.New("token: mint mismatch")
	// ErrDecimalsMismatch is returned when the caller's decimals disagree with the mint.
	ErrDecimalsMismatch = errors.New("token: decimals mismatch")
	// ErrOwnerMismatch is returned when the authority does not control the account.
	ErrOwnerMismatch = errors.New("token: owner mismatch")
	// ErrNonZeroBalance is returned when closing an account that still holds tokens.
	ErrNonZeroBalance = errors.New("token: account balance not zero")
	// ErrInvalidSymbol is returned when a mint is registered without a symbol.
	ErrInvalidSymbol = errors.New("token: symbol required")
	// ErrOverflow is returned when a credit would overflow an account or supply.
	ErrOverflow = errors.New("token: amount overflow")
)

type engineState interface {
	MintGet(addr [20]byte) (*Mint, bool, error)
	MintPut(mint *Mint) error
	TokenAccountGet(addr [20]byte) (*Account, bool, error)
	TokenAccountPut(account *Account) error
	TokenAccountDelete(addr [20]byte) error
}

// Allocator reserves account addresses and collects the deposits that back
// them. The system program satisfies this interface.
type Allocator interface {
	CreateAccount(payer, addr [20]byte, program string, deposit uint64) error
	CloseAccount(addr, recipient [20]byte) (uint64, error)
}

// Deposits configures the native deposits charged for token program accounts.
type Deposits struct {
	Mint    uint64
	Account uint64
}

// Engine implements mints and holding accounts.
type Engine struct {
	state     engineState
	allocator Allocator
	deposits  Deposits
}

// NewEngine creates a token engine. State and allocator must be configured
// before use.
func NewEngine() *Engine {
	return &Engine{}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAllocator configures the account allocator.
func (e *Engine) SetAllocator(allocator Allocator) { e.allocator = allocator }

// SetDeposits configures the deposits charged when allocating accounts.
func (e *Engine) SetDeposits(deposits Deposits) { e.deposits = deposits }

// AccountDeposit returns the deposit charged for a holding account.
func (e *Engine) AccountDeposit() uint64 {
	if e == nil {
		return 0
	}
	return e.deposits.Account
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.allocator == nil {
		return errNilAllocator
	}
	return nil
}

// InitializeMint registers a new mint under symbol. The payer funds the mint
// deposit.
func (e *Engine) InitializeMint(payer [20]byte, symbol string, decimals uint8, authority [20]byte) (*Mint, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	addr := MintAddress(symbol)
	if err := e.allocator.CreateAccount(payer, addr, ProgramName, e.deposits.Mint); err != nil {
		return nil, err
	}
	mint := &Mint{Address: addr, Symbol: symbol, Decimals: decimals, Authority: authority}
	if err := e.state.MintPut(mint); err != nil {
		return nil, err
	}
	return mint.Clone(), nil
}

// Mint returns the mint stored at addr.
func (e *Engine) Mint(addr [20]byte) (*Mint, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	mint, ok, err := e.state.MintGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrMintNotFound, addr)
	}
	return mint, nil
}

// Account returns the holding account stored at addr.
func (e *Engine) Account(addr [20]byte) (*Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, ok, err := e.state.TokenAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrAccountNotFound, addr)
	}
	return account, nil
}

// Balance returns the amount of mint held in owner's associated account. A
// missing account reports zero.
func (e *Engine) Balance(owner, mint [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	account, ok, err := e.state.TokenAccountGet(AssociatedAddress(owner, mint))
	if err != nil || !ok {
		return 0, err
	}
	return account.Amount, nil
}

// CreateAssociatedAccount allocates the associated holding account of owner
// for mint. The payer funds the account deposit.
func (e *Engine) CreateAssociatedAccount(payer, owner, mint [20]byte) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.Mint(mint); err != nil {
		return nil, err
	}
	addr := AssociatedAddress(owner, mint)
	if err := e.allocator.CreateAccount(payer, addr, ProgramName, e.deposits.Account); err != nil {
		return nil, err
	}
	account := &Account{Address: addr, Mint: mint, Owner: owner}
	if err := e.state.TokenAccountPut(account); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// EnsureAssociatedAccount returns the associated account of owner for mint,
// creating it at the payer's expense when it does not exist yet. The boolean
// reports whether the account was created.
func (e *Engine) EnsureAssociatedAccount(payer, owner, mint [20]byte) (*Account, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	addr := AssociatedAddress(owner, mint)
	existing, ok, err := e.state.TokenAccountGet(addr)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if existing.Mint != mint {
			return nil, false, fmt.Errorf("%w: account %x", ErrMintMismatch, addr)
		}
		if existing.Owner != owner {
			return nil, false, fmt.Errorf("%w: account %x", ErrOwnerMismatch, addr)
		}
		return existing, false, nil
	}
	created, err := e.CreateAssociatedAccount(payer, owner, mint)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// MintTo issues amount of mint into destination. Only the mint authority may
// issue.
func (e *Engine) MintTo(mintAddr, destination [20]byte, amount uint64, authority [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	mint, err := e.Mint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Authority != authority {
		return fmt.Errorf("%w: mint authority", ErrOwnerMismatch)
	}
	dest, err := e.Account(destination)
	if err != nil {
		return err
	}
	if dest.Mint != mintAddr {
		return fmt.Errorf("%w: destination %x", ErrMintMismatch, destination)
	}
	supply, err := checkedAdd(mint.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := checkedAdd(dest.Amount, amount)
	if err != nil {
		return err
	}
	mint.Supply = supply
	dest.Amount = balance
	if err := e.state.MintPut(mint); err != nil {
		return err
	}
	return e.state.TokenAccountPut(dest)
}

// TransferChecked moves amount of mint from one holding account to another.
// The authority must own the source account and decimals must match the
// mint's declared precision.
func (e *Engine) TransferChecked(from, to, mintAddr [20]byte, amount uint64, decimals uint8, authority [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	mint, err := e.Mint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Decimals != decimals {
		return fmt.Errorf("%w: mint has %d, got %d", ErrDecimalsMismatch, mint.Decimals, decimals)
	}
	src, err := e.Account(from)
	if err != nil {
		return err
	}
	if src.Mint != mintAddr {
		return fmt.Errorf("%w: source %x", ErrMintMismatch, from)
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: source %x", ErrOwnerMismatch, from)
	}
	dst, err := e.Account(to)
	if err != nil {
		return err
	}
	if dst.Mint != mintAddr {
		return fmt.Errorf("%w: destination %x", ErrMintMismatch, to)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	credited, err := checkedAdd(dst.Amount, amount)
	if err != nil {
		return err
	}
	src.Amount -= amount
	dst.Amount = credited
	if err := e.state.TokenAccountPut(src); err != nil {
		return err
	}
	return e.state.TokenAccountPut(dst)
}

// CloseAccount removes an empty holding account and returns its deposit to
// destination. The amount returned is the refunded deposit.
func (e *Engine) CloseAccount(addr, destination, authority [20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	account, err := e.Account(addr)
	if err != nil {
		return 0, err
	}
	if account.Owner != authority {
		return 0, fmt.Errorf("%w: account %x", ErrOwnerMismatch, addr)
	}
	if account.Amount != 0 {
		return 0, fmt.Errorf("%w: %d remaining", ErrNonZeroBalance, account.Amount)
	}
	if err := e.state.TokenAccountDelete(addr); err != nil {
		return 0, err
	}
	return e.allocator.CloseAccount(addr, destination)
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}
