package system

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var (
	errNilState = errors.New("system engine: state not configured")

	// ErrAccountInUse is returned when an address is already allocated.
	ErrAccountInUse = errors.New("system: account already in use")
	// ErrAccountNotAllocated is returned when closing an address that holds no allocation.
	ErrAccountNotAllocated = errors.New("system: account not allocated")
	// ErrInsufficientNative is returned when a payer cannot cover a deposit or transfer.
	ErrInsufficientNative = errors.New("system: insufficient native balance")
	// ErrSelfTransfer is returned when a native transfer names the sender as recipient.
	ErrSelfTransfer = errors.New("system: transfer to self")
	// ErrBalanceOverflow is returned when a credit would overflow a native balance.
	ErrBalanceOverflow = errors.New("system: native balance overflow")
)

// Allocation records that an address is in use by a program together with the
// deposit paid for it. The deposit is returned in full when the account closes.
type Allocation struct {
	Program string
	Payer   [20]byte
	Deposit uint64
}

// Clone returns a copy of the allocation.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

type engineState interface {
	NativeBalance(addr [20]byte) (uint64, error)
	SetNativeBalance(addr [20]byte, amount uint64) error
	AllocationGet(addr [20]byte) (*Allocation, bool, error)
	AllocationPut(addr [20]byte, alloc *Allocation) error
	AllocationDelete(addr [20]byte) error
}

// Engine allocates program accounts and moves the native balance used to pay
// for them.
type Engine struct {
	state engineState
}

// NewEngine creates a system engine. Callers must configure state via SetState.
func NewEngine() *Engine {
	return &Engine{}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// CreateAccount allocates addr on behalf of program, debiting deposit from the
// payer. Allocating an address that is already in use fails without charging
// the payer.
func (e *Engine) CreateAccount(payer, addr [20]byte, program string, deposit uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	program = strings.TrimSpace(program)
	if program == "" {
		return fmt.Errorf("system: program name required")
	}
	if _, exists, err := e.state.AllocationGet(addr); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %x", ErrAccountInUse, addr)
	}
	if err := e.debit(payer, deposit); err != nil {
		return err
	}
	return e.state.AllocationPut(addr, &Allocation{Program: program, Payer: payer, Deposit: deposit})
}

// CloseAccount releases addr and credits its deposit to recipient. The amount
// returned is the deposit that was refunded.
func (e *Engine) CloseAccount(addr, recipient [20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	alloc, exists, err := e.state.AllocationGet(addr)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %x", ErrAccountNotAllocated, addr)
	}
	if err := e.state.AllocationDelete(addr); err != nil {
		return 0, err
	}
	if err := e.Credit(recipient, alloc.Deposit); err != nil {
		return 0, err
	}
	return alloc.Deposit, nil
}

// Allocation returns the allocation recorded for addr, if any.
func (e *Engine) Allocation(addr [20]byte) (*Allocation, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.state.AllocationGet(addr)
}

// Transfer moves native balance between two addresses.
func (e *Engine) Transfer(from, to [20]byte, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("%w: %x", ErrSelfTransfer, from)
	}
	if err := e.debit(from, amount); err != nil {
		return err
	}
	return e.Credit(to, amount)
}

// Credit adds amount to the native balance of addr.
func (e *Engine) Credit(addr [20]byte, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	current, err := e.state.NativeBalance(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(current), uint256.NewInt(amount))
	if overflow || !sum.IsUint64() {
		return ErrBalanceOverflow
	}
	return e.state.SetNativeBalance(addr, sum.Uint64())
}

func (e *Engine) debit(addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	current, err := e.state.NativeBalance(addr)
	if err != nil {
		return err
	}
	if current < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientNative, current, amount)
	}
	return e.state.SetNativeBalance(addr, current-amount)
}
