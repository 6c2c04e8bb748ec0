package escrow

import (
	"errors"
	"fmt"

	"escrowchain/core/events"
	"escrowchain/core/types"
	"escrowchain/native/system"
	"escrowchain/native/token"
)

type engineState interface {
	EscrowGet(addr [20]byte) (*Escrow, bool, error)
	EscrowPut(e *Escrow) error
	EscrowDelete(addr [20]byte) error
}

type tokenProgram interface {
	Mint(addr [20]byte) (*token.Mint, error)
	Account(addr [20]byte) (*token.Account, error)
	CreateAssociatedAccount(payer, owner, mint [20]byte) (*token.Account, error)
	EnsureAssociatedAccount(payer, owner, mint [20]byte) (*token.Account, bool, error)
	TransferChecked(from, to, mint [20]byte, amount uint64, decimals uint8, authority [20]byte) error
	CloseAccount(addr, destination, authority [20]byte) (uint64, error)
}

// MakeAccounts lists the accounts touched by Make. Escrow and Vault must be
// the canonical derived addresses.
type MakeAccounts struct {
	Maker     [20]byte
	MintA     [20]byte
	MintB     [20]byte
	MakerAtaA [20]byte
	Escrow    [20]byte
	Vault     [20]byte
}

// RefundAccounts lists the accounts touched by Refund.
type RefundAccounts struct {
	Maker     [20]byte
	MintA     [20]byte
	MakerAtaA [20]byte
	Escrow    [20]byte
	Vault     [20]byte
}

// TakeAccounts lists the accounts touched by Take. TakerAtaA and MakerAtaB
// must be the associated accounts of the taker and maker; they are created at
// the taker's expense when missing.
type TakeAccounts struct {
	Taker     [20]byte
	Maker     [20]byte
	MintA     [20]byte
	MintB     [20]byte
	TakerAtaA [20]byte
	TakerAtaB [20]byte
	MakerAtaB [20]byte
	Escrow    [20]byte
	Vault     [20]byte
}

// Engine implements the escrow program on top of the token program and the
// system allocator.
type Engine struct {
	state         engineState
	tokens        tokenProgram
	allocator     token.Allocator
	emitter       events.Emitter
	recordDeposit uint64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers must wire
// state, the token program and the allocator before use.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenProgram configures the token program used for vault custody.
func (e *Engine) SetTokenProgram(tokens tokenProgram) { e.tokens = tokens }

// SetAllocator configures the allocator that reserves record addresses.
func (e *Engine) SetAllocator(allocator token.Allocator) { e.allocator = allocator }

// SetRecordDeposit configures the deposit charged for each escrow record.
func (e *Engine) SetRecordDeposit(deposit uint64) { e.recordDeposit = deposit }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.allocator == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilToken
	}
	return nil
}

// Get returns the live record stored at addr.
func (e *Engine) Get(addr [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, ok, err := e.state.EscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrEscrowNotFound, addr)
	}
	return rec, nil
}

// Make opens an escrow: it allocates the record and its vault, then moves
// deposit units of MintA from the maker into the vault. The maker pays both
// account deposits. A vault that already exists empty at the derived address
// is adopted; its deposit returns to the maker when the escrow closes.
func (e *Engine) Make(accts MakeAccounts, seed, deposit, receive uint64) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if deposit == 0 {
		return nil, ErrInvalidAmount
	}
	addr, proof := DeriveAddress(accts.Maker, seed)
	if accts.Escrow != addr {
		return nil, fmt.Errorf("%w: escrow %x, derived %x", ErrAddressMismatch, accts.Escrow, addr)
	}
	if vault := VaultAddress(addr, accts.MintA); accts.Vault != vault {
		return nil, fmt.Errorf("%w: vault %x, derived %x", ErrAddressMismatch, accts.Vault, vault)
	}
	mintA, err := e.tokens.Mint(accts.MintA)
	if err != nil {
		return nil, err
	}
	if _, err := e.tokens.Mint(accts.MintB); err != nil {
		return nil, err
	}
	source, err := e.tokens.Account(accts.MakerAtaA)
	if err != nil {
		return nil, err
	}
	if source.Mint != accts.MintA {
		return nil, fmt.Errorf("%w: maker account %x", token.ErrMintMismatch, accts.MakerAtaA)
	}
	if source.Owner != accts.Maker {
		return nil, fmt.Errorf("%w: maker account %x", token.ErrOwnerMismatch, accts.MakerAtaA)
	}
	if source.Amount < deposit {
		return nil, fmt.Errorf("%w: have %d, need %d", token.ErrInsufficientFunds, source.Amount, deposit)
	}
	if _, exists, err := e.state.EscrowGet(addr); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: escrow %x", system.ErrAccountInUse, addr)
	}
	switch existing, err := e.tokens.Account(accts.Vault); {
	case errors.Is(err, token.ErrAccountNotFound):
	case err != nil:
		return nil, err
	case existing.Amount != 0:
		return nil, fmt.Errorf("%w: vault %x holds %d", ErrVaultNotEmpty, accts.Vault, existing.Amount)
	}

	if err := e.allocator.CreateAccount(accts.Maker, addr, ProgramName, e.recordDeposit); err != nil {
		return nil, err
	}
	rec := &Escrow{
		Address: addr,
		Seed:    seed,
		Maker:   accts.Maker,
		MintA:   accts.MintA,
		MintB:   accts.MintB,
		Receive: receive,
		Proof:   proof,
	}
	if err := e.state.EscrowPut(rec); err != nil {
		return nil, err
	}
	if _, _, err := e.tokens.EnsureAssociatedAccount(accts.Maker, addr, accts.MintA); err != nil {
		return nil, err
	}
	if err := e.tokens.TransferChecked(accts.MakerAtaA, accts.Vault, accts.MintA, deposit, mintA.Decimals, accts.Maker); err != nil {
		return nil, err
	}
	e.emit(NewMadeEvent(rec, deposit))
	return rec.Clone(), nil
}

// Refund closes an open escrow on behalf of its maker, returning the vault
// balance and both account deposits to the maker.
func (e *Engine) Refund(accts RefundAccounts) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	auth, err := e.authorize(accts.Escrow, accts.MintA, accts.Vault)
	if err != nil {
		return 0, err
	}
	rec := auth.record
	if rec.Maker != accts.Maker {
		return 0, fmt.Errorf("%w: signer %x is not maker of %x", ErrUnauthorized, accts.Maker, rec.Address)
	}
	if want := token.AssociatedAddress(rec.Maker, rec.MintA); accts.MakerAtaA != want {
		return 0, fmt.Errorf("%w: maker account %x, derived %x", ErrAddressMismatch, accts.MakerAtaA, want)
	}
	amount := auth.vault.Amount
	if err := auth.release(accts.MakerAtaA); err != nil {
		return 0, err
	}
	if err := e.close(auth); err != nil {
		return 0, err
	}
	e.emit(NewRefundedEvent(rec, amount))
	return amount, nil
}

// Take fulfils an open escrow: the taker pays Receive units of MintB to the
// maker and receives the full vault balance. Both legs commit together or not
// at all under the enclosing ledger operation.
func (e *Engine) Take(accts TakeAccounts) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	auth, err := e.authorize(accts.Escrow, accts.MintA, accts.Vault)
	if err != nil {
		return 0, err
	}
	rec := auth.record
	if rec.Maker != accts.Maker {
		return 0, fmt.Errorf("%w: maker %x does not own %x", ErrAddressMismatch, accts.Maker, rec.Address)
	}
	if rec.MintB != accts.MintB {
		return 0, fmt.Errorf("%w: recorded mintB %x, presented %x", ErrMintMismatch, rec.MintB, accts.MintB)
	}
	if want := token.AssociatedAddress(accts.Taker, rec.MintA); accts.TakerAtaA != want {
		return 0, fmt.Errorf("%w: taker account %x, derived %x", ErrAddressMismatch, accts.TakerAtaA, want)
	}
	if want := token.AssociatedAddress(rec.Maker, rec.MintB); accts.MakerAtaB != want {
		return 0, fmt.Errorf("%w: maker account %x, derived %x", ErrAddressMismatch, accts.MakerAtaB, want)
	}
	mintB, err := e.tokens.Mint(rec.MintB)
	if err != nil {
		return 0, err
	}
	payer, err := e.tokens.Account(accts.TakerAtaB)
	if err != nil {
		return 0, err
	}
	if payer.Mint != rec.MintB {
		return 0, fmt.Errorf("%w: taker account %x", token.ErrMintMismatch, accts.TakerAtaB)
	}
	if payer.Owner != accts.Taker {
		return 0, fmt.Errorf("%w: taker account %x", token.ErrOwnerMismatch, accts.TakerAtaB)
	}
	if payer.Amount < rec.Receive {
		return 0, fmt.Errorf("%w: have %d, need %d", token.ErrInsufficientFunds, payer.Amount, rec.Receive)
	}

	if _, _, err := e.tokens.EnsureAssociatedAccount(accts.Taker, accts.Taker, rec.MintA); err != nil {
		return 0, err
	}
	if _, _, err := e.tokens.EnsureAssociatedAccount(accts.Taker, rec.Maker, rec.MintB); err != nil {
		return 0, err
	}
	if err := e.tokens.TransferChecked(accts.TakerAtaB, accts.MakerAtaB, rec.MintB, rec.Receive, mintB.Decimals, accts.Taker); err != nil {
		return 0, err
	}
	amount := auth.vault.Amount
	if err := auth.release(accts.TakerAtaA); err != nil {
		return 0, err
	}
	if err := e.close(auth); err != nil {
		return 0, err
	}
	e.emit(NewTakenEvent(rec, accts.Taker, amount))
	return amount, nil
}

// vaultAuthority is the capability to move funds out of a vault. It is only
// produced by authorize after the record/vault pair has been re-derived, so
// neither party's key can act on the vault directly.
type vaultAuthority struct {
	tokens   tokenProgram
	record   *Escrow
	vault    *token.Account
	decimals uint8
}

func (a *vaultAuthority) release(destination [20]byte) error {
	return a.tokens.TransferChecked(a.vault.Address, destination, a.record.MintA, a.vault.Amount, a.decimals, a.record.Address)
}

// authorize loads the record at escrowAddr and checks that the presented
// mint and vault are the ones it derives.
func (e *Engine) authorize(escrowAddr, mintA, vaultAddr [20]byte) (*vaultAuthority, error) {
	rec, err := e.Get(escrowAddr)
	if err != nil {
		return nil, err
	}
	if err := VerifyDerivation(rec); err != nil {
		return nil, err
	}
	if rec.MintA != mintA {
		return nil, fmt.Errorf("%w: recorded mintA %x, presented %x", ErrMintMismatch, rec.MintA, mintA)
	}
	if want := VaultAddress(rec.Address, rec.MintA); vaultAddr != want {
		return nil, fmt.Errorf("%w: vault %x, derived %x", ErrAddressMismatch, vaultAddr, want)
	}
	vault, err := e.tokens.Account(vaultAddr)
	if err != nil {
		return nil, err
	}
	if vault.Mint != rec.MintA {
		return nil, fmt.Errorf("%w: vault holds %x", ErrMintMismatch, vault.Mint)
	}
	if vault.Owner != rec.Address {
		return nil, fmt.Errorf("%w: vault %x not held by record", ErrUnauthorized, vaultAddr)
	}
	if vault.Amount == 0 {
		return nil, ErrEmptyVault
	}
	mint, err := e.tokens.Mint(rec.MintA)
	if err != nil {
		return nil, err
	}
	return &vaultAuthority{tokens: e.tokens, record: rec, vault: vault, decimals: mint.Decimals}, nil
}

// close releases the vault and the record, returning both deposits to the
// maker.
func (e *Engine) close(auth *vaultAuthority) error {
	rec := auth.record
	if _, err := e.tokens.CloseAccount(auth.vault.Address, rec.Maker, rec.Address); err != nil {
		return err
	}
	if err := e.state.EscrowDelete(rec.Address); err != nil {
		return err
	}
	_, err := e.allocator.CloseAccount(rec.Address, rec.Maker)
	return err
}
