package token

import (
	"errors"
	"math"
	"testing"
)

type mockState struct {
	mints    map[[20]byte]*Mint
	accounts map[[20]byte]*Account
}

func newMockState() *mockState {
	return &mockState{
		mints:    make(map[[20]byte]*Mint),
		accounts: make(map[[20]byte]*Account),
	}
}

func (m *mockState) MintGet(addr [20]byte) (*Mint, bool, error) {
	mint, ok := m.mints[addr]
	if !ok {
		return nil, false, nil
	}
	return mint.Clone(), true, nil
}

func (m *mockState) MintPut(mint *Mint) error {
	m.mints[mint.Address] = mint.Clone()
	return nil
}

func (m *mockState) TokenAccountGet(addr [20]byte) (*Account, bool, error) {
	account, ok := m.accounts[addr]
	if !ok {
		return nil, false, nil
	}
	return account.Clone(), true, nil
}

func (m *mockState) TokenAccountPut(account *Account) error {
	m.accounts[account.Address] = account.Clone()
	return nil
}

func (m *mockState) TokenAccountDelete(addr [20]byte) error {
	delete(m.accounts, addr)
	return nil
}

var errAllocated = errors.New("allocated")

type mockAllocator struct {
	deposits map[[20]byte]uint64
	refunds  map[[20]byte]uint64
}

func newMockAllocator() *mockAllocator {
	return &mockAllocator{deposits: make(map[[20]byte]uint64), refunds: make(map[[20]byte]uint64)}
}

func (a *mockAllocator) CreateAccount(_, addr [20]byte, _ string, deposit uint64) error {
	if _, ok := a.deposits[addr]; ok {
		return errAllocated
	}
	a.deposits[addr] = deposit
	return nil
}

func (a *mockAllocator) CloseAccount(addr, recipient [20]byte) (uint64, error) {
	deposit := a.deposits[addr]
	delete(a.deposits, addr)
	a.refunds[recipient] += deposit
	return deposit, nil
}

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

type fixture struct {
	engine    *Engine
	state     *mockState
	allocator *mockAllocator
	mint      *Mint
	authority [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	allocator := newMockAllocator()
	engine := NewEngine()
	engine.SetState(state)
	engine.SetAllocator(allocator)
	engine.SetDeposits(Deposits{Mint: 10, Account: 2})
	authority := addr(0xAA)
	mint, err := engine.InitializeMint(authority, "usdc", 6, authority)
	if err != nil {
		t.Fatalf("initialize mint: %v", err)
	}
	return &fixture{engine: engine, state: state, allocator: allocator, mint: mint, authority: authority}
}

func (f *fixture) fund(t *testing.T, owner [20]byte, amount uint64) [20]byte {
	t.Helper()
	account, _, err := f.engine.EnsureAssociatedAccount(owner, owner, f.mint.Address)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if amount > 0 {
		if err := f.engine.MintTo(f.mint.Address, account.Address, amount, f.authority); err != nil {
			t.Fatalf("mint to: %v", err)
		}
	}
	return account.Address
}

func TestInitializeMintDerivesAddress(t *testing.T) {
	f := newFixture(t)
	if f.mint.Address != MintAddress("USDC") {
		t.Fatalf("mint address not derived from symbol")
	}
	if f.mint.Symbol != "USDC" || f.mint.Decimals != 6 {
		t.Fatalf("unexpected mint %+v", f.mint)
	}
	if f.allocator.deposits[f.mint.Address] != 10 {
		t.Fatalf("expected mint deposit to be charged")
	}
	if _, err := f.engine.InitializeMint(f.authority, " USDC ", 6, f.authority); !errors.Is(err, errAllocated) {
		t.Fatalf("expected allocation failure for duplicate mint, got %v", err)
	}
}

func TestEnsureAssociatedAccountIsIdempotent(t *testing.T) {
	f := newFixture(t)
	owner := addr(0x01)
	first, created, err := f.engine.EnsureAssociatedAccount(owner, owner, f.mint.Address)
	if err != nil || !created {
		t.Fatalf("expected account creation, created=%v err=%v", created, err)
	}
	second, created, err := f.engine.EnsureAssociatedAccount(owner, owner, f.mint.Address)
	if err != nil || created {
		t.Fatalf("expected existing account, created=%v err=%v", created, err)
	}
	if first.Address != second.Address || first.Address != AssociatedAddress(owner, f.mint.Address) {
		t.Fatalf("associated address mismatch")
	}
}

func TestCreateAssociatedAccountUnknownMint(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateAssociatedAccount(addr(1), addr(1), MintAddress("NOPE"))
	if !errors.Is(err, ErrMintNotFound) {
		t.Fatalf("expected ErrMintNotFound, got %v", err)
	}
}

func TestTransferChecked(t *testing.T) {
	f := newFixture(t)
	alice := addr(0x01)
	bob := addr(0x02)
	from := f.fund(t, alice, 100)
	to := f.fund(t, bob, 0)

	if err := f.engine.TransferChecked(from, to, f.mint.Address, 40, 6, alice); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := f.engine.Balance(alice, f.mint.Address); bal != 60 {
		t.Fatalf("expected alice balance 60, got %d", bal)
	}
	if bal, _ := f.engine.Balance(bob, f.mint.Address); bal != 40 {
		t.Fatalf("expected bob balance 40, got %d", bal)
	}
}

func TestTransferCheckedFailures(t *testing.T) {
	f := newFixture(t)
	alice := addr(0x01)
	bob := addr(0x02)
	from := f.fund(t, alice, 100)
	to := f.fund(t, bob, 0)

	other, err := f.engine.InitializeMint(f.authority, "EURC", 6, f.authority)
	if err != nil {
		t.Fatalf("initialize second mint: %v", err)
	}
	otherAccount, err := f.engine.CreateAssociatedAccount(bob, bob, other.Address)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	tests := []struct {
		name      string
		to        [20]byte
		mint      [20]byte
		amount    uint64
		decimals  uint8
		authority [20]byte
		want      error
	}{
		{name: "insufficient", to: to, mint: f.mint.Address, amount: 101, decimals: 6, authority: alice, want: ErrInsufficientFunds},
		{name: "wrong authority", to: to, mint: f.mint.Address, amount: 1, decimals: 6, authority: bob, want: ErrOwnerMismatch},
		{name: "wrong decimals", to: to, mint: f.mint.Address, amount: 1, decimals: 9, authority: alice, want: ErrDecimalsMismatch},
		{name: "destination mint", to: otherAccount.Address, mint: f.mint.Address, amount: 1, decimals: 6, authority: alice, want: ErrMintMismatch},
		{name: "source mint", to: otherAccount.Address, mint: other.Address, amount: 1, decimals: 6, authority: alice, want: ErrMintMismatch},
		{name: "missing destination", to: addr(0x77), mint: f.mint.Address, amount: 1, decimals: 6, authority: alice, want: ErrAccountNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.engine.TransferChecked(from, tc.to, tc.mint, tc.amount, tc.decimals, tc.authority)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if bal, _ := f.engine.Balance(alice, f.mint.Address); bal != 100 {
				t.Fatalf("balance changed on failure: %d", bal)
			}
		})
	}
}

func TestTransferCheckedOverflow(t *testing.T) {
	f := newFixture(t)
	alice := addr(0x01)
	bob := addr(0x02)
	from := f.fund(t, alice, 10)
	to := f.fund(t, bob, 0)
	f.state.accounts[to].Amount = math.MaxUint64

	if err := f.engine.TransferChecked(from, to, f.mint.Address, 1, 6, alice); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestMintToRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	account := f.fund(t, addr(0x01), 0)
	if err := f.engine.MintTo(f.mint.Address, account, 5, addr(0x01)); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}
}

func TestCloseAccount(t *testing.T) {
	f := newFixture(t)
	alice := addr(0x01)
	account := f.fund(t, alice, 5)

	if _, err := f.engine.CloseAccount(account, alice, alice); !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("expected ErrNonZeroBalance, got %v", err)
	}
	if err := f.engine.TransferChecked(account, f.fund(t, addr(0x02), 0), f.mint.Address, 5, 6, alice); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if _, err := f.engine.CloseAccount(account, alice, addr(0x02)); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}
	refunded, err := f.engine.CloseAccount(account, alice, alice)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if refunded != 2 || f.allocator.refunds[alice] != 2 {
		t.Fatalf("expected deposit refund of 2, got %d", refunded)
	}
	if _, err := f.engine.Account(account); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account removed, got %v", err)
	}
}
