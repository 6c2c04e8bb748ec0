package ledger

import (
	"context"

	"escrowchain/core/journal"
	"escrowchain/native/escrow"
	"escrowchain/native/token"
)

// Escrow returns the open escrow record at addr.
func (l *Ledger) Escrow(addr [20]byte) (*escrow.Escrow, error) {
	var out *escrow.Escrow
	err := l.view(func(p *Programs) error {
		rec, err := p.Escrow.Get(addr)
		out = rec
		return err
	})
	return out, err
}

// TokenAccount returns the holding account at addr.
func (l *Ledger) TokenAccount(addr [20]byte) (*token.Account, error) {
	var out *token.Account
	err := l.view(func(p *Programs) error {
		account, err := p.Token.Account(addr)
		out = account
		return err
	})
	return out, err
}

// TokenBalance returns the balance of owner's associated account for mint.
func (l *Ledger) TokenBalance(owner, mint [20]byte) (uint64, error) {
	var out uint64
	err := l.view(func(p *Programs) error {
		bal, err := p.Token.Balance(owner, mint)
		out = bal
		return err
	})
	return out, err
}

// Mint returns the mint at addr.
func (l *Ledger) Mint(addr [20]byte) (*token.Mint, error) {
	var out *token.Mint
	err := l.view(func(p *Programs) error {
		mint, err := p.Token.Mint(addr)
		out = mint
		return err
	})
	return out, err
}

// Mints returns every registered mint.
func (l *Ledger) Mints() ([]*token.Mint, error) {
	var out []*token.Mint
	err := l.view(func(p *Programs) error {
		mints, err := p.State.Mints()
		out = mints
		return err
	})
	return out, err
}

// NativeBalance returns the native balance of addr.
func (l *Ledger) NativeBalance(addr [20]byte) (uint64, error) {
	var out uint64
	err := l.view(func(p *Programs) error {
		bal, err := p.State.NativeBalance(addr)
		out = bal
		return err
	})
	return out, err
}

// Nonce returns the next transaction nonce expected from addr.
func (l *Ledger) Nonce(addr [20]byte) (uint64, error) {
	var out uint64
	err := l.view(func(p *Programs) error {
		nonce, err := p.State.Nonce(addr)
		out = nonce
		return err
	})
	return out, err
}

// History returns up to limit committed operations starting at sequence
// number from. A non-positive limit returns every remaining entry.
func (l *Ledger) History(ctx context.Context, from uint64, limit int) ([]*journal.Entry, error) {
	l.mu.Lock()
	j := l.journal
	l.mu.Unlock()
	if j == nil {
		return nil, errClosed
	}
	if from == 0 {
		from = 1
	}
	return j.Entries(ctx, from, limit)
}
