package ledger

import (
	"context"
	"fmt"

	"escrowchain/core/genesis"
	"escrowchain/native/token"
)

// ApplyGenesis seeds an empty ledger from doc. It is a no-op returning false
// once any operation has been committed. Genesis accounts are allocated without
// deposits.
func (l *Ledger) ApplyGenesis(ctx context.Context, doc *genesis.GenesisSpec) (*Receipt, bool, error) {
	if doc == nil {
		return nil, false, fmt.Errorf("ledger: genesis document must not be nil")
	}
	if doc.ChainID != 0 && doc.ChainID != l.chainID {
		return nil, false, fmt.Errorf("%w: genesis %d, ledger %d", ErrChainIDMismatch, doc.ChainID, l.chainID)
	}
	if l.Height() > 0 {
		return nil, false, nil
	}
	receipt, err := l.run(ctx, Operation{Name: "genesis"}, Deposits{}, func(p *Programs) error {
		for _, alloc := range doc.NativeAllocations() {
			if err := p.System.Credit(alloc.Address, alloc.Amount); err != nil {
				return fmt.Errorf("genesis native %x: %w", alloc.Address, err)
			}
		}
		authorities := make(map[string][20]byte)
		for _, mint := range doc.ResolvedMints() {
			if _, err := p.Token.InitializeMint(mint.Authority, mint.Symbol, mint.Decimals, mint.Authority); err != nil {
				return fmt.Errorf("genesis mint %s: %w", mint.Symbol, err)
			}
			authorities[mint.Symbol] = mint.Authority
		}
		for _, alloc := range doc.TokenAllocations() {
			mint := token.MintAddress(alloc.Symbol)
			account, _, err := p.Token.EnsureAssociatedAccount(alloc.Owner, alloc.Owner, mint)
			if err != nil {
				return fmt.Errorf("genesis account %x %s: %w", alloc.Owner, alloc.Symbol, err)
			}
			if err := p.Token.MintTo(mint, account.Address, alloc.Amount, authorities[alloc.Symbol]); err != nil {
				return fmt.Errorf("genesis balance %x %s: %w", alloc.Owner, alloc.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return receipt, true, nil
}
