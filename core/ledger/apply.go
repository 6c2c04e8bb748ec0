package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"escrowchain/core/types"
	"escrowchain/crypto"
	"escrowchain/native/escrow"
	"escrowchain/native/token"
)

// ApplyTransaction authenticates tx, checks the signer's nonce and runs the
// instruction it carries as one atomic operation. The nonce advances only when
// the instruction succeeds.
func (l *Ledger) ApplyTransaction(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidPayload)
	}
	if tx.ChainID != l.chainID {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChainIDMismatch, tx.ChainID, l.chainID)
	}
	signer, err := tx.Sender()
	if err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	op := Operation{Name: tx.Type.String(), Signer: signer, TxHash: common.BytesToHash(hash)}
	return l.Execute(ctx, op, func(p *Programs) error {
		nonce, err := p.State.Nonce(signer)
		if err != nil {
			return err
		}
		if tx.Nonce != nonce {
			return fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, tx.Nonce, nonce)
		}
		if err := dispatch(p, signer, tx); err != nil {
			return err
		}
		return p.State.SetNonce(signer, nonce+1)
	})
}

func dispatch(p *Programs, signer [20]byte, tx *types.Transaction) error {
	switch tx.Type {
	case types.TxTypeEscrowMake:
		var payload types.EscrowMakePayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		accts, err := makeAccounts(signer, payload)
		if err != nil {
			return err
		}
		_, err = p.Escrow.Make(accts, payload.Seed, payload.Deposit, payload.Receive)
		return err
	case types.TxTypeEscrowTake:
		var payload types.EscrowTakePayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		accts, err := takeAccounts(signer, payload)
		if err != nil {
			return err
		}
		_, err = p.Escrow.Take(accts)
		return err
	case types.TxTypeEscrowRefund:
		var payload types.EscrowRefundPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		accts, err := refundAccounts(signer, payload)
		if err != nil {
			return err
		}
		_, err = p.Escrow.Refund(accts)
		return err
	case types.TxTypeTokenTransfer:
		var payload types.TokenTransferPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		return transferTokens(p, signer, payload)
	case types.TxTypeCreateAccount:
		var payload types.CreateAccountPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		mint, err := requiredAddress("mint", payload.Mint)
		if err != nil {
			return err
		}
		owner, err := optionalAddress("owner", payload.Owner, signer)
		if err != nil {
			return err
		}
		if err := requireWallet(p, owner); err != nil {
			return err
		}
		_, err = p.Token.CreateAssociatedAccount(signer, owner, mint)
		return err
	case types.TxTypeNativeTransfer:
		var payload types.NativeTransferPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		to, err := requiredAddress("to", payload.To)
		if err != nil {
			return err
		}
		return p.System.Transfer(signer, to, payload.Amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
	}
}

func decode(tx *types.Transaction, out interface{}) error {
	if err := tx.DecodePayload(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func requiredAddress(field, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%w: %s required", ErrInvalidPayload, field)
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
	}
	return addr, nil
}

func optionalAddress(field, value string, fallback [20]byte) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return requiredAddress(field, value)
}

func makeAccounts(signer [20]byte, payload types.EscrowMakePayload) (escrow.MakeAccounts, error) {
	var accts escrow.MakeAccounts
	var err error
	accts.Maker = signer
	if accts.MintA, err = requiredAddress("mintA", payload.MintA); err != nil {
		return accts, err
	}
	if accts.MintB, err = requiredAddress("mintB", payload.MintB); err != nil {
		return accts, err
	}
	derived, _ := escrow.DeriveAddress(signer, payload.Seed)
	if accts.Escrow, err = optionalAddress("escrow", payload.Escrow, derived); err != nil {
		return accts, err
	}
	if accts.Vault, err = optionalAddress("vault", payload.Vault, escrow.VaultAddress(accts.Escrow, accts.MintA)); err != nil {
		return accts, err
	}
	if accts.MakerAtaA, err = optionalAddress("makerAtaA", payload.MakerAtaA, token.AssociatedAddress(signer, accts.MintA)); err != nil {
		return accts, err
	}
	return accts, nil
}

func takeAccounts(signer [20]byte, payload types.EscrowTakePayload) (escrow.TakeAccounts, error) {
	var accts escrow.TakeAccounts
	var err error
	accts.Taker = signer
	if accts.Maker, err = requiredAddress("maker", payload.Maker); err != nil {
		return accts, err
	}
	if accts.MintA, err = requiredAddress("mintA", payload.MintA); err != nil {
		return accts, err
	}
	if accts.MintB, err = requiredAddress("mintB", payload.MintB); err != nil {
		return accts, err
	}
	if accts.Escrow, err = requiredAddress("escrow", payload.Escrow); err != nil {
		return accts, err
	}
	if accts.Vault, err = optionalAddress("vault", payload.Vault, escrow.VaultAddress(accts.Escrow, accts.MintA)); err != nil {
		return accts, err
	}
	if accts.TakerAtaA, err = optionalAddress("takerAtaA", payload.TakerAtaA, token.AssociatedAddress(signer, accts.MintA)); err != nil {
		return accts, err
	}
	if accts.TakerAtaB, err = optionalAddress("takerAtaB", payload.TakerAtaB, token.AssociatedAddress(signer, accts.MintB)); err != nil {
		return accts, err
	}
	if accts.MakerAtaB, err = optionalAddress("makerAtaB", payload.MakerAtaB, token.AssociatedAddress(accts.Maker, accts.MintB)); err != nil {
		return accts, err
	}
	return accts, nil
}

func refundAccounts(signer [20]byte, payload types.EscrowRefundPayload) (escrow.RefundAccounts, error) {
	var accts escrow.RefundAccounts
	var err error
	accts.Maker = signer
	if accts.MintA, err = requiredAddress("mintA", payload.MintA); err != nil {
		return accts, err
	}
	if accts.Escrow, err = requiredAddress("escrow", payload.Escrow); err != nil {
		return accts, err
	}
	if accts.Vault, err = optionalAddress("vault", payload.Vault, escrow.VaultAddress(accts.Escrow, accts.MintA)); err != nil {
		return accts, err
	}
	if accts.MakerAtaA, err = optionalAddress("makerAtaA", payload.MakerAtaA, token.AssociatedAddress(signer, accts.MintA)); err != nil {
		return accts, err
	}
	return accts, nil
}

// transferTokens moves tokens to the recipient's associated account, creating
// it at the signer's expense when missing.
func transferTokens(p *Programs, signer [20]byte, payload types.TokenTransferPayload) error {
	mint, err := requiredAddress("mint", payload.Mint)
	if err != nil {
		return err
	}
	recipient, err := requiredAddress("to", payload.To)
	if err != nil {
		return err
	}
	from, err := optionalAddress("from", payload.From, token.AssociatedAddress(signer, mint))
	if err != nil {
		return err
	}
	if err := requireWallet(p, recipient); err != nil {
		return err
	}
	dest, _, err := p.Token.EnsureAssociatedAccount(signer, recipient, mint)
	if err != nil {
		return err
	}
	return p.Token.TransferChecked(from, dest.Address, mint, payload.Amount, payload.Decimals, signer)
}

// requireWallet rejects owners that are allocated program accounts. Holdings
// of escrow records and other program accounts move only through their
// program.
func requireWallet(p *Programs, owner [20]byte) error {
	alloc, ok, err := p.System.Allocation(owner)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %x belongs to %s", ErrProgramOwner, owner, alloc.Program)
	}
	return nil
}
