package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowchain/core/events"
	"escrowchain/core/genesis"
	"escrowchain/core/journal"
	"escrowchain/core/types"
	"escrowchain/crypto"
	"escrowchain/native/escrow"
	"escrowchain/native/system"
	"escrowchain/native/token"
	"escrowchain/storage"
)

const testChainID = 7

var testDeposits = Deposits{EscrowRecord: 5, TokenAccount: 2}

type party struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

func (p party) bech32() string { return crypto.FromBytes20(p.addr).String() }

func newParty(t *testing.T) party {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return party{key: key, addr: key.PubKey().Address().Bytes20()}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

type fixture struct {
	ledger  *Ledger
	emitter *recordingEmitter
	issuer  party
	maker   party
	taker   party
	mintA   [20]byte
	mintB   [20]byte
}

func genesisDoc(t *testing.T, issuer, maker, taker party) *genesis.GenesisSpec {
	t.Helper()
	raw := fmt.Sprintf(`{
  "chainId": %d,
  "mints": [
    {"symbol": "AAA", "decimals": 6, "authority": %q},
    {"symbol": "BBB", "decimals": 2, "authority": %q}
  ],
  "native": {%q: "100", %q: "100"},
  "tokens": {%q: {"AAA": "1000"}, %q: {"BBB": "500"}}
}`, testChainID, issuer.bech32(), issuer.bech32(), maker.bech32(), taker.bech32(), maker.bech32(), taker.bech32())
	doc, err := genesis.ParseGenesisSpec([]byte(raw))
	require.NoError(t, err)
	return doc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j, err := journal.OpenMemory()
	require.NoError(t, err)
	emitter := &recordingEmitter{}
	l, err := New(storage.NewMemDB(), j,
		WithChainID(testChainID),
		WithDeposits(testDeposits),
		WithEmitter(emitter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	f := &fixture{
		ledger:  l,
		emitter: emitter,
		issuer:  newParty(t),
		maker:   newParty(t),
		taker:   newParty(t),
		mintA:   token.MintAddress("AAA"),
		mintB:   token.MintAddress("BBB"),
	}
	_, applied, err := l.ApplyGenesis(context.Background(), genesisDoc(t, f.issuer, f.maker, f.taker))
	require.NoError(t, err)
	require.True(t, applied)
	return f
}

func (f *fixture) send(t *testing.T, from party, txType types.TxType, payload interface{}) (*Receipt, error) {
	t.Helper()
	nonce, err := f.ledger.Nonce(from.addr)
	require.NoError(t, err)
	tx := &types.Transaction{ChainID: testChainID, Type: txType, Nonce: nonce}
	require.NoError(t, tx.SetPayload(payload))
	require.NoError(t, tx.Sign(from.key.PrivateKey))
	return f.ledger.ApplyTransaction(context.Background(), tx)
}

func (f *fixture) openEscrow(t *testing.T, seed, deposit, receive uint64) [20]byte {
	t.Helper()
	_, err := f.send(t, f.maker, types.TxTypeEscrowMake, types.EscrowMakePayload{
		MintA:   crypto.FromBytes20(f.mintA).String(),
		MintB:   crypto.FromBytes20(f.mintB).String(),
		Seed:    seed,
		Deposit: deposit,
		Receive: receive,
	})
	require.NoError(t, err)
	addr, _ := escrow.DeriveAddress(f.maker.addr, seed)
	return addr
}

func (f *fixture) takePayload(escrowAddr [20]byte) types.EscrowTakePayload {
	return types.EscrowTakePayload{
		Maker:  f.maker.bech32(),
		MintA:  crypto.FromBytes20(f.mintA).String(),
		MintB:  crypto.FromBytes20(f.mintB).String(),
		Escrow: crypto.FromBytes20(escrowAddr).String(),
	}
}

func (f *fixture) refundPayload(escrowAddr [20]byte) types.EscrowRefundPayload {
	return types.EscrowRefundPayload{
		MintA:  crypto.FromBytes20(f.mintA).String(),
		Escrow: crypto.FromBytes20(escrowAddr).String(),
	}
}

func (f *fixture) tokenBalance(t *testing.T, owner, mint [20]byte) uint64 {
	t.Helper()
	bal, err := f.ledger.TokenBalance(owner, mint)
	require.NoError(t, err)
	return bal
}

func (f *fixture) nativeBalance(t *testing.T, owner [20]byte) uint64 {
	t.Helper()
	bal, err := f.ledger.NativeBalance(owner)
	require.NoError(t, err)
	return bal
}

func TestGenesisSeedsBalances(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, uint64(1), f.ledger.Height())
	require.Equal(t, uint64(1000), f.tokenBalance(t, f.maker.addr, f.mintA))
	require.Equal(t, uint64(500), f.tokenBalance(t, f.taker.addr, f.mintB))
	require.Equal(t, uint64(100), f.nativeBalance(t, f.maker.addr))

	mints, err := f.ledger.Mints()
	require.NoError(t, err)
	require.Len(t, mints, 2)

	_, applied, err := f.ledger.ApplyGenesis(context.Background(), genesisDoc(t, f.issuer, f.maker, f.taker))
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, uint64(1), f.ledger.Height())
}

func TestMakeThenTake(t *testing.T) {
	f := newFixture(t)
	escrowAddr := f.openEscrow(t, 42, 300, 150)

	rec, err := f.ledger.Escrow(escrowAddr)
	require.NoError(t, err)
	require.Equal(t, f.maker.addr, rec.Maker)
	require.Equal(t, uint64(150), rec.Receive)
	vault, err := f.ledger.TokenAccount(escrow.VaultAddress(escrowAddr, f.mintA))
	require.NoError(t, err)
	require.Equal(t, uint64(300), vault.Amount)
	require.Equal(t, escrowAddr, vault.Owner)
	require.Equal(t, uint64(700), f.tokenBalance(t, f.maker.addr, f.mintA))
	require.Equal(t, uint64(100-5-2), f.nativeBalance(t, f.maker.addr))

	receipt, err := f.send(t, f.taker, types.TxTypeEscrowTake, f.takePayload(escrowAddr))
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, escrow.EventTypeEscrowTaken, receipt.Events[0].Type)
	require.Equal(t, "300", receipt.Events[0].Attributes["amount"])

	require.Equal(t, uint64(300), f.tokenBalance(t, f.taker.addr, f.mintA))
	require.Equal(t, uint64(350), f.tokenBalance(t, f.taker.addr, f.mintB))
	require.Equal(t, uint64(150), f.tokenBalance(t, f.maker.addr, f.mintB))
	// Maker recovers record and vault deposits; the taker funded the two new
	// associated accounts.
	require.Equal(t, uint64(100), f.nativeBalance(t, f.maker.addr))
	require.Equal(t, uint64(100-2-2), f.nativeBalance(t, f.taker.addr))

	_, err = f.ledger.Escrow(escrowAddr)
	require.ErrorIs(t, err, escrow.ErrEscrowNotFound)
	_, err = f.ledger.TokenAccount(escrow.VaultAddress(escrowAddr, f.mintA))
	require.ErrorIs(t, err, token.ErrAccountNotFound)
	require.Equal(t, []string{escrow.EventTypeEscrowMade, escrow.EventTypeEscrowTaken}, f.emitter.types())
}

func TestRefundReturnsDeposit(t *testing.T) {
	f := newFixture(t)
	escrowAddr := f.openEscrow(t, 1, 400, 10)

	_, err := f.send(t, f.taker, types.TxTypeEscrowRefund, f.refundPayload(escrowAddr))
	require.Error(t, err)
	require.Equal(t, escrow.ClassAuthorization, Classify(err))

	_, err = f.send(t, f.maker, types.TxTypeEscrowRefund, f.refundPayload(escrowAddr))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), f.tokenBalance(t, f.maker.addr, f.mintA))
	require.Equal(t, uint64(100), f.nativeBalance(t, f.maker.addr))

	_, err = f.send(t, f.taker, types.TxTypeEscrowTake, f.takePayload(escrowAddr))
	require.ErrorIs(t, err, escrow.ErrEscrowNotFound)
	require.Equal(t, escrow.ClassState, Classify(err))
}

func TestFailedOperationLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	escrowAddr := f.openEscrow(t, 9, 100, 10_000)
	root := f.ledger.Root()
	height := f.ledger.Height()
	takerNonce, err := f.ledger.Nonce(f.taker.addr)
	require.NoError(t, err)

	_, err = f.send(t, f.taker, types.TxTypeEscrowTake, f.takePayload(escrowAddr))
	require.ErrorIs(t, err, token.ErrInsufficientFunds)
	require.Equal(t, escrow.ClassBalance, Classify(err))

	require.Equal(t, root, f.ledger.Root())
	require.Equal(t, height, f.ledger.Height())
	nonce, err := f.ledger.Nonce(f.taker.addr)
	require.NoError(t, err)
	require.Equal(t, takerNonce, nonce)
	_, err = f.ledger.Escrow(escrowAddr)
	require.NoError(t, err)
}

func TestTakeAndRefundRace(t *testing.T) {
	f := newFixture(t)
	escrowAddr := f.openEscrow(t, 3, 200, 20)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tx := &types.Transaction{ChainID: testChainID, Type: types.TxTypeEscrowTake, Nonce: 0}
		_ = tx.SetPayload(f.takePayload(escrowAddr))
		_ = tx.Sign(f.taker.key.PrivateKey)
		_, results[0] = f.ledger.ApplyTransaction(context.Background(), tx)
	}()
	go func() {
		defer wg.Done()
		tx := &types.Transaction{ChainID: testChainID, Type: types.TxTypeEscrowRefund, Nonce: 1}
		_ = tx.SetPayload(f.refundPayload(escrowAddr))
		_ = tx.Sign(f.maker.key.PrivateKey)
		_, results[1] = f.ledger.ApplyTransaction(context.Background(), tx)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, escrow.ErrEscrowNotFound)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, uint64(1000), f.tokenBalance(t, f.maker.addr, f.mintA)+f.tokenBalance(t, f.taker.addr, f.mintA))
}

func TestNonceAndChainChecks(t *testing.T) {
	f := newFixture(t)
	tx := &types.Transaction{ChainID: testChainID, Type: types.TxTypeNativeTransfer, Nonce: 0}
	require.NoError(t, tx.SetPayload(types.NativeTransferPayload{To: f.taker.bech32(), Amount: 10}))
	require.NoError(t, tx.Sign(f.maker.key.PrivateKey))

	_, err := f.ledger.ApplyTransaction(context.Background(), tx)
	require.NoError(t, err)
	_, err = f.ledger.ApplyTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrNonceMismatch)
	require.Equal(t, uint64(110), f.nativeBalance(t, f.taker.addr))

	foreign := &types.Transaction{ChainID: testChainID + 1, Type: types.TxTypeNativeTransfer, Nonce: 1}
	require.NoError(t, foreign.SetPayload(types.NativeTransferPayload{To: f.taker.bech32(), Amount: 1}))
	require.NoError(t, foreign.Sign(f.maker.key.PrivateKey))
	_, err = f.ledger.ApplyTransaction(context.Background(), foreign)
	require.ErrorIs(t, err, ErrChainIDMismatch)

	unsigned := &types.Transaction{ChainID: testChainID, Type: types.TxTypeNativeTransfer}
	_, err = f.ledger.ApplyTransaction(context.Background(), unsigned)
	require.ErrorIs(t, err, types.ErrMissingSignature)
	require.Equal(t, escrow.ClassAuthorization, Classify(err))

	unknown := &types.Transaction{ChainID: testChainID, Type: types.TxType(0x7f), Nonce: 1}
	require.NoError(t, unknown.Sign(f.maker.key.PrivateKey))
	_, err = f.ledger.ApplyTransaction(context.Background(), unknown)
	require.ErrorIs(t, err, ErrUnknownTxType)
}

func TestTokenTransferCreatesRecipientAccount(t *testing.T) {
	f := newFixture(t)
	recipient := newParty(t)
	_, err := f.send(t, f.maker, types.TxTypeTokenTransfer, types.TokenTransferPayload{
		Mint:     crypto.FromBytes20(f.mintA).String(),
		To:       recipient.bech32(),
		Amount:   25,
		Decimals: 6,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(25), f.tokenBalance(t, recipient.addr, f.mintA))
	require.Equal(t, uint64(100-2), f.nativeBalance(t, f.maker.addr))

	_, err = f.send(t, f.maker, types.TxTypeTokenTransfer, types.TokenTransferPayload{
		Mint:     crypto.FromBytes20(f.mintA).String(),
		To:       recipient.bech32(),
		Amount:   1,
		Decimals: 2,
	})
	require.ErrorIs(t, err, token.ErrDecimalsMismatch)
	require.Equal(t, escrow.ClassAsset, Classify(err))
}

func TestProgramAccountsCannotBeFunded(t *testing.T) {
	f := newFixture(t)
	escrowAddr := f.openEscrow(t, 9, 100, 10)
	vaultAddr := escrow.VaultAddress(escrowAddr, f.mintA)
	root := f.ledger.Root()

	_, err := f.send(t, f.taker, types.TxTypeTokenTransfer, types.TokenTransferPayload{
		Mint:     crypto.FromBytes20(f.mintB).String(),
		To:       crypto.FromBytes20(escrowAddr).String(),
		Amount:   7,
		Decimals: 2,
	})
	require.ErrorIs(t, err, ErrProgramOwner)
	require.Equal(t, escrow.ClassAuthorization, Classify(err))

	_, err = f.send(t, f.maker, types.TxTypeTokenTransfer, types.TokenTransferPayload{
		Mint:     crypto.FromBytes20(f.mintA).String(),
		To:       crypto.FromBytes20(vaultAddr).String(),
		Amount:   7,
		Decimals: 6,
	})
	require.ErrorIs(t, err, ErrProgramOwner)

	_, err = f.send(t, f.taker, types.TxTypeCreateAccount, types.CreateAccountPayload{
		Owner: crypto.FromBytes20(escrowAddr).String(),
		Mint:  crypto.FromBytes20(f.mintB).String(),
	})
	require.ErrorIs(t, err, ErrProgramOwner)

	require.Equal(t, root, f.ledger.Root())
	vault, err := f.ledger.TokenAccount(vaultAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(100), vault.Amount)
}

func TestUserInputMistakesClassifyAsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, f.maker, types.TxTypeNativeTransfer, types.NativeTransferPayload{
		To:     f.maker.bech32(),
		Amount: 1,
	})
	require.ErrorIs(t, err, system.ErrSelfTransfer)
	require.Equal(t, escrow.ClassInvalid, Classify(err))
}

func TestHistoryListsCommittedOperations(t *testing.T) {
	f := newFixture(t)
	escrowAddr := f.openEscrow(t, 3, 10, 1)
	_, err := f.send(t, f.maker, types.TxTypeEscrowRefund, f.refundPayload(escrowAddr))
	require.NoError(t, err)

	entries, err := f.ledger.History(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "genesis", entries[0].Op)
	require.Equal(t, types.TxTypeEscrowMake.String(), entries[1].Op)
	require.Equal(t, f.maker.addr, entries[1].Signer)
	require.Equal(t, types.TxTypeEscrowRefund.String(), entries[2].Op)
	require.Equal(t, [32]byte(f.ledger.Root()), entries[2].Root)

	page, err := f.ledger.History(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Seq)
}

func TestInvalidPayloadRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, f.maker, types.TxTypeEscrowMake, types.EscrowMakePayload{MintA: "not-an-address"})
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.Equal(t, escrow.ClassInvalid, Classify(err))
}

func TestLedgerResumesFromJournal(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(filepath.Join(dir, "state"))
	require.NoError(t, err)
	j, err := journal.Open(filepath.Join(dir, "journal"))
	require.NoError(t, err)

	issuer, maker, taker := newParty(t), newParty(t), newParty(t)
	l, err := New(db, j, WithChainID(testChainID), WithDeposits(testDeposits))
	require.NoError(t, err)
	_, _, err = l.ApplyGenesis(context.Background(), genesisDoc(t, issuer, maker, taker))
	require.NoError(t, err)

	tx := &types.Transaction{ChainID: testChainID, Type: types.TxTypeEscrowMake}
	require.NoError(t, tx.SetPayload(types.EscrowMakePayload{
		MintA:   crypto.FromBytes20(token.MintAddress("AAA")).String(),
		MintB:   crypto.FromBytes20(token.MintAddress("BBB")).String(),
		Seed:    11,
		Deposit: 50,
		Receive: 5,
	}))
	require.NoError(t, tx.Sign(maker.key.PrivateKey))
	receipt, err := l.ApplyTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	db.Close()

	db, err = storage.NewLevelDB(filepath.Join(dir, "state"))
	require.NoError(t, err)
	defer db.Close()
	j, err = journal.Open(filepath.Join(dir, "journal"))
	require.NoError(t, err)
	reopened, err := New(db, j, WithChainID(testChainID), WithDeposits(testDeposits))
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, receipt.Seq, reopened.Height())
	require.Equal(t, receipt.Root, reopened.Root())
	escrowAddr, _ := escrow.DeriveAddress(maker.addr, 11)
	rec, err := reopened.Escrow(escrowAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), rec.Receive)
	nonce, err := reopened.Nonce(maker.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestClosedLedgerRejectsOperations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Close())
	_, err := f.ledger.Execute(context.Background(), Operation{Name: "noop"}, func(*Programs) error { return nil })
	require.ErrorIs(t, err, errClosed)
}
