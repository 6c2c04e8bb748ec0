package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"escrowchain/core/events"
	"escrowchain/core/journal"
	"escrowchain/core/state"
	"escrowchain/core/types"
	"escrowchain/native/escrow"
	"escrowchain/native/system"
	"escrowchain/native/token"
	"escrowchain/observability"
	"escrowchain/storage"
	"escrowchain/storage/trie"
)

const instrumentationName = "escrowchain/core/ledger"

// Deposits configures the native deposits charged for program accounts. All
// deposits are returned when the account closes.
type Deposits struct {
	EscrowRecord uint64
	TokenAccount uint64
	Mint         uint64
}

// Programs bundles the native programs bound to one working copy of state.
type Programs struct {
	State  *state.Manager
	System *system.Engine
	Token  *token.Engine
	Escrow *escrow.Engine
}

func newPrograms(mgr *state.Manager, deposits Deposits, emitter events.Emitter) *Programs {
	sys := system.NewEngine()
	sys.SetState(mgr)

	tokens := token.NewEngine()
	tokens.SetState(mgr)
	tokens.SetAllocator(sys)
	tokens.SetDeposits(token.Deposits{Mint: deposits.Mint, Account: deposits.TokenAccount})

	esc := escrow.NewEngine()
	esc.SetState(mgr)
	esc.SetTokenProgram(tokens)
	esc.SetAllocator(sys)
	esc.SetRecordDeposit(deposits.EscrowRecord)
	esc.SetEmitter(emitter)

	return &Programs{State: mgr, System: sys, Token: tokens, Escrow: esc}
}

// Operation identifies a unit of work submitted to Execute.
type Operation struct {
	Name   string
	Signer [20]byte
	TxHash common.Hash
}

// Receipt describes a committed operation.
type Receipt struct {
	Seq    uint64         `json:"seq"`
	Op     string         `json:"op"`
	Root   common.Hash    `json:"root"`
	TxHash common.Hash    `json:"txHash"`
	Events []*types.Event `json:"events"`
}

type payloadEvent interface {
	Event() *types.Event
}

// Ledger executes operations against the state trie one at a time. Each
// operation runs on a copy of the committed trie; the copy replaces the
// committed state only if the operation succeeds and its journal entry is
// durable, so a rejected operation leaves no effect behind.
type Ledger struct {
	mu sync.Mutex

	db       storage.Database
	trie     *trie.Trie
	journal  *journal.Journal
	seq      uint64
	chainID  uint64
	deposits Deposits

	emitter   events.Emitter
	logger    *slog.Logger
	tracer    trace.Tracer
	opCounter metric.Int64Counter
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithChainID sets the chain identifier transactions must be signed for.
func WithChainID(id uint64) Option { return func(l *Ledger) { l.chainID = id } }

// WithDeposits sets the account deposits charged by the programs.
func WithDeposits(d Deposits) Option { return func(l *Ledger) { l.deposits = d } }

// WithEmitter forwards committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithLogger sets the logger used for operation outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New opens a ledger over db, resuming at the state root recorded by the
// journal head.
func New(db storage.Database, j *journal.Journal, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database must not be nil")
	}
	if j == nil {
		return nil, fmt.Errorf("ledger: journal must not be nil")
	}
	l := &Ledger{
		db:      db,
		journal: j,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(l)
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("escrow.ledger.operations",
		metric.WithDescription("Ledger operations by name and outcome."))
	if err != nil {
		return nil, fmt.Errorf("ledger: create counter: %w", err)
	}
	l.opCounter = counter

	var root []byte
	head, ok, err := j.Head()
	if err != nil {
		return nil, fmt.Errorf("ledger: load journal head: %w", err)
	}
	if ok {
		root = head.Root[:]
		l.seq = head.Seq
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("ledger: open state at %x: %w", root, err)
	}
	l.trie = tr
	observability.Ledger().SetHeight(l.seq)
	return l, nil
}

// ChainID returns the chain identifier transactions must carry.
func (l *Ledger) ChainID() uint64 { return l.chainID }

// Deposits returns the configured account deposits.
func (l *Ledger) Deposits() Deposits { return l.deposits }

// Execute runs fn as one atomic operation. Events emitted by the programs are
// forwarded only after the operation commits.
func (l *Ledger) Execute(ctx context.Context, op Operation, fn func(*Programs) error) (*Receipt, error) {
	return l.run(ctx, op, l.deposits, fn)
}

func (l *Ledger) run(ctx context.Context, op Operation, deposits Deposits, fn func(*Programs) error) (*Receipt, error) {
	if fn == nil {
		return nil, fmt.Errorf("ledger: nil operation")
	}
	ctx, span := l.tracer.Start(ctx, "ledger.execute", trace.WithAttributes(attribute.String("escrow.op", op.Name)))
	defer span.End()
	start := time.Now()

	l.mu.Lock()
	receipt, err := l.commit(ctx, op, deposits, fn)
	l.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		l.logger.Info("ledger operation rejected",
			slog.String("op", op.Name),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
	} else {
		span.SetAttributes(attribute.Int64("escrow.seq", int64(receipt.Seq)))
		l.logger.Debug("ledger operation committed",
			slog.String("op", op.Name),
			slog.Uint64("seq", receipt.Seq),
			slog.String("root", receipt.Root.Hex()))
	}
	observability.Ledger().ObserveOperation(op.Name, outcome, time.Since(start))
	l.opCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op.Name),
		attribute.String("outcome", outcome)))
	return receipt, err
}

// commit must be called with l.mu held.
func (l *Ledger) commit(ctx context.Context, op Operation, deposits Deposits, fn func(*Programs) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.journal == nil {
		return nil, errClosed
	}
	working := l.trie.Copy()
	buffer := &events.Buffer{}
	if err := fn(newPrograms(state.NewManager(working), deposits, buffer)); err != nil {
		return nil, err
	}
	root, err := working.Commit(l.seq + 1)
	if err != nil {
		return nil, fmt.Errorf("ledger: commit state: %w", err)
	}
	entry, err := l.journal.Append(journal.Entry{
		Op:     op.Name,
		Signer: op.Signer,
		TxHash: op.TxHash,
		Root:   root,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: append journal: %w", err)
	}
	l.trie = working
	l.seq = entry.Seq
	observability.Ledger().SetHeight(entry.Seq)

	receipt := &Receipt{Seq: entry.Seq, Op: op.Name, Root: root, TxHash: op.TxHash}
	for _, evt := range buffer.Drain() {
		l.publish(evt)
		if payload, ok := evt.(payloadEvent); ok && payload.Event() != nil {
			receipt.Events = append(receipt.Events, payload.Event().Clone())
		}
	}
	return receipt, nil
}

func (l *Ledger) publish(evt events.Event) {
	observability.Events().RecordEvent(evt.EventType())
	switch evt.EventType() {
	case escrow.EventTypeEscrowMade:
		observability.Ledger().AdjustOpen(1)
	case escrow.EventTypeEscrowTaken, escrow.EventTypeEscrowRefunded:
		observability.Ledger().AdjustOpen(-1)
	}
	l.emitter.Emit(evt)
}

// view runs fn against a private copy of the committed state. Mutations made
// by fn are discarded.
func (l *Ledger) view(fn func(*Programs) error) error {
	l.mu.Lock()
	working := l.trie.Copy()
	l.mu.Unlock()
	return fn(newPrograms(state.NewManager(working), l.deposits, events.NoopEmitter{}))
}

// Height returns the sequence number of the last committed operation.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Root returns the committed state root.
func (l *Ledger) Root() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trie.Root()
}

// Journal exposes the write-ahead journal.
func (l *Ledger) Journal() *journal.Journal { return l.journal }

// Close releases the journal. The state database is owned by the caller.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return errClosed
	}
	err := l.journal.Close()
	l.journal = nil
	return err
}
