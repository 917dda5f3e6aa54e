package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"railscan/events"
	"railscan/ledger"
	"railscan/observability/metrics"
)

// TokenMetadata is the ERC-20 descriptor fetched when a token is first seen.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// ChainReader is the read-call surface the engine needs from the chain.
// Both calls are best-effort: the engine substitutes documented defaults on
// failure and never retries inline.
type ChainReader interface {
	TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)
	NetworkFee(ctx context.Context) (*uint256.Int, error)
}

// Observer is notified after each committed block with the entities the
// block touched, in mutation order. Observers feed derived projections;
// the ledger itself is already durable when they run.
type Observer interface {
	BlockCommitted(block uint64, touched []any) error
}

// Engine consumes decoded payment-rail events in canonical
// (blockNumber, logIndex) order and derives the off-chain ledger state. It
/// assumes a single writer: events from one stream partition must never be
// applied concurrently.
type Engine struct {
	store    *ledger.Store
	chain    ChainReader
	log      *slog.Logger
	metrics  *metrics.IndexerMetrics
	observer Observer
}

// New wires an engine. A nil chain reader disables read-calls and makes every
// lookup fall back to its default.
func New(store *ledger.Store, chain ChainReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		chain:   chain,
		log:     logger,
		metrics: metrics.Indexer(),
	}
}

// SetObserver attaches a post-commit observer. Must be called before the
// stream starts.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

type multiObserver []Observer

func (m multiObserver) BlockCommitted(block uint64, touched []any) error {
	for _, o := range m {
		if err := o.BlockCommitted(block, touched); err != nil {
			return err
		}
	}
	return nil
}

// CombineObservers fans one committed block out to several observers. Nil
// entries are dropped.
func CombineObservers(observers ...Observer) Observer {
	kept := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return kept
}

// ProcessBlock applies every event of one block inside a single atomic
// transaction, together with the stream checkpoint. Data-level anomalies are
// logged and skipped; only infrastructure faults return an error, leaving
// the block unapplied.
func (e *Engine) ProcessBlock(ctx context.Context, block uint64, evts []events.Event) error {
	tx := e.store.Begin()
	for _, ev := range evts {
		if err := e.apply(ctx, tx, ev); err != nil {
			return err
		}
	}
	tx.SetCheckpoint(block)
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("engine: commit block %d: %w", block, err)
	}
	e.metrics.ObserveBlock(block)
	if e.observer != nil {
		if err := e.observer.BlockCommitted(block, tx.Touched()); err != nil {
			// The projection lags but the ledger is committed; the next
			// block's upserts converge it.
			e.log.Error("block observer failed", slog.Uint64("block", block), slog.Any("error", err))
		}
	}
	return nil
}

// Apply processes a single event in its own transaction. It exists for
// callers that replay events one at a time; ProcessBlock is the streaming
// entry point.
func (e *Engine) Apply(ctx context.Context, ev events.Event) error {
	tx := e.store.Begin()
	if err := e.apply(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) apply(ctx context.Context, tx *ledger.Tx, ev events.Event) error {
	var (
		applied bool
		err     error
	)
	switch ev := ev.(type) {
	case *events.DepositRecorded:
		applied, err = e.handleDeposit(ctx, tx, ev)
	case *events.WithdrawRecorded:
		applied, err = e.handleWithdraw(tx, ev)
	case *events.OperatorApprovalUpdated:
		applied, err = e.handleOperatorApprovalUpdated(ctx, tx, ev)
	case *events.AccountLockupSettled:
		applied, err = e.handleAccountLockupSettled(ctx, tx, ev)
	case *events.RailCreated:
		applied, err = e.handleRailCreated(ctx, tx, ev)
	case *events.RailRateModified:
		applied, err = e.handleRailRateModified(tx, ev)
	case *events.RailLockupModified:
		applied, err = e.handleRailLockupModified(tx, ev)
	case *events.RailTerminated:
		applied, err = e.handleRailTerminated(tx, ev)
	case *events.RailSettled:
		applied, err = e.handleRailSettled(ctx, tx, ev)
	case *events.RailOneTimePaymentProcessed:
		applied, err = e.handleOneTimePayment(tx, ev)
	case *events.RailFinalized:
		applied, err = e.handleRailFinalized(tx, ev)
	default:
		e.skip(ev.Coords(), ev.EventType(), "unhandled_event_type")
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine: %s at block %d log %d: %w",
			ev.EventType(), ev.Coords().BlockNumber, ev.Coords().LogIndex, err)
	}
	if applied {
		e.metrics.ObserveEvent(ev.EventType())
	}
	return nil
}

// skip records an event dropped without mutation. Malformed or out-of-order
// events must never stop the stream.
func (e *Engine) skip(raw events.Raw, eventType, reason string) {
	e.metrics.ObserveSkip(reason)
	e.log.Warn("skipping event",
		slog.String("event", eventType),
		slog.String("reason", reason),
		slog.Uint64("block", raw.BlockNumber),
		slog.String("tx", raw.TxHash.Hex()),
		slog.Uint64("logIndex", uint64(raw.LogIndex)),
	)
}

// fetchToken returns the token entity, creating it with metadata from the
// chain on first sight. Metadata failures fall back to placeholder values so
// a flaky RPC can never stall the stream.
func (e *Engine) fetchToken(ctx context.Context, tx *ledger.Tx, addr common.Address) (*ledger.Token, bool, error) {
	token, ok, err := tx.Token(addr)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return token, false, nil
	}
	md := TokenMetadata{Name: "Unknown", Symbol: "UNKNOWN", Decimals: 18}
	if e.chain != nil {
		fetched, err := e.chain.TokenMetadata(ctx, addr)
		if err != nil {
			e.metrics.ObserveFallback("token_metadata")
			e.log.Warn("token metadata lookup failed, using defaults",
				slog.String("token", addr.Hex()), slog.Any("error", err))
		} else {
			md = fetched
		}
	} else {
		e.metrics.ObserveFallback("token_metadata")
	}
	token = &ledger.Token{
		Address:            addr,
		Name:               md.Name,
		Symbol:             md.Symbol,
		Decimals:           md.Decimals,
		TotalDeposits:      uint256.NewInt(0),
		TotalWithdrawals:   uint256.NewInt(0),
		TotalSettledAmount: uint256.NewInt(0),
		UserFunds:          uint256.NewInt(0),
		Volume:             uint256.NewInt(0),
	}
	return token, true, nil
}

// networkFee reads the protocol fee constant, defaulting to zero on failure.
func (e *Engine) networkFee(ctx context.Context) *uint256.Int {
	if e.chain == nil {
		e.metrics.ObserveFallback("network_fee")
		return uint256.NewInt(0)
	}
	fee, err := e.chain.NetworkFee(ctx)
	if err != nil || fee == nil {
		e.metrics.ObserveFallback("network_fee")
		return uint256.NewInt(0)
	}
	return fee
}
