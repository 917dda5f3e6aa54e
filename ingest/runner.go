package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"railscan/engine"
	"railscan/events"
	"railscan/ledger"
	"railscan/observability/metrics"
)

// Source is the slice of chain access the runner needs. *chain.Client
// satisfies it.
type Source interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64) ([]gethtypes.Log, error)
	BlockTimestamp(ctx context.Context, block uint64) (uint64, error)
}

// Options tunes the runner. Zero values fall back to defaults.
type Options struct {
	// StartBlock is the first block scanned when no checkpoint exists,
	// typically the payments contract's deployment block.
	StartBlock uint64
	// Confirmations is the follow distance behind the chain head. Blocks
	// inside the window are not scanned until they age out of it, which
	// keeps shallow reorgs from ever reaching the ledger.
	Confirmations uint64
	// PollInterval is the sleep between head checks once caught up.
	PollInterval time.Duration
	// BatchBlocks caps the span of a single log query.
	BatchBlocks uint64
}

func (o Options) withDefaults() Options {
	if o.Confirmations == 0 {
		o.Confirmations = 12
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 6 * time.Second
	}
	if o.BatchBlocks == 0 {
		o.BatchBlocks = 2000
	}
	return o
}

// Runner polls the chain for payments contract logs and feeds them, block
// by block in log order, into the engine.
type Runner struct {
	source  Source
	eng     *engine.Engine
	store   *ledger.Store
	log     *slog.Logger
	metrics *metrics.IndexerMetrics
	opts    Options
}

func NewRunner(source Source, eng *engine.Engine, store *ledger.Store, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		source:  source,
		eng:     eng,
		store:   store,
		log:     logger.With("component", "ingest"),
		metrics: metrics.Indexer(),
		opts:    opts.withDefaults(),
	}
}

// Run polls until the context is cancelled. Infrastructure errors are
// logged and retried on the next poll; they never advance the checkpoint.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := r.Sync(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.log.Error("sync pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync performs one catch-up pass: scan every confirmed block past the
// checkpoint and return once the runner is caught up to the confirmation
// window.
func (r *Runner) Sync(ctx context.Context) error {
	head, err := r.source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("ingest: head block: %w", err)
	}
	r.metrics.ObserveHead(head)
	if head < r.opts.Confirmations {
		return nil
	}
	target := head - r.opts.Confirmations

	next := r.opts.StartBlock
	checkpoint, ok, err := r.store.Checkpoint()
	if err != nil {
		return fmt.Errorf("ingest: load checkpoint: %w", err)
	}
	if ok {
		next = checkpoint + 1
	}

	for next <= target {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := next + r.opts.BatchBlocks - 1
		if to > target {
			to = target
		}
		if err := r.scanRange(ctx, next, to); err != nil {
			return err
		}
		next = to + 1
	}
	return nil
}

func (r *Runner) scanRange(ctx context.Context, from, to uint64) error {
	logs, err := r.source.FilterLogs(ctx, from, to)
	if err != nil {
		return fmt.Errorf("ingest: filter logs [%d,%d]: %w", from, to, err)
	}

	byBlock := make(map[uint64][]gethtypes.Log)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		byBlock[lg.BlockNumber] = append(byBlock[lg.BlockNumber], lg)
	}
	blocks := make([]uint64, 0, len(byBlock))
	for block := range byBlock {
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, block := range blocks {
		blockLogs := byBlock[block]
		sort.Slice(blockLogs, func(i, j int) bool { return blockLogs[i].Index < blockLogs[j].Index })

		timestamp, err := r.source.BlockTimestamp(ctx, block)
		if err != nil {
			return fmt.Errorf("ingest: block %d timestamp: %w", block, err)
		}

		evts := make([]events.Event, 0, len(blockLogs))
		for _, lg := range blockLogs {
			ev, err := events.Decode(lg, timestamp)
			if err != nil {
				if errors.Is(err, events.ErrUnknownEvent) {
					r.metrics.ObserveSkip("unknown_event")
					r.log.Warn("unrecognized log topic",
						"block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "logIndex", lg.Index)
					continue
				}
				return fmt.Errorf("ingest: decode log %s[%d]: %w", lg.TxHash.Hex(), lg.Index, err)
			}
			evts = append(evts, ev)
		}
		if err := r.eng.ProcessBlock(ctx, block, evts); err != nil {
			return fmt.Errorf("ingest: process block %d: %w", block, err)
		}
	}

	// Empty tail: advance the checkpoint so restarts do not rescan the
	// range.
	last := to
	if len(blocks) == 0 || blocks[len(blocks)-1] < last {
		if err := r.eng.ProcessBlock(ctx, last, nil); err != nil {
			return fmt.Errorf("ingest: advance checkpoint to %d: %w", last, err)
		}
	}
	return nil
}
