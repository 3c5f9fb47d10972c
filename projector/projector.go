// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package projector folds BookManager events into the store: books,
// depths, open orders, tokens and candles.
//
// Events must be applied in chain order. A handler whose prerequisite row
// or token is missing drops its event without writing anything; any other
// failure is returned and aborts the surrounding transaction.
package projector

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/storage"
	"github.com/luxfi/clob-indexer/telemetry"
)

// Missing prerequisites. Events failing with these are dropped.
var (
	ErrBookNotFound       = errors.New("book not found")
	ErrDepthNotFound      = errors.New("depth not found")
	ErrOrderNotFound      = errors.New("open order not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrUnresolvedDecimals = errors.New("token decimals unresolved")
)

var dropReasons = []struct {
	err    error
	reason string
}{
	{ErrBookNotFound, "book_not_found"},
	{ErrDepthNotFound, "depth_not_found"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrTokenNotFound, "token_not_found"},
	{ErrUnresolvedDecimals, "unresolved_decimals"},
	{book.ErrInvalidTick, "invalid_tick"},
}

// dropReason returns the metric label of a droppable error.
func dropReason(err error) (string, bool) {
	for _, d := range dropReasons {
		if errors.Is(err, d.err) {
			return d.reason, true
		}
	}
	return "", false
}

// Resolver supplies token metadata for tokens not yet in the store.
type Resolver interface {
	Symbol(ctx context.Context, addr string) string
	Name(ctx context.Context, addr string) string
	// Decimals reports false when the decimals cannot be determined.
	Decimals(ctx context.Context, addr string) (uint8, bool)
}

// Projector applies events to the store.
type Projector struct {
	store    storage.Store
	resolver Resolver
	logger   *zap.Logger
}

// New creates a projector. store is read by Prefetch and written by Handle.
func New(store storage.Store, resolver Resolver, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{store: store, resolver: resolver, logger: logger}
}

// Handle applies one event in its own transaction.
func (p *Projector) Handle(ctx context.Context, ev model.Event) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := p.Apply(ctx, tx, ev); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Apply applies one event inside tx.
func (p *Projector) Apply(ctx context.Context, tx storage.Tx, ev model.Event) error {
	var err error
	switch e := ev.(type) {
	case *model.OpenEvent:
		err = p.handleOpen(ctx, tx, e)
	case *model.MakeEvent:
		err = p.handleMake(ctx, tx, e)
	case *model.TakeEvent:
		err = p.handleTake(ctx, tx, e)
	case *model.CancelEvent:
		err = p.handleCancel(ctx, tx, e)
	case *model.ClaimEvent:
		err = p.handleClaim(ctx, tx, e)
	case *model.TransferEvent:
		err = p.handleTransfer(ctx, tx, e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}

	kind := string(ev.Kind())
	meta := ev.Metadata()
	if err != nil {
		if reason, ok := dropReason(err); ok {
			p.logger.Warn("dropping event",
				zap.String("event", kind),
				zap.Uint64("block", meta.Block.Number),
				zap.Uint64("log_index", meta.LogIndex),
				zap.String("tx", meta.Transaction.Hash),
				zap.Error(err))
			telemetry.EventsDroppedCounter.WithLabelValues(kind, reason).Inc()
			return nil
		}
		return fmt.Errorf("apply %s at block %d log %d: %w", kind, meta.Block.Number, meta.LogIndex, err)
	}
	telemetry.EventsProcessedCounter.WithLabelValues(kind).Inc()
	return nil
}

// findBook loads a book or fails with ErrBookNotFound.
func findBook(ctx context.Context, tx storage.Tx, id *uint256.Int) (*model.Book, error) {
	b, err := storage.Find[model.Book](ctx, tx, id.Dec())
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, id.Dec())
	}
	return b, nil
}

// findToken loads a stored token or fails with ErrTokenNotFound.
func findToken(ctx context.Context, tx storage.Tx, addr string) (*model.Token, error) {
	t, err := storage.Find[model.Token](ctx, tx, addr)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, addr)
	}
	return t, nil
}

// findOrder loads an open order or fails with ErrOrderNotFound.
func findOrder(ctx context.Context, tx storage.Tx, id *uint256.Int) (*model.OpenOrder, error) {
	o, err := storage.Find[model.OpenOrder](ctx, tx, id.Dec())
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Dec())
	}
	return o, nil
}

// add returns x + y as a new value.
func add(x, y *uint256.Int) *uint256.Int {
	return new(uint256.Int).Add(x, y)
}

// sub returns x - y as a new value. It saturates at zero and logs when y
// exceeds x.
func (p *Projector) sub(x, y *uint256.Int, field, key string) *uint256.Int {
	if x.Lt(y) {
		p.logger.Warn("amount underflow, clamping to zero",
			zap.String("field", field),
			zap.String("key", key),
			zap.String("have", x.Dec()),
			zap.String("sub", y.Dec()))
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

func minU256(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}
