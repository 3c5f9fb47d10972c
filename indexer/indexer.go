// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package indexer drives the projector from a block source. Each block
// range is applied in one store transaction together with the chain
// cursor, so a restart resumes after the last committed range.
package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/evm"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/projector"
	"github.com/luxfi/clob-indexer/storage"
	"github.com/luxfi/clob-indexer/telemetry"
)

// Source delivers ordered event batches starting at a block.
type Source interface {
	Run(ctx context.Context, from uint64, sink evm.Sink) error
}

// Publisher receives events after their range is committed.
type Publisher interface {
	Publish(block uint64, ev model.Event)
}

// Config for the indexer
type Config struct {
	ChainID    uint64
	StartBlock uint64
}

// Indexer applies batches from a Source to a Store.
type Indexer struct {
	config    Config
	store     storage.Store
	source    Source
	projector *projector.Projector
	publisher Publisher
	logger    *zap.Logger
}

// New creates an indexer. publisher may be nil.
func New(cfg Config, store storage.Store, source Source, proj *projector.Projector, publisher Publisher, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		config:    cfg,
		store:     store,
		source:    source,
		projector: proj,
		publisher: publisher,
		logger:    logger,
	}
}

// Resume returns the first block not yet applied.
func (idx *Indexer) Resume(ctx context.Context) (uint64, error) {
	cursor, err := storage.Find[model.Cursor](ctx, idx.store, model.CursorID(idx.config.ChainID))
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if cursor == nil || cursor.BlockNumber < idx.config.StartBlock {
		return idx.config.StartBlock, nil
	}
	return cursor.BlockNumber + 1, nil
}

// Run indexes until ctx is cancelled.
func (idx *Indexer) Run(ctx context.Context) error {
	from, err := idx.Resume(ctx)
	if err != nil {
		return err
	}
	idx.logger.Info("indexer starting",
		zap.Uint64("chain_id", idx.config.ChainID),
		zap.Uint64("from", from))
	return idx.source.Run(ctx, from, idx.Apply)
}

// Apply commits one batch and its cursor atomically, then publishes the
// events.
func (idx *Indexer) Apply(ctx context.Context, b evm.Batch) error {
	idx.projector.Prefetch(ctx, b.Events)
	tx, err := idx.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, ev := range b.Events {
		if err := idx.projector.Apply(ctx, tx, ev); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	cursor := &model.Cursor{ID: model.CursorID(idx.config.ChainID), BlockNumber: b.To}
	if err := tx.Put(ctx, cursor); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit blocks %d-%d: %w", b.From, b.To, err)
	}

	telemetry.IndexedBlockGauge.Set(float64(b.To))
	idx.logger.Debug("indexed range",
		zap.Uint64("from", b.From),
		zap.Uint64("to", b.To),
		zap.Int("events", len(b.Events)))

	if idx.publisher != nil {
		for _, ev := range b.Events {
			idx.publisher.Publish(ev.Metadata().Block.Number, ev)
		}
	}
	return nil
}
