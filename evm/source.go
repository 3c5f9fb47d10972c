// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package evm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/model"
)

// SourceConfig configures log polling.
type SourceConfig struct {
	Address       string
	BatchSize     uint64
	Confirmations uint64
	PollInterval  time.Duration
}

// Batch is the ordered events of the block range [From, To].
type Batch struct {
	From   uint64
	To     uint64
	Events []model.Event
}

// Sink consumes one batch. A returned error makes the source retry the
// same range after the poll interval.
type Sink func(ctx context.Context, b Batch) error

// Source polls a node for BookManager events.
type Source struct {
	client *Client
	cfg    SourceConfig
	logger *zap.Logger
}

// NewSource creates a log source
func NewSource(client *Client, cfg SourceConfig, logger *zap.Logger) *Source {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{client: client, cfg: cfg, logger: logger}
}

// Run delivers batches to sink starting at block from until ctx is done.
func (s *Source) Run(ctx context.Context, from uint64, sink Sink) error {
	next := from
	for {
		head, err := s.client.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to fetch head", zap.Error(err))
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		if head < s.cfg.Confirmations || next > head-s.cfg.Confirmations {
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}
		safe := head - s.cfg.Confirmations
		to := next + s.cfg.BatchSize - 1
		if to > safe {
			to = safe
		}

		batch, err := s.Fetch(ctx, next, to)
		if err == nil {
			err = sink(ctx, batch)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("block range failed, retrying",
				zap.Uint64("from", next), zap.Uint64("to", to), zap.Error(err))
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		next = to + 1
		if next > safe {
			if err := s.wait(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Source) wait(ctx context.Context) error {
	t := time.NewTimer(s.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetch returns the ordered events of [from, to] with block timestamps
// and transaction senders attached.
func (s *Source) Fetch(ctx context.Context, from, to uint64) (Batch, error) {
	logs, err := s.client.GetLogs(ctx, LogFilter{
		FromBlock: from,
		ToBlock:   to,
		Address:   s.cfg.Address,
		Topics:    Topics(),
	})
	if err != nil {
		return Batch{}, fmt.Errorf("get logs [%d, %d]: %w", from, to, err)
	}

	events := make([]model.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := DecodeLog(l)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) || errors.Is(err, ErrMalformedLog) {
				s.logger.Warn("skipping log",
					zap.String("tx", l.TransactionHash), zap.String("log_index", l.LogIndex), zap.Error(err))
				continue
			}
			return Batch{}, err
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Metadata(), events[j].Metadata()
		if a.Block.Number != b.Block.Number {
			return a.Block.Number < b.Block.Number
		}
		return a.LogIndex < b.LogIndex
	})

	timestamps := make(map[uint64]uint64)
	senders := make(map[string]string)
	for _, ev := range events {
		meta := ev.Metadata()
		ts, ok := timestamps[meta.Block.Number]
		if !ok {
			if ts, err = s.client.BlockTimestamp(ctx, meta.Block.Number); err != nil {
				return Batch{}, fmt.Errorf("block %d: %w", meta.Block.Number, err)
			}
			timestamps[meta.Block.Number] = ts
		}
		sender, ok := senders[meta.Transaction.Hash]
		if !ok {
			raw, err := s.client.TransactionSender(ctx, meta.Transaction.Hash)
			if err != nil {
				return Batch{}, fmt.Errorf("transaction %s: %w", meta.Transaction.Hash, err)
			}
			sender = ChecksumAddress(raw)
			senders[meta.Transaction.Hash] = sender
		}
		if o, ok := ev.(interface{ SetOrigin(uint64, string) }); ok {
			o.SetOrigin(ts, sender)
		}
	}

	return Batch{From: from, To: to, Events: events}, nil
}
