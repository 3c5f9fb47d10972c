// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package projector

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/storage"
	"github.com/luxfi/clob-indexer/telemetry"
)

func (p *Projector) handleTake(ctx context.Context, tx storage.Tx, ev *model.TakeEvent) error {
	if ev.Unit == 0 {
		return nil
	}
	priceRaw, err := book.TickToPrice(ev.Tick)
	if err != nil {
		return err
	}
	b, err := findBook(ctx, tx, ev.BookID)
	if err != nil {
		return err
	}
	depthID := model.DepthID(b.ID, ev.Tick)
	depth, err := storage.Find[model.Depth](ctx, tx, depthID)
	if err != nil {
		return err
	}
	if depth == nil {
		return fmt.Errorf("%w: %s", ErrDepthNotFound, depthID)
	}
	base, quote, err := marketTokens(ctx, tx, b)
	if err != nil {
		return err
	}

	taken := uint256.NewInt(ev.Unit)
	takenBase := book.UnitToBase(b.UnitSize, taken, priceRaw)
	takenQuote := book.UnitToQuote(b.UnitSize, taken)
	price, inverse := prices(priceRaw, base, quote)

	b.PriceRaw = priceRaw
	b.Price = price
	b.InversePrice = inverse
	b.Tick = ev.Tick
	b.LastTakenTimestamp = ev.Block.Timestamp
	b.LastTakenBlockNumber = ev.Block.Number
	if err := tx.Put(ctx, b); err != nil {
		return err
	}

	tr := trade{
		base:        base.Address,
		quote:       quote.Address,
		timestamp:   ev.Block.Timestamp,
		price:       price,
		inverse:     inverse,
		baseVolume:  book.FormatUnits(takenBase, base.Decimals),
		quoteVolume: book.FormatUnits(takenQuote, quote.Decimals),
	}
	if err := p.updateCharts(ctx, tx, tr); err != nil {
		return err
	}

	cursor, err := p.allocate(ctx, tx, b, depth, taken)
	if err != nil {
		return err
	}

	depth.UnitAmount = p.sub(depth.UnitAmount, taken, "unit_amount", depthID)
	depth.BaseAmount = p.sub(depth.BaseAmount, takenBase, "base_amount", depthID)
	depth.QuoteAmount = p.sub(depth.QuoteAmount, takenQuote, "quote_amount", depthID)
	depth.LatestTakenOrderIndex = cursor
	return tx.Put(ctx, depth)
}

// allocate fills the resting orders of a tick in order index order,
// starting at the depth cursor, and returns the new cursor.
func (p *Projector) allocate(ctx context.Context, tx storage.Tx, b *model.Book, depth *model.Depth, taken *uint256.Int) (uint64, error) {
	cursor := depth.LatestTakenOrderIndex
	remaining := new(uint256.Int).Set(taken)
	steps := 0
	defer func() { telemetry.FifoScanStepsHistogram.Observe(float64(steps)) }()

	for !remaining.IsZero() {
		if cursor >= depth.NextOrderIndex {
			p.logger.Warn("take exceeds resting orders",
				zap.String("depth", depth.ID),
				zap.Uint64("cursor", cursor),
				zap.String("unallocated", remaining.Dec()))
			break
		}
		steps++

		id := book.EncodeOrderID(b.ID, depth.Tick, cursor)
		order, err := storage.Find[model.OpenOrder](ctx, tx, id.Dec())
		if err != nil {
			return 0, err
		}
		if order == nil {
			cursor++
			continue
		}

		open := p.sub(order.UnitAmount, order.FilledUnitAmount, "open_unit_amount", order.Key())
		fill := minU256(remaining, open)
		remaining.Sub(remaining, fill)

		if !fill.IsZero() {
			filled := add(order.FilledUnitAmount, fill)
			claimable := add(order.ClaimableUnitAmount, fill)
			cancelable := p.sub(order.CancelableUnitAmount, fill, "cancelable_unit_amount", order.Key())

			order.FilledUnitAmount = filled
			order.FilledBaseAmount = book.UnitToBase(b.UnitSize, filled, order.PriceRaw)
			order.FilledQuoteAmount = book.UnitToQuote(b.UnitSize, filled)
			order.ClaimableUnitAmount = claimable
			order.ClaimableBaseAmount = book.UnitToBase(b.UnitSize, claimable, order.PriceRaw)
			order.ClaimableQuoteAmount = book.UnitToQuote(b.UnitSize, claimable)
			order.CancelableUnitAmount = cancelable
			order.CancelableBaseAmount = book.UnitToBase(b.UnitSize, cancelable, order.PriceRaw)
			order.CancelableQuoteAmount = book.UnitToQuote(b.UnitSize, cancelable)
			if err := tx.Put(ctx, order); err != nil {
				return 0, err
			}
		}

		if !order.FilledUnitAmount.Lt(order.UnitAmount) {
			cursor++
		}
	}
	return cursor, nil
}

// trade is what one take contributes to the candles of its market.
type trade struct {
	base, quote             string
	timestamp               uint64
	price, inverse          decimal.Decimal
	baseVolume, quoteVolume decimal.Decimal
}

// updateCharts folds a trade into the natural and inverted candle of
// every interval.
func (p *Projector) updateCharts(ctx context.Context, tx storage.Tx, t trade) error {
	for _, bucket := range book.Buckets(t.base, t.quote, t.timestamp) {
		natural := candle{
			id:        bucket.ID,
			base:      t.base,
			quote:     t.quote,
			interval:  bucket.Interval.Name,
			timestamp: bucket.Timestamp,
			price:     t.price,
			volume:    t.baseVolume,
			bid:       true,
		}
		inverted := candle{
			id:        bucket.InvertedID,
			base:      t.quote,
			quote:     t.base,
			interval:  bucket.Interval.Name,
			timestamp: bucket.Timestamp,
			price:     t.inverse,
			volume:    t.quoteVolume,
		}
		for _, c := range []candle{natural, inverted} {
			if err := upsertCandle(ctx, tx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// candle is one update of a ChartLog row. bid selects which side volume
// is credited.
type candle struct {
	id, base, quote, interval string
	timestamp                 uint64
	price, volume             decimal.Decimal
	bid                       bool
}

func upsertCandle(ctx context.Context, tx storage.Tx, c candle) error {
	row, err := storage.Find[model.ChartLog](ctx, tx, c.id)
	if err != nil {
		return err
	}
	if row == nil {
		row = &model.ChartLog{
			ID:                c.id,
			MarketCode:        book.MarketCode(c.base, c.quote),
			Base:              c.base,
			Quote:             c.quote,
			IntervalType:      c.interval,
			Timestamp:         c.timestamp,
			Open:              c.price,
			High:              c.price,
			Low:               c.price,
			BaseVolume:        decimal.Zero,
			BidBookBaseVolume: decimal.Zero,
			AskBookBaseVolume: decimal.Zero,
		}
	}
	if c.price.GreaterThan(row.High) {
		row.High = c.price
	}
	if c.price.LessThan(row.Low) {
		row.Low = c.price
	}
	row.Close = c.price
	row.BaseVolume = row.BaseVolume.Add(c.volume)
	if c.bid {
		row.BidBookBaseVolume = row.BidBookBaseVolume.Add(c.volume)
	} else {
		row.AskBookBaseVolume = row.AskBookBaseVolume.Add(c.volume)
	}
	return tx.Put(ctx, row)
}
