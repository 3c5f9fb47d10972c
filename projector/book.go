// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package projector

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/storage"
)

// resolveToken returns the stored token, or builds a new one from the
// resolver. created is true when the row must be written.
func (p *Projector) resolveToken(ctx context.Context, tx storage.Tx, addr string) (tok *model.Token, created bool, err error) {
	tok, err = storage.Find[model.Token](ctx, tx, addr)
	if err != nil {
		return nil, false, err
	}
	if tok != nil {
		return tok, false, nil
	}
	if p.resolver == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnresolvedDecimals, addr)
	}
	decimals, ok := p.resolver.Decimals(ctx, addr)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnresolvedDecimals, addr)
	}
	return &model.Token{
		Address:  addr,
		Symbol:   p.resolver.Symbol(ctx, addr),
		Name:     p.resolver.Name(ctx, addr),
		Decimals: decimals,
	}, true, nil
}

// Prefetch resolves the tokens of the open events in evs that are not
// stored yet. Run before Begin, it moves the resolver's RPC round trips
// out of the caller's transaction; the resolver keeps what it found.
func (p *Projector) Prefetch(ctx context.Context, evs []model.Event) {
	if p.resolver == nil {
		return
	}
	for _, ev := range evs {
		open, ok := ev.(*model.OpenEvent)
		if !ok {
			continue
		}
		for _, addr := range []string{open.Quote, open.Base} {
			tok, err := storage.Find[model.Token](ctx, p.store, addr)
			if err != nil || tok != nil {
				continue
			}
			p.resolver.Decimals(ctx, addr)
		}
	}
}

func (p *Projector) handleOpen(ctx context.Context, tx storage.Tx, ev *model.OpenEvent) error {
	quote, newQuote, err := p.resolveToken(ctx, tx, ev.Quote)
	if err != nil {
		return err
	}
	base, newBase, err := p.resolveToken(ctx, tx, ev.Base)
	if err != nil {
		return err
	}

	if newQuote {
		if err := tx.Put(ctx, quote); err != nil {
			return err
		}
	}
	if newBase && base.Address != quote.Address {
		if err := tx.Put(ctx, base); err != nil {
			return err
		}
	}

	return tx.Put(ctx, &model.Book{
		ID:                   new(uint256.Int).Set(ev.ID),
		CreatedAtTimestamp:   ev.Block.Timestamp,
		CreatedAtBlockNumber: ev.Block.Number,
		Quote:                quote.Address,
		QuoteSymbol:          quote.Symbol,
		QuoteName:            quote.Name,
		QuoteDecimals:        quote.Decimals,
		Base:                 base.Address,
		BaseSymbol:           base.Symbol,
		BaseName:             base.Name,
		BaseDecimals:         base.Decimals,
		UnitSize:             ev.UnitSize,
		MakerPolicy:          ev.MakerPolicy,
		MakerFee:             book.FeeRate(ev.MakerPolicy),
		IsMakerFeeInQuote:    book.FeeInQuote(ev.MakerPolicy),
		TakerPolicy:          ev.TakerPolicy,
		TakerFee:             book.FeeRate(ev.TakerPolicy),
		IsTakerFeeInQuote:    book.FeeInQuote(ev.TakerPolicy),
		Hooks:                ev.Hooks,
		PriceRaw:             new(uint256.Int),
		Price:                decimal.Zero,
		InversePrice:         decimal.Zero,
	})
}

// marketTokens loads both tokens of a book.
func marketTokens(ctx context.Context, tx storage.Tx, b *model.Book) (base, quote *model.Token, err error) {
	if quote, err = findToken(ctx, tx, b.Quote); err != nil {
		return nil, nil, err
	}
	if base, err = findToken(ctx, tx, b.Base); err != nil {
		return nil, nil, err
	}
	return base, quote, nil
}

// prices renders a raw price as quote per base and its reciprocal.
func prices(raw *uint256.Int, base, quote *model.Token) (price, inverse decimal.Decimal) {
	return book.FormatPrice(raw, base.Decimals, quote.Decimals),
		book.FormatInvertedPrice(raw, quote.Decimals, base.Decimals)
}

func (p *Projector) handleMake(ctx context.Context, tx storage.Tx, ev *model.MakeEvent) error {
	b, err := findBook(ctx, tx, ev.BookID)
	if err != nil {
		return err
	}
	base, quote, err := marketTokens(ctx, tx, b)
	if err != nil {
		return err
	}
	priceRaw, err := book.TickToPrice(ev.Tick)
	if err != nil {
		return err
	}
	depthID := model.DepthID(b.ID, ev.Tick)
	depth, err := storage.Find[model.Depth](ctx, tx, depthID)
	if err != nil {
		return err
	}

	unit := uint256.NewInt(ev.Unit)
	quoteAmount := book.UnitToQuote(b.UnitSize, unit)
	baseAmount := book.UnitToBase(b.UnitSize, unit, priceRaw)
	price, inverse := prices(priceRaw, base, quote)

	order := &model.OpenOrder{
		ID:            book.EncodeOrderID(b.ID, ev.Tick, ev.OrderIndex),
		Transaction:   ev.Transaction.Hash,
		Timestamp:     ev.Block.Timestamp,
		Book:          new(uint256.Int).Set(b.ID),
		Quote:         quote.Address,
		QuoteSymbol:   quote.Symbol,
		QuoteName:     quote.Name,
		QuoteDecimals: quote.Decimals,
		Base:          base.Address,
		BaseSymbol:    base.Symbol,
		BaseName:      base.Name,
		BaseDecimals:  base.Decimals,
		UnitSize:      b.UnitSize,
		Origin:        ev.Transaction.From,
		Owner:         ev.User,
		PriceRaw:      priceRaw,
		Tick:          ev.Tick,
		OrderIndex:    ev.OrderIndex,
		Price:         price,
		InversePrice:  inverse,

		UnitAmount:  new(uint256.Int).Set(unit),
		BaseAmount:  new(uint256.Int).Set(baseAmount),
		QuoteAmount: new(uint256.Int).Set(quoteAmount),

		FilledUnitAmount:      new(uint256.Int),
		FilledBaseAmount:      new(uint256.Int),
		FilledQuoteAmount:     new(uint256.Int),
		ClaimedUnitAmount:     new(uint256.Int),
		ClaimedBaseAmount:     new(uint256.Int),
		ClaimedQuoteAmount:    new(uint256.Int),
		ClaimableUnitAmount:   new(uint256.Int),
		ClaimableBaseAmount:   new(uint256.Int),
		ClaimableQuoteAmount:  new(uint256.Int),
		CancelableUnitAmount:  new(uint256.Int).Set(unit),
		CancelableBaseAmount:  new(uint256.Int).Set(baseAmount),
		CancelableQuoteAmount: new(uint256.Int).Set(quoteAmount),
	}
	if err := tx.Put(ctx, order); err != nil {
		return err
	}

	if depth == nil {
		depth = &model.Depth{
			ID:           depthID,
			Book:         new(uint256.Int).Set(b.ID),
			Tick:         ev.Tick,
			PriceRaw:     new(uint256.Int).Set(priceRaw),
			Price:        price,
			InversePrice: inverse,
			UnitAmount:   new(uint256.Int),
			BaseAmount:   new(uint256.Int),
			QuoteAmount:  new(uint256.Int),
		}
	}
	depth.UnitAmount = add(depth.UnitAmount, unit)
	depth.BaseAmount = add(depth.BaseAmount, baseAmount)
	depth.QuoteAmount = add(depth.QuoteAmount, quoteAmount)
	if ev.OrderIndex >= depth.NextOrderIndex {
		depth.NextOrderIndex = ev.OrderIndex + 1
	}
	return tx.Put(ctx, depth)
}
