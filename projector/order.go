// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package projector

import (
	"context"
	"strings"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/storage"
)

// orderBook loads an order and the book it belongs to.
func orderBook(ctx context.Context, tx storage.Tx, orderID *uint256.Int) (*model.OpenOrder, *model.Book, error) {
	order, err := findOrder(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	b, err := findBook(ctx, tx, book.DecodeBookID(orderID))
	if err != nil {
		return nil, nil, err
	}
	return order, b, nil
}

// settle writes the order back, or deletes it once nothing is left to
// cancel or claim.
func settle(ctx context.Context, tx storage.Tx, order *model.OpenOrder) error {
	if order.Pending().IsZero() {
		return tx.Delete(ctx, storage.CollectionOpenOrders, order.Key())
	}
	return tx.Put(ctx, order)
}

func (p *Projector) handleCancel(ctx context.Context, tx storage.Tx, ev *model.CancelEvent) error {
	if ev.Unit == 0 {
		return nil
	}
	order, b, err := orderBook(ctx, tx, ev.OrderID)
	if err != nil {
		return err
	}
	depthID := model.DepthID(b.ID, order.Tick)
	depth, err := storage.Find[model.Depth](ctx, tx, depthID)
	if err != nil {
		return err
	}

	// amounts are priced at the order's own tick, not the book's last price
	unit := uint256.NewInt(ev.Unit)
	quoteAmount := book.UnitToQuote(b.UnitSize, unit)
	baseAmount := book.UnitToBase(b.UnitSize, unit, order.PriceRaw)

	key := order.Key()
	order.UnitAmount = p.sub(order.UnitAmount, unit, "unit_amount", key)
	order.BaseAmount = p.sub(order.BaseAmount, baseAmount, "base_amount", key)
	order.QuoteAmount = p.sub(order.QuoteAmount, quoteAmount, "quote_amount", key)
	order.CancelableUnitAmount = p.sub(order.CancelableUnitAmount, unit, "cancelable_unit_amount", key)
	order.CancelableBaseAmount = p.sub(order.CancelableBaseAmount, baseAmount, "cancelable_base_amount", key)
	order.CancelableQuoteAmount = p.sub(order.CancelableQuoteAmount, quoteAmount, "cancelable_quote_amount", key)

	if depth == nil {
		p.logger.Warn("cancel without depth", zap.String("depth", depthID), zap.String("order", key))
	} else {
		depth.UnitAmount = p.sub(depth.UnitAmount, unit, "unit_amount", depthID)
		depth.BaseAmount = p.sub(depth.BaseAmount, baseAmount, "base_amount", depthID)
		depth.QuoteAmount = p.sub(depth.QuoteAmount, quoteAmount, "quote_amount", depthID)
		if err := tx.Put(ctx, depth); err != nil {
			return err
		}
	}

	return settle(ctx, tx, order)
}

func (p *Projector) handleClaim(ctx context.Context, tx storage.Tx, ev *model.ClaimEvent) error {
	if ev.Unit == 0 {
		return nil
	}
	order, b, err := orderBook(ctx, tx, ev.OrderID)
	if err != nil {
		return err
	}

	unit := uint256.NewInt(ev.Unit)
	quoteAmount := book.UnitToQuote(b.UnitSize, unit)
	baseAmount := book.UnitToBase(b.UnitSize, unit, order.PriceRaw)

	key := order.Key()
	order.ClaimedUnitAmount = add(order.ClaimedUnitAmount, unit)
	order.ClaimedBaseAmount = add(order.ClaimedBaseAmount, baseAmount)
	order.ClaimedQuoteAmount = add(order.ClaimedQuoteAmount, quoteAmount)
	order.ClaimableUnitAmount = p.sub(order.ClaimableUnitAmount, unit, "claimable_unit_amount", key)
	order.ClaimableBaseAmount = p.sub(order.ClaimableBaseAmount, baseAmount, "claimable_base_amount", key)
	order.ClaimableQuoteAmount = p.sub(order.ClaimableQuoteAmount, quoteAmount, "claimable_quote_amount", key)

	return settle(ctx, tx, order)
}

// handleTransfer moves order ownership. Mints and burns are covered by
// make, cancel and claim.
func (p *Projector) handleTransfer(ctx context.Context, tx storage.Tx, ev *model.TransferEvent) error {
	if strings.EqualFold(ev.From, model.ZeroAddress) || strings.EqualFold(ev.To, model.ZeroAddress) {
		return nil
	}
	order, err := findOrder(ctx, tx, ev.TokenID)
	if err != nil {
		return err
	}
	order.Owner = ev.To
	return tx.Put(ctx, order)
}
