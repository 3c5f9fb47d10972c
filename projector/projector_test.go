// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package projector_test

import (
	"context"

	"github.com/holiman/uint256"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/projector"
	"github.com/luxfi/clob-indexer/storage"
	"github.com/luxfi/clob-indexer/storage/kv"
	"github.com/luxfi/clob-indexer/telemetry"
)

const (
	baseAddr  = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	quoteAddr = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
	maker     = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	taker     = "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"

	unitSize = 1000
	// 1699999980 is a multiple of 60
	t0 = 1699999980
)

// fakeResolver serves metadata from a fixed table.
type fakeResolver map[string]model.Token

func (r fakeResolver) Symbol(_ context.Context, addr string) string { return r[addr].Symbol }
func (r fakeResolver) Name(_ context.Context, addr string) string   { return r[addr].Name }
func (r fakeResolver) Decimals(_ context.Context, addr string) (uint8, bool) {
	t, ok := r[addr]
	return t.Decimals, ok
}

func meta(block, ts uint64) model.Meta {
	return model.Meta{
		Block:       model.Block{Number: block, Timestamp: ts},
		Transaction: model.Transaction{Hash: "0xfeed", From: maker},
	}
}

var _ = Describe("Projector", func() {
	var (
		ctx      context.Context
		store    storage.Store
		resolver fakeResolver
		proj     *projector.Projector
		bookID   *uint256.Int
		block    uint64
	)

	apply := func(events ...model.Event) {
		GinkgoHelper()
		for _, ev := range events {
			Expect(proj.Handle(ctx, ev)).To(Succeed())
		}
	}

	next := func(ts uint64) model.Meta {
		block++
		return meta(block, ts)
	}

	open := func() *model.OpenEvent {
		return &model.OpenEvent{
			Meta:        next(t0),
			ID:          bookID,
			Base:        baseAddr,
			Quote:       quoteAddr,
			UnitSize:    unitSize,
			MakerPolicy: 1<<23 | 499700,
			TakerPolicy: 500300,
			Hooks:       model.ZeroAddress,
		}
	}

	makeAt := func(tick int32, index, unit uint64) *model.MakeEvent {
		return &model.MakeEvent{
			Meta:       next(t0),
			BookID:     bookID,
			User:       maker,
			Tick:       tick,
			OrderIndex: index,
			Unit:       unit,
			Provider:   model.ZeroAddress,
		}
	}

	takeAt := func(tick int32, unit, ts uint64) *model.TakeEvent {
		return &model.TakeEvent{Meta: next(ts), BookID: bookID, User: taker, Tick: tick, Unit: unit}
	}

	orderID := func(tick int32, index uint64) *uint256.Int {
		return book.EncodeOrderID(bookID, tick, index)
	}

	findOrder := func(tick int32, index uint64) *model.OpenOrder {
		GinkgoHelper()
		o, err := storage.Find[model.OpenOrder](ctx, store, orderID(tick, index).Dec())
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	findDepth := func(tick int32) *model.Depth {
		GinkgoHelper()
		d, err := storage.Find[model.Depth](ctx, store, model.DepthID(bookID, tick))
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	findBook := func() *model.Book {
		GinkgoHelper()
		b, err := storage.Find[model.Book](ctx, store, bookID.Dec())
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = kv.NewMemory()
		Expect(store.Init(ctx)).To(Succeed())
		resolver = fakeResolver{
			baseAddr:  {Address: baseAddr, Symbol: "WMON", Name: "Wrapped Monad", Decimals: 18},
			quoteAddr: {Address: quoteAddr, Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		}
		proj = projector.New(store, resolver, nil)
		bookID = uint256.NewInt(42)
		block = 100
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("Open", func() {
		It("creates the book and both tokens", func() {
			apply(open())

			b := findBook()
			Expect(b).NotTo(BeNil())
			Expect(b.Base).To(Equal(baseAddr))
			Expect(b.BaseSymbol).To(Equal("WMON"))
			Expect(b.QuoteDecimals).To(Equal(uint8(6)))
			Expect(b.UnitSize).To(Equal(uint64(unitSize)))
			Expect(b.MakerFee.Equal(decimal.RequireFromString("-0.0003"))).To(BeTrue())
			Expect(b.IsMakerFeeInQuote).To(BeTrue())
			Expect(b.TakerFee.Equal(decimal.RequireFromString("0.0003"))).To(BeTrue())
			Expect(b.IsTakerFeeInQuote).To(BeFalse())
			Expect(b.PriceRaw.IsZero()).To(BeTrue())
			Expect(b.CreatedAtBlockNumber).To(Equal(uint64(101)))

			tok, err := storage.Find[model.Token](ctx, store, quoteAddr)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).NotTo(BeNil())
			Expect(tok.Symbol).To(Equal("USDC"))
		})

		It("drops the book when decimals cannot be resolved", func() {
			delete(resolver, baseAddr)
			before := testutil.ToFloat64(telemetry.EventsDroppedCounter.WithLabelValues("open", "unresolved_decimals"))

			apply(open())

			Expect(findBook()).To(BeNil())
			tok, err := storage.Find[model.Token](ctx, store, quoteAddr)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(BeNil(), "no partial token write")
			after := testutil.ToFloat64(telemetry.EventsDroppedCounter.WithLabelValues("open", "unresolved_decimals"))
			Expect(after - before).To(Equal(1.0))
		})
	})

	Describe("Make", func() {
		BeforeEach(func() {
			apply(open())
		})

		It("places a fully cancelable order and opens the depth", func() {
			apply(makeAt(0, 0, 100))

			o := findOrder(0, 0)
			Expect(o).NotTo(BeNil())
			Expect(o.Owner).To(Equal(maker))
			Expect(o.Origin).To(Equal(maker))
			Expect(o.UnitAmount.Uint64()).To(Equal(uint64(100)))
			Expect(o.QuoteAmount.Uint64()).To(Equal(uint64(100 * unitSize)))
			// tick 0 is a price of exactly 2^96
			Expect(o.BaseAmount.Uint64()).To(Equal(uint64(100 * unitSize)))
			Expect(o.CancelableUnitAmount.Uint64()).To(Equal(uint64(100)))
			Expect(o.FilledUnitAmount.IsZero()).To(BeTrue())
			Expect(o.ClaimableUnitAmount.IsZero()).To(BeTrue())
			Expect(o.Price.Equal(book.FormatPrice(o.PriceRaw, 18, 6))).To(BeTrue())

			d := findDepth(0)
			Expect(d).NotTo(BeNil())
			Expect(d.UnitAmount.Uint64()).To(Equal(uint64(100)))
			Expect(d.LatestTakenOrderIndex).To(BeZero())
			Expect(d.NextOrderIndex).To(Equal(uint64(1)))
		})

		It("accumulates depth across orders at one tick", func() {
			apply(makeAt(-10, 0, 100), makeAt(-10, 1, 50), makeAt(-10, 2, 25))

			d := findDepth(-10)
			Expect(d.UnitAmount.Uint64()).To(Equal(uint64(175)))
			Expect(d.QuoteAmount.Uint64()).To(Equal(uint64(175 * unitSize)))
			Expect(d.NextOrderIndex).To(Equal(uint64(3)))
		})

		It("drops orders for unknown books", func() {
			bookID = uint256.NewInt(7)
			apply(makeAt(0, 0, 100))

			Expect(findOrder(0, 0)).To(BeNil())
			Expect(findDepth(0)).To(BeNil())
		})
	})

	Describe("Take", func() {
		BeforeEach(func() {
			apply(open())
		})

		It("ignores zero-unit takes", func() {
			apply(makeAt(0, 0, 100), takeAt(0, 0, t0))
			Expect(findBook().PriceRaw.IsZero()).To(BeTrue())
			Expect(findDepth(0).UnitAmount.Uint64()).To(Equal(uint64(100)))
		})

		It("moves the book price and drains the depth", func() {
			apply(makeAt(100, 0, 100), takeAt(100, 40, t0+5))

			b := findBook()
			raw, err := book.TickToPrice(100)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.PriceRaw.Eq(raw)).To(BeTrue())
			Expect(b.Tick).To(Equal(int32(100)))
			Expect(b.LastTakenTimestamp).To(Equal(uint64(t0 + 5)))
			Expect(b.Price.Equal(book.FormatPrice(raw, 18, 6))).To(BeTrue())
			Expect(b.InversePrice.Equal(book.FormatInvertedPrice(raw, 6, 18))).To(BeTrue())

			Expect(findDepth(100).UnitAmount.Uint64()).To(Equal(uint64(60)))
		})

		It("fills orders first in, first out and carries the excess to the next order", func() {
			apply(
				makeAt(0, 0, 100),
				makeAt(0, 1, 50),
				takeAt(0, 40, t0),
			)
			first := findOrder(0, 0)
			Expect(first.FilledUnitAmount.Uint64()).To(Equal(uint64(40)))
			Expect(first.ClaimableUnitAmount.Uint64()).To(Equal(uint64(40)))
			Expect(first.CancelableUnitAmount.Uint64()).To(Equal(uint64(60)))
			Expect(findDepth(0).LatestTakenOrderIndex).To(BeZero())

			apply(takeAt(0, 70, t0))

			first = findOrder(0, 0)
			Expect(first.FilledUnitAmount.Uint64()).To(Equal(uint64(100)), "no overfill")
			Expect(first.CancelableUnitAmount.IsZero()).To(BeTrue())
			Expect(first.ClaimableQuoteAmount.Uint64()).To(Equal(uint64(100 * unitSize)))

			second := findOrder(0, 1)
			Expect(second.FilledUnitAmount.Uint64()).To(Equal(uint64(10)))
			Expect(second.CancelableUnitAmount.Uint64()).To(Equal(uint64(40)))

			d := findDepth(0)
			Expect(d.LatestTakenOrderIndex).To(Equal(uint64(1)))
			Expect(d.UnitAmount.Uint64()).To(Equal(uint64(40)))
		})

		It("skips cancelled slots", func() {
			apply(
				makeAt(0, 0, 10),
				makeAt(0, 1, 10),
				makeAt(0, 2, 10),
				&model.CancelEvent{Meta: next(t0), OrderID: orderID(0, 1), Unit: 10},
			)
			Expect(findOrder(0, 1)).To(BeNil())

			apply(takeAt(0, 15, t0))

			Expect(findOrder(0, 0).FilledUnitAmount.Uint64()).To(Equal(uint64(10)))
			Expect(findOrder(0, 2).FilledUnitAmount.Uint64()).To(Equal(uint64(5)))
			Expect(findDepth(0).LatestTakenOrderIndex).To(Equal(uint64(2)))
			Expect(findDepth(0).UnitAmount.Uint64()).To(Equal(uint64(5)))
		})

		It("caps a partially cancelled order at its remaining units", func() {
			apply(
				makeAt(0, 0, 100),
				&model.CancelEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 60},
				makeAt(0, 1, 100),
				takeAt(0, 50, t0),
			)

			first := findOrder(0, 0)
			Expect(first.UnitAmount.Uint64()).To(Equal(uint64(40)))
			Expect(first.FilledUnitAmount.Uint64()).To(Equal(uint64(40)))
			Expect(first.CancelableUnitAmount.IsZero()).To(BeTrue())
			Expect(first.ClaimableUnitAmount.Uint64()).To(Equal(uint64(40)))

			second := findOrder(0, 1)
			Expect(second.FilledUnitAmount.Uint64()).To(Equal(uint64(10)))
			Expect(second.CancelableUnitAmount.Uint64()).To(Equal(uint64(90)))

			d := findDepth(0)
			Expect(d.UnitAmount.Uint64()).To(Equal(uint64(90)))
			Expect(d.LatestTakenOrderIndex).To(Equal(uint64(1)))
		})

		It("stops at the last placed order and never drives depth negative", func() {
			apply(makeAt(0, 0, 100), takeAt(0, 40, t0), takeAt(0, 70, t0))

			Expect(findOrder(0, 0).FilledUnitAmount.Uint64()).To(Equal(uint64(100)))
			d := findDepth(0)
			Expect(d.LatestTakenOrderIndex).To(Equal(uint64(1)))
			Expect(d.UnitAmount.IsZero()).To(BeTrue())
			Expect(d.BaseAmount.IsZero()).To(BeTrue())
			Expect(d.QuoteAmount.IsZero()).To(BeTrue())
		})

		It("drops takes without depth", func() {
			apply(takeAt(5, 10, t0))
			Expect(findBook().PriceRaw.IsZero()).To(BeTrue())
		})

		It("drops takes at invalid ticks", func() {
			apply(takeAt(book.MaxTick+1, 10, t0))
			Expect(findBook().PriceRaw.IsZero()).To(BeTrue())
		})

		Describe("candles", func() {
			minute := func(base, quote string, bucket uint64) *model.ChartLog {
				GinkgoHelper()
				c, err := storage.Find[model.ChartLog](ctx, store, book.ChartLogID(base, quote, "1m", bucket))
				Expect(err).NotTo(HaveOccurred())
				return c
			}

			BeforeEach(func() {
				apply(makeAt(0, 0, 1000), makeAt(100, 0, 1000))
			})

			It("aggregates takes within one bucket", func() {
				apply(takeAt(0, 10, t0), takeAt(100, 20, t0+30))

				low := book.FormatPrice(mustPrice(0), 18, 6)
				high := book.FormatPrice(mustPrice(100), 18, 6)

				c := minute(baseAddr, quoteAddr, t0)
				Expect(c).NotTo(BeNil())
				Expect(c.MarketCode).To(Equal(baseAddr + "-" + quoteAddr))
				Expect(c.Open.Equal(low)).To(BeTrue())
				Expect(c.Low.Equal(low)).To(BeTrue())
				Expect(c.High.Equal(high)).To(BeTrue())
				Expect(c.Close.Equal(high)).To(BeTrue())
				Expect(c.BidBookBaseVolume.Equal(c.BaseVolume)).To(BeTrue())
				Expect(c.AskBookBaseVolume.IsZero()).To(BeTrue())

				// quote volume of 30 units, in whole quote tokens
				inv := minute(quoteAddr, baseAddr, t0)
				Expect(inv).NotTo(BeNil())
				Expect(inv.BaseVolume.Equal(decimal.New(30*unitSize, -6))).To(BeTrue())
				Expect(inv.AskBookBaseVolume.Equal(inv.BaseVolume)).To(BeTrue())
				Expect(inv.Open.Equal(book.FormatInvertedPrice(mustPrice(0), 6, 18))).To(BeTrue())
				Expect(inv.Close.Equal(findBook().InversePrice)).To(BeTrue())
			})

			It("starts a new bucket after the interval", func() {
				apply(takeAt(0, 10, t0), takeAt(100, 20, t0+61))

				first := minute(baseAddr, quoteAddr, t0)
				second := minute(baseAddr, quoteAddr, t0+60)
				Expect(first).NotTo(BeNil())
				Expect(second).NotTo(BeNil())
				Expect(first.Close.Equal(first.Open)).To(BeTrue())
				Expect(second.Open.Equal(book.FormatPrice(mustPrice(100), 18, 6))).To(BeTrue())

				// both takes share the hourly candle
				hour, err := storage.Find[model.ChartLog](ctx, store, book.ChartLogID(baseAddr, quoteAddr, "1h", t0/3600*3600))
				Expect(err).NotTo(HaveOccurred())
				Expect(hour.BaseVolume.Equal(first.BaseVolume.Add(second.BaseVolume))).To(BeTrue())
			})
		})
	})

	Describe("order lifecycle", func() {
		BeforeEach(func() {
			apply(open(), makeAt(0, 0, 100))
		})

		It("deletes the order once cancelled and claimed", func() {
			apply(takeAt(0, 30, t0))
			apply(&model.CancelEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 70})

			o := findOrder(0, 0)
			Expect(o).NotTo(BeNil(), "filled units are still claimable")
			Expect(o.UnitAmount.Uint64()).To(Equal(uint64(30)))
			Expect(o.CancelableUnitAmount.IsZero()).To(BeTrue())
			Expect(o.ClaimableUnitAmount.Uint64()).To(Equal(uint64(30)))
			Expect(findDepth(0).UnitAmount.IsZero()).To(BeTrue())

			apply(&model.ClaimEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 20})
			o = findOrder(0, 0)
			Expect(o.ClaimedUnitAmount.Uint64()).To(Equal(uint64(20)))
			Expect(o.ClaimedQuoteAmount.Uint64()).To(Equal(uint64(20 * unitSize)))
			Expect(o.ClaimableUnitAmount.Uint64()).To(Equal(uint64(10)))

			apply(&model.ClaimEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 10})
			Expect(findOrder(0, 0)).To(BeNil())
		})

		It("keeps a partially cancelled order", func() {
			apply(&model.CancelEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 40})

			o := findOrder(0, 0)
			Expect(o.UnitAmount.Uint64()).To(Equal(uint64(60)))
			Expect(o.CancelableQuoteAmount.Uint64()).To(Equal(uint64(60 * unitSize)))
			Expect(findDepth(0).UnitAmount.Uint64()).To(Equal(uint64(60)))
		})

		It("ignores zero-unit cancels and claims", func() {
			apply(
				&model.CancelEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 0},
				&model.ClaimEvent{Meta: next(t0), OrderID: orderID(0, 0), Unit: 0},
			)
			Expect(findOrder(0, 0).CancelableUnitAmount.Uint64()).To(Equal(uint64(100)))
		})

		It("drops cancels of unknown orders", func() {
			apply(&model.CancelEvent{Meta: next(t0), OrderID: orderID(0, 9), Unit: 5})
			Expect(findDepth(0).UnitAmount.Uint64()).To(Equal(uint64(100)))
		})

		It("transfers ownership", func() {
			apply(&model.TransferEvent{Meta: next(t0), From: maker, To: taker, TokenID: orderID(0, 0)})
			Expect(findOrder(0, 0).Owner).To(Equal(taker))
		})

		It("ignores mints and burns", func() {
			apply(
				&model.TransferEvent{Meta: next(t0), From: model.ZeroAddress, To: taker, TokenID: orderID(0, 0)},
				&model.TransferEvent{Meta: next(t0), From: maker, To: "0x0000000000000000000000000000000000000000", TokenID: orderID(0, 0)},
			)
			Expect(findOrder(0, 0).Owner).To(Equal(maker))
		})
	})

	Describe("Apply", func() {
		It("leaves no writes from a dropped event in a shared transaction", func() {
			apply(open())

			tx, err := store.Begin(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(proj.Apply(ctx, tx, makeAt(0, 0, 100))).To(Succeed())
			// unknown book: dropped
			other := &model.MakeEvent{Meta: next(t0), BookID: uint256.NewInt(9), User: maker, Tick: 0, OrderIndex: 1, Unit: 5}
			Expect(proj.Apply(ctx, tx, other)).To(Succeed())
			Expect(tx.Commit()).To(Succeed())

			Expect(findOrder(0, 0)).NotTo(BeNil())
			o, err := storage.Find[model.OpenOrder](ctx, store, book.EncodeOrderID(uint256.NewInt(9), 0, 1).Dec())
			Expect(err).NotTo(HaveOccurred())
			Expect(o).To(BeNil())
		})
	})
})

func mustPrice(tick int32) *uint256.Int {
	p, err := book.TickToPrice(tick)
	Expect(err).NotTo(HaveOccurred())
	return p
}
