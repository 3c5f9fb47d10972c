// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package model defines the indexed entities of the order book and the
// BookManager events that drive them.
package model

import (
	"strconv"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/luxfi/clob-indexer/storage"
)

// ZeroAddress is the EIP-55 form of the zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Token is an ERC20 (or the native currency at the zero address).
type Token struct {
	Address  string `db:"address" json:"address"`
	Symbol   string `db:"symbol" json:"symbol"`
	Name     string `db:"name" json:"name"`
	Decimals uint8  `db:"decimals" json:"decimals"`
}

func (*Token) Collection() storage.Collection { return storage.CollectionTokens }
func (t *Token) Key() string                  { return t.Address }

// Book is an order book opened on the BookManager.
type Book struct {
	ID                   *uint256.Int `db:"id" json:"id"`
	CreatedAtTimestamp   uint64       `db:"created_at_timestamp" json:"createdAtTimestamp"`
	CreatedAtBlockNumber uint64       `db:"created_at_block_number" json:"createdAtBlockNumber"`

	Quote         string `db:"quote" json:"quote"`
	QuoteSymbol   string `db:"quote_symbol" json:"quoteSymbol"`
	QuoteName     string `db:"quote_name" json:"quoteName"`
	QuoteDecimals uint8  `db:"quote_decimals" json:"quoteDecimals"`
	Base          string `db:"base" json:"base"`
	BaseSymbol    string `db:"base_symbol" json:"baseSymbol"`
	BaseName      string `db:"base_name" json:"baseName"`
	BaseDecimals  uint8  `db:"base_decimals" json:"baseDecimals"`

	UnitSize          uint64          `db:"unit_size" json:"unitSize"`
	MakerPolicy       uint32          `db:"maker_policy" json:"makerPolicy"`
	MakerFee          decimal.Decimal `db:"maker_fee" json:"makerFee"`
	IsMakerFeeInQuote bool            `db:"is_maker_fee_in_quote" json:"isMakerFeeInQuote"`
	TakerPolicy       uint32          `db:"taker_policy" json:"takerPolicy"`
	TakerFee          decimal.Decimal `db:"taker_fee" json:"takerFee"`
	IsTakerFeeInQuote bool            `db:"is_taker_fee_in_quote" json:"isTakerFeeInQuote"`
	Hooks             string          `db:"hooks" json:"hooks"`

	// Market state, updated on every take.
	PriceRaw             *uint256.Int    `db:"price_raw" json:"priceRaw"`
	Price                decimal.Decimal `db:"price" json:"price"`
	InversePrice         decimal.Decimal `db:"inverse_price" json:"inversePrice"`
	Tick                 int32           `db:"tick" json:"tick"`
	LastTakenTimestamp   uint64          `db:"last_taken_timestamp" json:"lastTakenTimestamp"`
	LastTakenBlockNumber uint64          `db:"last_taken_block_number" json:"lastTakenBlockNumber"`
}

func (*Book) Collection() storage.Collection { return storage.CollectionBooks }
func (b *Book) Key() string                  { return b.ID.Dec() }

// Depth is the open liquidity resting at one tick of a book.
type Depth struct {
	ID           string          `db:"id" json:"id"`
	Book         *uint256.Int    `db:"book" json:"book"`
	Tick         int32           `db:"tick" json:"tick"`
	PriceRaw     *uint256.Int    `db:"price_raw" json:"priceRaw"`
	Price        decimal.Decimal `db:"price" json:"price"`
	InversePrice decimal.Decimal `db:"inverse_price" json:"inversePrice"`
	UnitAmount   *uint256.Int    `db:"unit_amount" json:"unitAmount"`
	BaseAmount   *uint256.Int    `db:"base_amount" json:"baseAmount"`
	QuoteAmount  *uint256.Int    `db:"quote_amount" json:"quoteAmount"`

	// LatestTakenOrderIndex is where the next take resumes its FIFO scan.
	LatestTakenOrderIndex uint64 `db:"latest_taken_order_index" json:"latestTakenOrderIndex"`
	// NextOrderIndex is one past the highest order index made at this tick.
	NextOrderIndex uint64 `db:"next_order_index" json:"nextOrderIndex"`
}

func (*Depth) Collection() storage.Collection { return storage.CollectionDepths }
func (d *Depth) Key() string                  { return d.ID }

// DepthID keys a depth row by book and tick.
func DepthID(bookID *uint256.Int, tick int32) string {
	return bookID.Dec() + "-" + strconv.FormatInt(int64(tick), 10)
}

// DepthPrefix matches every depth row of a book.
func DepthPrefix(bookID *uint256.Int) string {
	return bookID.Dec() + "-"
}

// OpenOrder is a resting order that still has something to cancel or claim.
type OpenOrder struct {
	ID          *uint256.Int `db:"id" json:"id"`
	Transaction string       `db:"transaction_hash" json:"transaction"`
	Timestamp   uint64       `db:"timestamp" json:"timestamp"`
	Book        *uint256.Int `db:"book" json:"book"`

	Quote         string `db:"quote" json:"quote"`
	QuoteSymbol   string `db:"quote_symbol" json:"quoteSymbol"`
	QuoteName     string `db:"quote_name" json:"quoteName"`
	QuoteDecimals uint8  `db:"quote_decimals" json:"quoteDecimals"`
	Base          string `db:"base" json:"base"`
	BaseSymbol    string `db:"base_symbol" json:"baseSymbol"`
	BaseName      string `db:"base_name" json:"baseName"`
	BaseDecimals  uint8  `db:"base_decimals" json:"baseDecimals"`

	UnitSize     uint64          `db:"unit_size" json:"unitSize"`
	Origin       string          `db:"origin" json:"origin"`
	Owner        string          `db:"owner" json:"owner"`
	PriceRaw     *uint256.Int    `db:"price_raw" json:"priceRaw"`
	Tick         int32           `db:"tick" json:"tick"`
	OrderIndex   uint64          `db:"order_index" json:"orderIndex"`
	Price        decimal.Decimal `db:"price" json:"price"`
	InversePrice decimal.Decimal `db:"inverse_price" json:"inversePrice"`

	// Current size, reduced by cancels.
	UnitAmount  *uint256.Int `db:"unit_amount" json:"unitAmount"`
	BaseAmount  *uint256.Int `db:"base_amount" json:"baseAmount"`
	QuoteAmount *uint256.Int `db:"quote_amount" json:"quoteAmount"`

	FilledUnitAmount      *uint256.Int `db:"filled_unit_amount" json:"filledUnitAmount"`
	FilledBaseAmount      *uint256.Int `db:"filled_base_amount" json:"filledBaseAmount"`
	FilledQuoteAmount     *uint256.Int `db:"filled_quote_amount" json:"filledQuoteAmount"`
	ClaimedUnitAmount     *uint256.Int `db:"claimed_unit_amount" json:"claimedUnitAmount"`
	ClaimedBaseAmount     *uint256.Int `db:"claimed_base_amount" json:"claimedBaseAmount"`
	ClaimedQuoteAmount    *uint256.Int `db:"claimed_quote_amount" json:"claimedQuoteAmount"`
	ClaimableUnitAmount   *uint256.Int `db:"claimable_unit_amount" json:"claimableUnitAmount"`
	ClaimableBaseAmount   *uint256.Int `db:"claimable_base_amount" json:"claimableBaseAmount"`
	ClaimableQuoteAmount  *uint256.Int `db:"claimable_quote_amount" json:"claimableQuoteAmount"`
	CancelableUnitAmount  *uint256.Int `db:"cancelable_unit_amount" json:"cancelableUnitAmount"`
	CancelableBaseAmount  *uint256.Int `db:"cancelable_base_amount" json:"cancelableBaseAmount"`
	CancelableQuoteAmount *uint256.Int `db:"cancelable_quote_amount" json:"cancelableQuoteAmount"`
}

func (*OpenOrder) Collection() storage.Collection { return storage.CollectionOpenOrders }
func (o *OpenOrder) Key() string                  { return o.ID.Dec() }

// Pending is what the owner can still cancel or claim, in units.
// The order is settled once it reaches zero.
func (o *OpenOrder) Pending() *uint256.Int {
	return new(uint256.Int).Add(o.CancelableUnitAmount, o.ClaimableUnitAmount)
}

// ChartLog is one OHLCV candle of a market direction.
type ChartLog struct {
	ID                string          `db:"id" json:"id"`
	MarketCode        string          `db:"market_code" json:"marketCode"`
	Base              string          `db:"base" json:"base"`
	Quote             string          `db:"quote" json:"quote"`
	IntervalType      string          `db:"interval_type" json:"intervalType"`
	Timestamp         uint64          `db:"timestamp" json:"timestamp"`
	Open              decimal.Decimal `db:"open" json:"open"`
	High              decimal.Decimal `db:"high" json:"high"`
	Low               decimal.Decimal `db:"low" json:"low"`
	Close             decimal.Decimal `db:"close" json:"close"`
	BaseVolume        decimal.Decimal `db:"base_volume" json:"baseVolume"`
	BidBookBaseVolume decimal.Decimal `db:"bid_book_base_volume" json:"bidBookBaseVolume"`
	AskBookBaseVolume decimal.Decimal `db:"ask_book_base_volume" json:"askBookBaseVolume"`
}

func (*ChartLog) Collection() storage.Collection { return storage.CollectionChartLogs }
func (c *ChartLog) Key() string                  { return c.ID }

// Cursor records the last block fully applied for a chain.
type Cursor struct {
	ID          string `db:"id" json:"id"`
	BlockNumber uint64 `db:"block_number" json:"blockNumber"`
}

func (*Cursor) Collection() storage.Collection { return storage.CollectionCursors }
func (c *Cursor) Key() string                  { return c.ID }

// CursorID keys the cursor of a chain.
func CursorID(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
