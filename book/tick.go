// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package book implements the fixed-point arithmetic of the order book:
// Q96 tick prices, fee policies, order ids, unit conversion and candle buckets.
package book

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// MaxTick is the largest tick accepted by TickToPrice.
	MaxTick = 524287
	// MinTick is the smallest tick accepted by TickToPrice.
	MinTick = -MaxTick

	// PricePrecision is the minimum number of significant digits kept
	// when a raw price is rendered as a decimal.
	PricePrecision = 100
)

// ErrInvalidTick is returned for ticks outside [MinTick, MaxTick].
var ErrInvalidTick = errors.New("invalid tick")

var (
	// Q96 is 2^96, the fixed-point scale of raw prices.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	maxRatio = uint256.MustFromDecimal("6277101735386680763835789423207666416102355444464034512896")

	q96Big = Q96.ToBig()
)

// tickRatios[i] is 1.0001^-(2^i) in Q96.
var tickRatios = [20]*uint256.Int{
	uint256.MustFromDecimal("79220240490215316061937756560"),
	uint256.MustFromDecimal("79212319258289487113226433916"),
	uint256.MustFromDecimal("79196479170490597288862688490"),
	uint256.MustFromDecimal("79164808496886665658930780291"),
	uint256.MustFromDecimal("79101505139923049997807806614"),
	uint256.MustFromDecimal("78975050245229982702767995059"),
	uint256.MustFromDecimal("78722746600537056721934508529"),
	uint256.MustFromDecimal("78220554859095770638340573243"),
	uint256.MustFromDecimal("77225761753129597550065289036"),
	uint256.MustFromDecimal("75273969370139069689486932537"),
	uint256.MustFromDecimal("71517125791179246722882903167"),
	uint256.MustFromDecimal("64556580881331167221767657719"),
	uint256.MustFromDecimal("52601903197458624361810746399"),
	uint256.MustFromDecimal("34923947901690145425342545398"),
	uint256.MustFromDecimal("15394552875315951095595078917"),
	uint256.MustFromDecimal("2991262837734375505310244436"),
	uint256.MustFromDecimal("112935262922445818024280873"),
	uint256.MustFromDecimal("160982827401375763736068"),
	uint256.MustFromDecimal("327099227039063106"),
	uint256.MustFromDecimal("1350452"),
}

// TickToPrice returns the Q96 price of a tick, 1.0001^tick * 2^96.
func TickToPrice(tick int32) (*uint256.Int, error) {
	if tick > MaxTick || tick < MinTick {
		return nil, ErrInvalidTick
	}

	abs := uint32(tick)
	if tick < 0 {
		abs = uint32(-tick)
	}

	price := new(uint256.Int)
	if abs&1 != 0 {
		price.Set(tickRatios[0])
	} else {
		price.Set(Q96)
	}
	for i := 1; i < 19; i++ {
		if abs&(1<<i) != 0 {
			price.Mul(price, tickRatios[i])
			price.Rsh(price, 96)
		}
	}

	if tick > 0 {
		price.Div(maxRatio, price)
	}
	return price, nil
}

// FormatPrice renders a raw Q96 price as quote per base in whole tokens:
// raw / 2^96 * 10^baseDecimals / 10^quoteDecimals.
func FormatPrice(raw *uint256.Int, baseDecimals, quoteDecimals uint8) decimal.Decimal {
	if raw == nil || raw.IsZero() {
		return decimal.Zero
	}
	num := new(big.Int).Mul(raw.ToBig(), pow10(baseDecimals))
	den := new(big.Int).Mul(q96Big, pow10(quoteDecimals))
	return quo(num, den)
}

// FormatInvertedPrice is the reciprocal of FormatPrice(raw, quoteDecimals, baseDecimals).
// A zero price has a zero inverse.
func FormatInvertedPrice(raw *uint256.Int, baseDecimals, quoteDecimals uint8) decimal.Decimal {
	if raw == nil || raw.IsZero() {
		return decimal.Zero
	}
	num := new(big.Int).Mul(q96Big, pow10(baseDecimals))
	den := new(big.Int).Mul(raw.ToBig(), pow10(quoteDecimals))
	return quo(num, den)
}

// quo divides with enough fractional places to keep PricePrecision
// significant digits, and never fewer than PricePrecision places.
func quo(num, den *big.Int) decimal.Decimal {
	places := PricePrecision + 1 + len(den.String()) - len(num.String())
	if places < PricePrecision {
		places = PricePrecision
	}
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), int32(places))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
