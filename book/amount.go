// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package book

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// UnitToQuote converts units to a quote token amount.
func UnitToQuote(unitSize uint64, unitAmount *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(unitAmount, uint256.NewInt(unitSize))
}

// UnitToBase converts units to a base token amount at a raw Q96 price,
// truncating. A zero price yields zero.
func UnitToBase(unitSize uint64, unitAmount, price *uint256.Int) *uint256.Int {
	if price == nil || price.IsZero() {
		return new(uint256.Int)
	}
	z := UnitToQuote(unitSize, unitAmount)
	z.Lsh(z, 96)
	return z.Div(z, price)
}

// FormatUnits scales a raw token amount down by its decimals.
func FormatUnits(amount *uint256.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals))
}
