// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package book

import "github.com/shopspring/decimal"

const (
	feeRateMask   = 0x7FFFFF
	feeRateOffset = 500000
	feeInQuoteBit = 23
)

// FeeRate decodes the signed fee rate of a packed fee policy.
// The result is ((policy & 0x7FFFFF) - 500000) / 1e6.
func FeeRate(policy uint32) decimal.Decimal {
	return decimal.New(int64(policy&feeRateMask)-feeRateOffset, -6)
}

// FeeInQuote reports whether a fee policy charges fees in the quote token.
func FeeInQuote(policy uint32) bool {
	return policy>>feeInQuoteBit != 0
}
