// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package book

import "github.com/holiman/uint256"

// EncodeOrderID packs an order id: orderIndex + (tick & 0xFFFFFF) << 40 + bookID << 64.
func EncodeOrderID(bookID *uint256.Int, tick int32, orderIndex uint64) *uint256.Int {
	id := new(uint256.Int).Lsh(bookID, 64)
	id.Add(id, uint256.NewInt(uint64(uint32(tick)&0xFFFFFF)<<40))
	return id.Add(id, uint256.NewInt(orderIndex))
}

// DecodeBookID recovers the book id from an order id.
func DecodeBookID(orderID *uint256.Int) *uint256.Int {
	return new(uint256.Int).Rsh(orderID, 64)
}
