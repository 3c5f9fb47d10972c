// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package evm

import (
	"encoding/hex"
	"strings"
)

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address.
// Input that is not a 20-byte hex address is returned unchanged.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if len(lower) != 40 {
		return addr
	}
	if _, err := hex.DecodeString(lower); err != nil {
		return addr
	}

	hash := hex.EncodeToString(Keccak256([]byte(lower)))
	out := make([]byte, 42)
	out[0], out[1] = '0', 'x'
	for i := 0; i < 40; i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			c -= 'a' - 'A'
		}
		out[i+2] = c
	}
	return string(out)
}

// IsZeroAddress reports whether addr is the zero address in any letter case.
func IsZeroAddress(addr string) bool {
	return strings.EqualFold(addr, "0x0000000000000000000000000000000000000000")
}
