// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package model

import "github.com/holiman/uint256"

// Kind names a BookManager event.
type Kind string

const (
	KindOpen     Kind = "open"
	KindMake     Kind = "make"
	KindTake     Kind = "take"
	KindCancel   Kind = "cancel"
	KindClaim    Kind = "claim"
	KindTransfer Kind = "transfer"
)

// Event is a decoded BookManager log.
type Event interface {
	Kind() Kind
	Metadata() Meta
}

// Block is the block a log was emitted in.
type Block struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

// Transaction is the transaction a log was emitted by.
type Transaction struct {
	Hash string `json:"hash"`
	From string `json:"from"`
}

// Meta carries the origin of an event.
type Meta struct {
	Block       Block       `json:"block"`
	Transaction Transaction `json:"transaction"`
	LogIndex    uint64      `json:"logIndex"`
}

func (m Meta) Metadata() Meta { return m }

// OpenEvent is emitted when a book is opened.
type OpenEvent struct {
	Meta
	ID          *uint256.Int `json:"id"`
	Base        string       `json:"base"`
	Quote       string       `json:"quote"`
	UnitSize    uint64       `json:"unitSize"`
	MakerPolicy uint32       `json:"makerPolicy"`
	TakerPolicy uint32       `json:"takerPolicy"`
	Hooks       string       `json:"hooks"`
}

func (*OpenEvent) Kind() Kind { return KindOpen }

// MakeEvent is emitted when an order is placed.
type MakeEvent struct {
	Meta
	BookID     *uint256.Int `json:"bookId"`
	User       string       `json:"user"`
	Tick       int32        `json:"tick"`
	OrderIndex uint64       `json:"orderIndex"`
	Unit       uint64       `json:"unit"`
	Provider   string       `json:"provider"`
}

func (*MakeEvent) Kind() Kind { return KindMake }

// TakeEvent is emitted when resting liquidity at a tick is consumed.
type TakeEvent struct {
	Meta
	BookID *uint256.Int `json:"bookId"`
	User   string       `json:"user"`
	Tick   int32        `json:"tick"`
	Unit   uint64       `json:"unit"`
}

func (*TakeEvent) Kind() Kind { return KindTake }

// CancelEvent is emitted when units of an order are cancelled.
type CancelEvent struct {
	Meta
	OrderID *uint256.Int `json:"orderId"`
	Unit    uint64       `json:"unit"`
}

func (*CancelEvent) Kind() Kind { return KindCancel }

// ClaimEvent is emitted when filled units of an order are claimed.
type ClaimEvent struct {
	Meta
	OrderID *uint256.Int `json:"orderId"`
	Unit    uint64       `json:"unit"`
}

func (*ClaimEvent) Kind() Kind { return KindClaim }

// TransferEvent is the ERC721 transfer of an order.
type TransferEvent struct {
	Meta
	From    string       `json:"from"`
	To      string       `json:"to"`
	TokenID *uint256.Int `json:"tokenId"`
}

func (*TransferEvent) Kind() Kind { return KindTransfer }

// SetOrigin fills in the block timestamp and sender, which a log alone
// does not carry.
func (m *Meta) SetOrigin(timestamp uint64, from string) {
	m.Block.Timestamp = timestamp
	m.Transaction.From = from
}
