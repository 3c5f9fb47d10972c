// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package evm

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/luxfi/clob-indexer/model"
)

// BookManager event signatures
const (
	SigOpen     = "Open(uint192,address,address,uint64,uint24,uint24,address)"
	SigMake     = "Make(uint192,address,int24,uint256,uint64,address)"
	SigTake     = "Take(uint192,address,int24,uint64)"
	SigCancel   = "Cancel(uint256,uint64)"
	SigClaim    = "Claim(uint256,uint64)"
	SigTransfer = "Transfer(address,address,uint256)"
)

// Event topic ids
var (
	TopicOpen     = EventTopic(SigOpen)
	TopicMake     = EventTopic(SigMake)
	TopicTake     = EventTopic(SigTake)
	TopicCancel   = EventTopic(SigCancel)
	TopicClaim    = EventTopic(SigClaim)
	TopicTransfer = EventTopic(SigTransfer)
)

// Topics lists every topic id the source subscribes to.
func Topics() []string {
	return []string{TopicOpen, TopicMake, TopicTake, TopicCancel, TopicClaim, TopicTransfer}
}

var (
	// ErrUnknownEvent is returned for logs whose topic0 is not a BookManager event.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedLog is returned when topics or data do not match the event layout.
	ErrMalformedLog = errors.New("malformed log")
)

// Keccak256 hashes data with legacy Keccak-256.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// EventTopic returns the topic id of an event signature.
func EventTopic(signature string) string {
	return "0x" + hex.EncodeToString(Keccak256([]byte(signature)))
}

// DecodeLog decodes a BookManager log into an event. Block timestamp and
// transaction sender are left for the caller to fill in.
func DecodeLog(l Log) (model.Event, error) {
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrMalformedLog)
	}
	topics := make([][]byte, len(l.Topics))
	for i, t := range l.Topics {
		b, err := decodeWord(t)
		if err != nil {
			return nil, fmt.Errorf("%w: topic %d: %v", ErrMalformedLog, i, err)
		}
		topics[i] = b
	}
	data, err := hex.DecodeString(strings.TrimPrefix(l.Data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedLog, err)
	}
	words := make([][]byte, 0, len(data)/32)
	for i := 0; i+32 <= len(data); i += 32 {
		words = append(words, data[i:i+32])
	}

	meta, err := logMeta(l)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(l.Topics[0]) {
	case TopicOpen:
		if err := expect(topics, words, 4, 4); err != nil {
			return nil, err
		}
		return &model.OpenEvent{
			Meta:        meta,
			ID:          wordToUint256(topics[1]),
			Base:        wordToAddress(topics[2]),
			Quote:       wordToAddress(topics[3]),
			UnitSize:    wordToUint64(words[0]),
			MakerPolicy: wordToUint32(words[1]),
			TakerPolicy: wordToUint32(words[2]),
			Hooks:       wordToAddress(words[3]),
		}, nil
	case TopicMake:
		if err := expect(topics, words, 3, 4); err != nil {
			return nil, err
		}
		return &model.MakeEvent{
			Meta:       meta,
			BookID:     wordToUint256(topics[1]),
			User:       wordToAddress(topics[2]),
			Tick:       wordToInt32(words[0]),
			OrderIndex: wordToUint64(words[1]),
			Unit:       wordToUint64(words[2]),
			Provider:   wordToAddress(words[3]),
		}, nil
	case TopicTake:
		if err := expect(topics, words, 3, 2); err != nil {
			return nil, err
		}
		return &model.TakeEvent{
			Meta:   meta,
			BookID: wordToUint256(topics[1]),
			User:   wordToAddress(topics[2]),
			Tick:   wordToInt32(words[0]),
			Unit:   wordToUint64(words[1]),
		}, nil
	case TopicCancel:
		if err := expect(topics, words, 2, 1); err != nil {
			return nil, err
		}
		return &model.CancelEvent{
			Meta:    meta,
			OrderID: wordToUint256(topics[1]),
			Unit:    wordToUint64(words[0]),
		}, nil
	case TopicClaim:
		if err := expect(topics, words, 2, 1); err != nil {
			return nil, err
		}
		return &model.ClaimEvent{
			Meta:    meta,
			OrderID: wordToUint256(topics[1]),
			Unit:    wordToUint64(words[0]),
		}, nil
	case TopicTransfer:
		// ERC20 transfers share the topic but index only two arguments
		if err := expect(topics, words, 4, 0); err != nil {
			return nil, err
		}
		return &model.TransferEvent{
			Meta:    meta,
			From:    wordToAddress(topics[1]),
			To:      wordToAddress(topics[2]),
			TokenID: wordToUint256(topics[3]),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0])
}

func expect(topics, words [][]byte, nTopics, nWords int) error {
	if len(topics) != nTopics || len(words) < nWords {
		return fmt.Errorf("%w: got %d topics and %d words, want %d and %d",
			ErrMalformedLog, len(topics), len(words), nTopics, nWords)
	}
	return nil
}

func logMeta(l Log) (model.Meta, error) {
	number, err := hexToUint64(l.BlockNumber)
	if err != nil {
		return model.Meta{}, fmt.Errorf("%w: block number: %v", ErrMalformedLog, err)
	}
	index, err := hexToUint64(l.LogIndex)
	if err != nil {
		return model.Meta{}, fmt.Errorf("%w: log index: %v", ErrMalformedLog, err)
	}
	return model.Meta{
		Block:       model.Block{Number: number},
		Transaction: model.Transaction{Hash: strings.ToLower(l.TransactionHash)},
		LogIndex:    index,
	}, nil
}

func decodeWord(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("word is %d bytes", len(b))
	}
	return b, nil
}

func wordToUint256(w []byte) *uint256.Int {
	return new(uint256.Int).SetBytes32(w)
}

func wordToUint64(w []byte) uint64 {
	return binary.BigEndian.Uint64(w[24:32])
}

func wordToUint32(w []byte) uint32 {
	return binary.BigEndian.Uint32(w[28:32])
}

// wordToInt32 reads a sign-extended int24 (or any int up to 32 bits).
func wordToInt32(w []byte) int32 {
	return int32(binary.BigEndian.Uint32(w[28:32]))
}

func wordToAddress(w []byte) string {
	return ChecksumAddress("0x" + hex.EncodeToString(w[12:32]))
}
