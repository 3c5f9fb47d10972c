// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"github.com/luxfi/clob-indexer/evm"
)

// erc20 is the metadata a fake token contract answers eth_call with.
type erc20 struct {
	symbol   string
	name     string
	decimals uint64
}

// fakeNode is a JSON-RPC node serving a fixed set of BookManager logs.
type fakeNode struct {
	mu      sync.Mutex
	head    uint64
	logs    []evm.Log
	senders map[string]string
	tokens  map[string]erc20
	server  *httptest.Server
}

func newFakeNode(head uint64) *fakeNode {
	n := &fakeNode{
		head:    head,
		senders: make(map[string]string),
		tokens:  make(map[string]erc20),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

func (n *fakeNode) URL() string { return n.server.URL }

func (n *fakeNode) Close() { n.server.Close() }

// blockTime is the timestamp of block number b.
func blockTime(b uint64) uint64 { return t0 + (b-100)*10 }

// emit appends a log emitted by tx in block at logIndex.
func (n *fakeNode) emit(address string, block, logIndex uint64, tx, from string, topics []string, words ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, evm.Log{
		Address:         strings.ToLower(address),
		Topics:          topics,
		Data:            "0x" + strings.Join(words, ""),
		BlockNumber:     hexUint(block),
		TransactionHash: tx,
		LogIndex:        hexUint(logIndex),
	})
	n.senders[tx] = strings.ToLower(from)
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	result, rpcErr := n.handle(req.Method, req.Params)
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != "" {
		resp["error"] = map[string]any{"code": -32000, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) handle(method string, params []json.RawMessage) (any, string) {
	switch method {
	case "eth_blockNumber":
		return hexUint(n.head), ""

	case "eth_getLogs":
		var f struct {
			FromBlock string `json:"fromBlock"`
			ToBlock   string `json:"toBlock"`
			Address   string `json:"address"`
		}
		if err := json.Unmarshal(params[0], &f); err != nil {
			return nil, err.Error()
		}
		from, to := parseHex(f.FromBlock), parseHex(f.ToBlock)
		logs := []evm.Log{}
		for _, l := range n.logs {
			b := parseHex(l.BlockNumber)
			if b >= from && b <= to && strings.EqualFold(l.Address, f.Address) {
				logs = append(logs, l)
			}
		}
		return logs, ""

	case "eth_getBlockByNumber":
		var number string
		_ = json.Unmarshal(params[0], &number)
		return map[string]string{"number": number, "timestamp": hexUint(blockTime(parseHex(number)))}, ""

	case "eth_getTransactionByHash":
		var hash string
		_ = json.Unmarshal(params[0], &hash)
		from, ok := n.senders[hash]
		if !ok {
			return nil, ""
		}
		return map[string]string{"hash": hash, "from": from}, ""

	case "eth_call":
		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		_ = json.Unmarshal(params[0], &call)
		tok, ok := n.tokens[strings.ToLower(call.To)]
		if !ok {
			return nil, "execution reverted"
		}
		switch call.Data {
		case "0x95d89b41":
			return abiString(tok.symbol), ""
		case "0x06fdde03":
			return abiString(tok.name), ""
		case "0x313ce567":
			return "0x" + uintWord(tok.decimals), ""
		}
		return nil, "execution reverted"
	}
	return nil, "method not found"
}

func hexUint(n uint64) string { return "0x" + strconv.FormatUint(n, 16) }

func parseHex(s string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	return n
}

func uintWord(n uint64) string {
	return hex.EncodeToString(uint256.NewInt(n).PaddedBytes(32))
}

// intWord is the two's complement word of n.
func intWord(n int64) string {
	if n >= 0 {
		return uintWord(uint64(n))
	}
	v := uint256.NewInt(uint64(-n))
	return hex.EncodeToString(v.Neg(v).PaddedBytes(32))
}

func idWord(id *uint256.Int) string {
	return hex.EncodeToString(id.PaddedBytes(32))
}

func addrWord(addr string) string {
	return strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

func abiString(s string) string {
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return "0x" + uintWord(32) + uintWord(uint64(len(s))) + hex.EncodeToString(padded)
}
