// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package evm delivers BookManager events from an EVM JSON-RPC node.
// It polls eth_getLogs in block windows, decodes the logs into model
// events and attaches block timestamps and transaction senders.
package evm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// Client is a minimal Ethereum JSON-RPC client.
type Client struct {
	rpcEndpoint string
	httpClient  *http.Client
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a JSON-RPC client for an endpoint
func NewClient(rpcEndpoint string, opts ...ClientOption) *Client {
	c := &Client{
		rpcEndpoint: rpcEndpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call makes a JSON-RPC call to the node
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var result struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, result.Error)
	}

	return result.Result, nil
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var numHex string
	if err := json.Unmarshal(result, &numHex); err != nil {
		return 0, fmt.Errorf("unmarshal block number: %w", err)
	}
	return hexToUint64(numHex)
}

// LogFilter selects logs for eth_getLogs.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Address   string
	// Topics[0] is matched against any of the given event ids.
	Topics []string
}

// Log is a raw log as returned by eth_getLogs.
type Log struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
	Removed         bool     `json:"removed"`
}

// GetLogs fetches the logs matching a filter
func (c *Client) GetLogs(ctx context.Context, f LogFilter) ([]Log, error) {
	filter := map[string]interface{}{
		"fromBlock": uint64ToHex(f.FromBlock),
		"toBlock":   uint64ToHex(f.ToBlock),
	}
	if f.Address != "" {
		filter["address"] = f.Address
	}
	if len(f.Topics) > 0 {
		filter["topics"] = []interface{}{f.Topics}
	}

	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, err
	}
	var logs []Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	return logs, nil
}

// BlockTimestamp returns the unix timestamp of a block
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{uint64ToHex(number), false})
	if err != nil {
		return 0, err
	}
	var raw *struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, fmt.Errorf("unmarshal block: %w", err)
	}
	if raw == nil {
		return 0, fmt.Errorf("block %d not found", number)
	}
	return hexToUint64(raw.Timestamp)
}

// TransactionSender returns the from address of a transaction
func (c *Client) TransactionSender(ctx context.Context, txHash string) (string, error) {
	result, err := c.call(ctx, "eth_getTransactionByHash", []interface{}{txHash})
	if err != nil {
		return "", err
	}
	var raw *struct {
		From string `json:"from"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return "", fmt.Errorf("unmarshal transaction: %w", err)
	}
	if raw == nil {
		return "", fmt.Errorf("transaction %s not found", txHash)
	}
	return raw.From, nil
}

// CallContract makes an eth_call against the latest block and returns the hex result
func (c *Client) CallContract(ctx context.Context, to, data string) (string, error) {
	result, err := c.call(ctx, "eth_call", []interface{}{
		map[string]string{"to": to, "data": data},
		"latest",
	})
	if err != nil {
		return "", err
	}

	var resultHex string
	if err := json.Unmarshal(result, &resultHex); err != nil {
		return "", err
	}

	return resultHex, nil
}

// DecodeString decodes an ABI-encoded string return value. Legacy tokens
// that return bytes32 are decoded up to the first zero byte.
func DecodeString(data string) string {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return ""
	}
	if len(raw) == 32 {
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		return string(raw)
	}
	if len(raw) < 64 {
		return ""
	}

	// Skip offset (32 bytes) and get length
	length := new(uint256.Int).SetBytes32(raw[32:64])
	if !length.IsUint64() || length.IsZero() || uint64(len(raw)-64) < length.Uint64() {
		return ""
	}
	return string(raw[64 : 64+length.Uint64()])
}

// DecodeUint decodes an ABI-encoded unsigned return value.
func DecodeUint(data string) (*uint256.Int, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(raw))
	}
	return new(uint256.Int).SetBytes32(raw[:32]), nil
}

// Helper functions

func hexToUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return n, nil
}

func uint64ToHex(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}
