// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package tokens resolves ERC20 metadata for the projector. Lookups go to
// the static table of the chain first, then to the token contract.
package tokens

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/luxfi/clob-indexer/evm"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/telemetry"
)

// Unknown is the symbol and name of tokens whose metadata cannot be read.
const Unknown = "unknown"

// ERC20 selectors
const (
	selectorSymbol   = "0x95d89b41"
	selectorName     = "0x06fdde03"
	selectorDecimals = "0x313ce567"
)

//go:embed tables/*.json
var tables embed.FS

// Caller performs an eth_call against the latest block.
type Caller interface {
	CallContract(ctx context.Context, to, data string) (string, error)
}

// Config configures a Resolver.
type Config struct {
	ChainID uint64
	// Dir holds <chainId>.json tables that replace the embedded ones.
	Dir       string
	CacheSize int
}

// entry is the resolved metadata of one address.
type entry struct {
	symbol      string
	name        string
	decimals    uint8
	hasDecimals bool
}

// Resolver resolves token metadata by address.
type Resolver struct {
	static map[string]model.Token
	caller Caller
	cache  *lru.Cache[string, entry]
	logger *zap.Logger
}

// NewResolver loads the static table of cfg.ChainID. caller may be nil,
// in which case only the table is consulted.
func NewResolver(cfg Config, caller Caller, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	cache, err := lru.New[string, entry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	list, err := loadTable(cfg.ChainID, cfg.Dir)
	if err != nil {
		return nil, err
	}
	static := make(map[string]model.Token, len(list))
	for _, t := range list {
		t.Address = evm.ChecksumAddress(t.Address)
		static[strings.ToLower(t.Address)] = t
	}
	logger.Info("loaded token table", zap.Uint64("chain_id", cfg.ChainID), zap.Int("tokens", len(static)))

	return &Resolver{static: static, caller: caller, cache: cache, logger: logger}, nil
}

// loadTable reads <dir>/<chainId>.json when present, else the embedded
// table. A chain without a table has an empty one.
func loadTable(chainID uint64, dir string) ([]model.Token, error) {
	name := strconv.FormatUint(chainID, 10) + ".json"
	if dir != "" {
		f, err := os.Open(filepath.Join(dir, name))
		if err == nil {
			defer f.Close()
			return ParseTable(f)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open token table: %w", err)
		}
	}
	f, err := tables.Open("tables/" + name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open embedded token table: %w", err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable decodes a JSON array of token definitions.
func ParseTable(r io.Reader) ([]model.Token, error) {
	var list []model.Token
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode token table: %w", err)
	}
	return list, nil
}

// Symbol returns the token symbol, or Unknown.
func (r *Resolver) Symbol(ctx context.Context, addr string) string {
	return r.resolve(ctx, addr).symbol
}

// Name returns the token name, or Unknown.
func (r *Resolver) Name(ctx context.Context, addr string) string {
	return r.resolve(ctx, addr).name
}

// Decimals returns the token decimals. ok is false when they cannot be
// read or are not below 255.
func (r *Resolver) Decimals(ctx context.Context, addr string) (decimals uint8, ok bool) {
	e := r.resolve(ctx, addr)
	return e.decimals, e.hasDecimals
}

// Lookup returns the full token record when its decimals resolve.
func (r *Resolver) Lookup(ctx context.Context, addr string) (model.Token, bool) {
	e := r.resolve(ctx, addr)
	if !e.hasDecimals {
		return model.Token{}, false
	}
	return model.Token{
		Address:  evm.ChecksumAddress(addr),
		Symbol:   e.symbol,
		Name:     e.name,
		Decimals: e.decimals,
	}, true
}

func (r *Resolver) resolve(ctx context.Context, addr string) entry {
	key := strings.ToLower(addr)
	if t, ok := r.static[key]; ok {
		telemetry.TokenLookupsCounter.WithLabelValues("table").Inc()
		return entry{symbol: t.Symbol, name: t.Name, decimals: t.Decimals, hasDecimals: true}
	}
	if e, ok := r.cache.Get(key); ok {
		telemetry.TokenLookupsCounter.WithLabelValues("cache").Inc()
		return e
	}

	telemetry.TokenLookupsCounter.WithLabelValues("rpc").Inc()
	e := entry{symbol: Unknown, name: Unknown}
	if r.caller == nil {
		return e
	}
	to := evm.ChecksumAddress(addr)

	if out, err := r.caller.CallContract(ctx, to, selectorSymbol); err == nil {
		if s := evm.DecodeString(out); s != "" {
			e.symbol = s
		}
	} else {
		r.logger.Debug("symbol() failed", zap.String("token", to), zap.Error(err))
	}
	if out, err := r.caller.CallContract(ctx, to, selectorName); err == nil {
		if s := evm.DecodeString(out); s != "" {
			e.name = s
		}
	} else {
		r.logger.Debug("name() failed", zap.String("token", to), zap.Error(err))
	}
	if out, err := r.caller.CallContract(ctx, to, selectorDecimals); err == nil {
		if d, err := evm.DecodeUint(out); err == nil && d.IsUint64() && d.Uint64() < 255 {
			e.decimals = uint8(d.Uint64())
			e.hasDecimals = true
		}
	} else {
		r.logger.Debug("decimals() failed", zap.String("token", to), zap.Error(err))
	}

	// entries without decimals are looked up again next time
	if e.hasDecimals {
		r.cache.Add(key, e)
	}
	return e
}
