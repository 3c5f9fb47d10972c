// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"fmt"
)

// Find loads the row of type T stored under key. It returns nil, nil when
// the row does not exist.
func Find[T any, P interface {
	*T
	Entity
}](ctx context.Context, r Reader, key string) (P, error) {
	row := P(new(T))
	if err := r.Get(ctx, row.Collection(), key, row); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s %s: %w", row.Collection(), key, err)
	}
	return row, nil
}

// Update applies mutate to the row stored under key and writes it back.
// Returns ErrNotFound when the row does not exist.
func Update[T any, P interface {
	*T
	Entity
}](ctx context.Context, tx Tx, key string, mutate func(P)) error {
	row, err := Find[T, P](ctx, tx, key)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("update %s %s: %w", P(new(T)).Collection(), key, ErrNotFound)
	}
	mutate(row)
	return tx.Put(ctx, row)
}
