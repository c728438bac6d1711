/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

// MemoryDataSource keeps transactions in process memory. It gives the same
// compare-and-set guarantees as the Postgres store and backs tests and the
// memory:// data source.
type MemoryDataSource struct {
	mu             sync.RWMutex
	seq            int64
	transactions   map[string]*model.Transaction
	idempotencyIdx map[string]string
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		transactions:   make(map[string]*model.Transaction),
		idempotencyIdx: make(map[string]string),
	}
}

func copyTransaction(txn *model.Transaction) *model.Transaction {
	c := *txn
	if txn.CompletedAt != nil {
		completedAt := *txn.CompletedAt
		c.CompletedAt = &completedAt
	}
	return &c
}

func (m *MemoryDataSource) RecordTransaction(_ context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if txn.Status != model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", fmt.Errorf("new transaction %s must be PENDING, got %s", txn.TransactionID, txn.Status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[txn.TransactionID]; exists {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "A transaction with this idempotency key or ID already exists", fmt.Errorf("duplicate transaction id %s", txn.TransactionID))
	}
	if txn.IdempotencyKey != "" {
		if _, exists := m.idempotencyIdx[txn.IdempotencyKey]; exists {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "A transaction with this idempotency key or ID already exists", fmt.Errorf("duplicate idempotency key %s", txn.IdempotencyKey))
		}
		m.idempotencyIdx[txn.IdempotencyKey] = txn.TransactionID
	}

	m.seq++
	stored := copyTransaction(txn)
	stored.ID = m.seq
	m.transactions[txn.TransactionID] = stored
	return copyTransaction(stored), nil
}

func (m *MemoryDataSource) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.transactions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	return copyTransaction(txn), nil
}

func (m *MemoryDataSource) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	m.mu.RLock()
	id, ok := m.idempotencyIdx[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "No transaction for idempotency key", nil)
	}
	return m.GetTransaction(ctx, id)
}

func (m *MemoryDataSource) AdvanceStage(_ context.Context, id string, from, to model.Stage) error {
	if !from.CanAdvanceTo(to) {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction stage", fmt.Errorf("illegal stage transition %s -> %s", from, to))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	if txn.Status != model.StatusPending || txn.Stage != from {
		return apierror.NewAPIError(apierror.ErrConflict, "Transaction can no longer be updated", fmt.Errorf("transaction %s is not PENDING at stage %s", id, from))
	}
	txn.Stage = to
	return nil
}

func (m *MemoryDataSource) FinalizeTransaction(_ context.Context, id string, finalization model.Finalization) (*model.Transaction, error) {
	if err := finalization.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize transaction", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	if txn.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Transaction can no longer be updated", errors.New("transaction "+id+" already reached a terminal status"))
	}
	finalization.Apply(txn)
	return copyTransaction(txn), nil
}

func (m *MemoryDataSource) GetTransactions(_ context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]model.Transaction, 0)
	for _, txn := range m.transactions {
		if filter.UserID != "" && txn.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		matched = append(matched, *copyTransaction(txn))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit := NormalizeLimit(filter.Limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryDataSource) GetTransactionsRequiringAttention(_ context.Context, stalePendingBefore time.Time, limit int) ([]model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]model.Transaction, 0)
	for _, txn := range m.transactions {
		stale := txn.Status == model.StatusPending && txn.CreatedAt.Before(stalePendingBefore)
		if stale || txn.Reconciliation.NeedsAttention() {
			matched = append(matched, *copyTransaction(txn))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if limit = NormalizeLimit(limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryDataSource) Ping(context.Context) error {
	return nil
}
