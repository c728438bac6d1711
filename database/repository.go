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
	"time"

	"github.com/vyomnext/banklink/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transaction // Interface for transaction-related operations
	health      // Interface for store liveness checks
}

// transaction defines methods for handling transfer records.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)                                   // Persists a new PENDING transaction
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)                                                   // Retrieves a transaction by ID
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error)                                  // Retrieves a transaction by its idempotency key
	AdvanceStage(ctx context.Context, id string, from, to model.Stage) error                                                     // Compare-and-set of the saga stage on a PENDING transaction
	FinalizeTransaction(ctx context.Context, id string, finalization model.Finalization) (*model.Transaction, error)             // Compare-and-set of a terminal status
	GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)                            // Lists transactions, newest first
	GetTransactionsRequiringAttention(ctx context.Context, stalePendingBefore time.Time, limit int) ([]model.Transaction, error) // Lists transactions an operator must reconcile
}

type health interface {
	Ping(ctx context.Context) error
}
