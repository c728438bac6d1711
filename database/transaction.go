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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	uniqueViolation = "23505"

	transactionColumns = `transaction_id, user_id, source_account, source_bank, source_bank_name, recipient_account, recipient_ifsc, destination_bank, amount, description, transaction_type, status, stage, failure_reason, reconciliation, idempotency_key, created_at, completed_at`
)

var tracer = otel.Tracer("banklink.database")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var idempotencyKey sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&txn.TransactionID, &txn.UserID, &txn.SourceAccount, &txn.SourceBank, &txn.SourceBankName,
		&txn.RecipientAccount, &txn.RecipientIFSC, &txn.DestinationBank, &txn.Amount, &txn.Description,
		&txn.TransactionType, &txn.Status, &txn.Stage, &txn.FailureReason, &txn.Reconciliation,
		&idempotencyKey, &txn.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.IdempotencyKey = idempotencyKey.String
	if completedAt.Valid {
		t := completedAt.Time
		txn.CompletedAt = &t
	}
	return txn, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NormalizeLimit clamps a history page size to (0, MaxHistoryLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Saving transaction to db")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txn.TransactionID))

	if txn.Status != model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", fmt.Errorf("new transaction %s must be PENDING, got %s", txn.TransactionID, txn.Status))
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO banklink.transactions(transaction_id,user_id,source_account,source_bank,source_bank_name,recipient_account,recipient_ifsc,destination_bank,amount,description,transaction_type,status,stage,idempotency_key,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		txn.TransactionID, txn.UserID, txn.SourceAccount, txn.SourceBank, txn.SourceBankName, txn.RecipientAccount, txn.RecipientIFSC, txn.DestinationBank, txn.Amount, txn.Description, txn.TransactionType, txn.Status, txn.Stage, nullableString(txn.IdempotencyKey), txn.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "A transaction with this idempotency key or ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Fetching transaction from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM banklink.transactions WHERE transaction_id = $1`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Fetching transaction from db by idempotency key")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM banklink.transactions WHERE idempotency_key = $1`, key)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "No transaction for idempotency key", err)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

// AdvanceStage moves a PENDING transaction from one saga stage to the next.
// It fails with CONFLICT when the row is no longer at from.
func (d Datasource) AdvanceStage(ctx context.Context, id string, from, to model.Stage) error {
	ctx, span := tracer.Start(ctx, "Advancing transaction stage")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.String("stage.to", string(to)))

	if !from.CanAdvanceTo(to) {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction stage", fmt.Errorf("illegal stage transition %s -> %s", from, to))
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE banklink.transactions
		SET stage = $3
		WHERE transaction_id = $1 AND stage = $2 AND status = 'PENDING'
	`, id, from, to)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction stage", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return d.missOrConflict(ctx, id, fmt.Sprintf("transaction %s is not PENDING at stage %s", id, from))
	}
	return nil
}

// FinalizeTransaction writes the single terminal status of a transaction.
// A second terminal write is rejected with CONFLICT.
func (d Datasource) FinalizeTransaction(ctx context.Context, id string, finalization model.Finalization) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Finalizing transaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.String("status", string(finalization.Status)))

	if err := finalization.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize transaction", err)
	}
	stage := model.StageAborted
	if finalization.Status == model.StatusSuccess {
		stage = model.StageCompleted
	}

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE banklink.transactions
		SET status = $2, stage = $3, failure_reason = $4, reconciliation = $5, completed_at = $6
		WHERE transaction_id = $1 AND status = 'PENDING'
		RETURNING `+transactionColumns,
		id, finalization.Status, stage, finalization.Reason, finalization.Reconciliation, finalization.CompletedAt,
	)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, d.missOrConflict(ctx, id, fmt.Sprintf("transaction %s already reached a terminal status", id))
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize transaction", err)
	}
	return txn, nil
}

// missOrConflict tells a missing row apart from a lost compare-and-set.
func (d Datasource) missOrConflict(ctx context.Context, id, detail string) error {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM banklink.transactions WHERE transaction_id = $1)`, id).Scan(&exists)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check if transaction exists", err)
	}
	if !exists {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	return apierror.NewAPIError(apierror.ErrConflict, "Transaction can no longer be updated", errors.New(detail))
}

func (d Datasource) GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Listing transactions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM banklink.transactions
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, filter.UserID, filter.Status, NormalizeLimit(filter.Limit))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	return collectTransactions(rows)
}

func (d Datasource) GetTransactionsRequiringAttention(ctx context.Context, stalePendingBefore time.Time, limit int) ([]model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Listing transactions requiring attention")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM banklink.transactions
		WHERE reconciliation IN ('REFUND_FAILED', 'DEBIT_UNCONFIRMED')
		   OR (status = 'PENDING' AND created_at < $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, stalePendingBefore, NormalizeLimit(limit))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer func() { _ = rows.Close() }()

	transactions := make([]model.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred during rows iteration", err)
	}
	return transactions, nil
}
