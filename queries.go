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

package banklink

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vyomnext/banklink/database"
	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/internal/cache"
	"github.com/vyomnext/banklink/model"
)

const terminalCacheTTL = 24 * time.Hour

// attentionLimit caps the reconciliation queue returned in one call.
const attentionLimit = database.MaxHistoryLimit

func transferCacheKey(id string) string {
	return "banklink:transfer:" + id
}

// GetTransfer returns a transfer by id. Terminal transfers never change, so
// they are served from the cache once seen.
func (b *Banklink) GetTransfer(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransfer")
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "transaction id is required", nil)
	}

	var cached model.Transaction
	err := b.cache.Get(ctx, transferCacheKey(id), &cached)
	switch {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, cache.ErrMiss):
		logrus.WithField("transaction_id", id).WithError(err).Warn("transfer cache read failed")
	}

	txn, err := b.datasource.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		if err := b.cache.Set(ctx, transferCacheKey(id), txn, terminalCacheTTL); err != nil {
			logrus.WithField("transaction_id", id).WithError(err).Warn("could not cache transfer")
		}
	}
	return txn, nil
}

// GetTransferHistory lists a user's transfers, newest first.
func (b *Banklink) GetTransferHistory(ctx context.Context, userID string, status string, limit int) ([]model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransferHistory")
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user_id is required", nil)
	}
	filter := model.TransactionFilter{UserID: userID, Limit: database.NormalizeLimit(limit)}
	if status != "" {
		filter.Status = model.Status(strings.ToUpper(status))
		if !filter.Status.IsValid() {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "status must be one of PENDING, SUCCESS or FAILED", nil)
		}
	}
	return b.datasource.GetTransactions(ctx, filter)
}

// GetTransfersRequiringAttention lists transfers an operator must reconcile:
// failed refunds, unconfirmed debits and transfers stuck in PENDING.
func (b *Banklink) GetTransfersRequiringAttention(ctx context.Context) ([]model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransfersRequiringAttention")
	defer span.End()

	staleBefore := b.now().UTC().Add(-b.config.Transfer.StalePendingAfter())
	return b.datasource.GetTransactionsRequiringAttention(ctx, staleBefore, attentionLimit)
}
