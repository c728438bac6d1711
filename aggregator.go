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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

const bankUnavailableMessage = "Bank server unavailable"

// FetchAccounts asks every registered bank for the accounts of identity
// concurrently. A bank that fails is reported in the per-bank status and left
// out of the totals; it never fails the whole call.
func (b *Banklink) FetchAccounts(ctx context.Context, identity string) (*model.AggregationResult, error) {
	ctx, span := tracer.Start(ctx, "FetchAccounts")
	defer span.End()

	if !model.ValidIdentity(identity) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "identity must be a 12-digit number", nil)
	}

	start := time.Now()
	banks := b.registry.Banks()
	results := make([]model.BankResult, len(banks))

	var wg sync.WaitGroup
	for i, bk := range banks {
		wg.Add(1)
		go func(i int, bk bank.Bank) {
			defer wg.Done()
			results[i] = b.fetchBankAccounts(ctx, bk, identity)
		}(i, bk)
	}
	wg.Wait()

	merged := model.MergeBankResults(results)
	merged.FetchedAt = b.now().UTC()

	perBank := make(map[string]string, len(results))
	for _, result := range results {
		perBank[result.BankCode] = string(result.Status)
	}
	b.metrics.ObserveAggregation("accounts", perBank, time.Since(start))

	span.SetAttributes(
		attribute.Int("banks.checked", merged.TotalBanksChecked),
		attribute.Int("banks.with_data", merged.BanksWithData),
		attribute.Int("accounts", len(merged.Accounts)),
	)
	return merged, nil
}

func (b *Banklink) fetchBankAccounts(ctx context.Context, bk bank.Bank, identity string) model.BankResult {
	result := model.BankResult{BankCode: bk.Code, BankName: bk.Name}

	client, err := b.registry.Client(bk.Code)
	if err != nil {
		result.Status = model.BankStatusError
		result.Error = err.Error()
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Aggregator.AccountsTimeout())
	defer cancel()

	accounts, err := client.ListAccounts(callCtx, identity)
	switch {
	case err == nil:
		result.Status = model.BankStatusSuccess
	case bank.IsNotFound(err):
		result.Status = model.BankStatusNoAccounts
		return result
	default:
		logrus.WithFields(logrus.Fields{"bank_code": bk.Code, "step": "list_accounts"}).WithError(err).Warn("bank excluded from aggregation")
		result.Status = model.BankStatusError
		result.Error = userMessage(err, bankUnavailableMessage)
		return result
	}

	for i := range accounts {
		accounts[i].BankCode = bk.Code
		accounts[i].BankName = bk.Name
	}
	result.Accounts = accounts
	return result
}

// FetchPosition aggregates accounts like FetchAccounts and then fetches the
// history of every discovered account concurrently. An account whose bank
// fails gets an empty history.
func (b *Banklink) FetchPosition(ctx context.Context, identity string) (*model.AggregationResult, error) {
	ctx, span := tracer.Start(ctx, "FetchPosition")
	defer span.End()

	result, err := b.FetchAccounts(ctx, identity)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	histories := make([][]model.BankTransaction, len(result.Accounts))
	statuses := make([]string, len(result.Accounts))

	var wg sync.WaitGroup
	for i, account := range result.Accounts {
		wg.Add(1)
		go func(i int, account model.Account) {
			defer wg.Done()
			histories[i], statuses[i] = b.fetchHistory(ctx, account)
		}(i, account)
	}
	wg.Wait()

	result.Transactions = make(map[string][]model.BankTransaction, len(result.Accounts))
	perBank := make(map[string]string)
	for i, account := range result.Accounts {
		result.Transactions[account.Key()] = histories[i]
		if perBank[account.BankCode] != string(model.BankStatusError) {
			perBank[account.BankCode] = statuses[i]
		}
	}
	b.metrics.ObserveAggregation("transactions", perBank, time.Since(start))
	return result, nil
}

func (b *Banklink) fetchHistory(ctx context.Context, account model.Account) ([]model.BankTransaction, string) {
	client, err := b.registry.Client(account.BankCode)
	if err != nil {
		return []model.BankTransaction{}, string(model.BankStatusError)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Aggregator.TransactionsTimeout())
	defer cancel()

	history, err := client.ListTransactions(callCtx, account.AccountNumber)
	switch {
	case err == nil:
		if history == nil {
			history = []model.BankTransaction{}
		}
		return history, string(model.BankStatusSuccess)
	case bank.IsNotFound(err):
		return []model.BankTransaction{}, string(model.BankStatusNoAccounts)
	default:
		logrus.WithFields(logrus.Fields{
			"bank_code": account.BankCode,
			"account":   account.AccountNumber,
			"step":      "list_transactions",
		}).WithError(err).Warn("history unavailable")
		return []model.BankTransaction{}, string(model.BankStatusError)
	}
}

// userMessage returns the user-facing part of an error.
func userMessage(err error, fallback string) string {
	if apiErr, ok := apierror.As(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
