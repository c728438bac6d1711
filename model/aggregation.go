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

package model

import (
	"sort"
	"time"
)

// BankStatus classifies one bank's answer to an account lookup.
type BankStatus string

const (
	BankStatusSuccess    BankStatus = "success"
	BankStatusNoAccounts BankStatus = "no_accounts"
	BankStatusError      BankStatus = "error"
)

// BankResult is one bank's contribution to an aggregation.
type BankResult struct {
	BankCode     string     `json:"bank_code"`
	BankName     string     `json:"bank_name"`
	Status       BankStatus `json:"status"`
	Accounts     []Account  `json:"-"`
	AccountCount int        `json:"account_count"`
	Error        string     `json:"error,omitempty"`
}

// AggregationResult is a request-scoped merged view of a customer's position
// across every registered bank. It is never cached.
type AggregationResult struct {
	Accounts          []Account                    `json:"accounts"`
	TotalBalance      Amount                       `json:"total_balance"`
	BanksWithAccounts []string                     `json:"banks_with_accounts"`
	PerBankStatus     map[string]BankResult        `json:"bank_responses"`
	Transactions      map[string][]BankTransaction `json:"transactions,omitempty"`
	TotalBanksChecked int                          `json:"total_banks_checked"`
	BanksWithData     int                          `json:"banks_with_data"`
	FetchedAt         time.Time                    `json:"timestamp"`
}

// FindAccounts returns every account with the given number. Numbers are only
// unique within a bank, so an empty bankCode may match more than one account.
func (r *AggregationResult) FindAccounts(bankCode, accountNumber string) []Account {
	var matches []Account
	for _, account := range r.Accounts {
		if account.AccountNumber != accountNumber {
			continue
		}
		if bankCode != "" && account.BankCode != bankCode {
			continue
		}
		matches = append(matches, account)
	}
	return matches
}

// TransactionsFor returns the fetched history of one account.
func (r *AggregationResult) TransactionsFor(bankCode, accountNumber string) []BankTransaction {
	return r.Transactions[AccountKey(bankCode, accountNumber)]
}

// MergeBankResults folds per-bank results into one AggregationResult. The output
// does not depend on the order of results: accounts and bank names are sorted.
func MergeBankResults(results []BankResult) *AggregationResult {
	merged := &AggregationResult{
		Accounts:          []Account{},
		BanksWithAccounts: []string{},
		PerBankStatus:     make(map[string]BankResult, len(results)),
		TotalBanksChecked: len(results),
	}

	banks := make(map[string]struct{})
	for _, result := range results {
		result.AccountCount = len(result.Accounts)
		merged.PerBankStatus[result.BankCode] = result
		if result.Status == BankStatusError {
			continue
		}
		for _, account := range result.Accounts {
			merged.Accounts = append(merged.Accounts, account)
			merged.TotalBalance += account.Balance
		}
		if len(result.Accounts) > 0 {
			banks[result.BankName] = struct{}{}
		}
	}

	for name := range banks {
		merged.BanksWithAccounts = append(merged.BanksWithAccounts, name)
	}
	sort.Strings(merged.BanksWithAccounts)
	sort.Slice(merged.Accounts, func(i, j int) bool {
		if merged.Accounts[i].BankCode != merged.Accounts[j].BankCode {
			return merged.Accounts[i].BankCode < merged.Accounts[j].BankCode
		}
		return merged.Accounts[i].AccountNumber < merged.Accounts[j].AccountNumber
	})
	merged.BanksWithData = len(merged.BanksWithAccounts)
	return merged
}
