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
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/bank/banktest"
	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

func TestFetchAccounts_MergesEveryBank(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.banklink.FetchAccounts(context.Background(), testIdentity)
	require.NoError(t, err)

	require.Len(t, result.Accounts, 2)
	assert.Equal(t, "ICICI3001", result.Accounts[0].AccountNumber)
	assert.Equal(t, "SBI1001", result.Accounts[1].AccountNumber)
	assert.Equal(t, "SBI", result.Accounts[1].BankCode)
	assert.Equal(t, "State Bank of India", result.Accounts[1].BankName)
	assert.Equal(t, rupees(1250), result.TotalBalance)
	assert.Equal(t, []string{"ICICI Bank", "State Bank of India"}, result.BanksWithAccounts)
	assert.Equal(t, 3, result.TotalBanksChecked)
	assert.Equal(t, 2, result.BanksWithData)

	assert.Equal(t, model.BankStatusSuccess, result.PerBankStatus["SBI"].Status)
	assert.Equal(t, model.BankStatusNoAccounts, result.PerBankStatus["HDFC"].Status)
	assert.Equal(t, model.BankStatusSuccess, result.PerBankStatus["ICICI"].Status)
	assert.False(t, result.FetchedAt.IsZero())
}

func TestFetchAccounts_ToleratesUnreachableBank(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ledgers["HDFC"].AddAccount(model.Account{
		AccountNumber: "HDFC2002", Identity: testIdentity, Balance: rupees(300),
	}, testPIN))
	env.ledgers["ICICI"].InjectFault(bank.OpListAccounts, banktest.Fault{Status: http.StatusServiceUnavailable})

	result, err := env.banklink.FetchAccounts(context.Background(), testIdentity)
	require.NoError(t, err)

	numbers := make([]string, 0, len(result.Accounts))
	for _, account := range result.Accounts {
		numbers = append(numbers, account.AccountNumber)
	}
	assert.Equal(t, []string{"HDFC2002", "SBI1001"}, numbers)
	assert.Equal(t, rupees(1300), result.TotalBalance)

	icici := result.PerBankStatus["ICICI"]
	assert.Equal(t, model.BankStatusError, icici.Status)
	assert.NotEmpty(t, icici.Error)
	assert.Zero(t, icici.AccountCount)
}

func TestFetchAccounts_LatencyBoundedBySingleTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.ledgers["SBI"].InjectFault(bank.OpListAccounts, banktest.Fault{Delay: 400 * time.Millisecond})
	env.ledgers["HDFC"].InjectFault(bank.OpListAccounts, banktest.Fault{Delay: 400 * time.Millisecond})
	env.ledgers["ICICI"].InjectFault(bank.OpListAccounts, banktest.Fault{Delay: 5 * time.Second})

	start := time.Now()
	result, err := env.banklink.FetchAccounts(context.Background(), testIdentity)
	elapsed := time.Since(start)
	require.NoError(t, err)

	// One 1s timeout, not the 5.8s the calls would take one after another.
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, model.BankStatusSuccess, result.PerBankStatus["SBI"].Status)
	assert.Equal(t, model.BankStatusError, result.PerBankStatus["ICICI"].Status)
	assert.Len(t, result.Accounts, 1)
}

func TestFetchAccounts_OrderIndependent(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	env := newTestEnv(t, fixedClock(at))
	env.ledgers["HDFC"].InjectFault(bank.OpListAccounts, banktest.Fault{Status: http.StatusBadGateway})

	baseline, err := env.banklink.FetchAccounts(context.Background(), testIdentity)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		for _, ledger := range []*banktest.Ledger{env.ledgers["SBI"], env.ledgers["ICICI"]} {
			ledger.InjectFault(bank.OpListAccounts, banktest.Fault{
				Delay: time.Duration(rand.Intn(30)) * time.Millisecond,
				Times: 1,
			})
		}
		got, err := env.banklink.FetchAccounts(context.Background(), testIdentity)
		require.NoError(t, err)
		assert.Equal(t, baseline, got)
	}
}

func TestFetchAccounts_InvalidIdentity(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.banklink.FetchAccounts(context.Background(), "12345")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
	assert.Zero(t, env.ledgers["SBI"].Calls(bank.OpListAccounts))
}

func TestFetchPosition_FetchesHistoryPerAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.ledgers["SBI"].Credit(ctx, bank.Movement{AccountNumber: "SBI1001", Amount: rupees(50), Description: "Salary"})
	require.NoError(t, err)
	_, err = env.ledgers["SBI"].Debit(ctx, bank.Movement{AccountNumber: "SBI1001", Amount: rupees(20), Description: "Groceries"})
	require.NoError(t, err)

	result, err := env.banklink.FetchPosition(ctx, testIdentity)
	require.NoError(t, err)

	history := result.TransactionsFor("SBI", "SBI1001")
	require.Len(t, history, 2)
	assert.Equal(t, "Groceries", history[0].Description)
	assert.Equal(t, "Salary", history[1].Description)

	icici := result.TransactionsFor("ICICI", "ICICI3001")
	assert.NotNil(t, icici)
	assert.Empty(t, icici)
	assert.Equal(t, 2, env.ledgers["SBI"].Calls(bank.OpListTransactions)+env.ledgers["ICICI"].Calls(bank.OpListTransactions))
}

func TestFetchPosition_FailedHistoryIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.ledgers["ICICI"].InjectFault(bank.OpListTransactions, banktest.Fault{Delay: 3 * time.Second})

	start := time.Now()
	result, err := env.banklink.FetchPosition(context.Background(), testIdentity)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Len(t, result.Accounts, 2)
	assert.Empty(t, result.TransactionsFor("ICICI", "ICICI3001"))
	assert.NotNil(t, result.Transactions[model.AccountKey("ICICI", "ICICI3001")])
}
