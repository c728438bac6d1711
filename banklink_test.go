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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/bank/banktest"
	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/database"
	"github.com/vyomnext/banklink/model"
)

const (
	testIdentity  = "123456789012"
	otherIdentity = "987654321098"
	testUser      = "user-1"
	testPIN       = "1234"
)

type testEnv struct {
	banklink *Banklink
	ledgers  map[string]*banktest.Ledger
	db       *database.MemoryDataSource
	config   *config.Configuration
}

func testConfig() *config.Configuration {
	cnf := &config.Configuration{ProjectName: "Banklink"}
	cnf.Banks = config.DefaultBanks()
	cnf.Aggregator = config.AggregatorConfig{AccountsTimeoutSec: 1, TransactionsTimeoutSec: 1}
	cnf.Transfer = config.TransferConfig{
		CallTimeoutSec:      1,
		PinMinLength:        4,
		PinMaxLength:        6,
		StalePendingMinutes: 15,
		IdempotencyLockSec:  60,
	}
	cnf.Queue.WebhookQueue = "banklink_webhooks"
	return cnf
}

func rupees(n int64) model.Amount {
	return model.Amount(n * 100)
}

// newTestEnv wires the service to three in-memory banks:
// SBI1001 (1000.00) and ICICI3001 (250.00) belong to testIdentity,
// HDFC2001 (200.00) belongs to otherIdentity.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	cnf := testConfig()
	config.MockConfig(cnf)

	banks := bank.FromConfig(cnf.Banks)
	ledgers := make(map[string]*banktest.Ledger, len(banks))
	for _, b := range banks {
		ledgers[b.Code] = banktest.NewLedger(b)
	}
	registry, err := bank.NewRegistry(banks, func(b bank.Bank) bank.LedgerClient {
		return ledgers[b.Code]
	})
	require.NoError(t, err)

	require.NoError(t, ledgers["SBI"].AddAccount(model.Account{
		AccountNumber: "SBI1001", Identity: testIdentity, UserName: "Asha Rao", Balance: rupees(1000),
	}, testPIN))
	require.NoError(t, ledgers["HDFC"].AddAccount(model.Account{
		AccountNumber: "HDFC2001", Identity: otherIdentity, UserName: "Vikram Shah", Balance: rupees(200),
	}, "5678"))
	require.NoError(t, ledgers["ICICI"].AddAccount(model.Account{
		AccountNumber: "ICICI3001", Identity: testIdentity, UserName: "Asha Rao", Balance: rupees(250),
	}, "4321"))

	db := database.NewMemoryDataSource()
	return &testEnv{
		banklink: NewBanklink(cnf, db, registry, opts...),
		ledgers:  ledgers,
		db:       db,
		config:   cnf,
	}
}

func (e *testEnv) balance(t *testing.T, bankCode, accountNumber string) model.Amount {
	t.Helper()
	balance, ok := e.ledgers[bankCode].Balance(accountNumber)
	require.True(t, ok, "account %s missing at %s", accountNumber, bankCode)
	return balance
}

func transferRequest(amount model.Amount) model.TransferRequest {
	return model.TransferRequest{
		UserID:           testUser,
		Identity:         testIdentity,
		SourceAccount:    "SBI1001",
		RecipientAccount: "HDFC2001",
		RecipientIFSC:    "HDFC0001234",
		Amount:           amount,
		PIN:              testPIN,
		Description:      "Rent",
	}
}

func fixedClock(at time.Time) Option {
	return WithClock(func() time.Time { return at })
}
