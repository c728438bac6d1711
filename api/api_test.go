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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyomnext/banklink"
	"github.com/vyomnext/banklink/api/middleware"
	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/bank/banktest"
	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/database"
	"github.com/vyomnext/banklink/internal/metrics"
	"github.com/vyomnext/banklink/model"
)

const (
	testIdentity = "123456789012"
	testUser     = "user-1"
)

type apiEnv struct {
	router  *gin.Engine
	ledgers map[string]*banktest.Ledger
	db      *database.MemoryDataSource
}

// newAPIEnv serves three mock banks over HTTP and points the service at them.
func newAPIEnv(t *testing.T, secure bool) *apiEnv {
	t.Helper()

	cnf := &config.Configuration{ProjectName: "Banklink"}
	cnf.Aggregator = config.AggregatorConfig{AccountsTimeoutSec: 1, TransactionsTimeoutSec: 1}
	cnf.Transfer = config.TransferConfig{CallTimeoutSec: 1, PinMinLength: 4, PinMaxLength: 6, StalePendingMinutes: 15}
	cnf.Breaker.Disabled = true
	cnf.Server = config.ServerConfig{Secure: secure, SecretKey: "s3cret"}

	ledgers := make(map[string]*banktest.Ledger)
	for _, bc := range config.DefaultBanks() {
		ledger := banktest.NewLedger(bank.FromConfig([]config.BankConfig{bc})[0])
		server := httptest.NewServer(banktest.Handler(ledger))
		t.Cleanup(server.Close)
		bc.URL = server.URL
		cnf.Banks = append(cnf.Banks, bc)
		ledgers[bc.Code] = ledger
	}
	config.MockConfig(cnf)

	require.NoError(t, ledgers["SBI"].AddAccount(model.Account{
		AccountNumber: "SBI1001", Identity: testIdentity, UserName: "Asha Rao", Balance: model.Amount(100000),
	}, "1234"))
	require.NoError(t, ledgers["HDFC"].AddAccount(model.Account{
		AccountNumber: "HDFC2001", Identity: "987654321098", UserName: "Vikram Shah", Balance: model.Amount(20000),
	}, "5678"))
	require.NoError(t, ledgers["ICICI"].AddAccount(model.Account{
		AccountNumber: "ICICI3001", Identity: testIdentity, UserName: "Asha Rao", Balance: model.Amount(25000),
	}, "4321"))

	collector := metrics.NewCollector()
	registry, err := bank.NewRegistryFromConfig(cnf, collector)
	require.NoError(t, err)

	db := database.NewMemoryDataSource()
	b := banklink.NewBanklink(cnf, db, registry, banklink.WithMetrics(collector))
	return &apiEnv{router: NewAPI(b).Router(), ledgers: ledgers, db: db}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) balance(t *testing.T, bankCode, accountNumber string) model.Amount {
	t.Helper()
	balance, ok := e.ledgers[bankCode].Balance(accountNumber)
	require.True(t, ok)
	return balance
}

func transferBody(pin string) map[string]interface{} {
	return map[string]interface{}{
		"user_id":           testUser,
		"identity":          testIdentity,
		"source_account":    "SBI1001",
		"recipient_account": "HDFC2001",
		"recipient_ifsc":    "HDFC0001234",
		"amount":            "100.00",
		"transaction_pin":   pin,
		"description":       "Rent",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestCreateTransfer_Success(t *testing.T) {
	env := newAPIEnv(t, false)

	w := env.do(t, http.MethodPost, "/transfers", transferBody("1234"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var outcome model.TransferOutcome
	decode(t, w, &outcome)
	assert.Equal(t, model.OutcomeOK, outcome.Status)
	assert.Equal(t, "Transfer completed successfully", outcome.Message)
	assert.Equal(t, model.Amount(10000), outcome.Amount)
	assert.NotEmpty(t, outcome.TransactionID)

	assert.Equal(t, model.Amount(90000), env.balance(t, "SBI", "SBI1001"))
	assert.Equal(t, model.Amount(30000), env.balance(t, "HDFC", "HDFC2001"))
}

func TestCreateTransfer_InvalidPIN(t *testing.T) {
	env := newAPIEnv(t, false)

	w := env.do(t, http.MethodPost, "/transfers", transferBody("9999"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var outcome model.TransferOutcome
	decode(t, w, &outcome)
	assert.Equal(t, model.OutcomeError, outcome.Status)
	assert.Equal(t, "The transaction PIN you entered is incorrect", outcome.Message)
	assert.Equal(t, model.Amount(100000), env.balance(t, "SBI", "SBI1001"))
}

func TestCreateTransfer_BadRequests(t *testing.T) {
	env := newAPIEnv(t, false)

	missingPIN := transferBody("")
	w := env.do(t, http.MethodPost, "/transfers", missingPIN, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "transaction PIN is required")

	shortPIN := transferBody("12")
	w = env.do(t, http.MethodPost, "/transfers", shortPIN, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")

	req := httptest.NewRequest(http.MethodPost, "/transfers", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransfer_InexactAmountIsRejected(t *testing.T) {
	env := newAPIEnv(t, false)

	for _, amount := range []json.Number{"100.999", "0.005", "184467440737095516.21"} {
		t.Run(amount.String(), func(t *testing.T) {
			body := transferBody("1234")
			body["amount"] = amount

			w := env.do(t, http.MethodPost, "/transfers", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	assert.Zero(t, env.ledgers["SBI"].Calls(bank.OpDebit))
	assert.Equal(t, model.Amount(100000), env.balance(t, "SBI", "SBI1001"))
	assert.Equal(t, model.Amount(20000), env.balance(t, "HDFC", "HDFC2001"))
}

func TestCreateTransfer_ForeignSourceAccount(t *testing.T) {
	env := newAPIEnv(t, false)

	body := transferBody("5678")
	body["source_account"] = "HDFC2001"
	body["recipient_account"] = "SBI1001"
	body["recipient_ifsc"] = "SBIN0001234"

	w := env.do(t, http.MethodPost, "/transfers", body, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, model.Amount(20000), env.balance(t, "HDFC", "HDFC2001"))
}

func TestCreateTransfer_IdempotencyHeaderReplays(t *testing.T) {
	env := newAPIEnv(t, false)
	headers := map[string]string{IdempotencyKeyHeader: "rent-2026-10"}

	first := env.do(t, http.MethodPost, "/transfers", transferBody("1234"), headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := env.do(t, http.MethodPost, "/transfers", transferBody("1234"), headers)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var a, b model.TransferOutcome
	decode(t, first, &a)
	decode(t, second, &b)
	assert.Equal(t, a.TransactionID, b.TransactionID)
	assert.Equal(t, "Transfer already processed", b.Message)
	assert.Equal(t, model.Amount(90000), env.balance(t, "SBI", "SBI1001"))
}

func TestGetTransfer(t *testing.T) {
	env := newAPIEnv(t, false)

	w := env.do(t, http.MethodPost, "/transfers", transferBody("1234"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var outcome model.TransferOutcome
	decode(t, w, &outcome)

	w = env.do(t, http.MethodGet, "/transfers/"+outcome.TransactionID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txn model.Transaction
	decode(t, w, &txn)
	assert.Equal(t, model.StatusSuccess, txn.Status)
	assert.Equal(t, model.StageCompleted, txn.Stage)

	w = env.do(t, http.MethodGet, "/transfers/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTransferHistory(t *testing.T) {
	env := newAPIEnv(t, false)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/transfers", transferBody("1234"), nil).Code)
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/transfers", transferBody("0000"), nil).Code)

	var resp struct {
		Transactions []model.Transaction `json:"transactions"`
		Count        int                 `json:"count"`
	}
	w := env.do(t, http.MethodGet, "/transfers?user_id="+testUser, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Count)

	w = env.do(t, http.MethodGet, "/transfers?user_id="+testUser+"&status=failed&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, model.StatusFailed, resp.Transactions[0].Status)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/transfers", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/transfers?user_id=u&status=DONE", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/transfers?user_id=u&limit=abc", nil, nil).Code)
}

func TestGetTransfersRequiringAttention(t *testing.T) {
	env := newAPIEnv(t, false)
	ctx := context.Background()

	_, err := env.db.RecordTransaction(ctx, &model.Transaction{
		TransactionID:    "txn-refund-failed",
		UserID:           testUser,
		SourceAccount:    "SBI1001",
		SourceBank:       "SBI",
		RecipientAccount: "HDFC2001",
		RecipientIFSC:    "HDFC0001234",
		DestinationBank:  "HDFC",
		Amount:           model.Amount(5000),
		TransactionType:  model.TransactionTypeTransfer,
		Status:           model.StatusPending,
		Stage:            model.StageCreated,
		CreatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = env.db.FinalizeTransaction(ctx, "txn-refund-failed", model.Finalization{
		Status:         model.StatusFailed,
		Reason:         "credit failed and refund failed, contact support",
		Reconciliation: model.ReconciliationRefundFailed,
		CompletedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/transfers/attention", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Transactions []model.Transaction `json:"transactions"`
		Count        int                 `json:"count"`
	}
	decode(t, w, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, model.ReconciliationRefundFailed, resp.Transactions[0].Reconciliation)
}

func TestGetAccounts_PartialFailure(t *testing.T) {
	env := newAPIEnv(t, false)
	env.ledgers["HDFC"].InjectFault(bank.OpListAccounts, banktest.Fault{Status: http.StatusServiceUnavailable})

	w := env.do(t, http.MethodGet, "/accounts/"+testIdentity, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result model.AggregationResult
	decode(t, w, &result)
	assert.Len(t, result.Accounts, 2)
	assert.Equal(t, model.Amount(125000), result.TotalBalance)
	assert.Equal(t, []string{"ICICI Bank", "State Bank of India"}, result.BanksWithAccounts)
	assert.Equal(t, model.BankStatusError, result.PerBankStatus["HDFC"].Status)
	assert.Equal(t, 3, result.TotalBanksChecked)

	w = env.do(t, http.MethodGet, "/accounts/1234", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPosition(t *testing.T) {
	env := newAPIEnv(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/transfers", transferBody("1234"), nil).Code)

	w := env.do(t, http.MethodGet, "/positions/"+testIdentity, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result model.AggregationResult
	decode(t, w, &result)
	assert.Equal(t, model.Amount(115000), result.TotalBalance)
	assert.Len(t, result.TransactionsFor("SBI", "SBI1001"), 1)
	assert.Empty(t, result.TransactionsFor("ICICI", "ICICI3001"))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t, false)

	w := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report banklink.HealthReport
	decode(t, w, &report)
	assert.Equal(t, banklink.HealthUp, report.Status)
	assert.Len(t, report.Banks, 3)

	env.ledgers["ICICI"].InjectFault(bank.OpHealth, banktest.Fault{Status: http.StatusServiceUnavailable})
	w = env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &report)
	assert.Equal(t, "degraded", report.Status)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/transfers", transferBody("1234"), nil).Code)
	w = env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `banklink_transfers_total{status="SUCCESS",step="credit"} 1`)
	assert.Contains(t, w.Body.String(), "banklink_ledger_calls_total")
}

func TestSecureModeRequiresKey(t *testing.T) {
	env := newAPIEnv(t, true)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/transfers?user_id=u", nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/transfers?user_id=u", nil,
		map[string]string{middleware.KeyHeader: "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, nil).Code)
}
