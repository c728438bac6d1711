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

package bank

import (
	"context"
	"errors"
	"time"

	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

// Ledger operations, used as metric and log labels.
const (
	OpListAccounts     = "list_accounts"
	OpListTransactions = "list_transactions"
	OpVerifyPIN        = "verify_pin"
	OpDebit            = "debit"
	OpCredit           = "credit"
	OpHealth           = "health"
)

var (
	// ErrOutcomeUnknown marks a write whose request may have reached the ledger
	// without an answer coming back.
	ErrOutcomeUnknown = errors.New("ledger call timed out, outcome unknown")

	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Bank is one registered ledger service.
type Bank struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	IFSCPrefix string `json:"ifsc_prefix"`
}

func FromConfig(banks []config.BankConfig) []Bank {
	out := make([]Bank, 0, len(banks))
	for _, b := range banks {
		out = append(out, Bank{Code: b.Code, Name: b.Name, URL: b.URL, IFSCPrefix: b.IFSCPrefix})
	}
	return out
}

// Movement is the body of a debit or credit call.
type Movement struct {
	AccountNumber string
	Amount        model.Amount
	Description   string
	PIN           string
}

// LedgerClient is the capability the core needs from one bank.
//
// Errors are apierror.APIError values: ErrNotFound for an unknown identity or
// account, ErrBusinessRule for a rejected debit or credit, and
// ErrUpstreamUnavailable for timeouts, refused connections and unexpected statuses.
type LedgerClient interface {
	ListAccounts(ctx context.Context, identity string) ([]model.Account, error)
	ListTransactions(ctx context.Context, accountNumber string) ([]model.BankTransaction, error)
	VerifyPIN(ctx context.Context, accountNumber, pin string) (bool, error)
	Debit(ctx context.Context, movement Movement) (model.Amount, error)
	Credit(ctx context.Context, movement Movement) (model.Amount, error)
	Health(ctx context.Context) error
}

// Observer receives per-call telemetry from ledger clients.
type Observer interface {
	ObserveLedgerCall(bankCode, operation, outcome string, duration time.Duration)
	ObserveBreakerState(bankCode, state string)
}

type nopObserver struct{}

func (nopObserver) ObserveLedgerCall(string, string, string, time.Duration) {}
func (nopObserver) ObserveBreakerState(string, string)                      {}

// Outcome classifies a ledger call result for telemetry.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case apierror.IsCode(err, apierror.ErrNotFound):
		return "not_found"
	case apierror.IsCode(err, apierror.ErrBusinessRule), apierror.IsCode(err, apierror.ErrUnauthorized):
		return "rejected"
	case errors.Is(err, ErrOutcomeUnknown):
		return "timeout"
	default:
		return "unavailable"
	}
}

func IsNotFound(err error) bool {
	return apierror.IsCode(err, apierror.ErrNotFound)
}

func IsUnavailable(err error) bool {
	return apierror.IsCode(err, apierror.ErrUpstreamUnavailable)
}
