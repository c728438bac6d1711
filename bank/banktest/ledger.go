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

// Package banktest provides an in-memory ledger service that honours the
// bank ledger contract, with deterministic fault injection. It is used by
// tests and by the mockbank command.
package banktest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

// Fault makes the next calls of one operation misbehave.
type Fault struct {
	// Delay holds the call before answering. A caller deadline that expires
	// first turns the call into a timeout.
	Delay time.Duration
	// Status fails the call as the ledger would with this HTTP status.
	Status int
	// Err fails the call with this error.
	Err error
	// Applied lets a debit or credit take effect before the fault fires,
	// like a ledger whose reply is lost.
	Applied bool
	// Times limits how many calls the fault affects. Zero means every call.
	Times int
}

type account struct {
	model.Account
	pinHash []byte
}

// Ledger is an in-memory bank. Debits and credits are serialized per ledger,
// so a debit's balance check and update are atomic.
type Ledger struct {
	bank bank.Bank

	mu       sync.Mutex
	accounts map[string]*account
	history  map[string][]model.BankTransaction
	faults   map[string]*Fault
	calls    map[string]int
	now      func() time.Time
}

func NewLedger(b bank.Bank) *Ledger {
	return &Ledger{
		bank:     b,
		accounts: make(map[string]*account),
		history:  make(map[string][]model.BankTransaction),
		faults:   make(map[string]*Fault),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

func (l *Ledger) Bank() bank.Bank {
	return l.bank
}

// AddAccount opens an account. An empty pin leaves the account without one.
func (l *Ledger) AddAccount(acc model.Account, pin string) error {
	var hash []byte
	if pin != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
		if err != nil {
			return err
		}
	}
	acc.BankCode = l.bank.Code
	acc.BankName = l.bank.Name

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[acc.AccountNumber]; exists {
		return fmt.Errorf("account %s already exists", acc.AccountNumber)
	}
	l.accounts[acc.AccountNumber] = &account{Account: acc, pinHash: hash}
	return nil
}

// SeedAccount is one account in a seed file.
type SeedAccount struct {
	model.Account
	PIN string `json:"pin"`
}

type Seed struct {
	Accounts []SeedAccount `json:"accounts"`
}

// LoadSeed adds every account of a JSON seed document.
func (l *Ledger) LoadSeed(r io.Reader) (int, error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return 0, err
	}
	for _, acc := range seed.Accounts {
		if err := l.AddAccount(acc.Account, acc.PIN); err != nil {
			return 0, err
		}
	}
	return len(seed.Accounts), nil
}

func (l *Ledger) Balance(accountNumber string) (model.Amount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[accountNumber]
	if !ok {
		return 0, false
	}
	return acc.Balance, true
}

// History returns the account's entries, oldest first.
func (l *Ledger) History(accountNumber string) []model.BankTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.BankTransaction(nil), l.history[accountNumber]...)
}

// InjectFault replaces any fault on operation.
func (l *Ledger) InjectFault(operation string, fault Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := fault
	l.faults[operation] = &f
}

func (l *Ledger) ClearFaults() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[string]*Fault)
}

// Calls counts how often operation was invoked.
func (l *Ledger) Calls(operation string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[operation]
}

// enter records the call and returns the active fault, if any.
func (l *Ledger) enter(operation string) *Fault {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[operation]++
	f, ok := l.faults[operation]
	if !ok {
		return nil
	}
	active := *f
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(l.faults, operation)
		}
	}
	return &active
}

// fail turns a fault into the error a remote client would report.
func (l *Ledger) fail(ctx context.Context, operation string, fault *Fault) error {
	if fault.Delay > 0 {
		timer := time.NewTimer(fault.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			detail := fmt.Errorf("%s %s: %w", l.bank.Code, operation, ctx.Err())
			if operation == bank.OpDebit || operation == bank.OpCredit {
				detail = fmt.Errorf("%s %s: %w: %v", l.bank.Code, operation, bank.ErrOutcomeUnknown, ctx.Err())
			}
			return apierror.NewAPIError(apierror.ErrUpstreamUnavailable, l.bank.Name+" is unavailable", detail)
		case <-timer.C:
		}
	}
	if fault.Err != nil {
		return fault.Err
	}
	if fault.Status != 0 {
		return errorForStatus(l.bank, operation, fault.Status)
	}
	return nil
}

func errorForStatus(b bank.Bank, operation string, status int) error {
	detail := fmt.Errorf("%s %s returned status %d", b.Code, operation, status)
	switch {
	case status == http.StatusNotFound:
		return apierror.NewAPIError(apierror.ErrNotFound, "Account not found", detail)
	case status == http.StatusUnauthorized:
		return apierror.NewAPIError(apierror.ErrUnauthorized, "Invalid PIN", detail)
	case status >= 400 && status < 500:
		return apierror.NewAPIError(apierror.ErrBusinessRule, operation+" rejected", detail)
	}
	return apierror.NewAPIError(apierror.ErrUpstreamUnavailable, b.Name+" is unavailable", detail)
}

func (l *Ledger) ListAccounts(ctx context.Context, identity string) ([]model.Account, error) {
	if fault := l.enter(bank.OpListAccounts); fault != nil {
		if err := l.fail(ctx, bank.OpListAccounts, fault); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := make([]model.Account, 0)
	for _, acc := range l.accounts {
		if acc.Identity == identity {
			accounts = append(accounts, acc.Account)
		}
	}
	if len(accounts) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "No accounts found", fmt.Errorf("%s has no accounts for identity", l.bank.Code))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].AccountNumber < accounts[j].AccountNumber })
	return accounts, nil
}

// ListTransactions returns the account's entries, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, accountNumber string) ([]model.BankTransaction, error) {
	if fault := l.enter(bank.OpListTransactions); fault != nil {
		if err := l.fail(ctx, bank.OpListTransactions, fault); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[accountNumber]; !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Account not found", fmt.Errorf("%s has no account %s", l.bank.Code, accountNumber))
	}
	entries := l.history[accountNumber]
	out := make([]model.BankTransaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (l *Ledger) VerifyPIN(ctx context.Context, accountNumber, pin string) (bool, error) {
	if fault := l.enter(bank.OpVerifyPIN); fault != nil {
		if err := l.fail(ctx, bank.OpVerifyPIN, fault); err != nil {
			if apierror.IsCode(err, apierror.ErrUnauthorized) {
				return false, nil
			}
			return false, err
		}
	}

	l.mu.Lock()
	acc, ok := l.accounts[accountNumber]
	l.mu.Unlock()
	if !ok {
		return false, apierror.NewAPIError(apierror.ErrNotFound, "Account not found", fmt.Errorf("%s has no account %s", l.bank.Code, accountNumber))
	}
	return pinMatches(acc.pinHash, pin), nil
}

func pinMatches(hash []byte, pin string) bool {
	if len(hash) == 0 || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(pin)) == nil
}

func (l *Ledger) Debit(ctx context.Context, movement bank.Movement) (model.Amount, error) {
	return l.move(ctx, bank.OpDebit, movement)
}

func (l *Ledger) Credit(ctx context.Context, movement bank.Movement) (model.Amount, error) {
	return l.move(ctx, bank.OpCredit, movement)
}

func (l *Ledger) move(ctx context.Context, operation string, movement bank.Movement) (model.Amount, error) {
	fault := l.enter(operation)
	if fault != nil && !fault.Applied {
		if err := l.fail(ctx, operation, fault); err != nil {
			return 0, err
		}
	}

	balance, err := l.apply(operation, movement)
	if err != nil {
		return 0, err
	}

	if fault != nil && fault.Applied {
		if err := l.fail(ctx, operation, fault); err != nil {
			return 0, err
		}
	}
	return balance, nil
}

func (l *Ledger) apply(operation string, movement bank.Movement) (model.Amount, error) {
	if !movement.Amount.IsPositive() {
		return 0, apierror.NewAPIError(apierror.ErrBusinessRule, "Amount must be positive", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[movement.AccountNumber]
	if !ok {
		return 0, apierror.NewAPIError(apierror.ErrBusinessRule, "Account not found", fmt.Errorf("%s has no account %s", l.bank.Code, movement.AccountNumber))
	}

	entryType := "credit"
	if operation == bank.OpDebit {
		entryType = "debit"
		if movement.PIN != "" && !pinMatches(acc.pinHash, movement.PIN) {
			return 0, apierror.NewAPIError(apierror.ErrBusinessRule, "Invalid PIN", nil)
		}
		if acc.Balance < movement.Amount {
			return 0, apierror.NewAPIError(apierror.ErrBusinessRule, "Insufficient funds", nil)
		}
		acc.Balance -= movement.Amount
	} else {
		acc.Balance += movement.Amount
	}

	description := movement.Description
	if description == "" {
		description = entryType
	}
	l.history[acc.AccountNumber] = append(l.history[acc.AccountNumber], model.BankTransaction{
		AccountNumber: acc.AccountNumber,
		Type:          entryType,
		Amount:        movement.Amount,
		Description:   description,
		BalanceAfter:  acc.Balance,
		Timestamp:     l.now().UTC().Format(time.RFC3339Nano),
	})
	return acc.Balance, nil
}

func (l *Ledger) Health(ctx context.Context) error {
	if fault := l.enter(bank.OpHealth); fault != nil {
		return l.fail(ctx, bank.OpHealth, fault)
	}
	return nil
}
