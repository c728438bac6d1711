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
	"encoding/json"
	"fmt"
	"time"

	"github.com/wacul/ptr"
)

// Status is the persisted, user-visible outcome of a transfer. It only ever moves
// from PENDING to one of the terminal values.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Stage tracks how far the saga got for a transaction.
type Stage string

const (
	StageCreated    Stage = "CREATED"
	StageAuthorized Stage = "AUTHORIZED"
	StageDebited    Stage = "DEBITED"
	StageCompleted  Stage = "COMPLETED"
	StageAborted    Stage = "ABORTED"
)

var stageTransitions = map[Stage][]Stage{
	StageCreated:    {StageAuthorized, StageAborted},
	StageAuthorized: {StageDebited, StageAborted},
	StageDebited:    {StageCompleted, StageAborted},
}

// CanAdvanceTo reports whether next is a legal successor of s.
func (s Stage) CanAdvanceTo(next Stage) bool {
	for _, candidate := range stageTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Reconciliation flags a failed transfer whose money movement needs a closer look.
type Reconciliation string

const (
	ReconciliationNone             Reconciliation = ""
	ReconciliationRefunded         Reconciliation = "REFUNDED"
	ReconciliationRefundFailed     Reconciliation = "REFUND_FAILED"
	ReconciliationDebitUnconfirmed Reconciliation = "DEBIT_UNCONFIRMED"
)

// NeedsAttention is true when an operator must reconcile the transfer by hand.
func (r Reconciliation) NeedsAttention() bool {
	return r == ReconciliationRefundFailed || r == ReconciliationDebitUnconfirmed
}

const TransactionTypeTransfer = "TRANSFER"

// Transaction is the durable record of one attempted transfer.
type Transaction struct {
	ID               int64          `json:"-"`
	TransactionID    string         `json:"transaction_id"`
	UserID           string         `json:"user_id"`
	SourceAccount    string         `json:"source_account"`
	SourceBank       string         `json:"source_bank"`
	SourceBankName   string         `json:"source_bank_name,omitempty"`
	RecipientAccount string         `json:"recipient_account"`
	RecipientIFSC    string         `json:"recipient_ifsc"`
	DestinationBank  string         `json:"destination_bank"`
	Amount           Amount         `json:"amount"`
	Description      string         `json:"description"`
	TransactionType  string         `json:"transaction_type"`
	Status           Status         `json:"status"`
	Stage            Stage          `json:"stage"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	Reconciliation   Reconciliation `json:"reconciliation,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// Finalization is a terminal write for a transaction.
type Finalization struct {
	Status         Status
	Reason         string
	Reconciliation Reconciliation
	CompletedAt    time.Time
}

func (f Finalization) Validate() error {
	if !f.Status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", f.Status)
	}
	if f.CompletedAt.IsZero() {
		return fmt.Errorf("completed_at is required for a terminal write")
	}
	return nil
}

// Apply copies the terminal write onto an in-memory transaction.
func (f Finalization) Apply(transaction *Transaction) {
	transaction.Status = f.Status
	transaction.FailureReason = f.Reason
	transaction.Reconciliation = f.Reconciliation
	transaction.CompletedAt = ptr.Time(f.CompletedAt)
	if f.Status == StatusSuccess {
		transaction.Stage = StageCompleted
	} else {
		transaction.Stage = StageAborted
	}
}

// TransactionFilter narrows a transfer history query.
type TransactionFilter struct {
	UserID string
	Status Status
	Limit  int
}
