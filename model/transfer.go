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
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"

	DefaultTransferDescription = "Transfer"
)

var (
	identityPattern = regexp.MustCompile(`^[0-9]{12}$`)
	ifscPattern     = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	digitsPattern   = regexp.MustCompile(`^[0-9]+$`)
)

// PINPolicy bounds the number of digits a transaction PIN may have.
type PINPolicy struct {
	MinLength int
	MaxLength int
}

var DefaultPINPolicy = PINPolicy{MinLength: 4, MaxLength: 6}

// TransferRequest is a caller's instruction to move money from one of their
// accounts to a recipient account at any registered bank.
type TransferRequest struct {
	UserID           string `json:"user_id"`
	Identity         string `json:"identity"`
	SourceAccount    string `json:"source_account"`
	SourceBank       string `json:"source_bank,omitempty"`
	RecipientAccount string `json:"recipient_account"`
	RecipientIFSC    string `json:"recipient_ifsc"`
	Amount           Amount `json:"amount"`
	PIN              string `json:"-"`
	Description      string `json:"description"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

// Normalize trims inputs and upper-cases the IFSC code.
func (r *TransferRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Identity = strings.TrimSpace(r.Identity)
	r.SourceAccount = strings.TrimSpace(r.SourceAccount)
	r.SourceBank = strings.ToUpper(strings.TrimSpace(r.SourceBank))
	r.RecipientAccount = strings.TrimSpace(r.RecipientAccount)
	r.RecipientIFSC = strings.ToUpper(strings.TrimSpace(r.RecipientIFSC))
	r.PIN = strings.TrimSpace(r.PIN)
	r.Description = strings.TrimSpace(r.Description)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.Description == "" {
		r.Description = DefaultTransferDescription
	}
}

func positiveAmount(value interface{}) error {
	amount, ok := value.(Amount)
	if !ok {
		return errors.New("invalid amount type")
	}
	if !amount.IsPositive() {
		return errors.New("transfer amount must be greater than zero")
	}
	return nil
}

// Validate checks the request against the PIN policy and field formats.
func (r *TransferRequest) Validate(policy PINPolicy) error {
	pinMessage := fmt.Sprintf("transaction PIN must be %d-%d digits", policy.MinLength, policy.MaxLength)
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Identity, validation.Required, validation.Match(identityPattern).Error("identity must be a 12-digit number")),
		validation.Field(&r.SourceAccount, validation.Required),
		validation.Field(&r.RecipientAccount, validation.Required),
		validation.Field(&r.RecipientIFSC, validation.Required, validation.Match(ifscPattern).Error("recipient IFSC must be an 11-character IFSC code")),
		validation.Field(&r.Amount, validation.By(positiveAmount)),
		validation.Field(&r.PIN,
			validation.Required.Error(pinMessage),
			validation.Length(policy.MinLength, policy.MaxLength).Error(pinMessage),
			validation.Match(digitsPattern).Error(pinMessage),
		),
		validation.Field(&r.Description, validation.Length(0, 500)),
		validation.Field(&r.IdempotencyKey, validation.Length(0, 128)),
	)
}

// ValidIdentity reports whether identity looks like a 12-digit national identifier.
func ValidIdentity(identity string) bool {
	return identityPattern.MatchString(identity)
}

// TransferOutcome is the envelope returned to callers of the transfer operation.
type TransferOutcome struct {
	Status           string       `json:"status"`
	TransactionID    string       `json:"transaction_id,omitempty"`
	Amount           Amount       `json:"amount"`
	SourceAccount    string       `json:"source_account"`
	RecipientAccount string       `json:"recipient_account"`
	Message          string       `json:"message"`
	Error            string       `json:"error,omitempty"`
	Transaction      *Transaction `json:"transaction,omitempty"`
}
