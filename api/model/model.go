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
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/vyomnext/banklink/model"
)

// CreateTransfer is the body of POST /transfers.
type CreateTransfer struct {
	UserID           string              `json:"user_id"`
	Identity         string              `json:"identity"`
	SourceAccount    string              `json:"source_account"`
	SourceBank       string              `json:"source_bank"`
	RecipientAccount string              `json:"recipient_account"`
	RecipientIFSC    string              `json:"recipient_ifsc"`
	Amount           model.RequestAmount `json:"amount"`
	TransactionPIN   string              `json:"transaction_pin"`
	Description      string              `json:"description"`
	IdempotencyKey   string              `json:"idempotency_key"`
}

// ValidateCreateTransfer checks the fields the handler needs before handing
// the request to the transfer service, which applies the full rule set.
func (t *CreateTransfer) ValidateCreateTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.UserID, validation.Required),
		validation.Field(&t.Identity, validation.Required),
		validation.Field(&t.SourceAccount, validation.Required),
		validation.Field(&t.RecipientAccount, validation.Required),
		validation.Field(&t.RecipientIFSC, validation.Required),
		validation.Field(&t.TransactionPIN, validation.Required.Error("transaction PIN is required")),
	)
}

// ToTransferRequest converts the body into a service request. A key passed in
// the Idempotency-Key header wins over the one in the body.
func (t *CreateTransfer) ToTransferRequest(headerKey string) model.TransferRequest {
	key := t.IdempotencyKey
	if strings.TrimSpace(headerKey) != "" {
		key = headerKey
	}
	return model.TransferRequest{
		UserID:           t.UserID,
		Identity:         t.Identity,
		SourceAccount:    t.SourceAccount,
		SourceBank:       t.SourceBank,
		RecipientAccount: t.RecipientAccount,
		RecipientIFSC:    t.RecipientIFSC,
		Amount:           t.Amount.Amount(),
		PIN:              t.TransactionPIN,
		Description:      t.Description,
		IdempotencyKey:   key,
	}
}

// HistoryQuery holds the query string of GET /transfers.
type HistoryQuery struct {
	UserID string `form:"user_id"`
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

func validStatus(value interface{}) error {
	status, _ := value.(string)
	if status == "" || model.Status(strings.ToUpper(status)).IsValid() {
		return nil
	}
	return errors.New("status must be one of PENDING, SUCCESS, FAILED")
}

func (q *HistoryQuery) ValidateHistoryQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.UserID, validation.Required),
		validation.Field(&q.Status, validation.By(validStatus)),
		validation.Field(&q.Limit, validation.Min(0)),
	)
}

// NormalizedStatus returns the status filter in its stored form.
func (q *HistoryQuery) NormalizedStatus() string {
	return strings.ToUpper(strings.TrimSpace(q.Status))
}
