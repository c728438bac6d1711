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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/internal/request"
	"github.com/vyomnext/banklink/model"
)

// HTTPClient talks to a ledger service over its JSON HTTP contract.
// Per-call deadlines come from the caller's context.
type HTTPClient struct {
	bank     Bank
	client   *http.Client
	observer Observer
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = client }
}

func WithObserver(observer Observer) HTTPOption {
	return func(c *HTTPClient) { c.observer = observer }
}

func NewHTTPClient(b Bank, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		bank:     b,
		client:   &http.Client{Timeout: 30 * time.Second},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e errorBody) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

type pinRequest struct {
	AccountNumber string `json:"account_number"`
	PIN           string `json:"pin"`
}

type pinResponse struct {
	Valid bool `json:"valid"`
}

type movementRequest struct {
	AccountNumber string       `json:"account_number"`
	Amount        model.Amount `json:"amount"`
	Description   string       `json:"description"`
	PIN           string       `json:"pin,omitempty"`
}

type movementResponse struct {
	Status  string       `json:"status"`
	Balance model.Amount `json:"balance"`
}

type reply struct {
	status  int
	message string
}

func (c *HTTPClient) ListAccounts(ctx context.Context, identity string) (_ []model.Account, err error) {
	defer c.observe(OpListAccounts, time.Now(), &err)

	var accounts []model.Account
	r, err := c.send(ctx, OpListAccounts, http.MethodGet, "/accounts/"+url.PathEscape(identity), nil, &accounts)
	if err == nil {
		err = c.expectOK(OpListAccounts, r, "No accounts found")
	}
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		accounts[i].BankCode = c.bank.Code
		accounts[i].BankName = c.bank.Name
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	return accounts, nil
}

func (c *HTTPClient) ListTransactions(ctx context.Context, accountNumber string) (_ []model.BankTransaction, err error) {
	defer c.observe(OpListTransactions, time.Now(), &err)

	var transactions []model.BankTransaction
	r, err := c.send(ctx, OpListTransactions, http.MethodGet, "/transactions/"+url.PathEscape(accountNumber), nil, &transactions)
	if err == nil {
		err = c.expectOK(OpListTransactions, r, "Account not found")
	}
	if err != nil {
		return nil, err
	}
	if transactions == nil {
		transactions = []model.BankTransaction{}
	}
	return transactions, nil
}

// VerifyPIN reports false for a wrong PIN. Errors are reserved for calls that
// could not be answered.
func (c *HTTPClient) VerifyPIN(ctx context.Context, accountNumber, pin string) (_ bool, err error) {
	defer c.observe(OpVerifyPIN, time.Now(), &err)

	var resp pinResponse
	r, err := c.send(ctx, OpVerifyPIN, http.MethodPost, "/verify_pin", pinRequest{AccountNumber: accountNumber, PIN: pin}, &resp)
	if err != nil {
		return false, err
	}
	switch r.status {
	case http.StatusOK:
		return resp.Valid, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	}
	return false, c.expectOK(OpVerifyPIN, r, "Account not found")
}

func (c *HTTPClient) Debit(ctx context.Context, movement Movement) (model.Amount, error) {
	return c.move(ctx, OpDebit, "/debit", movement)
}

func (c *HTTPClient) Credit(ctx context.Context, movement Movement) (model.Amount, error) {
	return c.move(ctx, OpCredit, "/credit", movement)
}

func (c *HTTPClient) move(ctx context.Context, operation, path string, movement Movement) (_ model.Amount, err error) {
	defer c.observe(operation, time.Now(), &err)

	body := movementRequest{
		AccountNumber: movement.AccountNumber,
		Amount:        movement.Amount,
		Description:   movement.Description,
		PIN:           movement.PIN,
	}
	var resp movementResponse
	r, err := c.send(ctx, operation, http.MethodPost, path, body, &resp)
	if err != nil {
		return 0, err
	}

	switch {
	case r.status == http.StatusOK && resp.Status != "error":
		return resp.Balance, nil
	case r.status == http.StatusOK, r.status == http.StatusBadRequest, r.status == http.StatusUnprocessableEntity:
		msg := r.message
		if msg == "" {
			msg = operation + " rejected"
		}
		return 0, apierror.NewAPIError(apierror.ErrBusinessRule, msg, fmt.Errorf("%s %s rejected with status %d", c.bank.Code, operation, r.status))
	case r.status == http.StatusNotFound:
		return 0, apierror.NewAPIError(apierror.ErrNotFound, "Account not found", fmt.Errorf("%s %s: account %s not found", c.bank.Code, operation, movement.AccountNumber))
	}
	return 0, c.unexpected(operation, r)
}

func (c *HTTPClient) Health(ctx context.Context) (err error) {
	defer c.observe(OpHealth, time.Now(), &err)

	r, err := c.send(ctx, OpHealth, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	if r.status != http.StatusOK {
		return c.unexpected(OpHealth, r)
	}
	return nil
}

func (c *HTTPClient) expectOK(operation string, r reply, notFoundMessage string) error {
	switch r.status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return apierror.NewAPIError(apierror.ErrNotFound, notFoundMessage, fmt.Errorf("%s %s: %s", c.bank.Code, operation, r.message))
	}
	return c.unexpected(operation, r)
}

func (c *HTTPClient) unexpected(operation string, r reply) error {
	return apierror.NewAPIError(apierror.ErrUpstreamUnavailable, fmt.Sprintf("%s is unavailable", c.bank.Name),
		fmt.Errorf("%s %s returned status %d: %s", c.bank.Code, operation, r.status, r.message))
}

// observe records the final, classified outcome of a public call.
func (c *HTTPClient) observe(operation string, start time.Time, err *error) {
	elapsed := time.Since(start)
	c.observer.ObserveLedgerCall(c.bank.Code, operation, Outcome(*err), elapsed)
	if *err != nil && IsUnavailable(*err) {
		logrus.WithFields(logrus.Fields{
			"bank_code": c.bank.Code,
			"operation": operation,
			"elapsed":   elapsed.String(),
		}).WithError(*err).Warn("ledger call failed")
	}
}

func (c *HTTPClient) send(ctx context.Context, operation, method, path string, payload, out interface{}) (reply, error) {
	var body io.Reader
	if payload != nil {
		buf, err := request.ToJsonReq(payload)
		if err != nil {
			return reply{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode ledger request", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.bank.URL, "/")+path, body)
	if err != nil {
		return reply{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build ledger request", err)
	}

	var raw json.RawMessage
	resp, err := request.CallWithClient(c.client, req, &raw)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return reply{}, c.transportError(operation, err)
	}

	r := reply{status: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err != nil {
			return r, c.malformed(path, err)
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return r, c.malformed(path, err)
			}
		}
	}

	// Business responses come back as {"error": "..."} and may also be read on 200.
	var eb errorBody
	if len(raw) > 0 && json.Unmarshal(raw, &eb) == nil {
		r.message = eb.text()
	}
	return r, nil
}

func (c *HTTPClient) malformed(path string, err error) error {
	return apierror.NewAPIError(apierror.ErrUpstreamUnavailable, fmt.Sprintf("%s returned an unreadable response", c.bank.Name),
		fmt.Errorf("%s %s: %w", c.bank.Code, path, err))
}

// transportError wraps a failure to get any response. Writes that time out are
// tagged ErrOutcomeUnknown since the ledger may have applied them.
func (c *HTTPClient) transportError(operation string, err error) error {
	detail := fmt.Errorf("%s: %w", c.bank.Code, err)
	if (operation == OpDebit || operation == OpCredit) && isTimeout(err) {
		detail = fmt.Errorf("%s: %w: %v", c.bank.Code, ErrOutcomeUnknown, err)
	}
	return apierror.NewAPIError(apierror.ErrUpstreamUnavailable, fmt.Sprintf("%s is unavailable", c.bank.Name), detail)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
