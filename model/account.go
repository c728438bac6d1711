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

// Account is a bank account as reported by a remote ledger. The ledger owns it;
// this system only reads it transiently.
type Account struct {
	AccountNumber string `json:"account_number"`
	UserName      string `json:"user_name,omitempty"`
	Identity      string `json:"aadhaar_number,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
	Balance       Amount `json:"balance"`
	Phone         string `json:"phone,omitempty"`
	IFSCCode      string `json:"ifsc_code,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

// Key identifies an account across banks. Account numbers are only unique within a bank.
func (a Account) Key() string {
	return AccountKey(a.BankCode, a.AccountNumber)
}

func AccountKey(bankCode, accountNumber string) string {
	return bankCode + ":" + accountNumber
}

// BankTransaction is a single entry in a remote ledger's transaction history.
type BankTransaction struct {
	AccountNumber string `json:"account_number"`
	Type          string `json:"type"`
	Amount        Amount `json:"amount"`
	Description   string `json:"description"`
	BalanceAfter  Amount `json:"balance_after"`
	Timestamp     string `json:"timestamp"`
}
