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
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a currency value held in minor units (paise). Ledger services speak
// rupees with two decimal places on the wire; conversion happens at the JSON edge
// so that no arithmetic inside the system is done in floating point.
type Amount int64

const minorUnitPlaces = 2

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount parses a rupee value such as "500" or "500.25" strictly. Values with
// more than two fractional digits are rejected rather than rounded.
func ParseAmount(value string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	minor := d.Shift(minorUnitPlaces)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), minorUnitPlaces)
	}
	return fromMinorUnits(d, minor)
}

// AmountFromDecimal converts a rupee decimal to paise, rounding half away from zero.
// Used for balances reported by remote ledgers, which may carry float noise.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	return fromMinorUnits(d, d.Round(minorUnitPlaces).Shift(minorUnitPlaces))
}

func fromMinorUnits(rupees, minor decimal.Decimal) (Amount, error) {
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return 0, fmt.Errorf("amount %s is out of range", rupees.String())
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount in rupees.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -minorUnitPlaces)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(minorUnitPlaces)
}

func (a Amount) IsPositive() bool {
	return a > 0
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a number or a quoted number and rounds to paise. It
// is meant for values reported by ledgers; caller input goes through RequestAmount.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw, ok := amountLiteral(data)
	if !ok {
		*a = 0
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %s", raw)
	}
	v, err := AmountFromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// RequestAmount is an Amount supplied by a caller. Decoding is strict: more
// than two decimal places or a value beyond the paise range is an error, so
// the amount that moves is exactly the amount asked for.
type RequestAmount Amount

func (a RequestAmount) Amount() Amount {
	return Amount(a)
}

func (a RequestAmount) MarshalJSON() ([]byte, error) {
	return Amount(a).MarshalJSON()
}

func (a *RequestAmount) UnmarshalJSON(data []byte) error {
	raw, ok := amountLiteral(data)
	if !ok {
		*a = 0
		return nil
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = RequestAmount(v)
	return nil
}

// amountLiteral strips quotes from a JSON amount. ok is false for null or empty input.
func amountLiteral(data []byte) (string, bool) {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return "", false
	}
	return raw, true
}
