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
	"context"
	"sync"

	"github.com/vyomnext/banklink/bank"
)

const (
	HealthUp   = "up"
	HealthDown = "down"
)

// BankHealth is the result of probing one ledger.
type BankHealth struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Breaker string `json:"breaker,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthReport covers the transaction store and every registered ledger.
type HealthReport struct {
	Status string       `json:"status"`
	Store  string       `json:"store"`
	Banks  []BankHealth `json:"banks"`
}

// CheckBanks probes every registered ledger concurrently.
func (b *Banklink) CheckBanks(ctx context.Context) []BankHealth {
	ctx, span := tracer.Start(ctx, "CheckBanks")
	defer span.End()

	banks := b.registry.Banks()
	report := make([]BankHealth, len(banks))

	var wg sync.WaitGroup
	for i, bk := range banks {
		wg.Add(1)
		go func(i int, bk bank.Bank) {
			defer wg.Done()
			report[i] = b.checkBank(ctx, bk)
		}(i, bk)
	}
	wg.Wait()
	return report
}

func (b *Banklink) checkBank(ctx context.Context, bk bank.Bank) BankHealth {
	health := BankHealth{Code: bk.Code, Name: bk.Name, Status: HealthUp}

	client, err := b.registry.Client(bk.Code)
	if err != nil {
		health.Status = HealthDown
		health.Error = err.Error()
		return health
	}
	if breaker, ok := client.(*bank.BreakerClient); ok {
		health.Breaker = breaker.State()
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Transfer.CallTimeout())
	defer cancel()
	if err := client.Health(callCtx); err != nil {
		health.Status = HealthDown
		health.Error = userMessage(err, bankUnavailableMessage)
	}
	return health
}

// Health reports the store and ledger status. The service is "up" only when
// the store answers; unreachable banks degrade it.
func (b *Banklink) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: HealthUp, Store: HealthUp, Banks: b.CheckBanks(ctx)}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Transfer.CallTimeout())
	defer cancel()
	if err := b.datasource.Ping(callCtx); err != nil {
		report.Store = HealthDown
		report.Status = HealthDown
		return report
	}
	for _, bh := range report.Banks {
		if bh.Status == HealthDown {
			report.Status = "degraded"
			break
		}
	}
	return report
}
