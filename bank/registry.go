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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/internal/apierror"
)

// Registry maps bank codes to their ledger clients and IFSC prefixes.
// It is built once at startup and never mutated, so it is safe for concurrent use.
type Registry struct {
	banks    map[string]Bank
	clients  map[string]LedgerClient
	codes    []string
	prefixes []Bank
}

// ClientFactory builds the ledger client for one bank.
type ClientFactory func(Bank) LedgerClient

func NewRegistry(banks []Bank, factory ClientFactory) (*Registry, error) {
	if len(banks) == 0 {
		return nil, fmt.Errorf("at least one bank must be registered")
	}

	r := &Registry{
		banks:   make(map[string]Bank, len(banks)),
		clients: make(map[string]LedgerClient, len(banks)),
	}
	for _, b := range banks {
		b.Code = strings.ToUpper(strings.TrimSpace(b.Code))
		b.IFSCPrefix = strings.ToUpper(strings.TrimSpace(b.IFSCPrefix))
		if b.Code == "" || b.IFSCPrefix == "" {
			return nil, fmt.Errorf("bank %q needs a code and an IFSC prefix", b.Name)
		}
		if _, dup := r.banks[b.Code]; dup {
			return nil, fmt.Errorf("bank code %s registered twice", b.Code)
		}
		for _, other := range r.prefixes {
			if other.IFSCPrefix == b.IFSCPrefix {
				return nil, fmt.Errorf("ifsc prefix %s is shared by %s and %s", b.IFSCPrefix, other.Code, b.Code)
			}
		}
		if b.Name == "" {
			b.Name = b.Code
		}
		r.banks[b.Code] = b
		r.clients[b.Code] = factory(b)
		r.codes = append(r.codes, b.Code)
		r.prefixes = append(r.prefixes, b)
	}

	sort.Strings(r.codes)
	// Longest prefix wins, ties broken by code so lookups are deterministic.
	sort.Slice(r.prefixes, func(i, j int) bool {
		if len(r.prefixes[i].IFSCPrefix) != len(r.prefixes[j].IFSCPrefix) {
			return len(r.prefixes[i].IFSCPrefix) > len(r.prefixes[j].IFSCPrefix)
		}
		return r.prefixes[i].Code < r.prefixes[j].Code
	})
	return r, nil
}

// Banks returns every registered bank ordered by code.
func (r *Registry) Banks() []Bank {
	out := make([]Bank, 0, len(r.codes))
	for _, code := range r.codes {
		out = append(out, r.banks[code])
	}
	return out
}

func (r *Registry) Bank(code string) (Bank, error) {
	b, ok := r.banks[strings.ToUpper(code)]
	if !ok {
		return Bank{}, apierror.NewAPIError(apierror.ErrBusinessRule, fmt.Sprintf("Unknown bank %s", code), nil)
	}
	return b, nil
}

func (r *Registry) Client(code string) (LedgerClient, error) {
	client, ok := r.clients[strings.ToUpper(code)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrBusinessRule, fmt.Sprintf("Unknown bank %s", code), nil)
	}
	return client, nil
}

// ResolveIFSC finds the bank owning an IFSC code by prefix.
func (r *Registry) ResolveIFSC(ifsc string) (Bank, error) {
	ifsc = strings.ToUpper(strings.TrimSpace(ifsc))
	for _, b := range r.prefixes {
		if strings.HasPrefix(ifsc, b.IFSCPrefix) {
			return b, nil
		}
	}
	return Bank{}, apierror.NewAPIError(apierror.ErrBusinessRule, "Recipient bank is not supported for this IFSC code", fmt.Errorf("no bank registered for ifsc %q", ifsc))
}

// NewRegistryFromConfig builds HTTP ledger clients for every configured bank,
// wrapping their reads in a circuit breaker unless it is disabled.
func NewRegistryFromConfig(cnf *config.Configuration, observer Observer) (*Registry, error) {
	if observer == nil {
		observer = nopObserver{}
	}
	breaker := BreakerConfig{
		ConsecutiveFailures: cnf.Breaker.ConsecutiveFailures,
		OpenTimeout:         time.Duration(cnf.Breaker.OpenTimeoutSec) * time.Second,
	}
	return NewRegistry(FromConfig(cnf.Banks), func(b Bank) LedgerClient {
		client := NewHTTPClient(b, WithObserver(observer))
		if cnf.Breaker.Disabled {
			return client
		}
		return NewBreakerClient(b, client, breaker, observer)
	})
}
