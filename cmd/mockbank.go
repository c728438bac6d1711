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

package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/bank/banktest"
	"github.com/vyomnext/banklink/config"
)

// mockBank resolves the bank a mock ledger impersonates. Known codes take
// their name and IFSC prefix from the default deployment.
func mockBank(code, name, ifscPrefix string) (bank.Bank, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return bank.Bank{}, fmt.Errorf("bank code is required")
	}
	for _, b := range bank.FromConfig(config.DefaultBanks()) {
		if b.Code == code {
			if name != "" {
				b.Name = name
			}
			if ifscPrefix != "" {
				b.IFSCPrefix = ifscPrefix
			}
			return b, nil
		}
	}
	if name == "" || ifscPrefix == "" {
		return bank.Bank{}, fmt.Errorf("unknown bank %s: --name and --ifsc-prefix are required", code)
	}
	return bank.Bank{Code: code, Name: name, IFSCPrefix: ifscPrefix}, nil
}

func loadSeedFile(ledger *banktest.Ledger, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ledger.LoadSeed(f)
}

// mockBankCommands serves an in-memory ledger over the bank HTTP contract.
// It needs no configuration file, store or queue.
func mockBankCommands() *cobra.Command {
	var code, name, ifscPrefix, port, seed string

	cmd := &cobra.Command{
		Use:   "mockbank",
		Short: "serve an in-memory bank ledger for local development",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			b, err := mockBank(code, name, ifscPrefix)
			if err != nil {
				log.Fatal(err)
			}
			ledger := banktest.NewLedger(b)

			if seed != "" {
				n, err := loadSeedFile(ledger, seed)
				if err != nil {
					log.Fatalf("error loading seed %s: %v", seed, err)
				}
				logrus.WithFields(logrus.Fields{"bank_code": b.Code, "accounts": n}).Info("seed loaded")
			}

			log.Printf("%s mock ledger listening on :%s", b.Name, port)
			if err := banktest.Handler(ledger).Run(":" + port); err != nil {
				log.Fatal(err)
			}
		},
	}

	cmd.Flags().StringVar(&code, "code", "SBI", "bank code to impersonate")
	cmd.Flags().StringVar(&name, "name", "", "bank display name")
	cmd.Flags().StringVar(&ifscPrefix, "ifsc-prefix", "", "IFSC prefix routed to this bank")
	cmd.Flags().StringVar(&port, "port", "5001", "port to listen on")
	cmd.Flags().StringVar(&seed, "seed", "", "JSON file of accounts to load")
	return cmd
}
