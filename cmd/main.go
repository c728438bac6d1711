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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vyomnext/banklink"
	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/database"
	"github.com/vyomnext/banklink/internal/notification"
)

// Banklink is the CLI application, wrapping the root Cobra command.
type Banklink struct {
	cmd *cobra.Command
}

// banklinkInstance holds the service and configuration shared by commands.
type banklinkInstance struct {
	banklink *banklink.Banklink
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command runs.
func preRun(app *banklinkInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newBanklink, err := setupBanklink(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.banklink = newBanklink
		app.cnf = cnf
		return nil
	}
}

// setupBanklink connects to the transaction store and the configured banks.
func setupBanklink(cfg *config.Configuration) (*banklink.Banklink, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newBanklink, err := banklink.NewBanklinkFromConfig(cfg, db)
	if err != nil {
		return nil, fmt.Errorf("error creating banklink: %v", err)
	}
	return newBanklink, nil
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *Banklink {
	var configFile string
	b := &banklinkInstance{}

	var rootCmd = &cobra.Command{
		Use:   "banklink",
		Short: "Multi-bank account aggregation and transfers",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./banklink.json", "Configuration file for banklink")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands(b))
	rootCmd.AddCommand(mockBankCommands())

	return &Banklink{cmd: rootCmd}
}

func (w Banklink) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
