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
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vyomnext/banklink/api"
	"github.com/vyomnext/banklink/config"
	trace "github.com/vyomnext/banklink/internal/traces"
)

const (
	serviceName     = "BANKLINK"
	shutdownTimeout = 10 * time.Second
	certStoragePath = "./certmagic"
)

/*
serveTLS builds an HTTPS server whose certificates CertMagic obtains and renews.
Without a configured domain it manages a certificate for localhost.
*/
func serveTLS(ctx context.Context, r *gin.Engine, conf config.ServerConfig) (*http.Server, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: certStoragePath}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}, nil
}

func initializeRouter(b *banklinkInstance) *gin.Engine {
	return api.NewAPI(b.banklink).Router()
}

// initializeObservability installs the OpenTelemetry SDK and forwards logrus
// entries to its log pipeline.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}

	shutdown, err := trace.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	logrus.AddHook(trace.NewLogrusHook(serviceName, logrus.InfoLevel))
	return shutdown, nil
}

func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	var (
		server *http.Server
		err    error
	)
	if cfg.SSL {
		server, err = serveTLS(ctx, router, cfg)
		if err != nil {
			return err
		}
	} else {
		server = &http.Server{Addr: ":" + cfg.Port, Handler: router}
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.SSL {
			log.Printf("Starting HTTPS server on %s\n", cfg.Port)
			errCh <- server.ListenAndServeTLS("", "")
			return
		}
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// In-flight transfers finish their sagas before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

/*
serverCommands returns the command that serves the HTTP API.
*/
func serverCommands(b *banklinkInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start banklink server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer func() {
				if err := b.banklink.Close(); err != nil {
					log.Printf("Error closing banklink: %v", err)
				}
			}()

			shutdown, err := initializeObservability(ctx, b.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			router := initializeRouter(b)
			if err := startServer(ctx, router, b.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
