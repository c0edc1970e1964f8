/*
 * Copyright 2020 Kopano and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stash.kopano.io/kc/fedbroker/bootstrap"
	"stash.kopano.io/kc/fedbroker/config"
	"stash.kopano.io/kc/fedbroker/encryption"
	"stash.kopano.io/kc/fedbroker/federation"
	"stash.kopano.io/kc/fedbroker/server"
	"stash.kopano.io/kc/fedbroker/session"
	"stash.kopano.io/kc/fedbroker/ticket"
)

const defaultListenAddr = "127.0.0.1:8778"

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", defaultListenAddr, "TCP listen address")
	serveCmd.Flags().String("entity-id", "", "Entity ID of this broker as used in backward channel messages")
	serveCmd.Flags().String("partner-registration-conf", "", "Path to partner registration configuration file")
	serveCmd.Flags().String("encryption-secret", "", fmt.Sprintf("Path to a file containing the session credential encryption secret (%d bytes)", encryption.KeySize))
	serveCmd.Flags().Int("ticket-capacity", 0, "Maximum number of concurrently stored tickets (0 for unlimited)")
	serveCmd.Flags().Uint64("ticket-idle-timeout", 0, "Ticket idle timeout in seconds")
	serveCmd.Flags().Uint64("ticket-max-age", 0, "Maximum ticket lifetime in seconds")
	serveCmd.Flags().Uint64("logout-deadline", 0, "Logout fan out deadline in seconds")
	serveCmd.Flags().Uint64("sync-interval", 0, "Session sync sweep interval in seconds")
	serveCmd.Flags().Bool("insecure", false, "Disable TLS certificate and hostname validation")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.Infoln("serve start")

	cfg := &config.Config{
		Logger: logger,
	}

	bsConf := &bootstrap.Config{}
	bsConf.Listen, _ = cmd.Flags().GetString("listen")
	bsConf.EntityID, _ = cmd.Flags().GetString("entity-id")
	bsConf.PartnerRegistrationConf, _ = cmd.Flags().GetString("partner-registration-conf")
	bsConf.EncryptionSecretFile, _ = cmd.Flags().GetString("encryption-secret")
	bsConf.TicketCapacity, _ = cmd.Flags().GetInt("ticket-capacity")
	bsConf.TicketIdleTimeoutSeconds, _ = cmd.Flags().GetUint64("ticket-idle-timeout")
	bsConf.TicketMaxAgeSeconds, _ = cmd.Flags().GetUint64("ticket-max-age")
	bsConf.LogoutDeadlineSeconds, _ = cmd.Flags().GetUint64("logout-deadline")
	bsConf.SyncIntervalSeconds, _ = cmd.Flags().GetUint64("sync-interval")
	bsConf.Insecure, _ = cmd.Flags().GetBool("insecure")

	bs, err := bootstrap.Boot(ctx, bsConf, cfg)
	if err != nil {
		return err
	}
	mgrs := bs.Managers()

	srv, err := server.NewServer(&server.Config{
		Config: bs.Config(),

		Tickets:  mgrs.Must("tickets").(ticket.Manager),
		Sessions: mgrs.Must("sessions").(*session.Registry),
		Logout:   mgrs.Must("logout").(*federation.LogoutCoordinator),
		Sync:     mgrs.Must("sync").(*federation.SyncCoordinator),
		Reporter: mgrs.Must("reporter").(*federation.SyncReporter),

		EncryptionKey:   bs.EncryptionKey(),
		MetricsRegistry: bs.MetricsRegistry(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		logger.WithField("signal", sig).Infoln("received signal, shutting down")
		cancel()
	}()

	logger.Infoln("serve started")
	return srv.Serve(ctx)
}
