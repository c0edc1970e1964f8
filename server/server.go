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

package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/fedbroker/config"
	"stash.kopano.io/kc/fedbroker/encryption"
	"stash.kopano.io/kc/fedbroker/federation"
	"stash.kopano.io/kc/fedbroker/session"
	"stash.kopano.io/kc/fedbroker/ticket"
)

// Server is our HTTP server implementation.
type Server struct {
	config *config.Config

	tickets  ticket.Manager
	sessions *session.Registry
	logout   *federation.LogoutCoordinator
	sync     *federation.SyncCoordinator
	reporter *federation.SyncReporter

	encryptionKey *[encryption.KeySize]byte

	metricsHandler http.Handler

	logger logrus.FieldLogger
}

// NewServer constructs a server from the provided parameters.
func NewServer(c *Config) (*Server, error) {
	s := &Server{
		config: c.Config,

		tickets:  c.Tickets,
		sessions: c.Sessions,
		logout:   c.Logout,
		sync:     c.Sync,
		reporter: c.Reporter,

		encryptionKey: c.EncryptionKey,

		logger: c.Config.Logger,
	}

	if c.MetricsRegistry != nil {
		s.metricsHandler = promhttp.HandlerFor(c.MetricsRegistry, promhttp.HandlerOpts{})
	}

	return s, nil
}

// AddRoutes adds the accociated Servers URL routes to the provided router with
// the provided context as reference.
func (s *Server) AddRoutes(ctx context.Context, router *mux.Router) {
	router.HandleFunc("/health-check", s.HealthCheckHandler)
	if s.metricsHandler != nil {
		router.Handle("/metrics", s.metricsHandler)
	}

	v1 := router.PathPrefix("/fedbroker/v1").Subrouter()
	v1.HandleFunc("/tickets", s.handleCreateTicket).Methods(http.MethodPost)
	v1.HandleFunc("/tickets/{ticketID}/renew", s.handleRenewTicket).Methods(http.MethodPost)
	v1.HandleFunc("/tickets/{ticketID}/invalidate", s.handleInvalidateTicket).Methods(http.MethodPost)
	v1.HandleFunc("/session/login", s.handleSessionLogin).Methods(http.MethodPost)
	v1.HandleFunc("/session/sp", s.handleAddServiceProvider).Methods(http.MethodPost)
	v1.HandleFunc("/session/sp", s.handleRemoveServiceProvider).Methods(http.MethodDelete)
	v1.HandleFunc("/session/logout", s.handleSessionLogout).Methods(http.MethodPost)
	v1.HandleFunc("/session/sync", s.handleSessionSync).Methods(http.MethodPost)
}

// Serve starts all the accociated servers resources and listeners and blocks
// forever until signals or error occurs.
func (s *Server) Serve(ctx context.Context) error {
	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	logger := s.logger

	errCh := make(chan error, 2)

	router := mux.NewRouter()
	s.AddRoutes(serveCtx, router)

	srv := &http.Server{
		Handler: router,
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	logger.WithField("listenAddr", listener.Addr()).Infoln("ready to handle requests")

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	// Background session sync.
	if s.sync != nil {
		go func() {
			runErr := s.sync.Run(serveCtx)
			if runErr != nil && runErr != context.Canceled {
				errCh <- runErr
			}
		}()
	}
	if s.reporter != nil {
		go func() {
			s.reporter.Run(serveCtx)
		}()
	}

	select {
	case err = <-errCh:
	case <-serveCtx.Done():
	}

	logger.Infoln("clean server shutdown start")
	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCtxCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Warnln("clean server shutdown failed")
	}

	return err
}

// HealthCheckHandler implements the health check endpoint, returning 200 OK
// when the server health is fine.
func (s *Server) HealthCheckHandler(rw http.ResponseWriter, req *http.Request) {
	rw.WriteHeader(http.StatusOK)
}
