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

package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"stash.kopano.io/kc/fedbroker/federation"
	"stash.kopano.io/kc/fedbroker/managers"
	"stash.kopano.io/kc/fedbroker/session"
	ticketManagers "stash.kopano.io/kc/fedbroker/ticket/managers"
)

func newManagers(ctx context.Context, bs *bootstrap) (*managers.Managers, error) {
	logger := bs.cfg.Logger

	mgrs := managers.New()

	bs.metricsRegistry = prometheus.NewRegistry()

	// Ticket store manager.
	store := ticketManagers.NewMemoryMapStore(ctx, &ticketManagers.MemoryMapStoreConfig{
		Logger: logger,

		Capacity: bs.ticketCapacity,

		Registerer: bs.metricsRegistry,
	})
	mgrs.Set("ticketstore", store)
	if bs.ticketCapacity > 0 {
		logger.Infof("ticket store capacity limited to %d tickets", bs.ticketCapacity)
	}

	// Ticket lifecycle manager.
	tickets := ticketManagers.NewTicketManager(&ticketManagers.TicketManagerConfig{
		Logger: logger,

		Store: store,

		IdleTimeout: bs.ticketIdleTimeout,
		MaxAge:      bs.ticketMaxAge,
	})
	mgrs.Set("tickets", tickets)

	// Session registry manager.
	sessions := session.NewRegistry(logger)
	mgrs.Set("sessions", sessions)

	// Federation partner registry manager.
	partners, err := federation.NewRegistry(bs.partnerRegistrationConf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create partner registry: %v", err)
	}
	mgrs.Set("partners", partners)

	// Backward channel transport manager.
	transport := federation.NewHTTPTransport(&federation.HTTPTransportConfig{
		Logger: logger,

		HTTPTransport: bs.cfg.HTTPTransport,
	})
	mgrs.Set("transport", transport)

	// Logout coordination manager.
	logout := federation.NewLogoutCoordinator(&federation.LogoutCoordinatorConfig{
		Logger: logger,

		Sessions:  sessions,
		Partners:  partners,
		Transport: transport,

		EntityID: bs.entityIDURI.String(),
		Deadline: bs.logoutDeadline,

		Registerer: bs.metricsRegistry,
	})
	mgrs.Set("logout", logout)

	// Session sync coordination manager.
	sync := federation.NewSyncCoordinator(&federation.SyncCoordinatorConfig{
		Logger: logger,

		Store:    store,
		Tickets:  tickets,
		Sessions: sessions,

		Partners:  partners,
		Transport: transport,

		EntityID: bs.entityIDURI.String(),
		Interval: bs.syncInterval,

		Registerer: bs.metricsRegistry,
	})
	mgrs.Set("sync", sync)

	// Queued sync reporting manager.
	reporter := federation.NewSyncReporter(&federation.SyncReporterConfig{
		Logger: logger,

		Coordinator: sync,

		Interval: bs.syncInterval,
	})
	mgrs.Set("reporter", reporter)

	return mgrs, nil
}
