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

package federation

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/session"
	"stash.kopano.io/kc/fedbroker/ticket"
)

const (
	defaultSyncInterval   = 60 * time.Second
	defaultFlushThreshold = 32
)

// SyncCoordinatorConfig bundles the parameters of a session sync coordinator.
type SyncCoordinatorConfig struct {
	Logger logrus.FieldLogger

	Store    ticket.Store
	Tickets  ticket.Manager
	Sessions *session.Registry

	Partners  *Registry
	Transport Transport

	// EntityID is this system's own entity id, used as issuer of session sync
	// messages.
	EntityID string

	// Interval is the delay between periodic sync sweeps.
	Interval time.Duration

	Registerer prometheus.Registerer
}

// SyncCoordinator pushes session liveness updates to federation partners. Sync
// messages are refreshes, resending is always safe.
type SyncCoordinator struct {
	store    ticket.Store
	tickets  ticket.Manager
	sessions *session.Registry

	partners  *Registry
	transport Transport

	entityID string
	interval time.Duration

	syncsTotal   prometheus.Counter
	syncFailures prometheus.Counter

	logger logrus.FieldLogger
}

// NewSyncCoordinator creates a new SyncCoordinator with the provided
// parameters.
func NewSyncCoordinator(c *SyncCoordinatorConfig) *SyncCoordinator {
	interval := c.Interval
	if interval == 0 {
		interval = defaultSyncInterval
	}

	sc := &SyncCoordinator{
		store:    c.Store,
		tickets:  c.Tickets,
		sessions: c.Sessions,

		partners:  c.Partners,
		transport: c.Transport,

		entityID: c.EntityID,
		interval: interval,

		syncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fedbroker",
			Subsystem: "sync",
			Name:      "sent_total",
			Help:      "Total number of session sync messages sent.",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fedbroker",
			Subsystem: "sync",
			Name:      "failures_total",
			Help:      "Total number of failed session sync sends.",
		}),

		logger: c.Logger,
	}

	if c.Registerer != nil {
		c.Registerer.MustRegister(sc.syncsTotal, sc.syncFailures)
	}

	return sc
}

// SynchronizeSession sends a session liveness update for the ticket with the
// provided ID to its federation partner. With upgrade set, the ticket's idle
// timeout window is renewed as well.
func (sc *SyncCoordinator) SynchronizeSession(ctx context.Context, ticketID string, upgrade bool) fedbroker.ResultCode {
	if ticketID == "" {
		return fedbroker.ResultInvalidRequest
	}

	record, err := sc.store.Get(ticketID)
	if err != nil {
		if err == ticket.ErrNotFound {
			return fedbroker.ResultNotFound
		}
		sc.logger.WithError(err).WithField("ticket", ticketID).Errorln("sync failed to load ticket")
		return fedbroker.ResultInternalError
	}

	federationURL := record.FederationURL()
	if federationURL == "" {
		// Local only ticket, there is no partner to synchronize with.
		return fedbroker.ResultInvalidRequest
	}

	logger := sc.logger.WithFields(logrus.Fields{
		"ticket":  ticketID,
		"partner": federationURL,
	})

	partner, ok := sc.partners.Get(federationURL)
	if !ok {
		logger.Warnln("sync for ticket with unknown federation partner")
		return fedbroker.ResultInvalidRequest
	}

	endpoint, err := sc.partners.GetLocation(federationURL, ServiceSessionSync, BindingBackchannel)
	if err != nil {
		logger.WithError(err).Warnln("sync partner without session sync endpoint")
		return fedbroker.ResultInvalidRequest
	}

	sc.syncsTotal.Inc()
	err = sc.transport.SendSessionSync(ctx, endpoint, partner, &SessionSync{
		RequestID: uuid.NewV4().String(),
		Issuer:    sc.entityID,
		TicketID:  ticketID,
		UserID:    record.UserID(),
		Upgrade:   upgrade,
		IssuedAt:  time.Now(),
	})
	if err != nil {
		sc.syncFailures.Inc()
		logger.WithError(err).Warnln("session sync send failed")
		return fedbroker.ResultInternalError
	}

	if upgrade {
		// Best effort, the sync succeeded even when the renew races the
		// ticket's expiry.
		if renewErr := sc.tickets.Renew(ctx, ticketID); renewErr != nil {
			logger.WithError(renewErr).Debugln("sync upgrade renew failed")
		}
	}

	if touchErr := sc.sessions.TouchServiceProviders(record.UserID(), federationURL, time.Now()); touchErr != nil {
		logger.WithError(touchErr).Debugln("sync without session to touch")
	}

	return fedbroker.ResultSuccess
}

// Run starts periodic sync sweeps over all stored federated tickets until the
// provided context is done. Blocks.
func (sc *SyncCoordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sc.sweep(ctx)
		}
	}
}

func (sc *SyncCoordinator) sweep(ctx context.Context) {
	var ticketIDs []string
	sc.store.Range(func(record *ticket.Record) bool {
		if record.FederationURL() != "" {
			ticketIDs = append(ticketIDs, record.ID)
		}
		return true
	})

	// Unknown partners are reported once per sweep, not once per ticket.
	unknown := mapset.NewSet()
	for _, id := range ticketIDs {
		result := sc.SynchronizeSession(ctx, id, false)
		if result == fedbroker.ResultInvalidRequest {
			if record, err := sc.store.Get(id); err == nil {
				unknown.Add(record.FederationURL())
			}
		}
	}

	if unknown.Cardinality() > 0 {
		sc.logger.WithField("partners", unknown.ToSlice()).Warnln("sync sweep skipped tickets of unknown partners")
	}
}

// SyncReporterConfig bundles the parameters of a batching sync reporter.
type SyncReporterConfig struct {
	Logger logrus.FieldLogger

	Coordinator *SyncCoordinator

	// Threshold is the queue size which triggers an immediate flush.
	Threshold int

	// Interval is the delay between periodic queue flushes.
	Interval time.Duration
}

type syncRequest struct {
	ticketID string
	upgrade  bool
}

// SyncReporter batches sync requests and flushes them to its coordinator
// either when the queue reaches its threshold or periodically. Failed syncs
// are logged and dropped, the next periodic sweep picks the ticket up again.
type SyncReporter struct {
	mutex sync.Mutex
	queue []*syncRequest

	coordinator *SyncCoordinator
	threshold   int
	interval    time.Duration

	logger logrus.FieldLogger
}

// NewSyncReporter creates a new SyncReporter with the provided parameters.
func NewSyncReporter(c *SyncReporterConfig) *SyncReporter {
	threshold := c.Threshold
	if threshold == 0 {
		threshold = defaultFlushThreshold
	}
	interval := c.Interval
	if interval == 0 {
		interval = defaultSyncInterval
	}

	return &SyncReporter{
		coordinator: c.Coordinator,
		threshold:   threshold,
		interval:    interval,

		logger: c.Logger,
	}
}

// Report queues a sync request for the provided ticket. When the queue reaches
// the reporter's threshold, it is flushed before Report returns.
func (sr *SyncReporter) Report(ctx context.Context, ticketID string, upgrade bool) {
	sr.mutex.Lock()
	sr.queue = append(sr.queue, &syncRequest{
		ticketID: ticketID,
		upgrade:  upgrade,
	})
	full := len(sr.queue) >= sr.threshold
	sr.mutex.Unlock()

	if full {
		sr.Flush(ctx)
	}
}

// Flush drains the queue completely, sending every queued sync request.
// Requests queued concurrently while flushing are drained as well.
func (sr *SyncReporter) Flush(ctx context.Context) {
	for {
		sr.mutex.Lock()
		batch := sr.queue
		sr.queue = nil
		sr.mutex.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, request := range batch {
			result := sr.coordinator.SynchronizeSession(ctx, request.ticketID, request.upgrade)
			if result != fedbroker.ResultSuccess {
				sr.logger.WithFields(logrus.Fields{
					"ticket": request.ticketID,
					"result": result,
				}).Debugln("queued session sync not delivered")
			}
		}
	}
}

// Run flushes the reporter's queue periodically until the provided context is
// done. Blocks.
func (sr *SyncReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sr.Flush(ctx)
		}
	}
}
