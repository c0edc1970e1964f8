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

package managers

import (
	"context"
	"time"

	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/managers"
	"stash.kopano.io/kc/fedbroker/ticket"
)

const (
	ticketIDLength   = 32
	maxCreateRetries = 3
)

// TicketManagerConfig bundles the parameters of a ticket manager.
type TicketManagerConfig struct {
	Logger logrus.FieldLogger

	Store ticket.Store

	// IdleTimeout is the sliding expiry applied on creation and renewal.
	IdleTimeout time.Duration
	// MaxAge bounds the total ticket lifetime independent of activity. Zero
	// means no bound.
	MaxAge time.Duration
}

// ticketManager implements the ticket lifecycle policy on top of a store. Its
// methods are safe to call from multiple Go routines.
type ticketManager struct {
	store ticket.Store

	idleTimeout time.Duration
	maxAge      time.Duration

	logout ticket.LogoutTrigger

	logger logrus.FieldLogger
}

// NewTicketManager creates a new ticket Manager with the provided parameters.
func NewTicketManager(c *TicketManagerConfig) ticket.Manager {
	m := &ticketManager{
		store: c.Store,

		idleTimeout: c.IdleTimeout,
		maxAge:      c.MaxAge,

		logger: c.Logger,
	}

	return m
}

// RegisterManagers registers the accociated managers.
func (m *ticketManager) RegisterManagers(mgrs *managers.Managers) error {
	if logout, ok := mgrs.Get("logout"); ok {
		m.logout, _ = logout.(ticket.LogoutTrigger)
	}

	// Expired tickets trigger logout fan out same as invalidated ones.
	if expiring, ok := m.store.(interface {
		OnExpired(func(record *ticket.Record))
	}); ok {
		expiring.OnExpired(m.onExpired)
	}

	return nil
}

func (m *ticketManager) onExpired(record *ticket.Record) {
	m.logger.WithFields(logrus.Fields{
		"ticket": record.ID,
		"uid":    record.UserID(),
	}).Debugln("ticket expired")

	if m.logout == nil {
		return
	}
	m.logout.TriggerLogout(context.Background(), record.UserID(), uuid.NewV4().String(), record.ID)
}

// CreateTicket implements the ticket.Manager interface. Id generation
// collisions are retried a bounded number of times, a failed create leaves no
// partial record behind.
func (m *ticketManager) CreateTicket(ctx context.Context, attributes map[string]interface{}) (string, error) {
	if userID, _ := attributes[fedbroker.UserIDAttribute].(string); userID == "" {
		return "", ticket.ErrInvalid
	}

	now := time.Now()
	for i := 0; i < maxCreateRetries; i++ {
		id := rndm.GenerateRandomString(ticketIDLength)
		record := &ticket.Record{
			ID:         id,
			Attributes: attributes,

			CreatedAt:    now,
			LastActivity: now,
		}

		err := m.store.Put(id, record, m.idleTimeout)
		switch err {
		case nil:
			return id, nil
		case ticket.ErrDuplicate:
			// Should not happen with random ids of this width, retry.
			m.logger.WithField("ticket", id).Warnln("ticket id collision on create")
			continue
		default:
			return "", err
		}
	}

	return "", ticket.ErrInternal
}

// Renew implements the ticket.Manager interface.
func (m *ticketManager) Renew(ctx context.Context, id string) error {
	record, err := m.store.Get(id)
	if err != nil {
		return err
	}

	ttl := m.idleTimeout
	if m.maxAge > 0 {
		remaining := time.Until(record.CreatedAt.Add(m.maxAge))
		if remaining <= 0 {
			// Max age reached, the ticket ends its life now.
			if removed, _ := m.store.Remove(id); removed && m.logout != nil {
				m.logout.TriggerLogout(ctx, record.UserID(), uuid.NewV4().String(), id)
			}
			return ticket.ErrNotFound
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	return m.store.Touch(id, ttl)
}

// Invalidate implements the ticket.Manager interface. The session lookup for
// logout fan out starts while the ticket still exists, removal does not wait
// for fan out completion.
func (m *ticketManager) Invalidate(ctx context.Context, id string, requestID string) error {
	record, err := m.store.Get(id)
	if err == ticket.ErrNotFound {
		// Double logout or already expired, normal outcome.
		m.store.Remove(id)
		return nil
	}
	if err != nil {
		return err
	}

	if m.logout != nil {
		m.logout.TriggerLogout(ctx, record.UserID(), requestID, id)
	}

	_, err = m.store.Remove(id)
	return err
}

// Lookup implements the ticket.Manager interface.
func (m *ticketManager) Lookup(ctx context.Context, id string) (*ticket.Record, error) {
	return m.store.Get(id)
}
