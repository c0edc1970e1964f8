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
	"errors"
	"sync"
	"testing"
	"time"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/session"
	"stash.kopano.io/kc/fedbroker/ticket"
)

type fakeStore struct {
	mutex   sync.Mutex
	records map[string]*ticket.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*ticket.Record),
	}
}

func (s *fakeStore) Put(id string, record *ticket.Record, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.records[id]; ok {
		return ticket.ErrDuplicate
	}
	s.records[id] = record

	return nil
}

func (s *fakeStore) Get(id string) (*ticket.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}

	return record.Clone(), nil
}

func (s *fakeStore) Touch(id string, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.records[id]; !ok {
		return ticket.ErrNotFound
	}

	return nil
}

func (s *fakeStore) Remove(id string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)

	return ok, nil
}

func (s *fakeStore) Size() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.records)
}

func (s *fakeStore) Range(f func(record *ticket.Record) bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, record := range s.records {
		if !f(record.Clone()) {
			return
		}
	}
}

type fakeTicketManager struct {
	mutex   sync.Mutex
	renewed []string
}

func (m *fakeTicketManager) CreateTicket(ctx context.Context, attributes map[string]interface{}) (string, error) {
	return "", ticket.ErrInternal
}

func (m *fakeTicketManager) Renew(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.renewed = append(m.renewed, id)

	return nil
}

func (m *fakeTicketManager) Invalidate(ctx context.Context, id string, requestID string) error {
	return nil
}

func (m *fakeTicketManager) Lookup(ctx context.Context, id string) (*ticket.Record, error) {
	return nil, ticket.ErrNotFound
}

func (m *fakeTicketManager) renewedIDs() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]string{}, m.renewed...)
}

func newSyncTestEnv(t *testing.T, transport Transport) (*SyncCoordinator, *fakeStore, *fakeTicketManager, *session.Registry) {
	store := newFakeStore()
	tickets := &fakeTicketManager{}
	sessions := session.NewRegistry(newTestLogger())
	partners := newTestPartnerRegistry(t, "https://sp1.example.com")

	sc := NewSyncCoordinator(&SyncCoordinatorConfig{
		Logger:    newTestLogger(),
		Store:     store,
		Tickets:   tickets,
		Sessions:  sessions,
		Partners:  partners,
		Transport: transport,
		EntityID:  "https://broker.example.com",
	})

	return sc, store, tickets, sessions
}

func putFederatedTicket(t *testing.T, store *fakeStore, id string, userID string, federationURL string) {
	err := store.Put(id, &ticket.Record{
		ID: id,
		Attributes: map[string]interface{}{
			fedbroker.UserIDAttribute:        userID,
			fedbroker.FederationURLAttribute: federationURL,
		},
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}, time.Minute)
	if err != nil {
		t.Fatalf("failed to put test ticket: %v", err)
	}
}

func TestSynchronizeSession(t *testing.T) {
	transport := &fakeTransport{}
	sc, store, tickets, sessions := newSyncTestEnv(t, transport)

	putFederatedTicket(t, store, "ticket1", "user1", "https://sp1.example.com")
	sessions.RecordLogin("user1", "ticket1", nil)
	sessions.AddServiceProvider("user1", "https://sp1.example.com")

	result := sc.SynchronizeSession(context.Background(), "ticket1", false)
	if result != fedbroker.ResultSuccess {
		t.Fatalf("expected success, got %v", result)
	}

	syncs := transport.sentSessionSyncs()
	if len(syncs) != 1 {
		t.Fatalf("expected 1 sync message, got %d", len(syncs))
	}
	if syncs[0].TicketID != "ticket1" || syncs[0].UserID != "user1" {
		t.Errorf("unexpected sync message: %+v", syncs[0])
	}
	if syncs[0].Upgrade {
		t.Error("sync message should not be an upgrade")
	}
	if got := len(tickets.renewedIDs()); got != 0 {
		t.Errorf("expected no renew without upgrade, got %d", got)
	}

	sess, err := sessions.Get("user1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if sess.ServiceProviders[0].LastSync.IsZero() {
		t.Error("expected service provider last sync to be updated")
	}
}

func TestSynchronizeSessionUpgradeRenews(t *testing.T) {
	transport := &fakeTransport{}
	sc, store, tickets, _ := newSyncTestEnv(t, transport)

	putFederatedTicket(t, store, "ticket1", "user1", "https://sp1.example.com")

	result := sc.SynchronizeSession(context.Background(), "ticket1", true)
	if result != fedbroker.ResultSuccess {
		t.Fatalf("expected success, got %v", result)
	}

	renewed := tickets.renewedIDs()
	if len(renewed) != 1 || renewed[0] != "ticket1" {
		t.Errorf("expected ticket1 to be renewed, got %v", renewed)
	}
}

func TestSynchronizeSessionUnknownTicket(t *testing.T) {
	transport := &fakeTransport{}
	sc, _, _, _ := newSyncTestEnv(t, transport)

	if result := sc.SynchronizeSession(context.Background(), "nope", false); result != fedbroker.ResultNotFound {
		t.Errorf("expected not found, got %v", result)
	}
}

func TestSynchronizeSessionEmptyTicketID(t *testing.T) {
	transport := &fakeTransport{}
	sc, _, _, _ := newSyncTestEnv(t, transport)

	if result := sc.SynchronizeSession(context.Background(), "", false); result != fedbroker.ResultInvalidRequest {
		t.Errorf("expected invalid request, got %v", result)
	}
}

func TestSynchronizeSessionLocalTicket(t *testing.T) {
	transport := &fakeTransport{}
	sc, store, _, _ := newSyncTestEnv(t, transport)

	putFederatedTicket(t, store, "ticket1", "user1", "")

	if result := sc.SynchronizeSession(context.Background(), "ticket1", false); result != fedbroker.ResultInvalidRequest {
		t.Errorf("expected invalid request for local ticket, got %v", result)
	}
	if got := len(transport.sentSessionSyncs()); got != 0 {
		t.Errorf("expected no sync messages for local ticket, got %d", got)
	}
}

func TestSynchronizeSessionTransportFailure(t *testing.T) {
	transport := &fakeTransport{
		failFor: map[string]error{
			"https://sp1.example.com": errors.New("unreachable"),
		},
	}
	sc, store, _, _ := newSyncTestEnv(t, transport)

	putFederatedTicket(t, store, "ticket1", "user1", "https://sp1.example.com")

	if result := sc.SynchronizeSession(context.Background(), "ticket1", false); result != fedbroker.ResultInternalError {
		t.Errorf("expected internal error, got %v", result)
	}
}

func TestSyncReporterThresholdFlush(t *testing.T) {
	transport := &fakeTransport{}
	sc, store, _, _ := newSyncTestEnv(t, transport)

	putFederatedTicket(t, store, "ticket1", "user1", "https://sp1.example.com")
	putFederatedTicket(t, store, "ticket2", "user2", "https://sp1.example.com")

	sr := NewSyncReporter(&SyncReporterConfig{
		Logger:      newTestLogger(),
		Coordinator: sc,
		Threshold:   2,
	})

	sr.Report(context.Background(), "ticket1", false)
	if got := len(transport.sentSessionSyncs()); got != 0 {
		t.Fatalf("expected no flush below threshold, got %d syncs", got)
	}

	sr.Report(context.Background(), "ticket2", false)
	if got := len(transport.sentSessionSyncs()); got != 2 {
		t.Fatalf("expected threshold flush to send 2 syncs, got %d", got)
	}
}

func TestSyncReporterFlushDrains(t *testing.T) {
	transport := &fakeTransport{}
	sc, store, _, _ := newSyncTestEnv(t, transport)

	for _, id := range []string{"ticket1", "ticket2", "ticket3"} {
		putFederatedTicket(t, store, id, "user-"+id, "https://sp1.example.com")
		putFederatedTicket(t, store, id+"x", "user-"+id, "https://sp1.example.com")
	}

	sr := NewSyncReporter(&SyncReporterConfig{
		Logger:      newTestLogger(),
		Coordinator: sc,
		Threshold:   100,
	})

	for _, id := range []string{"ticket1", "ticket2", "ticket3"} {
		sr.Report(context.Background(), id, false)
		sr.Report(context.Background(), id+"x", false)
	}
	sr.Flush(context.Background())

	if got := len(transport.sentSessionSyncs()); got != 6 {
		t.Fatalf("expected flush to drain all 6 queued syncs, got %d", got)
	}
	sr.Flush(context.Background())
	if got := len(transport.sentSessionSyncs()); got != 6 {
		t.Fatalf("expected empty flush to be a no-op, got %d syncs", got)
	}
}
