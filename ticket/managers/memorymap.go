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

	"github.com/orcaman/concurrent-map"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/fedbroker/ticket"
)

const (
	defaultSweepInterval = 30 * time.Second
)

// MemoryMapStoreConfig bundles the parameters of a memory map store.
type MemoryMapStoreConfig struct {
	Logger logrus.FieldLogger

	// Capacity is the maximum number of live records. Inserts beyond it fail
	// with ErrStoreBusy, active records are never evicted to make room.
	Capacity int

	SweepInterval time.Duration

	Registerer prometheus.Registerer
}

// memoryMapStore provides the state for an in memory ticket store. Its methods
// are safe to call from multiple Go routines.
type memoryMapStore struct {
	table    cmap.ConcurrentMap
	capacity int

	onExpired func(record *ticket.Record)

	logger logrus.FieldLogger
}

type ticketRecord struct {
	record   *ticket.Record
	deadline time.Time
}

func (tr *ticketRecord) expired(now time.Time) bool {
	return now.After(tr.deadline)
}

// NewMemoryMapStore creates a new in memory ticket Store. The store sweeps
// expired records in the background until the provided context is done.
func NewMemoryMapStore(ctx context.Context, c *MemoryMapStoreConfig) ticket.Store {
	s := &memoryMapStore{
		table:    cmap.New(),
		capacity: c.Capacity,

		logger: c.Logger,
	}

	sweepInterval := c.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = defaultSweepInterval
	}

	if c.Registerer != nil {
		c.Registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fedbroker",
			Subsystem: "tickets",
			Name:      "stored",
			Help:      "Number of tickets currently held by the store.",
		}, func() float64 {
			return float64(s.table.Count())
		}))
	}

	// Cleanup function.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.purgeExpired()
			case <-ctx.Done():
				return
			}

		}
	}()

	return s
}

func (s *memoryMapStore) purgeExpired() {
	var expired []*ticketRecord
	now := time.Now()
	var tr *ticketRecord
	for entry := range s.table.IterBuffered() {
		tr = entry.Val.(*ticketRecord)
		if tr.expired(now) {
			expired = append(expired, tr)
		}
	}
	for _, tr = range expired {
		if _, ok := s.table.Pop(tr.record.ID); ok {
			s.expire(tr.record)
		}
	}
}

// expire reports the provided record as expired to the registered hook.
func (s *memoryMapStore) expire(record *ticket.Record) {
	if s.onExpired != nil {
		s.onExpired(record)
	}
}

// OnExpired registers the provided function to be called whenever a record
// ends its life through expiry rather than removal.
func (s *memoryMapStore) OnExpired(f func(record *ticket.Record)) {
	s.onExpired = f
}

// Put implements the ticket.Store interface.
func (s *memoryMapStore) Put(id string, record *ticket.Record, ttl time.Duration) error {
	if s.capacity > 0 && s.table.Count() >= s.capacity {
		return ticket.ErrStoreBusy
	}

	tr := &ticketRecord{
		record:   record,
		deadline: time.Now().Add(ttl),
	}
	if ok := s.table.SetIfAbsent(id, tr); !ok {
		return ticket.ErrDuplicate
	}

	return nil
}

// Get implements the ticket.Store interface. The expiry deadline is
// authoritative at read time, logically expired records are reported as not
// found even before the sweep removed them.
func (s *memoryMapStore) Get(id string) (*ticket.Record, error) {
	stored, ok := s.table.Get(id)
	if !ok {
		return nil, ticket.ErrNotFound
	}

	tr := stored.(*ticketRecord)
	if tr.expired(time.Now()) {
		if _, popped := s.table.Pop(id); popped {
			s.expire(tr.record)
		}
		return nil, ticket.ErrNotFound
	}

	return tr.record, nil
}

// Touch implements the ticket.Store interface.
func (s *memoryMapStore) Touch(id string, ttl time.Duration) error {
	stored, ok := s.table.Get(id)
	if !ok {
		return ticket.ErrNotFound
	}

	tr := stored.(*ticketRecord)
	now := time.Now()
	if tr.expired(now) {
		if _, popped := s.table.Pop(id); popped {
			s.expire(tr.record)
		}
		return ticket.ErrNotFound
	}

	record := tr.record.Clone()
	record.LastActivity = now
	s.table.Set(id, &ticketRecord{
		record:   record,
		deadline: now.Add(ttl),
	})

	return nil
}

// Remove implements the ticket.Store interface.
func (s *memoryMapStore) Remove(id string) (bool, error) {
	_, ok := s.table.Pop(id)
	return ok, nil
}

// Size implements the ticket.Store interface.
func (s *memoryMapStore) Size() int {
	return s.table.Count()
}

// Range implements the ticket.Store interface. Expired records are skipped.
func (s *memoryMapStore) Range(f func(record *ticket.Record) bool) {
	now := time.Now()
	for entry := range s.table.IterBuffered() {
		tr := entry.Val.(*ticketRecord)
		if tr.expired(now) {
			continue
		}
		if !f(tr.record) {
			return
		}
	}
}
