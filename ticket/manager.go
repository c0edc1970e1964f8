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

package ticket

import (
	"context"
	"time"
)

// A Store is a concurrent container mapping ticket ids to records with per
// entry expiry. All methods are safe to call from multiple Go routines. A
// record whose deadline has passed is gone for all readers no matter whether
// the background sweep already removed it.
type Store interface {
	// Put inserts a new record under the provided id with the provided time
	// to live. It returns ErrDuplicate when the id is already in use and
	// ErrStoreBusy when the store is at capacity.
	Put(id string, record *Record, ttl time.Duration) error
	// Get returns the record stored under the provided id or ErrNotFound. The
	// expiry deadline is checked on read, Get never extends it.
	Get(id string) (*Record, error)
	// Touch resets the expiry deadline of the record stored under the
	// provided id to now plus the provided time to live.
	Touch(id string, ttl time.Duration) error
	// Remove deletes the record stored under the provided id. Removing an
	// absent id is not an error, the returned flag tells whether the id was
	// present.
	Remove(id string) (bool, error)
	// Size returns the current number of live records.
	Size() int
	// Range calls the provided function for every live record until it
	// returns false.
	Range(f func(record *Record) bool)
}

// A Manager provides the ticket lifecycle policy on top of a Store.
type Manager interface {
	// CreateTicket generates a fresh random id, registers the provided
	// attributes under it and returns the id.
	CreateTicket(ctx context.Context, attributes map[string]interface{}) (string, error)
	// Renew implements sliding session semantics by resetting the idle
	// timeout of the accociated ticket.
	Renew(ctx context.Context, id string) error
	// Invalidate triggers logout fan out for the accociated ticket's session
	// and removes the ticket. Invalidating an absent ticket is a no-op.
	Invalidate(ctx context.Context, id string, requestID string) error
	// Lookup returns the record of the accociated ticket.
	Lookup(ctx context.Context, id string) (*Record, error)
}

// A LogoutTrigger receives logout triggers when tickets end their life
// through invalidation or expiry. Implemented by the logout coordinator.
type LogoutTrigger interface {
	TriggerLogout(ctx context.Context, userID string, requestID string, ticketID string)
}
