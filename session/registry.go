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

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no session exists for a user. This is a normal
// outcome for logout paths racing each other.
var ErrNotFound = errors.New("no session for user")

// Registry implements the registry for user single sign on sessions. All
// mutations of a single user's session are serialized, sessions of different
// users are independent of each other. There is at most one session per user.
type Registry struct {
	mutex    sync.RWMutex
	sessions map[string]*sessionEntry

	logger logrus.FieldLogger
}

// A sessionEntry is the unit of mutual exclusion, its mutex serializes all
// operations on the session it holds.
type sessionEntry struct {
	mutex   sync.Mutex
	session *UserSession
}

// NewRegistry creates a new session Registry.
func NewRegistry(logger logrus.FieldLogger) *Registry {
	return &Registry{
		sessions: make(map[string]*sessionEntry),

		logger: logger,
	}
}

func (r *Registry) entry(userID string, create bool) *sessionEntry {
	r.mutex.RLock()
	entry, ok := r.sessions[userID]
	r.mutex.RUnlock()
	if ok || !create {
		return entry
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok = r.sessions[userID]
	if !ok {
		entry = &sessionEntry{}
		r.sessions[userID] = entry
	}

	return entry
}

// RecordLogin creates the session for the provided user or, when one exists
// already, resets its ticket reference and credentials. A new login collapses
// any pre-existing session for that user.
func (r *Registry) RecordLogin(userID string, ticketID string, credentials []byte) {
	entry := r.entry(userID, true)
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	if entry.session == nil {
		entry.session = &UserSession{
			UserID: userID,
		}
	}
	entry.session.TicketID = ticketID
	entry.session.Credentials = credentials
	entry.session.LogoutInitiator = ""
}

// AddServiceProvider appends the provided service provider to the user's
// session. Duplicate entries are permitted, repeated logins from the same
// provider are tracked as separate entries.
func (r *Registry) AddServiceProvider(userID string, spURL string) error {
	entry := r.entry(userID, false)
	if entry == nil {
		return ErrNotFound
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.session == nil {
		return ErrNotFound
	}

	entry.session.ServiceProviders = append(entry.session.ServiceProviders, &ServiceProvider{
		URL: spURL,
	})

	return nil
}

// RemoveServiceProvider removes the first matching service provider entry from
// the user's session. With duplicate entries the remaining ones stay.
func (r *Registry) RemoveServiceProvider(userID string, spURL string) error {
	entry := r.entry(userID, false)
	if entry == nil {
		return ErrNotFound
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.session == nil {
		return ErrNotFound
	}

	for i, sp := range entry.session.ServiceProviders {
		if sp.URL == spURL {
			entry.session.ServiceProviders = append(entry.session.ServiceProviders[:i], entry.session.ServiceProviders[i+1:]...)
			break
		}
	}

	return nil
}

// TouchServiceProviders updates the last sync timestamp of every entry of the
// provided service provider in the user's session.
func (r *Registry) TouchServiceProviders(userID string, spURL string, when time.Time) error {
	entry := r.entry(userID, false)
	if entry == nil {
		return ErrNotFound
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.session == nil {
		return ErrNotFound
	}

	for _, sp := range entry.session.ServiceProviders {
		if sp.URL == spURL {
			sp.LastSync = when
		}
	}

	return nil
}

// SetLogoutInitiator records the service provider which triggered the logout
// currently in progress for the provided user.
func (r *Registry) SetLogoutInitiator(userID string, spURL string) error {
	entry := r.entry(userID, false)
	if entry == nil {
		return ErrNotFound
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.session == nil {
		return ErrNotFound
	}

	entry.session.LogoutInitiator = spURL

	return nil
}

// Get returns a copy of the session of the provided user or ErrNotFound.
func (r *Registry) Get(userID string) (*UserSession, error) {
	entry := r.entry(userID, false)
	if entry == nil {
		return nil, ErrNotFound
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.session == nil {
		return nil, ErrNotFound
	}

	return entry.session.clone(), nil
}

// Remove deletes the session of the provided user. Removing an absent session
// is not an error.
func (r *Registry) Remove(userID string) {
	entry := r.entry(userID, false)
	if entry == nil {
		return
	}

	entry.mutex.Lock()
	entry.session = nil
	entry.mutex.Unlock()

	r.mutex.Lock()
	delete(r.sessions, userID)
	r.mutex.Unlock()
}

// Size returns the current number of sessions.
func (r *Registry) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.sessions)
}
