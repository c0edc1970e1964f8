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
	"time"
)

// A ServiceProvider records one relying party participating in a user's single
// sign on session. The same provider can appear multiple times when the user
// logged in through it more than once.
type ServiceProvider struct {
	URL string

	LastSync time.Time
}

// A UserSession is the per user record of the single sign on session. It
// references the owning ticket by id only, the ticket store stays the owner.
type UserSession struct {
	UserID   string
	TicketID string

	// Credentials holds the sealed AuthSP issued credential blob.
	Credentials []byte

	// LogoutInitiator is the service provider which triggered logout, empty
	// while no logout is in progress.
	LogoutInitiator string

	ServiceProviders []*ServiceProvider
}

func (s *UserSession) clone() *UserSession {
	clone := *s

	clone.Credentials = append([]byte(nil), s.Credentials...)
	clone.ServiceProviders = make([]*ServiceProvider, len(s.ServiceProviders))
	for i, sp := range s.ServiceProviders {
		spClone := *sp
		clone.ServiceProviders[i] = &spClone
	}

	return &clone
}
