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
	"time"

	"stash.kopano.io/kc/fedbroker"
)

// A Record holds the context data of a single ticket granting ticket. Records
// are owned by the store they live in, callers keep the id only. The attribute
// mapping carries the authenticated user context as provided on creation.
type Record struct {
	ID         string
	Attributes map[string]interface{}

	CreatedAt    time.Time
	LastActivity time.Time
}

// UserID returns the user id attribute of the accociated record.
func (r *Record) UserID() string {
	userID, _ := r.Attributes[fedbroker.UserIDAttribute].(string)
	return userID
}

// FederationURL returns the federation partner attribute of the accociated
// record, empty when the record's session is not federated.
func (r *Record) FederationURL() string {
	federationURL, _ := r.Attributes[fedbroker.FederationURLAttribute].(string)
	return federationURL
}

// Clone returns a copy of the accociated record with its own attribute
// mapping.
func (r *Record) Clone() *Record {
	attributes := make(map[string]interface{}, len(r.Attributes))
	for k, v := range r.Attributes {
		attributes[k] = v
	}

	clone := *r
	clone.Attributes = attributes

	return &clone
}
