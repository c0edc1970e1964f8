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
	"errors"
	"fmt"
	"net/url"
)

// Service names resolvable from partner registrations.
const (
	ServiceSingleLogout = "single_logout"
	ServiceSessionSync  = "session_sync"
)

// BindingBackchannel identifies the direct server to server exchange as
// opposed to browser redirect based exchange.
const BindingBackchannel = "urn:fedbroker:bindings:backchannel"

// RegistryData is the base structure of our partner registration configuration
// file.
type RegistryData struct {
	Partners []*PartnerRegistration `yaml:"partners,flow"`
}

// PartnerRegistration defines a federation partner with its properties.
type PartnerRegistration struct {
	EntityID string `yaml:"entity_id"`
	Name     string `yaml:"name"`

	RawSingleLogoutEndpoint string `yaml:"single_logout_endpoint"`
	RawSessionSyncEndpoint  string `yaml:"session_sync_endpoint"`

	// SigningSecret enables signing of backward channel messages to this
	// partner when set.
	SigningSecret string `yaml:"signing_secret"`

	Insecure bool `yaml:"insecure"`

	singleLogoutEndpoint *url.URL
	sessionSyncEndpoint  *url.URL
}

// Validate validates the associated partner registration data and returns
// error if the data is not valid.
func (pr *PartnerRegistration) Validate() error {
	if pr.EntityID == "" {
		return errors.New("no entity_id")
	}

	if pr.RawSingleLogoutEndpoint != "" {
		u, err := url.Parse(pr.RawSingleLogoutEndpoint)
		if err != nil {
			return fmt.Errorf("invalid single_logout_endpoint value: %v", err)
		}
		if u.Scheme != "https" && !pr.Insecure {
			return errors.New("single_logout_endpoint must be https")
		}
		pr.singleLogoutEndpoint = u
	}

	if pr.RawSessionSyncEndpoint != "" {
		u, err := url.Parse(pr.RawSessionSyncEndpoint)
		if err != nil {
			return fmt.Errorf("invalid session_sync_endpoint value: %v", err)
		}
		if u.Scheme != "https" && !pr.Insecure {
			return errors.New("session_sync_endpoint must be https")
		}
		pr.sessionSyncEndpoint = u
	}

	return nil
}
