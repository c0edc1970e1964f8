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
	"io/ioutil"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Errors as returned by location lookups.
var (
	ErrUnknownPartner = errors.New("unknown federation partner")
	ErrNoLocation     = errors.New("no location for service")
)

// Registry implements the registry for registered federation partners.
type Registry struct {
	mutex sync.RWMutex

	partners map[string]*PartnerRegistration

	logger logrus.FieldLogger
}

// NewRegistry creates a new partner Registry with the provided parameters,
// optionally loading registrations from the provided configuration file.
func NewRegistry(registrationConfFilepath string, logger logrus.FieldLogger) (*Registry, error) {
	registryData := &RegistryData{}

	if registrationConfFilepath != "" {
		logger.Debugf("parsing partner registration conf from %v", registrationConfFilepath)
		registryFile, err := ioutil.ReadFile(registrationConfFilepath)
		if err != nil {
			return nil, err
		}

		err = yaml.Unmarshal(registryFile, registryData)
		if err != nil {
			return nil, err
		}
	}

	r := &Registry{
		partners: make(map[string]*PartnerRegistration),

		logger: logger,
	}

	for _, partner := range registryData.Partners {
		fields := logrus.Fields{
			"entity_id":   partner.EntityID,
			"with_secret": partner.SigningSecret != "",
			"insecure":    partner.Insecure,
		}

		if registerErr := r.Register(partner); registerErr != nil {
			logger.WithError(registerErr).WithFields(fields).Warnln("skipped registration of invalid partner entry")
			continue
		}

		logger.WithFields(fields).Debugln("registered partner")
	}

	return r, nil
}

// Register validates the provided partner registration and adds the partner
// to the accociated registry if valid. Returns error otherwise.
func (r *Registry) Register(partner *PartnerRegistration) error {
	if err := partner.Validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.partners[partner.EntityID] = partner

	return nil
}

// Get returns the registered partner registration for the provided entity ID.
func (r *Registry) Get(entityID string) (*PartnerRegistration, bool) {
	if entityID == "" {
		return nil, false
	}

	r.mutex.RLock()
	registration, ok := r.partners[entityID]
	r.mutex.RUnlock()

	return registration, ok
}

// GetLocation resolves the endpoint of the provided service at the partner
// registered under the provided entity ID using the provided binding.
func (r *Registry) GetLocation(entityID string, service string, binding string) (*url.URL, error) {
	partner, ok := r.Get(entityID)
	if !ok {
		return nil, ErrUnknownPartner
	}

	if binding != BindingBackchannel {
		return nil, ErrNoLocation
	}

	var endpoint *url.URL
	switch service {
	case ServiceSingleLogout:
		endpoint = partner.singleLogoutEndpoint
	case ServiceSessionSync:
		endpoint = partner.sessionSyncEndpoint
	}
	if endpoint == nil {
		return nil, ErrNoLocation
	}

	return endpoint, nil
}
