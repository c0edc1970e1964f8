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

package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/fedbroker/config"
	"stash.kopano.io/kc/fedbroker/encryption"
	"stash.kopano.io/kc/fedbroker/managers"
	"stash.kopano.io/kc/fedbroker/utils"
)

// Defaults.
const (
	defaultListenAddr = "127.0.0.1:8778"

	defaultTicketIdleTimeoutSeconds = 300
	defaultTicketMaxAgeSeconds      = 60 * 60 * 8
	defaultLogoutDeadlineSeconds    = 30
	defaultSyncIntervalSeconds      = 60
)

// Config is a typed application config which represents the user accessible
// config params.
type Config struct {
	EntityID                string
	Listen                  string
	Insecure                bool
	PartnerRegistrationConf string
	EncryptionSecretFile    string

	TicketCapacity           int
	TicketIdleTimeoutSeconds uint64
	TicketMaxAgeSeconds      uint64
	LogoutDeadlineSeconds    uint64
	SyncIntervalSeconds      uint64
}

// Bootstrap is a data structure to hold configuration required to start
// fedbrokerd.
type Bootstrap interface {
	Config() *config.Config
	Managers() *managers.Managers
	EncryptionKey() *[encryption.KeySize]byte
	MetricsRegistry() *prometheus.Registry
}

// Implementation of the bootstrap interface.
type bootstrap struct {
	entityIDURI *url.URL

	tlsClientConfig *tls.Config

	partnerRegistrationConf string
	encryptionSecret        []byte
	encryptionKey           *[encryption.KeySize]byte

	ticketCapacity    int
	ticketIdleTimeout time.Duration
	ticketMaxAge      time.Duration
	logoutDeadline    time.Duration
	syncInterval      time.Duration

	metricsRegistry *prometheus.Registry

	cfg      *config.Config
	managers *managers.Managers
}

// Config returns the server configuration.
func (bs *bootstrap) Config() *config.Config {
	return bs.cfg
}

// Managers returns the bootstrapped managers.
func (bs *bootstrap) Managers() *managers.Managers {
	return bs.managers
}

// EncryptionKey returns the credential sealing key.
func (bs *bootstrap) EncryptionKey() *[encryption.KeySize]byte {
	return bs.encryptionKey
}

// MetricsRegistry returns the metrics registry all bootstrapped components
// register their collectors with.
func (bs *bootstrap) MetricsRegistry() *prometheus.Registry {
	return bs.metricsRegistry
}

// Boot is the main entry point to bootstrap the fedbrokerd service after
// validating the given configuration. The resulting Bootstrap struct can be
// used to retrieve the configured managers and their config.
//
// This function should be used by consumers which want to embed fedbroker as
// a library.
func Boot(ctx context.Context, bsConf *Config, serverConf *config.Config) (Bootstrap, error) {
	bs := &bootstrap{
		cfg: serverConf,
	}

	err := bs.initialize(bsConf)
	if err != nil {
		return nil, err
	}

	err = bs.setup(ctx, bsConf)
	if err != nil {
		return nil, err
	}

	return bs, nil
}

// initialize validates the parsed parameters from the commandline and adds
// them to the accociated Bootstrap data.
func (bs *bootstrap) initialize(cfg *Config) error {
	logger := bs.cfg.Logger
	var err error

	if cfg.EntityID == "" {
		return fmt.Errorf("missing entity-id value, did you provide the --entity-id parameter?")
	}
	bs.entityIDURI, err = url.Parse(cfg.EntityID)
	if err != nil {
		return fmt.Errorf("invalid entity-id value, entity-id is not a valid URL, %v", err)
	} else if bs.entityIDURI.Host == "" {
		return fmt.Errorf("invalid entity-id value, URL must have a host")
	} else if bs.entityIDURI.Scheme != "https" && !cfg.Insecure {
		return fmt.Errorf("invalid entity-id value, URL must start with https://")
	}

	if cfg.Insecure {
		bs.tlsClientConfig = utils.InsecureSkipVerifyTLSConfig()
		logger.Warnln("insecure mode, TLS client connections are susceptible to man-in-the-middle attacks")
	} else {
		bs.tlsClientConfig = utils.DefaultTLSConfig()
	}
	bs.cfg.HTTPTransport = utils.HTTPTransportWithTLSClientConfig(bs.tlsClientConfig)

	bs.cfg.ListenAddr = cfg.Listen
	if bs.cfg.ListenAddr == "" {
		bs.cfg.ListenAddr = defaultListenAddr
	}

	bs.partnerRegistrationConf = cfg.PartnerRegistrationConf
	if bs.partnerRegistrationConf != "" {
		bs.partnerRegistrationConf, _ = filepath.Abs(bs.partnerRegistrationConf)
		if _, errStat := os.Stat(bs.partnerRegistrationConf); errStat != nil {
			return fmt.Errorf("partner-registration-conf file not found or unable to access: %v", errStat)
		}
	}

	encryptionSecretFn := cfg.EncryptionSecretFile
	if encryptionSecretFn != "" {
		logger.WithField("file", encryptionSecretFn).Infoln("loading encryption secret from file")
		bs.encryptionSecret, err = ioutil.ReadFile(encryptionSecretFn)
		if err != nil {
			return fmt.Errorf("failed to load encryption secret from file: %v", err)
		}
		if len(bs.encryptionSecret) != encryption.KeySize {
			return fmt.Errorf("invalid encryption secret size - must be %d bytes", encryption.KeySize)
		}
	} else {
		logger.Warnf("missing --encryption-secret parameter, using random encyption secret with %d bytes", encryption.KeySize)
		bs.encryptionSecret = rndm.GenerateRandomBytes(encryption.KeySize)
	}
	bs.encryptionKey = new([encryption.KeySize]byte)
	copy(bs.encryptionKey[:], bs.encryptionSecret)

	bs.ticketCapacity = cfg.TicketCapacity

	ticketIdleTimeoutSeconds := cfg.TicketIdleTimeoutSeconds
	if ticketIdleTimeoutSeconds == 0 {
		ticketIdleTimeoutSeconds = defaultTicketIdleTimeoutSeconds
	}
	bs.ticketIdleTimeout = time.Duration(ticketIdleTimeoutSeconds) * time.Second

	ticketMaxAgeSeconds := cfg.TicketMaxAgeSeconds
	if ticketMaxAgeSeconds == 0 {
		ticketMaxAgeSeconds = defaultTicketMaxAgeSeconds
	}
	bs.ticketMaxAge = time.Duration(ticketMaxAgeSeconds) * time.Second

	logoutDeadlineSeconds := cfg.LogoutDeadlineSeconds
	if logoutDeadlineSeconds == 0 {
		logoutDeadlineSeconds = defaultLogoutDeadlineSeconds
	}
	bs.logoutDeadline = time.Duration(logoutDeadlineSeconds) * time.Second

	syncIntervalSeconds := cfg.SyncIntervalSeconds
	if syncIntervalSeconds == 0 {
		syncIntervalSeconds = defaultSyncIntervalSeconds
	}
	bs.syncInterval = time.Duration(syncIntervalSeconds) * time.Second

	return nil
}

// setup takes care of setting up the managers based on the accociated
// Bootstrap's data.
func (bs *bootstrap) setup(ctx context.Context, cfg *Config) error {
	mgrs, err := newManagers(ctx, bs)
	if err != nil {
		return err
	}

	err = mgrs.Apply()
	if err != nil {
		return err
	}

	bs.managers = mgrs

	return nil
}
