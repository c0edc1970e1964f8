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

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"stash.kopano.io/kc/fedbroker/config"
	"stash.kopano.io/kc/fedbroker/encryption"
	"stash.kopano.io/kc/fedbroker/federation"
	"stash.kopano.io/kc/fedbroker/session"
	"stash.kopano.io/kc/fedbroker/ticket"
)

// Config defines a Server's configuration settings.
type Config struct {
	Config *config.Config

	Tickets  ticket.Manager
	Sessions *session.Registry

	Logout *federation.LogoutCoordinator
	Sync   *federation.SyncCoordinator

	// Reporter is optional, when set queued sync reporting runs alongside the
	// periodic sweep.
	Reporter *federation.SyncReporter

	// EncryptionKey seals AuthSP issued credentials before they enter the
	// session registry.
	EncryptionKey *[encryption.KeySize]byte

	// MetricsRegistry is optional, when set its collectors are exposed at the
	// metrics endpoint.
	MetricsRegistry *prometheus.Registry
}
