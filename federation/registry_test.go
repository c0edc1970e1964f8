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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestRegisterValidation(t *testing.T) {
	registry := newTestPartnerRegistry(t)

	if err := registry.Register(&PartnerRegistration{}); err == nil {
		t.Error("expected registration without entity_id to fail")
	}

	err := registry.Register(&PartnerRegistration{
		EntityID:                "https://sp.example.com",
		RawSingleLogoutEndpoint: "http://sp.example.com/slo",
	})
	if err == nil {
		t.Error("expected registration with plain http endpoint to fail")
	}

	err = registry.Register(&PartnerRegistration{
		EntityID:                "http://sp.example.local",
		RawSingleLogoutEndpoint: "http://sp.example.local/slo",
		Insecure:                true,
	})
	if err != nil {
		t.Errorf("expected insecure registration to pass: %v", err)
	}
}

func TestGetLocation(t *testing.T) {
	registry := newTestPartnerRegistry(t, "https://sp.example.com")

	endpoint, err := registry.GetLocation("https://sp.example.com", ServiceSingleLogout, BindingBackchannel)
	if err != nil {
		t.Fatalf("failed to resolve single logout endpoint: %v", err)
	}
	if endpoint.String() != "https://sp.example.com/slo" {
		t.Errorf("unexpected endpoint: %v", endpoint)
	}

	if _, err := registry.GetLocation("https://unknown.example.com", ServiceSingleLogout, BindingBackchannel); err != ErrUnknownPartner {
		t.Errorf("expected ErrUnknownPartner, got %v", err)
	}

	if _, err := registry.GetLocation("https://sp.example.com", "no-such-service", BindingBackchannel); err != ErrNoLocation {
		t.Errorf("expected ErrNoLocation, got %v", err)
	}

	if _, err := registry.GetLocation("https://sp.example.com", ServiceSingleLogout, "urn:other:binding"); err != ErrNoLocation {
		t.Errorf("expected ErrNoLocation for unknown binding, got %v", err)
	}
}

func TestNewRegistryFromConf(t *testing.T) {
	dir, err := ioutil.TempDir("", "fedbroker-registry-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	conf := `
partners:
  - entity_id: https://sp1.example.com
    name: First SP
    single_logout_endpoint: https://sp1.example.com/slo
    session_sync_endpoint: https://sp1.example.com/sync
  - entity_id: ""
    name: Broken entry
  - entity_id: https://sp2.example.com
    signing_secret: sssh
    single_logout_endpoint: https://sp2.example.com/slo
`
	confFilepath := filepath.Join(dir, "partners.yaml")
	if err := ioutil.WriteFile(confFilepath, []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}

	registry, err := NewRegistry(confFilepath, newTestLogger())
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	if _, ok := registry.Get("https://sp1.example.com"); !ok {
		t.Error("expected sp1 to be registered")
	}
	partner, ok := registry.Get("https://sp2.example.com")
	if !ok {
		t.Fatal("expected sp2 to be registered")
	}
	if partner.SigningSecret != "sssh" {
		t.Errorf("unexpected signing secret: %v", partner.SigningSecret)
	}
	if _, ok := registry.Get(""); ok {
		t.Error("invalid entry must not be registered")
	}
}
