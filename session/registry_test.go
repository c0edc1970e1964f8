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
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	return NewRegistry(logger)
}

func TestRecordLogin(t *testing.T) {
	r := newTestRegistry()

	r.RecordLogin("user1", "ticket1", []byte("sealed"))

	sess, err := r.Get("user1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sess.UserID != "user1" || sess.TicketID != "ticket1" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if string(sess.Credentials) != "sealed" {
		t.Errorf("unexpected credentials: %q", sess.Credentials)
	}
	if r.Size() != 1 {
		t.Errorf("unexpected size: %d", r.Size())
	}
}

func TestRecordLoginCollapsesExisting(t *testing.T) {
	r := newTestRegistry()

	r.RecordLogin("user1", "ticket1", nil)
	r.AddServiceProvider("user1", "https://sp1.example.com")
	r.SetLogoutInitiator("user1", "https://sp1.example.com")

	r.RecordLogin("user1", "ticket2", nil)

	sess, err := r.Get("user1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sess.TicketID != "ticket2" {
		t.Errorf("expected new login to take over the session, got ticket %v", sess.TicketID)
	}
	if sess.LogoutInitiator != "" {
		t.Errorf("expected new login to clear logout initiator, got %v", sess.LogoutInitiator)
	}
	if r.Size() != 1 {
		t.Errorf("expected at most one session per user, size %d", r.Size())
	}
}

func TestAddServiceProviderDuplicates(t *testing.T) {
	r := newTestRegistry()

	if err := r.AddServiceProvider("user1", "https://sp1.example.com"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound without session, got %v", err)
	}

	r.RecordLogin("user1", "ticket1", nil)
	r.AddServiceProvider("user1", "https://sp1.example.com")
	r.AddServiceProvider("user1", "https://sp1.example.com")
	r.AddServiceProvider("user1", "https://sp2.example.com")

	sess, _ := r.Get("user1")
	if len(sess.ServiceProviders) != 3 {
		t.Fatalf("expected duplicate entries to be kept, got %d providers", len(sess.ServiceProviders))
	}
}

func TestRemoveServiceProviderFirstMatch(t *testing.T) {
	r := newTestRegistry()

	r.RecordLogin("user1", "ticket1", nil)
	r.AddServiceProvider("user1", "https://sp1.example.com")
	r.AddServiceProvider("user1", "https://sp1.example.com")

	if err := r.RemoveServiceProvider("user1", "https://sp1.example.com"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	sess, _ := r.Get("user1")
	if len(sess.ServiceProviders) != 1 {
		t.Errorf("expected one duplicate entry to remain, got %d", len(sess.ServiceProviders))
	}

	// Removing an unknown provider leaves the list untouched.
	if err := r.RemoveServiceProvider("user1", "https://other.example.com"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	sess, _ = r.Get("user1")
	if len(sess.ServiceProviders) != 1 {
		t.Errorf("expected provider list to be untouched, got %d", len(sess.ServiceProviders))
	}
}

func TestTouchServiceProviders(t *testing.T) {
	r := newTestRegistry()

	r.RecordLogin("user1", "ticket1", nil)
	r.AddServiceProvider("user1", "https://sp1.example.com")
	r.AddServiceProvider("user1", "https://sp1.example.com")
	r.AddServiceProvider("user1", "https://sp2.example.com")

	when := time.Now()
	if err := r.TouchServiceProviders("user1", "https://sp1.example.com", when); err != nil {
		t.Fatalf("touch failed: %v", err)
	}

	sess, _ := r.Get("user1")
	for _, sp := range sess.ServiceProviders {
		if sp.URL == "https://sp1.example.com" && !sp.LastSync.Equal(when) {
			t.Errorf("expected sp1 entry to be touched, got %v", sp.LastSync)
		}
		if sp.URL == "https://sp2.example.com" && !sp.LastSync.IsZero() {
			t.Errorf("expected sp2 entry to be untouched, got %v", sp.LastSync)
		}
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := newTestRegistry()

	r.RecordLogin("user1", "ticket1", nil)
	r.Remove("user1")
	r.Remove("user1")

	if _, err := r.Get("user1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
	if r.Size() != 0 {
		t.Errorf("unexpected size: %d", r.Size())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry()

	r.RecordLogin("user1", "ticket1", nil)
	r.AddServiceProvider("user1", "https://sp1.example.com")

	sess, _ := r.Get("user1")
	sess.TicketID = "mutated"
	sess.ServiceProviders[0].URL = "https://mutated.example.com"

	fresh, _ := r.Get("user1")
	if fresh.TicketID != "ticket1" {
		t.Error("mutating a returned session must not affect the registry")
	}
	if fresh.ServiceProviders[0].URL != "https://sp1.example.com" {
		t.Error("mutating a returned provider entry must not affect the registry")
	}
}

func TestConcurrentUsers(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			r.RecordLogin(userID, "ticket-"+userID, nil)
			for j := 0; j < 50; j++ {
				r.AddServiceProvider(userID, "https://sp1.example.com")
				r.RemoveServiceProvider(userID, "https://sp1.example.com")
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	if r.Size() != 8 {
		t.Errorf("expected 8 sessions, got %d", r.Size())
	}
	for i := 0; i < 8; i++ {
		sess, err := r.Get(string(rune('a' + i)))
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(sess.ServiceProviders) != 0 {
			t.Errorf("expected balanced add/remove to leave no providers, got %d", len(sess.ServiceProviders))
		}
	}
}
