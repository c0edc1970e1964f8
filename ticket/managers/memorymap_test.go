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

package managers

import (
	"context"
	"io/ioutil"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/ticket"
)

func newTestLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	return logger
}

func newTestStore(t *testing.T, capacity int) ticket.Store {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return NewMemoryMapStore(ctx, &MemoryMapStoreConfig{
		Logger:   newTestLogger(),
		Capacity: capacity,
	})
}

func testRecord(id string, userID string) *ticket.Record {
	now := time.Now()
	return &ticket.Record{
		ID: id,
		Attributes: map[string]interface{}{
			fedbroker.UserIDAttribute: userID,
		},
		CreatedAt:    now,
		LastActivity: now,
	}
}

func TestMemoryMapStorePutGet(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Put("id1", testRecord("id1", "user1"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	record, err := store.Get("id1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.UserID() != "user1" {
		t.Errorf("unexpected uid: %v", record.UserID())
	}
	if store.Size() != 1 {
		t.Errorf("unexpected size: %d", store.Size())
	}
}

func TestMemoryMapStorePutDuplicate(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Put("id1", testRecord("id1", "user1"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put("id1", testRecord("id1", "user2"), time.Minute); err != ticket.ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryMapStoreCapacity(t *testing.T) {
	store := newTestStore(t, 2)

	if err := store.Put("id1", testRecord("id1", "user1"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put("id2", testRecord("id2", "user2"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put("id3", testRecord("id3", "user3"), time.Minute); err != ticket.ErrStoreBusy {
		t.Fatalf("expected ErrStoreBusy at capacity, got %v", err)
	}

	// Making room lets inserts through again, active records are never
	// evicted for new ones.
	if _, err := store.Remove("id1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := store.Put("id3", testRecord("id3", "user3"), time.Minute); err != nil {
		t.Errorf("expected put to succeed after remove, got %v", err)
	}
}

func TestMemoryMapStoreGetExpired(t *testing.T) {
	store := newTestStore(t, 0)

	var expiredID string
	store.(interface {
		OnExpired(func(record *ticket.Record))
	}).OnExpired(func(record *ticket.Record) {
		expiredID = record.ID
	})

	if err := store.Put("id1", testRecord("id1", "user1"), 10*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := store.Get("id1"); err != ticket.ErrNotFound {
		t.Fatalf("expected expired record to be not found, got %v", err)
	}
	if expiredID != "id1" {
		t.Errorf("expected expiry hook for id1, got %q", expiredID)
	}
	if store.Size() != 0 {
		t.Errorf("expected expired record to be gone, size %d", store.Size())
	}
}

func TestMemoryMapStoreTouchExtends(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Put("id1", testRecord("id1", "user1"), 50*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if err := store.Touch("id1", 200*time.Millisecond); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	record, err := store.Get("id1")
	if err != nil {
		t.Fatalf("expected touched record to survive its original deadline: %v", err)
	}
	if !record.LastActivity.After(record.CreatedAt) {
		t.Error("expected touch to update last activity")
	}
}

func TestMemoryMapStoreTouchExpired(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Put("id1", testRecord("id1", "user1"), 10*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := store.Touch("id1", time.Minute); err != ticket.ErrNotFound {
		t.Errorf("expected ErrNotFound touching expired record, got %v", err)
	}
}

func TestMemoryMapStoreRemoveIdempotent(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Put("id1", testRecord("id1", "user1"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	removed, err := store.Remove("id1")
	if err != nil || !removed {
		t.Fatalf("expected first remove to report presence, got %v %v", removed, err)
	}
	removed, err = store.Remove("id1")
	if err != nil || removed {
		t.Fatalf("expected second remove to be a no-op, got %v %v", removed, err)
	}
}

func TestMemoryMapStoreRangeSkipsExpired(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Put("live", testRecord("live", "user1"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put("dead", testRecord("dead", "user2"), 10*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	var seen []string
	store.Range(func(record *ticket.Record) bool {
		seen = append(seen, record.ID)
		return true
	})

	if len(seen) != 1 || seen[0] != "live" {
		t.Errorf("expected range to yield only the live record, got %v", seen)
	}
}
