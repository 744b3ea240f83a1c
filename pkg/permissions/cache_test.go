package permissions

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	cache := NewMemoryCache()

	key := CheckKey("user-1", ResourceCampaigns, ActionRead)
	cache.Set(key, true, 0)

	v, ok := cache.Get(key)
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if granted, _ := v.(bool); !granted {
		t.Error("Expected cached value true")
	}

	if _, ok := cache.Get(CheckKey("user-1", ResourceCampaigns, ActionDelete)); ok {
		t.Error("Expected miss for a different action")
	}
}

func TestMemoryCache_EntriesExpire(t *testing.T) {
	clock := newTestClock()
	cache := NewMemoryCache(WithClock(clock.Now))

	key := CheckKey("user-1", ResourceReviews, ActionRead)
	cache.Set(key, true, 5*time.Minute)

	clock.Advance(4 * time.Minute)
	if !cache.Has(key) {
		t.Error("Expected entry alive before TTL")
	}

	clock.Advance(2 * time.Minute)
	if cache.Has(key) {
		t.Error("Expected entry expired after TTL")
	}
}

func TestMemoryCache_SetOverwritesExpiry(t *testing.T) {
	clock := newTestClock()
	cache := NewMemoryCache(WithClock(clock.Now))

	key := SetKey("user-1")
	cache.Set(key, []Permission{{Resource: ResourceCampaigns, Actions: []Action{ActionRead}}}, time.Minute)

	clock.Advance(50 * time.Second)
	cache.Set(key, []Permission{{Resource: ResourceReviews, Actions: []Action{ActionRead}}}, time.Minute)

	// The rewrite restarted the clock; the original deadline has passed.
	clock.Advance(30 * time.Second)
	v, ok := cache.Get(key)
	if !ok {
		t.Fatal("Expected rewritten entry alive")
	}
	perms := v.([]Permission)
	if len(perms) != 1 || perms[0].Resource != ResourceReviews {
		t.Errorf("Expected rewritten value, got %+v", perms)
	}
}

func TestMemoryCache_LazyPurge(t *testing.T) {
	clock := newTestClock()
	cache := NewMemoryCache(WithClock(clock.Now))

	key := CheckKey("user-1", ResourceSettings, ActionUpdate)
	cache.Set(key, false, time.Minute)
	clock.Advance(2 * time.Minute)

	// No read has happened, so the dead entry still occupies a slot.
	if cache.Len() != 1 {
		t.Errorf("Expected 1 entry before read, got %d", cache.Len())
	}

	if _, ok := cache.Get(key); ok {
		t.Error("Expected expired entry to miss")
	}
	if cache.Len() != 0 {
		t.Errorf("Expected entry purged on read, got %d", cache.Len())
	}
}

func TestMemoryCache_InvalidateUserPermissions(t *testing.T) {
	cache := NewMemoryCache()

	cache.Set(CheckKey("user-1", ResourceCampaigns, ActionRead), true, 0)
	cache.Set(CheckKey("user-1", ResourceReviews, ActionUpdate), false, 0)
	cache.Set(SetKey("user-1"), []Permission{}, 0)
	cache.Set(CheckKey("user-2", ResourceCampaigns, ActionRead), true, 0)
	cache.Set(SetKey("user-2"), []Permission{}, 0)

	cache.InvalidateUserPermissions("user-1")

	if cache.Has(CheckKey("user-1", ResourceCampaigns, ActionRead)) {
		t.Error("Expected user-1 check entry removed")
	}
	if cache.Has(SetKey("user-1")) {
		t.Error("Expected user-1 set entry removed")
	}
	if !cache.Has(CheckKey("user-2", ResourceCampaigns, ActionRead)) {
		t.Error("Expected user-2 check entry untouched")
	}
	if !cache.Has(SetKey("user-2")) {
		t.Error("Expected user-2 set entry untouched")
	}
}

func TestMemoryCache_InvalidationDoesNotMatchUserIDPrefixes(t *testing.T) {
	cache := NewMemoryCache()

	cache.Set(CheckKey("user-1", ResourceCampaigns, ActionRead), true, 0)
	cache.Set(CheckKey("user-12", ResourceCampaigns, ActionRead), true, 0)
	cache.Set(SetKey("user-12"), []Permission{}, 0)

	cache.InvalidateUserPermissions("user-1")

	if !cache.Has(CheckKey("user-12", ResourceCampaigns, ActionRead)) {
		t.Error("Expected user-12 check entry untouched")
	}
	if !cache.Has(SetKey("user-12")) {
		t.Error("Expected user-12 set entry untouched")
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := NewMemoryCache()
	for i := 0; i < 10; i++ {
		cache.Set(CheckKey(fmt.Sprintf("user-%d", i), ResourceCampaigns, ActionRead), true, 0)
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache, got %d entries", cache.Len())
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n)
			for j := 0; j < 100; j++ {
				cache.Set(CheckKey(userID, ResourceCampaigns, ActionRead), true, 0)
				cache.Get(CheckKey(userID, ResourceCampaigns, ActionRead))
				cache.InvalidateUserPermissions(userID)
			}
		}(i)
	}
	wg.Wait()
}

func TestPermissionSetAllows(t *testing.T) {
	perms := []Permission{
		{Resource: ResourceCampaigns, Actions: []Action{ActionCreate, ActionRead, ActionUpdate}},
		{Resource: ResourceReviews, Actions: []Action{ActionRead}},
	}

	tests := []struct {
		name     string
		resource Resource
		action   Action
		want     bool
	}{
		{"granted action", ResourceCampaigns, ActionUpdate, true},
		{"ungranted action on known resource", ResourceReviews, ActionDelete, false},
		{"unknown resource", ResourceUsers, ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PermissionSetAllows(perms, tt.resource, tt.action); got != tt.want {
				t.Errorf("PermissionSetAllows(%s, %s) = %v, want %v", tt.resource, tt.action, got, tt.want)
			}
		})
	}
}
