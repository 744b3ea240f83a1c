package permissions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// guardHarness wires a Guard to scriptable check paths and collects state
// transitions on a channel.
type guardHarness struct {
	remoteCalls int32
	cachedCalls int32
	remoteGrant bool
	cachedGrant bool
	userID      atomic.Value
	states      chan State
	guard       *Guard
}

func newGuardHarness(userID string) *guardHarness {
	h := &guardHarness{states: make(chan State, 16)}
	h.userID.Store(userID)

	remote := func(ctx context.Context, userID string, resource Resource, action Action) bool {
		atomic.AddInt32(&h.remoteCalls, 1)
		return h.remoteGrant
	}
	cached := func(ctx context.Context, userID string, resource Resource, action Action) bool {
		atomic.AddInt32(&h.cachedCalls, 1)
		return h.cachedGrant
	}
	currentUser := func() string { return h.userID.Load().(string) }

	h.guard = NewGuard(remote, cached, currentUser, OnChange(func(s State) {
		h.states <- s
	}))
	return h
}

func (h *guardHarness) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for state %s, current %s", want, h.guard.State())
		}
	}
}

func TestGuard_StartsPending(t *testing.T) {
	h := newGuardHarness("user-1")
	if s := h.guard.State(); s != StatePending {
		t.Errorf("Expected initial state pending, got %s", s)
	}
}

func TestGuard_UnauthenticatedDeniesWithoutChecking(t *testing.T) {
	h := newGuardHarness("")
	h.cachedGrant = true
	h.remoteGrant = true

	h.guard.Update(context.Background(), ResourceCampaigns, ActionRead, false)

	h.waitFor(t, StateDenied)
	if n := atomic.LoadInt32(&h.cachedCalls); n != 0 {
		t.Errorf("Expected no cached check for unauthenticated user, got %d", n)
	}
	if n := atomic.LoadInt32(&h.remoteCalls); n != 0 {
		t.Errorf("Expected no remote check for unauthenticated user, got %d", n)
	}
}

func TestGuard_CachedPathByDefault(t *testing.T) {
	h := newGuardHarness("user-1")
	h.cachedGrant = true

	h.guard.Update(context.Background(), ResourceCampaigns, ActionRead, false)

	h.waitFor(t, StateGranted)
	if n := atomic.LoadInt32(&h.cachedCalls); n != 1 {
		t.Errorf("Expected 1 cached check, got %d", n)
	}
	if n := atomic.LoadInt32(&h.remoteCalls); n != 0 {
		t.Errorf("Expected no remote check without forceCheck, got %d", n)
	}
}

func TestGuard_ForceCheckUsesRemotePath(t *testing.T) {
	h := newGuardHarness("user-1")
	h.cachedGrant = true
	h.remoteGrant = false

	h.guard.Update(context.Background(), ResourceUsers, ActionManage, true)

	// The remote answer wins even though the cached path would grant.
	h.waitFor(t, StateDenied)
	if n := atomic.LoadInt32(&h.remoteCalls); n != 1 {
		t.Errorf("Expected 1 remote check, got %d", n)
	}
	if n := atomic.LoadInt32(&h.cachedCalls); n != 0 {
		t.Errorf("Expected no cached check with forceCheck, got %d", n)
	}
}

func TestGuard_InputChangeResetsToPending(t *testing.T) {
	h := newGuardHarness("user-1")
	h.cachedGrant = true

	ctx := context.Background()
	h.guard.Update(ctx, ResourceCampaigns, ActionRead, false)
	h.waitFor(t, StateGranted)

	h.cachedGrant = false
	h.guard.Update(ctx, ResourceCampaigns, ActionDelete, false)

	// Granted -> pending -> denied.
	h.waitFor(t, StatePending)
	h.waitFor(t, StateDenied)
}

func TestGuard_StaleResultIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	states := make(chan State, 16)

	// Reads block and grant; everything else denies immediately.
	check := func(ctx context.Context, userID string, resource Resource, action Action) bool {
		if action == ActionRead {
			<-gate
			return true
		}
		return false
	}

	guard := NewGuard(check, nil, func() string { return "user-1" },
		OnChange(func(s State) { states <- s }))

	ctx := context.Background()

	// First check blocks while granting; the second supersedes it and denies.
	guard.Update(ctx, ResourceCampaigns, ActionRead, true)
	guard.Update(ctx, ResourceCampaigns, ActionDelete, true)

	deadline := time.After(2 * time.Second)
	for guard.State() != StateDenied {
		select {
		case <-states:
		case <-deadline:
			t.Fatalf("Timed out waiting for denial, state %s", guard.State())
		}
	}

	// Release the stale check; its granted result must not be committed.
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if s := guard.State(); s != StateDenied {
		t.Errorf("Expected stale grant discarded, state %s", s)
	}
	select {
	case s := <-states:
		t.Errorf("Expected no further transitions, got %s", s)
	default:
	}
}
