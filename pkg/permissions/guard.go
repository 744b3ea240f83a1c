package permissions

import (
	"context"
	"sync"
)

// State is the tri-state outcome of a guard check.
type State int

const (
	// StatePending means a check is in flight; render nothing yet.
	StatePending State = iota
	// StateGranted means the protected content may be rendered.
	StateGranted
	// StateDenied means the fallback content (or nothing) is rendered.
	StateDenied
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// CheckFunc answers a permission question for a user.
type CheckFunc func(ctx context.Context, userID string, resource Resource, action Action) bool

// UserFunc returns the currently authenticated user ID, or "" when no user
// is present.
type UserFunc func() string

// Guard is a render-time access gate. Given a resource/action pair and a
// forceCheck flag it resolves to granted or denied, passing through pending
// while the check is in flight. With forceCheck the remote-backed check is
// used ("trust the server now"); without it the fast local permission-set
// check is used and no network round trip happens.
//
// Every input change resets the state to pending and bumps an internal
// generation counter; a check that resolves after its inputs have changed is
// discarded so a stale result can never be committed for a since-changed
// resource/action pair.
type Guard struct {
	remoteCheck CheckFunc
	cachedCheck CheckFunc
	currentUser UserFunc

	mu       sync.Mutex
	state    State
	gen      uint64
	onChange func(State)
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// OnChange registers a callback invoked (outside the guard's lock) whenever
// the state changes.
func OnChange(fn func(State)) GuardOption {
	return func(g *Guard) {
		g.onChange = fn
	}
}

// NewGuard creates a guard over the two check paths. remoteCheck is the
// evaluator-backed check used when forceCheck is set; cachedCheck is the
// synchronous local permission-set check used otherwise.
func NewGuard(remoteCheck, cachedCheck CheckFunc, currentUser UserFunc, opts ...GuardOption) *Guard {
	g := &Guard{
		remoteCheck: remoteCheck,
		cachedCheck: cachedCheck,
		currentUser: currentUser,
		state:       StatePending,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current check state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Update supplies new inputs to the guard. The state resets to pending and a
// new check starts; any earlier in-flight check is invalidated. With no
// authenticated user the guard resolves to denied immediately and neither
// check function is called.
func (g *Guard) Update(ctx context.Context, resource Resource, action Action, forceCheck bool) {
	userID := g.currentUser()

	g.mu.Lock()
	g.gen++
	gen := g.gen

	if userID == "" {
		changed := g.state != StateDenied
		g.state = StateDenied
		g.mu.Unlock()
		if changed {
			g.notify(StateDenied)
		}
		return
	}

	changed := g.state != StatePending
	g.state = StatePending
	g.mu.Unlock()
	if changed {
		g.notify(StatePending)
	}

	go g.resolve(ctx, gen, userID, resource, action, forceCheck)
}

func (g *Guard) resolve(ctx context.Context, gen uint64, userID string, resource Resource, action Action, forceCheck bool) {
	check := g.cachedCheck
	if forceCheck {
		check = g.remoteCheck
	}
	granted := check(ctx, userID, resource, action)

	state := StateDenied
	if granted {
		state = StateGranted
	}
	g.commit(gen, state)
}

// commit applies a resolved state only if the inputs that produced it are
// still current.
func (g *Guard) commit(gen uint64, state State) {
	g.mu.Lock()
	if gen != g.gen {
		// Inputs changed while the check was in flight; drop the result.
		g.mu.Unlock()
		return
	}
	changed := g.state != state
	g.state = state
	g.mu.Unlock()

	if changed {
		g.notify(state)
	}
}

func (g *Guard) notify(state State) {
	if g.onChange != nil {
		g.onChange(state)
	}
}
