package caltrain

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"tidbyt.dev/caltrain/storage"
)

const (
	DefaultMinRefreshInterval = 20 * time.Second

	stateLastRefresh = "refresh.last"
)

// Decides whether a refresh may hit the upstream feed. The last
// refresh time lives in a StateStore, so every process and surface
// built on the same storage shares one gate. Hand the same instance
// to everything in a process that refreshes.
type RefreshGate struct {
	MinInterval time.Duration
	TimeNow     func() time.Time

	state storage.StateStore

	// Held from Begin until the returned release func is called
	inFlight sync.Mutex

	mutex sync.Mutex
	// High-water mark of what this process has observed, so that
	// LastRefresh never moves backwards for local readers.
	seen time.Time
}

func NewRefreshGate(state storage.StateStore) *RefreshGate {
	return &RefreshGate{
		MinInterval: DefaultMinRefreshInterval,
		TimeNow:     time.Now,
		state:       state,
	}
}

// Time of the last successful refresh, if any. Read errors are
// treated as "never refreshed".
func (g *RefreshGate) LastRefresh() (time.Time, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	stored, found, err := g.load()
	if err == nil && found && stored.After(g.seen) {
		g.seen = stored
	}

	if g.seen.IsZero() {
		return time.Time{}, false
	}
	return g.seen, true
}

// True if never refreshed, if forced, or if at least MinInterval has
// passed since the last refresh.
func (g *RefreshGate) ShouldRefresh(force bool) bool {
	if force {
		return true
	}

	last, found := g.LastRefresh()
	if !found {
		return true
	}

	return g.TimeNow().Sub(last) >= g.MinInterval
}

// Reserves the right to refresh. Returns false if the gate says it's
// too soon, possibly because another refresh through this gate
// completed while waiting. Otherwise the caller holds the gate until
// it calls release, and no other Begin on this instance proceeds.
func (g *RefreshGate) Begin(force bool) (release func(), ok bool) {
	if !g.ShouldRefresh(force) {
		return nil, false
	}

	g.inFlight.Lock()

	if !g.ShouldRefresh(force) {
		g.inFlight.Unlock()
		return nil, false
	}

	return g.inFlight.Unlock, true
}

// Records a successful refresh. Must only be called after the
// departure cache replacement has committed. The stored time never
// regresses.
func (g *RefreshGate) MarkRefreshed() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.TimeNow().UTC()

	stored, found, err := g.load()
	if err != nil {
		return err
	}
	if found && stored.After(now) {
		now = stored
	}
	if g.seen.After(now) {
		now = g.seen
	}

	err = storeTimeState(g.state, stateLastRefresh, now)
	if err != nil {
		return err
	}

	g.seen = now
	return nil
}

func (g *RefreshGate) load() (time.Time, bool, error) {
	return loadTimeState(g.state, stateLastRefresh)
}

// Reads a unix milliseconds timestamp from the state store.
func loadTimeState(state storage.StateStore, key string) (time.Time, bool, error) {
	value, found, err := state.GetState(key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading '%s': %w", key, err)
	}
	if !found {
		return time.Time{}, false, nil
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing '%s': %w", key, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func storeTimeState(state storage.StateStore, key string, t time.Time) error {
	err := state.PutState(key, strconv.FormatInt(t.UnixMilli(), 10))
	if err != nil {
		return fmt.Errorf("writing '%s': %w", key, err)
	}
	return nil
}
