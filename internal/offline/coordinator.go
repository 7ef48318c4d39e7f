// Package offline keeps a client-side cache of the application's static
// resources, organised in named generations.
//
// A generation moves through Installing, Active and Redundant. Install
// populates it all-or-nothing; Activate makes it the only generation on disk
// and the one requests are served from. Requests hold a read lock and the
// activation cleanup holds the write lock, so no request ever reads a
// generation that is halfway deleted. Network fetches run outside the lock.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/aangan/internal/logger"
	"github.com/rcliao/aangan/internal/push"
)

// State is the lifecycle state of a generation.
type State int

const (
	StateUnknown State = iota
	StateInstalling
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	}
	return "unknown"
}

// Event drives generation state transitions.
type Event string

const (
	EventInstall       Event = "install"
	EventInstallFailed Event = "install_failed"
	EventActivate      Event = "activate"
	EventSuperseded    Event = "superseded"
)

// transitions lists the accepted lifecycle events per state. Fetch, push and
// notification clicks are side events and never change a state.
var transitions = map[State]map[Event]State{
	StateUnknown:    {EventInstall: StateInstalling},
	StateInstalling: {EventActivate: StateActive, EventInstallFailed: StateRedundant, EventSuperseded: StateRedundant, EventInstall: StateInstalling},
	StateActive:     {EventSuperseded: StateRedundant},
	StateRedundant:  {EventInstall: StateInstalling},
}

// Next returns the state after ev, or ErrInvalidTransition.
func Next(from State, ev Event) (State, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%s on %s generation: %w", ev, from, ErrInvalidTransition)
	}
	return to, nil
}

// Options configures a Coordinator.
type Options struct {
	// FetchConcurrency bounds parallel fetches during install.
	FetchConcurrency int
	// RuntimeCaching stores network responses for keys missing from the active generation.
	RuntimeCaching bool
}

// Coordinator is the event-driven cache for one client.
type Coordinator struct {
	storage  *Storage
	fetcher  Fetcher
	notifier Notifier
	log      *logger.Logger
	opts     Options

	// mu guards the active generation; Fetch holds it shared, Activate exclusively.
	mu      sync.RWMutex
	active  string
	pending string

	// lifecycle serialises install and activate so one transition runs at a time.
	lifecycle sync.Mutex
	statesMu  sync.Mutex
	states    map[string]State
}

// NewCoordinator restores the active generation recorded in storage.
func NewCoordinator(storage *Storage, fetcher Fetcher, notifier Notifier, log *logger.Logger, opts Options) (*Coordinator, error) {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	active, err := storage.Active()
	if err != nil {
		return nil, fmt.Errorf("restore active generation: %w", err)
	}
	c := &Coordinator{
		storage:  storage,
		fetcher:  fetcher,
		notifier: notifier,
		log:      log.With("service", "OfflineCoordinator"),
		opts:     opts,
		active:   active,
		states:   map[string]State{},
	}
	if active != "" {
		c.states[active] = StateActive
	}
	return c, nil
}

// Active returns the name of the generation serving requests, or "".
func (c *Coordinator) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// State reports the lifecycle state of generation name.
func (c *Coordinator) State(name string) State {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	return c.states[name]
}

func (c *Coordinator) transition(name string, ev Event) error {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	to, err := Next(c.states[name], ev)
	if err != nil {
		return err
	}
	c.states[name] = to
	return nil
}

// Install fetches every manifest key and stores them as generation name.
// Any fetch failure aborts the install and leaves the active generation untouched.
// Installing the already active generation is a no-op.
func (c *Coordinator) Install(ctx context.Context, name string, m Manifest) error {
	if !validGenerationName(name) {
		return fmt.Errorf("generation name %q: %w", name, ErrInstallFailed)
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if name == c.Active() {
		return nil
	}
	if err := c.transition(name, EventInstall); err != nil {
		return err
	}

	m = m.Normalized()
	entries, err := c.fetchAll(ctx, m.Keys)
	if err == nil {
		err = c.storage.WriteGeneration(Record{Name: name, Keys: m.Keys, InstalledAt: time.Now().UTC()}, entries)
	}
	if err != nil {
		// a previously installed copy under this name is still intact on disk
		if name != c.pending {
			c.transition(name, EventInstallFailed)
		}
		c.log.Warn("generation_install_failed", "generation", name, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrInstallFailed, name, err)
	}

	if c.pending != "" && c.pending != name {
		c.transition(c.pending, EventSuperseded)
	}
	c.pending = name
	c.log.Info("generation_installed", "generation", name, "keys", len(m.Keys))
	return nil
}

func (c *Coordinator) fetchAll(ctx context.Context, keys []string) (map[string]Entry, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.FetchConcurrency)

	var mu sync.Mutex
	entries := make(map[string]Entry, len(keys))
	for _, k := range keys {
		g.Go(func() error {
			e, err := c.fetcher.Fetch(ctx, k)
			if err != nil {
				return err
			}
			mu.Lock()
			entries[k] = e
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Activate promotes the installed generation. Every other generation is
// deleted before the new one starts serving.
func (c *Coordinator) Activate(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	name := c.pending
	if name == "" {
		return fmt.Errorf("activate with nothing installed: %w", ErrInvalidTransition)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	dropped, err := c.storage.Activate(name)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("activate %s: %w", name, err)
	}
	prev := c.active
	c.active = name
	c.pending = ""
	c.mu.Unlock()

	if err := c.transition(name, EventActivate); err != nil {
		return err
	}
	if prev != "" {
		c.transition(prev, EventSuperseded)
	}
	c.log.Info("generation_activated", "generation", name, "previous", prev, "deleted", len(dropped))
	return nil
}

// Update installs and activates generation name.
func (c *Coordinator) Update(ctx context.Context, name string, m Manifest) error {
	if name == c.Active() {
		return nil
	}
	if err := c.Install(ctx, name, m); err != nil {
		return err
	}
	return c.Activate(ctx)
}

// Fetch serves key from the active generation, falling back to the network.
// A network failure with no cached entry returns ErrUnavailable. The lock is
// not held across the network call, so a slow miss never delays activation
// or other cache hits.
func (c *Coordinator) Fetch(ctx context.Context, key string) (Entry, error) {
	c.mu.RLock()
	gen := c.active
	if gen != "" {
		e, err := c.storage.GetEntry(gen, key)
		if err == nil {
			c.mu.RUnlock()
			return e, nil
		}
		if !errors.Is(err, errMiss) {
			c.log.Warn("cache_read_failed", "generation", gen, "key", key, "error", err)
		}
	}
	c.mu.RUnlock()

	e, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}
	if gen != "" && c.opts.RuntimeCaching {
		c.cacheAtRuntime(gen, key, e)
	}
	return e, nil
}

// cacheAtRuntime stores e into gen unless gen was replaced while fetching.
func (c *Coordinator) cacheAtRuntime(gen, key string, e Entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active != gen {
		c.log.Debug("runtime_cache_skipped", "generation", gen, "active", c.active, "key", key)
		return
	}
	if err := c.storage.PutEntry(gen, key, e); err != nil {
		c.log.Warn("cache_write_failed", "generation", gen, "key", key, "error", err)
	}
}

// Push shows the notification carried by payload. Display failures are
// logged and not retried.
func (c *Coordinator) Push(ctx context.Context, payload []byte) error {
	var n push.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("decode push payload: %w", err)
	}
	if err := n.Validate(); err != nil {
		return err
	}
	if err := c.notifier.Show(ctx, n); err != nil {
		c.log.Warn("notification_show_failed", "title", n.Title, "error", err)
	}
	return nil
}

// NotificationClick opens a client window at the notification's URL, or the
// application root.
func (c *Coordinator) NotificationClick(ctx context.Context, n push.Notification) error {
	target := n.Target()
	if err := c.notifier.Open(ctx, target); err != nil {
		c.log.Warn("window_open_failed", "url", target, "error", err)
		return err
	}
	return nil
}
