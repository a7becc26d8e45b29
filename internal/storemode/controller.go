// Package storemode owns the attached data store and switches it between
// local-only and remote-mirrored persistence.
//
// The Controller is the single owner of the engine handle. All main-context
// work runs through Do, which serializes callers and blocks while a rebuild
// swaps the store underneath. A rebuild never loses the store: if the new
// mode cannot be attached the previous mode is reattached, and only a failure
// of that fallback (or of the very first attach) is fatal.
package storemode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/probe"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// Default bounds for suspension points.
const (
	DefaultLoadTimeout  = 10 * time.Second
	DefaultProbeTimeout = 10 * time.Second
)

// Mode is the persistence mode of the attached store.
type Mode int

const (
	ModeLocal Mode = iota
	ModeMirrored
)

func (m Mode) String() string {
	if m == ModeMirrored {
		return "mirrored"
	}
	return "local"
}

// State is a snapshot of the controller.
type State struct {
	Mode       Mode
	Loaded     bool
	Rebuilding bool
	// Target is the mode being attached while Rebuilding.
	Target Mode
}

func (s State) String() string {
	if s.Rebuilding {
		return fmt.Sprintf("rebuilding(%s)", s.Target)
	}
	if !s.Loaded {
		return "unloaded"
	}
	return s.Mode.String()
}

// Outcome describes what ApplyModePreference did.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRebuilt   Outcome = "rebuilt"
	OutcomeStayLocal Outcome = "stayed_local"
	OutcomeDropped   Outcome = "dropped"
	OutcomeReverted  Outcome = "reverted"
)

// Opener attaches a store. Tests substitute failing openers.
type Opener func(store.Options) (*store.Store, error)

// Options configure a Controller.
type Options struct {
	Path            string
	RemoteContainer string

	LoadTimeout  time.Duration
	ProbeTimeout time.Duration

	Prefs        prefs.Store
	Availability probe.RemoteAvailability
	Bus          *events.Bus
	Logger       *slog.Logger
	Open         Opener
}

// Controller switches the data store between modes.
type Controller struct {
	opts   Options
	logger *slog.Logger

	// mainMu is the main execution context.
	mainMu sync.Mutex

	mu          sync.RWMutex
	st          *store.Store
	main        *store.Session
	mode        Mode
	target      Mode
	inRebuild   bool
	loadErr     error
	loadStarted bool

	loaded     chan struct{}
	rebuilding atomic.Bool
	watchers   sync.WaitGroup
}

// New creates a controller. Nothing is attached until Start or Load.
func New(opts Options) *Controller {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewMemory()
	}
	if opts.Availability == nil {
		opts.Availability = probe.Static{}
	}
	if opts.Open == nil {
		opts.Open = store.Open
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		logger: logger,
		loaded: make(chan struct{}),
	}
}

// Start begins the initial attach in the background, in the mode stored in
// the mirroring preference. Calling Start again has no effect.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.loadStarted {
		c.mu.Unlock()
		return
	}
	c.loadStarted = true
	c.mu.Unlock()

	mode := ModeLocal
	if c.opts.Prefs.Bool(prefs.KeyMirroringEnabled) {
		mode = ModeMirrored
	}

	go func() {
		defer close(c.loaded)

		c.mainMu.Lock()
		defer c.mainMu.Unlock()

		st, err := c.attach(mode)
		if err != nil {
			c.mu.Lock()
			c.loadErr = &AttachError{Mode: mode, Path: c.opts.Path, Err: err}
			c.mu.Unlock()
			c.logger.Error("data store failed to load", "mode", mode, "path", c.opts.Path, "error", err)
			return
		}
		c.install(st, mode)
		c.logger.Info("data store loaded", "mode", mode, "path", c.opts.Path)
	}()
}

// Load starts the initial attach and waits for it. The returned error is an
// *AttachError when the store cannot be attached.
func (c *Controller) Load(ctx context.Context) error {
	c.Start()
	select {
	case <-c.loaded:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

// WaitUntilLoaded waits for the initial attach for at most timeout and
// reports whether it finished. A timeout is not an error: callers proceed.
func (c *Controller) WaitUntilLoaded(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.loaded:
		return true
	case <-timer.C:
		c.logger.Info("timed out waiting for data store load", "timeout", timeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{
		Mode:       c.mode,
		Loaded:     c.st != nil,
		Rebuilding: c.inRebuild,
		Target:     c.target,
	}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	return c.State().Mode
}

// Mirrored reports whether the attached store is in mirrored mode.
func (c *Controller) Mirrored() bool {
	s := c.State()
	return s.Loaded && s.Mode == ModeMirrored
}

// Store returns the attached store, or nil while detached.
func (c *Controller) Store() *store.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

// Do runs fn on the main session inside the main execution context.
//
// Calls are serialized and block while a rebuild is in progress. Nested
// calls (fn calling Do with the context it was given) reuse the session
// instead of deadlocking.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context, sess *store.Session) error) error {
	if sess, ok := store.SessionFrom(ctx); ok && c.owns(sess) {
		return fn(ctx, sess)
	}

	select {
	case <-c.loaded:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mainMu.Lock()
	defer c.mainMu.Unlock()

	c.mu.RLock()
	sess := c.main
	c.mu.RUnlock()
	if sess == nil {
		return ErrNotLoaded
	}
	return fn(store.WithSession(ctx, sess), sess)
}

func (c *Controller) owns(sess *store.Session) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sess == c.main
}

// NewBackgroundSession returns an independent session on the attached store.
// Its saved change sets reach the main session through MergeIntoMain.
func (c *Controller) NewBackgroundSession() (*store.Session, error) {
	st := c.Store()
	if st == nil {
		return nil, ErrNotLoaded
	}
	return st.NewSession(store.StoreTrump), nil
}

// MergeIntoMain folds a background change set into the main session.
func (c *Controller) MergeIntoMain(ctx context.Context, cs store.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	return c.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		return sess.MergeChanges(ctx, cs)
	})
}

// CountRecords counts workspace-scoped records in the attached store.
func (c *Controller) CountRecords(ctx context.Context) (int, error) {
	st := c.Store()
	if st == nil {
		return 0, ErrNotLoaded
	}
	total := 0
	for _, k := range model.ScopedKinds {
		n, err := st.Count(ctx, k, nil)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Close detaches the store and stops remote change delivery.
func (c *Controller) Close() error {
	c.mainMu.Lock()
	c.mu.Lock()
	st := c.st
	c.st, c.main = nil, nil
	c.mu.Unlock()
	c.mainMu.Unlock()

	var err error
	if st != nil {
		err = st.Close()
	}
	c.watchers.Wait()
	return err
}

// attach opens the store configured for mode.
func (c *Controller) attach(mode Mode) (*store.Store, error) {
	opts := store.Options{Path: c.opts.Path, Logger: c.logger}
	if mode == ModeMirrored {
		opts.RemoteChangeNotifications = true
		opts.RemoteContainer = c.opts.RemoteContainer
	}
	return c.opts.Open(opts)
}

// install makes st the attached store and runs post-load configuration.
// Caller holds mainMu.
func (c *Controller) install(st *store.Store, mode Mode) {
	main := st.NewSession(store.StoreTrump)
	// Post-load configuration: property-level merge, in-memory wins.
	main.SetPolicy(store.InMemoryTrump)

	c.mu.Lock()
	c.st, c.main, c.mode = st, main, mode
	c.inRebuild = false
	c.loadErr = nil
	c.mu.Unlock()

	if ch := st.RemoteChanges(); ch != nil {
		c.watchers.Add(1)
		go c.watchRemote(ch)
	}
}

// watchRemote merges remotely imported change sets into the main session
// until the store is detached.
func (c *Controller) watchRemote(ch <-chan store.ChangeSet) {
	defer c.watchers.Done()
	for cs := range ch {
		if err := c.MergeIntoMain(context.Background(), cs); err != nil {
			c.logger.Warn("remote change merge failed", "rows", cs.Len(), "error", err)
			continue
		}
		c.opts.Bus.Publish(events.DataStoreChanged{Reason: events.ReasonRemoteImport, Rows: cs.Len()})
	}
}
