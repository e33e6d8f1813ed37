// Package resource implements the ResourceCoordinator from spec.md §4.2: a
// global arbiter of shared hardware resources (camera, illumination, stage,
// piezo) via leases, with a background watchdog that revokes leases past
// their timeout.
package resource

import (
	"sync"
	"time"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/timeutil"

	"github.com/google/uuid"
)

// Coordinator tracks leases over the fixed resource enumeration and derives
// the GlobalMode from the set of active leases.
type Coordinator struct {
	mu     sync.Mutex
	leases map[string]*acqmodel.ResourceLease
	held   map[acqmodel.Resource]string // resource -> lease ID holding it

	clock timeutil.Clock
	bus   *bus.Bus

	watchdogInterval time.Duration
	stopWatchdog     chan struct{}
	watchdogRunning  bool

	lastMode acqmodel.GlobalMode
}

// New creates a Coordinator. clock defaults to timeutil.RealClock{} if nil.
func New(b *bus.Bus, clock timeutil.Clock) *Coordinator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Coordinator{
		leases:           make(map[string]*acqmodel.ResourceLease),
		held:             make(map[acqmodel.Resource]string),
		clock:            clock,
		bus:              b,
		watchdogInterval: time.Second,
		lastMode:         acqmodel.GlobalIdle,
	}
}

// SetWatchdogInterval overrides the default 1s tick (spec.md §4.2).
func (c *Coordinator) SetWatchdogInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchdogInterval = d
}

// Acquire attempts an atomic, all-or-nothing lease over resources. It
// returns (nil, *acqerrors.ResourceUnavailable) if any resource is
// currently held.
func (c *Coordinator) Acquire(resources []acqmodel.Resource, owner string, mode acqmodel.LeaseMode, timeout *time.Duration) (*acqmodel.ResourceLease, error) {
	c.mu.Lock()

	var unavailable []string
	for _, r := range resources {
		if _, held := c.held[r]; held {
			unavailable = append(unavailable, string(r))
		}
	}
	if len(unavailable) > 0 {
		c.mu.Unlock()
		return nil, &acqerrors.ResourceUnavailable{Owner: owner, Resources: unavailable}
	}

	lease := &acqmodel.ResourceLease{
		LeaseID:    uuid.NewString(),
		Owner:      owner,
		Resources:  make(map[acqmodel.Resource]bool, len(resources)),
		Mode:       mode,
		AcquiredAt: c.clock.Now(),
	}
	if timeout != nil {
		t := c.clock.Now().Add(*timeout)
		lease.TimeoutAt = &t
	}
	for _, r := range resources {
		lease.Resources[r] = true
		c.held[r] = lease.LeaseID
	}
	c.leases[lease.LeaseID] = lease

	newMode := c.deriveModeLocked(false)
	modeChanged := newMode != c.lastMode
	c.lastMode = newMode
	c.mu.Unlock()

	c.publish(bus.LeaseAcquired{Lease: *lease})
	if modeChanged {
		c.publish(bus.GlobalModeChanged{Mode: newMode})
	}
	return lease, nil
}

// Release frees all resources held by the lease and recomputes global mode.
func (c *Coordinator) Release(lease *acqmodel.ResourceLease) {
	if lease == nil {
		return
	}
	c.mu.Lock()
	if _, ok := c.leases[lease.LeaseID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.leases, lease.LeaseID)
	for r := range lease.Resources {
		if c.held[r] == lease.LeaseID {
			delete(c.held, r)
		}
	}
	newMode := c.deriveModeLocked(false)
	modeChanged := newMode != c.lastMode
	c.lastMode = newMode
	c.mu.Unlock()

	c.publish(bus.LeaseReleased{LeaseID: lease.LeaseID, Owner: lease.Owner})
	if modeChanged {
		c.publish(bus.GlobalModeChanged{Mode: newMode})
	}
}

// GlobalMode returns the current derived mode (spec.md §4.2).
func (c *Coordinator) GlobalMode() acqmodel.GlobalMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deriveModeLocked(false)
}

// deriveModeLocked derives the mode from the active leases with the
// precedence Acquiring > Autofocusing > Live > Idle. Its argument is
// unused: leases carry no abort state, so the coordinator never derives
// GlobalAborting.
func (c *Coordinator) deriveModeLocked(_ bool) acqmodel.GlobalMode {
	var hasAcquiring, hasAutofocus, hasLive bool
	for _, l := range c.leases {
		switch l.Mode {
		case acqmodel.ModeAcquiring:
			hasAcquiring = true
		case acqmodel.ModeAutofocusing:
			hasAutofocus = true
		case acqmodel.ModeLive:
			hasLive = true
		}
	}
	switch {
	case hasAcquiring:
		return acqmodel.GlobalAcquiring
	case hasAutofocus:
		return acqmodel.GlobalAutofocusing
	case hasLive:
		return acqmodel.GlobalLive
	default:
		return acqmodel.GlobalIdle
	}
}

// Holders returns the resources currently held, for diagnostics.
func (c *Coordinator) Holders() map[acqmodel.Resource]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[acqmodel.Resource]string, len(c.held))
	for k, v := range c.held {
		out[k] = v
	}
	return out
}

func (c *Coordinator) publish(e bus.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// StartWatchdog launches the background goroutine that revokes leases past
// their TimeoutAt (spec.md §4.2). It is a no-op if already running.
func (c *Coordinator) StartWatchdog() {
	c.mu.Lock()
	if c.watchdogRunning {
		c.mu.Unlock()
		return
	}
	c.watchdogRunning = true
	c.stopWatchdog = make(chan struct{})
	interval := c.watchdogInterval
	stop := c.stopWatchdog
	c.mu.Unlock()

	ticker := c.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				c.revokeExpired()
			}
		}
	}()
}

// StopWatchdog halts the background revocation goroutine.
func (c *Coordinator) StopWatchdog() {
	c.mu.Lock()
	if !c.watchdogRunning {
		c.mu.Unlock()
		return
	}
	c.watchdogRunning = false
	close(c.stopWatchdog)
	c.mu.Unlock()
}

func (c *Coordinator) revokeExpired() {
	now := c.clock.Now()

	c.mu.Lock()
	var expired []*acqmodel.ResourceLease
	for _, l := range c.leases {
		if l.TimeoutAt != nil && now.After(*l.TimeoutAt) {
			expired = append(expired, l)
		}
	}
	for _, l := range expired {
		delete(c.leases, l.LeaseID)
		for r := range l.Resources {
			if c.held[r] == l.LeaseID {
				delete(c.held, r)
			}
		}
	}
	var newMode acqmodel.GlobalMode
	modeChanged := false
	if len(expired) > 0 {
		newMode = c.deriveModeLocked(false)
		modeChanged = newMode != c.lastMode
		c.lastMode = newMode
	}
	c.mu.Unlock()

	for _, l := range expired {
		acqlog.Logf("resource: lease %s owned by %s expired, revoking", l.LeaseID, l.Owner)
		c.publish(bus.LeaseRevoked{LeaseID: l.LeaseID, Owner: l.Owner, Reason: "timeout", At: now})
	}
	if modeChanged {
		c.publish(bus.GlobalModeChanged{Mode: newMode})
	}
}
