// Package supervisor drives the fixed service startup sequence
// (system → config → device → control → logging), probes each service's
// health reporter after Start, and restarts a service that exits
// unexpectedly up to a bounded attempt count before declaring a safe-mode
// override. Its shape — ordered Register then Start/Stop,
// probing a DescriptorProvider-like health surface — is adapted from
// internal/app.Application's/system.Manager's registration pattern and
// system/bootstrap.Bootstrap's ordered package install-then-start sequence,
// collapsed from multi-process package loading to in-process goroutine
// supervision.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/state"
)

// Default timing values, overridable per-instance below so tests
// don't have to wait out the real 30s/10s bounds.
const (
	defaultStartupProbeTimeout = 30 * time.Second
	startupProbeInterval       = 200 * time.Millisecond

	defaultMaxRestartAttempts = 3
	defaultRestartCooldown    = 10 * time.Second
)

// ManagedService is the lifecycle surface every supervised component
// implements; internal/control, internal/device, internal/logging and
// internal/system.Service all already satisfy it.
type ManagedService interface {
	Start(ctx context.Context) error
	Stop()
	Reporter() *httphealth.Reporter
}

// Component names one supervised service and whether the controller should
// fall back to safe mode if it cannot be kept running.
type Component struct {
	Name     string
	Service  ManagedService
	Critical bool
}

// Supervisor runs Components in registration order, health-probing each
// before moving on, and supervises each one's goroutine for the life of the
// process.
type Supervisor struct {
	components []Component
	store      *state.Store
	log        *applog.Logger

	startupProbeTimeout time.Duration
	maxRestartAttempts  int
	restartCooldown     time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

// New builds a Supervisor over components, which must already be ordered
// in fixed order ("system → config → device → control → logging").
func New(components []Component, store *state.Store, log *applog.Logger) *Supervisor {
	return &Supervisor{
		components:          components,
		store:               store,
		log:                 log,
		startupProbeTimeout: defaultStartupProbeTimeout,
		maxRestartAttempts:  defaultMaxRestartAttempts,
		restartCooldown:     defaultRestartCooldown,
		attempts:            make(map[string]int),
	}
}

// Run starts every component in order, probing health after each before
// starting the next, then blocks supervising all of them until ctx is
// canceled. It always returns nil on a clean shutdown; startup or restart
// failures are handled internally via safe-mode triggers/overrides rather
// than propagated, matching the rest of the controller's "never kill the
// process" posture.
func (sv *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range sv.components {
		wg.Add(1)
		go sv.supervise(ctx, &wg, c)

		if !sv.waitHealthy(ctx, c) {
			sv.log.WithField("service", c.Name).Error("supervisor: service failed to become healthy within startup timeout")
			sv.writeSafeModeTrigger(ctx, c.Name)
		}
	}
	wg.Wait()
	return nil
}

// StopAll stops every component in reverse registration order. It is
// suitable as internal/system.ShutdownFunc for a graceful reboot.
func (sv *Supervisor) StopAll(ctx context.Context) error {
	for i := len(sv.components) - 1; i >= 0; i-- {
		c := sv.components[i]
		sv.log.WithField("service", c.Name).Info("supervisor: stopping service")
		c.Service.Stop()
	}
	return nil
}

// waitHealthy polls c's reporter directly (already in-process, so no HTTP
// round trip is needed the way the system service's cross-boundary health
// monitor requires) until it reports healthy or startupProbeTimeout elapses.
func (sv *Supervisor) waitHealthy(ctx context.Context, c Component) bool {
	deadline := time.Now().Add(sv.startupProbeTimeout)
	ticker := time.NewTicker(startupProbeInterval)
	defer ticker.Stop()

	for {
		if c.Service.Reporter().Snapshot().Status == httphealth.StatusHealthy {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// supervise runs c.Service.Start repeatedly, honoring the restart policy:
// up to maxRestartAttempts with restartCooldown between attempts. Once
// exhausted, a critical service's failure escalates to a safe-mode
// override; a non-critical service is simply left stopped.
func (sv *Supervisor) supervise(ctx context.Context, wg *sync.WaitGroup, c Component) {
	defer wg.Done()

	for {
		err := c.Service.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Start returned cleanly without ctx being canceled; treat as
			// an unexpected exit, same as an error, and attempt a restart.
			err = fmt.Errorf("service exited without cancellation")
		}

		sv.log.WithError(err).WithField("service", c.Name).Error("supervisor: service exited unexpectedly")

		sv.mu.Lock()
		sv.attempts[c.Name]++
		attempt := sv.attempts[c.Name]
		sv.mu.Unlock()

		if attempt > sv.maxRestartAttempts {
			if c.Critical {
				sv.writeSafeModeOverride(ctx, c.Name, err)
			}
			sv.log.WithField("service", c.Name).Error("supervisor: restart attempts exhausted, leaving service stopped")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sv.restartCooldown):
		}
	}
}

func (sv *Supervisor) writeSafeModeTrigger(ctx context.Context, service string) {
	doc := struct {
		Service string `json:"service"`
	}{Service: service}
	if err := sv.store.Write(ctx, state.KeySafeModeTrigger, doc); err != nil {
		sv.log.WithError(err).Warn("supervisor: failed to write safe_mode_trigger")
	}
}

func (sv *Supervisor) writeSafeModeOverride(ctx context.Context, service string, cause error) {
	doc := struct {
		Active      bool   `json:"active"`
		Reason      string `json:"reason"`
		TriggeredBy string `json:"triggered_by"`
	}{
		Active:      true,
		Reason:      fmt.Sprintf("%s: %v", service, cause),
		TriggeredBy: "supervisor",
	}
	if err := sv.store.Write(ctx, state.KeySafeModeOverride, doc); err != nil {
		sv.log.WithError(err).Error("supervisor: failed to write safe_mode_override")
	}
}
