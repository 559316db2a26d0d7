package supervisor

import (
	"context"
	"fmt"
)

// RestartAll matches internal/system.RestartFunc: it stops every component
// in reverse order, extracts the staged package over the current install,
// then waits for each component's own supervise goroutine to bring it back
// up and verifies health within the startup timeout.
//
// It deliberately does not spawn new supervise goroutines: supervise
// already treats a Stop-induced Start() return as an exit worth restarting,
// so stopping every component here is enough to trigger the same
// restart-after-cooldown path a crash would. Attempt counters are reset
// to zero after the stop and the extraction, so this planned restart does
// not count against the crash-recovery budget.
//
// extractFn performs the actual package extraction; production wiring
// passes extractStagedPackage, tests substitute a no-op so they never touch
// the real install directory.
func (sv *Supervisor) RestartAll(ctx context.Context, stagedPackagePath string) error {
	return sv.restartAll(ctx, stagedPackagePath, extractStagedPackage)
}

func (sv *Supervisor) restartAll(ctx context.Context, stagedPackagePath string, extractFn func(string) error) error {
	for i := len(sv.components) - 1; i >= 0; i-- {
		c := sv.components[i]
		sv.log.WithField("service", c.Name).Info("supervisor: stopping service for OTA apply")
		c.Service.Stop()
	}

	if err := extractFn(stagedPackagePath); err != nil {
		return fmt.Errorf("supervisor: extract staged package: %w", err)
	}

	sv.mu.Lock()
	for _, c := range sv.components {
		sv.attempts[c.Name] = 0
	}
	sv.mu.Unlock()

	for _, c := range sv.components {
		if !sv.waitHealthy(ctx, c) {
			return fmt.Errorf("supervisor: %s did not become healthy after OTA restart", c.Name)
		}
	}

	return nil
}
