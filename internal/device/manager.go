// Package device implements the Device Service: a 100ms poll
// loop over each configured device's registers, per-device liveness
// tracking with exponential backoff, site-level role-tag aggregation, and a
// write-command consumer fed by the control service. Manager and Service
// follow the "New(deps, log) *Service" / tick-loop shape used
// throughout its background workers (infrastructure/service.BaseService's
// AddTickerWorker, services/automation's poll-on-tick jobs).
package device

import (
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/model"
)

// Backoff parameters.
const (
	FailureThreshold  = 3
	InitialBackoff    = 5 * time.Second
	MaxBackoff        = 60 * time.Second
)

// Manager tracks per-device liveness independent of the poll loop itself,
// so it can be unit-tested without any transport.
type Manager struct {
	mu       sync.RWMutex
	statuses map[string]*model.DeviceStatus
}

// NewManager creates a Manager with every device initialized offline (a
// device is only marked online after its first successful read).
func NewManager(devices []model.Device) *Manager {
	m := &Manager{statuses: make(map[string]*model.DeviceStatus, len(devices))}
	for _, d := range devices {
		m.statuses[d.ID] = &model.DeviceStatus{DeviceID: d.ID}
	}
	return m
}

// ShouldPoll reports whether dev may be polled this tick: a device inside
// its backoff window is skipped entirely.
func (m *Manager) ShouldPoll(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[deviceID]
	if !ok {
		return true
	}
	if st.ConsecutiveFailures < FailureThreshold {
		return true
	}
	return !time.Now().Before(st.NextRetry)
}

// RecordSuccess clears backoff state and marks the device online.
func (m *Manager) RecordSuccess(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statusLocked(deviceID)
	st.Online = true
	st.LastSeen = time.Now()
	st.ConsecutiveFailures = 0
	st.LastError = ""
	st.BackoffWindow = 0
	st.NextRetry = time.Time{}
}

// RecordFailure increments the device's consecutive-failure count and,
// once FailureThreshold is crossed, declares it offline and (re)computes an
// exponentially-doubling backoff window capped at MaxBackoff.
// It reports whether the device transitioned from online to offline on
// this call, which callers use to decide whether to drop cached readings.
func (m *Manager) RecordFailure(deviceID string, errMsg string) (wentOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statusLocked(deviceID)
	wasOnline := st.Online
	st.ConsecutiveFailures++
	st.LastError = errMsg

	if st.ConsecutiveFailures < FailureThreshold {
		return false
	}

	if st.BackoffWindow == 0 {
		st.BackoffWindow = InitialBackoff
	} else {
		st.BackoffWindow *= 2
		if st.BackoffWindow > MaxBackoff {
			st.BackoffWindow = MaxBackoff
		}
	}
	st.NextRetry = time.Now().Add(st.BackoffWindow)
	st.Online = false
	return wasOnline
}

func (m *Manager) statusLocked(deviceID string) *model.DeviceStatus {
	st, ok := m.statuses[deviceID]
	if !ok {
		st = &model.DeviceStatus{DeviceID: deviceID}
		m.statuses[deviceID] = st
	}
	return st
}

// Status returns a copy of the current status for deviceID.
func (m *Manager) Status(deviceID string) (model.DeviceStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[deviceID]
	if !ok {
		return model.DeviceStatus{}, false
	}
	return *st, true
}

// AllStatuses returns a copy of every tracked device's status.
func (m *Manager) AllStatuses() []model.DeviceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DeviceStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	return out
}

// IsOnline reports whether deviceID is currently marked online.
func (m *Manager) IsOnline(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[deviceID]
	return ok && st.Online
}
