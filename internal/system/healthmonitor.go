package system

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/state"
)

// serviceHealthDoc is the aggregated status document written to
// state.KeyServiceHealth and consumed by the
// heartbeat tick for the "per-service statuses" heartbeat field.
type serviceHealthDoc struct {
	Statuses  map[string]string `json:"statuses"`
	CheckedAt time.Time         `json:"checked_at"`
}

// healthMonitorTick probes every monitored service's /health endpoint over
// loopback. Three consecutive
// failed observations for a critical service trigger the supervisor's
// safe-mode path; a non-critical service (logging) only raises an alert.
func (s *Service) healthMonitorTick(ctx context.Context) error {
	statuses := make(map[string]string, len(s.services))

	for _, svc := range s.services {
		healthy := s.probeHealth(ctx, svc)

		s.mu.Lock()
		if healthy {
			s.healthFailures[svc.Name] = 0
			statuses[svc.Name] = string(httphealth.StatusHealthy)
		} else {
			s.healthFailures[svc.Name]++
			statuses[svc.Name] = string(httphealth.StatusUnhealthy)
		}
		failures := s.healthFailures[svc.Name]
		s.mu.Unlock()

		if !healthy && failures >= healthFailureThreshold {
			if svc.Critical {
				s.triggerSafeMode(ctx, svc.Name)
			} else {
				s.emitServiceAlert(ctx, svc.Name)
			}
		}
	}

	return s.store.Write(ctx, state.KeyServiceHealth, serviceHealthDoc{
		Statuses:  statuses,
		CheckedAt: time.Now().UTC(),
	})
}

// probeHealth issues a bounded GET against a service's /health endpoint.
// Any non-200 response, timeout, or connection failure (process not
// running) counts as unhealthy.
func (s *Service) probeHealth(ctx context.Context, svc monitoredService) bool {
	cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", svc.Port)
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// triggerSafeMode writes the external safe-mode trigger consumed by
// control.Service.evaluateSafeMode.
func (s *Service) triggerSafeMode(ctx context.Context, serviceName string) {
	s.log.WithField("service", serviceName).Error("system: critical service failed health check 3 times, triggering safe mode")
	_ = s.store.Write(ctx, state.KeySafeModeTrigger, map[string]string{"service": serviceName})
}

// emitServiceAlert appends a pending alert for a non-critical service's
// repeated health-check failure, following the same pending_alerts
// append-and-consume shape as internal/device.Service.
func (s *Service) emitServiceAlert(ctx context.Context, serviceName string) {
	type pendingAlert struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		DeviceID  string    `json:"device_id"`
		Message   string    `json:"message"`
		Severity  string    `json:"severity"`
		Timestamp time.Time `json:"timestamp"`
	}
	type pendingAlertsDoc struct {
		Alerts []pendingAlert `json:"alerts"`
	}

	var doc pendingAlertsDoc
	_ = s.store.ReadFresh(ctx, state.KeyPendingAlerts, &doc)
	doc.Alerts = append(doc.Alerts, pendingAlert{
		ID:        uuid.NewString(),
		Type:      "ServiceHealthDegraded",
		Message:   fmt.Sprintf("%s failed health check 3 times in a row", serviceName),
		Severity:  string(model.SeverityWarning),
		Timestamp: time.Now().UTC(),
	})
	s.log.WithField("service", serviceName).Warn("system: non-critical service degraded, raised alert")
	_ = s.store.Write(ctx, state.KeyPendingAlerts, doc)
}
