package system

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/state"
)

// heartbeatDoc is the document POSTed to the cloud controller_heartbeats
// table.
type heartbeatDoc struct {
	ControllerID       string                  `json:"controller_id"`
	SiteID             string                  `json:"site_id,omitempty"`
	FirmwareVersion    string                  `json:"firmware_version"`
	ConfigVersion      string                  `json:"config_version,omitempty"`
	UptimeSeconds      int64                   `json:"uptime_seconds"`
	CPUPercent         float64                 `json:"cpu_percent"`
	MemoryPercent      float64                 `json:"memory_percent"`
	DiskPercent        float64                 `json:"disk_percent"`
	TemperatureC       float64                 `json:"temperature_c,omitempty"`
	ServiceStatuses    map[string]string       `json:"service_statuses"`
	AggregatedReadings model.AggregatedReading `json:"aggregated_readings"`
	ActiveAlarmCount   int                     `json:"active_alarm_count"`
	Timestamp          time.Time               `json:"timestamp"`
}

// heartbeatTick samples host metrics and the latest shared-state snapshots,
// then POSTs a heartbeat with bounded retry.
func (s *Service) heartbeatTick(ctx context.Context) error {
	doc := s.buildHeartbeat(ctx)

	var lastErr error
	for attempt := 0; attempt <= len(heartbeatBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(heartbeatBackoff[attempt-1]):
			}
		}

		err := s.cloud.From("controller_heartbeats").Insert(ctx, doc)
		if err == nil {
			s.mu.Lock()
			s.heartbeatFailures = 0
			s.mu.Unlock()
			return nil
		}
		lastErr = err
	}

	s.mu.Lock()
	s.heartbeatFailures++
	failures := s.heartbeatFailures
	s.mu.Unlock()

	// A run of failed heartbeats is logged but never fatal to the service
	if failures >= heartbeatFailureThreshold {
		s.log.WithError(lastErr).WithField("consecutive_failures", failures).
			Error("system: heartbeat has failed five consecutive times")
	} else {
		s.log.WithError(lastErr).Warn("system: heartbeat POST failed, will retry next cycle")
	}
	return nil
}

func (s *Service) buildHeartbeat(ctx context.Context) heartbeatDoc {
	cpuPct, memPct, diskPct, tempC := sampleHostMetrics()

	var statuses map[string]string
	var health serviceHealthDoc
	if err := s.store.Read(ctx, state.KeyServiceHealth, &health); err == nil {
		statuses = health.Statuses
	}
	if statuses == nil {
		statuses = map[string]string{}
	}
	statuses["system"] = "healthy"

	var readings device.ReadingsDocument
	_ = s.store.Read(ctx, state.KeyReadings, &readings)

	activeAlarms := 0
	if v, ok := health.Statuses["logging"]; ok && v != "" {
		activeAlarms = s.activeAlarmCountFromLoggingHealth(ctx)
	}

	configVersion := ""
	if !s.cfg.UpdatedAt.IsZero() {
		configVersion = s.cfg.UpdatedAt.UTC().Format(time.RFC3339)
	}

	return heartbeatDoc{
		ControllerID:       s.cfg.ControllerID,
		SiteID:             s.cfg.SiteID,
		FirmwareVersion:    FirmwareVersion,
		ConfigVersion:      configVersion,
		UptimeSeconds:      int64(time.Since(s.startedAt).Seconds()),
		CPUPercent:         cpuPct,
		MemoryPercent:      memPct,
		DiskPercent:        diskPct,
		TemperatureC:       tempC,
		ServiceStatuses:    statuses,
		AggregatedReadings: readings.Aggregate,
		ActiveAlarmCount:   activeAlarms,
		Timestamp:          time.Now().UTC(),
	}
}

// activeAlarmCountFromLoggingHealth reads the logging service's own
// /health Extra field (it exposes active_alarm_count from its local
// store) rather than querying the store directly — services only observe
// each other over the loopback health channel or shared state.
func (s *Service) activeAlarmCountFromLoggingHealth(ctx context.Context) int {
	cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	resp, ok := fetchHealth(cctx, s.loggingHealthPort)
	if !ok {
		return 0
	}
	if n, ok := resp.Extra["active_alarm_count"].(float64); ok {
		return int(n)
	}
	return 0
}

// sampleHostMetrics samples instantaneous CPU/memory/disk usage and the
// first available sensor temperature via gopsutil. Any individual sampler
// failing just leaves that field at zero rather than failing the whole
// heartbeat.
func sampleHostMetrics() (cpuPct, memPct, diskPct, tempC float64) {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		diskPct = du.UsedPercent
	}
	if temps, err := host.SensorsTemperatures(); err == nil {
		for _, t := range temps {
			if t.Temperature > 0 {
				tempC = t.Temperature
				break
			}
		}
	}
	return cpuPct, memPct, diskPct, tempC
}
