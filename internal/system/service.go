// Package system implements the System Service: it emits
// heartbeats carrying host metrics and per-service status, health-checks
// the device/control/logging services over loopback HTTP, drives the OTA
// update state machine, and processes reboot commands. Its lifecycle shape
// — New/Reporter/Start/Stop around one or more scheduler.Scheduler loops —
// follows internal/control.Service and internal/logging.Service.
package system

import (
	"context"
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/scheduler"
	"github.com/volteria/controller-core/internal/state"
)

// FirmwareVersion is the compiled-in firmware identifier reported in every
// heartbeat.
const FirmwareVersion = "1.0.0"

const (
	heartbeatInterval     = 30 * time.Second
	healthMonitorInterval = 10 * time.Second
	rebootPollInterval    = 10 * time.Second
	healthCheckTimeout    = 5 * time.Second

	healthFailureThreshold    = 3
	heartbeatFailureThreshold = 5
)

// heartbeatBackoff is the retry schedule for a failed heartbeat POST
var heartbeatBackoff = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

type monitoredService struct {
	Name     string
	Port     int
	Critical bool
}

// monitoredServices are the loopback health endpoints the system service
// polls; the system service does not health-check itself. Only logging is non-critical.
var monitoredServices = []monitoredService{
	{Name: "config", Port: 8082, Critical: true},
	{Name: "device", Port: 8083, Critical: true},
	{Name: "control", Port: 8084, Critical: true},
	{Name: "logging", Port: 8085, Critical: false},
}

// Service is the System Service.
type Service struct {
	cfg   *config.SiteConfig
	store *state.Store
	cloud *cloud.Client
	log   *applog.Logger

	reporter *httphealth.Reporter
	cron     *scheduler.CronRunner

	startedAt time.Time

	// services and loggingHealthPort default to the real fixed ports but
	// are overridable (tests point them at an httptest.Server bound to an
	// ephemeral port instead).
	services          []monitoredService
	loggingHealthPort int

	mu                sync.Mutex
	healthFailures    map[string]int
	heartbeatFailures int

	ota *otaMachine

	shutdownHook ShutdownFunc
	restartHook  RestartFunc
}

// ShutdownFunc stops the managed services in dependency-reverse order.
// Supplied by internal/supervisor ahead of Start; the system service itself
// owns no other service's lifecycle.
type ShutdownFunc func(ctx context.Context) error

// SetShutdownHook registers the graceful-reboot shutdown sequence.
func (s *Service) SetShutdownHook(fn ShutdownFunc) { s.shutdownHook = fn }

// SetRestartHook registers the OTA-apply stop/extract/restart sequence.
func (s *Service) SetRestartHook(fn RestartFunc) { s.restartHook = fn }

// New builds the System Service. cloudClient may be nil, which disables
// heartbeats, OTA checks and reboot-command polling but leaves the local
// health monitor running.
func New(cfg *config.SiteConfig, store *state.Store, cloudClient *cloud.Client, log *applog.Logger) *Service {
	services := make([]monitoredService, len(monitoredServices))
	copy(services, monitoredServices)

	return &Service{
		cfg:               cfg,
		store:             store,
		cloud:             cloudClient,
		log:               log,
		reporter:          httphealth.NewReporter("system"),
		startedAt:         time.Now(),
		services:          services,
		loggingHealthPort: 8085,
		healthFailures:    make(map[string]int),
		ota:               newOTAMachine(),
	}
}

// Reporter exposes the service's health reporter.
func (s *Service) Reporter() *httphealth.Reporter { return s.reporter }

// Start runs the health-monitor loop until ctx is canceled. The heartbeat
// and reboot-poll loops and the hourly OTA check only run when a cloud
// client is configured.
func (s *Service) Start(ctx context.Context) error {
	s.reporter.SetExtraFunc(s.healthExtra)
	s.reporter.SetStatus(httphealth.StatusHealthy)

	s.consumeRebootPending(ctx)

	var wg sync.WaitGroup
	run := func(name string, interval time.Duration, fn scheduler.Callback) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.New(name, interval, fn).Start(ctx)
		}()
	}

	run("system-health-monitor", healthMonitorInterval, s.healthMonitorTick)

	if s.cloud != nil {
		run("system-heartbeat", heartbeatInterval, s.heartbeatTick)
		run("system-reboot-poll", rebootPollInterval, s.rebootPollTick)

		s.cron = scheduler.NewCronRunner()
		if _, err := s.cron.AddHourly(ctx, s.otaCheckTick); err != nil {
			s.log.WithError(err).Warn("system: failed to schedule hourly OTA check")
		} else {
			s.cron.Start()
		}
	}

	wg.Wait()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.reporter.SetStatus(httphealth.StatusStopped)
	return nil
}

// Stop is a no-op beyond what ctx cancellation already triggers in Start;
// the system service owns no closable resource of its own.
func (s *Service) Stop() {}

func (s *Service) healthExtra() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"ota_state":          s.ota.snapshot().State,
		"heartbeat_failures": s.heartbeatFailures,
	}
}
