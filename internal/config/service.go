package config

import (
	"context"
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/scheduler"
	"github.com/volteria/controller-core/internal/state"
)

// configStatusDoc is published to state.KeyConfigStatus on every sync
// attempt so other services (and the system heartbeat) can see whether the
// last cloud poll applied an override.
type configStatusDoc struct {
	LastPollAt time.Time `json:"last_poll_at"`
	Applied    bool      `json:"applied"`
	Version    time.Time `json:"version"`
	Error      string    `json:"error,omitempty"`
}

// Service is the Config Service: it owns the loaded
// SiteConfig, polls the cloud for a newer override document every five
// minutes, and publishes the current configuration under state.KeyConfig
// so other services can read it without importing this package's
// cloud-sync internals. Its lifecycle shape (New/Reporter/Start/Stop
// around one scheduler.Scheduler loop) follows internal/control.Service.
type Service struct {
	store  *state.Store
	syncer *CloudSyncer
	log    *applog.Logger

	mu  sync.RWMutex
	cfg *SiteConfig

	// startupWarnings carries the validation warnings Load() collected
	// before the service started, applied once on Start.
	startupWarnings []string

	reporter *httphealth.Reporter
	sched    *scheduler.Scheduler
}

// NewService wraps an already-loaded SiteConfig with cloud-sync polling.
// cloudClient may be nil, which disables polling; the service still starts,
// publishes the file-sourced config once, and reports healthy. warnings are
// the non-fatal validation warnings Load() collected while resolving cfg, if
// any; the control service is forced into safe mode until they clear.
func NewService(cfg *SiteConfig, warnings []string, store *state.Store, cloudClient *cloud.Client, log *applog.Logger) *Service {
	return &Service{
		store:           store,
		syncer:          NewCloudSyncer(cloudClient, cfg.SiteID),
		log:             log,
		cfg:             cfg,
		startupWarnings: warnings,
		reporter:        httphealth.NewReporter("config"),
	}
}

// Reporter exposes the service's health reporter.
func (s *Service) Reporter() *httphealth.Reporter { return s.reporter }

// Current returns a copy of the currently loaded configuration.
func (s *Service) Current() SiteConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Start publishes the initial configuration, then polls the cloud for
// overrides every DefaultCloudSyncInterval until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.reporter.SetExtraFunc(s.healthExtra)
	s.reporter.SetStatus(httphealth.StatusHealthy)

	s.reconcileSafeModeTrigger(ctx, s.startupWarnings)
	_ = s.publish(ctx)

	s.sched = scheduler.New("config-cloud-sync", DefaultCloudSyncInterval, s.tick)
	s.sched.Start(ctx)
	s.reporter.SetStatus(httphealth.StatusStopped)
	return nil
}

// Stop halts the cloud-sync loop cooperatively.
func (s *Service) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
}

func (s *Service) healthExtra() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"site_id":        s.cfg.SiteID,
		"config_version": s.cfg.UpdatedAt,
	}
}

// tick polls the cloud for a newer configuration document and republishes
// on change.
func (s *Service) tick(ctx context.Context) error {
	s.mu.Lock()
	applied, warnings, err := s.syncer.Poll(ctx, s.cfg)
	cfgCopy := *s.cfg
	s.mu.Unlock()

	status := configStatusDoc{LastPollAt: time.Now(), Applied: applied, Version: cfgCopy.UpdatedAt}
	if err != nil {
		status.Error = err.Error()
		s.log.WithError(err).Warn("config: cloud sync poll failed")
	}
	_ = s.store.Write(ctx, state.KeyConfigStatus, status)

	if applied {
		s.log.WithField("version", cfgCopy.UpdatedAt).Info("config: applied newer cloud configuration")
		s.reconcileSafeModeTrigger(ctx, warnings)
		return s.publish(ctx)
	}
	return nil
}

// reconcileSafeModeTrigger forces the control service into safe mode while
// required settings are unresolved, and clears a trigger this service
// previously set once the configuration becomes valid again. It never
// clears a trigger raised by another component.
func (s *Service) reconcileSafeModeTrigger(ctx context.Context, warnings []string) {
	if len(warnings) > 0 {
		for _, w := range warnings {
			s.log.WithField("warning", w).Warn("config: validation warning, forcing safe mode until resolved")
		}
		_ = s.store.Write(ctx, state.KeySafeModeTrigger, map[string]string{"service": "config"})
		return
	}

	var trigger struct {
		Service string `json:"service"`
	}
	if err := s.store.ReadFresh(ctx, state.KeySafeModeTrigger, &trigger); err == nil && trigger.Service == "config" {
		_ = s.store.Write(ctx, state.KeySafeModeTrigger, map[string]string{"service": ""})
	}
}

// publish writes the current configuration to state.KeyConfig so other
// services observe overrides without depending on this package directly.
func (s *Service) publish(ctx context.Context) error {
	s.mu.RLock()
	cfgCopy := *s.cfg
	s.mu.RUnlock()
	return s.store.Write(ctx, state.KeyConfig, cfgCopy)
}
