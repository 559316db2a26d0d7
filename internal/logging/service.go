// Package logging implements the Logging Service: the
// three-tier pipeline (T1 in-memory buffer, T2 local durable store, T3
// cloud sync) plus the alarm evaluator that runs on every T1 tick.
package logging

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/cloud"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/logging/alarm"
	"github.com/volteria/controller-core/internal/logging/cloudsync"
	"github.com/volteria/controller-core/internal/logging/store"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/scheduler"
	"github.com/volteria/controller-core/internal/state"
)

// bufferTick is the T1 sampling cadence: every control cycle.
const bufferTick = time.Second

// resyncInterval is the cloud alarm-resolution reverse-sync poll cadence.
// §4.7.3 "Alarm resolutions from cloud" names the mechanism
// without fixing an interval; five minutes balances promptness against
// the read load of a full-site poll.
const resyncInterval = 5 * time.Minute

// cloudSyncOfflineAlarmType is the controller-owned synthetic alarm raised
// from cloud-health tracking rather than a configured AlarmDefinition
const cloudSyncOfflineAlarmType = "CLOUD_SYNC_OFFLINE"

// Service is the Logging Service.
type Service struct {
	siteID string

	stateStore *state.Store
	localStore *store.Store
	cloudEng   *cloudsync.Engine
	evaluator  *alarm.Evaluator

	controllerOwned      map[string]bool
	bucketSeconds        map[string]float64
	defaultBucketSeconds float64

	flushInterval             time.Duration
	readingsSyncInterval      time.Duration
	controlAlarmSyncInterval  time.Duration
	retentionDays             int

	log      *applog.Logger
	reporter *httphealth.Reporter

	mu       sync.Mutex
	loadBuf  *metricBuffer
	solarBuf *metricBuffer

	lastReadings device.ReadingsDocument
	lastControl  model.ControlState
}

// New builds the Logging Service. cloudClient may be nil, which disables
// the T3 tier entirely; the local
// store (T2) and alarm evaluator still run.
func New(ctx context.Context, cfg *config.SiteConfig, stateStore *state.Store, cloudClient *cloud.Client, log *applog.Logger) (*Service, error) {
	localStore, err := store.Open(ctx, filepath.Join(cfg.StateDir, "logging_store"))
	if err != nil {
		return nil, err
	}

	flushInterval := time.Duration(cfg.Logging.DefaultCadenceS * float64(time.Second))
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	readingsSyncInterval := time.Duration(cfg.Logging.CloudSyncIntervalS * float64(time.Second))
	if readingsSyncInterval <= 0 {
		readingsSyncInterval = 3 * time.Minute
	}
	controlAlarmSyncInterval := time.Duration(cfg.Logging.AlarmSyncIntervalS * float64(time.Second))
	if controlAlarmSyncInterval <= 0 {
		controlAlarmSyncInterval = 2 * time.Minute
	}

	bucketSeconds := make(map[string]float64)
	for _, d := range cfg.ModelDevices() {
		for _, r := range d.Registers {
			if r.LoggingCadenceS > 0 {
				bucketSeconds[d.ID+"/"+r.Name] = r.LoggingCadenceS
			}
		}
	}

	controllerOwned := map[string]bool{cloudSyncOfflineAlarmType: true}
	alarmDefs := cfg.ModelAlarms()
	for _, a := range alarmDefs {
		if a.ControllerOwned {
			controllerOwned[a.ID] = true
		}
	}

	var cloudEng *cloudsync.Engine
	if cloudClient != nil {
		cloudEng = cloudsync.NewEngine(localStore, cloudClient, cfg.SiteID, log)
	}

	return &Service{
		siteID:                   cfg.SiteID,
		stateStore:               stateStore,
		localStore:               localStore,
		cloudEng:                 cloudEng,
		evaluator:                alarm.New(alarmDefs),
		controllerOwned:          controllerOwned,
		bucketSeconds:            bucketSeconds,
		defaultBucketSeconds:     cfg.Logging.DefaultCadenceS,
		flushInterval:            flushInterval,
		readingsSyncInterval:     readingsSyncInterval,
		controlAlarmSyncInterval: controlAlarmSyncInterval,
		retentionDays:            cfg.Logging.RetentionDays,
		log:                      log,
		reporter:                 httphealth.NewReporter("logging"),
		loadBuf:                  newMetricBuffer(),
		solarBuf:                 newMetricBuffer(),
	}, nil
}

// Reporter exposes the service's health reporter.
func (s *Service) Reporter() *httphealth.Reporter { return s.reporter }

// Start runs every tier's scheduler until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.reporter.SetExtraFunc(s.healthExtra)
	s.reporter.SetStatus(httphealth.StatusHealthy)

	var wg sync.WaitGroup
	run := func(name string, interval time.Duration, fn scheduler.Callback) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.New(name, interval, fn).Start(ctx)
		}()
	}

	run("logging-buffer", bufferTick, s.sampleTick)
	run("logging-flush", s.flushInterval, s.flushTick)
	run("logging-retention", time.Hour, s.retentionTick)
	if s.cloudEng != nil {
		run("logging-sync-readings", s.readingsSyncInterval, s.syncReadingsTick)
		run("logging-sync-control-alarms", s.controlAlarmSyncInterval, s.syncControlAlarmsTick)
		run("logging-alarm-resync", resyncInterval, s.resyncTick)
	}

	wg.Wait()
	s.reporter.SetStatus(httphealth.StatusStopped)
	return nil
}

// Stop closes the local store. Per-scheduler shutdown happens cooperatively
// via ctx cancellation in Start.
func (s *Service) Stop() {
	_ = s.localStore.Close()
}

func (s *Service) healthExtra() map[string]any {
	extra := map[string]any{}
	if pending, err := s.localStore.PendingDeviceReadingsCount(context.Background()); err == nil {
		extra["pending_readings"] = pending
	}
	if active, err := s.localStore.ActiveAlarmCount(context.Background(), s.siteID); err == nil {
		extra["active_alarm_count"] = active
	}
	if s.cloudEng != nil {
		extra["cloud_offline"] = s.cloudEng.Health().Offline
		extra["cloud_consecutive_failures"] = s.cloudEng.Health().ConsecutiveFailures
	}
	return extra
}

// sampleTick is the T1 tick: sample the shared-state readings/control
// documents into the in-memory buffers and run the alarm evaluator.
func (s *Service) sampleTick(ctx context.Context) error {
	var readings device.ReadingsDocument
	hasReadings := s.stateStore.Read(ctx, state.KeyReadings, &readings) == nil
	var control model.ControlState
	hasControl := s.stateStore.Read(ctx, state.KeyControlState, &control) == nil

	s.mu.Lock()
	if hasControl {
		s.loadBuf.add(control.TotalLoadKW)
		s.solarBuf.add(control.TotalSolarKW)
		s.lastControl = control
	}
	if hasReadings {
		s.lastReadings = readings
	}
	s.mu.Unlock()

	if !hasReadings && !hasControl {
		return nil
	}
	return s.runAlarmEvaluator(ctx, readings, control)
}

func (s *Service) runAlarmEvaluator(ctx context.Context, readings device.ReadingsDocument, control model.ControlState) error {
	snap := alarm.Snapshot{Readings: readings, Control: control}
	lookup := storeActiveLookup{ctx: ctx, store: s.localStore, siteID: s.siteID}

	result, err := s.evaluator.Evaluate(snap, lookup, time.Now())
	if err != nil {
		return err
	}

	for _, fired := range result.Fired {
		if err := s.persistTriggeredAlarm(ctx, fired); err != nil {
			s.log.WithError(err).Warn("logging: failed to persist triggered alarm")
		}
	}
	for _, resolved := range result.Resolved {
		if err := s.autoResolve(ctx, resolved); err != nil {
			s.log.WithError(err).Warn("logging: failed to auto-resolve alarm")
		}
	}
	return nil
}

func (s *Service) persistTriggeredAlarm(ctx context.Context, fired model.TriggeredAlarm) error {
	var deviceID *string
	if fired.DeviceID != "" {
		deviceID = &fired.DeviceID
	}
	row := store.AlarmRow{
		ID:              uuid.NewString(),
		AlarmUUID:       uuid.NewString(),
		SiteID:          s.siteID,
		AlarmType:       fired.AlarmType,
		DeviceID:        deviceID,
		Message:         fired.Message,
		Condition:       fired.Condition,
		Severity:        string(fired.Severity),
		Timestamp:       fired.Timestamp.UTC().Format(time.RFC3339),
		ControllerOwned: true,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.localStore.InsertAlarm(ctx, row); err != nil {
		return err
	}

	if s.cloudEng != nil && (fired.Severity == model.SeverityCritical || fired.Severity == model.SeverityMajor) {
		if _, err := s.cloudEng.SyncAlarms(ctx); err != nil {
			s.log.WithError(err).Debug("logging: immediate cloud upload of critical/major alarm failed, will retry on next sync tick")
		}
	}
	return nil
}

func (s *Service) autoResolve(ctx context.Context, resolved alarm.ResolvedAlarm) error {
	row, err := s.localStore.ActiveAlarm(ctx, s.siteID, resolved.AlarmType, resolved.DeviceID)
	if err != nil || row == nil {
		return err
	}
	resolvedAt := time.Now().UTC().Format(time.RFC3339)
	if err := s.localStore.ResolveAlarm(ctx, row.ID, resolvedAt); err != nil {
		return err
	}
	if s.cloudEng != nil {
		if err := s.cloudEng.PushResolution(ctx, resolved.AlarmType, resolved.DeviceID, resolvedAt); err != nil {
			s.log.WithError(err).Debug("logging: cloud push of auto-resolution failed, reverse-sync will reconcile later")
		}
	}
	return nil
}

// flushTick is the T2 tick: write one control_logs row (instantaneous plus
// windowed min/max) and one device_readings row per currently-known
// register, then reset the T1 window.
func (s *Service) flushTick(ctx context.Context) error {
	s.mu.Lock()
	loadMin, _, loadMax, haveLoad := s.loadBuf.stats()
	solarMin, _, solarMax, haveSolar := s.solarBuf.stats()
	control := s.lastControl
	readings := s.lastReadings
	s.loadBuf.reset()
	s.solarBuf.reset()
	s.mu.Unlock()

	if !haveLoad {
		loadMin, loadMax = control.TotalLoadKW, control.TotalLoadKW
	}
	if !haveSolar {
		solarMin, solarMax = control.TotalSolarKW, control.TotalSolarKW
	}

	now := time.Now().UTC()
	aligned := model.Align(now, s.defaultBucketSeconds)

	logRow := store.ControlLogRow{
		ID:               uuid.NewString(),
		Timestamp:        aligned.Format(time.RFC3339),
		SiteID:           s.siteID,
		TotalLoadKW:      control.TotalLoadKW,
		LoadMin:          loadMin,
		LoadMax:          loadMax,
		SolarOutputKW:    control.TotalSolarKW,
		SolarMin:         solarMin,
		SolarMax:         solarMax,
		DGPowerKW:        control.TotalGeneratorKW,
		SolarLimitPct:    control.SolarLimitPct,
		SolarLimitKW:     control.SolarLimitKW,
		SafeModeActive:   control.SafeModeActive,
		ConfigMode:       control.OperationMode,
		OperationMode:    control.OperationMode,
		LoadMetersOnline: control.LoadMetersOnline,
		InvertersOnline:  control.InvertersOnline,
		GeneratorsOnline: control.GeneratorsOnline,
		ExecutionTimeMS:  control.ExecutionTimeMS,
		CreatedAt:        now.Format(time.RFC3339),
	}
	if err := s.localStore.InsertControlLog(ctx, logRow); err != nil {
		return err
	}

	return s.flushDeviceReadings(ctx, readings, aligned, now)
}

func (s *Service) flushDeviceReadings(ctx context.Context, readings device.ReadingsDocument, aligned, now time.Time) error {
	if len(readings.Devices) == 0 {
		return nil
	}
	var rows []store.DeviceReadingRow
	for deviceID, snap := range readings.Devices {
		if !snap.Online {
			continue
		}
		for name, reading := range snap.Readings {
			rows = append(rows, store.DeviceReadingRow{
				ID:           uuid.NewString(),
				SiteID:       s.siteID,
				DeviceID:     deviceID,
				RegisterName: name,
				Value:        reading.Value,
				Unit:         reading.Unit,
				Timestamp:    aligned.Format(time.RFC3339),
				Source:       "live",
				CreatedAt:    now.Format(time.RFC3339),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return s.localStore.InsertDeviceReadings(ctx, rows)
}

func (s *Service) syncReadingsTick(ctx context.Context) error {
	_, err := s.cloudEng.SyncReadings(ctx, s.bucketSeconds, s.defaultBucketSeconds)
	s.reconcileCloudHealthAlarm(ctx)
	return err
}

func (s *Service) syncControlAlarmsTick(ctx context.Context) error {
	_, err := s.cloudEng.SyncControlLogs(ctx)
	if err != nil {
		s.log.WithError(err).Debug("logging: control_logs sync failed")
	}
	_, err = s.cloudEng.SyncAlarms(ctx)
	s.reconcileCloudHealthAlarm(ctx)
	return err
}

// reconcileCloudHealthAlarm raises/resolves the synthetic CLOUD_SYNC_OFFLINE
// alarm from the cloud engine's health tracking.
func (s *Service) reconcileCloudHealthAlarm(ctx context.Context) {
	if s.cloudEng == nil {
		return
	}
	health := s.cloudEng.Health()
	active, err := s.localStore.ActiveAlarm(ctx, s.siteID, cloudSyncOfflineAlarmType, "")
	if err != nil {
		return
	}

	if health.Offline && active == nil {
		_ = s.localStore.InsertAlarm(ctx, store.AlarmRow{
			ID:              uuid.NewString(),
			AlarmUUID:       uuid.NewString(),
			SiteID:          s.siteID,
			AlarmType:       cloudSyncOfflineAlarmType,
			Message:         "cloud sync has not succeeded in over an hour",
			Condition:       "now - last_successful_sync > 1h",
			Severity:        string(model.SeverityMajor),
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
			ControllerOwned: true,
			CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if !health.Offline && active != nil {
		resolvedAt := time.Now().UTC().Format(time.RFC3339)
		if err := s.localStore.ResolveAlarm(ctx, active.ID, resolvedAt); err == nil {
			_ = s.cloudEng.PushResolution(ctx, cloudSyncOfflineAlarmType, "", resolvedAt)
		}
	}
}

func (s *Service) resyncTick(ctx context.Context) error {
	_, err := s.cloudEng.ResyncResolvedAlarms(ctx, s.controllerOwned)
	return err
}

func (s *Service) retentionTick(ctx context.Context) error {
	_, err := s.localStore.RunRetention(ctx, s.retentionDays*24)
	return err
}

// storeActiveLookup adapts *store.Store to alarm.ActiveAlarmLookup for one
// evaluator call, binding the tick's context and site id.
type storeActiveLookup struct {
	ctx    context.Context
	store  *store.Store
	siteID string
}

func (l storeActiveLookup) HasActive(alarmType, deviceID string) (bool, error) {
	row, err := l.store.ActiveAlarm(l.ctx, l.siteID, alarmType, deviceID)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}
