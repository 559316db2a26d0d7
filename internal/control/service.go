package control

import (
	"context"
	"time"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/config"
	"github.com/volteria/controller-core/internal/control/safemode"
	"github.com/volteria/controller-core/internal/device"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/scheduler"
	"github.com/volteria/controller-core/internal/state"
)

// DefaultInterval is used when a site configuration omits control_interval_ms
const DefaultInterval = time.Second

// Service is the Control Service: each cycle it reads the
// device service's published aggregates, runs the selected operation mode,
// consults the safe-mode supervisor, and enqueues the resulting write
// commands back to the device service.
type Service struct {
	store *state.Store
	log   *applog.Logger

	mode       Mode
	modeID     string
	safePolicy safemode.Policy
	safeLimit  float64 // kW, applied while safe mode is active

	interval time.Duration

	reporter *httphealth.Reporter
	sched    *scheduler.Scheduler

	lastState model.ControlState
}

// New builds the Control Service from the loaded site configuration.
func New(cfg *config.SiteConfig, store *state.Store, log *applog.Logger) *Service {
	interval := time.Duration(cfg.ControlIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = DefaultInterval
	}

	safeLimit := cfg.SafeMode.PowerLimitKW

	return &Service{
		store:      store,
		log:        log,
		mode:       NewMode(cfg.ModeSettings, log),
		modeID:     cfg.OperationMode,
		safePolicy: safemode.NewPolicy(cfg.SafeMode),
		safeLimit:  safeLimit,
		interval:   interval,
		reporter:   httphealth.NewReporter("control"),
	}
}

// Reporter exposes the service's health reporter.
func (s *Service) Reporter() *httphealth.Reporter { return s.reporter }

// Start runs the control cycle until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.reporter.SetExtraFunc(s.healthExtra)
	s.reporter.SetStatus(httphealth.StatusHealthy)

	s.sched = scheduler.New("control-cycle", s.interval, s.tick)
	s.sched.Start(ctx)
	s.reporter.SetStatus(httphealth.StatusStopped)
	return nil
}

// Stop halts the control cycle cooperatively.
func (s *Service) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
}

func (s *Service) healthExtra() map[string]any {
	return map[string]any{
		"operation_mode":   s.modeID,
		"safe_mode_active": s.lastState.SafeModeActive,
	}
}

// tick runs one control cycle.
func (s *Service) tick(ctx context.Context) error {
	start := time.Now()

	var readings device.ReadingsDocument
	if err := s.store.Read(ctx, state.KeyReadings, &readings); err != nil {
		// No readings published yet; nothing to act on this cycle.
		return nil
	}

	agg := readings.Aggregate

	in := Input{
		TotalLoadKW:         agg.TotalLoadKW,
		TotalSolarKW:        agg.TotalSolarKW,
		TotalGeneratorKW:    agg.TotalGeneratorKW,
		TotalInverterKW:     agg.TotalInverterKW,
		HasLoadMeterReading: agg.HasLoadMeterReading,
		HasGeneratorReading: agg.HasGeneratorReading,
		LoadMetersOnline:    agg.LoadMetersOnline,
		InvertersOnline:     agg.InvertersOnline,
		GeneratorsOnline:    agg.GeneratorsOnline,
	}

	safeState := s.evaluateSafeMode(ctx, readings, agg)
	_ = s.store.Write(ctx, state.KeySafeModeState, safeState)

	var out Output
	var err error
	if safeState.Active {
		limitKW := clampKW(s.safeLimit, 0, agg.TotalInverterKW)
		out = Output{
			SolarLimitKW:  limitKW,
			SolarLimitPct: percentOfCapacity(limitKW, agg.TotalInverterKW),
			LoadSource:    "safe_mode",
			Actions:       Actions{WriteSolarLimit: true},
		}
	} else {
		out, err = s.mode.Calculate(in)
		if err != nil {
			// Missing input: hold the previous published state rather than
			// writing a fabricated limit.
			s.log.WithError(err).Debug("control: no fresh estimate this cycle, holding prior output")
			return nil
		}
	}

	if out.Actions.WriteSolarLimit {
		if err := device.EnqueueWrite(ctx, s.store, device.VirtualControllerDeviceID, "solar_limit_pct", out.SolarLimitPct); err != nil {
			s.log.WithError(err).Warn("control: failed to enqueue solar limit write")
		}
	}
	if out.Actions.WriteReactiveSetpoint && out.ReactiveSetpointKVAR != nil {
		if err := device.EnqueueWrite(ctx, s.store, device.VirtualControllerDeviceID, "reactive_setpoint_kvar", *out.ReactiveSetpointKVAR); err != nil {
			s.log.WithError(err).Warn("control: failed to enqueue reactive setpoint write")
		}
	}
	if out.Actions.WriteBatteryDischarge && out.BatteryDischargeKW != nil {
		if err := device.EnqueueWrite(ctx, s.store, device.VirtualControllerDeviceID, "battery_discharge_kw", *out.BatteryDischargeKW); err != nil {
			s.log.WithError(err).Warn("control: failed to enqueue battery discharge write")
		}
	}

	cs := model.ControlState{
		Timestamp:          time.Now(),
		TotalLoadKW:        agg.TotalLoadKW,
		TotalSolarKW:       agg.TotalSolarKW,
		TotalGeneratorKW:   agg.TotalGeneratorKW,
		LoadMetersOnline:   agg.LoadMetersOnline,
		InvertersOnline:    agg.InvertersOnline,
		GeneratorsOnline:   agg.GeneratorsOnline,
		OperationMode:      s.modeID,
		SafeModeActive:     safeState.Active,
		SafeModeReason:     safeState.Reason,
		SolarLimitPct:      out.SolarLimitPct,
		SolarLimitKW:       out.SolarLimitKW,
		LoadSource:         out.LoadSource,
		ReactiveSetpoint:   out.ReactiveSetpointKVAR,
		BatteryDischargeKW: out.BatteryDischargeKW,
		ExecutionTimeMS:    time.Since(start).Milliseconds(),
		// Optimistic: the device service hasn't drained/verified this
		// cycle's write commands yet. It flips this back to false in place
		// on state.KeyControlState if write-verify fails.
		WriteSuccess: true,
	}
	s.lastState = cs
	return s.store.Write(ctx, state.KeyControlState, cs)
}

// evaluateSafeMode consults the configured safe-mode policy, folding in any
// external trigger set by the supervisor.
func (s *Service) evaluateSafeMode(ctx context.Context, readings device.ReadingsDocument, agg model.AggregatedReading) safemode.State {
	now := time.Now()

	devices := make([]safemode.DeviceSnapshot, 0, len(readings.Devices))
	for id, snap := range readings.Devices {
		var offlineFor time.Duration
		if !snap.Online && !snap.Status.LastSeen.IsZero() {
			offlineFor = now.Sub(snap.Status.LastSeen)
		}
		devices = append(devices, safemode.DeviceSnapshot{
			DeviceID:        id,
			Online:          snap.Online,
			OfflineDuration: offlineFor,
		})
	}

	var override struct {
		Active      bool   `json:"active"`
		Reason      string `json:"reason"`
		TriggeredBy string `json:"triggered_by"`
	}
	if err := s.store.ReadFresh(ctx, state.KeySafeModeOverride, &override); err == nil && override.Active {
		// The supervisor declared an override after exhausting its restart
		// policy on a critical service; it stays active until
		// cleared externally, bypassing the normal policy evaluation.
		return safemode.State{Active: true, Reason: override.Reason}
	}

	external := ""
	var trigger struct {
		Service string `json:"service"`
	}
	if err := s.store.ReadFresh(ctx, state.KeySafeModeTrigger, &trigger); err == nil {
		external = trigger.Service
	}

	return s.safePolicy.Evaluate(safemode.Input{
		Now:             now,
		Devices:         devices,
		LoadKW:          agg.TotalLoadKW,
		SolarKW:         agg.TotalSolarKW,
		ExternalTrigger: external,
	})
}
