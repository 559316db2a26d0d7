package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/volteria/controller-core/internal/apperr"
	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/modbus"
	"github.com/volteria/controller-core/internal/modbus/pool"
	"github.com/volteria/controller-core/internal/scheduler"
	"github.com/volteria/controller-core/internal/state"
)

// PollTick is the fixed poll-loop cadence.
const PollTick = 100 * time.Millisecond

// DeviceSnapshot is one device's online status and latest per-register
// readings, as published in ReadingsDocument.
type DeviceSnapshot struct {
	DeviceID string                     `json:"device_id"`
	Online   bool                       `json:"online"`
	Readings map[string]model.Reading   `json:"readings"`
	Status   model.DeviceStatus         `json:"status"`
}

// ReadingsDocument is the shared-state payload published under
// state.KeyReadings every poll tick.
type ReadingsDocument struct {
	Devices    map[string]DeviceSnapshot `json:"devices"`
	Aggregate  model.AggregatedReading   `json:"aggregate"`
	Controller map[string]model.Reading  `json:"controller_readings"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// WriteCommand is one pending register write enqueued by the control
// service and drained by the device service on its own tick.
type WriteCommand struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	RegisterName string    `json:"register_name"`
	Value        float64   `json:"value"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// WriteCommandsDocument is the shared-state payload at state.KeyWriteCommands.
type WriteCommandsDocument struct {
	Commands []WriteCommand `json:"commands"`
}

// Service is the Device Service.
type Service struct {
	devices []model.Device
	byID    map[string]model.Device

	manager *Manager
	reader  *modbus.Reader
	writer  *modbus.Writer
	pool    *pool.Pool
	store   *state.Store
	log     *applog.Logger

	mu          sync.Mutex
	readings    map[string]map[string]model.Reading // deviceID -> register -> reading
	nextDue     map[string]map[string]time.Time     // deviceID -> register -> next poll time

	reporter *httphealth.Reporter
	sched    *scheduler.Scheduler
}

// New builds a device Service for the given configured devices.
func New(devices []model.Device, p *pool.Pool, store *state.Store, log *applog.Logger) *Service {
	byID := make(map[string]model.Device, len(devices))
	nextDue := make(map[string]map[string]time.Time, len(devices))
	readings := make(map[string]map[string]model.Reading, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
		nextDue[d.ID] = make(map[string]time.Time)
		readings[d.ID] = make(map[string]model.Reading)
	}

	return &Service{
		devices:  devices,
		byID:     byID,
		manager:  NewManager(devices),
		reader:   modbus.NewReader(p),
		writer:   modbus.NewWriter(p),
		pool:     p,
		store:    store,
		log:      log,
		readings: readings,
		nextDue:  nextDue,
		reporter: httphealth.NewReporter("device"),
	}
}

// Reporter exposes the service's health reporter for wiring into an
// httphealth.Server.
func (s *Service) Reporter() *httphealth.Reporter { return s.reporter }

// Start runs the poll loop until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.reporter.SetExtraFunc(s.healthExtra)
	s.reporter.SetStatus(httphealth.StatusHealthy)

	s.sched = scheduler.New("device-poll", PollTick, s.tick)
	s.sched.Start(ctx)
	s.reporter.SetStatus(httphealth.StatusStopped)
	return nil
}

// Stop halts the poll loop cooperatively.
func (s *Service) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
	_ = s.pool.CloseAll()
}

func (s *Service) healthExtra() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	onlineCount := 0
	for _, st := range s.manager.AllStatuses() {
		if st.Online {
			onlineCount++
		}
	}
	return map[string]any{
		"device_count":   len(s.devices),
		"devices_online": onlineCount,
	}
}

// tick is the per-100ms poll+write-drain callback driven by the scheduler.
func (s *Service) tick(ctx context.Context) error {
	s.drainWriteCommands(ctx)

	now := time.Now()
	for _, dev := range s.devices {
		if !s.manager.ShouldPoll(dev.ID) {
			continue
		}

		due := s.dueRegisters(dev, now)
		if len(due) == 0 {
			continue
		}

		results, connFailed := s.reader.ReadDevice(ctx, dev, due)
		s.applyResults(dev, results, connFailed)
	}

	s.publish(ctx)
	return nil
}

// dueRegisters returns the subset of dev's registers whose poll-period
// deadline has passed, advancing each one's next-due timestamp. Registers
// whose deadline has already passed are polled at most once per tick.
func (s *Service) dueRegisters(dev model.Device, now time.Time) []model.Register {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]model.Register, 0, len(dev.Registers))
	nextDue := s.nextDue[dev.ID]
	for _, reg := range dev.Registers {
		if reg.Kind == model.RegisterVirtual || reg.Access == model.AccessWrite {
			continue
		}
		period := time.Duration(reg.PollPeriodMS) * time.Millisecond
		if period <= 0 {
			period = PollTick
		}
		nd, ok := nextDue[reg.Name]
		if ok && now.Before(nd) {
			continue
		}
		due = append(due, reg)
		nextDue[reg.Name] = now.Add(period)
	}
	return due
}

// applyResults updates manager liveness and the in-memory reading cache
// from one device's poll results.
func (s *Service) applyResults(dev model.Device, results []modbus.ReadResult, connFailed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anySuccess := false
	for _, res := range results {
		if res.Err == nil && res.HasValue {
			anySuccess = true
			s.readings[dev.ID][res.Register.Name] = model.Reading{
				DeviceID:     dev.ID,
				RegisterName: res.Register.Name,
				Value:        res.Value,
				StringValue:  res.StringValue,
				IsString:     res.Register.Encoding == model.EncodingString,
				Unit:         res.Register.Unit,
				Timestamp:    model.Align(time.Now(), res.Register.LoggingCadenceS),
				Provenance:   model.ProvenanceLive,
			}
		}
	}

	if connFailed {
		errMsg := "device connection failed this cycle"
		for _, res := range results {
			if res.Err != nil {
				errMsg = res.Err.Error()
				break
			}
		}
		s.log.WithField("device_id", dev.ID).WithField("error", errMsg).Warn("device poll: connection failed, skipping remaining registers")
		wentOffline := s.manager.RecordFailure(dev.ID, errMsg)
		if wentOffline || !s.manager.IsOnline(dev.ID) {
			// Offline readings must not re-stamp a stale value as "now"
			s.readings[dev.ID] = make(map[string]model.Reading)
		}
		return
	}

	if anySuccess {
		s.manager.RecordSuccess(dev.ID)
	}

	for _, res := range results {
		if res.Err != nil {
			s.log.WithField("device_id", dev.ID).
				WithField("register", res.Register.Name).
				WithError(res.Err).
				Debug("register read failed")
		}
	}
}

// publish recomputes site aggregates and writes the full readings document
// to shared state.
func (s *Service) publish(ctx context.Context) {
	s.mu.Lock()
	snapshots := make([]Snapshot, 0, len(s.devices))
	docDevices := make(map[string]DeviceSnapshot, len(s.devices))
	for _, dev := range s.devices {
		online := s.manager.IsOnline(dev.ID)
		readings := s.readings[dev.ID]
		snapshots = append(snapshots, Snapshot{Device: dev, Online: online, Readings: readings})
		st, _ := s.manager.Status(dev.ID)
		docDevices[dev.ID] = DeviceSnapshot{
			DeviceID: dev.ID,
			Online:   online,
			Readings: copyReadings(readings),
			Status:   st,
		}
	}
	s.mu.Unlock()

	now := time.Now()
	agg := Aggregate(snapshots, now)
	doc := ReadingsDocument{
		Devices:    docDevices,
		Aggregate:  agg,
		Controller: ControllerReadings(agg),
		UpdatedAt:  now,
	}

	if err := s.store.Write(ctx, state.KeyReadings, doc); err != nil {
		s.log.WithError(err).Warn("device service: failed to publish readings")
	}
}

func copyReadings(in map[string]model.Reading) map[string]model.Reading {
	out := make(map[string]model.Reading, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// drainWriteCommands consumes every pending write command from shared
// state and applies it via the Modbus writer, clearing the queue whether
// or not individual writes succeed.
func (s *Service) drainWriteCommands(ctx context.Context) {
	var doc WriteCommandsDocument
	if err := s.store.ReadFresh(ctx, state.KeyWriteCommands, &doc); err != nil {
		return
	}
	if len(doc.Commands) == 0 {
		return
	}

	for _, cmd := range doc.Commands {
		dev, ok := s.byID[cmd.DeviceID]
		if !ok {
			continue
		}
		reg, ok := dev.RegisterByName(cmd.RegisterName)
		if !ok {
			continue
		}
		if err := s.writer.WriteVerify(ctx, dev, reg, cmd.Value); err != nil {
			s.log.WithField("device_id", cmd.DeviceID).
				WithField("register", cmd.RegisterName).
				WithError(err).
				Warn("write command failed verification")
			if apperr.Is(err, apperr.CodeCommandNotTaken) {
				s.enqueueCommandNotTakenAlert(ctx, cmd, err)
				s.markWriteFailed(ctx)
			}
		}
	}

	_ = s.store.Write(ctx, state.KeyWriteCommands, WriteCommandsDocument{})
}

// enqueueCommandNotTakenAlert appends a pending alert document for the
// logging/alarm pipeline to pick up.
func (s *Service) enqueueCommandNotTakenAlert(ctx context.Context, cmd WriteCommand, err error) {
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
		Type:      "CommandNotTaken",
		DeviceID:  cmd.DeviceID,
		Message:   fmt.Sprintf("write verify failed for %s.%s: %v", cmd.DeviceID, cmd.RegisterName, err),
		Severity:  string(model.SeverityCritical),
		Timestamp: time.Now().UTC(),
	})
	_ = s.store.Write(ctx, state.KeyPendingAlerts, doc)
}

// markWriteFailed reconciles the published control state's WriteSuccess
// flag after a write-verify mismatch. The control service publishes its
// ControlState optimistically (write_success=true) before this service has
// drained and verified the corresponding write command; this corrects that
// document in place once a write is known to have failed.
func (s *Service) markWriteFailed(ctx context.Context) {
	var cs model.ControlState
	err := s.store.Update(ctx, state.KeyControlState, &cs, func() error {
		cs.WriteSuccess = false
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("device service: failed to reconcile control state write_success")
	}
}

// EnqueueWrite appends a write command to shared state; used by the control
// service.
func EnqueueWrite(ctx context.Context, store *state.Store, deviceID, registerName string, value float64) error {
	var doc WriteCommandsDocument
	_ = store.ReadFresh(ctx, state.KeyWriteCommands, &doc)
	doc.Commands = append(doc.Commands, WriteCommand{
		ID:           uuid.NewString(),
		DeviceID:     deviceID,
		RegisterName: registerName,
		Value:        value,
		EnqueuedAt:   time.Now(),
	})
	return store.Write(ctx, state.KeyWriteCommands, doc)
}
