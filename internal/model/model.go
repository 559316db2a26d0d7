// Package model defines the controller's validated data model.
// Types here are parsed once at the edges (config load, Modbus decode,
// cloud decode) per Design Note 1 — everything downstream consumes these
// typed structures, never untyped maps.
package model

import "time"

// DeviceCategory classifies a Device's role on site.
type DeviceCategory string

const (
	CategoryInverter  DeviceCategory = "inverter"
	CategoryLoadMeter DeviceCategory = "load_meter"
	CategoryGenerator DeviceCategory = "generator"
	CategorySensor    DeviceCategory = "sensor"
	CategoryOther     DeviceCategory = "other"
)

// TransportKind selects which of the three Modbus transports a Device uses.
type TransportKind string

const (
	TransportTCP        TransportKind = "tcp"
	TransportRTUGateway TransportKind = "rtu_gateway"
	TransportRTUDirect  TransportKind = "rtu_direct"
)

// Transport describes how to reach a device's Modbus endpoint.
type Transport struct {
	Kind TransportKind

	// TCP / RTU-over-gateway.
	Host string
	Port int

	// RTU-direct.
	SerialPort string
	BaudRate   int
	Parity     string // "N", "E", "O"
	StopBits   int
	DataBits   int
}

// PoolKey returns the connection-pool key for this transport: (host,port)
// for network transports, the serial path for RTU-direct.
func (t Transport) PoolKey() string {
	if t.Kind == TransportRTUDirect {
		return t.SerialPort
	}
	return t.Host + ":" + itoa(t.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RegisterKind distinguishes Modbus function codes from derived values.
type RegisterKind string

const (
	RegisterHolding RegisterKind = "holding"
	RegisterInput   RegisterKind = "input"
	RegisterVirtual RegisterKind = "virtual"
)

// Encoding names the wire representation of a register's value.
type Encoding string

const (
	EncodingUint16  Encoding = "uint16"
	EncodingInt16   Encoding = "int16"
	EncodingUint32  Encoding = "uint32"
	EncodingInt32   Encoding = "int32"
	EncodingFloat32 Encoding = "float32"
	EncodingFloat64 Encoding = "float64"
	EncodingString  Encoding = "string"
)

// WordCount returns how many 16-bit Modbus registers this encoding spans.
// N is only meaningful for EncodingString, where it's the register's
// configured WordCount.
func (e Encoding) WordCount(n int) int {
	switch e {
	case EncodingUint16, EncodingInt16:
		return 1
	case EncodingUint32, EncodingInt32, EncodingFloat32:
		return 2
	case EncodingFloat64:
		return 4
	case EncodingString:
		if n <= 0 {
			return 1
		}
		return n
	default:
		return 1
	}
}

// Access controls whether a register may be read, written, or both.
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
)

// ScaleOrder selects whether scale or offset is applied first.
type ScaleOrder string

const (
	ScaleThenOffset ScaleOrder = "multiply_then_add"
	OffsetThenScale ScaleOrder = "add_then_multiply"
)

// Apply converts a raw decoded numeric value into engineering units.
func (o ScaleOrder) Apply(raw, scale, offset float64) float64 {
	if o == OffsetThenScale {
		return (raw + offset) * scale
	}
	return raw*scale + offset
}

// Register describes one addressable Modbus (or virtual) value on a Device.
type Register struct {
	Address         uint16
	Name            string
	Kind            RegisterKind
	Encoding        Encoding
	Access          Access
	Scale           float64
	Offset          float64
	ScaleOrder      ScaleOrder
	Unit            string
	WordCount       int // only used for EncodingString
	PollPeriodMS    int
	LoggingCadenceS float64
	RoleTag         string // e.g. "solar_active_power", "load_active_power"
	ValidMin        *float64
	ValidMax        *float64
	Enum            map[int]string
	Bitmask         map[int]string
}

// EffectiveScale returns Scale, defaulting to 1 when unset (zero value).
func (r Register) EffectiveScale() float64 {
	if r.Scale == 0 {
		return 1
	}
	return r.Scale
}

// InRange reports whether v falls within the register's configured validity
// range. A register with no configured bounds accepts everything.
func (r Register) InRange(v float64) bool {
	if r.ValidMin != nil && v < *r.ValidMin {
		return false
	}
	if r.ValidMax != nil && v > *r.ValidMax {
		return false
	}
	return true
}

// Device is a stable, immutable-per-config-version field device.
type Device struct {
	ID            string
	Name          string
	Category      DeviceCategory
	Transport     Transport
	SlaveID       byte
	RatedPowerKW  *float64
	Registers     []Register
}

// RegisterByName returns the named register and whether it exists.
func (d Device) RegisterByName(name string) (Register, bool) {
	for _, r := range d.Registers {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}

// Provenance tags whether a Reading came from a live poll or a backfilled
// cloud-sync pass.
type Provenance string

const (
	ProvenanceLive     Provenance = "live"
	ProvenanceBackfill Provenance = "backfill"
)

// Reading is one (device, register) value sample, timestamp-aligned to
// the register's logging cadence. String registers (firmware/serial
// identifiers and the like) populate StringValue instead of Value and set
// IsString; Value stays at its zero value for those samples.
type Reading struct {
	DeviceID     string
	RegisterName string
	Value        float64
	StringValue  string
	IsString     bool
	Unit         string
	Timestamp    time.Time
	Provenance   Provenance
}

// DeviceStatus tracks per-device liveness as maintained by the device
// manager.
type DeviceStatus struct {
	DeviceID            string
	Online              bool
	LastSeen            time.Time
	ConsecutiveFailures int
	LastError           string
	NextRetry           time.Time
	BackoffWindow       time.Duration
}

// AggregatedReading is the site-level rollup computed from online devices'
// role-tagged registers.
type AggregatedReading struct {
	Timestamp          time.Time
	TotalLoadKW        float64
	TotalSolarKW       float64
	TotalGeneratorKW   float64
	LoadMetersOnline   int
	InvertersOnline    int
	GeneratorsOnline   int
	TotalInverterKW    float64 // Σ rated capacity of online inverters
	HasLoadMeterReading bool
	HasGeneratorReading bool
}

// ControlState is the single overwritten-each-cycle control document
type ControlState struct {
	Timestamp         time.Time
	TotalLoadKW       float64
	TotalSolarKW      float64
	TotalGeneratorKW  float64
	LoadMetersOnline  int
	InvertersOnline   int
	GeneratorsOnline  int
	OperationMode     string
	SafeModeActive    bool
	SafeModeReason    string
	SolarLimitPct     float64
	SolarLimitKW      float64
	LoadSource        string
	ReactiveSetpoint  *float64
	BatteryDischargeKW *float64
	ExecutionTimeMS   int64
	WriteSuccess      bool
}

// Severity ranks an alarm condition's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpNE  Operator = "!="
)

// Evaluate applies the operator to (value, threshold).
func (op Operator) Evaluate(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNE:
		return value != threshold
	default:
		return false
	}
}

// Condition is one threshold test within an AlarmDefinition, evaluated in
// declaration order.
type Condition struct {
	Operator  Operator
	Threshold float64
	Severity  Severity
	Message   string
}

// AlarmSourceKind selects what an AlarmDefinition reads its value from.
type AlarmSourceKind string

const (
	SourceRegister     AlarmSourceKind = "register"
	SourceDeviceInfo   AlarmSourceKind = "device_info"
	SourceCalculated   AlarmSourceKind = "calculated"
	SourceHeartbeat    AlarmSourceKind = "heartbeat"
)

// AlarmSource identifies where an AlarmDefinition reads its evaluated value.
type AlarmSource struct {
	Kind         AlarmSourceKind
	RegisterName string
	FieldName    string
	DeviceID     string // optional device binding
}

// AlarmDefinition is a configured threshold alarm.
type AlarmDefinition struct {
	ID              string
	Name            string
	Source          AlarmSource
	Conditions      []Condition
	CooldownSeconds int
	Enabled         bool
	// ControllerOwned marks threshold/operational alarms the controller
	// auto-resolves; these are excluded from cloud reverse-sync to avoid an oscillation loop.
	ControllerOwned bool
}

// TriggeredAlarm is one instance of an alarm firing. Resolved is
// monotonic: once true it is never reset back to false on the same record.
type TriggeredAlarm struct {
	ID           string
	DefinitionID string
	AlarmType    string
	Severity     Severity
	Message      string
	Condition    string
	DeviceID     string
	Timestamp    time.Time
	Resolved     bool
	ResolvedAt   *time.Time
	SyncedAt     *time.Time
}
