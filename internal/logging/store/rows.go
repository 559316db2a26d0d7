package store

// ControlLogRow is one row of the control_logs table.
type ControlLogRow struct {
	ID                  string  `db:"id"`
	Timestamp           string  `db:"timestamp"`
	SiteID              string  `db:"site_id"`
	TotalLoadKW         float64 `db:"total_load_kw"`
	LoadMin             float64 `db:"load_min"`
	LoadMax             float64 `db:"load_max"`
	SolarOutputKW       float64 `db:"solar_output_kw"`
	SolarMin            float64 `db:"solar_min"`
	SolarMax            float64 `db:"solar_max"`
	DGPowerKW           float64 `db:"dg_power_kw"`
	SolarLimitPct       float64 `db:"solar_limit_pct"`
	SolarLimitKW        float64 `db:"solar_limit_kw"`
	SafeModeActive      bool    `db:"safe_mode_active"`
	ConfigMode          string  `db:"config_mode"`
	OperationMode       string  `db:"operation_mode"`
	LoadMetersOnline    int     `db:"load_meters_online"`
	InvertersOnline     int     `db:"inverters_online"`
	GeneratorsOnline    int     `db:"generators_online"`
	ExecutionTimeMS     int64   `db:"execution_time_ms"`
	DeviceReadingsJSON  string  `db:"device_readings_json"`
	SyncedAt            *string `db:"synced_at"`
	CreatedAt           string  `db:"created_at"`
}

// AlarmRow is one row of the alarms table.
type AlarmRow struct {
	ID              string  `db:"id"`
	AlarmUUID       string  `db:"alarm_uuid"`
	SiteID          string  `db:"site_id"`
	AlarmType       string  `db:"alarm_type"`
	DeviceID        *string `db:"device_id"`
	DeviceName      *string `db:"device_name"`
	Message         string  `db:"message"`
	Condition       string  `db:"condition"`
	Severity        string  `db:"severity"`
	Timestamp       string  `db:"timestamp"`
	Acknowledged    bool    `db:"acknowledged"`
	AcknowledgedBy  *string `db:"acknowledged_by"`
	AcknowledgedAt  *string `db:"acknowledged_at"`
	Resolved        bool    `db:"resolved"`
	ResolvedAt      *string `db:"resolved_at"`
	ControllerOwned bool    `db:"controller_owned"`
	SyncedAt        *string `db:"synced_at"`
	CreatedAt       string  `db:"created_at"`
}

// DeviceReadingRow is one row of the device_readings table.
type DeviceReadingRow struct {
	ID           string  `db:"id"`
	SiteID       string  `db:"site_id"`
	DeviceID     string  `db:"device_id"`
	RegisterName string  `db:"register_name"`
	Value        float64 `db:"value"`
	Unit         string  `db:"unit"`
	Timestamp    string  `db:"timestamp"`
	Source       string  `db:"source"`
	SyncedAt     *string `db:"synced_at"`
	CreatedAt    string  `db:"created_at"`
}
