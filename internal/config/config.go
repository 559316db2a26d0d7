// Package config loads the site configuration: a YAML document
// read from one of several conventional paths, overridable via environment
// variables and periodically refreshed from the cloud. The load/override
// shape is adapted directly from pkg/config.Load — godotenv
// for local .env files, envdecode for struct-tag env overrides, yaml.v3 for
// the file itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/volteria/controller-core/internal/model"
)

// conventional search paths, checked in order, first existing file wins
var defaultPaths = []string{
	"/etc/volteria/config.yaml",
	"./config.yaml",
	"./configs/config.yaml",
}

// OperationModeKind names one of the four supported control strategies
type OperationModeKind string

const (
	ModeZeroGeneratorFeed OperationModeKind = "zero_generator_feed"
	ModeZeroDGPowerFactor OperationModeKind = "zero_dg_power_factor"
	ModeZeroDGReactive    OperationModeKind = "zero_dg_reactive"
	ModePeakShaving       OperationModeKind = "peak_shaving"

	// legacyZeroDGReverse is the pre-rename alias for ModeZeroGeneratorFeed,
	// preserved so existing site configs keep working (DESIGN.md Open
	// Question #1).
	legacyZeroDGReverse = "zero_dg_reverse"
)

// normalizeModeKind maps legacy aliases onto their current name.
func normalizeModeKind(raw string) OperationModeKind {
	if raw == legacyZeroDGReverse {
		return ModeZeroGeneratorFeed
	}
	return OperationModeKind(raw)
}

// ZeroGeneratorFeedSettings parameterizes ModeZeroGeneratorFeed.
type ZeroGeneratorFeedSettings struct {
	DGReserveKW float64 `yaml:"dg_reserve_kw" json:"dg_reserve_kw"`
}

// ZeroDGPowerFactorSettings parameterizes ModeZeroDGPowerFactor.
type ZeroDGPowerFactorSettings struct {
	TargetPowerFactor float64 `yaml:"target_power_factor" json:"target_power_factor"`
}

// ZeroDGReactiveSettings parameterizes ModeZeroDGReactive.
type ZeroDGReactiveSettings struct {
	MaxReactiveKVAR float64 `yaml:"max_reactive_kvar" json:"max_reactive_kvar"`
}

// PeakShavingSettings parameterizes ModePeakShaving.
type PeakShavingSettings struct {
	PeakThresholdKW float64 `yaml:"peak_threshold_kw" json:"peak_threshold_kw"`
	ReserveSOCPct   float64 `yaml:"reserve_soc_pct" json:"reserve_soc_pct"`
}

// ModeSettings is the tagged union of per-mode parameters (Design Note 2):
// exactly one of these is populated, selected by Kind.
type ModeSettings struct {
	Kind OperationModeKind `yaml:"-" json:"-"`

	ZeroGeneratorFeed *ZeroGeneratorFeedSettings `yaml:"zero_generator_feed,omitempty" json:"zero_generator_feed,omitempty"`
	ZeroDGPowerFactor *ZeroDGPowerFactorSettings `yaml:"zero_dg_power_factor,omitempty" json:"zero_dg_power_factor,omitempty"`
	ZeroDGReactive    *ZeroDGReactiveSettings    `yaml:"zero_dg_reactive,omitempty" json:"zero_dg_reactive,omitempty"`
	PeakShaving       *PeakShavingSettings       `yaml:"peak_shaving,omitempty" json:"peak_shaving,omitempty"`
}

// SafeModePolicyKind selects which safe-mode trigger policy is active
type SafeModePolicyKind string

const (
	SafeModeTimeBased      SafeModePolicyKind = "time_based"
	SafeModeRollingAverage SafeModePolicyKind = "rolling_average"
)

// SafeModePolicyConfig configures the active safe-mode trigger policy.
type SafeModePolicyConfig struct {
	Kind           SafeModePolicyKind `yaml:"kind" json:"kind"`
	TimeoutS       int                `yaml:"timeout_s" json:"timeout_s"`
	WindowMinutes  int                `yaml:"window_minutes" json:"window_minutes"`
	RatioThreshold float64            `yaml:"ratio_threshold_pct" json:"ratio_threshold_pct"`
	MinSamples     int                `yaml:"min_samples" json:"min_samples"`
	PowerLimitKW   float64            `yaml:"power_limit_kw" json:"power_limit_kw"`
}

// LoggingConfig controls the three-tier logging pipeline cadences
type LoggingConfig struct {
	DefaultCadenceS    float64 `yaml:"default_cadence_s" json:"default_cadence_s"`
	CloudSyncIntervalS float64 `yaml:"cloud_sync_interval_s" json:"cloud_sync_interval_s"`
	AlarmSyncIntervalS float64 `yaml:"alarm_sync_interval_s" json:"alarm_sync_interval_s"`
	RetentionDays      int     `yaml:"retention_days" json:"retention_days"`
}

// DeviceConfig is the YAML-level device declaration, translated into
// model.Device during Normalize.
type DeviceConfig struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	Category     string           `yaml:"category" json:"category"`
	Transport    TransportConfig  `yaml:"transport" json:"transport"`
	SlaveID      int              `yaml:"slave_id" json:"slave_id"`
	RatedPowerKW *float64         `yaml:"rated_power_kw,omitempty" json:"rated_power_kw,omitempty"`
	Registers    []RegisterConfig `yaml:"registers" json:"registers"`
}

// TransportConfig is the YAML-level transport declaration.
type TransportConfig struct {
	Kind       string `yaml:"kind" json:"kind"`
	Host       string `yaml:"host,omitempty" json:"host,omitempty"`
	Port       int    `yaml:"port,omitempty" json:"port,omitempty"`
	SerialPort string `yaml:"serial_port,omitempty" json:"serial_port,omitempty"`
	BaudRate   int    `yaml:"baud_rate,omitempty" json:"baud_rate,omitempty"`
	Parity     string `yaml:"parity,omitempty" json:"parity,omitempty"`
	StopBits   int    `yaml:"stop_bits,omitempty" json:"stop_bits,omitempty"`
	DataBits   int    `yaml:"data_bits,omitempty" json:"data_bits,omitempty"`
}

// RegisterConfig is the YAML-level register declaration.
type RegisterConfig struct {
	Address         uint16         `yaml:"address" json:"address"`
	Name            string         `yaml:"name" json:"name"`
	Kind            string         `yaml:"kind" json:"kind"`
	Encoding        string         `yaml:"encoding" json:"encoding"`
	Access          string         `yaml:"access" json:"access"`
	Scale           float64        `yaml:"scale" json:"scale"`
	Offset          float64        `yaml:"offset" json:"offset"`
	ScaleOrder      string         `yaml:"scale_order" json:"scale_order"`
	Unit            string         `yaml:"unit" json:"unit"`
	WordCount       int            `yaml:"word_count,omitempty" json:"word_count,omitempty"`
	PollPeriodMS    int            `yaml:"poll_period_ms" json:"poll_period_ms"`
	LoggingCadenceS float64        `yaml:"logging_cadence_s" json:"logging_cadence_s"`
	RoleTag         string         `yaml:"role_tag,omitempty" json:"role_tag,omitempty"`
	ValidMin        *float64       `yaml:"valid_min,omitempty" json:"valid_min,omitempty"`
	ValidMax        *float64       `yaml:"valid_max,omitempty" json:"valid_max,omitempty"`
	Enum            map[int]string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Bitmask         map[int]string `yaml:"bitmask,omitempty" json:"bitmask,omitempty"`
}

// AlarmDefConfig is the YAML-level alarm definition declaration.
type AlarmDefConfig struct {
	ID              string                 `yaml:"id" json:"id"`
	Name            string                 `yaml:"name" json:"name"`
	Source          AlarmSourceConfig      `yaml:"source" json:"source"`
	Conditions      []AlarmConditionConfig `yaml:"conditions" json:"conditions"`
	CooldownSeconds int                    `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	Enabled         bool                   `yaml:"enabled" json:"enabled"`
	ControllerOwned bool                   `yaml:"controller_owned" json:"controller_owned"`
}

// AlarmSourceConfig is the YAML-level alarm source declaration.
type AlarmSourceConfig struct {
	Kind         string `yaml:"kind" json:"kind"`
	RegisterName string `yaml:"register_name,omitempty" json:"register_name,omitempty"`
	FieldName    string `yaml:"field_name,omitempty" json:"field_name,omitempty"`
	DeviceID     string `yaml:"device_id,omitempty" json:"device_id,omitempty"`
}

// AlarmConditionConfig is the YAML-level alarm condition declaration.
type AlarmConditionConfig struct {
	Operator  string  `yaml:"operator" json:"operator"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Severity  string  `yaml:"severity" json:"severity"`
	Message   string  `yaml:"message" json:"message"`
}

// SiteConfig is the top-level site configuration document. The embedded env-tagged fields are populated by
// envdecode; the rest comes from YAML and/or the cloud override document.
type SiteConfig struct {
	SiteID    string    `yaml:"site_id" json:"site_id"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`

	ControllerID   string `yaml:"controller_id" json:"controller_id"`
	HardwareTypeID string `yaml:"hardware_type_id" json:"hardware_type_id"`

	OperationMode     string       `yaml:"operation_mode" json:"operation_mode"`
	ModeSettings      ModeSettings `yaml:"mode_settings" json:"mode_settings"`
	ControlIntervalMS int          `yaml:"control_interval_ms" json:"control_interval_ms"`

	Devices  []DeviceConfig       `yaml:"devices" json:"devices"`
	Logging  LoggingConfig        `yaml:"logging" json:"logging"`
	SafeMode SafeModePolicyConfig `yaml:"safe_mode_policy" json:"safe_mode_policy"`
	Alarms   []AlarmDefConfig     `yaml:"alarms" json:"alarms"`

	StateDir          string `yaml:"-" json:"-" env:"VOLTERIA_STATE_DIR"`
	SupabaseURL       string `yaml:"-" json:"-" env:"SUPABASE_URL"`
	SupabaseServiceKey string `yaml:"-" json:"-" env:"SUPABASE_SERVICE_KEY"`
	LogLevel          string `yaml:"-" json:"-" env:"VOLTERIA_LOG_LEVEL"`
	LogFormat         string `yaml:"-" json:"-" env:"VOLTERIA_LOG_FORMAT"`
}

// New returns a SiteConfig populated with defaults.
func New() *SiteConfig {
	return &SiteConfig{
		OperationMode:     string(ModeZeroGeneratorFeed),
		ControlIntervalMS: 1000,
		ModeSettings: ModeSettings{
			Kind:              ModeZeroGeneratorFeed,
			ZeroGeneratorFeed: &ZeroGeneratorFeedSettings{DGReserveKW: 0},
		},
		Logging: LoggingConfig{
			DefaultCadenceS:    5,
			CloudSyncIntervalS: 180,
			AlarmSyncIntervalS: 120,
			RetentionDays:      3,
		},
		SafeMode: SafeModePolicyConfig{
			Kind:     SafeModeTimeBased,
			TimeoutS: 60,
		},
		StateDir: "/var/lib/volteria",
	}
}

// Load resolves a SiteConfig from the first existing conventional path (or
// VOLTERIA_CONFIG_FILE if set), then applies environment overrides.
func Load() (*SiteConfig, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("VOLTERIA_CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		for _, p := range defaultPaths {
			if err := loadFromFile(p, cfg); err != nil {
				return nil, err
			}
			if _, statErr := os.Stat(p); statErr == nil {
				break
			}
		}
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}

	cfg.normalize()
	if errs := cfg.Validate(); len(errs) > 0 {
		return cfg, &ValidationErrors{Errors: errs}
	}
	return cfg, nil
}

// LoadFile reads a SiteConfig from a single YAML file without consulting
// the conventional search path or environment.
func LoadFile(path string) (*SiteConfig, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *SiteConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// normalize applies the legacy mode-name alias and fills derived fields.
func (c *SiteConfig) normalize() {
	c.OperationMode = string(normalizeModeKind(c.OperationMode))
	c.ModeSettings.Kind = OperationModeKind(c.OperationMode)
}

// ToDevice converts a YAML device declaration into the validated model type.
func (d DeviceConfig) ToDevice() model.Device {
	regs := make([]model.Register, 0, len(d.Registers))
	for _, r := range d.Registers {
		regs = append(regs, model.Register{
			Address:         r.Address,
			Name:            r.Name,
			Kind:            model.RegisterKind(r.Kind),
			Encoding:        model.Encoding(r.Encoding),
			Access:          model.Access(r.Access),
			Scale:           r.Scale,
			Offset:          r.Offset,
			ScaleOrder:      model.ScaleOrder(r.ScaleOrder),
			Unit:            r.Unit,
			WordCount:       r.WordCount,
			PollPeriodMS:    r.PollPeriodMS,
			LoggingCadenceS: r.LoggingCadenceS,
			RoleTag:         r.RoleTag,
			ValidMin:        r.ValidMin,
			ValidMax:        r.ValidMax,
			Enum:            r.Enum,
			Bitmask:         r.Bitmask,
		})
	}
	return model.Device{
		ID:           d.ID,
		Name:         d.Name,
		Category:     model.DeviceCategory(d.Category),
		RatedPowerKW: d.RatedPowerKW,
		SlaveID:      byte(d.SlaveID),
		Registers:    regs,
		Transport: model.Transport{
			Kind:       model.TransportKind(d.Transport.Kind),
			Host:       d.Transport.Host,
			Port:       d.Transport.Port,
			SerialPort: d.Transport.SerialPort,
			BaudRate:   d.Transport.BaudRate,
			Parity:     d.Transport.Parity,
			StopBits:   d.Transport.StopBits,
			DataBits:   d.Transport.DataBits,
		},
	}
}

// ToAlarmDefinition converts a YAML alarm declaration into the model type.
func (a AlarmDefConfig) ToAlarmDefinition() model.AlarmDefinition {
	conds := make([]model.Condition, 0, len(a.Conditions))
	for _, c := range a.Conditions {
		conds = append(conds, model.Condition{
			Operator:  model.Operator(c.Operator),
			Threshold: c.Threshold,
			Severity:  model.Severity(c.Severity),
			Message:   c.Message,
		})
	}
	return model.AlarmDefinition{
		ID:   a.ID,
		Name: a.Name,
		Source: model.AlarmSource{
			Kind:         model.AlarmSourceKind(a.Source.Kind),
			RegisterName: a.Source.RegisterName,
			FieldName:    a.Source.FieldName,
			DeviceID:     a.Source.DeviceID,
		},
		Conditions:      conds,
		CooldownSeconds: a.CooldownSeconds,
		Enabled:         a.Enabled,
		ControllerOwned: a.ControllerOwned,
	}
}

// ModelDevices converts every configured device into model types.
func (c *SiteConfig) ModelDevices() []model.Device {
	out := make([]model.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		out = append(out, d.ToDevice())
	}
	return out
}

// ModelAlarms converts every configured alarm definition into model types.
func (c *SiteConfig) ModelAlarms() []model.AlarmDefinition {
	out := make([]model.AlarmDefinition, 0, len(c.Alarms))
	for _, a := range c.Alarms {
		out = append(out, a.ToAlarmDefinition())
	}
	return out
}
