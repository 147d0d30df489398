// Package config loads daemon configuration from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/evse-monitor/internal/gfi"
	"github.com/sweeney/evse-monitor/internal/hal"
)

// EnvPrefix prefixes derived environment keys, e.g. EVSE_GFI_VARIANT.
const EnvPrefix = "EVSE"

// Config is the complete daemon configuration.
type Config struct {
	GFI       GFIConfig     `yaml:"gfi"`
	Energy    EnergyConfig  `yaml:"energy"`
	Storage   StorageConfig `yaml:"storage"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	HTTP      HTTPConfig    `yaml:"http"`
	Log       LogConfig     `yaml:"log"`
	PollMs    int64         `yaml:"poll_ms"`
	Heartbeat int64         `yaml:"heartbeat_ms"`
	Watchdog  string        `yaml:"watchdog"`
}

// GFIConfig selects the sense module and its wiring.
type GFIConfig struct {
	Variant  string `yaml:"variant"`
	LineHz   int    `yaml:"line_hz"`
	Chip     string `yaml:"chip"`
	PinSense int    `yaml:"pin_sense"`
	PinTest  int    `yaml:"pin_test"`
	PinCal   int    `yaml:"pin_cal"`

	// SettleMs overrides the variant's post-test settle delay; negative
	// keeps the variant default.
	SettleMs       int  `yaml:"settle_ms"`
	SelfTestOnBoot bool `yaml:"selftest_on_boot"`
}

// EnergyConfig tunes the energy meter.
type EnergyConfig struct {
	CalcIntervalMs      int64 `yaml:"calc_interval_ms"`
	ThreePhase          bool  `yaml:"three_phase"`
	Offset              int   `yaml:"offset"`
	SkipFirstRelayCycle bool  `yaml:"skip_first_relay_cycle"`
}

// StorageConfig selects where the energy total is persisted.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // file, redis or memory
	Path          string `yaml:"path"`
	Size          int    `yaml:"size"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// HTTPConfig configures the status server. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GFI: GFIConfig{
			Variant:  gfi.VariantCT,
			LineHz:   60,
			Chip:     "gpiochip0",
			PinSense: hal.DefaultPinSense,
			PinTest:  hal.DefaultPinTest,
			PinCal:   hal.DefaultPinCal,
			SettleMs: -1,
		},
		Energy: EnergyConfig{
			CalcIntervalMs:      1000,
			SkipFirstRelayCycle: true,
		},
		Storage: StorageConfig{
			Backend:     BackendFile,
			Path:        "/var/lib/evse-monitor/nv.bin",
			Size:        256,
			RedisPrefix: "evse:nv",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "evse-monitor",
			TopicPrefix: "evse",
		},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Log:       LogConfig{Level: "info"},
		PollMs:    100,
		Heartbeat: 15 * 60 * 1000,
	}
}

// Load returns the defaults overlaid with the YAML file at path (optional,
// empty skips it) and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := populateFromEnv(reflect.ValueOf(&cfg).Elem(), EnvPrefix); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if _, err := c.Variant(); err != nil {
		return err
	}
	if c.PollMs <= 0 {
		return errors.New("config: poll_ms must be positive")
	}
	if c.Energy.CalcIntervalMs <= 0 {
		return errors.New("config: energy.calc_interval_ms must be positive")
	}
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for the file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return errors.New("config: storage.redis_addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Size < 4 || c.Energy.Offset < 0 || c.Energy.Offset+4 > c.Storage.Size {
		return errors.New("config: energy.offset does not fit in storage.size")
	}
	return nil
}

// Variant resolves the sense-module profile, applying the settle override.
func (c Config) Variant() (gfi.Variant, error) {
	v, err := gfi.LookupVariant(c.GFI.Variant, c.GFI.LineHz)
	if err != nil {
		return gfi.Variant{}, err
	}
	if c.GFI.SettleMs >= 0 {
		v.SettleDelay = time.Duration(c.GFI.SettleMs) * time.Millisecond
	}
	return v, nil
}

// Poll returns the control-cycle interval.
func (c Config) Poll() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat interval; zero disables it.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat) * time.Millisecond
}

func loadFromFile(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}

	return nil
}

// populateFromEnv overrides fields from the environment. Keys are the
// prefix joined with the field's yaml name, upper-cased; an `env` tag
// names the key explicitly.
func populateFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fieldVal := v.Field(i)
		fieldType := t.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		rawKey := fieldType.Tag.Get("env")
		if rawKey == "-" {
			continue
		}

		var envKey string
		if rawKey != "" {
			envKey = normalizeKey("", rawKey)
		} else {
			name := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
			if name == "" {
				name = fieldType.Name
			}
			envKey = normalizeKey(prefix, name)
		}

		if fieldVal.Kind() == reflect.Struct {
			if err := populateFromEnv(fieldVal, envKey); err != nil {
				return err
			}
			continue
		}

		if val, ok := os.LookupEnv(envKey); ok {
			if err := assign(fieldVal, val); err != nil {
				return fmt.Errorf("config: parse %s: %w", envKey, err)
			}
		}
	}
	return nil
}

func normalizeKey(prefix, key string) string {
	key = strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s_%s", prefix, key)
}

func assign(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(parsed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(parsed)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type().String())
	}
	return nil
}
