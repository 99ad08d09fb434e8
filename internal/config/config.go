// ABOUTME: Configuration for the playclock server and follower
// ABOUTME: Viper-backed loading with defaults, PLAYCLOCK_ env overrides and validation
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playback"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is prepended to environment overrides, e.g. PLAYCLOCK_SERVER_PORT.
const EnvPrefix = "PLAYCLOCK"

// RootClock names the tree root created by the driver.
const RootClock = "root"

// Config is the full playclock configuration.
type Config struct {
	Driver DriverConfig  `mapstructure:"driver" yaml:"driver"`
	Clocks []ClockConfig `mapstructure:"clocks" yaml:"clocks,omitempty"`
	Server ServerConfig  `mapstructure:"server" yaml:"server"`
	Log    LogConfig     `mapstructure:"log" yaml:"log"`
}

// DriverConfig selects how the master clock advances.
type DriverConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
	// Start is empty for "now", an integer of microseconds or an RFC 3339 time.
	Start        string        `mapstructure:"start" yaml:"start,omitempty"`
	Step         time.Duration `mapstructure:"step" yaml:"step"`
	Scale        float64       `mapstructure:"scale" yaml:"scale"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	ForwardDelay time.Duration `mapstructure:"forward_delay" yaml:"forward_delay"`
}

// ClockConfig declares one node of the clock tree. An empty parent means
// the root. A nil rate means 1/1.
type ClockConfig struct {
	Name    string     `mapstructure:"name" yaml:"name"`
	Parent  string     `mapstructure:"parent" yaml:"parent,omitempty"`
	Rate    *frac.Frac `mapstructure:"rate" yaml:"rate,omitempty"`
	Playing bool       `mapstructure:"playing" yaml:"playing"`
}

// ServerConfig controls the websocket server.
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	Name         string        `mapstructure:"name" yaml:"name"`
	MDNS         bool          `mapstructure:"mdns" yaml:"mdns"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	Metrics      bool          `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

// NewViper returns a viper instance carrying defaults and env bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver.mode", "realtime")
	v.SetDefault("driver.start", "")
	v.SetDefault("driver.step", 40*time.Millisecond)
	v.SetDefault("driver.scale", 1.0)
	v.SetDefault("driver.interval", 40*time.Millisecond)
	v.SetDefault("driver.forward_delay", 50*time.Millisecond)

	v.SetDefault("server.port", 8927)
	v.SetDefault("server.name", "playclock")
	v.SetDefault("server.mdns", true)
	v.SetDefault("server.tick_interval", time.Duration(0))
	v.SetDefault("server.metrics", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads path (or the first playclock.yaml found in the working
// directory or the user config directory when path is empty) into a
// validated Config. A missing default file is not an error. A nil v gets
// NewViper.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("playclock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "playclock"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem in c, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	mode, err := playback.ParseMode(c.Driver.Mode)
	if err != nil {
		problems = append(problems, fmt.Errorf("driver.mode: %w", err))
	}
	if _, _, err := c.Driver.StartMicros(); err != nil {
		problems = append(problems, fmt.Errorf("driver.start: %w", err))
	}
	if mode == playback.ModeStepping && c.Driver.Step.Microseconds() == 0 {
		add("driver.step must be at least 1µs in stepping mode, got %s", c.Driver.Step)
	}
	if math.IsNaN(c.Driver.Scale) || math.IsInf(c.Driver.Scale, 0) {
		add("driver.scale must be finite, got %v", c.Driver.Scale)
	}
	if mode != playback.ModeManual && c.Driver.Interval <= 0 {
		add("driver.interval must be positive, got %s", c.Driver.Interval)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.TickInterval < 0 {
		add("server.tick_interval must not be negative, got %s", c.Server.TickInterval)
	}

	if _, err := orderClocks(c.Clocks); err != nil {
		problems = append(problems, err)
	}
	for _, cc := range c.Clocks {
		if cc.Rate != nil && cc.Rate.IsNaN() {
			add("clocks.%s.rate must not be 0/0", cc.Name)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
}

// StartMicros resolves Start. The boolean is false when the driver should
// begin at the current time.
func (d DriverConfig) StartMicros() (int64, bool, error) {
	s := strings.TrimSpace(d.Start)
	if s == "" || s == "now" {
		return 0, false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false, fmt.Errorf("%q is neither microseconds nor an RFC 3339 time", d.Start)
	}
	return t.UnixMicro(), true, nil
}

// Playback converts the driver section into a playback.Config. The caller
// fills in clocks and the logger.
func (d DriverConfig) Playback() (playback.Config, error) {
	mode, err := playback.ParseMode(d.Mode)
	if err != nil {
		return playback.Config{}, err
	}
	start, hasStart, err := d.StartMicros()
	if err != nil {
		return playback.Config{}, err
	}
	return playback.Config{
		Mode:         mode,
		Start:        start,
		HasStart:     hasStart,
		Step:         d.Step.Microseconds(),
		Scale:        d.Scale,
		ForwardDelay: d.ForwardDelay,
	}, nil
}

// Marshal renders c as YAML.
func Marshal(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
