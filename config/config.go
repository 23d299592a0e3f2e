package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis"
	"github.com/ardnew/softtpm/tis/hal"
	"github.com/ardnew/softtpm/tis/hal/mmio"
)

// Transport kinds.
const (
	KindSim  = "sim"
	KindMMIO = "mmio"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config describes one TIS chip and how to reach it.
type Config struct {
	Name      string
	Variant   tis.Variant
	Timeouts  tis.Timeouts
	VendorDB  string
	Transport Transport
	Log       Log
}

// Transport selects the register transport.
type Transport struct {
	Kind   string
	Device string
	Base   uint64
	Size   int
}

// Log holds logging settings.
type Log struct {
	Level  string
	Format string
}

type fileConfig struct {
	Name         string        `toml:"name"`
	Variant      string        `toml:"variant"`
	PCRCount     int           `toml:"pcr_count"`
	PCRSelectMin int           `toml:"pcr_select_min"`
	VendorDB     string        `toml:"vendor_db"`
	Timeouts     fileTimeouts  `toml:"timeouts"`
	Transport    fileTransport `toml:"transport"`
	Log          fileLog       `toml:"log"`
}

type fileTimeouts struct {
	A string `toml:"a"`
	B string `toml:"b"`
	C string `toml:"c"`
	D string `toml:"d"`
}

type fileTransport struct {
	Kind   string `toml:"kind"`
	Device string `toml:"device"`
	Base   uint64 `toml:"base"`
	Size   int    `toml:"size"`
}

type fileLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration of a standard TIS chip at the
// conventional physical address.
func Default() Config {
	return Config{
		Name:     tis.DefaultVariant.Name,
		Variant:  tis.DefaultVariant,
		Timeouts: tis.DefaultTimeouts,
		Transport: Transport{
			Kind:   KindMMIO,
			Device: mmio.DefaultDevice,
			Base:   hal.DefaultBaseAddress,
			Size:   hal.WindowSize,
		},
		Log: Log{
			Level:  "warn",
			Format: FormatText,
		},
	}
}

// Load reads the TOML file at path over [Default]. Keys absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		pkg.LogWarn(pkg.ComponentCLI, "unknown config keys ignored", "path", path, "keys", fmt.Sprint(undecoded))
	}

	if meta.IsDefined("variant") {
		cfg.Variant.Name = strings.TrimSpace(raw.Variant)
		cfg.Name = cfg.Variant.Name
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("pcr_count") {
		cfg.Variant.PCRCount = raw.PCRCount
	}
	if meta.IsDefined("pcr_select_min") {
		cfg.Variant.PCRSelectMin = raw.PCRSelectMin
	}
	if meta.IsDefined("vendor_db") {
		cfg.VendorDB = strings.TrimSpace(raw.VendorDB)
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"a", raw.Timeouts.A, &cfg.Timeouts.A},
		{"b", raw.Timeouts.B, &cfg.Timeouts.B},
		{"c", raw.Timeouts.C, &cfg.Timeouts.C},
		{"d", raw.Timeouts.D, &cfg.Timeouts.D},
	} {
		if !meta.IsDefined("timeouts", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeouts.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("transport", "kind") {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if meta.IsDefined("transport", "device") {
		cfg.Transport.Device = strings.TrimSpace(raw.Transport.Device)
	}
	if meta.IsDefined("transport", "base") {
		cfg.Transport.Base = raw.Transport.Base
	}
	if meta.IsDefined("transport", "size") {
		cfg.Transport.Size = raw.Transport.Size
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting in c.
func (c Config) Validate() error {
	var errs []error
	if c.Variant.Name == "" {
		errs = append(errs, fmt.Errorf("%w: empty variant", pkg.ErrInvalidParameter))
	}
	if c.Variant.PCRCount <= 0 {
		errs = append(errs, fmt.Errorf("%w: pcr_count %d", pkg.ErrInvalidParameter, c.Variant.PCRCount))
	}
	if c.Variant.PCRSelectMin <= 0 || c.Variant.PCRSelectMin*8 < c.Variant.PCRCount {
		errs = append(errs, fmt.Errorf("%w: pcr_select_min %d cannot select %d PCRs",
			pkg.ErrInvalidParameter, c.Variant.PCRSelectMin, c.Variant.PCRCount))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"a", c.Timeouts.A}, {"b", c.Timeouts.B}, {"c", c.Timeouts.C}, {"d", c.Timeouts.D},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%w: timeouts.%s is negative", pkg.ErrInvalidParameter, d.name))
		}
	}

	switch c.Transport.Kind {
	case KindSim:
	case KindMMIO:
		if c.Transport.Size < 0 || c.Transport.Size > hal.WindowSize {
			errs = append(errs, fmt.Errorf("%w: transport size 0x%x", pkg.ErrInvalidParameter, c.Transport.Size))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: transport kind %q", pkg.ErrInvalidParameter, c.Transport.Kind))
	}

	if _, ok := pkg.ParseLogLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("%w: log level %q", pkg.ErrInvalidParameter, c.Log.Level))
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("%w: log format %q", pkg.ErrInvalidParameter, c.Log.Format))
	}
	return errors.Join(errs...)
}

// ChipOptions returns the tis options that apply c.
func (c Config) ChipOptions() []tis.Option {
	return []tis.Option{
		tis.WithVariant(c.Variant),
		tis.WithName(c.Name),
		tis.WithTimeouts(c.Timeouts),
	}
}

// ApplyLogging configures the package logger from c.Log.
func (c Config) ApplyLogging() {
	if level, ok := pkg.ParseLogLevel(c.Log.Level); ok {
		pkg.SetLogLevel(level)
	}
	if c.Log.Format == FormatJSON {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	} else {
		pkg.SetLogFormat(pkg.LogFormatText)
	}
}
