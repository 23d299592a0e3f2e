package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/retry.v1"

	"github.com/ardnew/softtpm/config"
	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/pkg/tpmid"
	"github.com/ardnew/softtpm/tis"
	"github.com/ardnew/softtpm/tis/hal"
	"github.com/ardnew/softtpm/tis/hal/mmio"
	"github.com/ardnew/softtpm/tis/hal/sim"
	"github.com/ardnew/softtpm/tpmdev"
)

// device is an initialized chip and the transport beneath it.
type device struct {
	cfg       config.Config
	chip      *tis.Chip
	sim       *sim.Chip
	transport hal.Transport
	closer    func() error
}

func (o *globalOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		var err error
		if cfg, err = config.Load(o.Config); err != nil {
			return config.Config{}, err
		}
	}
	if o.Sim {
		cfg.Transport.Kind = config.KindSim
	}
	if o.JSON {
		cfg.Log.Format = config.FormatJSON
	}
	cfg.ApplyLogging()

	switch len(o.Verbose) {
	case 0:
	case 1:
		pkg.SetLogLevel(zerolog.InfoLevel)
	default:
		pkg.SetLogLevel(zerolog.DebugLevel)
	}
	return cfg, nil
}

// open builds the configured transport and initializes a chip on it.
func (o *globalOptions) open() (*device, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}

	d := &device{cfg: cfg, closer: func() error { return nil }}
	opts := cfg.ChipOptions()

	switch cfg.Transport.Kind {
	case config.KindSim:
		d.sim = sim.NewChip(nil)
		d.transport = d.sim
		opts = append(opts, tis.WithClock(d.sim.Clock()))
	case config.KindMMIO:
		m, err := mmio.Open(cfg.Transport.Device, cfg.Transport.Base, cfg.Transport.Size)
		if err != nil {
			return nil, err
		}
		d.transport = m
		d.closer = m.Close
	default:
		return nil, fmt.Errorf("%w: transport kind %q", pkg.ErrInvalidParameter, cfg.Transport.Kind)
	}

	if d.chip, err = tis.New(d.transport, opts...); err != nil {
		return nil, errors.Join(err, d.closer())
	}
	if err := d.chip.Init(); err != nil {
		return nil, errors.Join(err, d.closer())
	}
	pkg.LogDebug(component, "chip ready", "transport", fmt.Sprint(d.transport), "name", d.chip.Name())
	return d, nil
}

// tpmdevOptions paces TCTI retries on the simulator's clock when there is
// one.
func (d *device) tpmdevOptions() []tpmdev.Option {
	if d.sim == nil {
		return nil
	}
	var clock retry.Clock = d.sim.Clock()
	return []tpmdev.Option{tpmdev.WithClock(clock)}
}

func (d *device) tcti() *tpmdev.TCTI {
	return tpmdev.New(d.chip, d.tpmdevOptions()...)
}

func (d *device) vendors() *tpmid.Database {
	var paths []string
	if d.cfg.VendorDB != "" {
		paths = []string{d.cfg.VendorDB}
	}
	db := tpmid.NewWithPaths(paths)
	if len(paths) == 0 {
		return db
	}
	if ok, err := db.Load(); err != nil {
		pkg.LogWarn(component, "vendor database unreadable", "error", err)
	} else if !ok {
		pkg.LogWarn(component, "vendor database not found", "path", d.cfg.VendorDB)
	}
	return db
}

// Close quiesces the chip and releases the transport.
func (d *device) Close() error {
	return errors.Join(d.chip.Cleanup(), d.chip.Close(), d.closer())
}
