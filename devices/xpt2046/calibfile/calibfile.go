// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package calibfile persists a XPT2046 wiring and calibration in a TOML file.
//
// A calibration is slow to acquire and specific to a panel, so tools save it
// once and reload it at startup. Watch reloads the file when it is edited.
package calibfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/touch/devices/xpt2046"
)

// File is the content of a calibration file.
type File struct {
	Device      Device      `toml:"device"`
	Calibration Calibration `toml:"calibration"`
}

// Device describes how the controller is wired.
type Device struct {
	// SPI is the port name in spireg. Empty selects the first port.
	SPI string `toml:"spi"`
	// IRQ is the pen interrupt pin name in gpioreg.
	IRQ string `toml:"irq"`
	// CS is an optional chip select pin name in gpioreg.
	CS           string `toml:"cs"`
	FrequencyKHz int64  `toml:"frequency_khz"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	MaxSamples   int    `toml:"max_samples"`
	Filter       string `toml:"filter"`
	SwapXY       bool   `toml:"swap_xy"`
	MinPressure  uint16 `toml:"min_pressure"`
}

// Calibration is a serialized xpt2046.Calibration.
type Calibration struct {
	// Valid is false until the panel was calibrated.
	Valid bool `toml:"valid"`
	X     Axis `toml:"x"`
	Y     Axis `toml:"y"`
}

// Axis is a serialized xpt2046.Coefficients.
type Axis struct {
	Alpha float64 `toml:"alpha"`
	Beta  float64 `toml:"beta"`
	Delta float64 `toml:"delta"`
}

// Default returns the content written when no file exists.
func Default() *File {
	o := &xpt2046.DefaultOpts
	return &File{
		Device: Device{
			IRQ:          "GPIO17",
			FrequencyKHz: int64(o.Frequency / physic.KiloHertz),
			Width:        o.Width,
			Height:       o.Height,
			MaxSamples:   o.MaxSamples,
			Filter:       o.Filter.String(),
		},
	}
}

// Opts returns the driver options described by d.
//
// Fields not covered by the file keep the values of xpt2046.DefaultOpts.
func (d *Device) Opts() (xpt2046.Opts, error) {
	o := xpt2046.DefaultOpts
	if d.FrequencyKHz != 0 {
		o.Frequency = physic.Frequency(d.FrequencyKHz) * physic.KiloHertz
	}
	if d.Width != 0 || d.Height != 0 {
		o.Width, o.Height = d.Width, d.Height
	}
	if d.MaxSamples != 0 {
		o.MaxSamples = d.MaxSamples
	}
	f, err := xpt2046.ParseFilter(d.Filter)
	if err != nil {
		return o, err
	}
	o.Filter = f
	o.SwapXY = d.SwapXY
	o.MinPressure = d.MinPressure
	return o, nil
}

// FromCalibration serializes c.
func FromCalibration(c xpt2046.Calibration) Calibration {
	return Calibration{
		Valid: true,
		X:     Axis{Alpha: c.X.Alpha, Beta: c.X.Beta, Delta: c.X.Delta},
		Y:     Axis{Alpha: c.Y.Alpha, Beta: c.Y.Beta, Delta: c.Y.Delta},
	}
}

// Calibration returns the driver calibration.
func (c *Calibration) Calibration() xpt2046.Calibration {
	return xpt2046.Calibration{
		X: xpt2046.Coefficients{Alpha: c.X.Alpha, Beta: c.X.Beta, Delta: c.X.Delta},
		Y: xpt2046.Coefficients{Alpha: c.Y.Alpha, Beta: c.Y.Beta, Delta: c.Y.Delta},
	}
}

// Read decodes the file at path.
func Read(path string) (*File, error) {
	f := Default()
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("calibfile: %w", err)
	}
	if u := md.Undecoded(); len(u) != 0 {
		return nil, fmt.Errorf("calibfile: %s: unknown key %q", path, u[0].String())
	}
	return f, nil
}

// Load reads the file at path, creating it with Default() when missing.
func Load(path string) (*File, error) {
	f, err := Read(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f = Default()
	if err := Save(path, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Save writes f to path, creating the parent directory as needed.
//
// The content is written to a temporary file first so watchers never see a
// partial file.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("calibfile: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("calibfile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(f); err != nil {
		tmp.Close()
		return fmt.Errorf("calibfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("calibfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("calibfile: %w", err)
	}
	return nil
}
