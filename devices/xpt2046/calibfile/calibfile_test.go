// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package calibfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/touch/devices/xpt2046"
)

func TestLoad_createsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "xpt2046.toml")
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), f); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, again); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestSave_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xpt2046.toml")
	c := xpt2046.Calibration{
		X: xpt2046.Coefficients{Alpha: 0.078, Beta: -0.001, Delta: -12.5},
		Y: xpt2046.Coefficients{Alpha: 0.0005, Beta: 0.061, Delta: -8},
	}
	f := Default()
	f.Device.SPI = "SPI0.0"
	f.Device.CS = "GPIO8"
	f.Device.SwapXY = true
	f.Calibration = FromCalibration(c)
	if err := Save(path, f); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(c, got.Calibration.Calibration()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if !got.Calibration.Valid {
		t.Fatal("expected valid calibration")
	}
}

func TestRead_invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[device\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(bad); err == nil {
		t.Fatal("expected syntax error")
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("Load must not overwrite an invalid file")
	}
	unknown := filepath.Join(dir, "unknown.toml")
	if err := os.WriteFile(unknown, []byte("[device]\nspeed = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(unknown); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestDevice_Opts(t *testing.T) {
	d := Device{FrequencyKHz: 1000, Width: 480, Height: 320, MaxSamples: 16, Filter: "trimmed", SwapXY: true, MinPressure: 300}
	o, err := d.Opts()
	if err != nil {
		t.Fatal(err)
	}
	if o.Frequency != physic.MegaHertz || o.Width != 480 || o.Height != 320 || o.MaxSamples != 16 {
		t.Fatalf("%#v", o)
	}
	if o.Filter != xpt2046.FilterTrimmedMean || !o.SwapXY || o.MinPressure != 300 {
		t.Fatalf("%#v", o)
	}
	if o.Settle != xpt2046.DefaultOpts.Settle {
		t.Fatal(o.Settle)
	}
	d.Filter = "median"
	if _, err := d.Opts(); err == nil {
		t.Fatal("expected error")
	}
	def := Default()
	o, err = def.Device.Opts()
	if err != nil {
		t.Fatal(err)
	}
	if o.Frequency != xpt2046.DefaultOpts.Frequency || o.Width != 320 || o.Height != 240 {
		t.Fatalf("%#v", o)
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xpt2046.toml")
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}
	type result struct {
		f   *File
		err error
	}
	ch := make(chan result, 16)
	w, err := Watch(path, func(f *File, err error) { ch <- result{f, err} })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	f := Default()
	f.Calibration = FromCalibration(xpt2046.Calibration{X: xpt2046.Coefficients{Alpha: 2}})
	if err := Save(path, f); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-ch:
			if r.err != nil {
				t.Fatal(r.err)
			}
			if r.f.Calibration.Valid && r.f.Calibration.X.Alpha == 2 {
				if err := w.Close(); err != nil {
					t.Fatal(err)
				}
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for reload")
		}
	}
}
