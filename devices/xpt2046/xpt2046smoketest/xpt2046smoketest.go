// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xpt2046smoketest is leveraged by extra-smoketest to verify that a
// XPT2046 touch panel is wired and working as expected.
package xpt2046smoketest

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/touch/devices/xpt2046"
)

// SmokeTest is imported by extra-smoketest.
type SmokeTest struct {
	// Prompt is printed when the user must act on the panel. Defaults to
	// printing on stdout.
	Prompt func(msg string)
}

// Name implements the SmokeTest interface.
func (s *SmokeTest) Name() string {
	return "xpt2046"
}

// Description implements the SmokeTest interface.
func (s *SmokeTest) Description() string {
	return "Tests a XPT2046 touch panel; requires pressing the panel once"
}

// Run implements the SmokeTest interface.
func (s *SmokeTest) Run(f *flag.FlagSet, args []string) (err error) {
	spiID := f.String("spi", "", "SPI port to use")
	irqName := f.String("irq", "", "PENIRQ pin")
	hz := f.Int("hz", 2000000, "SPI clock in Hz")
	timeout := f.Duration("timeout", 30*time.Second, "time to wait for a touch")
	if err := f.Parse(args); err != nil {
		return err
	}
	if f.NArg() != 0 {
		f.Usage()
		return errors.New("unrecognized arguments")
	}
	if *irqName == "" {
		return errors.New("-irq is required")
	}
	irq := gpioreg.ByName(*irqName)
	if irq == nil {
		return fmt.Errorf("invalid pin %q", *irqName)
	}
	p, err := spireg.Open(*spiID)
	if err != nil {
		return err
	}
	defer func() {
		if err2 := p.Close(); err == nil {
			err = err2
		}
	}()
	o := xpt2046.DefaultOpts
	o.Frequency = physic.Frequency(*hz) * physic.Hertz
	d, err := xpt2046.New(p, irq, &o)
	if err != nil {
		return err
	}
	defer d.Halt()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return s.test(ctx, d)
}

// test verifies the idle state, then waits for the user to press the panel
// and checks the samples.
func (s *SmokeTest) test(ctx context.Context, d *xpt2046.Dev) error {
	if l := d.ReadIRQPin(); l != gpio.High {
		return errors.New("PENIRQ is low while idle; do not touch the panel or check the pull up")
	}
	if z, err := d.ReadPressure(); err != nil {
		return err
	} else if z > idlePressure {
		return fmt.Errorf("pressure %d while idle; check the wiring", z)
	}
	s.prompt("Press the panel")
	if err := waitLevel(ctx, d, gpio.Low); err != nil {
		return fmt.Errorf("no touch detected: %v", err)
	}
	r, err := d.ReadRaw()
	if err != nil {
		return err
	}
	if r.X == 0 || r.Y == 0 || r.X >= 4095 || r.Y >= 4095 {
		return fmt.Errorf("raw sample %s saturated; check MISO", r)
	}
	s.prompt("Release the panel")
	if err := waitLevel(ctx, d, gpio.High); err != nil {
		return fmt.Errorf("touch never released: %v", err)
	}
	return nil
}

func (s *SmokeTest) prompt(msg string) {
	if s.Prompt != nil {
		s.Prompt(msg)
		return
	}
	fmt.Println(msg)
}

//

const idlePressure = 100

func waitLevel(ctx context.Context, d *xpt2046.Dev, l gpio.Level) error {
	for d.ReadIRQPin() != l {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}
