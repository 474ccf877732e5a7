// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// xpt2046 reads touches from a XPT2046 touch panel.
//
// The wiring and the calibration are kept in a TOML file, created on first
// run. Use -calibrate to run the three points calibration on a terminal
// emulated screen and save it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
	"periph.io/x/touch/devices/screen"
	"periph.io/x/touch/devices/xpt2046"
	"periph.io/x/touch/devices/xpt2046/calibfile"
	"periph.io/x/touch/devices/xpt2046/xpt2046test"
)

func mainImpl() error {
	config := flag.String("config", "xpt2046.toml", "calibration file")
	spiID := flag.String("spi", "", "SPI port to use; overrides the file")
	irqName := flag.String("irq", "", "PENIRQ pin; overrides the file")
	csName := flag.String("cs", "", "chip select pin driven manually; overrides the file")
	hz := flag.Int64("hz", 0, "SPI clock in Hz; overrides the file")
	calibrate := flag.Bool("calibrate", false, "run the calibration and save it")
	trace := flag.Bool("trace", false, "draw the touches on the terminal")
	cols := flag.Int("cols", 80, "terminal columns used to draw the screen")
	fake := flag.Bool("fake", false, "use a simulated panel instead of hardware")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	logger := stdr.New(log.New(log.Writer(), "", log.Lmicroseconds))
	if *verbose {
		stdr.SetVerbosity(2)
	}

	f, err := calibfile.Load(*config)
	if err != nil {
		return err
	}
	if *spiID != "" {
		f.Device.SPI = *spiID
	}
	if *irqName != "" {
		f.Device.IRQ = *irqName
	}
	if *csName != "" {
		f.Device.CS = *csName
	}
	if *hz != 0 {
		f.Device.FrequencyKHz = *hz / 1000
	}
	opts, err := f.Device.Opts()
	if err != nil {
		return err
	}
	opts.Logger = logger

	var p spi.PortCloser
	var irq gpio.PinIn
	if *fake {
		panel := &xpt2046test.Panel{}
		simulate(panel, opts.Width, opts.Height, *calibrate)
		p, irq = panel, panel.IRQ()
	} else {
		if _, err := host.Init(); err != nil {
			return err
		}
		if p, err = spireg.Open(f.Device.SPI); err != nil {
			return err
		}
		if irq = gpioreg.ByName(f.Device.IRQ); irq == nil {
			p.Close()
			return fmt.Errorf("invalid IRQ pin %q", f.Device.IRQ)
		}
		if f.Device.CS != "" {
			cs := gpioreg.ByName(f.Device.CS)
			if cs == nil {
				p.Close()
				return fmt.Errorf("invalid CS pin %q", f.Device.CS)
			}
			opts.CS = cs
		}
	}
	defer p.Close()

	d, err := xpt2046.New(p, irq, &opts)
	if err != nil {
		return err
	}
	defer d.Halt()
	if f.Calibration.Valid {
		d.SetCalibration(f.Calibration.Calibration())
	}
	log.Printf("Using %s on %s", d, p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *calibrate || *trace {
		s := screen.New(opts.Width, opts.Height, *cols)
		defer s.Halt()
		if *calibrate {
			c, err := d.Calibrate(ctx, s)
			if err != nil {
				return err
			}
			f.Calibration = calibfile.FromCalibration(c)
			if err := calibfile.Save(*config, f); err != nil {
				return err
			}
			fmt.Printf("Calibration saved to %s\n", *config)
			return nil
		}
		return traceLoop(ctx, d, s)
	}

	w, err := calibfile.Watch(*config, func(nf *calibfile.File, err error) {
		if err != nil {
			logger.Error(err, "reloading calibration")
			return
		}
		if nf.Calibration.Valid {
			d.SetCalibration(nf.Calibration.Calibration())
			logger.Info("calibration reloaded", "path", *config)
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()
	return printLoop(ctx, d, logger)
}

func printLoop(ctx context.Context, d *xpt2046.Dev, logger logr.Logger) error {
	ch, err := d.SenseContinuous()
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Printf("%-10s x=%3d y=%3d raw=%s\n", e.State, e.Point.X, e.Point.Y, e.Raw)
			logger.V(1).Info("event", "event", e)
		}
	}
}

func traceLoop(ctx context.Context, d *xpt2046.Dev, s *screen.Dev) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if err := d.Trace(s); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// simulate queues touches on panel. When calibrating, the touches land on the
// calibration targets of a slightly rotated and offset panel.
func simulate(panel *xpt2046test.Panel, width, height int, calibrate bool) {
	const idleReads = 200
	if calibrate {
		for _, t := range xpt2046.DefaultTargets(image.Rect(0, 0, width, height)) {
			panel.Press(xpt2046test.Touch{
				X:     uint16(200 + 11*t.X + t.Y),
				Y:     uint16(300 + 14*t.Y - t.X/2),
				Reads: 20,
				After: idleReads,
			})
		}
		return
	}
	for i := 0; i < 10; i++ {
		panel.Press(xpt2046test.Touch{
			X:        uint16(400 + 300*i),
			Y:        uint16(3600 - 300*i),
			Pressure: 800,
			Reads:    30,
			After:    idleReads,
		})
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "xpt2046: %s.\n", err)
		os.Exit(1)
	}
}
