// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xpt2046

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/display"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// Raw is a pair of 12 bits ADC samples.
type Raw struct {
	X uint16
	Y uint16
}

func (r Raw) String() string {
	return fmt.Sprintf("(%d,%d)", r.X, r.Y)
}

// State is the touch state of the panel.
type State int

const (
	// NotPressed means the pen is up.
	NotPressed State = iota
	// Pressed means the pen is down.
	Pressed
)

func (s State) String() string {
	switch s {
	case NotPressed:
		return "NotPressed"
	case Pressed:
		return "Pressed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is a touch sample.
//
// A NotPressed event is emitted when the pen lifts; Point is then the last
// known position.
type Event struct {
	Point image.Point
	Raw   Raw
	State State
}

// Opts defines the options for the device.
type Opts struct {
	// Frequency is the SPI clock. The controller is specified up to 2.5MHz.
	Frequency physic.Frequency
	// CS is an optional chip select driven by the driver. It is kept asserted
	// for the whole sampling burst. Leave nil when the SPI port drives CS.
	CS gpio.PinOut
	// Width and Height are the screen size the samples are mapped to.
	Width  int
	Height int
	// MaxSamples caps the number of samples averaged per read.
	MaxSamples int
	// Filter reduces the samples of a burst.
	Filter Filter
	// SwapXY exchanges the X and Y plates, for panels mounted rotated.
	SwapXY bool
	// MinPressure, when non zero, rejects touches lighter than this value as
	// returned by ReadPressure.
	MinPressure uint16
	// Settle is the delay between drawing a calibration target and waiting
	// for it to be pressed.
	Settle time.Duration
	// Poll is the interval at which the pen interrupt line is polled when edge
	// detection is not available, and while the pen is down.
	Poll time.Duration
	// Callback, when set, is called for every event produced by IRQHandler
	// and SenseContinuous.
	Callback func(Event)
	// Logger receives debug logs. Defaults to discarding.
	Logger logr.Logger
}

// DefaultOpts is the recommended default options.
//
// The size matches a ILI9341 panel in landscape.
var DefaultOpts = Opts{
	Frequency:  2 * physic.MegaHertz,
	Width:      320,
	Height:     240,
	MaxSamples: 100,
	Filter:     FilterMean,
	Settle:     500 * time.Millisecond,
	Poll:       5 * time.Millisecond,
}

// New opens a handle to a XPT2046.
//
// irq is the PENIRQ line. It is configured as an input with a pull up; edge
// detection is used when the pin supports it.
func New(p spi.Port, irq gpio.PinIn, o *Opts) (*Dev, error) {
	if o == nil {
		o = &DefaultOpts
	}
	opts := *o
	if opts.Frequency == 0 {
		opts.Frequency = DefaultOpts.Frequency
	}
	if opts.Frequency > maxFrequency {
		return nil, fmt.Errorf("xpt2046: invalid speed %s; maximum supported clock is %s", opts.Frequency, maxFrequency)
	}
	if opts.Width == 0 && opts.Height == 0 {
		opts.Width, opts.Height = DefaultOpts.Width, DefaultOpts.Height
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("xpt2046: invalid size %dx%d", opts.Width, opts.Height)
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultOpts.MaxSamples
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultOpts.Poll
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if irq == nil {
		return nil, errors.New("xpt2046: irq pin is required")
	}

	c, err := p.Connect(opts.Frequency, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("xpt2046: %v", err)
	}
	d := &Dev{
		c:     c,
		irq:   irq,
		cs:    opts.CS,
		opts:  opts,
		log:   opts.Logger.WithName("xpt2046"),
		cmdX:  cmdX,
		cmdY:  cmdY,
		edges: true,
		xs:    make([]uint16, 0, opts.MaxSamples),
		ys:    make([]uint16, 0, opts.MaxSamples),
		state: NotPressed,
	}
	if opts.SwapXY {
		d.cmdX, d.cmdY = d.cmdY, d.cmdX
	}
	d.cal = Identity(d.Bounds())
	if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		// Some host drivers cannot do edge detection; fall back to polling.
		d.log.V(1).Info("edge detection unavailable, polling", "pin", irq.String(), "err", err.Error())
		if err := irq.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("xpt2046: %v", err)
		}
		d.edges = false
	}
	if d.cs != nil {
		if err := d.cs.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("xpt2046: %v", err)
		}
	}
	return d, nil
}

// Dev is a handle to a XPT2046.
//
// It holds the calibration, the last known position and the touch state.
type Dev struct {
	// Immutable.
	c     conn.Conn
	irq   gpio.PinIn
	cs    gpio.PinOut
	opts  Opts
	log   logr.Logger
	cmdX  byte
	cmdY  byte
	edges bool

	// busMu serializes bus transactions and owns the sample buffers.
	busMu sync.Mutex
	xs    []uint16
	ys    []uint16

	mu          sync.Mutex
	cal         Calibration
	last        image.Point
	state       State
	sensing     *stream
	calibrating bool
}

func (d *Dev) String() string {
	return fmt.Sprintf("XPT2046{%s}", d.c)
}

// Bounds returns the screen area the samples are mapped to.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.opts.Width, d.opts.Height)
}

// Halt implements conn.Resource.
//
// It stops SenseContinuous, if running, and waits for its goroutine to exit.
// Halt may be called from Opts.Callback. When a Callback is running, Halt
// returns without waiting for it. Either way Opts.Callback is not called
// again and the channel is closed once the goroutine exits.
func (d *Dev) Halt() error {
	d.mu.Lock()
	s := d.sensing
	d.sensing = nil
	wait := s != nil && !s.inCallback
	d.mu.Unlock()
	if s != nil {
		close(s.stop)
		if wait {
			<-s.done
		}
	}
	return nil
}

// ReadIRQPin returns the level of the pen interrupt line.
//
// It is Low while the panel is pressed.
func (d *Dev) ReadIRQPin() gpio.Level {
	return d.irq.Read()
}

// ReadRaw samples the X and Y plates.
//
// Samples are taken back to back while the pen stays down, up to
// Opts.MaxSamples, and reduced with Opts.Filter. At least one sample is
// always taken.
func (d *Dev) ReadRaw() (Raw, error) {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.readRaw()
}

// ReadPressure returns an estimate of the touch pressure in [0, 4095].
//
// It is derived from the Z1 and Z2 plate cross measurements; a higher value
// means a firmer touch.
func (d *Dev) ReadPressure() (uint16, error) {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	if err := d.selectChip(); err != nil {
		return 0, err
	}
	z1, z2, err := d.pair(cmdZ1, cmdZ2)
	if err2 := d.deselectChip(); err == nil {
		err = err2
	}
	if err != nil {
		return 0, err
	}
	z := int(z1) + adcMax - int(z2)
	if z < 0 {
		z = 0
	} else if z > adcMax {
		z = adcMax
	}
	return uint16(z), nil
}

// ReadData samples the panel and returns the calibrated position.
func (d *Dev) ReadData() (image.Point, error) {
	_, p, err := d.readData()
	return p, err
}

// IRQHandler processes a pen interrupt.
//
// It reads the calibrated position, marks the panel as pressed and calls
// Opts.Callback. When Opts.MinPressure is set and the touch is too light,
// the panel is marked as not pressed instead and no callback is made.
func (d *Dev) IRQHandler() (Event, error) {
	e, err := d.handle()
	if err == nil && e.State == Pressed {
		d.notify(e)
	}
	return e, err
}

// handle is IRQHandler without the callback.
func (d *Dev) handle() (Event, error) {
	if d.opts.MinPressure != 0 {
		z, err := d.ReadPressure()
		if err != nil {
			return Event{}, err
		}
		if z < d.opts.MinPressure {
			d.log.V(2).Info("touch too light", "pressure", z)
			d.mu.Lock()
			d.state = NotPressed
			e := Event{Point: d.last, State: NotPressed}
			d.mu.Unlock()
			return e, nil
		}
	}
	r, p, err := d.readData()
	if err != nil {
		return Event{}, err
	}
	d.mu.Lock()
	d.state = Pressed
	d.mu.Unlock()
	return Event{Point: p, Raw: r, State: Pressed}, nil
}

// State returns the last known touch state.
func (d *Dev) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Last returns the last known position.
func (d *Dev) Last() image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// SetCalibration replaces the calibration.
func (d *Dev) SetCalibration(c Calibration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal = c
}

// Calibration returns the current calibration.
func (d *Dev) Calibration() Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal
}

// Trace draws a marker on dst where the panel is pressed.
//
// It does nothing when the panel is not pressed. It is meant to be called in
// a loop to visually verify a calibration.
func (d *Dev) Trace(dst display.Drawer) error {
	if d.irq.Read() != gpio.Low {
		return nil
	}
	p, err := d.ReadData()
	if err != nil {
		return err
	}
	return DrawMarker(dst, p, MarkerColor)
}

//

const (
	// Control byte: S A2 A1 A0 MODE SER/DFR PD1 PD0. All commands use 12 bits
	// differential conversions and power down between conversions.
	cmdX  byte = 0xD0 // A=101
	cmdY  byte = 0x90 // A=001
	cmdZ1 byte = 0xB0 // A=011
	cmdZ2 byte = 0xC0 // A=100

	adcMax       = 4095
	maxFrequency = 2500 * physic.KiloHertz
)

func (d *Dev) readData() (Raw, image.Point, error) {
	r, err := d.ReadRaw()
	if err != nil {
		return Raw{}, image.Point{}, err
	}
	d.mu.Lock()
	p := d.cal.Apply(r, d.Bounds())
	d.last = p
	d.mu.Unlock()
	d.log.V(2).Info("sample", "raw", r, "point", p)
	return r, p, nil
}

// readRaw must be called with busMu held.
func (d *Dev) readRaw() (r Raw, err error) {
	if err := d.selectChip(); err != nil {
		return Raw{}, err
	}
	defer func() {
		if err2 := d.deselectChip(); err == nil {
			err = err2
		}
	}()
	xs, ys := d.xs[:0], d.ys[:0]
	for {
		x, y, err := d.pair(d.cmdX, d.cmdY)
		if err != nil {
			return Raw{}, err
		}
		xs = append(xs, x)
		ys = append(ys, y)
		if len(xs) >= d.opts.MaxSamples || d.irq.Read() == gpio.High {
			break
		}
	}
	return Raw{X: d.opts.Filter.reduce(xs), Y: d.opts.Filter.reduce(ys)}, nil
}

// pair converts two channels in a single 5 bytes transaction.
//
// The second command is clocked out while the LSB of the first conversion is
// clocked in.
func (d *Dev) pair(first, second byte) (uint16, uint16, error) {
	w := [5]byte{first, 0, second, 0, 0}
	var r [5]byte
	if err := d.c.Tx(w[:], r[:]); err != nil {
		return 0, 0, fmt.Errorf("xpt2046: %v", err)
	}
	return toSample(r[1], r[2]), toSample(r[3], r[4]), nil
}

// toSample extracts the 12 bits conversion. The first bit clocked in is the
// busy bit and the last 3 bits are padding.
func toSample(msb, lsb byte) uint16 {
	return (uint16(msb)<<8 | uint16(lsb)) >> 3 & adcMax
}

func (d *Dev) selectChip() error {
	if d.cs == nil {
		return nil
	}
	if err := d.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("xpt2046: %v", err)
	}
	return nil
}

func (d *Dev) deselectChip() error {
	if d.cs == nil {
		return nil
	}
	if err := d.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("xpt2046: %v", err)
	}
	return nil
}

func (d *Dev) notify(e Event) {
	if d.opts.Callback != nil {
		d.opts.Callback(e)
	}
}

// waitLevel polls the pen interrupt line until it reaches l.
func (d *Dev) waitLevel(ctx context.Context, l gpio.Level) error {
	for d.irq.Read() != l {
		if err := sleepCtx(ctx, d.opts.Poll); err != nil {
			return err
		}
	}
	return nil
}

var _ conn.Resource = &Dev{}
var _ fmt.Stringer = &Dev{}
