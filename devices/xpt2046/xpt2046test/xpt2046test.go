// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xpt2046test implements a simulated XPT2046 panel.
//
// Panel answers the controller commands over a fake SPI port and drives a
// fake pen interrupt line from a queue of scripted touches. It is meant for
// unit tests and for running the tools without hardware.
package xpt2046test

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// Touch is a scripted press.
type Touch struct {
	// X and Y are the raw 12 bits positions reported while pressed.
	X, Y uint16
	// Pressure is reported as the Z1 measurement.
	Pressure uint16
	// Reads is the number of pen interrupt reads that report Low. Defaults
	// to 1.
	Reads int
	// After is the number of extra High reads before the touch starts.
	After int
}

// Panel is a simulated XPT2046 and its pen interrupt line.
//
// Each Touch is consumed as the driver reads the interrupt line: the line
// reads Low Touch.Reads times, then High at least ReleaseReads times before
// the next Touch starts.
type Panel struct {
	sync.Mutex
	// Touches is the queue of pending touches.
	Touches []Touch
	// ReleaseReads is the minimum number of High reads between touches.
	// Defaults to 2.
	ReleaseReads int
	// NoEdge makes the interrupt line refuse edge detection.
	NoEdge bool
	// Err is returned by Tx when set.
	Err error

	// Recorded.
	Freq     physic.Frequency
	Mode     spi.Mode
	Bits     int
	Pull     gpio.Pull
	Edge     gpio.Edge
	Txs      int
	IRQReads int
	Closed   bool

	cur       *Touch
	remaining int
	released  int
}

// Press queues touches.
func (p *Panel) Press(t ...Touch) {
	p.Lock()
	defer p.Unlock()
	p.Touches = append(p.Touches, t...)
}

// Pending returns the number of touches not yet started.
func (p *Panel) Pending() int {
	p.Lock()
	defer p.Unlock()
	return len(p.Touches)
}

// SetPressure changes the pressure of the touch in progress, if any.
func (p *Panel) SetPressure(z uint16) {
	p.Lock()
	defer p.Unlock()
	if p.cur != nil {
		p.cur.Pressure = z
	}
}

// IRQ returns the pen interrupt line.
func (p *Panel) IRQ() gpio.PinIO {
	return &irqPin{p: p}
}

// String implements spi.Port.
func (p *Panel) String() string {
	return "xpt2046test"
}

// Close implements spi.PortCloser.
func (p *Panel) Close() error {
	p.Lock()
	defer p.Unlock()
	p.Closed = true
	return nil
}

// Connect implements spi.Port.
func (p *Panel) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	p.Lock()
	defer p.Unlock()
	p.Freq = f
	p.Mode = m
	p.Bits = bits
	return p, nil
}

// LimitSpeed implements spi.Port.
func (p *Panel) LimitSpeed(f physic.Frequency) error {
	return nil
}

// Duplex implements spi.Conn.
func (p *Panel) Duplex() conn.Duplex {
	return conn.Full
}

// Tx implements spi.Conn.
//
// Every byte of w with the start bit set is decoded as a command; its 12 bits
// conversion is returned in the two following bytes of r.
func (p *Panel) Tx(w, r []byte) error {
	p.Lock()
	defer p.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if len(r) != 0 && len(r) != len(w) {
		return errors.New("xpt2046test: both buffers must have the same size")
	}
	p.Txs++
	for i := range r {
		r[i] = 0
	}
	for i, b := range w {
		if b&0x80 == 0 || i+2 >= len(r) {
			continue
		}
		v, err := p.convert((b >> 4) & 7)
		if err != nil {
			return err
		}
		word := v << 3
		r[i+1] = byte(word >> 8)
		r[i+2] = byte(word)
	}
	return nil
}

// TxPackets implements spi.Conn.
func (p *Panel) TxPackets(pkts []spi.Packet) error {
	for _, pkt := range pkts {
		if err := p.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// convert must be called with the lock held.
func (p *Panel) convert(channel byte) (uint16, error) {
	var t Touch
	if p.cur != nil {
		t = *p.cur
	}
	switch channel {
	case 5:
		return t.X, nil
	case 1:
		return t.Y, nil
	case 3:
		return t.Pressure, nil
	case 4:
		return 4095, nil
	default:
		return 0, fmt.Errorf("xpt2046test: unsupported channel %d", channel)
	}
}

func (p *Panel) readIRQ() gpio.Level {
	p.Lock()
	defer p.Unlock()
	p.IRQReads++
	if p.cur != nil {
		if p.remaining > 0 {
			p.remaining--
			return gpio.Low
		}
		p.cur = nil
		p.released = p.ReleaseReads - 1
		if p.ReleaseReads == 0 {
			p.released = 1
		}
		return gpio.High
	}
	if p.released > 0 {
		p.released--
		return gpio.High
	}
	if len(p.Touches) == 0 {
		return gpio.High
	}
	if p.Touches[0].After > 0 {
		p.Touches[0].After--
		return gpio.High
	}
	t := p.Touches[0]
	p.Touches = p.Touches[1:]
	p.cur = &t
	p.remaining = t.Reads - 1
	return gpio.Low
}

// irqPin is the pen interrupt line of a Panel.
type irqPin struct {
	p *Panel
}

func (i *irqPin) String() string   { return "PENIRQ" }
func (i *irqPin) Halt() error      { return nil }
func (i *irqPin) Name() string     { return "PENIRQ" }
func (i *irqPin) Number() int      { return -1 }
func (i *irqPin) Function() string { return "In/PullUp" }

func (i *irqPin) In(pull gpio.Pull, e gpio.Edge) error {
	i.p.Lock()
	defer i.p.Unlock()
	if e != gpio.NoEdge && i.p.NoEdge {
		return errors.New("xpt2046test: edge triggering is not supported")
	}
	i.p.Pull = pull
	i.p.Edge = e
	return nil
}

func (i *irqPin) Read() gpio.Level {
	return i.p.readIRQ()
}

// WaitForEdge never sees an edge; it only sleeps for a bounded time.
func (i *irqPin) WaitForEdge(t time.Duration) bool {
	if t < 0 || t > time.Millisecond {
		t = time.Millisecond
	}
	time.Sleep(t)
	return false
}

func (i *irqPin) Pull() gpio.Pull        { return gpio.PullUp }
func (i *irqPin) DefaultPull() gpio.Pull { return gpio.PullUp }

func (i *irqPin) Out(l gpio.Level) error {
	return errors.New("xpt2046test: PENIRQ is an input")
}

func (i *irqPin) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("xpt2046test: PENIRQ is an input")
}

// Pin is a gpiotest.Pin that records the levels written to it.
type Pin struct {
	gpiotest.Pin
	// Levels is the history of Out calls.
	Levels []gpio.Level
	// Err is returned by Out when set.
	Err error
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	p.Lock()
	if p.Err != nil {
		defer p.Unlock()
		return p.Err
	}
	p.Levels = append(p.Levels, l)
	p.Unlock()
	return p.Pin.Out(l)
}

var _ spi.PortCloser = &Panel{}
var _ spi.Conn = &Panel{}
var _ gpio.PinIO = &irqPin{}
var _ gpio.PinIO = &Pin{}
