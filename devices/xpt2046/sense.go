// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xpt2046

import (
	"errors"
	"time"

	"periph.io/x/periph/conn/gpio"
)

// SenseContinuous returns a channel of touch events.
//
// A Pressed event is sent when the pen lands and then every Opts.Poll while
// it stays down. A NotPressed event is sent when it lifts. Call Halt to stop
// sensing; the channel is then closed.
//
// Opts.Callback is called from the sensing goroutine, before the event is
// sent on the channel. Only one continuous sensing can run at a time, and
// not while Calibrate runs.
func (d *Dev) SenseContinuous() (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sensing != nil {
		return nil, errors.New("xpt2046: already sensing continuously")
	}
	if d.calibrating {
		return nil, errors.New("xpt2046: cannot sense continuously while calibrating")
	}
	s := &stream{stop: make(chan struct{}), done: make(chan struct{})}
	d.sensing = s
	ch := make(chan Event, 16)
	go d.sense(s, ch)
	return ch, nil
}

// stream is one SenseContinuous run.
type stream struct {
	stop chan struct{}
	done chan struct{}
	// inCallback is set while Opts.Callback runs. Guarded by Dev.mu.
	inCallback bool
}

func (d *Dev) sense(s *stream, ch chan<- Event) {
	defer close(s.done)
	defer close(ch)
	pressed := false
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		var e Event
		send := false
		switch {
		case d.irq.Read() == gpio.Low:
			ev, err := d.handle()
			if err != nil {
				d.log.Error(err, "reading touch")
				break
			}
			if ev.State == Pressed {
				pressed, send, e = true, true, ev
			} else if pressed {
				// Too light to count as a touch.
				pressed, send, e = false, true, d.release()
			}
		case pressed:
			pressed, send, e = false, true, d.release()
		}
		if send {
			d.dispatch(s, e)
			select {
			case <-s.stop:
				return
			default:
			}
			select {
			case ch <- e:
			case <-s.stop:
				return
			}
		}
		if !d.idle(s.stop, pressed) {
			return
		}
	}
}

// release marks the panel as not pressed.
func (d *Dev) release() Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = NotPressed
	return Event{Point: d.last, State: NotPressed}
}

// dispatch calls Opts.Callback on behalf of s, unless s was halted.
func (d *Dev) dispatch(s *stream, e Event) {
	if d.opts.Callback == nil {
		return
	}
	d.mu.Lock()
	if d.sensing != s {
		d.mu.Unlock()
		return
	}
	s.inCallback = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		s.inCallback = false
		d.mu.Unlock()
	}()
	d.opts.Callback(e)
}

// idle waits for the next sampling opportunity. It returns false when stop is
// closed.
func (d *Dev) idle(stop <-chan struct{}, pressed bool) bool {
	if d.edges && !pressed {
		// WaitForEdge cannot be interrupted, so bound it to keep Halt
		// responsive.
		d.irq.WaitForEdge(d.opts.Poll)
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d.opts.Poll)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
