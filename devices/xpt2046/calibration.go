// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xpt2046

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"periph.io/x/periph/conn/display"
	"periph.io/x/periph/conn/gpio"
)

var (
	// ErrTooFewPoints is returned by ComputeCalibration when less than three
	// points are provided.
	ErrTooFewPoints = errors.New("xpt2046: at least 3 calibration points are required")
	// ErrDegenerate is returned by ComputeCalibration when the sampled points
	// are collinear and the transform cannot be solved.
	ErrDegenerate = errors.New("xpt2046: calibration points are collinear")
)

// Coefficients are the calibration coefficients of one axis.
//
// The screen coordinate is Alpha*x + Beta*y + Delta, where x and y are the
// raw ADC samples.
type Coefficients struct {
	Alpha float64
	Beta  float64
	Delta float64
}

// At returns the transformed value for the raw sample (x, y).
func (c Coefficients) At(x, y float64) float64 {
	return c.Alpha*x + c.Beta*y + c.Delta
}

// Calibration is the affine transform from raw samples to screen
// coordinates.
type Calibration struct {
	X Coefficients
	Y Coefficients
}

// Identity returns the transform used before the panel is calibrated.
//
// It scales the 12 bits samples to the bounds without rotation.
func Identity(bounds image.Rectangle) Calibration {
	return Calibration{
		X: Coefficients{Alpha: float64(bounds.Dx()) / adcRange, Delta: float64(bounds.Min.X)},
		Y: Coefficients{Beta: float64(bounds.Dy()) / adcRange, Delta: float64(bounds.Min.Y)},
	}
}

// Apply maps r to a point inside bounds.
func (c Calibration) Apply(r Raw, bounds image.Rectangle) image.Point {
	x, y := float64(r.X), float64(r.Y)
	return image.Point{
		X: clamp(c.X.At(x, y), bounds.Min.X, bounds.Max.X),
		Y: clamp(c.Y.At(x, y), bounds.Min.Y, bounds.Max.Y),
	}
}

// CalibrationPoint is a target drawn at Screen and the raw sample read while
// the user pressed it.
type CalibrationPoint struct {
	Screen image.Point
	Raw    Raw
}

// ComputeCalibration solves the transform from the calibration points.
//
// Three points are solved exactly, more points are fitted with least squares.
func ComputeCalibration(pts []CalibrationPoint) (Calibration, error) {
	switch {
	case len(pts) < 3:
		return Calibration{}, ErrTooFewPoints
	case len(pts) == 3:
		return solve3(pts)
	default:
		return solveLeastSquares(pts)
	}
}

// DefaultTargets returns the three targets used by Dev.Calibrate.
//
// They are spread so the triangle covers most of the panel while staying
// away from the edges, where resistive panels are the least linear.
func DefaultTargets(bounds image.Rectangle) []image.Point {
	w, h := bounds.Dx(), bounds.Dy()
	o := bounds.Min
	return []image.Point{
		o.Add(image.Point{X: 55, Y: 15}),
		o.Add(image.Point{X: w / 4, Y: h / 2}),
		o.Add(image.Point{X: w - 15, Y: h - 55}),
	}
}

// Calibrate runs the interactive three points calibration.
//
// A marker is drawn on dst for each target. The user must press it and
// release the panel before the next one is shown. The resulting calibration
// is stored in the device and returned. The stored calibration is left
// untouched on failure.
//
// Calibrate cannot run while SenseContinuous or another Calibrate is active.
func (d *Dev) Calibrate(ctx context.Context, dst display.Drawer) (Calibration, error) {
	d.mu.Lock()
	switch {
	case d.sensing != nil:
		d.mu.Unlock()
		return Calibration{}, errors.New("xpt2046: cannot calibrate while sensing continuously")
	case d.calibrating:
		d.mu.Unlock()
		return Calibration{}, errors.New("xpt2046: already calibrating")
	}
	d.calibrating = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.calibrating = false
		d.mu.Unlock()
	}()
	targets := DefaultTargets(d.Bounds())
	pts := make([]CalibrationPoint, 0, len(targets))
	for i, t := range targets {
		if err := DrawMarker(dst, t, MarkerColor); err != nil {
			return Calibration{}, err
		}
		if err := sleepCtx(ctx, d.opts.Settle); err != nil {
			return Calibration{}, err
		}
		if err := d.waitLevel(ctx, gpio.Low); err != nil {
			return Calibration{}, err
		}
		r, err := d.ReadRaw()
		if err != nil {
			return Calibration{}, err
		}
		if err := d.waitLevel(ctx, gpio.High); err != nil {
			return Calibration{}, err
		}
		if err := DrawMarker(dst, t, BackgroundColor); err != nil {
			return Calibration{}, err
		}
		d.log.V(1).Info("calibration point", "index", i, "target", t, "raw", r)
		pts = append(pts, CalibrationPoint{Screen: t, Raw: r})
	}
	c, err := ComputeCalibration(pts)
	if err != nil {
		return Calibration{}, err
	}
	d.SetCalibration(c)
	d.log.Info("calibrated", "x", c.X, "y", c.Y)
	return c, nil
}

var (
	// MarkerColor is the color of calibration and trace markers.
	MarkerColor color.Color = color.NRGBA{R: 0xFF, A: 0xFF}
	// BackgroundColor is used to erase calibration markers.
	BackgroundColor color.Color = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
)

// DrawMarker draws a 9x9 square centered on p.
func DrawMarker(dst display.Drawer, p image.Point, c color.Color) error {
	r := image.Rect(p.X-markerRadius, p.Y-markerRadius, p.X+markerRadius+1, p.Y+markerRadius+1)
	return dst.Draw(r, &image.Uniform{C: c}, image.Point{})
}

//

const (
	adcRange     = 4096
	markerRadius = 4
	// maxCond is the largest condition number of the raw samples matrix
	// accepted for a fit. Well spread points stay around 1e4.
	maxCond = 1e12
)

// solve3 is the closed form of SLYT277 for three points.
func solve3(pts []CalibrationPoint) (Calibration, error) {
	x0, y0 := float64(pts[0].Raw.X), float64(pts[0].Raw.Y)
	x1, y1 := float64(pts[1].Raw.X), float64(pts[1].Raw.Y)
	x2, y2 := float64(pts[2].Raw.X), float64(pts[2].Raw.Y)
	delta := (x0-x2)*(y1-y2) - (x1-x2)*(y0-y2)
	if delta == 0 {
		return Calibration{}, ErrDegenerate
	}
	axis := func(d0, d1, d2 float64) Coefficients {
		return Coefficients{
			Alpha: ((d0-d2)*(y1-y2) - (d1-d2)*(y0-y2)) / delta,
			Beta:  ((x0-x2)*(d1-d2) - (x1-x2)*(d0-d2)) / delta,
			Delta: (d0*(x1*y2-x2*y1) - d1*(x0*y2-x2*y0) + d2*(x0*y1-x1*y0)) / delta,
		}
	}
	s0, s1, s2 := pts[0].Screen, pts[1].Screen, pts[2].Screen
	return Calibration{
		X: axis(float64(s0.X), float64(s1.X), float64(s2.X)),
		Y: axis(float64(s0.Y), float64(s1.Y), float64(s2.Y)),
	}, nil
}

// solveLeastSquares fits the transform with a QR decomposition of the raw
// samples.
func solveLeastSquares(pts []CalibrationPoint) (Calibration, error) {
	a := mat.NewDense(len(pts), 3, nil)
	b := mat.NewDense(len(pts), 2, nil)
	for i, p := range pts {
		a.SetRow(i, []float64{float64(p.Raw.X), float64(p.Raw.Y), 1})
		b.SetRow(i, []float64{float64(p.Screen.X), float64(p.Screen.Y)})
	}
	var qr mat.QR
	qr.Factorize(a)
	if qr.Cond() > maxCond {
		return Calibration{}, ErrDegenerate
	}
	var x mat.Dense
	if err := qr.SolveTo(&x, false, b); err != nil {
		return Calibration{}, ErrDegenerate
	}
	return Calibration{
		X: Coefficients{Alpha: x.At(0, 0), Beta: x.At(1, 0), Delta: x.At(2, 0)},
		Y: Coefficients{Alpha: x.At(0, 1), Beta: x.At(1, 1), Delta: x.At(2, 1)},
	}, nil
}

// clamp truncates v into [min, max).
func clamp(v float64, min, max int) int {
	if max <= min || math.IsNaN(v) || v < float64(min) {
		return min
	}
	if v > float64(max-1) {
		return max - 1
	}
	return int(v)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
