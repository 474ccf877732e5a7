// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen implements a 2D display.Drawer that outputs to terminal
// (stdout) using ANSI color codes.
//
// Useful to run a touch panel calibration before the actual display driver
// is wired, or over ssh.
package screen // import "periph.io/x/touch/devices/screen"

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/periph/conn/display"
)

// Dev is a small 2D panel emulator that outputs to the console.
//
// The framebuffer is kept at full resolution and downscaled when rendered:
// each terminal cell averages a square of pixels.
type Dev struct {
	w     io.Writer
	img   *image.NRGBA
	scale int
	buf   bytes.Buffer
}

// New returns a Dev of width x height pixels that displays at the console
// using at most cols terminal cells per line.
func New(width, height, cols int) *Dev {
	return NewWriter(colorable.NewColorableStdout(), width, height, cols)
}

// NewWriter is like New but renders to w.
func NewWriter(w io.Writer, width, height, cols int) *Dev {
	if cols < 1 {
		cols = 1
	}
	scale := (width + cols - 1) / cols
	if scale < 1 {
		scale = 1
	}
	d := &Dev{
		w:     w,
		img:   image.NewNRGBA(image.Rect(0, 0, width, height)),
		scale: scale,
	}
	draw.Draw(d.img, d.img.Bounds(), image.White, image.Point{}, draw.Src)
	return d
}

func (d *Dev) String() string {
	return "Screen"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors so the console is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Write accepts a stream of raw RGB pixels covering the whole panel, line by
// line, and writes it to the console.
func (d *Dev) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("screen: invalid RGB stream length")
	}
	b := d.img.Bounds()
	if len(pixels) > 3*b.Dx()*b.Dy() {
		return 0, errors.New("screen: RGB stream larger than the screen")
	}
	for i := 0; i < len(pixels)/3; i++ {
		o := 4 * i
		d.img.Pix[o] = pixels[3*i]
		d.img.Pix[o+1] = pixels[3*i+1]
		d.img.Pix[o+2] = pixels[3*i+2]
		d.img.Pix[o+3] = 0xFF
	}
	if _, err := d.refresh(); err != nil {
		return 0, err
	}
	return len(pixels), nil
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return d.img.Bounds()
}

// Draw implements display.Drawer.
//
// Pixels of r outside the screen are ignored.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	draw.Draw(d.img, r, src, sp, draw.Src)
	_, err := d.refresh()
	return err
}

// At returns the color of the pixel at (x, y).
func (d *Dev) At(x, y int) color.Color {
	return d.img.At(x, y)
}

func (d *Dev) refresh() (int, error) {
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\033[H\033[0m")
	b := d.img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += d.scale {
		for x := b.Min.X; x < b.Max.X; x += d.scale {
			_, _ = io.WriteString(&d.buf, ansi256.Default.Block(d.cell(x, y)))
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	n, err := d.buf.WriteTo(d.w)
	return int(n), err
}

// cell averages the square of pixels starting at (x, y).
func (d *Dev) cell(x, y int) color.NRGBA {
	r := image.Rect(x, y, x+d.scale, y+d.scale).Intersect(d.img.Bounds())
	var sr, sg, sb, n int
	for py := r.Min.Y; py < r.Max.Y; py++ {
		o := d.img.PixOffset(r.Min.X, py)
		for px := r.Min.X; px < r.Max.X; px++ {
			sr += int(d.img.Pix[o])
			sg += int(d.img.Pix[o+1])
			sb += int(d.img.Pix[o+2])
			o += 4
			n++
		}
	}
	if n == 0 {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n), A: 255}
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
