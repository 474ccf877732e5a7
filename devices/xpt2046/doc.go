// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xpt2046 controls a XPT2046 resistive touch screen controller over
// SPI.
//
// The controller exposes a 12 bits ADC multiplexed over the panel plates and
// a pen interrupt line (PENIRQ) that is pulled low while the panel is
// pressed. The driver samples the X and Y plates while the pen is down,
// filters the samples and maps them to screen coordinates with a three
// coefficients affine transform per axis.
//
// Calibration
//
// The calibration procedure follows Texas Instruments' application note
// SLYT277 "Calibration in touch-screen systems". Three targets are drawn on
// a display.Drawer, the user presses each of them and the coefficients are
// solved from the sampled positions. More than three points are solved in
// the least squares sense.
//
// Datasheet
//
// https://www.buydisplay.com/download/ic/XPT2046.pdf
//
// https://www.ti.com/lit/an/slyt277/slyt277.pdf
package xpt2046
