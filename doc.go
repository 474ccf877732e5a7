// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package touch is for documentation only. Explains how to wire and enable
// a XPT2046 touch panel.
//
// Raspberry Pi
//
// The XPT2046 is usually on the same SPI bus as the ILI9341 display, on a
// second chip select. Enable SPI with raspi-config or add to
// /boot/config.txt:
//
//  dtparam=spi=on
//
// Wire T_IRQ to a free GPIO, for example GPIO17, and T_CS to CE1. Then run:
//
//  xpt2046 -spi SPI0.1 -irq GPIO17 -calibrate
//
// The calibration is saved in xpt2046.toml and loaded on the next run.
//
// Without hardware
//
// The xpt2046 command accepts -fake to run against a simulated panel; see
// devices/xpt2046/xpt2046test.
package touch
