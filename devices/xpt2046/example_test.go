// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xpt2046_test

import (
	"fmt"
	"log"

	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
	"periph.io/x/touch/devices/xpt2046"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Use spireg SPI port registry to find the first available SPI bus.
	p, err := spireg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	irq := gpioreg.ByName("GPIO17")
	if irq == nil {
		log.Fatal("Failed to find GPIO17")
	}

	d, err := xpt2046.New(p, irq, &xpt2046.DefaultOpts)
	if err != nil {
		log.Fatal(err)
	}
	ch, err := d.SenseContinuous()
	if err != nil {
		log.Fatal(err)
	}
	defer d.Halt()
	for e := range ch {
		fmt.Printf("%s at %s\n", e.State, e.Point)
	}
}
