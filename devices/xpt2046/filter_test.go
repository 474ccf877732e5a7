// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xpt2046

import "testing"

func TestFilter(t *testing.T) {
	data := []struct {
		f    Filter
		v    []uint16
		want uint16
	}{
		{FilterMean, []uint16{7}, 7},
		{FilterMean, []uint16{10, 20, 30}, 20},
		{FilterMean, []uint16{1000, 1000, 1000, 1000, 4095}, 1619},
		{FilterTrimmedMean, []uint16{7}, 7},
		{FilterTrimmedMean, []uint16{1000, 1000, 1000, 1000, 4095}, 1000},
		{FilterTrimmedMean, []uint16{0, 1000, 1002, 1004, 1006, 1008, 1010, 1012, 1014, 4095}, 1007},
	}
	for i, line := range data {
		if got := line.f.reduce(line.v); got != line.want {
			t.Fatalf("#%d: %s: %d != %d", i, line.f, got, line.want)
		}
	}
}

func TestParseFilter(t *testing.T) {
	for _, f := range []Filter{FilterMean, FilterTrimmedMean} {
		got, err := ParseFilter(f.String())
		if err != nil || got != f {
			t.Fatal(f, got, err)
		}
	}
	if f, err := ParseFilter(""); err != nil || f != FilterMean {
		t.Fatal(f, err)
	}
	if _, err := ParseFilter("median"); err == nil {
		t.Fatal("expected error")
	}
	if s := Filter(9).String(); s != "Filter(9)" {
		t.Fatal(s)
	}
}
