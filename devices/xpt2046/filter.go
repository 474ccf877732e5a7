// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xpt2046

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Filter reduces the samples taken while the pen is down to a single value
// per axis.
type Filter int

const (
	// FilterMean averages all the samples.
	FilterMean Filter = iota
	// FilterTrimmedMean drops the lowest and highest fifth of the samples
	// before averaging. It rejects the spikes seen when the pen lands or
	// lifts.
	FilterTrimmedMean
)

func (f Filter) String() string {
	switch f {
	case FilterMean:
		return "mean"
	case FilterTrimmedMean:
		return "trimmed"
	default:
		return fmt.Sprintf("Filter(%d)", int(f))
	}
}

// ParseFilter returns the Filter named s, as returned by Filter.String().
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "mean":
		return FilterMean, nil
	case "trimmed":
		return FilterTrimmedMean, nil
	default:
		return 0, fmt.Errorf("xpt2046: unknown filter %q", s)
	}
}

// reduce returns the filtered value of v.
//
// v must not be empty. v may be reordered.
func (f Filter) reduce(v []uint16) uint16 {
	if f == FilterTrimmedMean {
		slices.Sort(v)
		k := len(v) / 5
		v = v[k : len(v)-k]
	}
	sum := 0
	for _, s := range v {
		sum += int(s)
	}
	return uint16(sum / len(v))
}
