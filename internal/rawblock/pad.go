package rawblock

import (
	"gonum.org/v1/gonum/stat"
)

// DefaultPadValue fills every channel when no calibration is available.
const DefaultPadValue byte = 128

// PadValues are the bytes written in place of missing or masked data.
type PadValues struct {
	Chan   []byte
	Scalar byte
}

// NewPadValues derives per-channel pad values from calibration levels
// (typically channel means of clean data). When `calib` does not hold
// one value per channel every channel uses DefaultPadValue.
func NewPadValues(numchan int, calib []float64) PadValues {
	pad := PadValues{Chan: make([]byte, numchan), Scalar: DefaultPadValue}
	if len(calib) != numchan || numchan == 0 {
		for ii := range pad.Chan {
			pad.Chan[ii] = pad.Scalar
		}
		return pad
	}
	for ii, v := range calib {
		pad.Chan[ii] = clampByte(v + 0.5)
	}
	pad.Scalar = clampByte(stat.Mean(calib, nil) + 0.5)
	return pad
}

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}

// Fill writes `numPts` time samples of padding into `dst`, which
// must be aligned on a time sample.
func (p PadValues) Fill(dst []byte, numPts int) {
	numchan := len(p.Chan)
	for ii := 0; ii < numPts; ii++ {
		copy(dst[ii*numchan:(ii+1)*numchan], p.Chan)
	}
}
