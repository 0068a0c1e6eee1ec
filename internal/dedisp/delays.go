package dedisp

import (
	"errors"
	"fmt"
	"math"
)

// dispersion constant in s MHz^2 pc^-1 cm^3
const dmConst = 4.148808e3

var ErrDelayRange = errors.New("dedisp: delay out of range")

// Delays holds one delay per channel, in samples. The integer part
// selects the source sample and the fraction interpolates towards the
// next one.
type Delays []float64

// check makes sure every delay stays inside the two-block window.
func (d Delays) check(numchan int, numPts int) error {
	if len(d) != numchan {
		return fmt.Errorf("%w: %d delays for %d channels", ErrDelayRange, len(d), numchan)
	}
	for ii, delay := range d {
		if delay < 0 || math.IsNaN(delay) || math.Ceil(delay) > float64(numPts) {
			return fmt.Errorf("%w: channel %d delay %g, window %d", ErrDelayRange, ii, delay, numPts)
		}
	}
	return nil
}

// DelaysFromDM computes per-channel dispersion delays in samples for
// channel `ii` at loFreq+ii*chanWidth MHz, relative to the channel that
// arrives first.
func DelaysFromDM(dm, loFreq, chanWidth float64, numchan int, dt float64) Delays {
	delays := make(Delays, numchan)
	minDelay := math.Inf(1)
	for ii := range delays {
		freq := loFreq + float64(ii)*chanWidth
		delays[ii] = dmConst * dm / (freq * freq)
		minDelay = math.Min(minDelay, delays[ii])
	}
	for ii := range delays {
		delays[ii] = (delays[ii] - minDelay) / dt
	}
	return delays
}
