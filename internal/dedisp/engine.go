package dedisp

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/spectriclabs/gmrt-ingest/internal/numerical"
)

// window holds the two raw buffers shared by both engines. The caller
// fills current; previous holds the block before it.
type window struct {
	numchan int
	numPts  int
	delays  Delays

	current  []byte
	previous []byte
	primed   bool

	series []float64 // one channel over previous+current
	acc    []float64
}

func newWindow(numchan, numPts int, delays Delays) (*window, error) {
	if numchan < 1 || numPts < 1 {
		return nil, fmt.Errorf("dedisp: bad window %d channels x %d points", numchan, numPts)
	}
	if err := delays.check(numchan, numPts); err != nil {
		return nil, err
	}
	return &window{
		numchan:  numchan,
		numPts:   numPts,
		delays:   delays,
		current:  make([]byte, numchan*numPts),
		previous: make([]byte, numchan*numPts),
		series:   make([]float64, 2*numPts),
		acc:      make([]float64, numPts),
	}, nil
}

// Current is the buffer the next block of converted, masked data
// must be written into.
func (w *window) Current() []byte {
	return w.current
}

// NumPts is the number of time samples in one window block.
func (w *window) NumPts() int {
	return w.numPts
}

func (w *window) swap() {
	w.current, w.previous = w.previous, w.current
}

// addChannel adds channel `channum`, shifted by its delay, onto `out`.
func (w *window) addChannel(channum int, out []float64) {
	n := w.numPts
	for ii, jj := 0, channum; ii < n; ii, jj = ii+1, jj+w.numchan {
		w.series[ii] = float64(w.previous[jj])
		w.series[ii+n] = float64(w.current[jj])
	}
	delay := w.delays[channum]
	intDelay := int(delay)
	frac := delay - float64(intDelay)
	if frac == 0 {
		floats.Add(out, w.series[intDelay:intDelay+n])
		return
	}
	floats.AddScaled(out, 1-frac, w.series[intDelay:intDelay+n])
	floats.AddScaled(out, frac, w.series[intDelay+1:intDelay+1+n])
}

// Engine dedisperses all channels into a single time series.
type Engine struct {
	*window
}

// NewEngine builds a full resolution engine reading `numBlocks` blocks
// of `ptsPerBlock` points per call.
func NewEngine(numchan, ptsPerBlock, numBlocks int, delays Delays) (*Engine, error) {
	w, err := newWindow(numchan, ptsPerBlock*numBlocks, delays)
	if err != nil {
		return nil, err
	}
	return &Engine{window: w}, nil
}

// Dedisperse consumes Current. The first call only keeps the data as
// history and returns 0; later calls write NumPts samples aligned on the
// previous block into `out`.
func (e *Engine) Dedisperse(out []float64) (int, error) {
	if len(out) < e.numPts {
		return 0, fmt.Errorf("dedisp: output of %d points, need %d", len(out), e.numPts)
	}
	if !e.primed {
		e.swap()
		e.primed = true
		return 0, nil
	}
	out = out[:e.numPts]
	for ii := range out {
		out[ii] = 0
	}
	for channum := 0; channum < e.numchan; channum++ {
		e.addChannel(channum, out)
	}
	e.swap()
	return e.numPts, nil
}

// SubbandEngine dedisperses contiguous groups of channels into one
// time series per subband.
type SubbandEngine struct {
	*window
	numSubbands int
	transpose   bool
}

// NewSubbandEngine builds an engine over single blocks. With transpose
// set the output holds NumPts points of subband 0, then subband 1 and
// so on; otherwise it stays in time order with the subbands of each
// sample together.
func NewSubbandEngine(numchan, ptsPerBlock, numSubbands int, delays Delays, transpose bool) (*SubbandEngine, error) {
	if numSubbands < 1 || numchan%numSubbands != 0 {
		return nil, fmt.Errorf("dedisp: %d channels cannot be split into %d subbands", numchan, numSubbands)
	}
	w, err := newWindow(numchan, ptsPerBlock, delays)
	if err != nil {
		return nil, err
	}
	return &SubbandEngine{window: w, numSubbands: numSubbands, transpose: transpose}, nil
}

func (e *SubbandEngine) NumSubbands() int {
	return e.numSubbands
}

// Dedisperse consumes Current like Engine.Dedisperse; `out` must hold
// NumSubbands*NumPts values.
func (e *SubbandEngine) Dedisperse(out []float64) (int, error) {
	size := e.numSubbands * e.numPts
	if len(out) < size {
		return 0, fmt.Errorf("dedisp: output of %d values, need %d", len(out), size)
	}
	if !e.primed {
		e.swap()
		e.primed = true
		return 0, nil
	}
	out = out[:size]
	chanPerSub := e.numchan / e.numSubbands
	for sub := 0; sub < e.numSubbands; sub++ {
		for ii := range e.acc {
			e.acc[ii] = 0
		}
		for channum := sub * chanPerSub; channum < (sub+1)*chanPerSub; channum++ {
			e.addChannel(channum, e.acc)
		}
		for ii, v := range e.acc {
			out[ii*e.numSubbands+sub] = v
		}
	}
	e.swap()
	if e.transpose {
		if err := numerical.Transpose(out, e.numPts, e.numSubbands); err != nil {
			return 0, err
		}
	}
	return e.numPts, nil
}
