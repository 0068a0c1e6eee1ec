package mask

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spectriclabs/gmrt-ingest/internal/config"
)

var ErrChannelRange = errors.New("mask: channel out of range")

type Kind int

const (
	None Kind = iota
	All
	Some
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case All:
		return "all"
	case Some:
		return "some"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is the answer of a mask query for one time window.
type Result struct {
	Kind     Kind
	Channels []int
}

// Provider answers which channels are masked between `start` and
// `start+duration` seconds.
type Provider interface {
	Query(start, duration float64) Result
}

// Apply overwrites the masked channels of a time-major block with their
// pad values and returns the number of channels masked.
func Apply(block []byte, numchan int, res Result, pad []byte) (int, error) {
	if len(pad) != numchan {
		return 0, fmt.Errorf("mask: %d pad values for %d channels", len(pad), numchan)
	}
	numPts := len(block) / numchan
	switch res.Kind {
	case All:
		for ii := 0; ii < numPts; ii++ {
			copy(block[ii*numchan:(ii+1)*numchan], pad)
		}
		return numchan, nil
	case Some:
		for _, channum := range res.Channels {
			if channum < 0 || channum >= numchan {
				return 0, fmt.Errorf("%w: channel %d of %d", ErrChannelRange, channum, numchan)
			}
		}
		for ii := 0; ii < numPts; ii++ {
			offset := ii * numchan
			for _, channum := range res.Channels {
				block[offset+channum] = pad[channum]
			}
		}
		return len(res.Channels), nil
	default:
		return 0, nil
	}
}

// Windows is a static mask built from configured time windows.
type Windows []config.MaskWindow

// Query merges every window overlapping the interval. An overlapping
// window flagging all channels masks the whole interval.
func (w Windows) Query(start, duration float64) Result {
	end := start + duration
	seen := make(map[int]bool)
	for _, win := range w {
		if win.Start >= end || win.Start+win.Duration <= start {
			continue
		}
		if win.All {
			return Result{Kind: All}
		}
		for _, ch := range win.Channels {
			seen[ch] = true
		}
	}
	if len(seen) == 0 {
		return Result{Kind: None}
	}
	chans := make([]int, 0, len(seen))
	for ch := range seen {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	return Result{Kind: Some, Channels: chans}
}
