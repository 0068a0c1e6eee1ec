package rawblock

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrChannelRange = errors.New("rawblock: channel out of range")

// Convert maps one 16-bit GMRT sample onto a byte. The LSB is the GPS
// bit and is discarded along with the next (significant) bit.
func Convert(v uint16) byte {
	inval := int16(^v) >> 2
	if inval > 255 {
		return 255
	}
	return byte(inval)
}

// ConvertBlock decodes the 16-bit samples in `raw` using `order` and
// writes one converted byte per sample into `out`.
func ConvertBlock(order binary.ByteOrder, raw []byte, out []byte) {
	numSamps := len(raw) / 2
	for i := 0; i < numSamps; i++ {
		out[i] = Convert(order.Uint16(raw[i*2:]))
	}
}

// ExtractChannel copies the values of channel `channum` out of the
// time-major converted block `raw` into `out`. Channel 0 is the lowest
// frequency channel.
func ExtractChannel(channum int, numchan int, raw []byte, out []float64) (int, error) {
	if channum < 0 || channum >= numchan {
		return 0, fmt.Errorf("%w: channel %d of %d", ErrChannelRange, channum, numchan)
	}
	numPts := len(raw) / numchan
	if len(out) < numPts {
		numPts = len(out)
	}
	for ii, jj := 0, channum; ii < numPts; ii, jj = ii+1, jj+numchan {
		out[ii] = float64(raw[jj])
	}
	return numPts, nil
}
