package rawblock

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/fileset"
	"github.com/spectriclabs/gmrt-ingest/internal/header"
)

const (
	testChans  = 2
	testPts    = 4
	testDt     = 0.001
	testMJDi   = 53000
	testMJDf   = 0.5
	padChan0   = 250
	padChan1   = 251
	sampleBase = 1
)

type testFile struct {
	numBlocks int
	offsetSec float64
}

// sampleValue gives every recorded point of every file a distinct
// converted value that never collides with the pad values.
func sampleValue(file, point, channel int) byte {
	return byte((file*61+point*7+channel*3)%200 + sampleBase)
}

type fixture struct {
	meta     *fileset.Metadata
	raw      [][]byte
	pad      PadValues
	order    binary.ByteOrder
	timeline []byte
	padded   []bool // per point
}

func newFixture(t *testing.T, files []testFile, order binary.ByteOrder) *fixture {
	fx := &fixture{
		pad:   NewPadValues(testChans, []float64{padChan0, padChan1}),
		order: order,
	}
	var sources []fileset.Source
	for fi, tf := range files {
		numPts := tf.numBlocks * testPts
		data := make([]byte, numPts*testChans*2)
		for p := 0; p < numPts; p++ {
			for c := 0; c < testChans; c++ {
				v := sampleValue(fi, p, c)
				order.PutUint16(data[(p*testChans+c)*2:], ^uint16(uint16(v)<<2))
			}
		}
		fx.raw = append(fx.raw, data)
		sources = append(sources, fileset.Source{
			Info: &header.Info{
				NumChan: testChans,
				Dt:      testDt,
				MJDi:    testMJDi,
				MJDf:    testMJDf + tf.offsetSec/86400.0,
			},
			Size: int64(len(data)),
		})
	}
	meta, err := fileset.Aggregate(sources, fileset.Options{MaxFiles: 8, PtsPerBlock: testPts}, zap.NewNop())
	require.NoError(t, err)
	fx.meta = meta

	for fi, f := range meta.Files {
		for p := 0; p < int(f.NumPoints); p++ {
			for c := 0; c < testChans; c++ {
				fx.timeline = append(fx.timeline, sampleValue(fi, p, c))
			}
			fx.padded = append(fx.padded, false)
		}
		for p := 0; p < int(f.PadPoints); p++ {
			fx.timeline = append(fx.timeline, fx.pad.Chan...)
			fx.padded = append(fx.padded, true)
		}
	}
	// Overlapping files are read back to back, so their stream outlasts
	// the aggregated point count.
	require.GreaterOrEqual(t, len(fx.timeline), int(meta.N)*testChans)
	return fx
}

func (fx *fixture) session(t *testing.T) *Session {
	readers := make([]io.ReadSeeker, len(fx.raw))
	for i, data := range fx.raw {
		readers[i] = bytes.NewReader(data)
	}
	s, err := NewSession(fx.meta, readers, Options{
		LittleEndian: fx.order == binary.LittleEndian,
		Pad:          fx.pad,
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func (fx *fixture) block(b int) ([]byte, bool) {
	spb := testPts * testChans
	padding := false
	for p := b * testPts; p < (b+1)*testPts; p++ {
		padding = padding || fx.padded[p]
	}
	return fx.timeline[b*spb : (b+1)*spb], padding
}

// Three files: a 6 point gap after the first, the third following the
// second with no gap, so the second and third start off the block grid.
var gappedSet = []testFile{
	{numBlocks: 3, offsetSec: 0},
	{numBlocks: 2, offsetSec: 0.018},
	{numBlocks: 1, offsetSec: 0.026},
}

// The second file starts 2.6 points before the first one ends.
var overlapSet = []testFile{
	{numBlocks: 3, offsetSec: 0},
	{numBlocks: 3, offsetSec: 0.0094},
}

func TestOverlapSetLayout(t *testing.T) {
	fx := newFixture(t, overlapSet, binary.LittleEndian)
	assert.Equal(t, int64(-2), fx.meta.Files[0].PadPoints)
	assert.Equal(t, int64(2), fx.meta.Files[1].PadPoints)
	assert.Equal(t, int64(24), fx.meta.N)
}

func TestReadBlockOverlap(t *testing.T) {
	fx := newFixture(t, overlapSet, binary.LittleEndian)
	s := fx.session(t)
	dst := make([]byte, s.SampPerBlock())

	numBlocks := 0
	for {
		n, padding, err := s.ReadBlock(dst)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		want, _ := fx.block(numBlocks)
		assert.Equal(t, want, dst, "block %d", numBlocks)
		assert.False(t, padding, "block %d", numBlocks)
		numBlocks++
	}
	assert.Equal(t, 6, numBlocks)
}

func TestGappedSetLayout(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	assert.Equal(t, int64(6), fx.meta.Files[0].PadPoints)
	assert.Equal(t, int64(0), fx.meta.Files[1].PadPoints)
	assert.Equal(t, int64(2), fx.meta.Files[2].PadPoints)
	assert.Equal(t, int64(32), fx.meta.N)
}

func TestReadBlockSequential(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		fx := newFixture(t, gappedSet, order)
		s := fx.session(t)

		dst := make([]byte, s.SampPerBlock())
		var flags []bool
		numBlocks := 0
		for {
			n, padding, err := s.ReadBlock(dst)
			require.NoError(t, err)
			if n == 0 {
				break
			}
			want, wantPad := fx.block(numBlocks)
			assert.Equal(t, want, dst, "block %d (%s)", numBlocks, order)
			assert.Equal(t, wantPad, padding, "padding of block %d", numBlocks)
			flags = append(flags, padding)
			numBlocks++
		}
		assert.Equal(t, int(fx.meta.NumBlocksTotal()), numBlocks)
		assert.Equal(t, []bool{false, false, false, true, true, false, false, true}, flags)

		// Exhausted sessions keep returning nothing.
		n, padding, err := s.ReadBlock(dst)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.False(t, padding)
	}
}

func TestSeekMatchesSequential(t *testing.T) {
	sets := [][]testFile{
		gappedSet,
		{{numBlocks: 2, offsetSec: 0}, {numBlocks: 3, offsetSec: 0.011}},
		{{numBlocks: 1, offsetSec: 0}, {numBlocks: 1, offsetSec: 0.004}, {numBlocks: 2, offsetSec: 0.011}},
		{{numBlocks: 5, offsetSec: 0}},
		overlapSet,
	}
	for si, set := range sets {
		fx := newFixture(t, set, binary.LittleEndian)
		total := int(fx.meta.NumBlocksTotal())
		dst := make([]byte, testPts*testChans)
		for b := 0; b < total; b++ {
			s := fx.session(t)
			require.NoError(t, s.Seek(int64(b)))
			assert.Equal(t, int64(b), s.CurrentBlock())

			// Read to the end from the seek point.
			for bb := b; bb < total; bb++ {
				n, padding, err := s.ReadBlock(dst)
				require.NoError(t, err)
				require.Equal(t, 1, n, "set %d seek %d block %d", si, b, bb)
				want, wantPad := fx.block(bb)
				assert.Equal(t, want, dst, "set %d seek %d block %d", si, b, bb)
				assert.Equal(t, wantPad, padding, "set %d seek %d block %d", si, b, bb)
			}
			n, _, err := s.ReadBlock(dst)
			require.NoError(t, err)
			assert.Zero(t, n)
		}
	}
}

func TestSeekBackAfterExhaustion(t *testing.T) {
	sets := [][]testFile{
		gappedSet,
		{{numBlocks: 1, offsetSec: 0}, {numBlocks: 1, offsetSec: 0.004}, {numBlocks: 2, offsetSec: 0.011}},
		overlapSet,
	}
	for si, set := range sets {
		fx := newFixture(t, set, binary.LittleEndian)
		total := int(fx.meta.NumBlocksTotal())
		s := fx.session(t)
		dst := make([]byte, s.SampPerBlock())
		for {
			n, _, err := s.ReadBlock(dst)
			require.NoError(t, err)
			if n == 0 {
				break
			}
		}

		// Every file has been read to its end; seek back from the last
		// block to the first on the same session.
		for b := total - 1; b >= 0; b-- {
			require.NoError(t, s.Seek(int64(b)))
			for bb := b; bb < total; bb++ {
				n, padding, err := s.ReadBlock(dst)
				require.NoError(t, err)
				require.Equal(t, 1, n, "set %d seek %d block %d", si, b, bb)
				want, wantPad := fx.block(bb)
				assert.Equal(t, want, dst, "set %d seek %d block %d", si, b, bb)
				assert.Equal(t, wantPad, padding, "set %d seek %d block %d", si, b, bb)
			}
			n, _, err := s.ReadBlock(dst)
			require.NoError(t, err)
			assert.Zero(t, n, "set %d seek %d", si, b)
		}
	}
}

func TestSeekOutOfRange(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	s := fx.session(t)
	assert.ErrorIs(t, s.Seek(-1), ErrSeekOutOfRange)
	assert.ErrorIs(t, s.Seek(fx.meta.NumBlocksTotal()), ErrSeekOutOfRange)
}

func TestSeekAfterReadAndReset(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	s := fx.session(t)
	dst := make([]byte, s.SampPerBlock())

	for i := 0; i < 6; i++ {
		_, _, err := s.ReadBlock(dst)
		require.NoError(t, err)
	}
	require.NoError(t, s.Seek(1))
	_, _, err := s.ReadBlock(dst)
	require.NoError(t, err)
	want, _ := fx.block(1)
	assert.Equal(t, want, dst)

	require.NoError(t, s.Reset())
	assert.Zero(t, s.CurrentBlock())
	_, _, err = s.ReadBlock(dst)
	require.NoError(t, err)
	want, _ = fx.block(0)
	assert.Equal(t, want, dst)
	assert.InDelta(t, float64(testPts)*testDt, s.StartTime(), 1e-12)
}

func TestReadBlocks(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	s := fx.session(t)
	spb := s.SampPerBlock()
	dst := make([]byte, 3*spb)

	n, padding, err := s.ReadBlocks(context.Background(), dst, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, padding)
	assert.Equal(t, fx.timeline[:3*spb], dst)

	// One padded block in the run flags the whole run.
	n, padding, err = s.ReadBlocks(context.Background(), dst, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, padding)
	assert.Equal(t, fx.timeline[3*spb:6*spb], dst)

	// Only two blocks remain.
	n, padding, err = s.ReadBlocks(context.Background(), dst, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, padding)
}

func TestReadBlocksCancelled(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	s := fx.session(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, _, err := s.ReadBlocks(ctx, make([]byte, 2*s.SampPerBlock()), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Zero(t, s.CurrentBlock())
}

type failingReader struct {
	*bytes.Reader
}

func (f failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestReadBlockFailure(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	readers := []io.ReadSeeker{
		bytes.NewReader(fx.raw[0]),
		failingReader{bytes.NewReader(fx.raw[1])},
		bytes.NewReader(fx.raw[2]),
	}
	s, err := NewSession(fx.meta, readers, Options{LittleEndian: true}, zap.NewNop())
	require.NoError(t, err)

	dst := make([]byte, s.SampPerBlock())
	for i := 0; i < 4; i++ {
		_, _, err := s.ReadBlock(dst)
		require.NoError(t, err)
	}
	_, _, err = s.ReadBlock(dst)
	assert.ErrorIs(t, err, ErrRead)
}

func TestNewSessionChecks(t *testing.T) {
	fx := newFixture(t, gappedSet, binary.LittleEndian)
	_, err := NewSession(fx.meta, []io.ReadSeeker{bytes.NewReader(nil)}, Options{}, zap.NewNop())
	assert.Error(t, err)

	s := fx.session(t)
	_, _, err = s.ReadBlock(make([]byte, 1))
	assert.ErrorIs(t, err, ErrBufferSize)

	// Pad values of the wrong width fall back to the default.
	readers := []io.ReadSeeker{bytes.NewReader(nil), bytes.NewReader(nil), bytes.NewReader(nil)}
	s, err = NewSession(fx.meta, readers, Options{Pad: NewPadValues(5, nil)}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []byte{DefaultPadValue, DefaultPadValue}, s.Pad().Chan)
}
