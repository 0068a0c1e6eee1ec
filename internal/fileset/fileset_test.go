package fileset

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/header"
)

const (
	testChans = 2
	testDt    = 0.001
	baseMJDf  = 0.25
)

func testSource(numBlocks int64, ptsPerBlock int, offsetSec float64) Source {
	return Source{
		Info: &header.Info{
			NumChan: testChans,
			Dt:      testDt,
			MJDi:    53000,
			MJDf:    baseMJDf + offsetSec/86400.0,
		},
		Size: numBlocks * int64(BytesPerPoint*testChans*ptsPerBlock),
	}
}

func checkInvariants(t *testing.T, meta *Metadata) {
	var total int64
	for _, f := range meta.Files {
		total += f.NumPoints + f.PadPoints
	}
	assert.Equal(t, meta.N, total, "sum of points and padding")
	assert.Zero(t, meta.N%int64(meta.PtsPerBlock), "N on a block boundary")
	assert.InDelta(t, float64(meta.N)*meta.Dt, meta.T, 1e-12)
}

func TestAggregateTwoFilesWithGap(t *testing.T) {
	sources := []Source{
		testSource(2, 500, 0),
		testSource(1, 500, 2.0),
	}
	meta, err := Aggregate(sources, Options{MaxFiles: 32, PtsPerBlock: 500}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(1000), meta.Files[0].NumPoints)
	assert.Equal(t, int64(500), meta.Files[1].NumPoints)
	assert.Equal(t, int64(1000), meta.Files[0].PadPoints)
	assert.Equal(t, int64(0), meta.Files[1].PadPoints)
	assert.Equal(t, int64(2500), meta.N)
	assert.Equal(t, 4.0, meta.Files[1].StartBlock)
	assert.Equal(t, 4.0, meta.Files[1].EndBlock)
	assert.InDelta(t, 2.0, meta.Files[1].Elapsed, 1e-6)
	assert.InDelta(t, 1.0, meta.Files[0].Duration, 1e-12)
	assert.Equal(t, 2000, meta.BytesPerBlock)
	assert.Equal(t, int64(5), meta.NumBlocksTotal())
	assert.Equal(t, int64(2000), meta.StartPoint(1))
	checkInvariants(t, meta)
}

func TestAggregateTrailingPad(t *testing.T) {
	sources := []Source{
		testSource(2, 400, 0),
		testSource(1, 400, 1.9),
	}
	meta, err := Aggregate(sources, Options{MaxFiles: 32, PtsPerBlock: 400}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(1100), meta.Files[0].PadPoints)
	assert.Equal(t, 4.75, meta.Files[1].StartBlock)
	assert.Equal(t, 4.75, meta.Files[1].EndBlock)
	assert.Equal(t, int64(100), meta.Files[1].PadPoints)
	assert.Equal(t, int64(2400), meta.N)
	checkInvariants(t, meta)
}

func TestAggregateContiguous(t *testing.T) {
	sources := []Source{
		testSource(3, 100, 0),
		testSource(2, 100, 0.3),
		testSource(4, 100, 0.5),
	}
	meta, err := Aggregate(sources, Options{MaxFiles: 32, PtsPerBlock: 100}, zap.NewNop())
	require.NoError(t, err)

	for _, f := range meta.Files {
		assert.Equal(t, int64(0), f.PadPoints)
	}
	assert.Equal(t, int64(900), meta.N)
	assert.Equal(t, 3.0, meta.Files[1].StartBlock)
	assert.Equal(t, 5.0, meta.Files[2].StartBlock)
	assert.Equal(t, 8.0, meta.Files[2].EndBlock)
	checkInvariants(t, meta)
}

func TestAggregateNegativeGapPreserved(t *testing.T) {
	sources := []Source{
		testSource(2, 500, 0),
		testSource(1, 500, 0.5),
	}
	meta, err := Aggregate(sources, Options{MaxFiles: 32, PtsPerBlock: 500}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(-499), meta.Files[0].PadPoints)
	assert.Equal(t, int64(499), meta.Files[1].PadPoints)
	assert.Equal(t, int64(1500), meta.N)
	checkInvariants(t, meta)
}

func TestAggregateIgnoresPartialBlocks(t *testing.T) {
	src := testSource(3, 100, 0)
	src.Size += 123
	meta, err := Aggregate([]Source{src}, Options{MaxFiles: 1, PtsPerBlock: 100}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Files[0].NumBlocks)
	assert.Equal(t, int64(300), meta.N)
	assert.Nil(t, meta.OnOff())
}

func TestAggregateTooManyFiles(t *testing.T) {
	sources := []Source{testSource(1, 100, 0), testSource(1, 100, 0.1)}
	_, err := Aggregate(sources, Options{MaxFiles: 1, PtsPerBlock: 100}, zap.NewNop())
	assert.ErrorIs(t, err, ErrTooManyFiles)

	_, err = Aggregate(nil, Options{MaxFiles: 1, PtsPerBlock: 100}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestAggregateMismatchWarns(t *testing.T) {
	second := testSource(1, 100, 0.2)
	second.Info.NumChan = 4
	second.Info.Dt = 0.002
	meta, err := Aggregate(
		[]Source{testSource(2, 100, 0), second},
		Options{MaxFiles: 4, PtsPerBlock: 100},
		zap.NewNop(),
	)
	require.NoError(t, err)
	assert.Equal(t, testChans, meta.NumChan)
	assert.Equal(t, testDt, meta.Dt)
}

func TestOnOff(t *testing.T) {
	sources := []Source{
		testSource(2, 500, 0),
		testSource(1, 500, 2.0),
	}
	meta, err := Aggregate(sources, Options{MaxFiles: 32, PtsPerBlock: 500}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []OnOff{
		{On: 0, Off: 999},
		{On: 1999, Off: 2499},
	}, meta.OnOff())

	sources = []Source{
		testSource(2, 400, 0),
		testSource(1, 400, 1.9),
	}
	meta, err = Aggregate(sources, Options{MaxFiles: 32, PtsPerBlock: 400}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []OnOff{
		{On: 0, Off: 799},
		{On: 1899, Off: 2299},
		{On: 2399, Off: 2399},
	}, meta.OnOff())
}

func TestWriteSummary(t *testing.T) {
	meta, err := Aggregate([]Source{testSource(2, 100, 0)}, Options{MaxFiles: 1, PtsPerBlock: 100}, zap.NewNop())
	require.NoError(t, err)

	var buf bytes.Buffer
	meta.WriteSummary(&buf)
	assert.Contains(t, buf.String(), "Number of files = 1")
	assert.Contains(t, buf.String(), "Total points (N) = 200")
	assert.Contains(t, buf.String(), "Start Block")
}
