package fileset

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/header"
)

// BytesPerPoint is the width of one raw GMRT sample.
const BytesPerPoint = 2

var (
	ErrTooManyFiles = errors.New("fileset: too many input files")
	ErrNoFiles      = errors.New("fileset: no input files")
)

// Source is one physical raw file: its parsed header and its size in bytes.
type Source struct {
	Info *header.Info
	Size int64
}

type Options struct {
	MaxFiles    int
	PtsPerBlock int
}

// File holds the per-file part of the virtual timeline.
type File struct {
	NumBlocks  int64   `json:"num_blocks"`
	NumPoints  int64   `json:"num_points"`
	Elapsed    float64 `json:"elapsed"`     // seconds since the first file started
	Duration   float64 `json:"duration"`    // seconds of recorded data
	MJDi       int     `json:"mjd_i"`       // integer day of the start MJD
	MJDf       float64 `json:"mjd_f"`       // fractional day of the start MJD
	StartBlock float64 `json:"start_block"` // global block where the data starts
	EndBlock   float64 `json:"end_block"`   // global block holding the last data point
	PadPoints  int64   `json:"pad_points"`  // synthetic points following this file
}

// Metadata describes the whole observation as one padded timeline.
// It is built once by Aggregate and never modified afterwards.
type Metadata struct {
	Files         []File  `json:"files"`
	N             int64   `json:"n"`
	PtsPerBlock   int     `json:"pts_per_block"`
	NumChan       int     `json:"num_chan"`
	BytesPerPoint int     `json:"bytes_per_point"`
	BytesPerBlock int     `json:"bytes_per_block"`
	Dt            float64 `json:"dt"`
	T             float64 `json:"t"`
}

// MJDSecDiff returns the number of seconds between two MJDs
// given as separate integer and fractional days.
func MJDSecDiff(i1 int, f1 float64, i2 int, f2 float64) float64 {
	return float64(i1-i2)*86400.0 + (f1-f2)*86400.0
}

// Aggregate builds the padded timeline for a set of raw files that are
// to be patched together, in the order given.
func Aggregate(sources []Source, opts Options, logger *zap.Logger) (*Metadata, error) {
	numFiles := len(sources)
	if numFiles == 0 {
		return nil, ErrNoFiles
	}
	if numFiles > opts.MaxFiles {
		return nil, fmt.Errorf("%w: %d files, maximum is %d", ErrTooManyFiles, numFiles, opts.MaxFiles)
	}
	if opts.PtsPerBlock < 1 {
		return nil, fmt.Errorf("fileset: bad points per block %d", opts.PtsPerBlock)
	}

	first := sources[0].Info
	if first.NumChan < 1 || first.Dt <= 0 {
		return nil, fmt.Errorf("fileset: bad header for first file (channels %d, dt %g)", first.NumChan, first.Dt)
	}

	meta := &Metadata{
		Files:         make([]File, numFiles),
		PtsPerBlock:   opts.PtsPerBlock,
		NumChan:       first.NumChan,
		BytesPerPoint: BytesPerPoint,
		Dt:            first.Dt,
	}
	meta.BytesPerBlock = meta.BytesPerPoint * meta.NumChan * meta.PtsPerBlock
	ptsPerBlock := int64(opts.PtsPerBlock)

	f0 := &meta.Files[0]
	f0.NumBlocks = sources[0].Size / int64(meta.BytesPerBlock)
	f0.NumPoints = f0.NumBlocks * ptsPerBlock
	f0.Duration = float64(f0.NumPoints) * meta.Dt
	f0.MJDi, f0.MJDf = first.MJDi, first.MJDf
	f0.StartBlock = 0
	f0.EndBlock = float64(f0.NumBlocks) - 1
	meta.N = f0.NumPoints

	for ii := 1; ii < numFiles; ii++ {
		info := sources[ii].Info
		if info.NumChan != meta.NumChan {
			logger.Warn(
				"Number of channels is not the same",
				zap.Int("file", ii+1),
				zap.Int("num_chan", info.NumChan),
				zap.Int("expected", meta.NumChan),
			)
		}
		if info.Dt != meta.Dt {
			logger.Warn(
				"Sample time is not the same",
				zap.Int("file", ii+1),
				zap.Float64("dt", info.Dt),
				zap.Float64("expected", meta.Dt),
			)
		}
		prev := &meta.Files[ii-1]
		f := &meta.Files[ii]
		f.NumBlocks = sources[ii].Size / int64(meta.BytesPerBlock)
		f.NumPoints = f.NumBlocks * ptsPerBlock
		f.Duration = float64(f.NumPoints) * meta.Dt
		f.MJDi, f.MJDf = info.MJDi, info.MJDf
		f.Elapsed = MJDSecDiff(f.MJDi, f.MJDf, prev.MJDi, prev.MJDf)
		// Negative gaps (overlapping or unordered files) are kept as is.
		prev.PadPoints = int64((f.Elapsed-prev.Duration)/meta.Dt + 0.5)
		f.Elapsed += prev.Elapsed
		meta.N += f.NumPoints + prev.PadPoints
		f.StartBlock = float64(meta.N-f.NumPoints) / float64(ptsPerBlock)
		f.EndBlock = float64(meta.N)/float64(ptsPerBlock) - 1
	}

	last := &meta.Files[numFiles-1]
	last.PadPoints = int64(math.Ceil(last.EndBlock+1.0))*ptsPerBlock - meta.N
	meta.N += last.PadPoints
	meta.T = float64(meta.N) * meta.Dt
	return meta, nil
}

// NumBlocksTotal returns the number of blocks in the padded timeline.
func (m *Metadata) NumBlocksTotal() int64 {
	return m.N / int64(m.PtsPerBlock)
}

// SampPerBlock returns the number of bytes in one converted block.
func (m *Metadata) SampPerBlock() int {
	return m.PtsPerBlock * m.NumChan
}

// TimePerBlock returns the duration of one block in seconds.
func (m *Metadata) TimePerBlock() float64 {
	return float64(m.PtsPerBlock) * m.Dt
}

// StartPoint returns the global index of the first data point of file ii.
func (m *Metadata) StartPoint(ii int) int64 {
	return int64(math.Round(m.Files[ii].StartBlock * float64(m.PtsPerBlock)))
}
