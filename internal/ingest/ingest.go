package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/dedisp"
	"github.com/spectriclabs/gmrt-ingest/internal/mask"
	"github.com/spectriclabs/gmrt-ingest/internal/numerical"
	"github.com/spectriclabs/gmrt-ingest/internal/rawblock"
)

var ErrPointCount = errors.New("ingest: points per call must be a multiple of the block length")

// Result describes one batch of dedispersed output.
type Result struct {
	N         int  // valid output points
	Padding   bool // padding went into the batch; skip statistics
	NumMasked int  // channels masked in the most recent block
}

type stage struct {
	session *rawblock.Session
	masker  mask.Provider
	logger  *zap.Logger
	stats   numerical.Stats
}

// read fills `dst` with `numBlocks` masked blocks. Blocks past the end
// of the timeline are filled with padding.
func (s *stage) read(ctx context.Context, dst []byte, numBlocks int) (int, bool, int, error) {
	meta := s.session.Metadata()
	start := s.session.StartTime()
	numRead, padding, err := s.session.ReadBlocks(ctx, dst, numBlocks)
	if err != nil {
		return 0, false, 0, err
	}
	pad := s.session.Pad()
	if numRead < numBlocks {
		pad.Fill(dst[numRead*s.session.SampPerBlock():], (numBlocks-numRead)*meta.PtsPerBlock)
	}
	if s.masker == nil {
		return numRead, padding, 0, nil
	}
	res := s.masker.Query(start, float64(numBlocks)*meta.TimePerBlock())
	numMasked, err := mask.Apply(dst, meta.NumChan, res, pad.Chan)
	if err != nil {
		return 0, false, 0, err
	}
	if numMasked > 0 {
		s.logger.Debug(
			"Masked channels",
			zap.Float64("start", start),
			zap.Stringer("kind", res.Kind),
			zap.Int("num_masked", numMasked),
		)
	}
	return numRead, padding, numMasked, nil
}

// Stats returns the running statistics of the unpadded output so far.
func (s *stage) Stats() *numerical.Stats {
	return &s.stats
}

// Pipeline produces a single dedispersed time series.
type Pipeline struct {
	stage
	engine    *dedisp.Engine
	numBlocks int
	exhausted bool
}

func NewPipeline(session *rawblock.Session, masker mask.Provider, engine *dedisp.Engine, logger *zap.Logger) (*Pipeline, error) {
	ptsPerBlock := session.Metadata().PtsPerBlock
	if engine.NumPts()%ptsPerBlock != 0 {
		return nil, fmt.Errorf("%w: %d points, blocks of %d", ErrPointCount, engine.NumPts(), ptsPerBlock)
	}
	return &Pipeline{
		stage:     stage{session: session, masker: masker, logger: logger},
		engine:    engine,
		numBlocks: engine.NumPts() / ptsPerBlock,
	}, nil
}

// NumPts is the size `out` must have for Next.
func (p *Pipeline) NumPts() int {
	return p.engine.NumPts()
}

// Next reads, masks and dedisperses the next batch into `out`. The
// first call reads two batches to fill the delay history. A Result
// with N == 0 means the timeline is exhausted.
func (p *Pipeline) Next(ctx context.Context, out []float64) (Result, error) {
	for !p.exhausted {
		numRead, padding, numMasked, err := p.read(ctx, p.engine.Current(), p.numBlocks)
		if err != nil {
			return Result{}, err
		}
		n, err := p.engine.Dedisperse(out)
		if err != nil {
			return Result{}, err
		}
		if numRead != p.numBlocks {
			p.exhausted = true
		}
		if n == 0 {
			continue
		}
		res := Result{
			N:         numRead * p.session.Metadata().PtsPerBlock,
			Padding:   padding,
			NumMasked: numMasked,
		}
		if !res.Padding && res.N > 0 {
			p.stats.Add(out[:res.N])
		}
		return res, nil
	}
	return Result{}, nil
}

// SubbandPipeline produces one time series per subband, one block at
// a time.
type SubbandPipeline struct {
	stage
	engine *dedisp.SubbandEngine
}

func NewSubbandPipeline(session *rawblock.Session, masker mask.Provider, engine *dedisp.SubbandEngine, logger *zap.Logger) (*SubbandPipeline, error) {
	ptsPerBlock := session.Metadata().PtsPerBlock
	if engine.NumPts() != ptsPerBlock {
		return nil, fmt.Errorf("%w: %d points, blocks of %d", ErrPointCount, engine.NumPts(), ptsPerBlock)
	}
	return &SubbandPipeline{
		stage:  stage{session: session, masker: masker, logger: logger},
		engine: engine,
	}, nil
}

// Size is the number of values `out` must hold for Next.
func (p *SubbandPipeline) Size() int {
	return p.engine.NumPts() * p.engine.NumSubbands()
}

// Next reads one block and writes NumSubbands dedispersed series into
// `out`. The first call reads two blocks. N == 0 means the timeline
// is exhausted.
func (p *SubbandPipeline) Next(ctx context.Context, out []float64) (Result, error) {
	for {
		numRead, padding, numMasked, err := p.read(ctx, p.engine.Current(), 1)
		if err != nil {
			return Result{}, err
		}
		if numRead == 0 {
			return Result{}, nil
		}
		n, err := p.engine.Dedisperse(out)
		if err != nil {
			return Result{}, err
		}
		if n == 0 {
			continue
		}
		if !padding {
			p.stats.Add(out[:p.Size()])
		}
		return Result{N: n, Padding: padding, NumMasked: numMasked}, nil
	}
}
