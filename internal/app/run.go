package app

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/api"
	"github.com/spectriclabs/gmrt-ingest/internal/cache"
	"github.com/spectriclabs/gmrt-ingest/internal/config"
	"github.com/spectriclabs/gmrt-ingest/internal/datasource"
	"github.com/spectriclabs/gmrt-ingest/internal/dedisp"
	"github.com/spectriclabs/gmrt-ingest/internal/fileset"
	"github.com/spectriclabs/gmrt-ingest/internal/ingest"
	"github.com/spectriclabs/gmrt-ingest/internal/mask"
	"github.com/spectriclabs/gmrt-ingest/internal/numerical"
	"github.com/spectriclabs/gmrt-ingest/internal/rawblock"
)

// Inputs is the opened file set and its aggregated timeline.
type Inputs struct {
	Files datasource.FileSet
	Meta  *fileset.Metadata
}

// OpenInputs opens the configured input files and aggregates them.
func OpenInputs(ctx context.Context, cfg *config.Configuration, sdsCache *cache.Cache, logger *zap.Logger) (*Inputs, error) {
	files, err := datasource.OpenFileSet(ctx, cfg, sdsCache, logger, cfg.InputLocation, cfg.InputFiles)
	if err != nil {
		return nil, err
	}
	meta, err := fileset.Aggregate(
		files.Sources(),
		fileset.Options{MaxFiles: cfg.MaxFiles, PtsPerBlock: cfg.PtsPerBlock},
		logger,
	)
	if err != nil {
		files.Close()
		return nil, err
	}
	return &Inputs{Files: files, Meta: meta}, nil
}

func (in *Inputs) Close() {
	in.Files.Close()
}

func sessionOptions(cfg *config.Configuration, files datasource.FileSet, meta *fileset.Metadata) rawblock.Options {
	return rawblock.Options{
		LittleEndian: files[0].Info.LittleEndian,
		Pad:          rawblock.NewPadValues(meta.NumChan, cfg.PadValues),
	}
}

// NewSession starts a session over the already opened files.
func (in *Inputs) NewSession(cfg *config.Configuration, logger *zap.Logger) (*rawblock.Session, error) {
	return rawblock.NewSession(in.Meta, in.Files.Readers(), sessionOptions(cfg, in.Files, in.Meta), logger)
}

// SessionFunc reopens the input files for every session so that
// concurrent requests never share a reader.
func (in *Inputs) SessionFunc(cfg *config.Configuration, sdsCache *cache.Cache, logger *zap.Logger) api.SessionFunc {
	return func(ctx context.Context) (*rawblock.Session, func(), error) {
		files, err := datasource.OpenFileSet(ctx, cfg, sdsCache, logger, cfg.InputLocation, cfg.InputFiles)
		if err != nil {
			return nil, nil, err
		}
		s, err := rawblock.NewSession(in.Meta, files.Readers(), sessionOptions(cfg, files, in.Meta), logger)
		if err != nil {
			files.Close()
			return nil, nil, err
		}
		return s, files.Close, nil
	}
}

// Delays returns the per-channel delay table for the configured DM,
// using the frequency layout of the first file.
func (in *Inputs) Delays(cfg *config.Configuration) dedisp.Delays {
	info := in.Files[0].Info
	if cfg.DM == 0 {
		return make(dedisp.Delays, in.Meta.NumChan)
	}
	return dedisp.DelaysFromDM(cfg.DM, info.Freq, info.ChanWidth, in.Meta.NumChan, in.Meta.Dt)
}

// Summary describes a finished run.
type Summary struct {
	Points        int64
	PaddedBatches int64
	Mean          float64
	StdDev        float64
}

// WriteOutput dedisperses the whole timeline into cfg.Output.
func WriteOutput(ctx context.Context, cfg *config.Configuration, in *Inputs, logger *zap.Logger) (Summary, error) {
	file, err := os.Create(cfg.Output)
	if err != nil {
		return Summary{}, err
	}
	summary, err := Dedisperse(ctx, cfg, in, logger, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return summary, err
}

// Dedisperse runs the full resolution pipeline, or the subband pipeline
// when subbands are configured, and writes float32 little endian
// samples to `w`.
func Dedisperse(ctx context.Context, cfg *config.Configuration, in *Inputs, logger *zap.Logger, w io.Writer) (Summary, error) {
	session, err := in.NewSession(cfg, logger)
	if err != nil {
		return Summary{}, err
	}
	masker := mask.Windows(cfg.Mask)
	delays := in.Delays(cfg)
	bw := bufio.NewWriter(w)

	var summary Summary
	if cfg.NumSubbands > 0 {
		engine, err := dedisp.NewSubbandEngine(in.Meta.NumChan, in.Meta.PtsPerBlock, cfg.NumSubbands, delays, cfg.Transpose)
		if err != nil {
			return Summary{}, err
		}
		p, err := ingest.NewSubbandPipeline(session, masker, engine, logger)
		if err != nil {
			return Summary{}, err
		}
		out := make([]float64, p.Size())
		for {
			res, err := p.Next(ctx, out)
			if err != nil {
				return Summary{}, err
			}
			if res.N == 0 {
				break
			}
			if err := WriteSeries(bw, out); err != nil {
				return Summary{}, err
			}
			summary.count(res)
		}
		summary.setStats(p.Stats())
	} else {
		engine, err := dedisp.NewEngine(in.Meta.NumChan, in.Meta.PtsPerBlock, cfg.BlocksPerRead, delays)
		if err != nil {
			return Summary{}, err
		}
		p, err := ingest.NewPipeline(session, masker, engine, logger)
		if err != nil {
			return Summary{}, err
		}
		out := make([]float64, p.NumPts())
		for {
			res, err := p.Next(ctx, out)
			if err != nil {
				return Summary{}, err
			}
			if res.N == 0 {
				break
			}
			if err := WriteSeries(bw, out[:res.N]); err != nil {
				return Summary{}, err
			}
			summary.count(res)
		}
		summary.setStats(p.Stats())
	}
	if err := bw.Flush(); err != nil {
		return Summary{}, err
	}
	logger.Debug("Dedispersion done", zap.String("session", session.ID.String()), zap.Int64("points", summary.Points))
	return summary, nil
}

func (s *Summary) count(res ingest.Result) {
	s.Points += int64(res.N)
	if res.Padding {
		s.PaddedBatches++
	}
}

func (s *Summary) setStats(stats *numerical.Stats) {
	s.Mean = numerical.SuppressNaN(stats.Mean())
	s.StdDev = numerical.SuppressNaN(stats.StdDev())
}

// WriteSeries writes `data` as float32 little endian samples.
func WriteSeries(w io.Writer, data []float64) error {
	buf := make([]byte, 4*len(data))
	for ii, v := range data {
		binary.LittleEndian.PutUint32(buf[4*ii:], math.Float32bits(float32(v)))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing %d samples: %w", len(data), err)
	}
	return nil
}
