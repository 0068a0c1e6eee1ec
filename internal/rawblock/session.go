package rawblock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spectriclabs/gmrt-ingest/internal/fileset"
)

var (
	ErrRead           = errors.New("rawblock: problem reading record")
	ErrSeekOutOfRange = errors.New("rawblock: block out of range")
	ErrBufferSize     = errors.New("rawblock: destination buffer too small")
)

type Options struct {
	LittleEndian bool
	Pad          PadValues
}

// Session reads fixed-size converted blocks from the padded timeline
// of a file set. A Session is owned by a single caller.
type Session struct {
	ID     uuid.UUID
	meta   *fileset.Metadata
	files  []io.ReadSeeker
	order  binary.ByteOrder
	pad    PadValues
	logger *zap.Logger

	currentFile  int
	currentBlock int64
	bufferPts    int   // converted points staged at the front of buffer
	padNum       int64 // padding already emitted for currentFile
	shiftBuffer  bool  // move the spilled tail of buffer to its front on the next read

	sampPerBlock int
	raw          []byte // one physical block
	buffer       []byte // two converted blocks
}

// NewSession prepares a reader over `files`, which must be in the same
// order as the files aggregated into `meta`.
func NewSession(meta *fileset.Metadata, files []io.ReadSeeker, opts Options, logger *zap.Logger) (*Session, error) {
	if len(files) != len(meta.Files) {
		return nil, fmt.Errorf("rawblock: %d files given for a set of %d", len(files), len(meta.Files))
	}
	pad := opts.Pad
	if len(pad.Chan) != meta.NumChan {
		pad = NewPadValues(meta.NumChan, nil)
	}
	var order binary.ByteOrder = binary.BigEndian
	if opts.LittleEndian {
		order = binary.LittleEndian
	}
	id := uuid.New()
	s := &Session{
		ID:           id,
		meta:         meta,
		files:        files,
		order:        order,
		pad:          pad,
		logger:       logger.With(zap.String("session", id.String())),
		shiftBuffer:  true,
		sampPerBlock: meta.SampPerBlock(),
		raw:          make([]byte, meta.BytesPerBlock),
		buffer:       make([]byte, 2*meta.SampPerBlock()),
	}
	return s, nil
}

// Metadata returns the file set the session reads from.
func (s *Session) Metadata() *fileset.Metadata {
	return s.meta
}

// Pad returns the values used for padding and masking.
func (s *Session) Pad() PadValues {
	return s.pad
}

// CurrentBlock is the global index of the next block to be read.
func (s *Session) CurrentBlock() int64 {
	return s.currentBlock
}

// StartTime is the offset in seconds of the next block to be read.
func (s *Session) StartTime() float64 {
	return float64(s.currentBlock) * s.meta.TimePerBlock()
}

// SampPerBlock is the size in bytes of one converted block.
func (s *Session) SampPerBlock() int {
	return s.sampPerBlock
}

// Reset rewinds every file and the cursor to the start of the timeline.
func (s *Session) Reset() error {
	if err := s.rewindFrom(0); err != nil {
		return err
	}
	s.currentFile = 0
	s.currentBlock = 0
	s.bufferPts = 0
	s.padNum = 0
	s.shiftBuffer = true
	return nil
}

// ReadBlock reads one block of converted samples into `dst`. It
// returns 1 and whether any padding went into the block, or 0 once the
// timeline is exhausted. Read failures other than end of file are
// returned as errors wrapping ErrRead.
func (s *Session) ReadBlock(dst []byte) (int, bool, error) {
	if len(dst) < s.sampPerBlock {
		return 0, false, fmt.Errorf("%w: %d < %d", ErrBufferSize, len(dst), s.sampPerBlock)
	}
	dst = dst[:s.sampPerBlock]
	numchan := s.meta.NumChan
	ptsPerBlock := s.meta.PtsPerBlock

	if s.bufferPts > 0 && s.shiftBuffer {
		copy(s.buffer, s.buffer[s.sampPerBlock:s.sampPerBlock+s.bufferPts*numchan])
	}
	s.shiftBuffer = true

	padding := false
	for s.currentFile < len(s.files) {
		_, err := io.ReadFull(s.files[s.currentFile], s.raw)
		if err == nil {
			if s.bufferPts == 0 {
				ConvertBlock(s.order, s.raw, dst)
			} else {
				// The tail of the block spills past sampPerBlock and
				// is shifted to the front on the next read.
				ConvertBlock(s.order, s.raw, s.buffer[s.bufferPts*numchan:])
				copy(dst, s.buffer[:s.sampPerBlock])
			}
			s.currentBlock++
			return 1, padding, nil
		}
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, padding, fmt.Errorf(
				"%w: file %d, block %d: %v", ErrRead, s.currentFile, s.currentBlock, err,
			)
		}

		numToPad := s.meta.Files[s.currentFile].PadPoints - s.padNum
		if numToPad <= 0 {
			s.padNum = 0
			s.currentFile++
			continue
		}

		padding = true
		needed := int64(ptsPerBlock - s.bufferPts)
		if numToPad >= needed {
			s.pad.Fill(s.buffer[s.bufferPts*numchan:], int(needed))
			copy(dst, s.buffer[:s.sampPerBlock])
			s.bufferPts = 0
			s.padNum += needed
			s.currentBlock++
			if s.padNum == s.meta.Files[s.currentFile].PadPoints {
				s.padNum = 0
				s.currentFile++
			}
			return 1, true, nil
		}

		// Less than the rest of a block of padding: stage it and
		// complete the block from the next file.
		s.pad.Fill(s.buffer[s.bufferPts*numchan:], int(numToPad))
		s.bufferPts += int(numToPad)
		s.padNum = 0
		s.currentFile++
	}

	if s.bufferPts > 0 {
		s.logger.Warn(
			"Timeline ended inside a block",
			zap.Int("staged_points", s.bufferPts),
			zap.Int64("block", s.currentBlock),
		)
		s.bufferPts = 0
	}
	return 0, padding, nil
}

// ReadBlocks reads `numBlocks` consecutive blocks into `dst`. padding is
// true if any of the blocks held padding. The context is checked before
// each block read.
func (s *Session) ReadBlocks(ctx context.Context, dst []byte, numBlocks int) (int, bool, error) {
	if len(dst) < numBlocks*s.sampPerBlock {
		return 0, false, fmt.Errorf("%w: %d < %d", ErrBufferSize, len(dst), numBlocks*s.sampPerBlock)
	}
	numRead := 0
	padding := false
	for ii := 0; ii < numBlocks; ii++ {
		if err := ctx.Err(); err != nil {
			return numRead, padding, err
		}
		num, pad, err := s.ReadBlock(dst[ii*s.sampPerBlock:])
		if err != nil {
			return numRead, padding, err
		}
		numRead += num
		if pad {
			padding = true
		}
	}
	return numRead, padding, nil
}

// rewindFrom moves every file from index `first` on back to its start.
func (s *Session) rewindFrom(first int) error {
	for ii := first; ii < len(s.files); ii++ {
		if _, err := s.files[ii].Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("%w: rewinding file %d: %v", ErrRead, ii, err)
		}
	}
	return nil
}

// Seek positions the session so that the next ReadBlock returns global
// block `block`.
func (s *Session) Seek(block int64) error {
	total := s.meta.NumBlocksTotal()
	if block < 0 || block >= total {
		return fmt.Errorf("%w: block %d, valid range [0, %d)", ErrSeekOutOfRange, block, total)
	}
	ptsPerBlock := int64(s.meta.PtsPerBlock)
	bytesPerBlock := int64(s.meta.BytesPerBlock)
	target := block * ptsPerBlock

	// Find the file whose data or trailing padding holds the target
	// point. Negative padding emits nothing, so overlapping files follow
	// each other directly in the stream.
	filenum := len(s.meta.Files) - 1
	var start int64
	for ii := range s.meta.Files {
		f := &s.meta.Files[ii]
		end := start + f.NumPoints + max(f.PadPoints, 0)
		if target < end || ii == filenum {
			filenum = ii
			break
		}
		start = end
	}
	f := &s.meta.Files[filenum]
	offset := target - start

	// Later files may have been read already.
	if err := s.rewindFrom(filenum + 1); err != nil {
		return err
	}

	s.currentFile = filenum
	s.currentBlock = block
	s.bufferPts = 0
	s.padNum = 0
	s.shiftBuffer = true

	if offset >= f.NumPoints {
		// Padding region: leave the file at its end and skip the
		// padding already covered by earlier blocks.
		s.padNum = offset - f.NumPoints
		if _, err := s.files[filenum].Seek(f.NumBlocks*bytesPerBlock, io.SeekStart); err != nil {
			return fmt.Errorf("%w: seeking file %d: %v", ErrRead, filenum, err)
		}
		s.logger.Debug(
			"Seek into padding",
			zap.Int64("block", block),
			zap.Int("file", filenum),
			zap.Int64("pad_num", s.padNum),
		)
		return nil
	}

	physBlock := offset / ptsPerBlock
	within := offset % ptsPerBlock
	if _, err := s.files[filenum].Seek(physBlock*bytesPerBlock, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking file %d: %v", ErrRead, filenum, err)
	}
	if within != 0 {
		// The global block grid is offset from this file's own grid:
		// stage the tail of the physical block and keep it in place.
		if _, err := io.ReadFull(s.files[filenum], s.raw); err != nil {
			return fmt.Errorf("%w: file %d, block %d: %v", ErrRead, filenum, physBlock, err)
		}
		numchan := int64(s.meta.NumChan)
		ConvertBlock(s.order, s.raw, s.buffer)
		copy(s.buffer, s.buffer[within*numchan:s.sampPerBlock])
		s.bufferPts = int(ptsPerBlock - within)
		s.shiftBuffer = false
	}
	s.logger.Debug(
		"Seek into data",
		zap.Int64("block", block),
		zap.Int("file", filenum),
		zap.Int("buffer_pts", s.bufferPts),
	)
	return nil
}
