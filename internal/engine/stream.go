package engine

import (
	"context"
	"errors"
	"io"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Stream is a single-pass sequence of files. Next returns io.EOF after the
// last file. Close releases the underlying cursor and may be called more
// than once.
type Stream interface {
	Next(ctx context.Context) (ir.File, error)
	Close() error
}

// sliceStream serves files from memory.
type sliceStream struct {
	files []ir.File
	pos   int
}

// NewSliceStream returns a Stream over files.
func NewSliceStream(files []ir.File) Stream {
	return &sliceStream{files: files}
}

func (s *sliceStream) Next(ctx context.Context) (ir.File, error) {
	if err := ctx.Err(); err != nil {
		return ir.File{}, qerr.Cancelled(err)
	}
	if s.pos >= len(s.files) {
		return ir.File{}, io.EOF
	}
	f := s.files[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.files)
	return nil
}

// Collect drains s and closes it.
func Collect(ctx context.Context, s Stream) ([]ir.File, error) {
	var out []ir.File
	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, s.Close()
		}
		if err != nil {
			_ = s.Close()
			return out, err
		}
		out = append(out, f)
	}
}

// mapStream transforms or drops files from an underlying stream.
type mapStream struct {
	src Stream
	fn  func(f ir.File) (out ir.File, keep bool, err error)
}

func (s *mapStream) Next(ctx context.Context) (ir.File, error) {
	for {
		f, err := s.src.Next(ctx)
		if err != nil {
			return ir.File{}, err
		}
		out, keep, err := s.fn(f)
		if err != nil {
			return ir.File{}, err
		}
		if keep {
			return out, nil
		}
	}
}

func (s *mapStream) Close() error {
	return s.src.Close()
}

// limitStream returns at most n files, closing src once the limit is
// reached.
func limitStream(src Stream, n int) Stream {
	return &limitedStream{src: src, left: n}
}

type limitedStream struct {
	src  Stream
	left int
}

func (s *limitedStream) Next(ctx context.Context) (ir.File, error) {
	if s.left <= 0 {
		_ = s.src.Close()
		return ir.File{}, io.EOF
	}
	f, err := s.src.Next(ctx)
	if err != nil {
		return ir.File{}, err
	}
	s.left--
	return f, nil
}

func (s *limitedStream) Close() error {
	s.left = 0
	return s.src.Close()
}

// skipStream drops the first n files.
func skipStream(src Stream, n int) Stream {
	dropped := 0
	return &mapStream{src: src, fn: func(f ir.File) (ir.File, bool, error) {
		if dropped < n {
			dropped++
			return f, false, nil
		}
		return f, true, nil
	}}
}

// matchStream keeps files whose record satisfies where.
func matchStream(src Stream, m *queryir.Matcher, where *queryir.Or) Stream {
	return &mapStream{src: src, fn: func(f ir.File) (ir.File, bool, error) {
		ok, err := m.Match(where, f)
		return f, ok, err
	}}
}

// stripStream clears metadata.
func stripStream(src Stream) Stream {
	return &mapStream{src: src, fn: func(f ir.File) (ir.File, bool, error) {
		return f.WithoutMetadata(), true, nil
	}}
}

// releaseStream runs release once, on the first Close.
type releaseStream struct {
	Stream
	release func()
}

func (s *releaseStream) Close() error {
	err := s.Stream.Close()
	if s.release != nil {
		s.release()
		s.release = nil
	}
	return err
}

// storeStream classifies errors from a Source cursor.
type storeStream struct {
	Stream
	op string
}

func (s storeStream) Next(ctx context.Context) (ir.File, error) {
	if err := ctx.Err(); err != nil {
		return ir.File{}, qerr.Cancelled(err)
	}
	f, err := s.Stream.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return ir.File{}, qerr.Store(err, s.op)
	}
	return f, err
}
