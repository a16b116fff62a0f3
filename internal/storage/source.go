package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/tinytelemetry/ferry/internal/model"
)

// Options tunes how an origin is read.
type Options struct {
	// ChunkSize is the size of each pulled chunk. Defaults to model.DefaultChunkSize.
	ChunkSize int
	// Name labels the origin in log lines.
	Name string
}

// Stream yields the decoded content of an origin in fixed-size chunks,
// starting at the requested decoded offset.
type Stream struct {
	codec     Codec
	r         io.Reader
	closer    io.Closer
	inflate   *inflator
	chunkSize int
	done      bool
}

// Open returns a Stream over origin starting at decoded offset rangeStart.
//
// Compression is detected from the leading bytes of the origin. Uncompressed
// origins are opened directly at rangeStart. Compressed origins cannot be
// seeked into: they are inflated from byte 0 and the first rangeStart decoded
// bytes are discarded. A rangeStart at or past the end of an uncompressed
// origin yields an empty stream.
func Open(ctx context.Context, origin Origin, rangeStart int64, opts Options) (*Stream, error) {
	if rangeStart < 0 {
		return nil, fmt.Errorf("storage: negative range start %d", rangeStart)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = model.DefaultChunkSize
	}

	rc, err := origin.OpenRange(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opts.Name, err)
	}
	br := bufio.NewReaderSize(rc, max(chunkSize, 4096))
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		rc.Close()
		return nil, fmt.Errorf("storage: sniff %s: %w", opts.Name, err)
	}

	s := &Stream{codec: Sniff(head), chunkSize: chunkSize}

	if s.codec == CodecNone {
		if rangeStart == 0 {
			s.r, s.closer = br, rc
			return s, nil
		}
		rc.Close()

		size, err := origin.Size(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: size %s: %w", opts.Name, err)
		}
		if rangeStart >= size {
			log.Printf("storage: requested %s from offset %d, size %d: skip it", opts.Name, rangeStart, size)
			s.done = true
			return s, nil
		}
		ranged, err := origin.OpenRange(ctx, rangeStart)
		if err != nil {
			return nil, fmt.Errorf("storage: open %s at %d: %w", opts.Name, rangeStart, err)
		}
		s.r, s.closer = ranged, ranged
		return s, nil
	}

	in, err := newInflator(s.codec, br)
	if err != nil {
		rc.Close()
		return nil, err
	}
	s.r, s.closer, s.inflate = in, rc, in

	if rangeStart > 0 {
		skipped, err := io.CopyN(io.Discard, in, rangeStart)
		if err == io.EOF {
			log.Printf("storage: requested %s from offset %d, inflated size %d: skip it", opts.Name, rangeStart, skipped)
			s.done = true
			return s, nil
		}
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Codec returns the compression detected on the origin.
func (s *Stream) Codec() Codec { return s.codec }

// Pull returns the next chunk of decoded bytes, or io.EOF once the stream is
// exhausted. Each returned slice is owned by the caller.
func (s *Stream) Pull() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case err == io.EOF:
		s.done = true
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		s.done = true
		return buf[:n], nil
	default:
		s.done = true
		return nil, err
	}
}

// Close releases the underlying origin reader.
func (s *Stream) Close() error {
	if s.inflate != nil {
		s.inflate.Close()
		s.inflate = nil
	}
	if s.closer != nil {
		err := s.closer.Close()
		s.closer = nil
		return err
	}
	return nil
}
