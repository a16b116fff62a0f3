package ingest

import (
	"bytes"
	"io"

	"github.com/tinytelemetry/ferry/internal/model"
)

// DefaultDelimiter separates records when no delimiter is configured.
const DefaultDelimiter = "\n"

// ChunkSource yields decoded chunks and io.EOF at end of stream.
// *storage.Stream satisfies it.
type ChunkSource interface {
	Pull() ([]byte, error)
}

// RawReader yields raw records and io.EOF at end of stream.
type RawReader interface {
	Next() (model.RawRecord, error)
}

// Splitter cuts a chunk stream into RawRecords on a delimiter.
//
// Offsets are relative to the first byte of the stream it was given; callers
// resuming from a non-zero range start add that base themselves. With the
// default "\n" delimiter a preceding "\r" is consumed as part of the
// delimiter. An empty delimiter turns the whole stream into one record.
type Splitter struct {
	src   ChunkSource
	delim []byte
	crlf  bool

	buf    []byte
	scan   int // index in buf where the next delimiter search starts
	offset model.Offset
	eof    bool
	err    error
}

// NewSplitter returns a splitter over src.
func NewSplitter(src ChunkSource, delimiter string) *Splitter {
	return &Splitter{
		src:   src,
		delim: []byte(delimiter),
		crlf:  delimiter == DefaultDelimiter,
	}
}

// Next returns the next raw record or io.EOF.
func (s *Splitter) Next() (model.RawRecord, error) {
	if s.err != nil {
		return model.RawRecord{}, s.err
	}
	for {
		if len(s.delim) > 0 {
			if rec, ok := s.cut(); ok {
				return rec, nil
			}
		}
		if s.eof {
			if len(s.buf) == 0 {
				s.err = io.EOF
				return model.RawRecord{}, io.EOF
			}
			return s.tail(), nil
		}

		chunk, err := s.src.Pull()
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			s.err = err
			return model.RawRecord{}, err
		}
		s.buf = append(s.buf, chunk...)
	}
}

// cut emits the record ending at the next delimiter in buf, if any.
func (s *Splitter) cut() (model.RawRecord, bool) {
	i := bytes.Index(s.buf[s.scan:], s.delim)
	if i < 0 {
		// a partial delimiter may sit at the end of buf
		s.scan = max(0, len(s.buf)-len(s.delim)+1)
		return model.RawRecord{}, false
	}
	i += s.scan

	payloadEnd := i
	if s.crlf && i > 0 && s.buf[i-1] == '\r' {
		payloadEnd = i - 1
	}
	next := i + len(s.delim)

	rec := model.RawRecord{
		Payload: bytes.Clone(s.buf[:payloadEnd]),
		Newline: bytes.Clone(s.buf[payloadEnd:next]),
	}
	if rec.Payload == nil {
		rec.Payload = []byte{}
	}
	s.offset += int64(next)
	rec.End = s.offset

	s.buf = s.buf[next:]
	s.scan = 0
	return rec, true
}

// tail emits whatever is left after the last delimiter.
func (s *Splitter) tail() model.RawRecord {
	rec := model.RawRecord{Payload: bytes.Clone(s.buf)}
	s.offset += int64(len(s.buf))
	rec.End = s.offset
	s.buf = nil
	s.scan = 0
	return rec
}
