package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec names the compression detected on an origin.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
)

// sniffLen is the number of leading bytes needed to recognise every codec.
const sniffLen = 4

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Sniff detects compression from the leading bytes of a stream.
func Sniff(head []byte) Codec {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CodecGzip
	case bytes.HasPrefix(head, zstdMagic):
		return CodecZstd
	default:
		return CodecNone
	}
}

// DecodeError reports corrupt compressed content. It is fatal for the source
// being read: a partially inflated stream cannot be resumed mid-chunk.
type DecodeError struct {
	Codec Codec
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("storage: decode %s: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err (or anything it wraps) is a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// sourceReader remembers the last error returned by the raw origin so that
// read failures of the transport can be told apart from corrupt content.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// inflator exposes the decompressed bytes of a compressed origin.
type inflator struct {
	codec Codec
	src   *sourceReader
	dec   io.Reader
	close func()
}

func newInflator(codec Codec, r io.Reader) (*inflator, error) {
	src := &sourceReader{r: r}
	in := &inflator{codec: codec, src: src}

	switch codec {
	case CodecGzip:
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, in.classify(err)
		}
		in.dec = zr
		in.close = func() { _ = zr.Close() }
	case CodecZstd:
		zr, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, in.classify(err)
		}
		in.dec = zr
		in.close = zr.Close
	default:
		return nil, fmt.Errorf("storage: unsupported codec %q", codec)
	}
	return in, nil
}

func (in *inflator) Read(p []byte) (int, error) {
	n, err := in.dec.Read(p)
	if err != nil && err != io.EOF {
		return n, in.classify(err)
	}
	return n, err
}

// classify returns transport failures untouched and wraps everything else.
func (in *inflator) classify(err error) error {
	if in.src.err != nil && errors.Is(err, in.src.err) {
		return err
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return &DecodeError{Codec: in.codec, Err: io.ErrUnexpectedEOF}
	}
	return &DecodeError{Codec: in.codec, Err: err}
}

func (in *inflator) Close() {
	if in.close != nil {
		in.close()
	}
}
