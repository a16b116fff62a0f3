// Package storage opens byte-range capable log origins and exposes their
// decoded content as a pull stream of fixed-size chunks.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strings"
)

// Origin is a byte-range capable source of raw (possibly compressed) bytes.
type Origin interface {
	// OpenRange returns a reader positioned at raw byte start.
	OpenRange(ctx context.Context, start int64) (io.ReadCloser, error)
	// Size returns the raw content length.
	Size(ctx context.Context) (int64, error)
}

// BytesOrigin serves an in-memory payload.
type BytesOrigin struct {
	data []byte
}

// NewBytesOrigin wraps data without copying it.
func NewBytesOrigin(data []byte) *BytesOrigin {
	return &BytesOrigin{data: data}
}

// NewPayloadOrigin decodes a queue or log-event payload. Payloads that are
// valid standard base64 are decoded; anything else is taken as UTF-8 text.
func NewPayloadOrigin(payload string) *BytesOrigin {
	return NewBytesOrigin(DecodePayload(payload))
}

// DecodePayload returns the base64-decoded bytes of payload, or the payload
// itself when it is not valid base64.
func DecodePayload(payload string) []byte {
	if payload != "" && !strings.ContainsAny(payload, "\r\n\t ") {
		if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return decoded
		}
	}
	return []byte(payload)
}

func (o *BytesOrigin) OpenRange(_ context.Context, start int64) (io.ReadCloser, error) {
	if start > int64(len(o.data)) {
		start = int64(len(o.data))
	}
	return io.NopCloser(bytes.NewReader(o.data[start:])), nil
}

func (o *BytesOrigin) Size(context.Context) (int64, error) {
	return int64(len(o.data)), nil
}

// ReadAll returns the whole decoded content of origin.
// It is meant for small documents such as configuration files and
// subscription envelopes, not for log objects.
func ReadAll(ctx context.Context, origin Origin) ([]byte, error) {
	stream, err := Open(ctx, origin, 0, Options{})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var buf bytes.Buffer
	for {
		chunk, err := stream.Pull()
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
}
