// Package ingest turns a decoded chunk stream into logical records and events
// with byte-accurate offsets.
//
// Stages are pull iterators, each owning only its upstream:
// Splitter -> Aggregator -> JSONCollector, assembled by NewRecordReader.
package ingest

import (
	"github.com/tinytelemetry/ferry/internal/model"
)

// DecodeConfig bundles the per-input decoding settings.
type DecodeConfig struct {
	// Delimiter splits records. Nil selects DefaultDelimiter; a pointer to ""
	// makes the whole stream a single record.
	Delimiter *string
	Multiline MultilineConfig
	JSON      JSONConfig
}

func (c DecodeConfig) delimiter() string {
	if c.Delimiter == nil {
		return DefaultDelimiter
	}
	return *c.Delimiter
}

// Validate reports configuration errors without reading any data.
func (c DecodeConfig) Validate() error {
	_, err := NewRecordReader(nil, 0, c)
	return err
}

// NewRecordReader assembles the decoding stages over src. Offsets of the
// returned records are absolute: base is the decoded offset src starts at.
//
// Multiline aggregation and JSON object collection both decide record
// boundaries, so when a multiline rule is configured auto and single JSON
// collection are narrowed to decoding each logical record on its own.
func NewRecordReader(src ChunkSource, base model.Offset, cfg DecodeConfig) (RecordReader, error) {
	return newRecordReader(src, base, cfg, model.JSONState{})
}

// newRecordReader is NewRecordReader for a stream resumed at base, where
// state is the JSON detection state recorded with the last released record.
func newRecordReader(src ChunkSource, base model.Offset, cfg DecodeConfig, state model.JSONState) (RecordReader, error) {
	agg, err := NewAggregator(NewSplitter(src, cfg.delimiter()), cfg.Multiline)
	if err != nil {
		return nil, err
	}

	jsonCfg := cfg.JSON
	if cfg.Multiline.Enabled() {
		switch jsonCfg.Mode {
		case "", JSONAuto, JSONSingle:
			jsonCfg.Mode = JSONLines
		}
	}
	collector, err := NewJSONCollector(&rebased{src: agg, base: base}, jsonCfg)
	if err != nil {
		return nil, err
	}
	collector.state = state
	return collector, nil
}

// rebased shifts window-relative offsets by the resume base.
type rebased struct {
	src  RecordReader
	base model.Offset
}

func (r *rebased) Next() (model.LogicalRecord, error) {
	rec, err := r.src.Next()
	if err != nil {
		return rec, err
	}
	rec.End += r.base
	return rec, nil
}
