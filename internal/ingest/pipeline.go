package ingest

import (
	"github.com/tinytelemetry/ferry/internal/model"
)

// Output is one event together with the offsets needed to resume after it.
type Output struct {
	Event model.Event
	Start model.Offset
	End   model.Offset
	// Last is false for expanded array elements that are not the final
	// element of their array: resuming after them must re-read the record.
	Last bool
	// JSONState is the detection state to resume with after this event.
	JSONState model.JSONState
}

// Pipeline converts the records of one source into events.
type Pipeline struct {
	records RecordReader
	factory *EventFactory
	loc     model.SourceLocator
	meta    Meta

	base model.Offset
	skip int
}

// PipelineOptions configures NewPipeline.
type PipelineOptions struct {
	Locator model.SourceLocator
	Meta    Meta
	Factory *EventFactory
	// Base is the decoded offset the chunk source starts at.
	Base model.Offset
	// SkipExpanded is the number of leading array elements of the record at
	// Base that were already delivered before a suspension.
	SkipExpanded int
	// JSONState is the detection state recorded when the source suspended.
	JSONState model.JSONState
}

// NewPipeline assembles the decoding stages over src.
func NewPipeline(src ChunkSource, cfg DecodeConfig, opts PipelineOptions) (*Pipeline, error) {
	records, err := newRecordReader(src, opts.Base, cfg, opts.JSONState)
	if err != nil {
		return nil, err
	}
	factory := opts.Factory
	if factory == nil {
		factory = NewEventFactory(nil)
	}
	return &Pipeline{
		records: records,
		factory: factory,
		loc:     opts.Locator,
		meta:    opts.Meta,
		base:    opts.Base,
		skip:    opts.SkipExpanded,
	}, nil
}

// Next returns the next event or io.EOF.
func (p *Pipeline) Next() (Output, error) {
	for {
		rec, err := p.records.Next()
		if err != nil {
			return Output{}, err
		}
		if p.skip > 0 {
			if rec.Expanded && rec.Start() == p.base && rec.ExpandedIndex < p.skip {
				continue
			}
			p.skip = 0
		}
		return Output{
			Event:     p.factory.Build(rec, p.loc, p.meta),
			Start:     rec.Start(),
			End:       rec.End,
			Last:      !rec.Expanded || rec.ExpandedLast,
			JSONState: rec.JSONState,
		}, nil
	}
}
