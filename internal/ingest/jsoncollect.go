package ingest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/ferry/internal/model"
)

// JSON collection modes.
const (
	JSONDisabled = "disabled"
	JSONLines    = "ndjson"
	JSONAuto     = "auto"
	// JSONSingle treats the whole stream as one document.
	JSONSingle = "single"
)

// jsonCircuitBreaker is the number of lines buffered while waiting for a JSON
// object to close before the collector gives up and falls back to plain lines.
const jsonCircuitBreaker = 1000

// JSONConfig selects how logical records are decoded as JSON.
type JSONConfig struct {
	Mode string
	// ExpandField names a top-level field holding an array whose elements
	// become individual records.
	ExpandField string
}

// JSONCollector decodes logical records as JSON documents.
//
// Malformed JSON is never an error: such records pass through with their raw
// payload and no parsed document. Arrays are expanded into one record per
// element, each sharing the offsets of the enclosing record.
//
// In auto mode the collector watches the first non-blank record. When it
// opens an object or array, following records are buffered by brace depth
// until a complete document can be decoded, so pretty-printed JSON spanning
// many lines is collected into a single record. Every released record carries
// the detection state a collector resuming after it must start from.
type JSONCollector struct {
	src         RecordReader
	mode        string
	expandField string

	state   model.JSONState
	pending []model.LogicalRecord
	depth   int

	ready []model.LogicalRecord
	err   error
}

// NewJSONCollector returns a collector over src.
func NewJSONCollector(src RecordReader, cfg JSONConfig) (*JSONCollector, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = JSONAuto
	}
	switch mode {
	case JSONDisabled, JSONLines, JSONAuto, JSONSingle:
	default:
		return nil, fmt.Errorf("ingest: unknown json_content_type %q", cfg.Mode)
	}
	return &JSONCollector{src: src, mode: mode, expandField: cfg.ExpandField}, nil
}

// Next returns the next record or io.EOF.
func (c *JSONCollector) Next() (model.LogicalRecord, error) {
	for len(c.ready) == 0 {
		if c.err != nil {
			return model.LogicalRecord{}, c.err
		}
		rec, err := c.src.Next()
		if err == io.EOF {
			c.err = io.EOF
			if c.mode == JSONSingle {
				c.finishSingle()
			} else {
				c.releasePending()
			}
			continue
		}
		if err != nil {
			c.err = err
			return model.LogicalRecord{}, err
		}

		switch c.mode {
		case JSONDisabled:
			c.ready = append(c.ready, rec)
		case JSONLines:
			c.decode(rec)
		case JSONSingle:
			c.single(rec)
		default:
			c.collect(rec)
		}
	}
	rec := c.ready[0]
	c.ready = c.ready[1:]
	return rec, nil
}

func (c *JSONCollector) collect(rec model.LogicalRecord) {
	if c.state.PlainUntil > 0 {
		if rec.End <= c.state.PlainUntil {
			if rec.End == c.state.PlainUntil {
				c.state.PlainUntil = 0
			}
			c.release(rec)
			return
		}
		c.state.PlainUntil = 0
	}

	blank := len(bytes.TrimSpace(rec.Payload)) == 0
	if c.state.Mode == model.JSONUndecided {
		if blank {
			c.release(rec)
			return
		}
		c.state.Mode = model.JSONPlain
		if first := bytes.TrimLeft(rec.Payload, " \t\r\n")[0]; first == '{' || first == '[' {
			c.state.Mode = model.JSONObjects
		}
	}
	if c.state.Mode == model.JSONPlain {
		c.release(rec)
		return
	}
	if len(c.pending) == 0 && blank {
		c.release(rec)
		return
	}

	c.pending = append(c.pending, rec)
	c.depth += CountJSONDepth(string(rec.Payload))
	if c.depth <= 0 {
		c.finish()
		return
	}
	if len(c.pending) > jsonCircuitBreaker {
		c.state.Mode = model.JSONPlain
		c.releasePending()
	}
}

// finish decodes the buffered records as one document, or releases them
// unchanged when they do not form one.
func (c *JSONCollector) finish() {
	merged := mergeRecords(c.pending)
	doc, ok := parseJSON(merged.Payload)
	if !ok {
		c.releasePending()
		return
	}
	c.pending = c.pending[:0]
	c.depth = 0
	c.emitDoc(merged, doc)
}

func (c *JSONCollector) single(rec model.LogicalRecord) {
	if c.state.Mode == model.JSONPlain {
		c.release(rec)
		return
	}
	c.pending = append(c.pending, rec)
}

// finishSingle decodes everything read as one document. Content that is not
// a document falls back to plain records.
func (c *JSONCollector) finishSingle() {
	if len(c.pending) == 0 {
		return
	}
	merged := mergeRecords(c.pending)
	if doc, ok := parseJSON(merged.Payload); ok {
		c.state.Mode = model.JSONObjects
		c.pending = nil
		c.emitDoc(merged, doc)
		return
	}
	c.state.Mode = model.JSONPlain
	for _, rec := range c.pending {
		c.release(rec)
	}
	c.pending = nil
}

// releasePending emits the buffered records undecoded. Until the last of them
// is released a resumed collector must not try to group them again.
func (c *JSONCollector) releasePending() {
	if len(c.pending) == 0 {
		return
	}
	end := c.pending[len(c.pending)-1].End
	for _, rec := range c.pending {
		c.state.PlainUntil = 0
		if rec.End < end {
			c.state.PlainUntil = end
		}
		c.release(rec)
	}
	c.pending = nil
	c.depth = 0
}

func (c *JSONCollector) release(rec model.LogicalRecord) {
	rec.JSONState = c.state
	c.ready = append(c.ready, rec)
}

func (c *JSONCollector) decode(rec model.LogicalRecord) {
	doc, ok := parseJSON(rec.Payload)
	if !ok {
		c.ready = append(c.ready, rec)
		return
	}
	c.emitDoc(rec, doc)
}

func (c *JSONCollector) emitDoc(rec model.LogicalRecord, doc any) {
	items, ok := c.expandable(doc)
	if !ok {
		rec.JSON = doc
		c.release(rec)
		return
	}
	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			payload = rec.Payload
		}
		c.ready = append(c.ready, model.LogicalRecord{
			Payload:       payload,
			End:           rec.End,
			Length:        rec.Length,
			Newline:       rec.Newline,
			Lines:         rec.Lines,
			JSON:          item,
			Expanded:      true,
			ExpandedIndex: i,
			ExpandedLast:  i == len(items)-1,
			JSONState:     c.state,
		})
	}
}

// expandable returns the elements a document expands into. Empty arrays are
// not expanded so the record is still delivered.
func (c *JSONCollector) expandable(doc any) ([]any, bool) {
	switch v := doc.(type) {
	case []any:
		return v, len(v) > 0
	case map[string]any:
		if c.expandField == "" {
			return nil, false
		}
		items, ok := v[c.expandField].([]any)
		return items, ok && len(items) > 0
	}
	return nil, false
}

func parseJSON(payload []byte) (any, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, false
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// mergeRecords concatenates consecutive records, keeping their inner delimiters.
func mergeRecords(recs []model.LogicalRecord) model.LogicalRecord {
	if len(recs) == 1 {
		return recs[0]
	}
	var out model.LogicalRecord
	var buf bytes.Buffer
	for i, r := range recs {
		buf.Write(r.Payload)
		if i < len(recs)-1 {
			buf.Write(r.Newline)
		}
		out.Length += r.Length
		out.Lines += r.Lines
	}
	last := recs[len(recs)-1]
	out.Payload = buf.Bytes()
	out.End = last.End
	out.Newline = last.Newline
	return out
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}
