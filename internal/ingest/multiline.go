package ingest

import (
	"fmt"
	"io"
	"regexp"

	"github.com/tinytelemetry/ferry/internal/model"
)

// Multiline strategy names.
const (
	MultilineNone    = "none"
	MultilinePattern = "pattern"
	MultilineCount   = "count"
	MultilineWhile   = "while_pattern"
)

const (
	DefaultMultilineMaxLines = 500
	DefaultMultilineMaxBytes = 10 * 1024 * 1024
)

// MultilineConfig selects and tunes the boundary rule of an Aggregator.
type MultilineConfig struct {
	Type         string `yaml:"type"`
	Pattern      string `yaml:"pattern"`
	Negate       bool   `yaml:"negate"`
	Match        string `yaml:"match"` // "after" (default) or "before"
	FlushPattern string `yaml:"flush_pattern"`
	CountLines   int    `yaml:"count_lines"`
	MaxLines     int    `yaml:"max_lines"`
	MaxBytes     int    `yaml:"max_bytes"`
	SkipNewline  bool   `yaml:"skip_newline"`
}

// Enabled reports whether the config selects anything but the identity rule.
func (c MultilineConfig) Enabled() bool {
	return c.Type != "" && c.Type != MultilineNone
}

// RecordReader yields logical records and io.EOF at end of stream.
type RecordReader interface {
	Next() (model.LogicalRecord, error)
}

// Aggregator merges consecutive raw records into logical records.
// At most one group is open at a time and an open group is flushed at EOF.
type Aggregator struct {
	src  RawReader
	kind string

	pattern      *regexp.Regexp
	flushPattern *regexp.Regexp
	negate       bool
	before       bool
	countLines   int

	group   group
	count   int
	restart bool // next record opens a new group
	ready   []model.LogicalRecord
	err     error
}

// NewAggregator compiles cfg and returns an aggregator over src.
func NewAggregator(src RawReader, cfg MultilineConfig) (*Aggregator, error) {
	a := &Aggregator{src: src, kind: cfg.Type, negate: cfg.Negate, countLines: cfg.CountLines}
	if a.kind == "" {
		a.kind = MultilineNone
	}

	maxLines, maxBytes := cfg.MaxLines, cfg.MaxBytes
	if maxLines == 0 {
		maxLines = DefaultMultilineMaxLines
	}
	if maxBytes == 0 {
		maxBytes = DefaultMultilineMaxBytes
	}
	a.group = group{maxLines: maxLines, maxBytes: maxBytes, skipNewline: cfg.SkipNewline}

	switch a.kind {
	case MultilineNone:
		return a, nil
	case MultilinePattern:
		switch cfg.Match {
		case "", "after":
		case "before":
			a.before = true
		default:
			return nil, fmt.Errorf("ingest: multiline match must be after or before, got %q", cfg.Match)
		}
		if cfg.FlushPattern != "" {
			re, err := regexp.Compile(cfg.FlushPattern)
			if err != nil {
				return nil, fmt.Errorf("ingest: multiline flush_pattern: %w", err)
			}
			a.flushPattern = re
		}
		a.restart = true
		fallthrough
	case MultilineWhile:
		if cfg.Pattern == "" {
			return nil, fmt.Errorf("ingest: multiline %s requires a pattern", a.kind)
		}
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("ingest: multiline pattern: %w", err)
		}
		a.pattern = re
	case MultilineCount:
		if cfg.CountLines <= 0 {
			return nil, fmt.Errorf("ingest: multiline count requires count_lines > 0")
		}
	default:
		return nil, fmt.Errorf("ingest: unknown multiline type %q", cfg.Type)
	}
	return a, nil
}

// Next returns the next logical record or io.EOF.
func (a *Aggregator) Next() (model.LogicalRecord, error) {
	for len(a.ready) == 0 {
		if a.err != nil {
			return model.LogicalRecord{}, a.err
		}
		raw, err := a.src.Next()
		if err == io.EOF {
			a.err = io.EOF
			if !a.group.empty() {
				a.emit()
			}
			continue
		}
		if err != nil {
			a.err = err
			return model.LogicalRecord{}, err
		}
		a.feed(raw)
	}
	rec := a.ready[0]
	a.ready = a.ready[1:]
	return rec, nil
}

func (a *Aggregator) feed(raw model.RawRecord) {
	switch a.kind {
	case MultilineNone:
		a.ready = append(a.ready, single(raw))

	case MultilineCount:
		a.group.grow(raw)
		a.count++
		if a.count == a.countLines {
			a.count = 0
			a.emit()
		}

	case MultilineWhile:
		if a.matches(raw.Payload) {
			a.group.grow(raw)
			return
		}
		if !a.group.empty() {
			a.emit()
		}
		a.group.grow(raw)
		a.emit()

	case MultilinePattern:
		switch {
		case a.restart:
			a.restart = false
			a.group.grow(raw)
		case a.flushPattern != nil && a.flushPattern.Match(raw.Payload):
			a.group.grow(raw)
			a.emit()
			a.restart = true
		case !a.group.empty() && !a.continues(a.group.previous, raw.Payload):
			a.emit()
			a.group.grow(raw)
		default:
			a.group.grow(raw)
		}
	}
}

func (a *Aggregator) matches(line []byte) bool {
	return a.pattern.Match(line) != a.negate
}

// continues reports whether current belongs to the group ending with previous.
func (a *Aggregator) continues(previous, current []byte) bool {
	if a.before {
		return a.matches(previous)
	}
	return a.matches(current)
}

// single wraps one raw record without size limits.
func single(raw model.RawRecord) model.LogicalRecord {
	return model.LogicalRecord{
		Payload: raw.Payload,
		End:     raw.End,
		Length:  int64(len(raw.Payload) + len(raw.Newline)),
		Newline: raw.Newline,
		Lines:   1,
	}
}

func (a *Aggregator) emit() {
	a.ready = append(a.ready, a.group.take())
}

// group accumulates the raw records of one open logical record. Content past
// maxLines or maxBytes is dropped from the payload but still counted in the
// record length, so offsets stay exact.
type group struct {
	maxLines    int
	maxBytes    int
	skipNewline bool

	payload  []byte
	previous []byte
	newline  []byte
	kept     int
	lines    int
	length   int64
	end      model.Offset
}

func (g *group) empty() bool { return g.lines == 0 }

func (g *group) grow(raw model.RawRecord) {
	if g.lines > 0 && !g.skipNewline && g.fits() {
		g.payload = append(g.payload, g.newline...)
	}
	if g.fits() {
		room := len(raw.Payload)
		if g.maxBytes > 0 {
			room = min(room, g.maxBytes-len(g.payload))
		}
		if room > 0 {
			g.payload = append(g.payload, raw.Payload[:room]...)
		}
		g.kept++
	}
	g.previous = raw.Payload
	g.newline = raw.Newline
	g.lines++
	g.length += int64(len(raw.Payload) + len(raw.Newline))
	g.end = raw.End
}

func (g *group) fits() bool {
	if g.maxLines > 0 && g.kept >= g.maxLines {
		return false
	}
	if g.maxBytes > 0 && len(g.payload) >= g.maxBytes {
		return false
	}
	return true
}

func (g *group) take() model.LogicalRecord {
	rec := model.LogicalRecord{
		Payload: g.payload,
		End:     g.end,
		Length:  g.length,
		Newline: g.newline,
		Lines:   g.lines,
	}
	if rec.Payload == nil {
		rec.Payload = []byte{}
	}
	g.payload = nil
	g.previous = nil
	g.newline = nil
	g.kept = 0
	g.lines = 0
	g.length = 0
	return rec
}
