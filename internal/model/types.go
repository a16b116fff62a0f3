package model

import "time"

// Offset counts bytes consumed from the decoded (post-decompression) stream.
// It is the single coordinate used for both resumption and deduplication.
type Offset = int64

// RawRecord is one delimiter-separated slice of the decoded stream.
type RawRecord struct {
	Payload []byte
	End     Offset // offset of the first byte after the delimiter
	Newline []byte // delimiter bytes actually consumed; empty for an unterminated tail
}

// DelimiterLength returns the number of delimiter bytes that ended the record.
func (r RawRecord) DelimiterLength() int { return len(r.Newline) }

// Start returns the offset of the first payload byte.
func (r RawRecord) Start() Offset {
	return r.End - int64(len(r.Payload)+len(r.Newline))
}

// LogicalRecord is one or more RawRecords assembled into a single unit of log content.
type LogicalRecord struct {
	Payload []byte
	End     Offset // ending offset of the last constituent RawRecord
	Length  int64  // decoded bytes spanned, delimiters included
	Newline []byte // delimiter of the last constituent RawRecord
	Lines   int

	// JSON holds the parsed document when JSON collection is enabled and the
	// payload decoded successfully. Nil otherwise.
	JSON any
	// Expanded is set for records produced from one element of a JSON array.
	// All elements of the same array share End and Length.
	Expanded      bool
	ExpandedIndex int
	ExpandedLast  bool

	// JSONState is the JSON auto-detection state right after this record.
	JSONState JSONState
}

// JSON auto-detection modes.
const (
	JSONUndecided = ""
	JSONObjects   = "objects"
	JSONPlain     = "plain"
)

// JSONState is what auto JSON collection has learned about a stream. A resumed
// collector starting from it groups records exactly as a single pass would.
type JSONState struct {
	Mode string `json:"mode,omitempty"`
	// PlainUntil is set while inside a run of lines that failed to form a
	// document; records ending at or before it pass through undecoded.
	PlainUntil Offset `json:"plain_until,omitempty"`
}

// Start returns the offset of the first byte of the first constituent RawRecord.
func (r LogicalRecord) Start() Offset { return r.End - r.Length }

// DelimiterLength returns the length of the delimiter that ended the record.
func (r LogicalRecord) DelimiterLength() int { return len(r.Newline) }

// Event is the canonical output record handed to the delivery batcher.
type Event struct {
	Timestamp time.Time      `json:"@timestamp"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields"`
	Offset    Offset         `json:"offset"`
	Locator   SourceLocator  `json:"locator"`

	// JSON is the optional parsed document of the originating record.
	JSON          any  `json:"-"`
	Expanded      bool `json:"expanded,omitempty"`
	ExpandedIndex int  `json:"expanded_index,omitempty"`

	// Destination enrichment, applied once by the batcher.
	Index       string   `json:"index,omitempty"`
	Dataset     string   `json:"dataset,omitempty"`
	Namespace   string   `json:"namespace,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DeliveryKey string   `json:"id,omitempty"`
}

// ResumeToken is the minimal state needed to continue from the exact byte after
// the last fully emitted LogicalRecord.
type ResumeToken struct {
	Locator             SourceLocator `json:"locator"`
	LastEndingOffset    Offset        `json:"last_ending_offset"`
	PositionWithinBatch int           `json:"position_within_batch,omitempty"`
	JSONState           JSONState     `json:"json_state"`
}
