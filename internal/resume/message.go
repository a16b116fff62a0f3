package resume

import (
	"strconv"
	"strings"

	"github.com/tinytelemetry/ferry/internal/model"
)

// Queue message attribute names carrying resume state.
const (
	AttrConfig             = "config"
	AttrEventSourceARN     = "originalEventSourceARN"
	AttrMessageID          = "originalMessageId"
	AttrEventID            = "originalEventId"
	AttrLogGroup           = "originalLogGroup"
	AttrLogStream          = "originalLogStream"
	AttrSequenceNumber     = "originalSequenceNumber"
	AttrLastEndingOffset   = "originalLastEndingOffset"
	AttrLastExpandedOffset = "originalLastEventExpandedOffset"
	AttrJSONMode           = "originalJsonContentMode"
	AttrJSONPlainUntil     = "originalJsonPlainUntil"
)

// Message is one unit of unfinished work. Body is the original unit of work
// (queue message body, log event message, kinesis record data or a single
// S3 notification) and InputID routes it back to its input configuration.
type Message struct {
	Body    string `json:"body"`
	InputID string `json:"input_id"`
	// Config is the serialized input configuration, when it travels with the message.
	Config string `json:"config,omitempty"`

	MessageID      string `json:"message_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	LogGroup       string `json:"log_group,omitempty"`
	LogStream      string `json:"log_stream,omitempty"`
	SequenceNumber string `json:"sequence_number,omitempty"`

	LastEndingOffset model.Offset `json:"last_ending_offset"`
	// LastExpandedOffset counts array elements of the record at
	// LastEndingOffset that were already delivered.
	LastExpandedOffset int `json:"last_expanded_offset,omitempty"`
	// JSONState is what JSON auto-detection had decided at LastEndingOffset.
	JSONState model.JSONState `json:"json_state"`
}

// NewMessage builds the resume message for body, continuing at tok.
func NewMessage(body, inputID, config string, tok model.ResumeToken) Message {
	m := Message{
		Body:               body,
		InputID:            inputID,
		Config:             config,
		LastEndingOffset:   tok.LastEndingOffset,
		LastExpandedOffset: tok.PositionWithinBatch,
		JSONState:          tok.JSONState,
	}
	loc := tok.Locator
	switch loc.Kind {
	case model.SourceSQS:
		m.MessageID = loc.MessageID
	case model.SourceCloudWatch:
		m.EventID = loc.EventID
		m.LogGroup = loc.LogGroup
		m.LogStream = loc.LogStream
	case model.SourceKinesis:
		m.SequenceNumber = loc.SequenceNumber
	}
	return m
}

// Attributes returns the message attributes carried next to Body. Empty
// values are omitted.
func (m Message) Attributes() map[string]string {
	attrs := map[string]string{
		AttrEventSourceARN:   m.InputID,
		AttrLastEndingOffset: strconv.FormatInt(m.LastEndingOffset, 10),
	}
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set(AttrConfig, m.Config)
	set(AttrMessageID, m.MessageID)
	set(AttrEventID, m.EventID)
	set(AttrLogGroup, m.LogGroup)
	set(AttrLogStream, m.LogStream)
	set(AttrSequenceNumber, m.SequenceNumber)
	if m.LastExpandedOffset > 0 {
		attrs[AttrLastExpandedOffset] = strconv.Itoa(m.LastExpandedOffset)
	}
	set(AttrJSONMode, m.JSONState.Mode)
	if m.JSONState.PlainUntil > 0 {
		attrs[AttrJSONPlainUntil] = strconv.FormatInt(m.JSONState.PlainUntil, 10)
	}
	return attrs
}

// IsNumeric reports whether attribute name carries a number.
func IsNumeric(name string) bool {
	return name == AttrLastEndingOffset || name == AttrLastExpandedOffset || name == AttrJSONPlainUntil
}

// FromAttributes rebuilds a Message from a queue message body and its
// attributes. It reports false when the attributes do not describe a
// continuation.
func FromAttributes(body string, attrs map[string]string) (Message, bool) {
	inputID, ok := attrs[AttrEventSourceARN]
	if !ok || strings.TrimSpace(inputID) == "" {
		return Message{}, false
	}
	m := Message{
		Body:           body,
		InputID:        inputID,
		Config:         attrs[AttrConfig],
		MessageID:      attrs[AttrMessageID],
		EventID:        attrs[AttrEventID],
		LogGroup:       attrs[AttrLogGroup],
		LogStream:      attrs[AttrLogStream],
		SequenceNumber: attrs[AttrSequenceNumber],
	}
	if v, err := strconv.ParseInt(attrs[AttrLastEndingOffset], 10, 64); err == nil && v > 0 {
		m.LastEndingOffset = v
	}
	if v, err := strconv.Atoi(attrs[AttrLastExpandedOffset]); err == nil && v > 0 {
		m.LastExpandedOffset = v
	}
	switch mode := attrs[AttrJSONMode]; mode {
	case model.JSONObjects, model.JSONPlain:
		m.JSONState.Mode = mode
	}
	if v, err := strconv.ParseInt(attrs[AttrJSONPlainUntil], 10, 64); err == nil && v > m.LastEndingOffset {
		m.JSONState.PlainUntil = v
	}
	return m, true
}
