package model

import (
	"context"
	"time"
)

// BulkResult reports per-flush delivery outcome counts.
// Duplicates are already-present documents; they count as succeeded.
type BulkResult struct {
	Succeeded  int
	Failed     int
	Duplicates int
	// Rejected holds the batch indexes of the events counted in Failed.
	Rejected []int
}

// EventWriter provides create-if-absent bulk writes keyed by DeliveryKey.
type EventWriter interface {
	BulkCreate(ctx context.Context, events []Event) (BulkResult, error)
}

// StoredEvent is a delivered event as read back from the backend.
type StoredEvent struct {
	DeliveryKey string    `json:"id"`
	Index       string    `json:"index"`
	Timestamp   time.Time `json:"@timestamp"`
	Source      string    `json:"source"`
	Offset      Offset    `json:"offset"`
	Message     string    `json:"message"`
}

// EventQuerier provides the read-only queries exposed by the HTTP API.
type EventQuerier interface {
	TotalEventCount(ctx context.Context) (int64, error)
	EventCountsByIndex(ctx context.Context) (map[string]int64, error)
	RecentEvents(ctx context.Context, limit int, index string) ([]StoredEvent, error)
}
