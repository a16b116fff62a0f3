// Package shipper buffers events, stamps them with their destination and
// delivery key, and writes them to the backend in bounded bulk batches.
package shipper

import (
	"context"
	"log"
	"maps"
	"strings"
	"time"

	"github.com/tinytelemetry/ferry/internal/model"
)

// Backend receives create-if-absent bulk writes keyed by DeliveryKey.
// A duplicate key must be reported in Duplicates, not in Failed.
type Backend = model.EventWriter

// ReplaySink receives events the backend rejected so they can be retried
// outside the current invocation.
type ReplaySink interface {
	Replay(ctx context.Context, ev model.Event) error
}

// Outcome classifies what Send did with an event.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFiltered Outcome = "filtered"
)

// Destination holds the enrichment applied to every delivered event.
type Destination struct {
	// Dataset is discovered from the event source when empty.
	Dataset   string
	Namespace string
	Tags      []string
	// IntegrationScope is copied to meta.integration_scope when set.
	IntegrationScope string
}

// Config holds tunable parameters for the batcher.
type Config struct {
	BatchSize   int
	Destination Destination
	Filter      *Filter
	Replay      ReplaySink
}

// Stats are cumulative counts over the batcher lifetime.
type Stats struct {
	Sent       int
	Empty      int
	Filtered   int
	Succeeded  int
	Duplicates int
	Failed     int
	Replayed   int
	Flushes    int
}

// failureLogInterval throttles repeated delivery failure logs.
const failureLogInterval = 10 * time.Second

// Batcher buffers events and flushes them in bulk. It is owned by a single
// invocation and is not safe for concurrent use.
type Batcher struct {
	backend  Backend
	replay   ReplaySink
	filter   *Filter
	dest     Destination
	maxBatch int

	pending []model.Event
	stats   Stats

	failuresSinceLog int
	lastFailureLog   time.Time
}

// NewBatcher creates a batcher writing to backend.
func NewBatcher(backend Backend, conf ...Config) *Batcher {
	batchSize := model.DefaultBatchSize
	var c Config
	if len(conf) > 0 {
		c = conf[0]
		if c.BatchSize > 0 {
			batchSize = c.BatchSize
		}
	}
	if c.Destination.Namespace == "" {
		c.Destination.Namespace = model.DefaultNamespace
	}
	return &Batcher{
		backend:  backend,
		replay:   c.Replay,
		filter:   c.Filter,
		dest:     c.Destination,
		maxBatch: batchSize,
		pending:  make([]model.Event, 0, batchSize),
	}
}

// Send classifies ev and, unless it is dropped, enriches it, assigns its
// delivery key and appends it to the batch. A full batch is flushed before
// Send returns.
func (b *Batcher) Send(ctx context.Context, ev model.Event) Outcome {
	if ev.Message == "" {
		b.stats.Empty++
		return OutcomeEmpty
	}
	if !b.filter.Allow(ev.Message) {
		b.stats.Filtered++
		return OutcomeFiltered
	}

	b.pending = append(b.pending, b.enrich(ev))
	b.stats.Sent++
	if len(b.pending) >= b.maxBatch {
		b.Flush(ctx)
	}
	return OutcomeSent
}

// Pending returns the number of buffered events.
func (b *Batcher) Pending() int { return len(b.pending) }

// Stats returns the cumulative counters.
func (b *Batcher) Stats() Stats { return b.stats }

// Flush writes the buffered events as one bulk request. Delivery failures are
// counted, logged and handed to the replay sink; they never stop the caller.
func (b *Batcher) Flush(ctx context.Context) model.BulkResult {
	if len(b.pending) == 0 {
		return model.BulkResult{}
	}
	batch := b.pending
	b.pending = make([]model.Event, 0, b.maxBatch)

	res, err := b.backend.BulkCreate(ctx, batch)
	if err != nil {
		res = model.BulkResult{Failed: len(batch), Rejected: make([]int, len(batch))}
		for i := range batch {
			res.Rejected[i] = i
		}
		b.logFailure(len(batch), err)
	} else if res.Failed > 0 {
		b.logFailure(res.Failed, nil)
	}

	b.stats.Flushes++
	b.stats.Succeeded += res.Succeeded
	b.stats.Duplicates += res.Duplicates
	b.stats.Failed += res.Failed

	if b.replay != nil {
		for _, i := range res.Rejected {
			if i < 0 || i >= len(batch) {
				continue
			}
			if rerr := b.replay.Replay(ctx, batch[i]); rerr != nil {
				log.Printf("shipper: replay %s: %v", batch[i].DeliveryKey, rerr)
				continue
			}
			b.stats.Replayed++
		}
	}
	return res
}

// logFailure emits a throttled warning (at most once per failureLogInterval).
func (b *Batcher) logFailure(n int, err error) {
	b.failuresSinceLog += n
	now := time.Now()
	if now.Sub(b.lastFailureLog) < failureLogInterval {
		return
	}
	if err != nil {
		log.Printf("shipper: bulk create failed, %d events not delivered since last report: %v", b.failuresSinceLog, err)
	} else {
		log.Printf("shipper: %d events rejected by backend since last report", b.failuresSinceLog)
	}
	b.failuresSinceLog = 0
	b.lastFailureLog = now
}

// enrich applies the destination metadata and delivery key. The caller's
// field map is not modified.
func (b *Batcher) enrich(ev model.Event) model.Event {
	dataset := b.dest.Dataset
	if dataset == "" {
		dataset = DiscoverDataset(ev.Locator)
	}
	namespace := b.dest.Namespace

	tags := make([]string, 0, 3+len(b.dest.Tags))
	tags = append(tags, "preserve_original_event", "forwarded", strings.ReplaceAll(dataset, ".", "-"))
	tags = append(tags, b.dest.Tags...)

	fields := maps.Clone(ev.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["data_stream"] = map[string]any{
		"type":      "logs",
		"dataset":   dataset,
		"namespace": namespace,
	}
	fields["event"] = map[string]any{
		"dataset":  dataset,
		"original": ev.Message,
	}
	fields["tags"] = tags
	if b.dest.IntegrationScope != "" {
		fields["meta"] = map[string]any{"integration_scope": b.dest.IntegrationScope}
	}

	ev.Fields = fields
	ev.Dataset = dataset
	ev.Namespace = namespace
	ev.Tags = tags
	ev.Index = IndexName(dataset, namespace)
	if ev.Expanded {
		ev.DeliveryKey = model.ExpandedDeliveryKey(ev.Locator, ev.Offset, ev.ExpandedIndex)
	} else {
		ev.DeliveryKey = model.DeliveryKey(ev.Locator, ev.Offset)
	}
	return ev
}
