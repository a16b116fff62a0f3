package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/ferry/internal/model"
)

const insertEvent = `INSERT INTO events
	(event_id, index_name, dataset, namespace, timestamp, source_kind, source, log_offset, message, tags, document)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (event_id) DO NOTHING`

var _ model.EventWriter = (*Store)(nil)

// BulkCreate inserts events that are not yet present. An event whose
// delivery key already exists is counted as a duplicate and left untouched.
// If the batch transaction fails, events are retried one by one and the ones
// that still fail are reported in Rejected.
func (s *Store) BulkCreate(ctx context.Context, events []model.Event) (model.BulkResult, error) {
	if len(events) == 0 {
		return model.BulkResult{}, nil
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.insertTx(ctx, events)
	if err == nil {
		return model.BulkResult{Succeeded: created, Duplicates: len(events) - created}, nil
	}
	if ctx.Err() != nil {
		return model.BulkResult{}, fmt.Errorf("duckdb: bulk create: %w", err)
	}

	// Batch failed; salvage event by event.
	var res model.BulkResult
	for i := range events {
		n, rerr := s.insertTx(ctx, events[i:i+1])
		switch {
		case rerr != nil:
			res.Failed++
			res.Rejected = append(res.Rejected, i)
			log.Printf("duckdb: rejecting event %s: %v", events[i].DeliveryKey, rerr)
		case n == 0:
			res.Duplicates++
		default:
			res.Succeeded++
		}
	}
	if res.Failed > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d events rejected", res.Failed, len(events))
	}
	return res, nil
}

// insertTx inserts events in a single transaction and returns how many rows
// were actually created.
func (s *Store) insertTx(ctx context.Context, events []model.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	created := 0
	for _, ev := range events {
		if ev.DeliveryKey == "" {
			return 0, fmt.Errorf("event at offset %d has no delivery key", ev.Offset)
		}
		doc, err := json.Marshal(ev.Fields)
		if err != nil {
			return 0, fmt.Errorf("marshal %s: %w", ev.DeliveryKey, err)
		}
		tags := []byte("[]")
		if len(ev.Tags) > 0 {
			if tags, err = json.Marshal(ev.Tags); err != nil {
				return 0, fmt.Errorf("marshal tags of %s: %w", ev.DeliveryKey, err)
			}
		}
		res, err := stmt.ExecContext(ctx,
			ev.DeliveryKey, ev.Index, ev.Dataset, ev.Namespace, ev.Timestamp,
			string(ev.Locator.Kind), ev.Locator.Path(), ev.Offset, ev.Message,
			string(tags), string(doc),
		)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", ev.DeliveryKey, err)
		}
		created += rowsAffected(res)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return created, nil
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 1
	}
	return int(n)
}
