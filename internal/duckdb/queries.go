package duckdb

import (
	"context"
	"log"
	"time"

	"github.com/tinytelemetry/ferry/internal/model"
)

var _ model.EventQuerier = (*Store)(nil)

// TotalEventCount returns the number of stored events.
func (s *Store) TotalEventCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// EventCountsByIndex returns stored event counts keyed by index name.
func (s *Store) EventCountsByIndex(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT index_name, COUNT(*) FROM events GROUP BY index_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var index string
		var n int64
		if err := rows.Scan(&index, &n); err != nil {
			log.Printf("duckdb scan error (EventCountsByIndex): %v", err)
			continue
		}
		counts[index] = n
	}
	return counts, rows.Err()
}

// RecentEvents returns up to limit of the most recently stored events in
// chronological order, optionally restricted to one index.
func (s *Store) RecentEvents(ctx context.Context, limit int, index string) ([]model.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	inner := `SELECT event_id, index_name, timestamp, source, log_offset, message FROM events`
	var args []any
	if index != "" {
		inner += ` WHERE index_name = ?`
		args = append(args, index)
	}
	inner += ` ORDER BY timestamp DESC, source DESC, log_offset DESC LIMIT ?`
	args = append(args, limit)

	query := `SELECT * FROM (` + inner + `) ORDER BY timestamp ASC, source ASC, log_offset ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.StoredEvent
	for rows.Next() {
		var ev model.StoredEvent
		if err := rows.Scan(&ev.DeliveryKey, &ev.Index, &ev.Timestamp, &ev.Source, &ev.Offset, &ev.Message); err != nil {
			log.Printf("duckdb scan error (RecentEvents): %v", err)
			continue
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

// DeleteBefore removes events whose timestamp is older than cutoff and
// returns how many were deleted.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
