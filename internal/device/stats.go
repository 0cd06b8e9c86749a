package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DailyStats is one date's request/earn counters, keyed by date.
type DailyStats struct {
	Date        string
	Requests    int64
	EarnedUnits int64
}

// dateKey formats t as the stats table's date key: a UTC calendar date.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecordRequest increments today's (UTC) request counter by one. Called
// once per orchestrator Run or mesh-served inference.
func (s *Store) RecordRequest(ctx context.Context, at time.Time) error {
	return s.bumpStat(ctx, dateKey(at), "requests", 1)
}

// RecordEarned credits amount earned-units to the given day, e.g. when
// this device serves another peer's forwarded inference and earns credit
// on a successful local answer.
func (s *Store) RecordEarned(ctx context.Context, at time.Time, amount int64) error {
	return s.bumpStat(ctx, dateKey(at), "earned_units", amount)
}

// servedRequestUnits is the earned-unit credit for one locally-served
// forwarded inference (mesh.EarningsRecorder).
const servedRequestUnits = 1

// RecordServedRequest implements mesh.EarningsRecorder: it credits today's
// earned-units counter when this device successfully answers a peer's
// forwarded inference locally. requestID is accepted for interface
// conformance and future per-request accounting; today's aggregate stats
// don't yet break out by request.
func (s *Store) RecordServedRequest(ctx context.Context, requestID string) {
	if err := s.RecordEarned(ctx, time.Now(), servedRequestUnits); err != nil {
		// Best-effort: a stats write failure must not fail the inference
		// that already succeeded.
		_ = err
	}
}

func (s *Store) bumpStat(ctx context.Context, date, column string, delta int64) error {
	if column != "requests" && column != "earned_units" {
		return fmt.Errorf("device: invalid stat column %q", column)
	}
	query := fmt.Sprintf(`
		INSERT INTO daily_stats (date, %s) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET %s = %s + excluded.%s
	`, column, column, column, column)
	if _, err := s.db.ExecContext(ctx, query, date, delta); err != nil {
		return fmt.Errorf("device: bump %s: %w", column, err)
	}
	return nil
}

// Stats returns the counters recorded for the given date, zero-valued if
// nothing was recorded that day.
func (s *Store) Stats(ctx context.Context, date time.Time) (DailyStats, error) {
	key := dateKey(date)
	row := s.db.QueryRowContext(ctx,
		`SELECT date, requests, earned_units FROM daily_stats WHERE date = ?`, key)

	var out DailyStats
	err := row.Scan(&out.Date, &out.Requests, &out.EarnedUnits)
	if err == sql.ErrNoRows {
		return DailyStats{Date: key}, nil
	}
	if err != nil {
		return DailyStats{}, fmt.Errorf("device: read stats for %s: %w", key, err)
	}
	return out, nil
}

// PruneStatsOlderThan deletes daily_stats rows keyed before cutoff,
// exercised by the rollover Scheduler so the table doesn't grow
// unboundedly on a long-lived device.
func (s *Store) PruneStatsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_stats WHERE date < ?`, dateKey(cutoff))
	if err != nil {
		return 0, fmt.Errorf("device: prune stats: %w", err)
	}
	return res.RowsAffected()
}
