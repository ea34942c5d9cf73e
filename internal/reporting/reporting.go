// Package reporting maintains the daily_service_stats rollup: one row
// per business, day, and service with completion counts and total
// observed wait. The rollup is rebuilt from queue_entries on a timer
// so it can always be recreated from the source of truth.
package reporting

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/kvasirlabs/waitline/pkg/logging"
)

// DailyServiceStat is one service's outcomes for one business day.
// ServiceIDs carries the day's distinct services so a dashboard can
// render the full breakdown from any single row.
type DailyServiceStat struct {
	BusinessID       string   `json:"businessId"`
	Day              string   `json:"day"`
	ServiceID        string   `json:"serviceId"`
	Served           int      `json:"served"`
	Removed          int      `json:"removed"`
	TotalWaitMinutes int      `json:"totalWaitMinutes"`
	ServiceIDs       []string `json:"serviceIds"`
}

// Store reads and rebuilds the rollup.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewStore(db *sql.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger.Component("reporting")}
}

// Daily returns the rollup rows for one business day.
func (s *Store) Daily(ctx context.Context, businessID string, day time.Time) ([]DailyServiceStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT business_id, day, service_id, served, removed, total_wait_minutes, service_ids
		FROM daily_service_stats
		WHERE business_id = $1 AND day = $2
		ORDER BY service_id`, businessID, day.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DailyServiceStat{}
	for rows.Next() {
		var stat DailyServiceStat
		var d time.Time
		if err := rows.Scan(&stat.BusinessID, &d, &stat.ServiceID, &stat.Served,
			&stat.Removed, &stat.TotalWaitMinutes, pq.Array(&stat.ServiceIDs)); err != nil {
			return nil, err
		}
		stat.Day = d.Format("2006-01-02")
		if stat.ServiceIDs == nil {
			stat.ServiceIDs = []string{}
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

// Rollup rebuilds the rows for one day from the terminal queue entries.
// It is idempotent; rerunning a day overwrites the previous rollup.
func (s *Store) Rollup(ctx context.Context, day time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_service_stats
		    (business_id, day, service_id, served, removed, total_wait_minutes, service_ids)
		SELECT
		    e.business_id,
		    $1::date,
		    e.service_id,
		    COUNT(*) FILTER (WHERE e.status = 'completed'),
		    COUNT(*) FILTER (WHERE e.status = 'removed'),
		    COALESCE(SUM(e.est_wait_minutes) FILTER (WHERE e.status = 'completed'), 0),
		    (SELECT ARRAY_AGG(DISTINCT d.service_id)
		       FROM queue_entries d
		      WHERE d.business_id = e.business_id
		        AND d.updated_at >= $1::date AND d.updated_at < $1::date + 1
		        AND d.status IN ('completed', 'removed'))
		FROM queue_entries e
		WHERE e.updated_at >= $1::date AND e.updated_at < $1::date + 1
		  AND e.status IN ('completed', 'removed')
		GROUP BY e.business_id, e.service_id
		ON CONFLICT (business_id, day, service_id) DO UPDATE SET
		    served = EXCLUDED.served,
		    removed = EXCLUDED.removed,
		    total_wait_minutes = EXCLUDED.total_wait_minutes,
		    service_ids = EXCLUDED.service_ids`,
		day.Format("2006-01-02"))
	return err
}

// RunRollups rebuilds today's rollup on the given interval until the
// context is cancelled. Yesterday is rebuilt once at startup to catch
// entries that settled around midnight.
func (s *Store) RunRollups(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	now := time.Now().UTC()
	if err := s.Rollup(ctx, now.AddDate(0, 0, -1)); err != nil {
		s.logger.Warn("rollup failed", "day", now.AddDate(0, 0, -1).Format("2006-01-02"), "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Rollup(ctx, time.Now().UTC()); err != nil {
			s.logger.Warn("rollup failed", "day", time.Now().UTC().Format("2006-01-02"), "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
