package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
)

// Pool is the pgx pool surface the store needs. A *pgxpool.Pool
// satisfies it.
type Pool interface {
	catalog.Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Postgres is the production Store. Write transactions run at
// serializable isolation; serialization failures are surfaced as
// apperr Conflict so the engine can retry.
type Postgres struct {
	pool Pool
}

// NewPostgres builds a Postgres-backed queue store.
func NewPostgres(pool Pool) *Postgres {
	if pool == nil {
		panic("queue: pgx pool cannot be nil")
	}
	return &Postgres{pool: pool}
}

var (
	_ Store = (*Postgres)(nil)
	_ Pool  = (*pgxpool.Pool)(nil)
)

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgtx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("queue: begin tx: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{q: pgtx}); err != nil {
		return mapConflict(err)
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapConflict(fmt.Errorf("queue: commit tx: %w", err))
	}
	return nil
}

// mapConflict rewrites serialization and deadlock failures into the
// Conflict kind the engine retries on.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return apperr.Wrap(apperr.KindConflict, "concurrent queue update", err)
		}
	}
	return err
}

type pgTx struct {
	q catalog.Querier
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) GetBusiness(ctx context.Context, id string) (*catalog.Business, error) {
	return getBusiness(ctx, t.q, id)
}

func (t *pgTx) GetBusinessByHelper(ctx context.Context, helperID string) (*catalog.Business, error) {
	return getBusinessByHelper(ctx, t.q, helperID)
}

func (t *pgTx) GetService(ctx context.Context, id string) (*catalog.Service, error) {
	return getService(ctx, t.q, id)
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*catalog.User, error) {
	return getUser(ctx, t.q, id)
}

func (t *pgTx) GetManualCustomer(ctx context.Context, id string) (*catalog.ManualCustomer, error) {
	return getManualCustomer(ctx, t.q, id)
}

func (t *pgTx) GetEntry(ctx context.Context, id string) (*Entry, error) {
	return getEntry(ctx, t.q, id)
}

func (t *pgTx) ListLane(ctx context.Context, businessID, helperID string) ([]*Entry, error) {
	return queryEntries(ctx, t.q, entrySelect+`
		WHERE business_id = $1 AND helper_id = $2 AND status = ANY($3)
		ORDER BY current_position
	`, businessID, helperID, liveStatuses)
}

func (t *pgTx) CountLane(ctx context.Context, businessID, helperID string) (int, error) {
	return countLane(ctx, t.q, businessID, helperID)
}

func (t *pgTx) ListLiveByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]*Entry, error) {
	return listLiveByBusinessQ(ctx, t.q, businessID, from, to)
}

func (t *pgTx) ListByHelper(ctx context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByHelperQ(ctx, t.q, businessID, helperID, from, to)
}

func (t *pgTx) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Entry, error) {
	return listByUserQ(ctx, t.q, userID, from, to)
}

func (t *pgTx) ListByBusiness(ctx context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByBusinessQ(ctx, t.q, businessID, helperID, from, to)
}

func (t *pgTx) SetBusinessActive(ctx context.Context, id string, active bool) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE businesses SET active = $2, updated_at = $3 WHERE id = $1
	`, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("queue: set business active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("business %s not found", id)
	}
	return nil
}

func (t *pgTx) UpdateBusinessHelpers(ctx context.Context, businessID string, helpers []catalog.Helper) error {
	encoded, err := json.Marshal(helpers)
	if err != nil {
		return fmt.Errorf("queue: encode helpers: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE businesses SET helpers = $2, updated_at = $3 WHERE id = $1
	`, businessID, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("queue: update helpers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("business %s not found", businessID)
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *Entry) error {
	history, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("queue: encode history: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO queue_entries (
			id, business_id, helper_id, user_id, manual_id, service_id,
			gender, preference, joining_position, current_position,
			joining_time, est_service_start, est_wait_minutes, added_minutes,
			status, total, rating, notes, history, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, e.ID, e.BusinessID, e.HelperID, nullString(e.UserID), nullString(e.ManualID), e.ServiceID,
		string(e.Gender), string(e.Preference), e.JoiningPosition, e.CurrentPosition,
		e.JoiningTime, e.EstServiceStart, e.EstWaitMinutes, e.AddedMinutes,
		string(e.Status), e.Total, e.Rating, e.Notes, history, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("queue: insert entry: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateEntry(ctx context.Context, e *Entry) error {
	history, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("queue: encode history: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE queue_entries SET
			helper_id = $2, current_position = $3, est_service_start = $4,
			est_wait_minutes = $5, added_minutes = $6, status = $7,
			rating = $8, notes = $9, history = $10, updated_at = $11
		WHERE id = $1
	`, e.ID, e.HelperID, e.CurrentPosition, e.EstServiceStart,
		e.EstWaitMinutes, e.AddedMinutes, string(e.Status),
		e.Rating, e.Notes, history, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("queue: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("queue entry %s not found", e.ID)
	}
	return nil
}

// Snapshot reads on the pool.

func (p *Postgres) GetBusiness(ctx context.Context, id string) (*catalog.Business, error) {
	return getBusiness(ctx, p.pool, id)
}

func (p *Postgres) GetBusinessByHelper(ctx context.Context, helperID string) (*catalog.Business, error) {
	return getBusinessByHelper(ctx, p.pool, helperID)
}

func (p *Postgres) GetService(ctx context.Context, id string) (*catalog.Service, error) {
	return getService(ctx, p.pool, id)
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*catalog.User, error) {
	return getUser(ctx, p.pool, id)
}

func (p *Postgres) GetManualCustomer(ctx context.Context, id string) (*catalog.ManualCustomer, error) {
	return getManualCustomer(ctx, p.pool, id)
}

func (p *Postgres) GetEntry(ctx context.Context, id string) (*Entry, error) {
	return getEntry(ctx, p.pool, id)
}

func (p *Postgres) ListLane(ctx context.Context, businessID, helperID string) ([]*Entry, error) {
	return queryEntries(ctx, p.pool, entrySelect+`
		WHERE business_id = $1 AND helper_id = $2 AND status = ANY($3)
		ORDER BY current_position
	`, businessID, helperID, liveStatuses)
}

func (p *Postgres) CountLane(ctx context.Context, businessID, helperID string) (int, error) {
	return countLane(ctx, p.pool, businessID, helperID)
}

func (p *Postgres) ListLiveByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]*Entry, error) {
	return listLiveByBusinessQ(ctx, p.pool, businessID, from, to)
}

func (p *Postgres) ListByHelper(ctx context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByHelperQ(ctx, p.pool, businessID, helperID, from, to)
}

func (p *Postgres) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Entry, error) {
	return listByUserQ(ctx, p.pool, userID, from, to)
}

func (p *Postgres) ListByBusiness(ctx context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByBusinessQ(ctx, p.pool, businessID, helperID, from, to)
}

// Shared SQL.

var liveStatuses = []string{string(StatusInQueue), string(StatusHold), string(StatusSkipped)}

const entrySelect = `
	SELECT id, business_id, helper_id, user_id, manual_id, service_id,
	       gender, preference, joining_position, current_position,
	       joining_time, est_service_start, est_wait_minutes, added_minutes,
	       status, total, rating, notes, history, created_at, updated_at
	FROM queue_entries`

func getBusiness(ctx context.Context, q catalog.Querier, id string) (*catalog.Business, error) {
	b, err := catalog.ScanBusiness(q.QueryRow(ctx, `
		SELECT id, owner_id, name, timezone, active, deleted, suspended, helpers, created_at, updated_at
		FROM businesses WHERE id = $1
	`, id))
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("business %s not found", id)
	}
	return b, err
}

func getBusinessByHelper(ctx context.Context, q catalog.Querier, helperID string) (*catalog.Business, error) {
	b, err := catalog.ScanBusiness(q.QueryRow(ctx, `
		SELECT id, owner_id, name, timezone, active, deleted, suspended, helpers, created_at, updated_at
		FROM businesses
		WHERE helpers @> jsonb_build_array(jsonb_build_object('helperId', $1::text))
		LIMIT 1
	`, helperID))
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("helper %s not found", helperID)
	}
	return b, err
}

func getService(ctx context.Context, q catalog.Querier, id string) (*catalog.Service, error) {
	s, err := catalog.ScanService(q.QueryRow(ctx, `
	SELECT id, business_id, name, duration_minutes, price, allowed_genders, deleted, created_at
	FROM services WHERE id = $1`, id))
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("service %s not found", id)
	}
	return s, err
}

func getUser(ctx context.Context, q catalog.Querier, id string) (*catalog.User, error) {
	u, err := catalog.ScanUser(q.QueryRow(ctx, `
	SELECT id, email, password_hash, gender, role, push_token, receive_notifications, active, deleted, suspended, created_at
	FROM users WHERE id = $1`, id))
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return u, err
}

func getManualCustomer(ctx context.Context, q catalog.Querier, id string) (*catalog.ManualCustomer, error) {
	m, err := catalog.ScanManualCustomer(q.QueryRow(ctx, `
	SELECT id, business_id, name, phone, gender, created_at
	FROM manual_customers WHERE id = $1`, id))
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("manual customer %s not found", id)
	}
	return m, err
}

func getEntry(ctx context.Context, q catalog.Querier, id string) (*Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx, entrySelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("queue entry %s not found", id)
		}
		return nil, err
	}
	return e, nil
}

func countLane(ctx context.Context, q catalog.Querier, businessID, helperID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE business_id = $1 AND helper_id = $2 AND status = ANY($3)
	`, businessID, helperID, liveStatuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count lane: %w", err)
	}
	return n, nil
}

func listLiveByBusinessQ(ctx context.Context, q catalog.Querier, businessID string, from, to time.Time) ([]*Entry, error) {
	return queryEntries(ctx, q, entrySelect+`
		WHERE business_id = $1 AND status = ANY($2) AND joining_time >= $3 AND joining_time <= $4
		ORDER BY joining_time, id
	`, businessID, liveStatuses, from, to)
}

func listByHelperQ(ctx context.Context, q catalog.Querier, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return queryEntries(ctx, q, entrySelect+`
		WHERE business_id = $1 AND helper_id = $2 AND status = ANY($3)
		  AND joining_time >= $4 AND joining_time <= $5
		ORDER BY current_position, joining_time
	`, businessID, helperID, liveStatuses, from, to)
}

func listByUserQ(ctx context.Context, q catalog.Querier, userID string, from, to time.Time) ([]*Entry, error) {
	return queryEntries(ctx, q, entrySelect+`
		WHERE user_id = $1 AND joining_time >= $2 AND joining_time <= $3
		ORDER BY joining_time DESC
	`, userID, from, to)
}

func listByBusinessQ(ctx context.Context, q catalog.Querier, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	if helperID != "" {
		return queryEntries(ctx, q, entrySelect+`
			WHERE business_id = $1 AND helper_id = $2 AND joining_time >= $3 AND joining_time <= $4
			ORDER BY joining_time DESC
		`, businessID, helperID, from, to)
	}
	return queryEntries(ctx, q, entrySelect+`
		WHERE business_id = $1 AND joining_time >= $2 AND joining_time <= $3
		ORDER BY joining_time DESC
	`, businessID, from, to)
}

func queryEntries(ctx context.Context, q catalog.Querier, sql string, args ...any) ([]*Entry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: query entries: %w", err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		userID   pgtype.Text
		manualID pgtype.Text
		gender   string
		pref     string
		status   string
		rating   pgtype.Int4
		notes    pgtype.Text
		history  []byte
	)
	err := row.Scan(&e.ID, &e.BusinessID, &e.HelperID, &userID, &manualID, &e.ServiceID,
		&gender, &pref, &e.JoiningPosition, &e.CurrentPosition,
		&e.JoiningTime, &e.EstServiceStart, &e.EstWaitMinutes, &e.AddedMinutes,
		&status, &e.Total, &rating, &notes, &history, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("queue: scan entry: %w", err)
	}
	e.UserID = userID.String
	e.ManualID = manualID.String
	e.Gender = catalog.Gender(gender)
	e.Preference = Preference(pref)
	e.Status = Status(status)
	if rating.Valid {
		v := int(rating.Int32)
		e.Rating = &v
	}
	e.Notes = notes.String
	if len(history) > 0 {
		if err := json.Unmarshal(history, &e.History); err != nil {
			return nil, fmt.Errorf("queue: decode history: %w", err)
		}
	}
	return &e, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
