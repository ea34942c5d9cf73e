package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions, so
// repository methods can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists catalog records in PostgreSQL.
type Postgres struct {
	pool Querier
}

// NewPostgres builds a Postgres-backed repository. The querier is
// normally a *pgxpool.Pool.
func NewPostgres(pool Querier) *Postgres {
	if pool == nil {
		panic("catalog: pgx pool cannot be nil")
	}
	return &Postgres{pool: pool}
}

var (
	_ Repository = (*Postgres)(nil)
	_ Querier    = (*pgxpool.Pool)(nil)
)

func (p *Postgres) querier(q Querier) Querier {
	if q == nil {
		return p.pool
	}
	return q
}

func (p *Postgres) CreateBusiness(ctx context.Context, b *Business) error {
	helpers, err := json.Marshal(b.Helpers)
	if err != nil {
		return fmt.Errorf("catalog: encode helpers: %w", err)
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	_, err = p.pool.Exec(ctx, `
		INSERT INTO businesses (id, owner_id, name, timezone, active, deleted, suspended, helpers, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, b.ID, b.OwnerID, b.Name, b.Timezone, b.Active, b.Deleted, b.Suspended, helpers, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("catalog: insert business: %w", err)
	}
	return nil
}

func (p *Postgres) GetBusiness(ctx context.Context, id string) (*Business, error) {
	return ScanBusiness(p.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, timezone, active, deleted, suspended, helpers, created_at, updated_at
		FROM businesses WHERE id = $1
	`, id))
}

// GetBusinessByHelper finds the business whose embedded helper list
// contains the given helper id.
func (p *Postgres) GetBusinessByHelper(ctx context.Context, helperID string) (*Business, error) {
	return ScanBusiness(p.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, timezone, active, deleted, suspended, helpers, created_at, updated_at
		FROM businesses
		WHERE helpers @> jsonb_build_array(jsonb_build_object('helperId', $1::text))
		LIMIT 1
	`, helperID))
}

// ScanBusiness decodes a business row in the column order used by the
// catalog and queue stores.
func ScanBusiness(row pgx.Row) (*Business, error) {
	var b Business
	var helpers []byte
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Timezone, &b.Active, &b.Deleted, &b.Suspended, &helpers, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: fetch business: %w", err)
	}
	if len(helpers) > 0 {
		if err := json.Unmarshal(helpers, &b.Helpers); err != nil {
			return nil, fmt.Errorf("catalog: decode helpers: %w", err)
		}
	}
	return &b, nil
}

func (p *Postgres) UpdateBusinessHelpers(ctx context.Context, businessID string, helpers []Helper) error {
	return p.UpdateBusinessHelpersQ(ctx, nil, businessID, helpers)
}

// UpdateBusinessHelpersQ is the transaction-aware variant used by the
// queue store during break and restructure writes.
func (p *Postgres) UpdateBusinessHelpersQ(ctx context.Context, q Querier, businessID string, helpers []Helper) error {
	encoded, err := json.Marshal(helpers)
	if err != nil {
		return fmt.Errorf("catalog: encode helpers: %w", err)
	}
	tag, err := p.querier(q).Exec(ctx, `
		UPDATE businesses SET helpers = $2, updated_at = $3 WHERE id = $1
	`, businessID, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: update helpers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetBusinessActive(ctx context.Context, id string, active bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE businesses SET active = $2, updated_at = $3 WHERE id = $1
	`, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: set business active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateService(ctx context.Context, s *Service) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	genders := make([]string, 0, len(s.AllowedGenders))
	for _, g := range s.AllowedGenders {
		genders = append(genders, string(g))
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO services (id, business_id, name, duration_minutes, price, allowed_genders, deleted, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.ID, s.BusinessID, s.Name, s.DurationMinutes, s.Price, genders, s.Deleted, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("catalog: insert service: %w", err)
	}
	return nil
}

func (p *Postgres) GetService(ctx context.Context, id string) (*Service, error) {
	return ScanService(p.pool.QueryRow(ctx, serviceSelect+` WHERE id = $1`, id))
}

const serviceSelect = `
	SELECT id, business_id, name, duration_minutes, price, allowed_genders, deleted, created_at
	FROM services`

// ScanService decodes a service row in serviceSelect column order.
func ScanService(row pgx.Row) (*Service, error) {
	var s Service
	var genders []string
	err := row.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.Price, &genders, &s.Deleted, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: fetch service: %w", err)
	}
	for _, g := range genders {
		s.AllowedGenders = append(s.AllowedGenders, Gender(g))
	}
	return &s, nil
}

func (p *Postgres) ListServices(ctx context.Context, businessID string) ([]Service, error) {
	rows, err := p.pool.Query(ctx, serviceSelect+` WHERE business_id = $1 AND NOT deleted ORDER BY name`, businessID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()
	var out []Service
	for rows.Next() {
		s, err := ScanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, gender, role, push_token, receive_notifications, active, deleted, suspended, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, string(u.Gender), string(u.Role),
		u.PushToken, u.ReceiveNotifications, u.Active, u.Deleted, u.Suspended, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("catalog: insert user: %w", err)
	}
	return nil
}

const userSelect = `
	SELECT id, email, password_hash, gender, role, push_token, receive_notifications, active, deleted, suspended, created_at
	FROM users`

// ScanUser decodes a user row in userSelect column order.
func ScanUser(row pgx.Row) (*User, error) {
	var u User
	var gender, role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &gender, &role, &u.PushToken,
		&u.ReceiveNotifications, &u.Active, &u.Deleted, &u.Suspended, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: fetch user: %w", err)
	}
	u.Gender = Gender(gender)
	u.Role = Role(role)
	return &u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	return ScanUser(p.pool.QueryRow(ctx, userSelect+` WHERE id = $1`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return ScanUser(p.pool.QueryRow(ctx, userSelect+` WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
}

func (p *Postgres) SetPushToken(ctx context.Context, userID, token string, receive bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE users SET push_token = $2, receive_notifications = $3 WHERE id = $1
	`, userID, token, receive)
	if err != nil {
		return fmt.Errorf("catalog: set push token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateManualCustomer(ctx context.Context, m *ManualCustomer) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO manual_customers (id, business_id, name, phone, gender, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, m.ID, m.BusinessID, m.Name, m.Phone, string(m.Gender), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("catalog: insert manual customer: %w", err)
	}
	return nil
}

const manualSelect = `
	SELECT id, business_id, name, phone, gender, created_at
	FROM manual_customers`

// ScanManualCustomer decodes a manual customer row.
func ScanManualCustomer(row pgx.Row) (*ManualCustomer, error) {
	var m ManualCustomer
	var gender string
	err := row.Scan(&m.ID, &m.BusinessID, &m.Name, &m.Phone, &gender, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: fetch manual customer: %w", err)
	}
	m.Gender = Gender(gender)
	return &m, nil
}

func (p *Postgres) GetManualCustomer(ctx context.Context, id string) (*ManualCustomer, error) {
	return ScanManualCustomer(p.pool.QueryRow(ctx, manualSelect+` WHERE id = $1`, id))
}

func (p *Postgres) SearchManualCustomers(ctx context.Context, businessID, query string, limit int) ([]ManualCustomer, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := p.pool.Query(ctx, manualSelect+`
		WHERE business_id = $1 AND (name ILIKE $2 OR phone LIKE $2)
		ORDER BY name LIMIT $3
	`, businessID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search manual customers: %w", err)
	}
	defer rows.Close()
	var out []ManualCustomer
	for rows.Next() {
		m, err := ScanManualCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
