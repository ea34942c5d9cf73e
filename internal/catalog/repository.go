package catalog

import (
	"context"
	"errors"
)

// Sentinel errors shared by the repository implementations.
var (
	ErrNotFound   = errors.New("catalog: not found")
	ErrEmailTaken = errors.New("catalog: email already registered")
)

// Repository is the admin-facing record store. The queue engine reads
// the same records through its own transactional store; this interface
// covers catalog maintenance only.
type Repository interface {
	CreateBusiness(ctx context.Context, b *Business) error
	GetBusiness(ctx context.Context, id string) (*Business, error)
	UpdateBusinessHelpers(ctx context.Context, businessID string, helpers []Helper) error
	SetBusinessActive(ctx context.Context, id string, active bool) error

	CreateService(ctx context.Context, s *Service) error
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context, businessID string) ([]Service, error)

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetPushToken(ctx context.Context, userID, token string, receive bool) error

	CreateManualCustomer(ctx context.Context, m *ManualCustomer) error
	GetManualCustomer(ctx context.Context, id string) (*ManualCustomer, error)
	SearchManualCustomers(ctx context.Context, businessID, query string, limit int) ([]ManualCustomer, error)
}
