package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// Service implements register, login, and logout over the catalog
// user records.
type Service struct {
	users    catalog.Repository
	issuer   *TokenIssuer
	sessions *SessionStore
	logger   *logging.Logger
}

// NewService wires the auth flows.
func NewService(users catalog.Repository, issuer *TokenIssuer, sessions *SessionStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{users: users, issuer: issuer, sessions: sessions, logger: logger.Component("identity")}
}

// AuthResult carries the registered or authenticated user plus the
// bearer token the client should present.
type AuthResult struct {
	User      *catalog.User
	Token     string
	ExpiresAt time.Time
}

// Register creates an account and issues its first token.
func (s *Service) Register(ctx context.Context, email, password string, role Role, gender catalog.Gender) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.InvalidArgument("a valid email is required")
	}
	if len(password) < 8 {
		return nil, apperr.InvalidArgument("password must be at least 8 characters")
	}
	if role != RoleCustomer && role != RoleVendor {
		return nil, apperr.InvalidArgument("role must be customer or ownerOrHelper")
	}
	if !catalog.ValidGender(gender) {
		return nil, apperr.InvalidArgument("gender must be male, female, or child")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	user := &catalog.User{
		ID:                   uuid.NewString(),
		Email:                email,
		PasswordHash:         string(hash),
		Gender:               gender,
		Role:                 catalog.Role(role),
		ReceiveNotifications: true,
		Active:               true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, catalog.ErrEmailTaken) {
			return nil, apperr.InvalidArgument("email already registered")
		}
		return nil, apperr.Internal(err)
	}
	return s.issue(ctx, user)
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, apperr.Unauthorized("invalid email or password")
		}
		return nil, apperr.Internal(err)
	}
	if user.Deleted || user.Suspended || !user.Active {
		return nil, apperr.Unauthorized("account unavailable")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	return s.issue(ctx, user)
}

// Logout revokes the session behind the given token id.
func (s *Service) Logout(ctx context.Context, jti string) error {
	if err := s.sessions.Delete(ctx, jti); err != nil {
		// Revocation is best-effort: the token still expires on its own.
		s.logger.Warn("session delete failed", "error", err)
	}
	return nil
}

func (s *Service) issue(ctx context.Context, user *catalog.User) (*AuthResult, error) {
	principal := Principal{ID: user.ID, Role: Role(user.Role)}
	token, jti, expiresAt, err := s.issuer.Issue(principal)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sess := Session{UserID: user.ID, Role: principal.Role, IssuedAt: time.Now().UTC(), ExpiresAt: expiresAt}
	if err := s.sessions.Save(ctx, jti, sess); err != nil {
		s.logger.Warn("session save failed", "error", err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
