package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Repository for tests and STORE_URI=memory
// deployments. All returned records are copies.
type Memory struct {
	mu         sync.RWMutex
	businesses map[string]*Business
	services   map[string]*Service
	users      map[string]*User
	byEmail    map[string]string
	manual     map[string]*ManualCustomer
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		businesses: make(map[string]*Business),
		services:   make(map[string]*Service),
		users:      make(map[string]*User),
		byEmail:    make(map[string]string),
		manual:     make(map[string]*ManualCustomer),
	}
}

var _ Repository = (*Memory)(nil)

func (m *Memory) CreateBusiness(_ context.Context, b *Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt
	m.businesses[b.ID] = copyBusiness(b)
	return nil
}

func (m *Memory) GetBusiness(_ context.Context, id string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBusiness(b), nil
}

// GetBusinessByHelper finds the business embedding the given helper.
func (m *Memory) GetBusinessByHelper(_ context.Context, helperID string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.businesses {
		if b.Helper(helperID) != nil {
			return copyBusiness(b), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateBusinessHelpers(_ context.Context, businessID string, helpers []Helper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[businessID]
	if !ok {
		return ErrNotFound
	}
	b.Helpers = append([]Helper(nil), helpers...)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetBusinessActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return ErrNotFound
	}
	b.Active = active
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CreateService(_ context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	cp := *s
	cp.AllowedGenders = append([]Gender(nil), s.AllowedGenders...)
	m.services[s.ID] = &cp
	return nil
}

func (m *Memory) GetService(_ context.Context, id string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.AllowedGenders = append([]Gender(nil), s.AllowedGenders...)
	return &cp, nil
}

func (m *Memory) ListServices(_ context.Context, businessID string) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Service
	for _, s := range m.services {
		if s.BusinessID == businessID && !s.Deleted {
			cp := *s
			cp.AllowedGenders = append([]Gender(nil), s.AllowedGenders...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if email != "" {
		if _, taken := m.byEmail[email]; taken {
			return ErrEmailTaken
		}
		m.byEmail[email] = u.ID
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) SetPushToken(_ context.Context, userID, token string, receive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PushToken = token
	u.ReceiveNotifications = receive
	return nil
}

func (m *Memory) CreateManualCustomer(_ context.Context, mc *ManualCustomer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc.CreatedAt.IsZero() {
		mc.CreatedAt = time.Now().UTC()
	}
	cp := *mc
	m.manual[mc.ID] = &cp
	return nil
}

func (m *Memory) GetManualCustomer(_ context.Context, id string) (*ManualCustomer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.manual[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mc
	return &cp, nil
}

func (m *Memory) SearchManualCustomers(_ context.Context, businessID, query string, limit int) ([]ManualCustomer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var out []ManualCustomer
	for _, mc := range m.manual {
		if mc.BusinessID != businessID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(mc.Name), q) && !strings.Contains(mc.Phone, q) {
			continue
		}
		out = append(out, *mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyBusiness(b *Business) *Business {
	cp := *b
	cp.Helpers = append([]Helper(nil), b.Helpers...)
	for i := range cp.Helpers {
		cp.Helpers[i].Services = append([]string(nil), cp.Helpers[i].Services...)
	}
	return &cp
}
