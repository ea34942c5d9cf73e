// Package catalog holds the business, helper, service, and customer
// records the queue engine schedules against. Helpers are embedded by
// value in their business document; queue entries reference everything
// here by id only.
package catalog

import (
	"sort"
	"time"
)

// Gender buckets recognized by service eligibility rules.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderChild  Gender = "child"
)

// ValidGender reports whether g is one of the recognized buckets.
func ValidGender(g Gender) bool {
	switch g {
	case GenderMale, GenderFemale, GenderChild:
		return true
	}
	return false
}

// HelperStatus tracks the invite lifecycle of a helper within a business.
type HelperStatus string

const (
	HelperPending  HelperStatus = "pending"
	HelperAccepted HelperStatus = "accepted"
	HelperRejected HelperStatus = "rejected"
	HelperRemoved  HelperStatus = "removed"
)

// Helper is a staff record embedded in a Business. HelperID is the
// user id of the staff member.
type Helper struct {
	HelperID string   `json:"helperId"`
	Status   HelperStatus `json:"status"`
	Active   bool     `json:"active"`
	Services []string `json:"services"`
}

// Participates reports whether the helper takes part in scheduling.
// Only accepted and active helpers do.
func (h Helper) Participates() bool {
	return h.Status == HelperAccepted && h.Active
}

// Supports reports whether the helper can perform the given service.
func (h Helper) Supports(serviceID string) bool {
	for _, id := range h.Services {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Business is the tenant root. Active=false pauses the whole business.
type Business struct {
	ID        string
	OwnerID   string
	Name      string
	Timezone  string
	Active    bool
	Deleted   bool
	Suspended bool
	Helpers   []Helper
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Helper returns a pointer into the embedded slice, or nil.
func (b *Business) Helper(helperID string) *Helper {
	for i := range b.Helpers {
		if b.Helpers[i].HelperID == helperID {
			return &b.Helpers[i]
		}
	}
	return nil
}

// ActiveHelpers returns the helpers that participate in scheduling,
// sorted by id so tie-breaks are deterministic.
func (b *Business) ActiveHelpers() []Helper {
	var out []Helper
	for _, h := range b.Helpers {
		if h.Participates() {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HelperID < out[j].HelperID })
	return out
}

// IsVendor reports whether userID is the owner or a participating
// helper of the business.
func (b *Business) IsVendor(userID string) bool {
	if b.OwnerID == userID {
		return true
	}
	h := b.Helper(userID)
	return h != nil && h.Participates()
}

// Service is a bookable offering. DurationMinutes is immutable for the
// lifetime of any queue entry referencing the service.
type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	Price           float64
	AllowedGenders  []Gender
	Deleted         bool
	CreatedAt       time.Time
}

// AllowsGender reports whether the service accepts the given gender.
// An empty allow-list accepts everyone.
func (s *Service) AllowsGender(g Gender) bool {
	if len(s.AllowedGenders) == 0 {
		return true
	}
	for _, allowed := range s.AllowedGenders {
		if allowed == g {
			return true
		}
	}
	return false
}

// Role of a registered account.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "ownerOrHelper"
)

// User is a registered account: a customer, an owner, or a helper.
type User struct {
	ID                   string
	Email                string
	PasswordHash         string
	Gender               Gender
	Role                 Role
	PushToken            string
	ReceiveNotifications bool
	Active               bool
	Deleted              bool
	Suspended            bool
	CreatedAt            time.Time
}

// Reachable reports whether the user can receive push notifications.
func (u *User) Reachable() bool {
	return u.ReceiveNotifications && u.PushToken != ""
}

// ManualCustomer is a walk-in added by a vendor. Manual customers have
// no push channel and belong to exactly one business.
type ManualCustomer struct {
	ID         string
	BusinessID string
	Name       string
	Phone      string
	Gender     Gender
	CreatedAt  time.Time
}
