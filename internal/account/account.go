// Package account holds the users whose wallets are monitored and the plan
// catalogue that caps how many wallets each may connect.
package account

import (
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrUserNotFound = errors.New("account: user not found")
	ErrEmailTaken   = errors.New("account: email already registered")
	ErrWalletLimit  = errors.New("account: wallet limit reached for plan")
	ErrInvalidPlan  = errors.New("account: unknown plan")
)

// Plan identifies the pricing tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan normalizes p; empty means free.
func ParsePlan(p string) (Plan, error) {
	plan := Plan(strings.ToLower(strings.TrimSpace(p)))
	if plan == "" {
		return PlanFree, nil
	}
	if !ValidPlan(plan) {
		return "", ErrInvalidPlan
	}
	return plan, nil
}

// User is an authenticated account. Role mirrors the plan; enterprise users
// may use the admin API.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Plan      Plan      `json:"plan"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user may read cross-account data.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == string(PlanEnterprise)
}

// NewUser builds a user with a normalized email and the role derived from
// the plan.
func NewUser(id, name, email string, plan Plan, now time.Time) *User {
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return &User{
		ID:        id,
		Name:      name,
		Email:     email,
		Plan:      plan,
		Role:      string(plan),
		CreatedAt: now,
	}
}
