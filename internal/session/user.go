package session

import (
	"context"
	"strings"
	"time"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleDoctor, RolePatient, RoleAdmin:
		return r, true
	}
	return "", false
}

// User is the signed-in identity as seen by the rest of the service.
type User struct {
	UID      string `json:"uid"`
	Role     Role   `json:"role"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

func (u User) IsDoctor() bool  { return u.Role == RoleDoctor }
func (u User) IsPatient() bool { return u.Role == RolePatient }
func (u User) IsAdmin() bool   { return u.Role == RoleAdmin }

// Session is an issued bearer token and the user it belongs to.
type Session struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type contextKey struct{}

// WithUser attaches the authenticated user to ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFrom returns the user attached by WithUser.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(contextKey{}).(User)
	return u, ok
}
