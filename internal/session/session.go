// Package session carries the acting identity through a request.
//
// The actor is an explicit value: handlers receive it from the Bearer token
// via middleware and pass it down on context.Context. Nothing in the service
// keeps a "current user" in shared state.
package session

import (
	"context"
	"fmt"
)

// Role is the kind of party acting on lots.
type Role string

const (
	RolePlanter     Role = "planter"
	RoleCooperative Role = "cooperative"
	RoleCertifier   Role = "certifier"
	RoleRegulator   Role = "regulator"
	RoleNGO         Role = "ngo"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlanter, RoleCooperative, RoleCertifier, RoleRegulator, RoleNGO:
		return true
	}
	return false
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor is an authenticated party.
type Actor struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

type actorKey struct{}

// NewContext returns a copy of ctx carrying a.
func NewContext(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored in ctx, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
