package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role is a closed set; switch statements over it should list every value.
type Role int

const (
	RolePatient Role = iota + 1
	RoleDoctor
	RoleProvider
)

var ErrUnknownRole = errors.New("unknown role")

func (r Role) String() string {
	switch r {
	case RolePatient:
		return "patient"
	case RoleDoctor:
		return "doctor"
	case RoleProvider:
		return "provider"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "patient":
		return RolePatient, nil
	case "doctor":
		return RoleDoctor, nil
	case "provider":
		return RoleProvider, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Actor is the authenticated caller. For patients and doctors UserID is also
// the id of their patient/doctor profile.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsPatient() bool { return a.Role == RolePatient }
func (a Actor) IsDoctor() bool  { return a.Role == RoleDoctor }

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
