package switchsync

import (
	"strings"

	"github.com/pkg/errors"
)

// Role é o papel de um fone no par. O coordenador não interpreta papéis;
// participantes que embutem o papel no próprio blob usam este tipo.
type Role uint8

const (
	RolePrimary Role = iota
	RoleSecondary
	RoleUnknown Role = 0xff
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Peer devolve o papel oposto.
func (r Role) Peer() Role {
	switch r {
	case RolePrimary:
		return RoleSecondary
	case RoleSecondary:
		return RolePrimary
	default:
		return RoleUnknown
	}
}

// ParseRole aceita "primary" ou "secondary".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return RolePrimary, nil
	case "secondary":
		return RoleSecondary, nil
	}
	return RoleUnknown, errors.Wrapf(ErrInvalidArgument, "unknown role %q", s)
}
