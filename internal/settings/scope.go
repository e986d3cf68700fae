package settings

import (
	"errors"
	"fmt"
	"strings"
)

// Scope selects where a setting or enablement rule applies.
type Scope string

const (
	ScopeUser      Scope = "user"
	ScopeWorkspace Scope = "workspace"
)

// ErrInvalidScope is returned for an unknown scope name.
var ErrInvalidScope = errors.New("invalid scope")

// ParseScope converts a user-supplied scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeUser:
		return ScopeUser, nil
	case ScopeWorkspace:
		return ScopeWorkspace, nil
	default:
		return "", fmt.Errorf("%w %q: must be %q or %q", ErrInvalidScope, s, ScopeUser, ScopeWorkspace)
	}
}

func (s Scope) String() string { return string(s) }
