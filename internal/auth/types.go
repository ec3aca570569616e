// Package auth authenticates API callers with HS256 bearer tokens and checks
// their permissions.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Permissions understood by the API.
const (
	PermWorkflowsExecute = "workflows:execute"
	PermRunsWrite        = "runs:write"
	PermRunsRead         = "runs:read"
	PermComponentsRead   = "components:read"
	PermEventsRead       = "events:read"
)

// AllPermissions lists every permission, for admin tokens.
func AllPermissions() []string {
	return []string{PermWorkflowsExecute, PermRunsWrite, PermRunsRead, PermComponentsRead, PermEventsRead}
}

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// Config configures the Service.
type Config struct {
	Mode     Mode          `mapstructure:"mode" yaml:"mode"`
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// Subject is the authenticated caller carried in the request context.
type Subject struct {
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HasPermission compares case-insensitively. "*" grants everything.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(permission))
	for _, p := range s.Permissions {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == want {
			return true
		}
	}
	return false
}

// Authorize requires every listed permission.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
