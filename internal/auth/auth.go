// Package auth resolves API keys to roles and authorizes actions
// against them. The key map is loaded once at startup and read-only
// afterwards.
package auth

import (
	"errors"
	"strings"
)

// Role is a caller's privilege level.
type Role string

const (
	// RoleAnonymous is the absence of a credential. It never
	// satisfies a role requirement.
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
)

// satisfies reports whether r meets the privilege of required.
// Admin satisfies user; anonymous satisfies nothing.
func (r Role) satisfies(required Role) bool {
	switch required {
	case RoleAdmin:
		return r == RoleAdmin
	case RoleUser:
		return r == RoleUser || r == RoleAdmin
	default:
		return false
	}
}

var (
	ErrMissingCredential = errors.New("API key required")
	ErrInvalidCredential = errors.New("invalid API key")
	ErrInsufficientRole  = errors.New("insufficient role for this operation")
)

// Account is the identity behind an API key.
type Account struct {
	Name string
	Role Role
}

// Gate authorizes callers against a fixed key→account mapping.
type Gate struct {
	keys map[string]Account
}

// NewGate builds a gate over keys. The map is copied; the gate never
// mutates it afterwards.
func NewGate(keys map[string]Account) *Gate {
	m := make(map[string]Account, len(keys))
	for k, v := range keys {
		m[k] = v
	}
	return &Gate{keys: m}
}

// Development keys, used when API_KEYS is not set.
var defaultKeys = map[string]Account{
	"agora-admin-key": {Name: "admin", Role: RoleAdmin},
	"agora-user1-key": {Name: "user1", Role: RoleUser},
	"agora-user2-key": {Name: "user2", Role: RoleUser},
}

// ParseKeys parses the API_KEYS environment format
// "key:name:role,key:name:role". Malformed entries and unknown roles
// are skipped. An empty or fully malformed value falls back to the
// development defaults.
func ParseKeys(env string) map[string]Account {
	keys := make(map[string]Account)
	for _, part := range strings.Split(env, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			continue
		}
		role := Role(fields[2])
		if role != RoleUser && role != RoleAdmin {
			continue
		}
		keys[fields[0]] = Account{Name: fields[1], Role: role}
	}
	if len(keys) == 0 {
		return defaultKeys
	}
	return keys
}

// Resolve maps a presented credential to its account. An empty
// credential and an unrecognized one are distinct failures.
func (g *Gate) Resolve(credential string) (Account, error) {
	if credential == "" {
		return Account{}, ErrMissingCredential
	}
	acct, ok := g.keys[credential]
	if !ok {
		return Account{}, ErrInvalidCredential
	}
	return acct, nil
}

// Authorize checks a resolved role against a requirement.
// RoleAnonymous as the requirement admits everyone.
func (g *Gate) Authorize(role, required Role) error {
	if required == RoleAnonymous {
		return nil
	}
	if !role.satisfies(required) {
		return ErrInsufficientRole
	}
	return nil
}
