// Package identity authenticates gateway connections against an identity
// provider.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// Credentials are what a client presents when connecting.
type Credentials struct {
	Token       string
	AnonymousID string
}

// Identity is an authenticated caller. Anonymous identities carry only
// AnonymousID.
type Identity struct {
	UserID      string      `json:"user_id"`
	Role        domain.Role `json:"role"`
	AnonymousID string      `json:"anonymous_id,omitempty"`
}

// Owner returns the session owner for this identity.
func (i *Identity) Owner() domain.Owner {
	if i.UserID != "" {
		return domain.Owner{UserID: i.UserID}
	}
	return domain.Owner{AnonymousID: i.AnonymousID}
}

// String is the identity as logged.
func (i *Identity) String() string {
	return i.Owner().Key()
}

// Provider authenticates credentials.
type Provider interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// ErrInvalidToken is returned for unknown or rejected tokens.
var ErrInvalidToken = errors.New("invalid token")

// StaticProvider resolves tokens from a fixed table.
type StaticProvider struct {
	tokens []staticToken
}

type staticToken struct {
	token []byte
	id    Identity
}

// ParseStaticTokens parses "token:user_id:role" entries separated by commas.
// The role defaults to client.
func ParseStaticTokens(raw string) (*StaticProvider, error) {
	p := &StaticProvider{}
	seen := make(map[string]int)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid static token entry %q", entry)
		}
		role := domain.RoleClient
		if len(parts) == 3 {
			role = domain.Role(parts[2])
			if !role.Valid() || role == domain.RoleAnonymous {
				return nil, fmt.Errorf("invalid role %q in static token entry", parts[2])
			}
		}
		tok := staticToken{token: []byte(parts[0]), id: Identity{UserID: parts[1], Role: role}}
		if i, ok := seen[parts[0]]; ok {
			p.tokens[i] = tok
			continue
		}
		seen[parts[0]] = len(p.tokens)
		p.tokens = append(p.tokens, tok)
	}
	return p, nil
}

// Authenticate compares the token against every entry in constant time.
func (p *StaticProvider) Authenticate(_ context.Context, creds Credentials) (*Identity, error) {
	if creds.Token == "" {
		return nil, ErrInvalidToken
	}
	given := []byte(creds.Token)
	var match *Identity
	for i := range p.tokens {
		if subtle.ConstantTimeCompare(p.tokens[i].token, given) == 1 {
			id := p.tokens[i].id
			match = &id
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return match, nil
}

// Gate applies the connection rules around a token provider: a token is
// checked by the provider, a bare anonymous id is accepted only when
// anonymous access is enabled.
type Gate struct {
	provider       Provider
	allowAnonymous bool
}

// NewGate creates a gate. provider may be nil when only anonymous access is
// used.
func NewGate(provider Provider, allowAnonymous bool) *Gate {
	return &Gate{provider: provider, allowAnonymous: allowAnonymous}
}

// Authenticate resolves creds or returns a *domain.AuthError.
func (g *Gate) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	switch {
	case creds.Token != "":
		if g.provider == nil {
			return nil, &domain.AuthError{Reason: "token authentication is not configured"}
		}
		id, err := g.provider.Authenticate(ctx, creds)
		if err != nil {
			return nil, &domain.AuthError{Reason: "invalid credentials", Err: err}
		}
		if id.UserID == "" {
			return nil, &domain.AuthError{Reason: "identity without user id"}
		}
		if !id.Role.Valid() || id.Role == domain.RoleAnonymous {
			id.Role = domain.RoleClient
		}
		return id, nil
	case creds.AnonymousID != "":
		if !g.allowAnonymous {
			return nil, &domain.AuthError{Reason: "anonymous access is disabled"}
		}
		return &Identity{Role: domain.RoleAnonymous, AnonymousID: creds.AnonymousID}, nil
	default:
		return nil, &domain.AuthError{Reason: "missing credentials"}
	}
}
