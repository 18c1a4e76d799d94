package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStaticTokens(t *testing.T) {
	p, err := ParseStaticTokens("tok-a:user-a:provider, tok-b:user-b")
	require.NoError(t, err)

	id, err := p.Authenticate(context.Background(), Credentials{Token: "tok-a"})
	require.NoError(t, err)
	assert.Equal(t, "user-a", id.UserID)
	assert.Equal(t, domain.RoleProvider, id.Role)

	id, err = p.Authenticate(context.Background(), Credentials{Token: "tok-b"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, id.Role)

	_, err = p.Authenticate(context.Background(), Credentials{Token: "nope"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseStaticTokens("broken")
	assert.Error(t, err)
	_, err = ParseStaticTokens("tok:user:admin")
	assert.Error(t, err)
}

func TestStaticProviderExactMatch(t *testing.T) {
	p, err := ParseStaticTokens("tok-a:user-a, tok-a:user-b:provider, tok-abc:user-c")
	require.NoError(t, err)
	ctx := context.Background()

	id, err := p.Authenticate(ctx, Credentials{Token: "tok-a"})
	require.NoError(t, err)
	assert.Equal(t, "user-b", id.UserID)
	assert.Equal(t, domain.RoleProvider, id.Role)

	id, err = p.Authenticate(ctx, Credentials{Token: "tok-abc"})
	require.NoError(t, err)
	assert.Equal(t, "user-c", id.UserID)

	for _, tok := range []string{"", "tok", "tok-ab", "tok-abcd", "TOK-A"} {
		_, err := p.Authenticate(ctx, Credentials{Token: tok})
		assert.ErrorIs(t, err, ErrInvalidToken, tok)
	}
}

func TestGate(t *testing.T) {
	static, err := ParseStaticTokens("tok:user-1:client")
	require.NoError(t, err)
	ctx := context.Background()

	gate := NewGate(static, true)

	id, err := gate.Authenticate(ctx, Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, domain.Owner{UserID: "user-1"}, id.Owner())

	id, err = gate.Authenticate(ctx, Credentials{AnonymousID: "visitor-9"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAnonymous, id.Role)
	assert.Equal(t, "anon:visitor-9", id.String())

	_, err = gate.Authenticate(ctx, Credentials{Token: "bad"})
	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = gate.Authenticate(ctx, Credentials{})
	assert.True(t, domain.IsAuth(err))

	closed := NewGate(static, false)
	_, err = closed.Authenticate(ctx, Credentials{AnonymousID: "visitor-9"})
	assert.True(t, domain.IsAuth(err))
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/identity", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_id":"u-42","role":"provider"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"db down"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL + "/")
	ctx := context.Background()

	id, err := p.Authenticate(ctx, Credentials{Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, "u-42", id.UserID)
	assert.Equal(t, domain.RoleProvider, id.Role)

	_, err = p.Authenticate(ctx, Credentials{Token: "other"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.Authenticate(ctx, Credentials{Token: "broken"})
	var extErr *domain.ExternalServiceError
	require.True(t, errors.As(err, &extErr))
	assert.Contains(t, err.Error(), "db down")
}
