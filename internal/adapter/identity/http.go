package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// HTTPProvider asks a remote identity service who a bearer token belongs to.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the service at baseURL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type identityResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ErrorResponse represents an error response from the identity service.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Authenticate calls GET /v1/identity with the token as bearer.
func (p *HTTPProvider) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/identity", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ExternalServiceError{Op: "identity", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, &domain.ExternalServiceError{Op: "identity", Err: fmt.Errorf("identity service error: %s", errResp.Error)}
		}
		return nil, &domain.ExternalServiceError{Op: "identity", Err: fmt.Errorf("identity service returned status %d", resp.StatusCode)}
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	if body.UserID == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: body.UserID, Role: domain.Role(body.Role)}, nil
}
