package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
)

// Credentials are the static CRM account credentials, loaded once from
// configuration.
type Credentials struct {
	Email  string
	APIKey string
}

// Authenticator exchanges account credentials for a bearer token via the
// CRM login endpoint. It never retries: a failed login against a possibly
// misconfigured account should surface, not loop.
type Authenticator struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	logger  logging.Logger
}

// NewAuthenticator builds an authenticator for the given CRM host.
func NewAuthenticator(hostname string, creds Credentials, timeout time.Duration, logger logging.Logger) *Authenticator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Authenticator{
		baseURL: "https://" + hostname + "/v2api",
		creds:   creds,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithFields(logging.String("component", "crm_auth")),
	}
}

// Authenticate performs one login call and returns the fresh token.
func (a *Authenticator) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":   a.creds.Email,
		"api_key": a.creds.APIKey,
	})
	if err != nil {
		return "", errors.InternalError("failed to encode login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", errors.InternalError("failed to build login request", err)
	}
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}

	a.logger.Info("authenticating against CRM", logging.String("email", a.creds.Email))

	resp, err := a.http.Do(req)
	if err != nil {
		a.logger.Error("login request failed", err)
		return "", errors.AuthError("login endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.logger.Error("login rejected", nil, logging.Int("status", resp.StatusCode))
		return "", errors.AuthError("login rejected", nil).WithContext("status", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.AuthError("malformed login response", err)
	}
	if payload.Token == "" {
		return "", errors.AuthError("login response carried no token", nil)
	}

	a.logger.Info("token obtained")
	return payload.Token, nil
}
