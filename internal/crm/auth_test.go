package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-gateway/internal/common/errors"
)

func TestAuthenticate_SendsCredentials(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2api/auth/login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"token": "fresh-token"}`))
	}))
	defer server.Close()

	token, err := testAuthenticator(server.URL).Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, map[string]string{"email": "bot@example.com", "api_key": "key"}, got)
}

func TestAuthenticate_RejectedLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := testAuthenticator(server.URL).Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
}

func TestAuthenticate_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token": ""}`))
	}))
	defer server.Close()

	_, err := testAuthenticator(server.URL).Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
}

func TestAuthenticate_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := testAuthenticator(server.URL).Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
}
