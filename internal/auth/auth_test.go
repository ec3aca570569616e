package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeJWT, Secret: testSecret, Issuer: "gisengine", Audience: "api"})
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidatesConfig(t *testing.T) {
	svc, err := NewService(Config{})
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	_, err = NewService(Config{Mode: ModeJWT})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: ModeJWT, Secret: "short"})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: "oauth"})
	assert.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	svc := newJWTService(t)
	token, expires, err := svc.Issue("ci-bot", []string{PermRunsRead, PermRunsWrite}, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	subject, err := svc.AuthenticateRequest("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", subject.Name)
	assert.True(t, subject.HasPermission("RUNS:READ"))
	assert.NoError(t, subject.Authorize(PermRunsRead, PermRunsWrite))
	assert.ErrorIs(t, subject.Authorize(PermEventsRead), ErrPermissionDenied)

	_, err = svc.AuthenticateRequest("Basic abc")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	svc := newJWTService(t)
	other, err := NewService(Config{Mode: ModeJWT, Secret: strings.Repeat("x", 32), Issuer: "gisengine", Audience: "api"})
	require.NoError(t, err)
	foreign, _, err := other.Issue("mallory", AllPermissions(), time.Hour)
	require.NoError(t, err)
	_, err = svc.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongAudience, err := NewService(Config{Mode: ModeJWT, Secret: testSecret, Issuer: "gisengine", Audience: "ui"})
	require.NoError(t, err)
	token, _, err := wrongAudience.Issue("bob", nil, time.Hour)
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := svc.Issue("old", nil, time.Hour)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc := newJWTService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: map[string][]string{
		http.MethodGet:  {PermRunsRead},
		http.MethodPost: {PermRunsWrite},
	}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	reader, _, err := svc.Issue("reader", []string{PermRunsRead}, 0)
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		header string
		query  string
		want   int
	}{
		{"no token", http.MethodGet, "", "", http.StatusUnauthorized},
		{"garbage", http.MethodGet, "Bearer nope", "", http.StatusUnauthorized},
		{"allowed", http.MethodGet, "Bearer " + reader, "", http.StatusAccepted},
		{"query token", http.MethodGet, "", "?access_token=" + reader, http.StatusAccepted},
		{"missing permission", http.MethodPost, "Bearer " + reader, "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/v1/runs"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "reader", seen.Name)
}

func TestDisabledServicePassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	require.NoError(t, err)
	called := false
	svc.Require(PermRunsWrite)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.True(t, called)

	_, _, err = svc.Issue("x", nil, 0)
	assert.True(t, errors.Is(err, ErrDisabled))
}
