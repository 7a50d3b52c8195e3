package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"printshop/analytics/middleware"
	"printshop/analytics/models"
	"printshop/analytics/store"
)

type fakeOperators struct {
	mu   sync.Mutex
	byID map[string]*models.Operator
}

func newFakeOperators() *fakeOperators {
	return &fakeOperators{byID: map[string]*models.Operator{}}
}

func (f *fakeOperators) CreateOperator(_ context.Context, email string, hashed []byte) (*models.Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[email]; ok {
		return nil, fmt.Errorf("operator with email '%s': %w", email, store.ErrOperatorExists)
	}
	op := &models.Operator{ID: len(f.byID) + 1, Email: email, HashedPassword: hashed}
	f.byID[email] = op
	return op, nil
}

func (f *fakeOperators) GetOperatorByEmail(_ context.Context, email string) (*models.Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.byID[email]
	if !ok {
		return nil, fmt.Errorf("operator '%s': %w", email, models.ErrNotFound)
	}
	return op, nil
}

func newAuthServer(t *testing.T) (*testServer, *fakeOperators) {
	t.Helper()
	ops := newFakeOperators()
	hashed, err := HashPassword("correct-horse")
	require.NoError(t, err)
	_, err = ops.CreateOperator(context.Background(), "ops@printshop.example", hashed)
	require.NoError(t, err)

	s := newTestServer(t, NewAuthHandlers(ops, nil, zap.NewNop()), nil)
	return s, ops
}

func TestLogin(t *testing.T) {
	s, _ := newAuthServer(t)

	w := s.post("/api/login", `{"email":"ops@printshop.example","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[map[string]string](t, w)
	require.NotEmpty(t, body["token"])
	claims, err := s.tokens.ValidateJWT(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "ops@printshop.example", claims.Email)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)

	w = s.do(call{method: http.MethodGet, path: "/api/analytics/stats", headers: map[string]string{"Cookie": TokenCookie + "=" + cookie.Value}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	s, _ := newAuthServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"wrong password", `{"email":"ops@printshop.example","password":"nope"}`, http.StatusUnauthorized},
		{"unknown operator", `{"email":"who@printshop.example","password":"correct-horse"}`, http.StatusUnauthorized},
		{"not an email", `{"email":"ops","password":"correct-horse"}`, http.StatusBadRequest},
		{"missing password", `{"email":"ops@printshop.example"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.post("/api/login", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	s, _ := newAuthServer(t)
	w := s.post("/api/logout", "")
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, TokenCookie, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestCreateOperator(t *testing.T) {
	s, ops := newAuthServer(t)
	withKey := map[string]string{middleware.APIKeyHeader: testAPIKey}

	w := s.post("/api/operators", `{"email":"new@printshop.example","password":"long-enough"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(call{method: http.MethodPost, path: "/api/operators", body: `{"email":"new@printshop.example","password":"long-enough"}`, headers: withKey})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	op, err := ops.GetOperatorByEmail(context.Background(), "new@printshop.example")
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(op.HashedPassword), "long-enough"))

	w = s.do(call{method: http.MethodPost, path: "/api/operators", body: `{"email":"new@printshop.example","password":"long-enough"}`, headers: withKey})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(call{method: http.MethodPost, path: "/api/operators", body: `{"email":"short@printshop.example","password":"short"}`, headers: withKey})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_WithoutAuthHandlers(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := s.post("/api/login", `{"email":"ops@printshop.example","password":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
