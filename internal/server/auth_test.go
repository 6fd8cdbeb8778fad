package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-for-auth-middleware"

func signTestToken(t *testing.T, secret string, userID uuid.UUID, expiresAt time.Time) string {
	t.Helper()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	auth := newAuthMiddleware("")

	called := false
	handler := auth.require(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/automation/job-apply", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	auth := newAuthMiddleware(testJWTSecret)
	handler := auth.require(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/automation/job-apply", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	auth := newAuthMiddleware(testJWTSecret)
	userID := uuid.New()

	var gotUserID uuid.UUID
	handler := auth.require(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserIDFromContext(r.Context())
		require.True(t, ok)
		gotUserID = id
		w.WriteHeader(http.StatusOK)
	})

	token := signTestToken(t, testJWTSecret, userID, time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/api/automation/job-apply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, gotUserID)
}

func TestAuthMiddleware_RejectsBadTokens(t *testing.T) {
	auth := newAuthMiddleware(testJWTSecret)
	handler := auth.require(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	expired := signTestToken(t, testJWTSecret, uuid.New(), time.Now().Add(-time.Hour))
	wrongSecret := signTestToken(t, "some-other-secret", uuid.New(), time.Now().Add(time.Hour))

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": wrongSecret,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/automation/job-apply", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			handler(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
