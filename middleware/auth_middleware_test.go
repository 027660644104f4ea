package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func signToken(t *testing.T, secret string, claims *Claims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{Scope: "generate", RegisteredClaims: jwt.RegisteredClaims{Subject: "svc-search"}}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			require.NotNil(t, extracted)
			assert.Equal(t, "svc-search", extracted.Subject)
			assert.Equal(t, "generate", extracted.Scope)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	rejected := []struct {
		name   string
		header string
		err    error
	}{
		{"missing token returns 401", "", nil},
		{"invalid authorization header format returns 401", "InvalidFormat", nil},
		{"invalid token returns 401", "Bearer invalid-token", errors.New("token validation failed")},
		{"expired token returns 401", "Bearer expired-token", ErrTokenExpired},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			mockValidator := new(MockTokenValidator)
			if tt.err != nil {
				mockValidator.On("ValidateToken", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			middleware := NewAuthMiddleware(mockValidator, logger)

			handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			if tt.err == nil {
				mockValidator.AssertNotCalled(t, "ValidateToken")
			} else {
				mockValidator.AssertExpectations(t)
			}
		})
	}
}

func TestHMACValidator(t *testing.T) {
	const secret = "test-secret"
	validator := NewHMACValidator(secret, "llm-gateway", "clients")
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	valid := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "svc-a",
		Issuer:    "llm-gateway",
		Audience:  jwt.ClaimStrings{"clients"},
		ExpiresAt: future,
	}}

	t.Run("valid token", func(t *testing.T) {
		claims, err := validator.ValidateToken(context.Background(), signToken(t, secret, valid, jwt.SigningMethodHS256))
		require.NoError(t, err)
		assert.Equal(t, "svc-a", claims.Subject)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := validator.ValidateToken(context.Background(), signToken(t, "other", valid, jwt.SigningMethodHS256))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		_, err := validator.ValidateToken(context.Background(), signToken(t, secret, valid, jwt.SigningMethodHS512))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := *valid
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := validator.ValidateToken(context.Background(), signToken(t, secret, &expired, jwt.SigningMethodHS256))
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("missing expiry", func(t *testing.T) {
		noExp := *valid
		noExp.ExpiresAt = nil
		_, err := validator.ValidateToken(context.Background(), signToken(t, secret, &noExp, jwt.SigningMethodHS256))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := *valid
		other.Issuer = "someone-else"
		_, err := validator.ValidateToken(context.Background(), signToken(t, secret, &other, jwt.SigningMethodHS256))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := *valid
		other.Audience = jwt.ClaimStrings{"admins"}
		_, err := validator.ValidateToken(context.Background(), signToken(t, secret, &other, jwt.SigningMethodHS256))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := validator.ValidateToken(context.Background(), "not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRequireAuth_WithHMACValidator(t *testing.T) {
	const secret = "s3cret"
	middleware := NewAuthMiddleware(NewHMACValidator(secret, "", ""), nil)
	handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	token := signToken(t, secret, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "cli",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}, jwt.SigningMethodHS256)

	req := httptest.NewRequest(http.MethodPost, "/v1/completions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
