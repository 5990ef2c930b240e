package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.InsufficientStock("m-1", "b-1", "0.5"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Error.Code)
	assert.Equal(t, "0.5", resp.Error.Details["shortfall"])

	rec = httptest.NewRecorder()
	Error(rec, fmt.Errorf("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp = decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "pq")
}

func TestNewMeta(t *testing.T) {
	assert.Equal(t, 3, NewMeta(1, 20, 41).TotalPages)
	assert.Equal(t, 0, NewMeta(1, 20, 0).TotalPages)
	assert.Equal(t, 0, NewMeta(1, 0, 10).TotalPages)
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=3&per_page=x&active=true", nil)
	assert.Equal(t, 3, QueryInt(r, "page", 1))
	assert.Equal(t, 20, QueryInt(r, "per_page", 20))
	assert.True(t, QueryBool(r, "active", false))
	assert.True(t, QueryBool(r, "missing", true))
}

func TestValidate_UsesJSONNames(t *testing.T) {
	type request struct {
		BranchID string   `json:"branch_id" validate:"required,uuid"`
		Lines    []string `json:"lines" validate:"min=1"`
		Type     string   `json:"type" validate:"omitempty,oneof=raw supplies"`
	}

	err := Validate(request{BranchID: "nope", Type: "frozen"})
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be a valid UUID", appErr.Details["branch_id"])
	assert.Equal(t, "must contain at least 1 item(s)", appErr.Details["lines"])
	assert.Equal(t, "must be one of: raw supplies", appErr.Details["type"])

	assert.NoError(t, Validate(request{BranchID: "0b0f5b5e-8f0e-4b5e-9a51-2f1c3d4e5f60", Lines: []string{"x"}}))
}

func TestValidateVar(t *testing.T) {
	err := ValidateVar("id", "abc", "uuid")
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "id")
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, rec).Error.Code)
}

func captureActor(got **actor.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = actor.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func signed(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestActor_ForwardedHeaders(t *testing.T) {
	var got *actor.Actor
	h := Actor(nil)(captureActor(&got))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderUserID, "u-7")
	req.Header.Set(HeaderUserName, "Robin")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	assert.Equal(t, "u-7", got.ID)
	assert.Equal(t, "Robin", got.DisplayName())

	got = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Nil(t, got)
}

func TestActor_BearerToken(t *testing.T) {
	const secret = "test-secret"
	verifier := NewTokenVerifier(secret, "larder")
	require.NotNil(t, verifier)

	var got *actor.Actor
	h := Actor(verifier)(captureActor(&got))

	valid := signed(t, secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "larder",
			Subject:   "u-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name: "Kim",
		Role: "chef",
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	req.Header.Set(HeaderUserID, "spoofed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u-9", got.ID)
	assert.Equal(t, "chef", got.Role)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signed(t, "other", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "larder", Subject: "u-9"}})},
		{"wrong issuer", signed(t, secret, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere", Subject: "u-9"}})},
		{"expired", signed(t, secret, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "larder",
			Subject:   "u-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}})},
		{"no subject", signed(t, secret, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "larder"}})},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestNewTokenVerifier_DisabledWithoutSecret(t *testing.T) {
	assert.Nil(t, NewTokenVerifier("", "larder"))
}
