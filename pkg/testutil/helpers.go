package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewHTTPRequest builds a request with body encoded as JSON. A nil body sends
// no payload.
func NewHTTPRequest(method, path string, body interface{}) *http.Request {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			panic("testutil: request body does not marshal: " + err.Error())
		}
		payload = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WithUserHeaders sets the actor headers the gateway forwards.
func WithUserHeaders(req *http.Request, userID, userName string) *http.Request {
	if userID != "" {
		req.Header.Set(httputil.HeaderUserID, userID)
	}
	if userName != "" {
		req.Header.Set(httputil.HeaderUserName, userName)
	}
	return req
}

// ExecuteRequest serves req and returns the recorded response.
func ExecuteRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// AssertStatus fails with the body attached so error envelopes show up in
// test output.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, rr.Code, "unexpected status, body: %s", rr.Body.String())
}

// ParseJSONBody decodes the response body into target.
func ParseJSONBody(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), "body: %s", rr.Body.String())
}

// AssertQuantity compares quantities numerically, so "5" equals "5.000".
func AssertQuantity(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	want := decimal.RequireFromString(expected)
	assert.True(t, want.Equal(actual), "want quantity %s, got %s", want, actual)
}

// SkipIfShort skips integration tests under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
