package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/larder/larder-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Page       int   `json:"page"`
		PerPage    int   `json:"per_page"`
		Total      int64 `json:"total"`
		TotalPages int   `json:"total_pages"`
	} `json:"meta"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	testutil.ParseJSONBody(t, rr, &env)
	return env
}

const base = "/api/v1/inventory"

func TestHandlers_RejectBadInput(t *testing.T) {
	router, _ := newRouter(nil, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	branch := "7b3f4a7e-5d1c-4f39-9b2e-0c7a2f7e1d11"
	material := "0f8e3a52-3c0e-4f4f-8d7b-1a3b6f2c9e40"

	tests := []struct {
		name    string
		method  string
		path    string
		body    interface{}
		raw     string
		status  int
		code    string
		details map[string]string
	}{
		{
			name:   "malformed material id",
			method: http.MethodGet,
			path:   base + "/materials/not-a-uuid",
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "malformed json",
			method: http.MethodPost,
			path:   base + "/stock/withdraw",
			raw:    `{"material_id":`,
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:    "receive without a branch",
			method:  http.MethodPost,
			path:    base + "/stock/receive",
			body:    map[string]interface{}{"material_name": "Flour", "unit": "kg", "quantity": "5"},
			status:  http.StatusBadRequest,
			code:    "VALIDATION_ERROR",
			details: map[string]string{"branch_id": "this field is required"},
		},
		{
			name:   "receive with a bad purchase date",
			method: http.MethodPost,
			path:   base + "/stock/receive",
			body: map[string]interface{}{
				"material_name": "Flour", "unit": "kg", "branch_id": branch,
				"quantity": "5", "purchase_date": "01/02/2024",
			},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "receive with a zero shelf life",
			method: http.MethodPost,
			path:   base + "/stock/receive",
			body: map[string]interface{}{
				"material_name": "Flour", "unit": "kg", "branch_id": branch,
				"quantity": "5", "shelf_life_days": 0,
			},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "withdraw a zero quantity",
			method: http.MethodPost,
			path:   base + "/stock/withdraw",
			body:   map[string]interface{}{"material_id": material, "branch_id": branch, "quantity": "0"},
			status: http.StatusBadRequest,
			code:   "INVALID_QUANTITY",
		},
		{
			name:   "adjust to a negative count",
			method: http.MethodPost,
			path:   base + "/stock/adjust",
			body:   map[string]interface{}{"material_id": material, "branch_id": branch, "counted_quantity": "-1"},
			status: http.StatusBadRequest,
			code:   "INVALID_QUANTITY",
		},
		{
			name:   "order without lines",
			method: http.MethodPost,
			path:   base + "/orders/consume",
			body:   map[string]interface{}{"branch_id": branch, "reference": "ORD-1", "lines": []interface{}{}},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown material type",
			method: http.MethodPost,
			path:   base + "/materials",
			body:   map[string]interface{}{"name": "Flour", "unit": "kg", "type": "frozen"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown transaction type",
			method: http.MethodGet,
			path:   base + "/transactions?type=transfer",
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:    "transactions with a bad date",
			method:  http.MethodGet,
			path:    base + "/transactions?from=yesterday",
			status:  http.StatusBadRequest,
			code:    "VALIDATION_ERROR",
			details: map[string]string{"from": "must be a date formatted as 2006-01-02"},
		},
		{
			name:   "evaluate with a malformed material",
			method: http.MethodPost,
			path:   base + "/alerts/evaluate",
			body:   map[string]interface{}{"material_id": "abc"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.raw != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.raw))
			} else {
				req = testutil.NewHTTPRequest(tt.method, tt.path, tt.body)
			}

			rr := testutil.ExecuteRequest(router, req)

			testutil.AssertStatus(t, rr, tt.status)
			env := decode(t, rr)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			for field, msg := range tt.details {
				assert.Equal(t, msg, env.Error.Details[field])
			}
		})
	}
}
