package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestInventoryAPI_StockLifecycle(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	router, pub := newRouter(suite.DB, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))
	branch := suite.Fixtures.Branch(t, ctx, "Harbour")

	// receive
	req := testutil.WithUserHeaders(testutil.NewHTTPRequest(http.MethodPost, base+"/stock/receive", map[string]interface{}{
		"material_name":   "Chicken breast",
		"unit":            "kg",
		"branch_id":       branch.ID,
		"quantity":        "25",
		"purchase_date":   "2024-01-01",
		"shelf_life_days": 7,
	}), "u-1", "Dana")
	req.Header.Set(httputil.HeaderRequestID, "req-receive-1")
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var received service.ReceiveResult
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &received))
	materialID := received.Material.ID
	require.NotNil(t, received.Batch)
	assert.Equal(t, "2024-01-08", received.Batch.ExpiryDate.Format("2006-01-02"))
	assert.Equal(t, "Dana", received.Transaction.ActorName)
	receivedEvents := pub.Events(messaging.EventStockReceived)
	require.Len(t, receivedEvents, 1)
	assert.Equal(t, "req-receive-1", receivedEvents[0].CorrelationID)

	// withdraw
	req = testutil.WithUserHeaders(testutil.NewHTTPRequest(http.MethodPost, base+"/stock/withdraw", map[string]interface{}{
		"material_id": materialID,
		"branch_id":   branch.ID,
		"quantity":    "20",
		"reference":   "prep-1",
	}), "u-1", "Dana")
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var withdrawn service.WithdrawResult
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &withdrawn))
	testutil.AssertQuantity(t, "20", withdrawn.Deducted)
	testutil.AssertQuantity(t, "5", withdrawn.Remaining)
	assert.False(t, withdrawn.Clamped)

	// alerts
	rr = testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet, base+"/alerts?material_id="+materialID, nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	env := decode(t, rr)
	var alerts []domain.Alert
	require.NoError(t, json.Unmarshal(env.Data, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertLowStock, alerts[0].Type)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(1), env.Meta.Total)

	req = testutil.WithUserHeaders(testutil.NewHTTPRequest(http.MethodPost, base+"/alerts/"+alerts[0].ID+"/acknowledge", nil), "u-2", "Sam")
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var acked domain.Alert
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &acked))
	assert.Equal(t, domain.AlertAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "Sam", *acked.AcknowledgedBy)

	// ledger
	rr = testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet,
		base+"/transactions?type=stock_out&material_id="+materialID, nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var txs []domain.Transaction
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, "prep-1", txs[0].Reference)

	rr = testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet, base+"/transactions/"+txs[0].ID, nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var tx domain.Transaction
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &tx))
	require.Len(t, tx.Batches, 1)
	testutil.AssertQuantity(t, "20", tx.Batches[0].Quantity)

	// quantities
	rr = testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet, base+"/stock/materials/"+materialID, nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var quantities []domain.BranchQuantity
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &quantities))
	require.Len(t, quantities, 1)
	testutil.AssertQuantity(t, "5", quantities[0].Quantity)
}

func TestInventoryAPI_ConsumeOrder(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	router, _ := newRouter(suite.DB, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))
	branch := suite.Fixtures.Branch(t, ctx, "Harbour")
	chicken := suite.Fixtures.Material(t, ctx, testutil.WithMaterialName("Chicken", "kg"), testutil.WithShelfLife(7))
	recipe := suite.Fixtures.Recipe(t, ctx, "1", map[string]string{chicken.ID: "0.5"})

	rr := testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodPost, base+"/stock/adjust", map[string]interface{}{
		"material_id":      chicken.ID,
		"branch_id":        branch.ID,
		"counted_quantity": "5",
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)

	order := func(ref, qty string) *http.Request {
		return testutil.NewHTTPRequest(http.MethodPost, base+"/orders/consume", map[string]interface{}{
			"branch_id": branch.ID,
			"reference": ref,
			"lines":     []map[string]string{{"menu_item_id": recipe.MenuItemID, "quantity": qty}},
		})
	}

	rr = testutil.ExecuteRequest(router, order("ORD-1", "2"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var consumed service.ConsumeResult
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &consumed))
	require.Len(t, consumed.Transactions, 1)
	testutil.AssertQuantity(t, "1", consumed.Transactions[0].Quantity)

	rr = testutil.ExecuteRequest(router, order("ORD-2", "10"))
	testutil.AssertStatus(t, rr, http.StatusConflict)
	env := decode(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	assert.Equal(t, chicken.ID, env.Error.Details["material_id"])

	rr = testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet, base+"/branches/"+branch.ID+"/quantities", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var quantities []domain.BranchQuantity
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &quantities))
	require.Len(t, quantities, 1)
	testutil.AssertQuantity(t, "4", quantities[0].Quantity)
}

func TestInventoryAPI_ReportDownload(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	router, _ := newRouter(suite.DB, time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))
	branch := suite.Fixtures.Branch(t, ctx, "Harbour")

	rr := testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet,
		base+"/reports/branches/"+branch.ID+"?from=2024-01-01&to=2024-01-31&format=xlsx", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "attachment; filename=\"inventory-harbour-20240101-20240131.xlsx\"", rr.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "Recent transactions"}, f.GetSheetList())

	rr = testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet,
		base+"/reports/branches/"+branch.ID+"?format=pdf", nil))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestInventoryAPI_NotFound(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	router, _ := newRouter(suite.DB, time.Now().UTC())

	for _, path := range []string{
		base + "/materials/" + uuid.New().String(),
		base + "/branches/" + uuid.New().String(),
		base + "/alerts/" + uuid.New().String(),
		base + "/transactions/" + uuid.New().String(),
	} {
		rr := testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet, path, nil))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
		env := decode(t, rr)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, "NOT_FOUND", env.Error.Code, path)
	}
}
