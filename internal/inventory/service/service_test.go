package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/lock"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func offlineInventory() *InventoryService {
	deps := Deps{Metrics: metrics.New(), Logger: logger.Nop()}
	return NewInventoryService(deps, nil, Options{})
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr), "expected an AppError, got %v", err)
	return appErr.Code
}

func TestClock_Today(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	c := Clock{
		Now:      func() time.Time { return time.Date(2024, 1, 8, 20, 30, 0, 0, time.UTC) },
		Location: tokyo,
	}
	assert.Equal(t, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), c.Today())

	c.Location = nil
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), c.Today())
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, domain.DefaultExpiringSoonDays, o.ExpiringSoonDays)
	assert.Equal(t, DefaultLockWait, o.LockWait)

	o = Options{ExpiringSoonDays: 5, LockWait: time.Second}.withDefaults()
	assert.Equal(t, 5, o.ExpiringSoonDays)
	assert.Equal(t, time.Second, o.LockWait)
}

func TestReceiveStock_ValidatesBeforeTouchingStorage(t *testing.T) {
	s := offlineInventory()
	ctx := context.Background()
	negative, zero := -1, 0

	tests := []struct {
		name string
		in   ReceiveInput
		code string
	}{
		{"missing name", ReceiveInput{Unit: "kg", BranchID: "b", Quantity: decimal.NewFromInt(1)}, "VALIDATION_ERROR"},
		{"blank unit", ReceiveInput{MaterialName: "Rice", Unit: "  ", BranchID: "b", Quantity: decimal.NewFromInt(1)}, "VALIDATION_ERROR"},
		{"unknown type", ReceiveInput{MaterialName: "Rice", Unit: "kg", BranchID: "b", Quantity: decimal.NewFromInt(1), MaterialType: "frozen"}, "VALIDATION_ERROR"},
		{"negative shelf life", ReceiveInput{MaterialName: "Rice", Unit: "kg", BranchID: "b", Quantity: decimal.NewFromInt(1), ShelfLifeDays: &negative}, "VALIDATION_ERROR"},
		{"zero shelf life", ReceiveInput{MaterialName: "Rice", Unit: "kg", BranchID: "b", Quantity: decimal.NewFromInt(1), ShelfLifeDays: &zero}, "VALIDATION_ERROR"},
		{"zero quantity", ReceiveInput{MaterialName: "Rice", Unit: "kg", BranchID: "b"}, "INVALID_QUANTITY"},
		{"negative quantity", ReceiveInput{MaterialName: "Rice", Unit: "kg", BranchID: "b", Quantity: decimal.NewFromInt(-2)}, "INVALID_QUANTITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ReceiveStock(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, appCode(t, err))
		})
	}
}

func TestWithdrawAndAdjust_RejectBadQuantities(t *testing.T) {
	s := offlineInventory()
	ctx := context.Background()

	_, err := s.WithdrawStock(ctx, WithdrawInput{MaterialID: "m", BranchID: "b"})
	assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))

	_, err = s.WithdrawStock(ctx, WithdrawInput{MaterialID: "m", BranchID: "b", Quantity: decimal.RequireFromString("-0.5")})
	assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))

	_, err = s.AdjustStock(ctx, AdjustInput{MaterialID: "m", BranchID: "b", CountedQuantity: decimal.NewFromInt(-1)})
	assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
}

func TestConsumeForOrder_ValidatesOrder(t *testing.T) {
	s := offlineInventory()
	ctx := context.Background()
	line := domain.OrderLine{MenuItemID: "item", Quantity: decimal.NewFromInt(1)}

	_, err := s.ConsumeForOrder(ctx, ConsumeInput{BranchID: "b", Lines: []domain.OrderLine{line}})
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "reference")

	_, err = s.ConsumeForOrder(ctx, ConsumeInput{BranchID: "b", Reference: "order-1"})
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "lines")

	_, err = s.ConsumeForOrder(ctx, ConsumeInput{
		BranchID:  "b",
		Reference: "order-1",
		Lines:     []domain.OrderLine{{MenuItemID: "item"}},
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
}

func TestAcquire_ContentionBecomesConcurrentModification(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()
	key := lock.StockKey("b", "m")

	release, err := acquire(ctx, l, time.Second, metrics.New(), key)
	require.NoError(t, err)

	_, err = acquire(ctx, l, 20*time.Millisecond, metrics.New(), key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConcurrentModification))

	release()

	again, err := acquire(ctx, l, time.Second, nil, key)
	require.NoError(t, err)
	again()
}

func TestAlertEngine_AcknowledgeRequiresActor(t *testing.T) {
	e := NewAlertEngine(Deps{Logger: logger.Nop()}, Options{})

	_, err := e.AcknowledgeAlert(context.Background(), "a-1", "")
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestScheduler_DisabledIntervalIsNoop(t *testing.T) {
	s := NewScheduler(nil, nil, 0, logger.Nop())
	s.Start(context.Background())
	assert.NotPanics(t, s.Stop)
	assert.NotPanics(t, s.Stop)
}

func sampleReport() *InventoryReport {
	branch := "b-1"
	return &InventoryReport{
		Branch:      &domain.Branch{ID: branch, Name: "Old  Town"},
		From:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		GeneratedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		Lines: []ReportLine{
			{
				MaterialID:      "m-1",
				MaterialName:    "Flour",
				Unit:            "kg",
				CurrentQuantity: decimal.RequireFromString("12.5"),
				TotalUsage:      decimal.RequireFromString("30"),
				TotalRestocks:   decimal.RequireFromString("40"),
				NetAdjustment:   decimal.RequireFromString("2.5"),
				RecentTransactions: []*domain.Transaction{
					{ID: "t-2", Type: domain.TxStockOut, MaterialID: "m-1", BranchID: &branch, Quantity: decimal.NewFromInt(30), Unit: "kg", ActorName: "Sam", CreatedAt: time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)},
					{ID: "t-1", Type: domain.TxStockIn, MaterialID: "m-1", BranchID: &branch, Quantity: decimal.NewFromInt(40), Unit: "kg", Reference: "PO-7", ActorName: "Sam", CreatedAt: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)},
				},
			},
			{
				MaterialID:         "m-2",
				MaterialName:       "Napkins",
				Unit:               "pcs",
				CurrentQuantity:    decimal.NewFromInt(200),
				RecentTransactions: []*domain.Transaction{},
			},
		},
	}
}

func TestInventoryReport_WriteXLSX(t *testing.T) {
	r := sampleReport()

	var buf bytes.Buffer
	require.NoError(t, r.WriteXLSX(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Recent transactions"}, f.GetSheetList())

	branch, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Old  Town", branch)

	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "material", rows[2][1])
	assert.Equal(t, []string{"m-1", "Flour", "kg", "12.5", "30", "40", "2.5"}, rows[3])
	assert.Equal(t, "Napkins", rows[4][1])

	history, err := f.GetRows("Recent transactions")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2024-01-20T08:00:00Z", history[1][0])
	assert.Equal(t, "stock_out", history[1][2])
	assert.Equal(t, "PO-7", history[2][5])
}

func TestInventoryReport_Filename(t *testing.T) {
	assert.Equal(t, "inventory-old-town-20240101-20240131.xlsx", sampleReport().Filename())
}
