package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicken() Material {
	days := 7
	return Material{
		ID:               "chicken",
		Name:             "Chicken",
		Unit:             "kg",
		Type:             MaterialRaw,
		MinimumThreshold: dec("10"),
		ReorderLevel:     dec("20"),
		ShelfLifeDays:    &days,
	}
}

func snapshot(m Material, qty map[string]string, batches ...Batch) StockSnapshot {
	s := StockSnapshot{
		Material:    m,
		Batches:     batches,
		BranchNames: map[string]string{"branch-a": "Branch A", "branch-b": "Branch B"},
	}
	for _, branch := range []string{"branch-a", "branch-b"} {
		if q, ok := qty[branch]; ok {
			s.Quantities = append(s.Quantities, BranchQuantity{BranchID: branch, MaterialID: m.ID, Quantity: dec(q)})
		}
	}
	return s
}

// apply persists deltas the way the repository would.
func apply(open []Alert, deltas []AlertDelta) []Alert {
	byKey := map[AlertKey]Alert{}
	for _, a := range open {
		byKey[a.Key()] = a
	}
	for _, d := range deltas {
		switch d.Action {
		case DeltaResolved:
			delete(byKey, d.Alert.Key())
		default:
			byKey[d.Alert.Key()] = d.Alert
		}
	}
	out := make([]Alert, 0, len(byKey))
	for _, a := range byKey {
		out = append(out, a)
	}
	return out
}

func types(list []Alert) map[AlertType]int {
	out := map[AlertType]int{}
	for _, a := range list {
		out[a.Type]++
	}
	return out
}

func TestStockBand(t *testing.T) {
	tests := []struct {
		qty    string
		want   AlertType
		banded bool
	}{
		{"-1", AlertOutOfStock, true},
		{"0", AlertOutOfStock, true},
		{"0.001", AlertLowStock, true},
		{"10", AlertLowStock, true},
		{"10.001", AlertReorder, true},
		{"20", AlertReorder, true},
		{"20.001", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.qty, func(t *testing.T) {
			got, ok := StockBand(dec(tt.qty), dec("10"), dec("20"))
			assert.Equal(t, tt.banded, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDesiredAlerts_ChickenScenario(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	m := chicken()

	// 25kg on hand: nothing to report.
	open := apply(nil, Reconcile(nil, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "25"}), now, 2), now))
	assert.Empty(t, open)

	// Withdraw 20kg, 5kg remain.
	deltas := Reconcile(open, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "5"}), now, 2), now)
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaCreated, deltas[0].Action)
	assert.Equal(t, AlertLowStock, deltas[0].Alert.Type)
	assert.Equal(t, AlertActive, deltas[0].Alert.Status)
	require.NotNil(t, deltas[0].Alert.BranchID)
	assert.Equal(t, "branch-a", *deltas[0].Alert.BranchID)
	assert.True(t, deltas[0].Alert.Threshold.Decimal.Equal(dec("10")))
	assert.Contains(t, deltas[0].Alert.Message, "Branch A")

	open = apply(open, deltas)
	assert.Equal(t, map[AlertType]int{AlertLowStock: 1}, types(open))
}

func TestReconcile_BandTransition(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	m := chicken()

	open := apply(nil, Reconcile(nil, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "8"}), now, 2), now))
	require.Equal(t, map[AlertType]int{AlertLowStock: 1}, types(open))

	// Restock into the reorder band: low_stock resolves and reorder opens in one pass.
	deltas := Reconcile(open, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "15"}), now, 2), now)
	actions := map[DeltaAction]AlertType{}
	for _, d := range deltas {
		actions[d.Action] = d.Alert.Type
	}
	assert.Equal(t, map[DeltaAction]AlertType{DeltaCreated: AlertReorder, DeltaResolved: AlertLowStock}, actions)

	open = apply(open, deltas)
	assert.Equal(t, map[AlertType]int{AlertReorder: 1}, types(open))

	// From above reorder level straight into the reorder band.
	fresh := apply(nil, Reconcile(nil, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "30"}), now, 2), now))
	assert.Empty(t, fresh)
	deltas = Reconcile(fresh, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "12"}), now, 2), now)
	require.Len(t, deltas, 1)
	assert.Equal(t, AlertReorder, deltas[0].Alert.Type)
}

func TestReconcile_Idempotent(t *testing.T) {
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	today := Date(now)
	m := chicken()

	expired := batch("x", "2024-01-01", "2024-01-08", "3")
	expired.MaterialID = m.ID
	soonB := batch("y", "2024-01-09", "2024-01-11", "4")
	soonB.MaterialID = m.ID
	soonB.BranchID = "branch-b"

	s := snapshot(m, map[string]string{"branch-a": "0", "branch-b": "4"}, expired, soonB)

	first := Reconcile(nil, DesiredAlerts(s, today, 2), now)
	require.NotEmpty(t, first)
	open := apply(nil, first)

	second := Reconcile(open, DesiredAlerts(s, today, 2), now.Add(time.Minute))
	assert.Empty(t, second)

	counts := types(open)
	assert.Equal(t, 2, counts[AlertOutOfStock], "per-branch and aggregate")
	assert.Equal(t, 1, counts[AlertLowStock])
	assert.Equal(t, 1, counts[AlertExpired])
	assert.Equal(t, 1, counts[AlertExpiringSoon])
}

func TestDesiredAlerts_AggregatesExpiryAcrossBranches(t *testing.T) {
	today := day("2024-01-10")
	m := chicken()

	a := batch("a", "2024-01-01", "2024-01-05", "2")
	b := batch("b", "2024-01-01", "2024-01-06", "3.5")
	b.BranchID = "branch-b"
	notYet := batch("c", "2024-01-01", "2024-01-10", "1")

	conds := DesiredAlerts(snapshot(m, nil, a, b, notYet), today, 2)

	var expired, soon *Condition
	for i := range conds {
		switch conds[i].Key.Type {
		case AlertExpired:
			expired = &conds[i]
		case AlertExpiringSoon:
			soon = &conds[i]
		}
	}

	require.NotNil(t, expired)
	assert.Empty(t, expired.Key.BranchID)
	assert.True(t, expired.Quantity.Equal(dec("5.5")))
	assert.Equal(t, []string{"branch-a", "branch-b"}, expired.AffectedBranchIDs)
	assert.Contains(t, expired.Message, "Branch A, Branch B")

	require.NotNil(t, soon)
	assert.True(t, soon.Quantity.Equal(dec("1")))
}

func TestReconcile_ResolvesAcknowledgedWhenCleared(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	m := chicken()

	open := apply(nil, Reconcile(nil, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "5"}), now, 2), now))
	require.Len(t, open, 1)
	changed, err := open[0].Acknowledge("user-1", now)
	require.NoError(t, err)
	require.True(t, changed)

	deltas := Reconcile(open, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "50"}), now, 2), now)
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaResolved, deltas[0].Action)
	assert.Equal(t, AlertResolved, deltas[0].Alert.Status)
	require.NotNil(t, deltas[0].Alert.ResolvedBy)
	assert.Equal(t, SystemResolver, *deltas[0].Alert.ResolvedBy)
}

func TestReconcile_UpdatesSnapshotInPlace(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	m := chicken()

	open := apply(nil, Reconcile(nil, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "5"}), now, 2), now))
	require.Len(t, open, 1)
	open[0].ID = "alert-1"

	deltas := Reconcile(open, DesiredAlerts(snapshot(m, map[string]string{"branch-a": "3"}), now, 2), now)
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaUpdated, deltas[0].Action)
	assert.Equal(t, "alert-1", deltas[0].Alert.ID)
	assert.True(t, deltas[0].Alert.CurrentQuantity.Equal(dec("3")))
}

func TestAlert_Transitions(t *testing.T) {
	now := time.Now()

	a := Alert{Status: AlertActive}
	changed, err := a.Acknowledge("u", now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, AlertAcknowledged, a.Status)

	changed, err = a.Acknowledge("u", now)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, a.Resolve("u", now))
	assert.Equal(t, AlertResolved, a.Status)
	assert.ErrorIs(t, a.Resolve("u", now), ErrAlertResolved)

	_, err = a.Acknowledge("u", now)
	assert.ErrorIs(t, err, ErrAlertResolved)

	direct := Alert{Status: AlertActive}
	require.NoError(t, direct.Resolve("system", now))
	assert.Nil(t, direct.AcknowledgedAt)
}
