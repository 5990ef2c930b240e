package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestResolveShelfLife(t *testing.T) {
	tests := []struct {
		name     string
		typ      MaterialType
		explicit *int
		want     *int
	}{
		{"raw default", MaterialRaw, nil, intPtr(7)},
		{"processed default", MaterialProcessed, nil, intPtr(180)},
		{"semi processed default", MaterialSemiProcessed, nil, intPtr(14)},
		{"supplies never perishable", MaterialSupplies, nil, nil},
		{"supplies ignore explicit", MaterialSupplies, intPtr(30), nil},
		{"explicit wins", MaterialRaw, intPtr(3), intPtr(3)},
		{"non-positive explicit falls back", MaterialRaw, intPtr(0), intPtr(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveShelfLife(tt.typ, tt.explicit))
		})
	}
}

func TestMaterialType_Valid(t *testing.T) {
	for _, typ := range MaterialTypes() {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, MaterialType("frozen").Valid())
}

func TestValidateThresholds(t *testing.T) {
	assert.Empty(t, ValidateThresholds(dec("10"), dec("20")))
	assert.Empty(t, ValidateThresholds(dec("0"), dec("0")))
	assert.Contains(t, ValidateThresholds(dec("20"), dec("10")), "reorder_level")
	assert.Contains(t, ValidateThresholds(dec("-1"), dec("10")), "minimum_threshold")
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Chicken Breast", NormalizeName("  Chicken   Breast "))
}

func TestBatch_Expiry(t *testing.T) {
	b := batch("b", "2024-01-01", "2024-01-08", "10")

	tests := []struct {
		today    string
		expired  bool
		soon     bool
		daysLeft int
	}{
		{"2024-01-05", false, false, 3},
		{"2024-01-06", false, true, 2},
		{"2024-01-08", false, true, 0},
		{"2024-01-09", true, false, -1},
	}

	for _, tt := range tests {
		t.Run(tt.today, func(t *testing.T) {
			today := day(tt.today)
			assert.Equal(t, tt.expired, b.ExpiredOn(today))
			assert.Equal(t, tt.soon, b.ExpiringSoonOn(today, 2))
			assert.Equal(t, tt.daysLeft, b.DaysUntilExpiry(today))
		})
	}
}

func TestBatch_Refresh(t *testing.T) {
	b := batch("b", "2024-01-01", "2024-01-08", "10")
	assert.False(t, b.Refresh(day("2024-01-08")))
	assert.True(t, b.Refresh(day("2024-01-09")))
	assert.True(t, b.IsExpired)
	assert.False(t, b.Refresh(day("2024-01-10")))
}

func TestToday_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

	require.Equal(t, day("2024-01-02"), Today(now, loc))
	require.Equal(t, day("2024-01-01"), Today(now, nil))
}
