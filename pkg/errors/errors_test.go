package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.Equal(t, "INSUFFICIENT_STOCK", CodeOf(InsufficientStock("m", "b", "1")))
	assert.Equal(t, "NOT_FOUND", CodeOf(fmt.Errorf("load material: %w", NotFound("material"))))
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(fmt.Errorf("dial tcp: refused")))
}

func TestInsufficientStock(t *testing.T) {
	err := InsufficientStock("mat-1", "branch-1", "2.5")

	assert.True(t, Is(err, ErrInsufficientStock))
	assert.Equal(t, http.StatusConflict, err.StatusCode)
	assert.Equal(t, map[string]string{"material_id": "mat-1", "branch_id": "branch-1", "shortfall": "2.5"}, err.Details)
}
