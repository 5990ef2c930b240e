package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ScopedFields(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, zerolog.InfoLevel, "inventory-service")

	log.WithComponent("inventory").WithStockKey("b-1", "m-1").Info().Msg("stock moved")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "inventory-service", line["service"])
	assert.Equal(t, "inventory", line["component"])
	assert.Equal(t, "b-1", line["branch_id"])
	assert.Equal(t, "m-1", line["material_id"])
	assert.Equal(t, "stock moved", line["message"])
}

func TestNew_LevelOverride(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, New("svc", "production", "").GetLevel())
	assert.Equal(t, zerolog.DebugLevel, New("svc", "development", "").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, New("svc", "production", "warn").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("svc", "production", "loud").GetLevel())
}
