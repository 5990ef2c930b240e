package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx := WithActor(context.Background(), &Actor{ID: "u-1", Name: "Dana"})
	a := FromContext(ctx)
	require.NotNil(t, a)
	assert.Equal(t, "u-1", a.ID)
	assert.Equal(t, "Dana", a.DisplayName())
	assert.False(t, a.IsSystem())
}

func TestOrSystem(t *testing.T) {
	a := OrSystem(context.Background())
	assert.True(t, a.IsSystem())
	assert.Equal(t, "system", a.DisplayName())
}

func TestDisplayName_FallsBackToID(t *testing.T) {
	a := &Actor{ID: "u-2"}
	assert.Equal(t, "u-2", a.DisplayName())
	assert.Equal(t, "u-2 (u-2)", a.String())

	var none *Actor
	assert.Equal(t, "system", none.String())
	assert.True(t, none.IsSystem())
}
