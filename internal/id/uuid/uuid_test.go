package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunIDIsOrderedV7(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewRunID()
	require.NoError(t, err)
	second, err := gen.NewRunID()
	require.NoError(t, err)

	assert.EqualValues(t, 7, first.Version())
	assert.NotEqual(t, first, second)
	assert.Less(t, first.String(), second.String())
}
