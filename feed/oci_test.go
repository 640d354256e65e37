package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOCI(t *testing.T) {
	t.Parallel()

	f, err := NewOCI("oci://registry.example/kiln/packages")
	require.NoError(t, err)
	assert.Equal(t, "oci://registry.example/kiln/packages", f.URL())

	_, err = NewOCI("https://registry.example/kiln")
	assert.Error(t, err)

	_, err = NewOCI("oci://")
	assert.Error(t, err)
}
