package framework

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		ident   string
		version string
		wantErr bool
	}{
		{in: "net45", ident: "net", version: "4.5"},
		{in: "k10", ident: "k", version: "1.0"},
		{in: "net451", ident: "net", version: "4.5.1"},
		{in: "net4.5", ident: "net", version: "4.5"},
		{in: "aspnet", ident: "aspnet"},
		{in: " net45 ", ident: "net", version: "4.5"},
		{in: "", wantErr: true},
		{in: "45", wantErr: true},
		{in: "net4x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ident, p.Identifier)
			assert.Equal(t, tt.version, p.Version)
		})
	}
}

func TestProfileString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "net45", Profile{Identifier: "net", Version: "4.5"}.String())
	assert.Equal(t, "aspnet", Profile{Identifier: "aspnet"}.String())
	assert.Equal(t, "", Profile{}.String())
}

func TestProfileIsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, Profile{}.IsZero())
	assert.False(t, Profile{Identifier: "net"}.IsZero())
}

func TestCompatibilityTable(t *testing.T) {
	t.Parallel()

	net45 := Profile{Identifier: "net", Version: "4.5"}
	net40 := Profile{Identifier: "net", Version: "4.0"}
	k10 := Profile{Identifier: "k", Version: "1.0"}

	table := NewCompatibilityTable(nil)
	table.Add(net40, net45)

	assert.True(t, table.Compatible(net45, net45), "self-compatible")
	assert.True(t, table.Compatible(Profile{}, k10), "zero profile satisfies everything")
	assert.True(t, table.Compatible(net40, net45))
	assert.False(t, table.Compatible(net45, net40), "relation is directional")
	assert.False(t, table.Compatible(k10, net45))
}
