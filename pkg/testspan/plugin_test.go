// Tests for plugin version range matching
package testspan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginSupports(t *testing.T) {
	t.Parallel()

	p := Plugin{Name: "jest-environment-node", Versions: []string{">=24.8.0"}}
	tests := []struct {
		version string
		want    bool
	}{
		{"24.8.0", true},
		{"24.9.0", true},
		{"v29.7.0", true},
		{"24.7.9", false},
		{"23.0.0", false},
	}
	for _, tt := range tests {
		got, err := p.Supports(tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "version %s", tt.version)
	}
}

func TestPluginSupportsRanges(t *testing.T) {
	t.Parallel()

	p := Plugin{Name: "runner", Versions: []string{">=24.8.0 <27", "=29.1.0"}}
	for version, want := range map[string]bool{
		"26.6.3": true,
		"27.0.0": false,
		"29.1.0": true,
		"29.1.1": false,
	} {
		got, err := p.Supports(version)
		require.NoError(t, err)
		assert.Equal(t, want, got, "version %s", version)
	}
}

func TestPluginSupportsInvalid(t *testing.T) {
	t.Parallel()

	_, err := Plugin{Name: "runner", Versions: []string{">=24.8.0"}}.Supports("latest")
	require.Error(t, err)

	_, err = Plugin{Name: "runner", Versions: []string{">=banana"}}.Supports("24.8.0")
	require.Error(t, err)

	_, err = Plugin{Name: "runner", Versions: []string{"  "}}.Supports("24.8.0")
	require.Error(t, err)
}
