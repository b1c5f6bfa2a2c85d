package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModuleFileName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   ModuleFile
		wantOK bool
	}{
		{"Simple", "svc-1.0.0.zip", ModuleFile{"svc", "1.0.0", "zip"}, true},
		{"DashedName", "my-cool-svc-2.10.3.hmod", ModuleFile{"my-cool-svc", "2.10.3", "hmod"}, true},
		{"UppercaseExt", "svc-1.0.0.ZIP", ModuleFile{"svc", "1.0.0", "zip"}, true},
		{"Plugin", "echo-0.1.0.so", ModuleFile{"echo", "0.1.0", "so"}, true},
		{"MissingVersion", "svc.zip", ModuleFile{}, false},
		{"TwoPartVersion", "svc-1.0.zip", ModuleFile{}, false},
		{"NoExtension", "svc-1.0.0", ModuleFile{}, false},
		{"EmptyName", "-1.0.0.zip", ModuleFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseModuleFileName(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			if ok {
				again, ok := ParseModuleFileName(got.FileName())
				require.True(t, ok)
				assert.Equal(t, got, again)
			}
		})
	}
}

func TestVersionGreaterIsLexicographic(t *testing.T) {
	assert.True(t, VersionGreater("1.0.1", "1.0.0"))
	assert.False(t, VersionGreater("1.0.0", "1.0.0"))
	assert.False(t, VersionGreater("0.9.0", "1.0.0"))
	// String ordering, not numeric.
	assert.False(t, VersionGreater("10.0.0", "2.0.0"))
}

func TestServiceID(t *testing.T) {
	t.Run("HostRoundTrip", func(t *testing.T) {
		id := ServiceID{Type: "metrics"}
		assert.True(t, id.IsHost())
		assert.Equal(t, "metrics", id.String())

		parsed, err := ParseServiceID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("ModuleRoundTrip", func(t *testing.T) {
		id := ServiceID{Module: "web", Type: "static"}
		assert.Equal(t, "web/static", id.String())

		parsed, err := ParseServiceID("web/static")
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := ParseServiceID("web/")
		assert.Error(t, err)
		_, err = ParseServiceID("  ")
		assert.Error(t, err)
	})

	t.Run("Less", func(t *testing.T) {
		assert.True(t, ServiceID{Type: "z"}.Less(ServiceID{Module: "a", Type: "a"}))
		assert.True(t, ServiceID{Module: "a", Type: "a"}.Less(ServiceID{Module: "a", Type: "b"}))
	})
}

func TestServiceStateRank(t *testing.T) {
	assert.Less(t, ServiceRegistered.Rank(), ServiceLoaded.Rank())
	assert.Less(t, ServiceLoaded.Rank(), ServiceRunning.Rank())
	assert.Equal(t, -1, ServiceState("bogus").Rank())
}
