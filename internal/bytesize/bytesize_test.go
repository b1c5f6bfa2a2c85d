package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"1Ki", KiB},
		{"64MiB", 64 * MiB},
		{"64 MiB", 64 * MiB},
		{"1Gi", GiB},
		{"100MB", 100 * MB},
		{"1k", KB},
		{"1.5KiB", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "  ", "abc", "12XB"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	type doc struct {
		Size ByteSize `yaml:"size"`
	}
	out, err := yaml.Marshal(doc{Size: 64 * MiB})
	require.NoError(t, err)
	assert.Equal(t, "size: 64 MiB\n", string(out))

	var back doc
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, 64*MiB, back.Size)
}

func TestInt64Clamps(t *testing.T) {
	assert.Equal(t, int64(10), ByteSize(10).Int64())
	assert.Equal(t, int64(1<<63-1), ByteSize(1<<64-1).Int64())
}
