package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"512MB", 512 << 20, false},
		{"1GB", 1 << 30, false},
		{"100KB", 100 << 10, false},
		{"1.5GB", 1610612736, false},
		{"10 MB", 10 << 20, false},
		{"42b", 42, false},
		{"", 0, true},
		{"100", 0, true},
		{"MB", 0, true},
		{"-1GB", 0, true},
		{"abcMB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "512 MB", Format(512<<20))
	assert.Equal(t, "1.5 GB", Format(1610612736))
	assert.Equal(t, "1 GB", Format(1<<30))
	assert.Equal(t, "100 B", Format(100))
	assert.Equal(t, "0 B", Format(0))
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1GB", "512MB", "100KB"} {
		n, err := Parse(s)
		require.NoError(t, err)
		back, err := Parse(Format(n))
		require.NoError(t, err)
		assert.Equal(t, n, back)
	}
}
