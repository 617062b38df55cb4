package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "json payload",
			payload: []byte(`{"slots":[{"item":"iron_ingot","count":12}]}`),
		},
		{
			name:    "empty payload",
			payload: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(tt.payload)
			require.NoError(t, err)

			restored, err := Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, string(tt.payload), string(restored))
		})
	}
}
