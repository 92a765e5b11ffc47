package bytesize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{in: "32", want: 32},
		{in: "1Mi", want: MiB},
		{in: "1MiB", want: MiB},
		{in: "4mi", want: 4 * MiB},
		{in: "512Ki", want: 512 * KiB},
		{in: "1MB", want: MB},
		{in: "1.5Ki", want: 1536},
		{in: " 64 KiB ", want: 64 * KiB},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "10XB", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "18446744073709551615Gi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmptyIsSentinel(t *testing.T) {
	_, err := Parse("  ")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestTextRoundTrip(t *testing.T) {
	for _, v := range []ByteSize{0, 32, 1000, KiB, MiB, 4 * MiB, 3 * GiB, 1536} {
		text, err := v.MarshalText()
		require.NoError(t, err)

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, v, back, "value %d encoded as %q", v, text)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "1Mi", MiB.String())
	assert.Equal(t, "4Mi", (4 * MiB).String())
	assert.Equal(t, "1536", ByteSize(1536).String())
	assert.Equal(t, "2Ki", ByteSize(2048).String())
}

func TestUint32(t *testing.T) {
	assert.Equal(t, uint32(MiB), MiB.Uint32())
	assert.Equal(t, uint32(math.MaxUint32), (8 * GiB).Uint32())
}
