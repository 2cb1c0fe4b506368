package gnss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Leading chips from IS-GPS-200 (first 10 chips octal: PRN1=1440,
// PRN2=1620), with binary 1 mapped to +1.
func bits2chips(bits string) []float32 {
	out := make([]float32, len(bits))
	for i, b := range bits {
		if b == '1' {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

func TestL1CAKnownChips(t *testing.T) {
	c1, err := GenCode(L1CA, 1)
	require.NoError(t, err)
	require.Len(t, c1, 1023)
	assert.Equal(t, bits2chips("1100100000"), c1[:10])

	c2, err := GenCode(L1CA, 2)
	require.NoError(t, err)
	assert.Equal(t, bits2chips("1110010000"), c2[:10])
}

func TestL1CABalance(t *testing.T) {
	for prn := 1; prn <= 32; prn++ {
		code, err := GenCode(L1CA, prn)
		require.NoError(t, err)
		sum := float32(0)
		for _, c := range code {
			require.True(t, c == 1 || c == -1)
			sum += c
		}
		// 512 ones vs 511 zeros
		assert.Equal(t, float32(1), sum, "prn %d", prn)
	}
}

func TestL1CACrossCorr(t *testing.T) {
	c1, err := GenCode(L1CA, 1)
	require.NoError(t, err)
	c2, err := GenCode(L1CA, 2)
	require.NoError(t, err)
	for _, shift := range []int{0, 1, 100, 511} {
		sum := 0
		for i := range c1 {
			sum += int(c1[i]) * int(c2[(i+shift)%len(c2)])
		}
		assert.Contains(t, []int{-65, -1, 63}, sum, "shift %d", shift)
	}
}

func TestG1CASequence(t *testing.T) {
	code, err := GenCode(G1CA, 0)
	require.NoError(t, err)
	require.Len(t, code, 511)
	// all-ones register start: stage 7 outputs seven ones first
	for i := 0; i < 7; i++ {
		assert.Equal(t, float32(1), code[i])
	}
	assert.Equal(t, float32(-1), code[7])

	sum := float32(0)
	for _, c := range code {
		sum += c
	}
	assert.Equal(t, float32(1), sum)

	// m-sequence: every off-peak circular autocorrelation is -1
	for _, shift := range []int{1, 9, 255} {
		acc := 0
		for i := range code {
			acc += int(code[i]) * int(code[(i+shift)%len(code)])
		}
		assert.Equal(t, -1, acc, "shift %d", shift)
	}

	// both GLONASS bands ride the same ranging code
	c2, err := GenCode(G2CA, -7)
	require.NoError(t, err)
	assert.Equal(t, code, c2)
}

func TestGenCodeBadPRN(t *testing.T) {
	_, err := GenCode(L1CA, 0)
	assert.ErrorIs(t, err, ErrBadPRN)
	_, err = GenCode(G1CA, 7)
	assert.ErrorIs(t, err, ErrBadPRN)
	_, err = GenCode(Signal("L5I"), 1)
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestResCode(t *testing.T) {
	code := []float32{1, -1, 1, 1}
	T := 4e-3
	dst := make([]float32, 8)

	// one sample per chip
	ResCode(code, T, 0, 1000.0, 4, dst)
	assert.Equal(t, []float32{1, -1, 1, 1}, dst[:4])
	assert.Equal(t, []float32{0, 0, 0, 0}, dst[4:])

	// two samples per chip
	dst = make([]float32, 8)
	ResCode(code, T, 0, 2000.0, 8, dst)
	assert.Equal(t, []float32{1, 1, -1, -1, 1, 1, 1, 1}, dst)

	// offset by one chip wraps
	dst = make([]float32, 4)
	ResCode(code, T, 1e-3, 1000.0, 4, dst)
	assert.Equal(t, []float32{-1, 1, 1, 1}, dst)
}
