package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chzchzchz/gnssrx/gnss"
	"github.com/chzchzchz/gnssrx/rcv"
)

func TestFreqHz(t *testing.T) {
	for in, want := range map[string]float64{
		"12M":    12e6,
		"562.5K": 562.5e3,
		"100":    100,
		"1.023m": 1.023e6,
	} {
		f, err := freqHz(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, f, in)
	}
	_, err := freqHz("fast")
	assert.Error(t, err)
}

func TestParseChannels(t *testing.T) {
	chs, err := parseChannels([]string{"L1CA:1-3,7", "G1CA:-2..0"})
	require.NoError(t, err)
	assert.Equal(t, []rcv.ChannelSpec{
		{Sig: gnss.L1CA, PRN: 1},
		{Sig: gnss.L1CA, PRN: 2},
		{Sig: gnss.L1CA, PRN: 3},
		{Sig: gnss.L1CA, PRN: 7},
		{Sig: gnss.G1CA, PRN: -2},
		{Sig: gnss.G1CA, PRN: -1},
		{Sig: gnss.G1CA, PRN: 0},
	}, chs)

	_, err = parseChannels([]string{"L1CA"})
	assert.ErrorIs(t, err, errBadChannelSpec)
	_, err = parseChannels([]string{"E1B:1"})
	assert.Error(t, err)
}

func TestRcvConfig(t *testing.T) {
	cfg := defaultConfig()
	rc, err := cfg.rcvConfig([]string{"L1CA:5"})
	require.NoError(t, err)
	assert.Equal(t, 12e6, rc.Fs)
	assert.Equal(t, 3e6, rc.Fi[0])
	require.Len(t, rc.Signals, 1)
	assert.Equal(t, gnss.L1CA, rc.Signals[0].Sig)
}
