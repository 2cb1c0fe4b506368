package radio

import (
	"errors"
	"fmt"
)

var ErrBadFormat = errors.New("unsupported IF data format")

// Format identifies the wire format of raw IF sample blocks.
type Format int

const (
	FormatInt8    Format = iota // real int8 samples, one RF channel
	FormatInt8IQ                // interleaved int8 I/Q pairs, one RF channel
	FormatRaw8                  // packed 2-bit dual RF channel, one byte per sample
	FormatUint8IQ               // interleaved offset-127 uint8 I/Q (rtl_tcp)
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "int8":
		return FormatInt8, nil
	case "int8iq":
		return FormatInt8IQ, nil
	case "raw8":
		return FormatRaw8, nil
	case "uint8iq":
		return FormatUint8IQ, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadFormat, s)
}

// Sampling is the per-RF-channel sampling type.
type Sampling int

const (
	SampleI  Sampling = 1 // I only
	SampleIQ Sampling = 2 // I/Q
)

// raw8Levels maps the 2-bit sample nibbles of FormatRaw8.
var raw8Levels = [4]float32{1, 3, -1, -3}

// Decoder converts raw IF blocks to complex samples, demultiplexing
// packed formats into per-RF-channel outputs. The RAW8 lookup table is
// computed once at construction and never mutated afterwards.
type Decoder struct {
	format Format
	iq     [2]Sampling
	lut    [2][256]complex64
}

// NewDecoder builds a decoder for format; iq gives the sampling type of
// each RF channel (FormatRaw8 uses two, the others one).
func NewDecoder(format Format, iq []Sampling) *Decoder {
	d := &Decoder{format: format}
	for i := range d.iq {
		d.iq[i] = SampleIQ
		if i < len(iq) {
			d.iq[i] = iq[i]
		}
	}
	if format == FormatRaw8 {
		for b := 0; b < 256; b++ {
			i0, q0 := raw8Levels[b&0x3], raw8Levels[(b>>2)&0x3]
			i1, q1 := raw8Levels[(b>>4)&0x3], raw8Levels[(b>>6)&0x3]
			if d.iq[0] == SampleI {
				q0 = 0
			}
			if d.iq[1] == SampleI {
				q1 = 0
			}
			// Q negated: the front end mixes high side.
			d.lut[0][b] = complex(i0, -q0)
			d.lut[1][b] = complex(i1, -q1)
		}
	}
	return d
}

// RFChannels returns how many RF channel streams Decode produces.
func (d *Decoder) RFChannels() int {
	if d.format == FormatRaw8 {
		return 2
	}
	return 1
}

// BlockBytes returns the raw size of a block of n samples.
func (d *Decoder) BlockBytes(n int) int {
	switch d.format {
	case FormatInt8IQ, FormatUint8IQ:
		return 2 * n
	}
	return n
}

// Decode converts one raw block into len(out[i]) samples per RF channel.
func (d *Decoder) Decode(raw []byte, out [][]complex64) {
	switch d.format {
	case FormatRaw8:
		for j, b := range raw {
			out[0][j] = d.lut[0][b]
			out[1][j] = d.lut[1][b]
		}
	case FormatInt8:
		for j, b := range raw {
			out[0][j] = complex(float32(int8(b)), 0)
		}
	case FormatInt8IQ:
		for j := range out[0] {
			out[0][j] = complex(
				float32(int8(raw[2*j])),
				-float32(int8(raw[2*j+1])))
		}
	case FormatUint8IQ:
		for j := range out[0] {
			out[0][j] = complex(
				(float32(raw[2*j])-127)/128.0,
				(float32(raw[2*j+1])-127)/128.0)
		}
	}
}
