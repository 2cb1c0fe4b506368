package gnss

import "fmt"

// L1 C/A G2 register delays per PRN (IS-GPS-200, chips).
var l1caDelay = []int{
	5, 6, 7, 8, 17, 18, 139, 140, 141, 251,
	252, 254, 255, 256, 257, 258, 469, 470, 471, 472,
	473, 474, 509, 512, 513, 514, 515, 516, 859, 860,
	861, 862, 863, 950, 947, 948, 950, 67, 103, 91,
	19, 679, 225, 625, 946, 638, 161, 1001, 554, 280,
	710, 709, 775, 864, 558, 220, 397, 55, 898, 759,
	367, 299, 1018, 729, 695, 780, 801, 788, 732, 34,
	320, 327, 389, 407, 525, 405, 221, 761, 260, 326,
	955, 653, 699, 422, 188, 438, 959, 539, 879, 677,
	586, 153, 792, 814, 446, 264, 1015, 278, 536, 819,
	156, 957, 159, 712, 885, 461, 248, 713, 126, 807,
	279, 122, 197, 693, 632, 771, 467, 647, 203, 145,
	175, 52, 21, 237, 235, 886, 657, 634, 762, 355,
	1012, 176, 603, 130, 359, 595, 68, 386, 797, 456,
	499, 883, 307, 127, 211, 121, 118, 163, 628, 853,
	484, 289, 811, 202, 1021, 463, 568, 904, 670, 230,
	911, 684, 309, 644, 932, 12, 314, 891, 212, 185,
	675, 503, 150, 395, 345, 846, 798, 992, 357, 995,
	877, 112, 144, 476, 193, 109, 445, 291, 87, 399,
	292, 901, 339, 208, 711, 189, 263, 537, 663, 942,
	173, 900, 30, 500, 935, 556, 373, 85, 652, 310,
}

// genL1CA generates the 1023-chip GPS C/A gold code for a PRN as +/-1 chips.
func genL1CA(prn int) []float32 {
	const n = 1023
	var r1, r2 [10]int8
	for i := range r1 {
		r1[i], r2[i] = -1, -1
	}
	g1, g2 := make([]int8, n), make([]int8, n)
	for i := 0; i < n; i++ {
		g1[i], g2[i] = r1[9], r2[9]
		c1 := r1[2] * r1[9]
		c2 := r2[1] * r2[2] * r2[5] * r2[7] * r2[8] * r2[9]
		for j := 9; j > 0; j-- {
			r1[j], r2[j] = r1[j-1], r2[j-1]
		}
		r1[0], r2[0] = c1, c2
	}
	code := make([]float32, n)
	j := n - l1caDelay[prn-1]
	for i := 0; i < n; i++ {
		code[i] = float32(-g1[i] * g2[j%n])
		j++
	}
	return code
}

// genG1CA generates the 511-chip GLONASS C/A m-sequence (GLONASS ICD:
// 9-stage register, feedback x^9+x^5+1, output from stage 7). The same
// sequence serves every satellite; FDMA separates them.
func genG1CA() []float32 {
	const n = 511
	var r [9]int8
	for i := range r {
		r[i] = 1
	}
	code := make([]float32, n)
	for i := 0; i < n; i++ {
		if r[6] == 1 {
			code[i] = 1
		} else {
			code[i] = -1
		}
		fb := r[4] ^ r[8]
		copy(r[1:], r[:8])
		r[0] = fb
	}
	return code
}

// GenCode generates the primary ranging code of (sig, prn) as +/-1 chips.
func GenCode(sig Signal, prn int) ([]float32, error) {
	if !validPRN(sig, prn) {
		return nil, fmt.Errorf("%w: %s %d", ErrBadPRN, sig, prn)
	}
	switch sig {
	case L1CA:
		return genL1CA(prn), nil
	case G1CA, G2CA:
		return genG1CA(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, sig)
}

// ResCode resamples one code period to n samples at sampling rate fs,
// starting at code offset coff (s). Samples beyond n (up to len(dst))
// are zeroed for FFT zero padding.
func ResCode(code []float32, T, coff, fs float64, n int, dst []float32) {
	tc := T / float64(len(code))
	for i := 0; i < n; i++ {
		j := int((coff+float64(i)/fs)/tc) % len(code)
		if j < 0 {
			j += len(code)
		}
		dst[i] = code[j]
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
