package rcv

// Buffer is a ring of IF sample blocks for one RF channel. The receiver
// loop writes one block per base cycle; channel workers copy windows
// out by absolute block index. Writers and readers coordinate through
// the receiver's cursors, the buffer itself holds no synchronization.
type Buffer struct {
	data []complex64
	n    int // samples per block
	nblk int // capacity in blocks
}

func newBuffer(n, nblk int) *Buffer {
	return &Buffer{
		data: make([]complex64, n*nblk),
		n:    n,
		nblk: nblk,
	}
}

// block returns the backing slice for absolute block index ix; the
// decoder writes samples into it in place.
func (b *Buffer) block(ix int64) []complex64 {
	off := int(ix%int64(b.nblk)) * b.n
	return b.data[off : off+b.n]
}

// window copies len(dst) samples starting at absolute sample index six,
// wrapping around the ring as needed.
func (b *Buffer) window(six int64, dst []complex64) {
	total := int64(len(b.data))
	off := int(six % total)
	m := copy(dst, b.data[off:])
	if m < len(dst) {
		copy(dst[m:], b.data[:len(dst)-m])
	}
}

// Cap returns the buffer capacity in blocks.
func (b *Buffer) Cap() int { return b.nblk }
