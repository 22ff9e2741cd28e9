package flate

// window is the decoder's sliding window: the last windowSize bytes of
// output, in a ring buffer indexed by absolute output position.
type window struct {
	hist [windowSize]byte
	pos  uint64
}

// available returns how far back a back-reference may reach.
func (w *window) available() int {
	if w.pos < windowSize {
		return int(w.pos)
	}
	return windowSize
}

func (w *window) reset() {
	w.pos = 0
}

func (w *window) put(b byte) {
	w.hist[w.pos&(windowSize-1)] = b
	w.pos++
}

func (w *window) write(p []byte) {
	if len(p) > windowSize {
		w.pos += uint64(len(p) - windowSize)
		p = p[len(p)-windowSize:]
	}
	for len(p) > 0 {
		i := int(w.pos & (windowSize - 1))
		n := copy(w.hist[i:], p)
		w.pos += uint64(n)
		p = p[n:]
	}
}

// copyTo emits up to n bytes of the back-reference at dist into dst, one
// byte at a time so that the reference may overlap the bytes it produces.
// It returns the number of bytes emitted.
func (w *window) copyTo(dst []byte, dist, n int) int {
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		b := w.hist[(w.pos-uint64(dist))&(windowSize-1)]
		dst[i] = b
		w.put(b)
	}
	return n
}
