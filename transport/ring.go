package transport

// byteRing is a fixed-capacity byte FIFO. Not safe for concurrent use;
// callers hold their own lock.
type byteRing struct {
	buf  []byte
	r, w int
	n    int
}

func newByteRing(capacity int) *byteRing {
	return &byteRing{buf: make([]byte, capacity)}
}

func (q *byteRing) len() int {
	return q.n
}

func (q *byteRing) free() int {
	return len(q.buf) - q.n
}

// put copies as much of p as fits and returns how many bytes were taken.
func (q *byteRing) put(p []byte) int {
	total := 0
	for len(p) > 0 && q.free() > 0 {
		chunk := len(q.buf) - q.w
		if chunk > q.free() {
			chunk = q.free()
		}
		if chunk > len(p) {
			chunk = len(p)
		}
		copy(q.buf[q.w:q.w+chunk], p[:chunk])
		q.w = (q.w + chunk) % len(q.buf)
		q.n += chunk
		p = p[chunk:]
		total += chunk
	}
	return total
}

// take moves up to len(p) buffered bytes into p and returns the count.
func (q *byteRing) take(p []byte) int {
	total := 0
	for len(p) > 0 && q.n > 0 {
		chunk := len(q.buf) - q.r
		if chunk > q.n {
			chunk = q.n
		}
		if chunk > len(p) {
			chunk = len(p)
		}
		copy(p[:chunk], q.buf[q.r:q.r+chunk])
		q.r = (q.r + chunk) % len(q.buf)
		q.n -= chunk
		p = p[chunk:]
		total += chunk
	}
	return total
}
