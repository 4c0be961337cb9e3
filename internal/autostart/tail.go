package autostart

import "sync"

// tailBuffer keeps the last size bytes written to it. Long-running
// projects can print without bound; only the tail is worth logging.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	head int // next write position
	full bool
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = 4 * 1024
	}
	return &tailBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer, overwriting the oldest bytes once full.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	size := len(t.buf)
	if n >= size {
		copy(t.buf, p[n-size:])
		t.head = 0
		t.full = true
		return n, nil
	}

	first := copy(t.buf[t.head:], p)
	if first < n {
		copy(t.buf, p[first:])
	}
	next := t.head + n
	if next >= size {
		t.full = true
		next -= size
	}
	t.head = next
	return n, nil
}

// String returns the retained bytes in write order.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return string(t.buf[:t.head])
	}
	return string(t.buf[t.head:]) + string(t.buf[:t.head])
}
