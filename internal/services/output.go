package services

import (
	"fmt"
	"sync"
)

// tailBuffer keeps the last limit bytes written to it. Step output is
// usually most useful at its end, where errors are printed.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	dropped int64
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 1
	}
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 && len(b.buf) > 2*b.limit {
		b.dropped += int64(over)
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return n, nil
}

// String returns the captured output and whether anything was cut
func (b *tailBuffer) String() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.buf
	dropped := b.dropped
	if over := len(out) - b.limit; over > 0 {
		dropped += int64(over)
		out = out[over:]
	}
	if dropped == 0 {
		return string(out), false
	}
	return fmt.Sprintf("[... %d bytes truncated ...]\n%s", dropped, out), true
}
