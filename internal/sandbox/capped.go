package sandbox

import (
	"bytes"
	"sync"
)

// cappedBuffer keeps at most limit bytes. Writes past the limit are dropped
// and reported once through onExceed. It never returns an error so a copying
// goroutine keeps draining the pipe until the writer is killed.
type cappedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int64
	exceeded bool
	onExceed func()
}

func newCappedBuffer(limit int64, onExceed func()) *cappedBuffer {
	return &cappedBuffer{limit: limit, onExceed: onExceed}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	room := c.limit - int64(c.buf.Len())
	if int64(len(p)) <= room {
		c.buf.Write(p)
		c.mu.Unlock()
		return len(p), nil
	}
	if room > 0 {
		c.buf.Write(p[:room])
	}
	first := !c.exceeded
	c.exceeded = true
	c.mu.Unlock()

	if first && c.onExceed != nil {
		c.onExceed()
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

func (c *cappedBuffer) Exceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceeded
}
