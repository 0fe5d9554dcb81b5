package wire

import "sync"

// bufPool recycles byte slices across connections the same way the
// teacher's kgo.bufPool does for outgoing request buffers, generalized
// here to both directions of the server's framing path.
type bufPool struct {
	p *sync.Pool
}

func newBufPool() bufPool {
	return bufPool{p: &sync.Pool{New: func() any { r := make([]byte, 0, 4096); return &r }}}
}

func (p bufPool) get() []byte  { return (*p.p.Get().(*[]byte))[:0] }
func (p bufPool) put(b []byte) { p.p.Put(&b) }

var pool = newBufPool()
