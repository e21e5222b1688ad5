package relay

import (
	"io"
	"net"
	"sync"
)

// bufSize is the splice buffer size. No protocol framing, pure byte
// relay, so this is picked purely for syscall amortization.
const bufSize = 16 * 1024

var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, bufSize)
		return &b
	},
}

// pump copies from src to dst until EOF or error, then calls halt, which
// closes both connections exactly once so the paired pump (running the
// other direction) has its own blocked read/write interrupted. The copy
// error, if any, is discarded. This is the
// Go-idiomatic rendering of the spec's "halt" broadcast-once signal:
// closing a net.Conn is what aborts a blocked Read/Write on it.
func pump(dst io.Writer, src io.Reader, halt func(), wg *sync.WaitGroup) {
	defer wg.Done()
	defer halt()

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	_, _ = io.CopyBuffer(dst, src, *bufp)
}

// splice runs both directions of a bidirectional copy between client and
// upstream, closing both connections the instant either direction ends.
func splice(client, upstream net.Conn) {
	var once sync.Once
	haltFn := func() {
		once.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(client, upstream, haltFn, &wg)
	go pump(upstream, client, haltFn, &wg)
	wg.Wait()

	// Idempotent: at least one of these already ran inside haltFn.
	haltFn()
}
