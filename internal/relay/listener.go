// Package relay implements the local-facing half of the wrapper: a TCP
// listener that claims one pooled upstream connection per accepted
// client and splices bytes between them until either side closes.
package relay

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warmtls/warmtls/internal/pool"
)

// stopGrace absorbs stragglers the OS accept queue may hand to the
// accept loop in the brief window between closing the listener and the
// loop actually observing that close.
const stopGrace = 500 * time.Millisecond

// child tracks one in-flight client handler so Stop can cancel it and
// wait for it to actually exit.
type child struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Listener accepts plaintext clients and relays each one onto a
// connection claimed from Pool.
type Listener struct {
	addr   string
	pool   *pool.Pool
	logger *logrus.Entry

	ln net.Listener

	acceptDone chan struct{}

	mu       sync.Mutex
	children map[int64]*child
	nextID   int64

	stopOnce sync.Once
}

// New returns a Listener that will bind addr and relay clients onto p.
func New(addr string, p *pool.Pool, logger *logrus.Logger) *Listener {
	if logger == nil {
		logger = logrus.New()
	}
	return &Listener{
		addr:     addr,
		pool:     p,
		logger:   logger.WithField("component", "listener"),
		children: make(map[int64]*child),
	}
}

// Start binds the listen socket and begins accepting clients in the
// background.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.acceptDone = make(chan struct{})

	l.logger.Infof("listening on %s", l.addr)
	go l.acceptLoop(ctx)
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer close(l.acceptDone)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && !ne.Timeout() {
				// The listener was closed out from under us (Stop).
				return
			}
			l.logger.Errorf("accept error: %v", err)
			continue
		}

		id := atomic.AddInt64(&l.nextID, 1)
		childCtx, cancel := context.WithCancel(ctx)
		c := &child{cancel: cancel, done: make(chan struct{})}

		l.mu.Lock()
		l.children[id] = c
		l.mu.Unlock()

		go l.handle(childCtx, id, c, conn)
	}
}

func (l *Listener) handle(ctx context.Context, id int64, c *child, conn net.Conn) {
	defer close(c.done)
	defer func() {
		l.mu.Lock()
		delete(l.children, id)
		l.mu.Unlock()
	}()
	defer c.cancel()

	peer := conn.RemoteAddr()
	l.logger.Infof("client %s connected", peer)
	defer l.logger.Infof("client %s disconnected", peer)

	upstream, err := l.pool.Get(ctx)
	if err != nil {
		_ = conn.Close()
		return
	}

	// If Stop cancels ctx while bytes are in flight, force both sockets
	// closed so the splice's blocked Read/Write unblocks promptly.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			_ = upstream.Close()
		case <-watchDone:
		}
	}()

	splice(conn, upstream)
	close(watchDone)
}

// Stop closes the listen socket, stops the pool, cancels every
// still-running client handler and waits for all of them (and the
// accept loop) to exit before returning.
func (l *Listener) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		if l.ln != nil {
			_ = l.ln.Close()
		}
		_ = l.pool.Stop(ctx)

		l.mu.Lock()
		snapshot := make([]*child, 0, len(l.children))
		for _, c := range l.children {
			snapshot = append(snapshot, c)
		}
		l.mu.Unlock()

		for _, c := range snapshot {
			c.cancel()
		}

		g, _ := errgroup.WithContext(context.Background())
		for _, c := range snapshot {
			c := c
			g.Go(func() error {
				<-c.done
				return nil
			})
		}
		_ = g.Wait()

		if l.acceptDone != nil {
			<-l.acceptDone
		}

		time.Sleep(stopGrace)
	})
	return nil
}
