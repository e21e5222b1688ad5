// Package pool implements the self-stabilizing reserve of established
// upstream TLS connections described in SPEC_FULL.md §3/§4.2: it keeps
// `Size` connections warm, replenishes on every departure (served,
// failed, expired) and tears itself down cleanly on Stop.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dialer produces one established upstream connection, bounded by ctx.
// internal/dialer.Dialer satisfies this.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// Config holds the immutable pool parameters.
type Config struct {
	DialTimeout time.Duration
	Backoff     time.Duration
	TTL         time.Duration
	Size        int
}

func (c Config) validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("pool: size must be positive, got %d", c.Size)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("pool: dial timeout must be positive, got %s", c.DialTimeout)
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("pool: backoff must be positive, got %s", c.Backoff)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("pool: ttl must be positive, got %s", c.TTL)
	}
	return nil
}

// dialResult is what a successful dial delivers to a waiter.
type dialResult struct {
	conn net.Conn
	err  error
}

// reserveSlot pairs a ready connection with its single-shot claim signal.
type reserveSlot struct {
	conn    net.Conn
	claimed chan struct{}
}

// Pool maintains Config.Size established connections to one upstream.
type Pool struct {
	dialer Dialer
	cfg    Config
	logger *logrus.Entry

	mu      sync.Mutex
	reserve []*reserveSlot
	waiters []chan dialResult
	debt    int

	respawn chan struct{}

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

// New validates cfg and returns a Pool that dials through d, logging
// through logger (one entry per Pool, tagged the way the rest of this
// project tags its component loggers).
func New(d Dialer, cfg Config, logger *logrus.Logger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pool{
		dialer:  d,
		cfg:     cfg,
		logger:  logger.WithField("component", "pool"),
		respawn: make(chan struct{}, 1),
	}, nil
}

// Start launches the stabilizer goroutine and arms it with an initial
// debt equal to Size, so the pool begins warming up immediately. Calling
// Start twice is a programming error.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		panic("pool: Start called twice")
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.mu.Lock()
	p.debt = p.cfg.Size
	p.mu.Unlock()
	p.armRespawn()

	p.wg.Add(1)
	go p.stabilize(runCtx)
	return nil
}

// Get claims one established connection, transferring ownership to the
// caller. It blocks until a connection is available or ctx is done.
func (p *Pool) Get(ctx context.Context) (net.Conn, error) {
	p.mu.Lock()
	p.debt++
	var claimed *reserveSlot
	var ch chan dialResult
	if len(p.reserve) > 0 {
		claimed = p.reserve[0]
		p.reserve = p.reserve[1:]
	} else {
		ch = make(chan dialResult, 1)
		p.waiters = append(p.waiters, ch)
	}
	p.mu.Unlock()
	p.armRespawn()

	if claimed != nil {
		close(claimed.claimed)
		return claimed.conn, nil
	}

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		p.mu.Lock()
		for i, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		p.mu.Unlock()
		// A dial already fulfilled this waiter in the race against our
		// cancellation; drain it so the connection isn't leaked. The dialer
		// that popped this waiter always sends on the buffered channel, so
		// this receive does not block for long.
		r := <-ch
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

// Stop cancels the stabilizer and every dialer it spawned, waits for all
// of them to exit, and returns once no pool-owned socket remains open, or
// earlier if ctx is done before they have all exited. It is safe to call
// more than once; only the first call has effect.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	})
	return nil
}

// armRespawn sets the level-triggered respawn signal. A non-blocking
// send: if it's already armed, this is a no-op, but the stabilizer will
// still observe the debt this increment added once it wakes, because
// debt itself was already bumped under the mutex before this is called.
func (p *Pool) armRespawn() {
	select {
	case p.respawn <- struct{}{}:
	default:
	}
}

// stabilize is the single long-running task that turns debt into dialer
// goroutines. It never touches the reserve or waiters directly.
func (p *Pool) stabilize(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.respawn:
			p.mu.Lock()
			n := p.debt
			p.debt = 0
			p.mu.Unlock()

			p.logger.Debugf("stabilizer kicks in: got %d connections to make", n)
			for i := 0; i < n; i++ {
				p.wg.Add(1)
				go p.buildConn(ctx)
			}
		}
	}
}

// buildConn is one dialer task: dial, then either hand the connection
// straight to a waiter, or park it in the reserve until claimed or its
// TTL expires. See SPEC_FULL.md §4.2 for the exact state machine.
func (p *Pool) buildConn(ctx context.Context) {
	defer p.wg.Done()

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	conn, err := p.dialer.Dial(dialCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by Stop: exit without touching debt or the reserve.
			return
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			p.logger.Error("connection to upstream timed out")
		} else {
			p.logger.Errorf("got error during upstream connection: %v", err)
		}

		select {
		case <-time.After(p.cfg.Backoff):
		case <-ctx.Done():
			return
		}

		p.mu.Lock()
		p.debt++
		p.mu.Unlock()
		p.armRespawn()
		return
	}

	p.logger.Debug("successfully built upstream connection")

	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		p.logger.Warn("dispatching connection directly to a waiter")
		w <- dialResult{conn: conn}
		return
	}
	slot := &reserveSlot{conn: conn, claimed: make(chan struct{})}
	p.reserve = append(p.reserve, slot)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.TTL)
	defer timer.Stop()

	select {
	case <-slot.claimed:
		return
	case <-timer.C:
		if p.removeSlot(slot) {
			_ = conn.Close()
			p.mu.Lock()
			p.debt++
			p.mu.Unlock()
			p.armRespawn()
		}
		return
	case <-ctx.Done():
		if p.removeSlot(slot) {
			_ = conn.Close()
		}
		return
	}
}

// removeSlot removes slot from the reserve if it is still there,
// reporting whether it found it (it may already have been popped by a
// concurrent Get).
func (p *Pool) removeSlot(slot *reserveSlot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.reserve {
		if s == slot {
			p.reserve = append(p.reserve[:i], p.reserve[i+1:]...)
			return true
		}
	}
	return false
}

// Stats is a snapshot of the pool's internal counters, exposed for tests
// and diagnostics.
type Stats struct {
	Reserve int
	Waiters int
	Debt    int
}

// Stats returns a point-in-time snapshot of the pool's bookkeeping.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Reserve: len(p.reserve),
		Waiters: len(p.waiters),
		Debt:    p.debt,
	}
}
