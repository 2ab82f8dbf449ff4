package remotefile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrPoolClosed is returned by Get after the pool has been closed.
var ErrPoolClosed = errors.New("session pool is closed")

// ErrPoolTimeout is returned by Get when the pool is at capacity and no
// session is released within the wait timeout.
var ErrPoolTimeout = errors.New("timed out waiting for a pooled session")

// SessionPool caches live sessions from a single factory. Sessions handed
// out by Get are wrapped so that closing them returns them to the pool;
// checked-in sessions are health-checked before reuse and discarded when
// dead. The pool itself implements SessionFactory, so templates and
// synchronizers can run on pooled sessions transparently.
type SessionPool struct {
	factory SessionFactory

	maxSize     int           // 0 = unbounded
	maxIdle     time.Duration // idle sessions older than this are closed
	waitTimeout time.Duration // 0 = wait as long as the context allows

	slots chan struct{} // bounds live sessions when maxSize > 0

	mu     sync.Mutex
	idle   []idleSession
	inUse  int
	closed bool

	done chan struct{}
}

type idleSession struct {
	session  Session
	lastUsed time.Time
}

var _ SessionFactory = (*SessionPool)(nil)

// PoolOption configures a SessionPool.
type PoolOption func(*SessionPool)

// WithMaxSize bounds the number of live sessions. When the bound is reached,
// Get waits for a session to be released.
func WithMaxSize(n int) PoolOption {
	return func(p *SessionPool) {
		p.maxSize = n
	}
}

// WithMaxIdleTime sets how long idle sessions are kept before being closed
// (default 5m).
func WithMaxIdleTime(d time.Duration) PoolOption {
	return func(p *SessionPool) {
		if d > 0 {
			p.maxIdle = d
		}
	}
}

// WithWaitTimeout bounds how long Get waits for a released session when the
// pool is at capacity. Zero means wait until the context is done.
func WithWaitTimeout(d time.Duration) PoolOption {
	return func(p *SessionPool) {
		p.waitTimeout = d
	}
}

// NewSessionPool creates a pool over the given factory.
func NewSessionPool(factory SessionFactory, opts ...PoolOption) *SessionPool {
	pool := &SessionPool{
		factory: factory,
		maxIdle: 5 * time.Minute,
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(pool)
	}
	if pool.maxSize > 0 {
		pool.slots = make(chan struct{}, pool.maxSize)
	}

	go pool.cleanupLoop()

	return pool
}

// Get returns a healthy session, reusing an idle one when possible. Closing
// the returned session releases it back to the pool.
func (p *SessionPool) Get(ctx context.Context) (Session, error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	for {
		s, ok := p.popIdle()
		if !ok {
			break
		}
		if s.Test() {
			p.markInUse()
			return &pooledSession{pool: p, Session: s}, nil
		}
		s.Close()
	}

	s, err := p.factory.Dial(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, err
	}
	p.markInUse()
	return &pooledSession{pool: p, Session: s}, nil
}

// Dial makes the pool usable anywhere a SessionFactory is expected.
func (p *SessionPool) Dial(ctx context.Context) (Session, error) {
	return p.Get(ctx)
}

// Release returns a session obtained from Get to the pool. It is equivalent
// to closing the session.
func (p *SessionPool) Release(s Session) error {
	return s.Close()
}

// CloseIdle closes sessions that have been idle for longer than the
// configured idle time.
func (p *SessionPool) CloseIdle() {
	p.mu.Lock()
	now := time.Now()
	kept := p.idle[:0]
	var expired []Session
	for _, e := range p.idle {
		if now.Sub(e.lastUsed) > p.maxIdle {
			expired = append(expired, e.session)
		} else {
			kept = append(kept, e)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
}

// Close drains the pool and stops the cleanup goroutine. Sessions currently
// checked out are closed for real when they are released.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.done)

	var errs *multierror.Error
	for _, e := range idle {
		if err := e.session.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Stats returns current pool statistics.
func (p *SessionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Total: p.inUse + len(p.idle),
		InUse: p.inUse,
		Idle:  len(p.idle),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total int
	InUse int
	Idle  int
}

func (p *SessionPool) acquireSlot(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	slots := p.slots
	p.mu.Unlock()

	if slots == nil {
		return nil
	}

	var timeout <-chan time.Time
	if p.waitTimeout > 0 {
		timer := time.NewTimer(p.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pooled session: %w", ctx.Err())
	case <-timeout:
		return ErrPoolTimeout
	case <-p.done:
		return ErrPoolClosed
	}
}

func (p *SessionPool) releaseSlot() {
	if p.slots != nil {
		<-p.slots
	}
}

func (p *SessionPool) popIdle() (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.idle)
	if n == 0 {
		return nil, false
	}
	s := p.idle[n-1].session
	p.idle = p.idle[:n-1]
	return s, true
}

func (p *SessionPool) markInUse() {
	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
}

// put checks a session back in. Dead sessions and sessions returned after
// the pool closed are closed for real.
func (p *SessionPool) put(s Session) error {
	p.mu.Lock()
	p.inUse--
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return s.Close()
	}
	if s.IsOpen() {
		p.idle = append(p.idle, idleSession{session: s, lastUsed: time.Now()})
		p.mu.Unlock()
		p.releaseSlot()
		return nil
	}
	p.mu.Unlock()
	p.releaseSlot()
	return s.Close()
}

func (p *SessionPool) cleanupLoop() {
	ticker := time.NewTicker(p.maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.CloseIdle()
		case <-p.done:
			return
		}
	}
}

// pooledSession hands a checked-out session to a caller. Closing it returns
// the session to the pool instead of tearing down the connection.
type pooledSession struct {
	pool *SessionPool
	Session
	released atomic.Bool
}

func (ps *pooledSession) Close() error {
	if !ps.released.CompareAndSwap(false, true) {
		return nil
	}
	return ps.pool.put(ps.Session)
}
