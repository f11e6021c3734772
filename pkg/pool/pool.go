// Package pool multiplexes keep-alive TCP/TLS connections keyed by
// (scheme, host, port). It hands out at most one lease per connection,
// reclaims clean connections on release, and evicts on error, idle
// timeout, or shutdown. It is deliberately ignorant of DNS and TLS
// mechanics: Acquire takes a caller-supplied dial closure (built by
// pkg/client) so this package only ever manages the Idle/InUse lifecycle.
package pool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/flowtap/rawhttp/pkg/errors"
	"github.com/flowtap/rawhttp/pkg/netio"
)

// Key identifies a pooled connection's target. It ignores path and query.
type Key struct {
	Scheme string
	Host   string
	Port   int
}

// Config controls pool sizing and default phase timeouts. Its zero value is
// not usable directly — construct via New, which fills in the documented
// defaults.
type Config struct {
	// KeepAliveTimeout bounds how long an Idle connection is retained
	// before eviction. Zero (the Go zero value) resolves to the 15s
	// default, matching every other zero-valued field in this struct; a
	// negative value is the explicit opt-out, disabling reuse entirely.
	KeepAliveTimeout time.Duration

	// RecvBufSize is the maximum bytes read from the socket per read call
	// and the largest chunk a response body stream yields. The response
	// parser's bufio.Reader never goes below 16 bytes, so a value under 16
	// still caps yielded chunks but lets a socket read take up to 16 bytes.
	RecvBufSize int

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	BodyTimeout    time.Duration

	// MaxConnsPerHost caps how many connections may be leased per key at
	// once. The baseline pool leases immediately and opens a new
	// connection whenever none is Idle. Zero (the default) means
	// unlimited; a positive value rejects Acquire once that many
	// connections are leased for the key, rather than queuing the caller.
	MaxConnsPerHost int
}

func (c Config) withDefaults() Config {
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = 15 * time.Second
	}
	if c.RecvBufSize <= 0 {
		c.RecvBufSize = 16384
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.BodyTimeout <= 0 {
		c.BodyTimeout = 10 * time.Second
	}
	return c
}

// Conn is a leased or idle pooled connection. A Conn is never concurrently
// leased twice.
type Conn struct {
	Key     Key
	NetConn net.Conn

	pool      *Pool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// Read implements io.Reader by delegating to the underlying socket.
func (c *Conn) Read(p []byte) (int, error) { return c.NetConn.Read(p) }

// Write implements io.Writer by delegating to the underlying socket.
func (c *Conn) Write(p []byte) (int, error) { return c.NetConn.Write(p) }

type keyPool struct {
	mu     sync.Mutex
	idle   []*Conn // LIFO: append/pop at the tail
	active int
}

// Pool is the keyed mapping from (scheme,host,port) to a freelist of Idle
// connections. Its Idle-set mutations are guarded by per-key mutexes whose
// critical sections never perform I/O — dialing happens after the lock is
// released, inside the caller-supplied dial closure.
type Pool struct {
	mu     sync.Mutex
	keyed  map[Key]*keyPool
	cfg    Config
	closed bool
}

// New constructs a Pool. Zero-valued fields in cfg resolve to the
// documented defaults: recv buffer 16384 bytes, keep-alive 15s, connect
// 10s, request 10s, body 10s.
func New(cfg Config) *Pool {
	return &Pool{
		keyed: make(map[Key]*keyPool),
		cfg:   cfg.withDefaults(),
	}
}

// Config returns the pool's effective (default-filled) configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) getOrCreate(key Key) *keyPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	kp, ok := p.keyed[key]
	if !ok {
		kp = &keyPool{}
		p.keyed[key] = kp
	}
	return kp
}

// Acquire returns an exclusively-leased connection for key. If an
// unexpired Idle connection exists it is handed back directly (and its
// idle-eviction timer cancelled). Otherwise dial is invoked to open a fresh
// connection; dial is responsible for TCP connect and, for https keys, the
// TLS handshake. Any error from dial surfaces to the caller unwrapped (the
// caller — pkg/client — classifies it as a *Connection error); the
// connection is never placed in the pool on failure.
func (p *Pool) Acquire(ctx context.Context, key Key, dial func(context.Context) (net.Conn, error)) (*Conn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errors.NewConnectionError(key.Host, key.Port, errPoolClosed)
	}

	kp := p.getOrCreate(key)

	kp.mu.Lock()
	if n := len(kp.idle); n > 0 {
		c := kp.idle[n-1]
		kp.idle = kp.idle[:n-1]
		if c.idleTimer != nil {
			c.idleTimer.Stop()
			c.idleTimer = nil
		}
		kp.active++
		kp.mu.Unlock()
		return c, nil
	}
	if p.cfg.MaxConnsPerHost > 0 && kp.active >= p.cfg.MaxConnsPerHost {
		kp.mu.Unlock()
		return nil, errors.NewConnectionError(key.Host, key.Port, errMaxConnsPerHost)
	}
	kp.active++
	kp.mu.Unlock()

	netConn, err := dial(ctx)
	if err != nil {
		kp.mu.Lock()
		kp.active--
		kp.mu.Unlock()
		return nil, err
	}

	return &Conn{Key: key, NetConn: netConn, pool: p}, nil
}

// Release returns c to the pool. If reusable and the pool's
// KeepAliveTimeout is positive, c transitions InUse -> Idle and a one-shot
// eviction timer is armed; otherwise c is closed and discarded. Any error
// observed while c was leased must be reported via reusable=false by the
// caller — Release itself never inspects the connection's history.
func (p *Pool) Release(c *Conn, reusable bool) {
	if c == nil {
		return
	}
	kp := p.getOrCreate(c.Key)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	kp.mu.Lock()
	kp.active--
	if !reusable || closed || p.cfg.KeepAliveTimeout < 0 {
		kp.mu.Unlock()
		netio.Shutdown(c.NetConn)
		return
	}
	c.lastUsed = time.Now()
	c.idleTimer = time.AfterFunc(p.cfg.KeepAliveTimeout, func() { p.evict(c) })
	kp.idle = append(kp.idle, c)
	kp.mu.Unlock()
}

// evict fires when a connection's idle-expiry timer elapses. If the
// connection is still present in the Idle set it is removed and closed; if
// it was already claimed by a racing Acquire (Stop lost the race) this is a
// no-op, since Acquire itself stopped the timer before handing the
// connection out.
func (p *Pool) evict(c *Conn) {
	kp := p.getOrCreate(c.Key)
	kp.mu.Lock()
	removed := false
	for i, ic := range kp.idle {
		if ic == c {
			kp.idle = append(kp.idle[:i], kp.idle[i+1:]...)
			removed = true
			break
		}
	}
	kp.mu.Unlock()
	if removed {
		netio.Shutdown(c.NetConn)
	}
}

// Close marks the pool closed, rejecting further Acquire calls, cancels all
// idle-eviction timers, and closes every Idle connection. InUse connections
// are left for their current holders to discard on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	keyed := p.keyed
	p.mu.Unlock()

	for _, kp := range keyed {
		kp.mu.Lock()
		idle := kp.idle
		kp.idle = nil
		kp.mu.Unlock()
		for _, c := range idle {
			if c.idleTimer != nil {
				c.idleTimer.Stop()
			}
			netio.Shutdown(c.NetConn)
		}
	}
	return nil
}

type poolError string

func (e poolError) Error() string { return string(e) }

const (
	errPoolClosed      = poolError("pool is closed")
	errMaxConnsPerHost = poolError("max connections per host reached")
)
