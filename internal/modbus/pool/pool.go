// Package pool manages Modbus Transport connections keyed by endpoint
//: one pooled connection per (host,port) for network
// transports, one per serial device path for RTU-direct, with idle
// reaping and explicit reconnect. The per-serial-bus mutual exclusion
// itself is the caller's responsibility (callers hold the bus's
// sync.Mutex before invoking pool operations) — the pool does not
// serialize access, only connection lifecycle.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/modbus/transport"
)

// DefaultIdleTimeout is how long an unused connection is kept open before
// the reaper closes it.
const DefaultIdleTimeout = 300 * time.Second

type pooled struct {
	conn     transport.Transport
	lastUsed time.Time
	busMu    *sync.Mutex // shared by every transport on the same serial path
}

// Pool owns one Transport per pool key and reaps idle connections.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*pooled
	busMus  map[string]*sync.Mutex // serial-path → shared bus mutex
	idle    time.Duration
}

// New creates an empty Pool.
func New(idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Pool{
		entries: make(map[string]*pooled),
		busMus:  make(map[string]*sync.Mutex),
		idle:    idleTimeout,
	}
}

// BusMutex returns the shared mutex callers must hold around any
// read/write sequence against the given device's transport — on a shared
// RTU-direct serial bus this is the same *sync.Mutex for every device on
// that bus; for network transports it's still returned (one mutex per
// (host,port)) so callers have one code path regardless of transport kind.
func (p *Pool) BusMutex(desc model.Transport) *sync.Mutex {
	key := desc.PoolKey()
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.busMus[key]
	if !ok {
		m = &sync.Mutex{}
		p.busMus[key] = m
	}
	return m
}

// Get returns the Transport for desc, connecting it lazily if not already
// open.
func (p *Pool) Get(ctx context.Context, desc model.Transport) (transport.Transport, error) {
	key := desc.PoolKey()

	p.mu.Lock()
	e, ok := p.entries[key]
	p.mu.Unlock()

	if ok {
		e.lastUsed = time.Now()
		return e.conn, nil
	}

	conn, err := transport.New(desc)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.entries[key] = &pooled{conn: conn, lastUsed: time.Now(), busMu: p.BusMutex(desc)}
	p.mu.Unlock()

	return conn, nil
}

// Reconnect forcibly closes and re-establishes the connection for the given
// serial path or host:port key.
func (p *Pool) Reconnect(ctx context.Context, desc model.Transport) (transport.Transport, error) {
	key := desc.PoolKey()

	p.mu.Lock()
	e, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()

	if ok {
		_ = e.conn.Close()
	}

	return p.Get(ctx, desc)
}

// ReapIdle closes and forgets every connection whose last use exceeds the
// pool's idle timeout. Intended to run on a scheduler.Scheduler tick.
func (p *Pool) ReapIdle(ctx context.Context) error {
	now := time.Now()

	p.mu.Lock()
	stale := make([]string, 0)
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) > p.idle {
			stale = append(stale, key)
		}
	}
	p.mu.Unlock()

	for _, key := range stale {
		p.mu.Lock()
		e, ok := p.entries[key]
		delete(p.entries, key)
		p.mu.Unlock()
		if ok {
			if err := e.conn.Close(); err != nil {
				return fmt.Errorf("pool: close idle connection %s: %w", key, err)
			}
		}
	}
	return nil
}

// CloseAll closes every pooled connection, used during shutdown.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for key, e := range p.entries {
		if err := e.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pool: close %s: %w", key, err)
		}
		delete(p.entries, key)
	}
	return firstErr
}
