// Package database provides the bounded connection pool and schema plumbing
// shared by every saasforge service. Durable state lives in Postgres; all
// multi-statement invariants are enforced by wrapping the statements in a
// single transaction on one pooled connection.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Postgres driver
)

var (
	// ErrPoolClosed is returned by Acquire after Close has been called.
	ErrPoolClosed = errors.New("database: pool closed")
	// ErrConnUnavailable is returned when a dead connection could not be
	// replaced with a fresh one.
	ErrConnUnavailable = errors.New("database: connection unavailable")
)

const healthCheckTimeout = 2 * time.Second

// Pool is a fixed-size FIFO of live database connections. Acquire blocks
// while the pool is empty; Release health-checks the connection and replaces
// it with a freshly opened one when it died in the borrower's hands.
type Pool struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*sqlx.Conn
	deficit int // connections lost to failed replacements, reopened on demand
	closed  bool
}

// NewPool opens size connections against dsn and returns the filled pool.
func NewPool(ctx context.Context, dsn string, size int) (*Pool, error) {
	return newPool(ctx, "postgres", dsn, size)
}

// NewPoolWithDriver opens the pool against an alternate database/sql driver.
// Store tests use it to run their SQL against an in-memory driver.
func NewPoolWithDriver(ctx context.Context, driverName, dsn string, size int) (*Pool, error) {
	return newPool(ctx, driverName, dsn, size)
}

func newPool(ctx context.Context, driverName, dsn string, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("database: pool size must be >= 1, got %d", size)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	// Headroom above size so replacement opens never starve behind leases.
	db.SetMaxOpenConns(size + 2)

	p := &Pool{
		db:     db,
		logger: slog.With("component", "dbpool"),
		idle:   make([]*sqlx.Conn, 0, size),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		conn, err := db.Connx(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("database: fill pool: %w", err)
		}
		p.idle = append(p.idle, conn)
	}

	p.logger.Info("connection pool initialized", "size", size)
	return p, nil
}

// Lease is the scoped handle for one pooled connection. Release is safe to
// call more than once and from deferred paths.
type Lease struct {
	pool *Pool
	Conn *sqlx.Conn
	once sync.Once
}

// Release returns the connection to the pool, replacing it first when it no
// longer answers a ping.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.Conn)
	})
}

// Acquire blocks until a connection is available, the context is done, or the
// pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	// Wake waiters when the caller gives up; cond.Wait alone cannot observe
	// context cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stop:
		}
	}()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if len(p.idle) > 0 {
			conn := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()
			return &Lease{pool: p, Conn: conn}, nil
		}
		if p.deficit > 0 {
			p.deficit--
			p.mu.Unlock()
			conn, err := p.db.Connx(ctx)
			if err != nil {
				p.mu.Lock()
				p.deficit++
				p.mu.Unlock()
				return nil, fmt.Errorf("%w: %v", ErrConnUnavailable, err)
			}
			return &Lease{pool: p, Conn: conn}, nil
		}
		p.cond.Wait()
	}
}

// WithTx acquires a connection, opens a transaction, and runs fn. The
// transaction is rolled back on error or panic and committed otherwise; the
// connection is released on every exit path.
func (p *Pool) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx, err := lease.Conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *Pool) release(conn *sqlx.Conn) {
	healthy := true
	pingCtx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	if err := conn.PingContext(pingCtx); err != nil {
		healthy = false
	}
	cancel()

	if !healthy {
		_ = conn.Close()
		openCtx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		fresh, err := p.db.Connx(openCtx)
		cancel()
		if err != nil {
			p.logger.Error("failed to replace dead connection", "error", err)
			p.mu.Lock()
			if !p.closed {
				p.deficit++
				p.cond.Signal()
			}
			p.mu.Unlock()
			return
		}
		conn = fresh
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
	p.cond.Signal()
}

// Close drains the pool, wakes blocked acquirers with ErrPoolClosed, and
// refuses further acquisitions.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
	}
	_ = p.db.Close()
}

// Stats reports pool occupancy for the admin endpoint.
func (p *Pool) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"idle":    len(p.idle),
		"deficit": p.deficit,
		"closed":  p.closed,
	}
}
