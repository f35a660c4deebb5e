package storage

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver for file-backed databases
	"github.com/tursodatabase/go-libsql"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/config"
)

// idleFloor is the number of idle connections the reaper always leaves
// alone, so the pool shrinks after bursts without thrashing.
const idleFloor = 2

// sessionPragmas are applied once per connection on open.
var sessionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = memory",
	"PRAGMA busy_timeout = 5000",
}

// Conn is a single pooled database connection. Each Conn owns a dedicated
// *sql.DB capped at one underlying connection, so statement execution on a
// Conn is serialized.
type Conn struct {
	id       int
	db       *sql.DB
	lastUsed time.Time
}

// DB returns the connection's database handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// ID returns the connection's pool-local identifier.
func (c *Conn) ID() int {
	return c.id
}

// ping runs the health probe.
func (c *Conn) ping(ctx context.Context) error {
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

func (c *Conn) close() error {
	return c.db.Close()
}

// WithTransaction runs fn inside BEGIN/COMMIT, rolling back if fn returns
// an error or panics.
func (c *Conn) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	ActiveConnections int `json:"active_connections"`
	IdleConnections   int `json:"idle_connections"`
	TotalConnections  int `json:"total_connections"`
	MaxConnections    int `json:"max_connections"`
	WaitingRequests   int `json:"waiting_requests"`
}

type waiter struct {
	ch     chan *Conn
	served bool
}

// Pool owns a bounded set of connections to one file-backed or remote SQL
// endpoint. Checkout is FIFO-fair under saturation; idle connections are
// health-probed on reuse and reaped after bursts.
type Pool struct {
	config config.DatabaseConfig
	logger *zap.Logger

	mu           sync.Mutex
	idle         []*Conn // idle[0] is the oldest
	active       map[*Conn]struct{}
	waiters      *list.List // of *waiter, FIFO
	total        int
	connSeq      int
	shuttingDown bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewPool creates a pool for the configured endpoint and starts the idle
// reaper. No connections are opened until the first checkout.
func NewPool(cfg config.DatabaseConfig, logger *zap.Logger) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = 10 * time.Second
	}

	p := &Pool{
		config:     cfg,
		logger:     logger,
		active:     make(map[*Conn]struct{}),
		waiters:    list.New(),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	go p.reaper()

	return p
}

// open dials a new connection and applies the session pragmas.
func (p *Pool) open(ctx context.Context) (*Conn, error) {
	db, local, err := openDB(p.config)
	if err != nil {
		return nil, err
	}

	// A Conn is one logical connection; the handle must never fan out.
	db.SetMaxOpenConns(1)

	for _, pragma := range sessionPragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			if local {
				db.Close()
				return nil, fmt.Errorf("applying %q: %w", pragma, err)
			}
			// Remote endpoints manage their own durability settings.
			p.logger.Debug("session pragma not applied",
				zap.String("pragma", pragma),
				zap.Error(err),
			)
		}
	}

	p.mu.Lock()
	p.connSeq++
	id := p.connSeq
	p.mu.Unlock()

	c := &Conn{id: id, db: db, lastUsed: time.Now()}

	if err := c.ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	p.logger.Debug("connection opened", zap.Int("conn_id", id))
	return c, nil
}

// openDB selects a driver for the configured URL. Returns whether the
// database is local (file-backed), which controls pragma strictness.
func openDB(cfg config.DatabaseConfig) (*sql.DB, bool, error) {
	url := cfg.URL

	switch {
	case cfg.SyncURL != "":
		// Embedded replica: local file synced against a remote primary.
		path := strings.TrimPrefix(url, "file:")
		opts := []libsql.Option{}
		if cfg.AuthToken != "" {
			opts = append(opts, libsql.WithAuthToken(cfg.AuthToken))
		}
		if cfg.EncryptionKey != "" {
			opts = append(opts, libsql.WithEncryption(cfg.EncryptionKey))
		}
		connector, err := libsql.NewEmbeddedReplicaConnector(path, cfg.SyncURL, opts...)
		if err != nil {
			return nil, false, fmt.Errorf("opening embedded replica: %w", err)
		}
		return sql.OpenDB(connector), true, nil

	case strings.HasPrefix(url, "libsql://"),
		strings.HasPrefix(url, "wss://"),
		strings.HasPrefix(url, "https://"):
		dsn := url
		if cfg.AuthToken != "" {
			dsn += "?authToken=" + cfg.AuthToken
		}
		db, err := sql.Open("libsql", dsn)
		if err != nil {
			return nil, false, fmt.Errorf("opening remote database: %w", err)
		}
		return db, false, nil

	default:
		path := strings.TrimPrefix(url, "file:")
		if path == ":memory:" {
			// A shared cache keeps every pooled connection on the same
			// in-memory database.
			path = "file::memory:?cache=shared"
		}
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, false, fmt.Errorf("opening database: %w", err)
		}
		return db, true, nil
	}
}

// Get checks out a connection. Idle connections are health-probed and
// replaced transparently on probe failure; when the pool is saturated the
// caller joins a FIFO waiter queue bounded by the checkout timeout.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	for {
		p.mu.Lock()
		if p.shuttingDown {
			p.mu.Unlock()
			return nil, ErrPoolShuttingDown
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.active[c] = struct{}{}
			p.mu.Unlock()

			if err := c.ping(ctx); err != nil {
				p.logger.Warn("unhealthy idle connection replaced",
					zap.Int("conn_id", c.id),
					zap.Error(err),
				)
				p.discard(c)
				continue
			}
			return c, nil
		}

		if p.total < p.config.MaxConnections {
			// Reserve the slot before dialing so concurrent checkouts
			// cannot overshoot MaxConnections.
			p.total++
			p.mu.Unlock()

			c, err := p.open(ctx)
			if err != nil {
				p.mu.Lock()
				if !p.shuttingDown {
					p.total--
				}
				p.mu.Unlock()
				return nil, err
			}

			p.mu.Lock()
			if p.shuttingDown {
				p.mu.Unlock()
				c.close() //nolint:errcheck
				return nil, ErrPoolShuttingDown
			}
			p.active[c] = struct{}{}
			p.mu.Unlock()
			return c, nil
		}

		w := &waiter{ch: make(chan *Conn, 1)}
		elem := p.waiters.PushBack(w)
		p.mu.Unlock()

		timer := time.NewTimer(p.config.CheckoutTimeout)
		select {
		case c := <-w.ch:
			timer.Stop()
			if c == nil {
				return nil, ErrPoolShuttingDown
			}
			return c, nil

		case <-timer.C:
			p.mu.Lock()
			if w.served {
				// Lost the race: a release handed us a connection as the
				// timer fired. Put it back and still report the timeout.
				p.mu.Unlock()
				c := <-w.ch
				if c != nil {
					p.Release(c)
				}
				return nil, ErrCheckoutTimeout
			}
			p.waiters.Remove(elem)
			p.mu.Unlock()
			return nil, ErrCheckoutTimeout

		case <-ctx.Done():
			timer.Stop()
			p.mu.Lock()
			if w.served {
				p.mu.Unlock()
				c := <-w.ch
				if c != nil {
					p.Release(c)
				}
				return nil, ctx.Err()
			}
			p.waiters.Remove(elem)
			p.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// Release returns a checked-out connection to the pool. If a waiter is
// queued the connection is handed to the head of the queue directly and
// stays active.
func (p *Pool) Release(c *Conn) {
	p.mu.Lock()

	if _, ok := p.active[c]; !ok {
		p.mu.Unlock()
		p.logger.Warn("release of unknown connection ignored", zap.Int("conn_id", c.id))
		return
	}

	if p.shuttingDown {
		delete(p.active, c)
		p.total--
		p.mu.Unlock()
		if err := c.close(); err != nil {
			p.logger.Warn("closing connection", zap.Int("conn_id", c.id), zap.Error(err))
		}
		return
	}

	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter)
		w.served = true
		// The connection stays in the active set; ownership transfers to
		// the waiter.
		p.mu.Unlock()
		w.ch <- c
		return
	}

	delete(p.active, c)
	c.lastUsed = time.Now()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// discard drops a connection from the pool entirely (probe failure).
func (p *Pool) discard(c *Conn) {
	p.mu.Lock()
	if _, ok := p.active[c]; ok {
		delete(p.active, c)
		p.total--
	}
	p.mu.Unlock()

	if err := c.close(); err != nil {
		p.logger.Warn("closing unhealthy connection", zap.Int("conn_id", c.id), zap.Error(err))
	}
}

// WithConnection checks out a connection, runs op, and releases the
// connection on every exit path.
func (p *Pool) WithConnection(ctx context.Context, op func(c *Conn) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)

	return op(c)
}

// reaper periodically closes idle connections in excess of the floor.
func (p *Pool) reaper() {
	defer close(p.reaperDone)

	interval := p.config.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.reaperStop:
			return
		}
	}
}

// reapIdle closes connections that have sat idle past the timeout, always
// leaving idleFloor connections behind. Active connections are never
// touched.
func (p *Pool) reapIdle() {
	var victims []*Conn

	p.mu.Lock()
	now := time.Now()
	for len(p.idle) > idleFloor && now.Sub(p.idle[0].lastUsed) > p.config.IdleTimeout {
		victims = append(victims, p.idle[0])
		p.idle = p.idle[1:]
		p.total--
	}
	p.mu.Unlock()

	for _, c := range victims {
		if err := c.close(); err != nil {
			p.logger.Warn("closing idle connection", zap.Int("conn_id", c.id), zap.Error(err))
		}
		p.logger.Debug("idle connection reaped", zap.Int("conn_id", c.id))
	}
}

// Shutdown stops the reaper, rejects all queued waiters, and closes every
// connection, idle and active. It is idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil
	}
	p.shuttingDown = true

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		w := elem.Value.(*waiter)
		w.served = true
		w.ch <- nil
	}
	p.waiters.Init()

	victims := make([]*Conn, 0, len(p.idle)+len(p.active))
	victims = append(victims, p.idle...)
	for c := range p.active {
		victims = append(victims, c)
	}
	p.idle = nil
	p.active = make(map[*Conn]struct{})
	p.total = 0
	p.mu.Unlock()

	close(p.reaperStop)
	select {
	case <-p.reaperDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, c := range victims {
		if err := c.close(); err != nil {
			p.logger.Warn("closing connection during shutdown",
				zap.Int("conn_id", c.id),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("connection pool shut down", zap.Int("closed", len(victims)))
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		ActiveConnections: len(p.active),
		IdleConnections:   len(p.idle),
		TotalConnections:  p.total,
		MaxConnections:    p.config.MaxConnections,
		WaitingRequests:   p.waiters.Len(),
	}
}
