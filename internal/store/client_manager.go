// Package store manages the lifecycle of the retrieval backend connection
// a Tree's tools borrow from, mirroring the restart-on-idle, ref-counted
// lease behaviour of original_source/elysia/util/client.py's ClientManager.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/elysia-go/elysiatree/internal/persistence/databases"
)

// maxRestartWait bounds how long RestartIfIdle waits for in-flight leases to
// drain before forcing the restart through anyway, matching the original's
// 10-second max_wait_time.
const maxRestartWait = 10 * time.Second

const restartPollInterval = 100 * time.Millisecond

// Client is the connection a Lease hands out: a vector-search arm and a
// keyword-search arm, both backed by the same underlying connection.
type Client struct {
	Vector databases.VectorStore
	Search databases.FullTextSearch
}

// Factory builds a fresh Client, called once at construction and again on
// every restart.
type Factory func(ctx context.Context) (Client, error)

// Lease is a ref-counted borrow of the current Client. Callers must Close it
// exactly once, typically via defer, so RestartIfIdle can know when it is
// safe to swap the underlying connection out.
type Lease struct {
	mgr    *ClientManager
	Client Client
}

// Close releases this lease's hold on the manager's in-use counter.
func (l *Lease) Close() {
	atomic.AddInt64(&l.mgr.inUse, -1)
}

// ClientManager hands out leases on a shared Client and restarts it once it
// has sat idle past timeout. One restart runs at a time; callers that ask
// for a lease while a restart is in flight simply wait for it to finish.
type ClientManager struct {
	newClient Factory
	timeout   time.Duration

	mu       sync.Mutex
	client   Client
	lastUsed time.Time
	ready    chan struct{}

	inUse int64

	restartGate *semaphore.Weighted
}

// NewClientManager builds a manager around an initial Client produced by
// factory. The returned manager is immediately ready to lease.
func NewClientManager(ctx context.Context, factory Factory, timeout time.Duration) (*ClientManager, error) {
	c, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	ready := make(chan struct{})
	close(ready)
	return &ClientManager{
		newClient:   factory,
		timeout:     timeout,
		client:      c,
		lastUsed:    time.Now(),
		ready:       ready,
		restartGate: semaphore.NewWeighted(1),
	}, nil
}

// Connect waits for any in-flight restart to finish, then returns a leased
// Client. The caller must Close the lease when done.
func (m *ClientManager) Connect(ctx context.Context) (*Lease, error) {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	atomic.AddInt64(&m.inUse, 1)

	m.mu.Lock()
	m.lastUsed = time.Now()
	client := m.client
	m.mu.Unlock()

	return &Lease{mgr: m, Client: client}, nil
}

// RestartIfIdle replaces the underlying Client if it has not been leased
// within timeout. It waits up to maxRestartWait for outstanding leases to
// drain, resetting its patience whenever the outstanding count changes, and
// force-restarts anyway if the wait expires — matching restart_client's
// "whether we timed out or not, we need to restart the client" behaviour.
func (m *ClientManager) RestartIfIdle(ctx context.Context) error {
	m.mu.Lock()
	idle := time.Since(m.lastUsed) > m.timeout
	m.mu.Unlock()
	if !idle {
		return nil
	}

	if err := m.restartGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.restartGate.Release(1)

	// Re-check under the gate: another goroutine may have just restarted.
	m.mu.Lock()
	idle = time.Since(m.lastUsed) > m.timeout
	if !idle {
		m.mu.Unlock()
		return nil
	}
	notReady := make(chan struct{})
	oldReady := m.ready
	m.ready = notReady
	m.mu.Unlock()
	_ = oldReady // the previous ready gate is superseded; no waiters reference it once swapped

	m.drainLeases(ctx)

	newClient, err := m.newClient(ctx)
	if err != nil {
		close(notReady)
		return err
	}

	m.mu.Lock()
	m.client = newClient
	m.lastUsed = time.Now()
	m.mu.Unlock()
	close(notReady)
	return nil
}

// drainLeases waits for the in-use counter to reach zero, bounded by
// maxRestartWait, restarting its patience clock whenever the counter moves.
func (m *ClientManager) drainLeases(ctx context.Context) {
	last := atomic.LoadInt64(&m.inUse)
	if last <= 0 {
		return
	}
	deadline := time.Now().Add(maxRestartWait)
	ticker := time.NewTicker(restartPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := atomic.LoadInt64(&m.inUse)
			if cur <= 0 {
				return
			}
			if cur != last {
				last = cur
				deadline = time.Now().Add(maxRestartWait)
			}
			if time.Now().After(deadline) {
				return
			}
		}
	}
}
