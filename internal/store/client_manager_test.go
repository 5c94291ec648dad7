package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func countingFactory(n *int64) Factory {
	return func(ctx context.Context) (Client, error) {
		atomic.AddInt64(n, 1)
		return Client{}, nil
	}
}

func TestClientManager_ConnectReturnsLease(t *testing.T) {
	var builds int64
	mgr, err := NewClientManager(context.Background(), countingFactory(&builds), time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, builds)

	lease, err := mgr.Connect(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, mgr.inUse)
	lease.Close()
	require.EqualValues(t, 0, mgr.inUse)
}

func TestClientManager_RestartIfIdle_NoopWhenFresh(t *testing.T) {
	var builds int64
	mgr, err := NewClientManager(context.Background(), countingFactory(&builds), time.Hour)
	require.NoError(t, err)

	require.NoError(t, mgr.RestartIfIdle(context.Background()))
	require.EqualValues(t, 1, builds)
}

func TestClientManager_RestartIfIdle_RebuildsAfterTimeout(t *testing.T) {
	var builds int64
	mgr, err := NewClientManager(context.Background(), countingFactory(&builds), time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mgr.RestartIfIdle(context.Background()))
	require.EqualValues(t, 2, builds)

	lease, err := mgr.Connect(context.Background())
	require.NoError(t, err)
	lease.Close()
}

func TestClientManager_RestartIfIdle_DrainsOutstandingLease(t *testing.T) {
	var builds int64
	mgr, err := NewClientManager(context.Background(), countingFactory(&builds), time.Millisecond)
	require.NoError(t, err)

	lease, err := mgr.Connect(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		_ = mgr.RestartIfIdle(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	lease.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RestartIfIdle did not return after lease closed")
	}
	require.EqualValues(t, 2, builds)
}
