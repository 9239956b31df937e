package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistryRegisterAndLookup(t *testing.T) {
	r := NewMemoryRegistry(time.Minute)
	ctx := context.Background()

	err := r.Register(ctx, &WorkerInfo{
		ID: "runner-1", Service: "runner", Address: "10.0.0.5", Port: 8080, Healthy: true,
	})
	require.NoError(t, err)

	workers, err := r.Lookup(ctx, "runner")
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "http://10.0.0.5:8080", workers[0].URL())

	others, err := r.Lookup(ctx, "evaluator")
	require.NoError(t, err)
	assert.Empty(t, others, "foreign service lookup must be empty")
}

func TestMemoryRegistryRejectsIncomplete(t *testing.T) {
	r := NewMemoryRegistry(time.Minute)
	assert.Error(t, r.Register(context.Background(), &WorkerInfo{ID: "x"}),
		"registration without service must fail")
	assert.Error(t, r.Register(context.Background(), &WorkerInfo{Service: "runner"}),
		"registration without id must fail")
}

func TestMemoryRegistryExpiry(t *testing.T) {
	r := NewMemoryRegistry(10 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &WorkerInfo{ID: "w1", Service: "runner"}))

	time.Sleep(20 * time.Millisecond)
	workers, err := r.Lookup(ctx, "runner")
	require.NoError(t, err)
	assert.Empty(t, workers, "expired worker must be invisible")

	// A heartbeat revives the entry.
	require.NoError(t, r.Heartbeat(ctx, "w1"))
	workers, err = r.Lookup(ctx, "runner")
	require.NoError(t, err)
	assert.Len(t, workers, 1, "heartbeat must refresh the entry")
}

func TestMemoryRegistryHeartbeatUnknown(t *testing.T) {
	r := NewMemoryRegistry(time.Minute)
	assert.Error(t, r.Heartbeat(context.Background(), "ghost"))
}

func TestMemoryRegistryUnregister(t *testing.T) {
	r := NewMemoryRegistry(time.Minute)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &WorkerInfo{ID: "w1", Service: "runner"}))
	require.NoError(t, r.Unregister(ctx, "w1"))

	workers, err := r.Lookup(ctx, "runner")
	require.NoError(t, err)
	assert.Empty(t, workers, "unregistered worker must be invisible")
}
