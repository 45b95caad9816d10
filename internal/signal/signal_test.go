package signal

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCancelsOnSignal(t *testing.T) {
	exited := make(chan struct{})
	ctx := watch(context.Background(), 10*time.Millisecond, func() { close(exited) }, syscall.SIGUSR1)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled")
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("force exit not triggered")
	}
}

func TestWatchStopsWithParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := watch(parent, time.Millisecond, func() { t.Error("unexpected exit") }, syscall.SIGUSR2)

	cancel()
	<-ctx.Done()
	assert.Error(t, ctx.Err())
}
