package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestSweeperOutlivesStartupContext(t *testing.T) {
	s := NewSweeper(nil, nil)
	lc := fxtest.NewLifecycle(t)
	StartSweeper(lc, s)

	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, lc.Start(startCtx))
	// fx cancels the startup context once the app is up; the loop must not
	// treat that as shutdown
	cancel()

	select {
	case <-s.done:
		t.Fatal("sweep loop stopped with the startup context")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lc.Stop(context.Background()))
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop on shutdown")
	}
}

func TestNextRunTime(t *testing.T) {
	before := time.Date(2026, 5, 10, 1, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 5, 10, 2, 0, 0, 0, time.UTC), nextRunTime(before, 2, 0))

	after := time.Date(2026, 5, 10, 2, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 5, 11, 2, 0, 0, 0, time.UTC), nextRunTime(after, 2, 0))
}
