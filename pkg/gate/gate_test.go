package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitUntilReadyFiresExactlyOnce(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	reg.WaitUntilReady(ctx, []string{"a", "b"}, func() { fired.Add(1) })

	time.Sleep(250 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())

	reg.MarkReady("a")
	reg.MarkReady("b")
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 10*time.Millisecond)

	// readiness is sticky; no further invocations
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

func TestWaitUntilReadyIsIdempotentAcrossCalls(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	reg.WaitUntilReady(ctx, []string{"x"}, func() { fired.Add(1) })
	reg.WaitUntilReady(ctx, []string{"x"}, func() { fired.Add(1) })

	reg.MarkReady("x")
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestWaitUntilReadyStopsOnCancel(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	var fired atomic.Int32
	reg.WaitUntilReady(ctx, []string{"never"}, func() { fired.Add(1) })
	cancel()

	time.Sleep(250 * time.Millisecond)
	reg.MarkReady("never")
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestSchedulerStartsInDependencyOrder(t *testing.T) {
	reg := NewRegistry()
	sched := NewScheduler(reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	order := make(chan string, 3)
	sched.Register("c", []string{"b"}, func(context.Context) { order <- "c" })
	sched.Register("b", []string{"a"}, func(context.Context) { order <- "b" })
	sched.Register("a", nil, func(context.Context) { order <- "a" })
	sched.Run(ctx)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case name := <-order:
			got = append(got, name)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for component %d", i)
		}
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSchedulerBlocksOnMissingDependency(t *testing.T) {
	reg := NewRegistry()
	sched := NewScheduler(reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 1)
	sched.Register("waiter", []string{"external"}, func(context.Context) { started <- struct{}{} })
	sched.Run(ctx)

	select {
	case <-started:
		t.Fatal("component started before its dependency was ready")
	case <-time.After(200 * time.Millisecond):
	}

	reg.MarkReady("external")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("component did not start after dependency became ready")
	}
}
