package mainloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestLoopRunsInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 20; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestLoopPostFromCallback(t *testing.T) {
	l := startLoop(t)

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("bad callback") })

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopStop(t *testing.T) {
	l := New(0)
	go l.Run(context.Background())

	l.Stop()
	l.Stop()
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)

	select {
	case <-l.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestLoopContextCancel(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(exited)
	}()
	cancel()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, l.Post(func() {}))
}
