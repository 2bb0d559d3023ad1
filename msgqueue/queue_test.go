package msgqueue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avtranscode/types"
)

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelTrace)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

func TestQueueOrdering(t *testing.T) {
	ctx := testCtx(t)

	for _, capacity := range []int{1, 3, 8} {
		t.Run("", func(t *testing.T) {
			q, err := New[int](capacity, nil)
			require.NoError(t, err)

			const count = 1000
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < count; i++ {
					require.NoError(t, q.Send(ctx, i, true))
				}
				q.SetErrRecv(ctx, io.EOF)
			}()

			var got []int
			for {
				v, err := q.Recv(ctx, true)
				if err != nil {
					require.ErrorIs(t, err, io.EOF)
					break
				}
				got = append(got, v)
			}
			wg.Wait()

			require.Len(t, got, count)
			for i, v := range got {
				require.Equal(t, i, v)
			}
		})
	}
}

func TestQueueDrainBeforeError(t *testing.T) {
	ctx := testCtx(t)

	q, err := New[string](4, nil)
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, s, false))
	}
	q.SetErrRecv(ctx, io.EOF)
	q.SetErrRecv(ctx, errors.New("ignored: the first error wins"))

	for _, want := range []string{"a", "b", "c"} {
		v, err := q.Recv(ctx, false)
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	for i := 0; i < 2; i++ {
		_, err = q.Recv(ctx, true)
		require.ErrorIs(t, err, io.EOF)
	}
}

func TestQueueConcurrentShutdown(t *testing.T) {
	ctx := testCtx(t)

	q, err := New[int](2, nil)
	require.NoError(t, err)

	var sent []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			if err := q.Send(ctx, i, true); err != nil {
				require.ErrorIs(t, err, io.ErrClosedPipe)
				q.SetErrRecv(ctx, io.EOF)
				return
			}
			sent = append(sent, i)
		}
	}()

	var got []int
	for len(got) < 10 {
		v, err := q.Recv(ctx, true)
		require.NoError(t, err)
		got = append(got, v)
	}
	q.SetErrSend(ctx, io.ErrClosedPipe)
	for {
		v, err := q.Recv(ctx, true)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, v)
	}
	<-done

	require.Equal(t, sent, got)
}

func TestQueueNonBlocking(t *testing.T) {
	ctx := testCtx(t)

	q, err := New[int](1, nil)
	require.NoError(t, err)

	_, err = q.Recv(ctx, false)
	require.ErrorIs(t, err, types.ErrWouldBlock)

	require.NoError(t, q.Send(ctx, 1, false))
	require.ErrorIs(t, q.Send(ctx, 2, false), types.ErrWouldBlock)
	require.Equal(t, 1, q.Len(ctx))

	q.SetErrSend(ctx, io.EOF)
	require.ErrorIs(t, q.Send(ctx, 3, true), io.EOF)

	v, err := q.Recv(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestQueueFree(t *testing.T) {
	ctx := testCtx(t)

	var freed []int
	q, err := New[int](4, func(v int) { freed = append(freed, v) })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Send(ctx, i, true))
	}
	q.Free(ctx)
	require.Equal(t, []int{0, 1, 2}, freed)
	require.ErrorIs(t, q.Send(ctx, 5, true), ErrFreed)
	_, err = q.Recv(ctx, true)
	require.ErrorIs(t, err, ErrFreed)
}

func TestQueueInvalidCapacity(t *testing.T) {
	_, err := New[int](0, nil)
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	require.ErrorAs(t, err, &types.ErrOutOfMemory{})
}

func TestQueueRecvMatching(t *testing.T) {
	ctx := testCtx(t)

	isOdd := func(v int) bool { return v%2 == 1 }

	q, err := New[int](4, nil)
	require.NoError(t, err)

	for _, v := range []int{0, 2, 3} {
		require.NoError(t, q.Send(ctx, v, false))
	}
	v, err := q.RecvMatching(ctx, false, isOdd)
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = q.RecvMatching(ctx, false, isOdd)
	require.ErrorIs(t, err, types.ErrWouldBlock)

	got := make(chan int, 1)
	go func() {
		v, err := q.RecvMatching(ctx, true, isOdd)
		require.NoError(t, err)
		got <- v
	}()
	require.NoError(t, q.Send(ctx, 4, true))
	select {
	case v := <-got:
		t.Fatalf("received %d while waiting for an odd value", v)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, q.Send(ctx, 5, true))
	require.Equal(t, 5, <-got)

	for _, want := range []int{0, 2, 4} {
		v, err := q.Recv(ctx, false)
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
}

func TestQueueRecvMatchingFallback(t *testing.T) {
	ctx := testCtx(t)

	never := func(int) bool { return false }

	t.Run("full", func(t *testing.T) {
		q, err := New[int](2, nil)
		require.NoError(t, err)
		require.NoError(t, q.Send(ctx, 1, false))
		require.NoError(t, q.Send(ctx, 2, false))

		v, err := q.RecvMatching(ctx, true, never)
		require.NoError(t, err)
		require.Equal(t, 1, v)
	})

	t.Run("closed", func(t *testing.T) {
		q, err := New[int](2, nil)
		require.NoError(t, err)
		require.NoError(t, q.Send(ctx, 1, false))
		q.SetErrRecv(ctx, io.EOF)

		v, err := q.RecvMatching(ctx, true, never)
		require.NoError(t, err)
		require.Equal(t, 1, v)

		_, err = q.RecvMatching(ctx, true, never)
		require.ErrorIs(t, err, io.EOF)
	})
}
