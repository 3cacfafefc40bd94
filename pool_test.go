package bhtsne

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_DefaultsToGOMAXPROCS(t *testing.T) {
	assert.Equal(t, runtime.GOMAXPROCS(0), NewPool(0).Workers())
	assert.Equal(t, runtime.GOMAXPROCS(0), NewPool(-3).Workers())
	assert.Equal(t, 3, NewPool(3).Workers())
}

func TestPool_Grain(t *testing.T) {
	p := NewPool(4)
	assert.Equal(t, 25, p.Grain(1000))
	assert.Equal(t, 1, p.Grain(10))
	assert.Equal(t, 1, p.Grain(0))
}

func TestPool_RangeCoversEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 4, 16} {
		for _, grain := range []int{1, 3, 7, 1000} {
			p := NewPool(workers)
			n := 257
			hits := make([]int32, n)
			err := p.Range(0, n, grain, func(lo, hi int) error {
				if workers > 1 {
					assert.LessOrEqual(t, hi-lo, grain)
				}
				for i := lo; i < hi; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
				return nil
			})
			require.NoError(t, err)
			for i, h := range hits {
				assert.Equalf(t, int32(1), h, "workers=%d grain=%d index=%d", workers, grain, i)
			}
		}
	}
}

func TestPool_RangeEmpty(t *testing.T) {
	called := false
	err := NewPool(4).Range(5, 5, 1, func(lo, hi int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestPool_RangePropagatesError(t *testing.T) {
	errBoom := errors.New("boom")
	for _, workers := range []int{1, 4} {
		err := NewPool(workers).Range(0, 100, 5, func(lo, hi int) error {
			if lo <= 42 && 42 < hi {
				return errBoom
			}
			return nil
		})
		assert.ErrorIsf(t, err, errBoom, "workers=%d", workers)
	}
}

func TestPool_RangeRecoversPanic(t *testing.T) {
	for _, workers := range []int{1, 4} {
		err := NewPool(workers).Range(0, 100, 5, func(lo, hi int) error {
			if lo == 0 {
				panic("index out of range")
			}
			return nil
		})
		require.Errorf(t, err, "workers=%d", workers)
		assert.ErrorIs(t, err, ErrTaskPanic)
		assert.Contains(t, err.Error(), "index out of range")
	}
}

func TestPool_ForkRunsBoth(t *testing.T) {
	var left, right atomic.Bool
	err := NewPool(2).Fork(
		func() error { left.Store(true); return nil },
		func() error { right.Store(true); return nil },
	)
	require.NoError(t, err)
	assert.True(t, left.Load())
	assert.True(t, right.Load())
}

func TestPool_ForkSequentialSkipsRightAfterError(t *testing.T) {
	errLeft := errors.New("left")
	rightRan := false
	err := NewPool(1).Fork(
		func() error { return errLeft },
		func() error { rightRan = true; return nil },
	)
	assert.ErrorIs(t, err, errLeft)
	assert.False(t, rightRan)
}

func TestPool_NestedForksDoNotDeadlock(t *testing.T) {
	p := NewPool(2)
	var leaves atomic.Int64
	var recurse func(depth int) error
	recurse = func(depth int) error {
		if depth == 0 {
			leaves.Add(1)
			return nil
		}
		return p.Fork(
			func() error { return recurse(depth - 1) },
			func() error { return recurse(depth - 1) },
		)
	}
	require.NoError(t, recurse(10))
	assert.Equal(t, int64(1024), leaves.Load())
}
