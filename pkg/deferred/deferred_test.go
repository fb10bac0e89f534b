package deferred

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitResolved polls until d reports a terminal status.
func waitResolved(t *testing.T, d *Deferred) (Status, any, error) {
	t.Helper()
	var (
		st  Status
		v   any
		err error
	)
	require.Eventually(t, func() bool {
		st, v, err = d.State()
		return st != StatusUnset
	}, 2*time.Second, time.Millisecond)
	return st, v, err
}

func TestCallback_Identity(t *testing.T) {
	d := New()
	d.Callback("hello")

	st, v, err := d.State()
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, "hello", v)
	assert.NoError(t, err)
}

func TestChain_Associativity(t *testing.T) {
	double := func(v any) (any, error) { return v.(int) * 2, nil }
	inc := func(v any) (any, error) { return v.(int) + 1, nil }

	d := New()
	tail := d.Next(double).Next(inc)
	d.Callback(10)

	st, v, err := waitResolved(t, tail)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, 21, v)
	assert.NoError(t, err)
}

func TestChain_NestedDeferred(t *testing.T) {
	inner := New()
	d := NewCallback(func(v any) (any, error) {
		// Resolve the inner cell later; the outer tail must wait for it.
		time.AfterFunc(5*time.Millisecond, func() {
			inner.Callback(v.(int) * 2)
		})
		return inner, nil
	})
	tail := d.Next(func(v any) (any, error) { return v.(int) + 1, nil })

	d.Callback(10)

	st, v, _ := waitResolved(t, tail)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, 21, v)

	// The node returning the nested deferred never resolves itself.
	st, _, _ = d.State()
	assert.Equal(t, StatusUnset, st)
}

func TestErrorback_DefaultReRaises(t *testing.T) {
	boom := errors.New("boom")
	d := New()
	var caught error
	tail := d.Next(func(v any) (any, error) { return nil, boom }).
		// This cell keeps the default errorback, which must pass boom on.
		Next(func(v any) (any, error) { return v, nil }).
		NextErrorback(func(err error) (any, error) {
			caught = err
			return "recovered", nil
		}).
		Next(func(v any) (any, error) { return v, nil })

	d.Callback(1)

	st, v, err := waitResolved(t, tail)
	assert.Equal(t, StatusOK, st)
	assert.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, boom, caught)
}

func TestErrorback_SkipsCallbacksOnFailurePath(t *testing.T) {
	boom := errors.New("boom")
	var callbackRan atomic.Bool

	d := New()
	tail := d.Next(func(v any) (any, error) {
		callbackRan.Store(true)
		return v, nil
	})

	d.Errorback(boom)

	st, _, err := waitResolved(t, tail)
	assert.Equal(t, StatusNG, st)
	assert.ErrorIs(t, err, boom)
	assert.False(t, callbackRan.Load())
}

func TestPanicInCallbackBecomesError(t *testing.T) {
	d := NewCallback(func(v any) (any, error) { panic("kaboom") })
	tail := d.Next(func(v any) (any, error) { return v, nil })

	d.Callback(nil)

	st, _, err := waitResolved(t, tail)
	assert.Equal(t, StatusNG, st)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestNext_OnResolvedHeadPropagates(t *testing.T) {
	d := New()
	d.Callback(5)

	st, _, _ := d.State()
	require.Equal(t, StatusOK, st)

	tail := d.Next(func(v any) (any, error) { return v.(int) * 3, nil })

	st, v, _ := waitResolved(t, tail)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, 15, v)

	// The head handed its resolution to the successor.
	st, _, _ = d.State()
	assert.Equal(t, StatusUnset, st)
}

func TestCancel_DropsForwardPropagation(t *testing.T) {
	var ran atomic.Bool
	d := New()
	d.Next(func(v any) (any, error) {
		ran.Store(true)
		return v, nil
	})

	d.Cancel()
	d.Callback(1)

	time.Sleep(20 * time.Millisecond)
	Flush()
	assert.False(t, ran.Load())
}

func TestPost_RunsUnderTick(t *testing.T) {
	var order []string
	var mu sync.Mutex
	d := NewCallback(func(v any) (any, error) {
		mu.Lock()
		order = append(order, "callback")
		mu.Unlock()
		return v, nil
	})

	d.Post(1)
	mu.Lock()
	order = append(order, "after-post")
	mu.Unlock()

	require.Eventually(t, func() bool {
		st, _, _ := d.State()
		return st == StatusOK
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"after-post", "callback"}, order)
}

func TestPostQueue_FIFO(t *testing.T) {
	var got []int
	var mu sync.Mutex
	record := func(n int) *Deferred {
		return NewCallback(func(v any) (any, error) {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			return v, nil
		})
	}

	a, b, c := record(1), record(2), record(3)
	a.Post(nil)
	b.Post(nil)
	c.Post(nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestSerializedExecution(t *testing.T) {
	var active atomic.Int32
	var overlapped atomic.Bool
	var done atomic.Int32

	const n = 50
	for i := 0; i < n; i++ {
		d := NewCallback(func(v any) (any, error) {
			if active.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
			active.Add(-1)
			done.Add(1)
			return v, nil
		})
		go d.Callback(i)
	}

	require.Eventually(t, func() bool {
		return done.Load() == n
	}, 5*time.Second, time.Millisecond)
	assert.False(t, overlapped.Load(), "two transforms ran concurrently")
}

func TestReentrantAPIFromInsideTransform(t *testing.T) {
	// Engine entry points must be callable from inside a running
	// transform without deadlocking.
	inner := New()
	var innerDone atomic.Bool

	d := NewCallback(func(v any) (any, error) {
		inner.Next(func(v any) (any, error) {
			innerDone.Store(true)
			return v, nil
		})
		inner.Callback("nested")
		return v, nil
	})
	d.Callback(1)

	require.Eventually(t, func() bool {
		return innerDone.Load()
	}, 2*time.Second, time.Millisecond)
}
