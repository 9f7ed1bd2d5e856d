package dbrouter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/ice-blockchain/go-dbrouter"
)

func TestFuture_Get(t *testing.T) {
	fut := NewFuture[int]()
	assert.True(t, fut.Resolve(2, nil))

	data, err := fut.Get()
	assert.NoError(t, err)
	assert.Equal(t, 2, data)
	assert.NoError(t, fut.Err())
}

func TestFuture_ResolveOnce(t *testing.T) {
	fut := NewFuture[string]()
	assert.True(t, fut.Resolve("first", nil))
	assert.False(t, fut.Resolve("second", errors.New("late")))

	data, err := fut.Get()
	assert.NoError(t, err)
	assert.Equal(t, "first", data)
}

func TestFuture_ErrorDropsValue(t *testing.T) {
	fut := NewFuture[int]()
	expected := errors.New("failed")
	fut.Resolve(5, expected)

	data, err := fut.Get()
	assert.Equal(t, expected, err)
	assert.Zero(t, data)
}

func TestNewErrorFuture(t *testing.T) {
	expected := errors.New("failed")
	fut := NewErrorFuture[[]int](expected)

	select {
	case <-fut.WaitChan():
	default:
		t.Fatal("future is not resolved")
	}
	assert.Equal(t, expected, fut.Err())
}

func TestAsync(t *testing.T) {
	release := make(chan struct{})
	fut := Async(func() (int, error) {
		<-release
		return 7, nil
	})

	select {
	case <-fut.WaitChan():
		t.Fatal("future is resolved too early")
	default:
	}

	close(release)
	data, err := fut.Get()
	assert.NoError(t, err)
	assert.Equal(t, 7, data)
}

func TestFuture_GetContext(t *testing.T) {
	fut := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fut.GetContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fut.Resolve(3, nil)
	data, err := fut.GetContext(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, data)
}

func TestFuture_OnComplete(t *testing.T) {
	fut := NewFuture[int]()
	done := make(chan int, 1)
	fut.OnComplete(func(v int, err error) {
		if err == nil {
			done <- v
		}
	})

	fut.Resolve(4, nil)
	select {
	case v := <-done:
		assert.Equal(t, 4, v)
	case <-time.After(time.Second):
		t.Fatal("OnComplete was not called")
	}

	// Subscribing after resolution still fires.
	late := make(chan struct{})
	fut.OnComplete(func(int, error) { close(late) })
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatal("late OnComplete was not called")
	}
}
