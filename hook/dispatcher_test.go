package hook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_EmptyChainCallsFinal(t *testing.T) {
	d := NewDispatcher()
	called := false
	err := d.Do("checkout", "payload", func(p any) error {
		called = true
		assert.Equal(t, "payload", p)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDispatcher_FiltersRunInOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string
	require.NoError(t, d.Add("checkout", func(p any, next HandleFunc) error {
		order = append(order, "first")
		return next(p)
	}))
	require.NoError(t, d.Add("checkout", func(p any, next HandleFunc) error {
		order = append(order, "second")
		return next(p)
	}))

	err := d.Do("checkout", nil, func(any) error {
		order = append(order, "final")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "final"}, order)
}

func TestDispatcher_FilterTransformsPayload(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Add("price", func(p any, next HandleFunc) error {
		return next(p.(int) * 2)
	}))

	var got int
	require.NoError(t, d.Do("price", 21, func(p any) error {
		got = p.(int)
		return nil
	}))
	assert.Equal(t, 42, got)
}

func TestDispatcher_FilterShortCircuits(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Add("checkout", func(any, HandleFunc) error {
		return nil // swallow: final never runs
	}))

	finalRan := false
	require.NoError(t, d.Do("checkout", nil, func(any) error {
		finalRan = true
		return nil
	}))
	assert.False(t, finalRan)
}

func TestDispatcher_FilterErrorAborts(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("rejected")
	require.NoError(t, d.Add("checkout", func(any, HandleFunc) error {
		return boom
	}))
	require.NoError(t, d.Add("checkout", func(p any, next HandleFunc) error {
		t.Fatal("second filter must not run")
		return next(p)
	}))

	err := d.Do("checkout", nil, func(any) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_HasAndReset(t *testing.T) {
	d := NewDispatcher()
	assert.False(t, d.Has("checkout"))
	require.NoError(t, d.Add("checkout", func(p any, next HandleFunc) error { return next(p) }))
	assert.True(t, d.Has("checkout"))

	d.Reset("checkout")
	assert.False(t, d.Has("checkout"))

	assert.Error(t, d.Add("checkout", nil))
}
