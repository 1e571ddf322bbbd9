package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox[int]()
	for i := 0; i < 100; i++ {
		m.Push(i)
	}
	assert.Equal(t, 100, m.Size())

	for i := 0; i < 100; i++ {
		v, ok := m.PopFront()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := m.PopFront()
	assert.False(t, ok)
	assert.Zero(t, m.Size())
}

func TestMailboxRemove(t *testing.T) {
	m := NewMailbox[string]()
	m.Push("a")
	m.Push("b")
	m.Push("c")

	assert.True(t, m.Remove("b"))
	assert.False(t, m.Remove("b"))
	assert.False(t, m.Remove("x"))

	assert.False(t, m.RemoveFront("c"))
	assert.True(t, m.RemoveFront("a"))
	assert.Equal(t, []string{"c"}, m.Drain())
	assert.Zero(t, m.Size())
}

func TestMailboxDrain(t *testing.T) {
	m := NewMailbox[int]()
	assert.Empty(t, m.Drain())

	for i := 0; i < 50; i++ {
		m.Push(i)
	}
	for i := 0; i < 40; i++ {
		_, _ = m.PopFront()
	}

	assert.Equal(t, []int{40, 41, 42, 43, 44, 45, 46, 47, 48, 49}, m.Drain())
	_, ok := m.PopFront()
	assert.False(t, ok)
}

func TestMailboxTake(t *testing.T) {
	m := NewMailbox[int]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Push(7)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := m.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMailboxTakeCancelled(t *testing.T) {
	m := NewMailbox[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxConcurrentPushPop(t *testing.T) {
	const producers = 8
	const perProducer = 500

	m := NewMailbox[int]()
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				m.Push(i)
			}
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := 0
	for received < producers*perProducer {
		_, err := m.Take(ctx)
		require.NoError(t, err)
		received++
	}

	require.NoError(t, g.Wait())
	assert.Zero(t, m.Size())
}
