package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Frame int
	Path  string
}

func TestQueue_PushPop(t *testing.T) {
	q := New[row]()
	require.True(t, q.Empty())

	q.Push(row{Frame: 0, Path: "a"}, row{Frame: 1, Path: "b"})
	assert.Equal(t, 2, q.Len())

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 0, first.Frame)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", second.Path)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_Drain(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3, 4, 5)

	assert.Equal(t, []int{1, 2}, q.Drain(2))
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []int{3, 4, 5}, q.Drain(0))
	assert.True(t, q.Empty())
	assert.Empty(t, q.Drain(10))
}

func TestQueue_Requeue(t *testing.T) {
	q := New[int]()
	q.Push(3, 4)

	q.Requeue(1, 2)
	q.Requeue()

	assert.Equal(t, []int{1, 2, 3, 4}, q.Drain(0))
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(base*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
	seen := make(map[int]bool)
	for _, v := range q.Drain(0) {
		seen[v] = true
	}
	assert.Len(t, seen, 1000)
}
