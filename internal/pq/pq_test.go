package pq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByTimeThenSequence(t *testing.T) {
	q := New[string]()
	q.Add("c", 5)
	q.Add("a", 3)
	q.Add("b", 3)

	got := q.Pop(5)
	require.Equal(t, []string{"a", "b", "c"}, got, "equal-time entries must come out in insertion order")
}

func TestQueuePopOnlyDueEntries(t *testing.T) {
	q := New[int]()
	q.Add(1, 10)
	q.Add(2, 20)
	q.Add(3, 15)

	got := q.Pop(15)
	require.Equal(t, []int{1, 3}, got)
	require.Equal(t, 1, q.Len())

	rest := q.Pop(20)
	require.Equal(t, []int{2}, rest)
	require.Equal(t, 0, q.Len())
}

func TestQueuePeekEmpty(t *testing.T) {
	q := New[int]()
	_, ok := q.Peek()
	require.False(t, ok, "Peek() on empty queue")
	require.Nil(t, q.Pop(100))
}

func TestQueuePeekReturnsEarliestTime(t *testing.T) {
	q := New[int]()
	q.Add(1, 50)
	q.Add(2, 10)
	q.Add(3, 30)

	tm, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, Time(10), tm)
}
