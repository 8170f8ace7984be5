package notify_test

import (
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_OrderAndUnsubscribe(t *testing.T) {
	d := notify.New[int]("test", zerolog.Nop())

	var got []int
	unsubscribe := d.Subscribe(func(v int) { got = append(got, v) })

	for i := 1; i <= 5; i++ {
		d.Publish(i)
	}
	require.Equal(t, []int{1, 2, 3, 4, 5}, got)

	unsubscribe()
	unsubscribe()
	d.Publish(6)
	require.Equal(t, []int{1, 2, 3, 4, 5}, got)
	require.Equal(t, 0, d.Len())
}

func TestDispatcher_PanickingListenerIsIsolated(t *testing.T) {
	d := notify.New[string]("test", zerolog.Nop())

	var got []string
	d.Subscribe(func(string) { panic("boom") })
	d.Subscribe(func(v string) { got = append(got, v) })

	require.NotPanics(t, func() { d.Publish("a") })
	d.Publish("b")
	require.Equal(t, []string{"a", "b"}, got)
}

func TestDispatcher_ReentrantPublishIsQueued(t *testing.T) {
	d := notify.New[int]("test", zerolog.Nop())

	var got []int
	d.Subscribe(func(v int) {
		got = append(got, v)
		if v == 1 {
			d.Publish(2)
			// 2 must not have been delivered inside the round for 1
			require.Equal(t, []int{1}, got)
		}
	})
	d.Publish(1)
	require.Equal(t, []int{1, 2}, got)
}

func TestDispatcher_ClearStopsDelivery(t *testing.T) {
	d := notify.New[int]("test", zerolog.Nop())

	calls := 0
	d.Subscribe(func(int) {
		calls++
		d.Clear()
	})
	d.Subscribe(func(int) { calls += 100 })

	d.Publish(1)
	require.Equal(t, 1, calls)
}

func TestDispatcher_ConcurrentPublishersDeliverEverything(t *testing.T) {
	d := notify.New[int]("test", zerolog.Nop())

	var mu sync.Mutex
	seen := make(map[int]int)
	d.Subscribe(func(v int) {
		mu.Lock()
		seen[v]++
		mu.Unlock()
	})

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(v int) {
			defer wg.Done()
			d.Publish(v)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, n)
	for v, count := range seen {
		require.Equal(t, 1, count, "value %d delivered %d times", v, count)
	}
}

func TestDispatcher_SubscribeSkipsAlreadyQueuedValues(t *testing.T) {
	d := notify.New[int]("test", zerolog.Nop())

	var early, late []int
	d.Subscribe(func(v int) { early = append(early, v) })
	d.Enqueue(1)
	d.Subscribe(func(v int) { late = append(late, v) })
	d.Enqueue(2)
	d.Drain()

	require.Equal(t, []int{1, 2}, early)
	require.Equal(t, []int{2}, late)
}

func TestDispatcher_SubscribeWithDeliversInitialFirst(t *testing.T) {
	d := notify.New[string]("test", zerolog.Nop())

	var other, got []string
	d.Subscribe(func(v string) { other = append(other, v) })
	d.Enqueue("old")
	d.SubscribeWith("initial", func(v string) { got = append(got, v) })
	d.Enqueue("next")
	d.Drain()

	require.Equal(t, []string{"initial", "next"}, got)
	require.Equal(t, []string{"old", "next"}, other)
}

func TestDispatcher_SubscribeWithFromListener(t *testing.T) {
	d := notify.New[int]("test", zerolog.Nop())

	var inner []int
	d.Subscribe(func(v int) {
		if v == 1 {
			d.SubscribeWith(100, func(v int) { inner = append(inner, v) })
			d.Drain()
			require.Empty(t, inner)
		}
	})
	d.Publish(1)
	d.Publish(2)
	require.Equal(t, []int{100, 2}, inner)
}
