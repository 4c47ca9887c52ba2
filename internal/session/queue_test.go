package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("preserves order and loses nothing", func(t *testing.T) {
		q := newQueue[int]()
		for i := 0; i < 1000; i++ {
			require.True(t, q.push(i))
		}

		select {
		case <-q.ready():
		default:
			t.Fatal("signal MUST be pending after a push")
		}

		items := q.drain()
		require.Len(t, items, 1000)
		for i, v := range items {
			assert.Equal(t, i, v)
		}
		assert.Empty(t, q.drain())
	})

	t.Run("wakes a waiting consumer for concurrent producers", func(t *testing.T) {
		q := newQueue[int]()
		const producers, perProducer = 8, 100

		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					q.push(i)
				}
			}()
		}

		got := 0
		deadline := time.After(2 * time.Second)
		for got < producers*perProducer {
			select {
			case <-q.ready():
				got += len(q.drain())
			case <-deadline:
				t.Fatalf("consumer MUST receive every item, got %d", got)
			}
		}
		wg.Wait()
	})

	t.Run("rejects pushes after close", func(t *testing.T) {
		q := newQueue[string]()
		q.close()
		assert.False(t, q.push("late"))
		assert.Empty(t, q.drain())
	})
}
