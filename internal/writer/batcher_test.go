package writer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBatcherFlushesAtSize(t *testing.T) {
	flushed := make(chan []int, 4)
	b := newBatcher[int]("test", 3, time.Hour, func(rows []int) error {
		flushed <- append([]int(nil), rows...)
		return nil
	}, zerolog.Nop())
	go b.run()

	b.enqueue(1)
	b.enqueue(2)
	b.enqueue(3)

	select {
	case rows := <-flushed:
		assert.Equal(t, []int{1, 2, 3}, rows)
	case <-time.After(time.Second):
		t.Fatal("no flush after reaching batch size")
	}

	close(b.ch)
	<-b.done
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	flushed := make(chan []int, 4)
	b := newBatcher[int]("test", 100, 20*time.Millisecond, func(rows []int) error {
		flushed <- append([]int(nil), rows...)
		return nil
	}, zerolog.Nop())
	go b.run()

	b.enqueue(7)

	select {
	case rows := <-flushed:
		assert.Equal(t, []int{7}, rows)
	case <-time.After(time.Second):
		t.Fatal("no flush after the interval elapsed")
	}

	close(b.ch)
	<-b.done
}

func TestBatcherRequeuesFailedBatch(t *testing.T) {
	attempts := make(chan []int, 8)
	failures := 1
	b := newBatcher[int]("test", 2, 15*time.Millisecond, func(rows []int) error {
		attempts <- append([]int(nil), rows...)
		if failures > 0 {
			failures--
			return errors.New("db down")
		}
		return nil
	}, zerolog.Nop())
	go b.run()

	b.enqueue(1)
	b.enqueue(2)

	// first attempt fails at the size trigger, the retry carries the same
	// rows at the head of the buffer
	first := <-attempts
	var second []int
	select {
	case second = <-attempts:
	case <-time.After(time.Second):
		t.Fatal("failed batch was not retried")
	}
	assert.Equal(t, []int{1, 2}, first)
	assert.Equal(t, first, second)

	close(b.ch)
	<-b.done
}

func TestBatcherRecoversBacklog(t *testing.T) {
	var mu sync.Mutex
	var got []int
	fail := true
	flushes := make(chan int, 16)
	b := newBatcher[int]("test", 2, 15*time.Millisecond, func(rows []int) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("db down")
		}
		assert.LessOrEqual(t, len(rows), 2)
		got = append(got, rows...)
		flushes <- len(rows)
		return nil
	}, zerolog.Nop())
	go b.run()

	// rows pile up behind the failing store
	for i := 1; i <= 5; i++ {
		b.enqueue(i)
	}
	mu.Lock()
	fail = false
	mu.Unlock()

	total := 0
	for total < 5 {
		select {
		case n := <-flushes:
			total += n
		case <-time.After(time.Second):
			t.Fatalf("backlog not drained, %d rows flushed", total)
		}
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	mu.Unlock()

	close(b.ch)
	<-b.done
}

func TestBatcherDrainsOnClose(t *testing.T) {
	flushed := make(chan []string, 2)
	b := newBatcher[string]("test", 100, time.Hour, func(rows []string) error {
		flushed <- append([]string(nil), rows...)
		return nil
	}, zerolog.Nop())
	go b.run()

	b.enqueue("a")
	b.enqueue("b")
	close(b.ch)

	select {
	case <-b.done:
	case <-time.After(time.Second):
		t.Fatal("run did not exit after close")
	}
	assert.Equal(t, []string{"a", "b"}, <-flushed)
}
