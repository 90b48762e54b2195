package router

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFeed_BasicPublishReceive(t *testing.T) {
	feed := NewFeed[int](10)

	for i := 0; i < 5; i++ {
		if !feed.Publish(i) {
			t.Fatalf("Publish(%d) returned false", i)
		}
	}

	if feed.Len() != 5 {
		t.Errorf("Len() = %d, want 5", feed.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := feed.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := feed.TryReceive(); ok {
		t.Error("TryReceive() on empty feed returned true")
	}
}

func TestFeed_DropsOldestWhenFull(t *testing.T) {
	feed := NewFeed[int](4)

	for i := 0; i < 10; i++ {
		feed.Publish(i)
	}

	stats := feed.Stats()
	if stats.Count != 4 || stats.Capacity != 4 {
		t.Errorf("Count/Capacity = %d/%d, want 4/4", stats.Count, stats.Capacity)
	}
	if stats.Dropped != 6 {
		t.Errorf("Dropped = %d, want 6", stats.Dropped)
	}
	if stats.Published != 10 {
		t.Errorf("Published = %d, want 10", stats.Published)
	}

	// The newest four survive, in order.
	items := feed.DrainTo(0)
	for i, want := range []int{6, 7, 8, 9} {
		if items[i] != want {
			t.Errorf("items[%d] = %d, want %d", i, items[i], want)
		}
	}
}

func TestFeed_BlockingReceive(t *testing.T) {
	feed := NewFeed[int](10)

	received := make(chan int, 1)

	go func() {
		val, ok := feed.Receive(context.Background())
		if ok {
			received <- val
		}
	}()

	// Give receiver time to start waiting
	time.Sleep(10 * time.Millisecond)

	feed.Publish(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestFeed_ReceiveHonoursContext(t *testing.T) {
	feed := NewFeed[int](10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := feed.Receive(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when ctx is done")
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock Receive")
	}
}

func TestFeed_Close(t *testing.T) {
	feed := NewFeed[int](10)

	feed.Publish(1)
	feed.Publish(2)
	feed.Close()

	if feed.Publish(3) {
		t.Error("Publish should return false after Close")
	}

	// Can still receive existing items
	for _, want := range []int{1, 2} {
		val, ok := feed.Receive(context.Background())
		if !ok || val != want {
			t.Errorf("Receive() = %d, %v; want %d, true", val, ok, want)
		}
	}

	if _, ok := feed.Receive(context.Background()); ok {
		t.Error("Receive should return false when empty and closed")
	}
}

func TestFeed_CloseUnblocksReceive(t *testing.T) {
	feed := NewFeed[int](10)

	done := make(chan bool, 1)
	go func() {
		_, ok := feed.Receive(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	feed.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Receive")
	}
}

func TestFeed_DrainTo(t *testing.T) {
	feed := NewFeed[int](10)

	for i := 0; i < 10; i++ {
		feed.Publish(i)
	}

	items := feed.DrainTo(5)
	if len(items) != 5 {
		t.Errorf("DrainTo(5) returned %d items, want 5", len(items))
	}
	for i, val := range items {
		if val != i {
			t.Errorf("items[%d] = %d, want %d", i, val, i)
		}
	}

	items = feed.DrainTo(0) // 0 means all
	if len(items) != 5 {
		t.Errorf("DrainTo(0) returned %d items, want 5", len(items))
	}
	if feed.DrainTo(0) != nil {
		t.Error("DrainTo on empty feed should return nil")
	}
	if got := feed.Stats().Delivered; got != 10 {
		t.Errorf("Delivered = %d, want 10", got)
	}
}

func TestFeed_ConcurrentPublishReceive(t *testing.T) {
	feed := NewFeed[int](2048)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			feed.Publish(i)
		}
	}()

	received := make([]int, 0, numItems)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(received) < numItems {
		val, ok := feed.Receive(ctx)
		if !ok {
			t.Fatalf("Receive failed after %d items", len(received))
		}
		received = append(received, val)
	}
	wg.Wait()

	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d, want %d", i, val, i)
		}
	}
}
