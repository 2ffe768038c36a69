package guard

import (
	"sync"
	"testing"
	"time"
)

func TestTryAcquireCapsPerAddress(t *testing.T) {
	g := New(2)

	if !g.TryAcquire("10.0.0.1") {
		t.Fatal("first acquire should succeed")
	}
	if !g.TryAcquire("10.0.0.1") {
		t.Fatal("second acquire should succeed")
	}
	if g.TryAcquire("10.0.0.1") {
		t.Fatal("third acquire should be rejected")
	}
	// Other addresses are unaffected.
	if !g.TryAcquire("10.0.0.2") {
		t.Fatal("different address should succeed")
	}

	g.Release("10.0.0.1")
	if !g.TryAcquire("10.0.0.1") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestReleaseRemovesEmptyEntries(t *testing.T) {
	g := New(4)

	g.TryAcquire("addr")
	g.Release("addr")
	if n := g.Connections("addr"); n != 0 {
		t.Fatalf("expected 0 connections, got %d", n)
	}
	if _, ok := g.conns["addr"]; ok {
		t.Fatal("empty entry should be deleted")
	}

	// Releasing an unknown address is a no-op.
	g.Release("never-seen")
}

func TestCheckMessageRateWindow(t *testing.T) {
	clock := time.Unix(1000, 0)
	g := New(1).WithClock(func() time.Time { return clock })

	window := time.Second
	for i := 0; i < 3; i++ {
		if !g.CheckMessageRate("conn-1", window, 3) {
			t.Fatalf("message %d should pass", i)
		}
	}
	if g.CheckMessageRate("conn-1", window, 3) {
		t.Fatal("fourth message inside the window should be rejected")
	}

	// Advancing past the window frees the budget again.
	clock = clock.Add(1100 * time.Millisecond)
	if !g.CheckMessageRate("conn-1", window, 3) {
		t.Fatal("message after the window should pass")
	}
}

func TestCheckMessageRateIsolatesConnections(t *testing.T) {
	g := New(1)
	for i := 0; i < 5; i++ {
		g.CheckMessageRate("noisy", time.Second, 2)
	}
	if !g.CheckMessageRate("quiet", time.Second, 2) {
		t.Fatal("a separate connection should have its own budget")
	}
}

func TestForgetClearsRateEntries(t *testing.T) {
	g := New(1)
	g.CheckMessageRate("conn-1", time.Second, 10)
	g.Forget("conn-1")
	if _, ok := g.msgs["conn-1"]; ok {
		t.Fatal("forget should drop the connection's entries")
	}
}

func TestConcurrentAcquireNeverExceedsCeiling(t *testing.T) {
	const ceiling = 8
	g := New(ceiling)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("shared") {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != ceiling {
		t.Fatalf("expected exactly %d grants, got %d", ceiling, count)
	}
}
