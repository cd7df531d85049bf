package codec

import (
	"testing"
	"time"
)

func TestBoundedQueueDepthAndPeak(t *testing.T) {
	q := newBoundedQueue[int](8)

	for i := 0; i < 5; i++ {
		if err := q.TrySend(i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if got := q.Stats().Depth; got != 5 {
		t.Fatalf("depth = %d, want 5", got)
	}

	for i := 0; i < 2; i++ {
		if _, err := q.TryRecv(); err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
	}
	stats := q.Stats()
	if stats.Depth != 3 {
		t.Fatalf("depth after 5 sends/2 recvs = %d, want 3", stats.Depth)
	}
	if stats.PeakDepth != 5 {
		t.Fatalf("peak = %d, want 5", stats.PeakDepth)
	}

	for i := 0; i < 3; i++ {
		if _, err := q.TryRecv(); err != nil {
			t.Fatalf("drain recv %d: %v", i, err)
		}
	}
	if got := q.Stats().PeakDepth; got != 5 {
		t.Fatalf("peak after full drain = %d, want 5 (non-decreasing)", got)
	}
	if got := q.Stats().Depth; got != 0 {
		t.Fatalf("depth after full drain = %d, want 0", got)
	}
}

func TestBoundedQueueFullReturnsQueueFull(t *testing.T) {
	q := newBoundedQueue[int](1)
	if err := q.TrySend(1); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := q.TrySend(2); err == nil {
		t.Fatal("expected Full error on second send")
	} else if _, isFull := err.(queueFull); !isFull {
		t.Fatalf("got %T, want queueFull", err)
	}
}

func TestBoundedQueueRecvTimeout(t *testing.T) {
	q := newBoundedQueue[int](1)
	_, err := q.RecvTimeout(10 * time.Millisecond)
	if _, isTimeout := err.(queueTimeout); !isTimeout {
		t.Fatalf("got %T/%v, want queueTimeout", err, err)
	}
}

func TestBoundedQueueClosedAfterClose(t *testing.T) {
	q := newBoundedQueue[int](1)
	q.Close()
	if err := q.TrySend(1); err == nil {
		t.Fatal("expected Disconnected after Close")
	} else if _, isClosed := err.(queueClosed); !isClosed {
		t.Fatalf("got %T, want queueClosed", err)
	}
	if _, err := q.Recv(); err == nil {
		t.Fatal("expected Disconnected recv after Close")
	}
}

func TestBoundedQueueCloseDoesNotDropBufferedValues(t *testing.T) {
	q := newBoundedQueue[int](2)
	_ = q.TrySend(42)
	q.Close()
	v, err := q.Recv()
	if err != nil {
		t.Fatalf("recv after close should still drain buffered value: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestInFlightCreditsBoundsUsedToCapacity(t *testing.T) {
	c := NewInFlightCredits(2)
	if !c.TryAcquire() {
		t.Fatal("1st acquire should succeed")
	}
	if !c.TryAcquire() {
		t.Fatal("2nd acquire should succeed")
	}
	if c.TryAcquire() {
		t.Fatal("3rd acquire should fail at capacity")
	}
	if got := c.Used(); got != 2 {
		t.Fatalf("used = %d, want 2", got)
	}

	c.Release()
	if got := c.Used(); got != 1 {
		t.Fatalf("used after release = %d, want 1", got)
	}
	if !c.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestInFlightCreditsReleaseSaturatesAtZero(t *testing.T) {
	c := NewInFlightCredits(1)
	c.Release()
	c.Release()
	if got := c.Used(); got != 0 {
		t.Fatalf("used = %d, want 0 (saturating release)", got)
	}
}
