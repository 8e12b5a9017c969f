// ABOUTME: Tests for the inbound message dedupe cache
// ABOUTME: Covers duplicate detection, TTL expiry, and size-capped eviction

package dedupe

import (
	"sync"
	"testing"
	"time"
)

func TestSeen_MarksAndDetects(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	key := MessageKey("telegram", "msg-1")
	if c.Seen(key) {
		t.Error("first delivery reported as duplicate")
	}
	if !c.Seen(key) {
		t.Error("redelivery not reported as duplicate")
	}
}

func TestSeen_DistinctChannelsDistinctKeys(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	if c.Seen(MessageKey("telegram", "msg-1")) {
		t.Error("fresh telegram key reported as duplicate")
	}
	if c.Seen(MessageKey("discord", "msg-1")) {
		t.Error("same message id on a different channel reported as duplicate")
	}
}

func TestSeen_ExpiredKeyIsFresh(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	key := MessageKey("telegram", "msg-1")
	c.Seen(key)
	time.Sleep(20 * time.Millisecond)

	if c.Seen(key) {
		t.Error("expired key still reported as duplicate")
	}
}

func TestSeen_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Seen("a")
	c.Seen("b")
	c.Seen("c") // evicts "a"

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if c.Seen("a") {
		t.Error("evicted key still reported as duplicate")
	}
}

func TestSeen_ConcurrentDeliveriesOneFresh(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	const deliveries = 32
	key := MessageKey("telegram", "msg-racy")
	fresh := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen(key) {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("fresh deliveries = %d, want exactly 1", fresh)
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 100)
	c.Close()
	c.Close()
}
