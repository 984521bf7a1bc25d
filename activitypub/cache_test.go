package activitypub

import (
	"sync"
	"testing"
	"time"
)

func TestKeyCache(t *testing.T) {
	cache := NewKeyCache()

	if _, ok := cache.Get("https://remote.example/users/bob"); ok {
		t.Error("Empty cache returned a key")
	}

	cache.Set("https://remote.example/users/bob", "pem-data")
	pem, ok := cache.Get("https://remote.example/users/bob")
	if !ok || pem != "pem-data" {
		t.Errorf("Expected pem-data, got %q (ok=%v)", pem, ok)
	}

	cache.Invalidate("https://remote.example/users/bob")
	if _, ok := cache.Get("https://remote.example/users/bob"); ok {
		t.Error("Invalidated key still present")
	}
}

func TestHostBlocklistCaseInsensitive(t *testing.T) {
	blocklist := NewHostBlocklist()
	blocklist.Add("Bad.Example")

	if !blocklist.Contains("bad.example") {
		t.Error("Expected lowercase lookup to match")
	}
	if !blocklist.Contains("BAD.EXAMPLE") {
		t.Error("Expected uppercase lookup to match")
	}
	if blocklist.Contains("good.example") {
		t.Error("Unrelated host reported blocked")
	}
}

func TestInflightSetSingleOwner(t *testing.T) {
	inflight := NewInflightSet()

	if !inflight.Add("https://remote.example/notes/1") {
		t.Fatal("First Add should own the id")
	}
	if inflight.Add("https://remote.example/notes/1") {
		t.Error("Second Add should not own the id")
	}
	inflight.Remove("https://remote.example/notes/1")
	if !inflight.Add("https://remote.example/notes/1") {
		t.Error("Add after Remove should own the id again")
	}
}

func TestInflightSetConcurrentAdds(t *testing.T) {
	inflight := NewInflightSet()

	var wg sync.WaitGroup
	var mu sync.Mutex
	owners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if inflight.Add("contested") {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if owners != 1 {
		t.Errorf("Expected exactly 1 owner, got %d", owners)
	}
}

func TestInflightWaitReturnsOnRemove(t *testing.T) {
	inflight := NewInflightSet()
	inflight.Add("busy")

	go func() {
		time.Sleep(300 * time.Millisecond)
		inflight.Remove("busy")
	}()

	start := time.Now()
	inflight.Wait("busy", 5*time.Second)
	if time.Since(start) > 2*time.Second {
		t.Error("Wait did not return promptly after Remove")
	}
}

func TestInflightWaitTimesOut(t *testing.T) {
	inflight := NewInflightSet()
	inflight.Add("stuck")

	start := time.Now()
	inflight.Wait("stuck", 500*time.Millisecond)
	if time.Since(start) < 400*time.Millisecond {
		t.Error("Wait returned before the timeout with the id still held")
	}
}
