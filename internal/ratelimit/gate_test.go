package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateBoundsConcurrency(t *testing.T) {
	const limit = 3
	const calls = 20

	gate := NewGate("rpc", limit)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = gate.Do(context.Background(), func(ctx context.Context) error {
				cur := atomic.AddInt64(&inFlight, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > limit {
		t.Fatalf("observed %d concurrent calls, limit is %d", got, limit)
	}
}

func TestGateHonorsContext(t *testing.T) {
	gate := NewGate("rpc", 1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = gate.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := gate.Do(ctx, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("blocked acquire should fail once the context expires")
	}
	close(release)
}

func TestRegistryReturnsSameGate(t *testing.T) {
	reg := NewRegistry()
	a := reg.Gate("rpc", 8)
	b := reg.Gate("rpc", 99)
	if a != b {
		t.Fatal("registry should hand out one gate per source name")
	}
	if a.Name() != "rpc" {
		t.Fatalf("unexpected gate name %q", a.Name())
	}
}
