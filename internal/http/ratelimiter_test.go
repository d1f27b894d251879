package http

import (
	"testing"
	"time"
)

type recordingObserver struct {
	rejected []string
	clients  []int
}

func (o *recordingObserver) ObserveRateLimited(class string) {
	o.rejected = append(o.rejected, class)
}

func (o *recordingObserver) SetRateLimitClients(n int) {
	o.clients = append(o.clients, n)
}

func newTestLimiter(t *testing.T, burst int, perSecond float64, observer limiterObserver) (*RateLimiter, *time.Time) {
	t.Helper()

	rl := NewRateLimiter(RateLimiterSettings{Burst: burst, RequestsPerSecond: perSecond, ClientTTL: time.Minute}, observer)
	t.Cleanup(rl.Close)

	current := time.Unix(0, 0)
	rl.now = func() time.Time {
		return current
	}
	return rl, &current
}

func TestRateLimiterRefillsUpToBurst(t *testing.T) {
	t.Parallel()

	rl, current := newTestLimiter(t, 3, 2, nil)
	ip := "1.2.3.4"

	for i := 0; i < 3; i++ {
		if !rl.Allow(ip, false) {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if rl.Allow(ip, false) {
		t.Fatalf("expected fourth request to be denied")
	}

	*current = current.Add(250 * time.Millisecond)
	if rl.Allow(ip, false) {
		t.Fatalf("expected half a token to be insufficient")
	}

	*current = current.Add(250 * time.Millisecond)
	if !rl.Allow(ip, false) {
		t.Fatalf("expected request after a full token refilled to be allowed")
	}
	if rl.Allow(ip, false) {
		t.Fatalf("expected the refilled token to be spent")
	}

	*current = current.Add(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow(ip, false) {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("expected refill to be capped at the burst of 3, got %d", allowed)
	}
}

func TestRateLimiterSeparatesAddressesAndClasses(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	rl, _ := newTestLimiter(t, 1, 1, observer)

	if !rl.Allow("10.0.0.1", false) {
		t.Fatalf("expected first reader request to be allowed")
	}
	if rl.Allow("10.0.0.1", false) {
		t.Fatalf("expected second reader request to be denied")
	}
	if !rl.Allow("10.0.0.1", true) {
		t.Fatalf("expected a session from the same address to have its own bucket")
	}
	if rl.Allow("10.0.0.1", true) {
		t.Fatalf("expected the session bucket to be spent")
	}
	if !rl.Allow("10.0.0.2", false) {
		t.Fatalf("expected another address to have its own bucket")
	}
	if !rl.Allow("", false) || rl.Allow("", false) {
		t.Fatalf("expected requests without an address to share one bucket")
	}

	want := []string{classReader, classSession, classReader}
	if len(observer.rejected) != len(want) {
		t.Fatalf("expected rejections %v, got %v", want, observer.rejected)
	}
	for i := range want {
		if observer.rejected[i] != want[i] {
			t.Fatalf("expected rejections %v, got %v", want, observer.rejected)
		}
	}
	if last := observer.clients[len(observer.clients)-1]; last != 4 {
		t.Fatalf("expected 4 tracked clients, got %d", last)
	}
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	rl, current := newTestLimiter(t, 1, 0.001, observer)

	if !rl.Allow("10.0.0.1", false) {
		t.Fatalf("expected first request to be allowed")
	}
	*current = current.Add(50 * time.Second)
	if !rl.Allow("10.0.0.2", false) {
		t.Fatalf("expected second client to be allowed")
	}
	if rl.Allow("10.0.0.1", false) {
		t.Fatalf("expected spent client to be denied before pruning")
	}

	*current = current.Add(90 * time.Second)
	if removed := rl.pruneStale(); removed != 2 {
		t.Fatalf("expected both idle clients to be pruned, got %d", removed)
	}
	if len(rl.buckets) != 0 {
		t.Fatalf("expected no tracked clients, got %d", len(rl.buckets))
	}
	if last := observer.clients[len(observer.clients)-1]; last != 0 {
		t.Fatalf("expected the gauge to drop to 0, got %d", last)
	}

	if !rl.Allow("10.0.0.1", false) {
		t.Fatalf("expected a pruned client to start with a full bucket")
	}

	*current = current.Add(30 * time.Second)
	if removed := rl.pruneStale(); removed != 0 {
		t.Fatalf("expected a recently seen client to survive pruning, got %d removed", removed)
	}
	if len(rl.buckets) != 1 {
		t.Fatalf("expected one tracked client, got %d", len(rl.buckets))
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimiterSettings{Burst: 1, RequestsPerSecond: 1, ClientTTL: time.Millisecond}, nil)
	rl.Close()
	rl.Close()

	if !rl.Allow("10.0.0.1", false) {
		t.Fatalf("expected a closed limiter to keep answering")
	}
}
