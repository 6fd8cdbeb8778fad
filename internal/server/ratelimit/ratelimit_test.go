package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTokenBucket_Allow(t *testing.T) {
	bucket := newTokenBucket(10, 1.0) // 10 tokens, 1 token per second

	for i := 0; i < 10; i++ {
		if !bucket.allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}

	if bucket.allow() {
		t.Error("Expected 11th request to be denied")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := newTokenBucket(10, 1.0)

	for i := 0; i < 10; i++ {
		bucket.allow()
	}

	time.Sleep(1100 * time.Millisecond)

	if !bucket.allow() {
		t.Error("Expected request to be allowed after refill")
	}
	if bucket.allow() {
		t.Error("Expected request to be denied after consuming refilled token")
	}
}

func TestTokenBucket_Status(t *testing.T) {
	bucket := newTokenBucket(10, 1.0)

	for i := 0; i < 5; i++ {
		bucket.allow()
	}

	remaining, resetTime := bucket.status()
	if remaining != 5 {
		t.Errorf("Expected 5 remaining tokens, got %d", remaining)
	}
	if resetTime.Before(time.Now()) {
		t.Error("Reset time should be in the future")
	}
}

func TestLimiter_Allow(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	clientID := "127.0.0.1"

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow(clientID, "/test", "GET")
		if !allowed {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		if info.Limit != 10 {
			t.Errorf("Expected limit 10, got %d", info.Limit)
		}
	}

	allowed, info := limiter.Allow(clientID, "/test", "GET")
	if allowed {
		t.Error("Expected request to be denied after exhausting bucket")
	}
	if info.RetryAfter <= 0 {
		t.Error("Expected positive RetryAfter on denial")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: false})
	defer limiter.Stop()

	for i := 0; i < 1000; i++ {
		allowed, _ := limiter.Allow("client", "/api/automation/job-apply", "POST")
		if !allowed {
			t.Fatal("Disabled limiter must allow everything")
		}
	}
}

func TestLimiter_ClientsIsolated(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  2,
		DefaultWindow: time.Minute,
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	for i := 0; i < 2; i++ {
		limiter.Allow("client-a", "/test", "GET")
	}
	allowed, _ := limiter.Allow("client-a", "/test", "GET")
	if allowed {
		t.Error("Expected client-a to be limited")
	}

	allowed, _ = limiter.Allow("client-b", "/test", "GET")
	if !allowed {
		t.Error("Expected client-b to have its own bucket")
	}
}

func TestLimiter_EndpointConfig(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/api/automation/job-apply", Method: "POST", Limit: 2, Window: time.Hour, Burst: 2},
		},
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Allow("client", "/api/automation/job-apply", "POST")
		if !allowed {
			t.Errorf("Expected burst request %d to be allowed", i+1)
		}
	}
	allowed, info := limiter.Allow("client", "/api/automation/job-apply", "POST")
	if allowed {
		t.Error("Expected run start to be limited after burst")
	}
	if info.Limit != 2 {
		t.Errorf("Expected endpoint limit 2, got %d", info.Limit)
	}

	// Reads still use the default bucket.
	allowed, _ = limiter.Allow("client", "/api/automation/runs", "GET")
	if !allowed {
		t.Error("Expected read endpoint to be unaffected")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  50,
		DefaultWindow: time.Minute,
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _ := limiter.Allow("client", "/test", "GET")
			if allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount > 51 {
		t.Errorf("Expected at most ~50 allowed requests, got %d", allowedCount)
	}
	if allowedCount < 50 {
		t.Errorf("Expected close to 50 allowed requests, got %d", allowedCount)
	}
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		path      string
		method    string
		wantMatch bool
		wantLimit int
	}{
		{"/api/automation/job-apply", "POST", true, 30},
		{"/api/automation/email-response", "POST", true, 60},
		{"/api/automation/runs", "GET", true, 120},
		{"/api/automation/runs/550e8400-e29b-41d4-a716-446655440000", "GET", true, 120},
		{"/api/automation/screenshots/550e8400/0", "GET", true, 240},
		{"/api/automation/health", "GET", true, 0},
		{"/api/automation/job-apply", "GET", false, 0},
		{"/unknown", "GET", false, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantMatch && got == nil {
				t.Fatal("Expected a match, got nil")
			}
			if !tt.wantMatch && got != nil {
				t.Fatalf("Expected no match, got %+v", got)
			}
			if got != nil && got.Limit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, got.Limit)
			}
		})
	}
}
