package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)}
}

func TestLimiter_FiveThenReject(t *testing.T) {
	clk := newClock()
	l := NewLimiter(NewMemoryStore().WithClock(clk.Now), "book:", 5, 15*time.Minute)
	l.Now = clk.Now
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Allow(ctx, "1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
		if d.Remaining != 5-i {
			t.Fatalf("request %d: remaining = %d", i, d.Remaining)
		}
	}
	d, _ := l.Allow(ctx, "1.2.3.4")
	if d.Allowed {
		t.Fatal("sixth request should be rejected")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("retry after = %s", d.RetryAfter)
	}

	other, _ := l.Allow(ctx, "5.6.7.8")
	if !other.Allowed {
		t.Fatal("limits must be per key")
	}
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	clk := newClock()
	l := NewLimiter(NewMemoryStore().WithClock(clk.Now), "", 5, 15*time.Minute)
	l.Now = clk.Now
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, _ = l.Allow(ctx, "ip")
	}

	clk.Advance(15 * time.Minute)
	if d, _ := l.Allow(ctx, "ip"); d.Allowed {
		t.Fatal("window end is inclusive; still limited exactly at the boundary")
	}
	clk.Advance(time.Second)
	d, _ := l.Allow(ctx, "ip")
	if !d.Allowed || d.Remaining != 4 {
		t.Fatalf("after window: %+v", d)
	}
}

func TestMemoryStore_PeekAndReset(t *testing.T) {
	clk := newClock()
	s := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()

	if _, ok, _ := s.Peek(ctx, "k", time.Minute); ok {
		t.Fatal("unexpected entry")
	}
	_, _ = s.Hit(ctx, "k", time.Minute)
	clk.Advance(10 * time.Second)
	e, _ := s.Hit(ctx, "k", time.Minute)
	if e.Count != 2 || !e.LastSentAt.Equal(clk.Now()) {
		t.Fatalf("entry = %+v", e)
	}
	if got, ok, _ := s.Peek(ctx, "k", time.Minute); !ok || got.Count != 2 {
		t.Fatalf("peek = %+v %v", got, ok)
	}
	_ = s.Reset(ctx, "k")
	if _, ok, _ := s.Peek(ctx, "k", time.Minute); ok {
		t.Fatal("reset did not clear key")
	}
}

func TestMemoryStore_PrunesExpired(t *testing.T) {
	clk := newClock()
	s := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _ = s.Hit(ctx, k, time.Minute)
	}
	clk.Advance(5 * time.Minute)
	_, _ = s.Hit(ctx, "d", time.Minute)
	if n := s.Len(); n != 1 {
		t.Fatalf("len = %d, want 1", n)
	}
}

func TestMemoryStore_ConcurrentHits(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = s.Hit(ctx, "shared", time.Hour)
			}
		}()
	}
	wg.Wait()
	e, ok, _ := s.Peek(ctx, "shared", time.Hour)
	if !ok || e.Count != 1000 {
		t.Fatalf("count = %d", e.Count)
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration) (Entry, error) {
	return Entry{}, errors.New("down")
}
func (failingStore) Peek(context.Context, string, time.Duration) (Entry, bool, error) {
	return Entry{}, false, errors.New("down")
}
func (failingStore) Reset(context.Context, string) error { return errors.New("down") }

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(l *Limiter, n int) []int {
		r := gin.New()
		r.POST("/book", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
		var codes []int
		for i := 0; i < n; i++ {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/book", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			r.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}
		return codes
	}

	codes := run(NewLimiter(NewMemoryStore(), "", 2, time.Minute), 3)
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	codes = run(NewLimiter(failingStore{}, "", 1, time.Minute), 3)
	for _, c := range codes {
		if c != http.StatusOK {
			t.Fatalf("store failure must fail open, got %v", codes)
		}
	}
}

func TestIPThrottle(t *testing.T) {
	clk := newClock()
	th := NewIPThrottle(1, 2)
	th.now = clk.Now

	if !th.Allow("a") || !th.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if th.Allow("a") {
		t.Fatal("third immediate request should be throttled")
	}
	if !th.Allow("b") {
		t.Fatal("other IPs have their own bucket")
	}
	clk.Advance(time.Second)
	if !th.Allow("a") {
		t.Fatal("token should refill after a second")
	}
}

func TestIPThrottle_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	th := NewIPThrottle(0.001, 1)
	var hits atomic.Int32
	r := gin.New()
	r.Use(th.Middleware())
	r.GET("/x", func(c *gin.Context) { hits.Add(1); c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.9:1"
		r.ServeHTTP(w, req)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d", hits.Load())
	}
}
