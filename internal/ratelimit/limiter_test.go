package ratelimit_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/ratelimit"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Limiter", func() {
	var (
		limiter *ratelimit.Limiter
		clk     *clock
		key     string
	)

	BeforeEach(func() {
		clk = &clock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
		limiter = ratelimit.New(10, time.Minute)
		limiter.SetClock(clk.Now)
		key = ratelimit.Key("user:u1", ratelimit.ScopeChat)
	})

	It("rejects the eleventh message within the window", func() {
		for i := 0; i < 10; i++ {
			Expect(limiter.Allow(key)).To(Succeed())
			clk.Advance(time.Second)
		}

		err := limiter.Allow(key)
		var rle *domain.RateLimitExceeded
		Expect(errors.As(err, &rle)).To(BeTrue())
		Expect(rle.RetryAfterSeconds).To(BeNumerically(">", 0))
		Expect(rle.RetryAfterSeconds).To(Equal(50))
	})

	It("admits again once the oldest entry leaves the window", func() {
		for i := 0; i < 10; i++ {
			Expect(limiter.Allow(key)).To(Succeed())
		}
		Expect(limiter.Allow(key)).NotTo(Succeed())

		clk.Advance(time.Minute + time.Millisecond)
		Expect(limiter.Allow(key)).To(Succeed())
		Expect(limiter.Remaining(key)).To(Equal(9))
	})

	It("keeps keys independent", func() {
		for i := 0; i < 10; i++ {
			Expect(limiter.Allow(key)).To(Succeed())
		}
		other := ratelimit.Key("anon:a1", ratelimit.ScopeChat)
		Expect(limiter.Allow(other)).To(Succeed())
		Expect(limiter.Allow(key)).NotTo(Succeed())
	})

	It("never admits more than the limit under concurrency", func() {
		var admitted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow(key) == nil {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(admitted.Load()).To(Equal(int32(10)))
	})

	It("sweeps idle keys", func() {
		Expect(limiter.Allow(key)).To(Succeed())
		Expect(limiter.Len()).To(Equal(1))

		clk.Advance(2 * time.Minute)
		Expect(limiter.Sweep()).To(Equal(1))
		Expect(limiter.Len()).To(BeZero())
	})

	It("keeps the limit while idle keys are swept concurrently", func() {
		for round := 0; round < 200; round++ {
			Expect(limiter.Allow(key)).To(Succeed())
			clk.Advance(2 * time.Minute)

			var admitted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					if limiter.Allow(key) == nil {
						admitted.Add(1)
					}
				}()
				go func() {
					defer wg.Done()
					limiter.Sweep()
				}()
			}
			wg.Wait()
			Expect(admitted.Load()).To(Equal(int32(10)), "round %d", round)
			Expect(limiter.Remaining(key)).To(BeZero())
			clk.Advance(2 * time.Minute)
		}
	})
})
