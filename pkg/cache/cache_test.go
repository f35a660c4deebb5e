package cache_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/cache"
)

var _ = Describe("Cache", func() {
	Describe("Set and Get", func() {
		It("should return stored values", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			c.Set("k", "v")

			got, ok := c.Get("k")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal("v"))
		})

		It("should miss on absent keys", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			_, ok := c.Get("nope")
			Expect(ok).To(BeFalse())
		})

		It("should replace values and reset the hit count", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			c.Set("k", "v1")
			c.Get("k")
			c.Set("k", "v2")

			got, _, hits, ok := c.GetWithMetadata("k")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal("v2"))
			// The replacing Set reset the count; this lookup is hit #1.
			Expect(hits).To(Equal(1))
		})
	})

	Describe("LRU eviction", func() {
		It("should never exceed MaxSize", func() {
			c := cache.New(cache.Config[int]{MaxSize: 5, TTL: time.Minute})
			for i := range 100 {
				c.Set(fmt.Sprintf("k%d", i), i)
				Expect(c.GetStats().Size).To(BeNumerically("<=", 5))
			}
		})

		It("should keep exactly the last MaxSize inserted keys when nothing is read", func() {
			c := cache.New(cache.Config[int]{MaxSize: 3, TTL: time.Minute})
			for i, k := range []string{"a", "b", "c", "d"} {
				c.Set(k, i)
			}

			Expect(c.Has("a")).To(BeFalse())
			Expect(c.Has("b")).To(BeTrue())
			Expect(c.Has("c")).To(BeTrue())
			Expect(c.Has("d")).To(BeTrue())
		})

		It("should protect recently read keys when UpdateAgeOnGet is on", func() {
			c := cache.New(cache.Config[int]{MaxSize: 3, TTL: time.Minute, UpdateAgeOnGet: true})
			c.Set("a", 1)
			c.Set("b", 2)
			c.Set("c", 3)

			c.Get("a")
			c.Set("d", 4) // evicts b, the least recently used

			Expect(c.Has("a")).To(BeTrue())
			Expect(c.Has("b")).To(BeFalse())
		})

		It("should notify the eviction hook", func() {
			var evictedKey string
			var evictedVal int
			c := cache.New(cache.Config[int]{
				MaxSize: 2,
				TTL:     time.Minute,
				OnEvict: func(k string, v int) {
					evictedKey = k
					evictedVal = v
				},
			})

			c.Set("a", 1)
			c.Set("b", 2)
			c.Set("c", 3)

			Expect(evictedKey).To(Equal("a"))
			Expect(evictedVal).To(Equal(1))
		})
	})

	Describe("TTL expiry", func() {
		It("should miss on expired entries", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: 100 * time.Millisecond})
			c.Set("k", "v")

			time.Sleep(150 * time.Millisecond)

			_, ok := c.Get("k")
			Expect(ok).To(BeFalse())
			Expect(c.Has("k")).To(BeFalse())
		})

		It("should hide expired entries from Peek", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: 50 * time.Millisecond})
			c.Set("k", "v")

			time.Sleep(100 * time.Millisecond)

			_, ok := c.Peek("k")
			Expect(ok).To(BeFalse())
		})

		It("should prune expired entries eagerly", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: 100 * time.Millisecond})
			c.Set("k1", "v1")
			c.Set("k2", "v2")

			time.Sleep(150 * time.Millisecond)
			c.Set("k3", "v3")

			Expect(c.Prune()).To(BeNumerically(">=", 2))
			Expect(c.Has("k3")).To(BeTrue())
		})

		It("should report the remaining TTL", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			c.Set("k", "v")

			Expect(c.GetRemainingTTL("k")).To(BeNumerically(">", 50*time.Second))
			Expect(c.GetRemainingTTL("absent")).To(BeZero())
		})
	})

	Describe("Peek and Has", func() {
		It("should not count toward statistics or hit counts", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			c.Set("k", "v")

			c.Peek("k")
			c.Has("k")
			c.Peek("absent")

			stats := c.GetStats()
			Expect(stats.TotalHits).To(BeZero())
			Expect(stats.TotalMisses).To(BeZero())
		})
	})

	Describe("Hit accounting", func() {
		It("should compute the exact hit rate", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			c.Set("k", "v")

			c.Get("k")      // hit
			c.Get("k")      // hit
			c.Get("absent") // miss

			stats := c.GetStats()
			Expect(stats.TotalHits).To(Equal(uint64(2)))
			Expect(stats.TotalMisses).To(Equal(uint64(1)))
			Expect(stats.HitRate).To(BeNumerically("~", 2.0/3.0, 1e-9))
		})

		It("should report zero hit rate with no lookups", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			Expect(c.GetStats().HitRate).To(BeZero())
		})

		It("should count sets and deletes", func() {
			c := cache.New(cache.Config[string]{MaxSize: 10, TTL: time.Minute})
			c.Set("a", "1")
			c.Set("b", "2")
			c.Delete("a")
			c.Delete("absent")

			stats := c.GetStats()
			Expect(stats.TotalSets).To(Equal(uint64(2)))
			Expect(stats.TotalDeletes).To(Equal(uint64(1)))
		})
	})

	Describe("Snapshots", func() {
		It("should list keys most recently used first", func() {
			c := cache.New(cache.Config[int]{MaxSize: 10, TTL: time.Minute})
			c.Set("a", 1)
			c.Set("b", 2)
			c.Set("c", 3)

			Expect(c.Keys()).To(Equal([]string{"c", "b", "a"}))
			Expect(c.Values()).To(Equal([]int{3, 2, 1}))
			Expect(c.Entries()).To(HaveLen(3))
		})

		It("should rank entries by hit count", func() {
			c := cache.New(cache.Config[int]{MaxSize: 10, TTL: time.Minute})
			c.Set("cold", 1)
			c.Set("warm", 2)
			c.Set("hot", 3)

			c.Get("warm")
			c.Get("hot")
			c.Get("hot")

			top := c.GetTopHitEntries(2)
			Expect(top).To(HaveLen(2))
			Expect(top[0].Key).To(Equal("hot"))
			Expect(top[0].HitCount).To(Equal(2))
			Expect(top[1].Key).To(Equal("warm"))
		})
	})

	Describe("Bulk seeding", func() {
		It("should warm up from a map", func() {
			c := cache.New(cache.Config[int]{MaxSize: 10, TTL: time.Minute})
			c.WarmUp(map[string]int{"a": 1, "b": 2})

			Expect(c.Has("a")).To(BeTrue())
			Expect(c.Has("b")).To(BeTrue())
		})

		It("should round-trip through Dump and Load", func() {
			c := cache.New(cache.Config[int]{MaxSize: 10, TTL: time.Minute})
			c.Set("a", 1)
			c.Set("b", 2)

			dump := c.Dump()
			Expect(dump).To(HaveLen(2))

			fresh := cache.New(cache.Config[int]{MaxSize: 10, TTL: time.Minute})
			fresh.Load(dump)

			got, ok := fresh.Get("a")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(1))
		})

		It("should skip entries that expired before Load", func() {
			c := cache.New(cache.Config[int]{MaxSize: 10, TTL: 50 * time.Millisecond})
			c.Set("a", 1)
			dump := c.Dump()

			time.Sleep(100 * time.Millisecond)

			fresh := cache.New(cache.Config[int]{MaxSize: 10, TTL: 50 * time.Millisecond})
			fresh.Load(dump)
			Expect(fresh.Has("a")).To(BeFalse())
		})
	})

	Describe("Clear", func() {
		It("should drop every entry", func() {
			c := cache.New(cache.Config[int]{MaxSize: 10, TTL: time.Minute})
			c.Set("a", 1)
			c.Set("b", 2)
			c.Clear()

			Expect(c.GetStats().Size).To(BeZero())
			Expect(c.Has("a")).To(BeFalse())
		})
	})
})
