package memory_test

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

const dims = 4

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MutationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e *eventstream.MutationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func newTestService(publisher eventstream.Publisher) *memory.Service {
	return memory.NewService(memory.Options{
		Database: config.DatabaseConfig{
			URL:             "file:" + filepath.Join(GinkgoT().TempDir(), "recall.db"),
			MaxConnections:  4,
			IdleTimeout:     30 * time.Second,
			CheckoutTimeout: 2 * time.Second,
		},
		Cache: config.CacheConfig{
			MaxSize:        100,
			TTL:            time.Minute,
			UpdateAgeOnGet: true,
		},
		Dimensions: dims,
		Publisher:  publisher,
		Logger:     zap.NewNop(),
	})
}

var _ = Describe("Service", func() {
	var (
		ctx context.Context
		svc *memory.Service
		pub *recordingPublisher
	)

	BeforeEach(func() {
		ctx = context.Background()
		pub = &recordingPublisher{}
		svc = newTestService(pub)
		Expect(svc.Initialize(ctx)).To(Succeed())
		DeferCleanup(func() {
			Expect(svc.Shutdown(ctx)).To(Succeed())
		})
	})

	Describe("lifecycle", func() {
		It("should warn-and-return on a second Initialize", func() {
			Expect(svc.Initialize(ctx)).To(Succeed())
			Expect(svc.IsReady()).To(BeTrue())
		})

		It("should gate operations before initialization", func() {
			fresh := newTestService(nil)
			_, err := fresh.GetRule(ctx, "r1")
			Expect(err).To(MatchError(memory.ErrNotInitialized))
			Expect(fresh.IsReady()).To(BeFalse())
		})

		It("should gate operations after shutdown", func() {
			gone := newTestService(nil)
			Expect(gone.Initialize(ctx)).To(Succeed())
			Expect(gone.Shutdown(ctx)).To(Succeed())

			_, err := gone.GetRule(ctx, "r1")
			Expect(err).To(MatchError(memory.ErrNotInitialized))

			// Shutdown is idempotent.
			Expect(gone.Shutdown(ctx)).To(Succeed())
		})
	})

	Describe("rules", func() {
		It("should create and retrieve a rule, serving repeats from cache", func() {
			created, err := svc.CreateRule(ctx, storage.Rule{
				ID:        "r1",
				Content:   "Always validate input",
				Tags:      []string{"sec", "validate"},
				Tier:      1,
				Embedding: []float32{0.1, 0.2, 0.3, 0.4},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created.CreatedAt).To(Equal(created.UpdatedAt))

			got, err := svc.GetRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())
			Expect(got.Content).To(Equal("Always validate input"))
			Expect(got.Tier).To(Equal(1))

			stats, err := svc.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			// The create seeded the cache, so the read was a hit.
			Expect(stats.Cache.Rules.TotalHits).To(BeNumerically(">=", 1))
		})

		It("should persist the embedding alongside the row", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{
				ID: "r1", Content: "x", Tier: 1,
				Embedding: []float32{1, 0, 0, 0},
			})
			Expect(err).NotTo(HaveOccurred())

			results, err := svc.SemanticSearch(ctx, []float32{1, 0, 0, 0}, storage.SearchOptions{
				Limit: 1, Threshold: 0.1,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("r1"))
			Expect(results[0].Similarity).To(BeNumerically("~", 1.0, 1e-3))
		})

		It("should reject embeddings of the wrong dimension", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{
				Content: "x", Tier: 1, Embedding: []float32{1, 2},
			})
			Expect(err).To(HaveOccurred())
		})

		It("should reflect updates in the cache and bump updated_at", func() {
			created, err := svc.CreateRule(ctx, storage.Rule{ID: "r1", Content: "x", Tier: 1})
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(50 * time.Millisecond)

			tier := 2
			updated, err := svc.UpdateRule(ctx, "r1", storage.RuleUpdate{Tier: &tier})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Tier).To(Equal(2))
			Expect(updated.UpdatedAt.After(created.CreatedAt)).To(BeTrue())

			got, err := svc.GetRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(2))
		})

		It("should return nil for updates of missing rules", func() {
			tier := 2
			updated, err := svc.UpdateRule(ctx, "ghost", storage.RuleUpdate{Tier: &tier})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeNil())
		})

		It("should evict deleted rules from the cache", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "r1", Content: "x", Tier: 1})
			Expect(err).NotTo(HaveOccurred())

			removed, err := svc.DeleteRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())

			got, err := svc.GetRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})

		It("should list rules scoped by tier", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "a", Content: "x", Tier: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateRule(ctx, storage.Rule{ID: "b", Content: "y", Tier: 2})
			Expect(err).NotTo(HaveOccurred())

			tier := 2
			rules, err := svc.ListRules(ctx, memory.ListRulesOptions{Tier: &tier})
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
			Expect(rules[0].ID).To(Equal("b"))
		})

		It("should emit mutation events for the write path", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "r1", Content: "x", Tier: 1})
			Expect(err).NotTo(HaveOccurred())

			content := "y"
			_, err = svc.UpdateRule(ctx, "r1", storage.RuleUpdate{Content: &content})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.DeleteRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())

			Expect(pub.types()).To(Equal([]string{
				eventstream.EventTypeCreated,
				eventstream.EventTypeUpdated,
				eventstream.EventTypeDeleted,
			}))
		})
	})

	Describe("project docs", func() {
		It("should round-trip docs and scope listings by project", func() {
			_, err := svc.CreateProjectDoc(ctx, storage.ProjectDoc{
				ID: "d1", ProjectID: "pa", Title: "t", Content: "c",
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateProjectDoc(ctx, storage.ProjectDoc{
				ID: "d2", ProjectID: "pb", Title: "t", Content: "c",
			})
			Expect(err).NotTo(HaveOccurred())

			got, err := svc.GetProjectDoc(ctx, "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProjectID).To(Equal("pa"))

			scoped, err := svc.ListProjectDocs(ctx, memory.ListProjectDocsOptions{ProjectID: "pb"})
			Expect(err).NotTo(HaveOccurred())
			Expect(scoped).To(HaveLen(1))
			Expect(scoped[0].ID).To(Equal("d2"))
		})
	})

	Describe("refs", func() {
		It("should serve GetRefByName from the name cache after a create", func() {
			_, err := svc.CreateRef(ctx, storage.Ref{
				ID: "ref1", Name: "style-guide", Content: "use gofmt",
			})
			Expect(err).NotTo(HaveOccurred())

			got, err := svc.GetRefByName(ctx, "style-guide")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())
			Expect(got.ID).To(Equal("ref1"))

			stats, err := svc.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Cache.RefNames.TotalHits).To(BeNumerically(">=", 1))
		})

		It("should populate both keys on a name lookup that hits the database", func() {
			_, err := svc.CreateRef(ctx, storage.Ref{ID: "ref1", Name: "n", Content: "c"})
			Expect(err).NotTo(HaveOccurred())
			svc.ClearCache()

			got, err := svc.GetRefByName(ctx, "n")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())

			byID, err := svc.GetRef(ctx, "ref1")
			Expect(err).NotTo(HaveOccurred())
			Expect(byID).NotTo(BeNil())
		})

		It("should evict the stale name entry on rename", func() {
			_, err := svc.CreateRef(ctx, storage.Ref{ID: "ref1", Name: "old", Content: "c"})
			Expect(err).NotTo(HaveOccurred())

			name := "new"
			_, err = svc.UpdateRef(ctx, "ref1", storage.RefUpdate{Name: &name})
			Expect(err).NotTo(HaveOccurred())

			gone, err := svc.GetRefByName(ctx, "old")
			Expect(err).NotTo(HaveOccurred())
			Expect(gone).To(BeNil())

			found, err := svc.GetRefByName(ctx, "new")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).NotTo(BeNil())
		})

		It("should evict both entries on delete", func() {
			_, err := svc.CreateRef(ctx, storage.Ref{ID: "ref1", Name: "n", Content: "c"})
			Expect(err).NotTo(HaveOccurred())

			removed, err := svc.DeleteRef(ctx, "ref1")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())

			byName, err := svc.GetRefByName(ctx, "n")
			Expect(err).NotTo(HaveOccurred())
			Expect(byName).To(BeNil())
		})
	})

	Describe("search", func() {
		e := []float32{1, 0, 0, 0}

		It("should find rows across all three kinds", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "r", Content: "r", Tier: 1, Embedding: e})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateProjectDoc(ctx, storage.ProjectDoc{
				ID: "d", ProjectID: "p", Title: "t", Content: "d", Embedding: e,
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateRef(ctx, storage.Ref{ID: "f", Name: "n", Content: "f", Embedding: e})
			Expect(err).NotTo(HaveOccurred())

			results, err := svc.SemanticSearch(ctx, e, storage.SearchOptions{Limit: 3, Threshold: 0.5})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))

			types := map[storage.EntityType]bool{}
			for _, r := range results {
				types[r.Type] = true
			}
			Expect(types).To(HaveLen(3))
		})

		It("should serve repeated searches from the fingerprint cache", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "r", Content: "r", Tier: 1, Embedding: e})
			Expect(err).NotTo(HaveOccurred())

			opts := storage.SearchOptions{Limit: 5, Threshold: 0.2}
			first, err := svc.SemanticSearch(ctx, e, opts)
			Expect(err).NotTo(HaveOccurred())

			second, err := svc.SemanticSearch(ctx, e, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))

			stats, err := svc.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Cache.Searches.TotalHits).To(BeNumerically(">=", 1))
		})

		It("should exclude the target row from FindSimilar", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "r1", Content: "a", Tier: 1, Embedding: e})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateRule(ctx, storage.Rule{ID: "r2", Content: "b", Tier: 1, Embedding: e})
			Expect(err).NotTo(HaveOccurred())

			results, err := svc.FindSimilar(ctx, storage.TableRules, "r1", storage.SearchOptions{
				Limit: 10, Threshold: 0.5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("r2"))
		})

		It("should store batches transactionally and evict touched entries", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{ID: "r1", Content: "a", Tier: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateRef(ctx, storage.Ref{ID: "f1", Name: "n", Content: "b"})
			Expect(err).NotTo(HaveOccurred())

			err = svc.BatchStoreEmbeddings(ctx, []storage.EmbeddingItem{
				{Table: storage.TableRules, ID: "r1", Embedding: e},
				{Table: storage.TableRefs, ID: "f1", Embedding: []float32{0, 1, 0, 0}},
			})
			Expect(err).NotTo(HaveOccurred())

			// A fresh read sees the embedding (cache entry was evicted).
			got, err := svc.GetRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal(e))
		})
	})

	Describe("stats and health", func() {
		It("should aggregate pool, cache, and index stats", func() {
			_, err := svc.CreateRule(ctx, storage.Rule{
				ID: "r1", Content: "x", Tier: 1, Embedding: []float32{1, 0, 0, 0},
			})
			Expect(err).NotTo(HaveOccurred())

			stats, err := svc.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Pool.MaxConnections).To(Equal(4))
			Expect(stats.Index.TotalRows).To(Equal(1))
			Expect(stats.Index.TotalEmbedded).To(Equal(1))
		})

		It("should report healthy after initialization", func() {
			Expect(svc.HealthCheck(ctx).Healthy).To(BeTrue())
		})

		It("should report unhealthy before initialization", func() {
			fresh := newTestService(nil)
			health := fresh.HealthCheck(ctx)
			Expect(health.Healthy).To(BeFalse())
			Expect(health.Error).NotTo(BeEmpty())
		})
	})
})
