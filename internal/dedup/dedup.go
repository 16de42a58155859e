// Package dedup groups raw articles into story clusters using embedding
// similarity.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"radar/internal/core"
	"radar/internal/logger"
)

// ErrEmbeddingUnavailable indicates the embedding oracle could not produce a
// vector. Affected articles degrade to singleton clusters instead of being
// dropped.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder produces a fixed-length vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Result holds the clusters produced for one batch of articles.
type Result struct {
	Clusters []core.Cluster
	// Degraded is true when the embedding oracle failed for every article in
	// the batch, leaving one singleton cluster per article.
	Degraded bool
}

// Deduplicator assigns articles to clusters with greedy single-pass centroid
// clustering. Assignment order follows arrival order, so the first-seen
// article anchors a story; this is order-sensitive by design.
type Deduplicator struct {
	embedder            Embedder
	similarityThreshold float64
	embedConcurrency    int
	log                 *slog.Logger
}

// NewDeduplicator creates a Deduplicator. Embedding fetches are issued
// concurrently up to embedConcurrency; values below 1 disable concurrency.
func NewDeduplicator(embedder Embedder, similarityThreshold float64, embedConcurrency int) *Deduplicator {
	if embedConcurrency < 1 {
		embedConcurrency = 1
	}
	return &Deduplicator{
		embedder:            embedder,
		similarityThreshold: similarityThreshold,
		embedConcurrency:    embedConcurrency,
		log:                 logger.Get(),
	}
}

// embeddingText extracts the text used for embedding: the title plus the
// first 500 bytes of the body, cut on a rune boundary.
func embeddingText(a core.Article) string {
	return a.Title + "\n\n" + core.Truncate(a.Content, 500)
}

// Cluster groups the given articles. Every input article appears in exactly
// one cluster of the result; an article whose embedding fetch fails becomes
// its own singleton cluster.
func (d *Deduplicator) Cluster(ctx context.Context, articles []core.Article) (*Result, error) {
	if len(articles) == 0 {
		return &Result{}, nil
	}

	embedded := d.fetchEmbeddings(ctx, articles)

	var clusters []core.Cluster
	failures := 0

	for _, article := range embedded {
		if len(article.Embedding) == 0 {
			failures++
			clusters = append(clusters, newSingleton(article, len(clusters)))
			continue
		}

		best := -1
		bestSim := -1.0
		for i := range clusters {
			if len(clusters[i].Centroid) != len(article.Embedding) {
				continue
			}
			sim := CosineSimilarity(article.Embedding, clusters[i].Centroid)
			// Strict > keeps the earliest-created cluster on ties.
			if sim > bestSim {
				bestSim = sim
				best = i
			}
		}

		if best >= 0 && bestSim >= d.similarityThreshold {
			clusters[best].Articles = append(clusters[best].Articles, article)
			clusters[best].Centroid = meanEmbedding(clusters[best].Articles)
		} else {
			clusters = append(clusters, newSingleton(article, len(clusters)))
		}
	}

	degraded := failures == len(articles)
	if degraded {
		d.log.Warn("Embedding oracle unavailable for whole batch, degraded to singleton clustering",
			"articles", len(articles))
	}

	d.log.Info("Clustered articles",
		"articles", len(articles), "clusters", len(clusters),
		"embed_failures", failures, "threshold", d.similarityThreshold)

	return &Result{Clusters: clusters, Degraded: degraded}, nil
}

// fetchEmbeddings attaches embeddings to articles that lack one, issuing
// oracle calls concurrently in a bounded group. The returned slice preserves
// arrival order so the assignment loop stays deterministic. Articles whose
// fetch fails are returned with a nil embedding.
func (d *Deduplicator) fetchEmbeddings(ctx context.Context, articles []core.Article) []core.Article {
	out := make([]core.Article, len(articles))
	copy(out, articles)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.embedConcurrency)

	for i := range out {
		if len(out[i].Embedding) > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			embedding, err := d.embedder.Embed(gctx, embeddingText(out[i]))
			if err != nil {
				d.log.Warn("Embedding fetch failed, article degrades to singleton cluster",
					"article_id", out[i].ID, "error", err.Error())
				return nil
			}
			out[i].Embedding = embedding
			return nil
		})
	}

	// Workers never return errors; Wait only observes context cancellation.
	_ = g.Wait()
	return out
}

func newSingleton(article core.Article, index int) core.Cluster {
	return core.Cluster{
		ID:        fmt.Sprintf("cluster_%04d", index),
		Articles:  []core.Article{article},
		Centroid:  article.Embedding,
		CreatedAt: time.Now().UTC(),
	}
}

// meanEmbedding computes the running-mean centroid over members that carry an
// embedding.
func meanEmbedding(articles []core.Article) []float64 {
	var centroid []float64
	count := 0
	for _, a := range articles {
		if len(a.Embedding) == 0 {
			continue
		}
		if centroid == nil {
			centroid = make([]float64, len(a.Embedding))
		}
		if len(a.Embedding) != len(centroid) {
			continue
		}
		for i, v := range a.Embedding {
			centroid[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range centroid {
		centroid[i] /= float64(count)
	}
	return centroid
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
