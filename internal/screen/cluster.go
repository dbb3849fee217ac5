package screen

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/search"
)

const (
	DefaultClusterBatchSize = 40
	DefaultMaxPerCluster    = 5

	// LabelMergeThreshold is the minimum label similarity for two clusters
	// from different batches to be considered the same incident.
	LabelMergeThreshold = 0.6
)

// Cluster groups articles that report on the same real-world incident.
// Invariant: len(Articles) == len(SourceTiers), index-aligned.
type Cluster struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	Articles    []search.Hit `json:"articles"`
	SourceTiers []int        `json:"source_tiers"`
}

// Selection is the outcome of bounding per-incident analysis cost:
// at most maxPerCluster representative articles per cluster go to analysis,
// the rest are parked as corroborating sources.
type Selection struct {
	Clusters  []Cluster    `json:"clusters"`
	ToAnalyze []search.Hit `json:"to_analyze"`
	Parked    []search.Hit `json:"parked"`
}

// IncidentGrouper asks the external classifier to partition a batch of
// titles into incident groups with a short label per group.
type IncidentGrouper interface {
	ClusterIncidents(ctx context.Context, titles []string, subject string) (groups [][]int, labels []string, err error)
}

type ClustererOptions struct {
	BatchSize     int
	MaxPerCluster int
}

type Clusterer struct {
	grouper       IncidentGrouper
	batchSize     int
	maxPerCluster int
	logger        zerolog.Logger
}

func NewClusterer(grouper IncidentGrouper, opts ClustererOptions, logger zerolog.Logger) *Clusterer {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultClusterBatchSize
	}
	maxPerCluster := opts.MaxPerCluster
	if maxPerCluster <= 0 {
		maxPerCluster = DefaultMaxPerCluster
	}
	return &Clusterer{
		grouper:       grouper,
		batchSize:     batchSize,
		maxPerCluster: maxPerCluster,
		logger:        logger,
	}
}

func (c *Clusterer) BatchSize() int {
	return c.batchSize
}

// Batches splits the input into fixed-size batches. The caller drives the
// batch loop so it can checkpoint after each one.
func (c *Clusterer) Batches(hits []search.Hit) [][]search.Hit {
	return ChunkHits(hits, c.batchSize)
}

// ClusterBatch partitions one batch by incident. A classifier failure falls
// back to one cluster per article so no article is silently dropped.
func (c *Clusterer) ClusterBatch(ctx context.Context, batch []search.Hit, subject string) []Cluster {
	if len(batch) == 0 {
		return nil
	}

	titles := make([]string, 0, len(batch))
	for _, hit := range batch {
		titles = append(titles, hit.Title)
	}

	groups, labels, err := c.grouper.ClusterIncidents(ctx, titles, subject)
	if err != nil {
		c.logger.Warn().Err(err).Int("batch_size", len(batch)).
			Msg("incident clustering failed; falling back to singleton clusters")
		return singletonClusters(batch)
	}

	assigned := make(map[int]struct{}, len(batch))
	clusters := make([]Cluster, 0, len(groups))
	for gi, group := range groups {
		cluster := Cluster{
			ID:    uuid.NewString(),
			Label: labels[gi],
		}
		for _, index := range group {
			hit := batch[index-1]
			cluster.Articles = append(cluster.Articles, hit)
			cluster.SourceTiers = append(cluster.SourceTiers, Tier(hit.URL))
			assigned[index-1] = struct{}{}
		}
		clusters = append(clusters, cluster)
	}

	// Articles the classifier left out of every group still move forward.
	for i, hit := range batch {
		if _, ok := assigned[i]; ok {
			continue
		}
		clusters = append(clusters, Cluster{
			ID:          uuid.NewString(),
			Label:       hit.Title,
			Articles:    []search.Hit{hit},
			SourceTiers: []int{Tier(hit.URL)},
		})
	}

	return clusters
}

func singletonClusters(batch []search.Hit) []Cluster {
	clusters := make([]Cluster, 0, len(batch))
	for _, hit := range batch {
		clusters = append(clusters, Cluster{
			ID:          uuid.NewString(),
			Label:       hit.Title,
			Articles:    []search.Hit{hit},
			SourceTiers: []int{Tier(hit.URL)},
		})
	}
	return clusters
}

// MergeByLabel unions clusters whose labels are similar enough, greedily in
// input order so each cluster is visited once. Merging appends article
// lists; it never re-clusters.
func MergeByLabel(clusters []Cluster, threshold float64) []Cluster {
	merged := make([]Cluster, 0, len(clusters))
	for _, cluster := range clusters {
		mergedInto := -1
		for mi := range merged {
			if LabelSimilarity(merged[mi].Label, cluster.Label) >= threshold {
				mergedInto = mi
				break
			}
		}
		if mergedInto < 0 {
			merged = append(merged, cluster)
			continue
		}
		merged[mergedInto].Articles = append(merged[mergedInto].Articles, cluster.Articles...)
		merged[mergedInto].SourceTiers = append(merged[mergedInto].SourceTiers, cluster.SourceTiers...)
	}
	return merged
}

// Select bounds analysis cost per incident: within every cluster, articles
// are ranked by source tier ascending with original order as the tie-break,
// and the first maxPerCluster go to analysis. The rest are parked.
func (c *Clusterer) Select(clusters []Cluster) Selection {
	sel := Selection{Clusters: clusters}
	for _, cluster := range clusters {
		order := tierOrder(cluster.SourceTiers)
		for rank, idx := range order {
			if rank < c.maxPerCluster {
				sel.ToAnalyze = append(sel.ToAnalyze, cluster.Articles[idx])
			} else {
				sel.Parked = append(sel.Parked, cluster.Articles[idx])
			}
		}
	}
	return sel
}

// tierOrder returns article indices sorted by tier ascending, stable on the
// original order.
func tierOrder(tiers []int) []int {
	order := make([]int, 0, len(tiers))
	for tier := 1; tier <= 3; tier++ {
		for i, t := range tiers {
			if t == tier {
				order = append(order, i)
			}
		}
	}
	// Tiers outside 1..3 should not exist; keep them last if they do.
	for i, t := range tiers {
		if t < 1 || t > 3 {
			order = append(order, i)
		}
	}
	return order
}

// FindCluster returns the cluster containing the given normalized URL.
func FindCluster(clusters []Cluster, normalizedURL string) (Cluster, bool) {
	for _, cluster := range clusters {
		for _, article := range cluster.Articles {
			if NormalizeURL(article.URL) == normalizedURL {
				return cluster, true
			}
		}
	}
	return Cluster{}, false
}

// ChunkHits splits hits into fixed-size chunks, preserving order.
func ChunkHits(hits []search.Hit, size int) [][]search.Hit {
	if size <= 0 {
		return [][]search.Hit{hits}
	}
	chunks := make([][]search.Hit, 0, (len(hits)+size-1)/size)
	for start := 0; start < len(hits); start += size {
		end := start + size
		if end > len(hits) {
			end = len(hits)
		}
		chunks = append(chunks, hits[start:end])
	}
	return chunks
}

// Validate checks the Cluster invariant before persisting.
func (c Cluster) Validate() error {
	if len(c.Articles) != len(c.SourceTiers) {
		return fmt.Errorf("cluster %s: articles (%d) and source tiers (%d) out of alignment", c.ID, len(c.Articles), len(c.SourceTiers))
	}
	return nil
}
