package screen

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/search"
)

type stubGrouper struct {
	groups [][]int
	labels []string
	err    error
}

func (s *stubGrouper) ClusterIncidents(ctx context.Context, titles []string, subject string) ([][]int, []string, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.groups, s.labels, nil
}

func TestLabelSimilarity_CJKJaccard(t *testing.T) {
	t.Parallel()

	// 5 shared characters, 7 distinct in the union: must clear 0.6.
	score := LabelSimilarity("证监会调查", "证监会立案调查")
	if score < LabelMergeThreshold {
		t.Fatalf("expected similarity >= %v, got %f", LabelMergeThreshold, score)
	}

	score = LabelSimilarity("证监会调查", "AC米兰破产案")
	if score >= LabelMergeThreshold {
		t.Fatalf("expected dissimilar labels below threshold, got %f", score)
	}
}

func TestLabelSimilarity_NonCJKSubstring(t *testing.T) {
	t.Parallel()

	if score := LabelSimilarity("SEC probe", "Acme SEC probe widens"); score != 1.0 {
		t.Fatalf("expected substring labels to score 1.0, got %f", score)
	}
	if score := LabelSimilarity("SEC probe", "bankruptcy filing"); score != 0 {
		t.Fatalf("expected unrelated labels to score 0, got %f", score)
	}
}

func TestMergeByLabel(t *testing.T) {
	t.Parallel()

	clusters := []Cluster{
		{ID: "a", Label: "证监会调查", Articles: []search.Hit{{URL: "u1"}}, SourceTiers: []int{1}},
		{ID: "b", Label: "AC米兰破产案", Articles: []search.Hit{{URL: "u2"}}, SourceTiers: []int{2}},
		{ID: "c", Label: "证监会立案调查", Articles: []search.Hit{{URL: "u3"}}, SourceTiers: []int{3}},
	}

	merged := MergeByLabel(clusters, LabelMergeThreshold)
	if len(merged) != 2 {
		t.Fatalf("expected 2 clusters after merge, got %d", len(merged))
	}
	if len(merged[0].Articles) != 2 || merged[0].Articles[1].URL != "u3" {
		t.Fatalf("expected u3 merged into first cluster, got %+v", merged[0].Articles)
	}
	if len(merged[0].SourceTiers) != len(merged[0].Articles) {
		t.Fatalf("tier alignment broken after merge")
	}
}

func TestSelect_TierBound(t *testing.T) {
	t.Parallel()

	clusterer := NewClusterer(nil, ClustererOptions{MaxPerCluster: 3}, zerolog.Nop())
	cluster := Cluster{
		ID:    "x",
		Label: "incident",
		Articles: []search.Hit{
			{URL: "t3-first"},
			{URL: "t1-first"},
			{URL: "t2"},
			{URL: "t1-second"},
			{URL: "t3-second"},
		},
		SourceTiers: []int{3, 1, 2, 1, 3},
	}

	sel := clusterer.Select([]Cluster{cluster})
	if len(sel.ToAnalyze) != 3 || len(sel.Parked) != 2 {
		t.Fatalf("expected 3 analyzed and 2 parked, got %d/%d", len(sel.ToAnalyze), len(sel.Parked))
	}

	wantAnalyze := []string{"t1-first", "t1-second", "t2"}
	for i, want := range wantAnalyze {
		if sel.ToAnalyze[i].URL != want {
			t.Fatalf("toAnalyze[%d] = %q, want %q", i, sel.ToAnalyze[i].URL, want)
		}
	}
	wantParked := []string{"t3-first", "t3-second"}
	for i, want := range wantParked {
		if sel.Parked[i].URL != want {
			t.Fatalf("parked[%d] = %q, want %q", i, sel.Parked[i].URL, want)
		}
	}
}

func TestClusterBatch_FallbackOnClassifierFailure(t *testing.T) {
	t.Parallel()

	clusterer := NewClusterer(&stubGrouper{err: errors.New("boom")}, ClustererOptions{}, zerolog.Nop())
	batch := []search.Hit{
		{URL: "https://a.example.com/1", Title: "one"},
		{URL: "https://b.example.com/2", Title: "two"},
	}

	clusters := clusterer.ClusterBatch(context.Background(), batch, "subject")
	if len(clusters) != len(batch) {
		t.Fatalf("expected singleton fallback to keep every article, got %d clusters", len(clusters))
	}
	for _, cluster := range clusters {
		if err := cluster.Validate(); err != nil {
			t.Fatalf("invalid cluster: %v", err)
		}
	}
}

func TestClusterBatch_UnassignedArticlesKept(t *testing.T) {
	t.Parallel()

	clusterer := NewClusterer(&stubGrouper{
		groups: [][]int{{1, 3}},
		labels: []string{"incident"},
	}, ClustererOptions{}, zerolog.Nop())

	batch := []search.Hit{
		{URL: "https://a.example.com/1", Title: "one"},
		{URL: "https://b.example.com/2", Title: "two"},
		{URL: "https://c.example.com/3", Title: "three"},
	}

	clusters := clusterer.ClusterBatch(context.Background(), batch, "subject")
	total := 0
	for _, cluster := range clusters {
		total += len(cluster.Articles)
	}
	if total != len(batch) {
		t.Fatalf("expected all %d articles retained, got %d", len(batch), total)
	}
}

func TestGroupNearDuplicateTitles(t *testing.T) {
	t.Parallel()

	titles := []string{
		"Acme Corp fined by regulator over fraud scheme",
		"Acme Corp fined by regulators over fraud scheme",
		"Completely different story",
	}
	groups := GroupNearDuplicateTitles(titles, NearDuplicateThreshold)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %v", len(groups), groups)
	}
	if len(groups[0]) != 2 {
		t.Fatalf("expected first pair grouped, got %v", groups[0])
	}
}
