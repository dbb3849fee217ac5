package screen

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/search"
)

type stubTitleGrouper struct {
	groups [][]int
	err    error
	calls  int
}

func (s *stubTitleGrouper) GroupTitles(ctx context.Context, titles []string, subject string) ([][]int, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.groups, nil
}

func TestDeduper_SkipsBelowMinInput(t *testing.T) {
	t.Parallel()

	grouper := &stubTitleGrouper{}
	deduper := NewDeduper(grouper, DeduperOptions{MinInput: 5}, zerolog.Nop())

	hits := []search.Hit{{Title: "a"}, {Title: "b"}}
	outcome, err := deduper.Run(context.Background(), hits, "subject", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Skipped || len(outcome.Unique) != 2 || grouper.calls != 0 {
		t.Fatalf("expected skip without classifier calls, got %+v calls=%d", outcome, grouper.calls)
	}
}

func TestDeduper_CollapsesGroups(t *testing.T) {
	t.Parallel()

	grouper := &stubTitleGrouper{groups: [][]int{{1, 3}}}
	deduper := NewDeduper(grouper, DeduperOptions{MinInput: 1, BatchSize: 10}, zerolog.Nop())

	hits := []search.Hit{
		{URL: "u1", Title: "story"},
		{URL: "u2", Title: "other"},
		{URL: "u3", Title: "story again"},
	}
	outcome, err := deduper.Run(context.Background(), hits, "subject", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Unique) != 2 || len(outcome.Duplicates) != 1 {
		t.Fatalf("unexpected partition: unique=%d duplicates=%d", len(outcome.Unique), len(outcome.Duplicates))
	}
	if outcome.Duplicates[0].URL != "u3" {
		t.Fatalf("expected u3 marked duplicate, got %q", outcome.Duplicates[0].URL)
	}
}

func TestDeduper_ClassifierFailureKeepsBatch(t *testing.T) {
	t.Parallel()

	grouper := &stubTitleGrouper{err: errors.New("malformed response")}
	deduper := NewDeduper(grouper, DeduperOptions{MinInput: 1, BatchSize: 10}, zerolog.Nop())

	hits := []search.Hit{{URL: "u1"}, {URL: "u2"}}
	outcome, err := deduper.Run(context.Background(), hits, "subject", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Unique) != 2 || len(outcome.Duplicates) != 0 {
		t.Fatalf("expected failure to keep all hits, got %+v", outcome)
	}
}

func TestDetectCompanies(t *testing.T) {
	t.Parallel()

	hits := []search.Hit{
		{
			URL:     "https://www.gsxt.gov.cn/record/1",
			Title:   "张三 企业信用信息",
			Snippet: "法定代表人：张三。关联企业：华夏贸易有限公司、远大集团",
		},
		{
			URL:     "https://opencorporates.com/companies/2",
			Title:   "Zhang San - officer",
			Snippet: "Director at Pacific Trading Ltd since 2019",
		},
		{
			URL:     "https://news.example.com/3",
			Title:   "无关新闻 某某有限公司",
			Snippet: "",
		},
	}

	companies := DetectCompanies(hits, "张三")
	want := map[string]bool{
		"华夏贸易有限公司":        true,
		"远大集团":            true,
		"Pacific Trading Ltd": true,
	}
	if len(companies) != len(want) {
		t.Fatalf("unexpected companies: %v", companies)
	}
	for _, company := range companies {
		if !want[company] {
			t.Fatalf("unexpected company %q in %v", company, companies)
		}
	}
}
