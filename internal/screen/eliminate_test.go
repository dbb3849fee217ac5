package screen

import (
	"reflect"
	"testing"

	"horse.fit/amscreen/internal/search"
)

func TestNormalizeURL_StripsTrackingAndTrailingSlash(t *testing.T) {
	t.Parallel()

	got := NormalizeURL("https://Example.COM:443/news/path/?utm_source=abc&fbclid=123&b=2&a=1")
	want := "https://example.com/news/path?a=1&b=2"
	if got != want {
		t.Fatalf("unexpected normalized url: got %q want %q", got, want)
	}
}

func TestNormalizeURL_UnparseableKeepsInput(t *testing.T) {
	t.Parallel()

	if got := NormalizeURL("  not a url  "); got != "not a url" {
		t.Fatalf("expected trimmed input back, got %q", got)
	}
}

func TestEliminate_PartitionIsComplete(t *testing.T) {
	t.Parallel()

	hits := []search.Hit{
		{URL: "https://reuters.com/article/1", Title: "张三涉嫌欺诈被调查", Snippet: ""},
		{URL: "https://pinterest.com/pin/2", Title: "张三", Snippet: ""},
		{URL: "https://linkedin.com/in/zhang", Title: "张三 profile", Snippet: ""},
		{URL: "https://sec.gov/filing/3", Title: "Enforcement action", Snippet: ""},
		{URL: "https://news.example.com/4", Title: "贸易公司年度报告", Snippet: "与本案无关"},
	}

	part := Eliminate(hits, "张三")

	total := len(part.Passed) + len(part.Bypassed) + len(part.Eliminated)
	if total != len(hits) {
		t.Fatalf("partition lost hits: passed=%d bypassed=%d eliminated=%d input=%d",
			len(part.Passed), len(part.Bypassed), len(part.Eliminated), len(hits))
	}

	if len(part.Bypassed) != 1 || part.Bypassed[0].URL != "https://sec.gov/filing/3" {
		t.Fatalf("expected sec.gov hit bypassed, got %+v", part.Bypassed)
	}
	if len(part.Passed) != 1 || part.Passed[0].URL != "https://reuters.com/article/1" {
		t.Fatalf("expected only the reuters hit to pass, got %+v", part.Passed)
	}

	breakdownTotal := 0
	for _, count := range part.Breakdown {
		breakdownTotal += count
	}
	if breakdownTotal != len(part.Eliminated) {
		t.Fatalf("breakdown total %d does not match eliminated %d", breakdownTotal, len(part.Eliminated))
	}
}

func TestEliminate_Deterministic(t *testing.T) {
	t.Parallel()

	hits := []search.Hit{
		{URL: "https://reuters.com/a", Title: "张三被起诉"},
		{URL: "https://music.163.com/b", Title: "张三 新歌"},
		{URL: "https://news.example.com/c", Title: "李四的公司"},
	}

	first := Eliminate(hits, "张三")
	second := Eliminate(hits, "张三")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("elimination is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestJudgeCJKName_PartOfLongerName(t *testing.T) {
	t.Parallel()

	// 张三丰 contains 张三 but is a different person.
	verdict, reason := judgeCJKName("太极宗师张三丰的传说", "张三")
	if verdict != VerdictEliminated || reason != ReasonPartOfLongerName {
		t.Fatalf("expected part_of_longer_name, got verdict=%s reason=%s", verdict, reason)
	}

	// A separate clean occurrence rescues the hit.
	verdict, _ = judgeCJKName("张三会见张三丰", "张三")
	if verdict != VerdictPassed {
		t.Fatalf("expected pass when one occurrence is not flanked, got %s", verdict)
	}
}

func TestJudgeCJKName_NonContiguousWithinGap(t *testing.T) {
	t.Parallel()

	verdict, _ := judgeCJKName("张氏家族的三个公司", "张三")
	if verdict != VerdictPassed {
		t.Fatalf("expected nearby non-contiguous characters to pass, got %s", verdict)
	}
}

func TestJudgeCJKName_ScatteredCharacters(t *testing.T) {
	t.Parallel()

	// 张 and 三 both appear, but far apart across unrelated sentences.
	text := "张家界风景区迎来旅游旺季，当地政府表示今年前三季度游客数量创下历史新高"
	verdict, reason := judgeCJKName(text, "张三")
	if verdict != VerdictEliminated || reason != ReasonNameCharacterSeparation {
		t.Fatalf("expected name_character_separation, got verdict=%s reason=%s", verdict, reason)
	}
}

func TestJudgeCJKName_MissingCharacter(t *testing.T) {
	t.Parallel()

	verdict, reason := judgeCJKName("李四的新闻报道", "张三")
	if verdict != VerdictEliminated || reason != ReasonMissingRequiredToken {
		t.Fatalf("expected missing_required_token, got verdict=%s reason=%s", verdict, reason)
	}
}

func TestJudgeLatinName(t *testing.T) {
	t.Parallel()

	verdict, _ := judgeLatinName("John Smith charged with fraud", "John Smith")
	if verdict != VerdictPassed {
		t.Fatalf("expected pass for whole-word match, got %s", verdict)
	}

	verdict, reason := judgeLatinName("Johnson & Smithson quarterly report", "John Smith")
	if verdict != VerdictEliminated || reason != ReasonPartOfLongerName {
		t.Fatalf("expected part_of_longer_name, got verdict=%s reason=%s", verdict, reason)
	}

	verdict, reason = judgeLatinName("Acme quarterly report", "John Smith")
	if verdict != VerdictEliminated || reason != ReasonMissingRequiredToken {
		t.Fatalf("expected missing_required_token, got verdict=%s reason=%s", verdict, reason)
	}
}

func TestTier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want int
	}{
		{"https://www.reuters.com/article/x", 1},
		{"https://finance.sina.com.cn/news/y", 2},
		{"https://smallblog.example.org/z", 3},
	}
	for _, tc := range cases {
		if got := Tier(tc.url); got != tc.want {
			t.Fatalf("Tier(%q) = %d, want %d", tc.url, got, tc.want)
		}
	}
}
