package classifierschema

import "testing"

func TestDecodeTriageResult(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"red": [{"index": 1, "reason": "fraud conviction"}],
		"amber": [{"index": 3, "reason": "ongoing investigation"}],
		"green": [{"index": 2}]
	}`)

	result, err := DecodeTriageResult(raw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Red) != 1 || result.Red[0].Index != 1 {
		t.Fatalf("unexpected red items: %+v", result.Red)
	}
	if result.Amber[0].Reason != "ongoing investigation" {
		t.Fatalf("unexpected amber reason: %q", result.Amber[0].Reason)
	}
}

func TestDecodeTriageResult_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"red": [{"index": 9}], "amber": [], "green": []}`)
	if _, err := DecodeTriageResult(raw, 3); err == nil {
		t.Fatalf("expected out-of-range index to fail")
	}
}

func TestDecodeTriageResult_MissingField(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"red": [], "amber": []}`)
	if _, err := DecodeTriageResult(raw, 3); err == nil {
		t.Fatalf("expected missing green field to fail validation")
	}
}

func TestDecodeClusterResult(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"groups": [[1, 3], [2]], "labels": ["证监会调查", "破产重整"]}`)
	result, err := DecodeClusterResult(raw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Groups) != 2 || result.Labels[0] != "证监会调查" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDecodeClusterResult_LabelCountMismatch(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"groups": [[1], [2]], "labels": ["only one"]}`)
	if _, err := DecodeClusterResult(raw, 2); err == nil {
		t.Fatalf("expected label/group count mismatch to fail")
	}
}

func TestDecodeClusterResult_DuplicateIndex(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"groups": [[1, 2], [2]], "labels": ["a", "b"]}`)
	if _, err := DecodeClusterResult(raw, 2); err == nil {
		t.Fatalf("expected duplicated index across groups to fail")
	}
}

func TestDecodeAnalyzeResult(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"is_adverse": true, "severity": "red", "headline": "h", "summary": "s"}`)
	result, err := DecodeAnalyzeResult(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Severity != "RED" {
		t.Fatalf("expected severity normalized to RED, got %q", result.Severity)
	}
}

func TestDecodeAnalyzeResult_AdverseWithoutSeverity(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"is_adverse": true}`)
	if _, err := DecodeAnalyzeResult(raw); err == nil {
		t.Fatalf("expected adverse result without severity to fail")
	}
}

func TestDecodeStrictJSON_TrailingContent(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"groups": []} trailing`)
	if _, err := DecodeTitleGroups(raw, 5); err == nil {
		t.Fatalf("expected trailing content to fail")
	}
}

func TestDecodeTitleGroups_Empty(t *testing.T) {
	t.Parallel()

	if _, err := DecodeTitleGroups([]byte("  "), 5); err == nil {
		t.Fatalf("expected empty payload to fail")
	}
}
