package structid

import "testing"

func TestValidateClean(t *testing.T) {
	report := Validate(map[string]ID{
		"a": "1.",
		"b": "2.",
		"c": "1.1.",
		"d": "1.2.",
	})
	if !report.IsValid {
		t.Errorf("expected valid report, got issues %v", report.Issues)
	}
	if len(report.Issues) != 0 {
		t.Errorf("expected no issues, got %d", len(report.Issues))
	}
}

func TestValidateMalformed(t *testing.T) {
	report := Validate(map[string]ID{
		"a": "1.",
		"b": "not-an-id",
	})
	if report.IsValid {
		t.Error("expected invalid report")
	}
	if report.Counts[IssueMalformed] != 1 {
		t.Errorf("expected 1 malformed issue, got %d", report.Counts[IssueMalformed])
	}
}

func TestValidateDuplicate(t *testing.T) {
	report := Validate(map[string]ID{
		"a": "1.",
		"b": "1.",
	})
	if report.Counts[IssueDuplicate] != 1 {
		t.Errorf("expected 1 duplicate issue, got %d", report.Counts[IssueDuplicate])
	}
}

func TestValidateGap(t *testing.T) {
	report := Validate(map[string]ID{
		"a": "1.",
		"b": "1.1.",
		"c": "1.3.", // 1.2. is missing
	})
	if report.Counts[IssueGap] != 1 {
		t.Errorf("expected 1 gap issue, got %d: %v", report.Counts[IssueGap], report.Issues)
	}
}

func TestValidateDistinctKinds(t *testing.T) {
	report := Validate(map[string]ID{
		"a": "1.",
		"b": "broken",
		"c": "1.",
		"d": "3.", // gap: 2. missing
	})
	for _, kind := range []IssueKind{IssueMalformed, IssueDuplicate, IssueGap} {
		if report.Counts[kind] == 0 {
			t.Errorf("expected at least one %s issue", kind)
		}
	}
}
