package codec

import "testing"

func TestGroupListParseAndFilter(t *testing.T) {
	lines := []string{
		"alt.binaries.test 5000 1 y",
		"alt.binaries.moovee 9999 100 y",
		"comp.lang.go 42 10 y",
		"alt.binaries.empty 5 10 y", // high < low: no articles retained
	}

	d := NewGroupListDecoder()
	for _, line := range lines {
		if !d.Detect(line) {
			t.Fatalf("expected Detect to claim %q", line)
		}
		step := d.Feed(line)
		if step.Kind != StepDone {
			t.Fatalf("expected StepDone for %q, got %+v", line, step)
		}
	}

	groups := d.Groups()
	if len(groups) != 4 {
		t.Fatalf("got %d groups, want 4", len(groups))
	}

	filtered := FilterSubstring(groups, "alt.binaries")
	if len(filtered) != 3 {
		t.Fatalf("filtered = %d groups, want 3", len(filtered))
	}

	for _, g := range groups {
		if g.Name == "alt.binaries.test" && g.Count != 5000 {
			t.Errorf("count for alt.binaries.test = %d, want 5000", g.Count)
		}
		if g.Name == "alt.binaries.empty" && g.Count != 0 {
			t.Errorf("count for alt.binaries.empty = %d, want 0 (high < low)", g.Count)
		}
	}
}
