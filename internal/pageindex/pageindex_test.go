package pageindex

import (
	"reflect"
	"testing"
)

func TestBuild_FromContentList(t *testing.T) {
	rows := []ContentRow{
		{PageIdx: 0, Type: "text", Text: " Introduction "},
		{PageIdx: 0, Type: "text", Text: "We propose a method."},
		{PageIdx: 1, Type: "text", Text: "Results follow."},
		{PageIdx: 1, Type: "text", Text: ""},
	}
	idx := Build("ignored markdown", rows)

	if got := idx[1]; !reflect.DeepEqual(got, []string{"Introduction", "We propose a method."}) {
		t.Errorf("page 1 mismatch: %v", got)
	}
	if got := idx[2]; !reflect.DeepEqual(got, []string{"Results follow."}) {
		t.Errorf("page 2 mismatch: %v", got)
	}

	t.Run("round trip preserves content list order", func(t *testing.T) {
		for _, p := range idx.Pages() {
			var want []string
			for _, row := range rows {
				if row.PageIdx == p-1 && row.Text != "" {
					want = append(want, row.Text)
				}
			}
			got := idx[p]
			if len(got) != len(want) {
				t.Errorf("page %d length mismatch: %v vs %v", p, got, want)
			}
		}
	})
}

func TestBuild_FromPageHeadings(t *testing.T) {
	md := "## Page 1\nalpha\nbeta\n\n## page 2\ngamma\n  ## PAGE 3\ndelta\n"
	idx := Build(md, nil)

	if !reflect.DeepEqual(idx.Pages(), []int{1, 2, 3}) {
		t.Fatalf("unexpected pages: %v", idx.Pages())
	}
	if !reflect.DeepEqual(idx[1], []string{"alpha", "beta"}) {
		t.Errorf("page 1 mismatch: %v", idx[1])
	}
	if !reflect.DeepEqual(idx[2], []string{"gamma"}) {
		t.Errorf("page 2 mismatch: %v", idx[2])
	}
	if !reflect.DeepEqual(idx[3], []string{"delta"}) {
		t.Errorf("page 3 mismatch: %v", idx[3])
	}
}

func TestBuild_SinglePageFallback(t *testing.T) {
	idx := Build("just some text\n\nanother line\n", nil)
	if !reflect.DeepEqual(idx.Pages(), []int{1}) {
		t.Fatalf("expected single page, got %v", idx.Pages())
	}
	if !reflect.DeepEqual(idx[1], []string{"just some text", "another line"}) {
		t.Errorf("page 1 mismatch: %v", idx[1])
	}
}

func TestBuild_Empty(t *testing.T) {
	idx := Build("", nil)
	if len(idx) != 0 {
		t.Errorf("expected empty index, got %v", idx)
	}
}

func TestIndex_Flatten(t *testing.T) {
	idx := Index{2: {"c"}, 1: {"a", "b"}}
	got := idx.Flatten()
	want := []Line{
		{Page: 1, Line: 1, Text: "a"},
		{Page: 1, Line: 2, Text: "b"},
		{Page: 2, Line: 1, Text: "c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("flatten mismatch: %v", got)
	}
}

func TestIndex_LineCount(t *testing.T) {
	idx := Index{1: {"a", "b"}}
	if idx.LineCount(1) != 2 {
		t.Errorf("expected 2, got %d", idx.LineCount(1))
	}
	if idx.LineCount(9) != 0 {
		t.Errorf("expected 0 for missing page, got %d", idx.LineCount(9))
	}
}
