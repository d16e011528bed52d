package diffreg

import (
	"strings"
	"testing"
)

func diffStrings(t *testing.T, a, b string, opts Options) *Result {
	t.Helper()
	res, err := Diff(strings.NewReader(a), strings.NewReader(b), opts)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	return res
}

func TestDiffSame(t *testing.T) {
	res := diffStrings(t, "a\nb\nc\n", "a\nb\nc\n", Options{})
	if res.Rval != Same {
		t.Fatalf("Rval = %v, want Same", res.Rval)
	}
	if len(res.Changes) != 0 {
		t.Fatalf("Changes = %v, want none", res.Changes)
	}
}

func TestDiffBinary(t *testing.T) {
	res := diffStrings(t, "a\x00b\n", "a\nb\n", Options{})
	if res.Rval != Binary {
		t.Fatalf("Rval = %v, want Binary", res.Rval)
	}
}

func TestDiffForceASCIIOverridesBinary(t *testing.T) {
	res := diffStrings(t, "a\x00b\n", "a\x00b\n", Options{Flags: FlagForceASCII})
	if res.Rval != Same {
		t.Fatalf("Rval = %v, want Same", res.Rval)
	}
}

func TestDiffPureInsert(t *testing.T) {
	res := diffStrings(t, "a\nb\n", "a\nx\nb\n", Options{})
	if res.Rval != Differ {
		t.Fatalf("Rval = %v, want Differ", res.Rval)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("Changes = %v, want 1 change", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind() != Insert {
		t.Fatalf("Kind = %v, want Insert", c.Kind())
	}
	if c.NewStart != 2 || c.NewEnd != 2 {
		t.Fatalf("c = %+v, want inserted line 2", c)
	}
}

func TestDiffPureDelete(t *testing.T) {
	res := diffStrings(t, "a\nx\nb\n", "a\nb\n", Options{})
	if len(res.Changes) != 1 {
		t.Fatalf("Changes = %v, want 1 change", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind() != Delete {
		t.Fatalf("Kind = %v, want Delete", c.Kind())
	}
	if c.OldStart != 2 || c.OldEnd != 2 {
		t.Fatalf("c = %+v, want deleted line 2", c)
	}
}

func TestDiffModify(t *testing.T) {
	res := diffStrings(t, "a\nb\nc\n", "a\nB\nc\n", Options{})
	if len(res.Changes) != 1 {
		t.Fatalf("Changes = %v, want 1 change", res.Changes)
	}
	c := res.Changes[0]
	if c.Kind() != Modify {
		t.Fatalf("Kind = %v, want Modify", c.Kind())
	}
	if c.OldStart != 2 || c.OldEnd != 2 || c.NewStart != 2 || c.NewEnd != 2 {
		t.Fatalf("c = %+v, want line 2 changed", c)
	}
}

func TestDiffPrefixSuffixPruning(t *testing.T) {
	old := "same1\nsame2\nold\nsame3\nsame4\n"
	new := "same1\nsame2\nnew\nsame3\nsame4\n"
	res := diffStrings(t, old, new, Options{})
	if len(res.Changes) != 1 {
		t.Fatalf("Changes = %v, want 1 change", res.Changes)
	}
	c := res.Changes[0]
	if c.OldStart != 3 || c.OldEnd != 3 || c.NewStart != 3 || c.NewEnd != 3 {
		t.Fatalf("c = %+v, want only line 3 flagged", c)
	}
}

func TestDiffNoTrailingNewline(t *testing.T) {
	res := diffStrings(t, "a\nb", "a\nb\n", Options{})
	if res.Rval != Differ {
		t.Fatalf("Rval = %v, want Differ (missing trailing newline counts as a change)", res.Rval)
	}
}

func TestDiffLargeInterleavedMinimal(t *testing.T) {
	// A case with enough candidates that the default bound could, in
	// principle, truncate search; Minimal should still find the true LCS.
	var oldB, newB strings.Builder
	for i := 0; i < 50; i++ {
		oldB.WriteString("line\n")
	}
	oldB.WriteString("unique-old\n")
	for i := 0; i < 50; i++ {
		newB.WriteString("line\n")
	}
	newB.WriteString("unique-new\n")

	res := diffStrings(t, oldB.String(), newB.String(), Options{Flags: FlagMinimal})
	if res.Rval != Differ {
		t.Fatalf("Rval = %v, want Differ", res.Rval)
	}
	foundLast := false
	for _, c := range res.Changes {
		if c.OldStart == 51 && c.NewStart == 51 {
			foundLast = true
		}
	}
	if !foundLast {
		t.Fatalf("Changes = %v, want the final line flagged as changed", res.Changes)
	}
}

func TestDiffIgnoreCase(t *testing.T) {
	res := diffStrings(t, "Hello\n", "hello\n", Options{Flags: FlagIgnoreCase})
	if res.Rval != Same {
		t.Fatalf("Rval = %v, want Same under FlagIgnoreCase", res.Rval)
	}
}

func TestDiffFoldBlanksRequiresBlankOnBothSides(t *testing.T) {
	// Same amount of whitespace doesn't matter, but presence/absence does:
	// "a b" vs "ab" differ even with FoldBlanks since one side has no blank.
	res := diffStrings(t, "a  b\n", "a b\n", Options{Flags: FlagFoldBlanks})
	if res.Rval != Same {
		t.Fatalf("Rval = %v, want Same: differing amounts of blank should fold", res.Rval)
	}

	res2 := diffStrings(t, "a b\n", "ab\n", Options{Flags: FlagFoldBlanks})
	if res2.Rval != Differ {
		t.Fatalf("Rval = %v, want Differ: blank present on only one side", res2.Rval)
	}
}

func TestDiffIgnoreBlanksStripsEntirely(t *testing.T) {
	res := diffStrings(t, "a b\n", "ab\n", Options{Flags: FlagIgnoreBlanks})
	if res.Rval != Same {
		t.Fatalf("Rval = %v, want Same: IgnoreBlanks strips blanks independently", res.Rval)
	}
}

func TestUnifiedHunksMergeWithinContext(t *testing.T) {
	changes := []RawChange{
		{OldStart: 5, OldEnd: 5, NewStart: 5, NewEnd: 5},
		{OldStart: 8, OldEnd: 8, NewStart: 8, NewEnd: 8},
	}
	hunks := unifiedHunks(changes, 20, 20, 3, nil)
	if len(hunks) != 1 {
		t.Fatalf("got %d hunks, want 1 merged hunk (gap %d <= 2*context)", len(hunks), 8-5)
	}
}

func TestUnifiedHunksSplitBeyondContext(t *testing.T) {
	changes := []RawChange{
		{OldStart: 5, OldEnd: 5, NewStart: 5, NewEnd: 5},
		{OldStart: 20, OldEnd: 20, NewStart: 20, NewEnd: 20},
	}
	hunks := unifiedHunks(changes, 30, 30, 3, nil)
	if len(hunks) != 2 {
		t.Fatalf("got %d hunks, want 2 separate hunks (gap exceeds 2*context)", len(hunks))
	}
}

func TestUniRangeBounds(t *testing.T) {
	cases := []struct {
		a, b           int
		wantS, wantCnt int
	}{
		{1, 5, 1, 5},
		{4, 4, 4, 1},
		{4, 3, 3, 0},
	}
	for _, c := range cases {
		s, cnt := uniRangeBounds(c.a, c.b)
		if s != c.wantS || cnt != c.wantCnt {
			t.Errorf("uniRangeBounds(%d,%d) = (%d,%d), want (%d,%d)", c.a, c.b, s, cnt, c.wantS, c.wantCnt)
		}
	}
}

func TestWriteUnifiedFormat(t *testing.T) {
	res := diffStrings(t, "a\nb\nc\n", "a\nB\nc\n", Options{Format: FormatUnified})
	var sb strings.Builder
	if err := res.WriteText(&sb, Options{Format: FormatUnified, OldLabel: "old", NewLabel: "new"}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := sb.String()
	if !strings.HasPrefix(out, "--- old\n+++ new\n") {
		t.Fatalf("output = %q, want unified header prefix", out)
	}
	if !strings.Contains(out, "-b\n") || !strings.Contains(out, "+B\n") {
		t.Fatalf("output = %q, want -b/+B lines", out)
	}
}

func TestWriteNormalFormat(t *testing.T) {
	res := diffStrings(t, "a\nb\nc\n", "a\nB\nc\n", Options{Format: FormatNormal})
	var sb strings.Builder
	if err := res.WriteText(&sb, Options{Format: FormatNormal}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := sb.String()
	if !strings.HasPrefix(out, "2c2\n") {
		t.Fatalf("output = %q, want ed-style 2c2 header", out)
	}
	if !strings.Contains(out, "< b\n") || !strings.Contains(out, "> B\n") {
		t.Fatalf("output = %q, want < b / > B lines", out)
	}
}

func TestWriteUnifiedNoNewlineAtEOF(t *testing.T) {
	res := diffStrings(t, "a\nb", "a\nB", Options{Format: FormatUnified})
	var sb strings.Builder
	if err := res.WriteText(&sb, Options{Format: FormatUnified}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := sb.String()
	if strings.Count(out, "\\ No newline at end of file\n") != 2 {
		t.Fatalf("output = %q, want one trailer for each of -b/+B", out)
	}
}

func TestWriteNormalExpandTabs(t *testing.T) {
	res := diffStrings(t, "a\n", "a\tb\n", Options{Format: FormatNormal})
	var sb strings.Builder
	if err := res.WriteText(&sb, Options{Format: FormatNormal, Flags: FlagExpandTabs}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if strings.Contains(sb.String(), "\t") {
		t.Fatalf("output = %q, want tabs expanded to spaces", sb.String())
	}
}

func TestWriteNormalHeaderPrint(t *testing.T) {
	res := diffStrings(t, "a\n", "b\n", Options{Format: FormatNormal})
	var sb strings.Builder
	opts := Options{Format: FormatNormal, Flags: FlagHeaderPrint, OldLabel: "x", NewLabel: "y"}
	if err := res.WriteText(&sb, opts); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.HasPrefix(sb.String(), "diff x y\n") {
		t.Fatalf("output = %q, want leading diff-header line", sb.String())
	}
}

// TestDiffIgnoreBlanksFinalLineNoNewline documents check()'s byte-level
// re-verification staying correct on a final, unterminated line: the
// trailing blank run on the old side and its absence on the new side
// must still compare as equal bytewise once blanks are stripped, with
// both sides correctly walked to their own EOF rather than one line's
// length governing the other's.
func TestDiffIgnoreBlanksFinalLineNoNewline(t *testing.T) {
	res := diffStrings(t, "a\nb  ", "a\nb", Options{Flags: FlagIgnoreBlanks})
	if res.Rval != Same {
		t.Fatalf("Rval = %v, want Same: trailing blanks on an unterminated final line are still ignored", res.Rval)
	}
}

func TestIsqrt(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 4: 2, 10: 3, 256: 16, 1000: 31}
	for n, want := range cases {
		if got := isqrt(n); got != want {
			t.Errorf("isqrt(%d) = %d, want %d", n, got, want)
		}
	}
}
