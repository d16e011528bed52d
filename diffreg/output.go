package diffreg

import (
	"fmt"
	"io"
	"strings"
)

// computeChanges walks the J vector the way original_source's output()
// does, turning runs of unmatched/non-consecutive lines into RawChange
// records. m and n are the full old/new line counts.
func computeChanges(J []int, m, n int) []RawChange {
	var changes []RawChange
	J[0] = 0
	J[m+1] = n + 1

	var i1 int
	for i0 := 1; i0 <= m; i0 = i1 + 1 {
		for i0 <= m && J[i0] == J[i0-1]+1 {
			i0++
		}
		j0 := J[i0-1] + 1
		i1 = i0 - 1
		for i1 < m && J[i1+1] == 0 {
			i1++
		}
		j1 := J[i1+1] - 1
		J[i1] = j1
		if !(i0 > i1 && j0 > j1) {
			changes = append(changes, RawChange{OldStart: i0, OldEnd: i1, NewStart: j0, NewEnd: j1})
		}
	}
	if m == 0 && !(1 > n) {
		changes = append(changes, RawChange{OldStart: 1, OldEnd: 0, NewStart: 1, NewEnd: n})
	}
	return changes
}

func normalHunks(changes []RawChange) []Hunk {
	hunks := make([]Hunk, 0, len(changes))
	for _, c := range changes {
		hunks = append(hunks, Hunk{
			OldStart: c.OldStart, OldLines: c.OldEnd - c.OldStart + 1,
			NewStart: c.NewStart, NewLines: c.NewEnd - c.NewStart + 1,
			Changes: []RawChange{c},
		})
	}
	return hunks
}

// uniRangeBounds mirrors original_source's uni_range: how a clamped
// (low, high) context window is reported as a (start, count) pair in
// the unified "@@ -start,count ... @@" header.
func uniRangeBounds(a, b int) (start, count int) {
	switch {
	case a < b:
		return a, b - a + 1
	case a == b:
		return b, 1
	default:
		return b, 0
	}
}

func formatUniRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// unifiedHunks merges raw changes into unified hunks, starting a new
// hunk whenever both the old-side and new-side gaps to the previous
// change exceed 2*context lines - original_source's dump condition in
// change(). matchFn, if non-nil, supplies the nearest preceding
// prototype-like line for a hunk's header.
func unifiedHunks(changes []RawChange, len0, len1, context int, matchFn func(pos int) string) []Hunk {
	var hunks []Hunk
	var cur []RawChange

	flush := func() {
		if len(cur) == 0 {
			return
		}
		first, last := cur[0], cur[len(cur)-1]
		lowa := max(1, first.OldStart-context)
		upb := min(len0, last.OldEnd+context)
		lowc := max(1, first.NewStart-context)
		upd := min(len1, last.NewEnd+context)
		os, ol := uniRangeBounds(lowa, upb)
		ns, nl := uniRangeBounds(lowc, upd)
		h := Hunk{OldStart: os, OldLines: ol, NewStart: ns, NewLines: nl,
			Changes: append([]RawChange(nil), cur...)}
		if matchFn != nil {
			h.FunctionContext = matchFn(lowa - 1)
		}
		hunks = append(hunks, h)
		cur = nil
	}

	for _, c := range changes {
		if len(cur) > 0 {
			last := cur[len(cur)-1]
			if c.OldStart > last.OldEnd+2*context+1 && c.NewStart > last.NewEnd+2*context+1 {
				flush()
			}
		}
		cur = append(cur, c)
	}
	flush()
	return hunks
}

// isIdentStart reports whether c could begin an identifier, the same
// test match_function uses to decide a line is worth treating as a
// function/prototype header.
func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}

const functionContextMaxLen = 200

// makeFunctionMatcher returns a stateful search function matching
// original_source's match_function: each call searches backward from
// pos over lines not already scanned by a previous call, for a line
// beginning with an identifier character. A line beginning with
// "private:"/"protected:"/"public:" only records an access-modifier
// suffix to append to whatever real match is found above it.
func makeFunctionMatcher(oldLines []rawLine) func(pos int) string {
	last := 0
	lastMatchLine := 0
	lastBuf := ""

	return func(pos int) string {
		prevLast := last
		last = pos
		state := ""
		for p := pos; p > prevLast; p-- {
			if p < 1 || p >= len(oldLines) {
				continue
			}
			text := oldLines[p].text
			if len(text) == 0 || !isIdentStart(text[0]) {
				continue
			}
			line := string(text)
			switch {
			case strings.HasPrefix(line, "private:"):
				if state == "" {
					state = " (private)"
				}
			case strings.HasPrefix(line, "protected:"):
				if state == "" {
					state = " (protected)"
				}
			case strings.HasPrefix(line, "public:"):
				if state == "" {
					state = " (public)"
				}
			default:
				if len(line) > functionContextMaxLen {
					line = line[:functionContextMaxLen]
				}
				lastBuf = line + state
				lastMatchLine = p
				return lastBuf
			}
		}
		if lastMatchLine > 0 {
			return lastBuf
		}
		return ""
	}
}

// WriteText renders Changes/Hunks as text in opts.Format, the way
// original_source's output()/change()/fetch() do. FormatBrief writes
// nothing: a caller that only wants to know whether the inputs differ
// should consult Result.Rval instead.
func (r *Result) WriteText(w io.Writer, opts Options) error {
	// D_HEADER: an ed-format diff is conventionally preceded by the
	// command line that produced it. Unified format has no equivalent -
	// its own "--- / +++" header (print_header) always runs instead.
	if opts.Format == FormatNormal && opts.Flags&FlagHeaderPrint != 0 && len(r.Hunks) > 0 {
		old, new := opts.OldLabel, opts.NewLabel
		if old == "" {
			old = "a"
		}
		if new == "" {
			new = "b"
		}
		if _, err := fmt.Fprintf(w, "diff %s %s\n", old, new); err != nil {
			return err
		}
	}
	switch opts.Format {
	case FormatNormal:
		return r.writeNormal(w, opts.Flags)
	case FormatUnified:
		return r.writeUnified(w, opts)
	}
	return nil
}

func edRange(a, b int) string {
	lo := a
	if b < a {
		lo = b
	}
	if a < b {
		return fmt.Sprintf("%d,%d", lo, b)
	}
	return fmt.Sprintf("%d", lo)
}

// writeExpandedTabs writes s with each tab expanded to spaces up to the
// next multiple-of-8 column, matching fetch()'s D_EXPANDTABS column
// tracking.
func writeExpandedTabs(w io.Writer, s []byte) error {
	col := 0
	for _, c := range s {
		if c == '\t' {
			for {
				if _, err := io.WriteString(w, " "); err != nil {
					return err
				}
				col++
				if col&7 == 0 {
					break
				}
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%c", c); err != nil {
			return err
		}
		col++
	}
	return nil
}

func (r *Result) emitLines(w io.Writer, lines []rawLine, from, to int, prefix string) error {
	return r.emitLinesFlags(w, lines, from, to, prefix, 0)
}

// emitLinesFlags is emitLines plus FlagExpandTabs handling and a
// "\ No newline at end of file" trailer for a final, unterminated line
// - fetch() detects that case by hitting EOF mid-line; this package
// already knows it via rawLine.hasNewline.
func (r *Result) emitLinesFlags(w io.Writer, lines []rawLine, from, to int, prefix string, flags Flags) error {
	for i := from; i <= to; i++ {
		if _, err := io.WriteString(w, prefix); err != nil {
			return err
		}
		if flags&FlagExpandTabs != 0 {
			if err := writeExpandedTabs(w, lines[i].text); err != nil {
				return err
			}
		} else {
			if _, err := w.Write(lines[i].text); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if !lines[i].hasNewline {
			if _, err := io.WriteString(w, "\\ No newline at end of file\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Result) writeNormal(w io.Writer, flags Flags) error {
	for _, h := range r.Hunks {
		c := h.Changes[0]
		op := byte('c')
		switch c.Kind() {
		case Insert:
			op = 'a'
		case Delete:
			op = 'd'
		}
		if _, err := fmt.Fprintf(w, "%s%c%s\n", edRange(c.OldStart, c.OldEnd), op, edRange(c.NewStart, c.NewEnd)); err != nil {
			return err
		}
		if c.Kind() != Insert {
			if err := r.emitLinesFlags(w, r.oldLines, c.OldStart, c.OldEnd, "< ", flags); err != nil {
				return err
			}
		}
		if c.Kind() == Modify {
			if _, err := fmt.Fprint(w, "---\n"); err != nil {
				return err
			}
		}
		if c.Kind() != Delete {
			if err := r.emitLinesFlags(w, r.newLines, c.NewStart, c.NewEnd, "> ", flags); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Result) writeUnified(w io.Writer, opts Options) error {
	if len(r.Hunks) == 0 {
		return nil
	}
	oldLabel, newLabel := opts.OldLabel, opts.NewLabel
	if oldLabel == "" {
		oldLabel = "a"
	}
	if newLabel == "" {
		newLabel = "b"
	}
	if _, err := fmt.Fprintf(w, "--- %s\n+++ %s\n", oldLabel, newLabel); err != nil {
		return err
	}
	for _, h := range r.Hunks {
		lowa := h.OldStart
		lowc, upd := h.NewStart, h.NewStart+h.NewLines-1
		header := fmt.Sprintf("@@ -%s +%s @@", formatUniRange(h.OldStart, h.OldLines), formatUniRange(h.NewStart, h.NewLines))
		if h.FunctionContext != "" {
			header += " " + h.FunctionContext
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		oldPos, newPos := lowa, lowc
		for _, c := range h.Changes {
			if err := r.emitLinesFlags(w, r.oldLines, oldPos, c.OldStart-1, " ", opts.Flags); err != nil {
				return err
			}
			if c.Kind() != Insert {
				if err := r.emitLinesFlags(w, r.oldLines, c.OldStart, c.OldEnd, "-", opts.Flags); err != nil {
					return err
				}
			}
			if c.Kind() != Delete {
				if err := r.emitLinesFlags(w, r.newLines, c.NewStart, c.NewEnd, "+", opts.Flags); err != nil {
					return err
				}
			}
			oldPos = c.OldEnd + 1
			newPos = c.NewEnd + 1
		}
		if err := r.emitLinesFlags(w, r.newLines, newPos, upd, " ", opts.Flags); err != nil {
			return err
		}
	}
	return nil
}
