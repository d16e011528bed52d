package diffreg

// check re-verifies every tentative match the stone/candidate search
// produced: a shared hash value is not proof that two lines are
// identical, only that they are worth comparing byte for byte. Any J[i]
// that does not survive the comparison under the active flags is
// broken back to 0, the "unmatched" marker.
//
// Grounded on original_source's check(), which performs this same
// comparison while streaming both files through stdio and recording
// byte offsets for a later random-access fetch. Operating on lines
// already held in memory removes the need for that offset bookkeeping
// (ixold/ixnew, skipline) entirely, and with it the narrow bug in
// check()'s fold/ignore-blanks branch where the byte-count update for
// the new-file side tested `c != EOF` instead of `d != EOF` - a typo
// that only ever mattered for that offset bookkeeping. Since this
// package fetches a changed line by index rather than by seeking to a
// recorded offset, there is no equivalent update to get wrong; see
// DESIGN.md.
func check(J []int, oldLines, newLines []rawLine, flags Flags, fold func(byte) byte) {
	for i := 1; i < len(oldLines); i++ {
		j := J[i]
		if j == 0 {
			continue
		}
		if j < 1 || j >= len(newLines) || !linesEqual(oldLines[i], newLines[j], flags, fold) {
			J[i] = 0
		}
	}
}

// linesEqual decides whether two lines are the same line under the
// active flags. Plain comparison requires identical length, identical
// hasNewline, and per-byte equality after folding. FoldBlanks collapses
// a run of blank characters to an equivalence only when both sides
// have a blank at the same aligned position (matching diff -b: the
// amount of whitespace stops mattering, but its presence or absence
// does not). IgnoreBlanks instead strips blank characters from each
// side independently before comparing (diff -w: whitespace is
// invisible entirely), continuing to strip a trailing run on the
// longer side even after the shorter side has run out of bytes - so
// "b  " and "b" compare equal. Under either mode a missing trailing
// newline on one side never causes a mismatch by itself (GNU diff's
// behavior for -b/-w, ported from check()'s explicit c==EOF&&d=='\n'
// exception), so hasNewline itself is not compared here.
func linesEqual(a, b rawLine, flags Flags, fold func(byte) byte) bool {
	if flags&(FlagFoldBlanks|FlagIgnoreBlanks) == 0 {
		if a.hasNewline != b.hasNewline || len(a.text) != len(b.text) {
			return false
		}
		for i := range a.text {
			if fold(a.text[i]) != fold(b.text[i]) {
				return false
			}
		}
		return true
	}

	// Under FoldBlanks/IgnoreBlanks, GNU diff ignores a missing trailing
	// newline on either side (original_source's check treats
	// c==EOF&&d=='\n', or the reverse, as an ordinary line end rather
	// than a mismatch) - so hasNewline is deliberately not compared
	// here, only the content that remains once blanks are accounted for.
	at, bt := a.text, b.text
	ai, bi := 0, 0
	for {
		aEnd, bEnd := ai >= len(at), bi >= len(bt)
		if aEnd && bEnd {
			return true
		}

		// FoldBlanks takes priority when both flags are set and the
		// current position on both sides is a blank, matching
		// check()'s if-FOLDBLANKS-else-if-IGNOREBLANKS ordering.
		if flags&FlagFoldBlanks != 0 && !aEnd && !bEnd &&
			isSpaceByte(int(at[ai])) && isSpaceByte(int(bt[bi])) {
			for ai < len(at) && isSpaceByte(int(at[ai])) {
				ai++
			}
			for bi < len(bt) && isSpaceByte(int(bt[bi])) {
				bi++
			}
			continue
		}
		if flags&FlagIgnoreBlanks != 0 {
			// Each side strips its own blank run independently, even
			// past the other side's end - "b  " must still compare
			// equal to "b".
			skipped := false
			for ai < len(at) && isSpaceByte(int(at[ai])) {
				ai++
				skipped = true
			}
			for bi < len(bt) && isSpaceByte(int(bt[bi])) {
				bi++
				skipped = true
			}
			if skipped {
				continue
			}
		}
		if aEnd || bEnd {
			// FoldBlanks folds a run only when present on both sides at
			// once; once one side is exhausted (and IgnoreBlanks, if
			// set, found nothing left to strip) there is nothing left
			// to synchronize against, so remaining bytes on the other
			// side are a genuine mismatch.
			return false
		}
		if fold(at[ai]) != fold(bt[bi]) {
			return false
		}
		ai++
		bi++
	}
}
