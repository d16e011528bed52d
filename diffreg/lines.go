package diffreg

// rawLine is one line of an input, 1-indexed within its file (index 0
// is an unused sentinel, mirroring original_source's 1-based file[]
// arrays so the stone/candidate code below can be ported with the same
// index arithmetic).
type rawLine struct {
	text       []byte
	hasNewline bool // false only possibly for the final line of a file
	value      int  // hash (prepare), later overwritten with an equivalence class (equiv/unsort)
	serial     int  // position within the pruned subset, assigned right before sorting
}

// splitLines splits data into lines, returning a 1-indexed slice (the
// slice at index 0 is a zero-value sentinel; real lines occupy
// indices 1..n). A trailing line with no final '\n' is kept with
// hasNewline=false; empty input produces zero lines.
func splitLines(data []byte) []rawLine {
	lines := make([]rawLine, 1, 8)
	start := 0
	for i, c := range data {
		if c == '\n' {
			lines = append(lines, rawLine{text: data[start:i], hasNewline: true})
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, rawLine{text: data[start:], hasNewline: false})
	}
	return lines
}

// chrtranFunc returns the character-folding function readhash and
// check both apply before comparing or hashing bytes: case-insensitive
// folding when FlagIgnoreCase is set (mirroring original_source's
// cup2low table), identity otherwise (clow2low).
func chrtranFunc(flags Flags) func(byte) byte {
	if flags&FlagIgnoreCase == 0 {
		return func(c byte) byte { return c }
	}
	return func(c byte) byte {
		if c >= 'A' && c <= 'Z' {
			return c - 'A' + 'a'
		}
		return c
	}
}

func isSpaceByte(c int) bool {
	switch c {
	case '\t', '\r', '\v', '\f', ' ':
		return true
	}
	return false
}

// hashLine implements readhash's Sedgewick hash (Algorithms in C, 3rd
// ed., p578) over a single line's bytes. FoldBlanks and IgnoreBlanks
// produce the same hash: a run of blank characters contributes nothing
// to the sum either way, they differ only in how check's byte-level
// comparison treats the run afterward. A sum of zero is bumped to 1,
// since this package reserves 0 to mean "unmatched" in the equivalence
// arrays built from these hashes.
func hashLine(l rawLine, flags Flags, fold func(byte) byte) int {
	sum := 1
	if flags&(FlagFoldBlanks|FlagIgnoreBlanks) == 0 {
		for _, c := range l.text {
			sum = sum*127 + int(fold(c))
		}
	} else {
		for _, c := range l.text {
			if isSpaceByte(int(c)) {
				continue
			}
			sum = sum*127 + int(fold(c))
		}
	}
	if !l.hasNewline && flags&(FlagFoldBlanks|FlagIgnoreBlanks) == 0 {
		// Under plain comparison, distinguishes a file's final,
		// unterminated line from an otherwise-identical terminated line
		// elsewhere in the other file; original_source has no such case
		// since it only ever hashes whole files read to EOF with fetch()'s
		// own trailing marker, never a line in isolation. FoldBlanks and
		// IgnoreBlanks skip this, since linesEqual does not compare
		// hasNewline under them.
		sum = sum*127 + 1
	}
	if sum == 0 {
		return 1
	}
	return sum
}

func hashLines(lines []rawLine, flags Flags, fold func(byte) byte) {
	for i := 1; i < len(lines); i++ {
		lines[i].value = hashLine(lines[i], flags, fold)
	}
}
