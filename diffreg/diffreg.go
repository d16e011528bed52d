// Package diffreg implements the Hunt-McIlroy line differ spec.md §4.6
// describes: stone/candidate LCS over hashed lines, a byte-level check
// pass that breaks spurious hash matches, and hunk emission in brief,
// normal, or unified format.
//
// Grounded on original_source/lib/diffreg.c (the stone/candidate
// algorithm, readhash's Sedgewick hash, check's jackpot detection,
// change/output's hunk-range construction, dump_unified_vec's context
// merging and match_function's prototype search). diffreg.c works
// against stdio FILEs with fseek-based random access so it can avoid
// holding both files in memory at once; this package instead reads
// each input fully into memory up front (via io.ReadAll) and operates
// on line slices, which removes the need for diffreg.c's ixold/ixnew
// byte-offset bookkeeping and skipline helper entirely - every "fetch
// bytes for line N" operation is just a slice index here.
package diffreg

import (
	"bytes"
	"io"
)

// Flags selects optional normalization and output behavior, mirroring
// original_source's D_* bit flags.
type Flags uint16

const (
	FlagIgnoreCase Flags = 1 << iota
	FlagFoldBlanks
	FlagIgnoreBlanks
	FlagForceASCII
	FlagExpandTabs
	FlagPrototypeHeaders
	FlagHeaderPrint
	FlagEmptyLHS
	FlagEmptyRHS
	FlagMinimal
)

// Format selects how Diff reports what it found.
type Format int

const (
	// FormatBrief computes only whether the inputs differ.
	FormatBrief Format = iota
	// FormatNormal reports one hunk per contiguous change, ed-style.
	FormatNormal
	// FormatUnified reports hunks merged within Context lines of each
	// other, with surrounding context lines included.
	FormatUnified
)

// Rval mirrors the D_SAME/D_DIFFER/D_BINARY result code a caller uses
// to decide whether to look at Changes/Hunks at all.
type Rval int

const (
	Same Rval = iota
	Differ
	Binary
)

// Options configures a single Diff call.
type Options struct {
	Format Format
	Flags  Flags
	// Context is the number of surrounding lines kept around a change
	// in unified format. Zero means 3, matching diff(1)'s default.
	Context int
	OldLabel, NewLabel string
}

// RawChange is one contiguous region where the old and new line
// sequences diverge, in 1-indexed inclusive line numbers. OldEnd <
// OldStart means pure insertion (no old lines involved, new lines
// begin after OldStart-1); NewEnd < NewStart means pure deletion.
type RawChange struct {
	OldStart, OldEnd int
	NewStart, NewEnd int
}

// ChangeKind classifies a RawChange the way change()'s a>b / c>d tests
// do.
type ChangeKind int

const (
	Modify ChangeKind = iota
	Insert
	Delete
)

func (c RawChange) Kind() ChangeKind {
	switch {
	case c.OldEnd < c.OldStart:
		return Insert
	case c.NewEnd < c.NewStart:
		return Delete
	default:
		return Modify
	}
}

// Hunk is one emitted unit of output: for FormatNormal it wraps
// exactly one RawChange; for FormatUnified it is the merge of every
// RawChange at most 2*Context lines from its neighbor, padded with
// context on both sides.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Changes            []RawChange
	// FunctionContext is the nearest preceding prototype-like line,
	// set only when FlagPrototypeHeaders is given and a match is found.
	FunctionContext string
}

// Result is what Diff produces.
type Result struct {
	Rval    Rval
	Changes []RawChange
	Hunks   []Hunk

	oldLines, newLines []rawLine
}

// Diff compares a against b line by line using the stone/candidate LCS
// algorithm and reports the result per opts.Format.
func Diff(a, b io.Reader, opts Options) (*Result, error) {
	var aData, bData []byte
	var err error
	if opts.Flags&FlagEmptyLHS == 0 {
		aData, err = io.ReadAll(a)
		if err != nil {
			return nil, err
		}
	}
	if opts.Flags&FlagEmptyRHS == 0 {
		bData, err = io.ReadAll(b)
		if err != nil {
			return nil, err
		}
	}

	if opts.Flags&FlagForceASCII == 0 && (!isASCII(aData) || !isASCII(bData)) {
		return &Result{Rval: Binary}, nil
	}
	if bytes.Equal(aData, bData) {
		return &Result{Rval: Same}, nil
	}

	oldLines := splitLines(aData)
	newLines := splitLines(bData)

	fold := chrtranFunc(opts.Flags)
	hashLines(oldLines, opts.Flags, fold)
	hashLines(newLines, opts.Flags, fold)

	pref, suff := commonPrefixSuffix(oldLines, newLines)
	sold, snew := subsetFor(oldLines, pref, suff), subsetFor(newLines, pref, suff)
	sortLines(sold)
	sortLines(snew)

	member := equivClasses(sold, snew)
	class := classify(sold)

	J := lcs(class, member, len(oldLines)-1, len(newLines)-1, pref, suff, opts.Flags)

	check(J, oldLines, newLines, opts.Flags, fold)

	changes := computeChanges(J, len(oldLines)-1, len(newLines)-1)

	res := &Result{
		Changes:  changes,
		oldLines: oldLines,
		newLines: newLines,
	}
	if len(changes) > 0 {
		res.Rval = Differ
	} else {
		res.Rval = Same
	}

	switch opts.Format {
	case FormatBrief:
		// no hunks needed
	case FormatNormal:
		res.Hunks = normalHunks(changes)
	case FormatUnified:
		ctx := opts.Context
		if ctx <= 0 {
			ctx = 3
		}
		var protoFn func(int) string
		if opts.Flags&FlagPrototypeHeaders != 0 {
			protoFn = makeFunctionMatcher(oldLines)
		}
		res.Hunks = unifiedHunks(changes, len(oldLines)-1, len(newLines)-1, ctx, protoFn)
	}
	return res, nil
}

func isASCII(b []byte) bool {
	n := len(b)
	if n > 8192 {
		n = 8192
	}
	return bytes.IndexByte(b[:n], 0) < 0
}
