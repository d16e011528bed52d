package diffreg

import "sort"

// cand is one k-candidate in Harold Stone's algorithm: a matched pair
// of lines (x in the old file, y in the new file) extending the
// longest common subsequence found so far, chained via pred to its
// predecessor so the full subsequence can be recovered by unravel.
type cand struct {
	x, y, pred int
}

func commonPrefixSuffix(oldLines, newLines []rawLine) (pref, suff int) {
	n0, n1 := len(oldLines)-1, len(newLines)-1
	for pref < n0 && pref < n1 && oldLines[pref+1].value == newLines[pref+1].value {
		pref++
	}
	for suff < n0-pref && suff < n1-pref &&
		oldLines[n0-suff].value == newLines[n1-suff].value {
		suff++
	}
	return pref, suff
}

// subsetFor returns the pref/suff-trimmed window of lines, 1-indexed,
// with serial set to each line's position within the window - the
// window's original order, recorded before sorting so it can be
// recovered afterward by classify.
func subsetFor(lines []rawLine, pref, suff int) []rawLine {
	n := len(lines) - 1
	slen := n - pref - suff
	out := make([]rawLine, slen+1)
	for i := 1; i <= slen; i++ {
		out[i] = lines[pref+i]
		out[i].serial = i
	}
	return out
}

// sortLines stably reorders a 1-indexed subset by hash value; ties
// keep their original order because serial was assigned in that order
// before sorting and SliceStable never reorders equal keys.
func sortLines(a []rawLine) {
	n := len(a) - 1
	sort.SliceStable(a[1:n+1], func(i, j int) bool {
		return a[1+i].value < a[1+j].value
	})
}

// equivClasses merges a and b (both value-sorted) into a's equivalence
// classes against b: a[i].value becomes the index of the first member
// of its matching class in b, or 0 if no match exists. It returns the
// class table (grounded on original_source's equiv): for each class,
// a negative head entry is followed by the ascending original
// (pre-sort) positions of every other member in the same class.
func equivClasses(a, b []rawLine) []int {
	n, m := len(a)-1, len(b)-1
	c := make([]int, m+2)

	i, j := 1, 1
	for i <= n && j <= m {
		switch {
		case a[i].value < b[j].value:
			a[i].value = 0
			i++
		case a[i].value == b[j].value:
			a[i].value = j
			i++
		default:
			j++
		}
	}
	for i <= n {
		a[i].value = 0
		i++
	}

	bval := func(k int) int {
		if k < 1 || k > m {
			return 0
		}
		return b[k].value
	}
	j = 0
	for j+1 <= m {
		j++
		c[j] = -b[j].serial
		for bval(j+1) == bval(j) {
			j++
			c[j] = b[j].serial
		}
	}
	c[j+1] = -1
	return c
}

// classify undoes the sort applied to a (whose .value now holds
// equivalence-class pointers from equivClasses), producing a table
// indexed by a line's position in the pruned window's ORIGINAL order.
// This is what stone actually walks, since the LCS search must process
// the old file's lines in textual order.
func classify(a []rawLine) []int {
	n := len(a) - 1
	out := make([]int, n+2)
	for i := 1; i <= n; i++ {
		out[a[i].serial] = a[i].value
	}
	return out
}

func isqrt(n int) int {
	if n == 0 {
		return 0
	}
	x := 1
	for {
		y := x
		x = n / x
		x += y
		x /= 2
		if d := x - y; d <= 1 && d >= -1 {
			break
		}
	}
	return x
}

// stoneRun is the candidate-chain search itself. class holds, for each
// old-file line in original order, the index of its equivalence class
// in member (0 = no match); member holds, for each class, the
// ascending list of new-file line numbers in that class, each class
// headed by its negated first member. bound caps how many candidate
// replacements are tried per old-file line, per the minimal flag.
func stoneRun(class, member []int, n int, bound uint) (clist []cand, klist []int, k int) {
	clist = make([]cand, 0, 100)
	newcand := func(x, y, pred int) int {
		clist = append(clist, cand{x, y, pred})
		return len(clist) - 1
	}

	klist = make([]int, n+2)
	klist[0] = newcand(0, 0, 0)
	for i := 1; i <= n; i++ {
		j := class[i]
		if j == 0 {
			continue
		}
		y := -member[j]
		oldl := 0
		oldc := klist[0]
		var numtries uint
		for {
			if y > clist[oldc].y {
				l := search(clist, klist, k, y)
				if l != oldl+1 {
					oldc = klist[l-1]
				}
				if l <= k {
					if clist[klist[l]].y > y {
						tc := klist[l]
						klist[l] = newcand(i, y, oldc)
						oldc = tc
						oldl = l
						numtries++
					}
				} else {
					klist[l] = newcand(i, y, oldc)
					k++
					break
				}
			}
			j++
			if j >= len(member) || member[j] <= 0 {
				break
			}
			y = member[j]
			if numtries >= bound {
				break
			}
		}
	}
	return clist, klist, k
}

func search(clist []cand, klist []int, k, y int) int {
	if clist[klist[k]].y < y {
		return k + 1
	}
	i, j := 0, k+1
	l := 0
	for {
		l = (i + j) / 2
		if l <= i {
			break
		}
		switch t := clist[klist[l]].y; {
		case t > y:
			j = l
		case t < y:
			i = l
		default:
			return l
		}
	}
	return l + 1
}

// unravel walks the candidate chain ending at clist[p] and writes the
// resulting J vector: J[i] is the new-file line number matching
// old-file line i, or 0 if old-file line i has no match. Lines in the
// common prefix/suffix are filled in directly since prune already
// proved they match one-to-one.
func unravel(clist []cand, p, len0, len1, pref, suff int) []int {
	J := make([]int, len0+2)
	for i := 0; i <= len0; i++ {
		switch {
		case i <= pref:
			J[i] = i
		case i > len0-suff:
			J[i] = i + len1 - len0
		default:
			J[i] = 0
		}
	}
	for q := p; clist[q].y != 0; q = clist[q].pred {
		J[clist[q].x+pref] = clist[q].y + pref
	}
	return J
}

// lcs runs the full stone/candidate search over the pref/suff-trimmed
// window and returns the full-length J vector (indices 0..len0+1).
func lcs(class, member []int, len0, len1, pref, suff int, flags Flags) []int {
	n := len0 - pref - suff

	var bound uint
	if flags&FlagMinimal != 0 {
		bound = ^uint(0)
	} else {
		bound = 256
		if sq := uint(isqrt(n)); sq > bound {
			bound = sq
		}
	}

	clist, klist, k := stoneRun(class, member, n, bound)
	return unravel(clist, klist[k], len0, len1, pref, suff)
}
