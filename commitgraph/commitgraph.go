// Package commitgraph implements the DAG walker spec.md §4.3 describes:
// a discovered-node arena, a frontier of open (not yet traversed)
// branches, and an iterator that emits commits in committer-time
// descending order, breaking ties in favor of the most recently
// discovered commit, never emitting a parent before all of its
// children.
//
// Grounded on original_source/lib/commit_graph.c: add_node's node arena
// plus open_branches idset, add_iteration_candidate's descending-order
// insertion with insert-before-first-equal tie-break, and
// got_commit_graph_iter_next's "empty candidates + root + no open
// branches means done, otherwise iter-need-more" contract. The idset
// grounding itself (an ordered, remove-by-key container) mirrors how
// go-git's plumbing/object/commitgraph walker files lean on
// github.com/emirpasic/gods (there for a binary heap; here for the
// ordered-map half of the same library, via gitcore's own idset
// package).
package commitgraph

import (
	"io"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/idset"
	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/objid"
)

// CommitReader is the minimal capability the graph needs to pull a
// commit's content by id; a repository façade or a privsep client both
// satisfy it.
type CommitReader interface {
	GetCommit(id objid.ID) (*objects.Commit, error)
}

// node is one arena entry: a discovered commit plus the ids of children
// that have already been linked to it.
type node struct {
	id       objid.ID
	commit   *objects.Commit
	childIDs []objid.ID
}

func (n *node) linkChild(childID objid.ID) error {
	if n.id == childID {
		return errkind.New(errkind.BadObjID, "commit %s cannot be its own child", n.id)
	}
	for _, c := range n.childIDs {
		if c == childID {
			return errkind.New(errkind.BadObjID, "commit %s already linked to child %s", n.id, childID)
		}
	}
	n.childIDs = append(n.childIDs, childID)
	return nil
}

// Graph is the in-memory commit DAG built incrementally by Fetch and
// walked in committer-time order by an Iterator.
type Graph struct {
	reader       CommitReader
	nodes        *idset.Set // id -> *node, the discovered-node arena
	openBranches *idset.Set // parent id -> *node (the most recently added child listing it), the traversal frontier

	iterNode   *node
	candidates []*node // descending committer-time order, ties LIFO
}

// New creates an empty graph reading commits through reader.
func New(reader CommitReader) *Graph {
	return &Graph{reader: reader, nodes: idset.New(), openBranches: idset.New()}
}

// Open creates a graph and seeds it with the commit at start.
func Open(reader CommitReader, start objid.ID) (*Graph, error) {
	g := New(reader)
	commit, err := reader.GetCommit(start)
	if err != nil {
		return nil, err
	}
	if _, _, err := g.addNode(start, commit, nil); err != nil {
		return nil, err
	}
	return g, nil
}

// GetCommit returns the commit already discovered for id, if any.
func (g *Graph) GetCommit(id objid.ID) (*objects.Commit, bool) {
	v, ok := g.nodes.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*node).commit, true
}

// Len returns the number of commits currently in the arena.
func (g *Graph) Len() int { return g.nodes.Len() }

// addNode inserts commit at id into the arena, or finds it if already
// present, then links childID (if given) as one of its children. The
// return value reports whether this call discovered a genuinely new
// node (as opposed to re-finding one already in the arena).
func (g *Graph) addNode(id objid.ID, commit *objects.Commit, childID *objid.ID) (*node, bool, error) {
	if v, ok := g.nodes.Get(id); ok {
		existing := v.(*node)
		if childID != nil {
			if err := existing.linkChild(*childID); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}

	n := &node{id: id, commit: commit}
	g.nodes.Add(id, n)
	g.addIterationCandidate(n)
	_ = g.openBranches.Remove(id) // a no-obj error here just means id was never an open branch (e.g. the seed commit)

	for _, pid := range commit.ParentIDs {
		if pid == id {
			return nil, false, errkind.New(errkind.BadObjID, "commit %s lists itself as a parent", id)
		}
		if g.nodes.Contains(pid) {
			continue
		}
		g.openBranches.Add(pid, n)
	}

	if childID != nil {
		if err := n.linkChild(*childID); err != nil {
			return nil, false, err
		}
	}
	return n, true, nil
}

// addIterationCandidate inserts n into the candidate sequence in
// committer-time descending order. Among equal committer times, n is
// inserted ahead of the existing entries already at that time, giving
// the most recently discovered commit precedence — the insertion-order
// tie-break spec.md's Design Notes call for.
func (g *Graph) addIterationCandidate(n *node) {
	for i, c := range g.candidates {
		if n.commit.Committer.When.Before(c.commit.Committer.When) {
			continue
		}
		g.candidates = append(g.candidates, nil)
		copy(g.candidates[i+1:], g.candidates[i:])
		g.candidates[i] = n
		return
	}
	g.candidates = append(g.candidates, n)
}

// Fetch pulls up to limit new commits into the graph by traversing
// every currently open branch, repeating until either limit is reached
// or no open branch yields a new commit. It returns the number of new
// commits actually fetched.
func (g *Graph) Fetch(limit int) (int, error) {
	total := 0
	for total < limit {
		n, err := g.fetchOpenBranches(limit - total)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// fetchOpenBranches reads one generation of parents: every branch open
// at the moment this call started, snapshotted first since addNode
// mutates openBranches as it runs. It stops early once max new commits
// have been added; the branches it did not reach stay open.
func (g *Graph) fetchOpenBranches(max int) (int, error) {
	branches := g.openBranches.Keys()
	if len(branches) == 0 {
		return 0, nil
	}

	fetched := 0
	for _, pid := range branches {
		if fetched >= max {
			break
		}
		v, ok := g.openBranches.Get(pid)
		if !ok {
			continue // resolved earlier in this same pass
		}
		child := v.(*node)

		commit, err := g.reader.GetCommit(pid)
		if err != nil {
			return fetched, err
		}
		_, isNew, err := g.addNode(pid, commit, &child.id)
		if err != nil {
			return fetched, err
		}
		if isNew {
			fetched++
		}
	}
	return fetched, nil
}

// IterStart begins a committer-time-ordered traversal from the
// already-discovered commit id. id must already be in the arena (via
// Open or a prior Fetch).
//
// Call IterStart before any bulk Fetch meant to feed this traversal: it
// resets the candidate sequence to id's own already-known parents, so a
// Fetch performed earlier (whose discovered nodes were candidates only
// transiently) would otherwise have its deeper history silently
// dropped from the sequence. The intended protocol is Open, IterStart,
// then alternate IterNext and (on IterNeedMore) Fetch.
func (g *Graph) IterStart(id objid.ID) error {
	v, ok := g.nodes.Get(id)
	if !ok {
		return errkind.New(errkind.NoObj, "commit %s not in graph", id)
	}
	start := v.(*node)

	g.iterNode = start
	g.candidates = g.candidates[:0]
	for _, pid := range start.commit.ParentIDs {
		if v, ok := g.nodes.Get(pid); ok {
			g.addIterationCandidate(v.(*node))
		}
	}
	return nil
}

// IterNext returns the next commit in the traversal. It returns io.EOF
// once the traversal is complete, or an IterNeedMore error when the
// candidate sequence has run dry but unresolved open branches remain —
// the caller should Fetch more commits and call IterNext again.
func (g *Graph) IterNext() (*objects.Commit, objid.ID, error) {
	if g.iterNode == nil {
		return nil, objid.Zero, io.EOF
	}

	if len(g.candidates) == 0 {
		if len(g.iterNode.commit.ParentIDs) == 0 && g.openBranches.Len() == 0 {
			commit, id := g.iterNode.commit, g.iterNode.id
			g.iterNode = nil
			return commit, id, nil
		}
		return nil, objid.Zero, errkind.New(errkind.IterNeedMore, "need more commits fetched past %s", g.iterNode.id)
	}

	commit, id := g.iterNode.commit, g.iterNode.id
	next := g.candidates[0]
	g.candidates = g.candidates[1:]
	g.iterNode = next
	return commit, id, nil
}
