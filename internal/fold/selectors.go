package fold

import "github.com/cartridge/replayproc/internal/episode"

// Candidate is the (index, key) pair the four extremum selectors fold
// over. Index is -1 when no episode has been compared yet (identity
// element of the monoid).
type Candidate struct {
	Index int
	Key   float64
	ID    int64
}

func newSelector(better func(a, b Candidate) bool) Candidate {
	return Candidate{Index: -1}
}

// better returns true when a should replace b under the selector's
// direction, with ties broken by ascending index — the documented
// tie-break, making the fold invariant under reordering.
type betterFn func(a, b Candidate) bool

func oldestBetter(a, b Candidate) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Index < b.Index
}

func maxBetter(a, b Candidate) bool {
	if a.Key != b.Key {
		return a.Key > b.Key
	}
	return a.Index < b.Index
}

func minBetter(a, b Candidate) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Index < b.Index
}

func combineCandidates(a, b Candidate, better betterFn) Candidate {
	if a.Index < 0 {
		return b
	}
	if b.Index < 0 {
		return a
	}
	if better(b, a) {
		return b
	}
	return a
}

func combineOldest(cur *Candidate, i int, ep *episode.Episode) {
	*cur = combineCandidates(*cur, Candidate{Index: i, Key: float64(ep.ID), ID: ep.ID}, oldestBetter)
}

func combineMostFar(cur *Candidate, i int, ep *episode.Episode) {
	if ep.Ndata() == 0 {
		return
	}
	key := float64(ep.FarPolicySteps()) / float64(ep.Ndata())
	*cur = combineCandidates(*cur, Candidate{Index: i, Key: key, ID: ep.ID}, maxBetter)
}

func combineHighKL(cur *Candidate, i int, ep *episode.Episode) {
	if ep.Ndata() == 0 {
		return
	}
	key := ep.SumKLDivergence / float64(ep.Ndata())
	*cur = combineCandidates(*cur, Candidate{Index: i, Key: key, ID: ep.ID}, maxBetter)
}

// combineMostOff folds the "most off-policy" selector: the episode
// with the minimum average clipped importance weight, excluding
// episodes with zero transitions. tol (the ReF-ER tolerance D) is
// accepted to mirror the original constructor's signature, even though
// the key itself — AvgClipImpWeight, refreshed by UpdateCumulative —
// does not depend on it directly.
func combineMostOff(cur *Candidate, i int, ep *episode.Episode, tol float64) {
	if ep.Ndata() == 0 {
		return
	}
	*cur = combineCandidates(*cur, Candidate{Index: i, Key: ep.AvgClipImpWeight, ID: ep.ID}, minBetter)
}
