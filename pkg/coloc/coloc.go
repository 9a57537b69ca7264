// Package coloc pairs the objects of two populations by voxel overlap and keeps
// the objects of the first population that colocalize with the second.
package coloc

import (
	"fmt"
	"sort"

	"astrofoci/pkg/objects"
)

// DefaultAcceptFraction is the share of the partner's voxels that must be
// covered for a pair to count as colocalized.
const DefaultAcceptFraction = 0.25

// Pair associates one object of population A with one of population B
type Pair struct {
	A, B *objects.Object3D

	// Overlap is the number of shared voxels, always > 0
	Overlap int
}

// Pairs computes, for every object of a, its overlapping partners in b.
// The outer slice follows a's order; each inner slice follows b's order.
func Pairs(a, b *objects.Population) [][]Pair {
	owner := make(map[objects.Voxel]int)
	for i, o := range b.Objects() {
		for _, v := range o.Voxels() {
			owner[v] = i
		}
	}

	out := make([][]Pair, a.Len())
	for i, oa := range a.Objects() {
		counts := make(map[int]int)
		for _, v := range oa.Voxels() {
			if j, ok := owner[v]; ok {
				counts[j]++
			}
		}
		idx := make([]int, 0, len(counts))
		for j := range counts {
			idx = append(idx, j)
		}
		sort.Ints(idx)
		for _, j := range idx {
			out[i] = append(out[i], Pair{A: oa, B: b.Objects()[j], Overlap: counts[j]})
		}
	}
	return out
}

// Policy decides what happens when an A-object has several accepted partners
type Policy int

const (
	// PolicyFirst keeps the first accepted partner in B order and ignores the rest
	PolicyFirst Policy = iota
	// PolicyUnique rejects A-objects with more than one accepted partner
	PolicyUnique
	// PolicyLegacy relabels and appends the A-object once per accepted partner,
	// so the last partner's id wins and the output may hold duplicates.
	PolicyLegacy
)

// ParsePolicy maps a configuration name onto a Policy
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "first":
		return PolicyFirst, nil
	case "unique":
		return PolicyUnique, nil
	case "legacy":
		return PolicyLegacy, nil
	default:
		return 0, fmt.Errorf("unknown colocalization policy %q (want first, unique or legacy)", name)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyFirst:
		return "first"
	case PolicyUnique:
		return "unique"
	case PolicyLegacy:
		return "legacy"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Match is one accepted pair together with the id given to both sides
type Match struct {
	ID      int
	Cell    *objects.Object3D
	Partner *objects.Object3D
	Overlap int
}

// Result is the outcome of one Matcher run
type Result struct {
	// Cells holds the accepted A-objects relabeled with their match id
	Cells *objects.Population

	// Matches lists every accepted pair in acceptance order
	Matches []Match

	// NextID is the first id not yet handed out
	NextID int

	partnerIDs map[*objects.Object3D]int
}

// PartnerID returns the id associated with a B-object, or 0 if it matched nothing.
// B's own labels are never rewritten.
func (r *Result) PartnerID(o *objects.Object3D) int {
	return r.partnerIDs[o]
}

// Matcher keeps the A-objects that colocalize with some B-object
type Matcher struct {
	AcceptFraction float64
	Policy         Policy
}

// NewMatcher returns a matcher with the default accept fraction
func NewMatcher(policy Policy) *Matcher {
	return &Matcher{AcceptFraction: DefaultAcceptFraction, Policy: policy}
}

// Accept reports whether the overlap exceeds the accept fraction of the
// partner's voxel count. The comparison is strict.
func (m *Matcher) Accept(p Pair) bool {
	return float64(p.Overlap) > m.AcceptFraction*float64(p.B.Size())
}

// Match pairs a against b. Ids start at firstID and are shared between each
// accepted A-object (its label) and its partner (see Result.PartnerID).
func (m *Matcher) Match(a, b *objects.Population, firstID int) *Result {
	res := &Result{
		Cells:      objects.NewPopulation(a.Calibration()),
		NextID:     firstID,
		partnerIDs: make(map[*objects.Object3D]int),
	}
	if a.Len() == 0 || b.Len() == 0 {
		return res
	}

	for _, candidates := range Pairs(a, b) {
		var accepted []Pair
		for _, p := range candidates {
			if m.Accept(p) {
				accepted = append(accepted, p)
			}
		}
		if len(accepted) == 0 {
			continue
		}

		switch m.Policy {
		case PolicyLegacy:
			for _, p := range accepted {
				res.accept(p, true)
			}
		case PolicyUnique:
			if len(accepted) == 1 {
				res.accept(accepted[0], false)
			}
		default:
			res.accept(accepted[0], false)
		}
	}
	return res
}

func (r *Result) accept(p Pair, overwritePartner bool) {
	id := r.NextID
	r.NextID++
	p.A.Label = id
	if _, seen := r.partnerIDs[p.B]; !seen || overwritePartner {
		r.partnerIDs[p.B] = id
	}
	r.Cells.Add(p.A)
	r.Matches = append(r.Matches, Match{ID: id, Cell: p.A, Partner: p.B, Overlap: p.Overlap})
}
