package engine

import (
	"fmt"

	"github.com/strandio/strand"
)

// JumpTable maps disjoint sets of case labels to step-count offsets for
// one dispatch site. Tables are built lazily on first use and cached on
// the instance, so a loop re-entering the same switch pays the
// construction cost once.
type JumpTable struct {
	site    int
	lookup  map[any]int // label → case index
	offsets []int
}

// JumpTable returns the cached table for the dispatch site, building it
// from labelSets and offsets on first call. Each labelSets[i] is the
// set of labels selecting case i, whose body begins offsets[i] steps
// after the site. Label sets must be disjoint: exactly one may match
// any dispatched value. Overlap or a length mismatch is a programming
// error in the transformer's output and panics.
func (in *Instance) JumpTable(site int, labelSets [][]any, offsets []int) *JumpTable {
	if jt, ok := in.tables[site]; ok {
		return jt
	}
	jt := buildJumpTable(site, labelSets, offsets)
	in.tables[site] = jt
	return jt
}

func buildJumpTable(site int, labelSets [][]any, offsets []int) *JumpTable {
	if len(labelSets) != len(offsets) {
		panic(fmt.Sprintf("engine: jump table at site %d: %d label sets, %d offsets",
			site, len(labelSets), len(offsets)))
	}

	lookup := make(map[any]int)
	for i, set := range labelSets {
		for _, label := range set {
			if prev, dup := lookup[label]; dup {
				panic(fmt.Sprintf("engine: jump table at site %d: label %v in cases %d and %d",
					site, label, prev, i))
			}
			lookup[label] = i
		}
	}

	return &JumpTable{site: site, lookup: lookup, offsets: offsets}
}

// JumpToCase transfers to the unique case matching value. A value no
// set contains raises ErrUnhandledCase through normal propagation, so
// an enclosing handler can catch it.
func (jt *JumpTable) JumpToCase(in *Instance, value any) {
	idx, ok := jt.lookup[value]
	if !ok {
		in.Callback(fmt.Errorf("%w: %v at site %d", strand.ErrUnhandledCase, value, jt.site))
		return
	}
	in.Goto(jt.site + jt.offsets[idx])
}
