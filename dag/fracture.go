package dag

import (
	"sort"

	"github.com/stitchbot/stitchbot/models"
)

const (
	// MinFractureNodes is the smallest window FindFracture will inspect.
	MinFractureNodes = 10

	rankScale = 1_000_000.0
)

// Fracture is a branch point whose children have diverged in blue score.
type Fracture struct {
	Branch     models.BlockInfo
	Tips       []models.BlockInfo // every child of Branch, in link order
	Delta      uint64             // max child blue score minus branch blue score
	Centrality float64
}

// TipHashes returns the hashes of f.Tips.
func (f *Fracture) TipHashes() []models.BlockHash {
	out := make([]models.BlockHash, len(f.Tips))
	for i, t := range f.Tips {
		out[i] = t.Hash
	}
	return out
}

type candidate struct {
	h          handle
	delta      uint64
	centrality float64
	rank       float64
}

// FindFracture returns the most critical fracture whose blue-score gap is at
// least minDelta. Candidates are nodes with two or more children, ranked by
// centrality first and, between equally central nodes, by the smaller gap.
// Windows with fewer than MinFractureNodes blocks never report a fracture.
func (w *Window) FindFracture(minDelta uint64) (*Fracture, bool) {
	if w.size < MinFractureNodes {
		return nil, false
	}

	var cands []candidate
	var cb []float64
	for _, h := range w.live() {
		n := &w.nodes[h]
		if len(n.children) < 2 {
			continue
		}
		var maxChild uint64
		for _, c := range n.children {
			if b := w.nodes[c].info.BlueScore; b > maxChild {
				maxChild = b
			}
		}
		var d uint64
		if maxChild > n.info.BlueScore {
			d = maxChild - n.info.BlueScore
		}
		if d < minDelta {
			continue
		}
		if cb == nil {
			cb = w.betweenness()
		}
		cands = append(cands, candidate{
			h:          h,
			delta:      d,
			centrality: cb[h],
			rank:       cb[h]*rankScale + rankScale/(float64(d)+1),
		})
	}
	if len(cands) == 0 {
		return nil, false
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].rank > cands[j].rank })
	best := cands[0]

	n := &w.nodes[best.h]
	tips := make([]models.BlockInfo, len(n.children))
	for i, c := range n.children {
		tips[i] = w.nodes[c].info
	}
	return &Fracture{
		Branch:     n.info,
		Tips:       tips,
		Delta:      best.delta,
		Centrality: best.centrality,
	}, true
}
