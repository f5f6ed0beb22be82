package dag

import "github.com/stitchbot/stitchbot/models"

// IsInSelectedChain approximates whether hash lies on the best chain as seen
// from the window. It climbs through first-linked parents to the highest blue
// score ancestor (the apex), then descends from the apex always taking the
// child with the strictly greatest blue score. The block is on the chain if
// the descent reaches it. Unknown hashes return false.
//
// This is a local heuristic over locally visible scores, not the network's
// chain selection rule. Both walks are bounded by the window size.
func (w *Window) IsInSelectedChain(hash models.BlockHash) bool {
	target, ok := w.index[hash]
	if !ok {
		return false
	}

	apex := w.apex(target)

	cur := apex
	for steps := 0; steps <= w.size; steps++ {
		if cur == target {
			return true
		}
		next, ok := w.heaviestChild(cur)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

// apex walks up from h via the first-linked parent and returns the node with
// the greatest blue score seen on the way (h itself if nothing is higher).
func (w *Window) apex(h handle) handle {
	best := h
	maxBlue := w.nodes[h].info.BlueScore

	cur := h
	for steps := 0; steps < w.size; steps++ {
		parents := w.nodes[cur].parents
		if len(parents) == 0 {
			break
		}
		cur = parents[0]
		if b := w.nodes[cur].info.BlueScore; b > maxBlue {
			maxBlue = b
			best = cur
		}
	}
	return best
}

// heaviestChild returns the child with the strictly greatest blue score; on a
// tie the earliest linked child wins.
func (w *Window) heaviestChild(h handle) (handle, bool) {
	children := w.nodes[h].children
	if len(children) == 0 {
		return 0, false
	}
	best := children[0]
	for _, c := range children[1:] {
		if w.nodes[c].info.BlueScore > w.nodes[best].info.BlueScore {
			best = c
		}
	}
	return best, true
}
