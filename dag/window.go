package dag

import (
	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"

	"go.uber.org/zap"
)

// handle addresses a slot of the node arena. Slots are recycled after eviction.
type handle int

type node struct {
	info     models.BlockInfo
	parents  []handle // incoming edges, in the order they were added
	children []handle // outgoing edges
	live     bool
}

// Window is a bounded DAG of recent blocks. When full, the oldest inserted
// block is evicted together with all of its edges. Parent links to blocks that
// are not resident at insertion time are dropped and never backfilled.
//
// Window is not safe for concurrent use; it is owned by the event loop.
type Window struct {
	nodes    []node
	free     []handle
	index    map[models.BlockHash]handle
	order    []handle // ring buffer of live handles in insertion order
	head     int
	size     int
	capacity int
}

// NewWindow creates a window holding at most capacity blocks.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		index:    make(map[models.BlockHash]handle, capacity),
		order:    make([]handle, capacity),
		capacity: capacity,
	}
}

// Len returns the number of live blocks.
func (w *Window) Len() int { return w.size }

// Capacity returns the maximum number of live blocks.
func (w *Window) Capacity() int { return w.capacity }

// Contains reports whether hash is resident.
func (w *Window) Contains(hash models.BlockHash) bool {
	_, ok := w.index[hash]
	return ok
}

// Get returns the metadata of a resident block.
func (w *Window) Get(hash models.BlockHash) (models.BlockInfo, bool) {
	h, ok := w.index[hash]
	if !ok {
		return models.BlockInfo{}, false
	}
	return w.nodes[h].info, true
}

// AddBlock inserts the block and links it to its resident parents, once per
// distinct parent. A block whose hash is already resident is rejected and the
// window is left untouched.
func (w *Window) AddBlock(block *models.Block) bool {
	return w.Add(block.Info())
}

// Add is AddBlock for already extracted metadata.
func (w *Window) Add(info models.BlockInfo) bool {
	if _, dup := w.index[info.Hash]; dup {
		logger.Logger.Debug("Duplicate block rejected", zap.String("hash", string(info.Hash)))
		return false
	}

	if w.size >= w.capacity {
		w.evictOldest()
	}

	h := w.alloc(info)
	w.index[info.Hash] = h
	w.order[(w.head+w.size)%w.capacity] = h
	w.size++

	for _, p := range info.Parents {
		ph, ok := w.index[p]
		if !ok || ph == h || linked(w.nodes[h].parents, ph) {
			continue
		}
		w.nodes[ph].children = append(w.nodes[ph].children, h)
		w.nodes[h].parents = append(w.nodes[h].parents, ph)
	}
	return true
}

func (w *Window) alloc(info models.BlockInfo) handle {
	n := node{info: info, live: true}
	if k := len(w.free); k > 0 {
		h := w.free[k-1]
		w.free = w.free[:k-1]
		w.nodes[h] = n
		return h
	}
	w.nodes = append(w.nodes, n)
	return handle(len(w.nodes) - 1)
}

func (w *Window) evictOldest() {
	h := w.order[w.head]
	w.head = (w.head + 1) % w.capacity
	w.size--

	n := &w.nodes[h]
	for _, c := range n.children {
		w.nodes[c].parents = without(w.nodes[c].parents, h)
	}
	for _, p := range n.parents {
		w.nodes[p].children = without(w.nodes[p].children, h)
	}
	delete(w.index, n.info.Hash)
	logger.Logger.Debug("Evicted block", zap.String("hash", string(n.info.Hash)))

	w.nodes[h] = node{}
	w.free = append(w.free, h)
}

func linked(hs []handle, h handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

func without(hs []handle, h handle) []handle {
	out := hs[:0]
	for _, x := range hs {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}

// live returns the live handles in insertion order.
func (w *Window) live() []handle {
	hs := make([]handle, w.size)
	for i := 0; i < w.size; i++ {
		hs[i] = w.order[(w.head+i)%w.capacity]
	}
	return hs
}

// Hashes returns the resident hashes, oldest first.
func (w *Window) Hashes() []models.BlockHash {
	out := make([]models.BlockHash, 0, w.size)
	for _, h := range w.live() {
		out = append(out, w.nodes[h].info.Hash)
	}
	return out
}

// Children returns the resident children of hash.
func (w *Window) Children(hash models.BlockHash) []models.BlockHash {
	return w.neighbors(hash, func(n *node) []handle { return n.children })
}

// Parents returns the resident parents of hash in link order.
func (w *Window) Parents(hash models.BlockHash) []models.BlockHash {
	return w.neighbors(hash, func(n *node) []handle { return n.parents })
}

func (w *Window) neighbors(hash models.BlockHash, pick func(*node) []handle) []models.BlockHash {
	h, ok := w.index[hash]
	if !ok {
		return nil
	}
	hs := pick(&w.nodes[h])
	out := make([]models.BlockHash, len(hs))
	for i, x := range hs {
		out[i] = w.nodes[x].info.Hash
	}
	return out
}

// EdgeCount returns the number of parent->child edges between live blocks.
func (w *Window) EdgeCount() int {
	n := 0
	for _, h := range w.live() {
		n += len(w.nodes[h].children)
	}
	return n
}
