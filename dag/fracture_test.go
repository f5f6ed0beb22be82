package dag

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stitchbot/stitchbot/models"
)

func modelsHash(s string) models.BlockHash { return models.BlockHash(s) }

// chain adds n blocks named prefix0..prefix{n-1} on top of parent.
func chain(w *Window, prefix, parent string, blue uint64, n int) string {
	prev := parent
	for i := 0; i < n; i++ {
		h := fmt.Sprintf("%s%d", prefix, i)
		if prev == "" {
			w.Add(info(h, blue))
		} else {
			w.Add(info(h, blue, prev))
		}
		prev = h
		blue++
	}
	return prev
}

func TestFindFractureNeedsTenNodes(t *testing.T) {
	w := NewWindow(100)
	w.Add(info("X", 0))
	for i := 0; i < 8; i++ {
		w.Add(info(fmt.Sprintf("c%d", i), 1000, "X"))
	}
	require.Equal(t, 9, w.Len())
	_, ok := w.FindFracture(0)
	require.False(t, ok)

	w.Add(info("c8", 1000, "X"))
	_, ok = w.FindFracture(0)
	require.True(t, ok)
}

func TestFindFractureScenario(t *testing.T) {
	w := NewWindow(100)
	tail := chain(w, "p", "", 0, 8)
	xBlue := uint64(7)
	w.Add(info("X", xBlue+1, tail))
	w.Add(info("Y", xBlue+1+5, "X"))
	w.Add(info("Z", xBlue+1+250, "X"))

	f, ok := w.FindFracture(200)
	require.True(t, ok)
	require.Equal(t, modelsHash("X"), f.Branch.Hash)
	require.Equal(t, []models.BlockHash{"Y", "Z"}, f.TipHashes())
	require.Equal(t, uint64(250), f.Delta)

	_, ok = w.FindFracture(251)
	require.False(t, ok)
}

func TestFindFractureInvariants(t *testing.T) {
	w := NewWindow(64)
	tail := chain(w, "base", "", 0, 6)
	w.Add(info("F1", 10, tail))
	w.Add(info("F1a", 400, "F1"))
	w.Add(info("F1b", 11, "F1"))
	w.Add(info("F2", 20, "F1b"))
	w.Add(info("F2a", 30, "F2"))
	w.Add(info("F2b", 21, "F2"))

	for _, minDelta := range []uint64{0, 5, 10, 100, 390, 1000} {
		f, ok := w.FindFracture(minDelta)
		if !ok {
			continue
		}
		require.GreaterOrEqual(t, len(f.Tips), 2)
		require.Len(t, w.Children(f.Branch.Hash), len(f.Tips))
		var hit bool
		for _, tip := range f.Tips {
			if tip.BlueScore >= f.Branch.BlueScore && tip.BlueScore-f.Branch.BlueScore >= minDelta {
				hit = true
			}
		}
		require.True(t, hit, "minDelta=%d", minDelta)
	}
}

func TestFindFracturePrefersCentralBranch(t *testing.T) {
	w := NewWindow(64)
	// root forks early into two long arms, so it lies on no shortest path
	// between others; mid forks with descendants on both sides.
	w.Add(info("root", 0))
	w.Add(info("side", 500, "root"))
	w.Add(info("mid", 1, "root"))
	w.Add(info("up", 2, "mid"))
	w.Add(info("m1", 600, "mid"))
	chain(w, "u", "up", 3, 3)
	chain(w, "v", "m1", 601, 3)

	f, ok := w.FindFracture(100)
	require.True(t, ok)
	require.Equal(t, modelsHash("mid"), f.Branch.Hash)
	require.Greater(t, f.Centrality, 0.0)
}

func TestBetweennessPath(t *testing.T) {
	w := NewWindow(10)
	chain(w, "n", "", 0, 4) // n0 -> n1 -> n2 -> n3

	cb := w.betweenness()
	get := func(h string) float64 { return cb[w.index[modelsHash(h)]] }
	require.Equal(t, 0.0, get("n0"))
	require.Equal(t, 2.0, get("n1")) // (n0,n2) (n0,n3)
	require.Equal(t, 2.0, get("n2")) // (n0,n3) (n1,n3)
	require.Equal(t, 0.0, get("n3"))
}

func TestBetweennessDiamondSplitsPaths(t *testing.T) {
	w := NewWindow(10)
	w.Add(info("s", 0))
	w.Add(info("a", 1, "s"))
	w.Add(info("b", 1, "s"))
	w.Add(info("t", 2, "a", "b"))

	cb := w.betweenness()
	require.Equal(t, 0.5, cb[w.index["a"]])
	require.Equal(t, 0.5, cb[w.index["b"]])
}
