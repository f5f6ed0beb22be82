package dag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectedChainLinear(t *testing.T) {
	w := NewWindow(10)
	w.Add(info("A", 0))
	w.Add(info("B", 1, "A"))
	w.Add(info("C", 2, "B"))

	for _, h := range []string{"A", "B", "C"} {
		require.True(t, w.IsInSelectedChain(modelsHash(h)), h)
	}
}

func TestSelectedChainPrefersHeavierBranch(t *testing.T) {
	w := NewWindow(10)
	w.Add(info("A", 10))
	w.Add(info("light", 11, "A"))
	w.Add(info("heavy", 15, "A"))

	// The apex of "light" is itself (nothing above it scores higher), so it is
	// trivially reached.
	require.True(t, w.IsInSelectedChain("light"))
	require.True(t, w.IsInSelectedChain("heavy"))

	// Once light gets a child, the walk from A goes through heavy.
	w.Add(info("light2", 12, "light"))
	require.True(t, w.IsInSelectedChain("heavy"))
}

func TestSelectedChainOrphanUnderHigherAncestor(t *testing.T) {
	w := NewWindow(10)
	// An ancestor with a higher score than its descendants makes the descent
	// start above them.
	w.Add(info("top", 100))
	w.Add(info("a", 50, "top"))
	w.Add(info("b", 60, "top"))
	w.Add(info("a1", 51, "a"))

	require.False(t, w.IsInSelectedChain("a1"))
	require.False(t, w.IsInSelectedChain("a"))
	require.True(t, w.IsInSelectedChain("b"))
}

func TestSelectedChainDetachedBlock(t *testing.T) {
	w := NewWindow(10)
	w.Add(info("lonely", 4, "missing1", "missing2"))

	require.True(t, w.IsInSelectedChain("lonely"))
	require.True(t, w.IsInSelectedChain("lonely"))
	require.False(t, w.IsInSelectedChain("unknown"))
}

func TestSelectedChainAfterEviction(t *testing.T) {
	w := NewWindow(2)
	w.Add(info("A", 0))
	w.Add(info("B", 1, "A"))
	w.Add(info("C", 2, "B"))

	require.False(t, w.IsInSelectedChain("A"))
	require.True(t, w.IsInSelectedChain("B"))
	require.True(t, w.IsInSelectedChain("C"))
}
