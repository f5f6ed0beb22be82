package dag

// betweenness computes unnormalized betweenness centrality over the directed,
// unweighted window graph using Brandes' algorithm: one BFS per source with
// shortest-path counting, then dependency accumulation in reverse BFS order.
// The result is indexed by handle; slots of dead handles stay zero.
func (w *Window) betweenness() []float64 {
	n := len(w.nodes)
	cb := make([]float64, n)

	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	preds := make([][]handle, n)
	stack := make([]handle, 0, w.size)
	queue := make([]handle, 0, w.size)

	live := w.live()
	for _, s := range live {
		for _, v := range live {
			sigma[v] = 0
			dist[v] = -1
			delta[v] = 0
			preds[v] = preds[v][:0]
		}
		sigma[s] = 1
		dist[s] = 0
		stack = stack[:0]
		queue = append(queue[:0], s)

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, c := range w.nodes[v].children {
				if dist[c] < 0 {
					dist[c] = dist[v] + 1
					queue = append(queue, c)
				}
				if dist[c] == dist[v]+1 {
					sigma[c] += sigma[v]
					preds[c] = append(preds[c], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			v := stack[i]
			for _, p := range preds[v] {
				delta[p] += sigma[p] / sigma[v] * (1 + delta[v])
			}
			if v != s {
				cb[v] += delta[v]
			}
		}
	}
	return cb
}
