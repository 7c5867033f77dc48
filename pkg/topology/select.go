package topology

import "sort"

// SelectNodes chooses k nodes from the free set, minimizing the maximum
// pairwise distance among the chosen: a single leaf switch with enough
// free nodes wins outright, otherwise selection grows greedily from the
// fullest leaf.
func (t *Tree) SelectNodes(k int, free map[string]bool) ([]string, bool) {
	if k <= 0 {
		return nil, true
	}

	freeByLeaf := make(map[string][]string)
	for name := range free {
		n, ok := t.nodes[name]
		if !ok {
			continue
		}
		freeByLeaf[n.Switch] = append(freeByLeaf[n.Switch], name)
	}
	for leaf := range freeByLeaf {
		sort.Strings(freeByLeaf[leaf])
	}

	// Phase 1: a single leaf with >= k free nodes, preferring the most
	// free nodes, tie-broken by switch name.
	var bestLeaf string
	bestCount := -1
	leafNames := make([]string, 0, len(freeByLeaf))
	for leaf := range freeByLeaf {
		leafNames = append(leafNames, leaf)
	}
	sort.Strings(leafNames)
	for _, leaf := range leafNames {
		nodes := freeByLeaf[leaf]
		if len(nodes) >= k && len(nodes) > bestCount {
			bestLeaf = leaf
			bestCount = len(nodes)
		}
	}
	if bestCount >= k {
		return append([]string(nil), freeByLeaf[bestLeaf][:k]...), true
	}

	// Phase 2: greedy minimax across the whole free set.
	totalFree := 0
	for _, nodes := range freeByLeaf {
		totalFree += len(nodes)
	}
	if totalFree < k {
		return nil, false
	}

	// Start from the leaf with the most free nodes (tie-break by name,
	// already the iteration order above).
	startLeaf := leafNames[0]
	startCount := -1
	for _, leaf := range leafNames {
		if len(freeByLeaf[leaf]) > startCount {
			startLeaf = leaf
			startCount = len(freeByLeaf[leaf])
		}
	}

	remaining := make(map[string]bool, totalFree)
	for _, nodes := range freeByLeaf {
		for _, n := range nodes {
			remaining[n] = true
		}
	}

	first := freeByLeaf[startLeaf][0]
	chosen := []string{first}
	delete(remaining, first)

	for len(chosen) < k {
		candidates := make([]string, 0, len(remaining))
		for n := range remaining {
			candidates = append(candidates, n)
		}
		sort.Strings(candidates)

		var bestNode string
		bestMaxDist := -1
		bestCentroidDist := -1
		for _, cand := range candidates {
			maxDist := 0
			sumDist := 0
			for _, c := range chosen {
				d := t.Distance(cand, c)
				if d > maxDist {
					maxDist = d
				}
				sumDist += d
			}
			// Tie-break on the candidate's distance to the current
			// centroid, approximated as its mean distance to the
			// chosen set.
			centroidDist := 0
			if len(chosen) > 0 {
				centroidDist = sumDist / len(chosen)
			}

			switch {
			case bestMaxDist == -1 || maxDist < bestMaxDist:
				bestNode, bestMaxDist, bestCentroidDist = cand, maxDist, centroidDist
			case maxDist == bestMaxDist && centroidDist < bestCentroidDist:
				bestNode, bestCentroidDist = cand, centroidDist
			case maxDist == bestMaxDist && centroidDist == bestCentroidDist && cand < bestNode:
				bestNode = cand
			}
		}
		chosen = append(chosen, bestNode)
		delete(remaining, bestNode)
	}

	sort.Strings(chosen)
	return chosen, true
}
