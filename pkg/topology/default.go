package topology

import "fmt"

const nodesPerLeaf = 4

// Default synthesizes the fallback tree used when no topology config file
// exists: one node per CPU, grouped 4-per-leaf-switch under a single core
// switch.
func Default(totalCPUs int) *Tree {
	t := &Tree{
		switches: make(map[string]*Switch),
		nodes:    make(map[string]*Node),
		top:      "core",
	}

	core := &Switch{Name: "core", Kind: KindInterior}
	t.switches["core"] = core

	numLeaves := (totalCPUs + nodesPerLeaf - 1) / nodesPerLeaf
	if numLeaves == 0 {
		numLeaves = 1
	}

	cpuIdx := 0
	for l := 0; l < numLeaves; l++ {
		leafName := fmt.Sprintf("switch%d", l+1)
		leaf := &Switch{Name: leafName, Kind: KindLeaf, Parent: "core"}
		for i := 0; i < nodesPerLeaf && cpuIdx < totalCPUs; i++ {
			nodeName := fmt.Sprintf("node%d", cpuIdx+1)
			leaf.Children = append(leaf.Children, nodeName)
			t.nodes[nodeName] = &Node{Name: nodeName, CPUIndex: cpuIdx, Switch: leafName}
			cpuIdx++
		}
		t.switches[leafName] = leaf
		core.Children = append(core.Children, leafName)
	}

	t.assignDepths()
	return t
}
