package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustBuild(t *testing.T, config string) *Tree {
	t.Helper()
	cf, err := ParseConfig(strings.NewReader(config))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	tree, err := buildTree(cf.switches)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	return tree
}

const sampleConfig = `
TopologyPlugin=topology/tree
SwitchName=switch1 Nodes=node[1-4]
SwitchName=switch2 Nodes=node[5-8]
SwitchName=core Switches=switch[1-2]
`

func TestExpandListRangesAndSingles(t *testing.T) {
	got, err := expandList("node[1-3],rack9,node[5-6]")
	if err != nil {
		t.Fatalf("expandList: %v", err)
	}
	want := []string{"node1", "node2", "node3", "rack9", "node5", "node6"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestBuildTreeFromSampleConfig(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	nodes := tree.Nodes()
	if len(nodes) != 8 {
		t.Fatalf("expected 8 nodes, got %d: %v", len(nodes), nodes)
	}
}

func TestDistanceSameLeafIsZero(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	if d := tree.Distance("node1", "node2"); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}

func TestDistanceDifferentLeafSameParent(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	if d := tree.Distance("node1", "node5"); d != 2 {
		t.Fatalf("expected 2, got %d", d)
	}
}

func TestDistanceSameNodeIsZero(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	if d := tree.Distance("node1", "node1"); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}

func TestRequiresExactlyOneTopSwitch(t *testing.T) {
	cf, err := ParseConfig(strings.NewReader(`
SwitchName=switch1 Nodes=node[1-2]
SwitchName=switch2 Nodes=node[3-4]
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if _, err := buildTree(cf.switches); err == nil {
		t.Fatal("expected error for two top switches, got nil")
	}
}

func TestParseConfigCapturesPlugin(t *testing.T) {
	cf, err := ParseConfig(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cf.Plugin != "topology/tree" {
		t.Fatalf("expected plugin topology/tree, got %q", cf.Plugin)
	}
}

func TestLoadFileDisabledPluginYieldsNilTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.conf")
	conf := "TopologyPlugin=none\nSwitchName=switch1 Nodes=node[1-4]\nSwitchName=core Switches=switch1\n"
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tree, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if tree != nil {
		t.Fatal("expected nil tree when the plugin line disables topology")
	}
}

func TestCPUIndicesFollowNumericNodeOrder(t *testing.T) {
	tree := mustBuild(t, `
SwitchName=switch1 Nodes=node[1-12]
SwitchName=core Switches=switch1
`)
	for k := 1; k <= 12; k++ {
		n, ok := tree.Node(fmt.Sprintf("node%d", k))
		if !ok {
			t.Fatalf("node%d missing", k)
		}
		if n.CPUIndex != k-1 {
			t.Fatalf("node%d: expected cpu index %d, got %d", k, k-1, n.CPUIndex)
		}
	}
}

func TestSelectNodesPrefersSingleLeaf(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	free := map[string]bool{"node1": true, "node2": true, "node3": true, "node5": true}

	got, ok := tree.SelectNodes(2, free)
	if !ok {
		t.Fatal("expected selection to succeed")
	}
	for _, n := range got {
		if tree.leafOf(n) != "switch1" {
			t.Fatalf("expected both nodes from switch1, got %v", got)
		}
	}
}

func TestSelectNodesAcrossLeavesWhenNecessary(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	free := map[string]bool{"node1": true, "node5": true, "node6": true}

	got, ok := tree.SelectNodes(3, free)
	if !ok {
		t.Fatal("expected selection to succeed")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 nodes, got %v", got)
	}
}

func TestSelectNodesInsufficientFreeFails(t *testing.T) {
	tree := mustBuild(t, sampleConfig)
	free := map[string]bool{"node1": true}

	_, ok := tree.SelectNodes(5, free)
	if ok {
		t.Fatal("expected selection to fail when not enough free nodes")
	}
}

func TestEnabledSpellings(t *testing.T) {
	for _, v := range []string{"topology/tree", "topology", "yes", "1", "true", "TRUE"} {
		if !Enabled(v) {
			t.Fatalf("expected %q to be enabled", v)
		}
	}
	if Enabled("no") || Enabled("") {
		t.Fatal("expected falsy values to be disabled")
	}
}

func TestDefaultSynthesizesFourPerLeaf(t *testing.T) {
	tree := Default(10)
	nodes := tree.Nodes()
	if len(nodes) != 10 {
		t.Fatalf("expected 10 nodes, got %d", len(nodes))
	}
	// 10 cpus -> 3 leaves (4,4,2) under one core switch.
	if len(tree.switches) != 4 {
		t.Fatalf("expected 4 switches (core + 3 leaves), got %d", len(tree.switches))
	}
}
