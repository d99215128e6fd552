package kvbroker_test

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/jimsnab/go-kvmesh/kvbroker"
	"github.com/jimsnab/go-kvmesh/kvnode"
	"github.com/jimsnab/go-lane"
)

// testNode is one running kvnode.Server bound to an ephemeral port, plus
// its kvbroker.Address for wiring into a Broker under test.
type testNode struct {
	srv  *kvnode.Server
	addr kvbroker.Address
}

func startNode(t *testing.T) testNode {
	t.Helper()
	l := lane.NewTestingLane(context.Background())
	srv := kvnode.NewServer(l)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return testNode{srv: srv, addr: kvbroker.Address{Host: host, Port: port}}
}

func addrsOf(nodes []testNode) []kvbroker.Address {
	out := make([]kvbroker.Address, len(nodes))
	for i, n := range nodes {
		out[i] = n.addr
	}
	return out
}

func newTestBroker(t *testing.T, nodes []testNode, k int, seed int64) *kvbroker.Broker {
	t.Helper()
	l := lane.NewTestingLane(context.Background())
	b, err := kvbroker.New(l, addrsOf(nodes), k, rand.New(rand.NewSource(seed)), kvbroker.ProbeConnect)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// countHolders asks every node directly (bypassing the broker) whether it
// holds key, and returns how many do.
func countHolders(t *testing.T, nodes []testNode, key string) int {
	t.Helper()
	n := 0
	for _, node := range nodes {
		if _, ok := node.srv.Trie().Search(key); ok {
			n++
		}
	}
	return n
}

// TestPutReplicatesToExactlyK covers spec.md 8a: with 3 nodes and k=2, a PUT
// leaves the record on exactly 2 of the 3 replicas.
func TestPutReplicatesToExactlyK(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	b := newTestBroker(t, nodes, 2, 1)

	successes, k, err := b.Put(`"widget" : 5`)
	if err != nil {
		t.Fatal(err)
	}
	if k != 2 || successes != 2 {
		t.Fatalf("successes=%d k=%d", successes, k)
	}
	if got := countHolders(t, nodes, "widget"); got != 2 {
		t.Fatalf("expected exactly 2 holders, got %d", got)
	}
}

// TestGetSurvivesLosingOneHolder covers spec.md 8b: GET still succeeds after
// one of the two replicas holding the key goes down.
func TestGetSurvivesLosingOneHolder(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	b := newTestBroker(t, nodes, 2, 1)

	if _, _, err := b.Put(`"widget" : 5`); err != nil {
		t.Fatal(err)
	}

	var holderIdx []int
	for i, n := range nodes {
		if _, ok := n.srv.Trie().Search("widget"); ok {
			holderIdx = append(holderIdx, i)
		}
	}
	if len(holderIdx) != 2 {
		t.Fatalf("expected 2 holders, got %d", len(holderIdx))
	}

	// Take down one of the two holding replicas.
	nodes[holderIdx[0]].srv.Close()
	b.RefreshActive()

	reply, degraded, err := b.Get("widget")
	if err != nil {
		t.Fatal(err)
	}
	if degraded {
		t.Fatal("expected a non-degraded read with only 1 of 3 initial servers down (k=2)")
	}
	if reply != `widget : 5` {
		t.Fatalf("reply = %q", reply)
	}
}

// TestDegradedReadAndPutRefusalWhenKOrMoreDown covers spec.md 8c: with k=2
// and 2 of 3 nodes down, GET degrades to an empty reply with a warning, and
// PUT is refused outright.
func TestDegradedReadAndPutRefusalWhenKOrMoreDown(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	b := newTestBroker(t, nodes, 2, 1)

	if _, _, err := b.Put(`"widget" : 5`); err != nil {
		t.Fatal(err)
	}

	nodes[0].srv.Close()
	nodes[1].srv.Close()
	b.RefreshActive()

	reply, degraded, err := b.Get("widget")
	if err != nil {
		t.Fatal(err)
	}
	if !degraded || reply != "" {
		t.Fatalf("expected degraded empty reply, got degraded=%v reply=%q", degraded, reply)
	}

	if _, _, err := b.Put(`"other" : 1`); err == nil {
		t.Fatal("expected PUT to be refused with only 1 active server and k=2")
	}
}

// TestQueryNestedPath covers spec.md 8d at the broker level: a nested PUT
// followed by a dotted-path QUERY resolves through whichever replica
// answers first.
func TestQueryNestedPath(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	b := newTestBroker(t, nodes, 3, 1)

	if _, _, err := b.Put(`"p" : { "x" : 1; "y" : { "z" : 2 } }`); err != nil {
		t.Fatal(err)
	}

	reply, degraded, err := b.Query("p.y.z")
	if err != nil {
		t.Fatal(err)
	}
	if degraded {
		t.Fatal("unexpected degraded read")
	}
	if reply != "p.y.z : 2" {
		t.Fatalf("reply = %q", reply)
	}

	reply, _, err = b.Query("p.y.q")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "NOT FOUND" {
		t.Fatalf("reply = %q", reply)
	}
}

// TestDeleteLongerLeavesPrefixKeyIntact is the reverse of spec.md 8e at the
// broker level: deleting a longer key must not remove a shorter stored key
// that is its prefix on any replica (the trie.py pruning bug, checked
// end-to-end).
func TestDeleteLongerLeavesPrefixKeyIntact(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	b := newTestBroker(t, nodes, 3, 1)

	if _, _, err := b.Put(`"abcde" : 1`); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Put(`"abcdef" : 2`); err != nil {
		t.Fatal(err)
	}

	removed, err := b.Delete("abcdef")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected abcdef to be removed")
	}

	reply, _, err := b.Get("abcde")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "abcde : 1" {
		t.Fatalf("abcde should still be present, got %q", reply)
	}

	reply, _, err = b.Get("abcdef")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "NOT FOUND" {
		t.Fatalf("abcdef should be gone, got %q", reply)
	}
}

// TestDeleteRefusedWhenInitialServerDown covers spec.md 8f: DELETE is
// refused with a warning (here, surfaced as ErrInconsistentDelete) when one
// of the initial servers is unreachable, even though it fully succeeds when
// all are up.
func TestDeleteRefusedWhenInitialServerDown(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	b := newTestBroker(t, nodes, 3, 1)

	if _, _, err := b.Put(`"widget" : 5`); err != nil {
		t.Fatal(err)
	}

	if removed, err := b.Delete("widget"); err != nil || !removed {
		t.Fatalf("expected delete to succeed while all servers up: removed=%v err=%v", removed, err)
	}

	if _, _, err := b.Put(`"widget" : 5`); err != nil {
		t.Fatal(err)
	}

	nodes[0].srv.Close()
	b.RefreshActive()

	if _, err := b.Delete("widget"); !strings.Contains(errString(err), "initial servers are reachable") {
		t.Fatalf("expected ErrInconsistentDelete, got %v", err)
	}
}

// TestProbeStatsModeDetectsLiveAndDeadNodes covers SPEC_FULL.md 4.3/6's
// "-probe=stats" mode: startup succeeds by issuing STATS (not a bare
// connect) against every candidate, and RefreshActive correctly drops a
// node that goes down.
func TestProbeStatsModeDetectsLiveAndDeadNodes(t *testing.T) {
	nodes := []testNode{startNode(t), startNode(t), startNode(t)}
	l := lane.NewTestingLane(context.Background())

	b, err := kvbroker.New(l, addrsOf(nodes), 2, rand.New(rand.NewSource(1)), kvbroker.ProbeStats)
	if err != nil {
		t.Fatal(err)
	}
	if b.ActiveCount() != 3 {
		t.Fatalf("expected all 3 nodes active via stats probe, got %d", b.ActiveCount())
	}

	nodes[0].srv.Close()
	b.RefreshActive()

	if b.ActiveCount() != 2 {
		t.Fatalf("expected stats probe to detect the downed node, active=%d", b.ActiveCount())
	}
}

func TestParseProbeMode(t *testing.T) {
	if m, err := kvbroker.ParseProbeMode(""); err != nil || m != kvbroker.ProbeConnect {
		t.Errorf("empty string = %v, %v", m, err)
	}
	if m, err := kvbroker.ParseProbeMode("connect"); err != nil || m != kvbroker.ProbeConnect {
		t.Errorf("connect = %v, %v", m, err)
	}
	if m, err := kvbroker.ParseProbeMode("stats"); err != nil || m != kvbroker.ProbeStats {
		t.Errorf("stats = %v, %v", m, err)
	}
	if _, err := kvbroker.ParseProbeMode("bogus"); err == nil {
		t.Error("expected error for unknown probe mode")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
