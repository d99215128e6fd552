package kvbroker

import (
	"fmt"
	"strings"
)

// Put replicates a PUT command across a random k-sized subset of the
// initial server set (spec.md 4.4: PUT). Replica selection is drawn from
// initialServers, not the shrinking activeServers, so the set of nodes
// that might hold a record stays stable across the session (spec.md 4.4
// Rationale).
func (b *Broker) Put(record string) (successes int, k int, err error) {
	k = b.k

	if b.ActiveCount() < b.k {
		return 0, k, fmt.Errorf("%w: need %d, have %d", ErrInsufficientReplicas, b.k, b.ActiveCount())
	}

	targets := b.sampleInitial(b.k)
	command := "PUT " + record

	var failed []Address
	for _, addr := range targets {
		reply, err := b.sendToServer(addr, command)
		if err != nil {
			b.l.Warnf("[%s] %s", b.sessionID, err.Error())
			b.dropActive(addr)
			failed = append(failed, addr)
			continue
		}
		if reply != "OK" {
			b.l.Warnf("[%s] server %s returned: %s", b.sessionID, addr, reply)
			failed = append(failed, addr)
			continue
		}
		successes++
	}

	if len(failed) > 0 {
		b.l.Warnf("[%s] PUT failed on %d server(s); replicated to %d/%d required", b.sessionID, len(failed), successes, b.k)
	}
	return successes, k, nil
}

// sampleInitial draws a uniformly random k-sized subset of initialServers,
// using the broker's injected *rand.Rand (spec.md 9: "tests that depend on
// a particular sample must inject the sampler").
func (b *Broker) sampleInitial(k int) []Address {
	b.mu.Lock()
	perm := b.rng.Perm(len(b.initialServers))
	b.mu.Unlock()
	out := make([]Address, 0, k)
	for _, idx := range perm[:k] {
		out = append(out, b.initialServers[idx])
	}
	return out
}

// Get performs a best-effort read (spec.md 4.4: GET/QUERY). degraded is
// true when the read was refused outright because k or more initial
// servers are down; in that case reply is always "".
func (b *Broker) Get(key string) (reply string, degraded bool, err error) {
	return b.read("GET", key)
}

// Query is QUERY's analogue of Get.
func (b *Broker) Query(path string) (reply string, degraded bool, err error) {
	return b.read("QUERY", path)
}

func (b *Broker) read(cmd, arg string) (reply string, degraded bool, err error) {
	if b.KOrMoreDown() {
		b.l.Warnf("[%s] WARNING: cannot guarantee correct output, %d or more initial servers are down", b.sessionID, b.k)
		return "", true, nil
	}

	for _, addr := range b.activeSnapshot() {
		r, sendErr := b.sendToServer(addr, cmd+" "+arg)
		if sendErr != nil {
			b.l.Warnf("[%s] %s", b.sessionID, sendErr.Error())
			b.dropActive(addr)
			continue
		}
		if r != "NOT FOUND" {
			return r, false, nil
		}
	}

	return "NOT FOUND", false, nil
}

// Delete implements all-replica delete with the full-liveness safety gate
// (spec.md 4.4: DELETE). It refuses outright (no-op) unless every initial
// server is currently active.
func (b *Broker) Delete(key string) (removed bool, err error) {
	if b.ActiveCount() < b.InitialCount() {
		return false, ErrInconsistentDelete
	}

	var holders []Address
	for _, addr := range b.activeSnapshot() {
		r, sendErr := b.sendToServer(addr, "GET "+key)
		if sendErr != nil {
			b.l.Warnf("[%s] %s", b.sessionID, sendErr.Error())
			b.dropActive(addr)
			continue
		}
		if r != "NOT FOUND" {
			holders = append(holders, addr)
		}
	}

	if len(holders) == 0 {
		return false, nil
	}

	success := true
	var failed []string
	for _, addr := range holders {
		r, sendErr := b.sendToServer(addr, "DELETE "+key)
		if sendErr != nil {
			success = false
			failed = append(failed, fmt.Sprintf("%s: %s", addr, sendErr.Error()))
			continue
		}
		b.l.Infof("[%s] server %s delete response: %s", b.sessionID, addr, r)
		if r != "OK" {
			success = false
			failed = append(failed, fmt.Sprintf("%s: %s", addr, r))
		}
	}

	if !success {
		b.l.Warnf("[%s] DELETE failed on servers that had the key: %s", b.sessionID, strings.Join(failed, "; "))
		return false, nil
	}

	b.l.Infof("[%s] successfully deleted %q from %d server(s)", b.sessionID, key, len(holders))
	return true, nil
}

// Calc sends a CALC command through the same first-success path as
// GET/QUERY: active replicas are tried in turn and the first reply other
// than "NOT FOUND" is returned, so the calculation is applied on one
// replica only (other replicas holding the key are left unchanged). Like
// GET/QUERY it is refused with an empty reply while k or more initial
// servers are down.
func (b *Broker) Calc(key, expression string) (reply string, degraded bool, err error) {
	return b.read("CALC", key+" : "+expression)
}

// Stats sums the COUNT reported by every active replica (SPEC_FULL.md 4.4).
func (b *Broker) Stats() (total int, queried int) {
	for _, addr := range b.activeSnapshot() {
		r, sendErr := b.sendToServer(addr, "STATS")
		if sendErr != nil {
			b.l.Warnf("[%s] %s", b.sessionID, sendErr.Error())
			b.dropActive(addr)
			continue
		}
		var n int
		if _, scanErr := fmt.Sscanf(r, "COUNT %d", &n); scanErr == nil {
			total += n
			queried++
		}
	}
	return
}
