// Package kvbroker implements the broker side of the system (spec.md 4.4):
// it tracks reachable replica nodes, replicates PUTs across a configurable
// number of them, serves GET/QUERY from whichever replica answers first,
// and deletes a key from every replica that holds it, gating reads and
// deletes on liveness per spec.md's safety invariants.
package kvbroker

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jimsnab/go-lane"
)

// Timeouts per spec.md 5: a short connect timeout for liveness probes, a
// longer one for an actual request/reply round trip.
const (
	ProbeTimeout   = 2 * time.Second
	RequestTimeout = 5 * time.Second
)

var (
	ErrInsufficientReplicas = errors.New("insufficient replicas")
	ErrInconsistentDelete   = errors.New("delete refused: not all initial servers are reachable")
)

// ProbeMode selects the liveness check RefreshActive (and the startup
// probe in New) performs against each candidate server (SPEC_FULL.md
// 4.3/6: the broker's "-probe=connect|stats" flag).
type ProbeMode int

const (
	// ProbeConnect is a bare TCP connect/close, the cheap default.
	ProbeConnect ProbeMode = iota
	// ProbeStats issues a STATS request and requires a well-formed
	// "COUNT <n>" reply, exercising the node's full dispatch path as a
	// content-bearing liveness check (SPEC_FULL.md 4.3).
	ProbeStats
)

// ParseProbeMode parses the "-probe" flag value, defaulting to
// ProbeConnect for an empty string.
func ParseProbeMode(s string) (ProbeMode, error) {
	switch s {
	case "", "connect":
		return ProbeConnect, nil
	case "stats":
		return ProbeStats, nil
	default:
		return 0, fmt.Errorf("unknown probe mode %q, expected connect or stats", s)
	}
}

// Address is a replica's host/port, and the map key used for the
// active/initial server sets.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Broker is the replication/query/delete coordinator described in
// spec.md 4.4. It is driven by one cooperative caller (the REPL): each
// command is expected to run to completion before the next starts, per
// spec.md 5. The mutex exists so an embedder MAY drive it concurrently
// without further changes, per spec.md 9's concurrent-extension note.
type Broker struct {
	l         lane.Lane
	sessionID string
	k         int
	rng       *rand.Rand
	probeMode ProbeMode

	mu             sync.Mutex
	initialServers []Address
	active         map[Address]bool

	dial func(addr Address, timeout time.Duration) (net.Conn, error)
}

// New probes every candidate server (spec.md 4.4 Startup) and returns a
// Broker ready to serve, or ErrInsufficientReplicas if fewer than k
// answered. probeMode selects the liveness check used here and by every
// subsequent RefreshActive (SPEC_FULL.md 4.3/6).
func New(l lane.Lane, servers []Address, k int, rng *rand.Rand, probeMode ProbeMode) (*Broker, error) {
	if k <= 0 {
		return nil, fmt.Errorf("replication factor must be positive, got %d", k)
	}
	if k > len(servers) {
		return nil, fmt.Errorf("replication factor (%d) cannot be greater than number of servers (%d)", k, len(servers))
	}

	b := &Broker{
		l:         l,
		sessionID: uuid.NewString(),
		k:         k,
		rng:       rng,
		probeMode: probeMode,
		active:    map[Address]bool{},
		dial:      dialTCP,
	}

	for _, addr := range servers {
		if b.probe(addr, ProbeTimeout) {
			b.active[addr] = true
			b.l.Infof("[%s] successfully connected to server %s", b.sessionID, addr)
		} else {
			b.l.Warnf("[%s] could not connect to server %s", b.sessionID, addr)
		}
	}

	if len(b.active) < k {
		return nil, fmt.Errorf("%w: need at least %d, but only %d are available", ErrInsufficientReplicas, k, len(b.active))
	}

	b.initialServers = make([]Address, 0, len(b.active))
	for addr := range b.active {
		b.initialServers = append(b.initialServers, addr)
	}

	b.l.Infof("[%s] initial server status: %d/%d active servers", b.sessionID, len(b.active), len(servers))
	return b, nil
}

func dialTCP(addr Address, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr.String(), timeout)
}

func (b *Broker) probe(addr Address, timeout time.Duration) bool {
	if b.probeMode == ProbeStats {
		return b.probeStats(addr, timeout)
	}
	return b.probeConnect(addr, timeout)
}

func (b *Broker) probeConnect(addr Address, timeout time.Duration) bool {
	conn, err := b.dial(addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// probeStats issues a STATS request and requires a well-formed "COUNT <n>"
// reply, exercising the node's dispatch path rather than just its listen
// socket (SPEC_FULL.md 4.3: "-probe=stats").
func (b *Broker) probeStats(addr Address, timeout time.Duration) bool {
	conn, err := b.dial(addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte("STATS")); err != nil {
		return false
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	reply, err := readAll(conn)
	if err != nil {
		return false
	}

	var n int
	_, scanErr := fmt.Sscanf(string(reply), "COUNT %d", &n)
	return scanErr == nil
}

// RefreshActive re-probes every address currently in the active set and
// drops those that fail the probe selected by the broker's ProbeMode. A dropped address is never re-added
// within the session (spec.md 4.4, 9 Open Question 2).
func (b *Broker) RefreshActive() {
	b.mu.Lock()
	current := make([]Address, 0, len(b.active))
	for addr := range b.active {
		current = append(current, addr)
	}
	b.mu.Unlock()

	for _, addr := range current {
		if !b.probe(addr, ProbeTimeout) {
			b.dropActive(addr)
		}
	}
}

func (b *Broker) dropActive(addr Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active[addr] {
		delete(b.active, addr)
		b.l.Warnf("[%s] server %s is no longer reachable", b.sessionID, addr)
	}
}

// ActiveCount returns the current size of the active-server set.
func (b *Broker) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// InitialCount returns the fixed size of the initial-server set.
func (b *Broker) InitialCount() int {
	return len(b.initialServers)
}

// KOrMoreDown implements the degradation predicate (spec.md 4.4): true iff
// k or more of the initial servers are currently unreachable.
func (b *Broker) KOrMoreDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	down := 0
	for _, addr := range b.initialServers {
		if !b.active[addr] {
			down++
		}
	}
	return down >= b.k
}

func (b *Broker) activeSnapshot() []Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Address, 0, len(b.active))
	for addr := range b.active {
		out = append(out, addr)
	}
	return out
}

// sendToServer opens a fresh connection, writes command, half-closes the
// send side, and reads the full reply, mirroring kvBroker.py's
// send_to_server and the per-request transport shape used throughout the
// pack (connect/send/half-close/recv).
func (b *Broker) sendToServer(addr Address, command string) (string, error) {
	conn, err := b.dial(addr, ProbeTimeout)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(RequestTimeout))

	if _, err := conn.Write([]byte(command)); err != nil {
		return "", fmt.Errorf("send to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	reply, err := readAll(conn)
	if err != nil {
		return "", fmt.Errorf("recv from %s: %w", addr, err)
	}
	return string(reply), nil
}

func readAll(conn net.Conn) ([]byte, error) {
	var out []byte
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}
