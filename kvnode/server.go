// Package kvnode is the node server (spec.md 4.3): it accepts one request
// per TCP connection, dispatches PUT/GET/DELETE/QUERY (and the
// SPEC_FULL.md-supplemented CALC/STATS) against a single kvtrie.Trie, and
// replies with a text response. There is no keep-alive or pipelining, but
// connections ARE served concurrently (spec.md 5's "MAY extend to
// concurrent clients" option); kvtrie.Trie's own mutex is what serializes
// the resulting concurrent mutations.
package kvnode

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jimsnab/go-kvmesh/internal/sockopt"
	"github.com/jimsnab/go-kvmesh/kvtrie"
	"github.com/jimsnab/go-lane"
)

// requestTimeout bounds how long a connection may take to finish sending
// its half-closed request, mirroring the broker's own per-request timeout
// (spec.md 5: "per-request sockets use a ~5s timeout").
const requestTimeout = 5 * time.Second

// Server is a single-trie, single-threaded-mutation node server.
type Server struct {
	l    lane.Lane
	trie *kvtrie.Trie

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

// NewServer constructs a Server over a fresh, empty trie.
func NewServer(l lane.Lane) *Server {
	return &Server{
		l:    l,
		trie: kvtrie.New(),
	}
}

// Trie exposes the underlying store, e.g. for bulk-loading before serving.
func (s *Server) Trie() *kvtrie.Trie {
	return s.trie
}

// ListenAndServe binds addr and serves connections until Close is called.
// It blocks the caller; run it in a goroutine to serve in the background.
func (s *Server) ListenAndServe(addr string) error {
	lc := net.ListenConfig{Control: sockopt.Control}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.l.Infof("node server listening on %s", addr)
	return s.Serve(ln)
}

// Serve runs the accept loop over an already-bound listener, until Close is
// called. Exported so tests and embedders can bind a listener themselves
// (e.g. "127.0.0.1:0" for an ephemeral port) and hand it to the server.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			s.l.Errorf("accept failed: %s", err.Error())
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))

	data, err := io.ReadAll(conn)
	if err != nil {
		s.l.Warnf("[%s] read error from %s: %s", connID, conn.RemoteAddr(), err.Error())
		return
	}

	request := string(data)
	s.l.Tracef("[%s] request: %s", connID, request)

	reply := dispatch(s.trie, request)

	s.l.Tracef("[%s] reply: %s", connID, reply)
	if _, err := conn.Write([]byte(reply)); err != nil {
		s.l.Warnf("[%s] write error to %s: %s", connID, conn.RemoteAddr(), err.Error())
	}
}
