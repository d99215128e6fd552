// Package kvtrie implements the per-node in-memory prefix tree that indexes
// top-level keys to structured values (spec.md 4.2). Trie is safe for
// concurrent use: a single sync.RWMutex serializes mutations (Insert,
// Delete) against reads (Search, QueryPath, Keys), per spec.md 5's
// requirement that a concurrent-client server "MUST then serialize trie
// mutations (single writer, or a reader-writer discipline...)".
package kvtrie

import (
	"strings"
	"sync"

	"github.com/jimsnab/go-kvmesh/kvvalue"
)

type node struct {
	children map[byte]*node
	value    *kvvalue.Value
}

func newNode() *node {
	return &node{children: map[byte]*node{}}
}

// Trie is a character-indexed trie over top-level keys, each terminal
// carrying a kvvalue.Value.
type Trie struct {
	mu   sync.RWMutex
	root *node
}

// New returns an empty Trie.
func New() *Trie {
	return &Trie{root: newNode()}
}

// Insert walks/creates the character path for key and overwrites any
// existing terminal value.
func (t *Trie) Insert(key string, value kvvalue.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for i := 0; i < len(key); i++ {
		c := key[i]
		child, ok := n.children[c]
		if !ok {
			child = newNode()
			n.children[c] = child
		}
		n = child
	}
	v := value
	n.value = &v
}

// Search walks the path for key and returns its terminal value, if any.
func (t *Trie) Search(key string) (kvvalue.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.walk(key)
	if n == nil || n.value == nil {
		return kvvalue.Value{}, false
	}
	return *n.value, true
}

func (t *Trie) walk(key string) *node {
	n := t.root
	for i := 0; i < len(key); i++ {
		child, ok := n.children[key[i]]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// Delete clears the terminal value for key, if present, and prunes any
// node left with neither a value nor children along the unwind. Returns
// false if key had no stored value.
func (t *Trie) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, deleted := deleteRecursive(t.root, key, 0)
	return deleted
}

// deleteRecursive returns (shouldPruneChild, deleted). shouldPruneChild
// tells the parent whether the child it just recursed into became
// childless and valueless and should be removed from its own map.
func deleteRecursive(n *node, key string, depth int) (shouldPrune bool, deleted bool) {
	if depth == len(key) {
		if n.value == nil {
			return false, false
		}
		n.value = nil
		return len(n.children) == 0, true
	}

	c := key[depth]
	child, ok := n.children[c]
	if !ok {
		return false, false
	}

	childShouldPrune, didDelete := deleteRecursive(child, key, depth+1)
	if childShouldPrune {
		delete(n.children, c)
	}

	return didDelete && len(n.children) == 0 && n.value == nil, didDelete
}

// QueryPath splits path on '.', looks up the first segment as a top-level
// key, then walks subsequent segments as Object members. Returns false if
// any segment is missing or a non-object is reached with segments
// remaining.
func (t *Trie) QueryPath(path string) (kvvalue.Value, bool) {
	parts := strings.Split(path, ".")

	current, ok := t.Search(parts[0])
	if !ok {
		return kvvalue.Value{}, false
	}

	for _, part := range parts[1:] {
		if current.Kind != kvvalue.KindObject {
			return kvvalue.Value{}, false
		}
		next, ok := current.Object[part]
		if !ok {
			return kvvalue.Value{}, false
		}
		current = next
	}

	return current, true
}

// Keys returns a snapshot of every stored top-level key, in no particular
// order. It exists to support the node server's STATS command.
func (t *Trie) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var keys []string
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		if n.value != nil {
			keys = append(keys, prefix)
		}
		for c, child := range n.children {
			walk(child, prefix+string(c))
		}
	}
	walk(t.root, "")
	return keys
}
