// Package kvgen fabricates randomized nested records for load-testing the
// store (spec.md 1, 3; SPEC_FULL.md 5), porting
// original_source/Distributed KV Store/createData.py.
package kvgen

import (
	"bufio"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/jimsnab/go-kvmesh/kvvalue"
	"github.com/spf13/afero"
)

// ValueKind is the scalar type a generated key-file entry may take.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
)

// LoadKeyFile reads "NAME TYPE" lines (TYPE in string/int/float), porting
// createData.py's load_key_file.
func LoadKeyFile(fs afero.Fs, path string) (map[string]ValueKind, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("key file not found: %s", path)
	}
	defer f.Close()

	keys := map[string]ValueKind{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid key file line: %s", line)
		}
		kind, err := parseKind(fields[1])
		if err != nil {
			return nil, err
		}
		keys[fields[0]] = kind
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func parseKind(s string) (ValueKind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	default:
		return 0, fmt.Errorf("unknown key type %q", s)
	}
}

// keyEntry pairs a key name with its declared kind, for the sampling steps
// below that need to pick a subset of (name, kind) pairs.
type keyEntry struct {
	name string
	kind ValueKind
}

func entries(keys map[string]ValueKind) []keyEntry {
	out := make([]keyEntry, 0, len(keys))
	for name, kind := range keys {
		out = append(out, keyEntry{name: name, kind: kind})
	}
	return out
}

func generateScalar(kind ValueKind, maxLength int, rng *rand.Rand) kvvalue.Value {
	switch kind {
	case KindString:
		return kvvalue.String(randomString(maxLength, rng))
	case KindInt:
		return kvvalue.Int(int64(rng.Intn(1001)))
	case KindFloat:
		return kvvalue.Float(math.Round(rng.Float64()*1000*100) / 100)
	default:
		return kvvalue.String("")
	}
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(maxLength int, rng *rand.Rand) string {
	length := 1 + rng.Intn(maxLength)
	var sb strings.Builder
	for i := 0; i < length; i++ {
		sb.WriteByte(alphanumeric[rng.Intn(len(alphanumeric))])
	}
	return sb.String()
}

// GenerateNestedValue ports createData.py's generate_nested_value: at the
// target depth (or once maxKeys reaches 0) it emits 0..maxKeys terminal
// members; short of the target depth, it picks 1..maxKeys members and
// recurses into at least one of them.
func GenerateNestedValue(keys map[string]ValueKind, currentDepth, targetDepth, maxKeys, maxLength int, rng *rand.Rand) kvvalue.Value {
	all := entries(keys)

	if currentDepth == targetDepth || maxKeys == 0 {
		limit := maxKeys
		if limit > len(all) {
			limit = len(all)
		}
		numKeys := rng.Intn(limit + 1)
		if numKeys == 0 {
			return kvvalue.Object(nil)
		}
		selected := sampleEntries(all, numKeys, rng)
		members := map[string]kvvalue.Value{}
		for _, e := range selected {
			members[e.name] = generateScalar(e.kind, maxLength, rng)
		}
		return kvvalue.Object(members)
	}

	limit := maxKeys
	if limit > len(all) {
		limit = len(all)
	}
	numKeys := 1 + rng.Intn(limit)
	selected := sampleEntries(all, numKeys, rng)

	numNesting := 1 + rng.Intn(len(selected))
	nesting := map[string]bool{}
	for _, e := range sampleEntries(selected, numNesting, rng) {
		nesting[e.name] = true
	}

	members := map[string]kvvalue.Value{}
	for _, e := range selected {
		if nesting[e.name] {
			members[e.name] = GenerateNestedValue(keys, currentDepth+1, targetDepth, maxKeys, maxLength, rng)
		} else {
			members[e.name] = generateScalar(e.kind, maxLength, rng)
		}
	}
	return kvvalue.Object(members)
}

// sampleEntries draws n entries without replacement, using the injected
// *rand.Rand (spec.md 9: sampler must be injectable for deterministic
// tests).
func sampleEntries(from []keyEntry, n int, rng *rand.Rand) []keyEntry {
	if n >= len(from) {
		out := make([]keyEntry, len(from))
		copy(out, from)
		return out
	}
	perm := rng.Perm(len(from))
	out := make([]keyEntry, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, from[idx])
	}
	return out
}

// GenerateRecords ports createData.py's generate_data: n records, each
// under a synthetic top-level key "key<i+1>", nested to a per-record
// random depth in [0, maxDepth].
func GenerateRecords(n int, keys map[string]ValueKind, maxDepth, maxLength, maxKeys int, rng *rand.Rand) []kvvalue.Record {
	records := make([]kvvalue.Record, 0, n)
	for i := 0; i < n; i++ {
		targetDepth := rng.Intn(maxDepth + 1)
		value := GenerateNestedValue(keys, 0, targetDepth, maxKeys, maxLength, rng)
		records = append(records, kvvalue.Record{
			TopKey: fmt.Sprintf("key%d", i+1),
			Value:  value,
		})
	}
	return records
}

// WriteRecords emits one EmitRecord line per record to path, the bulk data
// file format (spec.md 6).
func WriteRecords(fs afero.Fs, path string, records []kvvalue.Record) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create data file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range records {
		line, err := kvvalue.EmitRecord(r.TopKey, r.Value)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return w.Flush()
}
