package kvgen

import (
	"math/rand"
	"testing"

	"github.com/jimsnab/go-kvmesh/kvvalue"
	"github.com/spf13/afero"
)

func TestLoadKeyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "keys.txt", []byte("name string\nage int\nscore float\n"), 0644)

	keys, err := LoadKeyFile(fs, "keys.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 || keys["name"] != KindString || keys["age"] != KindInt || keys["score"] != KindFloat {
		t.Errorf("keys = %+v", keys)
	}
}

func TestGenerateNestedValueTargetDepthZeroIsObject(t *testing.T) {
	keys := map[string]ValueKind{"name": KindString, "age": KindInt}
	rng := rand.New(rand.NewSource(1))

	v := GenerateNestedValue(keys, 0, 0, 2, 8, rng)
	if v.Kind != kvvalue.KindObject {
		t.Fatalf("expected object at target depth 0, got %+v", v)
	}
}

func TestGenerateRecordsKeyNaming(t *testing.T) {
	keys := map[string]ValueKind{"name": KindString}
	rng := rand.New(rand.NewSource(1))

	records := GenerateRecords(3, keys, 1, 8, 1, rng)
	if len(records) != 3 {
		t.Fatalf("records = %+v", records)
	}
	if records[0].TopKey != "key1" || records[2].TopKey != "key3" {
		t.Errorf("unexpected key naming: %+v", records)
	}
}

func TestWriteRecordsRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	records := []kvvalue.Record{
		{TopKey: "a", Value: kvvalue.Int(1)},
		{TopKey: "b", Value: kvvalue.Object(map[string]kvvalue.Value{"x": kvvalue.String("hi")})},
	}

	if err := WriteRecords(fs, "out.txt", records); err != nil {
		t.Fatal(err)
	}

	data, err := afero.ReadFile(fs, "out.txt")
	if err != nil {
		t.Fatal(err)
	}

	key, v, err := kvvalue.ParseRecord(stringLines(data)[0])
	if err != nil {
		t.Fatal(err)
	}
	if key != "a" || v.Int != 1 {
		t.Errorf("first line = %q %+v", key, v)
	}
}

func stringLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	return lines
}
