package kvnode

import (
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/jimsnab/go-kvmesh/kvtrie"
	"github.com/jimsnab/go-kvmesh/kvvalue"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// dispatch parses one request (spec.md 4.3) and computes the reply. It
// never panics or returns an error itself: every failure is folded into an
// ERROR reply string, per the propagation policy in spec.md 7.
func dispatch(trie *kvtrie.Trie, request string) string {
	request = strings.TrimSpace(request)
	if request == "" {
		return "ERROR: Empty command"
	}

	cmd, payload := kvvalue.SplitCommand(request)
	cmd = upper.String(cmd)

	switch cmd {
	case "PUT":
		return handlePut(trie, payload)
	case "GET":
		return handleGet(trie, payload)
	case "DELETE":
		return handleDelete(trie, payload)
	case "QUERY":
		return handleQuery(trie, payload)
	case "CALC":
		return handleCalc(trie, payload)
	case "STATS":
		return handleStats(trie)
	default:
		return fmt.Sprintf("ERROR: Unknown command %q. Valid commands: PUT, GET, DELETE, QUERY, CALC, STATS", cmd)
	}
}

func handlePut(trie *kvtrie.Trie, payload string) string {
	if payload == "" {
		return "ERROR: Invalid command format. Expected: PUT \"key\" : VALUE"
	}
	key, value, err := kvvalue.ParseRecord(payload)
	if err != nil {
		return "ERROR " + err.Error()
	}
	trie.Insert(key, value)
	return "OK"
}

func handleGet(trie *kvtrie.Trie, payload string) string {
	key := kvvalue.TrimQuotes(payload)
	if key == "" {
		return "ERROR: Invalid command format. Expected: GET key"
	}
	value, ok := trie.Search(key)
	if !ok {
		return "NOT FOUND"
	}
	return formatReply(key, value)
}

func handleDelete(trie *kvtrie.Trie, payload string) string {
	key := kvvalue.TrimQuotes(payload)
	if key == "" {
		return "ERROR: Invalid command format. Expected: DELETE key"
	}
	if _, ok := trie.Search(key); !ok {
		return "NOT FOUND"
	}
	if !trie.Delete(key) {
		return "ERROR: Failed to delete key"
	}
	return "OK"
}

func handleQuery(trie *kvtrie.Trie, payload string) string {
	path := kvvalue.TrimQuotes(payload)
	if path == "" {
		return "ERROR: Invalid command format. Expected: QUERY dotted.path"
	}
	value, ok := trie.QueryPath(path)
	if !ok {
		return "NOT FOUND"
	}
	return formatReply(path, value)
}

func handleStats(trie *kvtrie.Trie) string {
	return fmt.Sprintf("COUNT %d", len(trie.Keys()))
}

func formatReply(label string, value kvvalue.Value) string {
	text, err := kvvalue.EmitValue(value)
	if err != nil {
		return "ERROR " + err.Error()
	}
	return fmt.Sprintf("%s : %s", label, text)
}

// handleCalc implements the CALC command (SPEC_FULL.md 4.3): evaluate a
// govaluate expression with `self` bound to the current stored scalar
// value (0 if the key is absent), then store and reply with the result.
func handleCalc(trie *kvtrie.Trie, payload string) string {
	idx := strings.IndexByte(payload, ':')
	if idx < 0 {
		return "ERROR: Invalid command format. Expected: CALC key : expression"
	}

	key := kvvalue.TrimQuotes(payload[:idx])
	exprText := strings.TrimSpace(payload[idx+1:])
	if key == "" || exprText == "" {
		return "ERROR: Invalid command format. Expected: CALC key : expression"
	}

	var self any = 0.0
	if existing, ok := trie.Search(key); ok {
		if !existing.IsScalar() {
			return "ERROR: CALC target is not a scalar"
		}
		self = calcOperand(existing)
	}

	expr, err := govaluate.NewEvaluableExpression(exprText)
	if err != nil {
		return "ERROR " + err.Error()
	}

	result, err := expr.Evaluate(map[string]any{"self": self})
	if err != nil {
		return "ERROR " + err.Error()
	}

	value, err := calcResultValue(result)
	if err != nil {
		return "ERROR " + err.Error()
	}

	trie.Insert(key, value)
	return formatReply(key, value)
}

func calcOperand(v kvvalue.Value) any {
	switch v.Kind {
	case kvvalue.KindInt:
		return float64(v.Int)
	case kvvalue.KindFloat:
		return v.Float
	case kvvalue.KindString:
		return v.Str
	default:
		return 0.0
	}
}

func calcResultValue(result any) (kvvalue.Value, error) {
	switch r := result.(type) {
	case float64:
		if r == math.Trunc(r) {
			return kvvalue.Int(int64(r)), nil
		}
		return kvvalue.Float(r), nil
	case string:
		return kvvalue.String(r), nil
	case bool:
		if r {
			return kvvalue.Int(1), nil
		}
		return kvvalue.Int(0), nil
	default:
		return kvvalue.Value{}, fmt.Errorf("unsupported CALC result type %T", result)
	}
}
