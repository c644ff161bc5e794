package chat

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/encoding/unicode"

	"github.com/omahaaigc/agent-chat/internal/shared"
)

// DecodeResult extracts the final summary from a GetResult data payload.
// The payload is either a JSON string holding the result object or the
// object itself. It reports false while final_summary is absent or null.
func DecodeResult(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	v, err := shared.DecodeLoose(data)
	if err != nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		if v, err = shared.DecodeLoose([]byte(s)); err != nil {
			return "", false
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	summary, ok := obj["final_summary"]
	if !ok || summary == nil {
		return "", false
	}
	return DecodeSummary(summary), true
}

// DecodeSummary turns a final_summary value into text. Strings pass through;
// serialized byte containers are decoded as UTF-8 with a leading BOM stripped
// and invalid sequences replaced by U+FFFD. Anything else is stringified.
func DecodeSummary(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		return decodeUTF8(toBytes(t))
	case map[string]any:
		if kind, _ := t["type"].(string); kind == "Buffer" {
			if arr, ok := t["data"].([]any); ok {
				return decodeUTF8(toBytes(arr))
			}
		}
		if arr, ok := indexedValues(t); ok {
			return decodeUTF8(toBytes(arr))
		}
	}
	return shared.LooseString(v)
}

// indexedValues returns the values of an object whose keys are exactly
// 0..n-1, in index order. This is how typed byte arrays serialize.
func indexedValues(obj map[string]any) ([]any, bool) {
	if len(obj) == 0 {
		return nil, false
	}
	idx := make([]int, 0, len(obj))
	for k := range obj {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || strconv.Itoa(n) != k {
			return nil, false
		}
		idx = append(idx, n)
	}
	sort.Ints(idx)
	out := make([]any, len(idx))
	for i, n := range idx {
		if n != i {
			return nil, false
		}
		out[i] = obj[strconv.Itoa(n)]
	}
	return out, true
}

func toBytes(values []any) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = toUint8(v)
	}
	return out
}

// toUint8 wraps numbers modulo 256; non-numeric values become zero.
func toUint8(v any) byte {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0
		}
		f = n
	case float64:
		f = t
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		f = n
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	n := math.Mod(math.Trunc(f), 256)
	if n < 0 {
		n += 256
	}
	return byte(n)
}

func decodeUTF8(b []byte) string {
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
