package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Data is the field map of a document.
type Data = map[string]any

// FieldValue is a sentinel resolved by the store at commit time.
type FieldValue interface {
	apply(current any, exists bool, st stamp) (value any, keep bool, err error)
}

type serverTimestamp struct{}

func (serverTimestamp) apply(_ any, _ bool, st stamp) (any, bool, error) {
	return st.millis(), true, nil
}

// ServerTimestamp resolves to the commit time in unix milliseconds.
// Every ServerTimestamp in one commit resolves to the same value.
var ServerTimestamp FieldValue = serverTimestamp{}

type deleteField struct{}

func (deleteField) apply(any, bool, stamp) (any, bool, error) {
	return nil, false, nil
}

// DeleteField removes the field.
var DeleteField FieldValue = deleteField{}

type arrayUnion struct{ elems []any }

func (u arrayUnion) apply(current any, exists bool, _ stamp) (any, bool, error) {
	var out []any
	if arr, ok := current.([]any); exists && ok {
		out = append(out, arr...)
	}
	elems, err := normalizeSlice(u.elems)
	if err != nil {
		return nil, false, err
	}
	for _, e := range elems {
		if !containsValue(out, e) {
			out = append(out, e)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, true, nil
}

// ArrayUnion adds each element not already present to an array field.
// A missing or non-array field is replaced by the elements.
func ArrayUnion(elems ...any) FieldValue {
	return arrayUnion{elems: elems}
}

type arrayRemove struct{ elems []any }

func (r arrayRemove) apply(current any, exists bool, _ stamp) (any, bool, error) {
	out := []any{}
	arr, ok := current.([]any)
	if !exists || !ok {
		return out, true, nil
	}
	elems, err := normalizeSlice(r.elems)
	if err != nil {
		return nil, false, err
	}
	for _, v := range arr {
		if !containsValue(elems, v) {
			out = append(out, v)
		}
	}
	return out, true, nil
}

// ArrayRemove removes every occurrence of the elements from an array field.
func ArrayRemove(elems ...any) FieldValue {
	return arrayRemove{elems: elems}
}

type increment struct{ n int64 }

func (inc increment) apply(current any, exists bool, _ stamp) (any, bool, error) {
	if exists {
		switch v := current.(type) {
		case int64:
			return v + inc.n, true, nil
		case float64:
			return v + float64(inc.n), true, nil
		}
	}
	return inc.n, true, nil
}

// Increment adds n to a numeric field. A missing or non-numeric field is
// set to n.
func Increment(n int64) FieldValue {
	return increment{n: n}
}

// resolve applies v to the current value of a field.
func resolve(current any, exists bool, v any, st stamp) (any, bool, error) {
	if fv, ok := v.(FieldValue); ok {
		return fv.apply(current, exists, st)
	}
	if m, ok := v.(map[string]any); ok {
		// Nested maps may carry transforms of their own.
		out := make(map[string]any, len(m))
		if err := mergeInto(out, m, st, false); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
	return v, true, nil
}

// mergeInto writes src into dst, resolving transforms. With deep set,
// nested maps are merged into existing nested maps instead of replacing them.
func mergeInto(dst, src map[string]any, st stamp, deep bool) error {
	for k, v := range src {
		cur, exists := dst[k]
		if deep {
			if sm, ok := v.(map[string]any); ok {
				if dm, ok := cur.(map[string]any); ok {
					if err := mergeInto(dm, sm, st, true); err != nil {
						return err
					}
					continue
				}
			}
		}
		val, keep, err := resolve(cur, exists, v, st)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		if keep {
			dst[k] = val
		} else {
			delete(dst, k)
		}
	}
	return nil
}

// setPath applies v at a dotted field path, creating intermediate maps.
func setPath(dst map[string]any, parts []string, v any, st stamp) error {
	m := dst
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	leaf := parts[len(parts)-1]
	cur, exists := m[leaf]
	val, keep, err := resolve(cur, exists, v, st)
	if err != nil {
		return err
	}
	if keep {
		m[leaf] = val
	} else {
		delete(m, leaf)
	}
	return nil
}

// encodeData marshals a document body and returns it together with its
// normalised decoded form.
func encodeData(d map[string]any) ([]byte, map[string]any, error) {
	if d == nil {
		d = map[string]any{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, nil, fmt.Errorf("encode data: %w", err)
	}
	out, err := decodeData(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, out, nil
}

// decodeData parses stored JSON into normalised Go values.
func decodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return normalize(m).(map[string]any), nil
}

// normalize converts json.Number to int64 when integral, float64 otherwise.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

// normalizeValue brings an arbitrary Go value into the stored representation.
func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return normalize(out), nil
}

func normalizeSlice(vals []any) ([]any, error) {
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// deepCopy clones a decoded document body.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if valuesEqual(e, v) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// typeRank orders values of different kinds: null < bool < number < string
// < array < map.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64, int:
		return 2
	case string:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

// compareValues orders two values. Values of different kinds compare by
// kind rank.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case 3:
		as, bs := a.(string), b.(string)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}
	return 0
}

// lookup resolves a dotted field path in a decoded document.
func lookup(d map[string]any, parts []string) (any, bool) {
	var cur any = d
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
