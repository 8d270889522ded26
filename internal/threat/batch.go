package threat

import (
	"net/url"
	"sort"
	"strconv"
)

// MaxDepth bounds recursion into nested payloads; deeper subtrees are not
// inspected.
const MaxDepth = 10

// ScanBatch walks a decoded JSON or form payload and scans every string
// leaf. Field names are dotted/indexed paths ("address.city", "tags[2]").
// Top-level keys get a context inferred from their name; nested leaves are
// checked with pattern and keyword rules only.
//
// Supported containers: map[string]any, []any, map[string]string,
// map[string][]string and url.Values. Map keys are visited in sorted order
// so results are deterministic.
func (d *Detector) ScanBatch(payload any) []Finding {
	var out []Finding
	d.walk(payload, "", 0, &out)
	return out
}

// ScanValue scans one top-level field, inferring its context from the name.
func (d *Detector) ScanValue(field, value string) *Finding {
	return d.Scan(value, field, InferContext(field))
}

func (d *Detector) walk(v any, path string, depth int, out *[]Finding) {
	if depth > MaxDepth {
		return
	}
	switch t := v.(type) {
	case string:
		ctx := ContextNone
		if depth == 1 {
			ctx = InferContext(path)
		}
		if f := d.Scan(t, path, ctx); f != nil {
			*out = append(*out, *f)
		}
	case map[string]any:
		for _, k := range sortedKeys(t) {
			d.walk(t[k], join(path, k), depth+1, out)
		}
	case map[string]string:
		for _, k := range sortedKeys(t) {
			d.walk(t[k], join(path, k), depth+1, out)
		}
	case url.Values:
		d.walkMulti(t, path, depth, out)
	case map[string][]string:
		d.walkMulti(t, path, depth, out)
	case []any:
		for i, item := range t {
			d.walk(item, index(path, i), depth+1, out)
		}
	case []string:
		for i, item := range t {
			d.walk(item, index(path, i), depth+1, out)
		}
	}
}

// walkMulti treats a single-valued key as a plain field and indexes
// repeated keys.
func (d *Detector) walkMulti(m map[string][]string, path string, depth int, out *[]Finding) {
	for _, k := range sortedKeys(m) {
		vals := m[k]
		if len(vals) == 1 {
			d.walk(vals[0], join(path, k), depth+1, out)
			continue
		}
		for i, v := range vals {
			if depth+1 > MaxDepth {
				return
			}
			ctx := ContextNone
			if depth == 0 {
				ctx = InferContext(k)
			}
			if f := d.Scan(v, index(join(path, k), i), ctx); f != nil {
				*out = append(*out, *f)
			}
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
