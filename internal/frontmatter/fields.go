package frontmatter

import "sort"

// Fields is an insertion-ordered frontmatter map. Order is preserved across
// parse/serialize so re-writing an entity never produces spurious diffs, and
// fields the schema does not declare are carried through untouched.
type Fields struct {
	keys []string
	vals map[string]any
}

// NewFields returns an empty field set.
func NewFields() *Fields {
	return &Fields{vals: make(map[string]any)}
}

// Get returns the value for key and whether it is present.
func (f *Fields) Get(key string) (any, bool) {
	v, ok := f.vals[key]
	return v, ok
}

// GetString returns the value for key as a string, or "" when absent or not
// a string.
func (f *Fields) GetString(key string) string {
	if v, ok := f.vals[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Set stores value under key. An existing key keeps its position; a new key
// is appended.
func (f *Fields) Set(key string, value any) {
	if _, ok := f.vals[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = value
}

// SetDefault stores value under key only when the key is absent.
func (f *Fields) SetDefault(key string, value any) {
	if _, ok := f.vals[key]; !ok {
		f.Set(key, value)
	}
}

// Delete removes key and its value.
func (f *Fields) Delete(key string) {
	if _, ok := f.vals[key]; !ok {
		return
	}
	delete(f.vals, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	return len(f.keys)
}

// Map returns an unordered copy of the fields.
func (f *Fields) Map() map[string]any {
	out := make(map[string]any, len(f.vals))
	for k, v := range f.vals {
		out[k] = v
	}
	return out
}

// Clone returns a deep-enough copy for field-wise merging: the key order and
// the top-level map are copied, values are shared.
func (f *Fields) Clone() *Fields {
	c := NewFields()
	for _, k := range f.keys {
		c.Set(k, f.vals[k])
	}
	return c
}

// FromMap builds a field set from a plain map, ordering keys by the given
// order slice first and any remaining keys alphabetically after.
func FromMap(m map[string]any, order []string) *Fields {
	f := NewFields()
	for _, k := range order {
		if v, ok := m[k]; ok {
			f.Set(k, v)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if _, ok := f.vals[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		f.Set(k, m[k])
	}
	return f
}
