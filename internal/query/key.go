package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies one cached resource. Segments run from the most general
// (resource family) to the most specific (parameters), so a shorter Key acts
// as a prefix that selects a whole family or subset.
//
// Segments must be JSON-encodable. Use strings, numbers, booleans, or Params.
type Key []any

// Params is a key segment holding normalized request parameters. Map keys are
// encoded in sorted order, so two equal parameter sets always hash the same.
type Params map[string]any

// Append returns a new Key with segs added after k. k is never modified.
func (k Key) Append(segs ...any) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Hash returns the canonical string form of k. Equal keys have equal hashes.
func (k Key) Hash() string {
	return "[" + strings.Join(k.segments(), ",") + "]"
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Hash()
}

// Family returns the first segment as a string, or "" when it is not one.
func (k Key) Family() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// HasPrefix reports whether every segment of prefix equals the segment at
// the same position in k.
func (k Key) HasPrefix(prefix Key) bool {
	return hasPrefix(k.segments(), prefix.segments())
}

func (k Key) segments() []string {
	segs := make([]string, len(k))
	for i, s := range k {
		segs[i] = encodeSegment(s)
	}
	return segs
}

func hasPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}

func encodeSegment(s any) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Unencodable segments still need a stable identity.
		return fmt.Sprintf("%q", fmt.Sprintf("%#v", s))
	}
	return string(b)
}
