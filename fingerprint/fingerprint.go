// Package fingerprint implements the cache-path and stable-fingerprint
// construction rules: given a key's name, aggregated version, a short
// encoded form of its body, its selected configuration inputs, and its
// versioned resource entitlements, it produces the deterministic string
// identity the rest of the engine uses for deduplication and caching.
//
// The package is intentionally key-type agnostic: callers (the engine
// package) extract the primitives below from a typed key and hand them
// here, which keeps this package free of any dependency on the
// Computable/Key abstractions.
package fingerprint

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// maxKeyBodyBytes is the §4.4 threshold above which the key body is
// replaced by a hash instead of being embedded verbatim.
const maxKeyBodyBytes = 250

// Field is one flattened key/value pair used by the friendly encoder.
type Field struct {
	Name  string
	Value string
}

// FriendlyEncode flattens fields into "--name=value" tokens, space
// joined, in the order given by the caller (callers sort for
// determinism when a key's fields have no other natural order).
func FriendlyEncode(fields []Field) string {
	tokens := make([]string, len(fields))
	for i, f := range fields {
		tokens[i] = fmt.Sprintf("--%s=%s", f.Name, f.Value)
	}
	return strings.Join(tokens, " ")
}

// CanonicalJSON encodes v deterministically: object keys sorted,
// RFC3339 ("ISO-8601") timestamps via time.Time's own MarshalJSON.
// encoding/json already sorts map[string]X keys and preserves struct
// field declaration order, which is sufficient determinism for I1.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// hashTruncated returns the base64url (no padding) encoding of n bytes
// of blake3(data) starting at byte offset.
func hashTruncated(data []byte, offset, n int) string {
	sum := blake3.Sum256(data)
	full := sum[:]
	if offset+n > len(full) {
		n = len(full) - offset
	}
	return base64.RawURLEncoding.EncodeToString(full[offset : offset+n])
}

// ShortHash implements §4.4 step 3: blake3(data), bytes [1..10)
// (9 bytes), base64url, optionally prefixed with "hint ".
func ShortHash(data []byte, hint string) string {
	h := hashTruncated(data, 1, 9)
	if hint != "" {
		return hint + " " + h
	}
	return h
}

// ConfigHash implements the §4.4 "Hash encoding" rule: canonical JSON of
// the selected map, then a 9-byte truncation starting at byte 1.
func ConfigHash(selected map[string]any) (string, error) {
	data, err := CanonicalJSON(selected)
	if err != nil {
		return "", err
	}
	return hashTruncated(data, 1, 9), nil
}

// Stable computes the in-memory dedup identity: blake3(cache-path-utf8),
// returned as a hex string so it can be used directly as a map key and
// printed in diagnostics.
func Stable(cachePath string) string {
	sum := blake3.Sum256([]byte(cachePath))
	return fmt.Sprintf("%x", sum)
}

// Selector is a configuration-key token: either a literal name or a
// string-prefix pattern, per §4.4's "Configuration filtering".
type Selector struct {
	Literal string
	Prefix  string
}

// Select returns the subset of inputs allowed by selectors: the union
// of literal matches and prefix matches, as a new map safe to hash or
// forward to user code.
func Select(selectors []Selector, inputs map[string]any) map[string]any {
	out := make(map[string]any)
	for key, val := range inputs {
		for _, s := range selectors {
			if s.Literal != "" && s.Literal == key {
				out[key] = val
				break
			}
			if s.Prefix != "" && strings.HasPrefix(key, s.Prefix) {
				out[key] = val
				break
			}
		}
	}
	return out
}

// PathParams holds everything BuildCachePath needs to assemble the
// §4.4 cache path.
type PathParams struct {
	// Name is the key type's stable name.
	Name string
	// AggregatedVersion is the sum of Version across the transitive
	// closure over VersionDependencies (supplied by the caller; the
	// engine takes it from Key.AggregatedVersion).
	AggregatedVersion int
	// Hint is the key's optional human-readable summary.
	Hint string
	// Friendly is the flattened "--name=value" encoding of the key; used
	// verbatim as the key body when short enough and Hint is empty.
	Friendly string
	// Canonical is the deterministic JSON encoding of the key, used when
	// Friendly is too long or Hint is set.
	Canonical []byte
	// ConfigSelected is the result of Select() over the key's allowed set
	// (the engine passes the key's own selectors only; empty/nil to omit
	// the segment).
	ConfigSelected map[string]any
	// ResourceVersions maps entitled, versioned-lifetime resource names
	// to their known version (empty/nil to omit the segment).
	ResourceVersions map[string]int
}

// BuildCachePath implements §4.4 steps 1-6.
func BuildCachePath(p PathParams) (string, error) {
	var body string
	switch {
	case p.Hint == "" && len(p.Friendly) <= maxKeyBodyBytes:
		body = p.Friendly
	case len(p.Canonical) <= maxKeyBodyBytes:
		body = string(p.Canonical)
	default:
		body = ShortHash(p.Canonical, p.Hint)
	}

	path := fmt.Sprintf("%s/%d/%s", p.Name, p.AggregatedVersion, body)

	if len(p.ConfigSelected) > 0 {
		h, err := ConfigHash(p.ConfigSelected)
		if err != nil {
			return "", fmt.Errorf("hashing configuration selection: %w", err)
		}
		path += "/" + h
	}

	if len(p.ResourceVersions) > 0 {
		h, err := ConfigHash(sortedResourceMap(p.ResourceVersions))
		if err != nil {
			return "", fmt.Errorf("hashing resource versions: %w", err)
		}
		path += "/" + h
	}

	return path, nil
}

func sortedResourceMap(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		out[k] = m[k]
	}
	return out
}
