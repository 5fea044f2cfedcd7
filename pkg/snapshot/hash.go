package snapshot

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// The recordset hash represents the state of a collection of records. It is
// an MD5 digest over a canonical serialization: object keys sorted, array
// order preserved, compact separators. Identical content always yields an
// identical hash regardless of insertion order; any value change changes it.

// HashCollection fingerprints a whole entity collection, including each
// record's own content hash. This is the value stored in the per-dataset
// ledger entry and compared on later runs to gate reconciliation.
func HashCollection(col Collection) string {
	node := make(map[string]any, len(col))
	for localID, rec := range col {
		entry := make(map[string]any, len(rec.Properties)+1)
		for k, v := range rec.Properties {
			entry[k] = v
		}
		entry["hash"] = rec.Hash
		node[localID] = entry
	}
	return digest(node)
}

// HashRecord fingerprints a single record's property map. Created remote
// records carry this value so the diff can be computed without comparing
// fields.
func HashRecord(props map[string]any) string {
	return digest(props)
}

// HashTags fingerprints a dataset's tag list.
func HashTags(tags []string) string {
	return digest(tags)
}

func digest(v any) string {
	var b strings.Builder
	canonical(&b, v)
	sum := md5.Sum([]byte(b.String())) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// canonical writes the canonical JSON form of v. Maps are emitted with
// lexicographically sorted keys; slices keep their order; scalars use
// encoding/json formatting so numbers are stable across runs and hosts.
func canonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeScalar(b, k)
			b.WriteByte(':')
			canonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			canonical(b, item)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeScalar(b, item)
		}
		b.WriteByte(']')
	default:
		writeScalar(b, val)
	}
}

func writeScalar(b *strings.Builder, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		// Unmarshalable values cannot appear in a decoded JSON document.
		b.WriteString("null")
		return
	}
	b.Write(data)
}

// Canonical returns the canonical serialization bytes for v. Exposed for
// golden tests pinning the byte form the digest is computed over.
func Canonical(v any) []byte {
	var b strings.Builder
	canonical(&b, v)
	return []byte(b.String())
}
